// Package sqlitestore keeps the working landfall dataset in a SQLite table.
// Checkpoints update the precip column in place; the final artifact is a
// copy of the table.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/couchcryptid/landfall-rainfall-etl/internal/domain"
	_ "github.com/mattn/go-sqlite3"
)

// Store implements pipeline.DatasetStore on a SQLite database.
type Store struct {
	db         *sql.DB
	path       string
	table      string
	finalTable string
	cols       domain.Columns
	logger     *slog.Logger

	// rowids[i] is the SQLite rowid of dataset row i; written[i] is the
	// precip cell last persisted for it.
	rowids  []int64
	written []string
}

// Open connects to the database at path.
func Open(path, table, finalTable string, cols domain.Columns, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, &domain.DatasetError{Op: "open", Path: path, Err: err}
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, &domain.DatasetError{Op: "open", Path: path, Err: err}
	}
	return &Store{
		db:         db,
		path:       path,
		table:      table,
		finalTable: finalTable,
		cols:       cols,
		logger:     logger,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads the working table in rowid order, adding the precip column
// first if the table lacks it.
func (s *Store) Load(ctx context.Context) (*domain.Dataset, error) {
	header, err := s.columns(ctx, s.table)
	if err != nil {
		return nil, s.wrap("load", err)
	}
	if len(header) == 0 {
		return nil, s.wrap("load", fmt.Errorf("table %q not found", s.table))
	}
	if !slices.Contains(header, s.cols.Precip) {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s REAL", quoteIdent(s.table), quoteIdent(s.cols.Precip))
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return nil, s.wrap("load", fmt.Errorf("add precip column: %w", err))
		}
		header = append(header, s.cols.Precip)
		s.logger.Info("precip column added", "table", s.table, "column", s.cols.Precip)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT rowid, * FROM %s ORDER BY rowid", quoteIdent(s.table)))
	if err != nil {
		return nil, s.wrap("load", err)
	}
	defer rows.Close()

	var (
		records [][]string
		rowids  []int64
	)
	for rows.Next() {
		var rowid int64
		cells := make([]sql.NullString, len(header))
		dest := make([]any, 0, len(header)+1)
		dest = append(dest, &rowid)
		for i := range cells {
			dest = append(dest, &cells[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, s.wrap("load", fmt.Errorf("scan row %d: %w", len(records), err))
		}

		record := make([]string, len(cells))
		for i, c := range cells {
			record[i] = c.String
		}
		records = append(records, record)
		rowids = append(rowids, rowid)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("load", err)
	}

	ds, err := domain.NewDataset(header, records, s.cols)
	if err != nil {
		return nil, s.wrap("load", err)
	}

	s.rowids = rowids
	s.written = make([]string, ds.Len())
	for i := range ds.Len() {
		s.written[i] = ds.PrecipCell(i)
	}
	s.logger.Info("dataset loaded", "path", s.path, "table", s.table, "rows", ds.Len(), "pending", ds.Pending())
	return ds, nil
}

// Checkpoint persists every precip cell that changed since the last write,
// in one transaction.
func (s *Store) Checkpoint(ctx context.Context, ds *domain.Dataset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("checkpoint", err)
	}
	defer func() { _ = tx.Rollback() }()

	changed, err := s.syncPrecip(ctx, tx, ds)
	if err != nil {
		return s.wrap("checkpoint", err)
	}
	if err := tx.Commit(); err != nil {
		return s.wrap("checkpoint", err)
	}
	s.markWritten(ds, changed)
	return nil
}

// Finalize copies the working table to the final table unless it exists.
func (s *Store) Finalize(ctx context.Context, ds *domain.Dataset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("finalize", err)
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", s.finalTable).Scan(&n)
	if err != nil {
		return s.wrap("finalize", err)
	}
	if n > 0 {
		return &domain.DatasetError{Op: "finalize", Path: s.path + "#" + s.finalTable, Err: domain.ErrOutputExists}
	}

	changed, err := s.syncPrecip(ctx, tx, ds)
	if err != nil {
		return s.wrap("finalize", err)
	}
	stmt := fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s ORDER BY rowid", quoteIdent(s.finalTable), quoteIdent(s.table))
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return s.wrap("finalize", err)
	}
	if err := tx.Commit(); err != nil {
		return s.wrap("finalize", err)
	}
	s.markWritten(ds, changed)
	return nil
}

func (s *Store) syncPrecip(ctx context.Context, tx *sql.Tx, ds *domain.Dataset) ([]int, error) {
	if ds.Len() != len(s.rowids) {
		return nil, fmt.Errorf("dataset has %d rows, table has %d", ds.Len(), len(s.rowids))
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("UPDATE %s SET %s = ? WHERE rowid = ?",
		quoteIdent(s.table), quoteIdent(s.cols.Precip)))
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	var changed []int
	for i := range ds.Len() {
		cell := ds.PrecipCell(i)
		if cell == s.written[i] {
			continue
		}
		if _, err := stmt.ExecContext(ctx, precipValue(cell), s.rowids[i]); err != nil {
			return nil, fmt.Errorf("update row %d: %w", i, err)
		}
		changed = append(changed, i)
	}
	return changed, nil
}

func (s *Store) markWritten(ds *domain.Dataset, changed []int) {
	for _, i := range changed {
		s.written[i] = ds.PrecipCell(i)
	}
}

// columns returns the table's column names in declaration order, or nil if
// the table does not exist.
func (s *Store) columns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?) ORDER BY cid", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) wrap(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &domain.DatasetError{Op: op, Path: s.path + "#" + s.table, Err: err}
}

// precipValue stores numbers as REAL and blanks as NULL.
func precipValue(cell string) any {
	if cell == "" {
		return nil
	}
	if v, err := strconv.ParseFloat(cell, 64); err == nil {
		return v
	}
	return cell
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
