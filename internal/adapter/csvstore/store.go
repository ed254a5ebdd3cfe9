// Package csvstore keeps the working landfall dataset in a CSV file and
// writes the final artifact next to it.
package csvstore

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/couchcryptid/landfall-rainfall-etl/internal/domain"
)

// Store implements pipeline.DatasetStore on two CSV files.
type Store struct {
	path       string
	outputPath string
	cols       domain.Columns
	logger     *slog.Logger
}

// New returns a store that checkpoints to path and finalizes to outputPath.
func New(path, outputPath string, cols domain.Columns, logger *slog.Logger) *Store {
	return &Store{path: path, outputPath: outputPath, cols: cols, logger: logger}
}

// Load reads the working dataset. Rows may be ragged; short rows are padded.
func (s *Store) Load(ctx context.Context) (*domain.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := readRecords(s.path)
	if err != nil {
		return nil, &domain.DatasetError{Op: "load", Path: s.path, Err: err}
	}
	if len(records) == 0 {
		return nil, &domain.DatasetError{Op: "load", Path: s.path, Err: errors.New("missing header row")}
	}

	ds, err := domain.NewDataset(records[0], records[1:], s.cols)
	if err != nil {
		return nil, &domain.DatasetError{Op: "load", Path: s.path, Err: err}
	}
	s.logger.Info("dataset loaded", "path", s.path, "rows", ds.Len(), "pending", ds.Pending())
	return ds, nil
}

// Checkpoint replaces the working file with ds. A crash mid-write leaves the
// previous checkpoint intact.
func (s *Store) Checkpoint(ctx context.Context, ds *domain.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeAtomic(s.path, ds.Records()); err != nil {
		return &domain.DatasetError{Op: "checkpoint", Path: s.path, Err: err}
	}
	return nil
}

// Finalize writes the final artifact unless it already exists.
func (s *Store) Finalize(ctx context.Context, ds *domain.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(s.outputPath); err == nil {
		return &domain.DatasetError{Op: "finalize", Path: s.outputPath, Err: domain.ErrOutputExists}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return &domain.DatasetError{Op: "finalize", Path: s.outputPath, Err: err}
	}

	if err := writeAtomic(s.outputPath, ds.Records()); err != nil {
		return &domain.DatasetError{Op: "finalize", Path: s.outputPath, Err: err}
	}
	return nil
}

func readRecords(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return records, nil
}

// writeAtomic writes records to a temp file in the target directory and
// renames it over path.
func writeAtomic(path string, records [][]string) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	w := csv.NewWriter(tmp)
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
