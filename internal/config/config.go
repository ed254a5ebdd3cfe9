package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// DefaultDataRodsURL is the GES DISC data rods time-series endpoint.
const DefaultDataRodsURL = "https://hydro1.gesdisc.eosdis.nasa.gov/daac-bin/access/timeseries.cgi"

// DefaultVariable is the NLDAS-2 hourly precipitation variable.
const DefaultVariable = "NLDAS2:NLDAS_FORA0125_H_v2.0:Rainf"

// Dataset backends.
const (
	BackendCSV    = "csv"
	BackendSQLite = "sqlite"
)

// Config holds all batch settings, populated from environment variables.
type Config struct {
	DatasetBackend string
	DatasetPath    string // CSV checkpoint, rewritten after each event
	OutputPath     string // CSV final artifact, written once

	SQLitePath       string
	SQLiteTable      string
	SQLiteFinalTable string

	ColumnLat    string
	ColumnLon    string
	ColumnDate   string
	ColumnPrecip string

	// Data rods client configuration.
	DataRodsBaseURL      string
	DataRodsVariable     string
	DataRodsTimeout      time.Duration
	DataRodsMaxAttempts  int
	DataRodsRetryInitial time.Duration
	DataRodsRetryMax     time.Duration
	DataRodsRateLimit    float64 // requests per second, 0 = unlimited

	EventWindow     time.Duration
	GridConcurrency int

	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string

	HTTPAddr        string // empty disables the metrics/health server
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	timeout, err := parsePositiveDuration("DATARODS_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	retryInitial, err := parseDuration("DATARODS_RETRY_INITIAL", "1s")
	if err != nil {
		return nil, err
	}
	retryMax, err := parseDuration("DATARODS_RETRY_MAX", "30s")
	if err != nil {
		return nil, err
	}
	window, err := parsePositiveDuration("EVENT_WINDOW", "48h")
	if err != nil {
		return nil, err
	}

	maxAttempts, err := parseIntInRange("DATARODS_MAX_ATTEMPTS", 5, 1, 20)
	if err != nil {
		return nil, err
	}
	concurrency, err := parseIntInRange("GRID_CONCURRENCY", 1, 1, 64)
	if err != nil {
		return nil, err
	}

	rateLimit, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("DATARODS_RATE_LIMIT", "0"), 64)
	if err != nil || rateLimit < 0 {
		return nil, errors.New("invalid DATARODS_RATE_LIMIT")
	}

	cfg := &Config{
		DatasetBackend: sharedcfg.EnvOrDefault("DATASET_BACKEND", BackendCSV),
		DatasetPath:    sharedcfg.EnvOrDefault("DATASET_PATH", "data/hurdat_temp.csv"),
		OutputPath:     sharedcfg.EnvOrDefault("OUTPUT_PATH", "data/landfalls_precip.csv"),

		SQLitePath:       sharedcfg.EnvOrDefault("SQLITE_PATH", "data/hurdat.db"),
		SQLiteTable:      sharedcfg.EnvOrDefault("SQLITE_TABLE", "hurdat"),
		SQLiteFinalTable: sharedcfg.EnvOrDefault("SQLITE_FINAL_TABLE", "landfalls_precip"),

		ColumnLat:    sharedcfg.EnvOrDefault("COLUMN_LAT", "lat"),
		ColumnLon:    sharedcfg.EnvOrDefault("COLUMN_LON", "lon"),
		ColumnDate:   sharedcfg.EnvOrDefault("COLUMN_DATE", "date"),
		ColumnPrecip: sharedcfg.EnvOrDefault("COLUMN_PRECIP", "precip"),

		DataRodsBaseURL:      sharedcfg.EnvOrDefault("DATARODS_BASE_URL", DefaultDataRodsURL),
		DataRodsVariable:     sharedcfg.EnvOrDefault("DATARODS_VARIABLE", DefaultVariable),
		DataRodsTimeout:      timeout,
		DataRodsMaxAttempts:  maxAttempts,
		DataRodsRetryInitial: retryInitial,
		DataRodsRetryMax:     retryMax,
		DataRodsRateLimit:    rateLimit,

		EventWindow:     window,
		GridConcurrency: concurrency,

		KafkaEnabled: os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers: sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "landfall-rainfall"),

		HTTPAddr:        os.Getenv("HTTP_ADDR"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}

	switch cfg.DatasetBackend {
	case BackendCSV:
		if cfg.DatasetPath == "" || cfg.OutputPath == "" {
			return nil, errors.New("DATASET_PATH and OUTPUT_PATH are required")
		}
		if cfg.DatasetPath == cfg.OutputPath {
			return nil, errors.New("OUTPUT_PATH must differ from DATASET_PATH")
		}
	case BackendSQLite:
		if cfg.SQLiteTable == "" || cfg.SQLiteFinalTable == "" {
			return nil, errors.New("SQLITE_TABLE and SQLITE_FINAL_TABLE are required")
		}
		if cfg.SQLiteTable == cfg.SQLiteFinalTable {
			return nil, errors.New("SQLITE_FINAL_TABLE must differ from SQLITE_TABLE")
		}
	default:
		return nil, fmt.Errorf("invalid DATASET_BACKEND %q (want csv or sqlite)", cfg.DatasetBackend)
	}
	if cfg.KafkaEnabled && (len(cfg.KafkaBrokers) == 0 || cfg.KafkaTopic == "") {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS or KAFKA_TOPIC is empty")
	}

	return cfg, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := parseDuration(key, def)
	if err != nil || d == 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseIntInRange(key string, def, lo, hi int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s: must be between %d and %d", key, lo, hi)
	}
	return n, nil
}
