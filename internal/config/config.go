// Package config builds the loader configuration from defaults, an optional
// YAML file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/abdurezakarage/Shipping-Data-Product/internal/util"
)

type Config struct {
	Source    SourceConfig    `yaml:"source"`
	Warehouse WarehouseConfig `yaml:"warehouse"`
	Loader    LoaderConfig    `yaml:"loader"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Audit     AuditConfig     `yaml:"audit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
	API       APIConfig       `yaml:"api"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
}

type SourceConfig struct {
	Root     string `yaml:"root"` // directory or bucket URL (gs://, s3://, file://)
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Since    string `yaml:"since"`
	Until    string `yaml:"until"`
}

type WarehouseConfig struct {
	Driver   string      `yaml:"driver"` // "postgres" | "sqlite"
	DSN      string      `yaml:"dsn"`
	Host     string      `yaml:"host"`
	Port     string      `yaml:"port"`
	User     string      `yaml:"user"`
	Password string      `yaml:"password"`
	Name     string      `yaml:"name"`
	SSLMode  string      `yaml:"sslmode"`
	Dedup    string      `yaml:"dedup"` // "none" | "message"
	MaxConns int32       `yaml:"max_conns"`
	Retry    RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	MaxElapsedTime  time.Duration `yaml:"max_elapsed_time"`
}

type LoaderConfig struct {
	Workers                     int           `yaml:"workers"`
	MaxConsecutiveWriteFailures int           `yaml:"max_consecutive_write_failures"`
	RunTimeout                  time.Duration `yaml:"run_timeout"`
	SkipLoaded                  bool          `yaml:"skip_loaded"`    // lineage: same file + checksum already committed
	SkipSucceeded               bool          `yaml:"skip_succeeded"` // ledger: entry already marked success
}

type LedgerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type ArchiveConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Backend        string `yaml:"backend"`
	LocalDir       string `yaml:"local_dir"`
	Bucket         string `yaml:"bucket"`
	Endpoint       string `yaml:"endpoint"`
	Region         string `yaml:"region"`
	Prefix         string `yaml:"prefix"`
	Compression    string `yaml:"compression"`
	AllowOverwrite bool   `yaml:"allow_overwrite"`
}

type AuditConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Endpoint    string        `yaml:"endpoint"`
	BackupDir   string        `yaml:"backup_dir"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
}

type LoggingConfig struct {
	Format string `yaml:"format"` // "json" | "text"
	Level  string `yaml:"level"`
}

type APIConfig struct {
	Address    string `yaml:"address"`
	MartSchema string `yaml:"mart_schema"`
}

type PipelineConfig struct {
	Schedule       string       `yaml:"schedule"` // cron spec; empty runs once
	DetectionsFile string       `yaml:"detections_file"`
	Steps          []StepConfig `yaml:"steps"`
}

type StepConfig struct {
	Name     string        `yaml:"name"`
	Command  []string      `yaml:"command"`
	Dir      string        `yaml:"dir"`
	Optional bool          `yaml:"optional"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Source: SourceConfig{
			Root: "./data/raw/telegram_messages",
		},
		Warehouse: WarehouseConfig{
			Driver:   "postgres",
			Host:     "localhost",
			Port:     "5432",
			User:     "postgres",
			Name:     "shipping_data_warehouse",
			SSLMode:  "disable",
			Dedup:    "none",
			MaxConns: 10,
			Retry: RetryConfig{
				MaxAttempts:     4,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     10 * time.Second,
				MaxElapsedTime:  time.Minute,
			},
		},
		Loader: LoaderConfig{
			Workers:                     1,
			MaxConsecutiveWriteFailures: 5,
			RunTimeout:                  time.Hour,
		},
		Ledger: LedgerConfig{
			Enabled: true,
			Path:    "./state/scraping_status.json",
		},
		Archive: ArchiveConfig{
			Backend:     "local",
			LocalDir:    "./data/archive",
			Compression: "snappy",
		},
		Audit: AuditConfig{
			BackupDir:   "./state/audit",
			Timeout:     30 * time.Second,
			MaxAttempts: 3,
		},
		Metrics: MetricsConfig{
			Address:   ":9090",
			Namespace: "tg_warehouse",
		},
		Logging: LoggingConfig{
			Format: "text",
			Level:  "info",
		},
		API: APIConfig{
			Address:    ":8000",
			MartSchema: "dbt_dev",
		},
		Pipeline: PipelineConfig{
			Steps: DefaultSteps(),
		},
	}
}

// DefaultSteps mirrors the transformation stage run after each load.
func DefaultSteps() []StepConfig {
	return []StepConfig{
		{Name: "dbt-debug", Command: []string{"dbt", "debug"}, Dir: "dbt_telegram"},
		{Name: "dbt-run", Command: []string{"dbt", "run"}, Dir: "dbt_telegram"},
		{Name: "dbt-test", Command: []string{"dbt", "test"}, Dir: "dbt_telegram", Optional: true},
		{Name: "dbt-docs", Command: []string{"dbt", "docs", "generate"}, Dir: "dbt_telegram", Optional: true},
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		log.Printf("[config] loading %s", path)
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Source.Root, "DATA_LAKE_PATH")
	setString(&cfg.Source.Prefix, "SOURCE_PREFIX")
	setString(&cfg.Source.Region, "SOURCE_REGION")
	setString(&cfg.Source.Endpoint, "SOURCE_ENDPOINT")
	setString(&cfg.Source.Since, "LOAD_SINCE")
	setString(&cfg.Source.Until, "LOAD_UNTIL")

	setString(&cfg.Warehouse.Driver, "WAREHOUSE_DRIVER")
	setString(&cfg.Warehouse.DSN, "WAREHOUSE_DSN")
	setString(&cfg.Warehouse.Host, "DB_HOST")
	setString(&cfg.Warehouse.Port, "DB_PORT")
	setString(&cfg.Warehouse.User, "DB_USER")
	setString(&cfg.Warehouse.Password, "DB_PASSWORD")
	setString(&cfg.Warehouse.Name, "DB_NAME")
	setString(&cfg.Warehouse.SSLMode, "DB_SSLMODE")
	setString(&cfg.Warehouse.Dedup, "WAREHOUSE_DEDUP")

	cfg.Loader.Workers = util.IntOr(os.Getenv("LOADER_WORKERS"), cfg.Loader.Workers)
	cfg.Loader.MaxConsecutiveWriteFailures = util.IntOr(os.Getenv("MAX_CONSECUTIVE_WRITE_FAILURES"), cfg.Loader.MaxConsecutiveWriteFailures)
	cfg.Loader.RunTimeout = util.DurationOr(os.Getenv("RUN_TIMEOUT"), cfg.Loader.RunTimeout)
	cfg.Loader.SkipLoaded = util.BoolOr(os.Getenv("SKIP_LOADED"), cfg.Loader.SkipLoaded)
	cfg.Loader.SkipSucceeded = util.BoolOr(os.Getenv("SKIP_SUCCEEDED"), cfg.Loader.SkipSucceeded)

	cfg.Ledger.Enabled = util.BoolOr(os.Getenv("LEDGER_ENABLED"), cfg.Ledger.Enabled)
	setString(&cfg.Ledger.Path, "LEDGER_PATH")

	cfg.Archive.Enabled = util.BoolOr(os.Getenv("ARCHIVE_ENABLED"), cfg.Archive.Enabled)
	setString(&cfg.Archive.Backend, "ARCHIVE_BACKEND")
	setString(&cfg.Archive.LocalDir, "ARCHIVE_DIR")
	setString(&cfg.Archive.Bucket, "ARCHIVE_BUCKET")
	setString(&cfg.Archive.Prefix, "ARCHIVE_PREFIX")
	setString(&cfg.Archive.Endpoint, "ARCHIVE_ENDPOINT")
	setString(&cfg.Archive.Region, "ARCHIVE_REGION")
	cfg.Archive.AllowOverwrite = util.BoolOr(os.Getenv("ALLOW_OVERWRITE"), cfg.Archive.AllowOverwrite)

	cfg.Audit.Enabled = util.BoolOr(os.Getenv("AUDIT_ENABLED"), cfg.Audit.Enabled)
	setString(&cfg.Audit.Endpoint, "AUDIT_ENDPOINT")
	setString(&cfg.Audit.BackupDir, "AUDIT_DIR")

	cfg.Metrics.Enabled = util.BoolOr(os.Getenv("METRICS_ENABLED"), cfg.Metrics.Enabled)
	setString(&cfg.Metrics.Address, "METRICS_ADDR")

	setString(&cfg.Logging.Format, "LOG_FORMAT")
	setString(&cfg.Logging.Level, "LOG_LEVEL")

	setString(&cfg.API.Address, "API_ADDR")
	setString(&cfg.API.MartSchema, "MART_SCHEMA")

	setString(&cfg.Pipeline.Schedule, "PIPELINE_SCHEDULE")
	setString(&cfg.Pipeline.DetectionsFile, "DETECTIONS_FILE")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// placeholders are the unfilled values shipped in the env template.
var placeholders = map[string]bool{
	"your_username_here": true,
	"your_password_here": true,
	"your_host_here":     true,
	"your_port_here":     true,
	"your_database_here": true,
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Source.Root == "" {
		errs = append(errs, errors.New("source.root (DATA_LAKE_PATH) is required"))
	}

	switch c.Warehouse.Driver {
	case "postgres", "pgx":
		if c.Warehouse.DSN == "" {
			fields := []struct{ name, env, value string }{
				{"user", "DB_USER", c.Warehouse.User},
				{"password", "DB_PASSWORD", c.Warehouse.Password},
				{"host", "DB_HOST", c.Warehouse.Host},
				{"port", "DB_PORT", c.Warehouse.Port},
				{"name", "DB_NAME", c.Warehouse.Name},
			}
			for _, f := range fields {
				if f.value == "" || placeholders[f.value] {
					errs = append(errs, fmt.Errorf("warehouse.%s (%s) is missing or a placeholder", f.name, f.env))
				}
			}
			if _, err := strconv.Atoi(c.Warehouse.Port); c.Warehouse.Port != "" && err != nil {
				errs = append(errs, fmt.Errorf("warehouse.port %q is not a number", c.Warehouse.Port))
			}
		}
	case "sqlite":
		if c.Warehouse.DSN == "" {
			errs = append(errs, errors.New("warehouse.dsn (WAREHOUSE_DSN) is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("warehouse.driver %q is not supported", c.Warehouse.Driver))
	}

	switch c.Warehouse.Dedup {
	case "", "none", "message":
	default:
		errs = append(errs, fmt.Errorf("warehouse.dedup %q must be none or message", c.Warehouse.Dedup))
	}

	if c.Loader.Workers < 1 {
		errs = append(errs, errors.New("loader.workers must be at least 1"))
	}
	if c.Loader.MaxConsecutiveWriteFailures < 0 {
		errs = append(errs, errors.New("loader.max_consecutive_write_failures must not be negative"))
	}
	if c.Ledger.Enabled && c.Ledger.Path == "" {
		errs = append(errs, errors.New("ledger.path is required when the ledger is enabled"))
	}
	if c.Archive.Enabled {
		switch c.Archive.Backend {
		case "local":
			if c.Archive.LocalDir == "" {
				errs = append(errs, errors.New("archive.local_dir is required for the local backend"))
			}
		case "gcs", "s3":
			if c.Archive.Bucket == "" {
				errs = append(errs, fmt.Errorf("archive.bucket is required for the %s backend", c.Archive.Backend))
			}
		case "mem":
		default:
			errs = append(errs, fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend))
		}
	}

	for i, s := range c.Pipeline.Steps {
		if len(s.Command) == 0 {
			errs = append(errs, fmt.Errorf("pipeline.steps[%d] (%s) has no command", i, s.Name))
		}
	}

	return errors.Join(errs...)
}

// WarehouseDSN returns the connection string for the configured driver.
func (c *Config) WarehouseDSN() string {
	w := c.Warehouse
	if w.DSN != "" || w.Driver == "sqlite" {
		return w.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(w.User, w.Password),
		Host:   w.Host + ":" + w.Port,
		Path:   "/" + w.Name,
	}
	if w.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {w.SSLMode}}.Encode()
	}
	return u.String()
}

// String redacts the warehouse password.
func (c *Config) String() string {
	dsn := c.WarehouseDSN()
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
			dsn = u.String()
		}
	}
	return strings.Join([]string{
		"source=" + c.Source.Root,
		"driver=" + c.Warehouse.Driver,
		"dsn=" + dsn,
		"workers=" + strconv.Itoa(c.Loader.Workers),
	}, " ")
}
