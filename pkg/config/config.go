package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultJobName identifies the sync job when none is configured.
	DefaultJobName = "racing-sync"

	// DefaultRequestsPerSecond is the upstream API rate cap shared by
	// bulk and enrichment fetches.
	DefaultRequestsPerSecond = 2.0

	// DefaultMaxAttempts is the retry budget per upstream request.
	DefaultMaxAttempts = 5

	// DefaultBackoffBase is the initial retry delay.
	DefaultBackoffBase = "500ms"

	// DefaultBackoffCap bounds the exponential retry delay.
	DefaultBackoffCap = "8s"

	// DefaultRequestTimeout bounds a single upstream HTTP round-trip.
	DefaultRequestTimeout = "30s"

	// DefaultChunkMonths is the chunk size used by the planner.
	DefaultChunkMonths = 1

	// DefaultEnrichWorkers is the enrichment worker pool size.
	DefaultEnrichWorkers = 2

	// DefaultAggregationBatchSize is the number of entities processed
	// between aggregation checkpoint writes.
	DefaultAggregationBatchSize = 100

	// DefaultSQLitePath is the default database location.
	DefaultSQLitePath = "./racesyncer.db"

	// DateLayout is the wire format for calendar dates.
	DateLayout = "2006-01-02"
)

// Config is the root configuration for racesyncer.
type Config struct {
	Global      GlobalConfig      `yaml:"global" mapstructure:"global"`
	Upstream    UpstreamConfig    `yaml:"upstream" mapstructure:"upstream"`
	Sync        SyncConfig        `yaml:"sync" mapstructure:"sync"`
	Aggregation AggregationConfig `yaml:"aggregation" mapstructure:"aggregation"`
	Database    DatabaseConfig    `yaml:"database" mapstructure:"database"`
	API         *APIConfig        `yaml:"api,omitempty" mapstructure:"api"`
	Export      *ExportConfig     `yaml:"export,omitempty" mapstructure:"export"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// UpstreamConfig contains the upstream racing API settings.
type UpstreamConfig struct {
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	Username          string  `yaml:"username" mapstructure:"username"`
	Password          string  `yaml:"password" mapstructure:"password"`
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty" mapstructure:"requests_per_second"`
	MaxAttempts       int     `yaml:"max_attempts,omitempty" mapstructure:"max_attempts"`
	BackoffBase       string  `yaml:"backoff_base,omitempty" mapstructure:"backoff_base"`
	BackoffCap        string  `yaml:"backoff_cap,omitempty" mapstructure:"backoff_cap"`
	RequestTimeout    string  `yaml:"request_timeout,omitempty" mapstructure:"request_timeout"`
}

// BackoffBaseDuration returns the parsed base retry delay.
func (u *UpstreamConfig) BackoffBaseDuration() time.Duration {
	return mustParseDuration(u.BackoffBase, DefaultBackoffBase)
}

// BackoffCapDuration returns the parsed retry delay cap.
func (u *UpstreamConfig) BackoffCapDuration() time.Duration {
	return mustParseDuration(u.BackoffCap, DefaultBackoffCap)
}

// RequestTimeoutDuration returns the parsed per-request timeout.
func (u *UpstreamConfig) RequestTimeoutDuration() time.Duration {
	return mustParseDuration(u.RequestTimeout, DefaultRequestTimeout)
}

// mustParseDuration parses d, falling back to the given default. The
// fallback is only reachable with an unvalidated config.
func mustParseDuration(d, fallback string) time.Duration {
	parsed, err := time.ParseDuration(d)
	if err != nil {
		parsed, _ = time.ParseDuration(fallback)
	}

	return parsed
}

// SyncConfig contains settings for the chunked sync pipeline.
type SyncConfig struct {
	JobName       string `yaml:"job_name,omitempty" mapstructure:"job_name"`
	StartDate     string `yaml:"start_date" mapstructure:"start_date"`
	EndDate       string `yaml:"end_date" mapstructure:"end_date"`
	ChunkMonths   int    `yaml:"chunk_months,omitempty" mapstructure:"chunk_months"`
	EnrichWorkers int    `yaml:"enrich_workers,omitempty" mapstructure:"enrich_workers"`

	// Resume is normally set by the --resume flag rather than the
	// config file.
	Resume bool `yaml:"resume,omitempty" mapstructure:"resume"`
}

// AggregationConfig contains settings for the statistics pass.
type AggregationConfig struct {
	BatchSize int    `yaml:"batch_size,omitempty" mapstructure:"batch_size"`
	ExportDir string `yaml:"export_dir,omitempty" mapstructure:"export_dir"`

	// Types restricts the pass to a subset of entity types. Empty
	// means all types.
	Types []string `yaml:"types,omitempty" mapstructure:"types"`

	// Resume is normally set by the --resume flag rather than the
	// config file.
	Resume bool `yaml:"resume,omitempty" mapstructure:"resume"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteConfig contains SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// ExportConfig contains settings for exporting aggregation output.
type ExportConfig struct {
	S3 *S3ExportConfig `yaml:"s3,omitempty" mapstructure:"s3"`
}

// S3ExportConfig contains S3 settings for stats export uploads.
type S3ExportConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
	ACL             string `yaml:"acl,omitempty" mapstructure:"acl"`
}

// Load reads and parses a configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Upstream.RequestsPerSecond <= 0 {
		c.Upstream.RequestsPerSecond = DefaultRequestsPerSecond
	}

	if c.Upstream.MaxAttempts <= 0 {
		c.Upstream.MaxAttempts = DefaultMaxAttempts
	}

	if c.Upstream.BackoffBase == "" {
		c.Upstream.BackoffBase = DefaultBackoffBase
	}

	if c.Upstream.BackoffCap == "" {
		c.Upstream.BackoffCap = DefaultBackoffCap
	}

	if c.Upstream.RequestTimeout == "" {
		c.Upstream.RequestTimeout = DefaultRequestTimeout
	}

	if c.Sync.JobName == "" {
		c.Sync.JobName = DefaultJobName
	}

	if c.Sync.ChunkMonths <= 0 {
		c.Sync.ChunkMonths = DefaultChunkMonths
	}

	if c.Sync.EnrichWorkers <= 0 {
		c.Sync.EnrichWorkers = DefaultEnrichWorkers
	}

	if c.Aggregation.BatchSize <= 0 {
		c.Aggregation.BatchSize = DefaultAggregationBatchSize
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}

	if c.Database.Driver == "sqlite" && c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = DefaultSQLitePath
	}

	if c.API != nil {
		c.API.applyDefaults()
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream base_url is required")
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	for _, d := range []struct{ name, value string }{
		{"backoff_base", c.Upstream.BackoffBase},
		{"backoff_cap", c.Upstream.BackoffCap},
		{"request_timeout", c.Upstream.RequestTimeout},
	} {
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("invalid upstream %s %q: %w", d.name, d.value, err)
		}
	}

	if c.Sync.StartDate != "" {
		if _, err := time.Parse(DateLayout, c.Sync.StartDate); err != nil {
			return fmt.Errorf("invalid sync start_date %q: %w", c.Sync.StartDate, err)
		}
	}

	if c.Sync.EndDate != "" {
		if _, err := time.Parse(DateLayout, c.Sync.EndDate); err != nil {
			return fmt.Errorf("invalid sync end_date %q: %w", c.Sync.EndDate, err)
		}
	}

	if c.Sync.StartDate != "" && c.Sync.EndDate != "" {
		start, _ := time.Parse(DateLayout, c.Sync.StartDate)
		end, _ := time.Parse(DateLayout, c.Sync.EndDate)

		if end.Before(start) {
			return fmt.Errorf("sync end_date %s is before start_date %s",
				c.Sync.EndDate, c.Sync.StartDate)
		}
	}

	if c.Export != nil && c.Export.S3 != nil && c.Export.S3.Enabled {
		if c.Export.S3.Bucket == "" {
			return fmt.Errorf("export s3 bucket is required when enabled")
		}
	}

	if c.API != nil {
		if err := c.API.Validate(); err != nil {
			return fmt.Errorf("api config: %w", err)
		}
	}

	return nil
}

// SyncRange returns the configured sync date range. Flags may override
// the configured values before this is called.
func (c *Config) SyncRange() (start, end time.Time, err error) {
	if c.Sync.StartDate == "" || c.Sync.EndDate == "" {
		return time.Time{}, time.Time{},
			fmt.Errorf("sync start_date and end_date are required")
	}

	start, err = time.Parse(DateLayout, c.Sync.StartDate)
	if err != nil {
		return time.Time{}, time.Time{},
			fmt.Errorf("parsing start_date: %w", err)
	}

	end, err = time.Parse(DateLayout, c.Sync.EndDate)
	if err != nil {
		return time.Time{}, time.Time{},
			fmt.Errorf("parsing end_date: %w", err)
	}

	return start, end, nil
}
