package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
upstream:
  base_url: https://api.example.com
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultLogLevel, cfg.Global.LogLevel)
	assert.Equal(t, DefaultJobName, cfg.Sync.JobName)
	assert.InDelta(t, DefaultRequestsPerSecond, cfg.Upstream.RequestsPerSecond, 0.001)
	assert.Equal(t, DefaultMaxAttempts, cfg.Upstream.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Upstream.BackoffBaseDuration())
	assert.Equal(t, 8*time.Second, cfg.Upstream.BackoffCapDuration())
	assert.Equal(t, 30*time.Second, cfg.Upstream.RequestTimeoutDuration())
	assert.Equal(t, DefaultChunkMonths, cfg.Sync.ChunkMonths)
	assert.Equal(t, DefaultEnrichWorkers, cfg.Sync.EnrichWorkers)
	assert.Equal(t, DefaultAggregationBatchSize, cfg.Aggregation.BatchSize)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, DefaultSQLitePath, cfg.Database.SQLite.Path)
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
global:
  log_level: debug
upstream:
  base_url: https://api.example.com
  username: user
  password: pass
  requests_per_second: 1.5
  backoff_base: 250ms
sync:
  job_name: gb-flat
  start_date: "2024-01-01"
  end_date: "2024-03-31"
  chunk_months: 2
  enrich_workers: 4
aggregation:
  batch_size: 50
  export_dir: /tmp/exports
database:
  driver: postgres
  postgres:
    host: localhost
    port: 5432
    user: races
    password: secret
    database: racesyncer
api:
  server:
    listen: ":9090"
    rate_limit:
      enabled: true
  auth:
    enabled: true
    users:
      - username: admin
        password: hunter2
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.Global.LogLevel)
	assert.InDelta(t, 1.5, cfg.Upstream.RequestsPerSecond, 0.001)
	assert.Equal(t, 250*time.Millisecond, cfg.Upstream.BackoffBaseDuration())
	assert.Equal(t, "gb-flat", cfg.Sync.JobName)
	assert.Equal(t, 2, cfg.Sync.ChunkMonths)
	assert.Equal(t, 4, cfg.Sync.EnrichWorkers)
	assert.Equal(t, 50, cfg.Aggregation.BatchSize)
	assert.Equal(t, "postgres", cfg.Database.Driver)

	require.NotNil(t, cfg.API)
	assert.Equal(t, ":9090", cfg.API.Server.Listen)

	// Rate limit default kicks in when enabled without a rate.
	assert.Equal(t, 120, cfg.API.Server.RateLimit.RequestsPerMinute)

	start, end, err := cfg.SyncRange()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), end)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:    "missing base url",
			mutate:  func(cfg *Config) { cfg.Upstream.BaseURL = "" },
			wantErr: "base_url",
		},
		{
			name:    "bad driver",
			mutate:  func(cfg *Config) { cfg.Database.Driver = "oracle" },
			wantErr: "database driver",
		},
		{
			name:    "bad backoff",
			mutate:  func(cfg *Config) { cfg.Upstream.BackoffBase = "soon" },
			wantErr: "backoff_base",
		},
		{
			name:    "bad start date",
			mutate:  func(cfg *Config) { cfg.Sync.StartDate = "01/06/2024" },
			wantErr: "start_date",
		},
		{
			name: "end before start",
			mutate: func(cfg *Config) {
				cfg.Sync.StartDate = "2024-06-01"
				cfg.Sync.EndDate = "2024-05-01"
			},
			wantErr: "before start_date",
		},
		{
			name: "s3 export without bucket",
			mutate: func(cfg *Config) {
				cfg.Export = &ExportConfig{S3: &S3ExportConfig{Enabled: true}}
			},
			wantErr: "bucket",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Upstream: UpstreamConfig{BaseURL: "https://api.example.com"},
			}
			cfg.applyDefaults()

			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAPIConfig_Validate(t *testing.T) {
	t.Run("auth enabled without users", func(t *testing.T) {
		cfg := &APIConfig{Auth: APIAuthConfig{Enabled: true}}
		require.Error(t, cfg.Validate())
	})

	t.Run("duplicate usernames", func(t *testing.T) {
		cfg := &APIConfig{Auth: APIAuthConfig{
			Enabled: true,
			Users: []BasicAuthUser{
				{Username: "a", Password: "x"},
				{Username: "a", Password: "y"},
			},
		}}

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate")
	})

	t.Run("valid", func(t *testing.T) {
		cfg := &APIConfig{Auth: APIAuthConfig{
			Enabled: true,
			Users:   []BasicAuthUser{{Username: "a", Password: "x"}},
		}}
		require.NoError(t, cfg.Validate())
	})
}

func TestSyncRange_Required(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	_, _, err := cfg.SyncRange()
	require.Error(t, err)
}
