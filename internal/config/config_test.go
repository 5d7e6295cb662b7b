package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/mcscan/internal/db"
	"github.com/anstrom/mcscan/internal/errors"
	"github.com/anstrom/mcscan/internal/logging"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, db.DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 2048, cfg.Scanning.WorkerCount)
	assert.Equal(t, 10*time.Second, cfg.Scanning.ProbeTimeout)
	assert.True(t, cfg.Scanning.FailFast)
	assert.Equal(t, 60*time.Second, cfg.Persistence.FlushInterval)
	assert.Equal(t, "127.0.0.1", cfg.API.ListenAddr)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.True(t, cfg.IsAPIEnabled())
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "valid yaml config",
			file: "config.yaml",
			content: `
database:
  driver: postgres
  host: db.internal
  port: 5432
  database: mcscan
  username: scanner
  password: secret
scanning:
  worker_count: 64
  probe_timeout: 3s
  rate_limit: 500
  resolve_srv: true
persistence:
  flush_interval: 5s
  output_path: /tmp/servers.txt
logging:
  level: debug
  format: json
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "postgres", cfg.Database.Driver)
				assert.Equal(t, "db.internal", cfg.Database.Host)
				assert.Equal(t, 64, cfg.Scanning.WorkerCount)
				assert.Equal(t, 3*time.Second, cfg.Scanning.ProbeTimeout)
				assert.InDelta(t, 500.0, cfg.Scanning.RateLimit, 0)
				assert.True(t, cfg.Scanning.ResolveSRV)
				assert.Equal(t, 5*time.Second, cfg.Persistence.FlushInterval)
				assert.Equal(t, "/tmp/servers.txt", cfg.Persistence.OutputPath)
				assert.Equal(t, logging.LevelDebug, cfg.Logging.Level)
				assert.Equal(t, logging.FormatJSON, cfg.Logging.Format)
				// Untouched sections keep their defaults.
				assert.Equal(t, 15*time.Second, cfg.Scanning.ProgressInterval)
				assert.Equal(t, 3, cfg.Persistence.MaxRetries)
			},
		},
		{
			name:    "valid json config",
			file:    "config.json",
			content: `{"database": {"driver": "sqlite", "path": "scan.db"}, "scanning": {"worker_count": 8}}`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "scan.db", cfg.Database.Path)
				assert.Equal(t, 8, cfg.Scanning.WorkerCount)
			},
		},
		{
			name:    "invalid yaml syntax",
			file:    "config.yaml",
			content: "database:\n  port: invalid\n",
			wantErr: true,
		},
		{
			name:    "invalid json syntax",
			file:    "config.json",
			content: `{"database": {"port": "invalid"},}`,
			wantErr: true,
		},
		{
			name:    "fails validation",
			file:    "config.yaml",
			content: "scanning:\n  worker_count: 0\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.file, tt.content))
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, cfg)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"zero workers", func(c *Config) { c.Scanning.WorkerCount = 0 }, "scanning.worker_count"},
		{"zero probe timeout", func(c *Config) { c.Scanning.ProbeTimeout = 0 }, "scanning.probe_timeout"},
		{"negative rate limit", func(c *Config) { c.Scanning.RateLimit = -1 }, "scanning.rate_limit"},
		{"zero flush interval", func(c *Config) { c.Persistence.FlushInterval = 0 }, "persistence.flush_interval"},
		{"zero retries", func(c *Config) { c.Persistence.MaxRetries = 0 }, "persistence.max_retries"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"postgres without host", func(c *Config) {
			c.Database.Driver = db.DriverPostgres
			c.Database.Host = ""
		}, "database.host"},
		{"postgres without database", func(c *Config) {
			c.Database.Driver = db.DriverPGX
			c.Database.Username = "u"
		}, "database.database"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"output not txt", func(c *Config) { c.Persistence.OutputPath = "servers.json" }, "persistence.output_path"},
		{"api without port", func(c *Config) { c.API.Port = 0 }, "api.port"},
		{"metrics without address", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.ListenAddr = ""
		}, "metrics.listen_addr"},
		{"bad cron", func(c *Config) { c.Schedule.Cron = "every minute" }, "schedule.cron"},
		{"bad selection", func(c *Config) { c.Schedule.Selection = "some" }, "schedule.selection"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var cfgErr *errors.ConfigError
			require.True(t, errors.As(err, &cfgErr), "got %T", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestValidateAcceptsDisabledSections(t *testing.T) {
	cfg := Default()
	cfg.API.Enabled = false
	cfg.API.Port = 0
	cfg.Schedule.Cron = ""
	cfg.Persistence.OutputPath = "dump.TXT"
	assert.NoError(t, cfg.Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Scanning.WorkerCount = 128
	cfg.Schedule.Cron = "*/5 * * * *"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 128, loaded.Scanning.WorkerCount)
	assert.Equal(t, "*/5 * * * *", loaded.Schedule.Cron)
}

func TestSectionConversions(t *testing.T) {
	cfg := Default()
	cfg.Persistence.FlushInterval = time.Second
	cfg.Scanning.ResolveSRV = true

	coord := cfg.Persistence.Coordinator()
	assert.Equal(t, time.Second, coord.FlushInterval)
	assert.Equal(t, cfg.Persistence.MaxRetries, coord.MaxRetries)

	probeCfg := cfg.Scanning.Probe()
	assert.True(t, probeCfg.ResolveSRV)
	assert.Equal(t, cfg.Scanning.ProtocolVersion, probeCfg.ProtocolVersion)
}
