package cli

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/mcscan/internal/config"
	"github.com/anstrom/mcscan/internal/db"
	"github.com/anstrom/mcscan/internal/errors"
	"github.com/anstrom/mcscan/internal/logging"
	"github.com/anstrom/mcscan/internal/scheduler"
)

func TestGetConfigFilePath(t *testing.T) {
	t.Cleanup(viper.Reset)

	tests := []struct {
		name           string
		viperConfigSet string
		expectedResult string
	}{
		{
			name:           "returns default when no config file set",
			expectedResult: "config.yaml",
		},
		{
			name:           "returns viper config file when set",
			viperConfigSet: "/etc/mcscan/config.yaml",
			expectedResult: "/etc/mcscan/config.yaml",
		},
		{
			name:           "returns relative path when viper has relative path",
			viperConfigSet: "custom-config.yaml",
			expectedResult: "custom-config.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			if tt.viperConfigSet != "" {
				viper.SetConfigFile(tt.viperConfigSet)
			}
			assert.Equal(t, tt.expectedResult, getConfigFilePath())
		})
	}
}

func TestApplyOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("scanning.worker_count", 64)
	viper.Set("scanning.probe_timeout", "3s")
	viper.Set("scanning.fail_fast", false)
	viper.Set("persistence.output_path", "servers.txt")
	viper.Set("logging.level", "debug")
	viper.Set("schedule.selection", "all")

	cfg := config.Default()
	applyOverrides(cfg)

	assert.Equal(t, 64, cfg.Scanning.WorkerCount)
	assert.Equal(t, 3*time.Second, cfg.Scanning.ProbeTimeout)
	assert.False(t, cfg.Scanning.FailFast)
	assert.Equal(t, "servers.txt", cfg.Persistence.OutputPath)
	assert.Equal(t, logging.LevelDebug, cfg.Logging.Level)
	assert.Equal(t, "all", cfg.Schedule.Selection)

	// Keys that were not set keep their file or default values.
	defaults := config.Default()
	assert.Equal(t, defaults.Scanning.ProgressInterval, cfg.Scanning.ProgressInterval)
	assert.Equal(t, defaults.API.Port, cfg.API.Port)
	assert.Equal(t, defaults.Database.Path, cfg.Database.Path)
}

func TestLoadConfigFromFileAndEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scanning:\n  worker_count: 16\n  rate_limit: 250\n"), 0o600))

	t.Setenv("MCSCAN_SCANNING_WORKER_COUNT", "32")
	viper.SetConfigFile(path)
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Scanning.WorkerCount, "environment wins over the file")
	assert.InDelta(t, 250.0, cfg.Scanning.RateLimit, 0.001)

	t.Setenv("MCSCAN_SCANNING_WORKER_COUNT", "0")
	_, err = loadConfig()
	assert.Error(t, err, "overrides are validated")
}

func TestWriteDefaultConfig(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "mcscan", "config.yaml")
	viper.Set("database.path", "scans.db")
	require.NoError(t, writeDefaultConfig(path, false))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "scans.db", cfg.Database.Path)
	assert.Equal(t, config.Default().Scanning.WorkerCount, cfg.Scanning.WorkerCount)

	err = writeDefaultConfig(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	assert.NoError(t, writeDefaultConfig(path, true))
}

func TestExitHint(t *testing.T) {
	assert.Empty(t, exitHint(nil))
	assert.Empty(t, exitHint(fmt.Errorf("plain")))
	assert.Empty(t, exitHint(errors.ErrFlushFailed(fmt.Errorf("locked"))))
	assert.Contains(t, exitHint(fmt.Errorf("scan: %w", errors.ErrUnexpectedProbe("a:1", nil))), "--fail-fast=false")
	assert.Contains(t, exitHint(errors.ErrConfigMissing("database.host")), "MCSCAN_")
}

func TestLogJobs(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(logging.Config{Level: logging.LevelInfo, Format: logging.FormatJSON}, &buf)

	next := time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)
	logJobs(logger, "Watching", []scheduler.JobInfo{
		{Name: "rescan", CronExpr: "@hourly", NextRun: next, Runs: 2, Skipped: 1, LastErr: "locked"},
	})

	out := buf.String()
	assert.Contains(t, out, `"msg":"Watching"`)
	assert.Contains(t, out, `"job":"rescan"`)
	assert.Contains(t, out, `"next_run":"2026-01-02T03:04:00Z"`)
	assert.Contains(t, out, `"skipped":1`)
	assert.Contains(t, out, `"last_error":"locked"`)
}

func TestExpandTargets(t *testing.T) {
	sockets, err := expandTargets([]string{"10.0.0.1", "10.0.0.2"}, "25565-25566", "")
	require.NoError(t, err)
	assert.Len(t, sockets, 4)

	_, err = expandTargets(nil, "25565", "")
	assert.Error(t, err)

	_, err = expandTargets(nil, "", "unknown")
	assert.Error(t, err)
}

func TestRenderServers(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderServers(&buf, nil, 0))
	assert.Contains(t, buf.String(), "No servers found")

	buf.Reset()
	servers := []db.ServerView{
		{ID: 1, Host: "play.example.com", Port: 25565, Version: "1.20.4", Description: "A Minecraft Server", MaxPlayers: 20},
		{ID: 2, Host: "2001:db8::1", Port: 25566, Version: "Paper 1.21", Description: strings.Repeat("x", 60), MaxPlayers: 100},
	}
	require.NoError(t, renderServers(&buf, servers, 1234))

	out := buf.String()
	assert.Contains(t, out, "play.example.com:25565")
	assert.Contains(t, out, "[2001:db8::1]:25566")
	assert.Contains(t, out, "A Minecraft Server")
	assert.Contains(t, out, strings.Repeat("x", 37)+"...")
	assert.NotContains(t, out, strings.Repeat("x", 41))
	assert.Contains(t, out, "Showing 2 of 1,234 servers")
}

func TestRenderStats(t *testing.T) {
	var buf bytes.Buffer
	stats := db.Stats{Hosts: 2, Sockets: 1500, PendingSockets: 1200, Statuses: 3, Servers: 42}
	statuses := []db.StatusCount{
		{Name: "ConnectionRefused: connection refused", Sockets: 250},
		{Name: db.SuccessStatusName, Sockets: 42},
	}
	require.NoError(t, renderStats(&buf, stats, statuses))

	out := buf.String()
	assert.Contains(t, out, "1,500")
	assert.Contains(t, out, "1,200")
	assert.Contains(t, out, "ConnectionRefused: connection refused")
	assert.Contains(t, out, db.SuccessStatusName)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ééééééé...", truncate(strings.Repeat("é", 20), 10))
}

// closedPort returns a local port nothing listens on.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestCommandsEndToEnd(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	outputPath := filepath.Join(dir, "servers.txt")
	configYAML := fmt.Sprintf(`database:
  driver: sqlite
  path: %s
logging:
  level: error
scanning:
  worker_count: 4
  probe_timeout: 2s
persistence:
  flush_interval: 100ms
`, filepath.Join(dir, "mcscan.db"))
	require.NoError(t, os.WriteFile(configPath, []byte(configYAML), 0o600))

	port := closedPort(t)

	t.Run("migrate", func(t *testing.T) {
		out := execute(t, "--config", configPath, "migrate")
		assert.Contains(t, out, "Applied")

		out = execute(t, "--config", configPath, "migrate")
		assert.Contains(t, out, "up to date")
	})

	t.Run("seed range", func(t *testing.T) {
		out := execute(t, "--config", configPath, "seed", "range",
			"--hosts", "127.0.0.1", "--ports", fmt.Sprint(port))
		assert.Contains(t, out, "Added 1 hosts, 1 sockets, 0 servers")

		out = execute(t, "--config", configPath, "seed", "range",
			"--hosts", "127.0.0.1", "--ports", fmt.Sprint(port))
		assert.Contains(t, out, "Added 0 hosts, 0 sockets, 0 servers")
	})

	t.Run("scan pending", func(t *testing.T) {
		out := execute(t, "--config", configPath, "scan", "--select", "pending", "--output", outputPath)
		assert.Contains(t, out, "Sockets scanned: 1")
		assert.Contains(t, out, "Servers found:   0")
		assert.Contains(t, out, "Sockets updated: 1")
		assert.NoFileExists(t, outputPath, "no servers, nothing appended")
	})

	t.Run("stats", func(t *testing.T) {
		out := execute(t, "--config", configPath, "stats")
		assert.Contains(t, out, "ConnectionRefused")
	})

	t.Run("servers list", func(t *testing.T) {
		out := execute(t, "--config", configPath, "servers", "list")
		assert.Contains(t, out, "No servers found")
	})
}
