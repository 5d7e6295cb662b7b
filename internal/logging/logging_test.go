package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected default level %s, got %s", LevelInfo, cfg.Level)
	}
	if cfg.Format != FormatText {
		t.Errorf("Expected default format %s, got %s", FormatText, cfg.Format)
	}
	if cfg.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %s", cfg.Output)
	}
	if cfg.AddSource {
		t.Error("Expected AddSource to be false by default")
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("stdout text logger", func(t *testing.T) {
		logger, err := New(Config{Level: LevelInfo, Format: FormatText, Output: "stdout"})
		if err != nil {
			t.Fatalf("Failed to create logger: %v", err)
		}
		if logger.config.Level != LevelInfo {
			t.Errorf("Expected level %s, got %s", LevelInfo, logger.config.Level)
		}
	})

	t.Run("stderr json logger", func(t *testing.T) {
		logger, err := New(Config{Level: LevelError, Format: FormatJSON, Output: "stderr"})
		if err != nil {
			t.Fatalf("Failed to create logger: %v", err)
		}
		if logger == nil {
			t.Fatal("Logger should not be nil")
		}
	})

	t.Run("file logger", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "scan.log")

		if _, err := New(Config{Level: LevelDebug, Format: FormatText, Output: logFile}); err != nil {
			t.Fatalf("Failed to create file logger: %v", err)
		}

		info, err := os.Stat(logFile)
		if err != nil {
			t.Fatalf("Log file should have been created: %v", err)
		}
		if info.Mode().Perm() != logFilePerm {
			t.Errorf("Expected file permissions %o, got %o", logFilePerm, info.Mode().Perm())
		}
	})

	t.Run("invalid directory for file logger", func(t *testing.T) {
		_, err := New(Config{Level: LevelInfo, Format: FormatText, Output: "/proc/invalid/scan.log"})
		if err == nil {
			t.Error("Expected error for invalid log file path")
		}
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel("WARN"), "WARN"},
		{LogLevel("unknown"), "INFO"},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			if got := parseLevel(tt.level).String(); got != tt.want {
				t.Errorf("parseLevel(%q) = %s, want %s", tt.level, got, tt.want)
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: LevelWarn, Format: FormatText}, &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn message should be logged at warn level")
	}
}

func TestScanHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: LevelInfo, Format: FormatJSON}, &buf)

	logger.WithComponent("scanner").InfoScan("server found", "play.example.net:25565", "version", "1.20.4")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected a JSON log line: %v", err)
	}
	if entry["component"] != "scanner" {
		t.Errorf("Expected component 'scanner', got %v", entry["component"])
	}
	if entry["socket"] != "play.example.net:25565" {
		t.Errorf("Expected socket field, got %v", entry["socket"])
	}
	if entry["version"] != "1.20.4" {
		t.Errorf("Expected version field, got %v", entry["version"])
	}

	buf.Reset()
	logger.ErrorScan("probe failed", "10.0.0.1:25565", errors.New("boom"))
	if !strings.Contains(buf.String(), `"error":"boom"`) {
		t.Errorf("Expected error field in %s", buf.String())
	}
}

func TestDatabaseHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: LevelInfo, Format: FormatText}, &buf)

	logger.InfoDatabase("flush applied", "servers", 3)
	logger.ErrorDatabase("flush failed", errors.New("locked"))

	out := buf.String()
	for _, want := range []string{"component=database", "servers=3", "error=locked"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output %q", want, out)
		}
	}
}

func TestLoggerChaining(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: LevelInfo, Format: FormatText}, &buf)

	logger.
		WithComponent("coordinator").
		WithScanID("scan-123").
		WithError(errors.New("retrying")).
		Info("cycle")

	out := buf.String()
	for _, want := range []string{"component=coordinator", "scan_id=scan-123", "error=retrying"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output %q", want, out)
		}
	}
}

func TestGlobalLogger(t *testing.T) {
	original := Default()
	defer SetDefault(original)

	var buf bytes.Buffer
	SetDefault(NewWithWriter(Config{Level: LevelDebug, Format: FormatText}, &buf))

	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")
	InfoDatabase("db info")
	ErrorDatabase("db error", errors.New("x"))

	out := buf.String()
	for _, want := range []string{"debug message", "info message", "warn message", "error message", "db info", "db error"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output", want)
		}
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.Info("nothing to see")
	if logger.Logger == nil {
		t.Fatal("Discard should return a usable logger")
	}
}
