package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorCodes(t *testing.T) {
	codes := []ErrorCode{
		CodeUnknown,
		CodeValidation,
		CodeConfiguration,
		CodeTimeout,
		CodeCanceled,
		CodeNotFound,
		CodeConflict,
		CodeProbeUnexpected,
		CodeProtocol,
		CodeScanFailed,
		CodeTargetInvalid,
		CodeDatabaseConnection,
		CodeDatabaseQuery,
		CodeDatabaseMigration,
		CodeDatabaseTimeout,
		CodeFlushFailed,
		CodeFileNotFound,
		CodeFileFormat,
		CodeMalformedSeed,
	}

	seen := make(map[ErrorCode]bool)
	for _, code := range codes {
		if string(code) == "" {
			t.Errorf("Error code %v should not be empty", code)
		}
		if seen[code] {
			t.Errorf("Error code %s is declared twice", code)
		}
		seen[code] = true
	}
}

func TestScanError(t *testing.T) {
	t.Run("basic error creation", func(t *testing.T) {
		err := NewScanError(CodeScanFailed, "scan failed")
		if err.Code != CodeScanFailed {
			t.Errorf("Expected code %s, got %s", CodeScanFailed, err.Code)
		}
		if err.Message != "scan failed" {
			t.Errorf("Expected message 'scan failed', got '%s'", err.Message)
		}
		if err.Context == nil {
			t.Error("Context should be initialized")
		}
	})

	t.Run("error with target", func(t *testing.T) {
		err := NewScanErrorWithTarget(CodeTargetInvalid, "bad socket", "a.com:0")
		expected := "[TARGET_INVALID] bad socket (target: a.com:0)"
		if err.Error() != expected {
			t.Errorf("Expected error message '%s', got '%s'", expected, err.Error())
		}
	})

	t.Run("wrapped error with target", func(t *testing.T) {
		cause := fmt.Errorf("boom")
		err := ErrUnexpectedProbe("a.com:25565", cause)
		if err.Target != "a.com:25565" {
			t.Errorf("Expected target 'a.com:25565', got '%s'", err.Target)
		}
		if !errors.Is(err, cause) {
			t.Error("Should unwrap to original error")
		}
	})

	t.Run("with context", func(t *testing.T) {
		err := NewScanError(CodeTimeout, "timeout occurred")
		err.WithContext("duration", "30s").WithContext("retries", 3)

		if err.Context["duration"] != "30s" {
			t.Errorf("Expected duration '30s', got %v", err.Context["duration"])
		}
		if err.Context["retries"] != 3 {
			t.Errorf("Expected retries 3, got %v", err.Context["retries"])
		}
	})
}

func TestDatabaseError(t *testing.T) {
	t.Run("database error with operation", func(t *testing.T) {
		err := NewDatabaseError(CodeDatabaseQuery, "query failed")
		err.Operation = "upsert hosts"
		expected := "[DATABASE_QUERY] query failed (operation: upsert hosts)"
		if err.Error() != expected {
			t.Errorf("Expected error message '%s', got '%s'", expected, err.Error())
		}
	})
}

func TestInputError(t *testing.T) {
	err := NewInputError(CodeFileFormat, "expected a .txt file", "seeds.csv")
	expected := "[FILE_FORMAT] expected a .txt file (file: seeds.csv)"
	if err.Error() != expected {
		t.Errorf("Expected '%s', got '%s'", expected, err.Error())
	}

	err.Line = 4
	expected = "[FILE_FORMAT] expected a .txt file (seeds.csv:4)"
	if err.Error() != expected {
		t.Errorf("Expected '%s', got '%s'", expected, err.Error())
	}
}

func TestConfigError(t *testing.T) {
	err := NewConfigFieldError(CodeValidation, "invalid port", "database.port", 65536)
	expected := "[VALIDATION] invalid port (field: database.port)"
	if err.Error() != expected {
		t.Errorf("Expected error message '%s', got '%s'", expected, err.Error())
	}
	if err.Value != 65536 {
		t.Errorf("Expected value 65536, got %v", err.Value)
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, CodeUnknown},
		{"plain", fmt.Errorf("plain"), CodeUnknown},
		{"scan", NewScanError(CodeScanFailed, "x"), CodeScanFailed},
		{"database", NewDatabaseError(CodeConflict, "x"), CodeConflict},
		{"config", ErrConfigMissing("database.host"), CodeConfiguration},
		{"wrapped", fmt.Errorf("outer: %w", ErrFlushFailed(fmt.Errorf("inner"))), CodeFlushFailed},
		{"joined", Join(nil, fmt.Errorf("plain"), ErrUnexpectedProbe("h:1", fmt.Errorf("boom"))), CodeProbeUnexpected},
		{"joined uncoded", Join(fmt.Errorf("a"), fmt.Errorf("b")), CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIsRetryableAndFatal(t *testing.T) {
	if !IsRetryable(NewDatabaseError(CodeConflict, "dup")) {
		t.Error("unique conflicts should be retryable")
	}
	if IsRetryable(NewDatabaseError(CodeDatabaseQuery, "syntax")) {
		t.Error("query errors should not be retryable")
	}
	if !IsFatal(ErrUnexpectedProbe("a:1", fmt.Errorf("x"))) {
		t.Error("unexpected probe failures should be fatal")
	}
	if IsFatal(NewScanError(CodeTimeout, "t")) {
		t.Error("timeouts should not be fatal")
	}
	if !IsCode(fmt.Errorf("wrap: %w", ErrUnexpectedProbe("a:1", nil)), CodeProbeUnexpected) {
		t.Error("IsCode should see through wrapping")
	}
}
