package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew(t *testing.T) {
	log := New()
	if log.GetLevel() == zerolog.Disabled {
		t.Error("Expected logger to be enabled")
	}
}

func TestNewWithWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	log.Info().Msg("sweep finished")

	output := buf.String()
	if output == "" {
		t.Error("Expected log output, got empty string")
	}
	if !strings.Contains(output, "sweep finished") {
		t.Errorf("Expected output to contain 'sweep finished', got: %s", output)
	}
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	testLog := NewWithWriter(buf)
	ctx := WithContext(context.Background(), testLog)

	retrievedLog := FromContext(ctx)
	retrievedLog.Info().Msg("test")

	if buf.Len() == 0 {
		t.Error("Expected log output from retrieved logger")
	}
}

func TestFromContext_DefaultLogger(t *testing.T) {
	// Should return a default logger when none is in context
	log := FromContext(context.Background())

	if log.GetLevel() == zerolog.Disabled {
		t.Error("Expected default logger to be enabled")
	}
}

func TestWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	logWithFields := WithFields(log, map[string]interface{}{
		"user_id": "u-123",
		"job":     "status_sweep",
	})
	logWithFields.Info().Msg("test message")

	output := buf.String()
	if !strings.Contains(output, "user_id") || !strings.Contains(output, "u-123") {
		t.Errorf("Expected output to contain user_id field, got: %s", output)
	}
	if !strings.Contains(output, "status_sweep") {
		t.Errorf("Expected output to contain job field, got: %s", output)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{" error ", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestConfigure_AppliesLevel(t *testing.T) {
	log := Configure(Options{Level: "error", JSON: true})
	if log.GetLevel() != zerolog.ErrorLevel {
		t.Errorf("Expected error level, got %v", log.GetLevel())
	}
}
