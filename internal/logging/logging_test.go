package logging

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	original := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(original)
	fn()
	return buf.String()
}

func TestLevelOrdering(t *testing.T) {
	levels := []LogLevel{LevelDebug, LevelInfo, LevelWarn, LevelError}
	for i := 0; i < len(levels)-1; i++ {
		if levels[i] >= levels[i+1] {
			t.Errorf("Levels out of order: %v >= %v", levels[i], levels[i+1])
		}
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  string
	}{
		{LevelDebug, "debug"},
		{LevelInfo, "info"},
		{LevelWarn, "warn"},
		{LevelError, "error"},
		{LogLevel(99), "unknown(99)"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("LogLevel(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestMessagesCarryLevelPrefix(t *testing.T) {
	// The level is resolved once per process, so only levels at or above
	// the resolved one can be asserted on output.
	out := captureOutput(t, func() {
		Warn("import pool: %d workers", 4)
		Error("hashing failed: %v", "short read")
	})

	if !strings.Contains(out, "[WARN] import pool: 4 workers") {
		t.Errorf("Warn output missing prefix or message: %q", out)
	}
	if !strings.Contains(out, "[ERROR] hashing failed: short read") {
		t.Errorf("Error output missing prefix or message: %q", out)
	}
}

func TestDebugSuppressedAboveDebugLevel(t *testing.T) {
	if GetLevel() <= LevelDebug {
		t.Skip("debug logging enabled in this environment")
	}
	out := captureOutput(t, func() {
		Debug("closure cache rebuild")
	})
	if out != "" {
		t.Errorf("Debug should be suppressed, got %q", out)
	}
}

func TestPrintfBypassesLevel(t *testing.T) {
	out := captureOutput(t, func() {
		Printf("banner line %d", 1)
	})
	if !strings.Contains(out, "banner line 1") {
		t.Errorf("Printf output = %q", out)
	}
}

func TestIsDebugEnabledMatchesLevel(t *testing.T) {
	if IsDebugEnabled() != (GetLevel() <= LevelDebug) {
		t.Error("IsDebugEnabled disagrees with GetLevel")
	}
}
