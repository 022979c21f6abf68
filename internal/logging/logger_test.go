package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLoggerMapsLevels(t *testing.T) {
	testCases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"":        zapcore.InfoLevel,
		"WARNING": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"verbose": zapcore.InfoLevel,
	}
	for input, expected := range testCases {
		logger, err := NewLogger(input)
		if err != nil {
			t.Fatalf("level %q: unexpected error %v", input, err)
		}
		if !logger.Core().Enabled(expected) {
			t.Fatalf("level %q: expected %s enabled", input, expected)
		}
		if expected > zapcore.DebugLevel && logger.Core().Enabled(expected-1) {
			t.Fatalf("level %q: expected %s disabled", input, expected-1)
		}
	}
}

func TestNewLoggerWithFormatRejectsUnknownFormat(t *testing.T) {
	if _, err := NewLoggerWithFormat("info", "xml"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
	if _, err := NewLoggerWithFormat("debug", FormatConsole); err != nil {
		t.Fatalf("console format: unexpected error %v", err)
	}
}
