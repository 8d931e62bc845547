package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLoggerLevels(t *testing.T) {
	testCases := []struct {
		level  string
		format string
		want   zapcore.Level
	}{
		{level: "debug", format: "json", want: zapcore.DebugLevel},
		{level: "", format: "", want: zapcore.InfoLevel},
		{level: "WARNING", format: "console", want: zapcore.WarnLevel},
		{level: "error", format: "json", want: zapcore.ErrorLevel},
		{level: "verbose", format: "json", want: zapcore.InfoLevel},
	}
	for _, testCase := range testCases {
		logger, err := NewLogger(testCase.level, testCase.format)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", testCase.level, err)
		}
		if !logger.Core().Enabled(testCase.want) {
			t.Fatalf("level %q: expected %s enabled", testCase.level, testCase.want)
		}
		if testCase.want > zapcore.DebugLevel && logger.Core().Enabled(testCase.want-1) {
			t.Fatalf("level %q: expected %s disabled", testCase.level, testCase.want-1)
		}
	}
}
