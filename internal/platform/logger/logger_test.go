package logger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		level slog.Level
		ok    bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"", slog.LevelInfo, true},
		{"warn", slog.LevelWarn, true},
		{"Error", slog.LevelError, true},
		{"verbose", slog.LevelInfo, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, ok := ParseLevel(tt.input)
			assert.Equal(t, tt.level, level)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestSetup(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })

	buf := &TestLogBuffer{}
	log, err := Setup(LoggerConfig{Level: "warn", Output: buf})
	require.NoError(t, err)
	require.NotNil(t, log)

	log.Info("hidden")
	log.Warn("visible", slog.String("component", "test"))

	entries, err := buf.GetLogEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "visible", entries[0]["msg"])
	assert.Equal(t, "test", entries[0]["component"])
	assert.Same(t, log, slog.Default())
}

func TestSetup_InvalidLevelWarns(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })

	buf := &TestLogBuffer{}
	_, err := Setup(LoggerConfig{Level: "chatty", Output: buf})
	require.NoError(t, err)

	AssertLogContains(t, buf, "invalid log level configured")
	AssertLogContains(t, buf, `"configured_level":"chatty"`)
}

func TestFromContextOrDefault(t *testing.T) {
	fallback, fallbackBuf := GetTestLogger(t)
	scoped, scopedBuf := GetTestLogger(t)

	FromContextOrDefault(context.Background(), fallback).Info("to fallback")
	AssertLogContains(t, fallbackBuf, "to fallback")

	ctx := WithLogger(context.Background(), scoped)
	FromContextOrDefault(ctx, fallback).Info("to scoped")
	AssertLogContains(t, scopedBuf, "to scoped")
	assert.NotContains(t, fallbackBuf.String(), "to scoped")
}

func TestWithRequestID(t *testing.T) {
	log, buf := GetTestLogger(t)

	ctx := WithRequestID(WithLogger(context.Background(), log), "req-42")
	assert.Equal(t, "req-42", RequestIDFromContext(ctx))

	FromContext(ctx).Info("correlated")
	AssertLogContains(t, buf, `"request_id":"req-42"`)
}
