package main

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zapcore"
)

func TestGetLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		envVar   string
		value    string
		expected slog.Level
	}{
		{name: "prefixed debug", envVar: "PROMPTSYNC_LOG_LEVEL", value: "debug", expected: slog.LevelDebug},
		{name: "prefixed warning", envVar: "PROMPTSYNC_LOG_LEVEL", value: "WARNING", expected: slog.LevelWarn},
		{name: "fallback error", envVar: "LOG_LEVEL", value: "error", expected: slog.LevelError},
		{name: "invalid value", envVar: "PROMPTSYNC_LOG_LEVEL", value: "verbose", expected: slog.LevelInfo},
		{name: "unset", envVar: "PROMPTSYNC_LOG_LEVEL", value: "", expected: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PROMPTSYNC_LOG_LEVEL", "")
			t.Setenv("LOG_LEVEL", "")
			t.Setenv(tt.envVar, tt.value)
			assert.Equal(t, tt.expected, getLogLevel())
		})
	}
}

func TestNewZapLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level slog.Level
		want  zapcore.Level
	}{
		{level: slog.LevelDebug, want: zapcore.Level(-4)},
		{level: slog.LevelInfo, want: zapcore.InfoLevel},
		{level: slog.LevelWarn, want: zapcore.WarnLevel},
		{level: slog.LevelError, want: zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		logger, level, err := newZapLogger(tt.level)
		require.NoError(t, err)
		assert.Equal(t, tt.want, level.Level(), tt.level.String())
		_ = logger.Sync()
	}
}

func TestTraceHandlerAddsSpanContext(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := slog.New(&traceHandler{Handler: slog.NewJSONHandler(&buf, nil)})

	traceID := trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	spanID := trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8}
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))

	logger.InfoContext(ctx, "sync started")
	assert.Contains(t, buf.String(), `"trace_id":"`+traceID.String()+`"`)
	assert.Contains(t, buf.String(), `"span_id":"`+spanID.String()+`"`)

	buf.Reset()
	logger.With("component", "coordinator").Info("no span")
	assert.NotContains(t, buf.String(), "trace_id")
	assert.Contains(t, buf.String(), "coordinator")
}
