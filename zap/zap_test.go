//go:build unit

package zap

import (
	"context"
	"errors"
	"testing"

	logpkg "github.com/andretpc/rinha/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, observed := observer.New(level)

	return NewWithCore(core), observed
}

func TestNew_ValidatesConfig(t *testing.T) {
	t.Run("missing_library_name", func(t *testing.T) {
		_, err := New(Config{Environment: EnvironmentProduction})
		assert.Error(t, err)
	})

	t.Run("unknown_environment", func(t *testing.T) {
		_, err := New(Config{Environment: "qa", OTelLibraryName: "test"})
		assert.Error(t, err)
	})

	t.Run("invalid_level", func(t *testing.T) {
		_, err := New(Config{Environment: EnvironmentLocal, Level: "loud", OTelLibraryName: "test"})
		assert.Error(t, err)
	})
}

func TestNew_LevelDefaultsByEnvironment(t *testing.T) {
	local, err := New(Config{Environment: EnvironmentLocal, OTelLibraryName: "test"})
	require.NoError(t, err)
	assert.True(t, local.Enabled(logpkg.LevelDebug))

	prod, err := New(Config{Environment: EnvironmentProduction, OTelLibraryName: "test"})
	require.NoError(t, err)
	assert.False(t, prod.Enabled(logpkg.LevelDebug))
	assert.True(t, prod.Enabled(logpkg.LevelInfo))

	overridden, err := New(Config{Environment: EnvironmentProduction, Level: "warn", OTelLibraryName: "test"})
	require.NoError(t, err)
	assert.False(t, overridden.Enabled(logpkg.LevelInfo))
	assert.True(t, overridden.Enabled(logpkg.LevelWarn))
}

func TestNew_LevelUsesLogLevelNames(t *testing.T) {
	warning, err := New(Config{Environment: EnvironmentProduction, Level: " WARNING ", OTelLibraryName: "test"})
	require.NoError(t, err)
	assert.False(t, warning.Enabled(logpkg.LevelInfo))
	assert.True(t, warning.Enabled(logpkg.LevelWarn))

	_, err = New(Config{Environment: EnvironmentProduction, Level: "panic", OTelLibraryName: "test"})
	assert.Error(t, err)
}

func TestLog_DispatchesLevels(t *testing.T) {
	logger, observed := newObservedLogger(zapcore.DebugLevel)
	ctx := context.Background()

	logger.Log(ctx, logpkg.LevelDebug, "debug message")
	logger.Log(ctx, logpkg.LevelInfo, "info message", logpkg.String("collection", "transactions"))
	logger.Log(ctx, logpkg.LevelWarn, "warn message")
	logger.Log(ctx, logpkg.LevelError, "error message", logpkg.Err(errors.New("boom")))

	entries := observed.All()
	require.Len(t, entries, 4)

	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, "transactions", entries[1].ContextMap()["collection"])
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	assert.Equal(t, "boom", entries[3].ContextMap()["error"])
}

func TestLog_RespectsLevel(t *testing.T) {
	logger, observed := newObservedLogger(zapcore.InfoLevel)

	logger.Log(context.Background(), logpkg.LevelDebug, "hidden")
	logger.Log(context.Background(), logpkg.LevelInfo, "shown")

	entries := observed.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "shown", entries[0].Message)
	assert.False(t, logger.Enabled(logpkg.LevelDebug))
}

func TestLog_AppendsTraceCorrelation(t *testing.T) {
	logger, observed := newObservedLogger(zapcore.DebugLevel)

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	logger.Log(ctx, logpkg.LevelInfo, "traced")

	entries := observed.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entries[0].ContextMap()["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entries[0].ContextMap()["span_id"])
}

func TestWith_DoesNotMutateParent(t *testing.T) {
	logger, observed := newObservedLogger(zapcore.DebugLevel)
	child := logger.With(logpkg.String("run_id", "r-1"))

	logger.Log(context.Background(), logpkg.LevelInfo, "parent")
	child.Log(context.Background(), logpkg.LevelInfo, "child")

	entries := observed.All()
	require.Len(t, entries, 2)

	_, parentHasRun := entries[0].ContextMap()["run_id"]
	assert.False(t, parentHasRun)
	assert.Equal(t, "r-1", entries[1].ContextMap()["run_id"])
}

func TestNilLoggerFallsBackToNop(t *testing.T) {
	var logger *Logger

	assert.NotPanics(t, func() {
		logger.Log(context.Background(), logpkg.LevelError, "message")
	})
	assert.NotNil(t, logger.Raw())
}

func TestSync(t *testing.T) {
	logger, _ := newObservedLogger(zapcore.DebugLevel)
	assert.NoError(t, logger.Sync(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, logger.Sync(ctx), context.Canceled)
}
