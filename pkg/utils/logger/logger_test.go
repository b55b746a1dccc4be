package logger

import (
	"context"
	"testing"

	"voltask/pkg/utils/contextkey"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(Config{Level: "loud"})
	require.Error(t, err)
}

func TestNewLogger_DefaultsToInfo(t *testing.T) {
	l, err := NewLogger(Config{Format: "json"})
	require.NoError(t, err)
	assert.False(t, l.zap.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, l.zap.Core().Enabled(zapcore.InfoLevel))
}

func TestContextFieldsAreAttached(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := GetLogger()
	SetGlobal(NewFromZap(zap.New(core)))
	t.Cleanup(func() { SetGlobal(prev) })

	ctx := context.WithValue(context.Background(), contextkey.TraceID, "trace-1")
	ctx = context.WithValue(ctx, contextkey.ResultName, "wu_1_0")
	Info(ctx, "task started", zap.Int("pid", 42))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "trace-1", fields["trace_id"])
	assert.Equal(t, "wu_1_0", fields["result"])
	assert.EqualValues(t, 42, fields["pid"])
}

func TestNilGlobalIsSafe(t *testing.T) {
	prev := GetLogger()
	SetGlobal(nil)
	t.Cleanup(func() { SetGlobal(prev) })

	Info(context.Background(), "dropped")
	assert.NotNil(t, WithFields(context.Background()))
	assert.NoError(t, Sync())
}
