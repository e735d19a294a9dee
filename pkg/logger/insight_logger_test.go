package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"fatal":   LevelFatal,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
	assert.Equal(t, "warn", LevelWarn.String())
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf, Service: "test"})

	l.WithField("job_id", "j1").
		WithError(errors.New("boom")).
		WithDuration(1500 * time.Microsecond).
		Warn("batch %d failed", 3)

	entry := decodeLine(t, &buf)
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "test", entry["service"])
	assert.Equal(t, "j1", entry["job_id"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, 1.5, entry["duration_ms"])
	assert.Equal(t, "batch 3 failed", entry["message"])
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelError, Output: &buf})

	l.Info("dropped")
	assert.Zero(t, buf.Len())

	l.Error("kept")
	assert.Equal(t, "kept", decodeLine(t, &buf)["message"])
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf})

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	l.WithContext(ctx).Info("handled")
	assert.Equal(t, "req-1", decodeLine(t, &buf)["request_id"])

	buf.Reset()
	l.WithContext(context.Background()).Info("plain")
	_, ok := decodeLine(t, &buf)["request_id"]
	assert.False(t, ok)
}

func TestMessageWithoutArgsIsNotFormatted(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Level: LevelInfo, Output: &buf}).Info("100% done")

	assert.Equal(t, "100% done", decodeLine(t, &buf)["message"])
}
