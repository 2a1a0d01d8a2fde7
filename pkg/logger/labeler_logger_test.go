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
	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m), buf.String())
	return m
}

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelDebug, Output: &buf, Service: "test"})

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	ctx = context.WithValue(ctx, UserIDKey, "user-1")

	l.WithContext(ctx).
		WithField("message_id", "m1").
		WithError(errors.New("boom")).
		WithDuration(1500*time.Microsecond).
		Warn("labeled %d messages", 3)

	m := decodeLine(t, &buf)
	assert.Equal(t, "warn", m["level"])
	assert.Equal(t, "test", m["service"])
	assert.Equal(t, "req-1", m["request_id"])
	assert.Equal(t, "user-1", m["user_id"])
	assert.Equal(t, "m1", m["message_id"])
	assert.Equal(t, "boom", m["error"])
	assert.Equal(t, 1.5, m["duration_ms"])
	assert.Equal(t, "labeled 3 messages", m["message"])
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelWarn, Output: &buf})

	l.Info("hidden")
	assert.Zero(t, buf.Len())

	l.Component("pipeline").Error().Msg("shown")
	m := decodeLine(t, &buf)
	assert.Equal(t, "pipeline", m["component"])
	assert.Equal(t, "labeler", m["service"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}

func TestInitReplacesDefault(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: LevelDebug, Output: &buf, Service: "first"})
	Init(Config{Level: LevelDebug, Output: &buf, Service: "second"})
	t.Cleanup(func() { Init(Config{Level: LevelInfo}) })

	Debug("hello")
	assert.Equal(t, "second", decodeLine(t, &buf)["service"])
}
