package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)
	log.Info("hello", "key", "value")

	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"key":"value"`)
	assert.Contains(t, buf.String(), `"level":"INFO"`)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := Text(&buf, slog.LevelWarn)
	log.Info("hidden")
	log.Debug("hidden too")
	assert.Zero(t, buf.Len())

	log.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestWithAndGroup(t *testing.T) {
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo).With("run_id", "abc").WithGroup("node")
	log.Info("corrected", "name", "conv")

	assert.Contains(t, buf.String(), `"run_id":"abc"`)
	assert.Contains(t, buf.String(), `"node":{"name":"conv"}`)
}

func TestForFormat(t *testing.T) {
	var buf bytes.Buffer
	ForFormat("JSON", &buf, slog.LevelInfo).Info("x")
	assert.Contains(t, buf.String(), `"msg":"x"`)

	buf.Reset()
	ForFormat("text", &buf, slog.LevelInfo).Info("x")
	assert.Contains(t, buf.String(), "msg=x")
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithContext(context.Background(), JSON(&buf, slog.LevelInfo))
	FromContext(ctx).Info("roundtrip")
	assert.Contains(t, buf.String(), "roundtrip")

	assert.NotNil(t, FromContext(context.Background()))
	Discard().Error("dropped")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}
