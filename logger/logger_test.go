package logger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{" info ", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestNewWithNilConfigUsesDefaults(t *testing.T) {
	log := New(nil)
	assert.NotNil(t, log)
	assert.True(t, log.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, log.Enabled(context.Background(), slog.LevelDebug))
}

func TestNewRespectsLevel(t *testing.T) {
	log := New(&Config{Level: "error", DisableSampling: true})
	assert.False(t, log.Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, log.Enabled(context.Background(), slog.LevelError))
}

func TestWithComponent(t *testing.T) {
	log := New(&Config{Level: "info", DisableSampling: true})
	assert.NotNil(t, WithComponent(log, "player"))
}
