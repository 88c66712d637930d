// Package logger builds the service logger: a JSON slog handler behind a
// sampling middleware so repeated playback and reconciliation messages do not
// flood the output.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	slogmulti "github.com/samber/slog-multi"
	slogsampling "github.com/samber/slog-sampling"
)

// Config holds the logger configuration.
type Config struct {
	Level           string
	DisableSampling bool

	// Threshold sampling: allow the first Threshold identical messages per
	// Tick, then keep only Rate of the rest.
	Tick      time.Duration
	Threshold uint64
	Rate      float64
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:     "info",
		Tick:      5 * time.Second,
		Threshold: 10,
		Rate:      0.1,
	}
}

// New creates a configured logger.
func New(config *Config) *slog.Logger {
	if config == nil {
		config = DefaultConfig()
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(config.Level)}
	baseHandler := slog.NewJSONHandler(os.Stdout, opts)

	if config.DisableSampling {
		return slog.New(baseHandler)
	}

	sampling := slogsampling.ThresholdSamplingOption{
		Tick:      config.Tick,
		Threshold: config.Threshold,
		Rate:      config.Rate,
		Matcher:   slogsampling.MatchByLevelAndMessage(),
	}

	return slog.New(
		slogmulti.
			Pipe(sampling.NewMiddleware()).
			Handler(baseHandler),
	)
}

// ParseLevel converts a level string to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARNING", "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent adds a component field for categorization.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}

// LogPlaybackEvent logs playback events with consistent fields.
func LogPlaybackEvent(logger *slog.Logger, level slog.Level, msg string, trackID int64, state string, attrs ...slog.Attr) {
	allAttrs := []slog.Attr{
		slog.Int64("track_id", trackID),
		slog.String("state", state),
		slog.String("event_type", "playback"),
	}
	allAttrs = append(allAttrs, attrs...)

	logger.LogAttrs(context.Background(), level, msg, allAttrs...)
}

// LogMixerEvent logs ambient mixer events with consistent fields.
func LogMixerEvent(logger *slog.Logger, level slog.Level, msg string, effectID string, attrs ...slog.Attr) {
	allAttrs := []slog.Attr{
		slog.String("effect_id", effectID),
		slog.String("event_type", "mixer"),
	}
	allAttrs = append(allAttrs, attrs...)

	logger.LogAttrs(context.Background(), level, msg, allAttrs...)
}
