// Package sentry_helper provides safe and optional Sentry operations.
// All external-call failures are reported through this helper at the service
// boundary; when Sentry is disabled every call is a cheap no-op.
package sentry_helper

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

// SentryHelper wraps the Sentry SDK behind an enabled flag.
type SentryHelper struct {
	enabled bool
	logger  *slog.Logger
}

// NewSentryHelper creates a new SentryHelper instance.
func NewSentryHelper(enabled bool, logger *slog.Logger) *SentryHelper {
	if logger == nil {
		logger = slog.Default()
	}
	return &SentryHelper{
		enabled: enabled,
		logger:  logger,
	}
}

// IsEnabled returns whether Sentry is enabled.
func (h *SentryHelper) IsEnabled() bool {
	return h.enabled
}

// CaptureException captures an exception with proper hub isolation.
func (h *SentryHelper) CaptureException(err error) {
	if !h.enabled || err == nil {
		return
	}

	// Clone hub to avoid data races in goroutines.
	hub := sentry.CurrentHub().Clone()
	hub.CaptureException(err)
}

// CaptureMessage captures a message with proper hub isolation.
func (h *SentryHelper) CaptureMessage(msg string) {
	if !h.enabled || msg == "" {
		return
	}

	hub := sentry.CurrentHub().Clone()
	hub.CaptureMessage(msg)
}

// CapturePlaybackError reports a playback failure with track context.
func (h *SentryHelper) CapturePlaybackError(err error, trackID int64, state string) {
	if !h.enabled || err == nil {
		return
	}

	hub := sentry.CurrentHub().Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("subsystem", "playback")
		scope.SetTag("state", state)
		scope.SetExtra("track_id", trackID)
		hub.CaptureException(err)
	})
}

// CaptureMixerError reports an ambient mixer failure with effect context.
func (h *SentryHelper) CaptureMixerError(err error, effectID string) {
	if !h.enabled || err == nil {
		return
	}

	hub := sentry.CurrentHub().Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("subsystem", "mixer")
		scope.SetTag("effect_id", effectID)
		hub.CaptureException(err)
	})
}

// Flush waits for buffered events to be sent, up to the given timeout.
func (h *SentryHelper) Flush(timeout time.Duration) {
	if !h.enabled {
		return
	}
	sentry.Flush(timeout)
}

// Init initializes the Sentry SDK. An empty DSN disables reporting and
// returns a disabled helper instead of an error.
func Init(dsn, environment, release string, logger *slog.Logger) (*SentryHelper, error) {
	if dsn == "" {
		return NewSentryHelper(false, logger), nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     release,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry init: %w", err)
	}

	return NewSentryHelper(true, logger), nil
}
