// Package ads counts track starts for ad-supported users and signals the
// external mediation service every Nth start. The service alone decides
// whether and when an interstitial is actually presented.
package ads

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickseven/quranic-soul/entitlement"
	"github.com/rickseven/quranic-soul/metrics"
	"github.com/rickseven/quranic-soul/sentry_helper"
)

// triggerTimeout bounds the fire-and-forget mediation call.
const triggerTimeout = 5 * time.Second

// Mediator is the external ad-mediation service.
type Mediator interface {
	TriggerInterstitial(ctx context.Context) error
}

// Entitlements reports the current paid-access tier.
type Entitlements interface {
	Current() entitlement.Tier
}

// Gate holds the local play counter.
type Gate struct {
	mediator     Mediator
	entitlements Entitlements
	interval     int
	logger       *slog.Logger
	sentry       *sentry_helper.SentryHelper

	mu      sync.Mutex
	counter int
}

// NewGate creates a gate triggering every interval-th track start.
func NewGate(mediator Mediator, ent Entitlements, interval int, log *slog.Logger, sentry *sentry_helper.SentryHelper) *Gate {
	return &Gate{
		mediator:     mediator,
		entitlements: ent,
		interval:     interval,
		logger:       log,
		sentry:       sentry,
	}
}

// TrackStarted records a track start. Paid tiers never trigger and do not
// advance the counter.
func (g *Gate) TrackStarted() {
	if g.entitlements.Current() != entitlement.TierNone {
		return
	}

	g.mu.Lock()
	g.counter++
	trigger := g.counter >= g.interval
	if trigger {
		g.counter = 0
	}
	g.mu.Unlock()

	if !trigger {
		return
	}

	metrics.InterstitialsTriggeredTotal.Inc()
	g.logger.Info("Interstitial trigger signal sent")

	// Fire and forget: the mediation service owns the decision.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), triggerTimeout)
		defer cancel()
		if err := g.mediator.TriggerInterstitial(ctx); err != nil {
			g.logger.Warn("Interstitial trigger failed", "error", err)
			g.sentry.CaptureException(fmt.Errorf("interstitial trigger: %w", err))
		}
	}()
}

// Counter returns the current counter value.
func (g *Gate) Counter() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counter
}
