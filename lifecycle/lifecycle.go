// Package lifecycle reacts to process backgrounding and foregrounding.
// Background playback is a paid-tier privilege: the ad-supported tier is
// force-stopped, not paused, because it cannot keep a persistent background
// session. Foregrounding refreshes the entitlement and reconciles the
// ambient mix in case the platform evicted effect resources.
package lifecycle

import (
	"context"
	"log/slog"

	"github.com/rickseven/quranic-soul/entitlement"
	"github.com/rickseven/quranic-soul/player"
)

// Playback is the transport surface the bridge needs.
type Playback interface {
	Stop()
	Status() player.Status
}

// AmbientSync reconciles the effect mix.
type AmbientSync interface {
	Reconcile()
}

// Entitlements refreshes and reports the paid-access tier.
type Entitlements interface {
	Current() entitlement.Tier
	Refresh(ctx context.Context) entitlement.Tier
}

// Bridge wires lifecycle transitions to playback, mixer and entitlements.
type Bridge struct {
	playback     Playback
	ambient      AmbientSync
	entitlements Entitlements
	logger       *slog.Logger
}

// NewBridge creates the lifecycle bridge.
func NewBridge(playback Playback, ambient AmbientSync, ent Entitlements, log *slog.Logger) *Bridge {
	return &Bridge{
		playback:     playback,
		ambient:      ambient,
		entitlements: ent,
		logger:       log,
	}
}

// Background handles a process backgrounding transition.
func (b *Bridge) Background(ctx context.Context) {
	tier := b.entitlements.Current()
	if tier != entitlement.TierNone {
		b.logger.Info("Backgrounded with paid tier, playback continues", "tier", tier.String())
		return
	}

	b.logger.Info("Backgrounded without entitlement, force-stopping playback")
	b.playback.Stop()
}

// Foreground handles a process foregrounding transition. The entitlement is
// refreshed exactly once per transition, with the store as source of truth.
func (b *Bridge) Foreground(ctx context.Context) {
	tier := b.entitlements.Refresh(ctx)
	b.logger.Info("Foregrounded", "tier", tier.String())

	if b.playback.Status().State == player.StatePlaying {
		b.ambient.Reconcile()
	}
}
