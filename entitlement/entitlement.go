// Package entitlement caches the user's paid-access tier and refreshes it
// from the platform purchase store, which is authoritative. The cache fails
// toward previously granted access: transport errors never downgrade, and a
// perpetual tier survives every refresh outcome.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickseven/quranic-soul/sentry_helper"
	"github.com/rickseven/quranic-soul/store"
)

// Tier is the user's paid-access level.
type Tier int

const (
	// TierNone is the ad-supported tier without background playback.
	TierNone Tier = iota
	// TierTimeLimited is a subscription that the platform may cancel.
	TierTimeLimited
	// TierPerpetual is a lifetime purchase; it is never downgraded by a
	// refresh.
	TierPerpetual
)

// String returns the tier name used in persistence and the API.
func (t Tier) String() string {
	switch t {
	case TierTimeLimited:
		return "time_limited"
	case TierPerpetual:
		return "perpetual"
	default:
		return "none"
	}
}

func parseTier(s string) Tier {
	switch s {
	case "time_limited":
		return TierTimeLimited
	case "perpetual":
		return TierPerpetual
	default:
		return TierNone
	}
}

// Purchase is one active purchase reported by the platform store.
type Purchase struct {
	ProductID string
	Perpetual bool
}

// PlatformStore reports the user's active purchases. The orchestration layer
// does not validate receipts itself.
type PlatformStore interface {
	ActivePurchases(ctx context.Context) ([]Purchase, error)
}

// Service owns the cached tier.
type Service struct {
	store    *store.Store
	platform PlatformStore
	wait     time.Duration
	logger   *slog.Logger
	sentry   *sentry_helper.SentryHelper

	mu      sync.RWMutex
	current Tier
}

// NewService creates the service, loading the cached tier from the store.
func NewService(st *store.Store, platform PlatformStore, wait time.Duration, log *slog.Logger, sentry *sentry_helper.SentryHelper) (*Service, error) {
	cached, err := st.EntitlementTier()
	if err != nil {
		return nil, fmt.Errorf("failed to read cached entitlement: %w", err)
	}

	s := &Service{
		store:    st,
		platform: platform,
		wait:     wait,
		logger:   log,
		sentry:   sentry,
		current:  parseTier(cached),
	}

	log.Info("Entitlement cache loaded", "tier", s.current.String())
	return s, nil
}

// Current returns the cached tier.
func (s *Service) Current() Tier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Refresh queries the platform store within the wait window and updates the
// cache. A definitive empty result clears a time-limited tier; errors and
// timeouts keep the cached tier; a perpetual tier is never downgraded.
func (s *Service) Refresh(ctx context.Context) Tier {
	ctx, cancel := context.WithTimeout(ctx, s.wait)
	defer cancel()

	purchases, err := s.platform.ActivePurchases(ctx)
	if err != nil {
		// Fail toward previously granted access.
		s.logger.Warn("Entitlement refresh failed, keeping cached tier",
			"tier", s.Current().String(), "error", err)
		if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			s.sentry.CaptureException(fmt.Errorf("entitlement refresh: %w", err))
		}
		return s.Current()
	}

	derived := TierNone
	for _, p := range purchases {
		if p.Perpetual {
			derived = TierPerpetual
			break
		}
		derived = TierTimeLimited
	}

	return s.applyRefresh(derived)
}

// Grant records a tier reported directly by a purchase or restore event.
func (s *Service) Grant(tier Tier) Tier {
	return s.applyRefresh(tier)
}

func (s *Service) applyRefresh(derived Tier) Tier {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A perpetual entitlement, once recorded, is never downgraded.
	if s.current == TierPerpetual && derived != TierPerpetual {
		return s.current
	}

	if derived == s.current {
		return s.current
	}

	previous := s.current
	s.current = derived
	if err := s.store.SetEntitlementTier(derived.String()); err != nil {
		s.logger.Error("Failed to persist entitlement tier", "error", err)
		s.sentry.CaptureException(fmt.Errorf("persist entitlement: %w", err))
	}

	s.logger.Info("Entitlement tier changed",
		"previous", previous.String(), "current", derived.String())
	return s.current
}
