package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rickseven/quranic-soul/entitlement"
	"github.com/rickseven/quranic-soul/player"
)

type fakePlayback struct {
	stops atomic.Int32
	state player.State
}

func (f *fakePlayback) Stop() { f.stops.Add(1) }

func (f *fakePlayback) Status() player.Status {
	return player.Status{State: f.state}
}

type fakeAmbient struct {
	reconciles atomic.Int32
}

func (f *fakeAmbient) Reconcile() { f.reconciles.Add(1) }

type fakeEntitlements struct {
	tier      entitlement.Tier
	refreshes atomic.Int32
}

func (f *fakeEntitlements) Current() entitlement.Tier { return f.tier }

func (f *fakeEntitlements) Refresh(context.Context) entitlement.Tier {
	f.refreshes.Add(1)
	return f.tier
}

func newTestBridge(playback Playback, ambient AmbientSync, ent Entitlements) *Bridge {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewBridge(playback, ambient, ent, log)
}

func TestBackgroundForceStopsFreeTier(t *testing.T) {
	playback := &fakePlayback{state: player.StatePlaying}
	ent := &fakeEntitlements{tier: entitlement.TierNone}
	b := newTestBridge(playback, &fakeAmbient{}, ent)

	b.Background(context.Background())
	assert.Equal(t, int32(1), playback.stops.Load())
}

func TestBackgroundKeepsPaidPlayback(t *testing.T) {
	for _, tier := range []entitlement.Tier{entitlement.TierTimeLimited, entitlement.TierPerpetual} {
		playback := &fakePlayback{state: player.StatePlaying}
		b := newTestBridge(playback, &fakeAmbient{}, &fakeEntitlements{tier: tier})

		b.Background(context.Background())
		assert.Equal(t, int32(0), playback.stops.Load(), tier.String())
	}
}

func TestForegroundRefreshesOnceAndReconcilesWhilePlaying(t *testing.T) {
	playback := &fakePlayback{state: player.StatePlaying}
	ambient := &fakeAmbient{}
	ent := &fakeEntitlements{tier: entitlement.TierPerpetual}
	b := newTestBridge(playback, ambient, ent)

	b.Foreground(context.Background())
	assert.Equal(t, int32(1), ent.refreshes.Load())
	assert.Equal(t, int32(1), ambient.reconciles.Load())
}

func TestForegroundSkipsReconcileWhenNotPlaying(t *testing.T) {
	for _, state := range []player.State{player.StateIdle, player.StatePaused, player.StateLoading} {
		playback := &fakePlayback{state: state}
		ambient := &fakeAmbient{}
		b := newTestBridge(playback, ambient, &fakeEntitlements{})

		b.Foreground(context.Background())
		assert.Equal(t, int32(0), ambient.reconciles.Load(), state.String())
	}
}
