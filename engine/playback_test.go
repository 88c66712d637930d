package engine

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/faiface/beep/speaker"
	"github.com/stretchr/testify/require"

	"github.com/rickseven/quranic-soul/sentry_helper"
)

func newDetachedPlayback() *Playback {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &Playback{
		events: make(chan Event, eventBuffer),
		logger: log,
		sentry: sentry_helper.NewSentryHelper(false, log),
	}
}

// beep fires the drain callback inside the speaker's locked mix pass. A
// callback that waits on the speaker lock there deadlocks the speaker
// goroutine, so it must return immediately even while the lock is held.
func TestDrainCallbackReturnsWhileSpeakerLocked(t *testing.T) {
	p := newDetachedPlayback()
	p.gen = 1
	cb := p.completionCallback(1)

	speaker.Lock()
	returned := make(chan struct{})
	go func() {
		cb()
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		speaker.Unlock()
		t.Fatal("drain callback blocked with the speaker locked")
	}
	speaker.Unlock()

	select {
	case ev := <-p.events:
		require.Equal(t, EventCompleted, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no completion event after drain")
	}
}

func TestDrainCallbackOfReplacedAttachmentIsInert(t *testing.T) {
	p := newDetachedPlayback()
	p.gen = 2

	// Callback of a generation that was since replaced.
	p.completionCallback(1)()

	select {
	case ev := <-p.events:
		t.Fatalf("stale drain emitted event type %d", int(ev.Type))
	case <-time.After(50 * time.Millisecond):
	}
}
