package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"

	"github.com/rickseven/quranic-soul/sentry_helper"
)

const eventBuffer = 16

// Playback streams one track at a time through the speaker. Load replaces
// whatever was attached before; the generation counter makes completion
// callbacks of a replaced track inert.
type Playback struct {
	mu sync.Mutex

	stream   beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	seekable bool
	gen      int

	events chan Event
	http   *http.Client
	logger *slog.Logger
	sentry *sentry_helper.SentryHelper
}

// NewPlayback creates the playback engine and initializes the speaker.
func NewPlayback(logger *slog.Logger, sentry *sentry_helper.SentryHelper) (*Playback, error) {
	if err := initSpeaker(); err != nil {
		return nil, fmt.Errorf("failed to initialize speaker: %w", err)
	}

	return &Playback{
		events: make(chan Event, eventBuffer),
		http:   &http.Client{},
		logger: logger,
		sentry: sentry,
	}, nil
}

// Events returns the channel delivering completion and error events.
func (p *Playback) Events() <-chan Event {
	return p.events
}

// Load opens and decodes the source and attaches it to the speaker, paused.
// A cancelled context aborts the load; the engine then still holds whatever
// source a competing Load attached.
func (p *Playback) Load(ctx context.Context, location string) error {
	rc, seekable, err := p.openSource(ctx, location)
	if err != nil {
		return err
	}

	stream, format, err := mp3.Decode(rc)
	if err != nil {
		rc.Close()
		return fmt.Errorf("failed to decode source: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Superseded while decoding: do not touch the newer attachment.
	if err := ctx.Err(); err != nil {
		stream.Close()
		return err
	}

	p.detachLocked()
	p.gen++
	gen := p.gen

	var streamer beep.Streamer = stream
	if format.SampleRate != sampleRate {
		streamer = beep.Resample(resampleQuality, format.SampleRate, sampleRate, stream)
	}

	ctrl := &beep.Ctrl{Streamer: streamer, Paused: true}

	p.stream = stream
	p.format = format
	p.ctrl = ctrl
	p.seekable = seekable

	speaker.Play(beep.Seq(ctrl, beep.Callback(p.completionCallback(gen))))

	p.logger.Debug("Source attached", "location", location, "seekable", seekable)
	return nil
}

// Play unpauses the attached source.
func (p *Playback) Play() error {
	return p.setPaused(false)
}

// Pause pauses the attached source.
func (p *Playback) Pause() error {
	return p.setPaused(true)
}

// Resume unpauses the attached source.
func (p *Playback) Resume() error {
	return p.setPaused(false)
}

// Seek moves the attached source to the given position.
func (p *Playback) Seek(pos time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return ErrNoSource
	}
	if !p.seekable {
		return ErrNotSeekable
	}

	speaker.Lock()
	err := p.stream.Seek(p.format.SampleRate.N(pos))
	speaker.Unlock()
	if err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	return nil
}

// Position returns the elapsed time of the attached source.
func (p *Playback) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return 0
	}

	speaker.Lock()
	pos := p.stream.Position()
	speaker.Unlock()
	return p.format.SampleRate.D(pos)
}

// Stop detaches the current source. Safe to call with nothing attached.
func (p *Playback) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.detachLocked()
	p.gen++
	return nil
}

// Close stops playback and releases the event channel.
func (p *Playback) Close() error {
	if err := p.Stop(); err != nil {
		return err
	}
	close(p.events)
	return nil
}

func (p *Playback) setPaused(paused bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctrl == nil {
		return ErrNoSource
	}

	speaker.Lock()
	p.ctrl.Paused = paused
	speaker.Unlock()
	return nil
}

// detachLocked silences and closes the attached source. Caller holds p.mu.
func (p *Playback) detachLocked() {
	if p.ctrl != nil {
		speaker.Lock()
		p.ctrl.Streamer = nil
		speaker.Unlock()
		p.ctrl = nil
	}
	if p.stream != nil {
		if err := p.stream.Close(); err != nil {
			p.logger.Debug("Failed to close source stream", "error", err)
		}
		p.stream = nil
	}
	p.seekable = false
}

// completionCallback builds the drain callback for one attachment. beep fires
// it on the speaker goroutine inside a locked mix pass, so it must return
// without taking the speaker lock or p.mu; finished runs on its own goroutine.
func (p *Playback) completionCallback(gen int) func() {
	return func() {
		go p.finished(gen)
	}
}

// finished handles a drained attachment, off the speaker goroutine. A drain
// caused by a stream error is reported as a transient error, a clean drain as
// completion.
func (p *Playback) finished(gen int) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}

	var streamErr error
	if p.stream != nil {
		streamErr = p.stream.Err()
	}
	p.detachLocked()
	p.gen++
	p.mu.Unlock()

	if streamErr != nil {
		p.sentry.CaptureException(fmt.Errorf("stream error: %w", streamErr))
		p.emit(Event{Type: EventError, Err: streamErr, Transient: true})
		return
	}
	p.emit(Event{Type: EventCompleted})
}

func (p *Playback) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("Engine event dropped, channel full", "type", int(ev.Type))
	}
}

// openSource opens a local file or a remote URL. Remote bodies are streamed
// and therefore not seekable.
func (p *Playback) openSource(ctx context.Context, location string) (io.ReadCloser, bool, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return nil, false, fmt.Errorf("failed to create source request: %w", err)
		}
		resp, err := p.http.Do(req)
		if err != nil {
			return nil, false, fmt.Errorf("failed to open remote source: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, false, fmt.Errorf("remote source returned status %d", resp.StatusCode)
		}
		return resp.Body, false, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	f, err := os.Open(location)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open local source: %w", err)
	}
	return f, true, nil
}
