// Package player owns the playback position and transport state. All mutable
// state lives on a single goroutine consuming a command queue, so transport
// operations are processed in submission order and a superseding load is an
// explicit cancel-and-replace instead of a race.
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickseven/quranic-soul/catalog"
	"github.com/rickseven/quranic-soul/engine"
	"github.com/rickseven/quranic-soul/logger"
	"github.com/rickseven/quranic-soul/metrics"
	"github.com/rickseven/quranic-soul/sentry_helper"
)

// State is the playback orchestrator state.
type State int

const (
	// StateIdle means no track is loaded.
	StateIdle State = iota
	// StateLoading means source resolution or engine attach is in flight.
	StateLoading
	// StatePlaying means the engine is streaming the current track.
	StatePlaying
	// StatePaused means a track is loaded and paused.
	StatePaused
	// StateCompleted is the terminal state at the end of the track list.
	StateCompleted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Engine is the audio engine the player drives.
type Engine interface {
	Load(ctx context.Context, location string) error
	Play() error
	Pause() error
	Resume() error
	Seek(pos time.Duration) error
	Position() time.Duration
	Stop() error
	Events() <-chan engine.Event
}

// Resolver picks the playable source for a track.
type Resolver interface {
	Resolve(ctx context.Context, t catalog.Track) (location string, local bool, err error)
}

// previousRestartWindow: beyond this much elapsed time, Previous restarts the
// current track instead of moving the index.
const previousRestartWindow = 3 * time.Second

const commandBuffer = 32

// ErrEmptyQueue is returned when loading an empty track list.
var ErrEmptyQueue = errors.New("track list is empty")

// ErrIndexOutOfRange is returned for an index outside the current list.
var ErrIndexOutOfRange = errors.New("track index out of range")

// Status is a read-only snapshot of the orchestrator.
type Status struct {
	State       State
	Track       *catalog.Track
	Index       int
	Position    time.Duration
	HasNext     bool
	HasPrevious bool
	QueueLength int
}

// Player is the playback orchestrator.
type Player struct {
	engine     Engine
	resolver   Resolver
	retryDelay time.Duration
	logger     *slog.Logger
	sentry     *sentry_helper.SentryHelper

	cmds chan func()
	quit chan struct{}
	done chan struct{}
	once sync.Once

	// Owned by the run goroutine.
	queue      []catalog.Track
	index      int
	current    *catalog.Track
	state      State
	gen        int
	retried    bool
	loadCancel context.CancelFunc
	retryTimer *time.Timer

	loaded atomic.Bool

	statusMu sync.RWMutex
	status   Status

	obsMu          sync.RWMutex
	stateObservers []func(Status)
	trackObservers []func(catalog.Track)
	errorObservers []func(error)
}

// New creates the orchestrator and starts its command loop.
func New(eng Engine, resolver Resolver, retryDelay time.Duration, log *slog.Logger, sentry *sentry_helper.SentryHelper) *Player {
	p := &Player{
		engine:     eng,
		resolver:   resolver,
		retryDelay: retryDelay,
		logger:     log,
		sentry:     sentry,
		cmds:       make(chan func(), commandBuffer),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		state:      StateIdle,
	}
	go p.run()
	return p
}

// Close stops the command loop. The engine itself is closed by its owner.
func (p *Player) Close() {
	p.once.Do(func() {
		close(p.quit)
	})
	<-p.done
}

// OnStateChange registers a state observer. Observers run on the command
// loop and must not block or call back into the player synchronously.
func (p *Player) OnStateChange(fn func(Status)) {
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	p.stateObservers = append(p.stateObservers, fn)
}

// OnTrackStart registers a track-start observer.
func (p *Player) OnTrackStart(fn func(catalog.Track)) {
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	p.trackObservers = append(p.trackObservers, fn)
}

// OnError registers an observer for surfaced playback failures.
func (p *Player) OnError(fn func(error)) {
	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	p.errorObservers = append(p.errorObservers, fn)
}

// Status returns the current snapshot, with a live playback position when a
// track is loaded.
func (p *Player) Status() Status {
	p.statusMu.RLock()
	st := p.status
	p.statusMu.RUnlock()

	if p.loaded.Load() {
		st.Position = p.engine.Position()
	}
	return st
}

// LoadQueue replaces the track list and starts playback at the given index.
func (p *Player) LoadQueue(tracks []catalog.Track, index int) error {
	if len(tracks) == 0 {
		return ErrEmptyQueue
	}
	if index < 0 || index >= len(tracks) {
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(tracks))
	}

	queue := make([]catalog.Track, len(tracks))
	copy(queue, tracks)

	p.post(func() {
		p.queue = queue
		p.loadAndPlay(index, false)
	})
	return nil
}

// PlayIndex starts playback of the given index within the current list.
func (p *Player) PlayIndex(index int) error {
	st := p.Status()
	if index < 0 || index >= st.QueueLength {
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, st.QueueLength)
	}
	p.post(func() { p.loadAndPlay(index, false) })
	return nil
}

// Pause pauses active playback. A no-op in any other state.
func (p *Player) Pause() {
	p.post(p.pause)
}

// Resume resumes paused playback, reloading the track when the engine no
// longer holds a source (after list completion).
func (p *Player) Resume() {
	p.post(p.resume)
}

// Next moves to the next track, clamped at the end of the list.
func (p *Player) Next() {
	p.post(p.next)
}

// Previous restarts the current track when more than a few seconds have
// elapsed, otherwise moves back one index, clamped at the start.
func (p *Player) Previous() {
	p.post(p.previous)
}

// Seek moves within the current track.
func (p *Player) Seek(pos time.Duration) {
	p.post(func() { p.seek(pos) })
}

// Stop force-stops playback and unloads the current track. The queue is
// kept.
func (p *Player) Stop() {
	p.post(p.stopPlayback)
}

func (p *Player) post(fn func()) {
	select {
	case p.cmds <- fn:
	case <-p.quit:
	}
}

func (p *Player) run() {
	defer close(p.done)

	events := p.engine.Events()
	for {
		select {
		case fn := <-p.cmds:
			fn()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			p.handleEngineEvent(ev)
		case <-p.quit:
			if p.loadCancel != nil {
				p.loadCancel()
			}
			if p.retryTimer != nil {
				p.retryTimer.Stop()
			}
			return
		}
	}
}

// loadAndPlay replaces the current track. Any in-flight load is cancelled
// first; its late result is discarded by the generation check.
func (p *Player) loadAndPlay(index int, isRetry bool) {
	if index < 0 || index >= len(p.queue) {
		return
	}

	if p.loadCancel != nil {
		p.loadCancel()
		p.loadCancel = nil
	}
	if p.retryTimer != nil {
		p.retryTimer.Stop()
		p.retryTimer = nil
	}
	p.gen++
	gen := p.gen
	if !isRetry {
		p.retried = false
	}

	track := p.queue[index]
	p.index = index
	p.current = &track
	p.loaded.Store(false)
	p.setState(StateLoading)

	ctx, cancel := context.WithCancel(context.Background())
	p.loadCancel = cancel

	go func() {
		location, local, err := p.resolver.Resolve(ctx, track)
		if err == nil {
			err = p.engine.Load(ctx, location)
		}
		p.post(func() { p.finishLoad(gen, track, local, err) })
	}()
}

func (p *Player) finishLoad(gen int, track catalog.Track, local bool, err error) {
	if gen != p.gen {
		// Superseded: a newer load owns the engine now.
		return
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		p.failPlayback(track, fmt.Errorf("failed to start %q: %w", track.Name, err))
		return
	}

	if playErr := p.engine.Play(); playErr != nil {
		p.failPlayback(track, fmt.Errorf("failed to start %q: %w", track.Name, playErr))
		return
	}

	p.loaded.Store(true)
	p.setState(StatePlaying)

	metrics.TracksStartedTotal.WithLabelValues(track.Narrator).Inc()
	logger.LogPlaybackEvent(p.logger, slog.LevelInfo, "Track started", track.ID, p.state.String(),
		slog.String("name", track.Name), slog.Bool("local_source", local))

	p.obsMu.RLock()
	observers := p.trackObservers
	p.obsMu.RUnlock()
	for _, fn := range observers {
		fn(track)
	}
}

// failPlayback stops the engine before surfacing, so a failed load never
// leaves a half-initialized source attached.
func (p *Player) failPlayback(track catalog.Track, err error) {
	if stopErr := p.engine.Stop(); stopErr != nil {
		p.logger.Warn("Engine stop after failure also failed", "error", stopErr)
	}
	p.loaded.Store(false)
	p.current = nil
	p.setState(StateIdle)

	metrics.PlaybackErrorsTotal.Inc()
	p.sentry.CapturePlaybackError(err, track.ID, StateIdle.String())
	logger.LogPlaybackEvent(p.logger, slog.LevelError, "Playback failed", track.ID, p.state.String(),
		slog.String("error", err.Error()))

	p.obsMu.RLock()
	observers := p.errorObservers
	p.obsMu.RUnlock()
	for _, fn := range observers {
		fn(err)
	}
}

func (p *Player) pause() {
	if p.state != StatePlaying {
		return
	}
	if err := p.engine.Pause(); err != nil {
		p.logger.Warn("Failed to pause engine", "error", err)
		return
	}
	p.setState(StatePaused)
}

func (p *Player) resume() {
	if p.state != StatePaused {
		return
	}
	if !p.loaded.Load() {
		// After list completion the engine holds no source; reload.
		p.loadAndPlay(p.index, false)
		return
	}
	if err := p.engine.Resume(); err != nil {
		p.logger.Warn("Failed to resume engine", "error", err)
		return
	}
	p.setState(StatePlaying)
}

func (p *Player) next() {
	if p.index+1 >= len(p.queue) {
		// Clamped at the last track.
		return
	}
	p.loadAndPlay(p.index+1, false)
}

func (p *Player) previous() {
	if len(p.queue) == 0 {
		return
	}

	elapsed := time.Duration(0)
	if p.loaded.Load() {
		elapsed = p.engine.Position()
	}

	if elapsed > previousRestartWindow || p.index == 0 {
		p.restartCurrent()
		return
	}
	p.loadAndPlay(p.index-1, false)
}

func (p *Player) restartCurrent() {
	if p.loaded.Load() {
		if err := p.engine.Seek(0); err == nil {
			return
		}
		// Non-seekable remote source: reload from the start instead.
	}
	p.loadAndPlay(p.index, false)
}

func (p *Player) seek(pos time.Duration) {
	if !p.loaded.Load() {
		return
	}
	if err := p.engine.Seek(pos); err != nil {
		p.logger.Warn("Failed to seek", "error", err)
	}
}

func (p *Player) stopPlayback() {
	if p.loadCancel != nil {
		p.loadCancel()
		p.loadCancel = nil
	}
	if p.retryTimer != nil {
		p.retryTimer.Stop()
		p.retryTimer = nil
	}
	p.gen++
	if err := p.engine.Stop(); err != nil {
		p.logger.Warn("Failed to stop engine", "error", err)
	}
	p.loaded.Store(false)
	p.current = nil
	p.setState(StateIdle)
}

func (p *Player) handleEngineEvent(ev engine.Event) {
	switch ev.Type {
	case engine.EventCompleted:
		p.completeTrack()
	case engine.EventError:
		p.engineError(ev)
	}
}

func (p *Player) completeTrack() {
	if p.state != StatePlaying {
		return
	}

	if p.current != nil {
		metrics.PlaybackSecondsTotal.Add(p.current.Duration)
	}

	if p.index+1 < len(p.queue) {
		p.loadAndPlay(p.index+1, false)
		return
	}

	// End of list: reset to the beginning and pause.
	if err := p.engine.Stop(); err != nil {
		p.logger.Warn("Failed to stop engine at list end", "error", err)
	}
	p.loaded.Store(false)
	p.index = 0
	track := p.queue[0]
	p.current = &track
	p.setState(StateCompleted)
	p.setState(StatePaused)
}

func (p *Player) engineError(ev engine.Event) {
	if p.state != StatePlaying && p.state != StatePaused {
		return
	}

	track := p.current
	if track == nil {
		return
	}

	// The retry restarts playback, so it applies to active playback only;
	// an error while paused surfaces instead of silently un-pausing.
	if ev.Transient && !p.retried && p.state == StatePlaying {
		p.retried = true
		index := p.index
		gen := p.gen
		p.loaded.Store(false)
		p.setState(StateLoading)

		metrics.PlaybackRetriesTotal.Inc()
		logger.LogPlaybackEvent(p.logger, slog.LevelWarn, "Transient engine error, retrying once",
			track.ID, p.state.String(), slog.String("error", ev.Err.Error()))
		p.sentry.CapturePlaybackError(ev.Err, track.ID, StateLoading.String())

		p.retryTimer = time.AfterFunc(p.retryDelay, func() {
			p.post(func() {
				if p.gen != gen {
					// A newer load or stop superseded the retry.
					return
				}
				p.loadAndPlay(index, true)
			})
		})
		return
	}

	p.failPlayback(*track, fmt.Errorf("engine error on %q: %w", track.Name, ev.Err))
}

func (p *Player) setState(state State) {
	p.state = state
	metrics.PlaybackState.Set(float64(state))

	st := Status{
		State:       state,
		Track:       p.current,
		Index:       p.index,
		HasNext:     p.index+1 < len(p.queue),
		HasPrevious: p.index > 0,
		QueueLength: len(p.queue),
	}

	p.statusMu.Lock()
	p.status = st
	p.statusMu.Unlock()

	p.obsMu.RLock()
	observers := p.stateObservers
	p.obsMu.RUnlock()
	for _, fn := range observers {
		fn(st)
	}
}
