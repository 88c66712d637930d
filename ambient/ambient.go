// Package ambient synchronizes the looping effect mix with the playback
// state. An effect is audible iff its volume is above zero and the
// orchestrator is playing; volume bursts and rapid pause toggling are
// debounced, and a periodic reconciliation pass restarts effects the engine
// silently dropped.
package ambient

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickseven/quranic-soul/logger"
	"github.com/rickseven/quranic-soul/metrics"
	"github.com/rickseven/quranic-soul/sentry_helper"
)

// Mixer is the engine-side effect mix the controller drives.
type Mixer interface {
	StartEffect(id, source string) error
	PauseEffect(id string)
	ResumeEffect(id string)
	SetEffectVolume(id string, volume float64)
	EffectActive(id string) bool
	StopEffect(id string)
}

// Effect describes one available ambient soundscape.
type Effect struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Source string `json:"-"`
}

// EffectStatus is the externally visible state of one effect.
type EffectStatus struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Volume  float64 `json:"volume"`
	Audible bool    `json:"audible"`
}

type effectState struct {
	def      Effect
	volume   float64
	started  bool
	debounce *Debouncer
}

// Controller owns the intended state of every effect and the global pause
// flag, and converges the mixer toward it.
type Controller struct {
	mixer  Mixer
	logger *slog.Logger
	sentry *sentry_helper.SentryHelper

	mu      sync.Mutex
	effects map[string]*effectState
	order   []string
	paused  bool
	closed  bool

	pauseDebounce *Debouncer
	interval      time.Duration
	quit          chan struct{}
	done          chan struct{}
	once          sync.Once
}

// NewController creates the controller with all effects muted and the global
// pause flag set, and starts the reconciliation loop.
func NewController(mixer Mixer, effects []Effect, debounce, reconcileEvery time.Duration, log *slog.Logger, sentry *sentry_helper.SentryHelper) *Controller {
	c := &Controller{
		mixer:         mixer,
		logger:        log,
		sentry:        sentry,
		effects:       make(map[string]*effectState, len(effects)),
		paused:        true,
		pauseDebounce: NewDebouncer(debounce),
		interval:      reconcileEvery,
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
	}

	for _, def := range effects {
		c.effects[def.ID] = &effectState{
			def:      def,
			debounce: NewDebouncer(debounce),
		}
		c.order = append(c.order, def.ID)
	}

	go c.reconcileLoop()
	return c
}

// Close stops the reconciliation loop and silences every effect.
func (c *Controller) Close() {
	c.once.Do(func() {
		close(c.quit)
	})
	<-c.done

	c.mu.Lock()
	defer c.mu.Unlock()

	// A debounce callback already fired and waiting on c.mu must find the
	// controller closed, not restart effects after this silencing pass.
	c.closed = true
	c.pauseDebounce.Stop()
	for id, st := range c.effects {
		st.debounce.Stop()
		if st.started {
			c.mixer.StopEffect(id)
			st.started = false
		}
	}
}

// SetVolume records the intended volume in [0,1] and schedules a debounced
// apply, coalescing slider bursts into one engine call.
func (c *Controller) SetVolume(id string, volume float64) error {
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}

	c.mu.Lock()
	st, exists := c.effects[id]
	if !exists {
		c.mu.Unlock()
		return fmt.Errorf("unknown effect: %s", id)
	}
	st.volume = volume
	debounce := st.debounce
	c.mu.Unlock()

	debounce.Trigger(func() { c.apply(id) })
	return nil
}

// SetPlaying records the orchestrator's playing state and schedules a
// debounced resume or pause of all effects.
func (c *Controller) SetPlaying(playing bool) {
	c.mu.Lock()
	c.paused = !playing
	c.mu.Unlock()

	c.pauseDebounce.Trigger(c.applyAll)
}

// Reconcile compares intended and observed state and restarts effects that
// should be audible but are not. Counted per effect in metrics.
func (c *Controller) Reconcile() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	for _, id := range c.order {
		st := c.effects[id]
		if !c.audibleLocked(st) {
			continue
		}
		if c.mixer.EffectActive(id) {
			continue
		}

		logger.LogMixerEvent(c.logger, slog.LevelWarn, "Effect dropped by engine, restarting", id)
		metrics.AmbientRestartsTotal.WithLabelValues(id).Inc()

		c.mixer.StopEffect(id)
		st.started = false
		c.applyLocked(id, st)
	}
}

// Status returns the intended state of every effect in registration order.
func (c *Controller) Status() []EffectStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]EffectStatus, 0, len(c.order))
	for _, id := range c.order {
		st := c.effects[id]
		out = append(out, EffectStatus{
			ID:      id,
			Name:    st.def.Name,
			Volume:  st.volume,
			Audible: c.audibleLocked(st),
		})
	}
	return out
}

// Volume returns the intended volume of one effect.
func (c *Controller) Volume(id string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, exists := c.effects[id]
	if !exists {
		return 0, false
	}
	return st.volume, true
}

func (c *Controller) apply(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	st, exists := c.effects[id]
	if !exists {
		return
	}
	c.applyLocked(id, st)
}

func (c *Controller) applyAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	for _, id := range c.order {
		c.applyLocked(id, c.effects[id])
	}
}

// applyLocked converges one effect. Caller holds c.mu.
func (c *Controller) applyLocked(id string, st *effectState) {
	if !c.audibleLocked(st) {
		if st.started {
			c.mixer.PauseEffect(id)
		}
		// Volume zero also mutes, so a late resume cannot make it audible.
		if st.volume <= 0 && st.started {
			c.mixer.SetEffectVolume(id, 0)
		}
		return
	}

	if !st.started {
		if err := c.mixer.StartEffect(id, st.def.Source); err != nil {
			c.logger.Error("Failed to start effect", "effect_id", id, "error", err)
			c.sentry.CaptureMixerError(err, id)
			return
		}
		st.started = true
	}

	c.mixer.SetEffectVolume(id, st.volume)
	c.mixer.ResumeEffect(id)
}

func (c *Controller) audibleLocked(st *effectState) bool {
	return st.volume > 0 && !c.paused
}

func (c *Controller) reconcileLoop() {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Reconcile()
		case <-c.quit:
			return
		}
	}
}
