package engine

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"

	"github.com/rickseven/quranic-soul/sentry_helper"
)

// AmbientMixer plays looping effect files mixed under the main stream. Each
// effect carries its own pause control and volume; the mixer itself stays
// attached to the speaker for the process lifetime.
type AmbientMixer struct {
	mu      sync.Mutex
	master  *beep.Mixer
	effects map[string]*ambientEffect
	logger  *slog.Logger
	sentry  *sentry_helper.SentryHelper
}

type ambientEffect struct {
	stream beep.StreamSeekCloser
	ctrl   *beep.Ctrl
	vol    *effects.Volume
}

// NewAmbientMixer creates the mixer and attaches it to the speaker.
func NewAmbientMixer(logger *slog.Logger, sentry *sentry_helper.SentryHelper) (*AmbientMixer, error) {
	if err := initSpeaker(); err != nil {
		return nil, fmt.Errorf("failed to initialize speaker: %w", err)
	}

	m := &AmbientMixer{
		master:  &beep.Mixer{},
		effects: make(map[string]*ambientEffect),
		logger:  logger,
		sentry:  sentry,
	}
	speaker.Play(m.master)
	return m, nil
}

// StartEffect decodes the effect file and adds it to the mix, looping and
// paused. Starting an already started effect is a no-op.
func (m *AmbientMixer) StartEffect(id, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.effects[id]; exists {
		return nil
	}

	f, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("failed to open effect %s: %w", id, err)
	}

	stream, format, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to decode effect %s: %w", id, err)
	}

	var looped beep.Streamer = beep.Loop(-1, stream)
	if format.SampleRate != sampleRate {
		looped = beep.Resample(resampleQuality, format.SampleRate, sampleRate, looped)
	}

	ctrl := &beep.Ctrl{Streamer: looped, Paused: true}
	vol := &effects.Volume{Streamer: ctrl, Base: 2, Silent: true}

	m.effects[id] = &ambientEffect{stream: stream, ctrl: ctrl, vol: vol}

	speaker.Lock()
	m.master.Add(vol)
	speaker.Unlock()

	m.logger.Debug("Ambient effect started", "effect_id", id, "source", source)
	return nil
}

// PauseEffect pauses the effect. Unknown effects are ignored.
func (m *AmbientMixer) PauseEffect(id string) {
	m.setPaused(id, true)
}

// ResumeEffect resumes the effect. Unknown effects are ignored.
func (m *AmbientMixer) ResumeEffect(id string) {
	m.setPaused(id, false)
}

// SetEffectVolume applies a linear volume in [0,1]. Zero mutes the effect
// outright.
func (m *AmbientMixer) SetEffectVolume(id string, volume float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	eff, exists := m.effects[id]
	if !exists {
		return
	}

	speaker.Lock()
	if volume <= 0 {
		eff.vol.Silent = true
	} else {
		eff.vol.Silent = false
		eff.vol.Volume = math.Log2(volume)
	}
	speaker.Unlock()
}

// EffectActive reports whether the effect is attached, unpaused and its
// stream healthy.
func (m *AmbientMixer) EffectActive(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	eff, exists := m.effects[id]
	if !exists {
		return false
	}

	speaker.Lock()
	paused := eff.ctrl.Paused
	speaker.Unlock()

	return !paused && eff.stream.Err() == nil
}

// StopEffect removes the effect from the mix and releases its stream.
func (m *AmbientMixer) StopEffect(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked(id)
}

// Close removes all effects.
func (m *AmbientMixer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.effects {
		m.stopLocked(id)
	}
	return nil
}

func (m *AmbientMixer) setPaused(id string, paused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	eff, exists := m.effects[id]
	if !exists {
		return
	}

	speaker.Lock()
	eff.ctrl.Paused = paused
	speaker.Unlock()
}

func (m *AmbientMixer) stopLocked(id string) {
	eff, exists := m.effects[id]
	if !exists {
		return
	}

	speaker.Lock()
	eff.ctrl.Streamer = nil
	speaker.Unlock()

	if err := eff.stream.Close(); err != nil {
		m.logger.Debug("Failed to close effect stream", "effect_id", id, "error", err)
		m.sentry.CaptureMixerError(err, id)
	}
	delete(m.effects, id)
}
