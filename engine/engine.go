// Package engine binds the service to the audio stack: a playback engine for
// the main recitation stream and an ambient mixer for looping effects, both
// built on beep's speaker with go-mp3 decoding. The package owns no playback
// policy; the player and ambient controller drive it.
package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
)

// EventType classifies engine events.
type EventType int

const (
	// EventCompleted reports natural end of the loaded track.
	EventCompleted EventType = iota
	// EventError reports a failure while streaming the loaded track.
	EventError
)

// Event is delivered on the playback engine's event channel.
type Event struct {
	Type EventType
	Err  error
	// Transient marks errors worth a retry (stalled or broken stream, as
	// opposed to an unresolvable source).
	Transient bool
}

// ErrNotSeekable is returned when seeking a non-seekable (remote) source.
var ErrNotSeekable = errors.New("source is not seekable")

// ErrNoSource is returned by transport calls before a successful Load.
var ErrNoSource = errors.New("no source loaded")

const (
	// sampleRate is the output rate; sources at other rates are resampled.
	sampleRate = beep.SampleRate(44100)

	speakerBuffer   = 100 * time.Millisecond
	resampleQuality = 4
)

var speakerOnce sync.Once

// initSpeaker initializes the shared speaker exactly once. The playback
// engine and the ambient mixer feed the same device.
func initSpeaker() error {
	var err error
	speakerOnce.Do(func() {
		err = speaker.Init(sampleRate, sampleRate.N(speakerBuffer))
	})
	return err
}
