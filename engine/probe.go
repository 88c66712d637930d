package engine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	gomp3 "github.com/hajimehoshi/go-mp3"
)

// bytesPerSample is the decoded frame size: 16-bit stereo.
const bytesPerSample = 4

// probeReadSize is how much decoded audio ValidatePlayable pulls before
// accepting a file.
const probeReadSize = 16 * 1024

// ProbeDuration decodes the file header and returns the track duration.
func ProbeDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	dec, err := gomp3.NewDecoder(f)
	if err != nil {
		return 0, fmt.Errorf("failed to decode file: %w", err)
	}

	samples := dec.Length() / bytesPerSample
	if samples <= 0 || dec.SampleRate() <= 0 {
		return 0, fmt.Errorf("file has no decodable audio")
	}

	return time.Duration(samples) * time.Second / time.Duration(dec.SampleRate()), nil
}

// ValidatePlayable confirms the file decodes as MP3 audio. Used by the
// download manager so a partial or corrupt transfer is never recorded as a
// playable file.
func ValidatePlayable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	dec, err := gomp3.NewDecoder(f)
	if err != nil {
		return fmt.Errorf("not a playable file: %w", err)
	}

	// A short read is fine for very short files; zero decodable bytes or a
	// decode error is not.
	buf := make([]byte, probeReadSize)
	n, err := io.ReadFull(dec, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("not a playable file: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("file has no decodable audio")
	}
	return nil
}
