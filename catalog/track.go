package catalog

import (
	"fmt"
	"net/url"
	"strings"
)

// Track is a single playable recitation. Tracks are immutable values: flag
// changes produce a replaced copy instead of mutating in place.
type Track struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Narrator    string  `json:"narrator"`
	Duration    float64 `json:"duration"` // seconds
	AudioPath   string  `json:"audio_path"`
	Recommended bool    `json:"recommended"`

	// Local flags, merged from the store after fetch. Not part of the
	// remote record.
	Favorite   bool `json:"favorite"`
	Downloaded bool `json:"downloaded"`
}

// WithFavorite returns a copy with the favorite flag set.
func (t Track) WithFavorite(favorite bool) Track {
	t.Favorite = favorite
	return t
}

// WithDownloaded returns a copy with the downloaded flag set.
func (t Track) WithDownloaded(downloaded bool) Track {
	t.Downloaded = downloaded
	return t
}

// LocalFileName is the file name a downloaded copy of the track uses.
func (t Track) LocalFileName() string {
	return fmt.Sprintf("%d.mp3", t.ID)
}

// RemoteURL joins the track's relative audio path onto the media base URL.
func (t Track) RemoteURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid media base URL: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(t.AudioPath, "/")
	return u.String(), nil
}
