// Package catalog manages the ordered track list: remote fetch with local
// cache fallback, merge with the persisted favorite and downloaded ID sets,
// and the views the player exposes.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickseven/quranic-soul/store"
)

// Service holds the current merged track snapshot.
type Service struct {
	client *Client
	store  *store.Store
	logger *slog.Logger

	mutex  sync.RWMutex
	tracks []Track
}

// NewService creates a catalog service. The snapshot is empty until the first
// Refresh.
func NewService(client *Client, st *store.Store, logger *slog.Logger) *Service {
	return &Service{
		client: client,
		store:  st,
		logger: logger,
	}
}

// Refresh fetches the catalog (or its cached fallback) and merges the locally
// persisted flags into a new snapshot.
func (s *Service) Refresh(ctx context.Context) error {
	tracks, err := s.client.Fetch(ctx)
	if err != nil {
		return err
	}

	favorites, err := s.store.FavoriteIDs()
	if err != nil {
		return fmt.Errorf("failed to read favorite set: %w", err)
	}
	downloaded, err := s.store.DownloadedIDs()
	if err != nil {
		return fmt.Errorf("failed to read downloaded set: %w", err)
	}

	merged := make([]Track, len(tracks))
	for i, t := range tracks {
		merged[i] = t.WithFavorite(favorites[t.ID]).WithDownloaded(downloaded[t.ID])
	}

	s.mutex.Lock()
	s.tracks = merged
	s.mutex.Unlock()

	s.logger.Info("Catalog refreshed", "tracks", len(merged))
	return nil
}

// All returns the full track list in source order.
func (s *Service) All() []Track {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	tracks := make([]Track, len(s.tracks))
	copy(tracks, s.tracks)
	return tracks
}

// Recommended returns the tracks carrying the recommended flag, preserving
// source order. An empty result is valid.
func (s *Service) Recommended() []Track {
	return s.filter(func(t Track) bool { return t.Recommended })
}

// Favorites returns the tracks the user marked as favorite.
func (s *Service) Favorites() []Track {
	return s.filter(func(t Track) bool { return t.Favorite })
}

// Get returns the track with the given ID.
func (s *Service) Get(trackID int64) (Track, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, t := range s.tracks {
		if t.ID == trackID {
			return t, true
		}
	}
	return Track{}, false
}

// SetFavorite persists the flag and replaces the track in the snapshot.
func (s *Service) SetFavorite(trackID int64, favorite bool) error {
	if err := s.store.SetFavorite(trackID, favorite); err != nil {
		return fmt.Errorf("failed to persist favorite flag: %w", err)
	}
	s.replace(trackID, func(t Track) Track { return t.WithFavorite(favorite) })
	return nil
}

// MarkDownloaded updates the snapshot after the download manager has already
// persisted the flag.
func (s *Service) MarkDownloaded(trackID int64, downloaded bool) {
	s.replace(trackID, func(t Track) Track { return t.WithDownloaded(downloaded) })
}

func (s *Service) filter(keep func(Track) bool) []Track {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var out []Track
	for _, t := range s.tracks {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

func (s *Service) replace(trackID int64, apply func(Track) Track) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i, t := range s.tracks {
		if t.ID == trackID {
			s.tracks[i] = apply(t)
			return
		}
	}
}
