// Package store persists the small amount of local state the player keeps:
// the favorite and downloaded track ID sets, the cached entitlement tier, the
// theme preference and the last fetched catalog payload.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dgraph-io/badger/v4"
)

const (
	favoritePrefix = "favorite:"
	downloadPrefix = "download:"

	entitlementKey = "settings:entitlement"
	themeKey       = "settings:theme"
	catalogKey     = "catalog:payload"
)

// Store wraps a Badger database instance.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at the given path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil      // Disable Badger's internal logging.
	opts.SyncWrites = true // Flag state must survive a crash.

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	if logger != nil {
		logger.Info("Local database opened", "path", path)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.logger != nil {
		s.logger.Info("Closing local database")
	}
	return s.db.Close()
}

// SetFavorite adds or removes a track ID from the favorite set.
func (s *Store) SetFavorite(trackID int64, favorite bool) error {
	return s.setMembership(favoritePrefix, trackID, favorite)
}

// FavoriteIDs returns the persisted favorite track ID set.
func (s *Store) FavoriteIDs() (map[int64]bool, error) {
	return s.memberIDs(favoritePrefix)
}

// SetDownloaded adds or removes a track ID from the downloaded set.
func (s *Store) SetDownloaded(trackID int64, downloaded bool) error {
	return s.setMembership(downloadPrefix, trackID, downloaded)
}

// DownloadedIDs returns the persisted downloaded track ID set.
func (s *Store) DownloadedIDs() (map[int64]bool, error) {
	return s.memberIDs(downloadPrefix)
}

// EntitlementTier returns the cached tier, or "" when none is recorded.
func (s *Store) EntitlementTier() (string, error) {
	v, err := s.get(entitlementKey)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// SetEntitlementTier persists the entitlement tier.
func (s *Store) SetEntitlementTier(tier string) error {
	return s.set(entitlementKey, []byte(tier))
}

// Theme returns the persisted theme preference, or "" when unset.
func (s *Store) Theme() (string, error) {
	v, err := s.get(themeKey)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// SetTheme persists the theme preference.
func (s *Store) SetTheme(theme string) error {
	return s.set(themeKey, []byte(theme))
}

// CatalogPayload returns the cached catalog payload, or nil when none exists.
func (s *Store) CatalogPayload() ([]byte, error) {
	return s.get(catalogKey)
}

// SetCatalogPayload caches the raw catalog payload.
func (s *Store) SetCatalogPayload(payload []byte) error {
	return s.set(catalogKey, payload)
}

func (s *Store) setMembership(prefix string, trackID int64, member bool) error {
	key := []byte(prefix + strconv.FormatInt(trackID, 10))
	return s.db.Update(func(txn *badger.Txn) error {
		if member {
			return txn.Set(key, nil)
		}
		err := txn.Delete(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

func (s *Store) memberIDs(prefix string) (map[int64]bool, error) {
	ids := make(map[int64]bool)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			raw := string(it.Item().Key())[len(prefix):]
			id, parseErr := strconv.ParseInt(raw, 10, 64)
			if parseErr != nil {
				// Skip malformed keys instead of failing the whole read.
				continue
			}
			ids[id] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) get(key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Store) set(key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}
