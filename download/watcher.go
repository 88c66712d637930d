package download

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/rickseven/quranic-soul/catalog"
	"github.com/rickseven/quranic-soul/sentry_helper"
	"github.com/rickseven/quranic-soul/store"
)

// Watcher keeps the downloaded flags honest when files disappear from the
// download directory outside the manager (user cleanup, platform eviction).
type Watcher struct {
	watcher *fsnotify.Watcher
	store   *store.Store
	catalog *catalog.Service
	logger  *slog.Logger
	sentry  *sentry_helper.SentryHelper
	done    chan struct{}
}

// NewWatcher starts watching the download directory.
func NewWatcher(dir string, st *store.Store, cat *catalog.Service, log *slog.Logger, sentry *sentry_helper.SentryHelper) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w := &Watcher{
		watcher: fw,
		store:   st,
		catalog: cat,
		logger:  log,
		sentry:  sentry,
		done:    make(chan struct{}),
	}
	go w.watch()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) watch() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			trackID, ok := trackIDFromFileName(filepath.Base(event.Name))
			if !ok {
				continue
			}

			w.logger.Info("Downloaded file removed externally, clearing flag",
				"track_id", trackID, "path", event.Name)
			if err := w.store.SetDownloaded(trackID, false); err != nil {
				w.logger.Error("Failed to clear downloaded flag", "track_id", trackID, "error", err)
				w.sentry.CaptureException(fmt.Errorf("clear downloaded flag for %d: %w", trackID, err))
				continue
			}
			w.catalog.MarkDownloaded(trackID, false)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)
			w.sentry.CaptureException(fmt.Errorf("download watcher: %w", err))
		}
	}
}

// trackIDFromFileName parses "<id>.mp3"; partial files and foreign names are
// ignored.
func trackIDFromFileName(name string) (int64, bool) {
	if !strings.HasSuffix(name, ".mp3") {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSuffix(name, ".mp3"), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
