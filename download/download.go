// Package download transfers recitation files for offline playback. At most
// one transfer runs at a time; a transfer writes to a temp file and only a
// validated, fully transferred file is renamed into place and recorded as
// downloaded.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickseven/quranic-soul/catalog"
	"github.com/rickseven/quranic-soul/engine"
	"github.com/rickseven/quranic-soul/metrics"
	"github.com/rickseven/quranic-soul/sentry_helper"
	"github.com/rickseven/quranic-soul/store"
)

// ErrTransferInProgress is returned when a transfer is already active.
var ErrTransferInProgress = errors.New("another transfer is already in progress")

// ErrNoActiveTransfer is returned when cancelling without an active transfer.
var ErrNoActiveTransfer = errors.New("no active transfer for track")

// Manager downloads tracks one at a time.
type Manager struct {
	client       *http.Client
	dir          string
	mediaBaseURL string
	store        *store.Store
	catalog      *catalog.Service
	logger       *slog.Logger
	sentry       *sentry_helper.SentryHelper

	// validate confirms a finished transfer is a playable file before it is
	// renamed into place.
	validate func(path string) error

	mu     sync.Mutex
	active *transfer
}

type transfer struct {
	id       string
	trackID  int64
	progress atomic.Uint64 // float64 bits
	cancel   context.CancelFunc
	done     chan struct{}
}

func (t *transfer) setProgress(f float64) {
	t.progress.Store(math.Float64bits(f))
}

func (t *transfer) getProgress() float64 {
	return math.Float64frombits(t.progress.Load())
}

// NewManager creates a download manager.
func NewManager(dir, mediaBaseURL string, timeout time.Duration, st *store.Store, cat *catalog.Service, log *slog.Logger, sentry *sentry_helper.SentryHelper) *Manager {
	return &Manager{
		client:       &http.Client{Timeout: timeout},
		dir:          dir,
		mediaBaseURL: mediaBaseURL,
		store:        st,
		catalog:      cat,
		logger:       log,
		sentry:       sentry,
		validate:     engine.ValidatePlayable,
	}
}

// Start begins a transfer for the track. Returns ErrTransferInProgress when
// another transfer is active.
func (m *Manager) Start(track catalog.Track) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return "", ErrTransferInProgress
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &transfer{
		id:      uuid.NewString(),
		trackID: track.ID,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	m.active = t

	go m.run(ctx, t, track)

	m.logger.Info("Download started", "track_id", track.ID, "transfer_id", t.id)
	return t.id, nil
}

// Progress returns the transient progress fraction of the track's active
// transfer, or false when none is in flight.
func (m *Manager) Progress(trackID int64) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil || m.active.trackID != trackID {
		return 0, false
	}
	return m.active.getProgress(), true
}

// Cancel aborts the track's active transfer and waits for its cleanup.
func (m *Manager) Cancel(trackID int64) error {
	m.mu.Lock()
	if m.active == nil || m.active.trackID != trackID {
		m.mu.Unlock()
		return ErrNoActiveTransfer
	}
	t := m.active
	m.mu.Unlock()

	t.cancel()
	<-t.done
	return nil
}

// Remove deletes a downloaded file and clears the downloaded flag.
func (m *Manager) Remove(track catalog.Track) error {
	path := filepath.Join(m.dir, track.LocalFileName())
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove downloaded file: %w", err)
	}
	if err := m.store.SetDownloaded(track.ID, false); err != nil {
		return fmt.Errorf("failed to clear downloaded flag: %w", err)
	}
	m.catalog.MarkDownloaded(track.ID, false)
	return nil
}

// Close aborts the active transfer, if any, and waits for its cleanup.
func (m *Manager) Close() {
	m.mu.Lock()
	t := m.active
	m.mu.Unlock()

	if t != nil {
		t.cancel()
		<-t.done
	}
}

// Wait blocks until the current transfer, if any, has finished.
func (m *Manager) Wait() {
	m.mu.Lock()
	t := m.active
	m.mu.Unlock()

	if t != nil {
		<-t.done
	}
}

func (m *Manager) run(ctx context.Context, t *transfer, track catalog.Track) {
	defer func() {
		m.mu.Lock()
		m.active = nil
		m.mu.Unlock()
		close(t.done)
	}()

	err := m.fetch(ctx, t, track)
	if err == nil {
		metrics.DownloadsCompletedTotal.WithLabelValues("completed").Inc()
		m.logger.Info("Download completed", "track_id", track.ID)
		return
	}

	if errors.Is(err, context.Canceled) {
		metrics.DownloadsCompletedTotal.WithLabelValues("cancelled").Inc()
		m.logger.Info("Download cancelled", "track_id", track.ID)
		return
	}

	metrics.DownloadsCompletedTotal.WithLabelValues("failed").Inc()
	m.logger.Error("Download failed", "track_id", track.ID, "error", err)
	m.sentry.CaptureException(fmt.Errorf("download track %d: %w", track.ID, err))
}

// fetch transfers into a temp file and renames it into place only after the
// content is fully received and validated. Any failure removes the partial
// file, so a retry always starts from zero.
func (m *Manager) fetch(ctx context.Context, t *transfer, track catalog.Track) (err error) {
	remote, err := track.RemoteURL(m.mediaBaseURL)
	if err != nil {
		return err
	}

	partPath := filepath.Join(m.dir, track.LocalFileName()+".part")
	defer func() {
		if err != nil {
			if rmErr := os.Remove(partPath); rmErr != nil && !os.IsNotExist(rmErr) {
				m.logger.Warn("Failed to remove partial file", "path", partPath, "error", rmErr)
			}
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remote, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("audio endpoint returned status %d", resp.StatusCode)
	}

	f, err := os.Create(partPath)
	if err != nil {
		return fmt.Errorf("failed to create partial file: %w", err)
	}

	written, copyErr := io.Copy(f, &progressReader{
		r:     resp.Body,
		total: resp.ContentLength,
		t:     t,
	})
	closeErr := f.Close()

	if copyErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("transfer interrupted after %d bytes: %w", written, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close partial file: %w", closeErr)
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		return fmt.Errorf("incomplete transfer: %d of %d bytes", written, resp.ContentLength)
	}

	if err := m.validate(partPath); err != nil {
		return fmt.Errorf("transferred file failed validation: %w", err)
	}

	finalPath := filepath.Join(m.dir, track.LocalFileName())
	if err := os.Rename(partPath, finalPath); err != nil {
		return fmt.Errorf("failed to move file into place: %w", err)
	}

	if err := m.store.SetDownloaded(track.ID, true); err != nil {
		return fmt.Errorf("failed to persist downloaded flag: %w", err)
	}
	m.catalog.MarkDownloaded(track.ID, true)
	return nil
}

// progressReader updates the transfer fraction and byte metrics as the body
// is consumed.
type progressReader struct {
	r     io.Reader
	total int64
	read  int64
	t     *transfer
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.read += int64(n)
		metrics.DownloadBytesTotal.Add(float64(n))
		if p.total > 0 {
			p.t.setProgress(float64(p.read) / float64(p.total))
		}
	}
	return n, err
}
