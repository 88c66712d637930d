package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rickseven/quranic-soul/sentry_helper"
	"github.com/rickseven/quranic-soul/store"
)

// maxPayloadBytes caps the catalog response size.
const maxPayloadBytes = 4 << 20

// Client fetches the remote track catalog and falls back to the locally
// cached payload when the endpoint is unreachable.
type Client struct {
	endpoint string
	http     *http.Client
	store    *store.Store
	logger   *slog.Logger
	sentry   *sentry_helper.SentryHelper
}

// NewClient creates a catalog client.
func NewClient(endpoint string, timeout time.Duration, st *store.Store, logger *slog.Logger, sentry *sentry_helper.SentryHelper) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		store:    st,
		logger:   logger,
		sentry:   sentry,
	}
}

// Fetch returns the remote track list in source order. On success the raw
// payload is cached; on failure the last cached payload is decoded instead.
// Only when both the fetch and the cache fail is an error returned.
func (c *Client) Fetch(ctx context.Context) ([]Track, error) {
	payload, fetchErr := c.fetchRemote(ctx)
	if fetchErr == nil {
		if cacheErr := c.store.SetCatalogPayload(payload); cacheErr != nil {
			c.logger.Warn("Failed to cache catalog payload", "error", cacheErr)
			c.sentry.CaptureException(fmt.Errorf("cache catalog payload: %w", cacheErr))
		}
		return decodeTracks(payload)
	}

	c.logger.Warn("Catalog fetch failed, trying cached payload", "error", fetchErr)
	c.sentry.CaptureException(fmt.Errorf("catalog fetch: %w", fetchErr))

	cached, cacheErr := c.store.CatalogPayload()
	if cacheErr != nil || cached == nil {
		return nil, fmt.Errorf("catalog unavailable: %w", fetchErr)
	}

	tracks, decodeErr := decodeTracks(cached)
	if decodeErr != nil {
		return nil, fmt.Errorf("catalog unavailable and cache unreadable: %w", fetchErr)
	}

	c.logger.Info("Serving catalog from local cache", "tracks", len(tracks))
	return tracks, nil
}

func (c *Client) fetchRemote(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog endpoint returned status %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog response: %w", err)
	}
	return payload, nil
}

func decodeTracks(payload []byte) ([]Track, error) {
	var tracks []Track
	if err := json.Unmarshal(payload, &tracks); err != nil {
		return nil, fmt.Errorf("failed to parse catalog payload: %w", err)
	}
	return tracks, nil
}
