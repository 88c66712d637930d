package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrPlatformUnavailable is returned when no purchase store bridge is
// configured.
var ErrPlatformUnavailable = errors.New("purchase store bridge not configured")

// HTTPPlatformStore queries the platform purchase bridge over HTTP.
type HTTPPlatformStore struct {
	endpoint string
	client   *http.Client
}

// NewHTTPPlatformStore creates a bridge client. The per-request deadline comes
// from the caller's context, so the client itself carries no timeout.
func NewHTTPPlatformStore(endpoint string) *HTTPPlatformStore {
	return &HTTPPlatformStore{
		endpoint: endpoint,
		client:   &http.Client{},
	}
}

type purchasesResponse struct {
	Purchases []struct {
		ProductID string `json:"product_id"`
		Perpetual bool   `json:"perpetual"`
	} `json:"purchases"`
}

// ActivePurchases fetches the user's active purchases from the bridge.
func (h *HTTPPlatformStore) ActivePurchases(ctx context.Context) ([]Purchase, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("purchase store request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("purchase store returned status %d", resp.StatusCode)
	}

	var body purchasesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode purchases: %w", err)
	}

	purchases := make([]Purchase, 0, len(body.Purchases))
	for _, p := range body.Purchases {
		purchases = append(purchases, Purchase{ProductID: p.ProductID, Perpetual: p.Perpetual})
	}
	return purchases, nil
}

// UnavailablePlatformStore always errors, so refreshes keep the cached tier.
// Used when no bridge endpoint is configured.
type UnavailablePlatformStore struct{}

// ActivePurchases always returns ErrPlatformUnavailable.
func (UnavailablePlatformStore) ActivePurchases(context.Context) ([]Purchase, error) {
	return nil, ErrPlatformUnavailable
}
