package ads

import (
	"context"
	"fmt"
	"net/http"
)

// HTTPMediator delivers trigger signals to the ad mediation bridge.
type HTTPMediator struct {
	endpoint string
	client   *http.Client
}

// NewHTTPMediator creates a bridge client.
func NewHTTPMediator(endpoint string) *HTTPMediator {
	return &HTTPMediator{
		endpoint: endpoint,
		client:   &http.Client{},
	}
}

// TriggerInterstitial posts the trigger signal. The mediation service decides
// whether an interstitial is actually shown.
func (h *HTTPMediator) TriggerInterstitial(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("mediation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("mediation service returned status %d", resp.StatusCode)
	}
	return nil
}

// NoopMediator discards trigger signals. Used when no mediation bridge is
// configured.
type NoopMediator struct{}

// TriggerInterstitial does nothing.
func (NoopMediator) TriggerInterstitial(context.Context) error { return nil }
