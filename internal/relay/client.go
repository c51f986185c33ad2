package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"recording-ingress-service/internal/models"
	"recording-ingress-service/internal/observability/metrics"
)

// Pusher is the dispatcher-side client for the relay's push endpoint.
// Pushes are fire-and-forget from the caller's perspective; an
// unreachable relay is an error to log, never to act on.
type Pusher struct {
	url     string
	httpc   *http.Client
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewPusher creates a pusher targeting the relay's /send endpoint.
func NewPusher(url string, logger zerolog.Logger) *Pusher {
	return &Pusher{
		url:     url,
		httpc:   &http.Client{Timeout: 5 * time.Second},
		metrics: metrics.DefaultMetrics,
		log:     logger.With().Str("component", "relay-pusher").Logger(),
	}
}

type pushRequest struct {
	ExternalID string              `json:"externalId"`
	Message    models.RelayMessage `json:"message"`
}

// Push posts a relay message keyed by the session's external id.
func (p *Pusher) Push(ctx context.Context, externalID string, msg models.RelayMessage) error {
	payload, err := json.Marshal(pushRequest{ExternalID: externalID, Message: msg})
	if err != nil {
		p.metrics.RecordRelayPush(err)
		return fmt.Errorf("marshal push: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		p.metrics.RecordRelayPush(err)
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpc.Do(req)
	if err != nil {
		p.metrics.RecordRelayPush(err)
		return fmt.Errorf("push to relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("push to relay: %s", resp.Status)
		p.metrics.RecordRelayPush(err)
		return err
	}

	p.metrics.RecordRelayPush(nil)
	return nil
}
