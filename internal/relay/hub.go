// Package relay fans live transcript messages out to subscriber
// connections keyed by the session's external id. Delivery is
// best-effort: a connection that cannot be written to right now is
// skipped, never queued.
package relay

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"recording-ingress-service/internal/observability/metrics"
)

// Subscriber is the send side of a live connection.
type Subscriber interface {
	Send(data []byte) error
}

// Hub is the concurrent-safe registry of live subscriber connections.
// Connections are mutated from two directions (connection lifecycle and
// event-driven publish); all access goes through the hub's lock.
type Hub struct {
	mu      sync.RWMutex
	subs    map[Subscriber]string // connection -> external id ("" = untagged)
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		subs:    make(map[Subscriber]string),
		metrics: metrics.DefaultMetrics,
		log:     logger.With().Str("component", "relay").Logger(),
	}
}

// Subscribe registers a connection under the given external id. An empty
// id registers an untagged connection that receives nothing.
func (h *Hub) Subscribe(s Subscriber, externalID string) {
	h.mu.Lock()
	h.subs[s] = externalID
	h.mu.Unlock()
	h.metrics.RecordRelayConnect()
}

// Unsubscribe removes a connection. Idempotent.
func (h *Hub) Unsubscribe(s Subscriber) {
	h.mu.Lock()
	_, present := h.subs[s]
	delete(h.subs, s)
	h.mu.Unlock()
	if present {
		h.metrics.RecordRelayDisconnect()
	}
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish delivers the message to every connection tagged with the given
// external id. Connections with a different or empty tag are skipped, as
// are connections whose send fails. Returns the number of deliveries.
func (h *Hub) Publish(externalID string, message any) int {
	if externalID == "" {
		return 0
	}

	data, err := json.Marshal(message)
	if err != nil {
		h.log.Error().Err(err).Str("externalId", externalID).Msg("Failed to marshal relay message")
		return 0
	}

	h.mu.RLock()
	targets := make([]Subscriber, 0, len(h.subs))
	for s, id := range h.subs {
		if id == externalID {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	delivered, skipped := 0, 0
	for _, s := range targets {
		if err := s.Send(data); err != nil {
			skipped++
			h.log.Debug().Err(err).Str("externalId", externalID).Msg("Subscriber send failed, skipping")
			continue
		}
		delivered++
	}

	h.metrics.RecordRelayPublish(delivered, skipped)
	return delivered
}
