// Package notify delivers marketplace events to off-chain indexers. Delivery
// is fire-and-forget: sink failures are logged, never surfaced to the
// operation that produced the event.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Event types emitted by the marketplace
const (
	EventListingCreated       = "listing.created"
	EventListingSold          = "listing.sold"
	EventListingCancelled     = "listing.cancelled"
	EventOfferCreated         = "offer.created"
	EventOfferAccepted        = "offer.accepted"
	EventOfferRejected        = "offer.rejected"
	EventOfferCancelled       = "offer.cancelled"
	EventOfferCountered       = "offer.countered"
	EventCounterOfferCreated  = "counter_offer.created"
	EventCounterOfferAccepted = "counter_offer.accepted"
)

// Event carries the identifiers and principals an off-chain indexer needs.
type Event struct {
	EventID        string    `json:"event_id"`
	Type           string    `json:"type"`
	ListingID      uint64    `json:"listing_id,omitempty"`
	OfferID        uint64    `json:"offer_id,omitempty"`
	CounterOfferID uint64    `json:"counter_offer_id,omitempty"`
	Seller         string    `json:"seller,omitempty"`
	Buyer          string    `json:"buyer,omitempty"`
	Price          int64     `json:"price,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Sink is one delivery channel for marketplace events.
type Sink interface {
	Deliver(ctx context.Context, event Event) error
	Name() string
}

// LogSink writes events to the structured log. Useful in development and as
// a fallback when no webhook is configured.
type LogSink struct{}

func (LogSink) Deliver(_ context.Context, event Event) error {
	log.Info().
		Str("event_id", event.EventID).
		Str("type", event.Type).
		Uint64("listing_id", event.ListingID).
		Uint64("offer_id", event.OfferID).
		Str("seller", event.Seller).
		Str("buyer", event.Buyer).
		Int64("price", event.Price).
		Msg("marketplace event")
	return nil
}

func (LogSink) Name() string { return "log" }

// WebhookSink posts events as JSON to a configured endpoint.
type WebhookSink struct {
	url    string
	client *http.Client
}

func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookSink) Deliver(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

func (w *WebhookSink) Name() string { return "webhook" }
