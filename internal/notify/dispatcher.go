package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Dispatcher queues events and delivers them to all sinks from a background
// goroutine so marketplace operations never block on delivery.
type Dispatcher struct {
	sinks       []Sink
	queue       chan Event
	sendTimeout time.Duration
}

func NewDispatcher(sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		sinks:       sinks,
		queue:       make(chan Event, 256),
		sendTimeout: 10 * time.Second,
	}
}

// Publish enqueues an event for delivery. If the queue is full the event is
// dropped and logged; indexers are expected to tolerate gaps.
func (d *Dispatcher) Publish(event Event) {
	event.EventID = uuid.New().String()
	event.Timestamp = time.Now()

	select {
	case d.queue <- event:
	default:
		log.Warn().
			Str("type", event.Type).
			Uint64("listing_id", event.ListingID).
			Msg("notification queue full, dropping event")
	}
}

// Start begins the delivery loop. It drains the queue until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	logger := log.With().Str("component", "notify_dispatcher").Logger()
	logger.Info().Int("sinks", len(d.sinks)).Msg("starting notification dispatcher")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down notification dispatcher")
			return
		case event := <-d.queue:
			d.deliver(event)
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()

	for _, sink := range d.sinks {
		if err := sink.Deliver(ctx, event); err != nil {
			log.Error().
				Err(err).
				Str("sink", sink.Name()).
				Str("event_id", event.EventID).
				Str("type", event.Type).
				Msg("failed to deliver event")
		}
	}
}
