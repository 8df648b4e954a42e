package processor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/drluca/shopcommerce/internal/eventbus"
	"github.com/drluca/shopcommerce/internal/events"
	"github.com/drluca/shopcommerce/internal/metrics"
	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"
)

// Applier is the set of derived-state updates the pipeline can run.
// Each call opens its own transaction, independent of the transaction
// that produced the event.
type Applier interface {
	ApplyLikeAdded(ctx context.Context, evt events.LikeAdded) error
	ApplyLikeRemoved(ctx context.Context, evt events.LikeRemoved) error
	ApplyBrandDeactivated(ctx context.Context, evt events.BrandDeactivated) error
}

// Processor decodes event envelopes from the bus and dispatches them to
// the appliers. Delivery is at-least-once; the appliers tolerate
// duplicates (idempotent transitions, clamped counters).
type Processor struct {
	applier Applier
	metrics *metrics.Metrics
}

func New(applier Applier, m *metrics.Metrics) *Processor {
	return &Processor{applier: applier, metrics: m}
}

// MessageHandler is plugged into the eventbus consumer. Malformed
// envelopes and unknown event types are permanent failures; applier
// errors are returned as-is so the consumer retries them.
func (p *Processor) MessageHandler(ctx context.Context, delivery amqp.Delivery) error {
	var envelope events.Envelope
	if err := json.Unmarshal(delivery.Body, &envelope); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal event envelope, this is a permanent failure.")
		return eventbus.ErrPermanentFailure
	}

	evt, err := envelope.Decode()
	if err != nil {
		log.Error().Err(err).Str("eventId", envelope.EventID).Msg("Failed to decode event, this is a permanent failure.")
		return eventbus.ErrPermanentFailure
	}

	log.Info().Str("eventId", envelope.EventID).Str("type", string(envelope.Type)).Msg("Processing event")

	switch e := evt.(type) {
	case events.LikeAdded:
		err = p.applier.ApplyLikeAdded(ctx, e)
	case events.LikeRemoved:
		err = p.applier.ApplyLikeRemoved(ctx, e)
	case events.BrandDeactivated:
		err = p.applier.ApplyBrandDeactivated(ctx, e)
	default:
		log.Error().Str("type", string(envelope.Type)).Msg("No applier for event type, this is a permanent failure.")
		return eventbus.ErrPermanentFailure
	}

	if err != nil {
		p.observe(envelope.Type, "error")
		log.Error().Err(err).Str("eventId", envelope.EventID).Str("type", string(envelope.Type)).
			Msg("Event handler transaction failed")
		return fmt.Errorf("apply %s: %w", envelope.Type, err)
	}

	p.observe(envelope.Type, "ok")
	return nil
}

func (p *Processor) observe(eventType events.Type, status string) {
	if p.metrics != nil {
		p.metrics.EventsProcessed.WithLabelValues(string(eventType), status).Inc()
	}
}
