package eventbus

import (
	"context"

	"github.com/drluca/shopcommerce/internal/events"
)

// EventPublisher adapts the Manager to the events.Publisher interface:
// the transaction runner hands it committed domain events, which it
// wraps in envelopes and publishes under the event type as routing key.
type EventPublisher struct {
	manager *Manager
}

func NewEventPublisher(manager *Manager) *EventPublisher {
	return &EventPublisher{manager: manager}
}

func (p *EventPublisher) Publish(ctx context.Context, evt events.Event) error {
	envelope, err := events.Wrap(evt)
	if err != nil {
		return err
	}
	return p.manager.PublishMessage(ctx, string(envelope.Type), envelope)
}
