package processor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/drluca/shopcommerce/internal/eventbus"
	"github.com/drluca/shopcommerce/internal/events"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeApplier struct {
	likeAdded        []events.LikeAdded
	likeRemoved      []events.LikeRemoved
	brandDeactivated []events.BrandDeactivated

	err error
}

func (a *fakeApplier) ApplyLikeAdded(ctx context.Context, evt events.LikeAdded) error {
	if a.err != nil {
		return a.err
	}
	a.likeAdded = append(a.likeAdded, evt)
	return nil
}

func (a *fakeApplier) ApplyLikeRemoved(ctx context.Context, evt events.LikeRemoved) error {
	if a.err != nil {
		return a.err
	}
	a.likeRemoved = append(a.likeRemoved, evt)
	return nil
}

func (a *fakeApplier) ApplyBrandDeactivated(ctx context.Context, evt events.BrandDeactivated) error {
	if a.err != nil {
		return a.err
	}
	a.brandDeactivated = append(a.brandDeactivated, evt)
	return nil
}

func deliveryFor(t *testing.T, evt events.Event) amqp.Delivery {
	t.Helper()
	env, err := events.Wrap(evt)
	require.NoError(t, err)
	body, err := json.Marshal(env)
	require.NoError(t, err)
	return amqp.Delivery{Body: body, RoutingKey: string(evt.Type())}
}

func TestMessageHandlerDispatch(t *testing.T) {
	applier := &fakeApplier{}
	p := New(applier, nil)

	require.NoError(t, p.MessageHandler(context.Background(), deliveryFor(t, events.LikeAdded{UserID: 1, ProductID: 2})))
	require.NoError(t, p.MessageHandler(context.Background(), deliveryFor(t, events.LikeRemoved{UserID: 1, ProductID: 2})))
	require.NoError(t, p.MessageHandler(context.Background(), deliveryFor(t, events.BrandDeactivated{BrandID: 3})))

	assert.Equal(t, []events.LikeAdded{{UserID: 1, ProductID: 2}}, applier.likeAdded)
	assert.Equal(t, []events.LikeRemoved{{UserID: 1, ProductID: 2}}, applier.likeRemoved)
	assert.Equal(t, []events.BrandDeactivated{{BrandID: 3}}, applier.brandDeactivated)
}

func TestMessageHandlerMalformedBody(t *testing.T) {
	p := New(&fakeApplier{}, nil)

	err := p.MessageHandler(context.Background(), amqp.Delivery{Body: []byte("not json at all")})
	require.Error(t, err)
	// Garbage never becomes parseable; it must go to the parking lot,
	// not back into the retry loop.
	assert.ErrorIs(t, err, eventbus.ErrPermanentFailure)
}

func TestMessageHandlerUnknownType(t *testing.T) {
	p := New(&fakeApplier{}, nil)

	body, err := json.Marshal(events.Envelope{EventID: "e1", Type: "order.teleported", Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)

	err = p.MessageHandler(context.Background(), amqp.Delivery{Body: body})
	require.Error(t, err)
	assert.ErrorIs(t, err, eventbus.ErrPermanentFailure)
}

func TestMessageHandlerApplierErrorIsRetryable(t *testing.T) {
	applier := &fakeApplier{err: errors.New("lock wait timed out")}
	p := New(applier, nil)

	err := p.MessageHandler(context.Background(), deliveryFor(t, events.LikeAdded{UserID: 1, ProductID: 2}))
	require.Error(t, err)
	assert.NotErrorIs(t, err, eventbus.ErrPermanentFailure)
	assert.ErrorIs(t, err, applier.err)
}
