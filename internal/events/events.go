package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Type identifies one of the closed set of domain events. The value is
// also used as the RabbitMQ routing key.
type Type string

const (
	TypeLikeAdded        Type = "like.added"
	TypeLikeRemoved      Type = "like.removed"
	TypeBrandDeactivated Type = "brand.deactivated"
)

// Event is an immutable domain fact carrying only identifying ids.
// Handlers re-read current authoritative state; payloads never carry
// denormalized data.
type Event interface {
	Type() Type
	Key() string
}

type LikeAdded struct {
	UserID    int64 `json:"userId"`
	ProductID int64 `json:"productId"`
}

func (LikeAdded) Type() Type    { return TypeLikeAdded }
func (e LikeAdded) Key() string { return strconv.FormatInt(e.ProductID, 10) }

type LikeRemoved struct {
	UserID    int64 `json:"userId"`
	ProductID int64 `json:"productId"`
}

func (LikeRemoved) Type() Type    { return TypeLikeRemoved }
func (e LikeRemoved) Key() string { return strconv.FormatInt(e.ProductID, 10) }

type BrandDeactivated struct {
	BrandID int64 `json:"brandId"`
}

func (BrandDeactivated) Type() Type    { return TypeBrandDeactivated }
func (e BrandDeactivated) Key() string { return strconv.FormatInt(e.BrandID, 10) }

// Envelope is the wire representation published to the broker.
type Envelope struct {
	EventID    string          `json:"eventId"`
	Type       Type            `json:"type"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

func Wrap(evt Event) (Envelope, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", evt.Type(), err)
	}
	return Envelope{
		EventID:    uuid.New().String(),
		Type:       evt.Type(),
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}, nil
}

// Decode maps the envelope back onto its concrete event. An unknown
// type is a permanent decoding failure, not a transient one.
func (env Envelope) Decode() (Event, error) {
	switch env.Type {
	case TypeLikeAdded:
		var e LikeAdded
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", env.Type, err)
		}
		return e, nil
	case TypeLikeRemoved:
		var e LikeRemoved
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", env.Type, err)
		}
		return e, nil
	case TypeBrandDeactivated:
		var e BrandDeactivated
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", env.Type, err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
}

// Publisher hands a committed event to the asynchronous pipeline.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}
