package like

import (
	"context"

	"github.com/drluca/shopcommerce/internal/apperr"
	"github.com/drluca/shopcommerce/internal/events"
	"github.com/drluca/shopcommerce/internal/models"
	"github.com/rs/zerolog/log"
)

type Store interface {
	GetProduct(ctx context.Context, productID int64) (models.Product, error)
	LikeExists(ctx context.Context, userID, productID int64) (bool, error)
	InsertLike(ctx context.Context, like models.Like) error
	DeleteLike(ctx context.Context, userID, productID int64) error
}

type Atomic interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service is the idempotent like toggle. It shares the order workflow's
// concurrency contract: state changes commit first, derived counters
// converge asynchronously via commit-triggered events.
type Service struct {
	store  Store
	atomic Atomic
}

func NewService(store Store, atomic Atomic) *Service {
	return &Service{store: store, atomic: atomic}
}

// Add registers a like. A duplicate registration is a conflict; the
// exists-check catches the common case and the storage uniqueness
// constraint backstops the race between check and insert, surfacing as
// the same conflict. On success a LikeAdded event is staged for
// post-commit dispatch.
func (s *Service) Add(ctx context.Context, userID, productID int64) error {
	return s.atomic.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.GetProduct(ctx, productID); err != nil {
			return err
		}

		exists, err := s.store.LikeExists(ctx, userID, productID)
		if err != nil {
			return err
		}
		if exists {
			return apperr.New(apperr.KindConflict, "product is already liked")
		}

		if err := s.store.InsertLike(ctx, models.Like{UserID: userID, ProductID: productID}); err != nil {
			if apperr.IsKind(err, apperr.KindConflict) {
				return apperr.Wrap(apperr.KindConflict, "product is already liked", err)
			}
			return err
		}

		events.Stage(ctx, events.LikeAdded{UserID: userID, ProductID: productID})
		return nil
	})
}

// Remove unregisters a like. Toggling off something already off is not
// an error: the call succeeds without staging an event, so repeated
// removals never drive the counter below its true value.
func (s *Service) Remove(ctx context.Context, userID, productID int64) error {
	return s.atomic.RunInTx(ctx, func(ctx context.Context) error {
		exists, err := s.store.LikeExists(ctx, userID, productID)
		if err != nil {
			return err
		}
		if !exists {
			log.Warn().Int64("userId", userID).Int64("productId", productID).
				Msg("Remove like requested for a pair that does not exist")
			return nil
		}

		if err := s.store.DeleteLike(ctx, userID, productID); err != nil {
			return err
		}

		events.Stage(ctx, events.LikeRemoved{UserID: userID, ProductID: productID})
		return nil
	})
}
