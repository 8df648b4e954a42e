package catalog

import (
	"context"

	"github.com/drluca/shopcommerce/internal/apperr"
	"github.com/drluca/shopcommerce/internal/events"
	"github.com/drluca/shopcommerce/internal/models"
	"github.com/rs/zerolog/log"
)

type Store interface {
	GetProduct(ctx context.Context, productID int64) (models.Product, error)
	SaveProduct(ctx context.Context, product models.Product) error
	GetProductsByBrand(ctx context.Context, brandID int64) ([]models.Product, error)
	GetBrand(ctx context.Context, brandID int64) (models.Brand, error)
	SaveBrand(ctx context.Context, brand models.Brand) error
	CountProductHistory(ctx context.Context, productID int64) (int, error)
	InsertProductHistory(ctx context.Context, history models.ProductHistory) error
}

type Atomic interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service owns brand deactivation and the asynchronous appliers that
// keep the denormalized product fields (like_count, status) converging
// after commits.
type Service struct {
	store  Store
	atomic Atomic
}

func NewService(store Store, atomic Atomic) *Service {
	return &Service{store: store, atomic: atomic}
}

// DeactivateBrand flips the brand to INACTIVE and stages a
// BrandDeactivated event; the product cascade runs asynchronously after
// this transaction commits.
func (s *Service) DeactivateBrand(ctx context.Context, brandID int64) error {
	return s.atomic.RunInTx(ctx, func(ctx context.Context) error {
		brand, err := s.store.GetBrand(ctx, brandID)
		if err != nil {
			return err
		}
		if brand.Status == models.BrandInactive {
			return apperr.New(apperr.KindConflict, "brand is already inactive")
		}

		brand.Deactivate()
		if err := s.store.SaveBrand(ctx, brand); err != nil {
			return err
		}

		events.Stage(ctx, events.BrandDeactivated{BrandID: brandID})
		return nil
	})
}

// ApplyLikeAdded increments the denormalized like count in its own
// transaction, re-reading the authoritative row rather than trusting a
// delta from the event.
func (s *Service) ApplyLikeAdded(ctx context.Context, evt events.LikeAdded) error {
	return s.atomic.RunInTx(ctx, func(ctx context.Context) error {
		product, err := s.store.GetProduct(ctx, evt.ProductID)
		if err != nil {
			if apperr.IsKind(err, apperr.KindNotFound) {
				// The product vanished between commit and dispatch;
				// nothing to converge.
				log.Warn().Int64("productId", evt.ProductID).Msg("Like added for a product that no longer exists")
				return nil
			}
			return err
		}
		product.IncrementLikeCount()
		return s.store.SaveProduct(ctx, product)
	})
}

// ApplyLikeRemoved decrements the like count, clamped at zero by the
// product model so duplicate delivery can never produce a negative
// counter.
func (s *Service) ApplyLikeRemoved(ctx context.Context, evt events.LikeRemoved) error {
	return s.atomic.RunInTx(ctx, func(ctx context.Context) error {
		product, err := s.store.GetProduct(ctx, evt.ProductID)
		if err != nil {
			if apperr.IsKind(err, apperr.KindNotFound) {
				log.Warn().Int64("productId", evt.ProductID).Msg("Like removed for a product that no longer exists")
				return nil
			}
			return err
		}
		product.DecrementLikeCount()
		return s.store.SaveProduct(ctx, product)
	})
}

// ApplyBrandDeactivated transitions every product of the brand to
// INACTIVE and appends a changelog snapshot per product, all in one
// transaction independent of the one that deactivated the brand.
func (s *Service) ApplyBrandDeactivated(ctx context.Context, evt events.BrandDeactivated) error {
	return s.atomic.RunInTx(ctx, func(ctx context.Context) error {
		products, err := s.store.GetProductsByBrand(ctx, evt.BrandID)
		if err != nil {
			return err
		}
		for _, product := range products {
			product.Deactivate()
			if err := s.store.SaveProduct(ctx, product); err != nil {
				return err
			}
			count, err := s.store.CountProductHistory(ctx, product.ID)
			if err != nil {
				return err
			}
			history := models.SnapshotProduct(product, count+1, "system")
			if err := s.store.InsertProductHistory(ctx, history); err != nil {
				return err
			}
		}
		log.Info().Int64("brandId", evt.BrandID).Int("products", len(products)).
			Msg("Brand deactivation cascade applied")
		return nil
	})
}
