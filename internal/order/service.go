package order

import (
	"context"

	"github.com/drluca/shopcommerce/internal/apperr"
	"github.com/drluca/shopcommerce/internal/models"
	"github.com/rs/zerolog/log"
)

// Line is one (product, quantity) request in an order.
type Line struct {
	ProductID int64 `json:"productId"`
	Quantity  int64 `json:"quantity"`
}

// Store is the persistence surface the workflow needs.
type Store interface {
	GetProducts(ctx context.Context, productIDs []int64) ([]models.Product, error)
	GetBrands(ctx context.Context, brandIDs []int64) ([]models.Brand, error)
	InsertOrder(ctx context.Context, order *models.Order) error
	InsertOrderItems(ctx context.Context, items []models.OrderItem) error
	GetOrder(ctx context.Context, orderID int64) (models.Order, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
}

// Deducter performs the all-or-nothing stock deduction inside the
// enclosing transaction.
type Deducter interface {
	DeductAll(ctx context.Context, requests map[int64]int64) error
}

// Atomic runs a function inside a single transaction.
type Atomic interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	store    Store
	deducter Deducter
	atomic   Atomic
}

func NewService(store Store, deducter Deducter, atomic Atomic) *Service {
	return &Service{store: store, deducter: deducter, atomic: atomic}
}

// Create runs the whole order workflow in one transaction: resolve
// every referenced product and brand, deduct stock, compute the total
// from the prices read up front, and persist the order with its
// snapshot items. Any failure aborts the transaction; no order row
// exists for a failed deduction.
//
// Duplicate product ids across lines are summed into a single deduction
// amount rather than rejected.
func (s *Service) Create(ctx context.Context, ownerID int64, lines []Line) (models.Order, error) {
	if ownerID <= 0 {
		return models.Order{}, apperr.New(apperr.KindBadRequest, "order requires an owner")
	}
	if len(lines) == 0 {
		return models.Order{}, apperr.New(apperr.KindBadRequest, "order must contain at least one line")
	}

	deductions := make(map[int64]int64, len(lines))
	for _, line := range lines {
		if line.ProductID <= 0 {
			return models.Order{}, apperr.New(apperr.KindBadRequest, "order line requires a product id")
		}
		if line.Quantity < 1 {
			return models.Order{}, apperr.Newf(apperr.KindBadRequest,
				"order line quantity for product %d must be at least 1", line.ProductID)
		}
		deductions[line.ProductID] += line.Quantity
	}

	productIDs := make([]int64, 0, len(deductions))
	for productID := range deductions {
		productIDs = append(productIDs, productID)
	}

	var order models.Order
	err := s.atomic.RunInTx(ctx, func(ctx context.Context) error {
		products, err := s.store.GetProducts(ctx, productIDs)
		if err != nil {
			return err
		}
		if len(products) != len(productIDs) {
			// Strict resolution: no partial order from a subset of
			// valid ids.
			missing := missingIDs(productIDs, products)
			return apperr.Newf(apperr.KindNotFound, "product %d does not exist", missing)
		}

		brandIDs := make([]int64, 0, len(products))
		seen := make(map[int64]bool, len(products))
		for _, p := range products {
			if !seen[p.BrandID] {
				seen[p.BrandID] = true
				brandIDs = append(brandIDs, p.BrandID)
			}
		}
		brands, err := s.store.GetBrands(ctx, brandIDs)
		if err != nil {
			return err
		}
		brandsByID := make(map[int64]models.Brand, len(brands))
		for _, b := range brands {
			brandsByID[b.ID] = b
		}
		for _, p := range products {
			if _, ok := brandsByID[p.BrandID]; !ok {
				return apperr.Newf(apperr.KindNotFound, "brand %d does not exist", p.BrandID)
			}
		}

		if err := s.deducter.DeductAll(ctx, deductions); err != nil {
			return err
		}

		var totalAmount int64
		for _, p := range products {
			totalAmount += p.Price * deductions[p.ID]
		}

		order = models.Order{OwnerID: ownerID, Status: models.OrderCreated, TotalAmount: totalAmount}
		if err := s.store.InsertOrder(ctx, &order); err != nil {
			return err
		}

		items := make([]models.OrderItem, 0, len(products))
		for _, p := range products {
			snapshot, err := models.NewProductSnapshot(p.Name, p.Price, brandsByID[p.BrandID].Name)
			if err != nil {
				return err
			}
			item, err := models.NewOrderItem(order.ID, p.ID, deductions[p.ID], snapshot)
			if err != nil {
				return err
			}
			items = append(items, item)
		}
		return s.store.InsertOrderItems(ctx, items)
	})
	if err != nil {
		return models.Order{}, err
	}

	log.Info().Int64("orderId", order.ID).Int64("ownerId", ownerID).
		Int64("totalAmount", order.TotalAmount).Msg("Order created")
	return order, nil
}

// Get returns an order with its items, scoped to the owner. A foreign
// order is reported exactly like a missing one so existence never leaks
// to non-owners.
func (s *Service) Get(ctx context.Context, ownerID, orderID int64) (models.Order, []models.OrderItem, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return models.Order{}, nil, err
	}
	if order.OwnerID != ownerID {
		return models.Order{}, nil, apperr.New(apperr.KindNotFound, "order does not exist")
	}
	items, err := s.store.GetOrderItems(ctx, orderID)
	if err != nil {
		return models.Order{}, nil, err
	}
	return order, items, nil
}

func missingIDs(requested []int64, found []models.Product) int64 {
	foundSet := make(map[int64]bool, len(found))
	for _, p := range found {
		foundSet[p.ID] = true
	}
	for _, id := range requested {
		if !foundSet[id] {
			return id
		}
	}
	return 0
}
