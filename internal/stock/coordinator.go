package stock

import (
	"context"
	"sort"

	"github.com/drluca/shopcommerce/internal/apperr"
	"github.com/drluca/shopcommerce/internal/models"
	"github.com/rs/zerolog/log"
)

// Ledger is the locked view of stock rows inside the caller's
// transaction. LockStock acquires a blocking exclusive row lock that is
// held until the transaction ends.
type Ledger interface {
	LockStock(ctx context.Context, productID int64) (models.Stock, error)
	SaveStockQuantity(ctx context.Context, productID, quantity int64) error
}

// Coordinator performs locked, all-or-nothing multi-product stock
// deduction. It must be invoked inside a transaction; any failure makes
// the caller roll back, so partial deductions are never observable.
type Coordinator struct {
	ledger Ledger
}

func NewCoordinator(ledger Ledger) *Coordinator {
	return &Coordinator{ledger: ledger}
}

// DeductAll deducts every requested quantity or none. Rows are locked
// in ascending product-id order; every caller acquiring locks through
// this path shares that total order, so concurrent batches over
// overlapping product sets cannot circular-wait.
func (c *Coordinator) DeductAll(ctx context.Context, requests map[int64]int64) error {
	if len(requests) == 0 {
		return apperr.New(apperr.KindBadRequest, "deduction request must not be empty")
	}

	productIDs := make([]int64, 0, len(requests))
	for productID, quantity := range requests {
		if quantity <= 0 {
			return apperr.Newf(apperr.KindBadRequest, "deduction quantity for product %d must be positive", productID)
		}
		productIDs = append(productIDs, productID)
	}
	sort.Slice(productIDs, func(i, j int) bool { return productIDs[i] < productIDs[j] })

	for _, productID := range productIDs {
		stock, err := c.ledger.LockStock(ctx, productID)
		if err != nil {
			return err
		}
		if err := stock.Deduct(requests[productID]); err != nil {
			log.Warn().Int64("productId", productID).Int64("requested", requests[productID]).
				Int64("available", stock.Quantity).Msg("Stock deduction failed; aborting batch")
			return err
		}
		if err := c.ledger.SaveStockQuantity(ctx, productID, stock.Quantity); err != nil {
			return err
		}
	}
	return nil
}
