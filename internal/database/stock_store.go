package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/drluca/shopcommerce/internal/apperr"
	"github.com/drluca/shopcommerce/internal/models"
	"github.com/jmoiron/sqlx"
)

// LockStock acquires a blocking exclusive row lock on the stock record
// for productID and returns the locked row. Must be called inside a
// transaction; the lock is held until that transaction ends. The wait
// is bounded by the transaction's lock_timeout, which surfaces as a
// transient error.
func (db *DB) LockStock(ctx context.Context, productID int64) (models.Stock, error) {
	var stock models.Stock
	query := `SELECT id, product_id, quantity FROM stock WHERE product_id=$1 FOR UPDATE`
	err := sqlx.GetContext(ctx, db.q(ctx), &stock, query, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Stock{}, apperr.Newf(apperr.KindNotFound, "stock for product %d does not exist", productID)
	}
	if err != nil {
		return models.Stock{}, translate("lock stock", err)
	}
	return stock, nil
}

// SaveStockQuantity writes the new quantity for a stock row the caller
// has already locked in the current transaction.
func (db *DB) SaveStockQuantity(ctx context.Context, productID, quantity int64) error {
	query := `UPDATE stock SET quantity=$2 WHERE product_id=$1`
	if _, err := db.q(ctx).ExecContext(ctx, query, productID, quantity); err != nil {
		return translate("save stock quantity", err)
	}
	return nil
}
