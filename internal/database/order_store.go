package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/drluca/shopcommerce/internal/apperr"
	"github.com/drluca/shopcommerce/internal/models"
	"github.com/jmoiron/sqlx"
)

// InsertOrder persists a new order and fills in its generated id and
// timestamps.
func (db *DB) InsertOrder(ctx context.Context, order *models.Order) error {
	query := `INSERT INTO orders (owner_id, status, total_amount)
	          VALUES ($1, $2, $3)
	          RETURNING id, created_at, updated_at`
	row := db.q(ctx).QueryRowxContext(ctx, query, order.OwnerID, order.Status, order.TotalAmount)
	if err := row.Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return translate("insert order", err)
	}
	return nil
}

// InsertOrderItems persists the line items of an order. Called in the
// same transaction as InsertOrder so an order and its items appear
// atomically.
func (db *DB) InsertOrderItems(ctx context.Context, items []models.OrderItem) error {
	query := `INSERT INTO order_item (order_id, product_id, status, quantity, product_name, product_price, brand_name)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`
	q := db.q(ctx)
	for _, item := range items {
		_, err := q.ExecContext(ctx, query,
			item.OrderID, item.ProductID, item.Status, item.Quantity,
			item.ProductName, item.UnitPrice, item.BrandName)
		if err != nil {
			return translate("insert order item", err)
		}
	}
	return nil
}

// GetOrder fetches one order by id. Ownership checks belong to the
// order service, which folds foreign ownership into the same not-found.
func (db *DB) GetOrder(ctx context.Context, orderID int64) (models.Order, error) {
	var order models.Order
	query := `SELECT id, owner_id, status, total_amount, created_at, updated_at FROM orders WHERE id=$1`
	err := sqlx.GetContext(ctx, db.q(ctx), &order, query, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, apperr.New(apperr.KindNotFound, "order does not exist")
	}
	if err != nil {
		return models.Order{}, translate("get order", err)
	}
	return order, nil
}

// GetOrderItems fetches the line items of an order.
func (db *DB) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	query := `SELECT id, order_id, product_id, status, quantity, product_name, product_price, brand_name, created_at
	          FROM order_item WHERE order_id=$1 ORDER BY id`
	if err := sqlx.SelectContext(ctx, db.q(ctx), &items, query, orderID); err != nil {
		return nil, translate("get order items", err)
	}
	return items, nil
}
