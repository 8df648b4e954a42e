package database

import (
	"context"

	"github.com/drluca/shopcommerce/internal/models"
	"github.com/jmoiron/sqlx"
)

// LikeExists reports whether the (user, product) pair is registered.
func (db *DB) LikeExists(ctx context.Context, userID, productID int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM likes WHERE user_id=$1 AND product_id=$2)`
	if err := sqlx.GetContext(ctx, db.q(ctx), &exists, query, userID, productID); err != nil {
		return false, translate("check like", err)
	}
	return exists, nil
}

// InsertLike registers a like. A concurrent duplicate registration hits
// the uk_likes_user_product constraint, which translate reclassifies as
// a conflict rather than a raw storage error.
func (db *DB) InsertLike(ctx context.Context, like models.Like) error {
	query := `INSERT INTO likes (user_id, product_id) VALUES ($1, $2)`
	if _, err := db.q(ctx).ExecContext(ctx, query, like.UserID, like.ProductID); err != nil {
		return translate("insert like", err)
	}
	return nil
}

// DeleteLike removes a like if present. Deleting an absent pair is not
// an error; the toggle service relies on that for idempotent removal.
func (db *DB) DeleteLike(ctx context.Context, userID, productID int64) error {
	query := `DELETE FROM likes WHERE user_id=$1 AND product_id=$2`
	if _, err := db.q(ctx).ExecContext(ctx, query, userID, productID); err != nil {
		return translate("delete like", err)
	}
	return nil
}
