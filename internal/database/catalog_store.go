package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/drluca/shopcommerce/internal/apperr"
	"github.com/drluca/shopcommerce/internal/models"
	"github.com/jmoiron/sqlx"
)

// GetProduct fetches one product by id.
func (db *DB) GetProduct(ctx context.Context, productID int64) (models.Product, error) {
	var product models.Product
	query := `SELECT id, brand_id, name, price, description, status, like_count, created_at, updated_at
	          FROM product WHERE id=$1`
	err := sqlx.GetContext(ctx, db.q(ctx), &product, query, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Product{}, apperr.Newf(apperr.KindNotFound, "product %d does not exist", productID)
	}
	if err != nil {
		return models.Product{}, translate("get product", err)
	}
	return product, nil
}

// GetProducts fetches the products for the given id set. Callers that
// need strict resolution compare the result length against the request.
func (db *DB) GetProducts(ctx context.Context, productIDs []int64) ([]models.Product, error) {
	query, args, err := sqlx.In(`SELECT id, brand_id, name, price, description, status, like_count, created_at, updated_at
	                             FROM product WHERE id IN (?)`, productIDs)
	if err != nil {
		return nil, translate("build products query", err)
	}
	q := db.q(ctx)
	var products []models.Product
	if err := sqlx.SelectContext(ctx, q, &products, q.Rebind(query), args...); err != nil {
		return nil, translate("get products", err)
	}
	return products, nil
}

// GetProductsByBrand fetches all products owned by a brand.
func (db *DB) GetProductsByBrand(ctx context.Context, brandID int64) ([]models.Product, error) {
	var products []models.Product
	query := `SELECT id, brand_id, name, price, description, status, like_count, created_at, updated_at
	          FROM product WHERE brand_id=$1 ORDER BY id`
	if err := sqlx.SelectContext(ctx, db.q(ctx), &products, query, brandID); err != nil {
		return nil, translate("get products by brand", err)
	}
	return products, nil
}

// SaveProduct persists the mutable product fields (status, like_count).
func (db *DB) SaveProduct(ctx context.Context, product models.Product) error {
	query := `UPDATE product SET status=$2, like_count=$3, updated_at=now() WHERE id=$1`
	if _, err := db.q(ctx).ExecContext(ctx, query, product.ID, product.Status, product.LikeCount); err != nil {
		return translate("save product", err)
	}
	return nil
}

// GetBrand fetches one brand by id.
func (db *DB) GetBrand(ctx context.Context, brandID int64) (models.Brand, error) {
	var brand models.Brand
	query := `SELECT id, name, description, status, created_at, updated_at FROM brand WHERE id=$1`
	err := sqlx.GetContext(ctx, db.q(ctx), &brand, query, brandID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Brand{}, apperr.Newf(apperr.KindNotFound, "brand %d does not exist", brandID)
	}
	if err != nil {
		return models.Brand{}, translate("get brand", err)
	}
	return brand, nil
}

// GetBrands fetches the brands for the given id set.
func (db *DB) GetBrands(ctx context.Context, brandIDs []int64) ([]models.Brand, error) {
	query, args, err := sqlx.In(`SELECT id, name, description, status, created_at, updated_at
	                             FROM brand WHERE id IN (?)`, brandIDs)
	if err != nil {
		return nil, translate("build brands query", err)
	}
	q := db.q(ctx)
	var brands []models.Brand
	if err := sqlx.SelectContext(ctx, q, &brands, q.Rebind(query), args...); err != nil {
		return nil, translate("get brands", err)
	}
	return brands, nil
}

// SaveBrand persists the mutable brand fields.
func (db *DB) SaveBrand(ctx context.Context, brand models.Brand) error {
	query := `UPDATE brand SET status=$2, updated_at=now() WHERE id=$1`
	if _, err := db.q(ctx).ExecContext(ctx, query, brand.ID, brand.Status); err != nil {
		return translate("save brand", err)
	}
	return nil
}

// CountProductHistory returns the number of changelog entries recorded
// for a product, used to derive the next snapshot version.
func (db *DB) CountProductHistory(ctx context.Context, productID int64) (int, error) {
	var count int
	query := `SELECT count(*) FROM product_history WHERE product_id=$1`
	if err := sqlx.GetContext(ctx, db.q(ctx), &count, query, productID); err != nil {
		return 0, translate("count product history", err)
	}
	return count, nil
}

// InsertProductHistory appends one changelog snapshot.
func (db *DB) InsertProductHistory(ctx context.Context, history models.ProductHistory) error {
	query := `INSERT INTO product_history (product_id, version, name, price, status, changed_by)
	          VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := db.q(ctx).ExecContext(ctx, query,
		history.ProductID, history.Version, history.Name, history.Price, history.Status, history.ChangedBy)
	if err != nil {
		return translate("insert product history", err)
	}
	return nil
}
