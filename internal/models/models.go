package models

import (
	"time"

	"github.com/drluca/shopcommerce/internal/apperr"
)

// --- Catalog ---

type BrandStatus string

const (
	BrandPending  BrandStatus = "PENDING"
	BrandActive   BrandStatus = "ACTIVE"
	BrandInactive BrandStatus = "INACTIVE"
)

type Brand struct {
	ID          int64       `db:"id" json:"id"`
	Name        string      `db:"name" json:"name"`
	Description string      `db:"description" json:"description"`
	Status      BrandStatus `db:"status" json:"status"`
	CreatedAt   time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updatedAt"`
}

func (b *Brand) Deactivate() {
	b.Status = BrandInactive
}

func (b *Brand) IsActive() bool {
	return b.Status == BrandActive
}

type ProductStatus string

const (
	ProductPending    ProductStatus = "PENDING"
	ProductActive     ProductStatus = "ACTIVE"
	ProductInactive   ProductStatus = "INACTIVE"
	ProductOutOfStock ProductStatus = "OUT_OF_STOCK"
)

type Product struct {
	ID          int64         `db:"id" json:"id"`
	BrandID     int64         `db:"brand_id" json:"brandId"`
	Name        string        `db:"name" json:"name"`
	Price       int64         `db:"price" json:"price"`
	Description string        `db:"description" json:"description"`
	Status      ProductStatus `db:"status" json:"status"`

	// Denormalized like counter, updated only by the async event
	// appliers. Never mutated on the synchronous request path.
	LikeCount int64 `db:"like_count" json:"likeCount"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

func (p *Product) Deactivate() {
	p.Status = ProductInactive
}

func (p *Product) IncrementLikeCount() {
	p.LikeCount++
}

// DecrementLikeCount clamps at zero. Legitimate operations never reach
// the floor; the clamp only prevents a negative artifact if the event
// stream and the counter ever drift under duplicate delivery.
func (p *Product) DecrementLikeCount() {
	if p.LikeCount > 0 {
		p.LikeCount--
	}
}

// --- Stock ---

// Stock is the authoritative available-quantity record for one product.
// It is mutated exclusively under a row-level exclusive lock inside the
// deduction coordinator's transaction.
type Stock struct {
	ID        int64 `db:"id" json:"id"`
	ProductID int64 `db:"product_id" json:"productId"`
	Quantity  int64 `db:"quantity" json:"quantity"`
}

func (s *Stock) HasEnough(amount int64) bool {
	return s.Quantity >= amount
}

// Deduct subtracts amount from the available quantity. The caller must
// already hold the exclusive row lock for this stock record. Underflow
// is a hard business-rule violation, never clamped.
func (s *Stock) Deduct(amount int64) error {
	if amount <= 0 {
		return apperr.New(apperr.KindBadRequest, "deduction amount must be positive")
	}
	if !s.HasEnough(amount) {
		return apperr.Newf(apperr.KindInsufficientStock,
			"insufficient stock for product %d: have %d, need %d", s.ProductID, s.Quantity, amount)
	}
	s.Quantity -= amount
	return nil
}

// --- Orders ---

type OrderStatus string

const (
	OrderCreated OrderStatus = "CREATED"
)

type OrderItemStatus string

const (
	OrderItemOrdered OrderItemStatus = "ORDERED"
)

type Order struct {
	ID          int64       `db:"id" json:"id"`
	OwnerID     int64       `db:"owner_id" json:"ownerId"`
	Status      OrderStatus `db:"status" json:"status"`
	TotalAmount int64       `db:"total_amount" json:"totalAmount"`
	CreatedAt   time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updatedAt"`
}

// ProductSnapshot is the denormalized copy of product and brand fields
// taken at order time, so later catalog edits never alter what an order
// historically contained.
type ProductSnapshot struct {
	ProductName string `db:"product_name" json:"productName"`
	UnitPrice   int64  `db:"product_price" json:"unitPrice"`
	BrandName   string `db:"brand_name" json:"brandName"`
}

func NewProductSnapshot(productName string, unitPrice int64, brandName string) (ProductSnapshot, error) {
	if productName == "" {
		return ProductSnapshot{}, apperr.New(apperr.KindBadRequest, "snapshot product name must not be empty")
	}
	if unitPrice < 0 {
		return ProductSnapshot{}, apperr.New(apperr.KindBadRequest, "snapshot unit price must not be negative")
	}
	if brandName == "" {
		return ProductSnapshot{}, apperr.New(apperr.KindBadRequest, "snapshot brand name must not be empty")
	}
	return ProductSnapshot{ProductName: productName, UnitPrice: unitPrice, BrandName: brandName}, nil
}

type OrderItem struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"orderId"`
	ProductID int64           `db:"product_id" json:"productId"`
	Status    OrderItemStatus `db:"status" json:"status"`
	Quantity  int64           `db:"quantity" json:"quantity"`

	ProductSnapshot

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

func NewOrderItem(orderID, productID, quantity int64, snapshot ProductSnapshot) (OrderItem, error) {
	if orderID <= 0 {
		return OrderItem{}, apperr.New(apperr.KindBadRequest, "order item requires an order id")
	}
	if productID <= 0 {
		return OrderItem{}, apperr.New(apperr.KindBadRequest, "order item requires a product id")
	}
	if quantity <= 0 {
		return OrderItem{}, apperr.New(apperr.KindBadRequest, "order item quantity must be at least 1")
	}
	return OrderItem{
		OrderID:         orderID,
		ProductID:       productID,
		Status:          OrderItemOrdered,
		Quantity:        quantity,
		ProductSnapshot: snapshot,
	}, nil
}

// --- Likes ---

// Like is a (user, product) pair whose existence is the whole state.
// The denormalized count lives on Product and converges asynchronously.
type Like struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"userId"`
	ProductID int64     `db:"product_id" json:"productId"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// --- Product history ---

// ProductHistory is an append-only changelog snapshot of a product,
// written by the brand-deactivation cascade.
type ProductHistory struct {
	ID        int64         `db:"id" json:"id"`
	ProductID int64         `db:"product_id" json:"productId"`
	Version   int           `db:"version" json:"version"`
	Name      string        `db:"name" json:"name"`
	Price     int64         `db:"price" json:"price"`
	Status    ProductStatus `db:"status" json:"status"`
	ChangedBy string        `db:"changed_by" json:"changedBy"`
	CreatedAt time.Time     `db:"created_at" json:"createdAt"`
}

func SnapshotProduct(p Product, version int, changedBy string) ProductHistory {
	return ProductHistory{
		ProductID: p.ID,
		Version:   version,
		Name:      p.Name,
		Price:     p.Price,
		Status:    p.Status,
		ChangedBy: changedBy,
	}
}
