package catalog

import (
	"context"
	"testing"

	"github.com/drluca/shopcommerce/internal/apperr"
	"github.com/drluca/shopcommerce/internal/events"
	"github.com/drluca/shopcommerce/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	products  map[int64]models.Product
	brands    map[int64]models.Brand
	histories map[int64][]models.ProductHistory
}

func newFakeStore() *fakeStore {
	store := &fakeStore{
		products:  make(map[int64]models.Product),
		brands:    make(map[int64]models.Brand),
		histories: make(map[int64][]models.ProductHistory),
	}
	store.brands[1] = models.Brand{ID: 1, Name: "Acme", Status: models.BrandActive}
	store.brands[2] = models.Brand{ID: 2, Name: "Globex", Status: models.BrandActive}
	store.products[10] = models.Product{ID: 10, BrandID: 1, Name: "widget", Price: 100, Status: models.ProductActive}
	store.products[11] = models.Product{ID: 11, BrandID: 1, Name: "gadget", Price: 200, Status: models.ProductActive}
	store.products[12] = models.Product{ID: 12, BrandID: 1, Name: "gizmo", Price: 300, Status: models.ProductActive}
	store.products[20] = models.Product{ID: 20, BrandID: 2, Name: "doohickey", Price: 400, Status: models.ProductActive}
	return store
}

func (s *fakeStore) GetProduct(ctx context.Context, productID int64) (models.Product, error) {
	p, ok := s.products[productID]
	if !ok {
		return models.Product{}, apperr.New(apperr.KindNotFound, "product does not exist")
	}
	return p, nil
}

func (s *fakeStore) SaveProduct(ctx context.Context, product models.Product) error {
	s.products[product.ID] = product
	return nil
}

func (s *fakeStore) GetProductsByBrand(ctx context.Context, brandID int64) ([]models.Product, error) {
	var out []models.Product
	for _, id := range []int64{10, 11, 12, 20} {
		if p, ok := s.products[id]; ok && p.BrandID == brandID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) GetBrand(ctx context.Context, brandID int64) (models.Brand, error) {
	b, ok := s.brands[brandID]
	if !ok {
		return models.Brand{}, apperr.New(apperr.KindNotFound, "brand does not exist")
	}
	return b, nil
}

func (s *fakeStore) SaveBrand(ctx context.Context, brand models.Brand) error {
	s.brands[brand.ID] = brand
	return nil
}

func (s *fakeStore) CountProductHistory(ctx context.Context, productID int64) (int, error) {
	return len(s.histories[productID]), nil
}

func (s *fakeStore) InsertProductHistory(ctx context.Context, history models.ProductHistory) error {
	s.histories[history.ProductID] = append(s.histories[history.ProductID], history)
	return nil
}

type fakeAtomic struct {
	published []events.Event
}

func (a *fakeAtomic) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, buf := events.WithBuffer(ctx)
	if err := fn(ctx); err != nil {
		return err
	}
	a.published = append(a.published, buf.Drain()...)
	return nil
}

func TestDeactivateBrand(t *testing.T) {
	store := newFakeStore()
	atomic := &fakeAtomic{}
	svc := NewService(store, atomic)

	require.NoError(t, svc.DeactivateBrand(context.Background(), 1))

	assert.Equal(t, models.BrandInactive, store.brands[1].Status)
	require.Len(t, atomic.published, 1)
	assert.Equal(t, events.BrandDeactivated{BrandID: 1}, atomic.published[0])

	// The cascade is asynchronous: products are untouched until the
	// event handler runs.
	assert.Equal(t, models.ProductActive, store.products[10].Status)
}

func TestDeactivateBrandAlreadyInactive(t *testing.T) {
	store := newFakeStore()
	brand := store.brands[1]
	brand.Deactivate()
	store.brands[1] = brand
	atomic := &fakeAtomic{}
	svc := NewService(store, atomic)

	err := svc.DeactivateBrand(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Empty(t, atomic.published)
}

func TestDeactivateBrandUnknown(t *testing.T) {
	svc := NewService(newFakeStore(), &fakeAtomic{})
	err := svc.DeactivateBrand(context.Background(), 404)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestApplyLikeAdded(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, &fakeAtomic{})

	require.NoError(t, svc.ApplyLikeAdded(context.Background(), events.LikeAdded{UserID: 1, ProductID: 10}))
	require.NoError(t, svc.ApplyLikeAdded(context.Background(), events.LikeAdded{UserID: 2, ProductID: 10}))

	assert.Equal(t, int64(2), store.products[10].LikeCount)
}

func TestApplyLikeRemovedClampsAtZero(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, &fakeAtomic{})

	require.NoError(t, svc.ApplyLikeAdded(context.Background(), events.LikeAdded{UserID: 1, ProductID: 10}))
	require.NoError(t, svc.ApplyLikeRemoved(context.Background(), events.LikeRemoved{UserID: 1, ProductID: 10}))
	assert.Equal(t, int64(0), store.products[10].LikeCount)

	// Duplicate delivery of the removal must not go negative.
	require.NoError(t, svc.ApplyLikeRemoved(context.Background(), events.LikeRemoved{UserID: 1, ProductID: 10}))
	assert.Equal(t, int64(0), store.products[10].LikeCount)
}

func TestApplyLikeEventsForVanishedProduct(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, &fakeAtomic{})

	// The product was deleted between commit and dispatch; the handler
	// acks rather than retrying forever.
	require.NoError(t, svc.ApplyLikeAdded(context.Background(), events.LikeAdded{UserID: 1, ProductID: 404}))
	require.NoError(t, svc.ApplyLikeRemoved(context.Background(), events.LikeRemoved{UserID: 1, ProductID: 404}))
}

func TestApplyBrandDeactivatedCascade(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, &fakeAtomic{})

	require.NoError(t, svc.ApplyBrandDeactivated(context.Background(), events.BrandDeactivated{BrandID: 1}))

	for _, id := range []int64{10, 11, 12} {
		assert.Equal(t, models.ProductInactive, store.products[id].Status, "product %d", id)
		histories := store.histories[id]
		require.Len(t, histories, 1, "product %d", id)
		assert.Equal(t, 1, histories[0].Version)
		assert.Equal(t, models.ProductInactive, histories[0].Status)
		assert.Equal(t, "system", histories[0].ChangedBy)
	}

	// The other brand's product is untouched.
	assert.Equal(t, models.ProductActive, store.products[20].Status)
	assert.Empty(t, store.histories[20])
}

func TestApplyBrandDeactivatedIsIdempotent(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, &fakeAtomic{})

	require.NoError(t, svc.ApplyBrandDeactivated(context.Background(), events.BrandDeactivated{BrandID: 1}))
	require.NoError(t, svc.ApplyBrandDeactivated(context.Background(), events.BrandDeactivated{BrandID: 1}))

	// Redelivery appends another changelog version but the terminal
	// status is stable.
	assert.Equal(t, models.ProductInactive, store.products[10].Status)
	require.Len(t, store.histories[10], 2)
	assert.Equal(t, 2, store.histories[10][1].Version)
}

func TestApplyBrandDeactivatedNoProducts(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, &fakeAtomic{})

	require.NoError(t, svc.ApplyBrandDeactivated(context.Background(), events.BrandDeactivated{BrandID: 3}))
	for _, id := range []int64{10, 11, 12, 20} {
		assert.Equal(t, models.ProductActive, store.products[id].Status)
	}
}
