package stock

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/drluca/shopcommerce/internal/apperr"
	"github.com/drluca/shopcommerce/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memLedger mimics the row-lock semantics of the real store: LockStock
// blocks until the per-row lock is free and the lock is held until the
// enclosing unit of work ends. Writes stay pending until then, so an
// aborted batch leaves quantities untouched.
type memLedger struct {
	mu   sync.Mutex
	rows map[int64]*memRow
}

type memRow struct {
	mu       sync.Mutex
	quantity int64
}

func newMemLedger(quantities map[int64]int64) *memLedger {
	rows := make(map[int64]*memRow, len(quantities))
	for id, qty := range quantities {
		rows[id] = &memRow{quantity: qty}
	}
	return &memLedger{rows: rows}
}

func (l *memLedger) quantity(productID int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rows[productID].quantity
}

type memSession struct {
	locked  []*memRow
	lockSeq []int64
	pending map[int64]int64
}

type sessionKey struct{}

func (l *memLedger) LockStock(ctx context.Context, productID int64) (models.Stock, error) {
	session := ctx.Value(sessionKey{}).(*memSession)

	l.mu.Lock()
	row, ok := l.rows[productID]
	l.mu.Unlock()
	if !ok {
		return models.Stock{}, apperr.Newf(apperr.KindNotFound, "stock for product %d does not exist", productID)
	}

	row.mu.Lock()
	session.locked = append(session.locked, row)
	session.lockSeq = append(session.lockSeq, productID)
	return models.Stock{ProductID: productID, Quantity: row.quantity}, nil
}

func (l *memLedger) SaveStockQuantity(ctx context.Context, productID, quantity int64) error {
	session := ctx.Value(sessionKey{}).(*memSession)
	session.pending[productID] = quantity
	return nil
}

// run executes fn with transaction-like semantics against the ledger:
// pending writes apply only on success, and row locks are released at
// the end either way.
func (l *memLedger) run(ctx context.Context, fn func(ctx context.Context) error) (*memSession, error) {
	session := &memSession{pending: make(map[int64]int64)}
	err := fn(context.WithValue(ctx, sessionKey{}, session))
	if err == nil {
		for productID, quantity := range session.pending {
			l.rows[productID].quantity = quantity
		}
	}
	for i := len(session.locked) - 1; i >= 0; i-- {
		session.locked[i].mu.Unlock()
	}
	return session, err
}

func TestDeductAll(t *testing.T) {
	ledger := newMemLedger(map[int64]int64{1: 100, 2: 5})
	coordinator := NewCoordinator(ledger)

	_, err := ledger.run(context.Background(), func(ctx context.Context) error {
		return coordinator.DeductAll(ctx, map[int64]int64{1: 80, 2: 5})
	})
	require.NoError(t, err)
	assert.Equal(t, int64(20), ledger.quantity(1))
	assert.Equal(t, int64(0), ledger.quantity(2))
}

func TestDeductAllInsufficientAbortsWholeBatch(t *testing.T) {
	ledger := newMemLedger(map[int64]int64{1: 100, 2: 5})
	coordinator := NewCoordinator(ledger)

	_, err := ledger.run(context.Background(), func(ctx context.Context) error {
		return coordinator.DeductAll(ctx, map[int64]int64{1: 80, 2: 60})
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(err))

	// Product 1 had enough, but the batch is all-or-nothing.
	assert.Equal(t, int64(100), ledger.quantity(1))
	assert.Equal(t, int64(5), ledger.quantity(2))
}

func TestDeductAllUnknownProduct(t *testing.T) {
	ledger := newMemLedger(map[int64]int64{1: 100})
	coordinator := NewCoordinator(ledger)

	_, err := ledger.run(context.Background(), func(ctx context.Context) error {
		return coordinator.DeductAll(ctx, map[int64]int64{1: 10, 42: 1})
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, int64(100), ledger.quantity(1))
}

func TestDeductAllValidation(t *testing.T) {
	ledger := newMemLedger(map[int64]int64{1: 100})
	coordinator := NewCoordinator(ledger)

	_, err := ledger.run(context.Background(), func(ctx context.Context) error {
		return coordinator.DeductAll(ctx, nil)
	})
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	_, err = ledger.run(context.Background(), func(ctx context.Context) error {
		return coordinator.DeductAll(ctx, map[int64]int64{1: 0})
	})
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	assert.Equal(t, int64(100), ledger.quantity(1))
}

func TestDeductAllLocksInAscendingOrder(t *testing.T) {
	ledger := newMemLedger(map[int64]int64{5: 10, 1: 10, 9: 10, 3: 10})
	coordinator := NewCoordinator(ledger)

	session, err := ledger.run(context.Background(), func(ctx context.Context) error {
		return coordinator.DeductAll(ctx, map[int64]int64{5: 1, 1: 1, 9: 1, 3: 1})
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 5, 9}, session.lockSeq)
}

// Concurrent overlapping batches over blocking row locks: the shared
// ascending lock order is what keeps this from deadlocking. The fake
// ledger's locks block for real, so a circular wait would hang the test.
func TestDeductAllConcurrentBatchesDoNotDeadlock(t *testing.T) {
	const (
		products   = 6
		workers    = 24
		iterations = 50
		initial    = int64(1_000_000)
	)

	quantities := make(map[int64]int64, products)
	for id := int64(1); id <= products; id++ {
		quantities[id] = initial
	}
	ledger := newMemLedger(quantities)
	coordinator := NewCoordinator(ledger)

	deducted := make([]int64, products+1)
	var deductedMu sync.Mutex

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < iterations; i++ {
				batch := make(map[int64]int64)
				for id := int64(1); id <= products; id++ {
					if rng.Intn(2) == 0 {
						batch[id] = int64(rng.Intn(3) + 1)
					}
				}
				if len(batch) == 0 {
					batch[1] = 1
				}
				_, err := ledger.run(context.Background(), func(ctx context.Context) error {
					return coordinator.DeductAll(ctx, batch)
				})
				if err != nil {
					t.Error(err)
					return
				}
				deductedMu.Lock()
				for id, qty := range batch {
					deducted[id] += qty
				}
				deductedMu.Unlock()
			}
		}(int64(w))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("concurrent deduction batches deadlocked")
	}

	for id := int64(1); id <= products; id++ {
		assert.Equal(t, initial-deducted[id], ledger.quantity(id), "product %d", id)
	}
}

func TestDeductAllConcurrentContentionOnSingleRow(t *testing.T) {
	ledger := newMemLedger(map[int64]int64{1: 100})
	coordinator := NewCoordinator(ledger)

	var wg sync.WaitGroup
	var failures int64
	var failuresMu sync.Mutex
	for w := 0; w < 150; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.run(context.Background(), func(ctx context.Context) error {
				return coordinator.DeductAll(ctx, map[int64]int64{1: 1})
			})
			if err != nil {
				assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(err))
				failuresMu.Lock()
				failures++
				failuresMu.Unlock()
			}
		}()
	}
	wg.Wait()

	// 150 deductions of 1 against 100 units: exactly 50 must fail and
	// the counter must land exactly on zero, never below.
	assert.Equal(t, int64(0), ledger.quantity(1))
	assert.Equal(t, int64(50), failures)
}
