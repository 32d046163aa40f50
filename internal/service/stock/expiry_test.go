package stock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/storage/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type expiryFixture struct {
	svc     *Service
	orders  *stubOrders
	clock   *testClock
	product domain.Product
}

func newExpiryFixture(t *testing.T) *expiryFixture {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	orders := &stubOrders{}
	svc := NewService(memory.NewStockRepository(), orders, log.New().WithField("component", "expiry-test"), WithClock(clock.Now))

	product, err := svc.CreateProduct(context.Background(), domain.Product{Name: "A", Price: decimal.NewFromInt(10), QuantityInStock: 10})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	return &expiryFixture{svc: svc, orders: orders, clock: clock, product: product}
}

func (f *expiryFixture) reserve(t *testing.T, orderID int64, qty int) {
	t.Helper()
	if _, err := f.svc.Reserve(context.Background(), domain.ReservationRequest{OrderID: orderID, ProductID: f.product.ID, Quantity: qty}); err != nil {
		t.Fatalf("reserve order %d: %v", orderID, err)
	}
}

func (f *expiryFixture) available(t *testing.T) int {
	t.Helper()
	qty, err := f.svc.AvailableStock(context.Background(), f.product.ID)
	if err != nil {
		t.Fatalf("available stock: %v", err)
	}
	return qty
}

func TestExpireStale_ReleasesAndMarksOrder(t *testing.T) {
	f := newExpiryFixture(t)
	f.orders.order = &domain.Order{ID: 1, Status: domain.OrderStatusStockReserved}
	f.reserve(t, 1, 3)
	f.clock.Advance(20 * time.Minute)

	expired, err := f.svc.ExpireStale(context.Background(), f.clock.Now().Add(-15*time.Minute), 10)
	if err != nil {
		t.Fatalf("expire stale: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired reservation, got %d", expired)
	}
	if got := f.available(t); got != 10 {
		t.Fatalf("expected stock restored to 10, got %d", got)
	}
	if got := f.orders.last(); got != domain.OrderStatusStockExpired {
		t.Fatalf("expected StockExpired callback, got %q", got)
	}
}

func TestExpireStale_FreshReservationUntouched(t *testing.T) {
	f := newExpiryFixture(t)
	f.orders.order = &domain.Order{ID: 1, Status: domain.OrderStatusStockReserved}
	f.reserve(t, 1, 3)
	f.clock.Advance(5 * time.Minute)

	expired, err := f.svc.ExpireStale(context.Background(), f.clock.Now().Add(-15*time.Minute), 10)
	if err != nil {
		t.Fatalf("expire stale: %v", err)
	}
	if expired != 0 || f.available(t) != 7 {
		t.Fatalf("fresh reservation must stay: expired=%d available=%d", expired, f.available(t))
	}
	if len(f.orders.statuses) != 0 {
		t.Fatalf("unexpected callbacks: %v", f.orders.statuses)
	}
}

func TestExpireStale_SkipsOrdersPastReservation(t *testing.T) {
	for _, status := range []domain.OrderStatus{
		domain.OrderStatusPaymentPending,
		domain.OrderStatusStockConfirmed,
		domain.OrderStatusCompleted,
	} {
		t.Run(string(status), func(t *testing.T) {
			f := newExpiryFixture(t)
			f.orders.order = &domain.Order{ID: 1, Status: status}
			f.reserve(t, 1, 2)
			f.clock.Advance(time.Hour)

			expired, err := f.svc.ExpireStale(context.Background(), f.clock.Now().Add(-time.Minute), 10)
			if err != nil {
				t.Fatalf("expire stale: %v", err)
			}
			if expired != 0 || f.available(t) != 8 {
				t.Fatalf("reservation must stay: expired=%d available=%d", expired, f.available(t))
			}
		})
	}
}

func TestExpireStale_SkipsOnLookupError(t *testing.T) {
	f := newExpiryFixture(t)
	f.orders.getErr = errors.New("order service down")
	f.reserve(t, 1, 2)
	f.clock.Advance(time.Hour)

	expired, err := f.svc.ExpireStale(context.Background(), f.clock.Now().Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("lookup failure must not fail the run: %v", err)
	}
	if expired != 0 || f.available(t) != 8 {
		t.Fatalf("reservation must stay: expired=%d available=%d", expired, f.available(t))
	}
}

func TestExpireStale_OrphanReleasedWithoutCallback(t *testing.T) {
	f := newExpiryFixture(t)
	f.reserve(t, 42, 4)
	f.clock.Advance(time.Hour)

	expired, err := f.svc.ExpireStale(context.Background(), f.clock.Now().Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("expire stale: %v", err)
	}
	if expired != 1 || f.available(t) != 10 {
		t.Fatalf("orphan must be released: expired=%d available=%d", expired, f.available(t))
	}
	if len(f.orders.statuses) != 0 {
		t.Fatalf("deleted order must not get a callback: %v", f.orders.statuses)
	}
}

func TestExpiryWorker_SweepBatches(t *testing.T) {
	f := newExpiryFixture(t)
	for orderID := int64(1); orderID <= 5; orderID++ {
		f.reserve(t, orderID, 1)
	}
	f.clock.Advance(time.Hour)

	worker := NewExpiryWorker(f.svc, 30*time.Minute, WithExpiryBatchSize(2))
	expired, err := worker.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 5 || f.available(t) != 10 {
		t.Fatalf("expected all 5 reservations expired, got expired=%d available=%d", expired, f.available(t))
	}
}

func TestExpiryWorker_Options(t *testing.T) {
	f := newExpiryFixture(t)

	worker := NewExpiryWorker(f.svc, time.Minute, WithExpiryInterval(5*time.Second), WithExpiryBatchSize(7))
	if worker.interval != 5*time.Second || worker.batchSize != 7 {
		t.Fatalf("options not applied: interval=%s batch=%d", worker.interval, worker.batchSize)
	}

	worker = NewExpiryWorker(f.svc, time.Minute, WithExpiryInterval(0), WithExpiryBatchSize(-1))
	if worker.interval != defaultExpiryInterval || worker.batchSize != defaultExpiryBatchSize {
		t.Fatalf("invalid options must keep defaults: interval=%s batch=%d", worker.interval, worker.batchSize)
	}
}

func TestExpiryWorker_RunDisabled(t *testing.T) {
	f := newExpiryFixture(t)

	if err := NewExpiryWorker(f.svc, 0).Run(context.Background()); err != nil {
		t.Fatalf("disabled worker must return nil, got %v", err)
	}
	if err := NewExpiryWorker(nil, time.Minute).Run(context.Background()); err != nil {
		t.Fatalf("worker without service must return nil, got %v", err)
	}
}

func TestExpiryWorker_RunStopsOnCancel(t *testing.T) {
	f := newExpiryFixture(t)
	f.reserve(t, 1, 2)
	f.clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewExpiryWorker(f.svc, time.Minute, WithExpiryInterval(10*time.Millisecond)).Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for f.available(t) != 10 {
		if time.Now().After(deadline) {
			t.Fatal("worker did not expire the reservation")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
