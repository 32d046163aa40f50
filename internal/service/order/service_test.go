package order

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/service/stock"
	"github.com/vladislavdragonenkov/shopsaga/internal/storage/memory"
)

// localStock реализует StockClient поверх настоящего сервиса склада в памяти.
type localStock struct {
	svc *stock.Service

	mu           sync.Mutex
	failReserveN int // n-й вызов Reserve вернёт ошибку, 0 без сбоев
	reserveCalls int
	cancelErr    error
	cancelCalls  int
}

func (l *localStock) IsAvailable(ctx context.Context, productID uuid.UUID, quantity int) (bool, error) {
	return l.svc.IsAvailable(ctx, productID, quantity)
}

func (l *localStock) Reserve(ctx context.Context, req domain.ReservationRequest) (*domain.StockReservation, error) {
	l.mu.Lock()
	l.reserveCalls++
	fail := l.failReserveN != 0 && l.reserveCalls == l.failReserveN
	l.mu.Unlock()
	if fail {
		return nil, domain.ErrRemoteCall
	}
	res, err := l.svc.Reserve(ctx, req)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (l *localStock) Cancel(ctx context.Context, reservationID uuid.UUID) error {
	return l.svc.Cancel(ctx, reservationID)
}

func (l *localStock) ConfirmAllForOrder(ctx context.Context, orderID int64) error {
	return l.svc.ConfirmAllForOrder(ctx, orderID)
}

func (l *localStock) CancelAllForOrder(ctx context.Context, orderID int64) error {
	l.mu.Lock()
	l.cancelCalls++
	err := l.cancelErr
	l.mu.Unlock()
	if err != nil {
		return err
	}
	return l.svc.CancelAllForOrder(ctx, orderID)
}

func (l *localStock) ListReservationsByOrder(ctx context.Context, orderID int64) ([]domain.StockReservation, error) {
	return l.svc.ListReservationsByOrder(ctx, orderID)
}

type stubPayments struct {
	payment *domain.Payment
	err     error
}

func (s *stubPayments) GetPaymentByOrder(ctx context.Context, orderID int64) (*domain.Payment, error) {
	return s.payment, s.err
}

type published struct {
	topic   string
	key     string
	payload any
}

type stubPublisher struct {
	mu     sync.Mutex
	err    error
	events []published
}

func (p *stubPublisher) Publish(ctx context.Context, topic, key string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, published{topic: topic, key: key, payload: payload})
	return nil
}

type fixture struct {
	svc       *Service
	orders    domain.OrderRepository
	stockSvc  *stock.Service
	stock     *localStock
	payments  *stubPayments
	publisher *stubPublisher
	a, b      domain.Product
}

// newFixture: товар A (5 шт., $10) и B (2 шт., $50).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	stockSvc := stock.NewService(memory.NewStockRepository(), nil, log.New().WithField("component", "stock-test"))
	a, err := stockSvc.CreateProduct(ctx, domain.Product{Name: "A", Price: decimal.NewFromInt(10), QuantityInStock: 5})
	if err != nil {
		t.Fatalf("create A: %v", err)
	}
	b, err := stockSvc.CreateProduct(ctx, domain.Product{Name: "B", Price: decimal.NewFromInt(50), QuantityInStock: 2})
	if err != nil {
		t.Fatalf("create B: %v", err)
	}

	f := &fixture{
		orders:    memory.NewOrderRepository(),
		stockSvc:  stockSvc,
		stock:     &localStock{svc: stockSvc},
		payments:  &stubPayments{},
		publisher: &stubPublisher{},
		a:         a,
		b:         b,
	}
	f.svc = NewService(f.orders, f.stock, f.payments, f.publisher, log.New().WithField("component", "order-test"))
	return f
}

func (f *fixture) items() []domain.OrderItem {
	return []domain.OrderItem{
		{ProductID: f.a.ID, Quantity: 3, UnitPrice: decimal.NewFromInt(10)},
		{ProductID: f.b.ID, Quantity: 1, UnitPrice: decimal.NewFromInt(50)},
	}
}

func (f *fixture) stockOf(t *testing.T, id uuid.UUID) int {
	t.Helper()
	qty, err := f.stockSvc.AvailableStock(context.Background(), id)
	if err != nil {
		t.Fatalf("available stock: %v", err)
	}
	return qty
}

// reservedOrder создаёт заказ и резервирует его так, как это делает консьюмер склада.
func (f *fixture) reservedOrder(t *testing.T) domain.Order {
	t.Helper()
	ctx := context.Background()
	order, err := f.svc.CreateOrder(ctx, uuid.New(), f.items())
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	reqs := make([]domain.ReservationRequest, 0, len(order.Items))
	for _, item := range order.Items {
		reqs = append(reqs, domain.ReservationRequest{OrderID: order.ID, ProductID: item.ProductID, Quantity: item.Quantity})
	}
	if _, err := f.stockSvc.ReserveBatch(ctx, reqs); err != nil {
		t.Fatalf("reserve batch: %v", err)
	}
	order, err = f.svc.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusStockReserved)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	return order
}

func activeSet(t *testing.T, f *fixture, orderID int64) map[uuid.UUID]int {
	t.Helper()
	list, err := f.stockSvc.ListReservationsByOrder(context.Background(), orderID)
	if err != nil {
		t.Fatalf("list reservations: %v", err)
	}
	out := map[uuid.UUID]int{}
	for _, r := range list {
		if r.Status == domain.ReservationStatusReserved {
			out[r.ProductID] += r.Quantity
		}
	}
	return out
}

func TestCreateOrder_PublishesAndAdvances(t *testing.T) {
	f := newFixture(t)

	order, err := f.svc.CreateOrder(context.Background(), uuid.Nil, f.items())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if order.CustomerID == uuid.Nil {
		t.Fatal("customer id must be generated")
	}
	if !order.TotalAmount.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("expected total 80, got %s", order.TotalAmount)
	}
	if order.Status != domain.OrderStatusStockPending {
		t.Fatalf("expected StockPending, got %s", order.Status)
	}
	if len(f.publisher.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(f.publisher.events))
	}
	evt := f.publisher.events[0]
	if evt.topic != domain.TopicOrderCreated || evt.key != domain.OrderEventKey(order.ID) {
		t.Fatalf("unexpected event %s/%s", evt.topic, evt.key)
	}
	payload, ok := evt.payload.(domain.OrderCreatedEvent)
	if !ok || len(payload.Items) != 2 || !payload.TotalAmount.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("unexpected payload %+v", evt.payload)
	}
}

func TestCreateOrder_UnavailableHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	items := f.items()
	items[1].Quantity = 3

	if _, err := f.svc.CreateOrder(context.Background(), uuid.New(), items); !errors.Is(err, domain.ErrStockUnavailable) {
		t.Fatalf("expected ErrStockUnavailable, got %v", err)
	}
	all, _ := f.orders.List(context.Background())
	if len(all) != 0 || len(f.publisher.events) != 0 {
		t.Fatalf("no order or event expected, orders=%d events=%d", len(all), len(f.publisher.events))
	}

	if _, err := f.svc.CreateOrder(context.Background(), uuid.New(), nil); !errors.Is(err, domain.ErrItemsRequired) {
		t.Fatalf("expected ErrItemsRequired, got %v", err)
	}
}

func TestCreateOrder_PublishFailureDeletesOrder(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")

	_, err := f.svc.CreateOrder(context.Background(), uuid.New(), f.items())
	if !errors.Is(err, domain.ErrPublishFailed) || !domain.IsExternal(err) {
		t.Fatalf("expected ErrPublishFailed, got %v", err)
	}
	all, _ := f.orders.List(context.Background())
	if len(all) != 0 {
		t.Fatalf("order must be deleted, got %d", len(all))
	}
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.reservedOrder(t)
	f.payments.payment = &domain.Payment{OrderID: order.ID, Status: domain.PaymentStatusPending}

	cancelled, err := f.svc.CancelOrder(ctx, order.ID, "")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected Cancelled, got %s", cancelled.Status)
	}
	if f.stockOf(t, f.a.ID) != 5 || f.stockOf(t, f.b.ID) != 2 {
		t.Fatal("all reservations must be released")
	}
	last := f.publisher.events[len(f.publisher.events)-1]
	evt, ok := last.payload.(domain.OrderCancelledEvent)
	if last.topic != domain.TopicOrderCancelled || !ok || evt.CancelReason != domain.DefaultCancelReason {
		t.Fatalf("unexpected cancel event %+v", last)
	}

	again, err := f.svc.CancelOrder(ctx, order.ID, "")
	if err != nil || again.Status != domain.OrderStatusCancelled {
		t.Fatalf("repeated cancel must be a no-op, got %s %v", again.Status, err)
	}
}

func TestCancelOrder_CompletedPaymentRefused(t *testing.T) {
	f := newFixture(t)
	order := f.reservedOrder(t)
	f.payments.payment = &domain.Payment{OrderID: order.ID, Status: domain.PaymentStatusCompleted}

	if _, err := f.svc.CancelOrder(context.Background(), order.ID, "changed my mind"); !errors.Is(err, domain.ErrPaymentCompleted) {
		t.Fatalf("expected ErrPaymentCompleted, got %v", err)
	}
	if f.stockOf(t, f.a.ID) != 2 {
		t.Fatal("reservations must stay untouched")
	}
}

func TestCancelOrder_PublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	order := f.reservedOrder(t)
	f.publisher.err = errors.New("broker down")
	f.stock.cancelErr = errors.New("stock down")

	cancelled, err := f.svc.CancelOrder(context.Background(), order.ID, "r")
	if err != nil {
		t.Fatalf("cancel must succeed, got %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected Cancelled, got %s", cancelled.Status)
	}
}

func TestCancelOrder_PaymentLookupFailure(t *testing.T) {
	f := newFixture(t)
	order := f.reservedOrder(t)
	f.payments.err = domain.ErrRemoteCall

	if _, err := f.svc.CancelOrder(context.Background(), order.ID, ""); !domain.IsExternal(err) {
		t.Fatalf("expected external error, got %v", err)
	}
	stored, _ := f.svc.GetOrder(context.Background(), order.ID)
	if stored.Status != domain.OrderStatusStockReserved {
		t.Fatalf("order must stay StockReserved, got %s", stored.Status)
	}
}

func TestDeleteOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.reservedOrder(t)

	f.payments.payment = &domain.Payment{Status: domain.PaymentStatusCompleted}
	if err := f.svc.DeleteOrder(ctx, order.ID); !errors.Is(err, domain.ErrPaymentCompleted) {
		t.Fatalf("expected ErrPaymentCompleted, got %v", err)
	}

	f.payments.payment = nil
	f.stock.cancelErr = errors.New("stock down")
	if err := f.svc.DeleteOrder(ctx, order.ID); err == nil {
		t.Fatal("delete must fail when reservations cannot be released")
	}

	f.stock.cancelErr = nil
	if err := f.svc.DeleteOrder(ctx, order.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.svc.GetOrder(ctx, order.ID); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	if f.stockOf(t, f.a.ID) != 5 {
		t.Fatal("stock must be restored")
	}
}

func TestUpdateOrderStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, _ := f.svc.CreateOrder(ctx, uuid.New(), f.items())

	if _, err := f.svc.UpdateOrderStatus(ctx, order.ID, "Shipped"); !errors.Is(err, domain.ErrStatusInvalid) {
		t.Fatalf("expected ErrStatusInvalid, got %v", err)
	}
	if _, err := f.svc.UpdateOrderStatus(ctx, 0, domain.OrderStatusCancelled); !errors.Is(err, domain.ErrOrderIDInvalid) {
		t.Fatalf("expected ErrOrderIDInvalid, got %v", err)
	}
	if _, err := f.svc.UpdateOrderStatus(ctx, 999, domain.OrderStatusCancelled); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	updated, err := f.svc.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusManualIntervention)
	if err != nil || updated.Status != domain.OrderStatusManualIntervention {
		t.Fatalf("update: %s %v", updated.Status, err)
	}
}
