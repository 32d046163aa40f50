package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

type paymentRepositoryInMemory struct {
	mu           sync.RWMutex
	payments     map[int64]domain.Payment
	byOrder      map[int64]int64
	refunds      map[int64]domain.PaymentRefund
	nextID       int64
	nextRefundID int64
}

// NewPaymentRepository возвращает in-memory хранилище платежей.
func NewPaymentRepository() domain.PaymentRepository {
	return &paymentRepositoryInMemory{
		payments: make(map[int64]domain.Payment),
		byOrder:  make(map[int64]int64),
		refunds:  make(map[int64]domain.PaymentRefund),
	}
}

// Create сохраняет платёж. Второй платёж на тот же заказ отклоняется.
func (r *paymentRepositoryInMemory) Create(_ context.Context, payment domain.Payment) (domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byOrder[payment.OrderID]; exists {
		return domain.Payment{}, domain.ErrPaymentExists
	}
	r.nextID++
	payment.ID = r.nextID
	r.payments[payment.ID] = payment
	r.byOrder[payment.OrderID] = payment.ID
	return payment, nil
}

func (r *paymentRepositoryInMemory) Get(_ context.Context, id int64) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	payment, ok := r.payments[id]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return payment, nil
}

func (r *paymentRepositoryInMemory) GetByOrder(_ context.Context, orderID int64) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byOrder[orderID]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return r.payments[id], nil
}

func (r *paymentRepositoryInMemory) List(_ context.Context) ([]domain.Payment, error) {
	return r.filter(func(domain.Payment) bool { return true }), nil
}

func (r *paymentRepositoryInMemory) ListByStatus(_ context.Context, status domain.PaymentStatus) ([]domain.Payment, error) {
	return r.filter(func(p domain.Payment) bool { return p.Status == status }), nil
}

func (r *paymentRepositoryInMemory) Save(_ context.Context, payment domain.Payment) (domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.payments[payment.ID]; !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	r.payments[payment.ID] = payment
	return payment, nil
}

func (r *paymentRepositoryInMemory) HasRefund(_ context.Context, paymentID int64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.refunds[paymentID]
	return ok, nil
}

// Refund записывает возврат и статус платежа под одной блокировкой.
func (r *paymentRepositoryInMemory) Refund(_ context.Context, payment domain.Payment, refund domain.PaymentRefund) (domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.payments[payment.ID]; !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	if _, exists := r.refunds[payment.ID]; exists {
		return domain.Payment{}, domain.ErrAlreadyRefunded
	}
	r.nextRefundID++
	refund.ID = r.nextRefundID
	refund.PaymentID = payment.ID
	r.refunds[payment.ID] = refund
	r.payments[payment.ID] = payment
	return payment, nil
}

func (r *paymentRepositoryInMemory) filter(keep func(domain.Payment) bool) []domain.Payment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Payment, 0, len(r.payments))
	for _, p := range r.payments {
		if keep(p) {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

var _ domain.PaymentRepository = (*paymentRepositoryInMemory)(nil)
