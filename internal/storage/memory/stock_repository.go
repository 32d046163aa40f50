package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

// stockRepositoryInMemory хранит товары и резервы под одним мьютексом,
// поэтому изменение резерва и остатка всегда видны вместе.
type stockRepositoryInMemory struct {
	mu           sync.RWMutex
	products     map[uuid.UUID]domain.Product
	reservations map[uuid.UUID]domain.StockReservation
}

// NewStockRepository возвращает in-memory склад.
func NewStockRepository() domain.StockRepository {
	return &stockRepositoryInMemory{
		products:     make(map[uuid.UUID]domain.Product),
		reservations: make(map[uuid.UUID]domain.StockReservation),
	}
}

func (r *stockRepositoryInMemory) GetProduct(_ context.Context, id uuid.UUID) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

func (r *stockRepositoryInMemory) ListProducts(_ context.Context) ([]domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Product, 0, len(r.products))
	for _, p := range r.products {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

func (r *stockRepositoryInMemory) CreateProduct(_ context.Context, product domain.Product) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	if _, exists := r.products[product.ID]; exists {
		return domain.Product{}, domain.ErrInvalidTransition
	}
	r.products[product.ID] = product
	return product, nil
}

func (r *stockRepositoryInMemory) UpdateProduct(_ context.Context, product domain.Product) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.products[product.ID]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	product.CreatedAt = current.CreatedAt
	r.products[product.ID] = product
	return product, nil
}

func (r *stockRepositoryInMemory) DeleteProduct(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.products[id]; !ok {
		return domain.ErrProductNotFound
	}
	delete(r.products, id)
	return nil
}

func (r *stockRepositoryInMemory) GetReservation(_ context.Context, id uuid.UUID) (domain.StockReservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reservation, ok := r.reservations[id]
	if !ok {
		return domain.StockReservation{}, domain.ErrReservationNotFound
	}
	return reservation, nil
}

func (r *stockRepositoryInMemory) ListStaleReservations(_ context.Context, before time.Time, limit int) ([]domain.StockReservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.StockReservation, 0)
	for _, res := range r.reservations {
		if res.Status == domain.ReservationStatusReserved && res.UpdatedAt.Before(before) {
			result = append(result, res)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].UpdatedAt.Before(result[j].UpdatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListReservationsByOrder возвращает резервы заказа в порядке создания.
func (r *stockRepositoryInMemory) ListReservationsByOrder(_ context.Context, orderID int64) ([]domain.StockReservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.StockReservation, 0)
	for _, res := range r.reservations {
		if res.OrderID == orderID {
			result = append(result, res)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

func (r *stockRepositoryInMemory) Reserve(_ context.Context, req domain.ReservationRequest, newID uuid.UUID, now time.Time) (domain.StockReservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.products[req.ProductID]
	if !ok {
		return domain.StockReservation{}, domain.ErrProductNotFound
	}
	if err := product.Take(req.Quantity, now); err != nil {
		return domain.StockReservation{}, err
	}

	reservation, merged := r.activeReservation(req.OrderID, req.ProductID)
	if merged {
		reservation.Quantity += req.Quantity
		reservation.UpdatedAt = now
	} else {
		reservation = domain.StockReservation{
			ID:        newID,
			OrderID:   req.OrderID,
			ProductID: req.ProductID,
			Quantity:  req.Quantity,
			Status:    domain.ReservationStatusReserved,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	r.products[product.ID] = product
	r.reservations[reservation.ID] = reservation
	return reservation, nil
}

func (r *stockRepositoryInMemory) Confirm(_ context.Context, id uuid.UUID, now time.Time) (domain.StockReservation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reservation, ok := r.reservations[id]
	if !ok {
		return domain.StockReservation{}, false, domain.ErrReservationNotFound
	}
	changed, err := reservation.Confirm(now)
	if err != nil {
		return reservation, false, err
	}
	r.reservations[id] = reservation
	return reservation, changed, nil
}

func (r *stockRepositoryInMemory) Cancel(_ context.Context, id uuid.UUID, now time.Time) (domain.StockReservation, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reservation, ok := r.reservations[id]
	if !ok {
		return domain.StockReservation{}, 0, domain.ErrReservationNotFound
	}
	restored := reservation.Cancel(now)
	if restored > 0 {
		if product, ok := r.products[reservation.ProductID]; ok {
			product.Restore(restored, now)
			r.products[product.ID] = product
		}
	}
	r.reservations[id] = reservation
	return reservation, restored, nil
}

// activeReservation ищет Reserved-резерв пары (заказ, товар). Вызывать под r.mu.
func (r *stockRepositoryInMemory) activeReservation(orderID int64, productID uuid.UUID) (domain.StockReservation, bool) {
	for _, res := range r.reservations {
		if res.OrderID == orderID && res.ProductID == productID && res.Status == domain.ReservationStatusReserved {
			return res, true
		}
	}
	return domain.StockReservation{}, false
}

var _ domain.StockRepository = (*stockRepositoryInMemory)(nil)
