package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/metrics"
)

// Service управляет товарами и резервами склада.
type Service struct {
	repo    domain.StockRepository
	orders  domain.OrderClient
	metrics *metrics.SagaMetrics
	logger  *log.Entry
	now     func() time.Time
	newID   func() uuid.UUID
}

// Option настраивает Service.
type Option func(*Service)

// WithMetrics подключает prometheus-метрики.
func WithMetrics(m *metrics.SagaMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService создаёт сервис склада. orders используется для обратных вызовов
// в сервис заказов при обработке событий и может быть nil в синхронном API.
func NewService(repo domain.StockRepository, orders domain.OrderClient, logger *log.Entry, opts ...Option) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "stock-service")
	}
	s := &Service{
		repo:   repo,
		orders: orders,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetProduct возвращает товар по идентификатору.
func (s *Service) GetProduct(ctx context.Context, id uuid.UUID) (domain.Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// ListProducts возвращает каталог.
func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

// CreateProduct заводит карточку товара.
func (s *Service) CreateProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	if err := product.Validate(); err != nil {
		return domain.Product{}, err
	}
	now := s.now()
	product.ID = uuid.Nil
	product.CreatedAt = now
	product.UpdatedAt = now
	return s.repo.CreateProduct(ctx, product)
}

// UpdateProduct меняет название, описание, цену и остаток товара.
func (s *Service) UpdateProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	if err := product.Validate(); err != nil {
		return domain.Product{}, err
	}
	product.UpdatedAt = s.now()
	return s.repo.UpdateProduct(ctx, product)
}

func (s *Service) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteProduct(ctx, id)
}

// AvailableStock возвращает текущий свободный остаток.
func (s *Service) AvailableStock(ctx context.Context, id uuid.UUID) (int, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return 0, err
	}
	return product.QuantityInStock, nil
}

// IsAvailable сообщает, хватает ли товара. Отсутствующий товар недоступен, это не ошибка.
func (s *Service) IsAvailable(ctx context.Context, productID uuid.UUID, quantity int) (bool, error) {
	if quantity <= 0 {
		return false, domain.ErrItemQuantityInvalid
	}
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		if domain.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return product.Available(quantity), nil
}

// Reserve удерживает товар под заказ. Повторный резерв той же пары
// (заказ, товар) увеличивает существующий Reserved-резерв.
func (s *Service) Reserve(ctx context.Context, req domain.ReservationRequest) (domain.StockReservation, error) {
	if err := req.Validate(); err != nil {
		return domain.StockReservation{}, err
	}
	start := time.Now()
	reservation, err := s.repo.Reserve(ctx, req, s.newID(), s.now())
	s.metrics.RecordStepDuration(string(domain.SagaStepReserve), time.Since(start))
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id":   req.OrderID,
			"product_id": req.ProductID,
			"quantity":   req.Quantity,
		}).Warn("reserve failed")
		return domain.StockReservation{}, err
	}
	s.logger.WithFields(log.Fields{
		"order_id":       req.OrderID,
		"product_id":     req.ProductID,
		"reservation_id": reservation.ID,
		"quantity":       reservation.Quantity,
	}).Debug("stock reserved")
	return reservation, nil
}

// ReserveBatch резервирует все позиции или ни одной: при первой ошибке
// снимаются резервы, сделанные этим вызовом.
func (s *Service) ReserveBatch(ctx context.Context, reqs []domain.ReservationRequest) ([]domain.StockReservation, error) {
	if len(reqs) == 0 {
		return nil, domain.ErrItemsRequired
	}
	for _, req := range reqs {
		if err := req.Validate(); err != nil {
			return nil, err
		}
	}

	var rollback batchRollback
	reserved := make([]domain.StockReservation, 0, len(reqs))
	for _, req := range reqs {
		before, err := s.activeQuantity(ctx, req.OrderID, req.ProductID)
		if err != nil {
			rollback.run(ctx, s)
			return nil, err
		}
		reservation, err := s.Reserve(ctx, req)
		if err != nil {
			rollback.run(ctx, s)
			return nil, err
		}
		rollback.add(reservation, before)
		reserved = append(reserved, reservation)
	}
	return dedupeByID(reserved), nil
}

// ConfirmAllForOrder подтверждает все Reserved-резервы заказа.
// Уже подтверждённые и отменённые пропускаются, поэтому повторный вызов безопасен.
func (s *Service) ConfirmAllForOrder(ctx context.Context, orderID int64) error {
	if orderID <= 0 {
		return domain.ErrOrderIDInvalid
	}
	reservations, err := s.repo.ListReservationsByOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if len(reservations) == 0 {
		return domain.ErrNoReservations
	}

	start := time.Now()
	defer func() { s.metrics.RecordStepDuration(string(domain.SagaStepConfirm), time.Since(start)) }()

	confirmed := 0
	for _, reservation := range reservations {
		if reservation.Status != domain.ReservationStatusReserved {
			continue
		}
		_, changed, err := s.repo.Confirm(ctx, reservation.ID, s.now())
		if err != nil {
			return fmt.Errorf("confirm reservation %s: %w", reservation.ID, err)
		}
		if changed {
			confirmed++
		}
	}
	s.logger.WithFields(log.Fields{"order_id": orderID, "confirmed": confirmed}).Info("reservations confirmed")
	return nil
}

// Cancel снимает один резерв. Для Confirmed и Cancelled это no-op.
func (s *Service) Cancel(ctx context.Context, reservationID uuid.UUID) error {
	_, restored, err := s.repo.Cancel(ctx, reservationID, s.now())
	if err != nil {
		return err
	}
	s.logger.WithFields(log.Fields{"reservation_id": reservationID, "restored": restored}).Debug("reservation cancelled")
	return nil
}

// CancelAllForOrder снимает все Reserved-резервы заказа и возвращает остаток на склад.
func (s *Service) CancelAllForOrder(ctx context.Context, orderID int64) error {
	if orderID <= 0 {
		return domain.ErrOrderIDInvalid
	}
	reservations, err := s.repo.ListReservationsByOrder(ctx, orderID)
	if err != nil {
		return err
	}

	start := time.Now()
	defer func() { s.metrics.RecordStepDuration(string(domain.SagaStepRelease), time.Since(start)) }()

	restored := 0
	for _, reservation := range reservations {
		if reservation.Status != domain.ReservationStatusReserved {
			continue
		}
		_, qty, err := s.repo.Cancel(ctx, reservation.ID, s.now())
		if err != nil {
			return fmt.Errorf("cancel reservation %s: %w", reservation.ID, err)
		}
		restored += qty
	}
	s.logger.WithFields(log.Fields{"order_id": orderID, "restored": restored}).Info("reservations released")
	return nil
}

func (s *Service) GetReservation(ctx context.Context, id uuid.UUID) (domain.StockReservation, error) {
	return s.repo.GetReservation(ctx, id)
}

func (s *Service) ListReservationsByOrder(ctx context.Context, orderID int64) ([]domain.StockReservation, error) {
	if orderID <= 0 {
		return nil, domain.ErrOrderIDInvalid
	}
	return s.repo.ListReservationsByOrder(ctx, orderID)
}

// activeQuantity возвращает количество в Reserved-резерве пары (заказ, товар), если он есть.
func (s *Service) activeQuantity(ctx context.Context, orderID int64, productID uuid.UUID) (int, error) {
	reservations, err := s.repo.ListReservationsByOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	for _, r := range reservations {
		if r.ProductID == productID && r.Status == domain.ReservationStatusReserved {
			return r.Quantity, nil
		}
	}
	return 0, nil
}

func dedupeByID(reservations []domain.StockReservation) []domain.StockReservation {
	index := make(map[uuid.UUID]int, len(reservations))
	out := make([]domain.StockReservation, 0, len(reservations))
	for _, r := range reservations {
		if i, ok := index[r.ID]; ok {
			out[i] = r
			continue
		}
		index[r.ID] = len(out)
		out = append(out, r)
	}
	return out
}
