package order

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/metrics"
)

// Service координирует сагу заказа: создание, изменение позиций, отмену и удаление.
type Service struct {
	repo      domain.OrderRepository
	stock     domain.StockClient
	payments  domain.PaymentClient
	publisher domain.EventPublisher
	metrics   *metrics.SagaMetrics
	logger    *log.Entry
	now       func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithMetrics подключает prometheus-метрики.
func WithMetrics(m *metrics.SagaMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService создаёт координатор заказов.
func NewService(
	repo domain.OrderRepository,
	stock domain.StockClient,
	payments domain.PaymentClient,
	publisher domain.EventPublisher,
	logger *log.Entry,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "order-service")
	}
	s := &Service{
		repo:      repo,
		stock:     stock,
		payments:  payments,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	if id <= 0 {
		return domain.Order{}, domain.ErrOrderIDInvalid
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) GetOrdersByCustomer(ctx context.Context, customerID uuid.UUID) ([]domain.Order, error) {
	return s.repo.ListByCustomer(ctx, customerID)
}

func (s *Service) ListOrders(ctx context.Context) ([]domain.Order, error) {
	return s.repo.List(ctx)
}

// CreateOrder проверяет наличие каждой позиции, сохраняет заказ и публикует OrderCreated.
// Публикация завершает фазу до резерва: если она не удалась, заказ удаляется.
// Резервирование дальше идёт асинхронно через консьюмер склада.
func (s *Service) CreateOrder(ctx context.Context, customerID uuid.UUID, items []domain.OrderItem) (domain.Order, error) {
	if customerID == uuid.Nil {
		customerID = uuid.New()
	}
	now := s.now()
	order := domain.Order{
		CustomerID: customerID,
		Items:      make([]domain.OrderItem, 0, len(items)),
		Status:     domain.OrderStatusCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, item := range items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	if err := order.Validate(); err != nil {
		return domain.Order{}, err
	}

	start := time.Now()
	for _, item := range order.Items {
		ok, err := s.stock.IsAvailable(ctx, item.ProductID, item.Quantity)
		if err != nil {
			return domain.Order{}, fmt.Errorf("check availability of %s: %w", item.ProductID, err)
		}
		if !ok {
			return domain.Order{}, fmt.Errorf("%w: product %s, quantity %d", domain.ErrStockUnavailable, item.ProductID, item.Quantity)
		}
	}
	s.metrics.RecordStepDuration(string(domain.SagaStepAvailability), time.Since(start))

	order.RecalculateTotal()
	created, err := s.repo.Create(ctx, order)
	if err != nil {
		return domain.Order{}, err
	}
	logger := s.logger.WithFields(log.Fields{"order_id": created.ID, "customer_id": created.CustomerID})

	// Статус двигается до публикации: обратный вызов склада может прийти раньше,
	// чем вернётся Publish, и не должен быть затёрт.
	pending, err := s.repo.UpdateStatus(ctx, created.ID, domain.OrderStatusStockPending, s.now())
	if err != nil {
		s.deleteCreated(ctx, created.ID, logger)
		return domain.Order{}, err
	}

	start = time.Now()
	err = s.publisher.Publish(ctx, domain.TopicOrderCreated, domain.OrderEventKey(created.ID), domain.NewOrderCreatedEvent(created))
	s.metrics.RecordStepDuration(string(domain.SagaStepPublish), time.Since(start))
	if err != nil {
		logger.WithError(err).Warn("order-created publish failed, order removed")
		s.deleteCreated(ctx, created.ID, logger)
		return domain.Order{}, fmt.Errorf("%w: %v", domain.ErrPublishFailed, err)
	}

	s.metrics.RecordOrderCreated()
	logger.WithField("total", created.TotalAmount.StringFixed(2)).Info("order created")
	return pending, nil
}

func (s *Service) deleteCreated(ctx context.Context, orderID int64, logger *log.Entry) {
	if err := s.repo.Delete(ctx, orderID); err != nil {
		logger.WithError(err).Error("compensation: delete unpublished order failed")
		s.metrics.RecordCompensation("delete_order", false)
		return
	}
	s.metrics.RecordCompensation("delete_order", true)
}

// CancelOrder отменяет заказ и снимает резервы. Заказ с проведённым платежом
// отменить нельзя, только вернуть платёж. Публикация OrderCancelled не критична.
func (s *Service) CancelOrder(ctx context.Context, orderID int64, reason string) (domain.Order, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	switch order.Status {
	case domain.OrderStatusCancelled:
		return order, nil
	case domain.OrderStatusCompleted, domain.OrderStatusRefunded, domain.OrderStatusManualIntervention:
		return domain.Order{}, fmt.Errorf("%w: order %d is %s", domain.ErrInvalidTransition, orderID, order.Status)
	}
	if err := s.ensureNoCompletedPayment(ctx, orderID); err != nil {
		return domain.Order{}, err
	}

	cancelled, err := s.repo.UpdateStatus(ctx, orderID, domain.OrderStatusCancelled, s.now())
	if err != nil {
		return domain.Order{}, err
	}
	logger := s.logger.WithField("order_id", orderID)

	if err := s.stock.CancelAllForOrder(ctx, orderID); err != nil {
		logger.WithError(err).Error("compensation: release reservations of cancelled order failed")
		s.metrics.RecordCompensation("cancel_order", false)
	} else {
		s.metrics.RecordCompensation("cancel_order", true)
	}

	evt := domain.NewOrderCancelledEvent(cancelled, reason, s.now())
	if err := s.publisher.Publish(ctx, domain.TopicOrderCancelled, domain.OrderEventKey(orderID), evt); err != nil {
		logger.WithError(err).Warn("order-cancelled publish failed")
	}

	s.metrics.RecordOrderCancelled()
	logger.WithField("reason", evt.CancelReason).Info("order cancelled")
	return cancelled, nil
}

// DeleteOrder удаляет заказ без проведённого платежа. Резервы должны быть сняты до удаления.
func (s *Service) DeleteOrder(ctx context.Context, orderID int64) error {
	if _, err := s.GetOrder(ctx, orderID); err != nil {
		return err
	}
	if err := s.ensureNoCompletedPayment(ctx, orderID); err != nil {
		return err
	}
	if err := s.stock.CancelAllForOrder(ctx, orderID); err != nil {
		return fmt.Errorf("release reservations of order %d: %w", orderID, err)
	}
	if err := s.repo.Delete(ctx, orderID); err != nil {
		return err
	}
	s.logger.WithField("order_id", orderID).Info("order deleted")
	return nil
}

// UpdateOrderStatus служит точкой обратного вызова для сервисов склада и платежей.
// Бизнес-проверок нет, только существование заказа и известный статус.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID int64, status domain.OrderStatus) (domain.Order, error) {
	if orderID <= 0 {
		return domain.Order{}, domain.ErrOrderIDInvalid
	}
	parsed, err := domain.ParseOrderStatus(string(status))
	if err != nil {
		return domain.Order{}, err
	}
	order, err := s.repo.UpdateStatus(ctx, orderID, parsed, s.now())
	if err != nil {
		return domain.Order{}, err
	}
	s.logger.WithFields(log.Fields{"order_id": orderID, "status": parsed}).Info("order status updated")
	return order, nil
}

func (s *Service) ensureNoCompletedPayment(ctx context.Context, orderID int64) error {
	payment, err := s.payments.GetPaymentByOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("get payment of order %d: %w", orderID, err)
	}
	if payment != nil && payment.Status == domain.PaymentStatusCompleted {
		return domain.ErrPaymentCompleted
	}
	return nil
}
