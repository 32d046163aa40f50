package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/metrics"
)

// failedTransactionPrefix помечает идентификатор отклонённого списания.
const failedTransactionPrefix = "FAILED_"

// Service проводит платежи заказов. Проведение через банк является точкой невозврата саги.
type Service struct {
	repo    domain.PaymentRepository
	orders  domain.OrderClient
	stock   domain.StockClient
	bank    domain.BankGateway
	metrics *metrics.SagaMetrics
	logger  *log.Entry
	now     func() time.Time
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

// NewService создаёт сервис платежей. bank == nil означает симулятор, одобряющий всё.
func NewService(
	repo domain.PaymentRepository,
	orders domain.OrderClient,
	stock domain.StockClient,
	bank domain.BankGateway,
	logger *log.Entry,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "payment-service")
	}
	if bank == nil {
		bank = NewAlwaysApproveBank()
	}
	s := &Service{
		repo:   repo,
		orders: orders,
		stock:  stock,
		bank:   bank,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) GetPayment(ctx context.Context, id int64) (domain.Payment, error) {
	if id <= 0 {
		return domain.Payment{}, domain.ErrPaymentIDInvalid
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) GetPaymentByOrder(ctx context.Context, orderID int64) (domain.Payment, error) {
	if orderID <= 0 {
		return domain.Payment{}, domain.ErrOrderIDInvalid
	}
	return s.repo.GetByOrder(ctx, orderID)
}

func (s *Service) ListPayments(ctx context.Context) ([]domain.Payment, error) {
	return s.repo.List(ctx)
}

func (s *Service) ListPaymentsByStatus(ctx context.Context, status domain.PaymentStatus) ([]domain.Payment, error) {
	return s.repo.ListByStatus(ctx, status)
}

// IsPaymentProcessed сообщает, прошло ли списание по заказу. Без платежа ответ false.
func (s *Service) IsPaymentProcessed(ctx context.Context, orderID int64) (bool, error) {
	payment, err := s.GetPaymentByOrder(ctx, orderID)
	if err != nil {
		if domain.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return payment.IsProcessed(), nil
}

// CreatePayment заводит платёж в статусе Pending. Заказ должен существовать,
// быть в StockReserved, не иметь платежа, а сумма должна совпасть с суммой заказа.
func (s *Service) CreatePayment(ctx context.Context, orderID int64, amount decimal.Decimal, method string) (domain.Payment, error) {
	switch {
	case orderID <= 0:
		return domain.Payment{}, domain.ErrOrderIDInvalid
	case !amount.IsPositive():
		return domain.Payment{}, domain.ErrAmountInvalid
	case method == "":
		return domain.Payment{}, domain.ErrPaymentMethodRequired
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("get order %d: %w", orderID, err)
	}
	if order == nil {
		return domain.Payment{}, domain.ErrOrderNotFound
	}
	if order.Status != domain.OrderStatusStockReserved {
		return domain.Payment{}, fmt.Errorf("%w: order %d is %s, want %s",
			domain.ErrInvalidTransition, orderID, order.Status, domain.OrderStatusStockReserved)
	}
	if _, err := s.repo.GetByOrder(ctx, orderID); err == nil {
		return domain.Payment{}, domain.ErrPaymentExists
	} else if !domain.IsNotFound(err) {
		return domain.Payment{}, err
	}
	if !amount.Equal(order.TotalAmount) {
		return domain.Payment{}, fmt.Errorf("%w: got %s, order total %s",
			domain.ErrAmountMismatch, amount.StringFixed(2), order.TotalAmount.StringFixed(2))
	}

	now := s.now()
	payment, err := s.repo.Create(ctx, domain.Payment{
		OrderID:       orderID,
		Amount:        amount,
		Status:        domain.PaymentStatusPending,
		PaymentMethod: method,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return domain.Payment{}, err
	}
	s.logger.WithFields(log.Fields{"order_id": orderID, "payment_id": payment.ID}).Info("payment created")
	return payment, nil
}

// ProcessPayment проводит Pending-платёж заказа.
//
// Отказ банка (или ошибка шлюза) случается ещё до точки невозврата: платёж Failed,
// резервы снимаются, заказ PaymentFailed. После успешного списания резервы
// подтверждаются; если подтвердить не удалось, откатывать нечего: заказ уходит
// в ManualIntervention, платёж остаётся Completed, автоматических повторов нет.
func (s *Service) ProcessPayment(ctx context.Context, orderID int64) (domain.Payment, error) {
	payment, err := s.GetPaymentByOrder(ctx, orderID)
	if err != nil {
		return domain.Payment{}, err
	}
	switch payment.Status {
	case domain.PaymentStatusPending:
	case domain.PaymentStatusCompleted:
		return payment, domain.ErrPaymentCompleted
	default:
		return payment, fmt.Errorf("%w: payment %d is %s", domain.ErrInvalidTransition, payment.ID, payment.Status)
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return payment, fmt.Errorf("get order %d: %w", orderID, err)
	}
	if order == nil {
		return payment, domain.ErrOrderNotFound
	}
	if order.Status.IsFinal() {
		return payment, fmt.Errorf("%w: order %d is %s", domain.ErrInvalidTransition, orderID, order.Status)
	}

	logger := s.logger.WithFields(log.Fields{"order_id": orderID, "payment_id": payment.ID})

	start := time.Now()
	txID, approved, settleErr := s.bank.Settle(ctx, orderID, payment.Amount, payment.PaymentMethod)
	s.metrics.RecordStepDuration(string(domain.SagaStepSettle), time.Since(start))

	if settleErr != nil || !approved {
		return s.abortPayment(ctx, payment, settleErr, logger)
	}

	if txID == "" {
		txID = uuid.NewString()
	}
	payment.Status = domain.PaymentStatusCompleted
	payment.TransactionID = txID
	payment.UpdatedAt = s.now()
	payment, err = s.repo.Save(ctx, payment)
	if err != nil {
		logger.WithError(err).WithField("critical", true).Error("payment settled but could not be stored")
		s.metrics.RecordManualIntervention()
		s.updateOrder(ctx, orderID, domain.OrderStatusManualIntervention, logger)
		return domain.Payment{}, fmt.Errorf("%w: store settled payment: %v", domain.ErrCriticalInconsistency, err)
	}
	s.metrics.RecordPayment("completed")
	logger.WithField("transaction_id", txID).Info("payment settled")

	if err := s.stock.ConfirmAllForOrder(ctx, orderID); err != nil {
		logger.WithError(err).WithFields(log.Fields{
			"critical": true,
			"step":     domain.SagaStepConfirm,
		}).Error("payment settled but stock confirmation failed, manual intervention required")
		s.metrics.RecordManualIntervention()
		s.updateOrder(ctx, orderID, domain.OrderStatusManualIntervention, logger)
		return payment, nil
	}

	s.updateOrder(ctx, orderID, domain.OrderStatusPaymentCompleted, logger)
	return payment, nil
}

// abortPayment фиксирует отказ банка и компенсирует резервы заказа.
func (s *Service) abortPayment(ctx context.Context, payment domain.Payment, settleErr error, logger *log.Entry) (domain.Payment, error) {
	outcome := "declined"
	if settleErr != nil {
		outcome = "failed"
		logger = logger.WithError(settleErr)
	}
	logger.Warn("payment rejected by bank")
	s.metrics.RecordPayment(outcome)

	payment.Status = domain.PaymentStatusFailed
	payment.TransactionID = failedTransactionPrefix + uuid.NewString()
	payment.UpdatedAt = s.now()
	saved, err := s.repo.Save(ctx, payment)
	if err != nil {
		return domain.Payment{}, err
	}

	s.releaseStock(ctx, payment.OrderID, "payment_failed", logger)
	s.updateOrder(ctx, payment.OrderID, domain.OrderStatusPaymentFailed, logger)
	return saved, nil
}

// RefundPayment полностью возвращает Completed-платёж в пределах RefundWindow.
// Возврат возможен один раз и только на всю сумму.
func (s *Service) RefundPayment(ctx context.Context, paymentID int64, amount decimal.Decimal, reason string) (domain.Payment, error) {
	switch {
	case paymentID <= 0:
		return domain.Payment{}, domain.ErrPaymentIDInvalid
	case !amount.IsPositive():
		return domain.Payment{}, domain.ErrAmountInvalid
	case reason == "":
		return domain.Payment{}, domain.ErrRefundReasonRequired
	}

	payment, err := s.repo.Get(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	refunded, err := s.repo.HasRefund(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	now := s.now()
	if err := payment.CheckRefund(amount, now, refunded); err != nil {
		return domain.Payment{}, err
	}

	payment.Status = domain.PaymentStatusRefunded
	payment.UpdatedAt = now
	payment, err = s.repo.Refund(ctx, payment, domain.PaymentRefund{
		PaymentID: paymentID,
		Amount:    amount,
		Reason:    reason,
		CreatedAt: now,
	})
	if err != nil {
		return domain.Payment{}, err
	}
	s.metrics.RecordRefund()

	logger := s.logger.WithFields(log.Fields{"order_id": payment.OrderID, "payment_id": payment.ID})
	logger.WithField("reason", reason).Info("payment refunded")

	s.releaseStock(ctx, payment.OrderID, "refund", logger)
	s.updateOrder(ctx, payment.OrderID, domain.OrderStatusRefunded, logger)
	return payment, nil
}

// CancelPayment отменяет платёж, который ещё не проведён. Проведённый можно только вернуть.
func (s *Service) CancelPayment(ctx context.Context, paymentID int64) (domain.Payment, error) {
	if paymentID <= 0 {
		return domain.Payment{}, domain.ErrPaymentIDInvalid
	}
	payment, err := s.repo.Get(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	switch payment.Status {
	case domain.PaymentStatusPending:
	case domain.PaymentStatusCompleted:
		return domain.Payment{}, domain.ErrPaymentCompleted
	default:
		return domain.Payment{}, fmt.Errorf("%w: payment %d is %s", domain.ErrInvalidTransition, payment.ID, payment.Status)
	}

	payment.Status = domain.PaymentStatusCancelled
	payment.UpdatedAt = s.now()
	payment, err = s.repo.Save(ctx, payment)
	if err != nil {
		return domain.Payment{}, err
	}

	logger := s.logger.WithFields(log.Fields{"order_id": payment.OrderID, "payment_id": payment.ID})
	logger.Info("payment cancelled")

	s.releaseStock(ctx, payment.OrderID, "payment_cancel", logger)
	s.updateOrder(ctx, payment.OrderID, domain.OrderStatusCancelled, logger)
	return payment, nil
}

// releaseStock снимает резервы заказа в качестве компенсации. Ошибка логируется, не повторяется.
func (s *Service) releaseStock(ctx context.Context, orderID int64, operation string, logger *log.Entry) {
	if err := s.stock.CancelAllForOrder(ctx, orderID); err != nil {
		logger.WithError(err).WithField("operation", operation).Error("stock release failed")
		s.metrics.RecordCompensation(operation, false)
		return
	}
	s.metrics.RecordCompensation(operation, true)
}

func (s *Service) updateOrder(ctx context.Context, orderID int64, status domain.OrderStatus, logger *log.Entry) {
	if err := s.orders.UpdateOrderStatus(ctx, orderID, status); err != nil {
		logger.WithError(err).WithFields(log.Fields{
			"status": status,
			"step":   domain.SagaStepCallback,
		}).Error("order status update failed")
	}
}
