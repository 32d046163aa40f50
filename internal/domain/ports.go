package domain

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventPublisher публикует событие в шину. Реализация должна сообщать об ошибке,
// а не глотать её: для создания заказа публикация является точкой невозврата.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

// StockClient даёт синхронный доступ к сервису склада из других сервисов.
// Отсутствие сущности возвращается как nil без ошибки.
type StockClient interface {
	IsAvailable(ctx context.Context, productID uuid.UUID, quantity int) (bool, error)
	Reserve(ctx context.Context, req ReservationRequest) (*StockReservation, error)
	Cancel(ctx context.Context, reservationID uuid.UUID) error
	ConfirmAllForOrder(ctx context.Context, orderID int64) error
	CancelAllForOrder(ctx context.Context, orderID int64) error
	ListReservationsByOrder(ctx context.Context, orderID int64) ([]StockReservation, error)
}

// OrderClient выполняет обратные вызовы в сервис заказов.
type OrderClient interface {
	GetOrder(ctx context.Context, orderID int64) (*Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status OrderStatus) error
}

// PaymentClient выполняет запросы сервиса заказов к сервису платежей.
type PaymentClient interface {
	GetPaymentByOrder(ctx context.Context, orderID int64) (*Payment, error)
}

// BankGateway проводит списание. Ошибка или approved=false означают отказ банка.
type BankGateway interface {
	Settle(ctx context.Context, orderID int64, amount decimal.Decimal, method string) (transactionID string, approved bool, err error)
}

// SagaStep задаёт константы шагов для метрик и логов.
type SagaStep string

const (
	SagaStepAvailability SagaStep = "availability"
	SagaStepReserve      SagaStep = "reserve"
	SagaStepPublish      SagaStep = "publish"
	SagaStepSettle       SagaStep = "settle"
	SagaStepConfirm      SagaStep = "confirm"
	SagaStepRelease      SagaStep = "release"
	SagaStepCallback     SagaStep = "callback"
	SagaStepExpire       SagaStep = "expire"
)
