package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ, присваивает идентификаторы заказу и позициям.
	Create(ctx context.Context, order Order) (Order, error)
	// Get возвращает заказ или ErrOrderNotFound.
	Get(ctx context.Context, id int64) (Order, error)
	// List возвращает все заказы по возрастанию ID.
	List(ctx context.Context) ([]Order, error)
	// ListByCustomer возвращает заказы клиента.
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]Order, error)
	// Save перезаписывает заказ вместе с позициями; новые позиции (ID == 0) получают идентификаторы.
	Save(ctx context.Context, order Order) (Order, error)
	// UpdateStatus меняет только статус.
	UpdateStatus(ctx context.Context, id int64, status OrderStatus, now time.Time) (Order, error)
	// Delete удаляет заказ и его позиции.
	Delete(ctx context.Context, id int64) error
}

// StockRepository владеет товарами и резервами. Reserve, Confirm и Cancel атомарны:
// изменение резерва и остатка товара фиксируются вместе.
type StockRepository interface {
	GetProduct(ctx context.Context, id uuid.UUID) (Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	CreateProduct(ctx context.Context, product Product) (Product, error)
	UpdateProduct(ctx context.Context, product Product) (Product, error)
	DeleteProduct(ctx context.Context, id uuid.UUID) error

	GetReservation(ctx context.Context, id uuid.UUID) (StockReservation, error)
	ListReservationsByOrder(ctx context.Context, orderID int64) ([]StockReservation, error)
	// ListStaleReservations возвращает до limit Reserved-резервов, не менявшихся с before,
	// от самых старых.
	ListStaleReservations(ctx context.Context, before time.Time, limit int) ([]StockReservation, error)

	// Reserve списывает остаток и либо увеличивает существующий Reserved-резерв
	// той же пары (заказ, товар), либо создаёт новый с newID.
	Reserve(ctx context.Context, req ReservationRequest, newID uuid.UUID, now time.Time) (StockReservation, error)
	// Confirm подтверждает резерв; changed=false, если он уже был подтверждён.
	Confirm(ctx context.Context, id uuid.UUID, now time.Time) (reservation StockReservation, changed bool, err error)
	// Cancel снимает резерв и возвращает остаток, если резерв был Reserved.
	Cancel(ctx context.Context, id uuid.UUID, now time.Time) (reservation StockReservation, restored int, err error)
}

// PaymentRepository описывает хранилище платежей и возвратов.
type PaymentRepository interface {
	// Create сохраняет платёж; ErrPaymentExists, если у заказа уже есть платёж.
	Create(ctx context.Context, payment Payment) (Payment, error)
	Get(ctx context.Context, id int64) (Payment, error)
	GetByOrder(ctx context.Context, orderID int64) (Payment, error)
	List(ctx context.Context) ([]Payment, error)
	ListByStatus(ctx context.Context, status PaymentStatus) ([]Payment, error)
	Save(ctx context.Context, payment Payment) (Payment, error)
	// HasRefund сообщает, есть ли запись о возврате для платежа.
	HasRefund(ctx context.Context, paymentID int64) (bool, error)
	// Refund атомарно записывает возврат и сохраняет платёж в статусе Refunded.
	Refund(ctx context.Context, payment Payment, refund PaymentRefund) (Payment, error)
}
