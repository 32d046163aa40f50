package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Топики шины событий жизненного цикла заказа.
const (
	TopicOrderCreated   = "order-created"
	TopicOrderCancelled = "order-cancelled"
)

// DefaultCancelReason используется, если причина отмены не передана.
const DefaultCancelReason = "cancelled by customer request"

// OrderEventKey формирует ключ сообщения, чтобы события одного заказа попадали в одну партицию.
func OrderEventKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// EventItem описывает позицию заказа в payload события.
type EventItem struct {
	ProductID uuid.UUID       `json:"productId"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// OrderCreatedEvent публикуется после сохранения заказа.
type OrderCreatedEvent struct {
	OrderID     int64           `json:"orderId"`
	CustomerID  uuid.UUID       `json:"customerId"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Items       []EventItem     `json:"items"`
}

// OrderCancelledEvent публикуется после отмены заказа.
type OrderCancelledEvent struct {
	OrderID      int64       `json:"orderId"`
	CustomerID   uuid.UUID   `json:"customerId"`
	CancelReason string      `json:"cancelReason"`
	Items        []EventItem `json:"items"`
	Timestamp    time.Time   `json:"timestamp"`
}

// EventItems переводит позиции заказа в формат события.
func EventItems(items []OrderItem) []EventItem {
	out := make([]EventItem, 0, len(items))
	for _, item := range items {
		out = append(out, EventItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.UnitPrice,
		})
	}
	return out
}

// NewOrderCreatedEvent собирает событие создания заказа.
func NewOrderCreatedEvent(order Order) OrderCreatedEvent {
	return OrderCreatedEvent{
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		TotalAmount: order.TotalAmount,
		Items:       EventItems(order.Items),
	}
}

// NewOrderCancelledEvent собирает событие отмены заказа.
func NewOrderCancelledEvent(order Order, reason string, at time.Time) OrderCancelledEvent {
	if reason == "" {
		reason = DefaultCancelReason
	}
	return OrderCancelledEvent{
		OrderID:      order.ID,
		CustomerID:   order.CustomerID,
		CancelReason: reason,
		Items:        EventItems(order.Items),
		Timestamp:    at.UTC(),
	}
}
