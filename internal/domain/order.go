package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа в саге.
type OrderStatus string

const (
	OrderStatusCreated          OrderStatus = "Created"
	OrderStatusStockPending     OrderStatus = "StockPending"
	OrderStatusStockReserved    OrderStatus = "StockReserved"
	OrderStatusStockConfirmed   OrderStatus = "StockConfirmed"
	OrderStatusPaymentPending   OrderStatus = "PaymentPending"
	OrderStatusPaymentCompleted OrderStatus = "PaymentCompleted"
	OrderStatusCompleted        OrderStatus = "Completed"

	OrderStatusCancelled          OrderStatus = "Cancelled"
	OrderStatusStockCancelled     OrderStatus = "StockCancelled"
	OrderStatusStockExpired       OrderStatus = "StockExpired"
	OrderStatusPaymentFailed      OrderStatus = "PaymentFailed"
	OrderStatusRefunded           OrderStatus = "Refunded"
	OrderStatusManualIntervention OrderStatus = "ManualIntervention"
)

var allOrderStatuses = []OrderStatus{
	OrderStatusCreated,
	OrderStatusStockPending,
	OrderStatusStockReserved,
	OrderStatusStockConfirmed,
	OrderStatusPaymentPending,
	OrderStatusPaymentCompleted,
	OrderStatusCompleted,
	OrderStatusCancelled,
	OrderStatusStockCancelled,
	OrderStatusStockExpired,
	OrderStatusPaymentFailed,
	OrderStatusRefunded,
	OrderStatusManualIntervention,
}

// ParseOrderStatus разбирает статус без учёта регистра и пробелов по краям.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	raw = strings.TrimSpace(raw)
	for _, s := range allOrderStatuses {
		if strings.EqualFold(string(s), raw) {
			return s, nil
		}
	}
	return "", ErrStatusInvalid
}

// IsPrePivot сообщает, что сагу ещё можно прервать удалением или отменой заказа.
func (s OrderStatus) IsPrePivot() bool {
	switch s {
	case OrderStatusCreated, OrderStatusStockPending, OrderStatusStockReserved:
		return true
	}
	return false
}

// IsPostPivot сообщает, что платёж проведён и сага двигается только вперёд или через явную компенсацию.
func (s OrderStatus) IsPostPivot() bool {
	switch s {
	case OrderStatusStockConfirmed,
		OrderStatusPaymentPending,
		OrderStatusPaymentCompleted,
		OrderStatusCompleted,
		OrderStatusPaymentFailed,
		OrderStatusRefunded,
		OrderStatusManualIntervention:
		return true
	}
	return false
}

// IsFinal сообщает, что автоматических переходов из статуса больше нет.
func (s OrderStatus) IsFinal() bool {
	switch s {
	case OrderStatusCompleted,
		OrderStatusCancelled,
		OrderStatusStockCancelled,
		OrderStatusStockExpired,
		OrderStatusRefunded,
		OrderStatusManualIntervention:
		return true
	}
	return false
}

// OrderItem — позиция заказа. ProductID не меняется после создания.
type OrderItem struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"orderId"`
	ProductID uuid.UUID       `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// LineTotal возвращает quantity * unit price.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Validate проверяет поля позиции.
func (i OrderItem) Validate() error {
	switch {
	case i.ProductID == uuid.Nil:
		return ErrItemProductRequired
	case i.Quantity <= 0:
		return ErrItemQuantityInvalid
	case i.UnitPrice.IsNegative():
		return ErrItemPriceInvalid
	}
	return nil
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID          int64           `json:"id"`
	CustomerID  uuid.UUID       `json:"customerId"`
	Items       []OrderItem     `json:"items"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Status      OrderStatus     `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// RecalculateTotal пересчитывает сумму заказа по позициям.
func (o *Order) RecalculateTotal() {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.LineTotal())
	}
	o.TotalAmount = total
}

// Validate возвращает первое нарушение инвариантов заказа.
func (o *Order) Validate() error {
	if len(o.Items) == 0 {
		return ErrItemsRequired
	}
	for _, item := range o.Items {
		if err := item.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ItemByID ищет позицию по идентификатору.
func (o *Order) ItemByID(id int64) (OrderItem, bool) {
	for _, item := range o.Items {
		if item.ID == id {
			return item, true
		}
	}
	return OrderItem{}, false
}

// Clone возвращает копию заказа с независимым срезом позиций.
func (o Order) Clone() Order {
	items := make([]OrderItem, len(o.Items))
	copy(items, o.Items)
	o.Items = items
	return o
}
