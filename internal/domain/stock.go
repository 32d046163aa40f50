package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReservationStatus отражает статус резерва товара. Confirmed и Cancelled терминальные.
type ReservationStatus string

const (
	// ReservationStatusReserved — товар удерживается под заказ, остаток уже уменьшен.
	ReservationStatusReserved ReservationStatus = "Reserved"
	// ReservationStatusConfirmed — резерв подтверждён после оплаты.
	ReservationStatusConfirmed ReservationStatus = "Confirmed"
	// ReservationStatusCancelled — резерв снят, остаток возвращён.
	ReservationStatusCancelled ReservationStatus = "Cancelled"
)

// Product — товар на складе. QuantityInStock никогда не уходит в минус.
type Product struct {
	ID              uuid.UUID       `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Price           decimal.Decimal `json:"price"`
	QuantityInStock int             `json:"quantityInStock"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Validate проверяет карточку товара.
func (p *Product) Validate() error {
	switch {
	case p.Name == "":
		return ErrProductNameRequired
	case p.Price.IsNegative():
		return ErrItemPriceInvalid
	case p.QuantityInStock < 0:
		return ErrStockNegative
	}
	return nil
}

// Available сообщает, хватает ли товара на qty единиц.
func (p *Product) Available(qty int) bool {
	return qty > 0 && p.QuantityInStock >= qty
}

// Take списывает qty единиц со склада.
func (p *Product) Take(qty int, now time.Time) error {
	if qty <= 0 {
		return ErrItemQuantityInvalid
	}
	if p.QuantityInStock < qty {
		return ErrInsufficientStock
	}
	p.QuantityInStock -= qty
	p.UpdatedAt = now
	return nil
}

// Restore возвращает qty единиц на склад.
func (p *Product) Restore(qty int, now time.Time) {
	if qty <= 0 {
		return
	}
	p.QuantityInStock += qty
	p.UpdatedAt = now
}

// StockReservation удерживает остаток товара под конкретный заказ.
type StockReservation struct {
	ID        uuid.UUID         `json:"id"`
	OrderID   int64             `json:"orderId"`
	ProductID uuid.UUID         `json:"productId"`
	Quantity  int               `json:"quantity"`
	Status    ReservationStatus `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Confirm переводит Reserved -> Confirmed. Повторное подтверждение ничего не меняет,
// подтверждать отменённый резерв нельзя.
func (r *StockReservation) Confirm(now time.Time) (bool, error) {
	switch r.Status {
	case ReservationStatusReserved:
		r.Status = ReservationStatusConfirmed
		r.UpdatedAt = now
		return true, nil
	case ReservationStatusConfirmed:
		return false, nil
	default:
		return false, ErrReservationTerminal
	}
}

// Cancel переводит Reserved -> Cancelled и возвращает количество, которое нужно вернуть на склад.
// Для Confirmed и Cancelled это no-op с нулевым возвратом.
func (r *StockReservation) Cancel(now time.Time) int {
	if r.Status != ReservationStatusReserved {
		return 0
	}
	r.Status = ReservationStatusCancelled
	r.UpdatedAt = now
	return r.Quantity
}

// ReservationRequest описывает запрос на резерв одной позиции.
type ReservationRequest struct {
	OrderID   int64     `json:"orderId"`
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
}

// Validate проверяет запрос на резерв.
func (r ReservationRequest) Validate() error {
	switch {
	case r.OrderID <= 0:
		return ErrOrderIDInvalid
	case r.ProductID == uuid.Nil:
		return ErrItemProductRequired
	case r.Quantity <= 0:
		return ErrItemQuantityInvalid
	}
	return nil
}
