package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RefundWindow задаёт срок с момента создания платежа, в течение которого возможен возврат.
const RefundWindow = 30 * 24 * time.Hour

// PaymentStatus описывает состояние платежа.
type PaymentStatus string

const (
	// PaymentStatusPending — платёж создан и ждёт проведения через банк.
	PaymentStatusPending PaymentStatus = "Pending"
	// PaymentStatusCompleted — деньги списаны, точка невозврата саги пройдена.
	PaymentStatusCompleted PaymentStatus = "Completed"
	// PaymentStatusFailed — банк отклонил платёж.
	PaymentStatusFailed PaymentStatus = "Failed"
	// PaymentStatusCancelled — платёж отменён до проведения.
	PaymentStatusCancelled PaymentStatus = "Cancelled"
	// PaymentStatusRefunded — деньги полностью возвращены клиенту.
	PaymentStatusRefunded PaymentStatus = "Refunded"
)

// ParsePaymentStatus разбирает статус платежа без учёта регистра.
func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	raw = strings.TrimSpace(raw)
	for _, s := range []PaymentStatus{
		PaymentStatusPending,
		PaymentStatusCompleted,
		PaymentStatusFailed,
		PaymentStatusCancelled,
		PaymentStatusRefunded,
	} {
		if strings.EqualFold(string(s), raw) {
			return s, nil
		}
	}
	return "", ErrStatusInvalid
}

// Payment описывает платёж по заказу. На один заказ приходится не больше одного платежа.
type Payment struct {
	ID            int64           `json:"id"`
	OrderID       int64           `json:"orderId"`
	Amount        decimal.Decimal `json:"amount"`
	Status        PaymentStatus   `json:"status"`
	PaymentMethod string          `json:"paymentMethod"`
	TransactionID string          `json:"transactionId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// IsProcessed сообщает, что платёж дошёл до банка и прошёл успешно (в том числе позже был возвращён).
func (p *Payment) IsProcessed() bool {
	return p.Status == PaymentStatusCompleted || p.Status == PaymentStatusRefunded
}

// CheckRefund проверяет правила возврата: только Completed, в пределах RefundWindow,
// один раз и только на полную сумму.
func (p *Payment) CheckRefund(amount decimal.Decimal, now time.Time, alreadyRefunded bool) error {
	if alreadyRefunded || p.Status == PaymentStatusRefunded {
		return ErrAlreadyRefunded
	}
	if p.Status != PaymentStatusCompleted {
		return ErrInvalidTransition
	}
	if now.Sub(p.CreatedAt) > RefundWindow {
		return ErrRefundWindowExpired
	}
	if !amount.Equal(p.Amount) {
		return ErrPartialRefund
	}
	return nil
}

// PaymentRefund хранит неизменяемую запись аудита о возврате.
type PaymentRefund struct {
	ID        int64           `json:"id"`
	PaymentID int64           `json:"paymentId"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	CreatedAt time.Time       `json:"createdAt"`
}
