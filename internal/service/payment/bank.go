package payment

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

// Режимы симулятора банка.
const (
	BankModeApprove = "approve"
	BankModeDecline = "decline"
)

// SimulatedBank реализует настраиваемый BankGateway. Реального эквайринга нет:
// по умолчанию любое списание одобряется.
type SimulatedBank struct {
	mu      sync.Mutex
	Approve bool
	Err     error

	Calls int
}

// NewAlwaysApproveBank возвращает банк, который одобряет все списания.
func NewAlwaysApproveBank() *SimulatedBank {
	return &SimulatedBank{Approve: true}
}

// NewBank создаёт симулятор по режиму из конфигурации; неизвестный режим означает approve.
func NewBank(mode string) *SimulatedBank {
	if mode == BankModeDecline {
		return &SimulatedBank{Approve: false}
	}
	return NewAlwaysApproveBank()
}

// Settle возвращает настроенный результат и считает вызовы.
func (b *SimulatedBank) Settle(ctx context.Context, orderID int64, amount decimal.Decimal, method string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Calls++
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if b.Err != nil {
		return "", false, b.Err
	}
	if !b.Approve {
		return "", false, nil
	}
	return uuid.NewString(), true, nil
}

var _ domain.BankGateway = (*SimulatedBank)(nil)
