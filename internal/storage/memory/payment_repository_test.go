package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/storage/memory"
)

func TestPaymentRepository_OnePaymentPerOrder(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewPaymentRepository()
	payment := domain.Payment{OrderID: 5, Amount: decimal.NewFromInt(80), Status: domain.PaymentStatusPending}

	created, err := repo.Create(ctx, payment)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.ID != 1 {
		t.Fatalf("expected id 1, got %d", created.ID)
	}
	if _, err := repo.Create(ctx, payment); !errors.Is(err, domain.ErrPaymentExists) {
		t.Fatalf("expected ErrPaymentExists, got %v", err)
	}

	byOrder, err := repo.GetByOrder(ctx, 5)
	if err != nil || byOrder.ID != created.ID {
		t.Fatalf("get by order: %+v err=%v", byOrder, err)
	}
	if _, err := repo.GetByOrder(ctx, 6); !errors.Is(err, domain.ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

func TestPaymentRepository_ListByStatus(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewPaymentRepository()
	for i, status := range []domain.PaymentStatus{domain.PaymentStatusPending, domain.PaymentStatusFailed, domain.PaymentStatusPending} {
		if _, err := repo.Create(ctx, domain.Payment{OrderID: int64(i + 1), Amount: decimal.NewFromInt(1), Status: status}); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	pending, _ := repo.ListByStatus(ctx, domain.PaymentStatusPending)
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending payments, got %d", len(pending))
	}
}

func TestPaymentRepository_RefundOnce(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewPaymentRepository()
	created, _ := repo.Create(ctx, domain.Payment{OrderID: 1, Amount: decimal.NewFromInt(80), Status: domain.PaymentStatusCompleted})

	created.Status = domain.PaymentStatusRefunded
	refund := domain.PaymentRefund{Amount: created.Amount, Reason: "damaged", CreatedAt: time.Now().UTC()}
	if _, err := repo.Refund(ctx, created, refund); err != nil {
		t.Fatalf("refund failed: %v", err)
	}

	has, err := repo.HasRefund(ctx, created.ID)
	if err != nil || !has {
		t.Fatalf("expected refund recorded, has=%v err=%v", has, err)
	}
	stored, _ := repo.Get(ctx, created.ID)
	if stored.Status != domain.PaymentStatusRefunded {
		t.Fatalf("expected Refunded, got %s", stored.Status)
	}

	if _, err := repo.Refund(ctx, created, refund); !errors.Is(err, domain.ErrAlreadyRefunded) {
		t.Fatalf("expected ErrAlreadyRefunded, got %v", err)
	}
}
