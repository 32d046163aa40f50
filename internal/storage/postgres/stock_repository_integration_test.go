package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

func TestStockRepository_PostgresReserveMergeAndCancel(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewStockRepository(store)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC().Round(time.Microsecond)
	product, err := repo.CreateProduct(ctx, domain.Product{
		ID:              uuid.New(),
		Name:            "Widget",
		Price:           decimal.RequireFromString("9.99"),
		QuantityInStock: 10,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	req := domain.ReservationRequest{OrderID: 1, ProductID: product.ID, Quantity: 3}
	first, err := repo.Reserve(ctx, req, uuid.New(), now)
	if err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	second, err := repo.Reserve(ctx, req, uuid.New(), now)
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if second.ID != first.ID || second.Quantity != 6 {
		t.Fatalf("expected merged reservation, got first=%+v second=%+v", first, second)
	}

	reservations, err := repo.ListReservationsByOrder(ctx, 1)
	if err != nil {
		t.Fatalf("list reservations: %v", err)
	}
	if len(reservations) != 1 {
		t.Fatalf("expected one active row, got %d", len(reservations))
	}

	if _, err := repo.Reserve(ctx, domain.ReservationRequest{OrderID: 2, ProductID: product.ID, Quantity: 5}, uuid.New(), now); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	_, restored, err := repo.Cancel(ctx, first.ID, now)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if restored != 6 {
		t.Fatalf("unexpected restored quantity: %d", restored)
	}

	got, err := repo.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if got.QuantityInStock != 10 {
		t.Fatalf("stock not restored: %d", got.QuantityInStock)
	}
}

func TestPaymentRepository_PostgresOnePaymentPerOrder(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewPaymentRepository(store)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC().Round(time.Microsecond)
	payment := domain.Payment{
		OrderID:       5,
		Amount:        decimal.RequireFromString("20.00"),
		Status:        domain.PaymentStatusPending,
		PaymentMethod: "card",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := repo.Create(ctx, payment); err != nil {
		t.Fatalf("create payment: %v", err)
	}
	if _, err := repo.Create(ctx, payment); !errors.Is(err, domain.ErrPaymentExists) {
		t.Fatalf("expected ErrPaymentExists, got %v", err)
	}
}
