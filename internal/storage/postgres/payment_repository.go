package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

const paymentColumns = `id, order_id, amount, status, payment_method, transaction_id, created_at, updated_at`

type paymentRepository struct {
	db *sql.DB
}

// NewPaymentRepository создаёт PostgreSQL-реализацию PaymentRepository.
func NewPaymentRepository(store *Store) domain.PaymentRepository {
	return &paymentRepository{db: store.DB()}
}

func (r *paymentRepository) Create(ctx context.Context, payment domain.Payment) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO payments (order_id, amount, status, payment_method, transaction_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`,
		payment.OrderID, payment.Amount, string(payment.Status), payment.PaymentMethod,
		payment.TransactionID, payment.CreatedAt, payment.UpdatedAt,
	).Scan(&payment.ID)
	if err != nil {
		// order_id уникален: второй платёж на заказ отклоняется базой.
		if isUniqueViolation(err) {
			return domain.Payment{}, domain.ErrPaymentExists
		}
		return domain.Payment{}, fmt.Errorf("insert payment: %w", err)
	}
	return payment, nil
}

func (r *paymentRepository) Get(ctx context.Context, id int64) (domain.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
}

func (r *paymentRepository) GetByOrder(ctx context.Context, orderID int64) (domain.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1`, orderID)
}

func (r *paymentRepository) getOne(ctx context.Context, query string, arg int64) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	payment, err := scanPayment(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("select payment: %w", err)
	}
	return payment, nil
}

func (r *paymentRepository) List(ctx context.Context) ([]domain.Payment, error) {
	return r.list(ctx, `SELECT `+paymentColumns+` FROM payments ORDER BY id ASC`)
}

func (r *paymentRepository) ListByStatus(ctx context.Context, status domain.PaymentStatus) ([]domain.Payment, error) {
	return r.list(ctx, `SELECT `+paymentColumns+` FROM payments WHERE status = $1 ORDER BY id ASC`, string(status))
}

func (r *paymentRepository) list(ctx context.Context, query string, args ...any) ([]domain.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0)
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return payments, nil
}

func (r *paymentRepository) Save(ctx context.Context, payment domain.Payment) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, savePaymentSQL,
		string(payment.Status), payment.TransactionID, payment.UpdatedAt, payment.ID,
	)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("update payment: %w", err)
	}
	if err := expectOneRow(res, domain.ErrPaymentNotFound); err != nil {
		return domain.Payment{}, err
	}
	return payment, nil
}

const savePaymentSQL = `
	UPDATE payments
	SET status = $1, transaction_id = $2, updated_at = $3
	WHERE id = $4
`

func (r *paymentRepository) HasRefund(ctx context.Context, paymentID int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var exists bool
	if err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM payment_refunds WHERE payment_id = $1)
	`, paymentID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check refund: %w", err)
	}
	return exists, nil
}

// Refund записывает возврат и статус платежа в одной транзакции.
func (r *paymentRepository) Refund(ctx context.Context, payment domain.Payment, refund domain.PaymentRefund) (saved domain.Payment, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payment_refunds (payment_id, amount, reason, created_at)
		VALUES ($1,$2,$3,$4)
	`, payment.ID, refund.Amount, refund.Reason, refund.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Payment{}, domain.ErrAlreadyRefunded
		}
		return domain.Payment{}, fmt.Errorf("insert refund: %w", err)
	}

	res, err := tx.ExecContext(ctx, savePaymentSQL,
		string(payment.Status), payment.TransactionID, payment.UpdatedAt, payment.ID,
	)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("update refunded payment: %w", err)
	}
	if err = expectOneRow(res, domain.ErrPaymentNotFound); err != nil {
		return domain.Payment{}, err
	}

	if err = tx.Commit(); err != nil {
		return domain.Payment{}, fmt.Errorf("commit refund: %w", err)
	}
	return payment, nil
}

func scanPayment(row rowScanner) (domain.Payment, error) {
	var (
		p      domain.Payment
		status string
	)
	if err := row.Scan(&p.ID, &p.OrderID, &p.Amount, &status, &p.PaymentMethod, &p.TransactionID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Payment{}, err
	}
	p.Status = domain.PaymentStatus(status)
	return p, nil
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
