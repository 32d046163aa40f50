package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

const (
	productColumns     = `id, name, description, price, quantity_in_stock, created_at, updated_at`
	reservationColumns = `id, order_id, product_id, quantity, status, created_at, updated_at`
)

// stockRepository держит строки товара и резерва под FOR UPDATE внутри одной
// транзакции, поэтому остаток и резерв меняются вместе.
type stockRepository struct {
	db *sql.DB
}

// NewStockRepository создаёт PostgreSQL-реализацию StockRepository.
func NewStockRepository(store *Store) domain.StockRepository {
	return &stockRepository{db: store.DB()}
}

func (r *stockRepository) GetProduct(ctx context.Context, id uuid.UUID) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	product, err := scanProduct(r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return product, nil
}

func (r *stockRepository) ListProducts(ctx context.Context) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

func (r *stockRepository) CreateProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		product.ID, product.Name, product.Description, product.Price,
		product.QuantityInStock, product.CreatedAt, product.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Product{}, domain.ErrInvalidTransition
		}
		return domain.Product{}, fmt.Errorf("insert product: %w", err)
	}
	return product, nil
}

func (r *stockRepository) UpdateProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err := r.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $1, description = $2, price = $3, quantity_in_stock = $4, updated_at = $5
		WHERE id = $6
		RETURNING created_at
	`,
		product.Name, product.Description, product.Price, product.QuantityInStock, product.UpdatedAt, product.ID,
	).Scan(&product.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("update product: %w", err)
	}
	return product, nil
}

func (r *stockRepository) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return expectOneRow(res, domain.ErrProductNotFound)
}

func (r *stockRepository) GetReservation(ctx context.Context, id uuid.UUID) (domain.StockReservation, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	reservation, err := scanReservation(r.db.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM stock_reservations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockReservation{}, domain.ErrReservationNotFound
		}
		return domain.StockReservation{}, fmt.Errorf("select reservation: %w", err)
	}
	return reservation, nil
}

// ListReservationsByOrder возвращает резервы заказа в порядке создания.
func (r *stockRepository) ListReservationsByOrder(ctx context.Context, orderID int64) ([]domain.StockReservation, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+reservationColumns+`
		FROM stock_reservations
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	result := make([]domain.StockReservation, 0)
	for rows.Next() {
		reservation, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		result = append(result, reservation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservations: %w", err)
	}
	return result, nil
}

func (r *stockRepository) ListStaleReservations(ctx context.Context, before time.Time, limit int) ([]domain.StockReservation, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+reservationColumns+`
		FROM stock_reservations
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC, id ASC
		LIMIT $3
	`, string(domain.ReservationStatusReserved), before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale reservations: %w", err)
	}
	defer rows.Close()

	result := make([]domain.StockReservation, 0)
	for rows.Next() {
		reservation, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		result = append(result, reservation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale reservations: %w", err)
	}
	return result, nil
}

func (r *stockRepository) Reserve(ctx context.Context, req domain.ReservationRequest, newID uuid.UUID, now time.Time) (reservation domain.StockReservation, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StockReservation{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	product, err := scanProduct(tx.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, req.ProductID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockReservation{}, domain.ErrProductNotFound
		}
		return domain.StockReservation{}, fmt.Errorf("lock product: %w", err)
	}
	if err = product.Take(req.Quantity, now); err != nil {
		return domain.StockReservation{}, err
	}
	if _, err = tx.ExecContext(ctx, `
		UPDATE products SET quantity_in_stock = $1, updated_at = $2 WHERE id = $3
	`, product.QuantityInStock, now, product.ID); err != nil {
		return domain.StockReservation{}, fmt.Errorf("take stock: %w", err)
	}

	reservation, err = scanReservation(tx.QueryRowContext(ctx, `
		SELECT `+reservationColumns+`
		FROM stock_reservations
		WHERE order_id = $1 AND product_id = $2 AND status = $3
		FOR UPDATE
	`, req.OrderID, req.ProductID, string(domain.ReservationStatusReserved)))
	switch {
	case err == nil:
		reservation.Quantity += req.Quantity
		reservation.UpdatedAt = now
		if _, err = tx.ExecContext(ctx, `
			UPDATE stock_reservations SET quantity = $1, updated_at = $2 WHERE id = $3
		`, reservation.Quantity, now, reservation.ID); err != nil {
			return domain.StockReservation{}, fmt.Errorf("merge reservation: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		reservation = domain.StockReservation{
			ID:        newID,
			OrderID:   req.OrderID,
			ProductID: req.ProductID,
			Quantity:  req.Quantity,
			Status:    domain.ReservationStatusReserved,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO stock_reservations (`+reservationColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`,
			reservation.ID, reservation.OrderID, reservation.ProductID, reservation.Quantity,
			string(reservation.Status), reservation.CreatedAt, reservation.UpdatedAt,
		); err != nil {
			return domain.StockReservation{}, fmt.Errorf("insert reservation: %w", err)
		}
	default:
		return domain.StockReservation{}, fmt.Errorf("lock active reservation: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return domain.StockReservation{}, fmt.Errorf("commit reserve: %w", err)
	}
	return reservation, nil
}

func (r *stockRepository) Confirm(ctx context.Context, id uuid.UUID, now time.Time) (reservation domain.StockReservation, changed bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StockReservation{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	reservation, err = lockReservation(ctx, tx, id)
	if err != nil {
		return domain.StockReservation{}, false, err
	}
	changed, err = reservation.Confirm(now)
	if err != nil {
		return reservation, false, err
	}
	if changed {
		if _, err = tx.ExecContext(ctx, `
			UPDATE stock_reservations SET status = $1, updated_at = $2 WHERE id = $3
		`, string(reservation.Status), now, id); err != nil {
			return domain.StockReservation{}, false, fmt.Errorf("confirm reservation: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return domain.StockReservation{}, false, fmt.Errorf("commit confirm: %w", err)
	}
	return reservation, changed, nil
}

func (r *stockRepository) Cancel(ctx context.Context, id uuid.UUID, now time.Time) (reservation domain.StockReservation, restored int, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StockReservation{}, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	reservation, err = lockReservation(ctx, tx, id)
	if err != nil {
		return domain.StockReservation{}, 0, err
	}
	restored = reservation.Cancel(now)
	if restored > 0 {
		if _, err = tx.ExecContext(ctx, `
			UPDATE stock_reservations SET status = $1, updated_at = $2 WHERE id = $3
		`, string(reservation.Status), now, id); err != nil {
			return domain.StockReservation{}, 0, fmt.Errorf("cancel reservation: %w", err)
		}
		if _, err = tx.ExecContext(ctx, `
			UPDATE products SET quantity_in_stock = quantity_in_stock + $1, updated_at = $2 WHERE id = $3
		`, restored, now, reservation.ProductID); err != nil {
			return domain.StockReservation{}, 0, fmt.Errorf("restore stock: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return domain.StockReservation{}, 0, fmt.Errorf("commit cancel: %w", err)
	}
	return reservation, restored, nil
}

func lockReservation(ctx context.Context, tx *sql.Tx, id uuid.UUID) (domain.StockReservation, error) {
	reservation, err := scanReservation(tx.QueryRowContext(ctx, `
		SELECT `+reservationColumns+` FROM stock_reservations WHERE id = $1 FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockReservation{}, domain.ErrReservationNotFound
		}
		return domain.StockReservation{}, fmt.Errorf("lock reservation: %w", err)
	}
	return reservation, nil
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.QuantityInStock, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func scanReservation(row rowScanner) (domain.StockReservation, error) {
	var (
		res    domain.StockReservation
		status string
	)
	if err := row.Scan(&res.ID, &res.OrderID, &res.ProductID, &res.Quantity, &status, &res.CreatedAt, &res.UpdatedAt); err != nil {
		return domain.StockReservation{}, err
	}
	res.Status = domain.ReservationStatus(status)
	return res, nil
}

var _ domain.StockRepository = (*stockRepository)(nil)
