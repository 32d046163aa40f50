package order

import (
	"context"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/metrics"
)

// compensation отменяет один шаг изменения резервов.
// reservationID == uuid.Nil означает, что отменять нечего (резерв уже снят шагом),
// При restoreQty > 0 после отмены нужно зарезервировать прежнее количество.
type compensation struct {
	reservationID uuid.UUID
	productID     uuid.UUID
	restoreQty    int
}

// compensations хранит явный список откатов одной операции над заказом.
// Выполняется целиком при неудаче, сам по себе не транзакционен.
type compensations struct {
	orderID int64
	entries []compensation
}

func newCompensations(orderID int64) *compensations {
	return &compensations{orderID: orderID}
}

func (c *compensations) add(entry compensation) {
	c.entries = append(c.entries, entry)
}

// run выполняет откаты в обратном порядке. Неудачный откат логируется и не повторяется.
func (c *compensations) run(ctx context.Context, stock domain.StockClient, m *metrics.SagaMetrics, logger *log.Entry) {
	for i := len(c.entries) - 1; i >= 0; i-- {
		entry := c.entries[i]
		entryLogger := logger.WithFields(log.Fields{
			"order_id":       c.orderID,
			"reservation_id": entry.reservationID,
			"product_id":     entry.productID,
		})

		if entry.reservationID != uuid.Nil {
			if err := stock.Cancel(ctx, entry.reservationID); err != nil {
				entryLogger.WithError(err).Error("compensation: cancel reservation failed")
				m.RecordCompensation("update_rollback", false)
				continue
			}
		}
		if entry.restoreQty > 0 {
			req := domain.ReservationRequest{OrderID: c.orderID, ProductID: entry.productID, Quantity: entry.restoreQty}
			if _, err := stock.Reserve(ctx, req); err != nil {
				entryLogger.WithError(err).WithField("quantity", entry.restoreQty).Error("compensation: restore reservation failed")
				m.RecordCompensation("update_rollback", false)
				continue
			}
		}
		m.RecordCompensation("update_rollback", true)
	}
	c.entries = nil
}
