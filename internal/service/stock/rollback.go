package stock

import (
	"context"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

// batchRollback хранит список компенсаций одного вызова ReserveBatch.
// Для резерва, в который влился уже существующий, restore хранит прежнее количество:
// после отмены его нужно зарезервировать заново.
type batchRollback struct {
	entries []rollbackEntry
	seen    map[uuid.UUID]struct{}
}

type rollbackEntry struct {
	reservationID uuid.UUID
	orderID       int64
	productID     uuid.UUID
	restore       int
}

func (b *batchRollback) add(reservation domain.StockReservation, before int) {
	if b.seen == nil {
		b.seen = make(map[uuid.UUID]struct{})
	}
	if _, ok := b.seen[reservation.ID]; ok {
		return
	}
	b.seen[reservation.ID] = struct{}{}
	b.entries = append(b.entries, rollbackEntry{
		reservationID: reservation.ID,
		orderID:       reservation.OrderID,
		productID:     reservation.ProductID,
		restore:       before,
	})
}

// run выполняет компенсации в обратном порядке. Ошибки только логируются, повторов нет.
func (b *batchRollback) run(ctx context.Context, s *Service) {
	for i := len(b.entries) - 1; i >= 0; i-- {
		entry := b.entries[i]
		logger := s.logger.WithFields(log.Fields{
			"order_id":       entry.orderID,
			"reservation_id": entry.reservationID,
		})

		if _, _, err := s.repo.Cancel(ctx, entry.reservationID, s.now()); err != nil {
			logger.WithError(err).Error("batch rollback: cancel reservation failed")
			s.metrics.RecordCompensation("batch_release", false)
			continue
		}
		if entry.restore > 0 {
			req := domain.ReservationRequest{OrderID: entry.orderID, ProductID: entry.productID, Quantity: entry.restore}
			if _, err := s.repo.Reserve(ctx, req, s.newID(), s.now()); err != nil {
				logger.WithError(err).WithField("quantity", entry.restore).Error("batch rollback: restore previous reservation failed")
				s.metrics.RecordCompensation("batch_release", false)
				continue
			}
		}
		s.metrics.RecordCompensation("batch_release", true)
	}
	b.entries = nil
	b.seen = nil
}
