package order

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

// itemDiff хранит разбор нового списка позиций относительно текущего.
type itemDiff struct {
	added   []domain.OrderItem
	updated []domain.OrderItem
	removed []domain.OrderItem
	items   []domain.OrderItem
}

// diffItems сопоставляет позиции по ID. Позиция с ID == 0 новая; ID, которого нет
// в заказе, отклоняет всё изменение целиком. ProductID существующей позиции не меняется.
func diffItems(current domain.Order, next []domain.OrderItem) (itemDiff, error) {
	var diff itemDiff
	seen := make(map[int64]struct{}, len(next))

	for _, item := range next {
		if item.ID == 0 {
			if err := item.Validate(); err != nil {
				return itemDiff{}, err
			}
			item.OrderID = current.ID
			diff.added = append(diff.added, item)
			diff.items = append(diff.items, item)
			continue
		}

		existing, ok := current.ItemByID(item.ID)
		if !ok {
			return itemDiff{}, fmt.Errorf("%w: item %d, order %d", domain.ErrItemNotInOrder, item.ID, current.ID)
		}
		if _, dup := seen[item.ID]; dup {
			return itemDiff{}, fmt.Errorf("%w: item %d listed twice", domain.ErrValidation, item.ID)
		}
		seen[item.ID] = struct{}{}

		merged := existing
		merged.Quantity = item.Quantity
		merged.UnitPrice = item.UnitPrice
		if err := merged.Validate(); err != nil {
			return itemDiff{}, err
		}
		if merged.Quantity != existing.Quantity || !merged.UnitPrice.Equal(existing.UnitPrice) {
			diff.updated = append(diff.updated, merged)
		}
		diff.items = append(diff.items, merged)
	}

	for _, existing := range current.Items {
		if _, ok := seen[existing.ID]; !ok {
			diff.removed = append(diff.removed, existing)
		}
	}
	if len(diff.items) == 0 {
		return itemDiff{}, domain.ErrItemsRequired
	}
	return diff, nil
}

// productDelta описывает изменение количества одного товара в заказе.
type productDelta struct {
	productID uuid.UUID
	before    int
	after     int
}

// productDeltas сводит позиции к изменению количества по товарам в порядке их появления.
func productDeltas(before, after []domain.OrderItem) []productDelta {
	index := make(map[uuid.UUID]int)
	var deltas []productDelta
	get := func(id uuid.UUID) *productDelta {
		if i, ok := index[id]; ok {
			return &deltas[i]
		}
		index[id] = len(deltas)
		deltas = append(deltas, productDelta{productID: id})
		return &deltas[len(deltas)-1]
	}
	for _, item := range after {
		get(item.ProductID).after += item.Quantity
	}
	for _, item := range before {
		get(item.ProductID).before += item.Quantity
	}
	return deltas
}

// UpdateOrder меняет позиции заказа и приводит резервы склада в соответствие.
//
// Рост количества резервирует только разницу, уменьшение снимает текущий резерв
// и создаёт новый меньшего размера, удалённые товары освобождаются после успешного
// сохранения. Любая ошибка откатывает все изменения резервов этого вызова.
// Менять позиции можно, пока склад зарезервирован и платёж не создан.
func (s *Service) UpdateOrder(ctx context.Context, orderID int64, items []domain.OrderItem) (domain.Order, error) {
	if len(items) == 0 {
		return domain.Order{}, domain.ErrItemsRequired
	}
	current, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	diff, err := diffItems(current, items)
	if err != nil {
		return domain.Order{}, err
	}
	if current.Status != domain.OrderStatusStockReserved {
		return domain.Order{}, fmt.Errorf("%w: order %d is %s, items can change only in %s",
			domain.ErrInvalidTransition, orderID, current.Status, domain.OrderStatusStockReserved)
	}
	if err := s.ensureNoActivePayment(ctx, orderID); err != nil {
		return domain.Order{}, err
	}

	logger := s.logger.WithFields(log.Fields{
		"order_id": orderID,
		"added":    len(diff.added),
		"updated":  len(diff.updated),
		"removed":  len(diff.removed),
	})

	active, err := s.activeReservations(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	rollback := newCompensations(orderID)
	var release []domain.StockReservation
	for _, delta := range productDeltas(current.Items, diff.items) {
		change := delta.after - delta.before
		reservation, hasActive := active[delta.productID]
		switch {
		case change == 0:
			continue

		case delta.after == 0:
			// Товар удалён из заказа: освобождаем после сохранения.
			if hasActive {
				release = append(release, reservation)
			}

		case change > 0:
			ok, err := s.stock.IsAvailable(ctx, delta.productID, change)
			if err == nil && !ok {
				err = fmt.Errorf("%w: product %s, quantity %d", domain.ErrStockUnavailable, delta.productID, change)
			}
			if err != nil {
				rollback.run(ctx, s.stock, s.metrics, logger)
				return domain.Order{}, err
			}
			reserved, err := s.reserve(ctx, orderID, delta.productID, change)
			if err != nil {
				rollback.run(ctx, s.stock, s.metrics, logger)
				return domain.Order{}, err
			}
			entry := compensation{reservationID: reserved.ID, productID: delta.productID}
			if hasActive && reserved.ID == reservation.ID {
				entry.restoreQty = reservation.Quantity
			}
			rollback.add(entry)
			active[delta.productID] = *reserved

		default:
			if !hasActive {
				logger.WithField("product_id", delta.productID).Warn("no active reservation to shrink, skipped")
				continue
			}
			if err := s.stock.Cancel(ctx, reservation.ID); err != nil {
				rollback.run(ctx, s.stock, s.metrics, logger)
				return domain.Order{}, err
			}
			newQty := reservation.Quantity + change
			entry := compensation{productID: delta.productID, restoreQty: reservation.Quantity}
			if newQty > 0 {
				reserved, err := s.reserve(ctx, orderID, delta.productID, newQty)
				if err != nil {
					rollback.add(entry)
					rollback.run(ctx, s.stock, s.metrics, logger)
					return domain.Order{}, err
				}
				entry.reservationID = reserved.ID
				active[delta.productID] = *reserved
			} else {
				delete(active, delta.productID)
			}
			rollback.add(entry)
		}
	}

	next := current.Clone()
	next.Items = diff.items
	next.RecalculateTotal()
	next.UpdatedAt = s.now()
	saved, err := s.repo.Save(ctx, next)
	if err != nil {
		rollback.run(ctx, s.stock, s.metrics, logger)
		return domain.Order{}, err
	}

	for _, reservation := range release {
		if err := s.stock.Cancel(ctx, reservation.ID); err != nil {
			logger.WithError(err).WithField("reservation_id", reservation.ID).Error("release of removed item failed")
			s.metrics.RecordCompensation("release_removed", false)
			continue
		}
		s.metrics.RecordCompensation("release_removed", true)
	}

	logger.WithField("total", saved.TotalAmount.StringFixed(2)).Info("order updated")
	return saved, nil
}

func (s *Service) reserve(ctx context.Context, orderID int64, productID uuid.UUID, qty int) (*domain.StockReservation, error) {
	reserved, err := s.stock.Reserve(ctx, domain.ReservationRequest{OrderID: orderID, ProductID: productID, Quantity: qty})
	if err != nil {
		return nil, err
	}
	if reserved == nil {
		return nil, fmt.Errorf("%w: product %s", domain.ErrProductNotFound, productID)
	}
	return reserved, nil
}

// activeReservations возвращает Reserved-резервы заказа по товарам.
func (s *Service) activeReservations(ctx context.Context, orderID int64) (map[uuid.UUID]domain.StockReservation, error) {
	list, err := s.stock.ListReservationsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	active := make(map[uuid.UUID]domain.StockReservation, len(list))
	for _, r := range list {
		if r.Status == domain.ReservationStatusReserved {
			active[r.ProductID] = r
		}
	}
	return active, nil
}

func (s *Service) ensureNoActivePayment(ctx context.Context, orderID int64) error {
	payment, err := s.payments.GetPaymentByOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("get payment of order %d: %w", orderID, err)
	}
	if payment == nil {
		return nil
	}
	switch payment.Status {
	case domain.PaymentStatusPending, domain.PaymentStatusCompleted, domain.PaymentStatusRefunded:
		return fmt.Errorf("%w: order %d already has a %s payment", domain.ErrInvalidTransition, orderID, payment.Status)
	}
	return nil
}
