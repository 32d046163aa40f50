package stock

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

// ProcessOrderCreatedEvent резервирует все позиции нового заказа и сообщает
// результат сервису заказов.
//
// Резерв делается только для заказа в Created или StockPending: события
// order-created и order-cancelled идут разными топиками, и отменённый заказ
// не должен снова получить товар. Событие может прийти повторно: если у заказа
// есть действующие резервы, они не создаются заново, повторяется только обратный
// вызов. Если все резервы отменены (откат после сбоя), пакет резервируется снова.
// Бизнес-отказ (нет товара, не хватает остатка) окончателен: заказ переводится
// в StockCancelled, сообщение считается обработанным. Ошибки инфраструктуры
// возвращаются, чтобы сообщение не подтверждалось.
func (s *Service) ProcessOrderCreatedEvent(ctx context.Context, evt domain.OrderCreatedEvent) error {
	if evt.OrderID <= 0 {
		return domain.ErrOrderIDInvalid
	}
	logger := s.logger.WithField("order_id", evt.OrderID)

	if s.orders != nil {
		order, err := s.orders.GetOrder(ctx, evt.OrderID)
		if err != nil {
			return fmt.Errorf("lookup order %d: %w", evt.OrderID, err)
		}
		if order == nil {
			logger.Info("order-created skipped: order no longer exists")
			return nil
		}
		if !awaitsReservation(order.Status) {
			logger.WithField("order_status", order.Status).Info("order-created skipped: order is not waiting for stock")
			return nil
		}
	}

	existing, err := s.repo.ListReservationsByOrder(ctx, evt.OrderID)
	if err != nil {
		return err
	}
	for _, r := range existing {
		if r.Status != domain.ReservationStatusCancelled {
			logger.Info("order-created redelivered, reservations already held")
			s.callback(ctx, evt.OrderID, domain.OrderStatusStockReserved)
			return nil
		}
	}

	reqs := make([]domain.ReservationRequest, 0, len(evt.Items))
	for _, item := range evt.Items {
		reqs = append(reqs, domain.ReservationRequest{
			OrderID:   evt.OrderID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	if _, err := s.ReserveBatch(ctx, reqs); err != nil {
		if isBusinessFailure(err) {
			logger.WithError(err).Warn("stock reservation rejected")
			s.callback(ctx, evt.OrderID, domain.OrderStatusStockCancelled)
			return nil
		}
		return err
	}

	logger.WithField("items", len(reqs)).Info("stock reserved for order")
	s.callback(ctx, evt.OrderID, domain.OrderStatusStockReserved)
	return nil
}

// ProcessOrderCancelledEvent снимает резервы отменённого заказа. Сервис заказов
// получает StockCancelled только если заказ ещё не в конечном статусе.
func (s *Service) ProcessOrderCancelledEvent(ctx context.Context, evt domain.OrderCancelledEvent) error {
	if evt.OrderID <= 0 {
		return domain.ErrOrderIDInvalid
	}
	if err := s.CancelAllForOrder(ctx, evt.OrderID); err != nil {
		return err
	}

	logger := s.logger.WithFields(log.Fields{"order_id": evt.OrderID, "reason": evt.CancelReason})
	if s.orders == nil {
		return nil
	}
	order, err := s.orders.GetOrder(ctx, evt.OrderID)
	if err != nil {
		logger.WithError(err).Warn("order lookup after cancellation failed")
		return nil
	}
	if order == nil || order.Status.IsFinal() {
		logger.Debug("order already final, status callback skipped")
		return nil
	}
	s.callback(ctx, evt.OrderID, domain.OrderStatusStockCancelled)
	return nil
}

// callback сообщает сервису заказов новый статус. Локальное состояние склада
// считается источником истины и не откатывается при ошибке вызова.
func (s *Service) callback(ctx context.Context, orderID int64, status domain.OrderStatus) {
	if s.orders == nil {
		return
	}
	if err := s.orders.UpdateOrderStatus(ctx, orderID, status); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"status":   status,
			"step":     domain.SagaStepCallback,
		}).Error("order status callback failed")
	}
}

func awaitsReservation(status domain.OrderStatus) bool {
	return status == domain.OrderStatusCreated || status == domain.OrderStatusStockPending
}

func isBusinessFailure(err error) bool {
	return domain.IsNotFound(err) || domain.IsInsufficient(err) || domain.IsValidation(err)
}
