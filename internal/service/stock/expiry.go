package stock

import (
	"context"
	"errors"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

const (
	defaultExpiryInterval  = time.Minute
	defaultExpiryBatchSize = 200
)

// ExpireStale снимает резервы, которые висят в Reserved дольше, чем до before,
// и переводит их заказы в StockExpired. Заказы, ушедшие дальше StockReserved,
// не трогаются: их резервы подтвердит или отпустит платёжный шаг.
func (s *Service) ExpireStale(ctx context.Context, before time.Time, limit int) (int, error) {
	stale, err := s.repo.ListStaleReservations(ctx, before, limit)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	start := time.Now()
	defer func() { s.metrics.RecordStepDuration(string(domain.SagaStepExpire), time.Since(start)) }()

	byOrder := make(map[int64]int)
	for _, reservation := range stale {
		byOrder[reservation.OrderID]++
	}
	orderIDs := make([]int64, 0, len(byOrder))
	for id := range byOrder {
		orderIDs = append(orderIDs, id)
	}
	sort.Slice(orderIDs, func(i, j int) bool { return orderIDs[i] < orderIDs[j] })

	expired := 0
	for _, orderID := range orderIDs {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		logger := s.logger.WithFields(log.Fields{"order_id": orderID, "step": domain.SagaStepExpire})

		order, err := s.lookupOrder(ctx, orderID)
		if err != nil {
			logger.WithError(err).Warn("skip expiry: order lookup failed")
			continue
		}
		if order != nil && order.Status != domain.OrderStatusStockPending && order.Status != domain.OrderStatusStockReserved {
			logger.WithField("order_status", order.Status).Debug("skip expiry: saga moved on")
			continue
		}

		if err := s.CancelAllForOrder(ctx, orderID); err != nil {
			logger.WithError(err).Error("release of expired reservations failed")
			continue
		}
		expired += byOrder[orderID]
		if order != nil {
			s.callback(ctx, orderID, domain.OrderStatusStockExpired)
		}
		logger.WithField("reservations", byOrder[orderID]).Info("stale reservations expired")
	}
	return expired, nil
}

// lookupOrder возвращает nil без ошибки, если заказа нет или клиент не настроен.
func (s *Service) lookupOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	if s.orders == nil {
		return nil, nil
	}
	return s.orders.GetOrder(ctx, orderID)
}

// ExpiryOption настраивает ExpiryWorker.
type ExpiryOption func(*ExpiryWorker)

// WithExpiryInterval задаёт интервал между проходами.
func WithExpiryInterval(interval time.Duration) ExpiryOption {
	return func(w *ExpiryWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithExpiryBatchSize задаёт число резервов, читаемых за один запрос.
func WithExpiryBatchSize(batchSize int) ExpiryOption {
	return func(w *ExpiryWorker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

// ExpiryWorker периодически отпускает резервы старше ttl.
type ExpiryWorker struct {
	svc       *Service
	ttl       time.Duration
	interval  time.Duration
	batchSize int
	logger    *log.Entry
}

// NewExpiryWorker создаёт воркер истечения резервов.
func NewExpiryWorker(svc *Service, ttl time.Duration, opts ...ExpiryOption) *ExpiryWorker {
	w := &ExpiryWorker{
		svc:       svc,
		ttl:       ttl,
		interval:  defaultExpiryInterval,
		batchSize: defaultExpiryBatchSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	if svc != nil {
		w.logger = svc.logger.WithField("component", "reservation-expiry")
	} else {
		w.logger = log.WithField("component", "reservation-expiry")
	}
	return w
}

// Run выполняет проходы до отмены ctx. Ошибки проходов логируются.
func (w *ExpiryWorker) Run(ctx context.Context) error {
	if w.svc == nil || w.ttl <= 0 {
		w.logger.Warn("reservation expiry is disabled")
		return nil
	}

	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ExpiryWorker) sweep(ctx context.Context) {
	expired, err := w.Sweep(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		w.svc.metrics.RecordExpiryRun("error", expired)
		w.logger.WithError(err).Warn("reservation expiry run failed")
		return
	}
	w.svc.metrics.RecordExpiryRun("ok", expired)
}

// Sweep отпускает все резервы старше ttl порциями batchSize.
func (w *ExpiryWorker) Sweep(ctx context.Context) (int, error) {
	before := w.svc.now().Add(-w.ttl)

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		expired, err := w.svc.ExpireStale(ctx, before, w.batchSize)
		total += expired
		if err != nil {
			return total, err
		}
		// Пропущенные заказы остаются в выборке, поэтому выходим, как только
		// проход ничего не снял или выборка неполная.
		if expired == 0 || expired < w.batchSize {
			return total, nil
		}
	}
}
