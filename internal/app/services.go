package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/client"
	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/shopsaga/internal/health"
	"github.com/vladislavdragonenkov/shopsaga/internal/httpapi"
	"github.com/vladislavdragonenkov/shopsaga/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shopsaga/internal/metrics"
	"github.com/vladislavdragonenkov/shopsaga/internal/service/order"
	"github.com/vladislavdragonenkov/shopsaga/internal/service/payment"
	"github.com/vladislavdragonenkov/shopsaga/internal/service/stock"
	"github.com/vladislavdragonenkov/shopsaga/internal/storage/memory"
	"github.com/vladislavdragonenkov/shopsaga/internal/storage/postgres"
	"github.com/vladislavdragonenkov/shopsaga/internal/storage/redisx"
)

// ErrEventBusRequired — сервису заказов нужна шина: публикация события
// является частью создания заказа.
var ErrEventBusRequired = errors.New("order service requires kafka brokers")

// Option подменяет зависимости при сборке сервиса.
type Option func(*options)

type options struct {
	publisher domain.EventPublisher
	bank      domain.BankGateway
	metrics   *metrics.SagaMetrics
	processor func(kafka.EventProcessor)
}

// WithPublisher задаёт публикатор событий вместо Kafka producer.
func WithPublisher(p domain.EventPublisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithBank задаёт банковский шлюз вместо симулятора из конфигурации.
func WithBank(b domain.BankGateway) Option {
	return func(o *options) { o.bank = b }
}

// WithMetrics задаёт метрики саги.
func WithMetrics(m *metrics.SagaMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithEventProcessor получает обработчик событий склада после сборки.
func WithEventProcessor(fn func(kafka.EventProcessor)) Option {
	return func(o *options) { o.processor = fn }
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewSagaMetrics()
	}
	return o
}

// RunOrderService собирает и обслуживает сервис заказов.
func RunOrderService(ctx context.Context, cfg Config) error {
	svc, err := BuildOrderService(ctx, cfg, nil)
	if err != nil {
		return err
	}
	return Run(ctx, cfg, svc)
}

// RunStockService собирает и обслуживает сервис склада.
func RunStockService(ctx context.Context, cfg Config) error {
	svc, err := BuildStockService(ctx, cfg, nil)
	if err != nil {
		return err
	}
	return Run(ctx, cfg, svc)
}

// RunPaymentService собирает и обслуживает сервис платежей.
func RunPaymentService(ctx context.Context, cfg Config) error {
	svc, err := BuildPaymentService(ctx, cfg, nil)
	if err != nil {
		return err
	}
	return Run(ctx, cfg, svc)
}

// BuildOrderService собирает координатор саги: репозиторий заказов,
// клиенты склада и платежей, публикатор событий.
func BuildOrderService(ctx context.Context, cfg Config, logger *log.Entry, opts ...Option) (_ *Service, err error) {
	o := newOptions(opts)
	svc := newService(ServiceOrder, logger)
	defer func() {
		if err != nil {
			svc.Close()
		}
	}()

	store, err := svc.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	repo := memory.NewOrderRepository()
	if store != nil {
		repo = postgres.NewOrderRepository(store)
	}

	publisher := o.publisher
	if publisher == nil {
		if len(cfg.Brokers()) == 0 {
			return nil, ErrEventBusRequired
		}
		producer, err := kafka.NewProducer(cfg.Brokers(), svc.logger.WithField("component", "kafka-producer"))
		if err != nil {
			return nil, err
		}
		svc.onClose(producer.Close)
		publisher = producer
	}

	stockClient := client.NewStockClient(cfg.StockServiceURL, svc.logger.WithField("peer", ServiceStock), clientOptions(cfg, ServiceStock, svc.logger)...)
	paymentClient := client.NewPaymentClient(cfg.PaymentServiceURL, svc.logger.WithField("peer", ServicePayment), clientOptions(cfg, ServicePayment, svc.logger)...)

	core := order.NewService(repo, stockClient, paymentClient, publisher, svc.logger.WithField("layer", "service"), order.WithMetrics(o.metrics))
	svc.API = httpapi.NewRouter(svc.logger.WithField("layer", "http"), cfg.RequestTimeout,
		httpapi.NewOrderHandler(core, svc.logger.WithField("layer", "http")))
	return svc, nil
}

// BuildStockService собирает склад. Если брокеры заданы, в фоне работает
// консьюмер событий заказа с дедупликацией в Redis и DLQ.
func BuildStockService(ctx context.Context, cfg Config, logger *log.Entry, opts ...Option) (_ *Service, err error) {
	o := newOptions(opts)
	svc := newService(ServiceStock, logger)
	defer func() {
		if err != nil {
			svc.Close()
		}
	}()

	store, err := svc.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	repo := memory.NewStockRepository()
	if store != nil {
		repo = postgres.NewStockRepository(store)
	}

	orderClient := client.NewOrderClient(cfg.OrderServiceURL, svc.logger.WithField("peer", ServiceOrder), clientOptions(cfg, ServiceOrder, svc.logger)...)
	core := stock.NewService(repo, orderClient, svc.logger.WithField("layer", "service"), stock.WithMetrics(o.metrics))
	svc.API = httpapi.NewRouter(svc.logger.WithField("layer", "http"), cfg.RequestTimeout,
		httpapi.NewStockHandler(core, svc.logger.WithField("layer", "http")))
	if o.processor != nil {
		o.processor(core)
	}
	if cfg.ReservationTTL > 0 {
		svc.runInBackground(stock.NewExpiryWorker(core, cfg.ReservationTTL, stock.WithExpiryInterval(cfg.ExpiryInterval)).Run)
	}

	if len(cfg.Brokers()) == 0 {
		svc.logger.Warn("kafka brokers are not configured, event consumer disabled")
		svc.Health.Register("consumer", healthcheck.NewStateChecker(func() (bool, string) {
			return false, "disabled"
		}))
		return svc, nil
	}
	svc.startConsumer(cfg, core, o.metrics)
	return svc, nil
}

func (s *Service) startConsumer(cfg Config, processor kafka.EventProcessor, m *metrics.SagaMetrics) {
	loopOpts := []kafka.LoopOption{kafka.WithLoopMetrics(m)}

	producer, err := kafka.NewProducer(cfg.Brokers(), s.logger.WithField("component", "kafka-dlq"))
	if err != nil {
		s.logger.WithError(err).Warn("dlq producer unavailable, failed messages will only be logged")
	} else {
		s.onClose(producer.Close)
		loopOpts = append(loopOpts, kafka.WithDeadLetter(producer, cfg.DLQTopic))
	}

	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		s.onClose(rdb.Close)
		loopOpts = append(loopOpts, kafka.WithDeduplicator(redisx.NewDeduplicator(rdb, cfg.DedupTTL)))
		s.Health.Register("redis", healthcheck.NonCritical(healthcheck.CheckFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})))
	}

	source := kafka.NewGroupSource(cfg.Brokers(), cfg.ConsumerGroup, s.logger.WithField("component", "kafka-consumer"))
	loop := kafka.NewConsumerLoop(source, processor, cfg.LoopConfig(), s.logger.WithField("component", "stock-consumer"), loopOpts...)
	s.Health.Register("consumer", healthcheck.NewStateChecker(func() (bool, string) {
		state := loop.State()
		return state == kafka.StateSubscribed, state.String()
	}))
	s.runInBackground(loop.Run)
}

// BuildPaymentService собирает процессор платежей с точкой невозврата в банке.
func BuildPaymentService(ctx context.Context, cfg Config, logger *log.Entry, opts ...Option) (_ *Service, err error) {
	o := newOptions(opts)
	svc := newService(ServicePayment, logger)
	defer func() {
		if err != nil {
			svc.Close()
		}
	}()

	store, err := svc.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	repo := memory.NewPaymentRepository()
	if store != nil {
		repo = postgres.NewPaymentRepository(store)
	}

	bank := o.bank
	if bank == nil {
		bank = payment.NewBank(cfg.BankMode)
	}
	orderClient := client.NewOrderClient(cfg.OrderServiceURL, svc.logger.WithField("peer", ServiceOrder), clientOptions(cfg, ServiceOrder, svc.logger)...)
	stockClient := client.NewStockClient(cfg.StockServiceURL, svc.logger.WithField("peer", ServiceStock), clientOptions(cfg, ServiceStock, svc.logger)...)

	core := payment.NewService(repo, orderClient, stockClient, bank, svc.logger.WithField("layer", "service"), payment.WithMetrics(o.metrics))
	svc.API = httpapi.NewRouter(svc.logger.WithField("layer", "http"), cfg.RequestTimeout,
		httpapi.NewPaymentHandler(core, svc.logger.WithField("layer", "http")))
	return svc, nil
}

// openStore открывает PostgreSQL для драйвера postgres и nil для memory.
func (s *Service) openStore(ctx context.Context, cfg Config) (*postgres.Store, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		s.logger.Info("using in-memory storage")
		return nil, nil
	case StorageDriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("postgres dsn is required for storage driver %q", StorageDriverPostgres)
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN, s.Name)
	if err != nil {
		return nil, err
	}
	s.onClose(store.Close)

	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("apply %s migrations: %w", s.Name, err)
		}
		s.logger.Info("postgres migrations applied")
	}
	s.Health.Register("storage", healthcheck.CheckFunc(store.Ping))
	return store, nil
}

// clientOptions собирает таймаут, повторы и предохранитель для клиента соседа.
func clientOptions(cfg Config, peer string, logger *log.Entry) []client.Option {
	retry := client.DefaultRetryConfig()
	retry.MaxAttempts = cfg.ClientRetryAttempts
	return []client.Option{
		client.WithHTTPClient(&http.Client{Timeout: cfg.ClientTimeout}),
		client.WithRetry(retry),
		client.WithCircuitBreaker(client.NewCircuitBreaker(cfg.BreakerMaxFailures, cfg.BreakerResetTimeout, logger.WithField("peer", peer))),
	}
}
