package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/metrics"
)

// ConsumerState — состояние подключения консьюмера.
type ConsumerState int32

const (
	StateDisconnected ConsumerState = metrics.ConsumerStateDisconnected
	StateRetrying     ConsumerState = metrics.ConsumerStateRetrying
	StateSubscribed   ConsumerState = metrics.ConsumerStateSubscribed
)

func (s ConsumerState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateRetrying:
		return "retrying"
	case StateSubscribed:
		return "subscribed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// ErrConsumerUnavailable — подписка не удалась за отведённое число попыток.
var ErrConsumerUnavailable = errors.New("event consumer unavailable")

// EventProcessor обрабатывает события заказа на стороне склада.
type EventProcessor interface {
	ProcessOrderCreatedEvent(ctx context.Context, event domain.OrderCreatedEvent) error
	ProcessOrderCancelledEvent(ctx context.Context, event domain.OrderCancelledEvent) error
}

// Deduplicator запоминает уже обработанные offset'ы.
type Deduplicator interface {
	Seen(ctx context.Context, topic string, partition int32, offset int64) (bool, error)
	Mark(ctx context.Context, topic string, partition int32, offset int64) error
}

// LoopConfig задаёт тайминги цикла опроса.
type LoopConfig struct {
	OrderCreatedTopic   string
	OrderCancelledTopic string
	StartDelay          time.Duration
	ConnectAttempts     int
	ConnectDelay        time.Duration
	BatchSize           int
	PollTimeout         time.Duration
	PollInterval        time.Duration
}

// DefaultLoopConfig возвращает значения по умолчанию.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		OrderCreatedTopic:   domain.TopicOrderCreated,
		OrderCancelledTopic: domain.TopicOrderCancelled,
		StartDelay:          5 * time.Second,
		ConnectAttempts:     10,
		ConnectDelay:        3 * time.Second,
		BatchSize:           100,
		PollTimeout:         100 * time.Millisecond,
		PollInterval:        10 * time.Second,
	}
}

func (c LoopConfig) topics() []string {
	return []string{c.OrderCreatedTopic, c.OrderCancelledTopic}
}

func (c LoopConfig) normalized() LoopConfig {
	def := DefaultLoopConfig()
	if c.OrderCreatedTopic == "" {
		c.OrderCreatedTopic = def.OrderCreatedTopic
	}
	if c.OrderCancelledTopic == "" {
		c.OrderCancelledTopic = def.OrderCancelledTopic
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = def.ConnectAttempts
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = def.PollTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	return c
}

// LoopOption настраивает ConsumerLoop.
type LoopOption func(*ConsumerLoop)

// WithDeduplicator включает пропуск уже обработанных offset'ов.
func WithDeduplicator(d Deduplicator) LoopOption {
	return func(l *ConsumerLoop) { l.dedup = d }
}

// WithDeadLetter публикует неудачные сообщения в DLQ-топик.
func WithDeadLetter(publisher domain.EventPublisher, topic string) LoopOption {
	return func(l *ConsumerLoop) {
		l.dlq = publisher
		if topic != "" {
			l.dlqTopic = topic
		}
	}
}

// WithLoopMetrics подключает prometheus-метрики.
func WithLoopMetrics(m *metrics.SagaMetrics) LoopOption {
	return func(l *ConsumerLoop) { l.metrics = m }
}

// ConsumerLoop — фоновый цикл склада: подписка с ограниченным числом попыток,
// затем периодический опрос пачками. Offset подтверждается только после
// успешной обработки, ошибка одного сообщения не останавливает цикл.
type ConsumerLoop struct {
	source    MessageSource
	processor EventProcessor
	cfg       LoopConfig
	dedup     Deduplicator
	dlq       domain.EventPublisher
	dlqTopic  string
	metrics   *metrics.SagaMetrics
	logger    *log.Entry
	now       func() time.Time

	state atomic.Int32
}

// NewConsumerLoop создаёт цикл. Запускается через Run.
func NewConsumerLoop(source MessageSource, processor EventProcessor, cfg LoopConfig, logger *log.Entry, opts ...LoopOption) *ConsumerLoop {
	if logger == nil {
		logger = log.New().WithField("component", "stock-consumer")
	}
	l := &ConsumerLoop{
		source:    source,
		processor: processor,
		cfg:       cfg.normalized(),
		dlqTopic:  TopicStockDLQ,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.setState(StateDisconnected)
	return l
}

// State возвращает текущее состояние подключения.
func (l *ConsumerLoop) State() ConsumerState {
	return ConsumerState(l.state.Load())
}

func (l *ConsumerLoop) setState(state ConsumerState) {
	l.state.Store(int32(state))
	l.metrics.SetConsumerState(int(state))
}

// Run блокируется до отмены ctx. Возвращает ErrConsumerUnavailable, если
// подписаться не удалось; синхронный API сервиса при этом продолжает работать.
func (l *ConsumerLoop) Run(ctx context.Context) error {
	defer func() {
		if err := l.source.Close(); err != nil {
			l.logger.WithError(err).Warn("close message source failed")
		}
		l.setState(StateDisconnected)
	}()

	if !sleep(ctx, l.cfg.StartDelay) {
		return nil
	}
	if err := l.connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	l.logger.WithField("interval", l.cfg.PollInterval).Info("polling started")
	for {
		if n := l.drain(ctx); n > 0 {
			l.logger.WithField("count", n).Info("messages processed in polling cycle")
		}
		if !sleep(ctx, l.cfg.PollInterval) {
			l.logger.Info("polling stopped")
			return nil
		}
	}
}

func (l *ConsumerLoop) connect(ctx context.Context) error {
	topics := l.cfg.topics()
	l.setState(StateRetrying)
	var lastErr error
	for attempt := 1; attempt <= l.cfg.ConnectAttempts; attempt++ {
		lastErr = l.source.Subscribe(ctx, topics)
		if lastErr == nil {
			l.setState(StateSubscribed)
			l.logger.WithField("topics", topics).Info("kafka consumer subscribed")
			return nil
		}
		l.logger.WithError(lastErr).WithFields(log.Fields{
			"attempt":      attempt,
			"max_attempts": l.cfg.ConnectAttempts,
		}).Warn("kafka subscribe failed, retrying")
		if attempt < l.cfg.ConnectAttempts && !sleep(ctx, l.cfg.ConnectDelay) {
			l.setState(StateDisconnected)
			return ctx.Err()
		}
	}
	l.setState(StateDisconnected)
	l.logger.WithError(lastErr).WithField("attempts", l.cfg.ConnectAttempts).
		Error("kafka consumer gave up, event path disabled")
	return fmt.Errorf("%w: %d attempts: %v", ErrConsumerUnavailable, l.cfg.ConnectAttempts, lastErr)
}

// drain обрабатывает доступные сообщения, не больше BatchSize за цикл.
func (l *ConsumerLoop) drain(ctx context.Context) int {
	processed := 0
	for processed < l.cfg.BatchSize && ctx.Err() == nil {
		msg, err := l.source.Poll(ctx, l.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() == nil {
				l.logger.WithError(err).Warn("poll failed")
			}
			break
		}
		if msg == nil {
			break
		}
		l.handle(ctx, msg)
		processed++
	}
	return processed
}

func (l *ConsumerLoop) handle(ctx context.Context, msg *sarama.ConsumerMessage) {
	logger := l.logger.WithFields(log.Fields{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
		"key":       string(msg.Key),
	})

	if l.dedup != nil {
		seen, err := l.dedup.Seen(ctx, msg.Topic, msg.Partition, msg.Offset)
		if err != nil {
			logger.WithError(err).Warn("dedup lookup failed, processing anyway")
		} else if seen {
			logger.Info("duplicate message skipped")
			l.metrics.RecordConsumerMessage(msg.Topic, "duplicate")
			l.commit(msg, logger)
			return
		}
	}

	if err := l.dispatch(ctx, msg); err != nil {
		logger.WithError(err).Error("message processing failed, offset not committed")
		l.metrics.RecordConsumerMessage(msg.Topic, "failed")
		l.deadLetter(ctx, msg, err, logger)
		return
	}

	if l.dedup != nil {
		if err := l.dedup.Mark(ctx, msg.Topic, msg.Partition, msg.Offset); err != nil {
			logger.WithError(err).Warn("dedup mark failed")
		}
	}
	l.commit(msg, logger)
	l.metrics.RecordConsumerMessage(msg.Topic, "processed")
}

func (l *ConsumerLoop) dispatch(ctx context.Context, msg *sarama.ConsumerMessage) error {
	switch msg.Topic {
	case l.cfg.OrderCreatedTopic:
		event, err := ParseOrderCreatedEvent(msg)
		if err != nil {
			return err
		}
		return l.processor.ProcessOrderCreatedEvent(ctx, event)
	case l.cfg.OrderCancelledTopic:
		event, err := ParseOrderCancelledEvent(msg)
		if err != nil {
			return err
		}
		return l.processor.ProcessOrderCancelledEvent(ctx, event)
	default:
		return fmt.Errorf("unexpected topic %q", msg.Topic)
	}
}

func (l *ConsumerLoop) commit(msg *sarama.ConsumerMessage, logger *log.Entry) {
	if err := l.source.Commit(msg); err != nil {
		logger.WithError(err).Warn("offset commit failed, message will be redelivered")
		return
	}
	logger.Debug("offset committed")
}

func (l *ConsumerLoop) deadLetter(ctx context.Context, msg *sarama.ConsumerMessage, cause error, logger *log.Entry) {
	if l.dlq == nil {
		return
	}
	record := NewDLQRecord(msg, cause, l.now())
	if err := l.dlq.Publish(ctx, l.dlqTopic, string(msg.Key), record); err != nil {
		logger.WithError(err).Error("failed to send message to DLQ")
		return
	}
	logger.WithField("dlq_topic", l.dlqTopic).Info("message sent to DLQ")
}

// sleep ждёт d или отмены ctx. false означает отмену.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
