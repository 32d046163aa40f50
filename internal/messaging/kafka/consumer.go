package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrSourceClosed — источник закрыт, сообщений больше не будет.
	ErrSourceClosed = errors.New("message source closed")
	// ErrNoSession — нет активной сессии группы (rebalance), коммит невозможен.
	ErrNoSession = errors.New("no active consumer group session")
)

// MessageSource отдаёт сообщения с ручным подтверждением.
type MessageSource interface {
	// Subscribe подключается к брокерам и подписывается на топики.
	Subscribe(ctx context.Context, topics []string) error
	// Poll ждёт следующее сообщение не дольше timeout; nil, nil означает, что сообщений нет.
	Poll(ctx context.Context, timeout time.Duration) (*sarama.ConsumerMessage, error)
	// Commit подтверждает обработку сообщения.
	Commit(message *sarama.ConsumerMessage) error
	Close() error
}

// NewConsumerConfig возвращает конфигурацию группы с ручным коммитом.
func NewConsumerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Offsets.AutoCommit.Enable = false
	config.Consumer.Return.Errors = true
	config.Consumer.Group.Session.Timeout = 30 * time.Second
	config.Consumer.MaxProcessingTime = 5 * time.Minute
	return config
}

// GroupSource читает сообщения consumer group и отдаёт их по одному через Poll.
//
// Consume крутится в отдельной горутине и перезапускается после rebalance.
// Сообщения передаются через канал без буфера, поэтому группа не уходит
// вперёд обработки больше чем на одно сообщение на партицию.
type GroupSource struct {
	newGroup   func() (sarama.ConsumerGroup, error)
	retryDelay time.Duration
	logger     *log.Entry

	messages chan *sarama.ConsumerMessage

	mu      sync.Mutex
	group   sarama.ConsumerGroup
	session sarama.ConsumerGroupSession
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
}

var _ MessageSource = (*GroupSource)(nil)

// NewGroupSource создаёт источник. Подключение к брокерам происходит в Subscribe.
func NewGroupSource(brokers []string, groupID string, logger *log.Entry) *GroupSource {
	return newGroupSource(func() (sarama.ConsumerGroup, error) {
		return sarama.NewConsumerGroup(brokers, groupID, NewConsumerConfig())
	}, logger)
}

func newGroupSource(factory func() (sarama.ConsumerGroup, error), logger *log.Entry) *GroupSource {
	if logger == nil {
		logger = log.New().WithField("component", "kafka-consumer")
	}
	return &GroupSource{
		newGroup:   factory,
		retryDelay: time.Second,
		logger:     logger,
		messages:   make(chan *sarama.ConsumerMessage),
		done:       make(chan struct{}),
	}
}

// Subscribe создаёт consumer group и запускает цикл Consume.
// Повторный вызов после успешной подписки ничего не делает.
func (s *GroupSource) Subscribe(ctx context.Context, topics []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.group != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	group, err := s.newGroup()
	if err != nil {
		return fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.group = group
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			// Consume должен вызываться в цикле, так как при rebalance он завершается
			if err := group.Consume(runCtx, topics, s); err != nil {
				s.logger.WithError(err).Error("error from consumer")
			}
			if runCtx.Err() != nil {
				return
			}
			timer := time.NewTimer(s.retryDelay)
			select {
			case <-runCtx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}()

	if errs := group.Errors(); errs != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for err := range errs {
				s.logger.WithError(err).Error("consumer error")
			}
		}()
	}

	s.logger.WithField("topics", topics).Info("kafka consumer subscribed")
	return nil
}

// Poll возвращает следующее сообщение или nil по таймауту.
func (s *GroupSource) Poll(ctx context.Context, timeout time.Duration) (*sarama.ConsumerMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-s.messages:
		return msg, nil
	case <-timer.C:
		return nil, nil
	case <-s.done:
		return nil, ErrSourceClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Commit помечает сообщение и синхронно коммитит offset текущей сессии.
func (s *GroupSource) Commit(message *sarama.ConsumerMessage) error {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()
	if session == nil {
		return ErrNoSession
	}
	session.MarkMessage(message, "")
	session.Commit()
	return nil
}

// Close останавливает Consume и закрывает группу.
func (s *GroupSource) Close() error {
	s.mu.Lock()
	group, cancel := s.group, s.cancel
	s.group, s.cancel = nil, nil
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.mu.Unlock()

	if group == nil {
		return nil
	}
	cancel()
	err := group.Close()
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	s.logger.Info("kafka consumer stopped")
	return nil
}

// Setup вызывается при старте consumer session
func (s *GroupSource) Setup(session sarama.ConsumerGroupSession) error {
	s.mu.Lock()
	s.session = session
	s.mu.Unlock()
	return nil
}

// Cleanup вызывается при завершении consumer session
func (s *GroupSource) Cleanup(sarama.ConsumerGroupSession) error {
	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()
	return nil
}

// ConsumeClaim передаёт сообщения партиции в Poll. Offset не помечается здесь:
// это делает Commit после успешной обработки.
func (s *GroupSource) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			s.logger.WithFields(log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			}).Debug("received message")

			select {
			case s.messages <- message:
			case <-session.Context().Done():
				return nil
			}
		case <-session.Context().Done():
			return nil
		}
	}
}
