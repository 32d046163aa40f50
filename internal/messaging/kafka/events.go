package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

// TopicStockDLQ — dead letter queue консьюмера склада.
const TopicStockDLQ = "stock-service-dlq"

// Kafka headers для повторной обработки
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// ErrDecode — сообщение не удалось разобрать в событие заказа.
var ErrDecode = errors.New("decode event")

// DLQRecord хранит сообщение, обработка которого не удалась.
// Хранит исходное сообщение целиком, чтобы dlq-reprocess мог вернуть его в топик.
type DLQRecord struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	ErrorMessage      string    `json:"error_message"`
	FailedAt          time.Time `json:"failed_at"`
	RetryCount        int       `json:"retry_count"`
}

// NewDLQRecord собирает запись DLQ для сообщения и ошибки обработки.
func NewDLQRecord(message *sarama.ConsumerMessage, processingErr error, at time.Time) DLQRecord {
	record := DLQRecord{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		FailedAt:          at.UTC(),
		RetryCount:        RetryCount(message),
	}
	if processingErr != nil {
		record.ErrorMessage = processingErr.Error()
	}
	return record
}

// ParseDLQRecord разбирает запись из DLQ-топика.
func ParseDLQRecord(value []byte) (DLQRecord, error) {
	var record DLQRecord
	if err := json.Unmarshal(value, &record); err != nil {
		return DLQRecord{}, fmt.Errorf("%w: dlq record: %v", ErrDecode, err)
	}
	if record.OriginalTopic == "" {
		return DLQRecord{}, fmt.Errorf("%w: dlq record without original topic", ErrDecode)
	}
	return record, nil
}

// RetryCount извлекает счётчик повторов из headers сообщения.
func RetryCount(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if header == nil || string(header.Key) != HeaderRetryCount {
			continue
		}
		if count, err := strconv.Atoi(string(header.Value)); err == nil {
			return count
		}
	}
	return 0
}

// ParseOrderCreatedEvent разбирает OrderCreated из сообщения.
func ParseOrderCreatedEvent(message *sarama.ConsumerMessage) (domain.OrderCreatedEvent, error) {
	var event domain.OrderCreatedEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return domain.OrderCreatedEvent{}, fmt.Errorf("%w: order-created: %v", ErrDecode, err)
	}
	if event.OrderID <= 0 {
		return domain.OrderCreatedEvent{}, fmt.Errorf("%w: order-created without order id", ErrDecode)
	}
	return event, nil
}

// ParseOrderCancelledEvent разбирает OrderCancelled из сообщения.
func ParseOrderCancelledEvent(message *sarama.ConsumerMessage) (domain.OrderCancelledEvent, error) {
	var event domain.OrderCancelledEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return domain.OrderCancelledEvent{}, fmt.Errorf("%w: order-cancelled: %v", ErrDecode, err)
	}
	if event.OrderID <= 0 {
		return domain.OrderCancelledEvent{}, fmt.Errorf("%w: order-cancelled without order id", ErrDecode)
	}
	return event, nil
}
