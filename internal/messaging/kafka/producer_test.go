package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

func newTestProducer(t *testing.T) (*Producer, *mocks.SyncProducer) {
	t.Helper()
	mockProducer := mocks.NewSyncProducer(t, nil)
	return NewProducerFromSync(mockProducer, log.WithField("component", "kafka-producer-test")), mockProducer
}

func TestProducer_PublishEncodesJSON(t *testing.T) {
	producer, mockProducer := newTestProducer(t)

	order := domain.Order{
		ID:          7,
		CustomerID:  uuid.New(),
		TotalAmount: decimal.RequireFromString("30.00"),
		Items: []domain.OrderItem{
			{ProductID: uuid.New(), Quantity: 3, UnitPrice: decimal.NewFromInt(10)},
		},
	}

	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var evt domain.OrderCreatedEvent
		if err := json.Unmarshal(value, &evt); err != nil {
			return err
		}
		if evt.OrderID != 7 || len(evt.Items) != 1 || evt.Items[0].Quantity != 3 {
			return fmt.Errorf("unexpected payload %s", value)
		}
		return nil
	})

	err := producer.Publish(context.Background(), domain.TopicOrderCreated, domain.OrderEventKey(order.ID), domain.NewOrderCreatedEvent(order))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishError(t *testing.T) {
	producer, mockProducer := newTestProducer(t)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := producer.Publish(context.Background(), domain.TopicOrderCreated, "order-1", map[string]int{"orderId": 1})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !domain.IsExternal(err) {
		t.Fatalf("publish error must be external, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_CancelledContextDoesNotSend(t *testing.T) {
	producer, mockProducer := newTestProducer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := producer.Publish(ctx, domain.TopicOrderCancelled, "order-1", struct{}{}); !domain.IsExternal(err) {
		t.Fatalf("expected external error, got %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishUnmarshalablePayload(t *testing.T) {
	producer, mockProducer := newTestProducer(t)

	if err := producer.Publish(context.Background(), "topic", "key", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDLQRecord(t *testing.T) {
	msg := &sarama.ConsumerMessage{
		Topic:     domain.TopicOrderCreated,
		Partition: 2,
		Offset:    41,
		Key:       []byte("order-5"),
		Value:     []byte(`{"orderId":5}`),
		Headers:   []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("2")}},
	}

	record := NewDLQRecord(msg, fmt.Errorf("boom"), fixedTime)
	if record.RetryCount != 2 || record.ErrorMessage != "boom" || record.OriginalOffset != 41 {
		t.Fatalf("unexpected record %+v", record)
	}

	raw, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	parsed, err := ParseDLQRecord(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.OriginalTopic != domain.TopicOrderCreated || parsed.OriginalValue != `{"orderId":5}` {
		t.Fatalf("unexpected parsed record %+v", parsed)
	}

	if _, err := ParseDLQRecord([]byte(`{}`)); err == nil {
		t.Fatal("record without topic must be rejected")
	}
}

func TestParseOrderEvents(t *testing.T) {
	if _, err := ParseOrderCreatedEvent(&sarama.ConsumerMessage{Value: []byte("not json")}); err == nil {
		t.Fatal("expected decode error")
	}
	if _, err := ParseOrderCreatedEvent(&sarama.ConsumerMessage{Value: []byte(`{"orderId":0}`)}); err == nil {
		t.Fatal("expected error for missing order id")
	}
	evt, err := ParseOrderCancelledEvent(&sarama.ConsumerMessage{Value: []byte(`{"orderId":3,"cancelReason":"changed mind"}`)})
	if err != nil {
		t.Fatalf("parse cancelled: %v", err)
	}
	if evt.OrderID != 3 || evt.CancelReason != "changed mind" {
		t.Fatalf("unexpected event %+v", evt)
	}
}
