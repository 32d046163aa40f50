package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/messaging/kafka"
)

const orderCreatedValue = `{"id":7,"customer_id":"00000000-0000-0000-0000-000000000001","items":[{"product_id":1,"quantity":2}]}`

func dlqValue(t *testing.T, topic, key, value string, retry int) []byte {
	t.Helper()

	raw, err := json.Marshal(kafka.DLQRecord{
		OriginalTopic: topic,
		OriginalKey:   key,
		OriginalValue: value,
		ErrorMessage:  "handler failed",
		FailedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		RetryCount:    retry,
	})
	if err != nil {
		t.Fatalf("marshal dlq record failed: %v", err)
	}
	return raw
}

func testConfig() config {
	return config{
		sourceTopic: kafka.TopicStockDLQ,
		limit:       10,
		maxRetries:  defaultMaxRetries,
		idleTimeout: 20 * time.Millisecond,
	}
}

func TestParseBrokers(t *testing.T) {
	brokers := parseBrokers(" broker-1:9092, ,broker-2:9092 ")
	if len(brokers) != 2 {
		t.Fatalf("unexpected brokers count: got=%d want=2", len(brokers))
	}
	if brokers[0] != "broker-1:9092" || brokers[1] != "broker-2:9092" {
		t.Fatalf("unexpected brokers: %+v", brokers)
	}
}

func TestSelectReplay_Candidate(t *testing.T) {
	msg := &sarama.ConsumerMessage{Value: dlqValue(t, domain.TopicOrderCreated, "7", orderCreatedValue, 1)}

	got, reason := selectReplay(msg, testConfig())
	if reason != "" {
		t.Fatalf("expected replay candidate, skipped: %s", reason)
	}
	if got.topic != domain.TopicOrderCreated {
		t.Fatalf("unexpected topic: %s", got.topic)
	}
	if got.key != "7" {
		t.Fatalf("unexpected key: %s", got.key)
	}
	if string(got.value) != orderCreatedValue {
		t.Fatalf("unexpected replay value: %s", string(got.value))
	}
	if got.retry != 2 {
		t.Fatalf("expected retry=2, got %d", got.retry)
	}
}

func TestSelectReplay_Skips(t *testing.T) {
	onlyCancelled := testConfig()
	onlyCancelled.onlyTopic = domain.TopicOrderCancelled

	cases := []struct {
		name   string
		value  []byte
		cfg    config
		reason string
	}{
		{name: "not json", value: []byte("garbage"), cfg: testConfig(), reason: "dlq record"},
		{name: "no original topic", value: []byte(`{"original_value":"{}"}`), cfg: testConfig(), reason: "without original topic"},
		{name: "unknown topic", value: dlqValue(t, "payments", "1", "{}", 0), cfg: testConfig(), reason: "unsupported original topic"},
		{name: "filtered", value: dlqValue(t, domain.TopicOrderCreated, "1", orderCreatedValue, 0), cfg: onlyCancelled, reason: "only-topic"},
		{name: "budget exhausted", value: dlqValue(t, domain.TopicOrderCreated, "1", orderCreatedValue, defaultMaxRetries), cfg: testConfig(), reason: "retry budget exhausted"},
		{name: "empty value", value: dlqValue(t, domain.TopicOrderCancelled, "1", "", 0), cfg: testConfig(), reason: "empty original value"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, reason := selectReplay(&sarama.ConsumerMessage{Value: tc.value}, tc.cfg)
			if !strings.Contains(reason, tc.reason) {
				t.Fatalf("expected skip reason containing %q, got %q", tc.reason, reason)
			}
		})
	}
}

func TestReadConfig_FromFlags(t *testing.T) {
	withFlagArgs(t, []string{
		"-brokers=broker-1:9092,broker-2:9092",
		"-source-topic=custom-dlq",
		"-only-topic=" + domain.TopicOrderCancelled,
		"-limit=10",
		"-max-retries=5",
		"-execute=true",
		"-from-newest=true",
		"-idle-timeout=3s",
	}, func() {
		cfg, err := readConfig()
		if err != nil {
			t.Fatalf("readConfig failed: %v", err)
		}
		if len(cfg.brokers) != 2 {
			t.Fatalf("unexpected brokers count: %d", len(cfg.brokers))
		}
		if cfg.sourceTopic != "custom-dlq" || cfg.onlyTopic != domain.TopicOrderCancelled {
			t.Fatalf("unexpected topics: %+v", cfg)
		}
		if cfg.limit != 10 || cfg.maxRetries != 5 {
			t.Fatalf("unexpected limits: limit=%d max-retries=%d", cfg.limit, cfg.maxRetries)
		}
		if !cfg.execute {
			t.Fatal("expected execute=true")
		}
		if !cfg.fromNewest {
			t.Fatal("expected fromNewest=true")
		}
		if cfg.idleTimeout.Seconds() != 3 {
			t.Fatalf("unexpected idle-timeout: %s", cfg.idleTimeout)
		}
	})
}

func TestReadConfig_Defaults(t *testing.T) {
	t.Setenv(envKafkaBrokers, "env-broker:9092")

	withFlagArgs(t, nil, func() {
		cfg, err := readConfig()
		if err != nil {
			t.Fatalf("readConfig failed: %v", err)
		}
		if len(cfg.brokers) != 1 || cfg.brokers[0] != "env-broker:9092" {
			t.Fatalf("expected brokers from env, got %+v", cfg.brokers)
		}
		if cfg.sourceTopic != kafka.TopicStockDLQ {
			t.Fatalf("unexpected default source topic: %s", cfg.sourceTopic)
		}
		if cfg.execute {
			t.Fatal("expected dry-run by default")
		}
		if cfg.limit != defaultReplayLimit || cfg.maxRetries != defaultMaxRetries || cfg.idleTimeout != defaultIdleTimeout {
			t.Fatalf("unexpected defaults: %+v", cfg)
		}
	})
}

func TestReadConfig_ValidationErrors(t *testing.T) {
	t.Setenv(envKafkaBrokers, "")

	cases := []struct {
		args []string
		want string
	}{
		{args: []string{"-brokers="}, want: "kafka brokers are required"},
		{args: []string{"-brokers=broker:9092", "-source-topic="}, want: "source-topic is required"},
		{args: []string{"-brokers=broker:9092", "-only-topic=payments"}, want: "only-topic must be"},
		{args: []string{"-brokers=broker:9092", "-limit=0"}, want: "limit must be > 0"},
		{args: []string{"-brokers=broker:9092", "-max-retries=0"}, want: "max-retries must be > 0"},
		{args: []string{"-brokers=broker:9092", "-idle-timeout=0s"}, want: "idle-timeout must be > 0"},
	}

	for _, tc := range cases {
		withFlagArgs(t, tc.args, func() {
			_, err := readConfig()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("args %v: expected %q error, got: %v", tc.args, tc.want, err)
			}
		})
	}
}

func TestPublishReplay(t *testing.T) {
	ctx := context.Background()
	if err := publishReplay(ctx, nil, replayMessage{}); err == nil {
		t.Fatal("expected error for nil producer")
	}

	producer := &stubReplayProducer{}
	msg := replayMessage{topic: domain.TopicOrderCreated, key: "7", value: []byte(orderCreatedValue), retry: 2}
	if err := publishReplay(ctx, producer, msg); err != nil {
		t.Fatalf("publishReplay failed: %v", err)
	}
	if producer.calls != 1 {
		t.Fatalf("unexpected producer calls: %d", producer.calls)
	}
	if producer.lastTopic != domain.TopicOrderCreated || producer.lastKey != "7" {
		t.Fatalf("unexpected last message: topic=%s key=%s", producer.lastTopic, producer.lastKey)
	}
	if got := producer.header(kafka.HeaderRetryCount); got != "2" {
		t.Fatalf("expected retry header 2, got %q", got)
	}
	if got := producer.header(kafka.HeaderOriginalTopic); got != domain.TopicOrderCreated {
		t.Fatalf("unexpected original topic header: %q", got)
	}

	producer.sendErr = errors.New("send failed")
	if err := publishReplay(ctx, producer, msg); err == nil {
		t.Fatal("expected publishReplay error")
	}
}

func TestProcessPartition_DryRun(t *testing.T) {
	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 2}},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{
				Partition: 0,
				Offset:    0,
				Value:     dlqValue(t, domain.TopicOrderCreated, "7", orderCreatedValue, 0),
			}}),
		},
	}

	stats, err := processPartition(context.Background(), consumer, client, nil, testConfig(), 0, 10)
	if err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if stats.processed != 1 || stats.replayed != 1 || stats.skipped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(consumer.calls) != 1 || consumer.calls[0].offset != 0 {
		t.Fatalf("unexpected consume calls: %+v", consumer.calls)
	}
}

func TestProcessPartition_Execute(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 3}}}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{
				{Partition: 0, Offset: 0, Value: dlqValue(t, domain.TopicOrderCreated, "7", orderCreatedValue, 0)},
				{Partition: 0, Offset: 1, Value: dlqValue(t, domain.TopicOrderCancelled, "8", `{"id":8}`, defaultMaxRetries)},
				{Partition: 0, Offset: 2, Value: dlqValue(t, domain.TopicOrderCancelled, "9", `{"id":9}`, 1)},
			}),
		},
	}
	producer := &stubReplayProducer{}

	cfg := testConfig()
	cfg.execute = true

	stats, err := processPartition(context.Background(), consumer, client, producer, cfg, 0, 10)
	if err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if stats.processed != 3 || stats.replayed != 2 || stats.skipped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if producer.calls != 2 {
		t.Fatalf("expected two producer calls, got %d", producer.calls)
	}
	if producer.lastTopic != domain.TopicOrderCancelled || producer.header(kafka.HeaderRetryCount) != "2" {
		t.Fatalf("unexpected last replay: topic=%s retry=%s", producer.lastTopic, producer.header(kafka.HeaderRetryCount))
	}
}

func TestProcessPartition_FromNewest(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 3, newest: 10}}}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{0: closedPartitionConsumer(nil)},
	}

	cfg := testConfig()
	cfg.fromNewest = true

	if _, err := processPartition(context.Background(), consumer, client, nil, cfg, 0, 2); err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if len(consumer.calls) != 1 || consumer.calls[0].offset != 8 {
		t.Fatalf("expected start offset 8, got %+v", consumer.calls)
	}

	consumer.calls = nil
	if _, err := processPartition(context.Background(), consumer, client, nil, cfg, 0, 100); err != nil {
		t.Fatalf("processPartition failed: %v", err)
	}
	if consumer.calls[0].offset != 3 {
		t.Fatalf("expected start offset clamped to oldest, got %d", consumer.calls[0].offset)
	}
}

func TestProcessPartition_ErrorBranches(t *testing.T) {
	cfg := testConfig()
	cfg.execute = true

	clientOffsetErr := &stubOffsetClient{offsetErr: map[int32]error{0: errors.New("offset")}}
	if _, err := processPartition(context.Background(), &stubPartitionConsumerSource{}, clientOffsetErr, &stubReplayProducer{}, cfg, 0, 1); err == nil {
		t.Fatal("expected offset error")
	}

	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	consumerErr := &stubPartitionConsumerSource{consumeErr: errors.New("consume")}
	if _, err := processPartition(context.Background(), consumerErr, client, &stubReplayProducer{}, cfg, 0, 1); err == nil {
		t.Fatal("expected consume error")
	}

	pcWithErr := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError, 1),
	}
	pcWithErr.errors <- &sarama.ConsumerError{Err: errors.New("consumer boom")}
	close(pcWithErr.errors)
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pcWithErr}}
	if _, err := processPartition(context.Background(), consumer, client, &stubReplayProducer{}, cfg, 0, 1); err == nil {
		t.Fatal("expected consumer error branch")
	}
	close(pcWithErr.messages)

	pcBadPayload := closedPartitionConsumer([]*sarama.ConsumerMessage{{
		Partition: 0,
		Offset:    0,
		Value:     []byte(`{"id":"x","payload":"not-a-dlq-record"}`),
	}})
	consumer = &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pcBadPayload}}
	stats, err := processPartition(context.Background(), consumer, client, &stubReplayProducer{}, cfg, 0, 1)
	if err != nil {
		t.Fatalf("unexpected bad-payload error: %v", err)
	}
	if stats.skipped != 1 {
		t.Fatalf("expected skipped=1, got %+v", stats)
	}

	pcOK := closedPartitionConsumer([]*sarama.ConsumerMessage{{
		Partition: 0,
		Offset:    0,
		Value:     dlqValue(t, domain.TopicOrderCreated, "7", orderCreatedValue, 0),
	}})
	consumer = &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pcOK}}
	producer := &stubReplayProducer{sendErr: errors.New("send fail")}
	if _, err := processPartition(context.Background(), consumer, client, producer, cfg, 0, 1); err == nil {
		t.Fatal("expected producer send error")
	}
}

func TestProcessPartition_IdleTimeoutAndContext(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}

	idleConsumer := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: idleConsumer}}
	cfg := testConfig()
	cfg.idleTimeout = 10 * time.Millisecond

	stats, err := processPartition(context.Background(), consumer, client, nil, cfg, 0, 1)
	if err != nil {
		t.Fatalf("unexpected idle-timeout error: %v", err)
	}
	if stats.processed != 0 {
		t.Fatalf("expected processed=0, got %+v", stats)
	}
	close(idleConsumer.messages)
	close(idleConsumer.errors)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	canceledPC := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	canceledConsumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: canceledPC}}
	if _, err := processPartition(ctx, canceledConsumer, client, nil, cfg, 0, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	close(canceledPC.messages)
	close(canceledPC.errors)
}

func TestRunReplay(t *testing.T) {
	cfg := testConfig()
	cfg.limit = 1

	if err := runReplay(context.Background(), cfg, nil, nil, nil); err == nil {
		t.Fatal("expected missing deps error")
	}

	client := &stubOffsetClient{
		partitions: []int32{2, 0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 2},
			2: {oldest: 0, newest: 2},
		},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{
				Partition: 0,
				Offset:    0,
				Value:     dlqValue(t, domain.TopicOrderCreated, "7", orderCreatedValue, 0),
			}}),
			2: closedPartitionConsumer([]*sarama.ConsumerMessage{{
				Partition: 2,
				Offset:    0,
				Value:     dlqValue(t, domain.TopicOrderCancelled, "8", `{"id":8}`, 0),
			}}),
		},
	}

	if err := runReplay(context.Background(), cfg, client, consumer, nil); err != nil {
		t.Fatalf("runReplay failed: %v", err)
	}
	if len(consumer.calls) != 1 {
		t.Fatalf("expected one partition due limit=1, got calls=%d", len(consumer.calls))
	}
	if consumer.calls[0].partition != 0 {
		t.Fatalf("expected first sorted partition=0, got %d", consumer.calls[0].partition)
	}

	executeCfg := cfg
	executeCfg.execute = true
	if err := runReplay(context.Background(), executeCfg, client, consumer, nil); err == nil {
		t.Fatal("expected execute mode to require producer")
	}

	emptyClient := &stubOffsetClient{partitions: nil}
	if err := runReplay(context.Background(), cfg, emptyClient, consumer, nil); err != nil {
		t.Fatalf("expected nil error for empty partitions, got %v", err)
	}

	failingClient := &stubOffsetClient{partitionsErr: errors.New("metadata")}
	if err := runReplay(context.Background(), cfg, failingClient, consumer, nil); err == nil {
		t.Fatal("expected partitions error")
	}
}

func TestRun_UsesDependencies(t *testing.T) {
	oldDeps := newReplayDependencies
	defer func() { newReplayDependencies = oldDeps }()

	cfg := testConfig()
	cfg.limit = 1
	cfg.execute = true

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayPublisher, error) {
		return nil, nil, nil, errors.New("deps failed")
	}
	if err := run(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "deps failed") {
		t.Fatalf("expected deps error, got %v", err)
	}

	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 2}},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{
				Partition: 0,
				Offset:    0,
				Value:     dlqValue(t, domain.TopicOrderCreated, "7", orderCreatedValue, 0),
			}}),
		},
	}
	producer := &stubReplayProducer{}

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayPublisher, error) {
		return client, consumer, producer, nil
	}
	if err := run(context.Background(), cfg); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if producer.calls != 1 {
		t.Fatalf("expected one replay, got %d", producer.calls)
	}
	if !client.closed || !consumer.closed || !producer.closed {
		t.Fatalf("expected all deps to be closed: client=%v consumer=%v producer=%v", client.closed, consumer.closed, producer.closed)
	}
}

func TestMain_SuccessWithStubbedDeps(t *testing.T) {
	oldDeps := newReplayDependencies
	defer func() { newReplayDependencies = oldDeps }()

	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 2}},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{
				Partition: 0,
				Offset:    0,
				Value:     dlqValue(t, domain.TopicOrderCreated, "7", orderCreatedValue, 0),
			}}),
		},
	}
	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayPublisher, error) {
		return client, consumer, nil, nil
	}

	withFlagArgs(t, []string{"-brokers=broker:9092", "-limit=1", "-idle-timeout=50ms"}, func() {
		main()
	})
	if !client.closed || !consumer.closed {
		t.Fatal("expected deps to be closed after main")
	}
}

func TestFailExits(t *testing.T) {
	if os.Getenv("DLQ_TEST_FAIL_EXIT") == "1" {
		fail("boom")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "DLQ_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with error")
	}
	if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}

func withFlagArgs(t *testing.T, args []string, fn func()) {
	t.Helper()

	oldArgs := os.Args
	oldCommandLine := flag.CommandLine

	os.Args = append([]string{"dlq-reprocess"}, args...)
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	defer func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	fn()
}

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions    []int32
	partitionsErr error
	offsets       map[int32]offsetRange
	offsetErr     map[int32]error
	closed        bool
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if err, ok := s.offsetErr[partition]; ok {
		return 0, err
	}

	r := s.offsets[partition]
	switch marker {
	case sarama.OffsetOldest:
		return r.oldest, nil
	case sarama.OffsetNewest:
		return r.newest, nil
	default:
		return 0, fmt.Errorf("unsupported marker %d", marker)
	}
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	if s.partitionsErr != nil {
		return nil, s.partitionsErr
	}
	return append([]int32(nil), s.partitions...), nil
}

func (s *stubOffsetClient) Close() error {
	s.closed = true
	return nil
}

type consumeCall struct {
	partition int32
	offset    int64
}

type stubPartitionConsumerSource struct {
	consumers  map[int32]partitionConsumer
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (s *stubPartitionConsumerSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	s.calls = append(s.calls, consumeCall{partition: partition, offset: offset})
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	pc, ok := s.consumers[partition]
	if !ok {
		return nil, fmt.Errorf("partition %d not configured", partition)
	}
	return pc, nil
}

func (s *stubPartitionConsumerSource) Close() error {
	s.closed = true
	return nil
}

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
	closed   bool
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubPartitionConsumer) Close() error {
	s.closed = true
	return nil
}

func closedPartitionConsumer(messages []*sarama.ConsumerMessage) *stubPartitionConsumer {
	msgCh := make(chan *sarama.ConsumerMessage, len(messages))
	errCh := make(chan *sarama.ConsumerError)
	for _, msg := range messages {
		msgCh <- msg
	}
	close(msgCh)
	close(errCh)
	return &stubPartitionConsumer{messages: msgCh, errors: errCh}
}

type stubReplayProducer struct {
	sendErr     error
	calls       int
	closed      bool
	lastTopic   string
	lastKey     string
	lastHeaders []sarama.RecordHeader
}

func (s *stubReplayProducer) PublishRaw(_ context.Context, topic, key string, _ []byte, headers []sarama.RecordHeader) error {
	s.calls++
	s.lastTopic = topic
	s.lastKey = key
	s.lastHeaders = headers
	return s.sendErr
}

func (s *stubReplayProducer) Close() error {
	s.closed = true
	return nil
}

func (s *stubReplayProducer) header(key string) string {
	for _, h := range s.lastHeaders {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}
