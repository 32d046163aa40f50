package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shopsaga/internal/service/payment"
	"github.com/vladislavdragonenkov/shopsaga/internal/storage/postgres"
	"github.com/vladislavdragonenkov/shopsaga/internal/storage/redisx"
)

// Имена сервисов.
const (
	ServiceOrder   = postgres.ServiceOrder
	ServiceStock   = postgres.ServiceStock
	ServicePayment = postgres.ServicePayment
)

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Переменные окружения.
const (
	envHTTPAddr                = "SHOPSAGA_HTTP_ADDR"
	envGRPCAddr                = "SHOPSAGA_GRPC_ADDR"
	envMetricsAddr             = "SHOPSAGA_METRICS_ADDR"
	envLogLevel                = "SHOPSAGA_LOG_LEVEL"
	envRequestTimeout          = "SHOPSAGA_REQUEST_TIMEOUT"
	envStorageDriver           = "SHOPSAGA_STORAGE_DRIVER"
	envPostgresDSN             = "SHOPSAGA_POSTGRES_DSN"
	envPostgresAutoMigrate     = "SHOPSAGA_POSTGRES_AUTO_MIGRATE"
	envKafkaBrokers            = "SHOPSAGA_KAFKA_BROKERS"
	envConsumerGroup           = "SHOPSAGA_CONSUMER_GROUP"
	envOrderCreatedTopic       = "SHOPSAGA_TOPIC_ORDER_CREATED"
	envOrderCancelledTopic     = "SHOPSAGA_TOPIC_ORDER_CANCELLED"
	envDLQTopic                = "SHOPSAGA_TOPIC_DLQ"
	envConsumerStartDelay      = "SHOPSAGA_CONSUMER_START_DELAY"
	envConsumerConnectAttempts = "SHOPSAGA_CONSUMER_CONNECT_ATTEMPTS"
	envConsumerConnectDelay    = "SHOPSAGA_CONSUMER_CONNECT_DELAY"
	envConsumerBatchSize       = "SHOPSAGA_CONSUMER_BATCH_SIZE"
	envConsumerPollTimeout     = "SHOPSAGA_CONSUMER_POLL_TIMEOUT"
	envConsumerPollInterval    = "SHOPSAGA_CONSUMER_POLL_INTERVAL"
	envRedisAddr               = "SHOPSAGA_REDIS_ADDR"
	envDedupTTL                = "SHOPSAGA_DEDUP_TTL"
	envOrderServiceURL         = "SHOPSAGA_ORDER_SERVICE_URL"
	envStockServiceURL         = "SHOPSAGA_STOCK_SERVICE_URL"
	envPaymentServiceURL       = "SHOPSAGA_PAYMENT_SERVICE_URL"
	envClientTimeout           = "SHOPSAGA_CLIENT_TIMEOUT"
	envClientRetryAttempts     = "SHOPSAGA_CLIENT_RETRY_ATTEMPTS"
	envBreakerMaxFailures      = "SHOPSAGA_BREAKER_MAX_FAILURES"
	envBreakerResetTimeout     = "SHOPSAGA_BREAKER_RESET_TIMEOUT"
	envBankMode                = "SHOPSAGA_BANK_MODE"
	envReservationTTL          = "SHOPSAGA_RESERVATION_TTL"
	envExpiryInterval          = "SHOPSAGA_RESERVATION_EXPIRY_INTERVAL"
)

// Config описывает настройки запуска одного сервиса.
type Config struct {
	Service        string
	HTTPAddr       string
	GRPCAddr       string
	MetricsAddr    string
	LogLevel       string
	RequestTimeout time.Duration

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	// KafkaBrokers: список брокеров через запятую; пусто означает "без шины".
	KafkaBrokers            string
	ConsumerGroup           string
	OrderCreatedTopic       string
	OrderCancelledTopic     string
	DLQTopic                string
	ConsumerStartDelay      time.Duration
	ConsumerConnectAttempts int
	ConsumerConnectDelay    time.Duration
	ConsumerBatchSize       int
	ConsumerPollTimeout     time.Duration
	ConsumerPollInterval    time.Duration

	RedisAddr string
	DedupTTL  time.Duration

	OrderServiceURL   string
	StockServiceURL   string
	PaymentServiceURL string

	ClientTimeout       time.Duration
	ClientRetryAttempts int
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration

	BankMode string

	// ReservationTTL задаёт срок жизни Reserved-резерва; 0 отключает истечение.
	ReservationTTL time.Duration
	ExpiryInterval time.Duration
}

// DefaultConfig возвращает настройки сервиса по умолчанию. Порты разведены,
// чтобы все три сервиса поднимались на одной машине.
func DefaultConfig(service string) Config {
	offset := 0
	switch service {
	case ServiceStock:
		offset = 1
	case ServicePayment:
		offset = 2
	}
	loop := kafka.DefaultLoopConfig()

	return Config{
		Service:        service,
		HTTPAddr:       fmt.Sprintf(":%d", 8081+offset),
		GRPCAddr:       fmt.Sprintf(":%d", 50051+offset),
		MetricsAddr:    fmt.Sprintf(":%d", 9091+offset),
		LogLevel:       "info",
		RequestTimeout: 30 * time.Second,

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		ConsumerGroup:           "stock-service",
		OrderCreatedTopic:       domain.TopicOrderCreated,
		OrderCancelledTopic:     domain.TopicOrderCancelled,
		DLQTopic:                kafka.TopicStockDLQ,
		ConsumerStartDelay:      loop.StartDelay,
		ConsumerConnectAttempts: loop.ConnectAttempts,
		ConsumerConnectDelay:    loop.ConnectDelay,
		ConsumerBatchSize:       loop.BatchSize,
		ConsumerPollTimeout:     loop.PollTimeout,
		ConsumerPollInterval:    loop.PollInterval,

		DedupTTL: redisx.DefaultDedupTTL,

		OrderServiceURL:   "http://localhost:8081",
		StockServiceURL:   "http://localhost:8082",
		PaymentServiceURL: "http://localhost:8083",

		ClientTimeout:       5 * time.Second,
		ClientRetryAttempts: 3,
		BreakerMaxFailures:  5,
		BreakerResetTimeout: 10 * time.Second,

		BankMode: payment.BankModeApprove,

		ExpiryInterval: time.Minute,
	}
}

// Brokers возвращает список брокеров Kafka.
func (c Config) Brokers() []string {
	return splitCSV(c.KafkaBrokers)
}

// LoopConfig собирает настройки цикла консьюмера.
func (c Config) LoopConfig() kafka.LoopConfig {
	return kafka.LoopConfig{
		OrderCreatedTopic:   c.OrderCreatedTopic,
		OrderCancelledTopic: c.OrderCancelledTopic,
		StartDelay:          c.ConsumerStartDelay,
		ConnectAttempts:     c.ConsumerConnectAttempts,
		ConnectDelay:        c.ConsumerConnectDelay,
		BatchSize:           c.ConsumerBatchSize,
		PollTimeout:         c.ConsumerPollTimeout,
		PollInterval:        c.ConsumerPollInterval,
	}
}

// EnvLookup совпадает по сигнатуре с os.LookupEnv.
type EnvLookup func(string) (string, bool)

// ConfigFromEnv накладывает переменные окружения на DefaultConfig(service).
// Некорректные значения не прерывают запуск: поле остаётся по умолчанию,
// а ошибка возвращается как предупреждение.
func ConfigFromEnv(service string, lookup EnvLookup) (Config, []error) {
	cfg := DefaultConfig(service)
	var warnings []error
	warn := func(key, value string, err error) {
		warnings = append(warnings, fmt.Errorf("invalid %s=%q: %w", key, value, err))
	}

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	positiveInt := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		parsed, err := parseInt(v, func(n int) bool { return n > 0 }, "must be > 0")
		if err != nil {
			warn(key, v, err)
			return
		}
		*dst = parsed
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warn(key, v, err)
			return
		}
		*dst = parsed
	}
	positive := func(d time.Duration) bool { return d > 0 }
	nonNegative := func(d time.Duration) bool { return d >= 0 }

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)
	str(envLogLevel, &cfg.LogLevel)
	duration(envRequestTimeout, &cfg.RequestTimeout, positive, "must be > 0")

	if v, ok := lookup(envStorageDriver); ok && strings.TrimSpace(v) != "" {
		driver := strings.ToLower(strings.TrimSpace(v))
		if driver == StorageDriverMemory || driver == StorageDriverPostgres {
			cfg.StorageDriver = driver
		} else {
			warn(envStorageDriver, v, fmt.Errorf("must be %s or %s", StorageDriverMemory, StorageDriverPostgres))
		}
	}
	str(envPostgresDSN, &cfg.PostgresDSN)
	if v, ok := lookup(envPostgresAutoMigrate); ok {
		parsed, err := parseBool(v)
		if err != nil {
			warn(envPostgresAutoMigrate, v, err)
		} else {
			cfg.PostgresAutoMigrate = parsed
		}
	}

	str(envKafkaBrokers, &cfg.KafkaBrokers)
	str(envConsumerGroup, &cfg.ConsumerGroup)
	str(envOrderCreatedTopic, &cfg.OrderCreatedTopic)
	str(envOrderCancelledTopic, &cfg.OrderCancelledTopic)
	str(envDLQTopic, &cfg.DLQTopic)
	duration(envConsumerStartDelay, &cfg.ConsumerStartDelay, nonNegative, "must be >= 0")
	positiveInt(envConsumerConnectAttempts, &cfg.ConsumerConnectAttempts)
	duration(envConsumerConnectDelay, &cfg.ConsumerConnectDelay, nonNegative, "must be >= 0")
	positiveInt(envConsumerBatchSize, &cfg.ConsumerBatchSize)
	duration(envConsumerPollTimeout, &cfg.ConsumerPollTimeout, positive, "must be > 0")
	duration(envConsumerPollInterval, &cfg.ConsumerPollInterval, positive, "must be > 0")

	str(envRedisAddr, &cfg.RedisAddr)
	duration(envDedupTTL, &cfg.DedupTTL, positive, "must be > 0")

	str(envOrderServiceURL, &cfg.OrderServiceURL)
	str(envStockServiceURL, &cfg.StockServiceURL)
	str(envPaymentServiceURL, &cfg.PaymentServiceURL)
	duration(envClientTimeout, &cfg.ClientTimeout, positive, "must be > 0")
	positiveInt(envClientRetryAttempts, &cfg.ClientRetryAttempts)
	positiveInt(envBreakerMaxFailures, &cfg.BreakerMaxFailures)
	duration(envBreakerResetTimeout, &cfg.BreakerResetTimeout, positive, "must be > 0")

	if v, ok := lookup(envBankMode); ok && strings.TrimSpace(v) != "" {
		mode := strings.ToLower(strings.TrimSpace(v))
		if mode == payment.BankModeApprove || mode == payment.BankModeDecline {
			cfg.BankMode = mode
		} else {
			warn(envBankMode, v, fmt.Errorf("must be %s or %s", payment.BankModeApprove, payment.BankModeDecline))
		}
	}

	duration(envReservationTTL, &cfg.ReservationTTL, nonNegative, "must be >= 0")
	duration(envExpiryInterval, &cfg.ExpiryInterval, positive, "must be > 0")

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("unsupported bool value")
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if !valid(value) {
		return 0, fmt.Errorf("%s", rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if !valid(value) {
		return 0, fmt.Errorf("%s", rule)
	}
	return value, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
