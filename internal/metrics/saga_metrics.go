package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Значения gauge состояния консьюмера.
const (
	ConsumerStateDisconnected = 0
	ConsumerStateRetrying     = 1
	ConsumerStateSubscribed   = 2
)

// SagaMetrics содержит метрики саги заказов.
// Все методы можно вызывать на nil: сервисы в тестах работают без метрик.
type SagaMetrics struct {
	// Счётчики заказов
	ordersCreated   prometheus.Counter
	ordersCancelled prometheus.Counter

	// Компенсации и точка невозврата
	compensations       *prometheus.CounterVec
	payments            *prometheus.CounterVec
	refunds             prometheus.Counter
	manualInterventions prometheus.Counter

	// Консьюмер склада
	consumerMessages *prometheus.CounterVec
	consumerState    prometheus.Gauge

	// Истечение резервов
	expiryRuns          *prometheus.CounterVec
	reservationsExpired prometheus.Counter

	stepDuration *prometheus.HistogramVec
}

// NewSagaMetrics создаёт метрики в DefaultRegisterer.
func NewSagaMetrics() *SagaMetrics {
	return NewSagaMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSagaMetricsWithRegisterer создаёт метрики в указанном регистре.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewSagaMetricsWithRegisterer(registerer prometheus.Registerer) *SagaMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SagaMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shopsaga_orders_created_total",
			Help: "Total number of orders accepted into the saga",
		}),
		ordersCancelled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shopsaga_orders_cancelled_total",
			Help: "Total number of orders cancelled",
		}),
		compensations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shopsaga_compensations_total",
			Help: "Compensating actions by operation and result",
		}, []string{"operation", "result"}),
		payments: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shopsaga_payments_total",
			Help: "Payment settlements by outcome",
		}, []string{"outcome"}),
		refunds: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shopsaga_refunds_total",
			Help: "Total number of refunded payments",
		}),
		manualInterventions: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shopsaga_manual_interventions_total",
			Help: "Orders moved to ManualIntervention after a failed post-pivot step",
		}),
		consumerMessages: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shopsaga_consumer_messages_total",
			Help: "Messages handled by the stock consumer by topic and result",
		}, []string{"topic", "result"}),
		consumerState: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "shopsaga_consumer_state",
			Help: "Stock consumer state: 0 disconnected, 1 retrying, 2 subscribed",
		}),
		expiryRuns: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shopsaga_reservation_expiry_runs_total",
			Help: "Reservation expiry sweeps grouped by result",
		}, []string{"result"}),
		reservationsExpired: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shopsaga_reservations_expired_total",
			Help: "Total number of stale reservations released by the expiry sweep",
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "shopsaga_step_duration_seconds",
			Help:    "Duration of individual saga steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *SagaMetrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

// RecordOrderCancelled увеличивает счётчик отменённых заказов.
func (m *SagaMetrics) RecordOrderCancelled() {
	if m == nil {
		return
	}
	m.ordersCancelled.Inc()
}

// RecordCompensation учитывает компенсирующее действие; ok=false означает,
// что компенсация не удалась и только залогирована.
func (m *SagaMetrics) RecordCompensation(operation string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.compensations.WithLabelValues(operation, result).Inc()
}

// RecordPayment учитывает исход списания: completed, declined, failed.
func (m *SagaMetrics) RecordPayment(outcome string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(outcome).Inc()
}

// RecordRefund увеличивает счётчик возвратов.
func (m *SagaMetrics) RecordRefund() {
	if m == nil {
		return
	}
	m.refunds.Inc()
}

// RecordManualIntervention увеличивает счётчик заказов, требующих ручного разбора.
func (m *SagaMetrics) RecordManualIntervention() {
	if m == nil {
		return
	}
	m.manualInterventions.Inc()
}

// RecordConsumerMessage учитывает обработанное сообщение: processed, failed, duplicate, ignored.
func (m *SagaMetrics) RecordConsumerMessage(topic, result string) {
	if m == nil {
		return
	}
	m.consumerMessages.WithLabelValues(topic, result).Inc()
}

// SetConsumerState выставляет текущее состояние консьюмера.
func (m *SagaMetrics) SetConsumerState(state int) {
	if m == nil {
		return
	}
	m.consumerState.Set(float64(state))
}

// RecordExpiryRun учитывает проход по просроченным резервам и число снятых резервов.
func (m *SagaMetrics) RecordExpiryRun(result string, expired int) {
	if m == nil {
		return
	}
	m.expiryRuns.WithLabelValues(result).Inc()
	if expired > 0 {
		m.reservationsExpired.Add(float64(expired))
	}
}

// RecordStepDuration записывает время выполнения шага саги.
func (m *SagaMetrics) RecordStepDuration(step string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}
