package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы операций движка для метки outcome.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// FulfillmentMetrics содержит метрики движка исполнения заказов.
// Все методы безопасны для nil-получателя: движок без метрик просто их не пишет.
type FulfillmentMetrics struct {
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	stepDuration      *prometheus.HistogramVec

	piecesReserved       prometheus.Counter
	piecesReleased       prometheus.Counter
	rollbacks            prometheus.Counter
	compensationFailures prometheus.Counter

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	inFlight prometheus.Gauge
}

// NewFulfillmentMetrics регистрирует метрики в глобальном реестре.
func NewFulfillmentMetrics() *FulfillmentMetrics {
	return NewFulfillmentMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewFulfillmentMetricsWithRegisterer регистрирует метрики в указанном реестре (изолированно в тестах).
func NewFulfillmentMetricsWithRegisterer(registerer prometheus.Registerer) *FulfillmentMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &FulfillmentMetrics{
		operations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "crm_fulfillment_operations_total",
			Help: "Total number of fulfillment operations by outcome",
		}, []string{"operation", "outcome"}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "crm_fulfillment_operation_duration_seconds",
			Help:    "Duration of fulfillment operations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "crm_fulfillment_step_duration_seconds",
			Help:    "Duration of individual fulfillment steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
		piecesReserved: registerCounter(registerer, prometheus.CounterOpts{
			Name: "crm_stock_pieces_reserved_total",
			Help: "Total number of pieces taken from stock",
		}),
		piecesReleased: registerCounter(registerer, prometheus.CounterOpts{
			Name: "crm_stock_pieces_released_total",
			Help: "Total number of pieces returned to stock",
		}),
		rollbacks: registerCounter(registerer, prometheus.CounterOpts{
			Name: "crm_fulfillment_rollbacks_total",
			Help: "Total number of reservation batches rolled back",
		}),
		compensationFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "crm_fulfillment_compensation_failures_total",
			Help: "Total number of stock releases that failed after all retries",
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "crm_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "crm_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "crm_fulfillment_inflight_operations",
			Help: "Number of fulfillment operations currently running",
		}),
	}
}

// StartOperation отмечает начало операции и возвращает функцию завершения.
func (m *FulfillmentMetrics) StartOperation(operation string) func(err error) {
	if m == nil {
		return func(error) {}
	}
	started := time.Now()
	m.inFlight.Inc()
	return func(err error) {
		m.inFlight.Dec()
		outcome := OutcomeSuccess
		if err != nil {
			outcome = OutcomeFailure
		}
		m.operations.WithLabelValues(operation, outcome).Inc()
		m.operationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
	}
}

// RecordStepDuration записывает время выполнения шага.
func (m *FulfillmentMetrics) RecordStepDuration(step string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordReserved учитывает списанные штуки.
func (m *FulfillmentMetrics) RecordReserved(pieces int64) {
	if m == nil || pieces <= 0 {
		return
	}
	m.piecesReserved.Add(float64(pieces))
}

// RecordReleased учитывает возвращённые штуки.
func (m *FulfillmentMetrics) RecordReleased(pieces int64) {
	if m == nil || pieces <= 0 {
		return
	}
	m.piecesReleased.Add(float64(pieces))
}

// RecordRollback увеличивает счётчик откатов пакета резервирования.
func (m *FulfillmentMetrics) RecordRollback() {
	if m == nil {
		return
	}
	m.rollbacks.Inc()
}

// RecordCompensationFailure увеличивает счётчик неудавшихся компенсаций.
func (m *FulfillmentMetrics) RecordCompensationFailure() {
	if m == nil {
		return
	}
	m.compensationFailures.Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *FulfillmentMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *FulfillmentMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}
