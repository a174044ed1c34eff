package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	eventsTotal         *prometheus.CounterVec
	eventDuration       *prometheus.HistogramVec
	eventsInFlight      prometheus.Gauge
	eventLag            *prometheus.HistogramVec
	verificationResults *prometheus.CounterVec
	notificationsTotal  *prometheus.CounterVec
	retriesTotal        *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "welfare",
			Subsystem: "worker",
			Name:      "events_processed_total",
			Help:      "Total processed status-change events by target status and result.",
		},
		[]string{"service", "to_status", "result"},
	)
	eventDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "welfare",
			Subsystem: "worker",
			Name:      "event_duration_seconds",
			Help:      "Event handling duration in seconds by result.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "result"},
	)
	eventsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "welfare",
			Subsystem: "worker",
			Name:      "events_in_flight",
			Help:      "Number of status-change events being handled.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	eventLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "welfare",
			Subsystem: "worker",
			Name:      "event_lag_seconds",
			Help:      "Delay between the status change and the start of its handling.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	verificationResults := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "welfare",
			Subsystem: "worker",
			Name:      "document_verifications_total",
			Help:      "External document verification results by status.",
		},
		[]string{"service", "status"},
	)
	notificationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "welfare",
			Subsystem: "worker",
			Name:      "notifications_total",
			Help:      "Notifications forwarded to the fan-out topic by result.",
		},
		[]string{"service", "result"},
	)
	retriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "welfare",
			Subsystem: "resilience",
			Name:      "retries_total",
			Help:      "Retried calls to external systems by operation.",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(eventsTotal, eventDuration, eventsInFlight, eventLag, verificationResults, notificationsTotal, retriesTotal)

	return &WorkerMetrics{
		registry:            registry,
		service:             service,
		eventsTotal:         eventsTotal,
		eventDuration:       eventDuration,
		eventsInFlight:      eventsInFlight,
		eventLag:            eventLag,
		verificationResults: verificationResults,
		notificationsTotal:  notificationsTotal,
		retriesTotal:        retriesTotal,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartEvent() {
	m.eventsInFlight.Inc()
}

func (m *WorkerMetrics) FinishEvent(toStatus string, duration time.Duration, err error) {
	m.eventsInFlight.Dec()

	result := "success"
	if err != nil {
		result = "error"
	}

	m.eventsTotal.WithLabelValues(m.service, toStatus, result).Inc()
	m.eventDuration.WithLabelValues(m.service, result).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveEventLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.eventLag.WithLabelValues(m.service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) RecordVerification(status string) {
	m.verificationResults.WithLabelValues(m.service, status).Inc()
}

func (m *WorkerMetrics) RecordNotification(err error) {
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.notificationsTotal.WithLabelValues(m.service, result).Inc()
}

func (m *WorkerMetrics) ObserveRetry(operation string) {
	m.retriesTotal.WithLabelValues(m.service, operation).Inc()
}

func (m *WorkerMetrics) ObserveBreakerState(string, string) {}
