package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/doc-ocr/internal/core/domain"
)

// WorkerMetrics observes recognition processes spawned by the orchestrator.
type WorkerMetrics struct {
	service string

	processTotal    *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
	processInFlight prometheus.Gauge
	spawnLag        prometheus.Histogram
	breakerState    *prometheus.GaugeVec
}

func NewWorkerMetrics(service string, registerer prometheus.Registerer) *WorkerMetrics {
	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "process_total",
			Help:      "Total finished recognition processes by resulting job status.",
		},
		[]string{"service", "status"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "process_duration_seconds",
			Help:      "Recognition process wall time in seconds by resulting job status.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service", "status"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "process_in_flight",
			Help:      "Number of running recognition processes.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	spawnLag := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "spawn_lag_seconds",
			Help:        "Delay between job creation and worker spawn.",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "circuit_breaker_state",
			Help:      "Current circuit breaker state per operation (1 for the active state).",
		},
		[]string{"service", "operation", "state"},
	)

	registerer.MustRegister(processTotal, processDuration, processInFlight, spawnLag, breakerState)

	return &WorkerMetrics{
		service:         service,
		processTotal:    processTotal,
		processDuration: processDuration,
		processInFlight: processInFlight,
		spawnLag:        spawnLag,
		breakerState:    breakerState,
	}
}

func (m *WorkerMetrics) WorkerStarted(lag time.Duration) {
	m.processInFlight.Inc()
	if lag >= 0 {
		m.spawnLag.Observe(lag.Seconds())
	}
}

func (m *WorkerMetrics) WorkerFinished(status domain.DocumentStatus, duration time.Duration) {
	m.processInFlight.Dec()
	m.processTotal.WithLabelValues(m.service, string(status)).Inc()
	m.processDuration.WithLabelValues(m.service, string(status)).Observe(duration.Seconds())
}

func (m *WorkerMetrics) BreakerStateChanged(operation, from, to string) {
	m.breakerState.WithLabelValues(m.service, operation, from).Set(0)
	m.breakerState.WithLabelValues(m.service, operation, to).Set(1)
}
