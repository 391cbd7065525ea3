package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the worker's Prometheus collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	messagesTotal *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	inFlight      prometheus.Gauge
	settleErrors  *prometheus.CounterVec
}

// New creates and registers the worker collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		messagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recorder_messages_total",
				Help: "Messages settled by the worker, by outcome (ack, nack)",
			},
			[]string{"outcome"},
		),

		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recorder_stage_duration_seconds",
				Help:    "Duration of each job stage",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 3600},
			},
			[]string{"stage"},
		),

		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "recorder_jobs_in_flight",
				Help: "Messages delivered to a handler and not yet settled",
			},
		),

		settleErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recorder_settle_errors_total",
				Help: "Ack or nack calls rejected by the channel",
			},
			[]string{"action"},
		),
	}

	m.registry.MustRegister(
		m.messagesTotal,
		m.stageDuration,
		m.inFlight,
		m.settleErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// ObserveOutcome counts a settled message
func (m *Metrics) ObserveOutcome(outcome string) {
	m.messagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long a stage took
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// JobStarted marks a message as in flight
func (m *Metrics) JobStarted() {
	m.inFlight.Inc()
}

// JobFinished marks a message as settled
func (m *Metrics) JobFinished() {
	m.inFlight.Dec()
}

// SettleFailed counts a failed ack or nack
func (m *Metrics) SettleFailed(action string) {
	m.settleErrors.WithLabelValues(action).Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
