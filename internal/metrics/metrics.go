// Package metrics содержит метрики Prometheus бота:
//
//	smcbot_decisions_total{step,accepted}  решения о входе по шагу каскада
//	smcbot_position_events_total{type,reason} события позиций
//	smcbot_open_positions                  число открытых позиций
//	smcbot_port_errors_total{operation}    ошибки порта исполнения
//	smcbot_evaluation_seconds              длительность оценки символа
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skalibog/smcbot/pkg/models"
)

// Metrics набор метрик с собственным реестром
type Metrics struct {
	registry *prometheus.Registry

	decisions     *prometheus.CounterVec
	events        *prometheus.CounterVec
	openPositions prometheus.Gauge
	portErrors    *prometheus.CounterVec
	evaluation    prometheus.Histogram
}

// New создает и регистрирует метрики
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smcbot_decisions_total",
				Help: "Entry decisions by cascade step",
			},
			[]string{"step", "accepted"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smcbot_position_events_total",
				Help: "Position lifecycle events",
			},
			[]string{"type", "reason"},
		),
		openPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "smcbot_open_positions",
				Help: "Currently open positions",
			},
		),
		portErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smcbot_port_errors_total",
				Help: "Execution port failures by operation",
			},
			[]string{"operation"},
		),
		evaluation: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "smcbot_evaluation_seconds",
				Help:    "Time spent evaluating one symbol",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
		),
	}

	m.registry.MustRegister(m.decisions, m.events, m.openPositions, m.portErrors, m.evaluation)
	return m
}

// Handler отдает метрики в формате Prometheus
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveDecision(d models.Decision) {
	accepted := "false"
	if d.Accepted {
		accepted = "true"
	}
	m.decisions.WithLabelValues(d.Step, accepted).Inc()
}

func (m *Metrics) ObserveEvent(ev models.Event) {
	m.events.WithLabelValues(string(ev.Type), string(ev.Reason)).Inc()
}

func (m *Metrics) SetOpenPositions(n int) {
	m.openPositions.Set(float64(n))
}

func (m *Metrics) PortError(operation string) {
	m.portErrors.WithLabelValues(operation).Inc()
}

func (m *Metrics) ObserveEvaluation(seconds float64) {
	m.evaluation.Observe(seconds)
}
