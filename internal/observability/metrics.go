package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
// A nil *Metrics is valid and records nothing, so libraries can stay
// metric-agnostic in tests.
type Metrics struct {
	TurnsTotal       *prometheus.CounterVec
	RoutingDecisions *prometheus.CounterVec
	ToolAttempts     *prometheus.CounterVec
	TurnDuration     prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		TurnsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Processed conversation turns by terminal outcome.",
		}, []string{"outcome"}),
		RoutingDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_decisions_total",
			Help:      "Routing decisions by action.",
		}, []string{"action"}),
		ToolAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_attempts_total",
			Help:      "Analytics service call attempts by tool and result.",
		}, []string{"tool", "result"}),
		TurnDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "End-to-end turn processing latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
	}
}

func (m *Metrics) ObserveTurn(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveRouting(action string) {
	if m == nil {
		return
	}
	m.RoutingDecisions.WithLabelValues(action).Inc()
}

func (m *Metrics) ObserveToolAttempt(tool, result string) {
	if m == nil {
		return
	}
	m.ToolAttempts.WithLabelValues(tool, result).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
