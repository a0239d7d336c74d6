// Package metrics exposes Prometheus collectors for turns, model calls and
// tool executions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	turns        *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec
	modelCalls   *prometheus.CounterVec
	tokens       *prometheus.CounterVec
	cost         prometheus.Counter
	tools        *prometheus.CounterVec
	signals      *prometheus.CounterVec
}

// New registers the collectors with reg. Tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentline",
			Name:      "turns_total",
			Help:      "Turns handled, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentline",
			Name:      "turn_duration_seconds",
			Help:      "Wall time of a turn.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"kind"}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentline",
			Name:      "model_calls_total",
			Help:      "Model API calls, by provider and result class.",
		}, []string{"provider", "class"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentline",
			Name:      "model_tokens_total",
			Help:      "Tokens reported by the provider.",
		}, []string{"provider", "type"}),
		cost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentline",
			Name:      "model_cost_usd_total",
			Help:      "Estimated model spend in USD.",
		}),
		tools: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentline",
			Name:      "tool_executions_total",
			Help:      "Tool executions, by tool and status.",
		}, []string{"tool", "status"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentline",
			Name:      "signals_total",
			Help:      "Signals parsed from model replies.",
		}, []string{"signal"}),
	}
	reg.MustRegister(m.turns, m.turnDuration, m.modelCalls, m.tokens, m.cost, m.tools, m.signals)
	return m
}

// The methods below accept a nil receiver so callers can run without metrics.

func (m *Metrics) Turn(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(kind, outcome).Inc()
	m.turnDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) ModelCall(provider, class string, input, output, cacheRead, cacheWrite int64, costUSD float64) {
	if m == nil {
		return
	}
	if class == "" {
		class = "ok"
	}
	m.modelCalls.WithLabelValues(provider, class).Inc()
	m.tokens.WithLabelValues(provider, "input").Add(float64(input))
	m.tokens.WithLabelValues(provider, "output").Add(float64(output))
	m.tokens.WithLabelValues(provider, "cache_read").Add(float64(cacheRead))
	m.tokens.WithLabelValues(provider, "cache_write").Add(float64(cacheWrite))
	m.cost.Add(costUSD)
}

func (m *Metrics) Tool(name string, failed bool) {
	if m == nil {
		return
	}
	status := "ok"
	if failed {
		status = "error"
	}
	m.tools.WithLabelValues(name, status).Inc()
}

func (m *Metrics) Signal(name string) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(name).Inc()
}
