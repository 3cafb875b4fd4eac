package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the runtime's prometheus collectors. All methods are nil-safe
// so components can run without a registry in tests.
type Metrics struct {
	TurnsTotal      *prometheus.CounterVec
	TurnDuration    prometheus.Histogram
	LLMCallsTotal   *prometheus.CounterVec
	LLMTokensTotal  *prometheus.CounterVec
	ToolExecsTotal  *prometheus.CounterVec
	RoutingCacheOps *prometheus.CounterVec
	RateLimited     *prometheus.CounterVec
}

// NewMetrics creates and registers the runtime collectors. Pass nil to use
// the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := func(c prometheus.Collector) {
		// Duplicate registration happens in tests; ignore it.
		_ = reg.Register(c)
	}

	m := &Metrics{
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_turns_total",
			Help: "Turns processed, by outcome.",
		}, []string{"outcome"}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_turn_duration_seconds",
			Help:    "End-to-end turn duration.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_llm_calls_total",
			Help: "LLM calls, by provider and status.",
		}, []string{"provider", "status"}),
		LLMTokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_llm_tokens_total",
			Help: "Token usage, by provider and direction.",
		}, []string{"provider", "direction"}),
		ToolExecsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_tool_executions_total",
			Help: "Tool executions, by tool and status.",
		}, []string{"tool", "status"}),
		RoutingCacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_routing_cache_total",
			Help: "Routing cache lookups, by result.",
		}, []string{"result"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_rate_limited_total",
			Help: "Turns rejected by the rate gate, by scope.",
		}, []string{"scope"}),
	}

	factory(m.TurnsTotal)
	factory(m.TurnDuration)
	factory(m.LLMCallsTotal)
	factory(m.LLMTokensTotal)
	factory(m.ToolExecsTotal)
	factory(m.RoutingCacheOps)
	factory(m.RateLimited)
	return m
}

// ObserveTurn records a completed turn.
func (m *Metrics) ObserveTurn(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(seconds)
}

// ObserveLLMCall records an LLM call with its token usage.
func (m *Metrics) ObserveLLMCall(provider, status string, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.LLMCallsTotal.WithLabelValues(provider, status).Inc()
	if inputTokens > 0 {
		m.LLMTokensTotal.WithLabelValues(provider, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.LLMTokensTotal.WithLabelValues(provider, "output").Add(float64(outputTokens))
	}
}

// ObserveToolExec records one tool execution.
func (m *Metrics) ObserveToolExec(tool, status string) {
	if m == nil {
		return
	}
	m.ToolExecsTotal.WithLabelValues(tool, status).Inc()
}

// ObserveRoutingCache records a routing cache lookup result.
func (m *Metrics) ObserveRoutingCache(result string) {
	if m == nil {
		return
	}
	m.RoutingCacheOps.WithLabelValues(result).Inc()
}

// ObserveRateLimited records a rate-gate rejection.
func (m *Metrics) ObserveRateLimited(scope string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(scope).Inc()
}
