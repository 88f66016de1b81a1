// Package observability holds the Prometheus metrics the runtime exports at
// /metrics: envelope flow, LLM routing, tool dispatch, and session counts.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the runtime's metric set. Construct once at startup.
type Metrics struct {
	// EnvelopeCounter counts envelopes by channel and terminal state.
	// Labels: channel, state (completed|failed|denied)
	EnvelopeCounter *prometheus.CounterVec

	// EnvelopeDuration measures time from submit to terminal state.
	// Labels: channel
	EnvelopeDuration *prometheus.HistogramVec

	// LLMRequestDuration measures one completion's wall time in seconds.
	// Labels: model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokens counts tokens by model and direction (in|out).
	LLMTokens *prometheus.CounterVec

	// LLMCost accumulates estimated spend in USD by model.
	LLMCost *prometheus.CounterVec

	// ProviderFallbacks counts candidates skipped by the router.
	// Labels: provider, reason
	ProviderFallbacks *prometheus.CounterVec

	// ToolCounter counts tool dispatches by name and status
	// (success|error|denied).
	ToolCounter *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds by name.
	ToolDuration *prometheus.HistogramVec

	// ForgeAttempts counts forge attempts by outcome (success|rejected|error).
	ForgeAttempts *prometheus.CounterVec

	// ActiveSessions tracks live sessions by channel.
	ActiveSessions *prometheus.GaugeVec
}

// New registers the metric set with reg; a nil reg uses the default
// registerer, which feeds the standard /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		EnvelopeCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jedisos_envelopes_total",
				Help: "Envelopes processed by channel and terminal state",
			},
			[]string{"channel", "state"},
		),
		EnvelopeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jedisos_envelope_duration_seconds",
				Help:    "Time from submit to terminal state",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"channel"},
		),
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jedisos_llm_request_duration_seconds",
				Help:    "Duration of LLM completions",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"model"},
		),
		LLMTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jedisos_llm_tokens_total",
				Help: "Token usage by model and direction",
			},
			[]string{"model", "direction"},
		),
		LLMCost: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jedisos_llm_cost_usd_total",
				Help: "Estimated spend in USD by model",
			},
			[]string{"model"},
		),
		ProviderFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jedisos_provider_fallbacks_total",
				Help: "Router candidates skipped, by provider and failure reason",
			},
			[]string{"provider", "reason"},
		),
		ToolCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jedisos_tool_dispatches_total",
				Help: "Tool dispatches by name and status",
			},
			[]string{"tool", "status"},
		),
		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jedisos_tool_duration_seconds",
				Help:    "Tool execution time",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		ForgeAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jedisos_forge_attempts_total",
				Help: "Forge attempts by outcome",
			},
			[]string{"outcome"},
		),
		ActiveSessions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "jedisos_active_sessions",
				Help: "Live sessions by channel",
			},
			[]string{"channel"},
		),
	}
}

// ObserveUsage records one completion's tokens, cost, and latency.
func (m *Metrics) ObserveUsage(model string, tokensIn, tokensOut int, cost float64, dur time.Duration) {
	m.LLMTokens.WithLabelValues(model, "in").Add(float64(tokensIn))
	m.LLMTokens.WithLabelValues(model, "out").Add(float64(tokensOut))
	m.LLMCost.WithLabelValues(model).Add(cost)
	m.LLMRequestDuration.WithLabelValues(model).Observe(dur.Seconds())
}

// ObserveEnvelope records one envelope's terminal state and duration.
func (m *Metrics) ObserveEnvelope(channel, state string, dur time.Duration) {
	m.EnvelopeCounter.WithLabelValues(channel, state).Inc()
	m.EnvelopeDuration.WithLabelValues(channel).Observe(dur.Seconds())
}

// ObserveTool records one tool dispatch.
func (m *Metrics) ObserveTool(tool, status string, dur time.Duration) {
	m.ToolCounter.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(dur.Seconds())
}
