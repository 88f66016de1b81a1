package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveEnvelope(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveEnvelope("cli", "completed", 2*time.Second)
	m.ObserveEnvelope("cli", "completed", time.Second)
	m.ObserveEnvelope("web", "failed", time.Second)

	if got := testutil.ToFloat64(m.EnvelopeCounter.WithLabelValues("cli", "completed")); got != 2 {
		t.Errorf("cli completed = %v", got)
	}
	if got := testutil.ToFloat64(m.EnvelopeCounter.WithLabelValues("web", "failed")); got != 1 {
		t.Errorf("web failed = %v", got)
	}
}

func TestObserveUsage(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveUsage("claude-sonnet-4", 1000, 500, 0.0105, 800*time.Millisecond)

	if got := testutil.ToFloat64(m.LLMTokens.WithLabelValues("claude-sonnet-4", "in")); got != 1000 {
		t.Errorf("tokens in = %v", got)
	}
	if got := testutil.ToFloat64(m.LLMTokens.WithLabelValues("claude-sonnet-4", "out")); got != 500 {
		t.Errorf("tokens out = %v", got)
	}
	if got := testutil.ToFloat64(m.LLMCost.WithLabelValues("claude-sonnet-4")); got != 0.0105 {
		t.Errorf("cost = %v", got)
	}
}

func TestSeparateRegistriesDoNotCollide(t *testing.T) {
	a := New(prometheus.NewRegistry())
	b := New(prometheus.NewRegistry())
	a.ToolCounter.WithLabelValues("weather", "success").Inc()
	if got := testutil.ToFloat64(b.ToolCounter.WithLabelValues("weather", "success")); got != 0 {
		t.Errorf("registries share state: %v", got)
	}
}
