package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ExhaustedError reports that every candidate in the fallback chain failed.
// It wraps the last cause and carries the attempt count.
type ExhaustedError struct {
	Attempts int
	Cause    error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d providers exhausted: %v", e.Attempts, e.Cause)
}

func (e *ExhaustedError) Unwrap() error { return e.Cause }

// Candidate is one entry in the router's ordered chain.
type Candidate struct {
	Provider Provider
	Timeout  time.Duration
}

// Router walks an ordered provider chain until one completes. A candidate
// failure never reaches the caller unless the whole chain is exhausted.
type Router struct {
	candidates []Candidate
	logger     *slog.Logger

	mu        sync.RWMutex
	callbacks []CostCallback

	// rateLimitBackoff is the pause before moving past a rate-limited
	// candidate, giving shared-key siblings a moment to drain.
	rateLimitBackoff time.Duration
}

// NewRouter builds a router over candidates in priority order.
func NewRouter(candidates []Candidate, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		candidates:       candidates,
		logger:           logger.With("component", "router"),
		rateLimitBackoff: 2 * time.Second,
	}
}

// OnCost registers a callback fired after every successful completion.
func (r *Router) OnCost(cb CostCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Candidates returns the chain for inspection.
func (r *Router) Candidates() []Candidate {
	return r.candidates
}

// Complete streams a completion from the first candidate that delivers one.
// A model override in the request narrows the chain to candidates serving
// that model; if none do, the full chain is used. Once a candidate has
// emitted output it is committed and its errors are terminal.
func (r *Router) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	chain := r.chainFor(req.Model)
	if len(chain) == 0 {
		return nil, &ExhaustedError{Attempts: 0, Cause: fmt.Errorf("no providers configured")}
	}

	out := make(chan *CompletionChunk)
	go func() {
		defer close(out)

		var lastErr error
		for _, cand := range chain {
			if ctx.Err() != nil {
				out <- &CompletionChunk{Error: ctx.Err(), Done: true}
				return
			}

			ok, err := r.tryCandidate(ctx, cand, req, out)
			if ok {
				return
			}
			if err != nil {
				lastErr = err
				reason := Classify(err)
				log := r.logger.With("provider", cand.Provider.Name(), "model", cand.Provider.Model(), "reason", string(reason))
				if reason.ConfigIssue() {
					log.Error("provider failed: likely configuration issue", "error", err)
				} else {
					log.Warn("provider failed, trying next candidate", "error", err)
				}
				if reason == FailureRateLimit {
					select {
					case <-ctx.Done():
						out <- &CompletionChunk{Error: ctx.Err(), Done: true}
						return
					case <-time.After(r.rateLimitBackoff):
					}
				}
			}
		}

		out <- &CompletionChunk{Error: &ExhaustedError{Attempts: len(chain), Cause: lastErr}, Done: true}
	}()

	return out, nil
}

// tryCandidate runs one candidate under its timeout. It returns ok=true when
// the candidate completed (or was committed), err non-nil when the candidate
// failed cleanly before emitting anything.
func (r *Router) tryCandidate(ctx context.Context, cand Candidate, req *CompletionRequest, out chan<- *CompletionChunk) (bool, error) {
	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if cand.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, cand.Timeout)
	}
	defer cancel()

	start := time.Now()
	provReq := *req
	provReq.Model = cand.Provider.Model()

	chunks, err := cand.Provider.Complete(callCtx, &provReq)
	if err != nil {
		return false, err
	}

	committed := false
	var tokensIn, tokensOut int
	for chunk := range chunks {
		if chunk.Error != nil {
			if !committed {
				// Nothing reached the caller yet; the chain can move on.
				return false, chunk.Error
			}
			out <- chunk
			return true, nil
		}
		if chunk.Done {
			tokensIn, tokensOut = chunk.InputTokens, chunk.OutputTokens
			out <- chunk
			r.fireCost(cand.Provider.Model(), tokensIn, tokensOut, time.Since(start))
			return true, nil
		}
		committed = true
		out <- chunk
	}

	if committed {
		// Stream ended without a Done marker; treat as complete.
		out <- &CompletionChunk{Done: true}
		r.fireCost(cand.Provider.Model(), tokensIn, tokensOut, time.Since(start))
		return true, nil
	}
	return false, fmt.Errorf("provider %s closed stream without output", cand.Provider.Name())
}

func (r *Router) chainFor(model string) []Candidate {
	if model == "" {
		return r.candidates
	}
	var narrowed []Candidate
	for _, c := range r.candidates {
		if c.Provider.Model() == model {
			narrowed = append(narrowed, c)
		}
	}
	if len(narrowed) == 0 {
		return r.candidates
	}
	return narrowed
}

func (r *Router) fireCost(model string, tokensIn, tokensOut int, dur time.Duration) {
	r.mu.RLock()
	cbs := make([]CostCallback, len(r.callbacks))
	copy(cbs, r.callbacks)
	r.mu.RUnlock()

	usage := Usage{
		Model:     model,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		Cost:      EstimateCost(model, tokensIn, tokensOut),
		Duration:  dur,
	}
	for _, cb := range cbs {
		cb(usage)
	}
}

// modelPricing maps model-id prefixes to USD per million input/output tokens.
var modelPricing = []struct {
	prefix  string
	in, out float64
}{
	{"claude-opus", 15.0, 75.0},
	{"claude-sonnet", 3.0, 15.0},
	{"claude-haiku", 0.8, 4.0},
	{"gpt-4o-mini", 0.15, 0.6},
	{"gpt-4o", 2.5, 10.0},
	{"gpt-4", 30.0, 60.0},
	{"gpt-3.5", 0.5, 1.5},
}

// EstimateCost gives a best-effort USD cost for a completion. Unknown models
// cost zero rather than guessing.
func EstimateCost(model string, tokensIn, tokensOut int) float64 {
	for _, p := range modelPricing {
		if strings.HasPrefix(model, p.prefix) {
			return float64(tokensIn)/1e6*p.in + float64(tokensOut)/1e6*p.out
		}
	}
	return 0
}
