// Package gateway wires admission, the agent, and the session layer into the
// engine the channel adapters talk to.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jedisos/jedisos/internal/agent"
	"github.com/jedisos/jedisos/internal/audit"
	"github.com/jedisos/jedisos/internal/observability"
	"github.com/jedisos/jedisos/internal/policy"
	"github.com/jedisos/jedisos/internal/session"
	"github.com/jedisos/jedisos/pkg/models"
)

// Engine is the single entry point for envelopes. Adapters construct an
// envelope, Submit it, and render the event stream; the engine owns
// admission, agent invocation, and terminal-state accounting.
type Engine struct {
	agent    *agent.Agent
	pdp      *policy.PDP
	sessions *session.Manager
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// Config carries the engine's collaborators. Metrics may be nil.
type Config struct {
	Agent    *agent.Agent
	PDP      *policy.PDP
	Sessions *session.Manager
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// New builds the engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		agent:    cfg.Agent,
		pdp:      cfg.PDP,
		sessions: cfg.Sessions,
		metrics:  cfg.Metrics,
		logger:   logger.With("component", "engine"),
	}
}

// Submit admits the envelope and, when allowed, runs the agent. The returned
// stream ends with a done event (completed) or an error event (denied or
// failed); cancelling ctx propagates into the agent.
func (e *Engine) Submit(ctx context.Context, env *models.Envelope) (<-chan models.Event, error) {
	if env == nil {
		return nil, errors.New("nil envelope")
	}
	if !models.ValidChannel(env.Channel) {
		return nil, fmt.Errorf("unknown channel %q", env.Channel)
	}
	if env.UserID == "" {
		return nil, errors.New("envelope has no user id")
	}

	dec := e.pdp.Evaluate(ctx, policy.Input{
		UserID:     env.UserID,
		Channel:    env.Channel,
		Subject:    audit.SubjectMessage,
		EnvelopeID: env.ID,
	})
	if !dec.Allow {
		if err := env.Deny(dec.Reason); err != nil {
			return nil, err
		}
		e.logger.Info("envelope denied", "envelope_id", env.ID, "user_id", env.UserID, "reason", dec.Reason)
		e.observe(env)

		out := make(chan models.Event, 1)
		out <- models.ErrorEvent(errors.New(dec.Reason))
		close(out)
		return out, nil
	}

	if err := env.Transition(models.StateAuthorized); err != nil {
		return nil, err
	}

	events := e.agent.Run(ctx, env)
	out := make(chan models.Event)
	go func() {
		defer close(out)
		for ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				// Keep draining so the agent can reach a terminal state.
				for range events {
				}
			}
		}
		e.observe(env)
	}()
	return out, nil
}

// Notify delivers an out-of-band message to every live session the user has.
func (e *Engine) Notify(userID, message string) {
	if e.sessions != nil {
		e.sessions.Notify(userID, message)
	}
}

// Sessions exposes the session manager to adapters that open long-lived
// connections.
func (e *Engine) Sessions() *session.Manager {
	return e.sessions
}

func (e *Engine) observe(env *models.Envelope) {
	if e.metrics == nil {
		return
	}
	e.metrics.ObserveEnvelope(string(env.Channel), string(env.State()), time.Since(env.CreatedAt))
}
