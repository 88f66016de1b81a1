package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jedisos/jedisos/internal/identity"
	"github.com/jedisos/jedisos/internal/memory"
	"github.com/jedisos/jedisos/internal/policy"
	"github.com/jedisos/jedisos/internal/tools"
	"github.com/jedisos/jedisos/pkg/models"
)

const (
	// DefaultMaxIterations caps tool-dispatch rounds per envelope.
	DefaultMaxIterations = 10
	// DefaultToolTimeout bounds one tool invocation.
	DefaultToolTimeout = 30 * time.Second

	roleUser      = "user"
	roleAssistant = "assistant"
	roleTool      = "tool"
)

// Agent drives an authorized envelope through recall, reasoning, tool
// dispatch, and retain. One Agent serves all envelopes; per-envelope state
// lives on the envelope and in the run's local variables.
type Agent struct {
	router   *Router
	registry *tools.Registry
	pdp      *policy.PDP
	mem      *memory.Client
	identity *identity.Identity
	logger   *slog.Logger

	// MaxIterations caps tool-call attempts per envelope. When the model
	// keeps asking for tools at the bound, the loop exits with the last
	// text it produced.
	MaxIterations int
	// ToolTimeout bounds a single tool invocation; a timeout becomes the
	// tool's result, not the request's failure.
	ToolTimeout time.Duration
	// Temperature and MaxTokens are passed through to the router.
	Temperature float64
	MaxTokens   int
}

// Config carries the agent's collaborators. Memory may be nil (the agent
// then skips recall and retain); everything else is required.
type Config struct {
	Router   *Router
	Registry *tools.Registry
	PDP      *policy.PDP
	Memory   *memory.Client
	Identity *identity.Identity
	Logger   *slog.Logger
}

// New builds an agent with default bounds.
func New(cfg Config) *Agent {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ident := cfg.Identity
	if ident == nil {
		ident = &identity.Identity{}
	}
	return &Agent{
		router:        cfg.Router,
		registry:      cfg.Registry,
		pdp:           cfg.PDP,
		mem:           cfg.Memory,
		identity:      ident,
		logger:        logger.With("component", "agent"),
		MaxIterations: DefaultMaxIterations,
		ToolTimeout:   DefaultToolTimeout,
	}
}

// Run processes an authorized envelope and streams events until the envelope
// reaches a terminal state, then closes the channel. Cancelling ctx aborts
// the run at the next suspension point. Sends block when the consumer lags;
// a slow channel slows only its own request.
func (a *Agent) Run(ctx context.Context, env *models.Envelope) <-chan models.Event {
	out := make(chan models.Event)
	go func() {
		defer close(out)
		a.run(ctx, env, out)
	}()
	return out
}

func (a *Agent) run(ctx context.Context, env *models.Envelope, out chan<- models.Event) {
	log := a.logger.With("envelope_id", env.ID, "user_id", env.UserID, "channel", string(env.Channel))

	if err := env.Transition(models.StateProcessing); err != nil {
		a.fail(ctx, env, out, fmt.Errorf("envelope not runnable: %w", err))
		return
	}

	bank := memory.Bank(env.Channel, env.UserID)
	env.MemoryContext = a.recall(ctx, bank, env.Content, log)

	messages := []CompletionMessage{{Role: roleUser, Content: env.Content}}
	var lastText string
	toolCallCount := 0

	for {
		snap := a.registry.Snapshot()

		text, calls, err := a.reason(ctx, env, snap, messages, out)
		if err != nil {
			a.fail(ctx, env, out, err)
			return
		}
		lastText = text
		messages = append(messages, CompletionMessage{Role: roleAssistant, Content: text, ToolCalls: calls})

		if len(calls) == 0 || toolCallCount >= a.MaxIterations {
			if len(calls) > 0 {
				log.Warn("iteration bound reached with pending tool calls", "count", toolCallCount)
			}
			break
		}

		if err := env.Transition(models.StateToolCalling); err != nil {
			a.fail(ctx, env, out, err)
			return
		}

		results := make([]models.ToolResult, 0, len(calls))
		for _, call := range calls {
			if ctx.Err() != nil {
				a.fail(ctx, env, out, ctx.Err())
				return
			}
			toolCallCount++
			results = append(results, a.dispatch(ctx, env, snap, call, out))
			if toolCallCount >= a.MaxIterations {
				break
			}
		}
		messages = append(messages, CompletionMessage{Role: roleTool, ToolResults: results})

		if err := env.Transition(models.StateProcessing); err != nil {
			a.fail(ctx, env, out, err)
			return
		}
	}

	a.retain(ctx, bank, env.Content, lastText, log)

	if err := env.Complete(lastText); err != nil {
		a.fail(ctx, env, out, err)
		return
	}
	a.emit(ctx, out, models.DoneEvent(lastText))
}

// recall fetches memory context for the utterance. A memory failure is a
// degraded request, never a failed one.
func (a *Agent) recall(ctx context.Context, bank, query string, log *slog.Logger) string {
	if a.mem == nil {
		return ""
	}
	mc, err := a.mem.Recall(ctx, bank, query)
	if err != nil {
		if errors.Is(err, memory.ErrUnavailable) {
			log.Warn("memory recall unavailable, continuing without context", "error", err)
		} else {
			log.Warn("memory recall failed", "error", err)
		}
		return ""
	}
	var b strings.Builder
	if mc.Summary != "" {
		b.WriteString(mc.Summary)
	}
	for _, m := range mc.Memories {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- " + m)
	}
	return b.String()
}

// reason runs one completion step, forwarding tokens in provider order and
// returning the accumulated text plus any tool calls, which surface only
// after the step's stream completes.
func (a *Agent) reason(ctx context.Context, env *models.Envelope, snap *tools.Snapshot, messages []CompletionMessage, out chan<- models.Event) (string, []models.ToolCall, error) {
	req := &CompletionRequest{
		System:      a.systemPrompt(env),
		Messages:    messages,
		Tools:       toolSpecs(snap),
		MaxTokens:   a.MaxTokens,
		Temperature: a.Temperature,
	}

	chunks, err := a.router.Complete(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var text strings.Builder
	var calls []models.ToolCall
	for chunk := range chunks {
		if chunk.Error != nil {
			return text.String(), nil, chunk.Error
		}
		if chunk.ToolCall != nil {
			calls = append(calls, *chunk.ToolCall)
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			if !a.emit(ctx, out, models.TokenEvent(chunk.Text)) {
				// Unblock the router goroutine before abandoning the stream.
				go func() {
					for range chunks {
					}
				}()
				return text.String(), nil, ctx.Err()
			}
		}
		if chunk.Done {
			break
		}
	}
	return text.String(), calls, nil
}

// dispatch runs one tool call under policy and a per-call timeout. Every
// outcome, including denials, becomes a tool result the model sees on the
// next reason step, and a record on the envelope.
func (a *Agent) dispatch(ctx context.Context, env *models.Envelope, snap *tools.Snapshot, call models.ToolCall, out chan<- models.Event) models.ToolResult {
	a.emit(ctx, out, models.ToolStartEvent(call.Name))

	rec := models.ToolCallRecord{
		Name:      call.Name,
		Arguments: string(call.Input),
		StartedAt: time.Now().UTC(),
	}

	content, callErr := a.execute(ctx, env, snap, call)
	rec.Duration = time.Since(rec.StartedAt).Milliseconds()

	result := models.ToolResult{ToolCallID: call.ID, Content: content}
	errText := ""
	if callErr != nil {
		errText = callErr.Error()
		result.Content = errText
		result.IsError = true
		rec.Error = errText
	} else {
		rec.Result = content
	}
	env.RecordToolCall(rec)

	a.emit(ctx, out, models.ToolEndEvent(call.Name, errText))
	return result
}

func (a *Agent) execute(ctx context.Context, env *models.Envelope, snap *tools.Snapshot, call models.ToolCall) (string, error) {
	dec := a.pdp.Evaluate(ctx, policy.Input{
		UserID:     env.UserID,
		Channel:    env.Channel,
		Subject:    call.Name,
		EnvelopeID: env.ID,
	})
	if !dec.Allow {
		return "", fmt.Errorf("tool %s denied: %s", call.Name, dec.Reason)
	}

	callCtx := tools.WithCaller(ctx, tools.Caller{
		UserID:     env.UserID,
		Channel:    env.Channel,
		EnvelopeID: env.ID,
	})
	cancel := context.CancelFunc(func() {})
	if a.ToolTimeout > 0 {
		callCtx, cancel = context.WithTimeout(callCtx, a.ToolTimeout)
	}
	defer cancel()

	content, err := snap.Execute(callCtx, call.Name, call.Input)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("tool %s timed out after %s", call.Name, a.ToolTimeout)
		}
		return "", err
	}
	return content, nil
}

// retain stores the completed turn. Failures are warnings; the user already
// has their answer.
func (a *Agent) retain(ctx context.Context, bank, userTurn, assistantTurn string, log *slog.Logger) {
	if a.mem == nil || assistantTurn == "" {
		return
	}
	turn := fmt.Sprintf("User: %s\nAssistant: %s", userTurn, assistantTurn)
	if _, err := a.mem.Retain(ctx, bank, turn, "conversation"); err != nil {
		log.Warn("memory retain failed", "error", err)
	}
}

func (a *Agent) systemPrompt(env *models.Envelope) string {
	var b strings.Builder
	b.WriteString(a.identity.SystemPrompt())
	if env.MemoryContext != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Relevant memory about this user:\n")
		b.WriteString(env.MemoryContext)
	}
	return b.String()
}

func (a *Agent) fail(ctx context.Context, env *models.Envelope, out chan<- models.Event, cause error) {
	if err := env.Fail(cause); err != nil {
		a.logger.Error("envelope fail transition rejected", "envelope_id", env.ID, "error", err)
	}
	a.emit(ctx, out, models.ErrorEvent(cause))
}

// emit sends one event, giving up when the run is cancelled. The send
// otherwise blocks: backpressure from a slow consumer is intentional.
func (a *Agent) emit(ctx context.Context, out chan<- models.Event, ev models.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func toolSpecs(snap *tools.Snapshot) []ToolSpec {
	specs := snap.Specs()
	out := make([]ToolSpec, 0, len(specs))
	for _, s := range specs {
		out = append(out, ToolSpec{Name: s.Name, Description: s.Description, Schema: s.Schema})
	}
	return out
}
