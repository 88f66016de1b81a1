// Package agent hosts the model-facing runtime: the provider abstraction,
// the fallback router, and the reasoning loop that drives envelopes to a
// terminal state.
package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jedisos/jedisos/pkg/models"
)

// Provider is one LLM backend. Complete returns immediately with a channel
// the caller drains; the provider closes it when the response ends.
type Provider interface {
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)
	Name() string
	Model() string
}

// CompletionMessage is one turn of conversation in provider-neutral form.
type CompletionMessage struct {
	Role        string
	Content     string
	ToolCalls   []models.ToolCall
	ToolResults []models.ToolResult
}

// ToolSpec describes a callable tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// CompletionRequest is a provider-neutral completion request.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []CompletionMessage
	Tools       []ToolSpec
	MaxTokens   int
	Temperature float64
}

// CompletionChunk is one streamed unit of a model response. Text chunks
// arrive in model order; a ToolCall chunk carries one complete call; the
// Done chunk closes the response and carries the token counts.
type CompletionChunk struct {
	Text         string
	ToolCall     *models.ToolCall
	Done         bool
	Error        error
	InputTokens  int
	OutputTokens int
}

// Usage describes one successful completion for cost accounting.
type Usage struct {
	Model     string
	TokensIn  int
	TokensOut int
	Cost      float64
	Duration  time.Duration
}

// CostCallback receives usage after each successful completion.
type CostCallback func(Usage)
