package agent

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jedisos/jedisos/pkg/models"
)

// fakeProvider scripts one response per call: either an immediate error, a
// stream of text chunks, or tool calls followed by text on the next call.
type fakeProvider struct {
	name  string
	model string

	mu    sync.Mutex
	calls int
	// script is consumed one entry per Complete call; the last entry
	// repeats once the script runs out.
	script []fakeTurn

	gotRequests []*CompletionRequest
}

type fakeTurn struct {
	err       error
	text      []string
	toolCalls []*models.ToolCall
	streamErr error
	tokens    [2]int
}

func (f *fakeProvider) Name() string  { return f.name }
func (f *fakeProvider) Model() string { return f.model }

func (f *fakeProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	f.mu.Lock()
	turn := f.script[min(f.calls, len(f.script)-1)]
	f.calls++
	f.gotRequests = append(f.gotRequests, req)
	f.mu.Unlock()

	if turn.err != nil {
		return nil, turn.err
	}

	ch := make(chan *CompletionChunk)
	go func() {
		defer close(ch)
		for _, text := range turn.text {
			select {
			case <-ctx.Done():
				ch <- &CompletionChunk{Error: ctx.Err(), Done: true}
				return
			case ch <- &CompletionChunk{Text: text}:
			}
		}
		for _, tc := range turn.toolCalls {
			ch <- &CompletionChunk{ToolCall: tc}
		}
		if turn.streamErr != nil {
			ch <- &CompletionChunk{Error: turn.streamErr, Done: true}
			return
		}
		ch <- &CompletionChunk{Done: true, InputTokens: turn.tokens[0], OutputTokens: turn.tokens[1]}
	}()
	return ch, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func toolCall(id, name string, args map[string]any) *models.ToolCall {
	raw, _ := json.Marshal(args)
	return &models.ToolCall{ID: id, Name: name, Input: raw}
}
