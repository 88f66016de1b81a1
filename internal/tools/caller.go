package tools

import (
	"context"

	"github.com/jedisos/jedisos/pkg/models"
)

// Caller identifies who a tool invocation is running for. The agent attaches
// it to the invocation context; handlers that act on the user's behalf (the
// forge tool, memory tools) read it back.
type Caller struct {
	UserID     string
	Channel    models.ChannelType
	EnvelopeID string
}

type callerKey struct{}

// WithCaller attaches the caller to ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom extracts the caller; ok is false when none was attached.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}
