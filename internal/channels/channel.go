// Package channels defines the adapter contract between messaging surfaces
// and the engine, and the registry that runs the configured adapters.
package channels

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jedisos/jedisos/pkg/models"
)

// Engine is the contract the gateway exposes to adapters: construct an
// envelope, submit it, render the event stream.
type Engine interface {
	Submit(ctx context.Context, env *models.Envelope) (<-chan models.Event, error)
	Notify(userID, message string)
}

// Adapter is one messaging surface. Start begins receiving platform
// messages; Stop shuts the surface down, bounded by ctx.
type Adapter interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Type() models.ChannelType
}

// Notifier is implemented by adapters that can deliver out-of-band messages
// (forge completions) to a user they have seen before.
type Notifier interface {
	Notify(ctx context.Context, userID, message string) error
}

// Registry holds the configured adapters.
type Registry struct {
	adapters map[models.ChannelType]Adapter
	logger   *slog.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		adapters: make(map[models.ChannelType]Adapter),
		logger:   logger.With("component", "channels"),
	}
}

// Register adds an adapter, replacing any previous one of the same type.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Type()] = a
}

// Get returns the adapter for a channel type.
func (r *Registry) Get(t models.ChannelType) (Adapter, bool) {
	a, ok := r.adapters[t]
	return a, ok
}

// All returns the registered adapters.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

// StartAll starts every adapter; the first failure stops the already started
// ones and is returned.
func (r *Registry) StartAll(ctx context.Context) error {
	var started []Adapter
	for _, a := range r.adapters {
		if err := a.Start(ctx); err != nil {
			for _, s := range started {
				s.Stop(ctx)
			}
			return err
		}
		r.logger.Info("channel started", "channel", string(a.Type()))
		started = append(started, a)
	}
	return nil
}

// StopAll stops every adapter, returning the last error.
func (r *Registry) StopAll(ctx context.Context) error {
	var lastErr error
	for _, a := range r.adapters {
		if err := a.Stop(ctx); err != nil {
			r.logger.Error("channel stop failed", "channel", string(a.Type()), "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// Notify fans an out-of-band message to every adapter that can deliver it.
func (r *Registry) Notify(ctx context.Context, userID, message string) {
	for _, a := range r.adapters {
		n, ok := a.(Notifier)
		if !ok {
			continue
		}
		if err := n.Notify(ctx, userID, message); err != nil {
			r.logger.Debug("notify skipped", "channel", string(a.Type()), "user_id", userID, "error", err)
		}
	}
}

// ErrNoResponse is returned by Collect when the stream closes without a
// terminal event.
var ErrNoResponse = errors.New("event stream closed without a response")

// Collect drains an event stream into the final response text for platforms
// that cannot render token streams. Tool events are ignored; notifications
// are appended after the response.
func Collect(ctx context.Context, events <-chan models.Event) (string, error) {
	var tokens strings.Builder
	var notes []string
	final := ""
	terminal := false

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if !terminal {
					return "", ErrNoResponse
				}
				text := final
				if text == "" {
					text = tokens.String()
				}
				if len(notes) > 0 {
					text = strings.TrimSpace(text + "\n\n" + strings.Join(notes, "\n"))
				}
				return text, nil
			}
			switch ev.Type {
			case models.EventStreamToken:
				tokens.WriteString(ev.Token)
			case models.EventDone:
				final = ev.Text
				terminal = true
			case models.EventError:
				return "", errors.New(ev.Err)
			case models.EventNotification:
				notes = append(notes, ev.Text)
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// StopTimeout is the bound adapters use when no caller deadline is set.
const StopTimeout = 10 * time.Second
