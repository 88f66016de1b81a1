// Package cli is the terminal adapter: lines in, streamed tokens out.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/jedisos/jedisos/internal/channels"
	"github.com/jedisos/jedisos/pkg/models"
)

// Adapter reads one request per line and renders the event stream inline.
type Adapter struct {
	engine channels.Engine
	in     io.Reader
	out    io.Writer
	userID string
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config for the CLI adapter. UserID defaults to "local".
type Config struct {
	Engine channels.Engine
	In     io.Reader
	Out    io.Writer
	UserID string
	Logger *slog.Logger
}

// New builds the adapter.
func New(cfg Config) *Adapter {
	userID := cfg.UserID
	if userID == "" {
		userID = "local"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		engine: cfg.Engine,
		in:     cfg.In,
		out:    cfg.Out,
		userID: userID,
		logger: logger.With("adapter", "cli"),
	}
}

func (a *Adapter) Type() models.ChannelType { return models.ChannelCLI }

// Start launches the read loop. It returns immediately; the loop ends on
// EOF or Stop.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.loop(ctx)
	}()
	return nil
}

// Stop cancels the loop and waits for it, bounded by ctx.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) loop(ctx context.Context) {
	scanner := bufio.NewScanner(a.in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return
		}
		a.handle(ctx, line)
	}
}

// handle submits one line and renders the stream: tokens inline, tool
// dispatches as bracketed status lines.
func (a *Adapter) handle(ctx context.Context, line string) {
	env := models.NewEnvelope(models.ChannelCLI, a.userID, line)
	events, err := a.engine.Submit(ctx, env)
	if err != nil {
		fmt.Fprintf(a.out, "error: %v\n", err)
		return
	}

	streamed := false
	for ev := range events {
		switch ev.Type {
		case models.EventStreamToken:
			fmt.Fprint(a.out, ev.Token)
			streamed = true
		case models.EventToolStart:
			fmt.Fprintf(a.out, "\n[%s...]", ev.Tool)
		case models.EventToolEnd:
			if ev.ToolError != "" {
				fmt.Fprintf(a.out, " failed: %s\n", ev.ToolError)
			} else {
				fmt.Fprint(a.out, " done\n")
			}
		case models.EventDone:
			if !streamed && ev.Text != "" {
				fmt.Fprint(a.out, ev.Text)
			}
			fmt.Fprintln(a.out)
		case models.EventError:
			fmt.Fprintf(a.out, "error: %s\n", ev.Err)
		case models.EventNotification:
			fmt.Fprintf(a.out, "\n* %s\n", ev.Text)
		}
	}
}

// Notify prints a background completion for the local user.
func (a *Adapter) Notify(ctx context.Context, userID, message string) error {
	if userID != a.userID {
		return nil
	}
	_, err := fmt.Fprintf(a.out, "\n* %s\n", message)
	return err
}
