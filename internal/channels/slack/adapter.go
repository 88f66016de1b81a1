// Package slack is the Slack adapter over Socket Mode. Slack does not
// stream, so the event stream is collected into one reply.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jedisos/jedisos/internal/channels"
	"github.com/jedisos/jedisos/pkg/models"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// Config for the Slack adapter. Both tokens are required: the bot token for
// the Web API, the app-level token for Socket Mode.
type Config struct {
	BotToken string
	AppToken string
	Engine   channels.Engine
	Logger   *slog.Logger
}

// Adapter implements channels.Adapter over slack-go Socket Mode.
type Adapter struct {
	engine channels.Engine
	logger *slog.Logger

	client *slack.Client
	socket *socketmode.Client
	botID  string

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	chats map[string]string // user id -> last conversation id
}

// New builds the adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.BotToken == "" || cfg.AppToken == "" {
		return nil, errors.New("slack: bot token and app token are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	return &Adapter{
		engine: cfg.Engine,
		logger: logger.With("adapter", "slack"),
		client: client,
		socket: socketmode.New(client),
		chats:  make(map[string]string),
	}, nil
}

func (a *Adapter) Type() models.ChannelType { return models.ChannelSlack }

// Start authenticates and begins draining Socket Mode events.
func (a *Adapter) Start(ctx context.Context) error {
	auth, err := a.client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botID = auth.UserID

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.eventLoop(ctx)
	}()
	go func() {
		defer a.wg.Done()
		if err := a.socket.RunContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("socket mode stopped", "error", err)
		}
	}()

	a.logger.Info("slack adapter started", "bot_id", a.botID)
	return nil
}

// Stop cancels the socket loop and waits for handlers, bounded by ctx.
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

func (a *Adapter) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-a.socket.Events:
			if !ok {
				return
			}
			switch ev.Type {
			case socketmode.EventTypeEventsAPI:
				apiEvent, ok := ev.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				a.socket.Ack(*ev.Request)
				a.handleEventsAPI(ctx, apiEvent)
			case socketmode.EventTypeConnectionError:
				a.logger.Warn("socket mode connection error")
			}
		}
	}
}

func (a *Adapter) handleEventsAPI(ctx context.Context, apiEvent slackevents.EventsAPIEvent) {
	if apiEvent.Type != slackevents.CallbackEvent {
		return
	}
	msg, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	// Ignore our own messages and edits.
	if msg.User == "" || msg.User == a.botID || msg.BotID != "" || msg.SubType != "" {
		return
	}

	a.mu.Lock()
	a.chats[msg.User] = msg.Channel
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		env := models.NewEnvelope(models.ChannelSlack, msg.User, msg.Text)
		events, err := a.engine.Submit(ctx, env)
		if err != nil {
			a.logger.Error("submit failed", "user_id", msg.User, "error", err)
			return
		}
		reply, err := channels.Collect(ctx, events)
		if err != nil {
			reply = "Sorry, that failed: " + err.Error()
		}
		if reply == "" {
			return
		}
		a.post(ctx, msg.Channel, reply)
	}()
}

func (a *Adapter) post(ctx context.Context, conversation, text string) {
	_, _, err := a.client.PostMessageContext(ctx, conversation, slack.MsgOptionText(text, false))
	if err != nil {
		a.logger.Warn("post failed", "conversation", conversation, "error", err)
	}
}

// Notify delivers a background completion to the user's last known
// conversation.
func (a *Adapter) Notify(ctx context.Context, userID, message string) error {
	a.mu.RLock()
	conversation, ok := a.chats[userID]
	a.mu.RUnlock()
	if !ok {
		return fmt.Errorf("slack: no conversation known for user %s", userID)
	}
	_, _, err := a.client.PostMessageContext(ctx, conversation, slack.MsgOptionText(message, false))
	return err
}
