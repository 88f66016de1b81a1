// Package telegram is the Telegram adapter: long polling in, token batches
// folded into message edits out.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/jedisos/jedisos/internal/channels"
	"github.com/jedisos/jedisos/pkg/models"
)

// editInterval batches streamed tokens into message edits; Telegram rejects
// high-frequency edits.
const editInterval = time.Second

// Config for the Telegram adapter.
type Config struct {
	Token  string
	Engine channels.Engine
	Logger *slog.Logger
}

// Adapter implements channels.Adapter over the Telegram Bot API.
type Adapter struct {
	engine channels.Engine
	token  string
	logger *slog.Logger

	bot    *bot.Bot
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// chats remembers the last chat per user so background notifications
	// can find their way back.
	mu    sync.RWMutex
	chats map[string]int64
}

// New builds the adapter; the token is required.
func New(cfg Config) (*Adapter, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram: token is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		engine: cfg.Engine,
		token:  cfg.Token,
		logger: logger.With("adapter", "telegram"),
		chats:  make(map[string]int64),
	}, nil
}

func (a *Adapter) Type() models.ChannelType { return models.ChannelTelegram }

// Start connects the bot and begins long polling.
func (a *Adapter) Start(ctx context.Context) error {
	b, err := bot.New(a.token)
	if err != nil {
		return fmt.Errorf("telegram: create bot: %w", err)
	}
	a.bot = b
	b.RegisterHandler(bot.HandlerTypeMessageText, "", bot.MatchTypePrefix, a.handleMessage)

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		b.Start(ctx)
		a.logger.Info("telegram polling stopped")
	}()

	a.logger.Info("telegram adapter started")
	return nil
}

// Stop ends polling and waits for in-flight handlers, bounded by ctx.
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

func (a *Adapter) handleMessage(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	userID := strconv.FormatInt(update.Message.From.ID, 10)
	chatID := update.Message.Chat.ID

	a.mu.Lock()
	a.chats[userID] = chatID
	a.mu.Unlock()

	env := models.NewEnvelope(models.ChannelTelegram, userID, update.Message.Text)
	env.UserName = update.Message.From.Username

	events, err := a.engine.Submit(ctx, env)
	if err != nil {
		a.logger.Error("submit failed", "user_id", userID, "error", err)
		return
	}
	a.render(ctx, chatID, events)
}

// render folds the event stream into one Telegram message, editing it as
// token batches accumulate.
func (a *Adapter) render(ctx context.Context, chatID int64, events <-chan models.Event) {
	var text string
	var messageID int
	lastEdit := time.Time{}

	flush := func() {
		if text == "" {
			return
		}
		if messageID == 0 {
			sent, err := a.bot.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text})
			if err != nil {
				a.logger.Warn("send failed", "chat_id", chatID, "error", err)
				return
			}
			messageID = sent.ID
		} else {
			_, err := a.bot.EditMessageText(ctx, &bot.EditMessageTextParams{
				ChatID:    chatID,
				MessageID: messageID,
				Text:      text,
			})
			if err != nil {
				a.logger.Warn("edit failed", "chat_id", chatID, "error", err)
			}
		}
		lastEdit = time.Now()
	}

	for ev := range events {
		switch ev.Type {
		case models.EventStreamToken:
			text += ev.Token
			if time.Since(lastEdit) >= editInterval {
				flush()
			}
		case models.EventDone:
			if ev.Text != "" {
				text = ev.Text
			}
			flush()
		case models.EventError:
			text = "Sorry, that failed: " + ev.Err
			flush()
		case models.EventNotification:
			a.send(ctx, chatID, ev.Text)
		}
	}
}

func (a *Adapter) send(ctx context.Context, chatID int64, text string) {
	if _, err := a.bot.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		a.logger.Warn("send failed", "chat_id", chatID, "error", err)
	}
}

// Notify delivers a background completion to the user's last known chat.
func (a *Adapter) Notify(ctx context.Context, userID, message string) error {
	a.mu.RLock()
	chatID, ok := a.chats[userID]
	a.mu.RUnlock()
	if !ok {
		return fmt.Errorf("telegram: no chat known for user %s", userID)
	}
	_, err := a.bot.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: message})
	return err
}
