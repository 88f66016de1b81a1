// Package discord is the Discord adapter over the gateway websocket.
// Discord does not stream, so the event stream is collected into one reply.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/jedisos/jedisos/internal/channels"
	"github.com/jedisos/jedisos/pkg/models"
)

// Config for the Discord adapter.
type Config struct {
	Token  string
	Engine channels.Engine
	Logger *slog.Logger
}

// Adapter implements channels.Adapter over discordgo.
type Adapter struct {
	engine  channels.Engine
	token   string
	logger  *slog.Logger
	session *discordgo.Session

	mu    sync.RWMutex
	chats map[string]string // user id -> last channel id
	wg    sync.WaitGroup
}

// New builds the adapter; the token is required.
func New(cfg Config) (*Adapter, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord: token is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		engine: cfg.Engine,
		token:  cfg.Token,
		logger: logger.With("adapter", "discord"),
		chats:  make(map[string]string),
	}, nil
}

func (a *Adapter) Type() models.ChannelType { return models.ChannelDiscord }

// Start opens the gateway connection and registers the message handler.
func (a *Adapter) Start(ctx context.Context) error {
	s, err := discordgo.New("Bot " + a.token)
	if err != nil {
		return fmt.Errorf("discord: create session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	s.AddHandler(func(sess *discordgo.Session, m *discordgo.MessageCreate) {
		a.handleMessage(ctx, sess, m)
	})

	if err := s.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	a.session = s
	a.logger.Info("discord adapter started")
	return nil
}

// Stop closes the gateway connection after in-flight handlers finish.
func (a *Adapter) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if a.session != nil {
		return a.session.Close()
	}
	return nil
}

func (a *Adapter) handleMessage(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}

	a.mu.Lock()
	a.chats[m.Author.ID] = m.ChannelID
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		env := models.NewEnvelope(models.ChannelDiscord, m.Author.ID, m.Content)
		env.UserName = m.Author.Username

		events, err := a.engine.Submit(ctx, env)
		if err != nil {
			a.logger.Error("submit failed", "user_id", m.Author.ID, "error", err)
			return
		}
		reply, err := channels.Collect(ctx, events)
		if err != nil {
			reply = "Sorry, that failed: " + err.Error()
		}
		if reply == "" {
			return
		}
		if _, err := s.ChannelMessageSend(m.ChannelID, reply); err != nil {
			a.logger.Warn("send failed", "channel_id", m.ChannelID, "error", err)
		}
	}()
}

// Notify delivers a background completion to the user's last known channel.
func (a *Adapter) Notify(ctx context.Context, userID, message string) error {
	a.mu.RLock()
	channelID, ok := a.chats[userID]
	a.mu.RUnlock()
	if !ok || a.session == nil {
		return fmt.Errorf("discord: no channel known for user %s", userID)
	}
	_, err := a.session.ChannelMessageSend(channelID, message)
	return err
}
