// Package runtime assembles the full system from a configuration: audit,
// policy, packages, tools, router, agent, engine, channels, MCP, and the web
// server. The CLI builds a System and drives it.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedisos/jedisos/internal/agent"
	"github.com/jedisos/jedisos/internal/agent/providers"
	"github.com/jedisos/jedisos/internal/audit"
	"github.com/jedisos/jedisos/internal/channels"
	"github.com/jedisos/jedisos/internal/channels/discord"
	"github.com/jedisos/jedisos/internal/channels/slack"
	"github.com/jedisos/jedisos/internal/channels/telegram"
	"github.com/jedisos/jedisos/internal/config"
	"github.com/jedisos/jedisos/internal/forge"
	"github.com/jedisos/jedisos/internal/gateway"
	"github.com/jedisos/jedisos/internal/identity"
	"github.com/jedisos/jedisos/internal/mcp"
	"github.com/jedisos/jedisos/internal/memory"
	"github.com/jedisos/jedisos/internal/observability"
	"github.com/jedisos/jedisos/internal/packages"
	"github.com/jedisos/jedisos/internal/policy"
	"github.com/jedisos/jedisos/internal/security"
	"github.com/jedisos/jedisos/internal/session"
	"github.com/jedisos/jedisos/internal/tools"
	"github.com/jedisos/jedisos/internal/web"
	"github.com/jedisos/jedisos/pkg/models"
)

// System is the assembled runtime.
type System struct {
	Config   *config.Config
	Engine   *gateway.Engine
	Registry *tools.Registry
	Store    *packages.Store
	MCP      *mcp.Manager
	Forge    *forge.Forge
	Auditor  *audit.Logger
	PDP      *policy.PDP
	Channels *channels.Registry
	Web      *web.Server
	Metrics  *observability.Metrics

	logger *slog.Logger
	http   *http.Server
}

// New wires every component. Nothing starts listening yet; Serve does that.
func New(cfg *config.Config, logger *slog.Logger) (*System, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sink, err := openSink(cfg)
	if err != nil {
		return nil, err
	}
	auditor := audit.NewLogger(sink, cfg.Audit.BufferSize, logger)

	pdp := policy.New(policy.Policy{
		AllowedTools:         cfg.Security.AllowedTools,
		BlockedTools:         cfg.Security.BlockedTools,
		MaxRequestsPerMinute: cfg.Security.RateLimitPerMinute,
	}, auditor)

	store, err := packages.NewStore(cfg.ToolsRoot(), logger)
	if err != nil {
		return nil, fmt.Errorf("open package store: %w", err)
	}

	var mem *memory.Client
	if cfg.Memory.Enabled {
		mem = memory.New(cfg.Memory.BaseURL, cfg.Memory.Timeout)
	}

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry, mem, callerBank); err != nil {
		return nil, fmt.Errorf("register builtin tools: %w", err)
	}

	loader := tools.NewLoader(cfg.Tools.Interpreter, cfg.Tools.Timeout)
	loadInstalledSkills(store, loader, registry, logger)

	ident, err := identity.Load(cfg.Workspace)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}

	metrics := observability.New(nil)
	router, err := buildRouter(cfg, metrics, logger)
	if err != nil {
		return nil, err
	}

	ag := agent.New(agent.Config{
		Router:   router,
		Registry: registry,
		PDP:      pdp,
		Memory:   mem,
		Identity: ident,
		Logger:   logger,
	})

	sessions := session.NewManager(0, logger)
	engine := gateway.New(gateway.Config{
		Agent:    ag,
		PDP:      pdp,
		Sessions: sessions,
		Metrics:  metrics,
		Logger:   logger,
	})

	chRegistry := channels.NewRegistry(logger)
	if err := buildAdapters(cfg, engine, chRegistry, logger); err != nil {
		return nil, err
	}

	mcpMgr := mcp.NewManager(store, registry, 30*time.Second, logger)

	sys := &System{
		Config:   cfg,
		Engine:   engine,
		Registry: registry,
		Store:    store,
		MCP:      mcpMgr,
		Auditor:  auditor,
		PDP:      pdp,
		Channels: chRegistry,
		Metrics:  metrics,
		logger:   logger,
	}

	if cfg.Forge.Enabled {
		f := forge.New(forge.Config{
			Router:   router,
			Checker:  &security.Checker{Strict: cfg.Security.StrictChecks},
			Store:    store,
			Loader:   loader,
			Registry: registry,
			Notify:   sys.notify,
			Logger:   logger,
		})
		if cfg.Forge.MaxAttempts > 0 {
			f.MaxAttempts = cfg.Forge.MaxAttempts
		}
		if err := f.RegisterTool(registry); err != nil {
			return nil, fmt.Errorf("register forge tool: %w", err)
		}
		sys.Forge = f
	}

	sys.Web = web.New(web.Config{
		Engine:   engine,
		Runtime:  cfg,
		Registry: registry,
		Store:    store,
		MCP:      mcpMgr,
		Auditor:  auditor,
		PDP:      pdp,
		Logger:   logger,
	})
	return sys, nil
}

// notify fans a background completion out to live sessions and to every
// platform adapter that can reach the user.
func (s *System) notify(userID, message string) {
	s.Engine.Notify(userID, message)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.Channels.Notify(ctx, userID, message)
}

// Serve starts the channel adapters, connects MCP servers, and serves the web
// API until ctx is cancelled.
func (s *System) Serve(ctx context.Context) error {
	s.MCP.ConnectAll(ctx)

	if err := s.Channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channel adapters: %w", err)
	}

	addr := net.JoinHostPort(s.Config.Server.Host, fmt.Sprint(s.Config.Server.Port))
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Web,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	s.logger.Info("serving", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	return s.Shutdown()
}

// Shutdown stops the web server and adapters and closes the audit log.
func (s *System) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var first error
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
	}
	if err := s.Channels.StopAll(ctx); err != nil && first == nil {
		first = err
	}
	if err := s.Auditor.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// Close releases resources for a system that never served.
func (s *System) Close() error {
	return s.Auditor.Close()
}

func openSink(cfg *config.Config) (audit.Sink, error) {
	if cfg.Audit.SQLitePath != "" {
		return audit.NewSQLiteSink(cfg.Audit.SQLitePath)
	}
	return audit.NewNDJSONSink(cfg.AuditPath())
}

// callerBank scopes the memory builtins to the invoking user when the
// invocation context carries one.
func callerBank(ctx context.Context) string {
	if c, ok := tools.CallerFrom(ctx); ok {
		return memory.Bank(c.Channel, c.UserID)
	}
	return memory.Bank(models.ChannelCLI, "local")
}

// buildRouter maps each configured provider onto an implementation by model
// prefix. Candidates without credentials are kept in the chain; they fail
// fast and fall through to the next.
func buildRouter(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) (*agent.Router, error) {
	var candidates []agent.Candidate
	for _, p := range cfg.LLM.Providers {
		key := ""
		if p.APIKeyEnv != "" {
			key = os.Getenv(p.APIKeyEnv)
		}
		var provider agent.Provider
		switch {
		case strings.HasPrefix(p.Model, "claude"):
			provider = providers.NewAnthropicProvider(providers.AnthropicConfig{
				APIKey:    key,
				Model:     p.Model,
				MaxTokens: p.MaxTokens,
			})
		case strings.HasPrefix(p.Model, "gpt") || strings.HasPrefix(p.Model, "o"):
			provider = providers.NewOpenAIProvider(providers.OpenAIConfig{
				APIKey:    key,
				Model:     p.Model,
				MaxTokens: p.MaxTokens,
			})
		default:
			return nil, fmt.Errorf("no provider serves model %q", p.Model)
		}
		candidates = append(candidates, agent.Candidate{Provider: provider, Timeout: p.Timeout})
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no llm providers configured")
	}

	router := agent.NewRouter(candidates, logger)
	router.OnCost(func(u agent.Usage) {
		metrics.ObserveUsage(u.Model, u.TokensIn, u.TokensOut, u.Cost, u.Duration)
	})
	return router, nil
}

func buildAdapters(cfg *config.Config, engine *gateway.Engine, reg *channels.Registry, logger *slog.Logger) error {
	if cfg.Channels.Telegram.Enabled {
		token := os.Getenv(cfg.Channels.Telegram.TokenEnv)
		if token == "" {
			return fmt.Errorf("telegram enabled but %s is not set", cfg.Channels.Telegram.TokenEnv)
		}
		a, err := telegram.New(telegram.Config{Token: token, Engine: engine, Logger: logger})
		if err != nil {
			return fmt.Errorf("telegram adapter: %w", err)
		}
		reg.Register(a)
	}
	if cfg.Channels.Discord.Enabled {
		token := os.Getenv(cfg.Channels.Discord.TokenEnv)
		if token == "" {
			return fmt.Errorf("discord enabled but %s is not set", cfg.Channels.Discord.TokenEnv)
		}
		a, err := discord.New(discord.Config{Token: token, Engine: engine, Logger: logger})
		if err != nil {
			return fmt.Errorf("discord adapter: %w", err)
		}
		reg.Register(a)
	}
	if cfg.Channels.Slack.Enabled {
		bot := os.Getenv(cfg.Channels.Slack.BotTokenEnv)
		app := os.Getenv(cfg.Channels.Slack.AppTokenEnv)
		if bot == "" || app == "" {
			return fmt.Errorf("slack enabled but %s or %s is not set",
				cfg.Channels.Slack.BotTokenEnv, cfg.Channels.Slack.AppTokenEnv)
		}
		a, err := slack.New(slack.Config{BotToken: bot, AppToken: app, Engine: engine, Logger: logger})
		if err != nil {
			return fmt.Errorf("slack adapter: %w", err)
		}
		reg.Register(a)
	}
	return nil
}

// loadInstalledSkills registers the tools of every installed skill package.
// A package that fails to load is skipped, not fatal: one broken skill must
// not keep the runtime down.
func loadInstalledSkills(store *packages.Store, loader *tools.Loader, registry *tools.Registry, logger *slog.Logger) {
	for _, info := range store.Scan() {
		if info.Manifest.Type != packages.TypeSkill {
			continue
		}
		handles, err := loader.Load(info.Dir, info.Manifest.Name)
		if err != nil {
			logger.Warn("skipping unloadable skill", "package", info.Manifest.Name, "error", err)
			continue
		}
		for _, h := range handles {
			if err := registry.Register(h, false); err != nil {
				logger.Warn("skipping conflicting tool", "tool", h.Name, "error", err)
			}
		}
	}
}
