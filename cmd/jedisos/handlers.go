package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jedisos/jedisos/internal/channels/cli"
	"github.com/jedisos/jedisos/internal/config"
	"github.com/jedisos/jedisos/internal/identity"
	"github.com/jedisos/jedisos/internal/packages"
	"github.com/jedisos/jedisos/internal/runtime"
)

// loadConfig reads the configured file, falling back to defaults when it does
// not exist so chat and serve work out of the box.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		slog.Warn("config file not found, using defaults", "path", path)
		cfg := config.Default()
		cfg.FirstRun = false
		return cfg, nil
	}
	return config.Load(path)
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	sys, err := runtime.New(cfg, slog.Default())
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting jedisos", "version", version, "config", configPath)
	return sys.Serve(ctx)
}

func runChat(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	// The terminal session is single-user; platform adapters stay off.
	cfg.Channels = config.ChannelsConfig{}

	sys, err := runtime.New(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer sys.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	adapter := cli.New(cli.Config{Engine: sys.Engine, In: os.Stdin, Out: os.Stdout})
	if err := adapter.Start(ctx); err != nil {
		return err
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	return adapter.Stop(stopCtx)
}

func runHealth(ctx context.Context, configPath string, out io.Writer) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(cfg.Server.Host, fmt.Sprint(cfg.Server.Port))
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("server at %s not reachable: %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}
	fmt.Fprintf(out, "server at %s is healthy (uptime %v)\n", addr, body["uptime"])
	return nil
}

const identityTemplate = `# Identity

- **Name**: pick something you like
- **Creature**: AI? robot? familiar? ghost in the machine? something weirder?
- **Vibe**: how do you come across? sharp? warm? chaotic? calm?
- **Emoji**: your signature - pick one that feels right
`

const envTemplate = `# Credentials for jedisos. Loaded at startup; never committed.
ANTHROPIC_API_KEY=
OPENAI_API_KEY=
TELEGRAM_BOT_TOKEN=
DISCORD_BOT_TOKEN=
SLACK_BOT_TOKEN=
SLACK_APP_TOKEN=
`

func runInit(dir, configPath string, force bool, out io.Writer) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	cfg := config.Default()
	cfg.Workspace = dir

	writes := []struct {
		path    string
		content []byte
		mode    os.FileMode
	}{
		{filepath.Join(dir, identity.Filename), []byte(identityTemplate), 0o644},
		{filepath.Join(dir, ".env"), []byte(envTemplate), 0o600},
	}
	for _, w := range writes {
		if _, err := os.Stat(w.path); err == nil && !force {
			fmt.Fprintf(out, "keeping existing %s\n", w.path)
			continue
		}
		if err := os.WriteFile(w.path, w.content, w.mode); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s\n", w.path)
	}

	if _, err := os.Stat(configPath); err == nil && !force {
		fmt.Fprintf(out, "keeping existing %s\n", configPath)
	} else {
		if err := cfg.Save(configPath); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s\n", configPath)
	}

	// The store constructor lays out the typed package directories.
	if _, err := packages.NewStore(cfg.ToolsRoot(), slog.Default()); err != nil {
		return err
	}
	fmt.Fprintf(out, "workspace ready at %s\n", dir)
	return nil
}

func runUpdate(configPath string, out io.Writer) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	store, err := packages.NewStore(cfg.ToolsRoot(), slog.Default())
	if err != nil {
		return err
	}

	var failed int
	infos := store.Scan()
	for _, info := range infos {
		report := packages.Validate(info.Dir)
		if report.Valid {
			fmt.Fprintf(out, "ok    %s %s\n", info.Manifest.Name, info.Manifest.Version)
			continue
		}
		failed++
		fmt.Fprintf(out, "FAIL  %s\n", info.Manifest.Name)
		for _, p := range report.Problems {
			fmt.Fprintf(out, "      - %s\n", p)
		}
	}
	fmt.Fprintf(out, "%d package(s), %d failing\n", len(infos), failed)
	if failed > 0 {
		return &exitError{code: 2, msg: fmt.Sprintf("%d package(s) failed validation", failed)}
	}
	return nil
}
