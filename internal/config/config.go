// Package config loads the runtime configuration from a single YAML file
// with environment-variable overrides for credentials.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	// FirstRun gates the setup endpoints; the setup flow flips it off.
	FirstRun bool `yaml:"first_run"`

	// Workspace is the directory holding IDENTITY.md, the tools root, and
	// runtime state. Defaults to the current directory.
	Workspace string `yaml:"workspace"`

	Server   ServerConfig   `yaml:"server"`
	LLM      LLMConfig      `yaml:"llm"`
	Memory   MemoryConfig   `yaml:"memory"`
	Tools    ToolsConfig    `yaml:"tools"`
	Security SecurityConfig `yaml:"security"`
	Forge    ForgeConfig    `yaml:"forge"`
	Audit    AuditConfig    `yaml:"audit"`
	Channels ChannelsConfig `yaml:"channels"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the web API listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ProviderConfig is one candidate in the router's ordered fallback chain.
type ProviderConfig struct {
	// Model is the provider-native model identifier; it also selects the
	// provider implementation ("claude-*" -> anthropic, "gpt-*"/"o*" -> openai).
	Model string `yaml:"model"`
	// APIKeyEnv names the environment variable holding the credential.
	APIKeyEnv   string        `yaml:"api_key_env"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
}

// LLMConfig configures the router.
type LLMConfig struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// MemoryConfig points at the external memory service.
type MemoryConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	Enabled bool          `yaml:"enabled"`
}

// ToolsConfig configures the package root and skill execution.
type ToolsConfig struct {
	// Root is the typed package root, relative to the workspace unless
	// absolute. Defaults to "tools".
	Root string `yaml:"root"`
	// Interpreter runs skill code artifacts. Defaults to "python3".
	Interpreter string        `yaml:"interpreter"`
	Timeout     time.Duration `yaml:"timeout"`
}

// SecurityConfig configures the policy decision point and the code checker.
type SecurityConfig struct {
	BlockedTools []string `yaml:"blocked_tools"`
	AllowedTools []string `yaml:"allowed_tools"`
	// RateLimitPerMinute is the per-user sliding-window cap; 0 disables it.
	RateLimitPerMinute int  `yaml:"rate_limit_per_minute"`
	StrictChecks       bool `yaml:"strict_checks"`
}

// ForgeConfig configures LLM-generated skill creation.
type ForgeConfig struct {
	Enabled     bool `yaml:"enabled"`
	MaxAttempts int  `yaml:"max_attempts"`
}

// AuditConfig configures the append-only audit log.
type AuditConfig struct {
	// Path is the NDJSON file; relative paths resolve under the workspace.
	Path string `yaml:"path"`
	// SQLitePath, when set, switches the sink to the SQLite database.
	SQLitePath string `yaml:"sqlite_path"`
	BufferSize int    `yaml:"buffer_size"`
}

// ChannelsConfig holds the per-platform adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord"`
	Slack    SlackConfig    `yaml:"slack"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	TokenEnv string `yaml:"token_env"`
}

type DiscordConfig struct {
	Enabled  bool   `yaml:"enabled"`
	TokenEnv string `yaml:"token_env"`
}

type SlackConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BotTokenEnv string `yaml:"bot_token_env"`
	AppTokenEnv string `yaml:"app_token_env"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with working defaults for a fresh install.
func Default() *Config {
	return &Config{
		FirstRun:  true,
		Workspace: ".",
		Server:    ServerConfig{Host: "127.0.0.1", Port: 8420},
		LLM: LLMConfig{
			Providers: []ProviderConfig{
				{Model: "claude-sonnet-4-20250514", APIKeyEnv: "ANTHROPIC_API_KEY", Timeout: 60 * time.Second, MaxTokens: 4096},
				{Model: "gpt-4o", APIKeyEnv: "OPENAI_API_KEY", Timeout: 60 * time.Second, MaxTokens: 4096},
			},
		},
		Memory:   MemoryConfig{BaseURL: "http://127.0.0.1:8017", Timeout: 10 * time.Second, Enabled: true},
		Tools:    ToolsConfig{Root: "tools", Interpreter: "python3", Timeout: 30 * time.Second},
		Security: SecurityConfig{RateLimitPerMinute: 20},
		Forge:    ForgeConfig{Enabled: true, MaxAttempts: 3},
		Audit:    AuditConfig{Path: "audit.ndjson", BufferSize: 256},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads and validates the configuration file at path. Missing optional
// fields fall back to defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	cfg.FirstRun = false
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Workspace == "" {
		c.Workspace = "."
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8420
	}
	if c.Memory.Timeout == 0 {
		c.Memory.Timeout = 10 * time.Second
	}
	if c.Tools.Root == "" {
		c.Tools.Root = "tools"
	}
	if c.Tools.Interpreter == "" {
		c.Tools.Interpreter = "python3"
	}
	if c.Tools.Timeout == 0 {
		c.Tools.Timeout = 30 * time.Second
	}
	if c.Forge.MaxAttempts == 0 {
		c.Forge.MaxAttempts = 3
	}
	if c.Audit.Path == "" {
		c.Audit.Path = "audit.ndjson"
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = 256
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	for i := range c.LLM.Providers {
		if c.LLM.Providers[i].Timeout == 0 {
			c.LLM.Providers[i].Timeout = 60 * time.Second
		}
		if c.LLM.Providers[i].MaxTokens == 0 {
			c.LLM.Providers[i].MaxTokens = 4096
		}
	}
}

// Validate checks structural requirements that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	for i, p := range c.LLM.Providers {
		if p.Model == "" {
			return fmt.Errorf("llm.providers[%d]: model is required", i)
		}
	}
	return nil
}

// Save writes the configuration back to path with restrictive permissions,
// since the file may name credential variables.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ToolsRoot resolves the package root against the workspace.
func (c *Config) ToolsRoot() string {
	if filepath.IsAbs(c.Tools.Root) {
		return c.Tools.Root
	}
	return filepath.Join(c.Workspace, c.Tools.Root)
}

// AuditPath resolves the NDJSON sink path against the workspace.
func (c *Config) AuditPath() string {
	if filepath.IsAbs(c.Audit.Path) {
		return c.Audit.Path
	}
	return filepath.Join(c.Workspace, c.Audit.Path)
}
