// Package mcp manages external tool servers: each registered server is a
// package on disk, and every enabled server contributes its tools to the
// registry under the mcp:<server>:<tool> namespace.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jedisos/jedisos/internal/packages"
	"github.com/jedisos/jedisos/internal/tools"
)

// ServerFilename sits next to the package manifest and carries the
// connection details.
const ServerFilename = "server.yaml"

// ErrUnknownServer is returned for names never registered.
var ErrUnknownServer = errors.New("unknown mcp server")

// Server is one registered external tool server.
type Server struct {
	Name    string            `yaml:"name" json:"name"`
	URL     string            `yaml:"url" json:"url"`
	Enabled bool              `yaml:"enabled" json:"enabled"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// toolListing is the shape of the server's GET /tools response.
type toolListing struct {
	Tools []struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		InputSchema json.RawMessage `json:"input_schema"`
	} `json:"tools"`
}

// Manager persists servers through the package store and keeps the tool
// registry in sync with the enabled set.
type Manager struct {
	store    *packages.Store
	registry *tools.Registry
	http     *http.Client
	logger   *slog.Logger
}

// NewManager builds a manager; timeout bounds discovery and invocation.
func NewManager(store *packages.Store, registry *tools.Registry, timeout time.Duration, logger *slog.Logger) *Manager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    store,
		registry: registry,
		http:     &http.Client{Timeout: timeout},
		logger:   logger.With("component", "mcp"),
	}
}

// List returns every registered server, enabled or not.
func (m *Manager) List() []Server {
	var out []Server
	for _, info := range m.store.Scan() {
		if info.Manifest.Type != packages.TypeMCPServer {
			continue
		}
		s, err := readServer(info.Dir)
		if err != nil {
			m.logger.Warn("skipping unreadable server file", "dir", info.Dir, "error", err)
			continue
		}
		out = append(out, *s)
	}
	return out
}

// Get returns one server by name.
func (m *Manager) Get(name string) (*Server, error) {
	dir := m.store.Dir(packages.TypeMCPServer, name)
	s, err := readServer(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownServer, name)
		}
		return nil, err
	}
	return s, nil
}

// Add registers a server, installing it as a package. An enabled server is
// connected immediately; a discovery failure leaves it registered but
// disabled so a later toggle can retry.
func (m *Manager) Add(ctx context.Context, s Server) error {
	if err := validate(s); err != nil {
		return err
	}

	scratch, err := os.MkdirTemp(m.store.Root(), ".mcp-"+s.Name+"-")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	manifest := &packages.Manifest{
		Name:        s.Name,
		Version:     "0.1.0",
		Description: "External tool server at " + s.URL,
		Type:        packages.TypeMCPServer,
		License:     "MIT",
		Author:      "local",
		Tags:        []string{"mcp"},
	}
	if err := manifest.Write(scratch); err != nil {
		return err
	}
	if err := writeServer(scratch, &s); err != nil {
		return err
	}
	if _, err := m.store.Install(scratch, true); err != nil {
		return err
	}

	if s.Enabled {
		if err := m.connect(ctx, &s); err != nil {
			m.logger.Warn("server added but not reachable", "name", s.Name, "error", err)
			return m.SetEnabled(ctx, s.Name, false)
		}
	}
	return nil
}

// Remove unregisters the server's tools and deletes the package.
func (m *Manager) Remove(name string) error {
	if _, err := m.Get(name); err != nil {
		return err
	}
	m.registry.UnregisterSource(sourceFor(name))
	return m.store.Remove(name)
}

// SetEnabled toggles a server. Enabling connects and registers its tools;
// disabling drops them from the registry.
func (m *Manager) SetEnabled(ctx context.Context, name string, enabled bool) error {
	dir := m.store.Dir(packages.TypeMCPServer, name)
	s, err := readServer(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrUnknownServer, name)
		}
		return err
	}

	s.Enabled = enabled
	if err := writeServer(dir, s); err != nil {
		return err
	}

	if enabled {
		return m.connect(ctx, s)
	}
	m.registry.UnregisterSource(sourceFor(name))
	return nil
}

// ConnectAll connects every enabled server at startup. Unreachable servers
// are warnings, not startup failures.
func (m *Manager) ConnectAll(ctx context.Context) {
	for _, s := range m.List() {
		if !s.Enabled {
			continue
		}
		s := s
		if err := m.connect(ctx, &s); err != nil {
			m.logger.Warn("mcp server unreachable", "name", s.Name, "error", err)
		}
	}
}

// connect discovers the server's tools and registers a handle per tool.
func (m *Manager) connect(ctx context.Context, s *Server) error {
	listing, err := m.discover(ctx, s)
	if err != nil {
		return err
	}

	// Replace whatever the server contributed before.
	m.registry.UnregisterSource(sourceFor(s.Name))
	for _, t := range listing.Tools {
		handle := &tools.Handle{
			Name:        fmt.Sprintf("mcp:%s:%s", s.Name, t.Name),
			Description: t.Description,
			Schema:      t.InputSchema,
			Source:      sourceFor(s.Name),
			Enabled:     true,
			Invoke:      m.invoker(*s, t.Name),
		}
		if err := m.registry.Register(handle, true); err != nil {
			m.logger.Warn("skipping tool with bad schema", "tool", handle.Name, "error", err)
		}
	}
	m.logger.Info("mcp server connected", "name", s.Name, "tools", len(listing.Tools))
	return nil
}

// discover fetches the server's GET /tools listing.
func (m *Manager) discover(ctx context.Context, s *Server) (*toolListing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(s.URL, "/")+"/tools", nil)
	if err != nil {
		return nil, err
	}
	applyHeaders(req, s.Headers)

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mcp server %s: %w", s.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mcp server %s: /tools returned %d", s.Name, resp.StatusCode)
	}

	var listing toolListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("mcp server %s: decode listing: %w", s.Name, err)
	}
	return &listing, nil
}

// invoker POSTs {tool, arguments} to the server's /invoke endpoint and
// expects {result} or {error} back.
func (m *Manager) invoker(s Server, tool string) tools.InvokeFunc {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		body, err := json.Marshal(map[string]json.RawMessage{
			"tool":      json.RawMessage(fmt.Sprintf("%q", tool)),
			"arguments": args,
		})
		if err != nil {
			return "", err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(s.URL, "/")+"/invoke", bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")
		applyHeaders(req, s.Headers)

		resp, err := m.http.Do(req)
		if err != nil {
			return "", fmt.Errorf("mcp server %s: %w", s.Name, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		if err != nil {
			return "", err
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("mcp server %s returned %d: %s", s.Name, resp.StatusCode, strings.TrimSpace(string(data)))
		}

		var reply struct {
			Result json.RawMessage `json:"result"`
			Error  string          `json:"error"`
		}
		if err := json.Unmarshal(data, &reply); err != nil {
			return "", fmt.Errorf("mcp server %s: malformed reply: %w", s.Name, err)
		}
		if reply.Error != "" {
			return "", fmt.Errorf("tool %s: %s", tool, reply.Error)
		}
		var plain string
		if json.Unmarshal(reply.Result, &plain) == nil {
			return plain, nil
		}
		return string(reply.Result), nil
	}
}

func sourceFor(name string) string { return "mcp:" + name }

func validate(s Server) error {
	if s.Name == "" {
		return errors.New("server name is required")
	}
	u, err := url.Parse(s.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server url %q must be http(s)", s.URL)
	}
	return nil
}

func readServer(dir string) (*Server, error) {
	data, err := os.ReadFile(filepath.Join(dir, ServerFilename))
	if err != nil {
		return nil, err
	}
	var s Server
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ServerFilename, err)
	}
	return &s, nil
}

func writeServer(dir string, s *Server) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ServerFilename), data, 0o644)
}

func applyHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}
