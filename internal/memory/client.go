// Package memory is the HTTP client for the external memory service. The
// service owns all persistence; this client only retains, recalls, and
// reflects. Every failure surfaces as the single recoverable kind
// ErrUnavailable so callers degrade uniformly.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jedisos/jedisos/pkg/models"
)

// ErrUnavailable wraps every memory-service failure: connection refused,
// non-2xx status, malformed body. The agent treats it as "no memory today".
var ErrUnavailable = errors.New("memory service unavailable")

// Record is one retained memory as the service reports it.
type Record struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Context   string    `json:"context,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Context is the recalled material woven into the agent's prompt.
type Context struct {
	Summary  string   `json:"summary"`
	Memories []string `json:"memories"`
}

// Entity is a subject the service has extracted across a bank's memories.
type Entity struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Summary string `json:"summary,omitempty"`
}

// Client talks to one memory service instance.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a client with a bounded per-call timeout. A zero timeout gets
// the 10 second default.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Bank derives the conventional bank id for a channel/user pair.
func Bank(channel models.ChannelType, userID string) string {
	return fmt.Sprintf("%s-%s", channel, userID)
}

// Retain stores one memory in the bank.
func (c *Client) Retain(ctx context.Context, bank, content, memCtx string) (*Record, error) {
	payload := map[string]string{"content": content}
	if memCtx != "" {
		payload["context"] = memCtx
	}
	var rec Record
	if err := c.post(ctx, c.bankPath(bank, "memories"), payload, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Recall asks the service for context relevant to the query. The service
// serves recall through its reflect endpoint; the query distinguishes a
// recall from a consolidation pass.
func (c *Client) Recall(ctx context.Context, bank, query string) (*Context, error) {
	payload := map[string]string{"query": query}
	var mc Context
	if err := c.post(ctx, c.bankPath(bank, "reflect"), payload, &mc); err != nil {
		return nil, err
	}
	return &mc, nil
}

// Reflect triggers a consolidation pass over the bank.
func (c *Client) Reflect(ctx context.Context, bank string) error {
	return c.post(ctx, c.bankPath(bank, "reflect"), map[string]string{}, nil)
}

// Entities lists the subjects the service has extracted for the bank.
func (c *Client) Entities(ctx context.Context, bank string) ([]Entity, error) {
	var out struct {
		Entities []Entity `json:"entities"`
	}
	if err := c.get(ctx, c.bankPath(bank, "entities"), &out); err != nil {
		return nil, err
	}
	return out.Entities, nil
}

// Health probes the service.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/health", nil)
}

func (c *Client) bankPath(bank, op string) string {
	return "/v1/default/banks/" + url.PathEscape(bank) + "/" + op
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode request: %v", ErrUnavailable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s returned %d: %s", ErrUnavailable, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}
