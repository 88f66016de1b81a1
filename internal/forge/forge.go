// Package forge turns a natural-language need into an installed skill: it
// asks the model for a structured design, renders the package from templates,
// runs the security checker and the package validator, and promotes the
// result atomically. Generation is bounded; each failed attempt's report is
// fed back into the next design request.
package forge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/jedisos/jedisos/internal/agent"
	"github.com/jedisos/jedisos/internal/packages"
	"github.com/jedisos/jedisos/internal/security"
	"github.com/jedisos/jedisos/internal/tools"
)

// DefaultMaxAttempts bounds regeneration on validation failure.
const DefaultMaxAttempts = 3

// ErrExhausted reports that every attempt failed validation.
var ErrExhausted = errors.New("forge attempts exhausted")

// Design is the structured answer the model must produce before any code is
// rendered.
type Design struct {
	ToolName       string      `json:"tool_name"`
	Description    string      `json:"description"`
	Parameters     []Parameter `json:"parameters"`
	Implementation string      `json:"implementation_outline"`
	EnvRequired    []string    `json:"env_required"`
}

// Parameter is one input of the designed tool.
type Parameter struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Default  string `json:"default,omitempty"`
}

// Result describes a successful generation.
type Result struct {
	Name     string
	Dir      string
	Attempts int
	Tools    []string
}

// Notifier delivers background completions to the triggering user.
type Notifier func(userID, message string)

// Config carries the forge's collaborators.
type Config struct {
	Router   *agent.Router
	Checker  *security.Checker
	Store    *packages.Store
	Loader   *tools.Loader
	Registry *tools.Registry
	Notify   Notifier
	Logger   *slog.Logger
}

// Forge generates skills on demand.
type Forge struct {
	router   *agent.Router
	checker  *security.Checker
	store    *packages.Store
	loader   *tools.Loader
	registry *tools.Registry
	notify   Notifier
	logger   *slog.Logger

	MaxAttempts int
}

// New builds a forge with the default attempt bound.
func New(cfg Config) *Forge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notify := cfg.Notify
	if notify == nil {
		notify = func(string, string) {}
	}
	checker := cfg.Checker
	if checker == nil {
		checker = &security.Checker{}
	}
	return &Forge{
		router:      cfg.Router,
		checker:     checker,
		store:       cfg.Store,
		loader:      cfg.Loader,
		registry:    cfg.Registry,
		notify:      notify,
		logger:      logger.With("component", "forge"),
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Create runs the bounded generate-validate-install cycle and notifies the
// user of the outcome. It is synchronous; CreateAsync is the fire-and-forget
// entry the agent's tool handler uses.
func (f *Forge) Create(ctx context.Context, need, userID string) (*Result, error) {
	log := f.logger.With("user_id", userID)
	var feedback string

	for attempt := 1; attempt <= f.MaxAttempts; attempt++ {
		res, failure, err := f.attempt(ctx, need, feedback)
		if err != nil {
			return nil, err
		}
		if failure == "" {
			res.Attempts = attempt
			log.Info("skill forged", "name", res.Name, "tools", res.Tools, "attempts", attempt)
			f.notify(userID, fmt.Sprintf("Your new tool %q is ready: %s", res.Name, strings.Join(res.Tools, ", ")))
			return res, nil
		}
		log.Warn("forge attempt rejected", "attempt", attempt, "report", failure)
		feedback = failure
	}

	f.notify(userID, fmt.Sprintf("I could not build that tool after %d attempts. Last problem:\n%s", f.MaxAttempts, feedback))
	return nil, fmt.Errorf("%w after %d attempts: %s", ErrExhausted, f.MaxAttempts, feedback)
}

// CreateAsync launches Create decoupled from the triggering request:
// cancelling the request must not cancel the forge.
func (f *Forge) CreateAsync(need, userID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := f.Create(ctx, need, userID); err != nil {
			f.logger.Error("background forge failed", "user_id", userID, "error", err)
		}
	}()
}

// attempt runs one generate-validate cycle. A validation rejection comes back
// as a non-empty failure string; err is reserved for unrecoverable problems
// (model exhaustion, filesystem trouble).
func (f *Forge) attempt(ctx context.Context, need, feedback string) (*Result, string, error) {
	design, err := f.design(ctx, need, feedback)
	if err != nil {
		return nil, "", err
	}
	if problem := design.problem(); problem != "" {
		return nil, "design rejected: " + problem, nil
	}

	pkgName := packageName(design.ToolName)
	// Scratch lives under the store root so the promote rename never
	// crosses a filesystem boundary.
	scratch, err := os.MkdirTemp(f.store.Root(), ".forge-"+pkgName+"-")
	if err != nil {
		return nil, "", fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	code, err := design.renderSkill()
	if err != nil {
		return nil, "", err
	}
	if err := os.WriteFile(filepath.Join(scratch, tools.SkillFilename), []byte(code), 0o644); err != nil {
		return nil, "", fmt.Errorf("write skill artifact: %w", err)
	}
	manifest := &packages.Manifest{
		Name:        pkgName,
		Version:     "0.1.0",
		Description: design.Description,
		Type:        packages.TypeSkill,
		License:     "MIT",
		Author:      "jedisos-forge",
		Tags:        []string{"generated"},
	}
	if err := manifest.Write(scratch); err != nil {
		return nil, "", fmt.Errorf("write manifest: %w", err)
	}

	// Admission: the checker rejects code that never gets registered.
	report := f.checker.Check(code, pkgName)
	if !report.Pass {
		return nil, report.String(), nil
	}
	if vr := packages.Validate(scratch); !vr.Valid {
		return nil, "package invalid: " + strings.Join(vr.Problems, "; "), nil
	}

	dir, err := f.store.PromoteGenerated(scratch, pkgName)
	if err != nil {
		return nil, "", fmt.Errorf("promote generation: %w", err)
	}

	handles, err := f.loader.Load(dir, pkgName)
	if err != nil {
		return nil, "", fmt.Errorf("load generated skill: %w", err)
	}
	names := make([]string, 0, len(handles))
	for _, h := range handles {
		if err := f.registry.Register(h, true); err != nil {
			return nil, "", fmt.Errorf("register %s: %w", h.Name, err)
		}
		names = append(names, h.Name)
	}

	return &Result{Name: pkgName, Dir: dir, Tools: names}, "", nil
}

const designSystemPrompt = `You design single-purpose tools for a personal assistant runtime.
Respond with exactly one JSON object, no prose, no code fences:
{"tool_name": "snake_case_name", "description": "one sentence",
 "parameters": [{"name": "...", "type": "str|int|float|bool|list|dict", "required": true, "default": ""}],
 "implementation_outline": "the Python function body, 4-space indented statements ending in a return",
 "env_required": []}
The body may only use these modules: requests, httpx, json, re, datetime, pathlib, typing, math, pydantic.
Never spawn processes, evaluate code, open sockets directly, or touch system paths.`

// design asks the router for the structured design, folding any previous
// failure report into the request.
func (f *Forge) design(ctx context.Context, need, feedback string) (*Design, error) {
	content := "Design a tool for this need: " + need
	if feedback != "" {
		content += "\n\nYour previous attempt was rejected. Fix these problems:\n" + feedback
	}

	chunks, err := f.router.Complete(ctx, &agent.CompletionRequest{
		System:   designSystemPrompt,
		Messages: []agent.CompletionMessage{{Role: "user", Content: content}},
	})
	if err != nil {
		return nil, fmt.Errorf("design request: %w", err)
	}

	var text strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return nil, fmt.Errorf("design request: %w", chunk.Error)
		}
		text.WriteString(chunk.Text)
	}

	design, err := parseDesign(text.String())
	if err != nil {
		return nil, fmt.Errorf("design response unparsable: %w", err)
	}
	return design, nil
}

// parseDesign extracts the JSON object from the model's reply, tolerating
// code fences and surrounding chatter.
func parseDesign(raw string) (*Design, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, errors.New("no JSON object in response")
	}
	var d Design
	if err := json.Unmarshal([]byte(raw[start:end+1]), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

var identRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// problem reports what makes a design unusable before rendering.
func (d *Design) problem() string {
	if d.ToolName == "" {
		return "tool_name is required"
	}
	if !identRe.MatchString(d.ToolName) {
		return fmt.Sprintf("tool_name %q must be a snake_case identifier", d.ToolName)
	}
	if d.Description == "" {
		return "description is required"
	}
	if strings.TrimSpace(d.Implementation) == "" {
		return "implementation_outline is required"
	}
	for _, p := range d.Parameters {
		if !identRe.MatchString(p.Name) {
			return fmt.Sprintf("parameter name %q must be a snake_case identifier", p.Name)
		}
	}
	return ""
}

// skillTemplate is the rendered artifact. The runner harness comes from the
// runtime's own helper module so the generated file stays inside the import
// allow-list.
var skillTemplate = template.Must(template.New("skill").Parse(`"""{{.Description}}"""

from jedisos import tool, run


@tool
def {{.ToolName}}({{.ParamList}}) -> str:
    """{{.Description}}"""
{{.Body}}


if __name__ == "__main__":
    run()
`))

func (d *Design) renderSkill() (string, error) {
	var b strings.Builder
	err := skillTemplate.Execute(&b, struct {
		ToolName    string
		Description string
		ParamList   string
		Body        string
	}{
		ToolName:    d.ToolName,
		Description: sanitizeLine(d.Description),
		ParamList:   d.paramList(),
		Body:        indentBody(d.Implementation),
	})
	if err != nil {
		return "", fmt.Errorf("render skill: %w", err)
	}
	return b.String(), nil
}

func (d *Design) paramList() string {
	parts := make([]string, 0, len(d.Parameters))
	// Required parameters first; Python rejects a required after a default.
	for _, p := range d.Parameters {
		if p.Required {
			parts = append(parts, fmt.Sprintf("%s: %s", p.Name, paramType(p.Type)))
		}
	}
	for _, p := range d.Parameters {
		if !p.Required {
			parts = append(parts, fmt.Sprintf("%s: %s = %s", p.Name, paramType(p.Type), defaultLiteral(p)))
		}
	}
	return strings.Join(parts, ", ")
}

func paramType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "int", "integer":
		return "int"
	case "float", "number":
		return "float"
	case "bool", "boolean":
		return "bool"
	case "list", "array":
		return "list"
	case "dict", "object":
		return "dict"
	default:
		return "str"
	}
}

func defaultLiteral(p Parameter) string {
	switch paramType(p.Type) {
	case "int", "float", "bool":
		if p.Default != "" {
			return p.Default
		}
		if paramType(p.Type) == "bool" {
			return "False"
		}
		return "0"
	case "list":
		return "[]"
	case "dict":
		return "{}"
	default:
		return fmt.Sprintf("%q", p.Default)
	}
}

// indentBody normalizes the outline into a 4-space indented function body.
func indentBody(body string) string {
	lines := strings.Split(strings.ReplaceAll(body, "\t", "    "), "\n")

	// Strip the common leading indentation the model may have included.
	margin := -1
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		n := len(line) - len(strings.TrimLeft(line, " "))
		if margin < 0 || n < margin {
			margin = n
		}
	}

	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteString("\n")
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		b.WriteString("    ")
		b.WriteString(line[margin:])
	}
	return b.String()
}

func sanitizeLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, `"`, "'")
}

// packageName converts a snake_case tool name to the hyphenated package form.
func packageName(toolName string) string {
	return strings.ReplaceAll(strings.ToLower(toolName), "_", "-")
}
