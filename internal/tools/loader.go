package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// SkillFilename is the code artifact inside a skill package.
const SkillFilename = "skill.py"

// Loader builds handles from a skill package directory. The code artifact is
// data here, not importable source: the loader reads the @tool declarations
// textually for names, descriptions, and schemas, and invocation runs the
// configured interpreter with JSON arguments on stdin. The loader never
// registers; the package manager or forge decides when handles go live.
type Loader struct {
	Interpreter string
	Timeout     time.Duration
}

// NewLoader builds a loader; empty interpreter defaults to python3.
func NewLoader(interpreter string, timeout time.Duration) *Loader {
	if interpreter == "" {
		interpreter = "python3"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Loader{Interpreter: interpreter, Timeout: timeout}
}

// Load reads the package's code artifact and returns one handle per
// decorated function. The source tag is the package name.
func (l *Loader) Load(pkgDir, pkgName string) ([]*Handle, error) {
	script := filepath.Join(pkgDir, SkillFilename)
	code, err := os.ReadFile(script)
	if err != nil {
		return nil, fmt.Errorf("read skill artifact: %w", err)
	}

	decls, err := ParseSkillSource(string(code))
	if err != nil {
		return nil, err
	}
	if len(decls) == 0 {
		return nil, fmt.Errorf("package %s declares no tools", pkgName)
	}

	handles := make([]*Handle, 0, len(decls))
	for _, d := range decls {
		d := d
		schema, err := d.Schema()
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", d.Name, err)
		}
		handles = append(handles, &Handle{
			Name:        d.Name,
			Description: d.Description,
			Schema:      schema,
			Source:      pkgName,
			Enabled:     true,
			Invoke:      l.invoker(script, d.Name),
		})
	}
	return handles, nil
}

// invoker runs `interpreter script function` with the JSON argument object
// on stdin, expecting `{"result": ...}` or `{"error": "..."}` on stdout.
func (l *Loader) invoker(script, function string) InvokeFunc {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, l.Timeout)
		defer cancel()

		if len(args) == 0 {
			args = json.RawMessage("{}")
		}

		cmd := exec.CommandContext(ctx, l.Interpreter, script, function)
		cmd.Stdin = bytes.NewReader(args)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return "", fmt.Errorf("tool %s timed out after %s", function, l.Timeout)
			}
			detail := strings.TrimSpace(stderr.String())
			if detail == "" {
				detail = err.Error()
			}
			return "", fmt.Errorf("tool %s: %s", function, detail)
		}

		var reply struct {
			Result json.RawMessage `json:"result"`
			Error  string          `json:"error"`
		}
		if err := json.Unmarshal(stdout.Bytes(), &reply); err != nil {
			return "", fmt.Errorf("tool %s returned malformed output: %w", function, err)
		}
		if reply.Error != "" {
			return "", fmt.Errorf("tool %s: %s", function, reply.Error)
		}

		// Unquote plain strings so the model sees text, not JSON literals.
		var s string
		if json.Unmarshal(reply.Result, &s) == nil {
			return s, nil
		}
		return string(reply.Result), nil
	}
}

// ToolDecl is one @tool-decorated function extracted from a skill artifact.
type ToolDecl struct {
	Name        string
	Description string
	Params      []ParamDecl
}

// ParamDecl is one typed parameter of a tool declaration.
type ParamDecl struct {
	Name     string
	Type     string // python annotation text
	Required bool
}

var (
	decoratorRe = regexp.MustCompile(`^\s*@tool(\s*\(.*\))?\s*$`)
	defRe       = regexp.MustCompile(`^\s*def\s+([A-Za-z_][A-Za-z0-9_]*)\s*\((.*?)\)\s*(->\s*[^:]+)?:\s*$`)
	docstringRe = regexp.MustCompile(`^\s*(?:'''|""")(.*?)(?:'''|""")?\s*$`)
)

// ParseSkillSource extracts the @tool declarations from skill source text.
// The grammar accepted is the narrow shape the forge emits and the docs
// prescribe: a decorator line, a single-line def with typed parameters, and
// a docstring opening on the next line.
func ParseSkillSource(code string) ([]ToolDecl, error) {
	lines := strings.Split(code, "\n")
	var decls []ToolDecl

	for i := 0; i < len(lines); i++ {
		if !decoratorRe.MatchString(lines[i]) {
			continue
		}

		// The def must follow the decorator, allowing blank lines.
		j := i + 1
		for j < len(lines) && strings.TrimSpace(lines[j]) == "" {
			j++
		}
		if j >= len(lines) {
			break
		}
		m := defRe.FindStringSubmatch(lines[j])
		if m == nil {
			return nil, fmt.Errorf("line %d: @tool decorator not followed by a function definition", i+1)
		}

		decl := ToolDecl{Name: m[1]}
		params, err := parseParams(m[2])
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", decl.Name, err)
		}
		decl.Params = params
		decl.Description = extractDocstring(lines, j+1)
		decls = append(decls, decl)
		i = j
	}

	return decls, nil
}

func parseParams(raw string) ([]ParamDecl, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var params []ParamDecl
	for _, part := range splitTopLevel(raw) {
		part = strings.TrimSpace(part)
		if part == "" || part == "self" {
			continue
		}

		required := !strings.Contains(part, "=")
		if idx := strings.Index(part, "="); idx >= 0 {
			part = strings.TrimSpace(part[:idx])
		}

		name := part
		ptype := "str"
		if idx := strings.Index(part, ":"); idx >= 0 {
			name = strings.TrimSpace(part[:idx])
			ptype = strings.TrimSpace(part[idx+1:])
		}
		if name == "" {
			return nil, fmt.Errorf("malformed parameter %q", part)
		}
		params = append(params, ParamDecl{Name: name, Type: ptype, Required: required})
	}
	return params, nil
}

// splitTopLevel splits a parameter list on commas outside brackets, so
// annotations like dict[str, int] survive.
func splitTopLevel(s string) []string {
	var parts []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '[', '(', '{':
			depth++
		case ']', ')', '}':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func extractDocstring(lines []string, start int) string {
	if start >= len(lines) {
		return ""
	}
	first := strings.TrimSpace(lines[start])
	if !strings.HasPrefix(first, `"""`) && !strings.HasPrefix(first, "'''") {
		return ""
	}
	quote := first[:3]
	body := first[3:]
	if strings.HasSuffix(body, quote) && len(body) >= 3 {
		return strings.TrimSpace(strings.TrimSuffix(body, quote))
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(body))
	for i := start + 1; i < len(lines); i++ {
		line := lines[i]
		if idx := strings.Index(line, quote); idx >= 0 {
			if chunk := strings.TrimSpace(line[:idx]); chunk != "" {
				b.WriteString(" ")
				b.WriteString(chunk)
			}
			break
		}
		if chunk := strings.TrimSpace(line); chunk != "" {
			b.WriteString(" ")
			b.WriteString(chunk)
		}
	}
	return strings.TrimSpace(b.String())
}

// Schema renders the declaration's JSON schema for the model.
func (d *ToolDecl) Schema() (json.RawMessage, error) {
	properties := make(map[string]any, len(d.Params))
	var required []string
	for _, p := range d.Params {
		properties[p.Name] = map[string]any{"type": jsonType(p.Type)}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return json.Marshal(doc)
}

func jsonType(pyType string) string {
	base := strings.ToLower(strings.TrimSpace(pyType))
	if idx := strings.Index(base, "["); idx >= 0 {
		base = base[:idx]
	}
	switch base {
	case "int":
		return "integer"
	case "float":
		return "number"
	case "bool":
		return "boolean"
	case "list", "tuple", "set":
		return "array"
	case "dict":
		return "object"
	default:
		return "string"
	}
}
