// Package tools holds the in-process tool registry and the loader that
// turns on-disk skill packages into callable handles.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	// MaxNameLength bounds tool names to keep them usable as map keys,
	// filenames, and LLM identifiers.
	MaxNameLength = 256
	// MaxArgsSize bounds a single invocation's argument payload.
	MaxArgsSize = 10 << 20
)

var (
	// ErrDuplicateTool is returned when registering an existing name
	// without the replace flag.
	ErrDuplicateTool = errors.New("tool already registered")
	// ErrUnknownTool is returned for lookups of names never registered.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrToolDisabled is returned when invoking a disabled handle.
	ErrToolDisabled = errors.New("tool is disabled")
)

// InvokeFunc executes a tool with validated JSON arguments.
type InvokeFunc func(ctx context.Context, args json.RawMessage) (string, error)

// Handle is one registry entry.
type Handle struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Invoke      InvokeFunc
	// Source names the package (or "builtin", "mcp:<server>") the handle
	// came from; Unregister-by-source uses it on package removal.
	Source  string
	Enabled bool
}

// Spec is the schema-only view handed to the model.
type Spec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Registry is the process-wide name-to-handle map. Writers are the package
// manager, the forge, and the MCP layer; readers are agent iterations, which
// work from a Snapshot so a mid-iteration mutation cannot surprise the model.
type Registry struct {
	mu       sync.RWMutex
	handles  map[string]*Handle
	compiled map[string]*jsonschema.Schema
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handles:  make(map[string]*Handle),
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a handle. Duplicate names fail with ErrDuplicateTool unless
// replace is set. The schema is compiled once here so every later invocation
// validates cheaply.
func (r *Registry) Register(h *Handle, replace bool) error {
	if h == nil || h.Name == "" {
		return errors.New("handle requires a name")
	}
	if len(h.Name) > MaxNameLength {
		return fmt.Errorf("tool name exceeds %d bytes", MaxNameLength)
	}
	if h.Invoke == nil {
		return fmt.Errorf("tool %s has no invoke function", h.Name)
	}

	var compiled *jsonschema.Schema
	if len(h.Schema) > 0 {
		var err error
		compiled, err = jsonschema.CompileString(h.Name+".schema.json", string(h.Schema))
		if err != nil {
			return fmt.Errorf("tool %s schema: %w", h.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handles[h.Name]; exists && !replace {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, h.Name)
	}
	r.handles[h.Name] = h
	if compiled != nil {
		r.compiled[h.Name] = compiled
	} else {
		delete(r.compiled, h.Name)
	}
	return nil
}

// Unregister removes a handle by name.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	delete(r.handles, name)
	delete(r.compiled, name)
	return nil
}

// UnregisterSource removes every handle from the named source package and
// returns how many were dropped.
func (r *Registry) UnregisterSource(source string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for name, h := range r.handles {
		if h.Source == source {
			delete(r.handles, name)
			delete(r.compiled, name)
			n++
		}
	}
	return n
}

// Get returns the handle for name.
func (r *Registry) Get(name string) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return h, nil
}

// List returns all handles sorted by name.
func (r *Registry) List() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetEnabled toggles a handle without unregistering it.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	h.Enabled = enabled
	return nil
}

// Snapshot captures a stable view for one agent iteration.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handles := make(map[string]*Handle, len(r.handles))
	compiled := make(map[string]*jsonschema.Schema, len(r.compiled))
	for name, h := range r.handles {
		handles[name] = h
		if s, ok := r.compiled[name]; ok {
			compiled[name] = s
		}
	}
	return &Snapshot{handles: handles, compiled: compiled}
}

// Snapshot is an immutable registry view.
type Snapshot struct {
	handles  map[string]*Handle
	compiled map[string]*jsonschema.Schema
}

// Specs lists the enabled handles' schemas for the model, sorted by name.
func (s *Snapshot) Specs() []Spec {
	out := make([]Spec, 0, len(s.handles))
	for _, h := range s.handles {
		if !h.Enabled {
			continue
		}
		schema := h.Schema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out = append(out, Spec{Name: h.Name, Description: h.Description, Schema: schema})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute validates args against the tool's schema and invokes it. Unknown,
// disabled, and oversized calls fail before the handler runs.
func (s *Snapshot) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	h, ok := s.handles[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if !h.Enabled {
		return "", fmt.Errorf("%w: %s", ErrToolDisabled, name)
	}
	if len(args) > MaxArgsSize {
		return "", fmt.Errorf("tool %s: arguments exceed %d bytes", name, MaxArgsSize)
	}

	if schema, ok := s.compiled[name]; ok {
		payload := any(map[string]any{})
		if len(args) > 0 {
			if err := json.Unmarshal(args, &payload); err != nil {
				return "", fmt.Errorf("tool %s: arguments are not valid JSON: %w", name, err)
			}
		}
		if err := schema.Validate(payload); err != nil {
			return "", fmt.Errorf("tool %s: invalid arguments: %w", name, err)
		}
	}

	return h.Invoke(ctx, args)
}
