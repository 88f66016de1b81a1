package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/jedisos/jedisos/internal/memory"
)

// BuiltinSource tags handles shipped with the runtime.
const BuiltinSource = "builtin"

type currentTimeArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA timezone name; defaults to UTC"`
}

type rememberArgs struct {
	Fact    string `json:"fact" jsonschema:"required,description=The fact to remember about the user"`
	Context string `json:"context,omitempty" jsonschema:"description=Where the fact came up"`
}

// RegisterBuiltins installs the runtime's native tools. The remember tool is
// only offered when a memory client is configured.
func RegisterBuiltins(reg *Registry, mem *memory.Client, bank func(ctx context.Context) string) error {
	timeHandle := &Handle{
		Name:        "current_time",
		Description: "Get the current date and time, optionally in a specific timezone.",
		Schema:      schemaFor(&currentTimeArgs{}),
		Source:      BuiltinSource,
		Enabled:     true,
		Invoke: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in currentTimeArgs
			if len(args) > 0 {
				if err := json.Unmarshal(args, &in); err != nil {
					return "", fmt.Errorf("parse arguments: %w", err)
				}
			}
			loc := time.UTC
			if in.Timezone != "" {
				var err error
				loc, err = time.LoadLocation(in.Timezone)
				if err != nil {
					return "", fmt.Errorf("unknown timezone %q", in.Timezone)
				}
			}
			return time.Now().In(loc).Format("Monday, 2 January 2006 15:04:05 MST"), nil
		},
	}
	if err := reg.Register(timeHandle, false); err != nil {
		return err
	}

	if mem == nil {
		return nil
	}
	rememberHandle := &Handle{
		Name:        "remember",
		Description: "Store a fact about the user in long-term memory.",
		Schema:      schemaFor(&rememberArgs{}),
		Source:      BuiltinSource,
		Enabled:     true,
		Invoke: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in rememberArgs
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("parse arguments: %w", err)
			}
			if in.Fact == "" {
				return "", fmt.Errorf("fact is required")
			}
			if _, err := mem.Retain(ctx, bank(ctx), in.Fact, in.Context); err != nil {
				return "", err
			}
			return "remembered", nil
		},
	}
	return reg.Register(rememberHandle, false)
}

// schemaFor derives a JSON schema from an argument struct. The reflector is
// configured for inline, self-contained schemas the providers can forward
// verbatim.
func schemaFor(v any) json.RawMessage {
	r := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.Reflect(v)
	schema.Version = ""
	raw, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return raw
}
