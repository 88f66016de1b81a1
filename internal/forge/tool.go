package forge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jedisos/jedisos/internal/tools"
)

// ToolName is the handle the model calls to request a new skill.
const ToolName = "forge_tool"

const toolSchema = `{
	"type": "object",
	"properties": {
		"need": {
			"type": "string",
			"description": "What the new tool should do, in plain language"
		}
	},
	"required": ["need"]
}`

// RegisterTool exposes the forge to the model. The handler kicks the forge
// off in the background and answers immediately; the result arrives as a
// notification once generation finishes.
func (f *Forge) RegisterTool(reg *tools.Registry) error {
	return reg.Register(&tools.Handle{
		Name:        ToolName,
		Description: "Create a new tool the assistant is missing. Describe the need; the tool is built and installed in the background.",
		Schema:      json.RawMessage(toolSchema),
		Source:      "builtin",
		Enabled:     true,
		Invoke:      f.handleToolCall,
	}, true)
}

func (f *Forge) handleToolCall(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Need string `json:"need"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("parse arguments: %w", err)
	}
	caller, ok := tools.CallerFrom(ctx)
	if !ok {
		return "", errors.New("no caller attached to invocation")
	}

	f.CreateAsync(in.Need, caller.UserID)
	return "Working on it. I'll let you know when the new tool is ready.", nil
}
