package tools

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleSkill = `from jedisos.tools import tool
import json

@tool
def weather(city: str, units: str = "metric") -> str:
    """Get current weather for a city."""
    return json.dumps({"city": city, "units": units})

@tool
def add(a: int, b: int) -> int:
    """Add two integers."""
    return a + b
`

func TestParseSkillSource(t *testing.T) {
	decls, err := ParseSkillSource(sampleSkill)
	if err != nil {
		t.Fatal(err)
	}
	if len(decls) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(decls))
	}

	w := decls[0]
	if w.Name != "weather" {
		t.Errorf("name = %q", w.Name)
	}
	if w.Description != "Get current weather for a city." {
		t.Errorf("description = %q", w.Description)
	}
	if len(w.Params) != 2 {
		t.Fatalf("params: %+v", w.Params)
	}
	if !w.Params[0].Required {
		t.Error("city has no default, must be required")
	}
	if w.Params[1].Required {
		t.Error("units has a default, must be optional")
	}
}

func TestDeclSchemaTypes(t *testing.T) {
	decls, err := ParseSkillSource(sampleSkill)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := decls[1].Schema()
	if err != nil {
		t.Fatal(err)
	}
	var schema struct {
		Type       string                       `json:"type"`
		Properties map[string]map[string]string `json:"properties"`
		Required   []string                     `json:"required"`
	}
	if err := json.Unmarshal(raw, &schema); err != nil {
		t.Fatal(err)
	}
	if schema.Type != "object" {
		t.Errorf("type = %q", schema.Type)
	}
	if schema.Properties["a"]["type"] != "integer" {
		t.Errorf("int should map to integer: %v", schema.Properties)
	}
	if len(schema.Required) != 2 {
		t.Errorf("required = %v", schema.Required)
	}
}

func TestParseRejectsDecoratorWithoutDef(t *testing.T) {
	_, err := ParseSkillSource("@tool\nx = 1\n")
	if err == nil {
		t.Fatal("decorator without def should be rejected")
	}
}

func TestParseMultilineDocstringAndGenerics(t *testing.T) {
	code := `@tool
def lookup(keys: list[str], table: dict[str, int]) -> dict:
    """Look up keys
    in a table.
    """
    return {}
`
	decls, err := ParseSkillSource(code)
	if err != nil {
		t.Fatal(err)
	}
	d := decls[0]
	if d.Description != "Look up keys in a table." {
		t.Errorf("docstring = %q", d.Description)
	}
	if len(d.Params) != 2 {
		t.Fatalf("generic annotations split wrongly: %+v", d.Params)
	}
	raw, _ := d.Schema()
	var schema struct {
		Properties map[string]map[string]string `json:"properties"`
	}
	json.Unmarshal(raw, &schema)
	if schema.Properties["keys"]["type"] != "array" || schema.Properties["table"]["type"] != "object" {
		t.Errorf("generic types mapped wrongly: %v", schema.Properties)
	}
}

func TestLoadBuildsHandles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, SkillFilename), []byte(sampleSkill), 0o600); err != nil {
		t.Fatal(err)
	}

	l := NewLoader("python3", time.Second)
	handles, err := l.Load(dir, "weather-pack")
	if err != nil {
		t.Fatal(err)
	}
	if len(handles) != 2 {
		t.Fatalf("handles: %d", len(handles))
	}
	for _, h := range handles {
		if h.Source != "weather-pack" {
			t.Errorf("source = %q", h.Source)
		}
		if !h.Enabled {
			t.Errorf("%s should load enabled", h.Name)
		}
		if h.Invoke == nil {
			t.Errorf("%s has no invoker", h.Name)
		}
	}
}

func TestLoadRejectsEmptySkill(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, SkillFilename), []byte("x = 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLoader("python3", time.Second).Load(dir, "empty"); err == nil {
		t.Fatal("skill with no tools should not load")
	}
}
