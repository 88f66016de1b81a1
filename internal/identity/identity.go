// Package identity loads the assistant's persona from the workspace's
// IDENTITY.md and renders it into the system prompt preamble.
package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Filename is the persona file looked up in the workspace root.
const Filename = "IDENTITY.md"

// Identity is the persona loaded from IDENTITY.md: the known bullet keys
// plus any remaining prose, which is appended verbatim to the preamble.
type Identity struct {
	Name     string
	Emoji    string
	Vibe     string
	Creature string
	Prose    string
}

// placeholders are template values left from an unedited identity file;
// they are treated as absent.
var placeholders = map[string]bool{
	"pick something you like": true,
	"ai? robot? familiar? ghost in the machine? something weirder?": true,
	"how do you come across? sharp? warm? chaotic? calm?":           true,
	"your signature - pick one that feels right":                    true,
}

// Load reads the workspace's IDENTITY.md. A missing file is not an error;
// it yields a zero-value identity and the default prompt.
func Load(workspace string) (*Identity, error) {
	data, err := os.ReadFile(filepath.Join(workspace, Filename))
	if err != nil {
		if os.IsNotExist(err) {
			return &Identity{}, nil
		}
		return nil, fmt.Errorf("read identity: %w", err)
	}
	return Parse(string(data)), nil
}

// Parse extracts the persona from markdown content. Bullet lines of the form
// `- **Key**: Value` feed the known fields; non-bullet, non-header prose is
// collected in order.
func Parse(content string) *Identity {
	id := &Identity{}
	var prose []string

	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "*") {
			prose = append(prose, line)
			continue
		}

		item := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(line, "-"), "*"))
		colon := strings.Index(item, ":")
		if colon < 0 {
			prose = append(prose, line)
			continue
		}

		key := strings.ToLower(stripBold(strings.TrimSpace(item[:colon])))
		value := normalize(item[colon+1:])
		if value == "" || placeholders[strings.ToLower(value)] {
			continue
		}

		switch key {
		case "name":
			id.Name = value
		case "emoji":
			id.Emoji = value
		case "vibe":
			id.Vibe = value
		case "creature":
			id.Creature = value
		default:
			prose = append(prose, item)
		}
	}

	id.Prose = strings.Join(prose, "\n")
	return id
}

// SystemPrompt renders the persona preamble prepended to every model prompt.
func (i *Identity) SystemPrompt() string {
	var b strings.Builder
	if i.Name != "" {
		fmt.Fprintf(&b, "You are %s", i.Name)
		if i.Emoji != "" {
			fmt.Fprintf(&b, " %s", i.Emoji)
		}
		b.WriteString(", a personal assistant.\n")
	} else {
		b.WriteString("You are a personal assistant.\n")
	}
	if i.Creature != "" {
		fmt.Fprintf(&b, "You present as: %s.\n", i.Creature)
	}
	if i.Vibe != "" {
		fmt.Fprintf(&b, "Your vibe: %s.\n", i.Vibe)
	}
	if i.Prose != "" {
		b.WriteString(i.Prose)
		b.WriteString("\n")
	}
	return b.String()
}

func stripBold(s string) string {
	s = strings.TrimPrefix(s, "**")
	return strings.TrimSuffix(s, "**")
}

func normalize(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			s = s[1 : len(s)-1]
		}
	}
	// Strip trailing comments but keep URL protocol slashes.
	if idx := strings.Index(s, " //"); idx > 0 {
		s = strings.TrimSpace(s[:idx])
	}
	return s
}
