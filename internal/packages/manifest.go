// Package packages manages the on-disk artifact store: a typed root of
// skills, mcp-servers, prompts, workflows, identities, and bundles, each a
// directory with a jedisos-package.yaml manifest.
package packages

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// ManifestFilename is the required metadata file in every package.
const ManifestFilename = "jedisos-package.yaml"

// Type is a package category; each maps to one typed subdirectory.
type Type string

const (
	TypeSkill     Type = "skill"
	TypeMCPServer Type = "mcp-server"
	TypePrompt    Type = "prompt"
	TypeWorkflow  Type = "workflow"
	TypeIdentity  Type = "identity"
	TypeBundle    Type = "bundle"
)

// typeDirs maps package types to their subdirectory under the root.
var typeDirs = map[Type]string{
	TypeSkill:     "skills",
	TypeMCPServer: "mcp-servers",
	TypePrompt:    "prompts",
	TypeWorkflow:  "workflows",
	TypeIdentity:  "identities",
	TypeBundle:    "bundles",
}

// TypeDirs lists the typed subdirectories in a stable order.
func TypeDirs() []string {
	return []string{"skills", "mcp-servers", "prompts", "workflows", "identities", "bundles"}
}

// allowedLicenses is the closed set a manifest may declare.
var allowedLicenses = map[string]bool{
	"MIT":          true,
	"Apache-2.0":   true,
	"BSD-3-Clause": true,
}

// semverRe accepts MAJOR.MINOR.PATCH with an optional pre-release tag.
var semverRe = regexp.MustCompile(`^\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?$`)

// nameRe keeps package names usable as directory names and tool prefixes.
var nameRe = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Manifest is the parsed jedisos-package.yaml.
type Manifest struct {
	Name         string   `yaml:"name"`
	Version      string   `yaml:"version"`
	Description  string   `yaml:"description"`
	Type         Type     `yaml:"type"`
	License      string   `yaml:"license"`
	Author       string   `yaml:"author"`
	Tags         []string `yaml:"tags,omitempty"`
	Dependencies []string `yaml:"dependencies,omitempty"`
}

// ReadManifest loads and parses the manifest inside dir.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFilename))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// Write renders the manifest into dir.
func (m *Manifest) Write(dir string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, ManifestFilename), data, 0o644)
}

// Validate checks the manifest's declarative constraints.
func (m *Manifest) Validate() []string {
	var problems []string
	if m.Name == "" {
		problems = append(problems, "name is required")
	} else if !nameRe.MatchString(m.Name) {
		problems = append(problems, fmt.Sprintf("name %q must be lowercase alphanumerics and hyphens", m.Name))
	}
	if m.Version == "" {
		problems = append(problems, "version is required")
	} else if !semverRe.MatchString(m.Version) {
		problems = append(problems, fmt.Sprintf("version %q is not semver", m.Version))
	}
	if m.Description == "" {
		problems = append(problems, "description is required")
	}
	if _, ok := typeDirs[m.Type]; !ok {
		problems = append(problems, fmt.Sprintf("type %q is not a known package type", m.Type))
	}
	if !allowedLicenses[m.License] {
		problems = append(problems, fmt.Sprintf("license %q is not in the allowed set (MIT, Apache-2.0, BSD-3-Clause)", m.License))
	}
	if m.Author == "" {
		problems = append(problems, "author is required")
	}
	return problems
}
