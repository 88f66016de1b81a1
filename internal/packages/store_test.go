package packages

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writePackage(t *testing.T, dir string, m Manifest, extra map[string]string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := m.Write(dir); err != nil {
		t.Fatal(err)
	}
	for name, content := range extra {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func skillManifest(name string) Manifest {
	return Manifest{
		Name:        name,
		Version:     "1.0.0",
		Description: "a test skill",
		Type:        TypeSkill,
		License:     "MIT",
		Author:      "tester",
		Tags:        []string{"testing"},
	}
}

const testSkillSource = `@tool
def ping(host: str) -> str:
    """Ping a host."""
    return host
`

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestManifestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Manifest)
		ok     bool
	}{
		{"valid", func(m *Manifest) {}, true},
		{"bad semver", func(m *Manifest) { m.Version = "1.0" }, false},
		{"prerelease semver ok", func(m *Manifest) { m.Version = "1.0.0-rc.1" }, true},
		{"unknown license", func(m *Manifest) { m.License = "GPL-3.0" }, false},
		{"bad name", func(m *Manifest) { m.Name = "Bad_Name" }, false},
		{"unknown type", func(m *Manifest) { m.Type = "gadget" }, false},
		{"missing author", func(m *Manifest) { m.Author = "" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := skillManifest("pkg")
			tt.mutate(&m)
			problems := m.Validate()
			if tt.ok && len(problems) > 0 {
				t.Errorf("unexpected problems: %v", problems)
			}
			if !tt.ok && len(problems) == 0 {
				t.Error("expected validation problems")
			}
		})
	}
}

func TestScanSkipsUnparsableAndSortsByName(t *testing.T) {
	s := newTestStore(t)
	writePackage(t, s.Dir(TypeSkill, "zeta"), skillManifest("zeta"), nil)
	writePackage(t, s.Dir(TypeSkill, "alpha"), skillManifest("alpha"), nil)

	// A directory with a corrupt manifest is skipped, not fatal.
	broken := s.Dir(TypeSkill, "broken")
	os.MkdirAll(broken, 0o755)
	os.WriteFile(filepath.Join(broken, ManifestFilename), []byte("{{{not yaml"), 0o644)

	infos := s.Scan()
	if len(infos) != 2 {
		t.Fatalf("scan returned %d packages", len(infos))
	}
	if infos[0].Manifest.Name != "alpha" || infos[1].Manifest.Name != "zeta" {
		t.Errorf("not sorted: %s, %s", infos[0].Manifest.Name, infos[1].Manifest.Name)
	}
}

func TestSearch(t *testing.T) {
	s := newTestStore(t)
	m := skillManifest("weather")
	m.Description = "fetches forecasts"
	writePackage(t, s.Dir(TypeSkill, "weather"), m, nil)
	p := skillManifest("notes")
	p.Type = TypePrompt
	writePackage(t, s.Dir(TypePrompt, "notes"), p, nil)

	if got := s.Search("forecast", ""); len(got) != 1 || got[0].Manifest.Name != "weather" {
		t.Errorf("description search: %+v", got)
	}
	if got := s.Search("", TypePrompt); len(got) != 1 || got[0].Manifest.Name != "notes" {
		t.Errorf("type filter: %+v", got)
	}
	if got := s.Search("testing", ""); len(got) != 2 {
		t.Errorf("tag search: %+v", got)
	}
}

func TestInstallAndForceReplace(t *testing.T) {
	s := newTestStore(t)
	src := writePackage(t, filepath.Join(t.TempDir(), "weather"), skillManifest("weather"), map[string]string{"skill.py": testSkillSource})

	info, err := s.Install(src, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(info.Dir, "skill.py")); err != nil {
		t.Fatal("artifact not installed")
	}

	// Second install without force fails; with force replaces.
	if _, err := s.Install(src, false); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	m2 := skillManifest("weather")
	m2.Version = "2.0.0"
	src2 := writePackage(t, filepath.Join(t.TempDir(), "weather"), m2, map[string]string{"skill.py": testSkillSource})
	info2, err := s.Install(src2, true)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := ReadManifest(info2.Dir)
	if got.Version != "2.0.0" {
		t.Errorf("force install did not replace: %s", got.Version)
	}
}

func TestInstallRejectsInvalidManifest(t *testing.T) {
	s := newTestStore(t)
	bad := skillManifest("weather")
	bad.License = "WTFPL"
	src := writePackage(t, filepath.Join(t.TempDir(), "weather"), bad, nil)
	if _, err := s.Install(src, false); err == nil {
		t.Fatal("invalid manifest installed")
	}
	if _, ok := s.Get("weather"); ok {
		t.Fatal("failed install left a live package")
	}
}

func TestRemove(t *testing.T) {
	s := newTestStore(t)
	writePackage(t, s.Dir(TypeSkill, "weather"), skillManifest("weather"), nil)
	if err := s.Remove("weather"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Get("weather"); ok {
		t.Fatal("package still present")
	}
	if err := s.Remove("weather"); err == nil {
		t.Fatal("removing a missing package should fail")
	}
}

func TestPromoteGeneratedReplacesPreviousGeneration(t *testing.T) {
	s := newTestStore(t)

	scratch1 := writePackage(t, filepath.Join(t.TempDir(), "conv"), skillManifest("conv"), map[string]string{"skill.py": testSkillSource})
	dir1, err := s.PromoteGenerated(scratch1, "conv")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(filepath.Dir(dir1)) != GeneratedDir {
		t.Errorf("promoted outside generated dir: %s", dir1)
	}

	m2 := skillManifest("conv")
	m2.Version = "1.1.0"
	scratch2 := writePackage(t, filepath.Join(t.TempDir(), "conv"), m2, map[string]string{"skill.py": testSkillSource})
	if _, err := s.PromoteGenerated(scratch2, "conv"); err != nil {
		t.Fatal(err)
	}
	got, _ := ReadManifest(dir1)
	if got.Version != "1.1.0" {
		t.Errorf("generation not replaced: %s", got.Version)
	}

	// Promoted generations are visible to Scan.
	if _, ok := s.Get("conv"); !ok {
		t.Error("generated package invisible to scan")
	}
}

func TestValidateReportsSkillProblems(t *testing.T) {
	dir := writePackage(t, filepath.Join(t.TempDir(), "s"), skillManifest("s"), nil)
	report := Validate(dir)
	if report.Valid {
		t.Fatal("skill without artifact should be invalid")
	}

	dir2 := writePackage(t, filepath.Join(t.TempDir(), "s2"), skillManifest("s2"), map[string]string{"skill.py": testSkillSource})
	if report := Validate(dir2); !report.Valid {
		t.Fatalf("valid skill flagged: %v", report.Problems)
	}
}
