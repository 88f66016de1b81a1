package packages

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jedisos/jedisos/internal/tools"
)

// Info is one scanned package.
type Info struct {
	Manifest Manifest `json:"manifest"`
	Dir      string   `json:"dir"`
}

// Store is the package manager over one typed root. Install and remove are
// serialized per package name; scans read whatever is live.
type Store struct {
	root   string
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore builds a store rooted at root, creating the typed layout.
func NewStore(root string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, sub := range TypeDirs() {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create package root: %w", err)
		}
	}
	return &Store{
		root:   root,
		logger: logger.With("component", "packages"),
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// Dir computes the live directory for a package of the given type and name.
func (s *Store) Dir(t Type, name string) string {
	return filepath.Join(s.root, typeDirs[t], name)
}

// Scan walks every typed subdirectory and returns the parsable packages
// sorted by name. Unparsable manifests are skipped with a warning, never an
// error: one broken package must not hide the rest.
func (s *Store) Scan() []Info {
	var out []Info
	for _, sub := range TypeDirs() {
		entries, err := os.ReadDir(filepath.Join(s.root, sub))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			dir := filepath.Join(s.root, sub, e.Name())
			m, err := ReadManifest(dir)
			if err != nil {
				s.logger.Warn("skipping package with unreadable manifest", "dir", dir, "error", err)
				continue
			}
			out = append(out, Info{Manifest: *m, Dir: dir})
		}
	}
	// Generated skills live one level deeper under skills/generated.
	genEntries, err := os.ReadDir(filepath.Join(s.root, "skills", GeneratedDir))
	if err == nil {
		for _, e := range genEntries {
			if !e.IsDir() {
				continue
			}
			dir := filepath.Join(s.root, "skills", GeneratedDir, e.Name())
			m, err := ReadManifest(dir)
			if err != nil {
				s.logger.Warn("skipping package with unreadable manifest", "dir", dir, "error", err)
				continue
			}
			out = append(out, Info{Manifest: *m, Dir: dir})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Manifest.Name < out[j].Manifest.Name })
	return out
}

// GeneratedDir is the subdirectory of skills/ where the forge promotes its
// output.
const GeneratedDir = "generated"

// Search filters scan results by substring match on name, description, and
// tags, optionally narrowed to one type.
func (s *Store) Search(query string, t Type) []Info {
	query = strings.ToLower(query)
	var out []Info
	for _, info := range s.Scan() {
		if t != "" && info.Manifest.Type != t {
			continue
		}
		if query == "" || matches(&info.Manifest, query) {
			out = append(out, info)
		}
	}
	return out
}

func matches(m *Manifest, query string) bool {
	if strings.Contains(strings.ToLower(m.Name), query) ||
		strings.Contains(strings.ToLower(m.Description), query) {
		return true
	}
	for _, tag := range m.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			return true
		}
	}
	return false
}

// Get finds a package by name.
func (s *Store) Get(name string) (*Info, bool) {
	for _, info := range s.Scan() {
		if info.Manifest.Name == name {
			return &info, true
		}
	}
	return nil, false
}

// ErrExists is wrapped into install failures on an existing target without
// force.
var ErrExists = fmt.Errorf("package already installed")

// Install stages sourceDir's contents next to the target and atomically
// swaps them in. On any failure the previous target is restored (or, for a
// fresh install, removed) so the tree is never left half-written.
func (s *Store) Install(sourceDir string, force bool) (*Info, error) {
	m, err := ReadManifest(sourceDir)
	if err != nil {
		return nil, err
	}
	if problems := m.Validate(); len(problems) > 0 {
		return nil, fmt.Errorf("invalid manifest: %s", strings.Join(problems, "; "))
	}

	unlock := s.lock(m.Name)
	defer unlock()

	target := s.Dir(m.Type, m.Name)
	if _, err := os.Stat(target); err == nil && !force {
		return nil, fmt.Errorf("%w: %s", ErrExists, m.Name)
	}

	stage, err := os.MkdirTemp(s.root, ".install-")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(stage)

	stagedPkg := filepath.Join(stage, m.Name)
	if err := copyTree(sourceDir, stagedPkg); err != nil {
		return nil, fmt.Errorf("stage package: %w", err)
	}

	backup, hadExisting, err := stageSwap(stagedPkg, target)
	if err != nil {
		return nil, err
	}
	if backup != "" {
		if err := os.RemoveAll(backup); err != nil {
			s.logger.Warn("could not remove install backup", "path", backup, "error", err)
		}
	}

	s.logger.Info("package installed", "name", m.Name, "version", m.Version, "type", string(m.Type), "replaced", hadExisting)
	return &Info{Manifest: *m, Dir: target}, nil
}

// Remove deletes a package's tree. Missing packages fail.
func (s *Store) Remove(name string) error {
	info, ok := s.Get(name)
	if !ok {
		return fmt.Errorf("package not found: %s", name)
	}

	unlock := s.lock(name)
	defer unlock()

	if err := os.RemoveAll(info.Dir); err != nil {
		return fmt.Errorf("remove package %s: %w", name, err)
	}
	s.logger.Info("package removed", "name", name)
	return nil
}

// PromoteGenerated atomically moves a forge scratch directory under
// skills/generated/<name>, replacing any previous generation.
func (s *Store) PromoteGenerated(scratchDir, name string) (string, error) {
	unlock := s.lock(name)
	defer unlock()

	parent := filepath.Join(s.root, "skills", GeneratedDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("create generated dir: %w", err)
	}
	target := filepath.Join(parent, name)

	backup, _, err := stageSwap(scratchDir, target)
	if err != nil {
		return "", err
	}
	if backup != "" {
		if err := os.RemoveAll(backup); err != nil {
			s.logger.Warn("could not remove generation backup", "path", backup, "error", err)
		}
	}
	return target, nil
}

// ValidationReport is the per-check result of validating a package dir.
type ValidationReport struct {
	Dir      string   `json:"dir"`
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems,omitempty"`
}

// Validate runs the declarative checks on a package directory: manifest
// presence and content, plus the code artifact for skills.
func Validate(dir string) *ValidationReport {
	report := &ValidationReport{Dir: dir}

	m, err := ReadManifest(dir)
	if err != nil {
		report.Problems = append(report.Problems, err.Error())
		return report
	}
	report.Problems = append(report.Problems, m.Validate()...)

	if m.Type == TypeSkill {
		artifact := filepath.Join(dir, tools.SkillFilename)
		if _, err := os.Stat(artifact); err != nil {
			report.Problems = append(report.Problems, fmt.Sprintf("skill package missing %s", tools.SkillFilename))
		} else if code, err := os.ReadFile(artifact); err == nil {
			if decls, perr := tools.ParseSkillSource(string(code)); perr != nil {
				report.Problems = append(report.Problems, perr.Error())
			} else if len(decls) == 0 {
				report.Problems = append(report.Problems, "skill declares no tools")
			}
		}
	}

	report.Valid = len(report.Problems) == 0
	return report
}

// lock serializes mutations per package name.
func (s *Store) lock(name string) func() {
	s.mu.Lock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// stageSwap backs up the live directory by rename, activates the staged one,
// and rolls the backup in again if activation fails.
func stageSwap(stagedDir, liveDir string) (string, bool, error) {
	info, err := os.Stat(liveDir)
	hasLive := false
	if err == nil {
		if !info.IsDir() {
			return "", true, fmt.Errorf("live path is not a directory: %s", liveDir)
		}
		hasLive = true
	} else if !os.IsNotExist(err) {
		return "", false, fmt.Errorf("stat live path: %w", err)
	}

	var backup string
	if hasLive {
		backup = fmt.Sprintf("%s.bak-%s", liveDir, time.Now().Format("20060102-150405.000"))
		if err := os.Rename(liveDir, backup); err != nil {
			return "", true, fmt.Errorf("backup existing package: %w", err)
		}
	}

	if err := os.Rename(stagedDir, liveDir); err != nil {
		if hasLive {
			if rbErr := os.Rename(backup, liveDir); rbErr != nil {
				return backup, hasLive, fmt.Errorf("activate package failed: %w; rollback failed: %v", err, rbErr)
			}
		}
		return "", hasLive, fmt.Errorf("activate package failed: %w", err)
	}
	return backup, hasLive, nil
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode().Perm())
	})
}
