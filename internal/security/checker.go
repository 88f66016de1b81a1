// Package security vets generated and installed skill code before any
// handle is registered. The checks are textual static analysis on the skill
// source; nothing here ever executes the code under review.
package security

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jedisos/jedisos/internal/tools"
)

// Severity grades a finding.
type Severity string

const (
	SeverityWarn  Severity = "warn"
	SeverityFatal Severity = "fatal"
)

// Check names the individual analyses.
type Check string

const (
	CheckSyntax    Check = "syntax"
	CheckForbidden Check = "forbidden_patterns"
	CheckImports   Check = "import_allowlist"
	CheckTypeHints Check = "type_hints"
	CheckDecorator Check = "decorator_presence"
)

// Finding is one failed observation from a check.
type Finding struct {
	Check    Check    `json:"check"`
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail"`
}

// Report is the result of checking one code artifact.
type Report struct {
	Package  string    `json:"package"`
	Pass     bool      `json:"pass"`
	Findings []Finding `json:"findings"`
}

func (r *Report) add(check Check, sev Severity, detail string) {
	r.Findings = append(r.Findings, Finding{Check: check, Severity: sev, Detail: detail})
}

// String renders the report for forge feedback prompts and CLI output.
func (r *Report) String() string {
	var b strings.Builder
	if r.Pass {
		fmt.Fprintf(&b, "package %s: pass", r.Package)
	} else {
		fmt.Fprintf(&b, "package %s: FAIL", r.Package)
	}
	for _, f := range r.Findings {
		fmt.Fprintf(&b, "\n  [%s] %s: %s", f.Severity, f.Check, f.Detail)
	}
	return b.String()
}

// defaultForbidden are source patterns that always disqualify skill code:
// process execution, dynamic evaluation, filesystem escape, raw sockets,
// C bindings, and internal-network access.
var defaultForbidden = []string{
	"os.system",
	"subprocess.",
	"eval(",
	"exec(",
	"__import__(",
	"/etc/",
	"shutil.rmtree",
	"socket.",
	"ctypes.",
	"localhost",
	"127.0.0.1",
}

// defaultAllowedImports is the import allow-list: HTTP clients, the standard
// data/time/text helpers, the validation library, and the runtime's own
// decorator module.
var defaultAllowedImports = []string{
	"requests",
	"httpx",
	"json",
	"re",
	"datetime",
	"pathlib",
	"typing",
	"math",
	"pydantic",
	"jedisos",
}

// Checker runs the admission checks.
type Checker struct {
	// Strict promotes missing type hints from warning to fatal.
	Strict bool
	// Forbidden and AllowedImports default to the shipped lists when nil.
	Forbidden      []string
	AllowedImports []string
}

var (
	importRe     = regexp.MustCompile(`(?m)^\s*import\s+([A-Za-z_][A-Za-z0-9_.]*)`)
	fromImportRe = regexp.MustCompile(`(?m)^\s*from\s+([A-Za-z_][A-Za-z0-9_.]*)\s+import\b`)
	defLineRe    = regexp.MustCompile(`(?m)^\s*def\s+[A-Za-z_][A-Za-z0-9_]*\s*\(`)
)

// Check analyzes code and returns the per-check findings. Pass is true iff
// no fatal finding was produced.
func (c *Checker) Check(code, pkgName string) *Report {
	report := &Report{Package: pkgName}

	c.checkSyntax(code, report)
	c.checkForbidden(code, report)
	c.checkImports(code, report)
	c.checkDecorated(code, report)

	report.Pass = true
	for _, f := range report.Findings {
		if f.Severity == SeverityFatal {
			report.Pass = false
			break
		}
	}
	return report
}

// checkSyntax is a structural sanity pass: bracket balance and well-formed
// tool declarations. A full grammar belongs to the interpreter; the goal
// here is rejecting artifacts the loader cannot even parse.
func (c *Checker) checkSyntax(code string, report *Report) {
	if strings.TrimSpace(code) == "" {
		report.add(CheckSyntax, SeverityFatal, "empty code artifact")
		return
	}
	if opens, closes := bracketBalance(code); opens != closes {
		report.add(CheckSyntax, SeverityFatal, fmt.Sprintf("unbalanced brackets (%d open, %d close)", opens, closes))
		return
	}
	if _, err := tools.ParseSkillSource(code); err != nil {
		report.add(CheckSyntax, SeverityFatal, err.Error())
	}
}

func (c *Checker) checkForbidden(code string, report *Report) {
	patterns := c.Forbidden
	if patterns == nil {
		patterns = defaultForbidden
	}
	for _, p := range patterns {
		if strings.Contains(code, p) {
			report.add(CheckForbidden, SeverityFatal, fmt.Sprintf("forbidden pattern %q", p))
		}
	}
}

func (c *Checker) checkImports(code string, report *Report) {
	allowed := c.AllowedImports
	if allowed == nil {
		allowed = defaultAllowedImports
	}
	allowSet := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		allowSet[a] = true
	}

	seen := map[string]bool{}
	for _, re := range []*regexp.Regexp{importRe, fromImportRe} {
		for _, m := range re.FindAllStringSubmatch(code, -1) {
			top := strings.SplitN(m[1], ".", 2)[0]
			if seen[top] {
				continue
			}
			seen[top] = true
			if !allowSet[top] {
				report.add(CheckImports, SeverityFatal, fmt.Sprintf("import %q is not on the allow list", top))
			}
		}
	}
}

func (c *Checker) checkDecorated(code string, report *Report) {
	decls, err := tools.ParseSkillSource(code)
	if err != nil {
		// Already reported by the syntax check.
		return
	}
	if len(decls) == 0 {
		if defLineRe.MatchString(code) {
			report.add(CheckDecorator, SeverityFatal, "no tool-decorated callable found")
		} else {
			report.add(CheckDecorator, SeverityFatal, "no callables declared")
		}
		return
	}

	hintSeverity := SeverityWarn
	if c.Strict {
		hintSeverity = SeverityFatal
	}
	for _, d := range decls {
		for _, p := range d.Params {
			if strings.TrimSpace(p.Type) == "" || !declaresAnnotation(code, d.Name, p.Name) {
				report.add(CheckTypeHints, hintSeverity, fmt.Sprintf("tool %s: parameter %q lacks a type annotation", d.Name, p.Name))
			}
		}
		if !declaresReturn(code, d.Name) {
			report.add(CheckTypeHints, hintSeverity, fmt.Sprintf("tool %s lacks a return annotation", d.Name))
		}
	}
}

func declaresAnnotation(code, fn, param string) bool {
	re := regexp.MustCompile(`def\s+` + regexp.QuoteMeta(fn) + `\s*\(([^)]*)\)`)
	m := re.FindStringSubmatch(code)
	if m == nil {
		return false
	}
	for _, part := range strings.Split(m[1], ",") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, param) {
			rest := strings.TrimPrefix(part, param)
			return strings.HasPrefix(strings.TrimSpace(rest), ":")
		}
	}
	return false
}

func declaresReturn(code, fn string) bool {
	re := regexp.MustCompile(`def\s+` + regexp.QuoteMeta(fn) + `\s*\([^)]*\)\s*->`)
	return re.MatchString(code)
}

func bracketBalance(code string) (opens, closes int) {
	for _, r := range code {
		switch r {
		case '(', '[', '{':
			opens++
		case ')', ']', '}':
			closes++
		}
	}
	return opens, closes
}
