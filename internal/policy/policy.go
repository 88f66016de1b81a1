// Package policy is the decision point every request and tool dispatch
// passes through before running. Rules short-circuit on the first deny and
// every evaluation lands in the audit log exactly once.
package policy

import (
	"context"
	"sync"
	"time"

	"github.com/jedisos/jedisos/internal/audit"
	"github.com/jedisos/jedisos/pkg/models"
)

// Policy is the rule set. An empty AllowedTools set means "everything
// except BlockedTools".
type Policy struct {
	AllowedTools         []string
	BlockedTools         []string
	MaxRequestsPerMinute int
}

// Input is one evaluation request. Subject is a tool name, or
// audit.SubjectMessage for request-level admission.
type Input struct {
	UserID     string
	Channel    models.ChannelType
	Subject    string
	EnvelopeID string
}

// Decision is the evaluation outcome.
type Decision struct {
	Allow  bool
	Reason string
}

// PDP evaluates policy with a per-user sliding rate-limit window.
type PDP struct {
	mu      sync.RWMutex
	policy  Policy
	allowed map[string]bool
	blocked map[string]bool

	windowMu sync.Mutex
	windows  map[string][]time.Time
	now      func() time.Time

	auditor *audit.Logger
}

const window = time.Minute

// maxTrackedUsers bounds the window map; when exceeded, expired and then
// oldest entries are pruned.
const maxTrackedUsers = 10000

// New builds a PDP. The audit logger is required: an unaudited decision
// point is not acceptable here.
func New(p Policy, auditor *audit.Logger) *PDP {
	pdp := &PDP{
		windows: make(map[string][]time.Time),
		now:     time.Now,
		auditor: auditor,
	}
	pdp.SetPolicy(p)
	return pdp
}

// SetPolicy swaps the rule set at runtime.
func (p *PDP) SetPolicy(pol Policy) {
	allowed := make(map[string]bool, len(pol.AllowedTools))
	for _, t := range pol.AllowedTools {
		allowed[t] = true
	}
	blocked := make(map[string]bool, len(pol.BlockedTools))
	for _, t := range pol.BlockedTools {
		blocked[t] = true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.policy = pol
	p.allowed = allowed
	p.blocked = blocked
}

// Policy returns the active rule set.
func (p *PDP) Policy() Policy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.policy
}

// Evaluate runs the rule chain and audits the outcome.
func (p *PDP) Evaluate(ctx context.Context, in Input) Decision {
	dec := p.decide(in)

	rec := audit.Record{
		EnvelopeID: in.EnvelopeID,
		UserID:     in.UserID,
		Channel:    string(in.Channel),
		Subject:    in.Subject,
		Decision:   audit.DecisionAllow,
		Reason:     dec.Reason,
	}
	if !dec.Allow {
		rec.Decision = audit.DecisionDeny
	}
	p.auditor.Log(rec)

	return dec
}

func (p *PDP) decide(in Input) Decision {
	p.mu.RLock()
	blocked := p.blocked[in.Subject]
	hasAllowList := len(p.allowed) > 0
	onAllowList := p.allowed[in.Subject]
	limit := p.policy.MaxRequestsPerMinute
	p.mu.RUnlock()

	isTool := in.Subject != audit.SubjectMessage

	if isTool && blocked {
		return Decision{Allow: false, Reason: "tool is blocked"}
	}
	if isTool && hasAllowList && !onAllowList {
		return Decision{Allow: false, Reason: "tool not in allow-list"}
	}
	if limit > 0 && !p.admitWindow(in.UserID, limit) {
		return Decision{Allow: false, Reason: "rate limit"}
	}
	return Decision{Allow: true}
}

// admitWindow records the request and reports whether the user stays within
// the trailing one-minute window.
func (p *PDP) admitWindow(userID string, limit int) bool {
	now := p.now()
	cutoff := now.Add(-window)

	p.windowMu.Lock()
	defer p.windowMu.Unlock()

	times := p.windows[userID]
	// Drop expired timestamps in place.
	keep := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}

	if len(keep) >= limit {
		p.windows[userID] = keep
		return false
	}

	p.windows[userID] = append(keep, now)
	if len(p.windows) > maxTrackedUsers {
		p.pruneLocked(cutoff)
	}
	return true
}

func (p *PDP) pruneLocked(cutoff time.Time) {
	for user, times := range p.windows {
		live := false
		for _, t := range times {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(p.windows, user)
		}
	}
}
