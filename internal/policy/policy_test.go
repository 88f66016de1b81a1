package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jedisos/jedisos/internal/audit"
	"github.com/jedisos/jedisos/pkg/models"
)

func newAuditor(t *testing.T) *audit.Logger {
	t.Helper()
	sink, err := audit.NewNDJSONSink(filepath.Join(t.TempDir(), "audit.ndjson"))
	if err != nil {
		t.Fatal(err)
	}
	l := audit.NewLogger(sink, 16, nil)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRuleOrder(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		subject string
		allow   bool
		reason  string
	}{
		{
			name:    "blocked tool denied",
			policy:  Policy{BlockedTools: []string{"shell"}},
			subject: "shell",
			allow:   false,
			reason:  "tool is blocked",
		},
		{
			name:    "blocked wins over allow-list",
			policy:  Policy{BlockedTools: []string{"shell"}, AllowedTools: []string{"shell"}},
			subject: "shell",
			allow:   false,
			reason:  "tool is blocked",
		},
		{
			name:    "off allow-list denied",
			policy:  Policy{AllowedTools: []string{"weather"}},
			subject: "shell",
			allow:   false,
			reason:  "tool not in allow-list",
		},
		{
			name:    "on allow-list allowed",
			policy:  Policy{AllowedTools: []string{"weather"}},
			subject: "weather",
			allow:   true,
		},
		{
			name:    "empty allow-list means open",
			policy:  Policy{},
			subject: "anything",
			allow:   true,
		},
		{
			name:    "message admission ignores tool rules",
			policy:  Policy{AllowedTools: []string{"weather"}, BlockedTools: []string{"message"}},
			subject: audit.SubjectMessage,
			allow:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pdp := New(tt.policy, newAuditor(t))
			dec := pdp.Evaluate(context.Background(), Input{
				UserID:  "alice",
				Channel: models.ChannelCLI,
				Subject: tt.subject,
			})
			if dec.Allow != tt.allow {
				t.Fatalf("allow = %v, want %v (%s)", dec.Allow, tt.allow, dec.Reason)
			}
			if dec.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", dec.Reason, tt.reason)
			}
		})
	}
}

func TestRateLimitSlidingWindow(t *testing.T) {
	pdp := New(Policy{MaxRequestsPerMinute: 3}, newAuditor(t))
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	pdp.now = func() time.Time { return now }

	in := Input{UserID: "alice", Subject: audit.SubjectMessage}
	for i := 0; i < 3; i++ {
		if dec := pdp.Evaluate(context.Background(), in); !dec.Allow {
			t.Fatalf("request %d denied: %s", i, dec.Reason)
		}
	}
	if dec := pdp.Evaluate(context.Background(), in); dec.Allow {
		t.Fatal("fourth request within window allowed")
	} else if dec.Reason != "rate limit" {
		t.Fatalf("reason = %q", dec.Reason)
	}

	// Other users have their own window.
	if dec := pdp.Evaluate(context.Background(), Input{UserID: "bob", Subject: audit.SubjectMessage}); !dec.Allow {
		t.Fatalf("bob denied: %s", dec.Reason)
	}

	// Once the first request ages out, capacity returns.
	now = now.Add(61 * time.Second)
	if dec := pdp.Evaluate(context.Background(), in); !dec.Allow {
		t.Fatalf("request after window denied: %s", dec.Reason)
	}
}

func TestDeniedAttemptDoesNotConsumeCapacity(t *testing.T) {
	pdp := New(Policy{MaxRequestsPerMinute: 2}, newAuditor(t))
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	pdp.now = func() time.Time { return now }

	in := Input{UserID: "alice", Subject: audit.SubjectMessage}
	pdp.Evaluate(context.Background(), in)
	pdp.Evaluate(context.Background(), in)
	for i := 0; i < 5; i++ {
		if dec := pdp.Evaluate(context.Background(), in); dec.Allow {
			t.Fatal("over-limit request allowed")
		}
	}

	now = now.Add(61 * time.Second)
	// Denied attempts above must not have extended the window.
	if dec := pdp.Evaluate(context.Background(), in); !dec.Allow {
		t.Fatalf("denied attempts consumed capacity: %s", dec.Reason)
	}
}

func TestEveryEvaluationAudited(t *testing.T) {
	auditor := newAuditor(t)
	pdp := New(Policy{BlockedTools: []string{"shell"}}, auditor)

	pdp.Evaluate(context.Background(), Input{UserID: "alice", Channel: models.ChannelAPI, Subject: "weather", EnvelopeID: "env-1"})
	pdp.Evaluate(context.Background(), Input{UserID: "alice", Channel: models.ChannelAPI, Subject: "shell", EnvelopeID: "env-1"})

	recs, err := auditor.Tail(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d audit records, want 2", len(recs))
	}
	// Newest first: the deny is recs[0].
	if recs[0].Decision != audit.DecisionDeny || recs[0].Subject != "shell" {
		t.Errorf("deny record wrong: %+v", recs[0])
	}
	if recs[0].Reason != "tool is blocked" {
		t.Errorf("reason = %q", recs[0].Reason)
	}
	if recs[1].Decision != audit.DecisionAllow || recs[1].Subject != "weather" {
		t.Errorf("allow record wrong: %+v", recs[1])
	}
	for _, rec := range recs {
		if rec.EnvelopeID != "env-1" || rec.Channel != "api" {
			t.Errorf("record missing envelope/channel: %+v", rec)
		}
	}
}

func TestSetPolicySwapsRules(t *testing.T) {
	pdp := New(Policy{}, newAuditor(t))
	in := Input{UserID: "alice", Subject: "shell"}

	if dec := pdp.Evaluate(context.Background(), in); !dec.Allow {
		t.Fatalf("open policy denied: %s", dec.Reason)
	}
	pdp.SetPolicy(Policy{BlockedTools: []string{"shell"}})
	if dec := pdp.Evaluate(context.Background(), in); dec.Allow {
		t.Fatal("blocked tool allowed after policy swap")
	}
}

func TestWindowMapPruned(t *testing.T) {
	pdp := New(Policy{MaxRequestsPerMinute: 10}, newAuditor(t))
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	pdp.now = func() time.Time { return now }

	for i := 0; i < maxTrackedUsers+5; i++ {
		pdp.admitWindow(fmt.Sprintf("user-%d", i), 10)
		// Age each entry out immediately so the prune can reclaim it.
		now = now.Add(2 * time.Minute)
	}

	pdp.windowMu.Lock()
	size := len(pdp.windows)
	pdp.windowMu.Unlock()
	if size > maxTrackedUsers {
		t.Fatalf("window map not pruned: %d entries", size)
	}
}
