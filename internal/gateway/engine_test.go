package gateway

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jedisos/jedisos/internal/agent"
	"github.com/jedisos/jedisos/internal/audit"
	"github.com/jedisos/jedisos/internal/identity"
	"github.com/jedisos/jedisos/internal/policy"
	"github.com/jedisos/jedisos/internal/session"
	"github.com/jedisos/jedisos/internal/tools"
	"github.com/jedisos/jedisos/pkg/models"
)

// cannedProvider streams a fixed text response for every request.
type cannedProvider struct {
	mu    sync.Mutex
	text  string
	calls int
}

func (p *cannedProvider) Name() string  { return "canned" }
func (p *cannedProvider) Model() string { return "canned-model" }

func (p *cannedProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	ch := make(chan *agent.CompletionChunk, 2)
	ch <- &agent.CompletionChunk{Text: p.text}
	ch <- &agent.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func newEngine(t *testing.T, pol policy.Policy) (*Engine, *audit.Logger, *cannedProvider) {
	t.Helper()
	sink, err := audit.NewNDJSONSink(filepath.Join(t.TempDir(), "audit.ndjson"))
	if err != nil {
		t.Fatal(err)
	}
	auditor := audit.NewLogger(sink, 16, nil)
	t.Cleanup(func() { auditor.Close() })

	provider := &cannedProvider{text: "hello there"}
	pdp := policy.New(pol, auditor)
	a := agent.New(agent.Config{
		Router:   agent.NewRouter([]agent.Candidate{{Provider: provider}}, nil),
		Registry: tools.NewRegistry(),
		PDP:      pdp,
		Identity: &identity.Identity{},
	})
	eng := New(Config{
		Agent:    a,
		PDP:      pdp,
		Sessions: session.NewManager(0, nil),
	})
	return eng, auditor, provider
}

func collect(t *testing.T, events <-chan models.Event) []models.Event {
	t.Helper()
	var out []models.Event
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("event stream did not close")
		}
	}
}

func TestSubmitCompletesEnvelope(t *testing.T) {
	eng, auditor, _ := newEngine(t, policy.Policy{})
	env := models.NewEnvelope(models.ChannelCLI, "alice", "hi")

	events, err := eng.Submit(context.Background(), env)
	if err != nil {
		t.Fatal(err)
	}
	got := collect(t, events)

	last := got[len(got)-1]
	if last.Type != models.EventDone || last.Text != "hello there" {
		t.Fatalf("last event: %+v", last)
	}
	if env.State() != models.StateCompleted {
		t.Fatalf("state = %s", env.State())
	}

	// The admission decision is on the audit log.
	recs, err := auditor.ForUser("alice", 10)
	if err != nil {
		t.Fatal(err)
	}
	var admitted bool
	for _, rec := range recs {
		if rec.Subject == audit.SubjectMessage && rec.Decision == audit.DecisionAllow {
			admitted = true
		}
	}
	if !admitted {
		t.Error("admission not audited")
	}
}

func TestSubmitDeniedByRateLimit(t *testing.T) {
	eng, _, provider := newEngine(t, policy.Policy{MaxRequestsPerMinute: 1})

	first := models.NewEnvelope(models.ChannelAPI, "alice", "one")
	events, err := eng.Submit(context.Background(), first)
	if err != nil {
		t.Fatal(err)
	}
	collect(t, events)

	second := models.NewEnvelope(models.ChannelAPI, "alice", "two")
	events, err = eng.Submit(context.Background(), second)
	if err != nil {
		t.Fatal(err)
	}
	got := collect(t, events)

	if len(got) != 1 || got[0].Type != models.EventError || !strings.Contains(got[0].Err, "rate limit") {
		t.Fatalf("events: %+v", got)
	}
	if second.State() != models.StateDenied {
		t.Fatalf("state = %s", second.State())
	}
	if second.Error == "" || second.Response != "" {
		t.Errorf("denied envelope fields: error=%q response=%q", second.Error, second.Response)
	}
	// The agent never ran for the denied envelope.
	if provider.calls != 1 {
		t.Errorf("provider calls = %d", provider.calls)
	}
}

func TestSubmitRejectsMalformedEnvelopes(t *testing.T) {
	eng, _, _ := newEngine(t, policy.Policy{})

	if _, err := eng.Submit(context.Background(), nil); err == nil {
		t.Error("nil envelope accepted")
	}
	bad := models.NewEnvelope(models.ChannelType("carrier-pigeon"), "alice", "hi")
	if _, err := eng.Submit(context.Background(), bad); err == nil {
		t.Error("unknown channel accepted")
	}
	noUser := models.NewEnvelope(models.ChannelCLI, "", "hi")
	if _, err := eng.Submit(context.Background(), noUser); err == nil {
		t.Error("missing user accepted")
	}
}

func TestNotifyReachesLiveSessions(t *testing.T) {
	eng, _, _ := newEngine(t, policy.Policy{})
	s := eng.Sessions().Open("alice", models.ChannelWeb)
	defer eng.Sessions().Close(s)

	eng.Notify("alice", "your tool is ready")

	select {
	case ev := <-s.Events():
		if ev.Type != models.EventNotification || ev.Text != "your tool is ready" {
			t.Fatalf("event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
}
