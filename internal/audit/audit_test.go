package audit

import (
	"fmt"
	"path/filepath"
	"testing"
)

func newNDJSONLogger(t *testing.T) *Logger {
	t.Helper()
	sink, err := NewNDJSONSink(filepath.Join(t.TempDir(), "audit.ndjson"))
	if err != nil {
		t.Fatal(err)
	}
	l := NewLogger(sink, 16, nil)
	t.Cleanup(func() { l.Close() })
	return l
}

func newSQLiteLogger(t *testing.T) *Logger {
	t.Helper()
	sink, err := NewSQLiteSink(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatal(err)
	}
	l := NewLogger(sink, 16, nil)
	t.Cleanup(func() { l.Close() })
	return l
}

func testLoggers(t *testing.T) map[string]*Logger {
	return map[string]*Logger{
		"ndjson": newNDJSONLogger(t),
		"sqlite": newSQLiteLogger(t),
	}
}

func TestSameGoroutineOrderingPreserved(t *testing.T) {
	for name, l := range testLoggers(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 20; i++ {
				l.Log(Record{UserID: "u", Decision: DecisionAllow, Subject: fmt.Sprintf("tool-%02d", i)})
			}
			recs, err := l.Tail(20)
			if err != nil {
				t.Fatal(err)
			}
			if len(recs) != 20 {
				t.Fatalf("got %d records", len(recs))
			}
			// Tail is newest first.
			for i, rec := range recs {
				want := fmt.Sprintf("tool-%02d", 19-i)
				if rec.Subject != want {
					t.Fatalf("position %d: got %s want %s", i, rec.Subject, want)
				}
			}
		})
	}
}

func TestDeniedAndForUserQueries(t *testing.T) {
	for name, l := range testLoggers(t) {
		t.Run(name, func(t *testing.T) {
			l.Log(Record{UserID: "alice", Decision: DecisionAllow, Subject: "message"})
			l.Log(Record{UserID: "alice", Decision: DecisionDeny, Subject: "shell", Reason: "tool is blocked"})
			l.Log(Record{UserID: "bob", Decision: DecisionDeny, Subject: "message", Reason: "rate limit"})

			denied, err := l.Denied(10)
			if err != nil {
				t.Fatal(err)
			}
			if len(denied) != 2 {
				t.Fatalf("denied: %d", len(denied))
			}
			for _, rec := range denied {
				if rec.Decision != DecisionDeny {
					t.Errorf("allow record in denied query: %+v", rec)
				}
			}

			alice, err := l.ForUser("alice", 10)
			if err != nil {
				t.Fatal(err)
			}
			if len(alice) != 2 {
				t.Fatalf("alice records: %d", len(alice))
			}
		})
	}
}

func TestLogFillsIDAndTimestamp(t *testing.T) {
	l := newNDJSONLogger(t)
	l.Log(Record{UserID: "u", Decision: DecisionAllow, Subject: "message"})
	recs, err := l.Tail(1)
	if err != nil || len(recs) != 1 {
		t.Fatalf("tail: %v, %d", err, len(recs))
	}
	if recs[0].ID == "" || recs[0].Timestamp.IsZero() {
		t.Errorf("record missing id or timestamp: %+v", recs[0])
	}
}

func TestTailLimitsToN(t *testing.T) {
	for name, l := range testLoggers(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 10; i++ {
				l.Log(Record{UserID: "u", Decision: DecisionAllow, Subject: "s"})
			}
			recs, err := l.Tail(3)
			if err != nil {
				t.Fatal(err)
			}
			if len(recs) != 3 {
				t.Fatalf("got %d", len(recs))
			}
		})
	}
}
