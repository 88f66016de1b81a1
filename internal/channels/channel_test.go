package channels

import (
	"context"
	"errors"
	"testing"

	"github.com/jedisos/jedisos/pkg/models"
)

func eventStream(events ...models.Event) <-chan models.Event {
	ch := make(chan models.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func TestCollectPrefersDoneText(t *testing.T) {
	got, err := Collect(context.Background(), eventStream(
		models.TokenEvent("hel"),
		models.TokenEvent("lo"),
		models.DoneEvent("hello"),
	))
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestCollectFallsBackToTokens(t *testing.T) {
	got, err := Collect(context.Background(), eventStream(
		models.TokenEvent("hel"),
		models.TokenEvent("lo"),
		models.DoneEvent(""),
	))
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestCollectSurfacesErrors(t *testing.T) {
	_, err := Collect(context.Background(), eventStream(
		models.TokenEvent("par"),
		models.ErrorEvent(errors.New("rate limit")),
	))
	if err == nil || err.Error() != "rate limit" {
		t.Fatalf("err = %v", err)
	}
}

func TestCollectAppendsNotifications(t *testing.T) {
	got, err := Collect(context.Background(), eventStream(
		models.DoneEvent("done"),
		models.NotificationEvent("your tool is ready"),
	))
	if err != nil {
		t.Fatal(err)
	}
	if got != "done\n\nyour tool is ready" {
		t.Fatalf("got %q", got)
	}
}

func TestCollectWithoutTerminalEvent(t *testing.T) {
	_, err := Collect(context.Background(), eventStream(models.TokenEvent("x")))
	if !errors.Is(err, ErrNoResponse) {
		t.Fatalf("err = %v", err)
	}
}

type stubAdapter struct {
	typ      models.ChannelType
	started  bool
	stopped  bool
	startErr error
	notified []string
}

func (s *stubAdapter) Start(ctx context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}
func (s *stubAdapter) Stop(ctx context.Context) error { s.stopped = true; return nil }
func (s *stubAdapter) Type() models.ChannelType       { return s.typ }

func (s *stubAdapter) Notify(ctx context.Context, userID, message string) error {
	s.notified = append(s.notified, userID+": "+message)
	return nil
}

func TestRegistryStartAllRollsBackOnFailure(t *testing.T) {
	ok := &stubAdapter{typ: models.ChannelCLI}
	bad := &stubAdapter{typ: models.ChannelDiscord, startErr: errors.New("no token")}

	r := NewRegistry(nil)
	r.Register(ok)
	r.Register(bad)

	if err := r.StartAll(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	if ok.started && !ok.stopped {
		t.Error("started adapter not stopped after failure")
	}
}

func TestRegistryNotifyFansOut(t *testing.T) {
	a := &stubAdapter{typ: models.ChannelCLI}
	b := &stubAdapter{typ: models.ChannelTelegram}
	r := NewRegistry(nil)
	r.Register(a)
	r.Register(b)

	r.Notify(context.Background(), "alice", "ready")

	for _, s := range []*stubAdapter{a, b} {
		if len(s.notified) != 1 || s.notified[0] != "alice: ready" {
			t.Errorf("adapter %s notifications: %v", s.typ, s.notified)
		}
	}
}
