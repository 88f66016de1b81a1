package memory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jedisos/jedisos/pkg/models"
)

func TestBankConvention(t *testing.T) {
	if got := Bank(models.ChannelTelegram, "42"); got != "telegram-42" {
		t.Errorf("bank = %q", got)
	}
}

func TestRecallPostsToReflectEndpoint(t *testing.T) {
	var gotPath, gotMethod string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(Context{Summary: "likes go", Memories: []string{"prefers tabs"}})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	mc, err := c.Recall(context.Background(), "cli-u1", "what do I like")
	if err != nil {
		t.Fatal(err)
	}
	if gotMethod != http.MethodPost || gotPath != "/v1/default/banks/cli-u1/reflect" {
		t.Errorf("recall hit %s %s", gotMethod, gotPath)
	}
	if gotBody["query"] != "what do I like" {
		t.Errorf("query not sent: %v", gotBody)
	}
	if mc.Summary != "likes go" || len(mc.Memories) != 1 {
		t.Errorf("context not decoded: %+v", mc)
	}
}

func TestReflectPostsToSameEndpoint(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	if err := c.Reflect(context.Background(), "cli-u1"); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/v1/default/banks/cli-u1/reflect" {
		t.Errorf("reflect hit %s", gotPath)
	}
}

func TestRetain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/default/banks/b/memories" {
			t.Errorf("retain hit %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(Record{ID: "m1", Content: "fact"})
	}))
	defer srv.Close()

	rec, err := New(srv.URL, time.Second).Retain(context.Background(), "b", "fact", "chat")
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID != "m1" {
		t.Errorf("record not decoded: %+v", rec)
	}
}

func TestAllFailuresWrapErrUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	ctx := context.Background()

	if _, err := c.Recall(ctx, "b", "q"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("recall 500: %v", err)
	}
	if _, err := c.Retain(ctx, "b", "x", ""); !errors.Is(err, ErrUnavailable) {
		t.Errorf("retain 500: %v", err)
	}
	if err := c.Health(ctx); !errors.Is(err, ErrUnavailable) {
		t.Errorf("health 500: %v", err)
	}

	// Connection refused is the same recoverable kind.
	down := New("http://127.0.0.1:1", 200*time.Millisecond)
	if _, err := down.Recall(ctx, "b", "q"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("connection refused: %v", err)
	}
}

func TestEntities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"entities": []Entity{{Name: "Ada", Type: "person"}},
		})
	}))
	defer srv.Close()

	ents, err := New(srv.URL, time.Second).Entities(context.Background(), "b")
	if err != nil {
		t.Fatal(err)
	}
	if len(ents) != 1 || ents[0].Name != "Ada" {
		t.Errorf("entities: %+v", ents)
	}
}
