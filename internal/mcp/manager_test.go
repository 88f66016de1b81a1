package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jedisos/jedisos/internal/packages"
	"github.com/jedisos/jedisos/internal/tools"
)

func newToolServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/tools", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"tools":[
			{"name":"search","description":"web search","input_schema":{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}},
			{"name":"fetch","description":"fetch a url","input_schema":{"type":"object","properties":{"url":{"type":"string"}}}}
		]}`)
	})
	mux.HandleFunc("/invoke", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Tool      string          `json:"tool"`
			Arguments json.RawMessage `json:"arguments"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		switch req.Tool {
		case "search":
			var args struct {
				Query string `json:"query"`
			}
			json.Unmarshal(req.Arguments, &args)
			fmt.Fprintf(w, `{"result":"results for %s"}`, args.Query)
		default:
			fmt.Fprint(w, `{"error":"no such tool"}`)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newManager(t *testing.T) (*Manager, *tools.Registry) {
	t.Helper()
	store, err := packages.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	registry := tools.NewRegistry()
	return NewManager(store, registry, 5*time.Second, nil), registry
}

func TestAddEnabledServerRegistersTools(t *testing.T) {
	srv := newToolServer(t)
	m, registry := newManager(t)

	if err := m.Add(context.Background(), Server{Name: "websearch", URL: srv.URL, Enabled: true}); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"mcp:websearch:search", "mcp:websearch:fetch"} {
		if _, err := registry.Get(name); err != nil {
			t.Errorf("tool %s not registered: %v", name, err)
		}
	}

	// Invocation round-trips through the server.
	snap := registry.Snapshot()
	out, err := snap.Execute(context.Background(), "mcp:websearch:search", []byte(`{"query":"golang"}`))
	if err != nil {
		t.Fatal(err)
	}
	if out != "results for golang" {
		t.Fatalf("result: %q", out)
	}
}

func TestServerPersistsAcrossManagers(t *testing.T) {
	srv := newToolServer(t)
	store, err := packages.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}

	m1 := NewManager(store, tools.NewRegistry(), 5*time.Second, nil)
	if err := m1.Add(context.Background(), Server{Name: "websearch", URL: srv.URL, Enabled: true}); err != nil {
		t.Fatal(err)
	}

	// A fresh manager over the same store sees the server and reconnects.
	reg2 := tools.NewRegistry()
	m2 := NewManager(store, reg2, 5*time.Second, nil)
	servers := m2.List()
	if len(servers) != 1 || servers[0].Name != "websearch" || !servers[0].Enabled {
		t.Fatalf("servers: %+v", servers)
	}
	m2.ConnectAll(context.Background())
	if _, err := reg2.Get("mcp:websearch:search"); err != nil {
		t.Fatalf("tools not restored: %v", err)
	}
}

func TestDisableDropsTools(t *testing.T) {
	srv := newToolServer(t)
	m, registry := newManager(t)
	if err := m.Add(context.Background(), Server{Name: "websearch", URL: srv.URL, Enabled: true}); err != nil {
		t.Fatal(err)
	}

	if err := m.SetEnabled(context.Background(), "websearch", false); err != nil {
		t.Fatal(err)
	}
	if _, err := registry.Get("mcp:websearch:search"); err == nil {
		t.Error("disabled server's tool still registered")
	}

	s, err := m.Get("websearch")
	if err != nil {
		t.Fatal(err)
	}
	if s.Enabled {
		t.Error("server still marked enabled")
	}

	// Re-enabling reconnects.
	if err := m.SetEnabled(context.Background(), "websearch", true); err != nil {
		t.Fatal(err)
	}
	if _, err := registry.Get("mcp:websearch:search"); err != nil {
		t.Errorf("tool not restored: %v", err)
	}
}

func TestRemoveDropsToolsAndPackage(t *testing.T) {
	srv := newToolServer(t)
	m, registry := newManager(t)
	if err := m.Add(context.Background(), Server{Name: "websearch", URL: srv.URL, Enabled: true}); err != nil {
		t.Fatal(err)
	}

	if err := m.Remove("websearch"); err != nil {
		t.Fatal(err)
	}
	if _, err := registry.Get("mcp:websearch:search"); err == nil {
		t.Error("removed server's tool still registered")
	}
	if _, err := m.Get("websearch"); err == nil {
		t.Error("removed server still readable")
	}
}

func TestUnreachableServerAddedDisabled(t *testing.T) {
	m, registry := newManager(t)

	// Port is valid syntax but nothing listens there.
	err := m.Add(context.Background(), Server{Name: "ghost", URL: "http://127.0.0.1:1", Enabled: true})
	if err != nil {
		t.Fatal(err)
	}
	s, err := m.Get("ghost")
	if err != nil {
		t.Fatal(err)
	}
	if s.Enabled {
		t.Error("unreachable server left enabled")
	}
	if len(registry.List()) != 0 {
		t.Errorf("tools registered for unreachable server: %v", registry.List())
	}
}

func TestInvocationErrorSurfaces(t *testing.T) {
	srv := newToolServer(t)
	m, registry := newManager(t)
	if err := m.Add(context.Background(), Server{Name: "websearch", URL: srv.URL, Enabled: true}); err != nil {
		t.Fatal(err)
	}

	snap := registry.Snapshot()
	_, err := snap.Execute(context.Background(), "mcp:websearch:fetch", []byte(`{"url":"https://example.com"}`))
	if err == nil || !strings.Contains(err.Error(), "no such tool") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidateRejectsBadServers(t *testing.T) {
	m, _ := newManager(t)
	if err := m.Add(context.Background(), Server{Name: "", URL: "http://x"}); err == nil {
		t.Error("empty name accepted")
	}
	if err := m.Add(context.Background(), Server{Name: "x", URL: "ftp://files"}); err == nil {
		t.Error("non-http url accepted")
	}
}
