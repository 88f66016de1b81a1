// Package web serves the REST API and the chat WebSocket.
package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jedisos/jedisos/internal/audit"
	"github.com/jedisos/jedisos/internal/config"
	"github.com/jedisos/jedisos/internal/gateway"
	"github.com/jedisos/jedisos/internal/mcp"
	"github.com/jedisos/jedisos/internal/packages"
	"github.com/jedisos/jedisos/internal/policy"
	"github.com/jedisos/jedisos/internal/tools"
)

// Config carries the server's collaborators.
type Config struct {
	Engine   *gateway.Engine
	Runtime  *config.Config
	Registry *tools.Registry
	Store    *packages.Store
	MCP      *mcp.Manager
	Auditor  *audit.Logger
	PDP      *policy.PDP
	Logger   *slog.Logger
}

// Server is the HTTP surface: health, setup, settings, package and server
// management, monitoring, metrics, and the chat WebSocket.
type Server struct {
	mux      *http.ServeMux
	engine   *gateway.Engine
	runtime  *config.Config
	registry *tools.Registry
	store    *packages.Store
	mcp      *mcp.Manager
	auditor  *audit.Logger
	pdp      *policy.PDP
	logger   *slog.Logger
	started  time.Time
}

// New builds the server and wires its routes.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mux:      http.NewServeMux(),
		engine:   cfg.Engine,
		runtime:  cfg.Runtime,
		registry: cfg.Registry,
		store:    cfg.Store,
		mcp:      cfg.MCP,
		auditor:  cfg.Auditor,
		pdp:      cfg.PDP,
		logger:   logger.With("component", "web"),
		started:  time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/setup/status", s.handleSetupStatus)
	s.mux.HandleFunc("POST /api/setup/complete", s.handleSetupComplete)

	s.mux.HandleFunc("GET /api/settings/env", s.handleEnvGet)
	s.mux.HandleFunc("PUT /api/settings/env", s.handleEnvPut)
	s.mux.HandleFunc("GET /api/settings/llm", s.handleLLMGet)
	s.mux.HandleFunc("PUT /api/settings/llm", s.handleLLMPut)
	s.mux.HandleFunc("GET /api/settings/security", s.handleSecurityGet)

	s.mux.HandleFunc("GET /api/mcp/servers", s.handleMCPList)
	s.mux.HandleFunc("POST /api/mcp/servers", s.handleMCPAdd)
	s.mux.HandleFunc("DELETE /api/mcp/servers/{name}", s.handleMCPRemove)
	s.mux.HandleFunc("PUT /api/mcp/servers/{name}/toggle", s.handleMCPToggle)

	s.mux.HandleFunc("GET /api/skills", s.handleSkillsList)
	s.mux.HandleFunc("DELETE /api/skills/{name}", s.handleSkillRemove)
	s.mux.HandleFunc("PUT /api/skills/{name}/toggle", s.handleSkillToggle)

	s.mux.HandleFunc("GET /api/monitoring/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/monitoring/audit", s.handleAudit)
	s.mux.HandleFunc("GET /api/monitoring/audit/denied", s.handleAuditDenied)
	s.mux.HandleFunc("GET /api/monitoring/policy", s.handlePolicy)

	s.mux.HandleFunc("/api/chat/ws", s.handleChatWS)

	s.mux.Handle("GET /metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed JSON body: "+err.Error())
		return false
	}
	return true
}
