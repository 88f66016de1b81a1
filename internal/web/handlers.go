package web

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/jedisos/jedisos/internal/audit"
	"github.com/jedisos/jedisos/internal/config"
	"github.com/jedisos/jedisos/internal/mcp"
	"github.com/jedisos/jedisos/internal/packages"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"version": "0.1.0",
	})
}

// --- setup ---

func (s *Server) handleSetupStatus(w http.ResponseWriter, r *http.Request) {
	providers := make([]map[string]any, 0, len(s.runtime.LLM.Providers))
	for _, p := range s.runtime.LLM.Providers {
		providers = append(providers, map[string]any{
			"model":   p.Model,
			"key_env": p.APIKeyEnv,
			"key_set": p.APIKeyEnv != "" && os.Getenv(p.APIKeyEnv) != "",
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"first_run": s.runtime.FirstRun,
		"providers": providers,
	})
}

func (s *Server) handleSetupComplete(w http.ResponseWriter, r *http.Request) {
	s.runtime.FirstRun = false
	s.writeJSON(w, http.StatusOK, map[string]any{"first_run": false})
}

// --- settings ---

// handleEnvGet reports which credential variables the configuration names and
// whether each is present, never the values themselves.
func (s *Server) handleEnvGet(w http.ResponseWriter, r *http.Request) {
	names := map[string]bool{}
	for _, p := range s.runtime.LLM.Providers {
		if p.APIKeyEnv != "" {
			names[p.APIKeyEnv] = os.Getenv(p.APIKeyEnv) != ""
		}
	}
	for _, env := range []string{
		s.runtime.Channels.Telegram.TokenEnv,
		s.runtime.Channels.Discord.TokenEnv,
		s.runtime.Channels.Slack.BotTokenEnv,
		s.runtime.Channels.Slack.AppTokenEnv,
	} {
		if env != "" {
			names[env] = os.Getenv(env) != ""
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"env": names})
}

func (s *Server) handleEnvPut(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if !s.readJSON(w, r, &body) {
		return
	}
	for name, value := range body {
		if name == "" {
			s.writeError(w, http.StatusBadRequest, "empty variable name")
			return
		}
		if err := os.Setenv(name, value); err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	s.handleEnvGet(w, r)
}

func (s *Server) handleLLMGet(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"providers": s.runtime.LLM.Providers})
}

// handleLLMPut replaces the provider chain in the running configuration. The
// router is rebuilt from it on the next restart.
func (s *Server) handleLLMPut(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Providers []config.ProviderConfig `json:"providers"`
	}
	if !s.readJSON(w, r, &body) {
		return
	}
	if len(body.Providers) == 0 {
		s.writeError(w, http.StatusBadRequest, "at least one provider is required")
		return
	}
	for i, p := range body.Providers {
		if p.Model == "" {
			s.writeError(w, http.StatusBadRequest, "providers["+strconv.Itoa(i)+"]: model is required")
			return
		}
	}
	s.runtime.LLM.Providers = body.Providers
	s.writeJSON(w, http.StatusOK, map[string]any{"providers": s.runtime.LLM.Providers})
}

func (s *Server) handleSecurityGet(w http.ResponseWriter, r *http.Request) {
	pol := s.pdp.Policy()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"blocked_tools":         pol.BlockedTools,
		"allowed_tools":         pol.AllowedTools,
		"rate_limit_per_minute": pol.MaxRequestsPerMinute,
	})
}

// --- mcp servers ---

func (s *Server) handleMCPList(w http.ResponseWriter, r *http.Request) {
	servers := s.mcp.List()
	if servers == nil {
		servers = []mcp.Server{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"servers": servers})
}

func (s *Server) handleMCPAdd(w http.ResponseWriter, r *http.Request) {
	var srv mcp.Server
	if !s.readJSON(w, r, &srv) {
		return
	}
	if err := s.mcp.Add(r.Context(), srv); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	added, err := s.mcp.Get(srv.Name)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, added)
}

func (s *Server) handleMCPRemove(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.mcp.Remove(name); err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"removed": name})
}

func (s *Server) handleMCPToggle(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if !s.readJSON(w, r, &body) {
		return
	}
	if err := s.mcp.SetEnabled(r.Context(), name, body.Enabled); err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	srv, err := s.mcp.Get(name)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, srv)
}

// --- skills ---

type skillView struct {
	Name        string     `json:"name"`
	Version     string     `json:"version"`
	Description string     `json:"description"`
	Author      string     `json:"author"`
	Tags        []string   `json:"tags,omitempty"`
	Tools       []toolView `json:"tools"`
}

type toolView struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
}

func (s *Server) handleSkillsList(w http.ResponseWriter, r *http.Request) {
	byName := map[string][]toolView{}
	for _, h := range s.registry.List() {
		byName[h.Source] = append(byName[h.Source], toolView{
			Name:        h.Name,
			Description: h.Description,
			Enabled:     h.Enabled,
		})
	}

	skills := []skillView{}
	for _, info := range s.store.Scan() {
		if info.Manifest.Type != packages.TypeSkill {
			continue
		}
		views := byName[info.Manifest.Name]
		if views == nil {
			views = []toolView{}
		}
		skills = append(skills, skillView{
			Name:        info.Manifest.Name,
			Version:     info.Manifest.Version,
			Description: info.Manifest.Description,
			Author:      info.Manifest.Author,
			Tags:        info.Manifest.Tags,
			Tools:       views,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"skills": skills})
}

func (s *Server) handleSkillRemove(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	info, ok := s.store.Get(name)
	if !ok || info.Manifest.Type != packages.TypeSkill {
		s.writeError(w, http.StatusNotFound, "unknown skill: "+name)
		return
	}
	s.registry.UnregisterSource(name)
	if err := s.store.Remove(name); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"removed": name})
}

// handleSkillToggle flips the enabled flag on every tool the skill
// contributed.
func (s *Server) handleSkillToggle(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if !s.readJSON(w, r, &body) {
		return
	}

	var toggled int
	for _, h := range s.registry.List() {
		if h.Source != name {
			continue
		}
		if err := s.registry.SetEnabled(h.Name, body.Enabled); err == nil {
			toggled++
		}
	}
	if toggled == 0 {
		s.writeError(w, http.StatusNotFound, "no tools registered for skill: "+name)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"skill": name, "enabled": body.Enabled, "tools": toggled})
}

// --- monitoring ---

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var skills, servers int
	for _, info := range s.store.Scan() {
		switch info.Manifest.Type {
		case packages.TypeSkill:
			skills++
		case packages.TypeMCPServer:
			servers++
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"uptime":      time.Since(s.started).Round(time.Second).String(),
		"sessions":    s.engine.Sessions().Count(),
		"tools":       len(s.registry.List()),
		"skills":      skills,
		"mcp_servers": servers,
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	s.writeAudit(w, r, s.auditor.Tail)
}

func (s *Server) handleAuditDenied(w http.ResponseWriter, r *http.Request) {
	s.writeAudit(w, r, s.auditor.Denied)
}

func (s *Server) writeAudit(w http.ResponseWriter, r *http.Request, fetch func(int) ([]audit.Record, error)) {
	n := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 1000 {
			s.writeError(w, http.StatusBadRequest, "limit must be 1..1000")
			return
		}
		n = v
	}
	records, err := fetch(n)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	s.handleSecurityGet(w, r)
}

func statusFor(err error) int {
	if errors.Is(err, mcp.ErrUnknownServer) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
