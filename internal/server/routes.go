package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// maxRequestSize caps synchronous request bodies.
const maxRequestSize = 4 << 20 // 4MB

// setupRoutes wires the transport adapters and operational endpoints.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/rpc", s.handleSync)
	mux.HandleFunc("/ws", s.handleStream)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/diagnostics", s.handleDiagnostics)
	mux.HandleFunc("/api/refresh", s.handleRefresh)

	return mux
}

// handleSync is the synchronous transport adapter: one request body in, one
// response body out, connection closed.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	resp := s.dispatcher.Dispatch(r.Context(), body)

	w.Header().Set("Content-Type", "application/json")
	w.Write(resp)
}

// handleHealth is the liveness endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// diagnosticsPayload is the operational view of the registries. It exposes
// the discovered/registered/skipped tool counts so the duplicate handling
// stays externally observable.
type diagnosticsPayload struct {
	Tools struct {
		Discovered int            `json:"discovered"`
		Registered int            `json:"registered"`
		Skipped    int            `json:"skipped"`
		Categories map[string]int `json:"categories"`
	} `json:"tools"`
	Resources         int `json:"resources"`
	ResourceTemplates int `json:"resource_templates"`
	Prompts           int `json:"prompts"`
	CacheEntries      int `json:"cache_entries"`
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	tools := s.dispatcher.Tools()
	stats := tools.Stats()

	var payload diagnosticsPayload
	payload.Tools.Discovered = stats.Discovered
	payload.Tools.Registered = stats.Registered
	payload.Tools.Skipped = stats.Skipped
	payload.Tools.Categories = tools.Categories()
	payload.Resources = len(s.dispatcher.Resources().List())
	payload.ResourceTemplates = len(s.dispatcher.Resources().ListTemplates())
	payload.Prompts = len(s.dispatcher.Prompts().List())
	if s.cache != nil {
		payload.CacheEntries = s.cache.Len()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

// handleRefresh re-discovers the backend tool catalog and atomically swaps
// the registry snapshot. The resource cache is cleared so stale reads are
// not served across the refresh boundary.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	registry, err := s.dispatcher.RefreshTools(ctx, s.bridge)
	if err != nil {
		s.logger.Warn().Str("error", err.Error()).Msg("tool refresh failed")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	if s.cache != nil {
		s.cache.Clear()
	}

	stats := registry.Stats()
	s.logger.Info().
		Int("discovered", stats.Discovered).
		Int("registered", stats.Registered).
		Int("skipped", stats.Skipped).
		Msg("tool registry refreshed")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
