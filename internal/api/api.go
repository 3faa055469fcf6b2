// Package api exposes the sync, index, git and agent operations over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sebastianbartmann/notes-editor-sub001/internal/agent"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/background"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/gateway"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/git"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/tools"
)

// Config holds the request-level policy of the API.
type Config struct {
	// Persons restricts X-Notes-Person. Empty allows any valid name.
	Persons []string
	// Token enables bearer authentication when non-empty.
	Token string
	// GatewayURL is reported by the gateway health endpoint.
	GatewayURL string
}

// Server provides the REST API handlers.
type Server struct {
	agent   *agent.Service
	sync    *background.SyncManager
	index   *background.IndexManager
	git     git.Client
	toolbox *tools.Toolbox
	gateway *gateway.Client
	persons map[string]bool
	token   string
}

// NewServer creates a new API server. index may be nil when indexing is
// disabled.
func NewServer(svc *agent.Service, sm *background.SyncManager, im *background.IndexManager, gc git.Client, tb *tools.Toolbox, cfg Config) *Server {
	s := &Server{
		agent:   svc,
		sync:    sm,
		index:   im,
		git:     gc,
		toolbox: tb,
		token:   cfg.Token,
	}
	if cfg.GatewayURL != "" {
		s.gateway = gateway.NewClient(cfg.GatewayURL)
	}
	if len(cfg.Persons) > 0 {
		s.persons = make(map[string]bool, len(cfg.Persons))
		for _, p := range cfg.Persons {
			s.persons[p] = true
		}
	}
	return s
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/sync", s.syncNow)
	mux.HandleFunc("GET /api/v1/sync/status", s.syncStatus)
	mux.HandleFunc("GET /api/v1/index/status", s.indexStatus)
	mux.HandleFunc("POST /api/v1/index/reindex", s.reindex)

	mux.HandleFunc("GET /api/v1/git/status", s.gitStatus)
	mux.HandleFunc("POST /api/v1/git/pull", s.gitPull)
	mux.HandleFunc("POST /api/v1/git/push", s.gitPush)
	mux.HandleFunc("POST /api/v1/git/commit", s.gitCommit)

	mux.HandleFunc("POST /api/v1/agent/chat", s.chat)
	mux.HandleFunc("POST /api/v1/agent/chat-stream", s.chatStream)

	mux.HandleFunc("GET /api/v1/agent/sessions", s.listSessions)
	mux.HandleFunc("DELETE /api/v1/agent/sessions", s.clearAllSessions)
	mux.HandleFunc("GET /api/v1/agent/sessions/{id}/history", s.sessionHistory)
	mux.HandleFunc("DELETE /api/v1/agent/sessions/{id}", s.clearSession)

	mux.HandleFunc("GET /api/v1/agent/runs", s.listRuns)
	mux.HandleFunc("POST /api/v1/agent/runs/{id}/stop", s.stopRun)

	mux.HandleFunc("GET /api/v1/agent/config", s.getConfig)
	mux.HandleFunc("PUT /api/v1/agent/config", s.saveConfig)
	mux.HandleFunc("GET /api/v1/agent/actions", s.listActions)
	mux.HandleFunc("POST /api/v1/agent/actions/{id}/run", s.runAction)

	mux.HandleFunc("POST /api/v1/agent/tools/execute", s.executeTool)
	mux.HandleFunc("GET /api/v1/agent/gateway/health", s.gatewayHealth)

	return recoverer(logRequests(s.authenticate(s.personContext(mux))))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeOptional decodes a JSON body that may be absent.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// agentErrorStatus maps agent service errors to HTTP status codes.
func agentErrorStatus(err error) int {
	var runErr *agent.RunError
	switch {
	case errors.Is(err, agent.ErrSessionBusy), errors.Is(err, agent.ErrConfirmationPending):
		return http.StatusConflict
	case errors.Is(err, agent.ErrActionNotFound):
		return http.StatusNotFound
	case errors.Is(err, agent.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.As(err, &runErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeAgentError(w http.ResponseWriter, err error) {
	writeError(w, agentErrorStatus(err), err.Error())
}
