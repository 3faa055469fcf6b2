package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sebastianbartmann/notes-editor-sub001/internal/correlator"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/tools"
)

// ChatRequest is the body of POST /v1/chat-stream.
type ChatRequest struct {
	Person       string `json:"person,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	Message      string `json:"message,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	MaxToolCalls int    `json:"max_tool_calls,omitempty"`
}

// ToolResult is the body of POST /v1/runs/{runId}/tool-result.
type ToolResult struct {
	ID      string `json:"id"`
	OK      bool   `json:"ok"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Health is the body of GET /health.
type Health struct {
	OK               bool   `json:"ok"`
	Mode             string `json:"mode"`
	PendingToolCalls int    `json:"pending_tool_calls"`
}

// ServerConfig configures the sidecar.
type ServerConfig struct {
	Decider Decider
	// NotesRoot lets the normalizer rewrite absolute vault paths.
	NotesRoot    string
	ToolTimeout  time.Duration
	MaxToolCalls int
}

// Server is the decision-runtime sidecar.
type Server struct {
	cfg     ServerConfig
	loop    *Loop
	pending *correlator.Correlator[tools.Result]
}

// NewServer creates the sidecar server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = DefaultToolTimeout
	}
	if cfg.MaxToolCalls <= 0 {
		cfg.MaxToolCalls = DefaultMaxToolCalls
	}
	return &Server{
		cfg:     cfg,
		loop:    &Loop{Decider: cfg.Decider},
		pending: correlator.New[tools.Result](),
	}
}

// Router returns the sidecar's HTTP handler.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/chat-stream", s.handleChatStream)
	mux.HandleFunc("POST /v1/runs/{runId}/tool-result", s.handleToolResult)
	return mux
}

// PendingToolCalls returns the number of unresolved tool calls.
func (s *Server) PendingToolCalls() int {
	return s.pending.Len()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Health{OK: true, Mode: s.cfg.Decider.Name(), PendingToolCalls: s.pending.Len()})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	limit := req.MaxToolCalls
	if limit <= 0 {
		limit = s.cfg.MaxToolCalls
	}
	runID := uuid.NewString()

	sw := NewStreamWriter(w)
	emit := func(ev Event) {
		if err := sw.Write(ev); err != nil {
			slog.Debug("stream write failed", "run_id", runID, "error", err)
		}
	}

	var normalizer tools.Normalizer
	if s.cfg.NotesRoot != "" && req.Person != "" {
		normalizer.PersonRoot = filepath.Join(s.cfg.NotesRoot, req.Person)
	}

	emit(Event{Type: EventStart, SessionID: req.SessionID, RunID: runID})
	err := s.loop.Run(r.Context(), RunRequest{
		RunID:        runID,
		SessionID:    req.SessionID,
		Person:       req.Person,
		Message:      req.Message,
		SystemPrompt: req.SystemPrompt,
		MaxToolCalls: limit,
		Normalizer:   normalizer,
		Invoker:      BridgeInvoker{Pending: s.pending, Timeout: s.cfg.ToolTimeout},
	}, emit)
	if err != nil {
		slog.Warn("run failed", "run_id", runID, "error", err)
		emit(Event{Type: EventError, RunID: runID, Message: err.Error()})
	}
	emit(Event{Type: EventDone, SessionID: req.SessionID, RunID: runID})
}

func (s *Server) handleToolResult(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runId")
	var body ToolResult
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	res := tools.Result{OK: body.OK, Content: body.Content, Error: body.Error}
	if !res.OK && res.Error == "" {
		res.Error = "tool failed"
	}
	if !s.pending.Resolve(correlator.Key(runID, body.ID), res) {
		writeError(w, http.StatusNotFound, "no pending tool call")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorBody extracts the message of a {"error": ...} response.
func errorBody(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(data))
}
