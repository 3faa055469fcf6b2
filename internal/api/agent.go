package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sebastianbartmann/notes-editor-sub001/internal/agent"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/gateway"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/tools"
)

// configPullAge is how old the last pull may be before reading config or
// actions triggers a fresh one.
const configPullAge = 30 * time.Second

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	person, ok := requirePerson(w, r)
	if !ok {
		return
	}
	var req agent.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	resp, err := s.agent.Chat(r.Context(), person, req)
	if err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) chatStream(w http.ResponseWriter, r *http.Request) {
	person, ok := requirePerson(w, r)
	if !ok {
		return
	}
	var req agent.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	run, err := s.agent.ChatStream(r.Context(), person, req)
	if err != nil {
		writeAgentError(w, err)
		return
	}
	streamRun(w, run)
}

// streamRun writes every event of run as NDJSON. The channel is always
// drained, even after the client has gone, so the run can finish.
func streamRun(w http.ResponseWriter, run *agent.StreamRun) {
	sw := gateway.NewStreamWriter(w)
	broken := false
	for ev := range run.Events {
		if broken {
			continue
		}
		if err := sw.Write(ev); err != nil {
			slog.Debug("chat stream write failed", "run_id", run.RunID, "error", err)
			broken = true
		}
	}
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	person, ok := requirePerson(w, r)
	if !ok {
		return
	}
	sessions, err := s.agent.ListSessions(r.Context(), person)
	if err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) clearAllSessions(w http.ResponseWriter, r *http.Request) {
	person, ok := requirePerson(w, r)
	if !ok {
		return
	}
	n, err := s.agent.ClearAllSessions(r.Context(), person)
	if err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": n})
}

func (s *Server) sessionHistory(w http.ResponseWriter, r *http.Request) {
	person, ok := requirePerson(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	items, err := s.agent.GetConversationHistory(r.Context(), person, id)
	if err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "items": items})
}

func (s *Server) clearSession(w http.ResponseWriter, r *http.Request) {
	person, ok := requirePerson(w, r)
	if !ok {
		return
	}
	if err := s.agent.ClearSession(r.Context(), person, r.PathValue("id")); err != nil {
		writeAgentError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	person, ok := requirePerson(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": s.agent.ListActiveRuns(person)})
}

func (s *Server) stopRun(w http.ResponseWriter, r *http.Request) {
	person, ok := requirePerson(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if !s.agent.StopRun(person, id) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stopped": true, "run_id": id})
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	person, ok := requirePerson(w, r)
	if !ok {
		return
	}
	s.sync.TriggerPullIfStale(configPullAge)
	cfg, err := s.agent.GetConfig(person)
	if err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) saveConfig(w http.ResponseWriter, r *http.Request) {
	person, ok := requirePerson(w, r)
	if !ok {
		return
	}
	var req agent.ConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	cfg, err := s.agent.SaveConfig(person, req)
	if err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) listActions(w http.ResponseWriter, r *http.Request) {
	person, ok := requirePerson(w, r)
	if !ok {
		return
	}
	s.sync.TriggerPullIfStale(configPullAge)
	actions, err := s.agent.ListActions(person)
	if err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

type actionRunRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Confirm   bool   `json:"confirm"`
}

func (s *Server) runAction(w http.ResponseWriter, r *http.Request) {
	person, ok := requirePerson(w, r)
	if !ok {
		return
	}
	var req actionRunRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	resp, err := s.agent.Chat(r.Context(), person, agent.ChatRequest{
		SessionID: req.SessionID,
		ActionID:  r.PathValue("id"),
		Message:   req.Message,
		Confirm:   req.Confirm,
	})
	if err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type toolExecuteRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// executeTool runs one tool call in the person's vault. Tool failures are
// reported in the body with ok=false, not as HTTP errors.
func (s *Server) executeTool(w http.ResponseWriter, r *http.Request) {
	person, ok := requirePerson(w, r)
	if !ok {
		return
	}
	var req toolExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Tool == "" {
		writeError(w, http.StatusBadRequest, "tool is required")
		return
	}

	call, err := s.toolbox.Normalizer(person).Normalize(req.Tool, req.Args)
	if err != nil {
		writeJSON(w, http.StatusOK, tools.Result{OK: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.toolbox.For(person).Execute(r.Context(), call))
}

type gatewayHealthResponse struct {
	OK               bool   `json:"ok"`
	URL              string `json:"url,omitempty"`
	Mode             string `json:"mode,omitempty"`
	PendingToolCalls int    `json:"pending_tool_calls"`
	Error            string `json:"error,omitempty"`
}

func (s *Server) gatewayHealth(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePerson(w, r); !ok {
		return
	}
	if s.gateway == nil {
		writeJSON(w, http.StatusOK, gatewayHealthResponse{Error: "gateway URL not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 6*time.Second)
	defer cancel()
	resp := gatewayHealthResponse{URL: s.gateway.BaseURL()}
	h, err := s.gateway.Health(ctx)
	if err != nil {
		var unavailable *gateway.UnavailableError
		if !errors.As(err, &unavailable) {
			slog.Warn("gateway health check failed", "error", err)
		}
		resp.Error = err.Error()
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.OK = h.OK
	resp.Mode = h.Mode
	resp.PendingToolCalls = h.PendingToolCalls
	writeJSON(w, http.StatusOK, resp)
}
