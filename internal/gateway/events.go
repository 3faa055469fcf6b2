// Package gateway runs the agent decision loop and serves it as a sidecar:
// an external decision runtime picks tools, and tool execution is bridged
// back to the API process through correlated HTTP callbacks.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// Event types carried on a run's stream.
const (
	EventStart      = "start"
	EventText       = "text"
	EventToolCall   = "tool_call"
	EventToolResult = "tool_result"
	EventStatus     = "status"
	EventError      = "error"
	EventDone       = "done"
)

// MsgStreamCancelled is the error message of a cancelled run.
const MsgStreamCancelled = "stream cancelled"

// ErrStreamCancelled ends a run that was stopped or whose client went away.
var ErrStreamCancelled = errors.New(MsgStreamCancelled)

// ToolLimitError ends a run that asked for more tool calls than allowed.
type ToolLimitError struct {
	Limit int
}

func (e *ToolLimitError) Error() string {
	return fmt.Sprintf("Run exceeded max tool calls (%d)", e.Limit)
}

// Event is one NDJSON line of a chat stream.
type Event struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	ID        string         `json:"id,omitempty"`
	Delta     string         `json:"delta,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	OK        *bool          `json:"ok,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// Bool returns a pointer for Event.OK.
func Bool(b bool) *bool {
	return &b
}

// StreamWriter writes events as NDJSON and flushes after each line.
type StreamWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	enc     *json.Encoder
}

// NewStreamWriter prepares w for an NDJSON response.
func NewStreamWriter(w http.ResponseWriter) *StreamWriter {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f, _ := w.(http.Flusher)
	return &StreamWriter{w: w, flusher: f, enc: json.NewEncoder(w)}
}

// Write encodes ev as one line and flushes it.
func (s *StreamWriter) Write(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(ev); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
