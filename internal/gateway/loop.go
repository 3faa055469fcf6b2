package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/sebastianbartmann/notes-editor-sub001/internal/tools"
)

// DefaultMaxToolCalls is the per-run ceiling when none is configured.
const DefaultMaxToolCalls = 12

// ToolRequest is one normalized tool call handed to a ToolInvoker.
type ToolRequest struct {
	RunID  string
	CallID string
	Call   tools.Call
	// Announce emits the tool_call event. Invokers call it exactly once,
	// as soon as a result for CallID can be accepted.
	Announce func()
}

// ToolInvoker executes tool calls for a run. A returned error is fatal to
// the run; a failed tool is reported through Result.OK instead.
type ToolInvoker interface {
	Invoke(ctx context.Context, req ToolRequest) (tools.Result, error)
}

// RunRequest describes one run of the decision loop.
type RunRequest struct {
	RunID        string
	SessionID    string
	Person       string
	Message      string
	SystemPrompt string
	MaxToolCalls int
	Normalizer   tools.Normalizer
	Invoker      ToolInvoker
}

// Loop drives a Decider until it produces a final answer.
type Loop struct {
	Decider Decider
}

// Run executes the decision loop, emitting text, tool_call, tool_result and
// status events. It does not emit start, error or done: a non-nil error is
// the run's terminal failure and the caller reports it. Cancellation of ctx
// yields ErrStreamCancelled.
func (l *Loop) Run(ctx context.Context, req RunRequest, emit func(Event)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("decision loop panicked", "run_id", req.RunID, "panic", r)
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	limit := req.MaxToolCalls
	if limit <= 0 {
		limit = DefaultMaxToolCalls
	}

	var transcript []TranscriptEntry
	used := 0
	for {
		if ctx.Err() != nil {
			return ErrStreamCancelled
		}
		d, err := l.Decider.Decide(ctx, DecisionRequest{
			Person:       req.Person,
			SessionID:    req.SessionID,
			Message:      req.Message,
			SystemPrompt: req.SystemPrompt,
			Transcript:   transcript,
		})
		if ctx.Err() != nil {
			return ErrStreamCancelled
		}
		if err != nil {
			return fmt.Errorf("decision runtime (%s): %w", l.Decider.Name(), err)
		}

		if d.Type == DecisionFinal {
			emit(Event{Type: EventText, RunID: req.RunID, Delta: d.Text})
			return nil
		}

		if used >= limit {
			return &ToolLimitError{Limit: limit}
		}
		used++

		call, err := req.Normalizer.Normalize(d.Tool, d.Args)
		if err != nil {
			transcript = append(transcript, TranscriptEntry{Tool: d.Tool, Args: d.Args, OK: false, Summary: err.Error()})
			emit(Event{Type: EventStatus, RunID: req.RunID, Message: "Rejected tool call: " + err.Error()})
			continue
		}

		if ctx.Err() != nil {
			return ErrStreamCancelled
		}
		callID := uuid.NewString()
		res, err := req.Invoker.Invoke(ctx, ToolRequest{
			RunID:  req.RunID,
			CallID: callID,
			Call:   call,
			Announce: func() {
				emit(Event{Type: EventToolCall, RunID: req.RunID, ID: callID, Tool: call.Tool, Args: call.Args})
			},
		})
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return ErrStreamCancelled
			}
			return err
		}

		summary := res.Summary()
		emit(Event{Type: EventToolResult, RunID: req.RunID, ID: callID, Tool: call.Tool, OK: Bool(res.OK), Summary: summary})
		transcript = append(transcript, TranscriptEntry{Tool: call.Tool, Args: call.Args, OK: res.OK, Summary: summary})
	}
}

// DirectInvoker executes tools synchronously in-process. It is used when
// the loop runs inside the API process and needs no correlation.
type DirectInvoker struct {
	Executor *tools.Executor
}

// Invoke announces the call and executes it immediately.
func (d DirectInvoker) Invoke(ctx context.Context, req ToolRequest) (tools.Result, error) {
	req.Announce()
	return d.Executor.Execute(ctx, req.Call), nil
}
