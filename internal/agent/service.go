// Package agent orchestrates chat runs per person and session: single-flight
// execution, run registry, runtime selection, history and configuration.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/sebastianbartmann/notes-editor-sub001/internal/gateway"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/models"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/vault"
)

const (
	DefaultMaxRunDuration = 2 * time.Minute
	DefaultMaxToolCalls   = 40

	// StatusConfirmationRequired marks a Chat response for an action that
	// was not run because it needs confirm=true.
	StatusConfirmationRequired = "confirmation_required"

	MsgRunTimedOut = "Run timed out"

	fallbackStatus    = "Gateway runtime unavailable; using local runtime for this run"
	maxStepsStatusFmt = "Action max_steps=%d applied for this run"
	eventBuffer       = 64
)

var (
	// ErrSessionBusy rejects a chat on a session that already has a run.
	ErrSessionBusy = errors.New("session already has an active run")
	// ErrConfirmationPending rejects a different action while one awaits
	// confirmation on the same session.
	ErrConfirmationPending = errors.New("another action is awaiting confirmation")
	ErrActionNotFound      = errors.New("action not found")
	ErrInvalidRequest      = errors.New("invalid request")

	errRunTimedOut = errors.New(MsgRunTimedOut)
)

// RunError is the terminal error of a run drained by Chat.
type RunError struct {
	RunID   string
	Message string
}

func (e *RunError) Error() string { return e.Message }

// Pusher schedules a commit and push of vault changes.
type Pusher interface {
	TriggerPush(message string)
}

// Options bounds runs and selects runtime defaults.
type Options struct {
	MaxRunDuration time.Duration
	MaxToolCalls   int
	// AllowFallback lets gateway-mode runs use the local runtime when the
	// gateway is unavailable.
	AllowFallback bool
	DefaultMode   models.RuntimeMode
}

// ChatRequest is the body of the chat endpoints.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
	ActionID  string `json:"action_id,omitempty"`
	Confirm   bool   `json:"confirm,omitempty"`
}

// ChatResponse is the aggregated result of a non-streaming chat.
type ChatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
	RunID     string `json:"run_id"`
	Status    string `json:"status,omitempty"`
}

// StreamRun is a started run. Callers must drain Events until it is closed.
type StreamRun struct {
	RunID                string
	SessionID            string
	ConfirmationRequired bool
	Events               <-chan gateway.Event
}

// RunSummary describes an active run.
type RunSummary struct {
	RunID     string    `json:"run_id"`
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
}

type activeRun struct {
	id        string
	person    string
	sessionID string
	startedAt time.Time
	cancel    context.CancelCauseFunc
}

// Service orchestrates agent chat runs.
type Service struct {
	vault    *vault.Store
	store    SessionStore
	sync     Pusher
	runtimes map[models.RuntimeMode]Runtime
	opts     Options

	mu       sync.Mutex
	busy     map[string]string // session key -> run id
	awaiting map[string]string // session key -> action id
	runs     map[string]*activeRun
}

// NewService creates an agent service. push may be nil.
func NewService(v *vault.Store, st SessionStore, push Pusher, runtimes []Runtime, opts Options) *Service {
	if opts.MaxRunDuration <= 0 {
		opts.MaxRunDuration = DefaultMaxRunDuration
	}
	if opts.MaxToolCalls <= 0 {
		opts.MaxToolCalls = DefaultMaxToolCalls
	}
	if !opts.DefaultMode.Valid() {
		opts.DefaultMode = models.RuntimeGateway
	}
	byMode := make(map[models.RuntimeMode]Runtime, len(runtimes))
	for _, rt := range runtimes {
		byMode[rt.Mode()] = rt
	}
	return &Service{
		vault:    v,
		store:    st,
		sync:     push,
		runtimes: byMode,
		opts:     opts,
		busy:     make(map[string]string),
		awaiting: make(map[string]string),
		runs:     make(map[string]*activeRun),
	}
}

// Runtime returns the runtime registered for mode, or nil.
func (s *Service) Runtime(mode models.RuntimeMode) Runtime {
	return s.runtimes[mode]
}

func sessionKey(person, sessionID string) string {
	return person + "::" + sessionID
}

// Chat runs a request to completion and aggregates its text.
func (s *Service) Chat(ctx context.Context, person string, req ChatRequest) (*ChatResponse, error) {
	run, err := s.ChatStream(ctx, person, req)
	if err != nil {
		return nil, err
	}

	resp := &ChatResponse{SessionID: run.SessionID, RunID: run.RunID}
	var text strings.Builder
	var runErr, status string
	for ev := range run.Events {
		switch ev.Type {
		case gateway.EventText:
			text.WriteString(ev.Delta)
		case gateway.EventStatus:
			status = ev.Message
		case gateway.EventError:
			runErr = ev.Message
		}
	}
	if run.ConfirmationRequired {
		resp.Status = StatusConfirmationRequired
		resp.Response = status
		return resp, nil
	}
	if runErr != "" {
		return nil, &RunError{RunID: run.RunID, Message: runErr}
	}
	resp.Response = text.String()
	return resp, nil
}

// ChatStream starts a run and returns immediately. A session that already
// has a run yields ErrSessionBusy and nothing is changed. Cancelling ctx
// stops the run.
func (s *Service) ChatStream(ctx context.Context, person string, req ChatRequest) (*StreamRun, error) {
	text, action, err := s.resolveMessage(person, req)
	if err != nil {
		return nil, err
	}
	cfg, err := s.GetConfig(person)
	if err != nil {
		return nil, err
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = ulid.Make().String()
	}
	runID := uuid.NewString()
	key := sessionKey(person, sessionID)

	userText := strings.TrimSpace(req.Message)
	if userText == "" && action != nil {
		userText = "Run action: " + action.Label
	}

	s.mu.Lock()
	if active, ok := s.busy[key]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: session %q (run %s)", ErrSessionBusy, sessionID, active)
	}
	if pending, ok := s.awaiting[key]; ok && action != nil && action.ID != pending {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrConfirmationPending, pending)
	}
	if action != nil && action.Metadata.RequiresConfirmation && !req.Confirm {
		s.awaiting[key] = action.ID
		s.mu.Unlock()
		return s.confirmationRun(person, sessionID, runID, userText, action, cfg.RuntimeMode), nil
	}
	delete(s.awaiting, key)
	s.busy[key] = runID
	runCtx, cancel := context.WithCancelCause(ctx)
	run := &activeRun{id: runID, person: person, sessionID: sessionID, startedAt: time.Now().UTC(), cancel: cancel}
	s.runs[runID] = run
	s.mu.Unlock()

	maxSteps := 0
	if action != nil {
		maxSteps = action.Metadata.MaxSteps
	}
	params := RunParams{
		RunID:        runID,
		SessionID:    sessionID,
		Person:       person,
		Message:      text,
		SystemPrompt: cfg.Prompt,
		MaxToolCalls: s.toolLimit(maxSteps),
	}

	out := make(chan gateway.Event, eventBuffer)
	go s.execute(runCtx, run, params, cfg.RuntimeMode, userText, maxSteps, out)
	return &StreamRun{RunID: runID, SessionID: sessionID, Events: out}, nil
}

func (s *Service) execute(ctx context.Context, run *activeRun, p RunParams, mode models.RuntimeMode, userText string, maxSteps int, out chan<- gateway.Event) {
	defer close(out)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("agent run panicked", "run_id", run.id, "panic", r)
		}
	}()

	rec := newRecorder(run.id, userText)
	released := false
	release := func(mode models.RuntimeMode) {
		if released {
			return
		}
		released = true
		s.finish(run, userText, mode, rec.finish())
	}
	defer release(mode)

	send := func(ev gateway.Event) {
		rec.observe(ev)
		out <- ev
	}

	timer := time.AfterFunc(s.opts.MaxRunDuration, func() { run.cancel(errRunTimedOut) })
	defer timer.Stop()

	send(gateway.Event{Type: gateway.EventStart, SessionID: run.sessionID, RunID: run.id})
	if maxSteps > 0 {
		send(gateway.Event{Type: gateway.EventStatus, RunID: run.id, Message: fmt.Sprintf(maxStepsStatusFmt, maxSteps)})
	}

	used, err := s.runSafely(ctx, p, mode, send)

	var message string
	if err != nil {
		switch {
		case errors.Is(context.Cause(ctx), errRunTimedOut):
			message = MsgRunTimedOut
		case ctx.Err() != nil, errors.Is(err, gateway.ErrStreamCancelled):
			message = gateway.MsgStreamCancelled
		default:
			message = err.Error()
		}
		slog.Warn("agent run failed", "run_id", run.id, "person", run.person, "session_id", run.sessionID, "error", err)
	}

	var errEv gateway.Event
	if message != "" {
		errEv = gateway.Event{Type: gateway.EventError, RunID: run.id, Message: message}
		rec.observe(errEv)
	}
	// The session is callable again before the client sees done.
	release(used)
	if message != "" {
		out <- errEv
	}
	out <- gateway.Event{Type: gateway.EventDone, SessionID: run.sessionID, RunID: run.id}
}

// runSafely runs p on mode's runtime, falling back to the local runtime
// when the gateway is unavailable before producing any event.
func (s *Service) runSafely(ctx context.Context, p RunParams, mode models.RuntimeMode, emit func(gateway.Event)) (used models.RuntimeMode, err error) {
	used = mode
	defer func() {
		if r := recover(); r != nil {
			slog.Error("agent runtime panicked", "run_id", p.RunID, "panic", r)
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	emitted := 0
	counted := func(ev gateway.Event) {
		emitted++
		emit(ev)
	}
	if rt := s.runtimes[mode]; rt != nil {
		err = rt.Run(ctx, p, counted)
	} else {
		err = &RuntimeUnavailableError{Mode: mode, Reason: "not configured"}
	}
	if err == nil || emitted > 0 || !IsRuntimeUnavailable(err) || !s.canFallback(mode) {
		return used, err
	}

	slog.Warn("gateway unavailable, using local runtime", "run_id", p.RunID, "error", err)
	emit(gateway.Event{Type: gateway.EventStatus, RunID: p.RunID, Message: fallbackStatus})
	used = models.RuntimeLocal
	return used, s.runtimes[models.RuntimeLocal].Run(ctx, p, emit)
}

func (s *Service) canFallback(mode models.RuntimeMode) bool {
	return mode == models.RuntimeGateway && s.opts.AllowFallback && s.runtimes[models.RuntimeLocal] != nil
}

// finish persists the run's history and releases the session and run.
func (s *Service) finish(run *activeRun, userText string, mode models.RuntimeMode, items []*models.ConversationItem) {
	defer func() {
		s.mu.Lock()
		key := sessionKey(run.person, run.sessionID)
		if s.busy[key] == run.id {
			delete(s.busy, key)
		}
		delete(s.runs, run.id)
		s.mu.Unlock()
		run.cancel(nil)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.touchSession(ctx, run.person, run.sessionID, userText, mode); err != nil {
		slog.Error("save agent session", "session_id", run.sessionID, "error", err)
		return
	}
	if err := s.store.AppendItems(ctx, run.person, run.sessionID, items); err != nil {
		slog.Error("save conversation", "session_id", run.sessionID, "error", err)
	}
}

// confirmationRun answers an unconfirmed action with a status and records
// it in the session without starting a run.
func (s *Service) confirmationRun(person, sessionID, runID, userText string, action *resolvedAction, mode models.RuntimeMode) *StreamRun {
	msg := fmt.Sprintf("Action %q requires confirmation. Send it again with confirm=true to run it.", action.Label)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec := newRecorder(runID, userText)
	rec.observe(gateway.Event{Type: gateway.EventStatus, Message: msg})
	if err := s.touchSession(ctx, person, sessionID, userText, mode); err != nil {
		slog.Error("save agent session", "session_id", sessionID, "error", err)
	} else if err := s.store.AppendItems(ctx, person, sessionID, rec.finish()); err != nil {
		slog.Error("save conversation", "session_id", sessionID, "error", err)
	}

	out := make(chan gateway.Event, 3)
	out <- gateway.Event{Type: gateway.EventStart, SessionID: sessionID, RunID: runID}
	out <- gateway.Event{Type: gateway.EventStatus, RunID: runID, Message: msg}
	out <- gateway.Event{Type: gateway.EventDone, SessionID: sessionID, RunID: runID}
	close(out)
	return &StreamRun{RunID: runID, SessionID: sessionID, ConfirmationRequired: true, Events: out}
}

func (s *Service) resolveMessage(person string, req ChatRequest) (string, *resolvedAction, error) {
	msg := strings.TrimSpace(req.Message)
	actionID := strings.TrimSpace(req.ActionID)
	if actionID == "" {
		if msg == "" {
			return "", nil, fmt.Errorf("%w: message is required", ErrInvalidRequest)
		}
		return msg, nil, nil
	}

	action, err := s.resolveAction(person, actionID)
	if err != nil {
		return "", nil, err
	}
	if action.Prompt == "" {
		return "", nil, fmt.Errorf("%w: action prompt is empty", ErrInvalidRequest)
	}
	if msg == "" {
		return action.Prompt, action, nil
	}
	return action.Prompt + "\n\nAdditional context:\n" + msg, action, nil
}

func (s *Service) toolLimit(maxSteps int) int {
	if maxSteps > 0 && maxSteps < s.opts.MaxToolCalls {
		return maxSteps
	}
	return s.opts.MaxToolCalls
}

// StopRun cancels person's run runID. It reports whether the run was found.
func (s *Service) StopRun(person, runID string) bool {
	s.mu.Lock()
	run, ok := s.runs[runID]
	s.mu.Unlock()
	if !ok || run.person != person {
		return false
	}
	run.cancel(gateway.ErrStreamCancelled)
	return true
}

// ListActiveRuns returns person's running runs, newest first.
func (s *Service) ListActiveRuns(person string) []RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RunSummary, 0, len(s.runs))
	for _, run := range s.runs {
		if run.person != person {
			continue
		}
		out = append(out, RunSummary{RunID: run.id, SessionID: run.sessionID, StartedAt: run.startedAt})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// IsBusy reports whether person's session has a run in flight.
func (s *Service) IsBusy(person, sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.busy[sessionKey(person, sessionID)]
	return ok
}
