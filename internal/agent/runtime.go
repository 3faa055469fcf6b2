package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/sebastianbartmann/notes-editor-sub001/internal/gateway"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/models"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/tools"
)

// RunParams is one run handed to a Runtime.
type RunParams struct {
	RunID        string
	SessionID    string
	Person       string
	Message      string
	SystemPrompt string
	MaxToolCalls int
}

// Runtime executes the decision loop of a run. Run emits text, tool_call,
// tool_result and status events and returns the run's terminal error, if
// any. It never emits start, error or done.
type Runtime interface {
	Mode() models.RuntimeMode
	Available(ctx context.Context) error
	Run(ctx context.Context, p RunParams, emit func(gateway.Event)) error
}

// RuntimeUnavailableError reports that a runtime cannot execute right now.
type RuntimeUnavailableError struct {
	Mode   models.RuntimeMode
	Reason string
}

func (e *RuntimeUnavailableError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("runtime %q unavailable", e.Mode)
	}
	return fmt.Sprintf("runtime %q unavailable: %s", e.Mode, e.Reason)
}

// IsRuntimeUnavailable reports whether err is a RuntimeUnavailableError.
func IsRuntimeUnavailable(err error) bool {
	var target *RuntimeUnavailableError
	return errors.As(err, &target)
}

// LocalRuntime runs the decision loop in-process and executes tools
// directly, with no correlation and no pending-call timeout.
type LocalRuntime struct {
	Loop    *gateway.Loop
	Toolbox *tools.Toolbox
}

// NewLocalRuntime returns a local runtime deciding with d.
func NewLocalRuntime(d gateway.Decider, tb *tools.Toolbox) *LocalRuntime {
	return &LocalRuntime{Loop: &gateway.Loop{Decider: d}, Toolbox: tb}
}

func (r *LocalRuntime) Mode() models.RuntimeMode { return models.RuntimeLocal }

func (r *LocalRuntime) Available(ctx context.Context) error {
	if r.Loop == nil || r.Loop.Decider == nil {
		return &RuntimeUnavailableError{Mode: models.RuntimeLocal, Reason: "no decider configured"}
	}
	return nil
}

func (r *LocalRuntime) Run(ctx context.Context, p RunParams, emit func(gateway.Event)) error {
	if err := r.Available(ctx); err != nil {
		return err
	}
	return r.Loop.Run(ctx, gateway.RunRequest{
		RunID:        p.RunID,
		SessionID:    p.SessionID,
		Person:       p.Person,
		Message:      p.Message,
		SystemPrompt: p.SystemPrompt,
		MaxToolCalls: p.MaxToolCalls,
		Normalizer:   r.Toolbox.Normalizer(p.Person),
		Invoker:      gateway.DirectInvoker{Executor: r.Toolbox.For(p.Person)},
	}, emit)
}

// GatewayRuntime delegates decisions to the sidecar and executes the tool
// calls it streams back inside the person's vault.
type GatewayRuntime struct {
	Client  *gateway.Client
	Toolbox *tools.Toolbox
}

// NewGatewayRuntime returns a runtime for the sidecar at baseURL.
func NewGatewayRuntime(baseURL string, tb *tools.Toolbox) *GatewayRuntime {
	return &GatewayRuntime{Client: gateway.NewClient(baseURL), Toolbox: tb}
}

func (r *GatewayRuntime) Mode() models.RuntimeMode { return models.RuntimeGateway }

func (r *GatewayRuntime) Available(ctx context.Context) error {
	if r.Client == nil || r.Client.BaseURL() == "" {
		return &RuntimeUnavailableError{Mode: models.RuntimeGateway, Reason: "gateway URL not configured"}
	}
	if _, err := r.Client.Health(ctx); err != nil {
		return &RuntimeUnavailableError{Mode: models.RuntimeGateway, Reason: err.Error()}
	}
	return nil
}

// Run relays the sidecar stream under p.RunID. Upstream start and done are
// consumed; an upstream error becomes the returned error.
func (r *GatewayRuntime) Run(ctx context.Context, p RunParams, emit func(gateway.Event)) error {
	if r.Client == nil || r.Client.BaseURL() == "" {
		return &RuntimeUnavailableError{Mode: models.RuntimeGateway, Reason: "gateway URL not configured"}
	}
	exec := r.Toolbox.For(p.Person)

	var upstreamRun, upstreamErr string
	err := r.Client.ChatStream(ctx, gateway.ChatRequest{
		Person:       p.Person,
		SessionID:    p.SessionID,
		Message:      p.Message,
		SystemPrompt: p.SystemPrompt,
		MaxToolCalls: p.MaxToolCalls,
	}, func(ev gateway.Event) error {
		switch ev.Type {
		case gateway.EventStart:
			upstreamRun = ev.RunID
			return nil
		case gateway.EventDone:
			return nil
		case gateway.EventError:
			upstreamErr = ev.Message
			return nil
		}

		ev.RunID = p.RunID
		ev.SessionID = ""
		emit(ev)
		if ev.Type != gateway.EventToolCall {
			return nil
		}

		res := exec.Execute(ctx, tools.Call{Tool: ev.Tool, Args: ev.Args})
		if err := r.Client.PostToolResult(ctx, upstreamRun, gateway.ToolResult{
			ID:      ev.ID,
			OK:      res.OK,
			Content: res.Content,
			Error:   res.Error,
		}); err != nil {
			if ctx.Err() != nil {
				return gateway.ErrStreamCancelled
			}
			return err
		}
		return nil
	})

	var unavailable *gateway.UnavailableError
	switch {
	case ctx.Err() != nil:
		return gateway.ErrStreamCancelled
	case errors.As(err, &unavailable):
		return &RuntimeUnavailableError{Mode: models.RuntimeGateway, Reason: unavailable.Error()}
	case err != nil:
		return err
	case upstreamErr == gateway.MsgStreamCancelled:
		return gateway.ErrStreamCancelled
	case upstreamErr != "":
		return errors.New(upstreamErr)
	}
	return nil
}
