package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sebastianbartmann/notes-editor-sub001/internal/correlator"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/tools"
)

// DefaultToolTimeout bounds the wait for a bridged tool result.
const DefaultToolTimeout = 20 * time.Second

// BridgeInvoker hands tool calls to the stream consumer and waits for the
// result to be posted back through Pending.
type BridgeInvoker struct {
	Pending *correlator.Correlator[tools.Result]
	Timeout time.Duration
}

// Invoke registers the pending call, announces it and waits for its result.
// A missing result within Timeout is fatal to the run.
func (b BridgeInvoker) Invoke(ctx context.Context, req ToolRequest) (tools.Result, error) {
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	p, err := b.Pending.Register(correlator.Key(req.RunID, req.CallID), timeout)
	if err != nil {
		return tools.Result{}, err
	}
	req.Announce()

	res, err := p.Wait(ctx)
	if errors.Is(err, correlator.ErrTimeout) {
		return tools.Result{}, fmt.Errorf("tool call %s (%s) timed out after %s", req.CallID, req.Call.Tool, timeout)
	}
	return res, err
}
