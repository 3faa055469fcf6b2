package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastianbartmann/notes-editor-sub001/internal/gateway"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/models"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/tools"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/vault"
)

func newToolbox(t *testing.T) (*tools.Toolbox, *vault.Store) {
	t.Helper()
	v := vault.NewStore(filepath.Join(t.TempDir(), "notes"))
	require.NoError(t, v.WriteFile("alice", "todo.md", "- [ ] milk\n"))
	require.NoError(t, v.WriteFile("alice", "daily/2026-10-18.md", "# Today\n"))
	return &tools.Toolbox{Store: v}, v
}

func collect(events *[]gateway.Event) func(gateway.Event) {
	return func(ev gateway.Event) { *events = append(*events, ev) }
}

func TestGatewayRuntime_ListFiles(t *testing.T) {
	tb, _ := newToolbox(t)
	sidecar := gateway.NewServer(gateway.ServerConfig{Decider: gateway.MockDecider{}})
	ts := httptest.NewServer(sidecar.Router())
	defer ts.Close()

	rt := NewGatewayRuntime(ts.URL, tb)
	require.NoError(t, rt.Available(context.Background()))

	var events []gateway.Event
	err := rt.Run(context.Background(), RunParams{RunID: "local-run", SessionID: "s1", Person: "alice", Message: "list my files"}, collect(&events))
	require.NoError(t, err)

	assert.Equal(t, []string{gateway.EventToolCall, gateway.EventToolResult, gateway.EventText}, eventTypes(events))
	for _, ev := range events {
		assert.Equal(t, "local-run", ev.RunID)
	}
	assert.Equal(t, "list_directory", events[0].Tool)
	assert.Equal(t, map[string]any{"path": "."}, events[0].Args)
	require.NotNil(t, events[1].OK)
	assert.True(t, *events[1].OK)
	assert.Contains(t, events[2].Delta, "Here are your files")
	assert.Contains(t, events[2].Delta, "todo.md")
	assert.Equal(t, 0, sidecar.PendingToolCalls())
}

func TestGatewayRuntime_ToolFailureRelayed(t *testing.T) {
	tb, _ := newToolbox(t)
	sidecar := gateway.NewServer(gateway.ServerConfig{Decider: gateway.MockDecider{}})
	ts := httptest.NewServer(sidecar.Router())
	defer ts.Close()

	var events []gateway.Event
	err := NewGatewayRuntime(ts.URL, tb).Run(context.Background(), RunParams{RunID: "r", Person: "alice", Message: "read missing.md"}, collect(&events))
	require.NoError(t, err)

	require.Len(t, events, 3)
	require.NotNil(t, events[1].OK)
	assert.False(t, *events[1].OK)
	assert.Contains(t, events[2].Delta, "That did not work")
}

func TestGatewayRuntime_UpstreamError(t *testing.T) {
	tb, _ := newToolbox(t)
	d := &stubDecider{decision: gateway.Decision{Type: gateway.DecisionToolCall, Tool: "ls"}}
	sidecar := gateway.NewServer(gateway.ServerConfig{Decider: d, MaxToolCalls: 1})
	ts := httptest.NewServer(sidecar.Router())
	defer ts.Close()

	var events []gateway.Event
	err := NewGatewayRuntime(ts.URL, tb).Run(context.Background(), RunParams{RunID: "r", Person: "alice", Message: "loop"}, collect(&events))
	require.EqualError(t, err, "Run exceeded max tool calls (1)")
	assert.Equal(t, []string{gateway.EventToolCall, gateway.EventToolResult}, eventTypes(events))
}

func TestGatewayRuntime_Unavailable(t *testing.T) {
	tb, _ := newToolbox(t)
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	rt := NewGatewayRuntime(url, tb)
	assert.True(t, IsRuntimeUnavailable(rt.Available(context.Background())))

	err := rt.Run(context.Background(), RunParams{RunID: "r", Person: "alice", Message: "hi"}, func(gateway.Event) {})
	assert.True(t, IsRuntimeUnavailable(err))

	assert.True(t, IsRuntimeUnavailable(NewGatewayRuntime("", tb).Run(context.Background(), RunParams{}, func(gateway.Event) {})))
}

func TestServiceWithGatewayRuntime_FallsBackToLocal(t *testing.T) {
	tb, _ := newToolbox(t)
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	env := newTestEnv(t, Options{AllowFallback: true},
		NewGatewayRuntime(url, tb),
		NewLocalRuntime(gateway.MockDecider{}, tb),
	)

	run, err := env.svc.ChatStream(context.Background(), "alice", ChatRequest{Message: "list my files"})
	require.NoError(t, err)
	events := drain(t, run)

	assert.Equal(t, []string{
		gateway.EventStart, gateway.EventStatus, gateway.EventToolCall, gateway.EventToolResult, gateway.EventText, gateway.EventDone,
	}, eventTypes(events))
	assert.Equal(t, fallbackStatus, events[1].Message)
	assert.Contains(t, events[4].Delta, "todo.md")
}

func TestLocalRuntime_NormalizesAbsolutePaths(t *testing.T) {
	tb, v := newToolbox(t)
	abs := filepath.Join(v.PersonRoot("alice"), "todo.md")
	d := &stubDecider{decision: gateway.Decision{Type: gateway.DecisionToolCall, Tool: "Read", Args: map[string]any{"file_path": abs}}, then: "done"}

	var events []gateway.Event
	err := NewLocalRuntime(d, tb).Run(context.Background(), RunParams{RunID: "r", Person: "alice", Message: "read"}, collect(&events))
	require.NoError(t, err)

	assert.Equal(t, "read_file", events[0].Tool)
	assert.Equal(t, map[string]any{"path": "todo.md"}, events[0].Args)
	assert.Equal(t, "- [ ] milk", events[1].Summary)
	assert.Equal(t, models.RuntimeLocal, NewLocalRuntime(d, tb).Mode())
}

func TestLocalRuntime_NoDecider(t *testing.T) {
	tb, _ := newToolbox(t)
	rt := NewLocalRuntime(nil, tb)
	assert.True(t, IsRuntimeUnavailable(rt.Available(context.Background())))
}

// stubDecider returns decision until a tool result is in the transcript,
// then a final answer when then is set.
type stubDecider struct {
	decision gateway.Decision
	then     string
}

func (d *stubDecider) Name() string { return "stub" }

func (d *stubDecider) Decide(ctx context.Context, req gateway.DecisionRequest) (gateway.Decision, error) {
	if d.then != "" && len(req.Transcript) > 0 {
		return gateway.Decision{Type: gateway.DecisionFinal, Text: d.then}, nil
	}
	return d.decision, nil
}
