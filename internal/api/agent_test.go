package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastianbartmann/notes-editor-sub001/internal/agent"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/gateway"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/models"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/tools"
)

func parseEvents(t *testing.T, body string) []gateway.Event {
	t.Helper()
	var events []gateway.Event
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		var ev gateway.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev), sc.Text())
		events = append(events, ev)
	}
	return events
}

func types(events []gateway.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

// blockingRuntime runs until its context is cancelled.
type blockingRuntime struct {
	started chan struct{}
}

func (b *blockingRuntime) Mode() models.RuntimeMode            { return models.RuntimeLocal }
func (b *blockingRuntime) Available(ctx context.Context) error { return nil }

func (b *blockingRuntime) Run(ctx context.Context, p agent.RunParams, emit func(gateway.Event)) error {
	close(b.started)
	<-ctx.Done()
	return gateway.ErrStreamCancelled
}

func TestChatStream_ListFiles(t *testing.T) {
	env := setupTestServer(t, Config{})

	w := env.do("POST", "/api/v1/agent/chat-stream", `{"message":"list my files"}`, "alice")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))

	events := parseEvents(t, w.Body.String())
	require.Equal(t, []string{
		gateway.EventStart, gateway.EventToolCall, gateway.EventToolResult, gateway.EventText, gateway.EventDone,
	}, types(events))
	assert.NotEmpty(t, events[0].SessionID)
	assert.Equal(t, "list_directory", events[1].Tool)
	assert.Contains(t, events[3].Delta, "todo.md")
	for _, ev := range events {
		assert.Equal(t, events[0].RunID, ev.RunID)
	}
}

func TestChatStream_Validation(t *testing.T) {
	env := setupTestServer(t, Config{})

	w := env.do("POST", "/api/v1/agent/chat-stream", `{"message":"  "}`, "alice")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorBody(t, w), "message is required")

	w = env.do("POST", "/api/v1/agent/chat-stream", `nope`, "alice")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do("POST", "/api/v1/agent/chat-stream", `{"message":"hi"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChat_AndSessionLifecycle(t *testing.T) {
	env := setupTestServer(t, Config{})

	w := env.do("POST", "/api/v1/agent/chat", `{"message":"hello"}`, "alice")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[agent.ChatResponse](t, w)
	assert.Equal(t, "You said: hello", resp.Response)
	require.NotEmpty(t, resp.SessionID)

	w = env.do("GET", "/api/v1/agent/sessions", "", "alice")
	require.Equal(t, http.StatusOK, w.Code)
	sessions := decode[struct {
		Sessions []models.SessionSummary `json:"sessions"`
	}](t, w).Sessions
	require.Len(t, sessions, 1)
	assert.Equal(t, resp.SessionID, sessions[0].ID)
	assert.Equal(t, 2, sessions[0].MessageCount)
	assert.Equal(t, "You said: hello", sessions[0].LastPreview)

	w = env.do("GET", "/api/v1/agent/sessions", "", "bob")
	assert.Empty(t, decode[struct {
		Sessions []models.SessionSummary `json:"sessions"`
	}](t, w).Sessions)

	w = env.do("GET", "/api/v1/agent/sessions/"+resp.SessionID+"/history", "", "alice")
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[struct {
		Items []models.ConversationItem `json:"items"`
	}](t, w).Items
	require.Len(t, history, 2)
	assert.Equal(t, models.RoleUser, history[0].Role)
	assert.Equal(t, "hello", history[0].Content)

	w = env.do("DELETE", "/api/v1/agent/sessions/"+resp.SessionID, "", "bob")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.do("GET", "/api/v1/agent/sessions/"+resp.SessionID+"/history", "", "alice")
	assert.Len(t, decode[struct {
		Items []models.ConversationItem `json:"items"`
	}](t, w).Items, 2)

	w = env.do("DELETE", "/api/v1/agent/sessions/"+resp.SessionID, "", "alice")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.do("GET", "/api/v1/agent/sessions/"+resp.SessionID+"/history", "", "alice")
	assert.Empty(t, decode[struct {
		Items []models.ConversationItem `json:"items"`
	}](t, w).Items)
}

func TestClearAllSessions(t *testing.T) {
	env := setupTestServer(t, Config{})

	for _, msg := range []string{"one", "two"} {
		w := env.do("POST", "/api/v1/agent/chat", `{"message":"`+msg+`"}`, "alice")
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := env.do("DELETE", "/api/v1/agent/sessions", "", "alice")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode[map[string]any](t, w)["cleared"])
}

func TestBusySession_StopRun(t *testing.T) {
	rt := &blockingRuntime{started: make(chan struct{})}
	env := setupTestServer(t, Config{}, rt)

	run, err := env.agent.ChatStream(context.Background(), "alice", agent.ChatRequest{SessionID: "s1", Message: "wait"})
	require.NoError(t, err)
	select {
	case <-rt.started:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not start")
	}

	w := env.do("POST", "/api/v1/agent/chat", `{"session_id":"s1","message":"again"}`, "alice")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do("DELETE", "/api/v1/agent/sessions/s1", "", "alice")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do("GET", "/api/v1/agent/runs", "", "alice")
	runs := decode[struct {
		Runs []agent.RunSummary `json:"runs"`
	}](t, w).Runs
	require.Len(t, runs, 1)
	assert.Equal(t, run.RunID, runs[0].RunID)
	assert.Equal(t, "s1", runs[0].SessionID)

	w = env.do("POST", "/api/v1/agent/runs/"+run.RunID+"/stop", "", "bob")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do("POST", "/api/v1/agent/runs/"+run.RunID+"/stop", "", "alice")
	require.Equal(t, http.StatusOK, w.Code)

	var last []gateway.Event
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case ev, ok := <-run.Events:
			if !ok {
				done = true
				break
			}
			last = append(last, ev)
		case <-timeout:
			t.Fatal("run did not finish")
		}
	}
	require.GreaterOrEqual(t, len(last), 2)
	assert.Equal(t, gateway.EventError, last[len(last)-2].Type)
	assert.Equal(t, gateway.MsgStreamCancelled, last[len(last)-2].Message)

	w = env.do("POST", "/api/v1/agent/runs/"+run.RunID+"/stop", "", "alice")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAgentConfig(t *testing.T) {
	env := setupTestServer(t, Config{})

	w := env.do("GET", "/api/v1/agent/config", "", "alice")
	require.Equal(t, http.StatusOK, w.Code)
	cfg := decode[agent.Config](t, w)
	assert.Equal(t, models.RuntimeLocal, cfg.RuntimeMode)
	assert.Equal(t, agent.DefaultSystemPrompt, cfg.Prompt)

	w = env.do("PUT", "/api/v1/agent/config", `{"runtime_mode":"remote"}`, "alice")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do("PUT", "/api/v1/agent/config", `{"runtime_mode":"gateway","prompt":"Be brief."}`, "alice")
	require.Equal(t, http.StatusOK, w.Code)
	cfg = decode[agent.Config](t, w)
	assert.Equal(t, models.RuntimeGateway, cfg.RuntimeMode)
	assert.Equal(t, "Be brief.", cfg.Prompt)

	require.Eventually(t, func() bool {
		_, _, commits := env.git.snapshot()
		for _, c := range commits {
			if c == "Update agent config" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAgentActions(t *testing.T) {
	env := setupTestServer(t, Config{})
	require.NoError(t, env.vault.WriteFile("alice", "agent/actions/greet.md", "Say hello to the team.\n"))

	w := env.do("GET", "/api/v1/agent/actions", "", "alice")
	require.Equal(t, http.StatusOK, w.Code)
	actions := decode[struct {
		Actions []agent.Action `json:"actions"`
	}](t, w).Actions
	require.Len(t, actions, 1)
	assert.Equal(t, "greet", actions[0].ID)

	w = env.do("POST", "/api/v1/agent/actions/greet/run", "", "alice")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "You said: Say hello to the team.", decode[agent.ChatResponse](t, w).Response)

	w = env.do("POST", "/api/v1/agent/actions/missing/run", `{"message":"x"}`, "alice")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExecuteTool(t *testing.T) {
	env := setupTestServer(t, Config{})

	w := env.do("POST", "/api/v1/agent/tools/execute", `{"tool":"Read","args":{"file_path":"todo.md"}}`, "alice")
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[tools.Result](t, w)
	assert.True(t, res.OK)
	assert.Equal(t, "- [ ] milk\n", res.Content)

	w = env.do("POST", "/api/v1/agent/tools/execute", `{"tool":"Edit","args":{}}`, "alice")
	require.Equal(t, http.StatusOK, w.Code)
	res = decode[tools.Result](t, w)
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "unsupported tool")

	w = env.do("POST", "/api/v1/agent/tools/execute", `{"args":{}}`, "alice")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecuteTool_WriteTriggersSync(t *testing.T) {
	env := setupTestServer(t, Config{})

	w := env.do("POST", "/api/v1/agent/tools/execute", `{"tool":"write_file","args":{"path":"new.md","content":"hi"}}`, "alice")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[tools.Result](t, w).OK)

	got, err := env.vault.ReadFile("alice", "new.md")
	require.NoError(t, err)
	assert.Equal(t, "hi", got)

	require.Eventually(t, func() bool {
		_, _, commits := env.git.snapshot()
		return len(commits) > 0 && commits[0] == "Agent update new.md"
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		for _, c := range env.runner.snapshot() {
			if c == "update" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestGatewayHealth(t *testing.T) {
	sidecar := gateway.NewServer(gateway.ServerConfig{Decider: gateway.MockDecider{}})
	ts := httptest.NewServer(sidecar.Router())
	defer ts.Close()

	env := setupTestServer(t, Config{GatewayURL: ts.URL})
	w := env.do("GET", "/api/v1/agent/gateway/health", "", "alice")
	require.Equal(t, http.StatusOK, w.Code)
	h := decode[gatewayHealthResponse](t, w)
	assert.True(t, h.OK)
	assert.Equal(t, "mock", h.Mode)
	assert.Equal(t, ts.URL, h.URL)

	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()
	env = setupTestServer(t, Config{GatewayURL: downURL})
	w = env.do("GET", "/api/v1/agent/gateway/health", "", "alice")
	h = decode[gatewayHealthResponse](t, w)
	assert.False(t, h.OK)
	assert.Contains(t, h.Error, "agent gateway unavailable")

	env = setupTestServer(t, Config{})
	w = env.do("GET", "/api/v1/agent/gateway/health", "", "alice")
	assert.Equal(t, "gateway URL not configured", decode[gatewayHealthResponse](t, w).Error)
}
