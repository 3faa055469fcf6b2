package agent

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastianbartmann/notes-editor-sub001/internal/gateway"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/models"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/store"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/vault"
)

type runFunc func(ctx context.Context, p RunParams, emit func(gateway.Event)) error

type fakeRuntime struct {
	mode models.RuntimeMode
	run  runFunc

	mu    sync.Mutex
	calls []RunParams
}

func (f *fakeRuntime) Mode() models.RuntimeMode { return f.mode }

func (f *fakeRuntime) Available(ctx context.Context) error { return nil }

func (f *fakeRuntime) Run(ctx context.Context, p RunParams, emit func(gateway.Event)) error {
	f.mu.Lock()
	f.calls = append(f.calls, p)
	f.mu.Unlock()
	return f.run(ctx, p, emit)
}

func (f *fakeRuntime) lastCall() RunParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func replying(text string) runFunc {
	return func(ctx context.Context, p RunParams, emit func(gateway.Event)) error {
		emit(gateway.Event{Type: gateway.EventText, RunID: p.RunID, Delta: text})
		return nil
	}
}

func waitForCancel(ctx context.Context, p RunParams, emit func(gateway.Event)) error {
	<-ctx.Done()
	return gateway.ErrStreamCancelled
}

type fakePusher struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakePusher) TriggerPush(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
}

type testEnv struct {
	svc    *Service
	vault  *vault.Store
	store  *store.SQLiteStore
	pusher *fakePusher
}

func newTestEnv(t *testing.T, opts Options, runtimes ...Runtime) *testEnv {
	t.Helper()
	dir := t.TempDir()

	st, err := store.NewSQLiteStore(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	v := vault.NewStore(filepath.Join(dir, "notes"))
	p := &fakePusher{}
	return &testEnv{svc: NewService(v, st, p, runtimes, opts), vault: v, store: st, pusher: p}
}

func localOpts() Options {
	return Options{DefaultMode: models.RuntimeLocal}
}

func drain(t *testing.T, run *StreamRun) []gateway.Event {
	t.Helper()
	var events []gateway.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-run.Events:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("run did not finish")
		}
	}
}

func eventTypes(events []gateway.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func TestChatStream_NewSession(t *testing.T) {
	rt := &fakeRuntime{mode: models.RuntimeLocal, run: replying("Hello there")}
	env := newTestEnv(t, localOpts(), rt)
	ctx := context.Background()

	run, err := env.svc.ChatStream(ctx, "alice", ChatRequest{Message: "say hi"})
	require.NoError(t, err)
	require.NotEmpty(t, run.SessionID)
	require.NotEmpty(t, run.RunID)

	events := drain(t, run)
	assert.Equal(t, []string{gateway.EventStart, gateway.EventText, gateway.EventDone}, eventTypes(events))
	assert.Equal(t, run.SessionID, events[0].SessionID)
	assert.Equal(t, run.RunID, events[0].RunID)
	assert.Equal(t, run.SessionID, events[2].SessionID)

	p := rt.lastCall()
	assert.Equal(t, "say hi", p.Message)
	assert.Equal(t, "alice", p.Person)
	assert.Equal(t, DefaultMaxToolCalls, p.MaxToolCalls)
	assert.Equal(t, DefaultSystemPrompt, p.SystemPrompt)

	history, err := env.svc.GetConversationHistory(ctx, "alice", run.SessionID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.RoleUser, history[0].Role)
	assert.Equal(t, "say hi", history[0].Content)
	assert.Equal(t, models.RoleAssistant, history[1].Role)
	assert.Equal(t, "Hello there", history[1].Content)

	sessions, err := env.svc.ListSessions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "say hi", sessions[0].Name)
	assert.Equal(t, models.RuntimeLocal, sessions[0].RuntimeMode)
	assert.Equal(t, 2, sessions[0].MessageCount)
	assert.Equal(t, "Hello there", sessions[0].LastPreview)
}

func TestChatStream_RequiresMessage(t *testing.T) {
	env := newTestEnv(t, localOpts(), &fakeRuntime{mode: models.RuntimeLocal, run: replying("x")})
	_, err := env.svc.ChatStream(context.Background(), "alice", ChatRequest{Message: "   "})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestChatStream_BusySessionRejected(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	rt := &fakeRuntime{mode: models.RuntimeLocal, run: func(ctx context.Context, p RunParams, emit func(gateway.Event)) error {
		close(started)
		<-release
		emit(gateway.Event{Type: gateway.EventText, RunID: p.RunID, Delta: "done"})
		return nil
	}}
	env := newTestEnv(t, localOpts(), rt)
	ctx := context.Background()

	first, err := env.svc.ChatStream(ctx, "alice", ChatRequest{SessionID: "s1", Message: "one"})
	require.NoError(t, err)
	<-started

	_, err = env.svc.ChatStream(ctx, "alice", ChatRequest{SessionID: "s1", Message: "two"})
	assert.ErrorIs(t, err, ErrSessionBusy)
	_, err = env.svc.Chat(ctx, "alice", ChatRequest{SessionID: "s1", Message: "three"})
	assert.ErrorIs(t, err, ErrSessionBusy)
	assert.ErrorIs(t, env.svc.ClearSession(ctx, "alice", "s1"), ErrSessionBusy)

	// Same id for another person is a different session.
	rt.run = replying("bob")
	other, err := env.svc.ChatStream(ctx, "bob", ChatRequest{SessionID: "s1", Message: "hi"})
	require.NoError(t, err)
	drain(t, other)

	close(release)
	for ev := range first.Events {
		if ev.Type == gateway.EventDone {
			assert.False(t, env.svc.IsBusy("alice", "s1"), "busy must be cleared before done")
		}
	}

	history, err := env.svc.GetConversationHistory(ctx, "alice", "s1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "one", history[0].Content)

	rt.run = replying("again")
	resp, err := env.svc.Chat(ctx, "alice", ChatRequest{SessionID: "s1", Message: "four"})
	require.NoError(t, err)
	assert.Equal(t, "again", resp.Response)
}

func TestChatStream_RuntimeErrorReleasesSession(t *testing.T) {
	rt := &fakeRuntime{mode: models.RuntimeLocal, run: func(ctx context.Context, p RunParams, emit func(gateway.Event)) error {
		return errors.New("decision runtime (cli): boom")
	}}
	env := newTestEnv(t, localOpts(), rt)

	run, err := env.svc.ChatStream(context.Background(), "alice", ChatRequest{SessionID: "s1", Message: "x"})
	require.NoError(t, err)
	events := drain(t, run)

	assert.Equal(t, []string{gateway.EventStart, gateway.EventError, gateway.EventDone}, eventTypes(events))
	assert.Equal(t, "decision runtime (cli): boom", events[1].Message)
	assert.False(t, env.svc.IsBusy("alice", "s1"))
	assert.Empty(t, env.svc.ListActiveRuns("alice"))

	history, err := env.svc.GetConversationHistory(context.Background(), "alice", "s1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.ItemError, history[1].Type)
}

func TestChatStream_PanicReleasesSession(t *testing.T) {
	rt := &fakeRuntime{mode: models.RuntimeLocal, run: func(ctx context.Context, p RunParams, emit func(gateway.Event)) error {
		panic("runtime bug")
	}}
	env := newTestEnv(t, localOpts(), rt)

	run, err := env.svc.ChatStream(context.Background(), "alice", ChatRequest{SessionID: "s1", Message: "x"})
	require.NoError(t, err)
	events := drain(t, run)

	assert.Equal(t, []string{gateway.EventStart, gateway.EventError, gateway.EventDone}, eventTypes(events))
	assert.Contains(t, events[1].Message, "runtime bug")
	assert.False(t, env.svc.IsBusy("alice", "s1"))
}

func TestStopRun(t *testing.T) {
	started := make(chan struct{})
	rt := &fakeRuntime{mode: models.RuntimeLocal, run: func(ctx context.Context, p RunParams, emit func(gateway.Event)) error {
		close(started)
		return waitForCancel(ctx, p, emit)
	}}
	env := newTestEnv(t, localOpts(), rt)

	run, err := env.svc.ChatStream(context.Background(), "alice", ChatRequest{SessionID: "s1", Message: "x"})
	require.NoError(t, err)
	<-started

	active := env.svc.ListActiveRuns("alice")
	require.Len(t, active, 1)
	assert.Equal(t, run.RunID, active[0].RunID)
	assert.Equal(t, "s1", active[0].SessionID)
	assert.Empty(t, env.svc.ListActiveRuns("bob"))

	assert.False(t, env.svc.StopRun("bob", run.RunID))
	assert.False(t, env.svc.StopRun("alice", "unknown"))
	assert.True(t, env.svc.StopRun("alice", run.RunID))

	events := drain(t, run)
	assert.Equal(t, []string{gateway.EventStart, gateway.EventError, gateway.EventDone}, eventTypes(events))
	assert.Equal(t, gateway.MsgStreamCancelled, events[1].Message)
	assert.Empty(t, env.svc.ListActiveRuns("alice"))
	assert.False(t, env.svc.IsBusy("alice", "s1"))
}

func TestChatStream_ClientDisconnectCancels(t *testing.T) {
	env := newTestEnv(t, localOpts(), &fakeRuntime{mode: models.RuntimeLocal, run: waitForCancel})
	ctx, cancel := context.WithCancel(context.Background())

	run, err := env.svc.ChatStream(ctx, "alice", ChatRequest{Message: "x"})
	require.NoError(t, err)
	cancel()

	events := drain(t, run)
	assert.Equal(t, gateway.MsgStreamCancelled, events[len(events)-2].Message)
}

func TestChatStream_RunTimeout(t *testing.T) {
	opts := localOpts()
	opts.MaxRunDuration = 50 * time.Millisecond
	env := newTestEnv(t, opts, &fakeRuntime{mode: models.RuntimeLocal, run: waitForCancel})

	run, err := env.svc.ChatStream(context.Background(), "alice", ChatRequest{Message: "x"})
	require.NoError(t, err)

	events := drain(t, run)
	assert.Equal(t, []string{gateway.EventStart, gateway.EventError, gateway.EventDone}, eventTypes(events))
	assert.Equal(t, MsgRunTimedOut, events[1].Message)
}

func TestChatStream_FallbackToLocal(t *testing.T) {
	gw := &fakeRuntime{mode: models.RuntimeGateway, run: func(ctx context.Context, p RunParams, emit func(gateway.Event)) error {
		return &RuntimeUnavailableError{Mode: models.RuntimeGateway, Reason: "connection refused"}
	}}
	local := &fakeRuntime{mode: models.RuntimeLocal, run: replying("local answer")}
	env := newTestEnv(t, Options{AllowFallback: true}, gw, local)

	run, err := env.svc.ChatStream(context.Background(), "alice", ChatRequest{SessionID: "s1", Message: "x"})
	require.NoError(t, err)
	events := drain(t, run)

	assert.Equal(t, []string{gateway.EventStart, gateway.EventStatus, gateway.EventText, gateway.EventDone}, eventTypes(events))
	assert.Equal(t, fallbackStatus, events[1].Message)
	assert.Len(t, local.calls, 1)

	sess, err := env.store.GetSession(context.Background(), "alice", "s1")
	require.NoError(t, err)
	assert.Equal(t, models.RuntimeLocal, sess.RuntimeMode)
}

func TestChatStream_NoFallbackWhenDisabled(t *testing.T) {
	gw := &fakeRuntime{mode: models.RuntimeGateway, run: func(ctx context.Context, p RunParams, emit func(gateway.Event)) error {
		return &RuntimeUnavailableError{Mode: models.RuntimeGateway, Reason: "connection refused"}
	}}
	local := &fakeRuntime{mode: models.RuntimeLocal, run: replying("x")}
	env := newTestEnv(t, Options{AllowFallback: false}, gw, local)

	_, err := env.svc.Chat(context.Background(), "alice", ChatRequest{Message: "x"})
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Contains(t, runErr.Message, "unavailable")
	assert.Empty(t, local.calls)
}

func TestChatStream_NoFallbackAfterOutput(t *testing.T) {
	gw := &fakeRuntime{mode: models.RuntimeGateway, run: func(ctx context.Context, p RunParams, emit func(gateway.Event)) error {
		emit(gateway.Event{Type: gateway.EventText, RunID: p.RunID, Delta: "partial"})
		return &RuntimeUnavailableError{Mode: models.RuntimeGateway, Reason: "stream broke"}
	}}
	local := &fakeRuntime{mode: models.RuntimeLocal, run: replying("x")}
	env := newTestEnv(t, Options{AllowFallback: true}, gw, local)

	run, err := env.svc.ChatStream(context.Background(), "alice", ChatRequest{Message: "x"})
	require.NoError(t, err)
	events := drain(t, run)
	assert.Equal(t, []string{gateway.EventStart, gateway.EventText, gateway.EventError, gateway.EventDone}, eventTypes(events))
	assert.Empty(t, local.calls)
}

func TestChat_Aggregates(t *testing.T) {
	rt := &fakeRuntime{mode: models.RuntimeLocal, run: func(ctx context.Context, p RunParams, emit func(gateway.Event)) error {
		emit(gateway.Event{Type: gateway.EventText, RunID: p.RunID, Delta: "Hello, "})
		emit(gateway.Event{Type: gateway.EventText, RunID: p.RunID, Delta: "world"})
		return nil
	}}
	env := newTestEnv(t, localOpts(), rt)

	resp, err := env.svc.Chat(context.Background(), "alice", ChatRequest{SessionID: "s1", Message: "x"})
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", resp.Response)
	assert.Equal(t, "s1", resp.SessionID)
	assert.NotEmpty(t, resp.RunID)
	assert.Empty(t, resp.Status)
}

func TestChatStream_RecordsToolItems(t *testing.T) {
	rt := &fakeRuntime{mode: models.RuntimeLocal, run: func(ctx context.Context, p RunParams, emit func(gateway.Event)) error {
		emit(gateway.Event{Type: gateway.EventText, RunID: p.RunID, Delta: "Let me look."})
		emit(gateway.Event{Type: gateway.EventToolCall, RunID: p.RunID, ID: "c1", Tool: "list_directory", Args: map[string]any{"path": "."}})
		emit(gateway.Event{Type: gateway.EventToolResult, RunID: p.RunID, ID: "c1", Tool: "list_directory", OK: gateway.Bool(true), Summary: "[]"})
		emit(gateway.Event{Type: gateway.EventText, RunID: p.RunID, Delta: "Empty."})
		return nil
	}}
	env := newTestEnv(t, localOpts(), rt)

	_, err := env.svc.Chat(context.Background(), "alice", ChatRequest{SessionID: "s1", Message: "ls"})
	require.NoError(t, err)

	history, err := env.svc.GetConversationHistory(context.Background(), "alice", "s1")
	require.NoError(t, err)
	var types []models.ItemType
	for _, item := range history {
		types = append(types, item.Type)
	}
	assert.Equal(t, []models.ItemType{
		models.ItemMessage, models.ItemMessage, models.ItemToolCall, models.ItemToolResult, models.ItemMessage,
	}, types)
	assert.Equal(t, "Let me look.", history[1].Content)
	assert.Equal(t, map[string]any{"path": "."}, history[2].Args)
	require.NotNil(t, history[3].OK)
	assert.True(t, *history[3].OK)
	assert.Equal(t, "Empty.", history[4].Content)
}

func TestClearSession(t *testing.T) {
	env := newTestEnv(t, localOpts(), &fakeRuntime{mode: models.RuntimeLocal, run: replying("ok")})
	ctx := context.Background()

	for _, person := range []string{"alice", "bob"} {
		_, err := env.svc.Chat(ctx, person, ChatRequest{SessionID: "s1", Message: "hi"})
		require.NoError(t, err)
	}

	assert.NoError(t, env.svc.ClearSession(ctx, "alice", "unknown"))
	assert.ErrorIs(t, env.svc.ClearSession(ctx, "alice", " "), ErrInvalidRequest)
	require.NoError(t, env.svc.ClearSession(ctx, "alice", "s1"))

	history, err := env.svc.GetConversationHistory(ctx, "alice", "s1")
	require.NoError(t, err)
	assert.Empty(t, history)

	history, err = env.svc.GetConversationHistory(ctx, "bob", "s1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestClearAllSessions(t *testing.T) {
	env := newTestEnv(t, localOpts(), &fakeRuntime{mode: models.RuntimeLocal, run: replying("ok")})
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		_, err := env.svc.Chat(ctx, "alice", ChatRequest{SessionID: id, Message: "hi"})
		require.NoError(t, err)
	}
	n, err := env.svc.ClearAllSessions(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	sessions, err := env.svc.ListSessions(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestSessionNames(t *testing.T) {
	assert.Equal(t, "Session 3", sessionName("  \n ", 3))
	assert.Equal(t, "buy milk and eggs", sessionName("buy  milk\nand eggs", 1))

	long := sessionName(strings.Repeat("word ", 40), 1)
	assert.LessOrEqual(t, len([]rune(long)), maxSessionNameLen)
	assert.True(t, strings.HasSuffix(long, "..."))
}
