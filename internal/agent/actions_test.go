package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastianbartmann/notes-editor-sub001/internal/gateway"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/models"
)

func TestParseAction(t *testing.T) {
	meta, prompt, err := parseAction("---\nrequires_confirmation: true\nmax_steps: 5\n---\n\nPost the draft.\n")
	require.NoError(t, err)
	assert.Equal(t, ActionMetadata{RequiresConfirmation: true, MaxSteps: 5}, meta)
	assert.Equal(t, "Post the draft.", prompt)

	meta, prompt, err = parseAction("Just a prompt.")
	require.NoError(t, err)
	assert.Equal(t, ActionMetadata{}, meta)
	assert.Equal(t, "Just a prompt.", prompt)

	_, _, err = parseAction("---\nmax_steps: 2\nno end")
	assert.Error(t, err)

	_, _, err = parseAction("---\nmax_steps: many\n---\nx")
	assert.Error(t, err)

	_, _, err = parseAction("---\nmax_steps: -1\n---\nx")
	assert.Error(t, err)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "daily-review", slugify("Daily Review"))
	assert.Equal(t, "weekly-plan-2", slugify("  Weekly__Plan (2) "))
	assert.Equal(t, "", slugify("!!!"))
}

func TestListActions(t *testing.T) {
	env := newTestEnv(t, localOpts(), &fakeRuntime{mode: models.RuntimeLocal, run: replying("x")})

	actions, err := env.svc.ListActions("alice")
	require.NoError(t, err)
	assert.Empty(t, actions)

	require.NoError(t, env.vault.WriteFile("alice", "agent/actions/Daily Review.md", "---\nmax_steps: 3\n---\nReview today."))
	require.NoError(t, env.vault.WriteFile("alice", "agent/actions/daily_review.prompt.md", "Another review."))
	require.NoError(t, env.vault.WriteFile("alice", "agent/actions/notes.txt", "ignored"))
	require.NoError(t, env.vault.WriteFile("alice", "agent/actions/!!!.md", "no id"))

	actions, err = env.svc.ListActions("alice")
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, Action{
		ID:       "daily-review",
		Label:    "Daily Review",
		Path:     "agent/actions/Daily Review.md",
		Metadata: ActionMetadata{MaxSteps: 3},
	}, actions[0])
	assert.Equal(t, "daily-review-2", actions[1].ID)
	assert.Equal(t, "daily_review", actions[1].Label)
}

func TestChatStream_Action(t *testing.T) {
	rt := &fakeRuntime{mode: models.RuntimeLocal, run: replying("reviewed")}
	env := newTestEnv(t, localOpts(), rt)
	require.NoError(t, env.vault.WriteFile("alice", "agent/actions/review.md", "---\nmax_steps: 3\n---\nReview my todos."))
	ctx := context.Background()

	run, err := env.svc.ChatStream(ctx, "alice", ChatRequest{SessionID: "s1", ActionID: "review", Message: "focus on work"})
	require.NoError(t, err)
	events := drain(t, run)

	assert.Equal(t, []string{gateway.EventStart, gateway.EventStatus, gateway.EventText, gateway.EventDone}, eventTypes(events))
	assert.Equal(t, "Action max_steps=3 applied for this run", events[1].Message)

	p := rt.lastCall()
	assert.Equal(t, 3, p.MaxToolCalls)
	assert.Equal(t, "Review my todos.\n\nAdditional context:\nfocus on work", p.Message)

	_, err = env.svc.Chat(ctx, "alice", ChatRequest{SessionID: "s2", ActionID: "review"})
	require.NoError(t, err)
	assert.Equal(t, "Review my todos.", rt.lastCall().Message)

	history, err := env.svc.GetConversationHistory(ctx, "alice", "s2")
	require.NoError(t, err)
	assert.Equal(t, "Run action: review", history[0].Content)

	_, err = env.svc.Chat(ctx, "alice", ChatRequest{ActionID: "missing"})
	assert.ErrorIs(t, err, ErrActionNotFound)
}

func TestChatStream_ActionConfirmation(t *testing.T) {
	rt := &fakeRuntime{mode: models.RuntimeLocal, run: replying("posted")}
	env := newTestEnv(t, localOpts(), rt)
	require.NoError(t, env.vault.WriteFile("alice", "agent/actions/post.md", "---\nrequires_confirmation: true\n---\nPost the draft."))
	require.NoError(t, env.vault.WriteFile("alice", "agent/actions/summarize.md", "Summarize."))
	ctx := context.Background()

	resp, err := env.svc.Chat(ctx, "alice", ChatRequest{SessionID: "s1", ActionID: "post"})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmationRequired, resp.Status)
	assert.Contains(t, resp.Response, "requires confirmation")
	assert.Empty(t, rt.calls)
	assert.False(t, env.svc.IsBusy("alice", "s1"))

	run, err := env.svc.ChatStream(ctx, "alice", ChatRequest{SessionID: "s1", ActionID: "post"})
	require.NoError(t, err)
	assert.True(t, run.ConfirmationRequired)
	assert.Equal(t, []string{gateway.EventStart, gateway.EventStatus, gateway.EventDone}, eventTypes(drain(t, run)))

	// A different action is blocked while one awaits confirmation.
	_, err = env.svc.Chat(ctx, "alice", ChatRequest{SessionID: "s1", ActionID: "summarize"})
	assert.ErrorIs(t, err, ErrConfirmationPending)

	resp, err = env.svc.Chat(ctx, "alice", ChatRequest{SessionID: "s1", ActionID: "post", Confirm: true})
	require.NoError(t, err)
	assert.Equal(t, "posted", resp.Response)
	assert.Len(t, rt.calls, 1)

	// Confirming cleared the pending state.
	_, err = env.svc.Chat(ctx, "alice", ChatRequest{SessionID: "s1", ActionID: "summarize"})
	assert.NoError(t, err)
}

func TestChatStream_PlainMessageClearsConfirmation(t *testing.T) {
	rt := &fakeRuntime{mode: models.RuntimeLocal, run: replying("ok")}
	env := newTestEnv(t, localOpts(), rt)
	require.NoError(t, env.vault.WriteFile("alice", "agent/actions/post.md", "---\nrequires_confirmation: true\n---\nPost."))
	require.NoError(t, env.vault.WriteFile("alice", "agent/actions/summarize.md", "Summarize."))
	ctx := context.Background()

	_, err := env.svc.Chat(ctx, "alice", ChatRequest{SessionID: "s1", ActionID: "post"})
	require.NoError(t, err)

	_, err = env.svc.Chat(ctx, "alice", ChatRequest{SessionID: "s1", Message: "never mind"})
	require.NoError(t, err)

	_, err = env.svc.Chat(ctx, "alice", ChatRequest{SessionID: "s1", ActionID: "summarize"})
	assert.NoError(t, err)
}
