package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecision(t *testing.T) {
	t.Run("final", func(t *testing.T) {
		d, err := ParseDecision(`{"type":"final","text":"Done."}`)
		require.NoError(t, err)
		assert.Equal(t, Decision{Type: DecisionFinal, Text: "Done."}, d)
	})

	t.Run("tool call in fence with prose", func(t *testing.T) {
		d, err := ParseDecision("```json\n{\"type\":\"tool_call\",\"tool\":\"Read\",\"args\":{\"file_path\":\"a.md\"}}\n```")
		require.NoError(t, err)
		assert.Equal(t, DecisionToolCall, d.Type)
		assert.Equal(t, "Read", d.Tool)
		assert.Equal(t, "a.md", d.Args["file_path"])
	})

	t.Run("tool call without args", func(t *testing.T) {
		d, err := ParseDecision(`Sure. {"type":"tool_call","tool":"ls"}`)
		require.NoError(t, err)
		assert.NotNil(t, d.Args)
	})

	for name, raw := range map[string]string{
		"not json":     "I think you should rest.",
		"bad json":     `{"type":"final",`,
		"unknown type": `{"type":"think","text":"hmm"}`,
		"empty final":  `{"type":"final","text":"  "}`,
		"no tool":      `{"type":"tool_call","args":{}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDecision(raw)
			assert.ErrorIs(t, err, ErrMalformedDecision)
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	system, user := BuildPrompt(DecisionRequest{
		Person:       "alice",
		Message:      "what is on my todo list?",
		SystemPrompt: "Be brief.",
		Transcript: []TranscriptEntry{
			{Tool: "read_file", Args: map[string]any{"path": "todo.md"}, OK: true, Summary: "- [ ] milk"},
			{Tool: "Edit", OK: false, Summary: "unsupported tool"},
		},
	})

	assert.Contains(t, system, "Be brief.")
	assert.Contains(t, system, `"type":"tool_call"`)
	assert.Contains(t, system, "read_file")
	assert.Contains(t, system, "linkedin_reply_comment")
	assert.Contains(t, system, "path (required)")

	assert.Contains(t, user, "User: alice")
	assert.Contains(t, user, "what is on my todo list?")
	assert.Contains(t, user, `1. read_file {"path":"todo.md"} -> ok: - [ ] milk`)
	assert.Contains(t, user, "2. Edit null -> error: unsupported tool")
}

func TestBuildPrompt_NoTranscript(t *testing.T) {
	_, user := BuildPrompt(DecisionRequest{Message: "hi"})
	assert.NotContains(t, user, "Tool calls so far")
	assert.NotContains(t, user, "User:")
}
