package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_ReadWithAbsolutePath(t *testing.T) {
	n := Normalizer{PersonRoot: "/abs/notes"}

	call, err := n.Normalize("Read", map[string]any{"file_path": "/abs/notes/x.md"})
	require.NoError(t, err)
	assert.Equal(t, ReadFile, call.Tool)
	assert.Equal(t, map[string]any{"path": "x.md"}, call.Args)
}

func TestNormalize_Aliases(t *testing.T) {
	n := Normalizer{PersonRoot: "/vault/alice"}

	tests := []struct {
		name string
		args map[string]any
		want Call
	}{
		{"read_file", map[string]any{"path": "a.md"}, Call{ReadFile, map[string]any{"path": "a.md"}}},
		{"Write", map[string]any{"file_path": "b.md", "content": "x"}, Call{WriteFile, map[string]any{"path": "b.md", "content": "x"}}},
		{"LS", map[string]any{}, Call{ListDirectory, map[string]any{"path": "."}}},
		{"listDirectory", map[string]any{"path": "/vault/alice/daily"}, Call{ListDirectory, map[string]any{"path": "daily"}}},
		{"Grep", map[string]any{"query": "milk"}, Call{SearchFiles, map[string]any{"pattern": "milk"}}},
		{"Glob", map[string]any{"pattern": "**/*.md"}, Call{GlobFiles, map[string]any{"pattern": "**/*.md"}}},
		{"WebSearch", map[string]any{"q": "go 1.26"}, Call{WebSearch, map[string]any{"query": "go 1.26"}}},
		{"WebFetch", map[string]any{"url": "https://go.dev"}, Call{WebFetch, map[string]any{"url": "https://go.dev"}}},
		{"linkedin-post", map[string]any{"text": "hi"}, Call{LinkedInPost, map[string]any{"text": "hi"}}},
		{"mcp__notesd__read_file", map[string]any{"path": "a.md"}, Call{ReadFile, map[string]any{"path": "a.md"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.Normalize(tt.name, tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_Shell(t *testing.T) {
	n := Normalizer{PersonRoot: "/vault/alice"}

	call, err := n.Normalize("Bash", map[string]any{"command": "cat /vault/alice/todo.md"})
	require.NoError(t, err)
	assert.Equal(t, Call{ReadFile, map[string]any{"path": "todo.md"}}, call)

	call, err = n.Normalize("bash", map[string]any{"command": "ls -la"})
	require.NoError(t, err)
	assert.Equal(t, Call{ListDirectory, map[string]any{"path": "."}}, call)

	call, err = n.Normalize("Bash", map[string]any{"command": "ls 'daily'"})
	require.NoError(t, err)
	assert.Equal(t, Call{ListDirectory, map[string]any{"path": "daily"}}, call)

	_, err = n.Normalize("Bash", map[string]any{"command": "rm -rf /"})
	assert.ErrorIs(t, err, ErrUnsupportedTool)

	_, err = n.Normalize("Bash", map[string]any{"command": "cat a.md b.md"})
	assert.ErrorIs(t, err, ErrUnsupportedTool)

	_, err = n.Normalize("Bash", map[string]any{})
	assert.ErrorIs(t, err, ErrUnsupportedTool)
}

func TestNormalize_Unsupported(t *testing.T) {
	n := Normalizer{PersonRoot: "/vault/alice"}

	_, err := n.Normalize("delete_everything", nil)
	assert.ErrorIs(t, err, ErrUnsupportedTool)

	_, err = n.Normalize("Edit", map[string]any{"file_path": "a.md"})
	assert.ErrorIs(t, err, ErrUnsupportedTool)
}

func TestNormalize_PathOutsideVault(t *testing.T) {
	n := Normalizer{PersonRoot: "/vault/alice"}

	_, err := n.Normalize("Read", map[string]any{"file_path": "/vault/bob/secret.md"})
	assert.ErrorIs(t, err, ErrOutsideVault)

	_, err = n.Normalize("Bash", map[string]any{"command": "cat /etc/passwd"})
	assert.ErrorIs(t, err, ErrOutsideVault)
}

func TestNormalize_CanonicalArgWins(t *testing.T) {
	n := Normalizer{}
	call, err := n.Normalize("read_file", map[string]any{"path": "a.md", "file_path": "b.md"})
	require.NoError(t, err)
	assert.Equal(t, "a.md", call.Args["path"])
}

func TestIsCanonical(t *testing.T) {
	for _, s := range Specs {
		assert.True(t, IsCanonical(s.Name))
	}
	assert.Len(t, Specs, 11)
	assert.False(t, IsCanonical("Read"))
}
