package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sebastianbartmann/notes-editor-sub001/internal/vault"
)

// SummaryLimit bounds tool_result summaries and transcript entries.
const SummaryLimit = 400

// Result is the outcome of one tool execution.
type Result struct {
	OK      bool   `json:"ok"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Summary returns a short, single-line description of the result.
func (r Result) Summary() string {
	text := r.Content
	if !r.OK {
		text = r.Error
	}
	text = strings.Join(strings.Fields(text), " ")
	if len([]rune(text)) > SummaryLimit {
		return truncateRunes(text, SummaryLimit) + "..."
	}
	return text
}

// Social is the posting backend for the linkedin_* tools.
type Social interface {
	Configured() bool
	Post(ctx context.Context, text string) (string, error)
	ReadComments(ctx context.Context, postURN string) (string, error)
	Comment(ctx context.Context, postURN, text, parentURN string) (string, error)
}

// WriteHook is called after a successful write_file.
type WriteHook func(person, path string)

// Toolbox holds the shared dependencies of per-person executors.
type Toolbox struct {
	Store   *vault.Store
	Web     *Web
	Social  Social
	OnWrite WriteHook
}

// For returns an executor scoped to person.
func (tb *Toolbox) For(person string) *Executor {
	return &Executor{tb: tb, person: person}
}

// Normalizer returns a Normalizer rooted at person's vault directory.
func (tb *Toolbox) Normalizer(person string) Normalizer {
	return Normalizer{PersonRoot: tb.Store.PersonRoot(person)}
}

// Executor runs canonical tools inside one person's vault.
type Executor struct {
	tb     *Toolbox
	person string
}

// Person returns the person the executor is scoped to.
func (e *Executor) Person() string {
	return e.person
}

// Execute runs call. Failures, including panics, are reported as a Result
// with OK false; Execute itself never panics.
func (e *Executor) Execute(ctx context.Context, call Call) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tool panicked", "tool", call.Tool, "person", e.person, "panic", r)
			res = Result{OK: false, Error: fmt.Sprintf("tool %s failed: internal error", call.Tool)}
		}
	}()

	content, err := e.dispatch(ctx, call)
	if err != nil {
		return Result{OK: false, Error: err.Error()}
	}
	return Result{OK: true, Content: content}
}

func (e *Executor) dispatch(ctx context.Context, call Call) (string, error) {
	args := call.Args
	switch call.Tool {
	case ReadFile:
		path, err := requireString(args, "path")
		if err != nil {
			return "", err
		}
		return e.tb.Store.ReadFile(e.person, path)

	case WriteFile:
		path, err := requireString(args, "path")
		if err != nil {
			return "", err
		}
		content, ok := args["content"].(string)
		if !ok {
			return "", errors.New("content is required")
		}
		if err := e.tb.Store.WriteFile(e.person, path, content); err != nil {
			return "", err
		}
		if e.tb.OnWrite != nil {
			e.tb.OnWrite(e.person, path)
		}
		return "File written successfully", nil

	case ListDirectory:
		path := optionalString(args, "path", ".")
		entries, err := e.tb.Store.ListDir(e.person, path)
		if err != nil {
			return "", err
		}
		return marshal(entries)

	case SearchFiles:
		pattern, err := requireString(args, "pattern")
		if err != nil {
			return "", err
		}
		results, err := e.tb.Store.Search(e.person, pattern, optionalString(args, "path", "."))
		if err != nil {
			return "", err
		}
		return marshal(results)

	case GlobFiles:
		pattern, err := requireString(args, "pattern")
		if err != nil {
			return "", err
		}
		limit := 0
		if v, ok := args["limit"].(float64); ok {
			limit = int(v)
		}
		matches, err := e.tb.Store.Glob(e.person, pattern, optionalString(args, "path", "."), limit)
		if err != nil {
			return "", err
		}
		return marshal(matches)

	case WebSearch:
		if e.tb.Web == nil {
			return "", errors.New("web tools are not configured")
		}
		query, err := requireString(args, "query")
		if err != nil {
			return "", err
		}
		return e.tb.Web.Search(ctx, query)

	case WebFetch:
		if e.tb.Web == nil {
			return "", errors.New("web tools are not configured")
		}
		u, err := requireString(args, "url")
		if err != nil {
			return "", err
		}
		return e.tb.Web.Fetch(ctx, u)

	case LinkedInPost, LinkedInReadComments, LinkedInPostComment, LinkedInReplyComment:
		return e.social(ctx, call)
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedTool, call.Tool)
}

func (e *Executor) social(ctx context.Context, call Call) (string, error) {
	if e.tb.Social == nil || !e.tb.Social.Configured() {
		return "", errors.New("linkedin is not configured")
	}
	args := call.Args
	switch call.Tool {
	case LinkedInPost:
		text, err := requireString(args, "text")
		if err != nil {
			return "", err
		}
		id, err := e.tb.Social.Post(ctx, text)
		if err != nil {
			return "", err
		}
		return "Posted " + id, nil
	case LinkedInReadComments:
		urn, err := requireString(args, "post_urn")
		if err != nil {
			return "", err
		}
		return e.tb.Social.ReadComments(ctx, urn)
	default:
		urn, err := requireString(args, "post_urn")
		if err != nil {
			return "", err
		}
		text, err := requireString(args, "text")
		if err != nil {
			return "", err
		}
		parent := ""
		if call.Tool == LinkedInReplyComment {
			if parent, err = requireString(args, "parent_comment_urn"); err != nil {
				return "", err
			}
		}
		return e.tb.Social.Comment(ctx, urn, text, parent)
	}
}

func requireString(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

func optionalString(args map[string]any, key, fallback string) string {
	if v, ok := args[key].(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func marshal(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
