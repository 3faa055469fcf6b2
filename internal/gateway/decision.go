package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sebastianbartmann/notes-editor-sub001/internal/llm"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/tools"
)

// Decision kinds.
const (
	DecisionFinal    = "final"
	DecisionToolCall = "tool_call"
)

// ErrMalformedDecision is returned for runtime output that is not a valid
// decision object.
var ErrMalformedDecision = errors.New("malformed decision")

// Decision is the runtime's answer for one loop iteration.
type Decision struct {
	Type string         `json:"type"`
	Text string         `json:"text,omitempty"`
	Tool string         `json:"tool,omitempty"`
	Args map[string]any `json:"args,omitempty"`
}

// TranscriptEntry records one tool call of the current run.
type TranscriptEntry struct {
	Tool    string         `json:"tool"`
	Args    map[string]any `json:"args,omitempty"`
	OK      bool           `json:"ok"`
	Summary string         `json:"summary"`
}

// DecisionRequest is everything a runtime sees when deciding the next step.
type DecisionRequest struct {
	Person       string
	SessionID    string
	Message      string
	SystemPrompt string
	Transcript   []TranscriptEntry
}

// ParseDecision decodes runtime output into a Decision. Surrounding prose
// and code fences are tolerated; the first JSON object is used.
func ParseDecision(raw string) (Decision, error) {
	text := llm.StripFences(raw)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return Decision{}, fmt.Errorf("%w: no JSON object in %q", ErrMalformedDecision, truncate(raw, 200))
	}

	var d Decision
	if err := json.Unmarshal([]byte(text[start:end+1]), &d); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrMalformedDecision, err)
	}
	switch d.Type {
	case DecisionFinal:
		if strings.TrimSpace(d.Text) == "" {
			return Decision{}, fmt.Errorf("%w: final without text", ErrMalformedDecision)
		}
	case DecisionToolCall:
		if strings.TrimSpace(d.Tool) == "" {
			return Decision{}, fmt.Errorf("%w: tool_call without tool", ErrMalformedDecision)
		}
		if d.Args == nil {
			d.Args = map[string]any{}
		}
	default:
		return Decision{}, fmt.Errorf("%w: unknown type %q", ErrMalformedDecision, d.Type)
	}
	return d, nil
}

const protocolInstructions = `You are operating a personal notes vault on behalf of the user.
Answer with exactly one JSON object and nothing else, in one of two forms:
{"type":"tool_call","tool":"<tool name>","args":{...}}
{"type":"final","text":"<reply to the user>"}
Use a tool_call when you need information or must change a file. Use final once you can answer.
All paths are relative to the user's vault root.`

// BuildPrompt renders the system and user prompts for one decision.
func BuildPrompt(req DecisionRequest) (system, user string) {
	var sb strings.Builder
	if s := strings.TrimSpace(req.SystemPrompt); s != "" {
		sb.WriteString(s)
		sb.WriteString("\n\n")
	}
	sb.WriteString(protocolInstructions)
	sb.WriteString("\n\nAvailable tools:\n")
	for _, spec := range tools.Specs {
		sb.WriteString("- ")
		sb.WriteString(spec.Name)
		sb.WriteString(": ")
		sb.WriteString(spec.Description)
		if len(spec.Params) > 0 {
			var params []string
			for _, p := range spec.Params {
				s := p.Name
				if p.Required {
					s += " (required)"
				}
				params = append(params, s)
			}
			sb.WriteString(" Args: ")
			sb.WriteString(strings.Join(params, ", "))
		}
		sb.WriteString("\n")
	}
	system = sb.String()

	sb.Reset()
	if req.Person != "" {
		sb.WriteString("User: ")
		sb.WriteString(req.Person)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Message:\n")
	sb.WriteString(req.Message)
	sb.WriteString("\n")
	if len(req.Transcript) > 0 {
		sb.WriteString("\nTool calls so far:\n")
		for i, e := range req.Transcript {
			args, _ := json.Marshal(e.Args)
			status := "ok"
			if !e.OK {
				status = "error"
			}
			fmt.Fprintf(&sb, "%d. %s %s -> %s: %s\n", i+1, e.Tool, args, status, e.Summary)
		}
	}
	user = sb.String()
	return system, user
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
