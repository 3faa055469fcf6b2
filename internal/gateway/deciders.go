package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Decider asks a decision-making runtime for the next step of a run.
type Decider interface {
	Name() string
	Decide(ctx context.Context, req DecisionRequest) (Decision, error)
}

// ErrDeciderAuth reports that the runtime rejected its credentials.
var ErrDeciderAuth = errors.New("decision runtime authentication failed")

// MockDecider is a deterministic runtime for development and tests. It
// lists files when asked to, reads a file when asked to, and otherwise
// echoes the message back.
type MockDecider struct{}

func (MockDecider) Name() string { return "mock" }

func (MockDecider) Decide(ctx context.Context, req DecisionRequest) (Decision, error) {
	msg := strings.ToLower(req.Message)
	if len(req.Transcript) == 0 {
		switch {
		case strings.Contains(msg, "file") && (strings.Contains(msg, "list") || strings.Contains(msg, "show")):
			return Decision{Type: DecisionToolCall, Tool: "list_directory", Args: map[string]any{"path": "."}}, nil
		case strings.HasPrefix(msg, "read "):
			path := strings.TrimSpace(req.Message[len("read "):])
			return Decision{Type: DecisionToolCall, Tool: "read_file", Args: map[string]any{"path": path}}, nil
		}
		return Decision{Type: DecisionFinal, Text: "You said: " + req.Message}, nil
	}

	last := req.Transcript[len(req.Transcript)-1]
	if !last.OK {
		return Decision{Type: DecisionFinal, Text: "That did not work: " + last.Summary}, nil
	}
	if last.Tool == "list_directory" {
		return Decision{Type: DecisionFinal, Text: "Here are your files: " + last.Summary}, nil
	}
	return Decision{Type: DecisionFinal, Text: last.Summary}, nil
}

// CLIDecider runs an LLM command-line client once per decision, feeding the
// prompt on stdin and parsing the decision from stdout.
type CLIDecider struct {
	Command string
	Args    []string
}

// NewCLIDecider returns a decider for command. With no args it uses the
// print mode flags of the claude CLI.
func NewCLIDecider(command string, args ...string) *CLIDecider {
	if len(args) == 0 {
		args = []string{"-p", "--output-format", "text"}
	}
	return &CLIDecider{Command: command, Args: args}
}

func (d *CLIDecider) Name() string { return "cli" }

func (d *CLIDecider) Decide(ctx context.Context, req DecisionRequest) (Decision, error) {
	system, user := BuildPrompt(req)

	cmd := exec.CommandContext(ctx, d.Command, d.Args...)
	cmd.Stdin = strings.NewReader(system + "\n\n" + user)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return Decision{}, ctx.Err()
	}
	combined := stdout.String() + "\n" + stderr.String()
	if isAuthFailure(combined) {
		return Decision{}, fmt.Errorf("%w: %s", ErrDeciderAuth, truncate(strings.TrimSpace(combined), 300))
	}
	if err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		return Decision{}, fmt.Errorf("%s failed: %w: %s", d.Command, err, truncate(detail, 300))
	}
	return ParseDecision(stdout.String())
}

var authFailureMarkers = []string{
	"not logged in",
	"please run /login",
	"invalid api key",
	"authentication_error",
	"oauth token has expired",
}

func isAuthFailure(output string) bool {
	lower := strings.ToLower(output)
	for _, m := range authFailureMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Completer is the subset of the LLM client used by AnthropicDecider.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// AnthropicDecider asks the Anthropic Messages API for each decision.
type AnthropicDecider struct {
	LLM Completer
}

func (d *AnthropicDecider) Name() string { return "anthropic" }

func (d *AnthropicDecider) Decide(ctx context.Context, req DecisionRequest) (Decision, error) {
	system, user := BuildPrompt(req)
	text, err := d.LLM.Complete(ctx, system, user)
	if err != nil {
		return Decision{}, err
	}
	return ParseDecision(text)
}
