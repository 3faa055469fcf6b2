package background

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// CommandRunner runs one subcommand of the external indexer. Implementations
// must honour ctx cancellation and deadlines.
type CommandRunner interface {
	Run(ctx context.Context, args ...string) (stdout string, err error)
}

// IndexCommandError describes a failed indexer invocation. Output carries
// stderr, or stdout when stderr was empty.
type IndexCommandError struct {
	Subcommand string
	Err        error
	Output     string
}

func (e *IndexCommandError) Error() string {
	msg := "qmd " + e.Subcommand + " failed: " + e.Err.Error()
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *IndexCommandError) Unwrap() error { return e.Err }

// ExecRunner runs the indexer as a subprocess.
type ExecRunner struct {
	Command string
}

// NewExecRunner returns an ExecRunner for command, defaulting to qmd.
func NewExecRunner(command string) *ExecRunner {
	if strings.TrimSpace(command) == "" {
		command = DefaultIndexCommand
	}
	return &ExecRunner{Command: command}
}

// Run executes the command with args and returns its trimmed stdout.
func (r *ExecRunner) Run(ctx context.Context, args ...string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("no index command arguments")
	}
	cmd := exec.CommandContext(ctx, r.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		out := strings.TrimSpace(stderr.String())
		if out == "" {
			out = strings.TrimSpace(stdout.String())
		}
		return "", &IndexCommandError{Subcommand: args[0], Err: err, Output: out}
	}
	return strings.TrimSpace(stdout.String()), nil
}
