package git

import (
	"fmt"
	"os/exec"
	"strings"
)

// DefaultCommitMessage is used when a push is requested without a message.
const DefaultCommitMessage = "Sync changes"

// Client defines the version-control operations performed against the vault.
// Implementations are not safe for concurrent use on the same working tree;
// callers serialize access with the vault lock.
type Client interface {
	Pull() error
	PullFFOnly() error
	Push() error
	Commit(message string) (committed bool, err error)
	CommitAndPush(message string) error
	StatusShort() (string, error)
}

// RealClient implements Client using real git commands against one working tree.
type RealClient struct {
	root string
}

// NewClient returns a RealClient operating on the repository at root.
func NewClient(root string) *RealClient {
	return &RealClient{root: root}
}

// Root returns the working tree path.
func (c *RealClient) Root() string {
	return c.root
}

func gitCmd(path string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", path}, args...)
	out, err := exec.Command("git", fullArgs...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// StatusShort returns `git status --short --branch` output for display.
func (c *RealClient) StatusShort() (string, error) {
	return gitCmd(c.root, "status", "--short", "--branch")
}

// PullFFOnly pulls only when a fast-forward is possible.
func (c *RealClient) PullFFOnly() error {
	_, err := gitCmd(c.root, "pull", "--ff-only")
	return err
}

// Pull merges remote changes with the remote side winning conflicts.
// When the merge cannot complete it falls back to fetch + reset --hard.
func (c *RealClient) Pull() error {
	// Stale rebase/merge state from an interrupted run blocks every later pull.
	_, _ = gitCmd(c.root, "rebase", "--abort")
	_, _ = gitCmd(c.root, "merge", "--abort")

	if _, err := gitCmd(c.root, "pull", "--no-rebase", "-X", "theirs"); err == nil {
		return nil
	}

	branch, err := gitCmd(c.root, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return fmt.Errorf("current branch: %w", err)
	}
	if _, err := gitCmd(c.root, "fetch", "origin", branch); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	if _, err := gitCmd(c.root, "reset", "--hard", "origin/"+branch); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// Commit stages everything and commits. committed is false when the tree was clean.
func (c *RealClient) Commit(message string) (bool, error) {
	if message == "" {
		message = DefaultCommitMessage
	}
	if _, err := gitCmd(c.root, "add", "."); err != nil {
		return false, fmt.Errorf("stage changes: %w", err)
	}
	status, err := gitCmd(c.root, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("check status: %w", err)
	}
	if status == "" {
		return false, nil
	}
	if _, err := gitCmd(c.root, "commit", "-m", message); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// Push pushes local commits to the configured upstream.
func (c *RealClient) Push() error {
	_, err := gitCmd(c.root, "push")
	return err
}

// CommitAndPush commits pending changes and pushes them. A rejected push is
// retried once after pulling.
func (c *RealClient) CommitAndPush(message string) error {
	committed, err := c.Commit(message)
	if err != nil {
		return err
	}
	if !committed {
		return nil
	}
	if err := c.Push(); err == nil {
		return nil
	}
	if err := c.Pull(); err != nil {
		return fmt.Errorf("pull before push retry: %w", err)
	}
	if err := c.Push(); err != nil {
		return fmt.Errorf("push: %w", err)
	}
	return nil
}
