package agent

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	actionsPath    = "agent/actions"
	maxPromptBytes = 64 * 1024
)

var multiDash = regexp.MustCompile(`-+`)

// ActionMetadata is parsed from an action file's YAML front matter.
type ActionMetadata struct {
	RequiresConfirmation bool `json:"requires_confirmation" yaml:"requires_confirmation"`
	MaxSteps             int  `json:"max_steps,omitempty" yaml:"max_steps"`
}

// Action is a canned prompt stored as a markdown file under agent/actions.
type Action struct {
	ID       string         `json:"id"`
	Label    string         `json:"label"`
	Path     string         `json:"path"`
	Metadata ActionMetadata `json:"metadata"`
}

type resolvedAction struct {
	Action
	Prompt string
}

// ListActions returns person's action catalog. A missing actions directory
// yields an empty catalog.
func (s *Service) ListActions(person string) ([]Action, error) {
	entries, err := s.vault.ListDir(person, actionsPath)
	if errors.Is(err, fs.ErrNotExist) {
		return []Action{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}

	actions := make([]Action, 0, len(entries))
	seen := make(map[string]int)
	for _, entry := range entries {
		if entry.IsDir || !strings.HasSuffix(entry.Name, ".md") {
			continue
		}
		rel := path.Join(actionsPath, entry.Name)
		content, err := s.vault.ReadFile(person, rel)
		if err != nil {
			return nil, err
		}
		meta, _, err := parseAction(content)
		if err != nil {
			return nil, fmt.Errorf("invalid action %q: %w", entry.Name, err)
		}

		label := actionLabel(entry.Name)
		base := slugify(label)
		if base == "" {
			continue
		}
		id := base
		if seen[base] > 0 {
			id = fmt.Sprintf("%s-%d", base, seen[base]+1)
		}
		seen[base]++

		actions = append(actions, Action{ID: id, Label: label, Path: rel, Metadata: meta})
	}
	return actions, nil
}

func (s *Service) resolveAction(person, id string) (*resolvedAction, error) {
	actions, err := s.ListActions(person)
	if err != nil {
		return nil, err
	}
	for _, a := range actions {
		if a.ID != id {
			continue
		}
		content, err := s.vault.ReadFile(person, a.Path)
		if err != nil {
			return nil, err
		}
		meta, prompt, err := parseAction(content)
		if err != nil {
			return nil, fmt.Errorf("invalid action %q: %w", a.Label, err)
		}
		if len(prompt) > maxPromptBytes {
			return nil, fmt.Errorf("%w: action prompt exceeds %d bytes", ErrInvalidRequest, maxPromptBytes)
		}
		a.Metadata = meta
		return &resolvedAction{Action: a, Prompt: prompt}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrActionNotFound, id)
}

// parseAction splits an action file into metadata and prompt body.
func parseAction(content string) (ActionMetadata, string, error) {
	var meta ActionMetadata
	content = strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(content, "---\n") {
		return meta, strings.TrimSpace(content), nil
	}

	rest := content[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return meta, "", errors.New("front matter not terminated")
	}
	front := rest[:end]
	body := strings.TrimPrefix(rest[end+len("\n---"):], "\n")

	if err := yaml.Unmarshal([]byte(front), &meta); err != nil {
		return meta, "", fmt.Errorf("parse front matter: %w", err)
	}
	if meta.MaxSteps < 0 {
		return meta, "", errors.New("max_steps must be positive")
	}
	return meta, strings.TrimSpace(body), nil
}

func actionLabel(name string) string {
	if strings.HasSuffix(name, ".prompt.md") {
		return strings.TrimSuffix(name, ".prompt.md")
	}
	return strings.TrimSuffix(name, ".md")
}

func slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == ' ' || r == '_':
			b.WriteRune('-')
		}
	}
	return strings.Trim(multiDash.ReplaceAllString(b.String(), "-"), "-")
}
