package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/sebastianbartmann/notes-editor-sub001/internal/models"
)

const (
	promptPath = "agents.md"
	configPath = "agent/config.json"
)

// DefaultSystemPrompt is used when the person has no agents.md.
const DefaultSystemPrompt = "You are a helpful assistant for a personal notes vault. Keep answers short and concrete."

// Config is the per-person agent configuration.
type Config struct {
	RuntimeMode models.RuntimeMode `json:"runtime_mode"`
	PromptPath  string             `json:"prompt_path"`
	ActionsPath string             `json:"actions_path"`
	Prompt      string             `json:"prompt"`
}

// ConfigUpdate holds the mutable fields of Config. Nil fields are kept.
type ConfigUpdate struct {
	RuntimeMode *string `json:"runtime_mode,omitempty"`
	Prompt      *string `json:"prompt,omitempty"`
}

type persistedConfig struct {
	RuntimeMode models.RuntimeMode `json:"runtime_mode"`
}

// GetConfig returns person's agent configuration.
func (s *Service) GetConfig(person string) (*Config, error) {
	pc, err := s.readPersistedConfig(person)
	if err != nil {
		return nil, err
	}

	prompt, err := s.vault.ReadFile(person, promptPath)
	if errors.Is(err, fs.ErrNotExist) {
		prompt = DefaultSystemPrompt
	} else if err != nil {
		return nil, fmt.Errorf("read prompt: %w", err)
	}

	return &Config{
		RuntimeMode: pc.RuntimeMode,
		PromptPath:  promptPath,
		ActionsPath: actionsPath,
		Prompt:      prompt,
	}, nil
}

// SaveConfig validates and applies update, then requests a push of the
// changed files.
func (s *Service) SaveConfig(person string, update ConfigUpdate) (*Config, error) {
	pc, err := s.readPersistedConfig(person)
	if err != nil {
		return nil, err
	}

	if update.RuntimeMode != nil && strings.TrimSpace(*update.RuntimeMode) != "" {
		mode := models.RuntimeMode(strings.TrimSpace(*update.RuntimeMode))
		if !mode.Valid() {
			return nil, fmt.Errorf("%w: invalid runtime_mode %q", ErrInvalidRequest, mode)
		}
		pc.RuntimeMode = mode
	}

	data, err := json.MarshalIndent(pc, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := s.vault.WriteFile(person, configPath, string(data)+"\n"); err != nil {
		return nil, fmt.Errorf("write agent config: %w", err)
	}
	if update.Prompt != nil {
		if err := s.vault.WriteFile(person, promptPath, *update.Prompt); err != nil {
			return nil, fmt.Errorf("write prompt: %w", err)
		}
	}
	if s.sync != nil {
		s.sync.TriggerPush("Update agent config")
	}

	return s.GetConfig(person)
}

func (s *Service) readPersistedConfig(person string) (*persistedConfig, error) {
	pc := &persistedConfig{RuntimeMode: s.opts.DefaultMode}
	content, err := s.vault.ReadFile(person, configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return pc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read agent config: %w", err)
	}
	if err := json.Unmarshal([]byte(content), pc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}
	if !pc.RuntimeMode.Valid() {
		pc.RuntimeMode = s.opts.DefaultMode
	}
	return pc, nil
}
