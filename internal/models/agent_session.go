package models

import "time"

// RuntimeMode selects where an agent session's decision loop runs.
type RuntimeMode string

const (
	RuntimeGateway RuntimeMode = "gateway"
	RuntimeLocal   RuntimeMode = "local"
)

// Valid reports whether m is a known runtime mode.
func (m RuntimeMode) Valid() bool {
	return m == RuntimeGateway || m == RuntimeLocal
}

// AgentSession is one persisted conversation between a person and the agent.
type AgentSession struct {
	ID          string      `json:"session_id"`
	Person      string      `json:"-"`
	Name        string      `json:"name"`
	RuntimeMode RuntimeMode `json:"runtime_mode"`
	CreatedAt   time.Time   `json:"created_at"`
	LastUsedAt  time.Time   `json:"last_used_at"`
}

// SessionSummary is an AgentSession with the aggregates shown in listings.
type SessionSummary struct {
	AgentSession
	MessageCount int    `json:"message_count"`
	LastPreview  string `json:"last_preview"`
}
