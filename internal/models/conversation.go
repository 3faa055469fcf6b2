package models

import "time"

// ItemType is the kind of a conversation history entry.
type ItemType string

const (
	ItemMessage    ItemType = "message"
	ItemToolCall   ItemType = "tool_call"
	ItemToolResult ItemType = "tool_result"
	ItemStatus     ItemType = "status"
	ItemError      ItemType = "error"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationItem is one ordered entry of a session's history.
type ConversationItem struct {
	ID        string         `json:"id"`
	Person    string         `json:"-"`
	SessionID string         `json:"session_id"`
	Seq       int            `json:"seq"`
	Type      ItemType       `json:"type"`
	Role      string         `json:"role,omitempty"`
	Content   string         `json:"content,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	OK        *bool          `json:"ok,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	Message   string         `json:"message,omitempty"`
	CreatedAt time.Time      `json:"ts"`
}
