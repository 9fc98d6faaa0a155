// Package store holds the canonical per-session aggregate: agents,
// conversations, messages, and workspace status. It is the single source
// of truth every other component reads; each component writes only its
// own slice of it, and all writes arrive through dispatch handlers.
package store

import (
	"time"

	"github.com/agentsync-dev/agentsync/wire"
)

// SessionStatus is the lifecycle status of a loaded session.
type SessionStatus string

const (
	SessionPending SessionStatus = "pending"
	SessionRunning SessionStatus = "running"
	SessionStopped SessionStatus = "stopped"
	SessionError   SessionStatus = "error"
)

// AgentState is an agent's activity status.
type AgentState string

const (
	AgentIdle   AgentState = "idle"
	AgentActive AgentState = "active"
	AgentError  AgentState = "error"
)

// Session is a read snapshot of one loaded session.
type Session struct {
	// ID is the unique session identifier.
	ID string `json:"id"`
	// WorkspaceID references the cloud workspace the session runs in.
	WorkspaceID string `json:"workspaceId"`
	// Status is the session lifecycle status.
	Status SessionStatus `json:"status"`
	// WorkspaceStatus mirrors the workspace_status event; last write wins.
	WorkspaceStatus string `json:"workspaceStatus,omitempty"`
	// BillingStandby is set when the workspace was parked by billing.
	BillingStandby bool `json:"billingStandby,omitempty"`
	// Restoring marks a checkpoint restore in progress.
	Restoring bool `json:"restoring,omitempty"`
	// Agents in insertion order.
	Agents []Agent `json:"agents"`
	// Conversations in insertion order.
	Conversations []Conversation `json:"conversations"`
}

// Agent is an AI worker inside a session.
type Agent struct {
	// ID is unique within the session.
	ID string `json:"id"`
	// Name is the display name.
	Name string `json:"name"`
	// Role describes what the agent does (e.g. "coder", "reviewer").
	Role string `json:"role"`
	// Model is the model identifier driving the agent.
	Model string `json:"model"`
	// Status is the agent's activity status.
	Status AgentState `json:"status"`
	// Mode is the agent's operating mode.
	Mode string `json:"mode,omitempty"`
	// PreviousMode remembers the mode before an automatic switch so the
	// agent can be switched back.
	PreviousMode string `json:"previousMode,omitempty"`
	// ConversationID is the attached conversation, if any. An agent has
	// at most one attached conversation at a time.
	ConversationID string `json:"conversationId,omitempty"`
	// ThinkingEnabled toggles the reasoning channel.
	ThinkingEnabled bool `json:"thinkingEnabled,omitempty"`
	// ThinkingBudget caps reasoning tokens when thinking is enabled.
	ThinkingBudget int `json:"thinkingBudget,omitempty"`
	// LastError holds the most recent error report, if status is error.
	LastError string `json:"lastError,omitempty"`
}

// Conversation is an ordered message thread. A conversation may be
// attached to any number of agents and outlives every attachment.
type Conversation struct {
	// ID is unique within the session.
	ID string `json:"id"`
	// Name is the display name.
	Name string `json:"name"`
	// AgentIDs are the agents currently attached.
	AgentIDs []string `json:"agentIds"`
	// MessageCount is the number of stored messages.
	MessageCount int `json:"messageCount"`
	// LastMessageAt is the timestamp of the newest message.
	LastMessageAt time.Time `json:"lastMessageAt,omitempty"`
	// Messages in insertion order. Populated on snapshot reads only.
	Messages []Message `json:"messages,omitempty"`
}

// Message is one finalized entry in a conversation. Immutable once
// stored; the message id is the deduplication key.
type Message struct {
	ID        string          `json:"id"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	ToolCalls []wire.ToolCall `json:"toolCalls,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// AgentUpdate is a partial agent mutation. Nil fields are left
// untouched (shallow merge).
type AgentUpdate struct {
	Status          *AgentState
	Model           *string
	Mode            *string
	PreviousMode    *string
	ThinkingEnabled *bool
	ThinkingBudget  *int
	LastError       *string
}

// Snapshot seeds a session at load time, typically from the server's
// initial state fetch.
type Snapshot struct {
	ID            string
	WorkspaceID   string
	Status        SessionStatus
	Agents        []Agent
	Conversations []Conversation
}
