// Package wire defines the channel protocol between the synchronization
// core and the workspace server. Every inbound server event is a concrete
// struct implementing the sealed Event interface; Decode turns a raw
// (name, payload) pair from the transport into one of them. The set of
// event types is closed so that dispatch can switch exhaustively instead
// of routing through string-keyed lookups.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Inbound (server -> client) event names.
const (
	// EventAgentMessage carries a finalized conversation message produced
	// by an agent or relayed from another client surface.
	EventAgentMessage = "agent_message"

	// EventAgentStatus reports an agent status transition
	// (idle, active, error).
	EventAgentStatus = "agent_status"

	// EventAgentStreamStart opens a token stream for one message.
	EventAgentStreamStart = "agent_stream_start"

	// EventAgentToken appends one token to an open stream.
	EventAgentToken = "agent_token"

	// EventAgentThinkingToken appends reasoning text to the thinking
	// buffer of an open stream.
	EventAgentThinkingToken = "agent_thinking_token"

	// EventAgentStreamEnd finalizes a stream with the authoritative
	// full content.
	EventAgentStreamEnd = "agent_stream_end"

	// EventAgentConfigUpdate carries partial agent configuration changes
	// (model, mode, thinking settings).
	EventAgentConfigUpdate = "agent_config_update"

	// EventWorkspaceStatus reports the workspace lifecycle status.
	EventWorkspaceStatus = "workspace_status"

	// EventWorkspaceBillingStandby signals the workspace was parked by
	// billing and agents will not run until it resumes.
	EventWorkspaceBillingStandby = "workspace_billing_standby"

	EventConversationCreated  = "conversation_created"
	EventConversationUpdated  = "conversation_updated"
	EventConversationDeleted  = "conversation_deleted"
	EventConversationAttached = "conversation_attached"
	EventConversationDetached = "conversation_detached"
	EventConversationMessage  = "conversation_message"

	// EventAgentAttention creates a notification item.
	EventAgentAttention = "agent_attention"

	// EventAgentAttentionRead marks one notification read. Read state is
	// broadcast so every connected client converges.
	EventAgentAttentionRead = "agent_attention_read"

	// EventAgentAttentionDismiss dismisses one notification.
	EventAgentAttentionDismiss = "agent_attention_dismiss"

	// EventAgentAttentionDismissAll dismisses every notification for a
	// session, optionally filtered to one agent.
	EventAgentAttentionDismissAll = "agent_attention_dismiss_all"

	// EventApprovalRequested asks a human to approve an agent action.
	EventApprovalRequested = "approval_requested"

	// EventApprovalResponse resolves an outstanding approval request.
	// Also observed when another client answered first.
	EventApprovalResponse = "approval_response"
)

// ErrUnknownEvent is returned by Decode for event names outside the
// protocol. Callers drop such events rather than failing.
var ErrUnknownEvent = errors.New("unknown event name")

// Event is the sealed interface implemented by every inbound event.
type Event interface {
	// Name returns the wire-level event name.
	Name() string

	isEvent()
}

// SessionEvent is implemented by events scoped to a single session.
// Handlers validate the scope against the active session before mutating
// any state.
type SessionEvent interface {
	Event

	// Session returns the session id the event belongs to.
	Session() string
}

// WorkspaceEvent is implemented by events scoped to a workspace rather
// than a session. The consumer resolves the workspace to its loaded
// session before applying the event.
type WorkspaceEvent interface {
	Event

	// Workspace returns the workspace id the event belongs to.
	Workspace() string
}

// ToolCall describes one tool invocation attached to a message.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// AgentMessage is a finalized message for an agent's attached conversation.
type AgentMessage struct {
	ID        string     `json:"id"`
	AgentID   string     `json:"agent_id"`
	AgentName string     `json:"agent_name"`
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	SessionID string     `json:"session_id"`
	CreatedAt time.Time  `json:"created_at"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// AgentStatus reports an agent status transition.
type AgentStatus struct {
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// AgentStreamStart opens a token stream for one message.
type AgentStreamStart struct {
	SessionID string    `json:"session_id"`
	AgentID   string    `json:"agent_id"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentToken appends one token to an open stream.
type AgentToken struct {
	SessionID string    `json:"session_id"`
	AgentID   string    `json:"agent_id"`
	MessageID string    `json:"message_id"`
	Token     string    `json:"token"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentThinkingToken appends reasoning text to an open stream.
type AgentThinkingToken struct {
	SessionID string    `json:"session_id"`
	AgentID   string    `json:"agent_id"`
	MessageID string    `json:"message_id"`
	Thinking  string    `json:"thinking"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentStreamEnd finalizes a stream. FullContent is the server's
// authoritative text and replaces whatever the client accumulated.
type AgentStreamEnd struct {
	SessionID   string     `json:"session_id"`
	AgentID     string     `json:"agent_id"`
	MessageID   string     `json:"message_id"`
	FullContent string     `json:"full_content"`
	ToolCalls   []ToolCall `json:"tool_calls,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

// AgentConfigChanges holds the partial fields of a config update.
// Nil pointers mean "unchanged".
type AgentConfigChanges struct {
	Model           *string `json:"model,omitempty"`
	Mode            *string `json:"mode,omitempty"`
	ThinkingEnabled *bool   `json:"thinking_enabled,omitempty"`
	ThinkingBudget  *int    `json:"thinking_budget,omitempty"`
}

// AgentConfigUpdate carries partial agent configuration changes.
type AgentConfigUpdate struct {
	SessionID string             `json:"session_id"`
	AgentID   string             `json:"agent_id"`
	Updates   AgentConfigChanges `json:"updates"`
	Source    string             `json:"source"`
	Timestamp time.Time          `json:"timestamp"`
}

// WorkspaceStatus reports the workspace lifecycle status.
type WorkspaceStatus struct {
	WorkspaceID string `json:"workspace_id"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

// WorkspaceBillingStandby signals the workspace was parked by billing.
type WorkspaceBillingStandby struct {
	WorkspaceID string `json:"workspace_id"`
}

// ConversationCreated announces a new conversation in the session.
type ConversationCreated struct {
	SessionID        string    `json:"session_id"`
	ConversationID   string    `json:"conversation_id"`
	ConversationName string    `json:"name"`
	CreatedAt        time.Time `json:"created_at"`
}

// ConversationUpdated renames or otherwise updates a conversation.
type ConversationUpdated struct {
	SessionID        string `json:"session_id"`
	ConversationID   string `json:"conversation_id"`
	ConversationName string `json:"name"`
}

// ConversationDeleted removes a conversation and its messages.
type ConversationDeleted struct {
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id"`
}

// ConversationAttached attaches an agent to a conversation.
type ConversationAttached struct {
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id"`
	AgentID        string `json:"agent_id"`
}

// ConversationDetached detaches an agent from a conversation. The
// conversation itself outlives the attachment.
type ConversationDetached struct {
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id"`
	AgentID        string `json:"agent_id"`
}

// ConversationMessage delivers a message addressed to an explicit
// conversation (history backfill, user messages relayed from other
// surfaces).
type ConversationMessage struct {
	SessionID      string     `json:"session_id"`
	ConversationID string     `json:"conversation_id"`
	ID             string     `json:"id"`
	Role           string     `json:"role"`
	Content        string     `json:"content"`
	CreatedAt      time.Time  `json:"created_at"`
	ToolCalls      []ToolCall `json:"tool_calls,omitempty"`
}

// AgentAttention creates a notification item.
type AgentAttention struct {
	ID        string         `json:"id"`
	AgentID   string         `json:"agent_id"`
	AgentName string         `json:"agent_name"`
	SessionID string         `json:"session_id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Priority  int            `json:"priority"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at,omitempty"`
}

// AgentAttentionRead marks one notification read on every client.
type AgentAttentionRead struct {
	SessionID   string `json:"session_id"`
	AttentionID string `json:"attention_id"`
	AgentID     string `json:"agent_id,omitempty"`
}

// AgentAttentionDismiss dismisses one notification on every client.
type AgentAttentionDismiss struct {
	SessionID   string `json:"session_id"`
	AttentionID string `json:"attention_id"`
	AgentID     string `json:"agent_id,omitempty"`
}

// AgentAttentionDismissAll dismisses every notification for a session,
// optionally filtered to one agent.
type AgentAttentionDismissAll struct {
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id,omitempty"`
}

// ApprovalRequested asks a human to approve an agent action.
type ApprovalRequested struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	AgentID   string          `json:"agent_id"`
	Prompt    string          `json:"prompt"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ApprovalResponse resolves an outstanding approval request. The id
// matches the originating ApprovalRequested.
type ApprovalResponse struct {
	ID          string `json:"id"`
	SessionID   string `json:"session_id"`
	Approved    bool   `json:"approved"`
	AlwaysAllow bool   `json:"always_allow,omitempty"`
}

func (AgentMessage) Name() string             { return EventAgentMessage }
func (AgentStatus) Name() string              { return EventAgentStatus }
func (AgentStreamStart) Name() string         { return EventAgentStreamStart }
func (AgentToken) Name() string               { return EventAgentToken }
func (AgentThinkingToken) Name() string       { return EventAgentThinkingToken }
func (AgentStreamEnd) Name() string           { return EventAgentStreamEnd }
func (AgentConfigUpdate) Name() string        { return EventAgentConfigUpdate }
func (WorkspaceStatus) Name() string          { return EventWorkspaceStatus }
func (WorkspaceBillingStandby) Name() string  { return EventWorkspaceBillingStandby }
func (ConversationCreated) Name() string      { return EventConversationCreated }
func (ConversationUpdated) Name() string      { return EventConversationUpdated }
func (ConversationDeleted) Name() string      { return EventConversationDeleted }
func (ConversationAttached) Name() string     { return EventConversationAttached }
func (ConversationDetached) Name() string     { return EventConversationDetached }
func (ConversationMessage) Name() string      { return EventConversationMessage }
func (AgentAttention) Name() string           { return EventAgentAttention }
func (AgentAttentionRead) Name() string       { return EventAgentAttentionRead }
func (AgentAttentionDismiss) Name() string    { return EventAgentAttentionDismiss }
func (AgentAttentionDismissAll) Name() string { return EventAgentAttentionDismissAll }
func (ApprovalRequested) Name() string        { return EventApprovalRequested }
func (ApprovalResponse) Name() string         { return EventApprovalResponse }

func (AgentMessage) isEvent()             {}
func (AgentStatus) isEvent()              {}
func (AgentStreamStart) isEvent()         {}
func (AgentToken) isEvent()               {}
func (AgentThinkingToken) isEvent()       {}
func (AgentStreamEnd) isEvent()           {}
func (AgentConfigUpdate) isEvent()        {}
func (WorkspaceStatus) isEvent()          {}
func (WorkspaceBillingStandby) isEvent()  {}
func (ConversationCreated) isEvent()      {}
func (ConversationUpdated) isEvent()      {}
func (ConversationDeleted) isEvent()      {}
func (ConversationAttached) isEvent()     {}
func (ConversationDetached) isEvent()     {}
func (ConversationMessage) isEvent()      {}
func (AgentAttention) isEvent()           {}
func (AgentAttentionRead) isEvent()       {}
func (AgentAttentionDismiss) isEvent()    {}
func (AgentAttentionDismissAll) isEvent() {}
func (ApprovalRequested) isEvent()        {}
func (ApprovalResponse) isEvent()         {}

func (e AgentMessage) Session() string             { return e.SessionID }
func (e AgentStatus) Session() string              { return e.SessionID }
func (e AgentStreamStart) Session() string         { return e.SessionID }
func (e AgentToken) Session() string               { return e.SessionID }
func (e AgentThinkingToken) Session() string       { return e.SessionID }
func (e AgentStreamEnd) Session() string           { return e.SessionID }
func (e AgentConfigUpdate) Session() string        { return e.SessionID }
func (e ConversationCreated) Session() string      { return e.SessionID }
func (e ConversationUpdated) Session() string      { return e.SessionID }
func (e ConversationDeleted) Session() string      { return e.SessionID }
func (e ConversationAttached) Session() string     { return e.SessionID }
func (e ConversationDetached) Session() string     { return e.SessionID }
func (e ConversationMessage) Session() string      { return e.SessionID }
func (e AgentAttention) Session() string           { return e.SessionID }
func (e AgentAttentionRead) Session() string       { return e.SessionID }
func (e AgentAttentionDismiss) Session() string    { return e.SessionID }
func (e AgentAttentionDismissAll) Session() string { return e.SessionID }
func (e ApprovalRequested) Session() string        { return e.SessionID }
func (e ApprovalResponse) Session() string         { return e.SessionID }

func (e WorkspaceStatus) Workspace() string         { return e.WorkspaceID }
func (e WorkspaceBillingStandby) Workspace() string { return e.WorkspaceID }

// Decode parses a raw payload into the typed event for name.
// Returns ErrUnknownEvent for names outside the protocol.
func Decode(name string, payload []byte) (Event, error) {
	var (
		ev  Event
		err error
	)

	switch name {
	case EventAgentMessage:
		ev, err = unmarshal[AgentMessage](payload)
	case EventAgentStatus:
		ev, err = unmarshal[AgentStatus](payload)
	case EventAgentStreamStart:
		ev, err = unmarshal[AgentStreamStart](payload)
	case EventAgentToken:
		ev, err = unmarshal[AgentToken](payload)
	case EventAgentThinkingToken:
		ev, err = unmarshal[AgentThinkingToken](payload)
	case EventAgentStreamEnd:
		ev, err = unmarshal[AgentStreamEnd](payload)
	case EventAgentConfigUpdate:
		ev, err = unmarshal[AgentConfigUpdate](payload)
	case EventWorkspaceStatus:
		ev, err = unmarshal[WorkspaceStatus](payload)
	case EventWorkspaceBillingStandby:
		ev, err = unmarshal[WorkspaceBillingStandby](payload)
	case EventConversationCreated:
		ev, err = unmarshal[ConversationCreated](payload)
	case EventConversationUpdated:
		ev, err = unmarshal[ConversationUpdated](payload)
	case EventConversationDeleted:
		ev, err = unmarshal[ConversationDeleted](payload)
	case EventConversationAttached:
		ev, err = unmarshal[ConversationAttached](payload)
	case EventConversationDetached:
		ev, err = unmarshal[ConversationDetached](payload)
	case EventConversationMessage:
		ev, err = unmarshal[ConversationMessage](payload)
	case EventAgentAttention:
		ev, err = unmarshal[AgentAttention](payload)
	case EventAgentAttentionRead:
		ev, err = unmarshal[AgentAttentionRead](payload)
	case EventAgentAttentionDismiss:
		ev, err = unmarshal[AgentAttentionDismiss](payload)
	case EventAgentAttentionDismissAll:
		ev, err = unmarshal[AgentAttentionDismissAll](payload)
	case EventApprovalRequested:
		ev, err = unmarshal[ApprovalRequested](payload)
	case EventApprovalResponse:
		ev, err = unmarshal[ApprovalResponse](payload)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}

	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return ev, nil
}

// InboundNames returns every inbound event name Decode understands.
// The transport subscribes to each so the dispatcher sees the full stream.
func InboundNames() []string {
	return []string{
		EventAgentMessage,
		EventAgentStatus,
		EventAgentStreamStart,
		EventAgentToken,
		EventAgentThinkingToken,
		EventAgentStreamEnd,
		EventAgentConfigUpdate,
		EventWorkspaceStatus,
		EventWorkspaceBillingStandby,
		EventConversationCreated,
		EventConversationUpdated,
		EventConversationDeleted,
		EventConversationAttached,
		EventConversationDetached,
		EventConversationMessage,
		EventAgentAttention,
		EventAgentAttentionRead,
		EventAgentAttentionDismiss,
		EventAgentAttentionDismissAll,
		EventApprovalRequested,
		EventApprovalResponse,
	}
}

func unmarshal[T Event](payload []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}
