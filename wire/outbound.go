package wire

// Outbound (client -> server) event names.
const (
	// EventJoinSession scopes the physical connection to one session.
	// The server does not persist scope across reconnects, so this is
	// re-emitted after every successful (re)connection.
	EventJoinSession = "join_session"

	// EventLeaveSession removes the session scope on teardown.
	EventLeaveSession = "leave_session"
)

// JoinSession is the payload for EventJoinSession.
type JoinSession struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	AuthToken string `json:"auth_token,omitempty"`
}

// LeaveSession is the payload for EventLeaveSession.
type LeaveSession struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// ApprovalDecision is the outbound payload answering an approval request.
// It reuses the approval_response event name; the server rebroadcasts it
// to all other clients watching the session.
type ApprovalDecision struct {
	ID          string `json:"id"`
	SessionID   string `json:"session_id"`
	AgentID     string `json:"agent_id"`
	Approved    bool   `json:"approved"`
	AlwaysAllow bool   `json:"always_allow,omitempty"`
}

// AttentionReadAck reports a locally performed read so other clients
// converge. Reuses the agent_attention_read event name.
type AttentionReadAck struct {
	SessionID   string `json:"session_id"`
	AttentionID string `json:"attention_id"`
}

// AttentionDismissAck reports a locally performed dismiss.
type AttentionDismissAck struct {
	SessionID   string `json:"session_id"`
	AttentionID string `json:"attention_id"`
}

// AttentionDismissAllAck reports a locally performed dismiss-all.
type AttentionDismissAllAck struct {
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id,omitempty"`
}
