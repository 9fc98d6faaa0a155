// Package attention tracks notification items that agents raise for
// human eyes: approvals waiting, runs finished, errors, prompts for
// input. Items carry read and dismissed flags that are synchronized
// across every client attached to the same session, while focus-driven
// auto-acknowledgement clears unread state when the user is actually
// looking.
package attention

import (
	"errors"
	"time"
)

// Storage errors.
var (
	// ErrItemNotFound is returned when an attention item doesn't exist.
	ErrItemNotFound = errors.New("attention item not found")
	// ErrStorageClosed is returned when operating on a closed backend.
	ErrStorageClosed = errors.New("storage backend is closed")
)

// Item types.
const (
	TypeNeedsApproval = "needs_approval"
	TypeCompleted     = "completed"
	TypeError         = "error"
	TypeWaitingInput  = "waiting_input"
)

// Priority levels, higher is more urgent.
const (
	PriorityLow    = 0
	PriorityNormal = 1
	PriorityHigh   = 2
)

// Item is a single attention notification.
type Item struct {
	// ID uniquely identifies the item.
	ID string `json:"id"`
	// AgentID is the agent that raised the item.
	AgentID string `json:"agentId"`
	// SessionID scopes the item to a session.
	SessionID string `json:"sessionId"`
	// Type is one of the Type* constants.
	Type string `json:"type"`
	// Title is a short human-readable headline.
	Title string `json:"title"`
	// Message is the longer body text.
	Message string `json:"message,omitempty"`
	// Priority orders items within the unread list.
	Priority int `json:"priority"`
	// Read is true once any client has acknowledged the item.
	Read bool `json:"read"`
	// Dismissed is true once the item is removed from active lists.
	Dismissed bool `json:"dismissed"`
	// CreatedAt is when the item was raised.
	CreatedAt time.Time `json:"createdAt"`
	// ExpiresAt is when the item becomes eligible for trimming.
	// Zero means never.
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	// Metadata carries type-specific payload, e.g. an approval id.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Urgent reports whether the item should sort ahead of routine items.
// Approval requests and errors are always urgent; anything else is
// urgent at high priority.
func (it Item) Urgent() bool {
	if it.Type == TypeNeedsApproval || it.Type == TypeError {
		return true
	}
	return it.Priority >= PriorityHigh
}

// Expired reports whether the item is past its expiry at now.
func (it Item) Expired(now time.Time) bool {
	return !it.ExpiresAt.IsZero() && now.After(it.ExpiresAt)
}
