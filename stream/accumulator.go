// Package stream accumulates in-progress agent replies. A stream's
// lifecycle is start, any number of token appends, then a finalize that
// carries the server's authoritative full text. The locally accumulated
// buffer is only a live preview; the finalize content always replaces it,
// which guards against client-side token loss.
package stream

import (
	"strings"
	"sync"
	"time"

	obs "github.com/agentsync-dev/agentsync/pkg/observability"
	"github.com/agentsync-dev/agentsync/store"
	"github.com/agentsync-dev/agentsync/wire"
)

// Store is the slice of the session aggregate the accumulator touches.
type Store interface {
	UpdateAgent(sessionID, agentID string, update store.AgentUpdate)
	ConversationForAgent(sessionID, agentID string) (string, bool)
	AddMessage(sessionID, conversationID string, msg store.Message) bool
}

// Partial is a read snapshot of an in-progress stream for rendering.
type Partial struct {
	SessionID string
	AgentID   string
	MessageID string
	Content   string
	Thinking  string
	StartedAt time.Time
}

type streamKey struct {
	agentID   string
	messageID string
}

type activeStream struct {
	sessionID string
	content   strings.Builder
	thinking  strings.Builder
	toolCalls []wire.ToolCall
	startedAt time.Time
}

// Accumulator tracks every in-progress stream. Events referencing a
// stream that was never started (replay, reordering, a finalize that
// already happened) are dropped silently. Streams for different agents
// are independent; an agent has at most one active stream.
type Accumulator struct {
	mu      sync.Mutex
	store   Store
	streams map[streamKey]*activeStream
	byAgent map[string]string // agent id -> active message id
}

// New creates an accumulator writing finalized messages into st.
func New(st Store) *Accumulator {
	return &Accumulator{
		store:   st,
		streams: make(map[streamKey]*activeStream),
		byAgent: make(map[string]string),
	}
}

// Start opens a stream and marks the agent active. A start for an agent
// that already has an open stream discards the stale one: the server
// would never finalize it.
func (a *Accumulator) Start(ev wire.AgentStreamStart) {
	a.mu.Lock()
	if prev, ok := a.byAgent[ev.AgentID]; ok {
		delete(a.streams, streamKey{agentID: ev.AgentID, messageID: prev})
	}
	a.streams[streamKey{agentID: ev.AgentID, messageID: ev.MessageID}] = &activeStream{
		sessionID: ev.SessionID,
		startedAt: ev.Timestamp,
	}
	a.byAgent[ev.AgentID] = ev.MessageID
	count := len(a.streams)
	a.mu.Unlock()

	obs.SetActiveStreams(count)

	active := store.AgentActive
	a.store.UpdateAgent(ev.SessionID, ev.AgentID, store.AgentUpdate{Status: &active})
}

// Append adds one token to the stream's content buffer, verbatim and in
// arrival order.
func (a *Accumulator) Append(ev wire.AgentToken) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.streams[streamKey{agentID: ev.AgentID, messageID: ev.MessageID}]
	if !ok {
		return
	}
	s.content.WriteString(ev.Token)
	obs.RecordStreamToken("content")
}

// AppendThinking adds reasoning text to the stream's separate thinking
// buffer. Does not affect the content buffer or the stream state.
func (a *Accumulator) AppendThinking(ev wire.AgentThinkingToken) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.streams[streamKey{agentID: ev.AgentID, messageID: ev.MessageID}]
	if !ok {
		return
	}
	s.thinking.WriteString(ev.Thinking)
	obs.RecordStreamToken("thinking")
}

// Finish finalizes a stream. The transient buffer is discarded; the
// event's full content is stored as the message text. The owning agent
// returns to idle.
func (a *Accumulator) Finish(ev wire.AgentStreamEnd) {
	key := streamKey{agentID: ev.AgentID, messageID: ev.MessageID}

	a.mu.Lock()
	s, ok := a.streams[key]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(a.streams, key)
	if a.byAgent[ev.AgentID] == ev.MessageID {
		delete(a.byAgent, ev.AgentID)
	}
	count := len(a.streams)
	startedAt := s.startedAt
	a.mu.Unlock()

	obs.SetActiveStreams(count)
	if !startedAt.IsZero() && !ev.Timestamp.IsZero() {
		obs.RecordStreamDuration(ev.Timestamp.Sub(startedAt))
	}

	if convID, ok := a.store.ConversationForAgent(ev.SessionID, ev.AgentID); ok {
		a.store.AddMessage(ev.SessionID, convID, store.Message{
			ID:        ev.MessageID,
			Role:      "assistant",
			Content:   ev.FullContent,
			ToolCalls: ev.ToolCalls,
			CreatedAt: ev.Timestamp,
		})
	}

	idle := store.AgentIdle
	a.store.UpdateAgent(ev.SessionID, ev.AgentID, store.AgentUpdate{Status: &idle})
}

// Active returns the in-progress stream for an agent, if any.
func (a *Accumulator) Active(agentID string) (Partial, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	messageID, ok := a.byAgent[agentID]
	if !ok {
		return Partial{}, false
	}
	s := a.streams[streamKey{agentID: agentID, messageID: messageID}]
	if s == nil {
		return Partial{}, false
	}
	return Partial{
		SessionID: s.sessionID,
		AgentID:   agentID,
		MessageID: messageID,
		Content:   s.content.String(),
		Thinking:  s.thinking.String(),
		StartedAt: s.startedAt,
	}, true
}

// ActiveCount returns the number of in-progress streams.
func (a *Accumulator) ActiveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.streams)
}

// DiscardSession drops every in-flight buffer belonging to the session.
// Used at teardown; nothing is finalized.
func (a *Accumulator) DiscardSession(sessionID string) {
	a.mu.Lock()
	for key, s := range a.streams {
		if s.sessionID != sessionID {
			continue
		}
		delete(a.streams, key)
		if a.byAgent[key.agentID] == key.messageID {
			delete(a.byAgent, key.agentID)
		}
	}
	count := len(a.streams)
	a.mu.Unlock()

	obs.SetActiveStreams(count)
}
