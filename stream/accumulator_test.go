package stream

import (
	"testing"
	"time"

	"github.com/agentsync-dev/agentsync/store"
	"github.com/agentsync-dev/agentsync/wire"
)

func newTestBackend() (*store.Store, *Accumulator) {
	s := store.New()
	s.LoadSession(store.Snapshot{
		ID: "sess-1",
		Agents: []store.Agent{
			{ID: "agent-1", Status: store.AgentIdle},
			{ID: "agent-2", Status: store.AgentIdle},
		},
		Conversations: []store.Conversation{
			{ID: "conv-1", AgentIDs: []string{"agent-1", "agent-2"}},
		},
	})
	return s, New(s)
}

func TestTokensAccumulateInOrder(t *testing.T) {
	_, acc := newTestBackend()

	acc.Start(wire.AgentStreamStart{SessionID: "sess-1", AgentID: "agent-1", MessageID: "m1"})
	for _, tok := range []string{"Hel", "lo", " wor", "ld"} {
		acc.Append(wire.AgentToken{SessionID: "sess-1", AgentID: "agent-1", MessageID: "m1", Token: tok})
	}

	partial, ok := acc.Active("agent-1")
	if !ok {
		t.Fatal("stream should be active")
	}
	if partial.Content != "Hello world" {
		t.Errorf("expected verbatim accumulation, got %q", partial.Content)
	}
}

func TestThinkingBufferIsSeparate(t *testing.T) {
	_, acc := newTestBackend()

	acc.Start(wire.AgentStreamStart{SessionID: "sess-1", AgentID: "agent-1", MessageID: "m1"})
	acc.Append(wire.AgentToken{SessionID: "sess-1", AgentID: "agent-1", MessageID: "m1", Token: "answer"})
	acc.AppendThinking(wire.AgentThinkingToken{SessionID: "sess-1", AgentID: "agent-1", MessageID: "m1", Thinking: "reasoning"})

	partial, _ := acc.Active("agent-1")
	if partial.Content != "answer" {
		t.Errorf("content buffer polluted: %q", partial.Content)
	}
	if partial.Thinking != "reasoning" {
		t.Errorf("thinking buffer wrong: %q", partial.Thinking)
	}
}

func TestFinishUsesServerFullContent(t *testing.T) {
	s, acc := newTestBackend()

	start := time.Now().UTC()
	acc.Start(wire.AgentStreamStart{SessionID: "sess-1", AgentID: "agent-1", MessageID: "m1", Timestamp: start})
	acc.Append(wire.AgentToken{SessionID: "sess-1", AgentID: "agent-1", MessageID: "m1", Token: "partial tok"})

	// The server's full content differs from the accumulated buffer,
	// e.g. a token was lost in transit. The server wins.
	acc.Finish(wire.AgentStreamEnd{
		SessionID:   "sess-1",
		AgentID:     "agent-1",
		MessageID:   "m1",
		FullContent: "complete authoritative text",
		Timestamp:   start.Add(2 * time.Second),
	})

	msgs := s.Messages("sess-1", "conv-1")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 finalized message, got %d", len(msgs))
	}
	if msgs[0].Content != "complete authoritative text" {
		t.Errorf("finalized content should come from the server, got %q", msgs[0].Content)
	}
	if msgs[0].Role != "assistant" {
		t.Errorf("expected assistant role, got %q", msgs[0].Role)
	}

	if _, ok := acc.Active("agent-1"); ok {
		t.Error("stream should be gone after finalize")
	}
}

func TestAgentStatusFollowsStream(t *testing.T) {
	s, acc := newTestBackend()

	acc.Start(wire.AgentStreamStart{SessionID: "sess-1", AgentID: "agent-1", MessageID: "m1"})
	agent, _ := s.Agent("sess-1", "agent-1")
	if agent.Status != store.AgentActive {
		t.Errorf("agent should be active during a stream, got %s", agent.Status)
	}

	acc.Finish(wire.AgentStreamEnd{SessionID: "sess-1", AgentID: "agent-1", MessageID: "m1", FullContent: "done"})
	agent, _ = s.Agent("sess-1", "agent-1")
	if agent.Status != store.AgentIdle {
		t.Errorf("agent should return to idle, got %s", agent.Status)
	}
}

func TestOrphanEventsDroppedSilently(t *testing.T) {
	s, acc := newTestBackend()

	acc.Append(wire.AgentToken{SessionID: "sess-1", AgentID: "agent-1", MessageID: "never-started", Token: "x"})
	acc.AppendThinking(wire.AgentThinkingToken{SessionID: "sess-1", AgentID: "agent-1", MessageID: "never-started", Thinking: "y"})
	acc.Finish(wire.AgentStreamEnd{SessionID: "sess-1", AgentID: "agent-1", MessageID: "never-started", FullContent: "z"})

	if got := len(s.Messages("sess-1", "conv-1")); got != 0 {
		t.Errorf("orphan finalize must not store a message, got %d", got)
	}
	if acc.ActiveCount() != 0 {
		t.Errorf("no stream should be active, got %d", acc.ActiveCount())
	}

	// A second finalize for an already-finalized stream is equally inert.
	acc.Start(wire.AgentStreamStart{SessionID: "sess-1", AgentID: "agent-1", MessageID: "m1"})
	acc.Finish(wire.AgentStreamEnd{SessionID: "sess-1", AgentID: "agent-1", MessageID: "m1", FullContent: "first"})
	acc.Finish(wire.AgentStreamEnd{SessionID: "sess-1", AgentID: "agent-1", MessageID: "m1", FullContent: "replayed"})

	msgs := s.Messages("sess-1", "conv-1")
	if len(msgs) != 1 || msgs[0].Content != "first" {
		t.Errorf("replayed finalize must be dropped, got %d messages", len(msgs))
	}
}

func TestConcurrentAgentStreamsAreIndependent(t *testing.T) {
	_, acc := newTestBackend()

	acc.Start(wire.AgentStreamStart{SessionID: "sess-1", AgentID: "agent-1", MessageID: "m1"})
	acc.Start(wire.AgentStreamStart{SessionID: "sess-1", AgentID: "agent-2", MessageID: "m2"})
	acc.Append(wire.AgentToken{SessionID: "sess-1", AgentID: "agent-1", MessageID: "m1", Token: "one"})
	acc.Append(wire.AgentToken{SessionID: "sess-1", AgentID: "agent-2", MessageID: "m2", Token: "two"})

	p1, _ := acc.Active("agent-1")
	p2, _ := acc.Active("agent-2")
	if p1.Content != "one" || p2.Content != "two" {
		t.Errorf("streams leaked across agents: %q / %q", p1.Content, p2.Content)
	}
	if acc.ActiveCount() != 2 {
		t.Errorf("expected 2 active streams, got %d", acc.ActiveCount())
	}
}

func TestRestartDiscardsStaleStream(t *testing.T) {
	_, acc := newTestBackend()

	acc.Start(wire.AgentStreamStart{SessionID: "sess-1", AgentID: "agent-1", MessageID: "m1"})
	acc.Append(wire.AgentToken{SessionID: "sess-1", AgentID: "agent-1", MessageID: "m1", Token: "stale"})

	acc.Start(wire.AgentStreamStart{SessionID: "sess-1", AgentID: "agent-1", MessageID: "m2"})

	if acc.ActiveCount() != 1 {
		t.Fatalf("an agent has at most one active stream, got %d", acc.ActiveCount())
	}
	partial, _ := acc.Active("agent-1")
	if partial.MessageID != "m2" || partial.Content != "" {
		t.Errorf("stale stream should be discarded, got %+v", partial)
	}
}

func TestDiscardSessionDropsBuffers(t *testing.T) {
	s, acc := newTestBackend()

	acc.Start(wire.AgentStreamStart{SessionID: "sess-1", AgentID: "agent-1", MessageID: "m1"})
	acc.Append(wire.AgentToken{SessionID: "sess-1", AgentID: "agent-1", MessageID: "m1", Token: "in flight"})

	acc.DiscardSession("sess-1")

	if acc.ActiveCount() != 0 {
		t.Errorf("buffers should be gone, got %d", acc.ActiveCount())
	}
	if got := len(s.Messages("sess-1", "conv-1")); got != 0 {
		t.Errorf("discard must not finalize anything, got %d messages", got)
	}
}
