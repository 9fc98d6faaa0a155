package store

import (
	"testing"
	"time"
)

func loadTestSession(s *Store) {
	s.LoadSession(Snapshot{
		ID:          "sess-1",
		WorkspaceID: "ws-1",
		Status:      SessionRunning,
		Agents: []Agent{
			{ID: "agent-1", Name: "coder", Status: AgentIdle, Mode: "auto"},
			{ID: "agent-2", Name: "reviewer", Status: AgentIdle},
		},
		Conversations: []Conversation{
			{ID: "conv-1", Name: "main", AgentIDs: []string{"agent-1"}},
		},
	})
}

func TestAddMessageIdempotent(t *testing.T) {
	s := New()
	loadTestSession(s)

	msg := Message{ID: "msg-1", Role: "assistant", Content: "hello", CreatedAt: time.Now().UTC()}

	if !s.AddMessage("sess-1", "conv-1", msg) {
		t.Fatal("first insert should succeed")
	}
	if s.AddMessage("sess-1", "conv-1", msg) {
		t.Error("duplicate id should be a no-op")
	}

	msgs := s.Messages("sess-1", "conv-1")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}

	conv, ok := s.Conversation("sess-1", "conv-1")
	if !ok {
		t.Fatal("conversation should exist")
	}
	if conv.MessageCount != 1 {
		t.Errorf("expected message count 1, got %d", conv.MessageCount)
	}
}

func TestAddMessageUnknownTargets(t *testing.T) {
	s := New()
	loadTestSession(s)

	msg := Message{ID: "msg-1", Role: "user", Content: "hi"}

	tests := []struct {
		name           string
		sessionID      string
		conversationID string
	}{
		{"unknown session", "sess-other", "conv-1"},
		{"unknown conversation", "sess-1", "conv-other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if s.AddMessage(tt.sessionID, tt.conversationID, msg) {
				t.Error("insert should be a no-op")
			}
		})
	}

	if got := len(s.Messages("sess-1", "conv-1")); got != 0 {
		t.Errorf("expected 0 messages in conv-1, got %d", got)
	}
}

func TestAddMessagePreservesOrder(t *testing.T) {
	s := New()
	loadTestSession(s)

	ids := []string{"m1", "m2", "m3"}
	for _, id := range ids {
		s.AddMessage("sess-1", "conv-1", Message{ID: id, Role: "assistant"})
	}

	msgs := s.Messages("sess-1", "conv-1")
	if len(msgs) != len(ids) {
		t.Fatalf("expected %d messages, got %d", len(ids), len(msgs))
	}
	for i, id := range ids {
		if msgs[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, msgs[i].ID)
		}
	}
}

func TestUpdateAgentShallowMerge(t *testing.T) {
	s := New()
	loadTestSession(s)

	active := AgentActive
	model := "gpt-5"
	s.UpdateAgent("sess-1", "agent-1", AgentUpdate{Status: &active, Model: &model})

	agent, ok := s.Agent("sess-1", "agent-1")
	if !ok {
		t.Fatal("agent should exist")
	}
	if agent.Status != AgentActive {
		t.Errorf("expected active status, got %s", agent.Status)
	}
	if agent.Model != "gpt-5" {
		t.Errorf("expected model gpt-5, got %s", agent.Model)
	}
	if agent.Mode != "auto" {
		t.Errorf("untouched mode should survive, got %q", agent.Mode)
	}
}

func TestUpdateAgentUnknownNoOp(t *testing.T) {
	s := New()
	loadTestSession(s)

	active := AgentActive
	s.UpdateAgent("sess-1", "agent-missing", AgentUpdate{Status: &active})
	s.UpdateAgent("sess-missing", "agent-1", AgentUpdate{Status: &active})

	agent, _ := s.Agent("sess-1", "agent-1")
	if agent.Status != AgentIdle {
		t.Errorf("agent should be untouched, got %s", agent.Status)
	}
}

func TestConversationLifecycle(t *testing.T) {
	s := New()
	loadTestSession(s)

	s.CreateConversation("sess-1", Conversation{ID: "conv-2", Name: "scratch"})
	s.CreateConversation("sess-1", Conversation{ID: "conv-2", Name: "other"}) // first create wins

	conv, ok := s.Conversation("sess-1", "conv-2")
	if !ok {
		t.Fatal("conversation should exist")
	}
	if conv.Name != "scratch" {
		t.Errorf("first create should win, got %q", conv.Name)
	}

	s.RenameConversation("sess-1", "conv-2", "renamed")
	conv, _ = s.Conversation("sess-1", "conv-2")
	if conv.Name != "renamed" {
		t.Errorf("expected renamed, got %q", conv.Name)
	}

	s.DeleteConversation("sess-1", "conv-2")
	if _, ok := s.Conversation("sess-1", "conv-2"); ok {
		t.Error("conversation should be gone")
	}
}

func TestAttachDetachAgent(t *testing.T) {
	s := New()
	loadTestSession(s)
	s.CreateConversation("sess-1", Conversation{ID: "conv-2", Name: "scratch"})

	// agent-1 starts attached to conv-1; attaching to conv-2 must
	// release the previous attachment.
	s.AttachAgent("sess-1", "conv-2", "agent-1")

	if id, _ := s.ConversationForAgent("sess-1", "agent-1"); id != "conv-2" {
		t.Errorf("expected attachment to conv-2, got %q", id)
	}
	conv1, _ := s.Conversation("sess-1", "conv-1")
	for _, id := range conv1.AgentIDs {
		if id == "agent-1" {
			t.Error("agent-1 should be released from conv-1")
		}
	}

	// Detaching leaves the conversation intact.
	s.DetachAgent("sess-1", "conv-2", "agent-1")
	if _, ok := s.ConversationForAgent("sess-1", "agent-1"); ok {
		t.Error("agent-1 should have no attachment")
	}
	if _, ok := s.Conversation("sess-1", "conv-2"); !ok {
		t.Error("conversation must outlive the attachment")
	}
}

func TestDeleteConversationDetachesAgents(t *testing.T) {
	s := New()
	loadTestSession(s)

	s.DeleteConversation("sess-1", "conv-1")

	if _, ok := s.ConversationForAgent("sess-1", "agent-1"); ok {
		t.Error("agent-1 should be detached after deletion")
	}
}

func TestSessionForWorkspace(t *testing.T) {
	s := New()
	loadTestSession(s)

	id, ok := s.SessionForWorkspace("ws-1")
	if !ok || id != "sess-1" {
		t.Errorf("expected sess-1, got %q (ok=%v)", id, ok)
	}
	if _, ok := s.SessionForWorkspace("ws-other"); ok {
		t.Error("unknown workspace should not resolve")
	}

	s.UnloadSession("sess-1")
	if _, ok := s.SessionForWorkspace("ws-1"); ok {
		t.Error("mapping should be gone after unload")
	}
	if s.HasSession("sess-1") {
		t.Error("session should be unloaded")
	}
}

func TestLoadSessionDedupsSnapshotMessages(t *testing.T) {
	s := New()
	s.LoadSession(Snapshot{
		ID: "sess-1",
		Conversations: []Conversation{
			{
				ID: "conv-1",
				Messages: []Message{
					{ID: "m1", Role: "user", Content: "hi"},
					{ID: "m1", Role: "user", Content: "hi again"},
					{ID: "m2", Role: "assistant", Content: "hello"},
				},
			},
		},
	})

	msgs := s.Messages("sess-1", "conv-1")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 deduplicated messages, got %d", len(msgs))
	}
	if msgs[0].Content != "hi" {
		t.Errorf("first occurrence should win, got %q", msgs[0].Content)
	}

	// A live event for an id already in the snapshot stays a no-op.
	if s.AddMessage("sess-1", "conv-1", Message{ID: "m2", Role: "assistant"}) {
		t.Error("snapshot id should deduplicate live events")
	}
}

func TestWorkspaceStatusLastWriteWins(t *testing.T) {
	s := New()
	loadTestSession(s)

	s.SetWorkspaceStatus("sess-1", "provisioning")
	s.SetWorkspaceStatus("sess-1", "running")

	sess, ok := s.Session("sess-1")
	if !ok {
		t.Fatal("session should exist")
	}
	if sess.WorkspaceStatus != "running" {
		t.Errorf("expected running, got %q", sess.WorkspaceStatus)
	}

	s.SetBillingStandby("sess-1", true)
	sess, _ = s.Session("sess-1")
	if !sess.BillingStandby {
		t.Error("billing standby should be set")
	}
}
