package store

import (
	"sync"
)

// Store is the canonical aggregate for every loaded session.
// Mutation methods are no-ops for unknown sessions, agents, or
// conversations: events racing a join or arriving after teardown are
// dropped rather than surfaced as errors. Store is safe for concurrent
// use; read accessors return copies.
type Store struct {
	mu         sync.RWMutex
	sessions   map[string]*sessionState
	workspaces map[string]string // workspace id -> session id
}

type sessionState struct {
	id              string
	workspaceID     string
	status          SessionStatus
	workspaceStatus string
	billingStandby  bool
	restoring       bool

	agents     map[string]*Agent
	agentOrder []string

	convs     map[string]*conversationState
	convOrder []string
}

type conversationState struct {
	conv     Conversation
	messages []Message
	seen     map[string]struct{} // message ids, the dedup key
}

// New creates an empty store.
func New() *Store {
	return &Store{
		sessions:   make(map[string]*sessionState),
		workspaces: make(map[string]string),
	}
}

// LoadSession seeds a session from a snapshot. Loading an already
// loaded session replaces it wholesale; the server snapshot is
// authoritative.
func (s *Store) LoadSession(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := &sessionState{
		id:          snap.ID,
		workspaceID: snap.WorkspaceID,
		status:      snap.Status,
		agents:      make(map[string]*Agent),
		convs:       make(map[string]*conversationState),
	}

	for _, a := range snap.Agents {
		agent := a
		state.agents[a.ID] = &agent
		state.agentOrder = append(state.agentOrder, a.ID)
	}

	for _, c := range snap.Conversations {
		cs := &conversationState{
			conv: Conversation{
				ID:            c.ID,
				Name:          c.Name,
				AgentIDs:      append([]string(nil), c.AgentIDs...),
				MessageCount:  len(c.Messages),
				LastMessageAt: c.LastMessageAt,
			},
			seen: make(map[string]struct{}),
		}
		for _, m := range c.Messages {
			if _, dup := cs.seen[m.ID]; dup {
				continue
			}
			cs.seen[m.ID] = struct{}{}
			cs.messages = append(cs.messages, m)
		}
		cs.conv.MessageCount = len(cs.messages)
		state.convs[c.ID] = cs
		state.convOrder = append(state.convOrder, c.ID)

		// Reconcile attachments from conversation membership.
		for _, agentID := range cs.conv.AgentIDs {
			if agent, ok := state.agents[agentID]; ok {
				agent.ConversationID = c.ID
			}
		}
	}

	s.sessions[snap.ID] = state
	if snap.WorkspaceID != "" {
		s.workspaces[snap.WorkspaceID] = snap.ID
	}
}

// UnloadSession discards a session and all its state.
func (s *Store) UnloadSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	if state.workspaceID != "" {
		delete(s.workspaces, state.workspaceID)
	}
	delete(s.sessions, sessionID)
}

// HasSession reports whether the session is loaded.
func (s *Store) HasSession(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[sessionID]
	return ok
}

// SessionForWorkspace resolves a workspace id to its loaded session id.
func (s *Store) SessionForWorkspace(workspaceID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.workspaces[workspaceID]
	return id, ok
}

// AddMessage appends a message to a conversation, preserving arrival
// order. Idempotent by message id: a duplicate insert is a no-op, as is
// any reference to an unknown session or conversation. Reports whether
// the message was stored.
//
// Dedup is by id only. A locally optimistic message and its
// server-confirmed twin carry different ids and may coexist; resolving
// that is deliberately left to a higher layer.
func (s *Store) AddMessage(sessionID, conversationID string, msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	cs, ok := state.convs[conversationID]
	if !ok {
		return false
	}
	if _, dup := cs.seen[msg.ID]; dup {
		return false
	}

	cs.seen[msg.ID] = struct{}{}
	cs.messages = append(cs.messages, msg)
	cs.conv.MessageCount = len(cs.messages)
	if msg.CreatedAt.After(cs.conv.LastMessageAt) {
		cs.conv.LastMessageAt = msg.CreatedAt
	}
	return true
}

// UpdateAgent shallow-merges the non-nil fields of the update into the
// agent. Unknown agent ids are no-ops.
func (s *Store) UpdateAgent(sessionID, agentID string, update AgentUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.agent(sessionID, agentID)
	if !ok {
		return
	}

	if update.Status != nil {
		agent.Status = *update.Status
	}
	if update.Model != nil {
		agent.Model = *update.Model
	}
	if update.Mode != nil {
		agent.Mode = *update.Mode
	}
	if update.PreviousMode != nil {
		agent.PreviousMode = *update.PreviousMode
	}
	if update.ThinkingEnabled != nil {
		agent.ThinkingEnabled = *update.ThinkingEnabled
	}
	if update.ThinkingBudget != nil {
		agent.ThinkingBudget = *update.ThinkingBudget
	}
	if update.LastError != nil {
		agent.LastError = *update.LastError
	}
}

// SetSessionStatus sets the session lifecycle status.
func (s *Store) SetSessionStatus(sessionID string, status SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.sessions[sessionID]; ok {
		state.status = status
	}
}

// SetWorkspaceStatus records the workspace status on the session.
// Single-writer field, last write wins.
func (s *Store) SetWorkspaceStatus(sessionID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.sessions[sessionID]; ok {
		state.workspaceStatus = status
	}
}

// SetBillingStandby marks the workspace parked (or resumed) by billing.
func (s *Store) SetBillingStandby(sessionID string, standby bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.sessions[sessionID]; ok {
		state.billingStandby = standby
	}
}

// SetRestoring marks a checkpoint restore in progress on the session.
func (s *Store) SetRestoring(sessionID string, restoring bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.sessions[sessionID]; ok {
		state.restoring = restoring
	}
}

// CreateConversation adds a conversation to the session. Creating an
// existing id is a no-op; the first create wins.
func (s *Store) CreateConversation(sessionID string, conv Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	if _, exists := state.convs[conv.ID]; exists {
		return
	}

	state.convs[conv.ID] = &conversationState{
		conv: Conversation{
			ID:            conv.ID,
			Name:          conv.Name,
			AgentIDs:      append([]string(nil), conv.AgentIDs...),
			LastMessageAt: conv.LastMessageAt,
		},
		seen: make(map[string]struct{}),
	}
	state.convOrder = append(state.convOrder, conv.ID)
}

// RenameConversation updates the conversation display name.
func (s *Store) RenameConversation(sessionID, conversationID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	if cs, ok := state.convs[conversationID]; ok {
		cs.conv.Name = name
	}
}

// DeleteConversation removes a conversation and detaches every agent
// attached to it.
func (s *Store) DeleteConversation(sessionID, conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	if _, exists := state.convs[conversationID]; !exists {
		return
	}

	delete(state.convs, conversationID)
	for i, id := range state.convOrder {
		if id == conversationID {
			state.convOrder = append(state.convOrder[:i], state.convOrder[i+1:]...)
			break
		}
	}
	for _, agent := range state.agents {
		if agent.ConversationID == conversationID {
			agent.ConversationID = ""
		}
	}
}

// AttachAgent attaches an agent to a conversation. An agent has at most
// one attached conversation, so any previous attachment is released
// first; the previous conversation itself is left intact.
func (s *Store) AttachAgent(sessionID, conversationID, agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	cs, ok := state.convs[conversationID]
	if !ok {
		return
	}
	agent, ok := state.agents[agentID]
	if !ok {
		return
	}

	if agent.ConversationID != "" && agent.ConversationID != conversationID {
		if prev, ok := state.convs[agent.ConversationID]; ok {
			prev.removeAgent(agentID)
		}
	}

	agent.ConversationID = conversationID
	for _, id := range cs.conv.AgentIDs {
		if id == agentID {
			return
		}
	}
	cs.conv.AgentIDs = append(cs.conv.AgentIDs, agentID)
}

// DetachAgent detaches an agent from a conversation. The conversation
// outlives the attachment.
func (s *Store) DetachAgent(sessionID, conversationID, agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	if cs, ok := state.convs[conversationID]; ok {
		cs.removeAgent(agentID)
	}
	if agent, ok := state.agents[agentID]; ok && agent.ConversationID == conversationID {
		agent.ConversationID = ""
	}
}

// ConversationForAgent returns the conversation currently attached to
// the agent.
func (s *Store) ConversationForAgent(sessionID, agentID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agent, ok := s.agent(sessionID, agentID)
	if !ok || agent.ConversationID == "" {
		return "", false
	}
	return agent.ConversationID, true
}

// Agent returns a copy of the agent.
func (s *Store) Agent(sessionID, agentID string) (Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agent, ok := s.agent(sessionID, agentID)
	if !ok {
		return Agent{}, false
	}
	return *agent, true
}

// Conversation returns a copy of the conversation including messages.
func (s *Store) Conversation(sessionID, conversationID string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return Conversation{}, false
	}
	cs, ok := state.convs[conversationID]
	if !ok {
		return Conversation{}, false
	}
	return cs.snapshot(), true
}

// Messages returns a copy of a conversation's message sequence.
func (s *Store) Messages(sessionID, conversationID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	cs, ok := state.convs[conversationID]
	if !ok {
		return nil
	}
	return append([]Message(nil), cs.messages...)
}

// Session returns a full read snapshot of the session.
func (s *Store) Session(sessionID string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, false
	}

	sess := Session{
		ID:              state.id,
		WorkspaceID:     state.workspaceID,
		Status:          state.status,
		WorkspaceStatus: state.workspaceStatus,
		BillingStandby:  state.billingStandby,
		Restoring:       state.restoring,
	}
	for _, id := range state.agentOrder {
		if agent, ok := state.agents[id]; ok {
			sess.Agents = append(sess.Agents, *agent)
		}
	}
	for _, id := range state.convOrder {
		if cs, ok := state.convs[id]; ok {
			sess.Conversations = append(sess.Conversations, cs.snapshot())
		}
	}
	return sess, true
}

// agent looks up an agent without copying. Caller must hold s.mu.
func (s *Store) agent(sessionID, agentID string) (*Agent, bool) {
	state, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	agent, ok := state.agents[agentID]
	return agent, ok
}

func (cs *conversationState) removeAgent(agentID string) {
	for i, id := range cs.conv.AgentIDs {
		if id == agentID {
			cs.conv.AgentIDs = append(cs.conv.AgentIDs[:i], cs.conv.AgentIDs[i+1:]...)
			return
		}
	}
}

func (cs *conversationState) snapshot() Conversation {
	conv := cs.conv
	conv.AgentIDs = append([]string(nil), cs.conv.AgentIDs...)
	conv.Messages = append([]Message(nil), cs.messages...)
	conv.MessageCount = len(cs.messages)
	return conv
}
