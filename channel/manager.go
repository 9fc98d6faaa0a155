package channel

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	obs "github.com/agentsync-dev/agentsync/pkg/observability"
	"github.com/agentsync-dev/agentsync/wire"
)

// SessionScope identifies one joined session. The server drops all
// scoping when the connection dies, so the manager replays every scope
// after each reconnect.
type SessionScope struct {
	SessionID string
	UserID    string
	AuthToken string
}

// Manager owns the channel lifecycle on top of a Transport: idempotent
// connect, session join/leave, scope replay after reconnects, and
// fan-out of connection state to interested components.
type Manager struct {
	transport Transport

	mu          sync.Mutex
	scopes      map[string]SessionScope
	subscribers map[int]func(State)
	nextSubID   int
	current     State
	started     bool
	watchDone   chan struct{}
}

// NewManager creates a manager over the given transport.
func NewManager(transport Transport) *Manager {
	return &Manager{
		transport:   transport,
		scopes:      make(map[string]SessionScope),
		subscribers: make(map[int]func(State)),
		current:     State{Status: StatusDisconnected},
	}
}

// Connect establishes the channel. Calling it on an already-connected
// manager is a no-op.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.watchDone = make(chan struct{})
	m.mu.Unlock()

	if err := m.transport.Connect(ctx); err != nil {
		m.mu.Lock()
		m.started = false
		close(m.watchDone)
		m.mu.Unlock()
		return err
	}

	m.setState(State{Status: StatusConnected})
	m.rejoinAll()
	go m.watch()
	return nil
}

// Disconnect tears the channel down and stops state fan-out.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	done := m.watchDone
	m.mu.Unlock()

	err := m.transport.Disconnect()
	<-done
	return err
}

// watch consumes transport state transitions until the transport shuts
// down.
func (m *Manager) watch() {
	defer func() {
		m.mu.Lock()
		done := m.watchDone
		m.mu.Unlock()
		close(done)
	}()

	for state := range m.transport.States() {
		prev := m.currentState()
		m.setState(state)

		if state.Status == StatusConnected && prev.Status != StatusConnected {
			if prev.Status == StatusReconnecting {
				obs.RecordReconnect()
			}
			m.rejoinAll()
		}
	}

	m.setState(State{Status: StatusDisconnected})
}

// rejoinAll replays every active session scope on a fresh connection.
func (m *Manager) rejoinAll() {
	m.mu.Lock()
	scopes := make([]SessionScope, 0, len(m.scopes))
	for _, s := range m.scopes {
		scopes = append(scopes, s)
	}
	m.mu.Unlock()

	for _, s := range scopes {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := m.Emit(ctx, wire.EventJoinSession, wire.JoinSession{
			SessionID: s.SessionID,
			UserID:    s.UserID,
			AuthToken: s.AuthToken,
		})
		cancel()
		if err != nil {
			log.Printf("channel: rejoin session %s: %v", s.SessionID, err)
		}
	}
}

// JoinSession scopes the connection to a session and remembers the
// scope for reconnect replay.
func (m *Manager) JoinSession(ctx context.Context, scope SessionScope) error {
	m.mu.Lock()
	m.scopes[scope.SessionID] = scope
	connected := m.current.Status == StatusConnected
	m.mu.Unlock()

	if !connected {
		// The scope replays as soon as the connection is up.
		return nil
	}

	if err := m.Emit(ctx, wire.EventJoinSession, wire.JoinSession{
		SessionID: scope.SessionID,
		UserID:    scope.UserID,
		AuthToken: scope.AuthToken,
	}); err != nil {
		return fmt.Errorf("join session %s: %w", scope.SessionID, err)
	}
	return nil
}

// LeaveSession removes the session scope. The leave notice is best
// effort; a dead connection already cleared the scope server-side.
func (m *Manager) LeaveSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	scope, known := m.scopes[sessionID]
	delete(m.scopes, sessionID)
	connected := m.current.Status == StatusConnected
	m.mu.Unlock()

	if !known || !connected {
		return nil
	}

	if err := m.Emit(ctx, wire.EventLeaveSession, wire.LeaveSession{
		SessionID: sessionID,
		UserID:    scope.UserID,
	}); err != nil {
		return fmt.Errorf("leave session %s: %w", sessionID, err)
	}
	return nil
}

// On registers a raw payload handler for one inbound event name.
func (m *Manager) On(event string, h Handler) func() {
	return m.transport.On(event, h)
}

// Emit sends one outbound event through the transport.
func (m *Manager) Emit(ctx context.Context, event string, payload any) error {
	err := m.transport.Emit(ctx, event, payload)
	if err != nil {
		obs.RecordEmit(event, "error")
		return err
	}
	obs.RecordEmit(event, "ok")
	return nil
}

// State returns the latest observed connection state.
func (m *Manager) State() State {
	return m.currentState()
}

// Connected reports whether the channel is currently up.
func (m *Manager) Connected() bool {
	return m.currentState().Status == StatusConnected
}

// Subscribe registers a callback for connection state transitions and
// returns an unsubscribe function. The callback runs on the watch
// goroutine and must not block.
func (m *Manager) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

func (m *Manager) currentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.current = s
	subs := make([]func(State), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	obs.SetConnected(s.Status == StatusConnected)
	for _, fn := range subs {
		fn(s)
	}
}
