// Package approval correlates human-in-the-loop decision requests with
// their eventual responses. A request stays outstanding until a matching
// response is observed (from this client or any other) or the session
// ends; timeouts are a UI concern, not this layer's.
package approval

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	obs "github.com/agentsync-dev/agentsync/pkg/observability"
	"github.com/agentsync-dev/agentsync/wire"
)

// Request is an outstanding human-decision request.
type Request struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	AgentID   string          `json:"agentId"`
	Prompt    string          `json:"prompt"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Emitter sends outbound events through the channel. Satisfied by
// channel.Manager.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any) error
}

// Spawner runs fire-and-forget sends. Satisfied by dispatch.Spawner.
type Spawner interface {
	Go(name string, fn func(ctx context.Context) error)
}

// Correlator tracks outstanding requests keyed by id.
// Responses for unknown or already-resolved ids are ignored.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]Request
	emitter Emitter
	spawner Spawner
}

// NewCorrelator creates a correlator emitting decisions through emitter.
func NewCorrelator(emitter Emitter, spawner Spawner) *Correlator {
	return &Correlator{
		pending: make(map[string]Request),
		emitter: emitter,
		spawner: spawner,
	}
}

// Track registers an outstanding request. Tracking an id twice keeps
// the original.
func (c *Correlator) Track(req Request) {
	c.mu.Lock()
	if _, exists := c.pending[req.ID]; !exists {
		c.pending[req.ID] = req
	}
	count := len(c.pending)
	c.mu.Unlock()

	obs.SetApprovalsOutstanding(count)
}

// Resolve answers an outstanding request locally. The decision is
// applied immediately and the approval_response is emitted as a
// detached task; a failed send is logged, never retried, and does not
// reinstate the request. Returns false for unknown or already-resolved
// ids.
func (c *Correlator) Resolve(id string, approved, alwaysAllow bool) bool {
	c.mu.Lock()
	req, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, id)
	count := len(c.pending)
	c.mu.Unlock()

	obs.SetApprovalsOutstanding(count)

	decision := wire.ApprovalDecision{
		ID:          req.ID,
		SessionID:   req.SessionID,
		AgentID:     req.AgentID,
		Approved:    approved,
		AlwaysAllow: alwaysAllow,
	}
	c.spawner.Go("approval-response", func(ctx context.Context) error {
		return c.emitter.Emit(ctx, wire.EventApprovalResponse, decision)
	})
	return true
}

// ApplyRemote resolves a request answered by another client. Nothing is
// emitted back. Unknown ids are no-ops.
func (c *Correlator) ApplyRemote(ev wire.ApprovalResponse) {
	c.mu.Lock()
	if _, ok := c.pending[ev.ID]; ok {
		delete(c.pending, ev.ID)
	}
	count := len(c.pending)
	c.mu.Unlock()

	obs.SetApprovalsOutstanding(count)
}

// Outstanding returns the pending requests for one agent, oldest first.
// An empty agent id returns every pending request.
func (c *Correlator) Outstanding(agentID string) []Request {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Request
	for _, req := range c.pending {
		if agentID == "" || req.AgentID == agentID {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Get returns one pending request by id.
func (c *Correlator) Get(id string) (Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.pending[id]
	return req, ok
}

// Len returns the number of outstanding requests.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Clear drops every outstanding request for the session. Used at
// session teardown.
func (c *Correlator) Clear(sessionID string) {
	c.mu.Lock()
	for id, req := range c.pending {
		if req.SessionID == sessionID {
			delete(c.pending, id)
		}
	}
	count := len(c.pending)
	c.mu.Unlock()

	obs.SetApprovalsOutstanding(count)
}
