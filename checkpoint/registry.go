// Package checkpoint tracks restorable snapshots of agent file changes.
// The registry only records ordering and status transitions; deciding
// when to restore belongs to the caller orchestrating the workflow.
package checkpoint

import (
	"sort"
	"sync"
	"time"
)

// Status is a checkpoint's lifecycle status.
type Status string

const (
	// StatusActive is a reachable checkpoint.
	StatusActive Status = "active"
	// StatusRestored marks the checkpoint a session was rolled back to.
	StatusRestored Status = "restored"
	// StatusSuperseded marks checkpoints describing file states made
	// unreachable by a restore.
	StatusSuperseded Status = "superseded"
)

// Checkpoint is one restorable snapshot.
type Checkpoint struct {
	// ID is the unique checkpoint identifier.
	ID string `json:"id"`
	// Seq is the session-scoped sequence number, monotonically
	// increasing per session.
	Seq int64 `json:"seq"`
	// SessionID links to the owning session.
	SessionID string `json:"sessionId"`
	// AgentID is the agent whose action produced the checkpoint.
	AgentID string `json:"agentId"`
	// Description summarizes the change.
	Description string `json:"description"`
	// Status is the lifecycle status.
	Status Status `json:"status"`
	// FilesChanged, LinesAdded and LinesRemoved summarize the diff.
	FilesChanged int `json:"filesChanged"`
	LinesAdded   int `json:"linesAdded"`
	LinesRemoved int `json:"linesRemoved"`
	// CreatedAt is when the checkpoint was taken.
	CreatedAt time.Time `json:"createdAt"`
}

// Registry holds per-session checkpoint lists, always sorted by Seq
// descending (most recent first). Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	bySession map[string][]Checkpoint
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		bySession: make(map[string][]Checkpoint),
	}
}

// Set replaces the session's checkpoint list. Input order is arbitrary;
// the stored list is sorted by Seq descending.
func (r *Registry) Set(sessionID string, cps []Checkpoint) {
	sorted := append([]Checkpoint(nil), cps...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Seq > sorted[j].Seq
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySession[sessionID] = sorted
}

// Add inserts one checkpoint preserving the descending Seq order.
// Adding an id that already exists replaces the stored entry.
func (r *Registry) Add(sessionID string, cp Checkpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.bySession[sessionID]
	for i := range list {
		if list[i].ID == cp.ID {
			list[i] = cp
			sort.Slice(list, func(a, b int) bool { return list[a].Seq > list[b].Seq })
			r.bySession[sessionID] = list
			return
		}
	}

	// Binary search for the insertion point in the descending list.
	idx := sort.Search(len(list), func(i int) bool {
		return list[i].Seq < cp.Seq
	})
	list = append(list, Checkpoint{})
	copy(list[idx+1:], list[idx:])
	list[idx] = cp
	r.bySession[sessionID] = list
}

// UpdateStatus sets the status of one checkpoint. Unknown session or
// checkpoint ids are no-ops.
func (r *Registry) UpdateStatus(sessionID, checkpointID string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.bySession[sessionID]
	for i := range list {
		if list[i].ID == checkpointID {
			list[i].Status = status
			return
		}
	}
}

// MarkRestored records a completed restore: the target checkpoint
// becomes restored and every checkpoint of the same agent with a higher
// Seq becomes superseded, since the file states they describe are no
// longer reachable. Reports whether the target was found.
func (r *Registry) MarkRestored(sessionID, checkpointID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.bySession[sessionID]
	target := -1
	for i := range list {
		if list[i].ID == checkpointID {
			target = i
			break
		}
	}
	if target < 0 {
		return false
	}

	restored := &list[target]
	restored.Status = StatusRestored
	for i := range list {
		if i == target {
			continue
		}
		if list[i].AgentID == restored.AgentID && list[i].Seq > restored.Seq {
			list[i].Status = StatusSuperseded
		}
	}
	return true
}

// List returns a copy of the session's checkpoints, most recent first.
func (r *Registry) List(sessionID string) []Checkpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Checkpoint(nil), r.bySession[sessionID]...)
}

// Get returns one checkpoint by id.
func (r *Registry) Get(sessionID, checkpointID string) (Checkpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cp := range r.bySession[sessionID] {
		if cp.ID == checkpointID {
			return cp, true
		}
	}
	return Checkpoint{}, false
}

// Latest returns the most recent checkpoint for an agent.
func (r *Registry) Latest(sessionID, agentID string) (Checkpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cp := range r.bySession[sessionID] {
		if cp.AgentID == agentID {
			return cp, true
		}
	}
	return Checkpoint{}, false
}

// Clear drops the session's checkpoint list.
func (r *Registry) Clear(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bySession, sessionID)
}
