package attention

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	obs "github.com/agentsync-dev/agentsync/pkg/observability"
	"github.com/agentsync-dev/agentsync/wire"
)

// Default auto-acknowledge thresholds.
const (
	// DefaultMinUnfocused is the minimum away time before a refocus can
	// auto-acknowledge anything.
	DefaultMinUnfocused = 1000 * time.Millisecond
	// DefaultLongUnfocused is the away time past which a refocus
	// auto-acknowledges even with the notification panel closed.
	DefaultLongUnfocused = 5000 * time.Millisecond
)

// Emitter sends outbound events through the channel. Satisfied by
// channel.Manager.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any) error
}

// Spawner runs fire-and-forget sends. Satisfied by dispatch.Spawner.
type Spawner interface {
	Go(name string, fn func(ctx context.Context) error)
}

// TrackerConfig configures a Tracker. Zero thresholds take the
// defaults; History is optional.
type TrackerConfig struct {
	// MinUnfocused is the minimum away time for auto-acknowledge.
	MinUnfocused time.Duration
	// LongUnfocused is the away time that auto-acknowledges even with
	// the panel closed.
	LongUnfocused time.Duration
	// History persists items across client restarts. Nil disables
	// persistence.
	History History
}

// Tracker holds the live attention items for the sessions this client
// watches. Read and dismiss mutations apply locally first; the matching
// acknowledgement is emitted as a detached task so other clients
// converge, and a failed send never rolls the local state back.
//
// Mutations normally arrive on the dispatch goroutine; the mutex exists
// for read accessors and focus callbacks crossing in from other
// goroutines.
type Tracker struct {
	mu    sync.Mutex
	items map[string]*Item

	emitter Emitter
	spawner Spawner
	history History

	minUnfocused  time.Duration
	longUnfocused time.Duration

	activeSession string
	panelOpen     bool
	focused       bool
	blurredAt     time.Time

	now func() time.Time
}

// NewTracker creates a tracker that emits acknowledgements through
// emitter.
func NewTracker(cfg TrackerConfig, emitter Emitter, spawner Spawner) *Tracker {
	minUnfocused := cfg.MinUnfocused
	if minUnfocused <= 0 {
		minUnfocused = DefaultMinUnfocused
	}
	longUnfocused := cfg.LongUnfocused
	if longUnfocused <= 0 {
		longUnfocused = DefaultLongUnfocused
	}

	return &Tracker{
		items:         make(map[string]*Item),
		emitter:       emitter,
		spawner:       spawner,
		history:       cfg.History,
		minUnfocused:  minUnfocused,
		longUnfocused: longUnfocused,
		focused:       true,
		now:           time.Now,
	}
}

// Upsert records an item from an inbound event or a history load.
// An already-known id is a no-op, so live events and a concurrent
// history backfill converge on whichever arrived first.
func (t *Tracker) Upsert(item Item) {
	t.mu.Lock()
	if _, exists := t.items[item.ID]; exists {
		t.mu.Unlock()
		return
	}
	clone := item
	t.items[item.ID] = &clone
	t.mu.Unlock()

	t.persist(&clone)
	t.updateUnreadMetric()
}

// FromEvent converts a wire notification into an Item.
func FromEvent(ev wire.AgentAttention) Item {
	return Item{
		ID:        ev.ID,
		AgentID:   ev.AgentID,
		SessionID: ev.SessionID,
		Type:      ev.Type,
		Title:     ev.Title,
		Message:   ev.Message,
		Priority:  ev.Priority,
		CreatedAt: ev.CreatedAt,
		ExpiresAt: ev.ExpiresAt,
		Metadata:  ev.Metadata,
	}
}

// MarkRead marks one item read as a local user action and emits the
// read acknowledgement. Unknown ids and already-read items are no-ops.
func (t *Tracker) MarkRead(id string) {
	t.mu.Lock()
	item, ok := t.items[id]
	if !ok || item.Read {
		t.mu.Unlock()
		return
	}
	item.Read = true
	clone := *item
	t.mu.Unlock()

	t.persist(&clone)
	t.updateUnreadMetric()
	t.spawner.Go("attention-read", func(ctx context.Context) error {
		return t.emitter.Emit(ctx, wire.EventAgentAttentionRead, wire.AttentionReadAck{
			SessionID:   clone.SessionID,
			AttentionID: clone.ID,
		})
	})
}

// ApplyRead applies a read performed on another client. Nothing is
// emitted back. Unknown ids are no-ops.
func (t *Tracker) ApplyRead(id string) {
	t.mu.Lock()
	item, ok := t.items[id]
	if !ok || item.Read {
		t.mu.Unlock()
		return
	}
	item.Read = true
	clone := *item
	t.mu.Unlock()

	t.persist(&clone)
	t.updateUnreadMetric()
}

// Dismiss dismisses one item as a local user action and emits the
// dismiss acknowledgement. Unknown ids and already-dismissed items are
// no-ops.
func (t *Tracker) Dismiss(id string) {
	t.mu.Lock()
	item, ok := t.items[id]
	if !ok || item.Dismissed {
		t.mu.Unlock()
		return
	}
	item.Read = true
	item.Dismissed = true
	clone := *item
	t.mu.Unlock()

	t.persist(&clone)
	t.updateUnreadMetric()
	t.spawner.Go("attention-dismiss", func(ctx context.Context) error {
		return t.emitter.Emit(ctx, wire.EventAgentAttentionDismiss, wire.AttentionDismissAck{
			SessionID:   clone.SessionID,
			AttentionID: clone.ID,
		})
	})
}

// ApplyDismiss applies a dismiss performed on another client.
func (t *Tracker) ApplyDismiss(id string) {
	t.mu.Lock()
	item, ok := t.items[id]
	if !ok || item.Dismissed {
		t.mu.Unlock()
		return
	}
	item.Read = true
	item.Dismissed = true
	clone := *item
	t.mu.Unlock()

	t.persist(&clone)
	t.updateUnreadMetric()
}

// DismissAll dismisses every non-dismissed item for the session (and
// agent, when given) as a local action and emits one dismiss-all
// acknowledgement.
func (t *Tracker) DismissAll(sessionID, agentID string) {
	changed := t.dismissAll(sessionID, agentID)
	if len(changed) == 0 {
		return
	}

	for i := range changed {
		t.persist(&changed[i])
	}
	t.updateUnreadMetric()
	t.spawner.Go("attention-dismiss-all", func(ctx context.Context) error {
		return t.emitter.Emit(ctx, wire.EventAgentAttentionDismissAll, wire.AttentionDismissAllAck{
			SessionID: sessionID,
			AgentID:   agentID,
		})
	})
}

// ApplyDismissAll applies a dismiss-all performed on another client.
func (t *Tracker) ApplyDismissAll(sessionID, agentID string) {
	changed := t.dismissAll(sessionID, agentID)
	for i := range changed {
		t.persist(&changed[i])
	}
	t.updateUnreadMetric()
}

func (t *Tracker) dismissAll(sessionID, agentID string) []Item {
	t.mu.Lock()
	defer t.mu.Unlock()

	var changed []Item
	for _, item := range t.items {
		if item.SessionID != sessionID || item.Dismissed {
			continue
		}
		if agentID != "" && item.AgentID != agentID {
			continue
		}
		item.Read = true
		item.Dismissed = true
		changed = append(changed, *item)
	}
	return changed
}

// List returns the non-dismissed items for a session in display order:
// urgent items (approvals, errors, high priority) first, most recent
// first within each partition.
func (t *Tracker) List(sessionID string) []Item {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Item
	for _, item := range t.items {
		if item.SessionID == sessionID && !item.Dismissed {
			out = append(out, *item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Urgent() != out[j].Urgent() {
			return out[i].Urgent()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Unread returns the unread, non-dismissed items for a session.
func (t *Tracker) Unread(sessionID string) []Item {
	var out []Item
	for _, item := range t.List(sessionID) {
		if !item.Read {
			out = append(out, item)
		}
	}
	return out
}

// UnreadCount returns the number of unread, non-dismissed items across
// every session.
func (t *Tracker) UnreadCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unreadCountLocked()
}

func (t *Tracker) unreadCountLocked() int {
	count := 0
	for _, item := range t.items {
		if !item.Read && !item.Dismissed {
			count++
		}
	}
	return count
}

// ClearSession drops every item for the session from memory. The
// persisted history is untouched so a later rejoin can reload it.
func (t *Tracker) ClearSession(sessionID string) {
	t.mu.Lock()
	for id, item := range t.items {
		if item.SessionID == sessionID {
			delete(t.items, id)
		}
	}
	if t.activeSession == sessionID {
		t.activeSession = ""
	}
	t.mu.Unlock()

	t.updateUnreadMetric()
}

// SetActiveSession names the session whose unread items auto-acknowledge
// on refocus.
func (t *Tracker) SetActiveSession(sessionID string) {
	t.mu.Lock()
	t.activeSession = sessionID
	t.mu.Unlock()
}

// SetPanelOpen records whether the notification panel is visible.
func (t *Tracker) SetPanelOpen(open bool) {
	t.mu.Lock()
	t.panelOpen = open
	t.mu.Unlock()
}

// SetFocused feeds a focus transition from the platform's visibility
// observer. Regaining focus after at least the minimum away time marks
// every unread item of the active session read, provided the panel is
// open or the away time passed the long threshold. Each auto-read is
// synced to the server as its own detached task.
func (t *Tracker) SetFocused(focused bool) {
	t.mu.Lock()
	if focused == t.focused {
		t.mu.Unlock()
		return
	}
	t.focused = focused

	if !focused {
		t.blurredAt = t.now()
		t.mu.Unlock()
		return
	}

	away := t.now().Sub(t.blurredAt)
	session := t.activeSession
	eligible := session != "" &&
		away >= t.minUnfocused &&
		(t.panelOpen || away >= t.longUnfocused)
	if !eligible {
		t.mu.Unlock()
		return
	}

	var acked []Item
	for _, item := range t.items {
		if item.SessionID != session || item.Read || item.Dismissed {
			continue
		}
		item.Read = true
		acked = append(acked, *item)
	}
	t.mu.Unlock()

	for i := range acked {
		item := acked[i]
		t.persist(&item)
		t.spawner.Go("attention-auto-read", func(ctx context.Context) error {
			return t.emitter.Emit(ctx, wire.EventAgentAttentionRead, wire.AttentionReadAck{
				SessionID:   item.SessionID,
				AttentionID: item.ID,
			})
		})
	}
	t.updateUnreadMetric()
}

// LoadHistory pulls persisted items for a session into the tracker.
// Intended to run once per session join as a detached task; live events
// arriving before it completes win by id.
func (t *Tracker) LoadHistory(ctx context.Context, sessionID string) error {
	if t.history == nil {
		return nil
	}

	items, err := t.history.ListItems(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, item := range items {
		t.Upsert(*item)
	}
	return nil
}

func (t *Tracker) persist(item *Item) {
	if t.history == nil {
		return
	}
	clone := *item
	t.spawner.Go("attention-persist", func(ctx context.Context) error {
		return t.history.SaveItem(ctx, &clone)
	})
}

func (t *Tracker) updateUnreadMetric() {
	obs.SetAttentionUnread(t.UnreadCount())
}

// logTrimError keeps trim failures visible without surfacing them to
// callers.
func logTrimError(sessionID string, err error) {
	log.Printf("attention trim for session %s: %v", sessionID, err)
}
