package attention

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	obs "github.com/agentsync-dev/agentsync/pkg/observability"
)

// DefaultTrimSchedule is how often expired items are swept.
const DefaultTrimSchedule = "@every 1m"

// TrimExpired drops expired items from memory and returns how many
// were removed.
func (t *Tracker) TrimExpired(now time.Time) int {
	t.mu.Lock()
	trimmed := 0
	for id, item := range t.items {
		if item.Expired(now) {
			delete(t.items, id)
			trimmed++
		}
	}
	t.mu.Unlock()

	if trimmed > 0 {
		t.updateUnreadMetric()
	}
	return trimmed
}

// Sessions returns the distinct session ids with items in memory.
func (t *Tracker) Sessions() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]struct{})
	var out []string
	for _, item := range t.items {
		if _, ok := seen[item.SessionID]; ok {
			continue
		}
		seen[item.SessionID] = struct{}{}
		out = append(out, item.SessionID)
	}
	return out
}

// Trimmer periodically sweeps expired attention items from the tracker
// and its history backend.
type Trimmer struct {
	tracker  *Tracker
	cron     *cron.Cron
	schedule string
}

// NewTrimmer creates a trimmer on the given schedule. An empty schedule
// takes DefaultTrimSchedule.
func NewTrimmer(tracker *Tracker, schedule string) *Trimmer {
	if schedule == "" {
		schedule = DefaultTrimSchedule
	}
	return &Trimmer{
		tracker:  tracker,
		cron:     cron.New(),
		schedule: schedule,
	}
}

// Start begins the sweep schedule.
func (tr *Trimmer) Start() error {
	if _, err := tr.cron.AddFunc(tr.schedule, tr.sweep); err != nil {
		return err
	}
	tr.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (tr *Trimmer) Stop() {
	ctx := tr.cron.Stop()
	<-ctx.Done()
}

// Sweep runs one trim pass immediately.
func (tr *Trimmer) Sweep() {
	tr.sweep()
}

func (tr *Trimmer) sweep() {
	now := time.Now().UTC()
	sessions := tr.tracker.Sessions()

	trimmed := tr.tracker.TrimExpired(now)

	if tr.tracker.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		for _, sessionID := range sessions {
			n, err := tr.tracker.history.TrimExpired(ctx, sessionID, now)
			if err != nil {
				logTrimError(sessionID, err)
				continue
			}
			trimmed += n
		}
	}

	if trimmed > 0 {
		obs.RecordAttentionTrimmed(trimmed)
	}
}
