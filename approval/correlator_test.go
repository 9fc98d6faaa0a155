package approval

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentsync-dev/agentsync/wire"
)

type recordingEmitter struct {
	mu       sync.Mutex
	payloads []any
}

func (r *recordingEmitter) Emit(ctx context.Context, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
	return nil
}

func (r *recordingEmitter) decisions() []wire.ApprovalDecision {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []wire.ApprovalDecision
	for _, p := range r.payloads {
		if d, ok := p.(wire.ApprovalDecision); ok {
			out = append(out, d)
		}
	}
	return out
}

type syncSpawner struct{}

func (syncSpawner) Go(name string, fn func(ctx context.Context) error) {
	_ = fn(context.Background())
}

func request(id string, createdAt time.Time) Request {
	return Request{
		ID:        id,
		SessionID: "sess-1",
		AgentID:   "agent-1",
		Prompt:    "run tests?",
		Payload:   json.RawMessage(`{"command":"go test"}`),
		CreatedAt: createdAt,
	}
}

func TestResolveEmitsDecision(t *testing.T) {
	emitter := &recordingEmitter{}
	c := NewCorrelator(emitter, syncSpawner{})
	c.Track(request("a1", time.Now()))

	require.True(t, c.Resolve("a1", true, true))

	decisions := emitter.decisions()
	require.Len(t, decisions, 1)
	assert.Equal(t, "a1", decisions[0].ID)
	assert.True(t, decisions[0].Approved)
	assert.True(t, decisions[0].AlwaysAllow)
	assert.Zero(t, c.Len())
}

func TestResolveUnknownOrResolved(t *testing.T) {
	emitter := &recordingEmitter{}
	c := NewCorrelator(emitter, syncSpawner{})
	c.Track(request("a1", time.Now()))

	assert.False(t, c.Resolve("missing", true, false))
	require.True(t, c.Resolve("a1", false, false))
	assert.False(t, c.Resolve("a1", true, false), "second resolve is ignored")

	assert.Len(t, emitter.decisions(), 1)
}

func TestTrackKeepsOriginal(t *testing.T) {
	c := NewCorrelator(&recordingEmitter{}, syncSpawner{})

	first := request("a1", time.Now())
	first.Prompt = "original"
	c.Track(first)

	dup := request("a1", time.Now())
	dup.Prompt = "replay"
	c.Track(dup)

	req, ok := c.Get("a1")
	require.True(t, ok)
	assert.Equal(t, "original", req.Prompt)
	assert.Equal(t, 1, c.Len())
}

func TestApplyRemoteResolvesSilently(t *testing.T) {
	emitter := &recordingEmitter{}
	c := NewCorrelator(emitter, syncSpawner{})
	c.Track(request("a1", time.Now()))

	c.ApplyRemote(wire.ApprovalResponse{ID: "a1", SessionID: "sess-1", Approved: true})
	c.ApplyRemote(wire.ApprovalResponse{ID: "unknown"})

	assert.Zero(t, c.Len())
	assert.Empty(t, emitter.decisions(), "remote answers must not echo back")
}

func TestOutstandingFiltersAndSorts(t *testing.T) {
	c := NewCorrelator(&recordingEmitter{}, syncSpawner{})
	base := time.Now()

	newer := request("a2", base.Add(time.Minute))
	c.Track(newer)
	c.Track(request("a1", base))
	other := request("a3", base.Add(2*time.Minute))
	other.AgentID = "agent-2"
	c.Track(other)

	mine := c.Outstanding("agent-1")
	require.Len(t, mine, 2)
	assert.Equal(t, "a1", mine[0].ID, "oldest first")
	assert.Equal(t, "a2", mine[1].ID)

	all := c.Outstanding("")
	assert.Len(t, all, 3)
}

func TestClearDropsSessionRequests(t *testing.T) {
	c := NewCorrelator(&recordingEmitter{}, syncSpawner{})
	c.Track(request("a1", time.Now()))
	other := request("a2", time.Now())
	other.SessionID = "sess-2"
	c.Track(other)

	c.Clear("sess-1")

	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("a2")
	assert.True(t, ok)
}
