package attention

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisHistory(t *testing.T) *RedisHistory {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisHistoryFromClient(client, "", 0)
}

func historyItem(id string, createdAt time.Time) *Item {
	return &Item{
		ID:        id,
		AgentID:   "agent-1",
		SessionID: "sess-1",
		Type:      TypeCompleted,
		Title:     "t-" + id,
		CreatedAt: createdAt,
	}
}

func runHistoryContract(t *testing.T, h History) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	// Round trip.
	require.NoError(t, h.SaveItem(ctx, historyItem("n1", now)))
	loaded, err := h.LoadItem(ctx, "sess-1", "n1")
	require.NoError(t, err)
	assert.Equal(t, "t-n1", loaded.Title)

	// Save replaces.
	updated := historyItem("n1", now)
	updated.Read = true
	require.NoError(t, h.SaveItem(ctx, updated))
	loaded, err = h.LoadItem(ctx, "sess-1", "n1")
	require.NoError(t, err)
	assert.True(t, loaded.Read)

	// Missing item.
	_, err = h.LoadItem(ctx, "sess-1", "missing")
	assert.ErrorIs(t, err, ErrItemNotFound)

	// List is newest first.
	require.NoError(t, h.SaveItem(ctx, historyItem("n2", now.Add(time.Minute))))
	require.NoError(t, h.SaveItem(ctx, historyItem("n3", now.Add(2*time.Minute))))
	items, err := h.ListItems(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "n3", items[0].ID)
	assert.Equal(t, "n1", items[2].ID)

	// Delete is idempotent.
	require.NoError(t, h.DeleteItem(ctx, "sess-1", "n2"))
	require.NoError(t, h.DeleteItem(ctx, "sess-1", "n2"))
	items, err = h.ListItems(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, items, 2)

	// Trim removes only expired items.
	expired := historyItem("n4", now.Add(-2*time.Hour))
	expired.ExpiresAt = now.Add(-time.Hour)
	require.NoError(t, h.SaveItem(ctx, expired))

	trimmed, err := h.TrimExpired(ctx, "sess-1", now)
	require.NoError(t, err)
	assert.Equal(t, 1, trimmed)
	_, err = h.LoadItem(ctx, "sess-1", "n4")
	assert.ErrorIs(t, err, ErrItemNotFound)
	_, err = h.LoadItem(ctx, "sess-1", "n1")
	assert.NoError(t, err)
}

func TestRedisHistoryContract(t *testing.T) {
	runHistoryContract(t, newRedisHistory(t))
}

func TestFileHistoryContract(t *testing.T) {
	h, err := NewFileHistory(t.TempDir())
	require.NoError(t, err)
	runHistoryContract(t, h)
}

func TestRedisHistoryClosed(t *testing.T) {
	h := newRedisHistory(t)
	require.NoError(t, h.Close())

	err := h.SaveItem(context.Background(), historyItem("n1", time.Now()))
	assert.ErrorIs(t, err, ErrStorageClosed)
	_, err = h.ListItems(context.Background(), "sess-1")
	assert.ErrorIs(t, err, ErrStorageClosed)
}

func TestFileHistoryRejectsTraversal(t *testing.T) {
	h, err := NewFileHistory(t.TempDir())
	require.NoError(t, err)

	bad := historyItem("n1", time.Now())
	bad.SessionID = "../escape"
	assert.ErrorIs(t, h.SaveItem(context.Background(), bad), ErrInvalidPathComponent)

	_, err = h.ListItems(context.Background(), `a/b`)
	assert.ErrorIs(t, err, ErrInvalidPathComponent)
}

func TestTrackerLoadsHistory(t *testing.T) {
	h := newRedisHistory(t)
	ctx := context.Background()
	require.NoError(t, h.SaveItem(ctx, historyItem("n1", time.Now())))

	emitter := &recordingEmitter{}
	tracker := NewTracker(TrackerConfig{History: h}, emitter, syncSpawner{})

	require.NoError(t, tracker.LoadHistory(ctx, "sess-1"))
	assert.Len(t, tracker.List("sess-1"), 1)

	// A live event for the same id arriving after backfill stays a
	// single item.
	tracker.Upsert(*historyItem("n1", time.Now()))
	assert.Len(t, tracker.List("sess-1"), 1)
}
