package attention

import (
	"context"
	"time"
)

// History persists attention items beyond the in-memory tracker so a
// reconnecting client can show what happened while it was away.
// Implementations must be safe for concurrent use.
type History interface {
	// SaveItem creates or replaces an item.
	SaveItem(ctx context.Context, item *Item) error

	// LoadItem retrieves one item by ID.
	// Returns ErrItemNotFound if it doesn't exist.
	LoadItem(ctx context.Context, sessionID, itemID string) (*Item, error)

	// ListItems returns every stored item for a session, newest first.
	ListItems(ctx context.Context, sessionID string) ([]*Item, error)

	// DeleteItem removes one item. Deleting a missing item is not an
	// error.
	DeleteItem(ctx context.Context, sessionID, itemID string) error

	// TrimExpired removes items whose expiry is before now and returns
	// how many were removed.
	TrimExpired(ctx context.Context, sessionID string, now time.Time) (int, error)

	// Close releases resources held by the backend.
	Close() error
}
