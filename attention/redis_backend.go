package attention

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisHistory implements History using Redis.
// It lets multiple clients of the same workspace share one attention
// history.
type RedisHistory struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all attention keys (default: "agentsync:attention:").
	Prefix string
	// ItemTTL is the item expiry duration (0 = never expire).
	ItemTTL time.Duration
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

// NewRedisHistory creates a new Redis-backed attention history.
func NewRedisHistory(cfg RedisConfig) (*RedisHistory, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "agentsync:attention:"
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisHistory{
		client: client,
		prefix: prefix,
		ttl:    cfg.ItemTTL,
	}, nil
}

// NewRedisHistoryFromClient creates a Redis history from an existing client.
// This is useful for testing with miniredis.
func NewRedisHistoryFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisHistory {
	if prefix == "" {
		prefix = "agentsync:attention:"
	}
	return &RedisHistory{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Key helpers
func (h *RedisHistory) itemKey(sessionID, itemID string) string {
	return h.prefix + "item:" + sessionID + ":" + itemID
}

func (h *RedisHistory) sessionIndexKey(sessionID string) string {
	return h.prefix + "session:" + sessionID
}

// SaveItem creates or replaces an item.
func (h *RedisHistory) SaveItem(ctx context.Context, item *Item) error {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrStorageClosed
	}
	h.mu.RUnlock()

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}

	pipe := h.client.Pipeline()
	pipe.Set(ctx, h.itemKey(item.SessionID, item.ID), data, h.ttl)
	pipe.SAdd(ctx, h.sessionIndexKey(item.SessionID), item.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save item: %w", err)
	}
	return nil
}

// LoadItem retrieves one item by ID.
func (h *RedisHistory) LoadItem(ctx context.Context, sessionID, itemID string) (*Item, error) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return nil, ErrStorageClosed
	}
	h.mu.RUnlock()

	data, err := h.client.Get(ctx, h.itemKey(sessionID, itemID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("get item: %w", err)
	}

	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &item, nil
}

// ListItems returns every stored item for a session, newest first.
func (h *RedisHistory) ListItems(ctx context.Context, sessionID string) ([]*Item, error) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return nil, ErrStorageClosed
	}
	h.mu.RUnlock()

	itemIDs, err := h.client.SMembers(ctx, h.sessionIndexKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	items := make([]*Item, 0, len(itemIDs))
	for _, id := range itemIDs {
		item, err := h.LoadItem(ctx, sessionID, id)
		if err != nil {
			if errors.Is(err, ErrItemNotFound) {
				// Item expired under us, clean up the index
				h.client.SRem(ctx, h.sessionIndexKey(sessionID), id)
				continue
			}
			return nil, err
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

// DeleteItem removes one item.
func (h *RedisHistory) DeleteItem(ctx context.Context, sessionID, itemID string) error {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrStorageClosed
	}
	h.mu.RUnlock()

	pipe := h.client.Pipeline()
	pipe.Del(ctx, h.itemKey(sessionID, itemID))
	pipe.SRem(ctx, h.sessionIndexKey(sessionID), itemID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// TrimExpired removes items past their expiry.
func (h *RedisHistory) TrimExpired(ctx context.Context, sessionID string, now time.Time) (int, error) {
	items, err := h.ListItems(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	trimmed := 0
	for _, item := range items {
		if !item.Expired(now) {
			continue
		}
		if err := h.DeleteItem(ctx, sessionID, item.ID); err != nil {
			return trimmed, err
		}
		trimmed++
	}
	return trimmed, nil
}

// Close releases resources held by the backend.
func (h *RedisHistory) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	return h.client.Close()
}

// Ping checks if the Redis connection is alive.
func (h *RedisHistory) Ping(ctx context.Context) error {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrStorageClosed
	}
	h.mu.RUnlock()

	return h.client.Ping(ctx).Err()
}
