package attention

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrInvalidPathComponent is returned when a path component contains unsafe characters.
var ErrInvalidPathComponent = errors.New("invalid path component: contains path separator or traversal sequence")

// validatePathComponent checks that a string is safe to use as a path component.
// It rejects empty strings, path separators, and traversal sequences.
func validatePathComponent(s string) error {
	if s == "" {
		return errors.New("path component cannot be empty")
	}
	if strings.ContainsAny(s, `/\`) || strings.Contains(s, "..") {
		return ErrInvalidPathComponent
	}
	return nil
}

// FileHistory implements History using JSON files on disk.
// Storage layout:
//
//	~/.agentsync/attention/
//	  └── <session-id>.json    # items for one session, keyed by id
type FileHistory struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

// NewFileHistory creates a new file-based attention history.
// If baseDir is empty, uses ~/.agentsync/attention.
func NewFileHistory(baseDir string) (*FileHistory, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".agentsync", "attention")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &FileHistory{
		baseDir: baseDir,
	}, nil
}

func (f *FileHistory) sessionPath(sessionID string) string {
	return filepath.Join(f.baseDir, sessionID+".json")
}

// readIndex loads the item map for a session. A missing file yields an
// empty map. Caller must hold a lock.
func (f *FileHistory) readIndex(sessionID string) (map[string]*Item, error) {
	if err := validatePathComponent(sessionID); err != nil {
		return nil, fmt.Errorf("invalid session ID: %w", err)
	}

	index := make(map[string]*Item)
	data, err := os.ReadFile(f.sessionPath(sessionID)) // #nosec G304 - path component validated to prevent traversal
	if err != nil {
		if os.IsNotExist(err) {
			return index, nil
		}
		return nil, fmt.Errorf("read attention index: %w", err)
	}
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parse attention index: %w", err)
	}
	return index, nil
}

// writeIndex persists the item map for a session. Caller must hold the
// write lock.
func (f *FileHistory) writeIndex(sessionID string, index map[string]*Item) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal attention index: %w", err)
	}
	if err := os.WriteFile(f.sessionPath(sessionID), data, 0600); err != nil {
		return fmt.Errorf("write attention index: %w", err)
	}
	return nil
}

// SaveItem creates or replaces an item.
func (f *FileHistory) SaveItem(ctx context.Context, item *Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStorageClosed
	}
	if err := validatePathComponent(item.SessionID); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}

	index, err := f.readIndex(item.SessionID)
	if err != nil {
		return err
	}

	clone := *item
	index[item.ID] = &clone

	return f.writeIndex(item.SessionID, index)
}

// LoadItem retrieves one item by ID.
func (f *FileHistory) LoadItem(ctx context.Context, sessionID, itemID string) (*Item, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrStorageClosed
	}

	index, err := f.readIndex(sessionID)
	if err != nil {
		return nil, err
	}

	item, ok := index[itemID]
	if !ok {
		return nil, ErrItemNotFound
	}
	clone := *item
	return &clone, nil
}

// ListItems returns every stored item for a session, newest first.
func (f *FileHistory) ListItems(ctx context.Context, sessionID string) ([]*Item, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrStorageClosed
	}

	index, err := f.readIndex(sessionID)
	if err != nil {
		return nil, err
	}

	items := make([]*Item, 0, len(index))
	for _, item := range index {
		clone := *item
		items = append(items, &clone)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

// DeleteItem removes one item.
func (f *FileHistory) DeleteItem(ctx context.Context, sessionID, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrStorageClosed
	}

	index, err := f.readIndex(sessionID)
	if err != nil {
		return err
	}
	if _, ok := index[itemID]; !ok {
		return nil
	}

	delete(index, itemID)
	return f.writeIndex(sessionID, index)
}

// TrimExpired removes items past their expiry.
func (f *FileHistory) TrimExpired(ctx context.Context, sessionID string, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, ErrStorageClosed
	}

	index, err := f.readIndex(sessionID)
	if err != nil {
		return 0, err
	}

	trimmed := 0
	for id, item := range index {
		if item.Expired(now) {
			delete(index, id)
			trimmed++
		}
	}
	if trimmed == 0 {
		return 0, nil
	}

	if err := f.writeIndex(sessionID, index); err != nil {
		return 0, err
	}
	return trimmed, nil
}

// Close releases any resources held by the backend.
func (f *FileHistory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}
