package server

import (
	"context"
	"sync"

	"camstream/internal/camera"
)

// Store persists the camera settings. Load reports false when nothing has
// been saved yet. Close releases the underlying database, if any.
type Store interface {
	Load(ctx context.Context) (camera.Settings, bool, error)
	Save(ctx context.Context, s camera.Settings) error
	Close() error
}

// MemoryStore keeps the settings for the lifetime of the process.
type MemoryStore struct {
	mu       sync.RWMutex
	settings camera.Settings
	saved    bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store.
func (m *MemoryStore) Load(context.Context) (camera.Settings, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings, m.saved, nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, s camera.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = s
	m.saved = true
	return nil
}

// Close implements Store; there is nothing to release.
func (m *MemoryStore) Close() error { return nil }
