// Package snapshot persists the last successfully parsed prices so that a
// failed refresh can still serve the most recent live data.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/go-poultry-prices/config"
	"github.com/aluiziolira/go-poultry-prices/models"
)

// ErrCorrupt marks persisted state that could not be decoded.
var ErrCorrupt = errors.New("snapshot: corrupt")

// Store loads and saves the last known good PriceMap.
//
// Load always returns a non-nil map. A missing snapshot is an empty map and a
// nil error; unreadable or corrupt state is an empty map and a non-nil error
// that callers log and otherwise ignore.
type Store interface {
	Load(ctx context.Context) (models.PriceMap, error)
	Save(ctx context.Context, prices models.PriceMap) error
}

// Open builds the store selected by cfg.Backend.
func Open(cfg config.SnapshotConfig) (Store, error) {
	switch cfg.Backend {
	case "file":
		return NewFileStore(cfg.Path), nil
	case "sqlite":
		store, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "memory":
		return NewMemoryStore(nil), nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Backend)
	}
}

// MemoryStore keeps the snapshot in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	data  models.PriceMap
	saves int
}

// NewMemoryStore returns a store seeded with a copy of initial.
func NewMemoryStore(initial models.PriceMap) *MemoryStore {
	return &MemoryStore{data: initial.Clone()}
}

// Load returns a copy of the stored map.
func (m *MemoryStore) Load(ctx context.Context) (models.PriceMap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.Clone(), nil
}

// Save replaces the stored map with a copy of prices.
func (m *MemoryStore) Save(ctx context.Context, prices models.PriceMap) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = prices.Clone()
	m.saves++
	return nil
}

// Saves reports how many times Save has been called.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
