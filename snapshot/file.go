package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/aluiziolira/go-poultry-prices/models"
)

// FileStore keeps the snapshot as one flat JSON object, {"product": price}.
// Writes go to a temp file in the same directory which is then renamed over
// the target, so readers see either the old or the new snapshot.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path. The file need not exist.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the snapshot. Values written by older deployments as
// {"price": n} objects are accepted; entries without a numeric price are
// skipped.
func (s *FileStore) Load(ctx context.Context) (models.PriceMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.PriceMap{}, nil
		}
		return models.PriceMap{}, fmt.Errorf("snapshot: read %s: %w", s.path, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return models.PriceMap{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}

	out := make(models.PriceMap, len(raw))
	for name, value := range raw {
		if price, ok := decodePrice(value); ok {
			out[name] = price
		}
	}
	return out, nil
}

func decodePrice(value json.RawMessage) (float64, bool) {
	if string(bytes.TrimSpace(value)) == "null" {
		return 0, false
	}
	var price float64
	if err := json.Unmarshal(value, &price); err == nil {
		return price, true
	}
	var legacy struct {
		Price *float64 `json:"price"`
	}
	if err := json.Unmarshal(value, &legacy); err == nil && legacy.Price != nil {
		return *legacy.Price, true
	}
	return 0, false
}

// Save atomically replaces the snapshot file with prices.
func (s *FileStore) Save(ctx context.Context, prices models.PriceMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(prices, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot: create tmp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: write tmp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: sync tmp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: close tmp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: rename: %w", err)
	}
	return nil
}
