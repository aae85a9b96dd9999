package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aluiziolira/go-poultry-prices/config"
	"github.com/aluiziolira/go-poultry-prices/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_LoadMissing(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "poultry_last.json"))

	got, err := store.Load(context.Background())

	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestFileStore_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "state", "poultry_last.json"))
	ctx := context.Background()

	prices := models.PriceMap{"Breast - B/S": 120.0, "Thighs": 67.5}
	require.NoError(t, store.Save(ctx, prices))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, prices, got)

	require.NoError(t, store.Save(ctx, models.PriceMap{"Drumsticks": 55.5}))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.PriceMap{"Drumsticks": 55.5}, got)

	entries, err := os.ReadDir(filepath.Join(dir, "state"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileStore_FlatFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poultry_last.json")
	store := NewFileStore(path)

	require.NoError(t, store.Save(context.Background(), models.PriceMap{"Breast - B/S": 120}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Breast - B/S": 120}`, string(data))
}

func TestFileStore_LoadCorrupt(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "truncated", body: `{"Breast - B/S": 12`},
		{name: "not an object", body: `[1, 2, 3]`},
		{name: "garbage", body: "\x00\x01binary"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "poultry_last.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))

			got, err := NewFileStore(path).Load(context.Background())

			assert.ErrorIs(t, err, ErrCorrupt)
			assert.NotNil(t, got)
			assert.Empty(t, got)
		})
	}
}

func TestFileStore_LoadLegacyValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poultry_last.json")
	body := `{
		"Breast - B/S": {"price": 120.5, "delta": 1.2},
		"Thighs": 67.5,
		"Tenderloins": {"price": null},
		"Drumsticks": null,
		"Wings, Whole": "n/a"
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	got, err := NewFileStore(path).Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, models.PriceMap{"Breast - B/S": 120.5, "Thighs": 67.5}, got)
}

func TestFileStore_SaveFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	store := NewFileStore(filepath.Join(blocker, "poultry_last.json"))
	err := store.Save(context.Background(), models.PriceMap{"Thighs": 1})

	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	seed := models.PriceMap{"Thighs": 60}
	store := NewMemoryStore(seed)
	seed["Thighs"] = 999

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60.0, got["Thighs"])

	got["Thighs"] = 1
	again, _ := store.Load(ctx)
	assert.Equal(t, 60.0, again["Thighs"], "Load must return a copy")

	require.NoError(t, store.Save(ctx, models.PriceMap{"Drumsticks": 55}))
	got, _ = store.Load(ctx)
	assert.Equal(t, models.PriceMap{"Drumsticks": 55}, got)
	assert.Equal(t, 1, store.Saves())
}

func TestSQLiteStore_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "poultry.db")
	store, err := OpenSQLite(path)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, store.Save(ctx, models.PriceMap{"Breast - B/S": 118.42, "Thighs": 67.5}))
	require.NoError(t, store.Save(ctx, models.PriceMap{"Breast - B/S": 120.0}))

	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.PriceMap{"Breast - B/S": 120.0}, got)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poultry.db")
	ctx := context.Background()

	first, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, first.Save(ctx, models.PriceMap{"Leg Quarters": 48.3}))
	require.NoError(t, first.Close())

	second, err := OpenSQLite(path)
	require.NoError(t, err)
	defer second.Close()

	got, err := second.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.PriceMap{"Leg Quarters": 48.3}, got)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		cfg     config.SnapshotConfig
		wantErr bool
	}{
		{name: "file", cfg: config.SnapshotConfig{Backend: "file", Path: filepath.Join(dir, "last.json")}},
		{name: "sqlite", cfg: config.SnapshotConfig{Backend: "sqlite", Path: filepath.Join(dir, "last.db")}},
		{name: "memory", cfg: config.SnapshotConfig{Backend: "memory"}},
		{name: "unknown", cfg: config.SnapshotConfig{Backend: "redis"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := Open(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if closer, ok := store.(interface{ Close() error }); ok {
				defer closer.Close()
			}

			ctx := context.Background()
			require.NoError(t, store.Save(ctx, models.PriceMap{"Thighs": 70}))
			got, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, models.PriceMap{"Thighs": 70}, got)
		})
	}
}
