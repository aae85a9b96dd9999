package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aluiziolira/go-poultry-prices/models"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS snapshot (
	product    TEXT PRIMARY KEY,
	price      REAL NOT NULL,
	updated_at TEXT NOT NULL
)`

// SQLiteStore keeps the snapshot in a single sqlite table. Save replaces
// every row inside one transaction.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("snapshot: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open sqlite: %w", err)
	}
	// One writer at a time; also keeps :memory: databases on one connection.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
		sqliteSchema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("snapshot: init sqlite (%s): %w", stmt, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Load returns every stored price.
func (s *SQLiteStore) Load(ctx context.Context) (models.PriceMap, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT product, price FROM snapshot")
	if err != nil {
		return models.PriceMap{}, fmt.Errorf("snapshot: query: %w", err)
	}
	defer rows.Close()

	out := make(models.PriceMap)
	for rows.Next() {
		var (
			name  string
			price float64
		)
		if err := rows.Scan(&name, &price); err != nil {
			return models.PriceMap{}, fmt.Errorf("%w: scan: %v", ErrCorrupt, err)
		}
		out[name] = price
	}
	if err := rows.Err(); err != nil {
		return models.PriceMap{}, fmt.Errorf("snapshot: rows: %w", err)
	}
	return out, nil
}

// Save replaces the stored snapshot with prices.
func (s *SQLiteStore) Save(ctx context.Context, prices models.PriceMap) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("snapshot: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM snapshot"); err != nil {
		return fmt.Errorf("snapshot: clear: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO snapshot (product, price, updated_at) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("snapshot: prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for name, price := range prices {
		if _, err := stmt.ExecContext(ctx, name, price, now); err != nil {
			return fmt.Errorf("snapshot: insert %q: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("snapshot: commit: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
