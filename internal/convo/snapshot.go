// ABOUTME: Snapshot persistence for conversation state: one durable record per client identity.
// ABOUTME: SQLite-backed implementation plus an in-memory one for tests and ephemeral sessions.

package convo

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Snapshots loads and saves the serialized conversation map for a client
// identity. Load returns (nil, nil) when no record exists.
type Snapshots interface {
	Load(identity string) ([]byte, error)
	Save(identity string, data []byte) error
}

// SQLiteSnapshots persists snapshots in a single sqlite table, one row per
// client identity.
type SQLiteSnapshots struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteSnapshots opens (or creates) the snapshot database at path.
// Parent directories are created if needed.
func NewSQLiteSnapshots(path string) (*SQLiteSnapshots, error) {
	logger := slog.Default().With("component", "snapshots")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS snapshots (
			identity   TEXT PRIMARY KEY,
			data       BLOB NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("snapshot store initialized", "path", path)
	return &SQLiteSnapshots{db: db, logger: logger}, nil
}

// Load returns the stored snapshot for the identity, or (nil, nil) if absent.
func (s *SQLiteSnapshots) Load(identity string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow("SELECT data FROM snapshots WHERE identity = ?", identity).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	return data, nil
}

// Save upserts the snapshot for the identity.
func (s *SQLiteSnapshots) Save(identity string, data []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO snapshots (identity, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		identity, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteSnapshots) Close() error {
	return s.db.Close()
}

// MemorySnapshots keeps snapshots in memory. Used by tests and sessions that
// opt out of durability.
type MemorySnapshots struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemorySnapshots creates an empty in-memory snapshot store.
func NewMemorySnapshots() *MemorySnapshots {
	return &MemorySnapshots{data: make(map[string][]byte)}
}

func (m *MemorySnapshots) Load(identity string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[identity]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemorySnapshots) Save(identity string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	m.data[identity] = stored
	return nil
}
