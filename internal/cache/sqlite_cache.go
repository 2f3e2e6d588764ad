package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS generations (
    name TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
    generation TEXT NOT NULL REFERENCES generations(name) ON DELETE CASCADE,
    key TEXT NOT NULL,
    value BLOB NOT NULL,
    PRIMARY KEY (generation, key)
);
`

// SQLiteStorage implements Storage in a single SQLite database.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path
func NewSQLite(path string) (*SQLiteStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	return openSQLite(path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
}

// NewSQLiteMemory creates an in-memory database (useful for testing)
func NewSQLiteMemory() (*SQLiteStorage, error) {
	return openSQLite(":memory:?_pragma=foreign_keys(1)")
}

func openSQLite(dsn string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Open(ctx context.Context, name string) (Store, error) {
	if name == "" {
		return nil, fmt.Errorf("generation name is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO generations (name, created_at) VALUES (?, ?)`,
		name, time.Now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("creating generation %s: %w", name, err)
	}
	return &sqliteStore{db: s.db, name: name}, nil
}

func (s *SQLiteStorage) Has(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM generations WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("querying generation %s: %w", name, err)
	}
	return n > 0, nil
}

// Keys returns generation names in creation order
func (s *SQLiteStorage) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM generations ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("listing generations: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning generation: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStorage) Delete(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM generations WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("deleting generation %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type sqliteStore struct {
	db   *sql.DB
	name string
}

func (s *sqliteStore) Name() string {
	return s.name
}

func (s *sqliteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM entries WHERE generation = ? AND key = ?`, s.name, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading entry: %w", err)
	}
	return value, nil
}

func (s *sqliteStore) Set(ctx context.Context, key string, value []byte) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO entries (generation, key, value)
		SELECT ?, ?, ? WHERE EXISTS (SELECT 1 FROM generations WHERE name = ?)
		ON CONFLICT (generation, key) DO UPDATE SET value = excluded.value`,
		s.name, key, value, s.name)
	if err != nil {
		return fmt.Errorf("writing entry: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrGenerationDeleted
	}
	return nil
}

func (s *sqliteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM entries WHERE generation = ? ORDER BY key`, s.name)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
