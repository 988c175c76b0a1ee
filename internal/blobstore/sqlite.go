package blobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cryguy/nativestream/internal/core"

	// Pure-Go SQLite driver for database/sql.
	_ "github.com/glebarez/sqlite"
)

const createBlobs = `CREATE TABLE IF NOT EXISTS blobs (
	key  TEXT PRIMARY KEY,
	data BLOB NOT NULL
)`

// SQLite stores blobs in a single table. Range reads use substr so only the
// requested slice leaves the database.
type SQLite struct {
	DB *sql.DB
}

// OpenSQLite opens (or creates) the database at path. An empty path or
// ":memory:" gives a private in-memory database.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating blob directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening blob database %q: %w", path, err)
	}
	if path == ":memory:" {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	} else {
		_, _ = db.Exec("PRAGMA journal_mode=WAL")
	}
	if _, err := db.Exec(createBlobs); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating blobs table: %w", err)
	}
	return &SQLite{DB: db}, nil
}

func (s *SQLite) Put(ctx context.Context, key string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO blobs (key, data) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data`, key, data)
	if err != nil {
		return fmt.Errorf("storing blob %q: %w", key, err)
	}
	return nil
}

func (s *SQLite) Size(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.DB.QueryRowContext(ctx, `SELECT length(data) FROM blobs WHERE key = ?`, key).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("blob %q: %w", key, core.ErrBlobNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("sizing blob %q: %w", key, err)
	}
	return n, nil
}

func (s *SQLite) ReadRange(ctx context.Context, key string, off, n int64) ([]byte, error) {
	if off < 0 || n < 0 {
		return nil, fmt.Errorf("blobstore: invalid range off=%d n=%d", off, n)
	}
	var data []byte
	// substr is 1-based and byte-wise on BLOB values.
	err := s.DB.QueryRowContext(ctx,
		`SELECT substr(data, ?, ?) FROM blobs WHERE key = ?`, off+1, n, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("blob %q: %w", key, core.ErrBlobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob %q: %w", key, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM blobs WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting blob %q: %w", key, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}
