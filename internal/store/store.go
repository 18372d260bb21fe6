// Package store persists chapter chunks and their queued enrichment
// tasks in a local SQLite database.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert collides with an existing row.
	ErrDuplicate = errors.New("already exists")
)

const schema = `
CREATE TABLE IF NOT EXISTS chapter_chunks (
	chunk_id      TEXT PRIMARY KEY,
	novel_name    TEXT NOT NULL,
	chapter_id    INTEGER NOT NULL,
	chapter_title TEXT NOT NULL,
	line_start    INTEGER NOT NULL,
	line_end      INTEGER NOT NULL,
	pos_start     INTEGER NOT NULL,
	pos_end       INTEGER NOT NULL,
	char_count    INTEGER NOT NULL,
	token_count   INTEGER NOT NULL,
	content       TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	UNIQUE (novel_name, chapter_id)
);

CREATE TABLE IF NOT EXISTS chunk_tasks (
	task_id     TEXT PRIMARY KEY,
	chunk_id    TEXT NOT NULL,
	task_type   TEXT NOT NULL,
	task_status TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	UNIQUE (chunk_id, task_type)
);

CREATE INDEX IF NOT EXISTS idx_tasks_type_status ON chunk_tasks (task_type, task_status);
`

// Store wraps a SQLite connection pool holding chunk and task tables.
type Store struct {
	pool *sqlitex.Pool
	log  *slog.Logger
}

// Open opens (creating if necessary) the database at path and ensures
// the schema exists. Pass ":memory:" for a throwaway in-process database.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	opts := sqlitex.PoolOptions{}
	if path == ":memory:" {
		// A plain :memory: path would give every pooled connection its
		// own empty database, so pin the pool to a single connection.
		path = "file::memory:?mode=memory"
		opts.Flags = sqlite.OpenReadWrite | sqlite.OpenCreate | sqlite.OpenURI | sqlite.OpenMemory
		opts.PoolSize = 1
	}
	pool, err := sqlitex.NewPool(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	s := &Store{pool: pool, log: log}
	if err := s.init(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("take connection: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

func (s *Store) take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("take connection: %w", err)
	}
	return conn, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func isConstraintViolation(err error) bool {
	switch sqlite.ErrCode(err) {
	case sqlite.ResultConstraintUnique, sqlite.ResultConstraintPrimaryKey:
		return true
	}
	return false
}
