/*
Package sqlite provides a SQLite-backed implementation of the document store.

PURPOSE:
  Implements store.Store on a single `documents` table. The key space is
  hierarchical ("dues/<unit>/<fy>", "txn/<unit>/<ts>-<id>", ...), so ordered
  prefix scans come straight from the primary-key index.

SCHEMA:
  documents(key TEXT PRIMARY KEY, data BLOB NOT NULL, updated_at TEXT)

ATOMIC BATCHES:
  Apply() runs inside one SQL transaction. Write guards (RequireExists /
  RequireAbsent) are checked inside that transaction, so a failed guard
  rolls the whole batch back. This is the only write path; there are no
  UPDATE-in-place helpers and no DELETE.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  st, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

SEE ALSO:
  - store/store.go: Interface definition
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/strata/billing-engine/store"
)

// Store implements store.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		key        TEXT PRIMARY KEY,
		data       BLOB NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM documents WHERE key = ?", key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return data, nil
}

func (s *Store) ScanPrefix(ctx context.Context, prefix string) ([]store.Doc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// LIKE with an escaped prefix keeps the scan on the primary-key index.
	pattern := escapeLike(prefix) + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, data FROM documents WHERE key LIKE ? ESCAPE '\' ORDER BY key ASC`, pattern)
	if err != nil {
		return nil, fmt.Errorf("scan %q: %w", prefix, err)
	}
	defer rows.Close()

	var docs []store.Doc
	for rows.Next() {
		var d store.Doc
		if err := rows.Scan(&d.Key, &d.Data); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Apply executes the batch inside a single SQL transaction.
func (s *Store) Apply(ctx context.Context, ops []store.WriteOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, op := range ops {
		var exists bool
		err := tx.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM documents WHERE key = ?)", op.Key).Scan(&exists)
		if err != nil {
			return fmt.Errorf("guard check %q: %w", op.Key, err)
		}
		if op.RequireExists && !exists {
			return &store.GuardError{Key: op.Key, Err: store.ErrNotFound}
		}
		if op.RequireAbsent && exists {
			return &store.GuardError{Key: op.Key, Err: store.ErrAlreadyExists}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO documents (key, data, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
			op.Key, op.Data, now)
		if err != nil {
			return fmt.Errorf("write %q: %w", op.Key, err)
		}
	}

	return tx.Commit()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
