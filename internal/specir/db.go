// Package specir implements the Spec-IR store: the embedded, transactional
// SQL database holding the typed relational intermediate representation that
// the compilation pipeline reads and writes.
package specir

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// execWithRetry wraps Exec with retry logic for "database is locked" errors,
// which can surface transiently under concurrent read activity from
// proof-view queries racing a handler's writes.
func execWithRetry(db *sql.DB, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	var err error
	const maxRetries = 5
	for range maxRetries {
		res, err = db.Exec(query, args...)
		if err == nil {
			return res, nil
		}
		if strings.Contains(err.Error(), "database is locked") {
			time.Sleep(200 * time.Millisecond)
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("execWithRetry: database is locked after %d retries: %w", maxRetries, err)
}

// QuickCheck runs PRAGMA quick_check and returns an error if the store is
// not structurally healthy.
func QuickCheck(db *sql.DB) error {
	row := db.QueryRow("PRAGMA quick_check;")
	var result string
	if err := row.Scan(&result); err != nil {
		return fmt.Errorf("quick_check scan error: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("quick_check failed: %s", result)
	}
	return nil
}

// Store wraps the Spec-IR database handle for the lifetime of one build.
// Per §4.1 and §5, there is exactly one writer; all
// mutations go through Store methods inside an explicit transaction.
type Store struct {
	db   *sql.DB
	path string

	// hasFTS5 records whether the SQLite build supports the FTS5 module;
	// when it does not, the search index (§3.4) falls back to plain tables.
	hasFTS5 bool

	resolverOnce     sync.Once
	resolverRegistry *ResolverRegistry
}

// Open opens (creating if absent) the single-file Spec-IR database at path,
// applies PRAGMAs for single-writer reliability, and runs schema migration.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	// Journal mode DELETE per §4.1: single-writer reliability is preferred
	// over WAL's multi-reader concurrency, which this single-process batch
	// job does not need.
	dsn := fmt.Sprintf(
		"%s?_busy_timeout=5000&_foreign_keys=ON&_journal_mode=DELETE&_synchronous=NORMAL",
		path,
	)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	// Two connections: a handler's open Tx holds one while the reads it
	// issues through QueryAll/QueryOne use the other. Writes still go
	// through that single Tx.
	db.SetMaxOpenConns(2)

	s := &Store{db: db, path: path}
	s.hasFTS5 = probeFTS5(db)

	if err := migrate(db, s.hasFTS5); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	if err := QuickCheck(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initial quick_check failed: %w", err)
	}

	return s, nil
}

// Close runs a final integrity check and closes the underlying connection.
func (s *Store) Close() error {
	if err := QuickCheck(s.db); err != nil {
		return fmt.Errorf("quick_check failed on close: %w", err)
	}
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for ad-hoc reads (proof views, reports).
// Mutations should go through Store methods wrapped in a Tx (see tx.go).
func (s *Store) DB() *sql.DB { return s.db }

// HasFTS5 reports whether the search index (§3.4) uses real FTS5 tables.
func (s *Store) HasFTS5() bool { return s.hasFTS5 }

func probeFTS5(db *sql.DB) bool {
	_, err := db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS _fts5_probe USING fts5(content);")
	if err != nil {
		return false
	}
	_, _ = db.Exec("DROP TABLE IF EXISTS _fts5_probe;")
	return true
}
