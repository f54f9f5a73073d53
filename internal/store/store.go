// Package store implements Loom's embedded code-knowledge-graph database:
// entities and relationships extracted from source, trace recordings,
// notes, TODOs, and failure logs, all backed by a single-writer SQLite
// file.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"loom/internal/embedding"
	"loom/internal/logging"
)

// Options configures OpenStore.
type Options struct {
	// EmbeddingEngine, if set, backs GenerateEmbeddings/SemanticSearch.
	// A store opened without one still works for everything except the
	// embedding-dependent operations, which return ErrCapabilityUnavailable.
	EmbeddingEngine embedding.EmbeddingEngine

	// RequireVector fails OpenStore if the sqlite-vec extension can't be
	// loaded, instead of degrading semantic search to unavailable.
	RequireVector bool
}

// Store is the single entry point onto a Loom project's SQLite database.
// It serializes all writes behind mu - SQLite itself only allows one
// writer, and sql.DB's connection pool is pinned to a single connection
// (see OpenStore), so mu additionally protects multi-statement operations
// that must appear atomic to concurrent readers.
type Store struct {
	db              *sql.DB
	mu              sync.RWMutex
	dbPath          string
	embeddingEngine embedding.EmbeddingEngine
	vectorAvailable bool
}

// OpenStore opens (creating if necessary) the SQLite database at path,
// creates the base schema, applies any pending migrations, and probes for
// the sqlite-vec capability. It is the single construction path for a
// Store - there is no exported Store literal.
func OpenStore(path string, opts Options) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryBoot, "OpenStore")
	defer timer.Stop()

	if path == "" {
		return nil, fmt.Errorf("%w: store path required", ErrInvalidArgument)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", ErrStorageFailure, err)
	}

	// SQLite allows only one writer at a time; pinning the pool to a
	// single connection means every statement - read or write - goes
	// through the same connection, so WAL-mode readers never race a
	// half-finished multi-statement write on a different connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.StoreDebug("pragma %q failed (non-fatal): %v", pragma, err)
		}
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	s := &Store{
		db:              db,
		dbPath:          path,
		embeddingEngine: opts.EmbeddingEngine,
	}

	s.vectorAvailable = detectVecExtension(db)
	if opts.RequireVector && !s.vectorAvailable {
		db.Close()
		return nil, fmt.Errorf("%w: sqlite-vec extension not available", ErrCapabilityUnavailable)
	}

	logging.Boot("store opened at %s (vector=%v)", path, s.vectorAvailable)
	return s, nil
}

// detectVecExtension probes vec0 availability with a throwaway virtual
// table rather than inspecting the driver's loaded-extension list, which
// mattn/go-sqlite3 doesn't expose - creating and dropping a vec0 table is
// the only reliable cross-build-tag signal.
func detectVecExtension(db *sql.DB) bool {
	_, err := db.Exec("CREATE VIRTUAL TABLE vec_probe USING vec0(embedding float[4])")
	if err != nil {
		logging.StoreDebug("vec0 capability probe failed: %v", err)
		return false
	}
	db.Exec("DROP TABLE vec_probe")
	return true
}

// HasVectorCapability reports whether semantic search and embedding
// generation are available on this store.
func (s *Store) HasVectorCapability() bool {
	return s.vectorAvailable
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Stats reports row counts per table, for any caller wanting a quick
// health check.
func (s *Store) Stats() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tables := []string{
		"entities", "relationships", "notes", "note_links",
		"trace_runs", "trace_calls", "file_tracking", "ingest_runs",
		"entity_files", "failure_logs", "todos", "cross_file_refs",
	}

	stats := make(map[string]int64, len(tables))
	for _, table := range tables {
		var count int64
		row := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table))
		if err := row.Scan(&count); err != nil {
			continue
		}
		stats[table] = count
	}
	return stats, nil
}
