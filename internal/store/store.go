// Package store is the executor's persistent store: a single SQLite
// database holding blueprints, their macro-nodes, the artifacts nodes hand
// off to each other, and the node executions that attempted to produce
// them. It follows the teacher's memory package convention of a pure-Go
// driver, WAL journaling, and a withTx helper wrapping multi-row writes.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/planexec/executor/internal/model"
)

// Store wraps a SQLite connection pool and exposes the executor's entity
// CRUD, batch loaders, and crash-recovery queries.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// migrates it to the latest schema version.
func Open(path string) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error fn returns.
func (s *Store) WithTx(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Vacuum reclaims space freed by deleted rows, for out-of-band maintenance
// via execctl rather than anything the executor calls itself.
func (s *Store) Vacuum() error {
	_, err := s.db.Exec("VACUUM")
	return err
}

// ID generation. Every entity id carries a short prefix identifying its
// kind so ids are self-describing in logs and callback payloads.

func NewBlueprintID() string { return "bp_" + uuid.NewString() }
func NewNodeID() string      { return "mn_" + uuid.NewString() }
func NewArtifactID() string  { return "art_" + uuid.NewString() }
func NewExecutionID() string { return "exec_" + uuid.NewString() }
func NewSessionRowID() string { return "rs_" + uuid.NewString() }

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}
