// File path: internal/store/store.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by lookups when no record carries the given id.
var ErrNotFound = errors.New("record not found")

// Store owns all persistent bytes: the embedded SQLite database, the
// append-only ingestion journal, the audit stream and the schema document.
type Store struct {
	db       *sqlx.DB
	dataDir  string
	journal  *Journal
	audit    *auditLog
	sequence atomic.Int64
}

// Open constructs a Store backed by the SQLite database at the provided path.
// Pending schema migrations are applied before the store is returned; a
// failed migration aborts the open.
func Open(path string) (*Store, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		cfg.Path = trimmed
	}
	return OpenWithConfig(cfg)
}

// OpenWithConfig constructs a Store using the provided configuration.
func OpenWithConfig(cfg Config) (*Store, error) {
	cfg.applyDefaults()
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store path required")
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve store path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	dataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dataDir, "cache"), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	busy := int(cfg.BusyTimeout / time.Millisecond)
	if busy <= 0 {
		busy = 5000
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", abs, busy)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingTimeout := cfg.BusyTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	journal, err := NewJournal(filepath.Join(dataDir, "journal.jsonl"))
	if err != nil {
		db.Close()
		return nil, err
	}
	audit, err := newAuditLog(filepath.Join(dataDir, "audit.jsonl"))
	if err != nil {
		db.Close()
		return nil, err
	}

	store := &Store{db: db, dataDir: dataDir, journal: journal, audit: audit}
	if _, err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	if err := store.loadSequence(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying sqlx.DB for advanced callers.
func (s *Store) DB() *sqlx.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// DataDir reports the directory holding the journal and derived artifacts.
func (s *Store) DataDir() string {
	if s == nil {
		return ""
	}
	return s.dataDir
}

// Journal exposes the append-only ingestion journal.
func (s *Store) Journal() *Journal {
	if s == nil {
		return nil
	}
	return s.journal
}

// Sequence reports the monotonic append counter. It advances on every
// committed write and keys ETags and derived-cache watermarks.
func (s *Store) Sequence() int64 {
	if s == nil {
		return 0
	}
	return s.sequence.Load()
}

func (s *Store) loadSequence(ctx context.Context) error {
	var value sql.NullInt64
	err := s.db.GetContext(ctx, &value, `SELECT CAST(value AS INTEGER) FROM meta WHERE key = 'sequence'`)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("load sequence: %w", err)
	}
	if value.Valid {
		s.sequence.Store(value.Int64)
	}
	return nil
}

// withTx runs fn inside a transaction and bumps the append counter on
// commit. Every mutation goes through here so a commit is atomic per record.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialised")
	}
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	next := s.sequence.Load() + 1
	if _, err := tx.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES('sequence', ?)
                ON CONFLICT(key) DO UPDATE SET value = excluded.value`, fmt.Sprint(next)); err != nil {
		tx.Rollback()
		return fmt.Errorf("advance sequence: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.sequence.Store(next)
	return nil
}

func (s *Store) readOnly() error {
	if s == nil || s.db == nil {
		return errors.New("store not initialised")
	}
	return nil
}
