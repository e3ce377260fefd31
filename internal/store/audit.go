// File path: internal/store/audit.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/devtrail/devtrail/internal/common"
)

// AuditRow is one persisted audit record.
type AuditRow struct {
	ID        int64     `db:"id" json:"id"`
	Event     string    `db:"event" json:"event"`
	Kind      string    `db:"kind" json:"kind"`
	Payload   string    `db:"payload" json:"payload"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// auditLog mirrors the audit table into audit.jsonl so the trail survives a
// database swap.
type auditLog struct {
	path string
	mu   sync.Mutex
}

func newAuditLog(path string) (*auditLog, error) {
	if path == "" {
		return nil, errors.New("audit path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &auditLog{path: path}, nil
}

func (a *auditLog) append(event, kind, payload string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	file, err := os.OpenFile(a.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()
	line := map[string]interface{}{
		"event":      event,
		"kind":       kind,
		"payload":    json.RawMessage(payload),
		"created_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := json.NewEncoder(file).Encode(line); err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

// LogAudit appends one event to the audit table and its JSONL mirror. Mirror
// failures are logged but never fail the caller.
func (s *Store) LogAudit(ctx context.Context, event, kind string, payload interface{}) error {
	if event == "" {
		return fmt.Errorf("audit event required")
	}
	encoded := "{}"
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode audit payload: %w", err)
		}
		encoded = string(data)
	}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO audit(event, kind, payload) VALUES(?, ?, ?)`, event, kind, encoded); err != nil {
			return fmt.Errorf("insert audit: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if s.audit != nil {
		if err := s.audit.append(event, kind, encoded); err != nil {
			common.Logger().Warn("store: audit mirror append failed", "error", err)
		}
	}
	return nil
}

// AuditEvents returns the most recent audit rows, newest first.
func (s *Store) AuditEvents(ctx context.Context, limit int) ([]AuditRow, error) {
	if err := s.readOnly(); err != nil {
		return nil, err
	}
	query := `SELECT * FROM audit ORDER BY id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows := []AuditRow{}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select audit: %w", err)
	}
	return rows, nil
}
