// File path: internal/store/snapshots.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"

	"github.com/devtrail/devtrail/internal/model"
)

const snapshotUpsert = `INSERT INTO context_snapshots (
                id, timestamp, prompt_id, current_file_count, added_files, removed_files, net_change
        ) VALUES (
                :id, :timestamp, :prompt_id, :current_file_count, :added_files, :removed_files, :net_change
        ) ON CONFLICT(id) DO UPDATE SET
                timestamp = excluded.timestamp,
                prompt_id = excluded.prompt_id,
                current_file_count = excluded.current_file_count,
                added_files = excluded.added_files,
                removed_files = excluded.removed_files,
                net_change = excluded.net_change`

// SaveSnapshot upserts a context snapshot by id. Idempotent.
func (s *Store) SaveSnapshot(ctx context.Context, snap model.ContextSnapshot) error {
	snap.Normalize()
	if snap.ID == "" {
		return fmt.Errorf("snapshot id required")
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, snapshotUpsert, snapshotToRow(snap)); err != nil {
			return fmt.Errorf("save snapshot %s: %w", snap.ID, err)
		}
		return nil
	})
}

// SnapshotByID retrieves a single context snapshot.
func (s *Store) SnapshotByID(ctx context.Context, id string) (model.ContextSnapshot, error) {
	if err := s.readOnly(); err != nil {
		return model.ContextSnapshot{}, err
	}
	var row snapshotRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM context_snapshots WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ContextSnapshot{}, fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.ContextSnapshot{}, fmt.Errorf("select snapshot: %w", err)
	}
	return rowToSnapshot(row), nil
}

// SnapshotExists reports whether a snapshot with the given id is stored.
func (s *Store) SnapshotExists(ctx context.Context, id string) (bool, error) {
	return s.recordExists(ctx, "context_snapshots", id)
}

// ContextSnapshots returns snapshots at or after since, descending by
// timestamp.
func (s *Store) ContextSnapshots(ctx context.Context, since int64, limit int) ([]model.ContextSnapshot, error) {
	if err := s.readOnly(); err != nil {
		return nil, err
	}
	query := `SELECT * FROM context_snapshots WHERE timestamp >= ? ORDER BY timestamp DESC`
	args := []interface{}{since}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows := []snapshotRow{}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select snapshots: %w", err)
	}
	snaps := make([]model.ContextSnapshot, 0, len(rows))
	for _, row := range rows {
		snaps = append(snaps, rowToSnapshot(row))
	}
	return snaps, nil
}

// ContextAnalytics aggregates the whole snapshot stream.
func (s *Store) ContextAnalytics(ctx context.Context) (model.ContextAnalytics, error) {
	snaps, err := s.ContextSnapshots(ctx, 0, 0)
	if err != nil {
		return model.ContextAnalytics{}, err
	}
	analytics := model.ContextAnalytics{SnapshotCount: len(snaps)}
	if len(snaps) == 0 {
		return analytics, nil
	}
	totalFiles := 0
	addCounts := make(map[string]int)
	for _, snap := range snaps {
		totalFiles += snap.CurrentFileCount
		if snap.CurrentFileCount > analytics.MaxFileCount {
			analytics.MaxFileCount = snap.CurrentFileCount
		}
		analytics.NetChangeTotal += snap.NetChange
		for _, file := range snap.AddedFiles {
			addCounts[file]++
		}
	}
	analytics.AverageFileCount = float64(totalFiles) / float64(len(snaps))

	type fileCount struct {
		file  string
		count int
	}
	counts := make([]fileCount, 0, len(addCounts))
	for file, count := range addCounts {
		counts = append(counts, fileCount{file, count})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count > counts[j].count
		}
		return counts[i].file < counts[j].file
	})
	const topFiles = 10
	for i, fc := range counts {
		if i >= topFiles {
			break
		}
		analytics.TopAddedFiles = append(analytics.TopAddedFiles, fc.file)
	}
	return analytics, nil
}

// WorkspaceSummary reports per-workspace record counts and latest activity.
type WorkspaceSummary struct {
	WorkspacePath string `db:"workspace_path" json:"workspace_path"`
	Entries       int    `db:"entries" json:"entries"`
	Prompts       int    `db:"prompts" json:"prompts"`
	Terminal      int    `db:"terminal" json:"terminal_commands"`
	LastActivity  int64  `db:"last_activity" json:"last_activity"`
}

// WorkspaceSummaries lists every observed workspace with counts.
func (s *Store) WorkspaceSummaries(ctx context.Context) ([]WorkspaceSummary, error) {
	if err := s.readOnly(); err != nil {
		return nil, err
	}
	summaries := []WorkspaceSummary{}
	err := s.db.SelectContext(ctx, &summaries, `SELECT
                        workspace_path,
                        SUM(entries) AS entries,
                        SUM(prompts) AS prompts,
                        SUM(terminal) AS terminal,
                        MAX(last_activity) AS last_activity
                FROM (
                        SELECT workspace_path, COUNT(*) AS entries, 0 AS prompts, 0 AS terminal, MAX(timestamp) AS last_activity FROM entries GROUP BY workspace_path
                        UNION ALL
                        SELECT workspace_path, 0, COUNT(*), 0, MAX(timestamp) FROM prompts GROUP BY workspace_path
                        UNION ALL
                        SELECT workspace_path, 0, 0, COUNT(*), MAX(timestamp) FROM terminal_commands GROUP BY workspace_path
                )
                WHERE workspace_path != ''
                GROUP BY workspace_path
                ORDER BY last_activity DESC`)
	if err != nil {
		return nil, fmt.Errorf("select workspace summaries: %w", err)
	}
	return summaries, nil
}
