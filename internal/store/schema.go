// File path: internal/store/schema.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/devtrail/devtrail/internal/common"
	"github.com/devtrail/devtrail/internal/model"
)

// CurrentSchemaVersion is the data-model version this build persists.
const CurrentSchemaVersion = "1.2.0"

// ErrMigration wraps any failure inside a migration step. A failed step
// aborts startup and leaves the store at the prior version.
var ErrMigration = errors.New("migration failed")

// MigrationResult reports what Migrate applied.
type MigrationResult struct {
	From       string   `json:"from"`
	To         string   `json:"to"`
	Migrations []string `json:"migrations"`
}

// migration is one linearly ordered schema step. Statements run against the
// database; Doc translates an in-memory import document across the same
// version boundary without touching the store.
type migration struct {
	Version    string
	Statements []string
	Doc        func(doc *model.Archive)
}

var migrations = []migration{
	{
		Version: "1.0.0",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS meta (
                                key TEXT PRIMARY KEY,
                                value TEXT NOT NULL
                        );`,
			`CREATE TABLE IF NOT EXISTS entries (
                                id TEXT PRIMARY KEY,
                                timestamp INTEGER NOT NULL,
                                workspace_path TEXT NOT NULL,
                                file_path TEXT NOT NULL,
                                source TEXT NOT NULL DEFAULT 'probe',
                                session_id TEXT NOT NULL DEFAULT '',
                                prompt_id TEXT NOT NULL DEFAULT '',
                                type TEXT NOT NULL DEFAULT 'file_change',
                                before_code TEXT NOT NULL DEFAULT '',
                                after_code TEXT NOT NULL DEFAULT '',
                                lines_added INTEGER NOT NULL DEFAULT 0,
                                lines_removed INTEGER NOT NULL DEFAULT 0,
                                chars_added INTEGER NOT NULL DEFAULT 0,
                                chars_removed INTEGER NOT NULL DEFAULT 0,
                                has_diff INTEGER NOT NULL DEFAULT 0,
                                tags TEXT NOT NULL DEFAULT '[]',
                                notes TEXT NOT NULL DEFAULT '',
                                model_info TEXT NOT NULL DEFAULT ''
                        );`,
			`CREATE TABLE IF NOT EXISTS prompts (
                                id TEXT PRIMARY KEY,
                                timestamp INTEGER NOT NULL,
                                workspace_path TEXT NOT NULL,
                                workspace_id TEXT NOT NULL DEFAULT '',
                                conversation_id TEXT NOT NULL DEFAULT '',
                                message_role TEXT NOT NULL DEFAULT 'user',
                                text TEXT NOT NULL DEFAULT '',
                                context_file_count INTEGER NOT NULL DEFAULT 0,
                                context_usage REAL NOT NULL DEFAULT 0,
                                context_files TEXT NOT NULL DEFAULT '[]',
                                model_type TEXT NOT NULL DEFAULT '',
                                model_name TEXT NOT NULL DEFAULT '',
                                mode TEXT NOT NULL DEFAULT '',
                                is_auto INTEGER NOT NULL DEFAULT 0,
                                thinking_time_seconds REAL NOT NULL DEFAULT 0,
                                linked_entry_id TEXT NOT NULL DEFAULT ''
                        );`,
			`CREATE TABLE IF NOT EXISTS terminal_commands (
                                id TEXT PRIMARY KEY,
                                timestamp INTEGER NOT NULL,
                                workspace_path TEXT NOT NULL,
                                command TEXT NOT NULL,
                                shell TEXT NOT NULL DEFAULT '',
                                source TEXT NOT NULL DEFAULT 'probe',
                                exit_code INTEGER,
                                duration_ms INTEGER NOT NULL DEFAULT 0,
                                output TEXT NOT NULL DEFAULT '',
                                error TEXT NOT NULL DEFAULT '',
                                linked_entry_id TEXT NOT NULL DEFAULT '',
                                linked_prompt_id TEXT NOT NULL DEFAULT ''
                        );`,
			`CREATE TABLE IF NOT EXISTS context_snapshots (
                                id TEXT PRIMARY KEY,
                                timestamp INTEGER NOT NULL,
                                prompt_id TEXT NOT NULL DEFAULT '',
                                current_file_count INTEGER NOT NULL DEFAULT 0,
                                added_files TEXT NOT NULL DEFAULT '[]',
                                removed_files TEXT NOT NULL DEFAULT '[]',
                                net_change INTEGER NOT NULL DEFAULT 0
                        );`,
			`CREATE TABLE IF NOT EXISTS events (
                                id TEXT PRIMARY KEY,
                                timestamp INTEGER NOT NULL,
                                type TEXT NOT NULL DEFAULT 'generic',
                                workspace_path TEXT NOT NULL DEFAULT '',
                                data TEXT NOT NULL DEFAULT '{}'
                        );`,
			`CREATE TABLE IF NOT EXISTS audit (
                                id INTEGER PRIMARY KEY AUTOINCREMENT,
                                event TEXT NOT NULL,
                                kind TEXT NOT NULL,
                                payload TEXT NOT NULL DEFAULT '{}',
                                created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
                        );`,
			`CREATE TABLE IF NOT EXISTS migrations (
                                version TEXT PRIMARY KEY,
                                applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
                        );`,
			`CREATE INDEX IF NOT EXISTS idx_entries_timestamp ON entries(timestamp DESC);`,
			`CREATE INDEX IF NOT EXISTS idx_entries_workspace_timestamp ON entries(workspace_path, timestamp DESC);`,
			`CREATE INDEX IF NOT EXISTS idx_entries_prompt ON entries(prompt_id);`,
			`CREATE INDEX IF NOT EXISTS idx_prompts_timestamp ON prompts(timestamp DESC);`,
			`CREATE INDEX IF NOT EXISTS idx_prompts_workspace_timestamp ON prompts(workspace_path, timestamp DESC);`,
			`CREATE INDEX IF NOT EXISTS idx_terminal_timestamp ON terminal_commands(timestamp DESC);`,
			`CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON context_snapshots(timestamp DESC);`,
			`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp DESC);`,
		},
	},
	{
		Version: "1.1.0",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS conversations (
                                conversation_id TEXT PRIMARY KEY,
                                workspace_id TEXT NOT NULL DEFAULT '',
                                workspace_path TEXT NOT NULL DEFAULT '',
                                title TEXT NOT NULL DEFAULT '',
                                created_at INTEGER NOT NULL DEFAULT 0,
                                updated_at INTEGER NOT NULL DEFAULT 0
                        );`,
			`ALTER TABLE prompts ADD COLUMN turn_index INTEGER NOT NULL DEFAULT 0;`,
			`ALTER TABLE prompts ADD COLUMN prompt_tokens INTEGER NOT NULL DEFAULT 0;`,
			`ALTER TABLE prompts ADD COLUMN completion_tokens INTEGER NOT NULL DEFAULT 0;`,
			`ALTER TABLE prompts ADD COLUMN total_tokens INTEGER NOT NULL DEFAULT 0;`,
			`ALTER TABLE prompts ADD COLUMN time_to_first_token_ms INTEGER NOT NULL DEFAULT 0;`,
			`ALTER TABLE prompts ADD COLUMN request_duration_ms INTEGER NOT NULL DEFAULT 0;`,
			`CREATE INDEX IF NOT EXISTS idx_prompts_conversation_turn ON prompts(conversation_id, turn_index ASC);`,
		},
		// 1.0.0 documents stored the prompt->entry link only on the entry
		// side; normalize both directions.
		Doc: func(doc *model.Archive) {
			byPrompt := make(map[string]string)
			for _, entry := range doc.Entries {
				if entry.PromptID != "" {
					byPrompt[entry.PromptID] = entry.ID
				}
			}
			for i := range doc.Prompts {
				if doc.Prompts[i].LinkedEntryID == "" {
					if entryID, ok := byPrompt[doc.Prompts[i].ID]; ok {
						doc.Prompts[i].LinkedEntryID = entryID
					}
				}
			}
		},
	},
	{
		Version: "1.2.0",
		Statements: []string{
			`UPDATE context_snapshots SET net_change = current_file_count WHERE net_change = 0 AND added_files = '[]' AND removed_files = '[]' AND current_file_count != 0;`,
			`CREATE INDEX IF NOT EXISTS idx_terminal_workspace_timestamp ON terminal_commands(workspace_path, timestamp DESC);`,
			`CREATE INDEX IF NOT EXISTS idx_snapshots_prompt ON context_snapshots(prompt_id);`,
		},
		// Pre-1.2.0 documents may carry stale or missing diff stats and net
		// change; both are derived fields, so recompute.
		Doc: func(doc *model.Archive) {
			for i := range doc.Entries {
				doc.Entries[i].Normalize()
			}
			for i := range doc.ContextSnapshots {
				doc.ContextSnapshots[i].NetChange = len(doc.ContextSnapshots[i].AddedFiles) - len(doc.ContextSnapshots[i].RemovedFiles)
			}
		},
	},
}

// Migrate applies every migration strictly greater than the stored version,
// one transaction per step, recording each step in the migrations table and
// rewriting schema.json at every commit.
func (s *Store) Migrate(ctx context.Context) (MigrationResult, error) {
	logger := common.Logger()
	if err := s.readOnly(); err != nil {
		return MigrationResult{}, err
	}
	if _, err := s.db.ExecContext(ctx, migrations[0].Statements[0]); err != nil {
		return MigrationResult{}, fmt.Errorf("%w: bootstrap meta table: %v", ErrMigration, err)
	}
	from, err := s.storedVersion(ctx)
	if err != nil {
		return MigrationResult{}, err
	}
	result := MigrationResult{From: from, To: from}
	for _, step := range migrations {
		if CompareVersions(step.Version, result.To) <= 0 {
			continue
		}
		tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
		if err != nil {
			return result, fmt.Errorf("%w: begin step %s: %v", ErrMigration, step.Version, err)
		}
		for i, stmt := range step.Statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				// Re-running an ALTER on an already-upgraded table is the
				// one recoverable case.
				if isDuplicateColumn(err) {
					continue
				}
				tx.Rollback()
				return result, fmt.Errorf("%w: step %s statement %d: %v", ErrMigration, step.Version, i+1, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO migrations(version) VALUES(?) ON CONFLICT(version) DO NOTHING`, step.Version); err != nil {
			tx.Rollback()
			return result, fmt.Errorf("%w: record step %s: %v", ErrMigration, step.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES('schema_version', ?)
                        ON CONFLICT(key) DO UPDATE SET value = excluded.value`, step.Version); err != nil {
			tx.Rollback()
			return result, fmt.Errorf("%w: update version to %s: %v", ErrMigration, step.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return result, fmt.Errorf("%w: commit step %s: %v", ErrMigration, step.Version, err)
		}
		result.To = step.Version
		result.Migrations = append(result.Migrations, step.Version)
		logger.Info("store: migration applied", "version", step.Version)
		if err := s.writeSchemaDoc(ctx); err != nil {
			return result, err
		}
	}
	if len(result.Migrations) == 0 {
		if err := s.writeSchemaDoc(ctx); err != nil {
			return result, err
		}
	}
	return result, nil
}

// Schema returns the current schema document.
func (s *Store) Schema(ctx context.Context) (model.SchemaDoc, error) {
	if err := s.readOnly(); err != nil {
		return model.SchemaDoc{}, err
	}
	version, err := s.storedVersion(ctx)
	if err != nil {
		return model.SchemaDoc{}, err
	}
	tables := []string{}
	if err := s.db.SelectContext(ctx, &tables, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`); err != nil {
		return model.SchemaDoc{}, fmt.Errorf("list tables: %w", err)
	}
	applied := []string{}
	if err := s.db.SelectContext(ctx, &applied, `SELECT version FROM migrations ORDER BY version`); err != nil {
		return model.SchemaDoc{}, fmt.Errorf("list migrations: %w", err)
	}
	return model.SchemaDoc{Version: version, Tables: tables, MigrationsApplied: applied}, nil
}

// NormalizeArchive runs the document side of the migration library over an
// in-memory import document until its version matches the store's. Returns
// the steps applied.
func NormalizeArchive(doc *model.Archive) []string {
	if doc == nil {
		return nil
	}
	from := strings.TrimSpace(doc.SchemaVersion)
	if from == "" {
		from = "1.0.0"
	}
	var applied []string
	for _, step := range migrations {
		if CompareVersions(step.Version, from) <= 0 {
			continue
		}
		if step.Doc != nil {
			step.Doc(doc)
		}
		applied = append(applied, step.Version)
	}
	doc.SchemaVersion = CurrentSchemaVersion
	return applied
}

func (s *Store) storedVersion(ctx context.Context) (string, error) {
	var version sql.NullString
	err := s.db.GetContext(ctx, &version, `SELECT value FROM meta WHERE key = 'schema_version'`)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("read schema version: %w", err)
	}
	if version.Valid && strings.TrimSpace(version.String) != "" {
		return version.String, nil
	}
	return "0.0.0", nil
}

// writeSchemaDoc atomically replaces schema.json in the data dir.
func (s *Store) writeSchemaDoc(ctx context.Context) error {
	doc, err := s.Schema(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema doc: %w", err)
	}
	target := filepath.Join(s.dataDir, "schema.json")
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write schema doc: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("replace schema doc: %w", err)
	}
	return nil
}

// CompareVersions orders two semver strings: -1, 0 or 1.
func CompareVersions(a, b string) int {
	as := splitVersion(a)
	bs := splitVersion(b)
	for i := 0; i < 3; i++ {
		if as[i] != bs[i] {
			if as[i] < bs[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func splitVersion(v string) [3]int {
	var out [3]int
	parts := strings.SplitN(strings.TrimSpace(v), ".", 3)
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err == nil {
			out[i] = n
		}
	}
	return out
}

func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}
