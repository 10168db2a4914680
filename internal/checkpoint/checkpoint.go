// Package checkpoint persists run state to sqlite so an interrupted run can
// resume without re-running completed work items.
//
// Layout follows the engine's persisted-state contract: one keyed record per
// work item (status, iteration count, last judgment, result) plus the full
// context store log serialized alongside the run.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/contextstore"
	"github.com/fyrsmithlabs/taskd/internal/engine"
)

// Store implements engine.Checkpointer over a sqlite database.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

var _ engine.Checkpointer = (*Store)(nil)

// Open opens or creates the checkpoint database and runs migrations. The
// parent directory is created if missing. A nil logger is replaced with a
// no-op logger.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("checkpoint database path cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating checkpoint directory: %w", err)
	}

	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging checkpoint database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrating checkpoint database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	for _, m := range []string{migrationRuns, migrationWorkItems, migrationIndexes} {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

const migrationRuns = `
CREATE TABLE IF NOT EXISTS runs (
    run_id     TEXT PRIMARY KEY,
    request    TEXT NOT NULL UNIQUE,
    plan       TEXT,
    store_json TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const migrationWorkItems = `
CREATE TABLE IF NOT EXISTS work_items (
    run_id          TEXT NOT NULL,
    item_id         TEXT NOT NULL,
    position        INTEGER NOT NULL,
    file_path       TEXT NOT NULL,
    file_status     TEXT NOT NULL,
    mode            TEXT NOT NULL,
    description     TEXT NOT NULL,
    tags_json       TEXT,
    deps_json       TEXT,
    status          TEXT NOT NULL,
    result          TEXT,
    iteration_count INTEGER NOT NULL DEFAULT 0,
    judgment_json   TEXT,
    failure_reason  TEXT,
    PRIMARY KEY (run_id, item_id),
    FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
`

const migrationIndexes = `
CREATE INDEX IF NOT EXISTS idx_work_items_run_id ON work_items(run_id);
`

type runRow struct {
	RunID     string    `db:"run_id"`
	Request   string    `db:"request"`
	Plan      string    `db:"plan"`
	StoreJSON string    `db:"store_json"`
	UpdatedAt time.Time `db:"updated_at"`
}

type itemRow struct {
	RunID          string `db:"run_id"`
	ItemID         string `db:"item_id"`
	Position       int    `db:"position"`
	FilePath       string `db:"file_path"`
	FileStatus     string `db:"file_status"`
	Mode           string `db:"mode"`
	Description    string `db:"description"`
	TagsJSON       string `db:"tags_json"`
	DepsJSON       string `db:"deps_json"`
	Status         string `db:"status"`
	Result         string `db:"result"`
	IterationCount int    `db:"iteration_count"`
	JudgmentJSON   string `db:"judgment_json"`
	FailureReason  string `db:"failure_reason"`
}

// SaveRun replaces any prior snapshot for the same run in one transaction.
func (s *Store) SaveRun(ctx context.Context, state *engine.RunState) error {
	if state == nil || state.RunID == "" {
		return fmt.Errorf("run state with a run id is required")
	}

	storeJSON, err := json.Marshal(state.Store)
	if err != nil {
		return fmt.Errorf("encoding store snapshot: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO runs (run_id, request, plan, store_json, updated_at)
		VALUES (:run_id, :request, :plan, :store_json, :updated_at)
		ON CONFLICT(run_id) DO UPDATE SET
			plan = excluded.plan,
			store_json = excluded.store_json,
			updated_at = excluded.updated_at`,
		runRow{
			RunID:     state.RunID,
			Request:   state.Request,
			Plan:      state.Plan,
			StoreJSON: string(storeJSON),
			UpdatedAt: updatedAt,
		})
	if err != nil {
		return fmt.Errorf("upserting run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM work_items WHERE run_id = ?`, state.RunID); err != nil {
		return fmt.Errorf("clearing work items: %w", err)
	}

	for i, item := range state.Items {
		row, err := toItemRow(state.RunID, i, item)
		if err != nil {
			return err
		}
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO work_items (
				run_id, item_id, position, file_path, file_status, mode,
				description, tags_json, deps_json, status, result,
				iteration_count, judgment_json, failure_reason
			) VALUES (
				:run_id, :item_id, :position, :file_path, :file_status, :mode,
				:description, :tags_json, :deps_json, :status, :result,
				:iteration_count, :judgment_json, :failure_reason
			)`, row)
		if err != nil {
			return fmt.Errorf("inserting work item %s: %w", item.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing checkpoint: %w", err)
	}

	s.logger.Debug("run checkpointed",
		zap.String("run_id", state.RunID),
		zap.Int("items", len(state.Items)))
	return nil
}

// LoadRun returns the persisted state for a request, or nil when no run is
// recorded for it.
func (s *Store) LoadRun(ctx context.Context, request string) (*engine.RunState, error) {
	var run runRow
	err := s.db.GetContext(ctx, &run, `SELECT * FROM runs WHERE request = ?`, request)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading run: %w", err)
	}

	var rows []itemRow
	err = s.db.SelectContext(ctx, &rows,
		`SELECT * FROM work_items WHERE run_id = ? ORDER BY position`, run.RunID)
	if err != nil {
		return nil, fmt.Errorf("loading work items: %w", err)
	}

	items := make([]engine.WorkItem, 0, len(rows))
	for _, row := range rows {
		item, err := fromItemRow(row)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	var snapshot contextstore.Snapshot
	if err := json.Unmarshal([]byte(run.StoreJSON), &snapshot); err != nil {
		return nil, fmt.Errorf("decoding store snapshot: %w", err)
	}

	return &engine.RunState{
		RunID:     run.RunID,
		Request:   run.Request,
		Plan:      run.Plan,
		Items:     items,
		Store:     snapshot,
		UpdatedAt: run.UpdatedAt,
	}, nil
}

// DeleteRun removes a run and its work items.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM work_items WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("deleting work items: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("deleting run: %w", err)
	}
	return nil
}

func toItemRow(runID string, position int, item engine.WorkItem) (itemRow, error) {
	tagsJSON, err := json.Marshal(item.Tags)
	if err != nil {
		return itemRow{}, fmt.Errorf("encoding tags: %w", err)
	}
	depsJSON, err := json.Marshal(item.DependencyIDs)
	if err != nil {
		return itemRow{}, fmt.Errorf("encoding dependencies: %w", err)
	}
	judgmentJSON := ""
	if item.LastJudgment != nil {
		b, err := json.Marshal(item.LastJudgment)
		if err != nil {
			return itemRow{}, fmt.Errorf("encoding judgment: %w", err)
		}
		judgmentJSON = string(b)
	}

	return itemRow{
		RunID:          runID,
		ItemID:         item.ID,
		Position:       position,
		FilePath:       item.FilePath,
		FileStatus:     string(item.FileStatus),
		Mode:           item.Mode,
		Description:    item.Description,
		TagsJSON:       string(tagsJSON),
		DepsJSON:       string(depsJSON),
		Status:         string(item.Status),
		Result:         item.Result,
		IterationCount: item.IterationCount,
		JudgmentJSON:   judgmentJSON,
		FailureReason:  string(item.FailureReason),
	}, nil
}

func fromItemRow(row itemRow) (engine.WorkItem, error) {
	item := engine.WorkItem{
		ID:             row.ItemID,
		FilePath:       row.FilePath,
		FileStatus:     engine.FileStatus(row.FileStatus),
		Mode:           row.Mode,
		Description:    row.Description,
		Status:         engine.ItemStatus(row.Status),
		Result:         row.Result,
		IterationCount: row.IterationCount,
		FailureReason:  engine.FailureReason(row.FailureReason),
	}
	if row.TagsJSON != "" {
		if err := json.Unmarshal([]byte(row.TagsJSON), &item.Tags); err != nil {
			return engine.WorkItem{}, fmt.Errorf("decoding tags for %s: %w", row.ItemID, err)
		}
	}
	if row.DepsJSON != "" {
		if err := json.Unmarshal([]byte(row.DepsJSON), &item.DependencyIDs); err != nil {
			return engine.WorkItem{}, fmt.Errorf("decoding dependencies for %s: %w", row.ItemID, err)
		}
	}
	if row.JudgmentJSON != "" {
		var judgment engine.Judgment
		if err := json.Unmarshal([]byte(row.JudgmentJSON), &judgment); err != nil {
			return engine.WorkItem{}, fmt.Errorf("decoding judgment for %s: %w", row.ItemID, err)
		}
		item.LastJudgment = &judgment
	}
	return item, nil
}
