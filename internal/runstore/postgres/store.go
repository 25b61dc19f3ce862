package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/insightloop/insightloop/internal/runstore"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping runstore db: %w", err)
	}
	return nil
}

// SaveRun upserts the run record and replaces its step history in one
// transaction. Archiving the same terminal run twice is a no-op overwrite.
func (s *Store) SaveRun(ctx context.Context, in runstore.SaveRunInput) (runstore.Run, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return runstore.Run{}, fmt.Errorf("begin save run: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	vizJSON := in.Run.VizJSON
	if len(vizJSON) == 0 {
		vizJSON = []byte("null")
	}

	query := `
INSERT INTO run (workflow_id, tenant_id, user_id, question, intent, sql_text,
                 status, failure_kind, failure_message, row_count, retry_count,
                 insights, viz, artifact_key, created_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb, $14, $15, $16)
ON CONFLICT (workflow_id) DO UPDATE SET
    status = EXCLUDED.status,
    failure_kind = EXCLUDED.failure_kind,
    failure_message = EXCLUDED.failure_message,
    row_count = EXCLUDED.row_count,
    retry_count = EXCLUDED.retry_count,
    insights = EXCLUDED.insights,
    viz = EXCLUDED.viz,
    artifact_key = EXCLUDED.artifact_key,
    finished_at = EXCLUDED.finished_at`

	if _, err := tx.ExecContext(ctx, query,
		in.Run.WorkflowID,
		in.Run.TenantID,
		in.Run.UserID,
		in.Run.Question,
		in.Run.Intent,
		in.Run.SQL,
		in.Run.Status,
		in.Run.FailureKind,
		in.Run.FailureMessage,
		in.Run.RowCount,
		in.Run.RetryCount,
		in.Run.Insights,
		string(vizJSON),
		in.Run.ArtifactKey,
		in.Run.CreatedAt,
		in.Run.FinishedAt,
	); err != nil {
		return runstore.Run{}, fmt.Errorf("insert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_step WHERE workflow_id = $1`, in.Run.WorkflowID); err != nil {
		return runstore.Run{}, fmt.Errorf("clear run steps: %w", err)
	}
	for _, step := range in.Steps {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO run_step (workflow_id, seq, stage, status, message, progress, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			step.WorkflowID, step.Seq, step.Stage, step.Status, step.Message, step.Progress, step.OccurredAt,
		); err != nil {
			return runstore.Run{}, fmt.Errorf("insert run step: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return runstore.Run{}, fmt.Errorf("commit save run: %w", err)
	}
	return in.Run, nil
}

const runColumns = `workflow_id, tenant_id, user_id, question, intent, sql_text,
status, failure_kind, failure_message, row_count, retry_count, insights, viz,
artifact_key, created_at, finished_at`

func scanRun(scan func(dest ...any) error) (runstore.Run, error) {
	var run runstore.Run
	err := scan(
		&run.WorkflowID,
		&run.TenantID,
		&run.UserID,
		&run.Question,
		&run.Intent,
		&run.SQL,
		&run.Status,
		&run.FailureKind,
		&run.FailureMessage,
		&run.RowCount,
		&run.RetryCount,
		&run.Insights,
		&run.VizJSON,
		&run.ArtifactKey,
		&run.CreatedAt,
		&run.FinishedAt,
	)
	return run, err
}

func (s *Store) GetRun(ctx context.Context, tenantID, workflowID string) (runstore.Run, error) {
	query := `
SELECT ` + runColumns + `
FROM run
WHERE tenant_id = $1 AND workflow_id = $2`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, tenantID, workflowID).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return runstore.Run{}, runstore.ErrNotFound
		}
		return runstore.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, tenantID string, limit int) ([]runstore.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
SELECT ` + runColumns + `
FROM run
WHERE tenant_id = $1
ORDER BY created_at DESC
LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := make([]runstore.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

func (s *Store) ListSteps(ctx context.Context, workflowID string) ([]runstore.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT workflow_id, seq, stage, status, message, progress, occurred_at
FROM run_step
WHERE workflow_id = $1
ORDER BY seq ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list run steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	steps := make([]runstore.StepRecord, 0)
	for rows.Next() {
		var step runstore.StepRecord
		if err := rows.Scan(&step.WorkflowID, &step.Seq, &step.Stage, &step.Status, &step.Message, &step.Progress, &step.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan run step row: %w", err)
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run step rows: %w", err)
	}
	return steps, nil
}

// PruneRuns deletes archived runs that finished before the cutoff. Step rows
// go with them via ON DELETE CASCADE.
func (s *Store) PruneRuns(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
DELETE FROM run
WHERE finished_at IS NOT NULL AND finished_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	pruned, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune runs rows affected: %w", err)
	}
	return pruned, nil
}
