package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/insightloop/insightloop/internal/runstore"
)

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestSaveRunUpsertsRunAndReplacesSteps(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db)
	created := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	finished := created.Add(3 * time.Second)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO run ").
		WithArgs(
			"wf-1", "acme", "user-1", "revenue by region", "simple",
			"SELECT * FROM (SELECT 1) AS q LIMIT 200",
			"succeeded", "", "", 2, 0, "East leads.",
			`{"kind":"bar"}`, "results/acme/wf-1.parquet",
			created, &finished,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM run_step WHERE workflow_id = $1`)).
		WithArgs("wf-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO run_step ").
		WithArgs("wf-1", 0, "classify", "complete", "Question classified as simple", 10, created).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := store.SaveRun(context.Background(), runstore.SaveRunInput{
		Run: runstore.Run{
			WorkflowID:  "wf-1",
			TenantID:    "acme",
			UserID:      "user-1",
			Question:    "revenue by region",
			Intent:      "simple",
			SQL:         "SELECT * FROM (SELECT 1) AS q LIMIT 200",
			Status:      "succeeded",
			RowCount:    2,
			Insights:    "East leads.",
			VizJSON:     []byte(`{"kind":"bar"}`),
			ArtifactKey: "results/acme/wf-1.parquet",
			CreatedAt:   created,
			FinishedAt:  &finished,
		},
		Steps: []runstore.StepRecord{
			{WorkflowID: "wf-1", Seq: 0, Stage: "classify", Status: "complete", Message: "Question classified as simple", Progress: 10, OccurredAt: created},
		},
	})
	if err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestGetRunReturnsNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db)

	mock.ExpectQuery("SELECT .+ FROM run").
		WithArgs("acme", "missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetRun(context.Background(), "acme", "missing")
	if !errors.Is(err, runstore.ErrNotFound) {
		t.Fatalf("error = %v, want %v", err, runstore.ErrNotFound)
	}
	assertSQLMock(t, mock)
}

func TestListRunsScansRows(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db)
	created := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	columns := []string{
		"workflow_id", "tenant_id", "user_id", "question", "intent", "sql_text",
		"status", "failure_kind", "failure_message", "row_count", "retry_count",
		"insights", "viz", "artifact_key", "created_at", "finished_at",
	}
	mock.ExpectQuery("SELECT .+ FROM run").
		WithArgs("acme", 50).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("wf-2", "acme", "user-1", "orders today", "simple", "SELECT 1",
				"succeeded", "", "", 1, 0, "One order.", []byte(`null`), "", created, nil).
			AddRow("wf-1", "acme", "user-1", "bad question", "simple", "",
				"failed", "retry_budget_exhausted", "retry budget of 2 exhausted", 0, 2, "", []byte(`null`), "", created.Add(-time.Hour), nil))

	runs, err := store.ListRuns(context.Background(), "acme", 0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d", len(runs))
	}
	if runs[0].WorkflowID != "wf-2" || runs[1].FailureKind != "retry_budget_exhausted" {
		t.Fatalf("runs = %+v", runs)
	}
	assertSQLMock(t, mock)
}

func TestPruneRunsReturnsDeletedCount(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db)
	cutoff := time.Date(2026, 6, 24, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("DELETE FROM run").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	pruned, err := store.PruneRuns(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("PruneRuns() error = %v", err)
	}
	if pruned != 7 {
		t.Fatalf("pruned = %d, want 7", pruned)
	}
	assertSQLMock(t, mock)
}
