package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/insightloop/insightloop/internal/workflow"
)

var ErrNotFound = errors.New("runstore: not found")

// Store archives terminal runs and their step history. Live runs stay in the
// registry; only finished ones land here.
type Store interface {
	HealthCheck(ctx context.Context) error
	SaveRun(ctx context.Context, in SaveRunInput) (Run, error)
	GetRun(ctx context.Context, tenantID, workflowID string) (Run, error)
	ListRuns(ctx context.Context, tenantID string, limit int) ([]Run, error)
	ListSteps(ctx context.Context, workflowID string) ([]StepRecord, error)
	PruneRuns(ctx context.Context, olderThan time.Time) (int64, error)
}

type Run struct {
	WorkflowID     string
	TenantID       string
	UserID         string
	Question       string
	Intent         string
	SQL            string
	Status         string
	FailureKind    string
	FailureMessage string
	RowCount       int
	RetryCount     int
	Insights       string
	VizJSON        []byte
	ArtifactKey    string
	CreatedAt      time.Time
	FinishedAt     *time.Time
}

type StepRecord struct {
	WorkflowID string
	Seq        int
	Stage      string
	Status     string
	Message    string
	Progress   int
	OccurredAt time.Time
}

type SaveRunInput struct {
	Run   Run
	Steps []StepRecord
}

// FromState flattens a terminal workflow state into an archive record.
func FromState(s workflow.State) SaveRunInput {
	run := Run{
		WorkflowID:     s.ID,
		TenantID:       s.TenantID,
		UserID:         s.UserID,
		Question:       s.RawQuestion,
		Intent:         string(s.Intent),
		SQL:            s.SQLText,
		Status:         string(s.Status),
		FailureKind:    s.FailureKind,
		FailureMessage: s.FailureMessage,
		RetryCount:     s.RetryCount,
		Insights:       s.Insights,
		ArtifactKey:    s.ArtifactKey,
		CreatedAt:      s.CreatedAt,
		FinishedAt:     s.FinishedAt,
	}
	if s.ExecResult != nil {
		run.RowCount = s.ExecResult.RowCount
	}
	if s.Viz != nil {
		if raw, err := json.Marshal(s.Viz); err == nil {
			run.VizJSON = raw
		}
	}
	steps := make([]StepRecord, 0, len(s.History))
	for i, step := range s.History {
		steps = append(steps, StepRecord{
			WorkflowID: s.ID,
			Seq:        i,
			Stage:      step.Stage,
			Status:     string(step.Status),
			Message:    step.Message,
			Progress:   step.Progress,
			OccurredAt: step.Timestamp,
		})
	}
	return SaveRunInput{Run: run, Steps: steps}
}
