package workflow

import (
	"time"

	"github.com/insightloop/insightloop/internal/sqlcheck"
)

// Intent labels the classified shape of the question. A clarify intent
// short-circuits the run before any SQL is generated.
type Intent string

const (
	IntentSimple      Intent = "simple"
	IntentComplex     Intent = "complex"
	IntentInvestigate Intent = "investigate"
	IntentClarify     Intent = "clarify"
)

type Status string

const (
	StatusRunning               Status = "running"
	StatusAwaitingClarification Status = "awaiting_clarification"
	StatusSucceeded             Status = "succeeded"
	StatusFailed                Status = "failed"
)

// Failure kinds recorded on a failed run.
const (
	FailureGeneration  = "generation_failure"
	FailureRetryBudget = "retry_budget_exhausted"
	FailureConnection  = "connection_failure"
	FailureCancelled   = "cancelled"
	FailureWatchdog    = "watchdog_timeout"
	FailureInternal    = "internal"
)

type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepRunning  StepStatus = "running"
	StepComplete StepStatus = "complete"
	StepError    StepStatus = "error"
)

// Step is one history entry. Retries append new entries, never overwrite.
type Step struct {
	Stage     string     `json:"stage"`
	Status    StepStatus `json:"status"`
	Message   string     `json:"message"`
	Progress  int        `json:"progress"`
	Timestamp time.Time  `json:"timestamp"`
}

type ExecutionResult struct {
	RowCount  int      `json:"row_count"`
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	ElapsedMs int64    `json:"elapsed_ms"`
}

type ExecutionError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type VizKind string

const (
	VizLine   VizKind = "line"
	VizBar    VizKind = "bar"
	VizTable  VizKind = "table"
	VizMetric VizKind = "metric"
)

type VizDescriptor struct {
	Kind    VizKind  `json:"kind"`
	XField  string   `json:"x_field,omitempty"`
	YFields []string `json:"y_fields,omitempty"`
}

// State is the single record threaded through every stage of one run. It is
// owned and mutated exclusively by the run's orchestrator goroutine; other
// readers get copies via Clone.
type State struct {
	ID       string `json:"workflow_id"`
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`

	RawQuestion  string `json:"question"`
	Conversation string `json:"conversation,omitempty"`

	Intent Intent `json:"intent,omitempty"`

	ContextFetched  bool   `json:"context_fetched"`
	SchemaContext   string `json:"schema_context,omitempty"`
	FewShotExamples string `json:"few_shot_examples,omitempty"`
	UserContext     string `json:"user_context,omitempty"`

	SQLText          string               `json:"sql,omitempty"`
	ValidationErrors []sqlcheck.Violation `json:"validation_errors,omitempty"`

	ExecResult *ExecutionResult `json:"execution_result,omitempty"`
	ExecError  *ExecutionError  `json:"execution_error,omitempty"`

	// LastFailureDetail seeds the repair prompt: the most recent validation,
	// execution, or generation failure in human-readable form.
	LastFailureDetail string `json:"-"`

	RetryCount int `json:"retry_count"`

	// FollowUp is set by analyze-results at most once per run; Investigated
	// guards the loop so a second investigate pass is never taken.
	FollowUp     bool `json:"-"`
	Investigated bool `json:"-"`

	Insights string         `json:"insights,omitempty"`
	Viz      *VizDescriptor `json:"viz,omitempty"`

	ArtifactKey string `json:"artifact_key,omitempty"`

	Status         Status `json:"status"`
	FailureKind    string `json:"failure_kind,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`

	History []Step `json:"history"`

	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func NewState(id, tenantID, userID, question string, now time.Time) *State {
	return &State{
		ID:          id,
		TenantID:    tenantID,
		UserID:      userID,
		RawQuestion: question,
		Status:      StatusRunning,
		CreatedAt:   now.UTC(),
	}
}

func (s *State) Terminal() bool {
	switch s.Status {
	case StatusSucceeded, StatusFailed, StatusAwaitingClarification:
		return true
	default:
		return false
	}
}

// Fail marks the run failed. Status transitions are monotonic: once terminal
// the first failure kind wins.
func (s *State) Fail(kind, message string) {
	if s.Terminal() {
		return
	}
	s.Status = StatusFailed
	s.FailureKind = kind
	s.FailureMessage = message
}

// Clone returns a deep copy safe to hand to concurrent readers.
func (s *State) Clone() State {
	out := *s
	if s.ValidationErrors != nil {
		out.ValidationErrors = append([]sqlcheck.Violation(nil), s.ValidationErrors...)
	}
	if s.History != nil {
		out.History = append([]Step(nil), s.History...)
	}
	if s.ExecResult != nil {
		result := *s.ExecResult
		result.Columns = append([]string(nil), s.ExecResult.Columns...)
		result.Rows = make([][]any, len(s.ExecResult.Rows))
		for i, row := range s.ExecResult.Rows {
			result.Rows[i] = append([]any(nil), row...)
		}
		out.ExecResult = &result
	}
	if s.ExecError != nil {
		execErr := *s.ExecError
		out.ExecError = &execErr
	}
	if s.Viz != nil {
		viz := *s.Viz
		viz.YFields = append([]string(nil), s.Viz.YFields...)
		out.Viz = &viz
	}
	if s.FinishedAt != nil {
		finished := *s.FinishedAt
		out.FinishedAt = &finished
	}
	return out
}
