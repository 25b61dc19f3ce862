package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/insightloop/insightloop/internal/observability"
)

// ResultExporter persists the result set of a successful run and returns the
// artifact key it was written under.
type ResultExporter interface {
	Export(ctx context.Context, s *State) (string, error)
}

// maxTransitions bounds the state machine. The longest legal run (two repair
// cycles plus one investigate loop) stays well under it, so hitting the bound
// means a routing bug.
const maxTransitions = 32

// Orchestrator drives one run through the state machine: it executes stages,
// appends history, emits progress, and settles the terminal status. It owns
// the state for the duration of Run; concurrent readers observe it through
// Observer snapshots and the emitter.
type Orchestrator struct {
	Engine  *Engine
	Router  Router
	Emitter *Emitter

	// Observer receives a snapshot after every stage and at termination.
	Observer func(State)

	// Exporter is optional. Export failures are logged, never fatal.
	Exporter ResultExporter
}

type stageProgress struct {
	running  int
	complete int
}

var progressByStage = map[Stage]stageProgress{
	StageClassify:       {5, 10},
	StageFetchContext:   {15, 25},
	StageGenerateSQL:    {30, 40},
	StageValidate:       {45, 55},
	StageExecute:        {60, 70},
	StageAnalyzeError:   {0, 0},
	StageAnalyzeResults: {75, 85},
	StageVisualize:      {90, 95},
}

var messagesByStage = map[Stage]string{
	StageClassify:       "Understanding the question",
	StageFetchContext:   "Gathering schema and examples",
	StageGenerateSQL:    "Writing SQL",
	StageValidate:       "Checking the query",
	StageExecute:        "Running the query",
	StageAnalyzeError:   "Repairing the query",
	StageAnalyzeResults: "Reading the results",
	StageVisualize:      "Choosing a chart",
}

var iconsByStage = map[Stage]string{
	StageClassify:       "brain",
	StageFetchContext:   "book",
	StageGenerateSQL:    "pencil",
	StageValidate:       "shield",
	StageExecute:        "database",
	StageAnalyzeError:   "wrench",
	StageAnalyzeResults: "chart",
	StageVisualize:      "sparkles",
}

// Event categories: thinking for model reasoning, action for work against
// external systems, check for validation. Errors override per step.
var categoriesByStage = map[Stage]string{
	StageClassify:       "thinking",
	StageFetchContext:   "action",
	StageGenerateSQL:    "action",
	StageValidate:       "check",
	StageExecute:        "action",
	StageAnalyzeError:   "thinking",
	StageAnalyzeResults: "thinking",
	StageVisualize:      "action",
}

// Run executes the state machine to a terminal status. It always closes the
// emitter before returning. Cancellation of ctx fails the run as cancelled;
// the internal watchdog fails it as a watchdog timeout.
func (o *Orchestrator) Run(ctx context.Context, s *State) {
	cfg := o.Engine.Config.withDefaults()
	runCtx, cancel := context.WithTimeout(ctx, cfg.WatchdogTimeout)
	defer cancel()
	defer o.Emitter.Close()

	stage := o.Router.Initial()
	for i := 0; i < maxTransitions; i++ {
		if err := runCtx.Err(); err != nil {
			o.failForContext(ctx, err, s)
			o.finish(ctx, s)
			return
		}

		o.runStage(runCtx, stage, s)

		if o.Observer != nil {
			o.Observer(s.Clone())
		}

		next := o.Router.Next(stage, s)
		if next.Terminal() {
			o.settle(next, s)
			o.finish(ctx, s)
			return
		}
		stage = next
	}

	s.Fail(FailureInternal, fmt.Sprintf("run exceeded %d stage transitions", maxTransitions))
	o.finish(ctx, s)
}

func (o *Orchestrator) runStage(ctx context.Context, stage Stage, s *State) {
	progress := progressByStage[stage]
	o.emitStep(stage, StepRunning, messagesByStage[stage], progress.running, s)

	start := o.Engine.now()
	switch stage {
	case StageClassify:
		o.Engine.runClassify(ctx, s)
	case StageFetchContext:
		o.Engine.runFetchContext(ctx, s)
	case StageGenerateSQL:
		o.Engine.runGenerateSQL(ctx, s)
	case StageValidate:
		o.Engine.runValidate(ctx, s)
	case StageExecute:
		o.Engine.runExecute(ctx, s)
	case StageAnalyzeError:
		o.Engine.runAnalyzeError(ctx, s)
	case StageAnalyzeResults:
		o.Engine.runAnalyzeResults(ctx, s)
	case StageVisualize:
		o.Engine.runVisualize(ctx, s)
	}
	observability.ObserveStageDuration(string(stage), o.Engine.now().Sub(start))

	status, message := o.stageOutcome(stage, s)
	o.emitStep(stage, status, message, progress.complete, s)
}

// stageOutcome reports how the completed stage went, for history and the
// event stream. A stage whose failure is recoverable completes as error
// without failing the run.
func (o *Orchestrator) stageOutcome(stage Stage, s *State) (StepStatus, string) {
	if s.Status == StatusFailed {
		return StepError, s.FailureMessage
	}
	switch stage {
	case StageClassify:
		return StepComplete, fmt.Sprintf("Question classified as %s", s.Intent)
	case StageGenerateSQL, StageAnalyzeError:
		if s.SQLText == "" {
			return StepError, s.LastFailureDetail
		}
		return StepComplete, "SQL ready"
	case StageValidate:
		if len(s.ValidationErrors) > 0 {
			return StepError, s.LastFailureDetail
		}
		return StepComplete, "Query passed validation"
	case StageExecute:
		if s.ExecError != nil {
			return StepError, s.LastFailureDetail
		}
		return StepComplete, fmt.Sprintf("Query returned %d rows", s.ExecResult.RowCount)
	case StageAnalyzeResults:
		return StepComplete, "Results analyzed"
	case StageVisualize:
		return StepComplete, fmt.Sprintf("Prepared a %s view", s.Viz.Kind)
	default:
		return StepComplete, messagesByStage[stage]
	}
}

func (o *Orchestrator) emitStep(stage Stage, status StepStatus, message string, progress int, s *State) {
	// Revisited stages (repair, investigate) carry lower nominal percentages;
	// history and the stream both hold the clamped value.
	progress = o.Emitter.clampProgress(progress)
	step := Step{
		Stage:     string(stage),
		Status:    status,
		Message:   message,
		Progress:  progress,
		Timestamp: o.Engine.now().UTC(),
	}
	s.History = append(s.History, step)
	category := categoriesByStage[stage]
	if status == StepError {
		category = "error"
	}
	o.Emitter.Emit(Event{
		Step:     step.Stage,
		Status:   status,
		Message:  message,
		Icon:     iconsByStage[stage],
		Progress: progress,
		Category: category,
	})
}

// settle records the terminal status implied by the router's terminal stage.
func (o *Orchestrator) settle(terminal Stage, s *State) {
	switch terminal {
	case StageDone:
		s.Status = StatusSucceeded
	case StageAwaitingClarification:
		s.Status = StatusAwaitingClarification
	case StageFailed:
		// Fail() has already run; keep the first failure.
		s.Fail(FailureInternal, "run routed to failure without a recorded cause")
	}
}

func (o *Orchestrator) failForContext(ctx context.Context, err error, s *State) {
	if errors.Is(ctx.Err(), context.Canceled) {
		s.Fail(FailureCancelled, "run cancelled")
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		s.Fail(FailureWatchdog, fmt.Sprintf("run exceeded the %s watchdog", o.Engine.Config.withDefaults().WatchdogTimeout))
		return
	}
	s.Fail(FailureCancelled, "run cancelled")
}

// finish emits the terminal event, runs the exporter for successful runs, and
// records run metrics.
func (o *Orchestrator) finish(ctx context.Context, s *State) {
	finished := o.Engine.now().UTC()
	s.FinishedAt = &finished

	switch s.Status {
	case StatusSucceeded:
		if o.Exporter != nil && s.ExecResult != nil {
			key, err := o.Exporter.Export(ctx, s)
			if err != nil {
				o.Engine.logger().WarnContext(ctx, "result export failed",
					slog.String("workflow_id", s.ID), slog.Any("error", err))
			} else {
				s.ArtifactKey = key
			}
		}
		o.Emitter.Emit(Event{
			Step:          "end",
			Status:        StepComplete,
			Message:       "Done",
			Progress:      100,
			Category:      "check",
			SQL:           s.SQLText,
			ResultPreview: s.ExecResult,
			VizConfig:     s.Viz,
			Insights:      s.Insights,
			ArtifactKey:   s.ArtifactKey,
		})
		observability.ObserveWorkflowRun("succeeded")
	case StatusAwaitingClarification:
		o.Emitter.Emit(Event{
			Step:     "end",
			Status:   StepComplete,
			Message:  "The question needs clarification before it can be answered",
			Progress: 100,
			Category: "thinking",
		})
		observability.ObserveWorkflowRun("awaiting_clarification")
	default:
		o.Emitter.Emit(Event{
			Step:     "end",
			Status:   StepError,
			Message:  s.FailureMessage,
			Progress: 100,
			Category: "error",
			Error:    &ExecutionError{Kind: s.FailureKind, Message: s.FailureMessage},
		})
		observability.ObserveWorkflowRun("failed")
	}

	elapsed := finished.Sub(s.CreatedAt)
	o.Engine.logger().InfoContext(ctx, "workflow finished",
		slog.String("workflow_id", s.ID),
		slog.String("tenant_id", s.TenantID),
		slog.String("status", string(s.Status)),
		slog.Int("retry_count", s.RetryCount),
		slog.Duration("elapsed", elapsed))

	if o.Observer != nil {
		o.Observer(s.Clone())
	}
}
