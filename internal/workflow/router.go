package workflow

// Stage identifies one transition of the run's state machine.
type Stage string

const (
	StageClassify       Stage = "classify"
	StageFetchContext   Stage = "fetch_context"
	StageGenerateSQL    Stage = "generate_sql"
	StageValidate       Stage = "validate"
	StageExecute        Stage = "execute"
	StageAnalyzeError   Stage = "analyze_error"
	StageAnalyzeResults Stage = "analyze_results"
	StageVisualize      Stage = "visualize"

	StageDone                  Stage = "done"
	StageFailed                Stage = "failed"
	StageAwaitingClarification Stage = "awaiting_clarification"
)

func (s Stage) Terminal() bool {
	switch s {
	case StageDone, StageFailed, StageAwaitingClarification:
		return true
	default:
		return false
	}
}

// Router selects the next stage from the stage that just completed and the
// current state. It performs no I/O and never mutates the state.
type Router struct{}

func (Router) Initial() Stage { return StageClassify }

func (Router) Next(completed Stage, s *State) Stage {
	if s.Status == StatusFailed {
		return StageFailed
	}

	switch completed {
	case StageClassify:
		if s.Intent == IntentClarify {
			return StageAwaitingClarification
		}
		return StageFetchContext
	case StageFetchContext:
		return StageGenerateSQL
	case StageGenerateSQL:
		if s.SQLText == "" {
			return StageAnalyzeError
		}
		return StageValidate
	case StageValidate:
		if len(s.ValidationErrors) > 0 {
			return StageAnalyzeError
		}
		return StageExecute
	case StageExecute:
		if s.ExecError != nil {
			return StageAnalyzeError
		}
		return StageAnalyzeResults
	case StageAnalyzeError:
		// Repaired statements are always re-validated, never executed
		// directly.
		return StageValidate
	case StageAnalyzeResults:
		if s.FollowUp {
			return StageGenerateSQL
		}
		return StageVisualize
	case StageVisualize:
		return StageDone
	default:
		return StageFailed
	}
}
