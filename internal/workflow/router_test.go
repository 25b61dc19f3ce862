package workflow

import (
	"testing"

	"github.com/insightloop/insightloop/internal/sqlcheck"
)

func TestRouterNext(t *testing.T) {
	tests := []struct {
		name      string
		completed Stage
		mutate    func(*State)
		want      Stage
	}{
		{
			name:      "classify routes to fetch context",
			completed: StageClassify,
			mutate:    func(s *State) { s.Intent = IntentSimple },
			want:      StageFetchContext,
		},
		{
			name:      "clarify intent short circuits",
			completed: StageClassify,
			mutate:    func(s *State) { s.Intent = IntentClarify },
			want:      StageAwaitingClarification,
		},
		{
			name:      "fetch context routes to generation",
			completed: StageFetchContext,
			mutate:    func(s *State) {},
			want:      StageGenerateSQL,
		},
		{
			name:      "generated sql routes to validation",
			completed: StageGenerateSQL,
			mutate:    func(s *State) { s.SQLText = "SELECT 1" },
			want:      StageValidate,
		},
		{
			name:      "empty sql routes to error analysis",
			completed: StageGenerateSQL,
			mutate:    func(s *State) { s.SQLText = "" },
			want:      StageAnalyzeError,
		},
		{
			name:      "clean validation routes to execution",
			completed: StageValidate,
			mutate:    func(s *State) { s.SQLText = "SELECT 1" },
			want:      StageExecute,
		},
		{
			name:      "violations route to error analysis",
			completed: StageValidate,
			mutate: func(s *State) {
				s.ValidationErrors = []sqlcheck.Violation{{Rule: sqlcheck.RuleForbiddenKeyword}}
			},
			want: StageAnalyzeError,
		},
		{
			name:      "execution success routes to result analysis",
			completed: StageExecute,
			mutate:    func(s *State) { s.ExecResult = &ExecutionResult{RowCount: 1} },
			want:      StageAnalyzeResults,
		},
		{
			name:      "execution error routes to error analysis",
			completed: StageExecute,
			mutate:    func(s *State) { s.ExecError = &ExecutionError{Kind: "syntax_rejected"} },
			want:      StageAnalyzeError,
		},
		{
			name:      "repair routes back through validation",
			completed: StageAnalyzeError,
			mutate:    func(s *State) { s.SQLText = "SELECT 2" },
			want:      StageValidate,
		},
		{
			name:      "result analysis routes to visualization",
			completed: StageAnalyzeResults,
			mutate:    func(s *State) {},
			want:      StageVisualize,
		},
		{
			name:      "follow up routes back to generation",
			completed: StageAnalyzeResults,
			mutate:    func(s *State) { s.FollowUp = true },
			want:      StageGenerateSQL,
		},
		{
			name:      "visualization completes the run",
			completed: StageVisualize,
			mutate:    func(s *State) {},
			want:      StageDone,
		},
		{
			name:      "failed status overrides any transition",
			completed: StageExecute,
			mutate:    func(s *State) { s.Fail(FailureConnection, "tenant database unavailable") },
			want:      StageFailed,
		},
	}

	var router Router
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState("wf", "acme", "u1", "question", fixedTime())
			tt.mutate(s)
			if got := router.Next(tt.completed, s); got != tt.want {
				t.Fatalf("Next(%s) = %s, want %s", tt.completed, got, tt.want)
			}
		})
	}
}

func TestStageTerminal(t *testing.T) {
	for _, stage := range []Stage{StageDone, StageFailed, StageAwaitingClarification} {
		if !stage.Terminal() {
			t.Fatalf("%s should be terminal", stage)
		}
	}
	for _, stage := range []Stage{StageClassify, StageValidate, StageAnalyzeError} {
		if stage.Terminal() {
			t.Fatalf("%s should not be terminal", stage)
		}
	}
}
