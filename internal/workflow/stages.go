package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/insightloop/insightloop/internal/executor"
	"github.com/insightloop/insightloop/internal/gateway"
	"github.com/insightloop/insightloop/internal/observability"
	"github.com/insightloop/insightloop/internal/sqlcheck"
)

// SchemaSource, ExampleSource, and ProfileSource are the three fetch-context
// lookups. They run concurrently inside the fetch-context stage and a slow or
// failing lookup degrades to an empty blob, never failing the run.
type SchemaSource interface {
	FetchSchema(ctx context.Context, tenantID string) (string, error)
}

type ExampleSource interface {
	FetchExamples(ctx context.Context, tenantID, question string) (string, error)
}

type ProfileSource interface {
	FetchProfile(ctx context.Context, tenantID, userID string) (string, error)
}

type Config struct {
	MaxRetries       int
	GatewayTimeout   time.Duration
	ExecutorTimeout  time.Duration
	LookupTimeout    time.Duration
	WatchdogTimeout  time.Duration
	RowCap           int
	ResultSampleRows int
}

func (c Config) withDefaults() Config {
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = 30 * time.Second
	}
	if c.ExecutorTimeout <= 0 {
		c.ExecutorTimeout = 10 * time.Second
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = 3 * time.Second
	}
	if c.WatchdogTimeout <= 0 {
		c.WatchdogTimeout = 90 * time.Second
	}
	if c.RowCap <= 0 {
		c.RowCap = 1000
	}
	if c.ResultSampleRows <= 0 {
		c.ResultSampleRows = 50
	}
	return c
}

// Engine executes individual stages against the external collaborators. Each
// stage mutates the passed state; side effects are limited to gateway and
// executor calls.
type Engine struct {
	Gateway  gateway.Gateway
	Executor executor.Executor
	Schemas  SchemaSource
	Examples ExampleSource
	Profiles ProfileSource
	Config   Config
	Logger   *slog.Logger
	Clock    func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) generate(ctx context.Context, req gateway.Request) (gateway.Output, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.Config.withDefaults().GatewayTimeout)
	defer cancel()
	out, err := e.Gateway.Generate(callCtx, req)
	if err != nil {
		observability.ObserveGatewayCall(string(req.Task), "error")
		return gateway.Output{}, err
	}
	observability.ObserveGatewayCall(string(req.Task), "ok")
	return out, nil
}

// runClassify sets the intent. Gateway failures and unrecognized labels
// default to simple: classification only affects routing quality, not safety.
func (e *Engine) runClassify(ctx context.Context, s *State) {
	out, err := e.generate(ctx, gateway.Request{
		Task:         gateway.TaskClassify,
		TenantID:     s.TenantID,
		Question:     s.RawQuestion,
		Conversation: s.Conversation,
	})
	if err != nil {
		e.logger().WarnContext(ctx, "classification failed, defaulting to simple",
			slog.String("workflow_id", s.ID), slog.Any("error", err))
		s.Intent = IntentSimple
		return
	}
	s.Intent = parseIntent(out.Text)
}

func parseIntent(text string) Intent {
	label := strings.ToLower(strings.TrimSpace(text))
	if idx := strings.IndexAny(label, " \t\n"); idx > 0 {
		label = label[:idx]
	}
	label = strings.Trim(label, ".:,")
	switch Intent(label) {
	case IntentSimple, IntentComplex, IntentInvestigate, IntentClarify:
		return Intent(label)
	default:
		return IntentSimple
	}
}

// runGenerateSQL asks the gateway for a statement. An empty or malformed
// response leaves sql_text empty, which the router treats as a retryable
// generation failure.
func (e *Engine) runGenerateSQL(ctx context.Context, s *State) {
	s.FollowUp = false
	question := s.RawQuestion
	if s.Investigated && s.Insights != "" {
		// Follow-up pass: steer generation with the first pass's findings.
		question = fmt.Sprintf("%s\n\nEarlier findings:\n%s", s.RawQuestion, s.Insights)
	}
	out, err := e.generate(ctx, gateway.Request{
		Task:          gateway.TaskGenerate,
		TenantID:      s.TenantID,
		Question:      question,
		SchemaContext: s.SchemaContext,
		Examples:      s.FewShotExamples,
		UserContext:   s.UserContext,
	})
	if err != nil {
		s.SQLText = ""
		s.LastFailureDetail = fmt.Sprintf("SQL generation failed: %v", err)
		e.logger().WarnContext(ctx, "sql generation failed",
			slog.String("workflow_id", s.ID), slog.Any("error", err))
		return
	}
	s.SQLText = out.Text
}

// runValidate is pure: same sql_text in, same violations out. A passing
// statement is replaced by its normalized form (trailing semicolons stripped,
// row-limit wrapper injected when absent).
func (e *Engine) runValidate(_ context.Context, s *State) {
	result := sqlcheck.Validate(s.SQLText, e.Config.withDefaults().RowCap)
	s.ValidationErrors = result.Violations
	if len(result.Violations) == 0 {
		s.SQLText = result.SQL
		return
	}
	descriptions := make([]string, 0, len(result.Violations))
	for _, v := range result.Violations {
		descriptions = append(descriptions, v.String())
	}
	s.LastFailureDetail = "validation failed: " + strings.Join(descriptions, "; ")
}

func (e *Engine) runExecute(ctx context.Context, s *State) {
	cfg := e.Config.withDefaults()
	result, err := e.Executor.Execute(ctx, executor.Request{
		SQL:      s.SQLText,
		TenantID: s.TenantID,
		RowCap:   cfg.RowCap,
		Timeout:  cfg.ExecutorTimeout,
	})
	if err != nil {
		kind := executor.KindUnknown
		message := err.Error()
		var execErr *executor.Error
		if errors.As(err, &execErr) {
			kind = execErr.Kind
			message = execErr.Message
		}
		observability.ObserveExecutorCall(string(kind))
		s.ExecResult = nil
		s.ExecError = &ExecutionError{Kind: string(kind), Message: message}
		s.LastFailureDetail = fmt.Sprintf("execution failed (%s): %s", kind, message)
		if kind == executor.KindConnection {
			// No repair can fix an unreachable database.
			s.Fail(FailureConnection, message)
		}
		return
	}

	observability.ObserveExecutorCall("ok")
	sample := result.Rows
	if len(sample) > cfg.ResultSampleRows {
		sample = sample[:cfg.ResultSampleRows]
	}
	s.ExecError = nil
	s.ExecResult = &ExecutionResult{
		RowCount:  result.RowCount,
		Columns:   result.Columns,
		Rows:      sample,
		ElapsedMs: result.Elapsed.Milliseconds(),
	}
}

// runAnalyzeError consumes one unit of retry budget and asks the gateway for
// a repaired statement. When the budget is already spent it fails the run
// without calling the gateway.
func (e *Engine) runAnalyzeError(ctx context.Context, s *State) {
	cfg := e.Config.withDefaults()
	if s.RetryCount >= cfg.MaxRetries {
		s.Fail(FailureRetryBudget, fmt.Sprintf("retry budget of %d exhausted: %s", cfg.MaxRetries, s.LastFailureDetail))
		return
	}
	s.RetryCount++
	observability.IncrementRepairAttempts()

	out, err := e.generate(ctx, gateway.Request{
		Task:          gateway.TaskRepair,
		TenantID:      s.TenantID,
		Question:      s.RawQuestion,
		SchemaContext: s.SchemaContext,
		SQL:           s.SQLText,
		FailureDetail: s.LastFailureDetail,
	})
	if err != nil {
		// The repair call itself failed. Leave sql_text empty so the next
		// validation pass records the failure and routes back here until
		// the budget runs out.
		s.SQLText = ""
		s.LastFailureDetail = fmt.Sprintf("SQL repair failed: %v", err)
		e.logger().WarnContext(ctx, "sql repair failed",
			slog.String("workflow_id", s.ID),
			slog.Int("retry_count", s.RetryCount),
			slog.Any("error", err))
		return
	}
	s.SQLText = out.Text
	s.ValidationErrors = nil
}

// runAnalyzeResults produces the narrative insight. Empty result sets get a
// deterministic message without a gateway call; gateway failures degrade to a
// deterministic row-count summary.
func (e *Engine) runAnalyzeResults(ctx context.Context, s *State) {
	if s.ExecResult == nil || s.ExecResult.RowCount == 0 {
		s.Insights = "No data matched this question."
		return
	}

	out, err := e.generate(ctx, gateway.Request{
		Task:          gateway.TaskSummarize,
		TenantID:      s.TenantID,
		Question:      s.RawQuestion,
		SQL:           s.SQLText,
		ResultSummary: renderResultSummary(s.ExecResult),
	})
	if err != nil {
		e.logger().WarnContext(ctx, "insight summarization failed, using fallback",
			slog.String("workflow_id", s.ID), slog.Any("error", err))
		s.Insights = fmt.Sprintf("The query returned %d rows across %d columns.",
			s.ExecResult.RowCount, len(s.ExecResult.Columns))
	} else {
		s.Insights = out.Text
	}

	// The investigate branch re-enters generation exactly once per run.
	if s.Intent == IntentInvestigate && !s.Investigated {
		s.FollowUp = true
		s.Investigated = true
	}
}

func renderResultSummary(result *ExecutionResult) string {
	var b strings.Builder
	b.WriteString("columns: ")
	b.WriteString(strings.Join(result.Columns, ", "))
	fmt.Fprintf(&b, "\nrow_count: %d\n", result.RowCount)
	const maxSummaryRows = 10
	for i, row := range result.Rows {
		if i >= maxSummaryRows {
			break
		}
		cells := make([]string, len(row))
		for j, cell := range row {
			cells[j] = fmt.Sprint(cell)
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteByte('\n')
	}
	return b.String()
}

// runVisualize picks a chart descriptor with a deterministic heuristic. No
// gateway call.
func (e *Engine) runVisualize(_ context.Context, s *State) {
	if s.ExecResult == nil {
		s.Viz = &VizDescriptor{Kind: VizTable}
		return
	}
	s.Viz = chooseViz(s.ExecResult)
}
