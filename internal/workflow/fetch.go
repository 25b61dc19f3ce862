package workflow

import (
	"context"
	"log/slog"
	"sync"
)

// runFetchContext gathers schema context, few-shot examples, and the user
// profile concurrently. Each lookup has its own timeout and degrades to an
// empty blob on failure; fetch-context itself never fails the run.
func (e *Engine) runFetchContext(ctx context.Context, s *State) {
	cfg := e.Config.withDefaults()

	lookup := func(name string, fn func(context.Context) (string, error), dst *string) {
		lookupCtx, cancel := context.WithTimeout(ctx, cfg.LookupTimeout)
		defer cancel()
		value, err := fn(lookupCtx)
		if err != nil {
			e.logger().WarnContext(ctx, "context lookup failed",
				slog.String("workflow_id", s.ID),
				slog.String("lookup", name),
				slog.Any("error", err))
			*dst = ""
			return
		}
		*dst = value
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		if e.Schemas == nil {
			return
		}
		lookup("schema", func(c context.Context) (string, error) {
			return e.Schemas.FetchSchema(c, s.TenantID)
		}, &s.SchemaContext)
	}()
	go func() {
		defer wg.Done()
		if e.Examples == nil {
			return
		}
		lookup("examples", func(c context.Context) (string, error) {
			return e.Examples.FetchExamples(c, s.TenantID, s.RawQuestion)
		}, &s.FewShotExamples)
	}()
	go func() {
		defer wg.Done()
		if e.Profiles == nil {
			return
		}
		lookup("profile", func(c context.Context) (string, error) {
			return e.Profiles.FetchProfile(c, s.TenantID, s.UserID)
		}, &s.UserContext)
	}()
	wg.Wait()

	s.ContextFetched = true
}
