package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/insightloop/insightloop/internal/auth"
	"github.com/insightloop/insightloop/internal/runstore"
)

type runSummary struct {
	WorkflowID     string          `json:"workflow_id"`
	Question       string          `json:"question"`
	Intent         string          `json:"intent,omitempty"`
	SQL            string          `json:"sql,omitempty"`
	Status         string          `json:"status"`
	FailureKind    string          `json:"failure_kind,omitempty"`
	FailureMessage string          `json:"failure_message,omitempty"`
	RowCount       int             `json:"row_count"`
	RetryCount     int             `json:"retry_count"`
	Insights       string          `json:"insights,omitempty"`
	Viz            json.RawMessage `json:"viz,omitempty"`
	ArtifactKey    string          `json:"artifact_key,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
}

func handleListRuns(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Runs == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "RUNS_NOT_CONFIGURED", "run archive is not configured", false, nil)
		return
	}

	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false, nil)
			return
		}
		limit = parsed
	}

	runs, err := deps.Runs.ListRuns(r.Context(), tenantID, limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "RUNSTORE_ERROR", "failed to list runs", true, map[string]any{"details": err.Error()})
		return
	}

	summaries := make([]runSummary, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, archivedRunPayload(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": summaries})
}

// handleRunsPrune deletes archived runs older than the requested age. The
// age query parameter is a Go duration; when absent the configured retention
// age applies.
func handleRunsPrune(deps Dependencies, defaultAge time.Duration, w http.ResponseWriter, r *http.Request) {
	if deps.Runs == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "RUNS_NOT_CONFIGURED", "run archive is not configured", false, nil)
		return
	}

	if _, err := tenantFromRequest(r); err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	age := defaultAge
	if raw := r.URL.Query().Get("age"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_AGE", "age must be a positive duration", false, nil)
			return
		}
		age = parsed
	}
	if age <= 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "AGE_REQUIRED", "no retention age configured; pass ?age=", false, nil)
		return
	}

	deleted, err := deps.Runs.PruneRuns(r.Context(), deps.now().Add(-age))
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "RUNSTORE_ERROR", "failed to prune runs", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func archivedRunPayload(run runstore.Run) runSummary {
	return runSummary{
		WorkflowID:     run.WorkflowID,
		Question:       run.Question,
		Intent:         run.Intent,
		SQL:            run.SQL,
		Status:         run.Status,
		FailureKind:    run.FailureKind,
		FailureMessage: run.FailureMessage,
		RowCount:       run.RowCount,
		RetryCount:     run.RetryCount,
		Insights:       run.Insights,
		Viz:            json.RawMessage(run.VizJSON),
		ArtifactKey:    run.ArtifactKey,
		CreatedAt:      run.CreatedAt,
		FinishedAt:     run.FinishedAt,
	}
}
