package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/insightloop/insightloop/internal/auth"
	"github.com/insightloop/insightloop/internal/registry"
	"github.com/insightloop/insightloop/internal/runstore"
	"github.com/insightloop/insightloop/internal/workflow"
)

type askRequest struct {
	Question     string `json:"question"`
	Conversation string `json:"conversation"`
}

type askResponse struct {
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Engine == nil || deps.Registry == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "workflow dependencies are not configured", false, nil)
		return
	}

	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAsk); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))

	workflowID, err := startRun(deps, tenantID, userID, request)
	if err != nil {
		if errors.Is(err, registry.ErrCapacity) {
			writeError(r.Context(), w, http.StatusTooManyRequests, "TOO_MANY_RUNS", "too many concurrent runs, retry later", true, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "RUN_START_FAILED", "failed to start run", true, map[string]any{"details": err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, askResponse{WorkflowID: workflowID, Status: string(workflow.StatusRunning)})
}

// startRun registers the run and launches its orchestrator on a background
// context so it outlives the submitting request.
func startRun(deps Dependencies, tenantID, userID string, request askRequest) (string, error) {
	workflowID, err := newWorkflowID()
	if err != nil {
		return "", err
	}

	state := workflow.NewState(workflowID, tenantID, userID, request.Question, deps.now())
	state.Conversation = request.Conversation
	emitter := workflow.NewEmitter()
	runCtx, cancel := context.WithCancel(context.Background())

	handle, err := deps.Registry.Add(workflowID, state.Clone(), emitter, cancel)
	if err != nil {
		cancel()
		return "", err
	}

	orchestrator := &workflow.Orchestrator{
		Engine:   deps.Engine,
		Emitter:  emitter,
		Exporter: deps.Exporter,
		Observer: func(s workflow.State) {
			handle.Update(s, deps.now())
			if s.Terminal() {
				archiveRun(deps, s)
			}
		},
	}

	go func() {
		defer cancel()
		orchestrator.Run(runCtx, state)
	}()

	return workflowID, nil
}

// archiveRun persists a terminal run. Best effort: archive failures are
// logged and the in-memory run stays available until eviction.
func archiveRun(deps Dependencies, s workflow.State) {
	if deps.Runs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := deps.Runs.SaveRun(ctx, runstore.FromState(s)); err != nil && deps.Logger != nil {
		deps.Logger.Warn("run archive failed",
			"workflow_id", s.ID,
			"error", err)
	}
}

func handleAskSnapshot(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}

	workflowID := r.PathValue("id")
	handle, err := deps.Registry.Get(workflowID)
	if err == nil {
		snapshot := handle.Snapshot()
		if snapshot.TenantID != tenantID {
			writeError(r.Context(), w, http.StatusNotFound, "WORKFLOW_NOT_FOUND", "workflow was not found", false, nil)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
		return
	}

	// Evicted from the registry; fall back to the archive.
	if deps.Runs != nil {
		archived, archiveErr := deps.Runs.GetRun(r.Context(), tenantID, workflowID)
		if archiveErr == nil {
			writeJSON(w, http.StatusOK, archivedRunPayload(archived))
			return
		}
		if !errors.Is(archiveErr, runstore.ErrNotFound) {
			writeError(r.Context(), w, http.StatusInternalServerError, "RUNSTORE_ERROR", "failed to load archived run", true, map[string]any{"details": archiveErr.Error()})
			return
		}
	}
	writeError(r.Context(), w, http.StatusNotFound, "WORKFLOW_NOT_FOUND", "workflow was not found", false, nil)
}

func handleAskCancel(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}

	handle, err := deps.Registry.Get(r.PathValue("id"))
	if err != nil || handle.Snapshot().TenantID != tenantID {
		writeError(r.Context(), w, http.StatusNotFound, "WORKFLOW_NOT_FOUND", "workflow was not found", false, nil)
		return
	}
	handle.Cancel()
	writeJSON(w, http.StatusAccepted, map[string]any{"workflow_id": handle.ID, "cancelled": true})
}

func tenantFromRequest(r *http.Request) (string, error) {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		if strings.TrimSpace(identity.TenantID) != "" {
			return identity.TenantID, nil
		}
	}
	tenantID := strings.TrimSpace(r.Header.Get("X-Tenant-ID"))
	if tenantID == "" {
		return "", fmt.Errorf("tenant context is required")
	}
	return tenantID, nil
}

func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}

func newWorkflowID() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate workflow id: %w", err)
	}
	return "wf_" + hex.EncodeToString(raw), nil
}
