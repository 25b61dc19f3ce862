package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/insightloop/insightloop/internal/workflow"
)

// handleAskEvents streams a run's progress as Server-Sent Events: the full
// event history replays first, then live events until the terminal event.
// A consumer disconnect cancels the run.
func handleAskEvents(deps Dependencies, w http.ResponseWriter, r *http.Request) {
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

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(r.Context(), w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "response writer does not support streaming", false, nil)
		return
	}

	events, cancelSub := handle.Emitter.Subscribe()
	defer cancelSub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			// Consumer went away; stop the run.
			handle.Cancel()
			return
		case event, open := <-events:
			if !open {
				return
			}
			if err := writeSSE(w, event); err != nil {
				handle.Cancel()
				return
			}
			flusher.Flush()
			if event.Step == "end" {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, event workflow.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Category, payload); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}
