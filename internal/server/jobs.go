package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/vektorhq/taskd/internal/model"
)

func (s *Server) ListJobsAPI(w http.ResponseWriter, r *http.Request) {
	skip, limit := pagingParams(r)

	jobs, err := s.store.ListJobs(r.Context(), skip, limit)
	if err != nil {
		httpResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httpResponseJSON(w, jobs, http.StatusOK)
}

func (s *Server) GetJobAPI(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("*")

	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		httpResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if job == nil {
		httpResponse(w, "job not found", http.StatusNotFound)
		return
	}

	httpResponseJSON(w, job, http.StatusOK)
}

// UpsertJobAPI creates or fully replaces a JobDefinition, then asks the
// reconciler to sync the store into the live engine so the change takes
// effect no later than the next loop wake.
func (s *Server) UpsertJobAPI(w http.ResponseWriter, r *http.Request) {
	var job model.JobDefinition
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		httpResponse(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := model.ValidateJob(job); err != nil {
		httpResponse(w, "invalid job definition: "+err.Error(), http.StatusBadRequest)
		return
	}

	saved, err := s.store.UpsertJob(r.Context(), job)
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

// DeleteJobAPI removes a JobDefinition from the store and the live engine.
func (s *Server) DeleteJobAPI(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("*")

	if err := s.store.DeleteJob(r.Context(), id); err != nil {
		httpResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := s.engine.Remove(r.Context(), id); err != nil && err.Error() != "scheduler: entry not found" {
		httpResponse(w, "deleted but engine removal failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	httpResponse(w, "deleted", http.StatusOK)
}

type jobIDRequest struct {
	ID  string   `json:"id"`
	IDs []string `json:"ids"`
}

func (s *Server) PauseJobAPI(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, true)
}

func (s *Server) ResumeJobAPI(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, false)
}

func (s *Server) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	var req jobIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	var err error
	if paused {
		err = s.engine.Pause(r.Context(), req.ID)
	} else {
		err = s.engine.Resume(r.Context(), req.ID)
	}
	if err != nil {
		httpResponse(w, err.Error(), http.StatusNotFound)
		return
	}

	httpResponse(w, "ok", http.StatusOK)
}

// RunNowJobAPI forces an immediate dispatch by setting next_fire_time to
// the current instant; the next loop wake picks it up.
func (s *Server) RunNowJobAPI(w http.ResponseWriter, r *http.Request) {
	var req jobIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.engine.ModifyNextRun(r.Context(), req.ID, time.Now()); err != nil {
		httpResponse(w, err.Error(), http.StatusNotFound)
		return
	}

	httpResponse(w, "scheduled", http.StatusOK)
}

func (s *Server) BulkPauseJobsAPI(w http.ResponseWriter, r *http.Request) {
	s.bulkSetPaused(w, r, true)
}

func (s *Server) BulkResumeJobsAPI(w http.ResponseWriter, r *http.Request) {
	s.bulkSetPaused(w, r, false)
}

func (s *Server) bulkSetPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	var req jobIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	var failures []string
	for _, id := range req.IDs {
		var err error
		if paused {
			err = s.engine.Pause(r.Context(), id)
		} else {
			err = s.engine.Resume(r.Context(), id)
		}
		if err != nil {
			failures = append(failures, id)
		}
	}

	if len(failures) > 0 {
		httpResponseJSON(w, map[string]any{"failed": failures}, http.StatusMultiStatus)
		return
	}

	httpResponse(w, "ok", http.StatusOK)
}

func pagingParams(r *http.Request) (skip, limit int) {
	skip, _ = strconv.Atoi(r.URL.Query().Get("skip"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	return skip, limit
}
