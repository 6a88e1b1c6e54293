package server

import (
	"net/http"
)

func (s *Server) ListLogsAPI(w http.ResponseWriter, r *http.Request) {
	skip, limit := pagingParams(r)

	logs, err := s.store.ListLogs(r.Context(), skip, limit)
	if err != nil {
		httpResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httpResponseJSON(w, logs, http.StatusOK)
}

func (s *Server) ListLogsByJobAPI(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("*")
	skip, limit := pagingParams(r)

	logs, err := s.store.ListLogsByJob(r.Context(), jobID, skip, limit)
	if err != nil {
		httpResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httpResponseJSON(w, logs, http.StatusOK)
}
