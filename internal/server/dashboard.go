package server

import "net/http"

func (s *Server) DashboardSummaryAPI(w http.ResponseWriter, r *http.Request) {
	summary, err := s.store.DashboardSummary(r.Context())
	if err != nil {
		httpResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httpResponseJSON(w, summary, http.StatusOK)
}

// TimelineAPI assembles the 7-day timeline from the engine's live snapshot
// (future fire times) plus the store's workflow-run and log history.
func (s *Server) TimelineAPI(w http.ResponseWriter, r *http.Request) {
	entries := s.engine.Snapshot()

	points, err := s.store.Timeline(r.Context(), entries)
	if err != nil {
		httpResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httpResponseJSON(w, points, http.StatusOK)
}
