package server

import (
	"net/http"
	"os"

	"github.com/vektorhq/taskd/internal/dispatcher"
)

type sandboxEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
}

// SandboxListAPI lists a directory within the work_dir sandbox, supporting
// the UI's cwd autocompletion when authoring a shell job.
func (s *Server) SandboxListAPI(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("path")

	dir, err := dispatcher.Sandbox(s.workDir, rel)
	if err != nil {
		httpResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		httpResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	result := make([]sandboxEntry, 0, len(entries))
	for _, e := range entries {
		result = append(result, sandboxEntry{Name: e.Name(), IsDir: e.IsDir()})
	}

	httpResponseJSON(w, result, http.StatusOK)
}
