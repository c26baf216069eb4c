package http

import (
	"net/http"
)

// VersionResponse describes the running server.
type VersionResponse struct {
	Version string `json:"version"`
	RunID   string `json:"run_id"`
}

// HandleVersion responds with the server version and the id of the running
// simulation.
func HandleVersion(version, runID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, VersionResponse{
			Version: version,
			RunID:   runID,
		})
	}
}
