package http

import (
	"encoding/json"
	"io"
	"net/http"
)

// syncRequest is the optional body of POST /sync. fast_scan defaults to true
// when the field (or the whole body) is absent.
type syncRequest struct {
	DownloadPackages bool `json:"download_packages"`
	FastScan         bool `json:"fast_scan"`
}

func (s *Server) triggerSync(w http.ResponseWriter, r *http.Request) {
	req := syncRequest{FastScan: true}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		s.writeError(w, http.StatusBadRequest, "request body must be JSON")
		return
	}

	runTime, urls, err := s.syncer.SyncRepo(r.Context(), req.DownloadPackages, req.FastScan)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to trigger sync run")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"run_time":          runTime,
		"catalogs":          urls,
		"download_packages": req.DownloadPackages,
		"fast_scan":         req.FastScan,
	})
}
