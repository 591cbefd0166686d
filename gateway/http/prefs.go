package http

import (
	"encoding/json"
	"net/http"

	"github.com/jacobfgrant/anejo/errors"
)

func (s *Server) listPrefs(w http.ResponseWriter, r *http.Request) {
	all, err := s.prefs.All(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read preferences")
		return
	}
	s.writeJSON(w, http.StatusOK, all)
}

func (s *Server) getPref(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("pref")

	value, err := s.prefs.Get(r.Context(), name)
	if err != nil {
		if errors.Is(err, errors.ErrPrefNotFound) {
			s.writeError(w, http.StatusNotFound, "preference not found: "+name)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to read preference")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"name": name, "value": value})
}

// setPrefRequest is the body of POST /prefs/{pref}
type setPrefRequest struct {
	Value any `json:"value"`
}

func (s *Server) setPref(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("pref")

	var req setPrefRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "request body must be JSON with a value field")
		return
	}
	if req.Value == nil {
		s.writeError(w, http.StatusBadRequest, "missing preference value")
		return
	}

	if err := s.prefs.Set(r.Context(), name, req.Value); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to store preference")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"name": name, "value": req.Value})
}

func (s *Server) deletePref(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("pref")

	if err := s.prefs.Delete(r.Context(), name); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to delete preference")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"deleted": name})
}
