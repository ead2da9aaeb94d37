package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/macroforge-core/internal/macro"
)

// maxPathParamLen limits path parameter length.
const maxPathParamLen = 100

// handleListScripts returns every script sorted by name.
func (s *Server) handleListScripts(w http.ResponseWriter, r *http.Request) {
	scripts := s.registry.List(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"scripts": scripts, "count": len(scripts)})
}

// handleGetScript returns a script by ID or name.
func (s *Server) handleGetScript(w http.ResponseWriter, r *http.Request) {
	ref, ok := pathParam(w, r, "id")
	if !ok {
		return
	}

	script, err := s.registry.Resolve(r.Context(), ref)
	if err != nil {
		writeDomainError(w, err, "failed to get script")
		return
	}
	writeJSON(w, http.StatusOK, script)
}

// handleCreateScript creates a script from a JSON or YAML body.
func (s *Server) handleCreateScript(w http.ResponseWriter, r *http.Request) {
	script, ok := decodeScript(w, r)
	if !ok {
		return
	}

	if err := s.registry.Create(r.Context(), script); err != nil {
		writeDomainError(w, err, "failed to create script")
		return
	}
	writeJSON(w, http.StatusCreated, script)
}

// handleUpdateScript replaces a script's content. The version is bumped.
func (s *Server) handleUpdateScript(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	script, ok := decodeScript(w, r)
	if !ok {
		return
	}

	existing, err := s.registry.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "failed to update script")
		return
	}
	script.ID = existing.ID
	script.Version = existing.Version
	script.CreatedAt = existing.CreatedAt

	if err := s.registry.Update(r.Context(), script); err != nil {
		writeDomainError(w, err, "failed to update script")
		return
	}
	writeJSON(w, http.StatusOK, script)
}

// handleDeleteScript removes a script.
func (s *Server) handleDeleteScript(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}

	if err := s.registry.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err, "failed to delete script")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRunScript starts a run of a stored script and returns immediately
// with the run's initial status.
func (s *Server) handleRunScript(w http.ResponseWriter, r *http.Request) {
	ref, ok := pathParam(w, r, "id")
	if !ok {
		return
	}

	script, err := s.registry.Resolve(r.Context(), ref)
	if err != nil {
		writeDomainError(w, err, "failed to resolve script")
		return
	}

	h, err := s.engine.Start(r.Context(), script)
	if err != nil {
		writeDomainError(w, err, "failed to start run")
		return
	}

	s.logger.Info("run started via API", "run_id", h.ID(), "script", script.Name, "subject", subjectFrom(r.Context()))
	writeJSON(w, http.StatusAccepted, h.Status())
}

// decodeScript reads a script body. Content-Type application/yaml (or
// x-yaml) selects the YAML document format; anything else is JSON.
func decodeScript(w http.ResponseWriter, r *http.Request) (*macro.Script, bool) {
	ct := r.Header.Get("Content-Type")
	if strings.Contains(ct, "yaml") {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeBadRequest(w, "failed to read body")
			return nil, false
		}
		script, err := macro.ParseScript(data)
		if err != nil {
			writeBadRequest(w, err.Error())
			return nil, false
		}
		return script, true
	}

	var script macro.Script
	if err := json.NewDecoder(r.Body).Decode(&script); err != nil {
		if errors.Is(err, macro.ErrInvalidScript) {
			writeBadRequest(w, err.Error())
			return nil, false
		}
		writeBadRequest(w, "invalid JSON body")
		return nil, false
	}
	return &script, true
}

// pathParam extracts a bounded, non-empty chi URL parameter.
func pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := chi.URLParam(r, name)
	if v == "" || len(v) > maxPathParamLen {
		writeBadRequest(w, "invalid "+name)
		return "", false
	}
	return v, true
}
