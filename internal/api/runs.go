package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/nerrad567/macroforge-core/internal/macro"
)

// History listing bounds.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// handleListRuns returns live and recently finished runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	runs := s.engine.List()
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// handleRunHistory returns persisted runs, newest first.
//
// Query parameters:
//   - limit: maximum rows (default 50, max 500)
func (s *Server) handleRunHistory(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeNotFound(w, "run history is not enabled")
		return
	}
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}

	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		writeInternalError(w, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// handleGetRun returns one run. Live handles are consulted first, then
// history.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}

	if h, found := s.engine.Get(id); found {
		writeJSON(w, http.StatusOK, h.Status())
		return
	}
	if s.runs != nil {
		run, err := s.runs.GetRun(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, run)
			return
		}
		if !errors.Is(err, macro.ErrRunNotFound) {
			writeInternalError(w, "failed to get run")
			return
		}
	}
	writeNotFound(w, "run not found")
}

// handleCancelRun cancels a live run. Cancelling a finished run succeeds
// without effect.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}

	if err := s.controller.CancelRun(id); err != nil {
		writeDomainError(w, err, "failed to cancel run")
		return
	}
	s.logger.Info("run cancel requested via API", "run_id", id, "subject", subjectFrom(r.Context()))

	if h, found := s.engine.Get(id); found {
		writeJSON(w, http.StatusAccepted, h.Status())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"run_id": id})
}

// handlePauseRun holds a live run at its next step boundary or wait tick.
func (s *Server) handlePauseRun(w http.ResponseWriter, r *http.Request) {
	s.setRunPaused(w, r, true)
}

// handleResumeRun releases a paused run.
func (s *Server) handleResumeRun(w http.ResponseWriter, r *http.Request) {
	s.setRunPaused(w, r, false)
}

// setRunPaused answers with the run's status after the change. Pausing a
// finished run leaves it unchanged.
func (s *Server) setRunPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}

	op, apply := "resume", s.controller.ResumeRun
	if paused {
		op, apply = "pause", s.controller.PauseRun
	}
	if err := apply(id); err != nil {
		writeDomainError(w, err, "failed to "+op+" run")
		return
	}
	s.logger.Info("run "+op+" requested via API", "run_id", id, "subject", subjectFrom(r.Context()))

	h, found := s.engine.Get(id)
	if !found {
		writeNotFound(w, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, h.Status())
}

// limitParam parses the optional limit query parameter.
func limitParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > maxHistoryLimit {
		writeBadRequest(w, "limit must be between 1 and 500")
		return 0, false
	}
	return n, true
}
