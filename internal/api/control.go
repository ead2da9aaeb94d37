package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/macroforge-core/internal/background"
	"github.com/nerrad567/macroforge-core/internal/queue"
)

// handleListBackground returns every known background action.
func (s *Server) handleListBackground(w http.ResponseWriter, _ *http.Request) {
	actions := s.scheduler.List()
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions, "count": len(actions)})
}

// handleStartBackground starts a background action from a JSON body.
// Branch steps are rejected.
func (s *Server) handleStartBackground(w http.ResponseWriter, r *http.Request) {
	var a background.Action
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.scheduler.Start(r.Context(), a); err != nil {
		writeDomainError(w, err, "failed to start background action")
		return
	}

	st, err := s.scheduler.Get(a.Name)
	if err != nil {
		writeDomainError(w, err, "failed to start background action")
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// handleStopBackground stops one background action and waits for its loop
// to exit.
func (s *Server) handleStopBackground(w http.ResponseWriter, r *http.Request) {
	name, ok := pathParam(w, r, "name")
	if !ok {
		return
	}

	if err := s.scheduler.Stop(name); err != nil {
		writeDomainError(w, err, "failed to stop background action")
		return
	}

	st, err := s.scheduler.Get(name)
	if err != nil {
		writeDomainError(w, err, "failed to stop background action")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handlePauseBackground holds a background action between cycles or
// inside a cycle at its next step boundary.
func (s *Server) handlePauseBackground(w http.ResponseWriter, r *http.Request) {
	s.setBackgroundPaused(w, r, true)
}

// handleResumeBackground releases a paused background action.
func (s *Server) handleResumeBackground(w http.ResponseWriter, r *http.Request) {
	s.setBackgroundPaused(w, r, false)
}

func (s *Server) setBackgroundPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	name, ok := pathParam(w, r, "name")
	if !ok {
		return
	}

	op, apply := "resume", s.controller.ResumeBackground
	if paused {
		op, apply = "pause", s.controller.PauseBackground
	}
	if err := apply(name); err != nil {
		writeDomainError(w, err, "failed to "+op+" background action")
		return
	}

	st, err := s.scheduler.Get(name)
	if err != nil {
		writeDomainError(w, err, "failed to "+op+" background action")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleStartQueue starts a queue from a JSON definition.
func (s *Server) handleStartQueue(w http.ResponseWriter, r *http.Request) {
	var def queue.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	p, err := s.sequencer.Start(r.Context(), def)
	if err != nil {
		writeDomainError(w, err, "failed to start queue")
		return
	}
	s.logger.Info("queue started via API", "queue_id", p.ID, "subject", subjectFrom(r.Context()))
	writeJSON(w, http.StatusAccepted, p)
}

// handleGetQueue returns the progress of the current or most recent queue.
func (s *Server) handleGetQueue(w http.ResponseWriter, _ *http.Request) {
	p, ok := s.sequencer.Progress()
	if !ok {
		writeNotFound(w, "no queue has run")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleQueueHistory returns persisted queues, newest first.
func (s *Server) handleQueueHistory(w http.ResponseWriter, r *http.Request) {
	if s.queues == nil {
		writeNotFound(w, "queue history is not enabled")
		return
	}
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}

	list, err := s.queues.List(r.Context(), limit)
	if err != nil {
		writeInternalError(w, "failed to list queues")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queues": list, "count": len(list)})
}

// handleCancelQueue cancels the active queue.
func (s *Server) handleCancelQueue(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.CancelQueue(); err != nil {
		writeDomainError(w, err, "failed to cancel queue")
		return
	}
	s.logger.Info("queue cancel requested via API", "subject", subjectFrom(r.Context()))

	p, _ := s.sequencer.Progress()
	writeJSON(w, http.StatusAccepted, p)
}

// handleGetQueueRun returns one persisted queue.
func (s *Server) handleGetQueueRun(w http.ResponseWriter, r *http.Request) {
	if s.queues == nil {
		writeNotFound(w, "queue history is not enabled")
		return
	}
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}

	p, err := s.queues.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "failed to get queue")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
