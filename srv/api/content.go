package api

import (
	"errors"
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tutorforge/tutorforge/content"
	"github.com/tutorforge/tutorforge/course"
)

const (
	msgContentStarted   = "Content creation started in background. Use the status endpoint to check progress."
	msgContentRestarted = "Content creation restarted. Use the status endpoint to check progress."

	errNoSessionOrID = "No active assessment session or session_id provided"
	errNoActiveOrID  = "No active session or session_id provided"
	errNoSessionID   = "No session ID provided"
)

func (s *Server) handleContentStart(w http.ResponseWriter, r *http.Request) {
	id := bodySessionID(r)
	if id == "" {
		writeErrorMsg(w, http.StatusBadRequest, errNoSessionOrID)
		return
	}

	if _, err := s.jobs.Start(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, startResponse{
		Success:   true,
		SessionID: id,
		Message:   msgContentStarted,
	})
}

type statusResponse struct {
	Success  bool         `json:"success"`
	Progress *content.Job `json:"progress"`
}

func (s *Server) handleContentStatus(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if id == "" {
		writeErrorMsg(w, http.StatusBadRequest, errNoActiveOrID)
		return
	}

	job, err := s.jobs.Status(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Success: true, Progress: job})
}

func (s *Server) handleContentRetry(w http.ResponseWriter, r *http.Request) {
	id := bodySessionID(r)
	if id == "" {
		writeErrorMsg(w, http.StatusBadRequest, errNoSessionID)
		return
	}

	if _, err := s.jobs.Retry(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, startResponse{
		Success:   true,
		SessionID: id,
		Message:   msgContentRestarted,
	})
}

// handleListRuns serves every finished course as a bare JSON array.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.courses.ListRuns()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []course.Course{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleCourse(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	c, err := s.courses.ReadCourse(runID)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeErrorMsg(w, http.StatusNotFound, "Course not found")
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
