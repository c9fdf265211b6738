package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/tutorforge/tutorforge/assess"
	"github.com/tutorforge/tutorforge/store"
)

// Client-facing message strings. Clients display these verbatim, so they
// are part of the API contract.
const (
	msgAssessmentStarted  = "Assessment started in background. Use the question endpoint to retrieve questions when ready."
	msgAssessmentComplete = "Assessment complete. Use the result endpoint to get assessment details."
	msgAssessmentPending  = "Assessment in progress. Please continue polling for results."
	msgAnswerSubmitted    = "Answer submitted successfully"

	errNoSession = "No active assessment session"
)

type startResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (s *Server) handleAssessmentStart(w http.ResponseWriter, r *http.Request) {
	id, err := s.assessments.Start(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	setSessionCookie(w, id)
	writeJSON(w, http.StatusOK, startResponse{
		Success:   true,
		SessionID: id,
		Message:   msgAssessmentStarted,
	})
}

type questionResponse struct {
	Success            bool             `json:"success"`
	AssessmentComplete bool             `json:"assessment_complete"`
	Question           string           `json:"question,omitempty"`
	FormattedQuestion  json.RawMessage  `json:"formatted_question,omitempty"`
	Processing         bool             `json:"processing,omitempty"`
	Progress           *assess.Progress `json:"progress,omitempty"`
	Message            string           `json:"message,omitempty"`
}

func (s *Server) handleQuestion(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if id == "" {
		writeErrorMsg(w, http.StatusBadRequest, errNoSession)
		return
	}

	view, err := s.assessments.Question(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	switch {
	case view.Complete:
		writeJSON(w, http.StatusOK, questionResponse{
			Success:            true,
			AssessmentComplete: true,
			Message:            msgAssessmentComplete,
		})
	case view.Processing:
		progress := view.Progress
		writeJSON(w, http.StatusOK, questionResponse{
			Success:    true,
			Processing: true,
			Progress:   &progress,
			Message:    msgAssessmentPending,
		})
	default:
		writeJSON(w, http.StatusOK, questionResponse{
			Success:           true,
			Question:          view.Question,
			FormattedQuestion: view.Formatted,
		})
	}
}

type answerRequest struct {
	Answer string `json:"answer"`
}

type answerResponse struct {
	Success      bool    `json:"success"`
	Message      string  `json:"message"`
	HasNext      bool    `json:"has_next_question"`
	NextQuestion *string `json:"next_question"`
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if id == "" {
		writeErrorMsg(w, http.StatusBadRequest, errNoSession)
		return
	}

	// An absent body counts as an empty answer, which the service rejects
	// with its own message.
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeErrorMsg(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	view, err := s.assessments.Answer(r.Context(), id, req.Answer)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var next *string
	if view.HasNext {
		next = &view.Next
	}
	writeJSON(w, http.StatusOK, answerResponse{
		Success:      true,
		Message:      msgAnswerSubmitted,
		HasNext:      view.HasNext,
		NextQuestion: next,
	})
}

type resultResponse struct {
	Success    bool             `json:"success"`
	Complete   bool             `json:"complete"`
	Assessment json.RawMessage  `json:"assessment,omitempty"`
	Raw        string           `json:"raw_assessment,omitempty"`
	Progress   *assess.Progress `json:"progress,omitempty"`
	Message    string           `json:"message,omitempty"`
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if id == "" {
		writeErrorMsg(w, http.StatusBadRequest, errNoSession)
		return
	}

	view, err := s.assessments.Result(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if view.Complete {
		writeJSON(w, http.StatusOK, resultResponse{
			Success:    true,
			Complete:   true,
			Assessment: view.Assessment,
			Raw:        view.Raw,
		})
		return
	}
	progress := view.Progress
	writeJSON(w, http.StatusOK, resultResponse{
		Success:  true,
		Progress: &progress,
		Message:  msgAssessmentPending,
	})
}

type historyResponse struct {
	Success      bool                  `json:"success"`
	History      []store.Exchange      `json:"history"`
	Conversation *assess.TranscriptDoc `json:"conversation"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if id == "" {
		writeErrorMsg(w, http.StatusBadRequest, errNoSession)
		return
	}

	view, err := s.assessments.History(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{
		Success:      true,
		History:      view.Exchanges,
		Conversation: view.Conversation,
	})
}

type timingResponse struct {
	Success bool          `json:"success"`
	Timing  *store.Timing `json:"timing"`
}

func (s *Server) handleTiming(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if id == "" {
		writeErrorMsg(w, http.StatusBadRequest, errNoSession)
		return
	}

	timing, err := s.assessments.Timing(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, timingResponse{Success: true, Timing: timing})
}

type sessionsResponse struct {
	Success  bool                    `json:"success"`
	Sessions []*store.SessionSummary `json:"sessions"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.assessments.Sessions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*store.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Success: true, Sessions: list})
}
