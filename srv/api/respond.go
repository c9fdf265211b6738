package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tutorforge/tutorforge/errx"
	"github.com/tutorforge/tutorforge/logx"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Error().Err(err).Msg("failed to encode response")
	}
}

// errorBody is the uniform error payload: {"error": "..."}.
type errorBody struct {
	Error string `json:"error"`
}

func writeErrorMsg(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeError maps the error's kind to a status code and serves its safe
// message. The full chain goes to the log, not the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errx.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logx.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	} else {
		logx.Debug().Err(err).Str("path", r.URL.Path).Msg("request rejected")
	}
	writeErrorMsg(w, status, userMessage(err))
}

func userMessage(err error) string {
	var e *errx.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}
