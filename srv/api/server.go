// Package api is the HTTP surface: the polling assessment endpoints, the
// content-creation endpoints, and the read-only course data routes.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/tutorforge/tutorforge/assess"
	"github.com/tutorforge/tutorforge/config"
	"github.com/tutorforge/tutorforge/content"
	"github.com/tutorforge/tutorforge/course"
	"github.com/tutorforge/tutorforge/logx"
)

const sessionCookie = "session_id"

// Server routes API requests to the assessment service and the content
// manager. It is an http.Handler.
type Server struct {
	router      chi.Router
	assessments *assess.Service
	jobs        *content.Manager
	courses     *course.Store
	cfg         config.Config
}

func NewServer(cfg config.Config, assessments *assess.Service, jobs *content.Manager, courses *course.Store) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		assessments: assessments,
		jobs:        jobs,
		courses:     courses,
		cfg:         cfg,
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	if s.cfg.RequestsPerMinute > 0 {
		r.Use(httprate.LimitByIP(s.cfg.RequestsPerMinute, time.Minute))
	}
	r.Use(ensureSessionCookie)

	r.Route("/api", func(r chi.Router) {
		r.Post("/assessment/start", s.handleAssessmentStart)
		r.Get("/assessment/question", s.handleQuestion)
		r.Post("/assessment/answer", s.handleAnswer)
		r.Get("/assessment/result", s.handleResult)
		r.Get("/assessment/history", s.handleHistory)
		r.Get("/assessment/sessions", s.handleSessions)
		r.Get("/session/timing", s.handleTiming)

		r.Post("/content/start", s.handleContentStart)
		r.Post("/content/retry", s.handleContentRetry)
		r.Get("/content/status", s.handleContentStatus)
	})

	r.Get("/data/runs", s.handleListRuns)
	r.Get("/data/runs/{runID}/course.json", s.handleCourse)
	r.Get("/health", s.handleHealth)

	if s.cfg.StaticDir != "" {
		fileServer := http.FileServer(http.Dir(s.cfg.StaticDir))
		r.Handle("/*", fileServer)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logx.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// corsMiddleware echoes the caller's origin because the session cookie
// travels with credentialed requests, which a wildcard origin would break.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Requested-With")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ensureSessionCookie hands first-time visitors a session cookie so the
// frontend has a stable id before the assessment starts. Starting an
// assessment replaces it with the real session id.
func ensureSessionCookie(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookie)
		if err != nil || cookie.Value == "" {
			setSessionCookie(w, uuid.New().String())
		}
		next.ServeHTTP(w, r)
	})
}

func setSessionCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   86400, // 24 hours
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// sessionID finds the caller's session: cookie first, query fallback.
func sessionID(r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("session_id")
}

// bodySessionID also accepts a session_id in the request body, the form
// non-browser clients use for the content endpoints.
func bodySessionID(r *http.Request) string {
	if id := sessionID(r); id != "" {
		return id
	}
	var body struct {
		SessionID string `json:"session_id"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	return body.SessionID
}
