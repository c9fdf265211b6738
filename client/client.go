// Package client is the Go client for the assessment and content APIs: a
// typed HTTP wrapper plus a polling controller that mirrors the server's
// session lifecycle.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/tutorforge/tutorforge/course"
	"github.com/tutorforge/tutorforge/errx"
)

// DefaultTimeout bounds each API call. Timeouts surface as TransportError.
const DefaultTimeout = 30 * time.Second

// TransportError is a network failure, a timeout, or a response the client
// could not interpret. It is never produced by the server itself.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client talks to one server. The session travels in a cookie, so one
// Client serves one session at a time.
type Client struct {
	base string
	http *http.Client
}

// Option adjusts a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. The replacement
// should carry a cookie jar, or every call starts a fresh session.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a Client with a cookie jar and the default timeout.
func New(baseURL string, opts ...Option) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Jar: jar, Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Progress is the total/answered counter pair the server reports while the
// assessment is thinking.
type Progress struct {
	Total    int `json:"total"`
	Answered int `json:"answered"`
}

// StartedAssessment is the server's acknowledgment of a new session.
type StartedAssessment struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// StartAssessment creates a new assessment session. The session cookie is
// stored in the jar, so subsequent calls address the new session.
func (c *Client) StartAssessment(ctx context.Context) (*StartedAssessment, error) {
	var out StartedAssessment
	if err := c.doJSON(ctx, http.MethodPost, "/api/assessment/start", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QuestionPoll is one question-endpoint snapshot: exactly one of Complete,
// Processing, or a ready Question.
type QuestionPoll struct {
	Success            bool            `json:"success"`
	AssessmentComplete bool            `json:"assessment_complete"`
	Question           string          `json:"question"`
	FormattedQuestion  json.RawMessage `json:"formatted_question"`
	Processing         bool            `json:"processing"`
	Progress           *Progress       `json:"progress"`
	Message            string          `json:"message"`
}

// NextQuestion polls for the session's current face.
func (c *Client) NextQuestion(ctx context.Context) (*QuestionPoll, error) {
	var out QuestionPoll
	if err := c.doJSON(ctx, http.MethodGet, "/api/assessment/question", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnswerReceipt acknowledges a submitted answer.
type AnswerReceipt struct {
	Success      bool    `json:"success"`
	Message      string  `json:"message"`
	HasNext      bool    `json:"has_next_question"`
	NextQuestion *string `json:"next_question"`
}

// SubmitAnswer sends the learner's answer for the pending question, or the
// combined blob for a batch.
func (c *Client) SubmitAnswer(ctx context.Context, answer string) (*AnswerReceipt, error) {
	var out AnswerReceipt
	body := map[string]string{"answer": answer}
	if err := c.doJSON(ctx, http.MethodPost, "/api/assessment/answer", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResultPoll is one result-endpoint snapshot.
type ResultPoll struct {
	Success    bool            `json:"success"`
	Complete   bool            `json:"complete"`
	Assessment json.RawMessage `json:"assessment"`
	Raw        string          `json:"raw_assessment"`
	Progress   *Progress       `json:"progress"`
	Message    string          `json:"message"`
}

// Result polls for the finished skill profile.
func (c *Client) Result(ctx context.Context) (*ResultPoll, error) {
	var out ResultPoll
	if err := c.doJSON(ctx, http.MethodGet, "/api/assessment/result", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ContentAck is the server's acknowledgment of a content start or retry.
type ContentAck struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// StartContent begins course generation for the session in the cookie.
func (c *Client) StartContent(ctx context.Context) (*ContentAck, error) {
	var out ContentAck
	if err := c.doJSON(ctx, http.MethodPost, "/api/content/start", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RetryContent relaunches a failed or stuck generation job.
func (c *Client) RetryContent(ctx context.Context) (*ContentAck, error) {
	var out ContentAck
	if err := c.doJSON(ctx, http.MethodPost, "/api/content/retry", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ChapterProgress mirrors the server's per-chapter progress row.
type ChapterProgress struct {
	Title          string `json:"title"`
	HasPlan        bool   `json:"has_plan"`
	PagesCompleted int    `json:"pages_completed"`
}

// ModuleProgress mirrors the server's per-module progress row.
type ModuleProgress struct {
	Name       string            `json:"name"`
	Chapters   []ChapterProgress `json:"chapters"`
	HasSummary bool              `json:"has_summary"`
	HasQuiz    bool              `json:"has_quiz"`
}

// JobProgress is one content-status snapshot.
type JobProgress struct {
	Status       string           `json:"status"`
	Percentage   int              `json:"percentage"`
	StartedAt    *time.Time       `json:"started_at"`
	CompletedAt  *time.Time       `json:"completed_at"`
	ErrorMessage *string          `json:"error_message"`
	Modules      []ModuleProgress `json:"modules"`
}

type statusPayload struct {
	Success  bool         `json:"success"`
	Progress *JobProgress `json:"progress"`
}

// ContentStatus polls the generation job's progress.
func (c *Client) ContentStatus(ctx context.Context) (*JobProgress, error) {
	var out statusPayload
	if err := c.doJSON(ctx, http.MethodGet, "/api/content/status", nil, &out); err != nil {
		return nil, err
	}
	if out.Progress == nil {
		return nil, &TransportError{Op: "GET /api/content/status", Err: fmt.Errorf("response carried no progress")}
	}
	return out.Progress, nil
}

// Runs lists every finished course.
func (c *Client) Runs(ctx context.Context) ([]course.Course, error) {
	var out []course.Course
	if err := c.doJSON(ctx, http.MethodGet, "/data/runs", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Course fetches one finished course by run id.
func (c *Client) Course(ctx context.Context, runID string) (*course.Course, error) {
	var out course.Course
	if err := c.doJSON(ctx, http.MethodGet, "/data/runs/"+runID+"/course.json", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SessionSummary is the condensed profile in a session listing row.
type SessionSummary struct {
	SkillLevel   string `json:"skill_level"`
	Topic        string `json:"topic"`
	LearningPath string `json:"learning_path"`
}

// SessionInfo is one row of the completed-sessions listing.
type SessionInfo struct {
	SessionID             string          `json:"session_id"`
	AssessmentStart       *time.Time      `json:"assessment_start"`
	AssessmentFinish      *time.Time      `json:"assessment_finish"`
	ContentCreationStatus string          `json:"content_creation_status"`
	ContentCreationStart  *time.Time      `json:"content_creation_start"`
	ContentCreationFinish *time.Time      `json:"content_creation_finish"`
	ErrorMessage          *string         `json:"error_message"`
	Summary               *SessionSummary `json:"assessment_summary"`
}

type sessionsPayload struct {
	Success  bool          `json:"success"`
	Sessions []SessionInfo `json:"sessions"`
}

// Sessions lists completed assessment sessions.
func (c *Client) Sessions(ctx context.Context) ([]SessionInfo, error) {
	var out sessionsPayload
	if err := c.doJSON(ctx, http.MethodGet, "/api/assessment/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	op := method + " " + path

	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return apiError(op, resp.StatusCode, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &TransportError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
		}
	}
	return nil
}

// apiError rebuilds the server's error taxonomy from the status code and
// the {"error": ...} body. A non-2xx without a structured body is a
// transport failure, not a server verdict.
func apiError(op string, status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error == "" {
		return &TransportError{Op: op, Err: fmt.Errorf("server returned %d without a structured error", status)}
	}

	switch status {
	case http.StatusNotFound:
		return errx.NotFound("%s", payload.Error)
	case http.StatusBadRequest:
		return errx.InvalidInput("%s", payload.Error)
	case http.StatusConflict:
		return errx.Conflict("%s", payload.Error)
	case http.StatusBadGateway:
		return errx.UpstreamFailure(payload.Error, nil)
	case http.StatusInternalServerError:
		return errx.DataIntegrity(payload.Error, nil)
	default:
		return errx.Wrap(errx.KindUnknown, fmt.Sprintf("%s: server returned %d", op, status), nil)
	}
}
