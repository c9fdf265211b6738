// Package store persists session, job, timing, and error records behind a
// single interface with an in-memory and a SQLite implementation. Live
// session and job objects stay with their owning services; the store holds
// the durable snapshots those services write at each state transition.
package store

import (
	"context"
	"encoding/json"
	"sort"
	"time"
)

// AssessmentStatus tracks a session's interview lifecycle.
type AssessmentStatus string

const (
	AssessmentStarted    AssessmentStatus = "started"
	AssessmentInProgress AssessmentStatus = "in_progress"
	AssessmentCompleted  AssessmentStatus = "completed"
)

// JobStatus tracks a content creation job's lifecycle.
type JobStatus string

const (
	JobNotStarted JobStatus = "not_started"
	JobStarted    JobStatus = "started"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobError      JobStatus = "error"
)

// Exchange is one question/answer pair. Answer is nil until the learner
// responds, which is also how it serializes for the history endpoint.
type Exchange struct {
	ID        int       `json:"id"`
	Question  string    `json:"question"`
	Answer    *string   `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionRecord is the durable snapshot of an assessment session.
type SessionRecord struct {
	ID            string           `json:"id"`
	Status        AssessmentStatus `json:"status"`
	Planned       int              `json:"planned"`
	Exchanges     []Exchange       `json:"exchanges"`
	Assessment    json.RawMessage  `json:"assessment,omitempty"`
	RawAssessment string           `json:"raw_assessment,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// JobRecord is the durable snapshot of a content creation job. Module and
// chapter progress is not stored here; it is rebuilt from checkpoint files.
type JobRecord struct {
	SessionID    string     `json:"session_id"`
	Status       JobStatus  `json:"status"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Attempts     int        `json:"attempts"`
}

// Timing is the per-session timing row. The JSON shape matches the timing
// endpoint payload, which is why SessionID and ErrorMessage are excluded.
type Timing struct {
	SessionID             string           `json:"-"`
	AssessmentStart       *time.Time       `json:"assessment_start"`
	AssessmentFinish      *time.Time       `json:"assessment_finish"`
	ContentCreationStart  *time.Time       `json:"content_creation_start"`
	ContentCreationFinish *time.Time       `json:"content_creation_finish"`
	AssessmentStatus      AssessmentStatus `json:"assessment_status"`
	ContentCreationStatus JobStatus        `json:"content_creation_status"`
	ErrorMessage          string           `json:"-"`
}

// ErrorRecord is one audit-log entry for a failed content creation step.
type ErrorRecord struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	ErrorType  string    `json:"error_type"`
	Message    string    `json:"error_message"`
	Step       string    `json:"error_step"`
	RetryCount int       `json:"retry_count"`
	CreatedAt  time.Time `json:"timestamp"`
}

// AssessmentSummary is the condensed skill profile shown in session listings.
type AssessmentSummary struct {
	SkillLevel   string `json:"skill_level"`
	Topic        string `json:"topic"`
	LearningPath string `json:"learning_path"`
}

// SessionSummary is one row of the completed-sessions listing: timing plus
// the condensed assessment. Nullable fields serialize as null, matching the
// listing payload.
type SessionSummary struct {
	SessionID             string             `json:"session_id"`
	AssessmentStart       *time.Time         `json:"assessment_start"`
	AssessmentFinish      *time.Time         `json:"assessment_finish"`
	ContentCreationStatus JobStatus          `json:"content_creation_status"`
	ContentCreationStart  *time.Time         `json:"content_creation_start"`
	ContentCreationFinish *time.Time         `json:"content_creation_finish"`
	ErrorMessage          *string            `json:"error_message"`
	AssessmentSummary     *AssessmentSummary `json:"assessment_summary"`
}

// Store is the persistence boundary for everything that is not a checkpoint
// file. Get methods return a not-found error for absent ids. Records passed
// to Put methods are owned by the store afterwards; callers snapshot their
// live state into fresh records instead of sharing them.
type Store interface {
	PutSession(ctx context.Context, rec *SessionRecord) error
	GetSession(ctx context.Context, id string) (*SessionRecord, error)
	DeleteSession(ctx context.Context, id string) error
	// ListCompleted returns completed-assessment sessions, newest finish
	// first, each joined with its content creation status.
	ListCompleted(ctx context.Context) ([]*SessionSummary, error)

	PutJob(ctx context.Context, rec *JobRecord) error
	GetJob(ctx context.Context, id string) (*JobRecord, error)

	// InitTiming creates the timing row for a new session. It is a no-op
	// when the row already exists.
	InitTiming(ctx context.Context, id string, start time.Time) error
	// MarkAssessmentInProgress transitions started -> in_progress and
	// leaves any other state alone.
	MarkAssessmentInProgress(ctx context.Context, id string) error
	// MarkAssessmentCompleted records the finish time once; repeat calls
	// keep the first timestamp.
	MarkAssessmentCompleted(ctx context.Context, id string, finish time.Time) error
	// MarkContentStarted resets the content columns for a fresh attempt:
	// status started, start time set, finish and error cleared.
	MarkContentStarted(ctx context.Context, id string, start time.Time) error
	MarkContentStatus(ctx context.Context, id string, status JobStatus) error
	MarkContentFinished(ctx context.Context, id string, finish time.Time) error
	MarkContentError(ctx context.Context, id string, msg string) error
	GetTiming(ctx context.Context, id string) (*Timing, error)

	AppendError(ctx context.Context, rec *ErrorRecord) error
	// ErrorsFor returns the session's error audit log, newest first.
	ErrorsFor(ctx context.Context, id string) ([]*ErrorRecord, error)

	Close() error
}

// maxStoredErrorLen bounds the error text kept on the timing row; the full
// message still lands in the error log.
const maxStoredErrorLen = 500

func truncateError(msg string) string {
	if len(msg) > maxStoredErrorLen {
		return msg[:maxStoredErrorLen]
	}
	return msg
}

// summaryLearningPathLen bounds the learning path text in session listings.
const summaryLearningPathLen = 100

// summarize condenses a stored assessment document into the listing shape.
// Returns nil when the session has no parsed assessment yet.
func summarize(rec *SessionRecord) *AssessmentSummary {
	if rec == nil || len(rec.Assessment) == 0 {
		return nil
	}
	var doc struct {
		SkillLevel   string `json:"skill_level"`
		Topic        string `json:"topic"`
		LearningPath string `json:"learning_path"`
	}
	if err := json.Unmarshal(rec.Assessment, &doc); err != nil {
		return nil
	}
	if doc.SkillLevel == "" {
		doc.SkillLevel = "Unknown"
	}
	if doc.Topic == "" {
		doc.Topic = "Subject assessment"
	}
	if path := []rune(doc.LearningPath); len(path) > summaryLearningPathLen {
		doc.LearningPath = string(path[:summaryLearningPathLen]) + "..."
	}
	return &AssessmentSummary{
		SkillLevel:   doc.SkillLevel,
		Topic:        doc.Topic,
		LearningPath: doc.LearningPath,
	}
}

// composeSummary joins one timing row with its session record.
func composeSummary(t *Timing, rec *SessionRecord) *SessionSummary {
	s := &SessionSummary{
		SessionID:             t.SessionID,
		AssessmentStart:       t.AssessmentStart,
		AssessmentFinish:      t.AssessmentFinish,
		ContentCreationStatus: t.ContentCreationStatus,
		ContentCreationStart:  t.ContentCreationStart,
		ContentCreationFinish: t.ContentCreationFinish,
		AssessmentSummary:     summarize(rec),
	}
	if t.ErrorMessage != "" {
		msg := t.ErrorMessage
		s.ErrorMessage = &msg
	}
	return s
}

// sortSummariesNewest orders by assessment finish, newest first, entries
// without a finish time last.
func sortSummariesNewest(summaries []*SessionSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		a, b := summaries[i].AssessmentFinish, summaries[j].AssessmentFinish
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
}
