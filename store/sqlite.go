package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Pure Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"github.com/tutorforge/tutorforge/errx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	doc        TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	session_id TEXT PRIMARY KEY,
	doc        TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS session_timing (
	session_id              TEXT PRIMARY KEY,
	assessment_start        TEXT,
	assessment_finish       TEXT,
	content_creation_start  TEXT,
	content_creation_finish TEXT,
	assessment_status       TEXT NOT NULL DEFAULT 'started',
	content_creation_status TEXT NOT NULL DEFAULT 'not_started',
	error_message           TEXT
);

CREATE TABLE IF NOT EXISTS error_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id    TEXT NOT NULL,
	error_type    TEXT NOT NULL,
	error_message TEXT NOT NULL,
	error_step    TEXT NOT NULL DEFAULT '',
	retry_count   INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_error_log_session ON error_log (session_id);
`

// SQLite persists records in a single database file so sessions and jobs
// survive restarts alongside the checkpoint files.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path, applies
// pragmas, and ensures the schema exists.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("error creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) PutSession(ctx context.Context, rec *SessionRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("error encoding session record: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, doc, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		rec.ID, string(doc), dbTime(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("error storing session %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLite) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM sessions WHERE session_id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errx.NotFound("session %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("error loading session %s: %w", id, err)
	}
	var rec SessionRecord
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, fmt.Errorf("error decoding session %s: %w", id, err)
	}
	return &rec, nil
}

func (s *SQLite) DeleteSession(ctx context.Context, id string) error {
	for _, q := range []string{
		`DELETE FROM sessions WHERE session_id = ?`,
		`DELETE FROM session_timing WHERE session_id = ?`,
		`DELETE FROM error_log WHERE session_id = ?`,
	} {
		if _, err := s.db.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("error deleting session %s: %w", id, err)
		}
	}
	return nil
}

func (s *SQLite) ListCompleted(ctx context.Context) ([]*SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.session_id, t.assessment_start, t.assessment_finish,
		       t.content_creation_start, t.content_creation_finish,
		       t.assessment_status, t.content_creation_status, t.error_message,
		       s.doc
		FROM session_timing t
		LEFT JOIN sessions s ON s.session_id = t.session_id
		WHERE t.assessment_status = 'completed'`)
	if err != nil {
		return nil, fmt.Errorf("error listing completed sessions: %w", err)
	}
	defer rows.Close()

	summaries := []*SessionSummary{}
	for rows.Next() {
		var (
			t   Timing
			doc sql.NullString
		)
		if err := scanTiming(rows, &t, &doc); err != nil {
			return nil, err
		}
		var rec *SessionRecord
		if doc.Valid {
			rec = &SessionRecord{}
			if err := json.Unmarshal([]byte(doc.String), rec); err != nil {
				rec = nil
			}
		}
		summaries = append(summaries, composeSummary(&t, rec))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating completed sessions: %w", err)
	}
	sortSummariesNewest(summaries)
	return summaries, nil
}

func (s *SQLite) PutJob(ctx context.Context, rec *JobRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("error encoding job record: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (session_id, doc, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		rec.SessionID, string(doc), dbTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("error storing job for session %s: %w", rec.SessionID, err)
	}
	return nil
}

func (s *SQLite) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM jobs WHERE session_id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errx.NotFound("no content creation job for session %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("error loading job for session %s: %w", id, err)
	}
	var rec JobRecord
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, fmt.Errorf("error decoding job for session %s: %w", id, err)
	}
	return &rec, nil
}

func (s *SQLite) InitTiming(ctx context.Context, id string, start time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_timing (session_id, assessment_start, assessment_status, content_creation_status)
		VALUES (?, ?, 'started', 'not_started')
		ON CONFLICT(session_id) DO NOTHING`,
		id, dbTime(start))
	if err != nil {
		return fmt.Errorf("error initializing timing for session %s: %w", id, err)
	}
	return nil
}

func (s *SQLite) MarkAssessmentInProgress(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE session_timing SET assessment_status = 'in_progress'
		WHERE session_id = ? AND assessment_status = 'started'`, id)
	if err != nil {
		return fmt.Errorf("error updating assessment status for session %s: %w", id, err)
	}
	return nil
}

func (s *SQLite) MarkAssessmentCompleted(ctx context.Context, id string, finish time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE session_timing SET assessment_status = 'completed',
		       assessment_finish = COALESCE(assessment_finish, ?)
		WHERE session_id = ?`, dbTime(finish), id)
	if err != nil {
		return fmt.Errorf("error completing assessment for session %s: %w", id, err)
	}
	return nil
}

func (s *SQLite) MarkContentStarted(ctx context.Context, id string, start time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE session_timing SET content_creation_status = 'started',
		       content_creation_start = ?,
		       content_creation_finish = NULL,
		       error_message = NULL
		WHERE session_id = ?`, dbTime(start), id)
	if err != nil {
		return fmt.Errorf("error starting content creation for session %s: %w", id, err)
	}
	return nil
}

func (s *SQLite) MarkContentStatus(ctx context.Context, id string, status JobStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE session_timing SET content_creation_status = ?
		WHERE session_id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("error updating content status for session %s: %w", id, err)
	}
	return nil
}

func (s *SQLite) MarkContentFinished(ctx context.Context, id string, finish time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE session_timing SET content_creation_status = 'completed',
		       content_creation_finish = ?
		WHERE session_id = ?`, dbTime(finish), id)
	if err != nil {
		return fmt.Errorf("error finishing content creation for session %s: %w", id, err)
	}
	return nil
}

func (s *SQLite) MarkContentError(ctx context.Context, id string, msg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE session_timing SET error_message = ?
		WHERE session_id = ?`, truncateError(msg), id)
	if err != nil {
		return fmt.Errorf("error storing content error for session %s: %w", id, err)
	}
	return nil
}

func (s *SQLite) GetTiming(ctx context.Context, id string) (*Timing, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, assessment_start, assessment_finish,
		       content_creation_start, content_creation_finish,
		       assessment_status, content_creation_status, error_message
		FROM session_timing WHERE session_id = ?`, id)

	var t Timing
	if err := scanTiming(row, &t, nil); err != nil {
		if errx.KindOf(err) == errx.KindNotFound {
			return nil, errx.NotFound("no timing data for session %s", id)
		}
		return nil, err
	}
	return &t, nil
}

func (s *SQLite) AppendError(ctx context.Context, rec *ErrorRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO error_log (session_id, error_type, error_message, error_step, retry_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.ErrorType, rec.Message, rec.Step, rec.RetryCount, dbTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("error appending error record for session %s: %w", rec.SessionID, err)
	}
	return nil
}

func (s *SQLite) ErrorsFor(ctx context.Context, id string) ([]*ErrorRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, error_type, error_message, error_step, retry_count, created_at
		FROM error_log WHERE session_id = ?
		ORDER BY id DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("error querying error log for session %s: %w", id, err)
	}
	defer rows.Close()

	log := []*ErrorRecord{}
	for rows.Next() {
		var (
			rec     ErrorRecord
			created string
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.ErrorType, &rec.Message,
			&rec.Step, &rec.RetryCount, &created); err != nil {
			return nil, fmt.Errorf("error scanning error record: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			rec.CreatedAt = t
		}
		log = append(log, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating error log: %w", err)
	}
	return log, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTiming reads a timing row plus, when doc is non-nil, the joined
// session document column.
func scanTiming(row rowScanner, t *Timing, doc *sql.NullString) error {
	var (
		aStart, aFinish, cStart, cFinish sql.NullString
		errMsg                           sql.NullString
		aStatus, cStatus                 string
	)
	dest := []any{&t.SessionID, &aStart, &aFinish, &cStart, &cFinish, &aStatus, &cStatus, &errMsg}
	if doc != nil {
		dest = append(dest, doc)
	}
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errx.NotFound("timing row not found")
		}
		return fmt.Errorf("error scanning timing row: %w", err)
	}

	var err error
	if t.AssessmentStart, err = scanTime(aStart); err != nil {
		return err
	}
	if t.AssessmentFinish, err = scanTime(aFinish); err != nil {
		return err
	}
	if t.ContentCreationStart, err = scanTime(cStart); err != nil {
		return err
	}
	if t.ContentCreationFinish, err = scanTime(cFinish); err != nil {
		return err
	}
	t.AssessmentStatus = AssessmentStatus(aStatus)
	t.ContentCreationStatus = JobStatus(cStatus)
	if errMsg.Valid {
		t.ErrorMessage = errMsg.String
	}
	return nil
}

// dbTime formats a timestamp for storage as text.
func dbTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func scanTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, fmt.Errorf("error parsing stored timestamp %q: %w", s.String, err)
	}
	return &t, nil
}
