package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tutorforge/tutorforge/errx"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return NewMemory()
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
		if err != nil {
			t.Fatalf("OpenSQLite: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

// runStoreSuite exercises the Store contract against one backend.
func runStoreSuite(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("session round trip", func(t *testing.T) {
		s := open(t)
		answer := "linked lists"
		rec := &SessionRecord{
			ID:      "sess1",
			Status:  AssessmentInProgress,
			Planned: 5,
			Exchanges: []Exchange{
				{ID: 1, Question: "Question 1: What do you know?", Answer: &answer, Timestamp: time.Now().UTC()},
				{ID: 2, Question: "Question 2: Go deeper.", Timestamp: time.Now().UTC()},
			},
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}
		if err := s.PutSession(ctx, rec); err != nil {
			t.Fatalf("PutSession: %v", err)
		}

		got, err := s.GetSession(ctx, "sess1")
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if got.Status != AssessmentInProgress || len(got.Exchanges) != 2 {
			t.Errorf("round trip mismatch: %+v", got)
		}
		if got.Exchanges[0].Answer == nil || *got.Exchanges[0].Answer != "linked lists" {
			t.Errorf("answer lost in round trip: %+v", got.Exchanges[0])
		}
		if got.Exchanges[1].Answer != nil {
			t.Errorf("unanswered exchange gained an answer: %+v", got.Exchanges[1])
		}
	})

	t.Run("get absent session is not found", func(t *testing.T) {
		s := open(t)
		_, err := s.GetSession(ctx, "ghost")
		if errx.KindOf(err) != errx.KindNotFound {
			t.Errorf("kind = %v, want not found", errx.KindOf(err))
		}
	})

	t.Run("delete session removes timing and errors", func(t *testing.T) {
		s := open(t)
		if err := s.PutSession(ctx, &SessionRecord{ID: "gone"}); err != nil {
			t.Fatalf("PutSession: %v", err)
		}
		if err := s.InitTiming(ctx, "gone", time.Now().UTC()); err != nil {
			t.Fatalf("InitTiming: %v", err)
		}
		if err := s.DeleteSession(ctx, "gone"); err != nil {
			t.Fatalf("DeleteSession: %v", err)
		}
		if _, err := s.GetSession(ctx, "gone"); errx.KindOf(err) != errx.KindNotFound {
			t.Errorf("session still present after delete")
		}
		if _, err := s.GetTiming(ctx, "gone"); errx.KindOf(err) != errx.KindNotFound {
			t.Errorf("timing still present after delete")
		}
	})

	t.Run("job round trip", func(t *testing.T) {
		s := open(t)
		started := time.Now().UTC()
		rec := &JobRecord{SessionID: "sess1", Status: JobInProgress, StartedAt: &started, Attempts: 1}
		if err := s.PutJob(ctx, rec); err != nil {
			t.Fatalf("PutJob: %v", err)
		}
		got, err := s.GetJob(ctx, "sess1")
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if got.Status != JobInProgress || got.StartedAt == nil || got.Attempts != 1 {
			t.Errorf("round trip mismatch: %+v", got)
		}
		if _, err := s.GetJob(ctx, "other"); errx.KindOf(err) != errx.KindNotFound {
			t.Errorf("absent job should be not found")
		}
	})

	t.Run("timing lifecycle", func(t *testing.T) {
		s := open(t)
		start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
		if err := s.InitTiming(ctx, "sess1", start); err != nil {
			t.Fatalf("InitTiming: %v", err)
		}
		// Re-init must not reset an existing row.
		if err := s.InitTiming(ctx, "sess1", start.Add(time.Hour)); err != nil {
			t.Fatalf("InitTiming again: %v", err)
		}

		tm, err := s.GetTiming(ctx, "sess1")
		if err != nil {
			t.Fatalf("GetTiming: %v", err)
		}
		if tm.AssessmentStatus != AssessmentStarted || tm.ContentCreationStatus != JobNotStarted {
			t.Errorf("fresh timing: %+v", tm)
		}
		if tm.AssessmentStart == nil || !tm.AssessmentStart.Equal(start) {
			t.Errorf("assessment start = %v, want %v", tm.AssessmentStart, start)
		}

		if err := s.MarkAssessmentInProgress(ctx, "sess1"); err != nil {
			t.Fatalf("MarkAssessmentInProgress: %v", err)
		}
		finish := start.Add(10 * time.Minute)
		if err := s.MarkAssessmentCompleted(ctx, "sess1", finish); err != nil {
			t.Fatalf("MarkAssessmentCompleted: %v", err)
		}
		// The first finish time wins.
		if err := s.MarkAssessmentCompleted(ctx, "sess1", finish.Add(time.Hour)); err != nil {
			t.Fatalf("MarkAssessmentCompleted again: %v", err)
		}

		tm, err = s.GetTiming(ctx, "sess1")
		if err != nil {
			t.Fatalf("GetTiming: %v", err)
		}
		if tm.AssessmentStatus != AssessmentCompleted {
			t.Errorf("status = %v, want completed", tm.AssessmentStatus)
		}
		if tm.AssessmentFinish == nil || !tm.AssessmentFinish.Equal(finish) {
			t.Errorf("finish = %v, want %v", tm.AssessmentFinish, finish)
		}
	})

	t.Run("in progress mark only fires from started", func(t *testing.T) {
		s := open(t)
		if err := s.InitTiming(ctx, "sess1", time.Now().UTC()); err != nil {
			t.Fatalf("InitTiming: %v", err)
		}
		if err := s.MarkAssessmentCompleted(ctx, "sess1", time.Now().UTC()); err != nil {
			t.Fatalf("MarkAssessmentCompleted: %v", err)
		}
		if err := s.MarkAssessmentInProgress(ctx, "sess1"); err != nil {
			t.Fatalf("MarkAssessmentInProgress: %v", err)
		}
		tm, _ := s.GetTiming(ctx, "sess1")
		if tm.AssessmentStatus != AssessmentCompleted {
			t.Errorf("completed session regressed to %v", tm.AssessmentStatus)
		}
	})

	t.Run("content restart clears finish and error", func(t *testing.T) {
		s := open(t)
		if err := s.InitTiming(ctx, "sess1", time.Now().UTC()); err != nil {
			t.Fatalf("InitTiming: %v", err)
		}
		if err := s.MarkContentStarted(ctx, "sess1", time.Now().UTC()); err != nil {
			t.Fatalf("MarkContentStarted: %v", err)
		}
		if err := s.MarkContentStatus(ctx, "sess1", JobError); err != nil {
			t.Fatalf("MarkContentStatus: %v", err)
		}
		if err := s.MarkContentError(ctx, "sess1", "model unavailable"); err != nil {
			t.Fatalf("MarkContentError: %v", err)
		}

		tm, _ := s.GetTiming(ctx, "sess1")
		if tm.ContentCreationStatus != JobError || tm.ErrorMessage != "model unavailable" {
			t.Fatalf("error state not recorded: %+v", tm)
		}

		if err := s.MarkContentStarted(ctx, "sess1", time.Now().UTC()); err != nil {
			t.Fatalf("MarkContentStarted retry: %v", err)
		}
		tm, _ = s.GetTiming(ctx, "sess1")
		if tm.ContentCreationStatus != JobStarted {
			t.Errorf("status after restart = %v, want started", tm.ContentCreationStatus)
		}
		if tm.ErrorMessage != "" || tm.ContentCreationFinish != nil {
			t.Errorf("restart did not clear error/finish: %+v", tm)
		}
	})

	t.Run("long content errors are truncated on the timing row", func(t *testing.T) {
		s := open(t)
		if err := s.InitTiming(ctx, "sess1", time.Now().UTC()); err != nil {
			t.Fatalf("InitTiming: %v", err)
		}
		long := strings.Repeat("x", 900)
		if err := s.MarkContentError(ctx, "sess1", long); err != nil {
			t.Fatalf("MarkContentError: %v", err)
		}
		tm, _ := s.GetTiming(ctx, "sess1")
		if len(tm.ErrorMessage) != maxStoredErrorLen {
			t.Errorf("stored error length = %d, want %d", len(tm.ErrorMessage), maxStoredErrorLen)
		}
	})

	t.Run("list completed", func(t *testing.T) {
		s := open(t)
		base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

		assessment := json.RawMessage(`{"skill_level":"beginner","topic":"Go","learning_path":"` +
			strings.Repeat("step ", 30) + `"}`)
		for i, id := range []string{"first", "second", "running"} {
			if err := s.PutSession(ctx, &SessionRecord{ID: id, Status: AssessmentCompleted, Assessment: assessment}); err != nil {
				t.Fatalf("PutSession %s: %v", id, err)
			}
			if err := s.InitTiming(ctx, id, base.Add(time.Duration(i)*time.Hour)); err != nil {
				t.Fatalf("InitTiming %s: %v", id, err)
			}
		}
		if err := s.MarkAssessmentCompleted(ctx, "first", base.Add(30*time.Minute)); err != nil {
			t.Fatalf("complete first: %v", err)
		}
		if err := s.MarkAssessmentCompleted(ctx, "second", base.Add(2*time.Hour)); err != nil {
			t.Fatalf("complete second: %v", err)
		}
		// "running" stays incomplete and must not be listed.

		summaries, err := s.ListCompleted(ctx)
		if err != nil {
			t.Fatalf("ListCompleted: %v", err)
		}
		if len(summaries) != 2 {
			t.Fatalf("listed %d sessions, want 2", len(summaries))
		}
		if summaries[0].SessionID != "second" || summaries[1].SessionID != "first" {
			t.Errorf("order = [%s %s], want [second first]",
				summaries[0].SessionID, summaries[1].SessionID)
		}

		sum := summaries[0].AssessmentSummary
		if sum == nil {
			t.Fatal("missing assessment summary")
		}
		if sum.SkillLevel != "beginner" || sum.Topic != "Go" {
			t.Errorf("summary = %+v", sum)
		}
		if !strings.HasSuffix(sum.LearningPath, "...") || len([]rune(sum.LearningPath)) != summaryLearningPathLen+3 {
			t.Errorf("learning path not truncated: %q", sum.LearningPath)
		}
	})

	t.Run("error log is newest first", func(t *testing.T) {
		s := open(t)
		for i, step := range []string{"course_plan", "chapter_plan", "pages"} {
			rec := &ErrorRecord{
				SessionID:  "sess1",
				ErrorType:  "content_creation",
				Message:    "step failed",
				Step:       step,
				RetryCount: i,
				CreatedAt:  time.Now().UTC(),
			}
			if err := s.AppendError(ctx, rec); err != nil {
				t.Fatalf("AppendError: %v", err)
			}
		}

		log, err := s.ErrorsFor(ctx, "sess1")
		if err != nil {
			t.Fatalf("ErrorsFor: %v", err)
		}
		if len(log) != 3 {
			t.Fatalf("log has %d entries, want 3", len(log))
		}
		if log[0].Step != "pages" || log[2].Step != "course_plan" {
			t.Errorf("order wrong: [%s %s %s]", log[0].Step, log[1].Step, log[2].Step)
		}

		other, err := s.ErrorsFor(ctx, "other")
		if err != nil {
			t.Fatalf("ErrorsFor other: %v", err)
		}
		if len(other) != 0 {
			t.Errorf("unrelated session has %d errors", len(other))
		}
	})
}
