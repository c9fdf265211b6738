package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const (
	startReply      = `{"success": true, "session_id": "s-1", "message": "started"}`
	processingReply = `{"success": true, "assessment_complete": false, "processing": true, "progress": {"total": 5, "answered": 0}, "message": "working"}`
	questionReply   = `{"success": true, "assessment_complete": false, "question": "What would you like to learn?", "formatted_question": {"question_number": 1, "question": "What would you like to learn?"}}`
	completeReply   = `{"success": true, "assessment_complete": true, "message": "done"}`
	answerReply     = `{"success": true, "message": "Answer submitted successfully", "has_next_question": false, "next_question": null}`
	resultReply     = `{"success": true, "complete": true, "assessment": {"topic": "Go", "skill_level": "Intermediate", "learning_path": "Deepen concurrency and tooling", "immediate_topics": ["concurrency"], "future_topics": []}, "raw_assessment": "raw text"}`
	pendingReply    = `{"success": true, "complete": false, "progress": {"total": 5, "answered": 5}, "message": "pending"}`
	contentAckReply = `{"success": true, "session_id": "s-1", "message": "Content creation started in background. Use the status endpoint to check progress."}`
	runningReply    = `{"success": true, "progress": {"status": "in_progress", "percentage": 40, "started_at": "2026-08-25T10:00:00Z", "completed_at": null, "error_message": null, "modules": []}}`
	doneReply       = `{"success": true, "progress": {"status": "completed", "percentage": 100, "started_at": "2026-08-25T10:00:00Z", "completed_at": "2026-08-25T10:05:00Z", "error_message": null, "modules": []}}`
	jobErrorReply   = `{"success": true, "progress": {"status": "error", "percentage": 16, "started_at": "2026-08-25T10:00:00Z", "completed_at": null, "error_message": "failed during course planning", "modules": []}}`
)

// script serves its replies in order and repeats the last one.
func script(replies ...string) http.HandlerFunc {
	var mu sync.Mutex
	next := 0
	return func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		body := replies[len(replies)-1]
		if next < len(replies) {
			body = replies[next]
			next++
		}
		mu.Unlock()
		jsonReply(w, http.StatusOK, body)
	}
}

func counted(counter *atomic.Int32, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counter.Add(1)
		h(w, r)
	}
}

// newTestPoller runs a poller against h with millisecond cadence.
func newTestPoller(t *testing.T, h http.Handler) (*Poller, <-chan Event) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	api, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p := NewPoller(api)
	p.QuestionInterval = 10 * time.Millisecond
	p.ProgressInterval = 10 * time.Millisecond
	p.MinSpacing = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go p.Run(ctx)
	return p, p.Events()
}

// awaitPhase drains events until the wanted phase shows up. An unexpected
// halt fails the test immediately.
func awaitPhase(t *testing.T, events <-chan Event, want Phase) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", want)
			}
			if ev.Phase == want {
				return ev
			}
			if ev.Phase == PhaseErrored {
				t.Fatalf("poller halted while waiting for %s: %v", want, ev.Err)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestPollerFullLifecycle(t *testing.T) {
	var answerCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/assessment/start", script(startReply))
	mux.HandleFunc("GET /api/assessment/question", script(processingReply, questionReply, completeReply))
	mux.HandleFunc("POST /api/assessment/answer", counted(&answerCalls, script(answerReply)))
	mux.HandleFunc("GET /api/assessment/result", script(resultReply))
	mux.HandleFunc("POST /api/content/start", script(contentAckReply))
	mux.HandleFunc("GET /api/content/status", script(runningReply, doneReply))

	p, events := newTestPoller(t, mux)

	// Commands outside their phase are dropped, not queued.
	p.SubmitAnswer("too early")
	p.StartContent()

	p.StartAssessment()
	started := awaitPhase(t, events, PhaseStarted)
	if started.SessionID != "s-1" {
		t.Fatalf("session id = %q, want s-1", started.SessionID)
	}

	// The first poll reports the interviewer still working, the second
	// surfaces the question.
	sawProgress := false
	var qev Event
	deadline := time.After(3 * time.Second)
questionLoop:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("event channel closed before the question arrived")
			}
			switch {
			case ev.Phase == PhaseErrored:
				t.Fatalf("poller halted: %v", ev.Err)
			case ev.Phase == PhaseAwaitingAnswer:
				qev = ev
				break questionLoop
			case ev.Progress != nil:
				sawProgress = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for the question")
		}
	}
	if !sawProgress {
		t.Error("no progress event surfaced while the interviewer was working")
	}
	if qev.Question == nil || qev.Question.Question != "What would you like to learn?" {
		t.Fatalf("question event = %+v", qev.Question)
	}
	var formatted map[string]any
	if err := json.Unmarshal(qev.Question.FormattedQuestion, &formatted); err != nil {
		t.Fatalf("formatted question: %v", err)
	}
	if formatted["question_number"] != float64(1) {
		t.Errorf("question_number = %v", formatted["question_number"])
	}

	p.SubmitAnswer("I want to learn Go.")
	awaitPhase(t, events, PhasePollingResult)
	rev := awaitPhase(t, events, PhaseResultReady)
	if rev.Result == nil || !rev.Result.Complete {
		t.Fatalf("result event = %+v", rev.Result)
	}
	var profile map[string]any
	if err := json.Unmarshal(rev.Result.Assessment, &profile); err != nil {
		t.Fatalf("assessment payload: %v", err)
	}
	if profile["skill_level"] != "Intermediate" {
		t.Errorf("skill_level = %v", profile["skill_level"])
	}

	p.StartContent()
	awaitPhase(t, events, PhasePollingProgress)
	dev := awaitPhase(t, events, PhaseDone)
	if dev.Job == nil || dev.Job.Status != "completed" || dev.Job.Percentage != 100 {
		t.Fatalf("done event job = %+v", dev.Job)
	}

	// The pre-start SubmitAnswer was dropped, so exactly one answer
	// reached the server.
	if got := answerCalls.Load(); got != 1 {
		t.Errorf("answer submissions = %d, want 1", got)
	}
}

func TestPollerSingleInFlightQuestion(t *testing.T) {
	var inFlight, peak, total atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/assessment/start", script(startReply))
	mux.HandleFunc("GET /api/assessment/question", func(w http.ResponseWriter, r *http.Request) {
		total.Add(1)
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		// Much longer than the poll interval, so many timer fires land
		// while this request is still out.
		time.Sleep(60 * time.Millisecond)
		inFlight.Add(-1)
		jsonReply(w, http.StatusOK, processingReply)
	})

	p, events := newTestPoller(t, mux)
	go func() {
		for range events {
		}
	}()

	p.StartAssessment()
	time.Sleep(400 * time.Millisecond)

	if got := peak.Load(); got != 1 {
		t.Errorf("peak concurrent question polls = %d, want 1", got)
	}
	if got := total.Load(); got < 3 {
		t.Errorf("question polls = %d, want at least 3", got)
	}
}

func TestPollerHaltsOnErrorThenRetryResumes(t *testing.T) {
	var questionCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/assessment/start", script(startReply))
	mux.HandleFunc("GET /api/assessment/question", func(w http.ResponseWriter, r *http.Request) {
		if questionCalls.Add(1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		jsonReply(w, http.StatusOK, questionReply)
	})

	p, events := newTestPoller(t, mux)
	p.StartAssessment()

	deadline := time.After(3 * time.Second)
	var halted Event
haltLoop:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("event channel closed before the halt")
			}
			if ev.Phase == PhaseErrored {
				halted = ev
				break haltLoop
			}
		case <-deadline:
			t.Fatal("timed out waiting for the halt")
		}
	}
	var te *TransportError
	if !errors.As(halted.Err, &te) {
		t.Fatalf("halt error is %T, want *TransportError: %v", halted.Err, halted.Err)
	}

	// Halted means halted: no further polls until Retry.
	at := questionCalls.Load()
	time.Sleep(100 * time.Millisecond)
	if got := questionCalls.Load(); got != at {
		t.Fatalf("polls continued after halt: %d, was %d", got, at)
	}

	p.Retry()
	qev := awaitPhase(t, events, PhaseAwaitingAnswer)
	if qev.Question == nil || qev.Question.Question == "" {
		t.Fatalf("question after retry = %+v", qev.Question)
	}
	if got := questionCalls.Load(); got != at+1 {
		t.Errorf("polls after retry = %d, want %d", got, at+1)
	}
}

func TestPollerResultNotReadyFallsBack(t *testing.T) {
	var resultCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/assessment/start", script(startReply))
	mux.HandleFunc("GET /api/assessment/question", script(completeReply))
	mux.HandleFunc("GET /api/assessment/result", counted(&resultCalls, script(pendingReply, resultReply)))

	p, events := newTestPoller(t, mux)
	p.StartAssessment()

	// Completion flag arrives first, the stored profile is not there yet:
	// the poller goes back to question polling instead of erroring, then
	// comes around and lands the result.
	awaitPhase(t, events, PhasePollingResult)
	awaitPhase(t, events, PhasePollingQuestion)
	rev := awaitPhase(t, events, PhaseResultReady)
	if rev.Result == nil || !rev.Result.Complete {
		t.Fatalf("result event = %+v", rev.Result)
	}
	if got := resultCalls.Load(); got != 2 {
		t.Errorf("result fetches = %d, want 2", got)
	}
}

func TestPollerContentErrorThenRetry(t *testing.T) {
	var retryCalls, statusCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/assessment/start", script(startReply))
	mux.HandleFunc("GET /api/assessment/question", script(completeReply))
	mux.HandleFunc("GET /api/assessment/result", script(resultReply))
	mux.HandleFunc("POST /api/content/start", script(contentAckReply))
	mux.HandleFunc("POST /api/content/retry", counted(&retryCalls, script(contentAckReply)))
	mux.HandleFunc("GET /api/content/status", counted(&statusCalls, script(jobErrorReply, doneReply)))

	p, events := newTestPoller(t, mux)
	p.StartAssessment()
	awaitPhase(t, events, PhaseResultReady)
	p.StartContent()

	deadline := time.After(3 * time.Second)
	var halted Event
haltLoop:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("event channel closed before the job error")
			}
			if ev.Phase == PhaseErrored {
				halted = ev
				break haltLoop
			}
		case <-deadline:
			t.Fatal("timed out waiting for the job error")
		}
	}
	if halted.Err == nil || halted.Err.Error() != "failed during course planning" {
		t.Fatalf("halt error = %v", halted.Err)
	}

	// No status polls while halted.
	at := statusCalls.Load()
	time.Sleep(100 * time.Millisecond)
	if got := statusCalls.Load(); got != at {
		t.Fatalf("status polls continued after halt: %d, was %d", got, at)
	}

	p.Retry()
	dev := awaitPhase(t, events, PhaseDone)
	if dev.Job == nil || dev.Job.Percentage != 100 {
		t.Fatalf("done event job = %+v", dev.Job)
	}
	if got := retryCalls.Load(); got != 1 {
		t.Errorf("retry endpoint calls = %d, want 1", got)
	}
}

func TestPollerContentConflictWatchesAnyway(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/assessment/start", script(startReply))
	mux.HandleFunc("GET /api/assessment/question", script(completeReply))
	mux.HandleFunc("GET /api/assessment/result", script(resultReply))
	mux.HandleFunc("POST /api/content/start", func(w http.ResponseWriter, r *http.Request) {
		jsonReply(w, http.StatusConflict, `{"error": "content creation already completed for session s-1"}`)
	})
	mux.HandleFunc("GET /api/content/status", script(doneReply))

	p, events := newTestPoller(t, mux)
	p.StartAssessment()
	awaitPhase(t, events, PhaseResultReady)

	// The job already ran. Starting again conflicts, and the poller
	// falls through to watching the finished status.
	p.StartContent()
	dev := awaitPhase(t, events, PhaseDone)
	if dev.Job == nil || dev.Job.Status != "completed" {
		t.Fatalf("done event job = %+v", dev.Job)
	}
}

func TestPollerRejectedAnswerKeepsQuestion(t *testing.T) {
	var answerCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/assessment/start", script(startReply))
	mux.HandleFunc("GET /api/assessment/question", script(questionReply))
	mux.HandleFunc("POST /api/assessment/answer", func(w http.ResponseWriter, r *http.Request) {
		if answerCalls.Add(1) == 1 {
			jsonReply(w, http.StatusBadRequest, `{"error": "Answer is required"}`)
			return
		}
		jsonReply(w, http.StatusOK, answerReply)
	})
	mux.HandleFunc("GET /api/assessment/result", script(pendingReply))

	p, events := newTestPoller(t, mux)
	p.StartAssessment()
	awaitPhase(t, events, PhaseAwaitingAnswer)

	// A rejected answer is inline feedback, not a halt: the question
	// stays up and the next submission goes through.
	p.SubmitAnswer("   ")
	deadline := time.After(3 * time.Second)
	for {
		var ev Event
		var ok bool
		select {
		case ev, ok = <-events:
			if !ok {
				t.Fatal("event channel closed before the rejection")
			}
		case <-deadline:
			t.Fatal("timed out waiting for the rejection")
		}
		if ev.Phase == PhaseErrored {
			t.Fatalf("rejected answer halted the poller: %v", ev.Err)
		}
		if ev.Phase == PhaseAwaitingAnswer && ev.Err != nil {
			if ev.Question == nil || ev.Question.Question == "" {
				t.Fatalf("rejection event lost the question: %+v", ev)
			}
			break
		}
	}

	p.SubmitAnswer("I want to learn Go.")
	awaitPhase(t, events, PhasePollingQuestion)
	if got := answerCalls.Load(); got != 2 {
		t.Errorf("answer submissions = %d, want 2", got)
	}
}
