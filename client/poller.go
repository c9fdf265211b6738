package client

import (
	"context"
	"time"

	"github.com/tutorforge/tutorforge/errx"
)

// Phase is where the polling controller sits in the session lifecycle.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseStarted         Phase = "started"
	PhasePollingQuestion Phase = "polling_question"
	PhaseAwaitingAnswer  Phase = "awaiting_answer"
	PhasePollingResult   Phase = "polling_result"
	PhaseResultReady     Phase = "result_ready"
	PhasePollingProgress Phase = "polling_progress"
	PhaseDone            Phase = "done"
	PhaseErrored         Phase = "errored"
)

// Event is one observable step of the lifecycle. Exactly the fields relevant
// to the phase are set: Question while awaiting an answer, Result when the
// profile lands, Job for content progress, Err when the poller halts.
type Event struct {
	Phase     Phase
	SessionID string
	Question  *QuestionPoll
	Progress  *Progress
	Result    *ResultPoll
	Job       *JobProgress
	Err       error
}

// opClass partitions requests so at most one of each kind is ever in
// flight. A timer firing while the previous request of the same class is
// still out produces no second request.
type opClass int

const (
	opStart opClass = iota
	opQuestion
	opAnswer
	opResult
	opContent
	opProgress
)

// Poller drives one session end to end: start the assessment, poll for
// questions, pause while the learner types, fetch the result, then watch
// course generation. All state lives in the Run goroutine; the exported
// methods only enqueue commands, so they are safe from any goroutine.
//
// Any transport or server failure halts polling and surfaces the error in
// an Event. Polling stays halted until Retry is called. The poller never
// retries silently.
type Poller struct {
	// QuestionInterval paces question polls, MinSpacing is the floor
	// between consecutive requests of one class, ProgressInterval paces
	// content-status polls.
	QuestionInterval time.Duration
	ProgressInterval time.Duration
	MinSpacing       time.Duration

	api         *Client
	events      chan Event
	cmds        chan func()
	completions chan func()

	// Everything below is owned by the Run goroutine.
	ctx        context.Context
	phase      Phase
	sessionID  string
	question   *QuestionPoll
	lastErr    error
	retry      func()
	nextPollAt time.Time
	inFlight   map[opClass]bool
	lastIssue  map[opClass]time.Time
}

// NewPoller wraps api with the default cadence: questions every 2s with a
// 1s spacing floor, content progress every 5s.
func NewPoller(api *Client) *Poller {
	return &Poller{
		QuestionInterval: 2 * time.Second,
		ProgressInterval: 5 * time.Second,
		MinSpacing:       time.Second,
		api:              api,
		events:           make(chan Event, 32),
		cmds:             make(chan func(), 16),
		completions:      make(chan func(), 16),
		phase:            PhaseIdle,
		inFlight:         make(map[opClass]bool),
		lastIssue:        make(map[opClass]time.Time),
	}
}

// Events delivers lifecycle events. The channel closes when Run returns.
// Consumers must drain it or the poller stalls.
func (p *Poller) Events() <-chan Event { return p.events }

// StartAssessment begins a new session. Ignored unless the poller is idle.
func (p *Poller) StartAssessment() { p.enqueue(p.startAssessment) }

// SubmitAnswer sends the learner's answer for the surfaced question.
// Ignored unless a question is awaiting an answer.
func (p *Poller) SubmitAnswer(answer string) {
	p.enqueue(func() { p.submitAnswer(answer) })
}

// StartContent kicks off course generation once the result is in.
func (p *Poller) StartContent() { p.enqueue(p.startContent) }

// Retry resumes after a halt, re-running whatever failed. Ignored unless
// the poller is halted.
func (p *Poller) Retry() { p.enqueue(p.retryLast) }

func (p *Poller) enqueue(cmd func()) { p.cmds <- cmd }

// Run owns the lifecycle until ctx is canceled. Requests run in their own
// goroutines so a slow response never blocks the loop, but their results
// are applied here, one at a time.
func (p *Poller) Run(ctx context.Context) {
	p.ctx = ctx
	defer close(p.events)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		p.rearm(timer)
		select {
		case <-ctx.Done():
			return
		case cmd := <-p.cmds:
			cmd()
		case apply := <-p.completions:
			apply()
		case <-timer.C:
			p.tick()
		}
	}
}

func (p *Poller) rearm(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	d := time.Hour // parked: only commands and completions move the state
	if !p.nextPollAt.IsZero() {
		if until := time.Until(p.nextPollAt); until < d {
			d = until
		}
		if d < 0 {
			d = 0
		}
	}
	t.Reset(d)
}

func (p *Poller) tick() {
	if p.nextPollAt.IsZero() || time.Now().Before(p.nextPollAt) {
		return
	}
	switch p.phase {
	case PhasePollingQuestion:
		p.pollQuestion()
	case PhasePollingResult:
		p.fetchResult()
	case PhasePollingProgress:
		p.pollProgress()
	}
}

// issue starts a request of the given class unless one is already in
// flight or the spacing floor has not passed. The guard clears when the
// response is applied, whether or not it is still relevant.
func (p *Poller) issue(class opClass, spaced bool, call func(context.Context) func()) bool {
	if p.inFlight[class] {
		return false
	}
	if spaced && p.MinSpacing > 0 && time.Since(p.lastIssue[class]) < p.MinSpacing {
		return false
	}
	p.inFlight[class] = true
	p.lastIssue[class] = time.Now()
	go func() {
		apply := call(p.ctx)
		select {
		case p.completions <- func() {
			p.inFlight[class] = false
			apply()
		}:
		case <-p.ctx.Done():
		}
	}()
	return true
}

func (p *Poller) emit(ev Event) {
	ev.SessionID = p.sessionID
	select {
	case p.events <- ev:
	case <-p.ctx.Done():
	}
}

// fail halts all polling, surfaces err, and arms Retry with resume.
func (p *Poller) fail(err error, resume func()) {
	p.phase = PhaseErrored
	p.nextPollAt = time.Time{}
	p.lastErr = err
	p.retry = resume
	p.emit(Event{Phase: PhaseErrored, Err: err})
}

func (p *Poller) retryLast() {
	if p.phase != PhaseErrored || p.retry == nil {
		return
	}
	resume := p.retry
	p.retry = nil
	p.lastErr = nil
	resume()
}

func (p *Poller) startAssessment() {
	if p.phase != PhaseIdle {
		return
	}
	p.issue(opStart, false, func(ctx context.Context) func() {
		ack, err := p.api.StartAssessment(ctx)
		return func() { p.handleStarted(ack, err) }
	})
}

func (p *Poller) handleStarted(ack *StartedAssessment, err error) {
	if p.phase != PhaseIdle {
		return
	}
	if err != nil {
		p.fail(err, func() {
			p.phase = PhaseIdle
			p.startAssessment()
		})
		return
	}
	p.sessionID = ack.SessionID
	p.emit(Event{Phase: PhaseStarted})
	p.toQuestionPolling(0)
}

func (p *Poller) toQuestionPolling(delay time.Duration) {
	p.phase = PhasePollingQuestion
	p.nextPollAt = time.Now().Add(delay)
	p.emit(Event{Phase: PhasePollingQuestion})
}

func (p *Poller) pollQuestion() {
	issued := p.issue(opQuestion, true, func(ctx context.Context) func() {
		view, err := p.api.NextQuestion(ctx)
		return func() { p.handleQuestion(view, err) }
	})
	if issued {
		p.nextPollAt = time.Now().Add(p.QuestionInterval)
	} else {
		p.nextPollAt = time.Now().Add(p.MinSpacing)
	}
}

func (p *Poller) handleQuestion(view *QuestionPoll, err error) {
	if p.phase != PhasePollingQuestion {
		return // superseded while the poll was in flight
	}
	if err != nil {
		p.fail(err, func() { p.toQuestionPolling(0) })
		return
	}
	switch {
	case view.AssessmentComplete:
		p.toResultFetch()
	case view.Processing:
		p.emit(Event{Phase: PhasePollingQuestion, Progress: view.Progress})
	default:
		p.question = view
		p.phase = PhaseAwaitingAnswer
		p.nextPollAt = time.Time{} // no polling while the learner types
		p.emit(Event{Phase: PhaseAwaitingAnswer, Question: view})
	}
}

func (p *Poller) toResultFetch() {
	p.phase = PhasePollingResult
	// Safety net: if the fetch below is swallowed by a guard, the timer
	// re-issues it.
	p.nextPollAt = time.Now().Add(p.QuestionInterval)
	p.emit(Event{Phase: PhasePollingResult})
	p.fetchResult()
}

func (p *Poller) fetchResult() {
	p.issue(opResult, false, func(ctx context.Context) func() {
		view, err := p.api.Result(ctx)
		return func() { p.handleResult(view, err) }
	})
}

func (p *Poller) handleResult(view *ResultPoll, err error) {
	if p.phase != PhasePollingResult {
		return
	}
	if err != nil {
		p.fail(err, p.toResultFetch)
		return
	}
	if !view.Complete {
		// The completion flag can race ahead of the stored profile. Not
		// an error: go back to polling and come around again.
		p.toQuestionPolling(p.MinSpacing)
		return
	}
	p.phase = PhaseResultReady
	p.nextPollAt = time.Time{}
	p.emit(Event{Phase: PhaseResultReady, Result: view})
}

func (p *Poller) submitAnswer(answer string) {
	if p.phase != PhaseAwaitingAnswer {
		return
	}
	p.issue(opAnswer, false, func(ctx context.Context) func() {
		receipt, err := p.api.SubmitAnswer(ctx, answer)
		return func() { p.handleAnswered(answer, receipt, err) }
	})
}

func (p *Poller) handleAnswered(answer string, _ *AnswerReceipt, err error) {
	if p.phase != PhaseAwaitingAnswer {
		return
	}
	if err != nil {
		if errx.IsKind(err, errx.KindInvalidInput) {
			// Rejected answer: keep the question on screen and let the
			// learner try again.
			p.emit(Event{Phase: PhaseAwaitingAnswer, Question: p.question, Err: err})
			return
		}
		p.fail(err, func() {
			p.phase = PhaseAwaitingAnswer
			p.submitAnswer(answer)
		})
		return
	}
	p.question = nil
	p.toQuestionPolling(0)
}

func (p *Poller) startContent() {
	if p.phase != PhaseResultReady {
		return
	}
	p.issue(opContent, false, func(ctx context.Context) func() {
		ack, err := p.api.StartContent(ctx)
		return func() { p.handleContentStarted(ack, err) }
	})
}

func (p *Poller) handleContentStarted(_ *ContentAck, err error) {
	if p.phase != PhaseResultReady {
		return
	}
	if err != nil {
		if errx.IsKind(err, errx.KindConflict) {
			// Already running or already finished. Watch it either way.
			p.toProgressPolling(0)
			return
		}
		p.fail(err, func() {
			p.phase = PhaseResultReady
			p.startContent()
		})
		return
	}
	p.toProgressPolling(0)
}

func (p *Poller) toProgressPolling(delay time.Duration) {
	p.phase = PhasePollingProgress
	p.nextPollAt = time.Now().Add(delay)
	p.emit(Event{Phase: PhasePollingProgress})
}

func (p *Poller) pollProgress() {
	issued := p.issue(opProgress, true, func(ctx context.Context) func() {
		job, err := p.api.ContentStatus(ctx)
		return func() { p.handleProgress(job, err) }
	})
	if issued {
		p.nextPollAt = time.Now().Add(p.ProgressInterval)
	} else {
		p.nextPollAt = time.Now().Add(p.MinSpacing)
	}
}

func (p *Poller) handleProgress(job *JobProgress, err error) {
	if p.phase != PhasePollingProgress {
		return
	}
	if err != nil {
		p.fail(err, func() { p.toProgressPolling(0) })
		return
	}
	switch job.Status {
	case "completed":
		p.phase = PhaseDone
		p.nextPollAt = time.Time{}
		p.emit(Event{Phase: PhaseDone, Job: job})
	case "error":
		msg := "content creation failed"
		if job.ErrorMessage != nil && *job.ErrorMessage != "" {
			msg = *job.ErrorMessage
		}
		p.emit(Event{Phase: PhasePollingProgress, Job: job})
		p.fail(errx.Wrap(errx.KindUnknown, msg, nil), p.retryContentJob)
	default:
		p.emit(Event{Phase: PhasePollingProgress, Job: job})
	}
}

// retryContentJob recovers from a failed generation run: tell the server
// to relaunch, then watch progress again.
func (p *Poller) retryContentJob() {
	p.phase = PhasePollingProgress
	p.nextPollAt = time.Time{} // parked until the relaunch acks
	p.issue(opContent, false, func(ctx context.Context) func() {
		ack, err := p.api.RetryContent(ctx)
		return func() { p.handleContentRetried(ack, err) }
	})
}

func (p *Poller) handleContentRetried(_ *ContentAck, err error) {
	if p.phase != PhasePollingProgress {
		return
	}
	if err != nil {
		p.fail(err, p.retryContentJob)
		return
	}
	p.toProgressPolling(0)
}
