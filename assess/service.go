// Package assess runs LLM-driven skill assessments: an interviewer
// goroutine per session converses with the model, questions and answers
// flow through a small state machine, and a completed interview yields a
// validated skill profile that content generation consumes.
package assess

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tutorforge/tutorforge/course"
	"github.com/tutorforge/tutorforge/errx"
	"github.com/tutorforge/tutorforge/llm"
	"github.com/tutorforge/tutorforge/logx"
	"github.com/tutorforge/tutorforge/store"
)

const (
	// plannedQuestions is the interview length the agent is briefed for;
	// progress totals never report below it.
	plannedQuestions = 5

	// generateTimeout bounds a single model call, not the whole interview,
	// which waits on the learner indefinitely.
	generateTimeout = 2 * time.Minute

	janitorInterval = 10 * time.Minute
	// completedLinger keeps finished sessions in the live map so immediate
	// result and history polls stay cheap; afterwards reads fall back to
	// the store.
	completedLinger = 30 * time.Minute
	// abandonedAfter is how long an unfinished interview may sit idle
	// before its goroutine is stopped and its records deleted.
	abandonedAfter = 24 * time.Hour
)

// Service owns all live assessment sessions.
type Service struct {
	provider llm.Provider
	db       store.Store
	courses  *course.Store

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewService wires the assessment interviewer to its model provider,
// record store, and transcript archive.
func NewService(provider llm.Provider, db store.Store, courses *course.Store) *Service {
	return &Service{
		provider: provider,
		db:       db,
		courses:  courses,
		sessions: make(map[string]*Session),
	}
}

// Start creates a session and launches its interviewer in the background.
// The first question arrives via polling, not in this response.
func (s *Service) Start(ctx context.Context) (string, error) {
	id := uuid.New().String()
	sess := newSession(id, plannedQuestions)

	if err := s.db.InitTiming(ctx, id, time.Now().UTC()); err != nil {
		return "", err
	}
	if err := s.db.PutSession(ctx, sess.record()); err != nil {
		return "", err
	}

	// The interview outlives the request that started it.
	runCtx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	go s.runInterview(runCtx, sess)

	logx.Info().Str("session_id", id).Msg("assessment session started")
	return id, nil
}

// Question polls the session for its next face: a pending question, a
// processing signal with progress counters, or completion.
func (s *Service) Question(ctx context.Context, id string) (*QuestionView, error) {
	if sess := s.live(id); sess != nil {
		return sess.NextQuestion()
	}

	rec, err := s.db.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status == store.AssessmentCompleted {
		return &QuestionView{Complete: true}, nil
	}
	return nil, errx.UpstreamFailure("assessment is no longer running; start a new assessment", nil)
}

// AnswerView is the outcome of an accepted answer. Next is empty unless a
// follow-up question is already waiting, which the sequential interviewer
// never produces immediately.
type AnswerView struct {
	HasNext bool
	Next    string
}

// Answer validates and records the learner's answer, hands it to the
// interviewer, and reports whether a next question is already available.
func (s *Service) Answer(ctx context.Context, id, answer string) (*AnswerView, error) {
	sess := s.live(id)
	if sess == nil {
		rec, err := s.db.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec.Status == store.AssessmentCompleted {
			return nil, errx.Conflict("assessment is already complete")
		}
		return nil, errx.UpstreamFailure("assessment is no longer running; start a new assessment", nil)
	}

	blob, err := sess.AcceptAnswer(answer)
	if err != nil {
		return nil, err
	}

	if err := s.db.MarkAssessmentInProgress(ctx, id); err != nil {
		logx.Error().Err(err).Str("session_id", id).Msg("failed to mark assessment in progress")
	}

	select {
	case sess.answerCh <- blob:
	case <-sess.done:
		return nil, errx.UpstreamFailure("assessment is no longer running; start a new assessment", sess.Err())
	}

	s.persist(ctx, sess)

	next, has := sess.pendingQuestion()
	return &AnswerView{HasNext: has, Next: next}, nil
}

// Result returns the stored profile once the interview completes, and a
// not-ready signal with progress counters before then.
func (s *Service) Result(ctx context.Context, id string) (*ResultView, error) {
	if sess := s.live(id); sess != nil {
		return sess.Result()
	}

	rec, err := s.db.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status == store.AssessmentCompleted {
		return &ResultView{Complete: true, Assessment: rec.Assessment, Raw: rec.RawAssessment}, nil
	}
	return nil, errx.UpstreamFailure("assessment is no longer running; start a new assessment", nil)
}

// HistoryView pairs the question/answer log with the archived conversation,
// which exists only after completion.
type HistoryView struct {
	Exchanges    []store.Exchange
	Conversation *TranscriptDoc
}

// History returns the session's full question/answer log.
func (s *Service) History(ctx context.Context, id string) (*HistoryView, error) {
	view := &HistoryView{}

	if sess := s.live(id); sess != nil {
		view.Exchanges = sess.Exchanges()
	} else {
		rec, err := s.db.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		view.Exchanges = rec.Exchanges
	}
	if view.Exchanges == nil {
		view.Exchanges = []store.Exchange{}
	}

	var doc TranscriptDoc
	if ok, err := s.courses.ReadTranscript(id, &doc); err == nil && ok {
		view.Conversation = &doc
	}
	return view, nil
}

// Timing returns the session's timing row.
func (s *Service) Timing(ctx context.Context, id string) (*store.Timing, error) {
	return s.db.GetTiming(ctx, id)
}

// Sessions lists completed assessments for the history view.
func (s *Service) Sessions(ctx context.Context) ([]*store.SessionSummary, error) {
	return s.db.ListCompleted(ctx)
}

// StartJanitor sweeps stale sessions until ctx is done.
func (s *Service) StartJanitor(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(janitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// sweep drops finished sessions from the live map after a linger window
// and abandons interviews nobody has touched for a day.
func (s *Service) sweep(ctx context.Context) {
	now := time.Now().UTC()

	s.mu.Lock()
	var finished, abandoned []*Session
	for id, sess := range s.sessions {
		idle := now.Sub(sess.Touched())
		switch {
		case (sess.Status() == StatusComplete || sess.Err() != nil) && idle > completedLinger:
			finished = append(finished, sess)
			delete(s.sessions, id)
		case idle > abandonedAfter:
			abandoned = append(abandoned, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range finished {
		sess.abandon()
		logx.Debug().Str("session_id", sess.ID).Msg("released finished session")
	}
	for _, sess := range abandoned {
		sess.abandon()
		if err := s.db.DeleteSession(ctx, sess.ID); err != nil {
			logx.Error().Err(err).Str("session_id", sess.ID).Msg("failed to delete abandoned session")
		}
		logx.Info().Str("session_id", sess.ID).Msg("abandoned idle assessment session")
	}
}

// Close stops every live interviewer.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		sess.abandon()
	}
}

func (s *Service) live(id string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

func (s *Service) persist(ctx context.Context, sess *Session) {
	if err := s.db.PutSession(ctx, sess.record()); err != nil {
		logx.Error().Err(err).Str("session_id", sess.ID).Msg("failed to persist session record")
	}
}

// runInterview is the per-session interviewer loop: generate a turn, either
// finish on the completion marker or surface the turn as a question, then
// block until the learner's answer arrives.
func (s *Service) runInterview(ctx context.Context, sess *Session) {
	defer close(sess.done)

	conversation := []llm.Message{{Role: llm.RoleUser, Content: assessmentTask}}
	sess.appendTranscript(learnerSource, assessmentTask)

	for {
		text, err := s.generateTurn(ctx, conversation)
		if err != nil {
			s.failInterview(ctx, sess, "interview", err)
			return
		}
		conversation = append(conversation, llm.Message{Role: llm.RoleAssistant, Content: text})
		sess.appendTranscript(agentSource, text)

		if strings.Contains(text, CompletionMarker) {
			s.finishInterview(ctx, sess, text)
			return
		}

		sess.pushQuestion(text, Classify(text))
		s.persist(ctx, sess)
		logx.Debug().Str("session_id", sess.ID).Int("exchange", len(conversation)/2).Msg("question issued")

		var answer string
		select {
		case answer = <-sess.answerCh:
		case <-sess.quit:
			return
		case <-ctx.Done():
			return
		}
		sess.answerConsumed()
		conversation = append(conversation, llm.Message{Role: llm.RoleUser, Content: answer})
		sess.appendTranscript(learnerSource, answer)
	}
}

func (s *Service) generateTurn(ctx context.Context, conversation []llm.Message) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	resp, err := s.provider.Generate(callCtx, llm.Request{
		System:   assessmentSystemPrompt(),
		Messages: conversation,
	})
	if err != nil {
		return "", errx.UpstreamFailure("assessment agent call failed", err)
	}
	return resp.Text(), nil
}

// finishInterview extracts and validates the profile from the completion
// turn. Storing the result and flipping to complete happen in one session
// transition, so a complete signal always has a readable result behind it.
func (s *Service) finishInterview(ctx context.Context, sess *Session, text string) {
	result, err := ExtractResult(text)
	if err != nil {
		s.failInterview(ctx, sess, "result extraction", err)
		return
	}

	sess.complete(result, text)
	if err := s.db.MarkAssessmentCompleted(ctx, sess.ID, time.Now().UTC()); err != nil {
		logx.Error().Err(err).Str("session_id", sess.ID).Msg("failed to mark assessment completed")
	}
	s.persist(ctx, sess)
	if err := s.courses.WriteTranscript(sess.ID, sess.TranscriptDoc()); err != nil {
		logx.Error().Err(err).Str("session_id", sess.ID).Msg("failed to archive conversation")
	}
	logx.Info().Str("session_id", sess.ID).Msg("assessment complete")
}

// failInterview seals the session with its terminal error and leaves an
// audit trail in the store.
func (s *Service) failInterview(ctx context.Context, sess *Session, step string, err error) {
	sess.fail(err)
	s.persist(ctx, sess)
	if dbErr := s.db.AppendError(ctx, &store.ErrorRecord{
		SessionID: sess.ID,
		ErrorType: "assessment",
		Message:   err.Error(),
		Step:      step,
	}); dbErr != nil {
		logx.Error().Err(dbErr).Str("session_id", sess.ID).Msg("failed to record assessment error")
	}
	logx.Error().Err(err).Str("session_id", sess.ID).Str("step", step).Msg("assessment interview failed")
}
