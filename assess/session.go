package assess

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/tutorforge/tutorforge/errx"
	"github.com/tutorforge/tutorforge/store"
)

// Status is the assessment state machine's current position.
type Status string

const (
	// StatusAwaitingQuestion means the interviewer owes the next question.
	StatusAwaitingQuestion Status = "awaiting_question"
	// StatusQuestionPending means a question has been surfaced to the
	// learner and awaits an answer.
	StatusQuestionPending Status = "question_pending"
	// StatusAnswerSubmitted means an answer was accepted but the
	// interviewer has not consumed it yet.
	StatusAnswerSubmitted Status = "answer_submitted"
	// StatusComplete means the profile is stored; terminal.
	StatusComplete Status = "complete"
)

// TranscriptEntry is one archived conversation turn.
type TranscriptEntry struct {
	Source  string `json:"source"`
	Content string `json:"content"`
	Type    string `json:"type"`
}

// TranscriptDoc is the archived conversation file layout.
type TranscriptDoc struct {
	SessionID    string            `json:"session_id"`
	Conversation []TranscriptEntry `json:"conversation"`
}

const (
	agentSource   = "assessment_agent"
	learnerSource = "user"
	entryType     = "TextMessage"
)

// Session is one live assessment interview. All fields behind mu; the
// interviewer goroutine and request handlers synchronize exclusively
// through the methods below, which keeps operations on one session
// linearized while different sessions proceed independently.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu         sync.Mutex
	status     Status
	planned    int
	exchanges  []store.Exchange
	answers    map[int]string
	pending    *Classified
	result     json.RawMessage
	rawResult  string
	runErr     error
	transcript []TranscriptEntry
	touched    time.Time

	answerCh chan string
	quit     chan struct{}
	done     chan struct{}
	quitOnce sync.Once

	cancel func()
}

func newSession(id string, planned int) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        id,
		CreatedAt: now,
		status:    StatusAwaitingQuestion,
		planned:   planned,
		answers:   map[int]string{},
		touched:   now,
		answerCh:  make(chan string, 1),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Touched reports the last time a request or the interviewer moved this
// session; the janitor uses it to find stale sessions.
func (s *Session) Touched() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

// Progress is the answered/issued counters shown while the interviewer is
// thinking. Total never reports below the planned question count so the
// learner sees a stable denominator from the first poll.
type Progress struct {
	Total    int `json:"total"`
	Answered int `json:"answered"`
}

func (s *Session) progressLocked() Progress {
	answered := 0
	for _, e := range s.exchanges {
		if e.Answer != nil {
			answered++
		}
	}
	total := s.planned
	if len(s.exchanges) > total {
		total = len(s.exchanges)
	}
	return Progress{Total: total, Answered: answered}
}

// QuestionView is the outcome of one question poll.
type QuestionView struct {
	Complete   bool
	Processing bool
	Question   string
	Formatted  json.RawMessage
	Progress   Progress
}

// NextQuestion reports the session's current face: the pending question
// (transitioning to question_pending), a processing signal with progress
// counters, or completion. A failed interview surfaces its error instead.
func (s *Session) NextQuestion() (*QuestionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = time.Now().UTC()

	if s.status == StatusComplete {
		return &QuestionView{Complete: true}, nil
	}
	if s.runErr != nil {
		return nil, s.runErr
	}
	if s.pending != nil {
		s.status = StatusQuestionPending
		raw := s.exchanges[len(s.exchanges)-1].Question
		return &QuestionView{
			Question:  raw,
			Formatted: FirstFencedJSON(raw),
			Progress:  s.progressLocked(),
		}, nil
	}
	return &QuestionView{Processing: true, Progress: s.progressLocked()}, nil
}

// pushQuestion records an interviewer turn as the next pending question.
// An unparseable turn becomes a single unnumbered question keyed by its
// issue order.
func (s *Session) pushQuestion(raw string, c Classified) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.Kind == Unparseable {
		c = Classified{Kind: Single, Questions: []Question{{
			Number: len(s.exchanges) + 1,
			Text:   raw,
		}}}
	}
	s.exchanges = append(s.exchanges, store.Exchange{
		ID:        len(s.exchanges) + 1,
		Question:  raw,
		Timestamp: time.Now().UTC(),
	})
	s.pending = &c
	s.status = StatusAwaitingQuestion
	s.touched = time.Now().UTC()
}

// AcceptAnswer validates an answer against the pending question(s), records
// it, and returns the combined blob to hand to the interviewer. A rejected
// submission leaves the session untouched.
func (s *Session) AcceptAnswer(answer string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = time.Now().UTC()

	if strings.TrimSpace(answer) == "" {
		return "", errx.InvalidInput("Answer is required")
	}
	if s.status == StatusComplete {
		return "", errx.Conflict("assessment is already complete")
	}
	if s.runErr != nil {
		return "", s.runErr
	}
	if s.status != StatusQuestionPending || s.pending == nil {
		return "", errx.Conflict("no question is awaiting an answer")
	}

	switch s.pending.Kind {
	case Batch:
		matched, missing := matchAnswers(s.pending.Questions, answer)
		if missing != nil {
			return "", errx.Wrap(errx.KindInvalidInput, missing.Error(), missing)
		}
		for n, a := range matched {
			s.answers[n] = a
		}
	default:
		s.answers[s.pending.Questions[0].Number] = answer
	}

	blob := answer
	last := len(s.exchanges) - 1
	s.exchanges[last].Answer = &blob
	s.pending = nil
	s.status = StatusAnswerSubmitted
	return answer, nil
}

// answerConsumed is called by the interviewer once it picks the answer up.
func (s *Session) answerConsumed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusAnswerSubmitted {
		s.status = StatusAwaitingQuestion
	}
}

// pendingQuestion reports whether a question is already waiting and, if so,
// its raw text. Right after an answer is accepted this is false until the
// interviewer produces the next turn.
func (s *Session) pendingQuestion() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil || len(s.exchanges) == 0 {
		return "", false
	}
	return s.exchanges[len(s.exchanges)-1].Question, true
}

// ResultView is the outcome of one result poll.
type ResultView struct {
	Complete   bool
	Assessment json.RawMessage
	Raw        string
	Progress   Progress
}

// Result returns the stored profile, or a not-ready signal with progress
// counters while the interview is still running.
func (s *Session) Result() (*ResultView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusComplete {
		return &ResultView{Complete: true, Assessment: s.result, Raw: s.rawResult}, nil
	}
	if s.runErr != nil {
		return nil, s.runErr
	}
	return &ResultView{Progress: s.progressLocked()}, nil
}

// complete stores the validated profile exactly once and seals the session.
func (s *Session) complete(result json.RawMessage, rawText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil {
		return
	}
	s.result = result
	s.rawResult = rawText
	s.pending = nil
	s.status = StatusComplete
	s.touched = time.Now().UTC()
}

// fail records the interviewer's terminal error; the first one wins.
func (s *Session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runErr == nil {
		s.runErr = err
	}
}

// Err returns the interview failure, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runErr
}

// Status returns the machine position.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Exchanges returns a copy of the question/answer log.
func (s *Session) Exchanges() []store.Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Exchange, len(s.exchanges))
	copy(out, s.exchanges)
	return out
}

func (s *Session) appendTranscript(source, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, TranscriptEntry{
		Source:  source,
		Content: content,
		Type:    entryType,
	})
}

// TranscriptDoc snapshots the conversation in its archived layout.
func (s *Session) TranscriptDoc() *TranscriptDoc {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]TranscriptEntry, len(s.transcript))
	copy(entries, s.transcript)
	return &TranscriptDoc{SessionID: s.ID, Conversation: entries}
}

// record snapshots the session into its durable form.
func (s *Session) record() *store.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := store.AssessmentStarted
	for _, e := range s.exchanges {
		if e.Answer != nil {
			status = store.AssessmentInProgress
			break
		}
	}
	if s.status == StatusComplete {
		status = store.AssessmentCompleted
	}

	exchanges := make([]store.Exchange, len(s.exchanges))
	copy(exchanges, s.exchanges)
	return &store.SessionRecord{
		ID:            s.ID,
		Status:        status,
		Planned:       s.planned,
		Exchanges:     exchanges,
		Assessment:    s.result,
		RawAssessment: s.rawResult,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     time.Now().UTC(),
	}
}

// abandon tells the interviewer to stop waiting; safe to call repeatedly.
func (s *Session) abandon() {
	s.quitOnce.Do(func() { close(s.quit) })
	if s.cancel != nil {
		s.cancel()
	}
}
