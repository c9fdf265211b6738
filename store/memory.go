package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tutorforge/tutorforge/errx"
)

const (
	memoryTTL     = 24 * time.Hour
	memoryJanitor = 1 * time.Hour
)

// Memory keeps all records in expiring caches. Abandoned sessions age out
// after a day; completed work stays retrievable within that window.
type Memory struct {
	sessions *cache.Cache
	jobs     *cache.Cache
	timings  *cache.Cache
	errors   *cache.Cache

	// mu serializes read-modify-write updates on timings and errors.
	mu sync.Mutex
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions: cache.New(memoryTTL, memoryJanitor),
		jobs:     cache.New(memoryTTL, memoryJanitor),
		timings:  cache.New(memoryTTL, memoryJanitor),
		errors:   cache.New(memoryTTL, memoryJanitor),
	}
}

func (m *Memory) PutSession(_ context.Context, rec *SessionRecord) error {
	m.sessions.Set(rec.ID, rec, cache.DefaultExpiration)
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*SessionRecord, error) {
	v, ok := m.sessions.Get(id)
	if !ok {
		return nil, errx.NotFound("session %s not found", id)
	}
	return cloneSession(v.(*SessionRecord)), nil
}

func (m *Memory) DeleteSession(_ context.Context, id string) error {
	m.sessions.Delete(id)
	m.timings.Delete(id)
	m.errors.Delete(id)
	return nil
}

func (m *Memory) ListCompleted(_ context.Context) ([]*SessionSummary, error) {
	summaries := []*SessionSummary{}
	for _, item := range m.timings.Items() {
		t := item.Object.(*Timing)
		if t.AssessmentStatus != AssessmentCompleted {
			continue
		}
		var rec *SessionRecord
		if v, ok := m.sessions.Get(t.SessionID); ok {
			rec = v.(*SessionRecord)
		}
		summaries = append(summaries, composeSummary(cloneTiming(t), rec))
	}
	sortSummariesNewest(summaries)
	return summaries, nil
}

func (m *Memory) PutJob(_ context.Context, rec *JobRecord) error {
	m.jobs.Set(rec.SessionID, rec, cache.DefaultExpiration)
	return nil
}

func (m *Memory) GetJob(_ context.Context, id string) (*JobRecord, error) {
	v, ok := m.jobs.Get(id)
	if !ok {
		return nil, errx.NotFound("no content creation job for session %s", id)
	}
	return cloneJob(v.(*JobRecord)), nil
}

func (m *Memory) InitTiming(_ context.Context, id string, start time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.timings.Get(id); ok {
		return nil
	}
	startCopy := start
	m.timings.Set(id, &Timing{
		SessionID:             id,
		AssessmentStart:       &startCopy,
		AssessmentStatus:      AssessmentStarted,
		ContentCreationStatus: JobNotStarted,
	}, cache.DefaultExpiration)
	return nil
}

// updateTiming applies fn to the session's timing row under the lock.
// Missing rows are ignored, matching conditional UPDATE semantics.
func (m *Memory) updateTiming(id string, fn func(*Timing)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.timings.Get(id)
	if !ok {
		return nil
	}
	t := cloneTiming(v.(*Timing))
	fn(t)
	m.timings.Set(id, t, cache.DefaultExpiration)
	return nil
}

func (m *Memory) MarkAssessmentInProgress(_ context.Context, id string) error {
	return m.updateTiming(id, func(t *Timing) {
		if t.AssessmentStatus == AssessmentStarted {
			t.AssessmentStatus = AssessmentInProgress
		}
	})
}

func (m *Memory) MarkAssessmentCompleted(_ context.Context, id string, finish time.Time) error {
	return m.updateTiming(id, func(t *Timing) {
		t.AssessmentStatus = AssessmentCompleted
		if t.AssessmentFinish == nil {
			finishCopy := finish
			t.AssessmentFinish = &finishCopy
		}
	})
}

func (m *Memory) MarkContentStarted(_ context.Context, id string, start time.Time) error {
	return m.updateTiming(id, func(t *Timing) {
		startCopy := start
		t.ContentCreationStatus = JobStarted
		t.ContentCreationStart = &startCopy
		t.ContentCreationFinish = nil
		t.ErrorMessage = ""
	})
}

func (m *Memory) MarkContentStatus(_ context.Context, id string, status JobStatus) error {
	return m.updateTiming(id, func(t *Timing) {
		t.ContentCreationStatus = status
	})
}

func (m *Memory) MarkContentFinished(_ context.Context, id string, finish time.Time) error {
	return m.updateTiming(id, func(t *Timing) {
		finishCopy := finish
		t.ContentCreationStatus = JobCompleted
		t.ContentCreationFinish = &finishCopy
	})
}

func (m *Memory) MarkContentError(_ context.Context, id string, msg string) error {
	return m.updateTiming(id, func(t *Timing) {
		t.ErrorMessage = truncateError(msg)
	})
}

func (m *Memory) GetTiming(_ context.Context, id string) (*Timing, error) {
	v, ok := m.timings.Get(id)
	if !ok {
		return nil, errx.NotFound("no timing data for session %s", id)
	}
	return cloneTiming(v.(*Timing)), nil
}

func (m *Memory) AppendError(_ context.Context, rec *ErrorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var log []*ErrorRecord
	if v, ok := m.errors.Get(rec.SessionID); ok {
		log = v.([]*ErrorRecord)
	}
	recCopy := *rec
	recCopy.ID = int64(len(log) + 1)
	log = append(slices.Clone(log), &recCopy)
	m.errors.Set(rec.SessionID, log, cache.DefaultExpiration)
	return nil
}

func (m *Memory) ErrorsFor(_ context.Context, id string) ([]*ErrorRecord, error) {
	v, ok := m.errors.Get(id)
	if !ok {
		return []*ErrorRecord{}, nil
	}
	log := v.([]*ErrorRecord)
	out := make([]*ErrorRecord, 0, len(log))
	for i := len(log) - 1; i >= 0; i-- {
		recCopy := *log[i]
		out = append(out, &recCopy)
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

func cloneSession(rec *SessionRecord) *SessionRecord {
	c := *rec
	c.Exchanges = slices.Clone(rec.Exchanges)
	c.Assessment = slices.Clone(rec.Assessment)
	return &c
}

func cloneJob(rec *JobRecord) *JobRecord {
	c := *rec
	c.StartedAt = cloneTime(rec.StartedAt)
	c.CompletedAt = cloneTime(rec.CompletedAt)
	return &c
}

func cloneTiming(t *Timing) *Timing {
	c := *t
	c.AssessmentStart = cloneTime(t.AssessmentStart)
	c.AssessmentFinish = cloneTime(t.AssessmentFinish)
	c.ContentCreationStart = cloneTime(t.ContentCreationStart)
	c.ContentCreationFinish = cloneTime(t.ContentCreationFinish)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
