package content

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/tutorforge/tutorforge/course"
	"github.com/tutorforge/tutorforge/errx"
	"github.com/tutorforge/tutorforge/llm"
	"github.com/tutorforge/tutorforge/logx"
	"github.com/tutorforge/tutorforge/store"
)

// Manager owns content-creation jobs. At most one pipeline runs per session
// at any time; start is for new jobs and retry is the recovery path for
// stuck or failed ones.
type Manager struct {
	provider llm.Provider
	db       store.Store
	courses  *course.Store

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewManager wires the content pipeline to its model provider, record
// store, and checkpoint/course store.
func NewManager(provider llm.Provider, db store.Store, courses *course.Store) *Manager {
	return &Manager{
		provider: provider,
		db:       db,
		courses:  courses,
		running:  make(map[string]context.CancelFunc),
	}
}

// Start launches content creation for a completed assessment. A job already
// started or in progress makes this an idempotent no-op returning the
// current snapshot; a completed job is a conflict; an errored or absent job
// starts fresh.
func (m *Manager) Start(ctx context.Context, sessionID string) (*Job, error) {
	rec, err := m.db.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if rec.Status != store.AssessmentCompleted {
		return nil, errx.Conflict("assessment is not complete for session %s", sessionID)
	}

	m.mu.Lock()
	if _, live := m.running[sessionID]; live {
		m.mu.Unlock()
		return m.Status(ctx, sessionID)
	}

	job, err := m.db.GetJob(ctx, sessionID)
	switch {
	case err == nil && job.Status == store.JobCompleted:
		m.mu.Unlock()
		return nil, errx.Conflict("content creation already completed for session %s", sessionID)
	case err == nil && (job.Status == store.JobStarted || job.Status == store.JobInProgress):
		m.mu.Unlock()
		return m.Status(ctx, sessionID)
	case err != nil && !errx.IsKind(err, errx.KindNotFound):
		m.mu.Unlock()
		return nil, err
	}

	now := time.Now().UTC()
	fresh := &store.JobRecord{
		SessionID: sessionID,
		Status:    store.JobStarted,
		StartedAt: &now,
	}
	if job != nil {
		fresh.Attempts = job.Attempts
	}
	if err := m.db.PutJob(ctx, fresh); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if err := m.db.MarkContentStarted(ctx, sessionID, now); err != nil {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("failed to mark content started")
	}
	m.launchLocked(sessionID)
	m.mu.Unlock()

	logx.Info().Str("session_id", sessionID).Msg("content creation started")
	return m.snapshot(fresh), nil
}

// Retry relaunches the pipeline regardless of the job's current state,
// except a completed job, which it returns untouched. The previous failure
// reason is archived to the error log before it is cleared. Checkpoints
// make the new run resume where the last one stopped.
func (m *Manager) Retry(ctx context.Context, sessionID string) (*Job, error) {
	m.mu.Lock()
	job, err := m.db.GetJob(ctx, sessionID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if job.Status == store.JobCompleted {
		m.mu.Unlock()
		return m.snapshot(job), nil
	}
	if _, live := m.running[sessionID]; live {
		m.mu.Unlock()
		return m.Status(ctx, sessionID)
	}

	now := time.Now().UTC()
	job.Attempts++
	if job.ErrorMessage != "" {
		archived := &store.ErrorRecord{
			SessionID:  sessionID,
			ErrorType:  "content",
			Message:    job.ErrorMessage,
			Step:       "retry",
			RetryCount: job.Attempts,
		}
		if err := m.db.AppendError(ctx, archived); err != nil {
			logx.Error().Err(err).Str("session_id", sessionID).Msg("failed to archive error before retry")
		}
	}
	job.Status = store.JobStarted
	job.ErrorMessage = ""
	job.StartedAt = &now
	job.CompletedAt = nil
	if err := m.db.PutJob(ctx, job); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if err := m.db.MarkContentStarted(ctx, sessionID, now); err != nil {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("failed to mark content started")
	}
	m.launchLocked(sessionID)
	m.mu.Unlock()

	logx.Info().Str("session_id", sessionID).Int("attempt", job.Attempts).Msg("content creation retried")
	return m.snapshot(job), nil
}

// Status returns the job snapshot with module progress rebuilt from the
// checkpoint files. A session whose content was never started reports
// not_started from its timing row; an unknown session is NotFound.
func (m *Manager) Status(ctx context.Context, sessionID string) (*Job, error) {
	job, err := m.db.GetJob(ctx, sessionID)
	if err == nil {
		return m.snapshot(job), nil
	}
	if !errx.IsKind(err, errx.KindNotFound) {
		return nil, err
	}

	timing, terr := m.db.GetTiming(ctx, sessionID)
	if terr != nil {
		return nil, errx.NotFound("no content creation status found for session %s", sessionID)
	}
	return m.snapshot(&store.JobRecord{
		SessionID:    sessionID,
		Status:       timing.ContentCreationStatus,
		StartedAt:    timing.ContentCreationStart,
		CompletedAt:  timing.ContentCreationFinish,
		ErrorMessage: timing.ErrorMessage,
	}), nil
}

// Close cancels every running pipeline.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, cancel := range m.running {
		cancel()
		delete(m.running, id)
	}
}

// launchLocked starts the pipeline goroutine; callers hold m.mu.
func (m *Manager) launchLocked(sessionID string) {
	runCtx, cancel := context.WithCancel(context.Background())
	m.running[sessionID] = cancel
	go m.runPipeline(runCtx, sessionID)
}

func (m *Manager) runPipeline(ctx context.Context, sessionID string) {
	defer func() {
		m.mu.Lock()
		if cancel, ok := m.running[sessionID]; ok {
			cancel()
			delete(m.running, sessionID)
		}
		m.mu.Unlock()
	}()

	m.markRunning(sessionID)

	p := &pipeline{provider: m.provider, courses: m.courses, runID: sessionID}
	if err := p.run(ctx); err != nil {
		m.failJob(sessionID, err)
		return
	}
	m.completeJob(sessionID)
}

// Bookkeeping below uses a background context so a canceled run can still
// record its outcome.

func (m *Manager) markRunning(sessionID string) {
	ctx := context.Background()
	if job, err := m.db.GetJob(ctx, sessionID); err == nil {
		job.Status = store.JobInProgress
		if err := m.db.PutJob(ctx, job); err != nil {
			logx.Error().Err(err).Str("session_id", sessionID).Msg("failed to persist job record")
		}
	}
	if err := m.db.MarkContentStatus(ctx, sessionID, store.JobInProgress); err != nil {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("failed to mark content in progress")
	}
}

func (m *Manager) failJob(sessionID string, runErr error) {
	ctx := context.Background()
	msg := runErr.Error()
	attempts := 0
	if job, err := m.db.GetJob(ctx, sessionID); err == nil {
		job.Status = store.JobError
		job.ErrorMessage = msg
		attempts = job.Attempts
		if err := m.db.PutJob(ctx, job); err != nil {
			logx.Error().Err(err).Str("session_id", sessionID).Msg("failed to persist job record")
		}
	}
	if err := m.db.MarkContentStatus(ctx, sessionID, store.JobError); err != nil {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("failed to mark content error status")
	}
	if err := m.db.MarkContentError(ctx, sessionID, msg); err != nil {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("failed to store content error")
	}
	if err := m.db.AppendError(ctx, &store.ErrorRecord{
		SessionID:  sessionID,
		ErrorType:  "content",
		Message:    msg,
		Step:       failedStep(runErr),
		RetryCount: attempts,
	}); err != nil {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("failed to record content error")
	}
	logx.Error().Err(runErr).Str("session_id", sessionID).Msg("content creation failed")
}

func (m *Manager) completeJob(sessionID string) {
	ctx := context.Background()
	now := time.Now().UTC()
	if job, err := m.db.GetJob(ctx, sessionID); err == nil {
		job.Status = store.JobCompleted
		job.CompletedAt = &now
		job.ErrorMessage = ""
		if err := m.db.PutJob(ctx, job); err != nil {
			logx.Error().Err(err).Str("session_id", sessionID).Msg("failed to persist job record")
		}
	}
	if err := m.db.MarkContentFinished(ctx, sessionID, now); err != nil {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("failed to mark content finished")
	}
	logx.Info().Str("session_id", sessionID).Msg("content creation completed")
}

func (m *Manager) snapshot(job *store.JobRecord) *Job {
	modules := m.progressModules(job.SessionID)
	var errMsg *string
	if job.ErrorMessage != "" {
		msg := job.ErrorMessage
		errMsg = &msg
	}
	return &Job{
		SessionID:    job.SessionID,
		Status:       job.Status,
		Percentage:   Percent(modules),
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
		ErrorMessage: errMsg,
		Modules:      modules,
	}
}

// progressModules rebuilds per-module progress by probing the checkpoint
// files, so progress survives restarts and is always consistent with what a
// resumed run would skip.
func (m *Manager) progressModules(runID string) []ModuleProgress {
	var plan course.CoursePlan
	ok, err := m.courses.ReadCheckpoint(runID, course.CoursePlanFile, &plan)
	if err != nil || !ok {
		return []ModuleProgress{}
	}

	return lo.Map(plan.Modules, func(mod course.PlanModule, _ int) ModuleProgress {
		return ModuleProgress{
			Name:       mod.Name,
			HasSummary: m.courses.HasCheckpoint(runID, course.SummaryFile(mod.Name)),
			HasQuiz:    m.courses.HasCheckpoint(runID, course.QuizFile(mod.Name)),
			Chapters: lo.Map(mod.Chapters, func(ch course.PlanChapter, _ int) ChapterProgress {
				return ChapterProgress{
					Title:          ch.Title,
					HasPlan:        m.courses.HasCheckpoint(runID, course.ChapterPlanFile(mod.Name, ch.Title)),
					PagesCompleted: m.courses.CountPages(runID, mod.Name, ch.Title),
				}
			}),
		}
	})
}
