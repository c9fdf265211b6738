// Package content tracks and drives course generation: a job per completed
// assessment, a checkpointed pipeline that turns the assessment
// conversation into a full course, and progress snapshots rebuilt from the
// checkpoint files on every poll.
package content

import (
	"time"

	"github.com/samber/lo"

	"github.com/tutorforge/tutorforge/store"
)

// ChapterProgress is one chapter's generation state.
type ChapterProgress struct {
	Title          string `json:"title"`
	HasPlan        bool   `json:"has_plan"`
	PagesCompleted int    `json:"pages_completed"`
}

// ModuleProgress is one module's generation state. The boolean fields only
// ever flip false to true within a run; PagesCompleted never decreases.
type ModuleProgress struct {
	Name       string            `json:"name"`
	Chapters   []ChapterProgress `json:"chapters"`
	HasSummary bool              `json:"has_summary"`
	HasQuiz    bool              `json:"has_quiz"`
}

// Job is a point-in-time snapshot of a content-creation job. Its JSON form
// is the progress object served to clients.
type Job struct {
	SessionID    string           `json:"-"`
	Status       store.JobStatus  `json:"status"`
	Percentage   int              `json:"percentage"`
	StartedAt    *time.Time       `json:"started_at"`
	CompletedAt  *time.Time       `json:"completed_at"`
	ErrorMessage *string          `json:"error_message"`
	Modules      []ModuleProgress `json:"modules"`
}

// Slot weights for the completion estimate. Page counts are not known until
// each chapter is planned, so every chapter is costed at a flat estimate.
const (
	moduleSlots       = 2 // summary, quiz
	chapterPlanSlots  = 1
	pageSlotsEstimate = 3
)

// Percent estimates run completion as floor(100 * completed / total) over
// fixed per-module and per-chapter slots. Completed page slots are capped
// at the estimate so chapters with more pages cannot push a module past
// 100%. The figure is approximate; 0 when no modules are known yet.
func Percent(modules []ModuleProgress) int {
	total := lo.SumBy(modules, func(m ModuleProgress) int {
		return moduleSlots + len(m.Chapters)*(chapterPlanSlots+pageSlotsEstimate)
	})
	if total == 0 {
		return 0
	}

	completed := lo.SumBy(modules, func(m ModuleProgress) int {
		n := 0
		if m.HasSummary {
			n++
		}
		if m.HasQuiz {
			n++
		}
		for _, ch := range m.Chapters {
			if ch.HasPlan {
				n += chapterPlanSlots
			}
			n += min(ch.PagesCompleted, pageSlotsEstimate)
		}
		return n
	})

	return 100 * completed / total
}
