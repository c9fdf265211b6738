package course

import (
	"fmt"
	"time"
)

// AssembleCourse merges a run's checkpoints (plan, chapter plans, pages,
// summaries, quizzes) into the final Course. Missing optional pieces
// (a summary the run never reached, say) assemble as empty rather than
// failing, so a partially-regenerated run still produces its best course.
func (s *Store) AssembleCourse(runID string, createdAt time.Time) (*Course, error) {
	var plan CoursePlan
	ok, err := s.ReadCheckpoint(runID, CoursePlanFile, &plan)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("run %s has no course plan", runID)
	}

	modules := make([]Module, 0, len(plan.Modules))
	for _, pm := range plan.Modules {
		m, err := s.assembleModule(runID, pm)
		if err != nil {
			return nil, fmt.Errorf("error assembling module %q: %w", pm.Name, err)
		}
		modules = append(modules, m)
	}

	return &Course{
		Name:        plan.Name,
		Description: plan.Description,
		Modules:     modules,
		CreatedAt:   createdAt,
		RunID:       runID,
	}, nil
}

func (s *Store) assembleModule(runID string, pm PlanModule) (Module, error) {
	m := Module{
		Name:        pm.Name,
		Description: pm.Description,
		Chapters:    make([]Chapter, 0, len(pm.Chapters)),
		Quiz:        []QuizQuestion{},
	}

	for _, pc := range pm.Chapters {
		chapter := Chapter{
			Title:       pc.Title,
			Description: pc.Description,
			Pages:       []Page{},
		}

		var chPlan ChapterPlan
		if ok, err := s.ReadCheckpoint(runID, ChapterPlanFile(pm.Name, pc.Title), &chPlan); err != nil {
			return Module{}, err
		} else if ok && chPlan.Description != "" {
			chapter.Description = chPlan.Description
		}

		count := s.CountPages(runID, pm.Name, pc.Title)
		for i := 1; i <= count; i++ {
			var page Page
			ok, err := s.ReadCheckpoint(runID, PageFile(pm.Name, pc.Title, i), &page)
			if err != nil {
				return Module{}, fmt.Errorf("error reading page %d of chapter %q: %w", i, pc.Title, err)
			}
			if ok {
				chapter.Pages = append(chapter.Pages, page)
			}
		}

		m.Chapters = append(m.Chapters, chapter)
	}

	var summary ModuleSummary
	if ok, err := s.ReadCheckpoint(runID, SummaryFile(pm.Name), &summary); err != nil {
		return Module{}, err
	} else if ok {
		m.Summary = summary.Summary
	}

	var quiz []QuizQuestion
	if ok, err := s.ReadCheckpoint(runID, QuizFile(pm.Name), &quiz); err != nil {
		return Module{}, err
	} else if ok {
		m.Quiz = quiz
	}

	return m, nil
}
