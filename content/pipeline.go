package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/tutorforge/tutorforge/course"
	"github.com/tutorforge/tutorforge/llm"
	"github.com/tutorforge/tutorforge/logx"
)

// maxPlanRounds bounds the planner/reviewer loop; the latest draft is
// accepted when the reviewer never approves.
const maxPlanRounds = 3

var (
	coursePlanSchema  = llm.MustSchemaFor[course.CoursePlan]("course-plan", "Full course structure: modules and their chapters")
	chapterPlanSchema = llm.MustSchemaFor[course.ChapterPlan]("chapter-plan", "Ordered pages for one chapter")
	pageSchema        = llm.MustSchemaFor[course.Page]("course-page", "One page of teaching content")
	summarySchema     = llm.MustSchemaFor[course.ModuleSummary]("module-summary", "Summary of one module")
	quizSchema        = llm.MustSchemaFor[course.QuizDoc]("module-quiz", "Quiz questions for one module")
)

// stepError names the pipeline step that failed so the error log can record
// it. Its message keeps the "failed during <step>" form.
type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string {
	return fmt.Sprintf("failed during %s: %v", e.step, e.err)
}

func (e *stepError) Unwrap() error { return e.err }

// failedStep extracts the step name from a pipeline error.
func failedStep(err error) string {
	var se *stepError
	if errors.As(err, &se) {
		return se.step
	}
	return "content creation"
}

// pipeline is one content-creation run. Every step writes a checkpoint and
// skips itself when its checkpoint already exists, which makes a rerun after
// failure resume instead of regenerate.
type pipeline struct {
	provider llm.Provider
	courses  *course.Store
	runID    string
}

func (p *pipeline) run(ctx context.Context) error {
	conversation, err := p.loadConversation()
	if err != nil {
		return &stepError{step: "conversation load", err: err}
	}

	plan, err := p.coursePlan(ctx, conversation)
	if err != nil {
		return &stepError{step: "course planning", err: err}
	}

	for _, mod := range plan.Modules {
		for _, ch := range mod.Chapters {
			if err := ctx.Err(); err != nil {
				return err
			}
			chPlan, err := p.chapterPlan(ctx, mod, ch)
			if err != nil {
				return &stepError{step: fmt.Sprintf("chapter planning (%s / %s)", mod.Name, ch.Title), err: err}
			}
			for i, page := range chPlan.Pages {
				if err := p.pageContent(ctx, mod, ch, page, i+1); err != nil {
					return &stepError{step: fmt.Sprintf("page writing (%s / %s, page %d)", mod.Name, ch.Title, i+1), err: err}
				}
			}
		}
		if err := p.moduleSummary(ctx, mod); err != nil {
			return &stepError{step: fmt.Sprintf("module summary (%s)", mod.Name), err: err}
		}
		if err := p.moduleQuiz(ctx, mod); err != nil {
			return &stepError{step: fmt.Sprintf("quiz creation (%s)", mod.Name), err: err}
		}
	}

	if err := p.assemble(); err != nil {
		return &stepError{step: "course assembly", err: err}
	}
	return nil
}

// transcriptEntry is the slice of the archived conversation the pipeline
// cares about.
type transcriptEntry struct {
	Source  string `json:"source"`
	Content string `json:"content"`
}

// loadConversation renders the archived assessment conversation as
// "source: content" lines, the form the planner is briefed with.
func (p *pipeline) loadConversation() (string, error) {
	var doc struct {
		Conversation []transcriptEntry `json:"conversation"`
	}
	ok, err := p.courses.ReadTranscript(p.runID, &doc)
	if err != nil {
		return "", err
	}
	if !ok || len(doc.Conversation) == 0 {
		return "", fmt.Errorf("assessment conversation not found for session %s", p.runID)
	}

	lines := lo.Map(doc.Conversation, func(e transcriptEntry, _ int) string {
		return e.Source + ": " + e.Content
	})
	return strings.Join(lines, "\n"), nil
}

// coursePlan drafts the plan and loops it past the reviewer until approval
// or the round limit, then accepts the latest draft.
func (p *pipeline) coursePlan(ctx context.Context, conversation string) (*course.CoursePlan, error) {
	var plan course.CoursePlan
	if ok, err := p.courses.ReadCheckpoint(p.runID, course.CoursePlanFile, &plan); err != nil {
		return nil, err
	} else if ok {
		logx.Debug().Str("run_id", p.runID).Msg("reusing course plan checkpoint")
		return &plan, nil
	}

	messages := []llm.Message{{Role: llm.RoleUser, Content: coursePlanTask(conversation)}}
	var draft json.RawMessage
	for round := 1; round <= maxPlanRounds; round++ {
		resp, err := p.provider.Generate(ctx, llm.Request{
			System:   coursePlannerPrompt(),
			Messages: messages,
			Schema:   coursePlanSchema,
		})
		if err != nil {
			return nil, err
		}
		draft = resp.Content

		verdict, err := p.provider.Generate(ctx, llm.Request{
			System:   planReviewerPrompt(),
			Messages: []llm.Message{{Role: llm.RoleUser, Content: planReviewTask(string(draft))}},
		})
		if err != nil {
			return nil, err
		}
		if strings.Contains(verdict.Text(), planApproval) {
			logx.Debug().Str("run_id", p.runID).Int("round", round).Msg("course plan approved")
			break
		}
		logx.Debug().Str("run_id", p.runID).Int("round", round).Msg("course plan sent back for revision")
		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: string(draft)},
			llm.Message{Role: llm.RoleUser, Content: planRevisionTask(verdict.Text())},
		)
	}

	if err := json.Unmarshal(draft, &plan); err != nil {
		return nil, fmt.Errorf("decoding course plan: %w", err)
	}
	if len(plan.Modules) == 0 {
		return nil, errors.New("course plan has no modules")
	}
	if err := p.courses.WriteCheckpoint(p.runID, course.CoursePlanFile, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (p *pipeline) chapterPlan(ctx context.Context, mod course.PlanModule, ch course.PlanChapter) (*course.ChapterPlan, error) {
	name := course.ChapterPlanFile(mod.Name, ch.Title)

	var plan course.ChapterPlan
	if ok, err := p.courses.ReadCheckpoint(p.runID, name, &plan); err != nil {
		return nil, err
	} else if ok {
		return &plan, nil
	}

	resp, err := p.provider.Generate(ctx, llm.Request{
		System:   chapterPlannerPrompt(),
		Messages: []llm.Message{{Role: llm.RoleUser, Content: chapterPlanTask(mod.Name, mod.Description, ch.Title, ch.Description)}},
		Schema:   chapterPlanSchema,
	})
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(resp.Content, &plan); err != nil {
		return nil, fmt.Errorf("decoding chapter plan: %w", err)
	}
	if len(plan.Pages) == 0 {
		return nil, errors.New("chapter plan has no pages")
	}
	// The chapter keeps its planned identity even if the model restated it.
	plan.Title = ch.Title
	plan.Description = ch.Description

	if err := p.courses.WriteCheckpoint(p.runID, name, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (p *pipeline) pageContent(ctx context.Context, mod course.PlanModule, ch course.PlanChapter, pagePlan course.PagePlan, n int) error {
	name := course.PageFile(mod.Name, ch.Title, n)
	if p.courses.HasCheckpoint(p.runID, name) {
		return nil
	}

	resp, err := p.provider.Generate(ctx, llm.Request{
		System:   pageWriterPrompt(),
		Messages: []llm.Message{{Role: llm.RoleUser, Content: pageTask(mod.Name, mod.Description, ch.Title, ch.Description, pagePlan.Title, pagePlan.Description)}},
		Schema:   pageSchema,
	})
	if err != nil {
		return err
	}
	var page course.Page
	if err := json.Unmarshal(resp.Content, &page); err != nil {
		return fmt.Errorf("decoding page: %w", err)
	}
	if strings.TrimSpace(page.Content) == "" {
		return errors.New("page has no content")
	}
	page.Title = pagePlan.Title
	page.Description = pagePlan.Description

	return p.courses.WriteCheckpoint(p.runID, name, &page)
}

func (p *pipeline) moduleSummary(ctx context.Context, mod course.PlanModule) error {
	name := course.SummaryFile(mod.Name)
	if p.courses.HasCheckpoint(p.runID, name) {
		return nil
	}

	resp, err := p.provider.Generate(ctx, llm.Request{
		System:   summaryPrompt(),
		Messages: []llm.Message{{Role: llm.RoleUser, Content: summaryTask(mod.Name, mod.Description, chapterTitles(mod))}},
		Schema:   summarySchema,
	})
	if err != nil {
		return err
	}
	var summary course.ModuleSummary
	if err := json.Unmarshal(resp.Content, &summary); err != nil {
		return fmt.Errorf("decoding summary: %w", err)
	}
	return p.courses.WriteCheckpoint(p.runID, name, &summary)
}

func (p *pipeline) moduleQuiz(ctx context.Context, mod course.PlanModule) error {
	name := course.QuizFile(mod.Name)
	if p.courses.HasCheckpoint(p.runID, name) {
		return nil
	}

	resp, err := p.provider.Generate(ctx, llm.Request{
		System:   quizPrompt(),
		Messages: []llm.Message{{Role: llm.RoleUser, Content: quizTask(mod.Name, mod.Description, chapterTitles(mod))}},
		Schema:   quizSchema,
	})
	if err != nil {
		return err
	}
	var doc course.QuizDoc
	if err := json.Unmarshal(resp.Content, &doc); err != nil {
		return fmt.Errorf("decoding quiz: %w", err)
	}
	if len(doc.Questions) == 0 {
		return errors.New("quiz has no questions")
	}
	// The checkpoint holds the bare question array.
	return p.courses.WriteCheckpoint(p.runID, name, doc.Questions)
}

// assemble merges every checkpoint into the final course document.
func (p *pipeline) assemble() error {
	c, err := p.courses.AssembleCourse(p.runID, time.Now().UTC())
	if err != nil {
		return err
	}
	return p.courses.WriteCourse(p.runID, c)
}

func chapterTitles(mod course.PlanModule) []string {
	return lo.Map(mod.Chapters, func(ch course.PlanChapter, _ int) string { return ch.Title })
}
