package course

import "time"

// Course is the durable output of a content-creation run.
type Course struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Modules     []Module  `json:"modules"`
	CreatedAt   time.Time `json:"created_at"`
	RunID       string    `json:"run_id,omitempty"`
}

type Module struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Chapters    []Chapter      `json:"chapters"`
	Summary     string         `json:"summary"`
	Quiz        []QuizQuestion `json:"quiz"`
}

type Chapter struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Pages       []Page `json:"pages"`
}

// Page is generated one model call at a time, so it carries schema tags.
type Page struct {
	Title       string `json:"title" jsonschema:"required,description=Page title"`
	Description string `json:"description" jsonschema:"required,description=One-line summary of the page"`
	Content     string `json:"content" jsonschema:"required,description=Full page content in Markdown"`
}

type QuizQuestion struct {
	QuestionType   string   `json:"question_type" jsonschema:"required,enum=multiple_choice,enum=open_ended,description=Kind of question"`
	Question       string   `json:"question" jsonschema:"required"`
	MultipleChoice []string `json:"multiple_choice,omitempty" jsonschema:"description=Choices when question_type is multiple_choice"`
	Answer         string   `json:"answer" jsonschema:"required,description=The correct answer"`
}

// CoursePlan is the reviewed top-level outline a run starts from.
type CoursePlan struct {
	Name        string       `json:"name" jsonschema:"required,description=Course title"`
	Description string       `json:"description" jsonschema:"required,description=What the course covers and for whom"`
	Modules     []PlanModule `json:"modules" jsonschema:"required,description=Ordered course modules"`
}

type PlanModule struct {
	Name        string        `json:"name" jsonschema:"required"`
	Description string        `json:"description" jsonschema:"required"`
	Chapters    []PlanChapter `json:"chapters" jsonschema:"required,description=Ordered chapters of the module"`
}

type PlanChapter struct {
	Title       string `json:"title" jsonschema:"required"`
	Description string `json:"description" jsonschema:"required"`
}

// ChapterPlan expands one planned chapter into its pages.
type ChapterPlan struct {
	Title       string     `json:"title" jsonschema:"required"`
	Description string     `json:"description" jsonschema:"required"`
	Pages       []PagePlan `json:"pages" jsonschema:"required,description=Ordered pages for this chapter"`
}

type PagePlan struct {
	Title       string `json:"title" jsonschema:"required"`
	Description string `json:"description" jsonschema:"required,description=What the page should teach"`
}

// ModuleSummary is the shape of the summary checkpoint file.
type ModuleSummary struct {
	Summary string `json:"summary" jsonschema:"required,description=Module summary in Markdown"`
}

// QuizDoc is the structured-output envelope for quiz generation; the
// checkpoint file stores the bare question list.
type QuizDoc struct {
	Questions []QuizQuestion `json:"questions" jsonschema:"required,description=Quiz questions for the module"`
}
