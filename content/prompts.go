package content

import (
	"fmt"
	"strings"
)

// planApproval is the reviewer's acceptance token.
const planApproval = "APPROVE"

func coursePlannerPrompt() string {
	return `You are a course planning expert, skilled at creating course structures students would pay for.
Courses must be easy to follow, detailed and comprehensive. No shortcuts.
Your role is to:
1. Analyze the assessment conversation to identify:
   - The specific topic the student wants to learn
   - Their current skill level in that topic
   - Any specific areas they want to focus on
2. Create a detailed course plan that is SPECIFICALLY tailored to:
   - The exact topic from the assessment
   - The student's demonstrated skill level
   - Their specific learning needs and goals
3. Ensure the modules and chapters progress logically from the student's current level
4. Address any reviewer feedback and improve the plan accordingly

IMPORTANT: Base the course on the topic identified in the assessment conversation.
Never default to a programming course unless the assessment asks for one.`
}

func planReviewerPrompt() string {
	return `You are a course planning expert, skilled at reviewing course plans.
Plans must be easy to follow, detailed and comprehensive. This will be a paid
course, so nothing important may be missing.
Your role is to:
1. Review the course plan thoroughly
2. Check for completeness, clarity, and educational value
3. Ensure all necessary topics are covered
4. Verify the progression of topics is logical
5. Provide specific feedback for improvements
6. Respond with 'APPROVE' when the plan meets all requirements
7. If there are issues, reply with detailed feedback for the planner to address`
}

func chapterPlannerPrompt() string {
	return `You are a chapter planning expert. Your role is to:
1. Analyze the chapter description and module context
2. Break the chapter down into logical pages
3. Describe what each page should teach
4. Ensure each page builds on the previous ones
5. Cover every aspect of the chapter description`
}

func pageWriterPrompt() string {
	return `You are an expert educational content creator. Your role is to:
1. Write engaging, educational content for one page at a time
2. Structure the content in Markdown with clear headings
3. Include examples, explanations, and practice exercises
4. Keep the content appropriate for the student's level implied by the course context`
}

func summaryPrompt() string {
	return `You are a content summarization expert. Your role is to:
1. Create concise and informative summaries for a course module
2. Highlight key concepts and learning outcomes
3. Connect concepts across the module's chapters`
}

func quizPrompt() string {
	return `You are a quiz creation expert. Your role is to:
1. Create comprehensive quiz questions for a course module
2. Ensure questions test understanding of key concepts
3. Provide clear multiple-choice options with exactly one correct answer`
}

func coursePlanTask(conversation string) string {
	return fmt.Sprintf(`Based on this assessment conversation, create a detailed course plan:

%s

Tailor the course name, description, modules and chapters to the topic and
skill level shown in the conversation.`, conversation)
}

func planReviewTask(draft string) string {
	return fmt.Sprintf(`Review this course plan:

%s

Reply with 'APPROVE' if it meets all requirements, otherwise reply with
detailed feedback for the planner.`, draft)
}

func planRevisionTask(feedback string) string {
	return fmt.Sprintf(`The reviewer did not approve the plan. Revise it to address this feedback:

%s`, feedback)
}

func chapterPlanTask(module, moduleDescription, chapter, chapterDescription string) string {
	return fmt.Sprintf(`Create a detailed page plan for the chapter '%s' in module '%s'.
Module description: %s
Chapter description: %s

Break the chapter into logical pages and describe what each page should teach.`,
		chapter, module, moduleDescription, chapterDescription)
}

func pageTask(module, moduleDescription, chapter, chapterDescription, page, pageDescription string) string {
	return fmt.Sprintf(`Write the content for the page '%s' in chapter '%s' of module '%s'.
Module description: %s
Chapter description: %s
Page description: %s

Write complete teaching content that fulfills the page description, with
examples, explanations, and practice exercises.`,
		page, chapter, module, moduleDescription, chapterDescription, pageDescription)
}

func summaryTask(module, description string, chapters []string) string {
	return fmt.Sprintf(`Create a summary for the module '%s'.
Module description: %s
Chapters: %s

Write a concise and informative summary of the module.`,
		module, description, strings.Join(chapters, ", "))
}

func quizTask(module, description string, chapters []string) string {
	return fmt.Sprintf(`Create quiz questions for the module '%s'.
Module description: %s
Chapters: %s

Write comprehensive quiz questions covering the module's key concepts.`,
		module, description, strings.Join(chapters, ", "))
}
