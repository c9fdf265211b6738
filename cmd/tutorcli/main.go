// Command tutorcli is a terminal client for the learning server. With no
// arguments it runs an assessment interview and watches course generation;
// the runs, course, and sessions subcommands inspect finished work, and
// export compiles a finished course into a PDF.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/tutorforge/tutorforge/client"
	"github.com/tutorforge/tutorforge/export"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	flag.Parse()

	api, err := client.New(*server)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	switch flag.Arg(0) {
	case "", "assess":
		err = runAssessment(api)
	case "runs":
		err = listRuns(api)
	case "course":
		if flag.Arg(1) == "" {
			err = fmt.Errorf("usage: tutorcli course <run-id>")
		} else {
			err = showCourse(api, flag.Arg(1))
		}
	case "sessions":
		err = listSessions(api)
	case "export":
		if flag.Arg(1) == "" {
			err = fmt.Errorf("usage: tutorcli export <run-id> [output.pdf]")
		} else {
			err = exportCourse(api, flag.Arg(1), flag.Arg(2))
		}
	default:
		err = fmt.Errorf("unknown command %q (expected assess, runs, course, sessions, or export)", flag.Arg(0))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runAssessment drives the full lifecycle interactively: interview,
// profile, then course generation.
func runAssessment(api *client.Client) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := client.NewPoller(api)
	go p.Run(ctx)

	in := bufio.NewScanner(os.Stdin)
	p.StartAssessment()

	for ev := range p.Events() {
		switch ev.Phase {
		case client.PhaseStarted:
			fmt.Printf("session %s\n", ev.SessionID)

		case client.PhasePollingQuestion:
			if ev.Progress != nil {
				fmt.Printf("  interviewer working (%d/%d answered)\n", ev.Progress.Answered, ev.Progress.Total)
			}

		case client.PhaseAwaitingAnswer:
			if ev.Err != nil {
				fmt.Printf("  answer rejected: %v\n", ev.Err)
			} else {
				printQuestion(ev.Question)
			}
			fmt.Print("> ")
			if !in.Scan() {
				return nil
			}
			p.SubmitAnswer(in.Text())

		case client.PhaseResultReady:
			printResult(ev.Result)
			fmt.Print("generate the course now? [Y/n] ")
			if !in.Scan() {
				return nil
			}
			if strings.EqualFold(strings.TrimSpace(in.Text()), "n") {
				fmt.Printf("skipped; session %s keeps its profile and the course can be generated later\n", ev.SessionID)
				return nil
			}
			p.StartContent()

		case client.PhasePollingProgress:
			if ev.Job != nil {
				fmt.Printf("  %3d%%  %s\n", ev.Job.Percentage, ev.Job.Status)
			}

		case client.PhaseDone:
			fmt.Println("course generation complete")
			return showCourse(api, ev.SessionID)

		case client.PhaseErrored:
			fmt.Printf("stopped: %v\n", ev.Err)
			fmt.Print("press enter to retry, q to quit: ")
			if !in.Scan() || strings.TrimSpace(in.Text()) == "q" {
				return fmt.Errorf("aborted: %w", ev.Err)
			}
			p.Retry()
		}
	}
	return nil
}

// formattedQuestion is the interviewer's fenced question object.
type formattedQuestion struct {
	Number  int    `json:"question_number"`
	Text    string `json:"question"`
	Purpose string `json:"purpose"`
}

func printQuestion(q *client.QuestionPoll) {
	if q == nil {
		return
	}
	var fq formattedQuestion
	if len(q.FormattedQuestion) > 0 && json.Unmarshal(q.FormattedQuestion, &fq) == nil && fq.Text != "" {
		fmt.Printf("\nQuestion %d: %s\n", fq.Number, fq.Text)
		return
	}
	fmt.Printf("\n%s\n", q.Question)
}

// profile is the assessment document shape for display.
type profile struct {
	Topic           string   `json:"topic"`
	SkillLevel      string   `json:"skill_level"`
	LearningPath    string   `json:"learning_path"`
	ImmediateTopics []string `json:"immediate_topics"`
	FutureTopics    []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"future_topics"`
}

func printResult(r *client.ResultPoll) {
	if r == nil {
		return
	}
	var doc profile
	if err := json.Unmarshal(r.Assessment, &doc); err != nil {
		fmt.Printf("\nassessment:\n%s\n", r.Assessment)
		return
	}
	fmt.Printf("\nassessment complete\n")
	fmt.Printf("  topic:         %s\n", doc.Topic)
	fmt.Printf("  skill level:   %s\n", doc.SkillLevel)
	fmt.Printf("  learning path: %s\n", doc.LearningPath)
	if len(doc.ImmediateTopics) > 0 {
		fmt.Println("  start with:")
		for _, t := range doc.ImmediateTopics {
			fmt.Printf("    - %s\n", t)
		}
	}
	if len(doc.FutureTopics) > 0 {
		fmt.Println("  later:")
		for _, t := range doc.FutureTopics {
			fmt.Printf("    - %s: %s\n", t.Name, t.Description)
		}
	}
}

func listRuns(api *client.Client) error {
	runs, err := api.Runs(context.Background())
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no finished courses")
		return nil
	}
	for _, c := range runs {
		fmt.Printf("%s  %s  (%d modules, created %s)\n",
			c.RunID, c.Name, len(c.Modules), c.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func showCourse(api *client.Client, runID string) error {
	c, err := api.Course(context.Background(), runID)
	if err != nil {
		return err
	}
	fmt.Printf("\n%s\n%s\n", c.Name, c.Description)
	for i, m := range c.Modules {
		fmt.Printf("\nModule %d: %s\n", i+1, m.Name)
		for j, ch := range m.Chapters {
			fmt.Printf("  %d.%d %s (%d pages)\n", i+1, j+1, ch.Title, len(ch.Pages))
		}
		if m.Summary != "" {
			fmt.Println("  summary: yes")
		}
		if len(m.Quiz) > 0 {
			fmt.Printf("  quiz: %d questions\n", len(m.Quiz))
		}
	}
	return nil
}

// exportCourse fetches a finished course and compiles it to a PDF on
// the local disk.
func exportCourse(api *client.Client, runID, out string) error {
	c, err := api.Course(context.Background(), runID)
	if err != nil {
		return err
	}
	if out == "" {
		out = runID + ".pdf"
	}
	if err := export.NewCompiler(c, out).Compile(); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", out)
	return nil
}

func listSessions(api *client.Client) error {
	sessions, err := api.Sessions(context.Background())
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("no completed sessions")
		return nil
	}
	for _, s := range sessions {
		line := fmt.Sprintf("%s  content: %s", s.SessionID, s.ContentCreationStatus)
		if s.Summary != nil {
			line += fmt.Sprintf("  [%s, %s]", s.Summary.Topic, s.Summary.SkillLevel)
		}
		if s.ErrorMessage != nil {
			line += "  error: " + *s.ErrorMessage
		}
		fmt.Println(line)
	}
	return nil
}
