package assess

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// MissingAnswersError reports a batch submission that left questions
// unanswered. Numbers is sorted ascending.
type MissingAnswersError struct {
	Numbers []int
}

func (e *MissingAnswersError) Error() string {
	parts := make([]string, len(e.Numbers))
	for i, n := range e.Numbers {
		parts[i] = strconv.Itoa(n)
	}
	return fmt.Sprintf("missing answers for questions %s", strings.Join(parts, ", "))
}

// ComposeAnswers renders per-question answers as the canonical combined
// blob: a JSON object keyed by question number. ParseAnswers inverts it.
func ComposeAnswers(answers map[int]string) string {
	doc := make(map[string]string, len(answers))
	for n, a := range answers {
		doc[strconv.Itoa(n)] = a
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return ""
	}
	return string(data)
}

var answerLineRe = regexp.MustCompile(`^\s*(?i:answer\s+)?(\d+)\s*[:.]\s*(.*)$`)

// ParseAnswers extracts per-question answers from a combined blob. The
// canonical form is a JSON object keyed by question number; the fallback
// accepts lines like "1: text", "1. text", or "Answer 1: text", with
// unprefixed lines continuing the previous answer.
func ParseAnswers(blob string) map[int]string {
	if answers, ok := parseAnswersJSON(blob); ok {
		return answers
	}
	return parseAnswerLines(blob)
}

func parseAnswersJSON(blob string) (map[int]string, bool) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(blob)), &doc); err != nil {
		return nil, false
	}

	answers := make(map[int]string)
	for key, value := range doc {
		n, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			continue
		}
		switch v := value.(type) {
		case string:
			answers[n] = v
		case float64, bool:
			answers[n] = fmt.Sprint(v)
		}
	}
	if len(answers) == 0 {
		return nil, false
	}
	return answers, true
}

func parseAnswerLines(blob string) map[int]string {
	answers := make(map[int]string)
	current := 0
	for _, line := range strings.Split(blob, "\n") {
		if m := answerLineRe.FindStringSubmatch(line); m != nil {
			n, err := strconv.Atoi(m[1])
			if err == nil {
				current = n
				answers[n] = strings.TrimSpace(m[2])
				continue
			}
		}
		if current != 0 && strings.TrimSpace(line) != "" {
			answers[current] = strings.TrimSpace(answers[current] + "\n" + line)
		}
	}
	return answers
}

// matchAnswers validates a combined blob against the batch's questions and
// returns the per-number answers. Every question must have a non-empty
// answer; otherwise the error names all missing numbers and no state
// should change.
func matchAnswers(questions []Question, blob string) (map[int]string, *MissingAnswersError) {
	parsed := ParseAnswers(blob)

	answers := make(map[int]string, len(questions))
	var missing []int
	for _, q := range questions {
		a, ok := parsed[q.Number]
		if !ok || strings.TrimSpace(a) == "" {
			missing = append(missing, q.Number)
			continue
		}
		answers[q.Number] = a
	}
	if len(missing) > 0 {
		sort.Ints(missing)
		return nil, &MissingAnswersError{Numbers: missing}
	}
	return answers, nil
}
