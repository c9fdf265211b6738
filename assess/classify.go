package assess

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Kind discriminates how a model turn decomposes into questions.
type Kind int

const (
	// Single means the turn carries exactly one question.
	Single Kind = iota
	// Batch means the turn carries several questions answered together.
	Batch
	// Unparseable means no structure was found; callers treat the raw
	// text as one unnumbered question.
	Unparseable
)

func (k Kind) String() string {
	switch k {
	case Single:
		return "single"
	case Batch:
		return "batch"
	case Unparseable:
		return "unparseable"
	default:
		return "unknown"
	}
}

// Question is one assessment question extracted from a model turn.
type Question struct {
	Number  int    `json:"question_number"`
	Text    string `json:"question"`
	Purpose string `json:"purpose,omitempty"`
}

// Classified is the outcome of decomposing one model turn. Questions is
// empty when Kind is Unparseable.
type Classified struct {
	Kind      Kind
	Questions []Question
}

var (
	fenceRe          = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	questionMarkerRe = regexp.MustCompile(`(?mi)\bQuestion\s+(\d+)\s*[:.]`)
)

// Classify decomposes a raw model turn into questions. Strategies are tried
// in a fixed priority order, each falling through to the next on failure:
// a lone question object, an array of question objects, an object with a
// "questions" array, fenced code blocks holding any of those shapes, and
// finally a textual "Question N:" convention. Classify is pure; it never
// errors, it just reports Unparseable when every strategy fails.
func Classify(raw string) Classified {
	trimmed := strings.TrimSpace(raw)

	if qs, ok := parseQuestionDoc([]byte(trimmed)); ok {
		return classified(qs)
	}
	if qs, ok := parseFencedQuestions(trimmed); ok {
		return classified(qs)
	}
	if qs, ok := splitNumberedQuestions(raw); ok {
		return classified(qs)
	}
	return Classified{Kind: Unparseable}
}

func classified(qs []Question) Classified {
	if len(qs) == 1 {
		return Classified{Kind: Single, Questions: qs}
	}
	return Classified{Kind: Batch, Questions: qs}
}

// parseQuestionDoc interprets data as one of the structured question shapes:
// a single question object, an array of question objects, or an object
// wrapping an array under "questions".
func parseQuestionDoc(data []byte) ([]Question, bool) {
	var single Question
	if err := json.Unmarshal(data, &single); err == nil && single.Text != "" {
		if single.Number == 0 {
			single.Number = 1
		}
		return []Question{single}, true
	}

	var list []Question
	if err := json.Unmarshal(data, &list); err == nil {
		if qs, ok := normalizeQuestions(list); ok {
			return qs, true
		}
	}

	var wrapped struct {
		Questions []Question `json:"questions"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil {
		if qs, ok := normalizeQuestions(wrapped.Questions); ok {
			return qs, true
		}
	}

	return nil, false
}

// normalizeQuestions drops entries without text and fills in missing
// numbers positionally.
func normalizeQuestions(list []Question) ([]Question, bool) {
	qs := make([]Question, 0, len(list))
	for _, q := range list {
		if q.Text == "" {
			continue
		}
		if q.Number == 0 {
			q.Number = len(qs) + 1
		}
		qs = append(qs, q)
	}
	return qs, len(qs) > 0
}

// parseFencedQuestions collects questions from every parseable fenced block
// in the turn. One fence per question is the common shape, but a fence may
// also hold an array or a wrapped list.
func parseFencedQuestions(raw string) ([]Question, bool) {
	matches := fenceRe.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil, false
	}

	var qs []Question
	for _, m := range matches {
		if block, ok := parseQuestionDoc([]byte(strings.TrimSpace(m[1]))); ok {
			qs = append(qs, block...)
		}
	}
	if len(qs) == 0 {
		return nil, false
	}
	// Renumber duplicates introduced by per-fence defaults.
	seen := map[int]bool{}
	next := 1
	for i := range qs {
		for seen[qs[i].Number] || qs[i].Number == 0 {
			qs[i].Number = next
			next++
		}
		seen[qs[i].Number] = true
		if qs[i].Number >= next {
			next = qs[i].Number + 1
		}
	}
	return qs, true
}

// splitNumberedQuestions handles plain text using the "Question N:"
// delimiter convention. Each delimiter starts a question that runs to the
// next delimiter or end of text.
func splitNumberedQuestions(raw string) ([]Question, bool) {
	locs := questionMarkerRe.FindAllStringSubmatchIndex(raw, -1)
	if len(locs) == 0 {
		return nil, false
	}

	qs := make([]Question, 0, len(locs))
	for i, loc := range locs {
		end := len(raw)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		number := 0
		for _, r := range raw[loc[2]:loc[3]] {
			number = number*10 + int(r-'0')
		}
		text := strings.TrimSpace(raw[loc[0]:end])
		if text == "" {
			continue
		}
		qs = append(qs, Question{Number: number, Text: text})
	}
	if len(qs) == 0 {
		return nil, false
	}
	return qs, true
}

// FirstFencedJSON returns the first fenced block that parses as JSON,
// verbatim, for clients that render the structured form of a question.
func FirstFencedJSON(raw string) json.RawMessage {
	for _, m := range fenceRe.FindAllStringSubmatch(raw, -1) {
		block := strings.TrimSpace(m[1])
		if json.Valid([]byte(block)) {
			return json.RawMessage(block)
		}
	}
	return nil
}
