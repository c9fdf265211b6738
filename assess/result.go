package assess

import (
	"encoding/json"
	"strings"

	"github.com/tutorforge/tutorforge/errx"
)

// CompletionMarker is the phrase the agent appends after its final summary.
const CompletionMarker = "ASSESSMENT COMPLETE"

// FutureTopic is a recommended later topic in the skill profile.
type FutureTopic struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Result is the validated shape of an assessment profile. The stored
// document keeps whatever extra fields the model produced; Result is the
// contract the rest of the system relies on.
type Result struct {
	Topic           string        `json:"topic,omitempty"`
	SkillLevel      string        `json:"skill_level"`
	LearningPath    string        `json:"learning_path"`
	ImmediateTopics []string      `json:"immediate_topics"`
	FutureTopics    []FutureTopic `json:"future_topics"`
}

// ExtractResult pulls the assessment document out of a completion turn.
// Candidates are tried in order: the first fenced JSON block, the first
// balanced brace span, then the whole text. An {"assessment": ...} envelope
// is unwrapped. The document must pass shape validation; a marker-bearing
// turn that yields no valid document is a data integrity failure, never a
// success.
func ExtractResult(text string) (json.RawMessage, error) {
	for _, candidate := range resultCandidates(text) {
		doc := unwrapAssessment(candidate)
		if err := ValidateResult(doc); err == nil {
			return doc, nil
		}
	}
	return nil, errx.DataIntegrity("assessment completion did not contain a valid profile", nil)
}

func resultCandidates(text string) []json.RawMessage {
	var out []json.RawMessage
	if block := FirstFencedJSON(text); block != nil {
		out = append(out, block)
	}
	if span := firstBalancedObject(text); span != nil {
		out = append(out, span)
	}
	if trimmed := strings.TrimSpace(text); json.Valid([]byte(trimmed)) {
		out = append(out, json.RawMessage(trimmed))
	}
	return out
}

// firstBalancedObject scans for the first top-level {...} span that parses
// as JSON, tracking strings and escapes so braces inside values do not
// terminate the scan early.
func firstBalancedObject(text string) json.RawMessage {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				span := text[start : i+1]
				if json.Valid([]byte(span)) {
					return json.RawMessage(span)
				}
				return nil
			}
		}
	}
	return nil
}

// unwrapAssessment strips the {"assessment": {...}} envelope when present.
func unwrapAssessment(doc json.RawMessage) json.RawMessage {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(doc, &envelope); err != nil {
		return doc
	}
	if inner, ok := envelope["assessment"]; ok && len(inner) > 0 && inner[0] == '{' {
		return inner
	}
	return doc
}

// ValidateResult checks the profile shape: a non-empty skill level and
// learning path, an immediate-topics array of non-empty strings, and a
// future-topics array of objects each carrying name and description.
func ValidateResult(doc json.RawMessage) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return errx.DataIntegrity("assessment profile is not a JSON object", err)
	}
	for _, key := range []string{"skill_level", "learning_path", "immediate_topics", "future_topics"} {
		if _, ok := fields[key]; !ok {
			return errx.DataIntegrity("assessment profile missing "+key, nil)
		}
	}

	var r Result
	if err := json.Unmarshal(doc, &r); err != nil {
		return errx.DataIntegrity("assessment profile has wrong field types", err)
	}
	if strings.TrimSpace(r.SkillLevel) == "" {
		return errx.DataIntegrity("assessment profile has empty skill_level", nil)
	}
	if strings.TrimSpace(r.LearningPath) == "" {
		return errx.DataIntegrity("assessment profile has empty learning_path", nil)
	}
	if len(r.ImmediateTopics) == 0 {
		return errx.DataIntegrity("assessment profile has no immediate_topics", nil)
	}
	for _, t := range r.ImmediateTopics {
		if strings.TrimSpace(t) == "" {
			return errx.DataIntegrity("assessment profile has an empty immediate topic", nil)
		}
	}
	for _, ft := range r.FutureTopics {
		if strings.TrimSpace(ft.Name) == "" || strings.TrimSpace(ft.Description) == "" {
			return errx.DataIntegrity("assessment profile has an incomplete future topic", nil)
		}
	}
	return nil
}
