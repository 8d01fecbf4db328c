// Package survey defines the generated survey document model and the
// parsing and label-detection logic that operates on it.
package survey

import (
	"encoding/json"
	"fmt"
	"strings"
)

// QuestionType classifies how a question is answered.
type QuestionType string

const (
	QuestionTypeSingleChoice QuestionType = "single_choice"
	QuestionTypeMultiChoice  QuestionType = "multi_choice"
	QuestionTypeLikert       QuestionType = "likert"
	QuestionTypeOpenEnded    QuestionType = "open_ended"
	QuestionTypeNumeric      QuestionType = "numeric"
	QuestionTypeRanking      QuestionType = "ranking"
)

// Question is one survey question.
type Question struct {
	ID       string       `json:"id"`
	Text     string       `json:"text"`
	Type     QuestionType `json:"type,omitempty"`
	Options  []string     `json:"options,omitempty"`
	Required bool         `json:"required,omitempty"`
	Scale    *Scale       `json:"scale,omitempty"`
}

// Scale describes a numeric or Likert response scale.
type Scale struct {
	Min      int    `json:"min"`
	Max      int    `json:"max"`
	MinLabel string `json:"min_label,omitempty"`
	MaxLabel string `json:"max_label,omitempty"`
}

// Section groups related questions.
type Section struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Purpose   string     `json:"purpose,omitempty"`
	Questions []Question `json:"questions"`
}

// Survey is the generated survey document.
type Survey struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Methodology string    `json:"methodology,omitempty"`
	Sections    []Section `json:"sections"`
}

// Questions returns every question across all sections in document
// order.
func (s *Survey) Questions() []Question {
	var out []Question
	for _, sec := range s.Sections {
		out = append(out, sec.Questions...)
	}
	return out
}

// QuestionCount returns the number of extractable questions.
func (s *Survey) QuestionCount() int {
	n := 0
	for _, sec := range s.Sections {
		n += len(sec.Questions)
	}
	return n
}

// QuestionKey returns the survey-scoped unique key for a question,
// used for annotation records. The bare question id is not unique
// across regenerations of the same survey id.
func QuestionKey(surveyID, questionID string) string {
	return fmt.Sprintf("%s.%s", surveyID, questionID)
}

// Parse extracts a Survey from raw LLM output. The model is asked for
// a JSON document but routinely wraps it in prose or a fenced code
// block, so parsing strips fences and scans for the outermost JSON
// object before unmarshalling.
func Parse(raw string) (*Survey, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, fmt.Errorf("empty response")
	}

	payload := extractJSON(text)
	if payload == "" {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	var s Survey
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return nil, fmt.Errorf("unmarshal survey: %w", err)
	}
	s.normalize()
	return &s, nil
}

// normalize assigns stable ids to sections and questions that arrived
// without one.
func (s *Survey) normalize() {
	for i := range s.Sections {
		sec := &s.Sections[i]
		if sec.ID == "" {
			sec.ID = fmt.Sprintf("s%d", i+1)
		}
		for j := range sec.Questions {
			q := &sec.Questions[j]
			if q.ID == "" {
				q.ID = fmt.Sprintf("%s.q%d", sec.ID, j+1)
			}
		}
	}
}

// extractJSON returns the first balanced top-level JSON object in
// text, handling fenced code blocks and surrounding prose.
func extractJSON(text string) string {
	if strings.HasPrefix(text, "```") {
		if idx := strings.Index(text, "\n"); idx >= 0 {
			text = text[idx+1:]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return ""
}
