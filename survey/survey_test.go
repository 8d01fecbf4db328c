package survey_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/surveygen/survey"
)

func TestParse_PlainJSON(t *testing.T) {
	raw := `{
		"title": "Coffee Habits",
		"sections": [
			{
				"title": "Screening",
				"questions": [
					{"text": "Do you currently drink coffee?", "type": "single_choice", "options": ["Yes", "No"]}
				]
			}
		]
	}`

	s, err := survey.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "Coffee Habits", s.Title)
	require.Len(t, s.Sections, 1)
	require.Len(t, s.Sections[0].Questions, 1)
	assert.Equal(t, 1, s.QuestionCount())
}

func TestParse_FencedCodeBlock(t *testing.T) {
	raw := "Here is your survey:\n```json\n{\"title\": \"T\", \"sections\": [{\"title\": \"S\", \"questions\": [{\"text\": \"Q?\"}]}]}\n```\nLet me know if you need changes."

	s, err := survey.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "T", s.Title)
	assert.Equal(t, 1, s.QuestionCount())
}

func TestParse_ProseWrappedJSON(t *testing.T) {
	raw := `Sure! {"title": "Wrapped", "sections": []} Hope that helps.`

	s, err := survey.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "Wrapped", s.Title)
	assert.Equal(t, 0, s.QuestionCount())
}

func TestParse_BracesInsideStrings(t *testing.T) {
	raw := `{"title": "Braces {inside} title", "sections": [{"title": "S", "questions": [{"text": "What about {this}?"}]}]}`

	s, err := survey.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "Braces {inside} title", s.Title)
	assert.Equal(t, "What about {this}?", s.Sections[0].Questions[0].Text)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"whitespace only", "   \n\t  "},
		{"no json", "I could not generate a survey."},
		{"unbalanced", `{"title": "broken"`},
		{"invalid json", `{"title": }`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := survey.Parse(tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestParse_AssignsStableIDs(t *testing.T) {
	raw := `{"title": "T", "sections": [
		{"title": "A", "questions": [{"text": "q1?"}, {"text": "q2?"}]},
		{"id": "custom", "title": "B", "questions": [{"id": "kept", "text": "q3?"}]}
	]}`

	s, err := survey.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "s1", s.Sections[0].ID)
	assert.Equal(t, "s1.q1", s.Sections[0].Questions[0].ID)
	assert.Equal(t, "s1.q2", s.Sections[0].Questions[1].ID)
	// Provided ids survive normalization.
	assert.Equal(t, "custom", s.Sections[1].ID)
	assert.Equal(t, "kept", s.Sections[1].Questions[0].ID)
}

func TestQuestions_DocumentOrder(t *testing.T) {
	s := &survey.Survey{
		Sections: []survey.Section{
			{Questions: []survey.Question{{Text: "a"}, {Text: "b"}}},
			{Questions: []survey.Question{{Text: "c"}}},
		},
	}

	qs := s.Questions()
	require.Len(t, qs, 3)
	assert.Equal(t, "a", qs[0].Text)
	assert.Equal(t, "c", qs[2].Text)
}

func TestQuestionKey(t *testing.T) {
	assert.Equal(t, "sv-1.q-7", survey.QuestionKey("sv-1", "q-7"))
}
