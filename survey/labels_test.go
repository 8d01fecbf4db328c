package survey_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360studio/surveygen/survey"
)

func TestDetectLabels(t *testing.T) {
	tests := []struct {
		name string
		q    survey.Question
		want []string
	}{
		{
			name: "likert by type",
			q:    survey.Question{Text: "Rate your satisfaction", Type: survey.QuestionTypeLikert},
			want: []string{survey.LabelLikert},
		},
		{
			name: "likert by scale shape",
			q: survey.Question{
				Text:  "How satisfied are you?",
				Type:  survey.QuestionTypeNumeric,
				Scale: &survey.Scale{Min: 1, Max: 5},
			},
			want: []string{survey.LabelLikert},
		},
		{
			name: "seven point scale is likert",
			q: survey.Question{
				Text:  "Rate the experience",
				Scale: &survey.Scale{Min: 1, Max: 7},
			},
			want: []string{survey.LabelLikert},
		},
		{
			name: "screener",
			q: survey.Question{
				Text:    "Do you currently manage a team?",
				Type:    survey.QuestionTypeSingleChoice,
				Options: []string{"Yes", "No"},
			},
			want: []string{survey.LabelScreener},
		},
		{
			name: "pricing",
			q:    survey.Question{Text: "At what price would this be too expensive?", Type: survey.QuestionTypeNumeric},
			want: []string{survey.LabelPricing},
		},
		{
			name: "nps",
			q: survey.Question{
				Text:  "How likely are you to recommend us to a friend?",
				Scale: &survey.Scale{Min: 0, Max: 10},
			},
			want: []string{survey.LabelNPS},
		},
		{
			name: "demographic",
			q:    survey.Question{Text: "What is your age range?", Type: survey.QuestionTypeSingleChoice, Options: []string{"18-24", "25-34"}},
			want: []string{survey.LabelDemographic},
		},
		{
			name: "open ended by phrasing",
			q:    survey.Question{Text: "Please describe your ideal workflow.", Type: survey.QuestionTypeSingleChoice},
			want: []string{survey.LabelOpenEnded},
		},
		{
			name: "ranking",
			q:    survey.Question{Text: "Rank these features", Type: survey.QuestionTypeRanking, Options: []string{"A", "B", "C"}},
			want: []string{survey.LabelRanking},
		},
		{
			name: "matrix",
			q: survey.Question{
				Text:    "Rate each aspect",
				Options: []string{"Speed", "Quality"},
				Scale:   &survey.Scale{Min: 1, Max: 5},
			},
			want: []string{survey.LabelLikert, survey.LabelMatrix},
		},
		{
			name: "no labels",
			q:    survey.Question{Text: "Which color do you prefer?", Type: survey.QuestionTypeSingleChoice, Options: []string{"Red", "Blue"}},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := survey.DetectLabels(tt.q)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMergeLabels(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		detected []string
		want     []string
	}{
		{
			name:     "union preserves first seen order",
			existing: []string{"a", "b"},
			detected: []string{"b", "c"},
			want:     []string{"a", "b", "c"},
		},
		{
			name:     "existing never dropped",
			existing: []string{"human_added"},
			detected: nil,
			want:     []string{"human_added"},
		},
		{
			name:     "empty existing",
			existing: nil,
			detected: []string{"x"},
			want:     []string{"x"},
		},
		{
			name:     "duplicates within inputs",
			existing: []string{"a", "a"},
			detected: []string{"a"},
			want:     []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, survey.MergeLabels(tt.existing, tt.detected))
		})
	}
}
