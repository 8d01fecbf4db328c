package survey

import "strings"

// Question labels detected by scanning generated questions. Labels are
// descriptive tags ("uses Likert scale", "is a screener question")
// stored as annotation records keyed by the survey-scoped question key.
const (
	LabelLikert      = "uses_likert_scale"
	LabelScreener    = "screener_question"
	LabelOpenEnded   = "open_ended"
	LabelPricing     = "pricing_question"
	LabelNPS         = "nps_question"
	LabelDemographic = "demographic_question"
	LabelRanking     = "ranking_question"
	LabelMatrix      = "matrix_question"
)

// screenerMarkers are phrases that indicate a qualification gate.
var screenerMarkers = []string{
	"which of the following best describes",
	"do you currently",
	"have you ever",
	"in the past",
	"are you responsible for",
	"qualify",
}

// pricingMarkers indicate willingness-to-pay style questions.
var pricingMarkers = []string{
	"price", "pricing", "pay", "cost", "expensive", "cheap", "bargain",
}

// demographicMarkers indicate respondent profile questions.
var demographicMarkers = []string{
	"your age", "age range", "gender", "household income", "education",
	"region", "zip code", "postal code",
}

// DetectLabels scans a question and returns its descriptive labels.
// Detection is deterministic keyword and structure matching; it makes
// no LLM calls.
func DetectLabels(q Question) []string {
	var labels []string
	text := strings.ToLower(q.Text)

	switch q.Type {
	case QuestionTypeLikert:
		labels = append(labels, LabelLikert)
	case QuestionTypeOpenEnded:
		labels = append(labels, LabelOpenEnded)
	case QuestionTypeRanking:
		labels = append(labels, LabelRanking)
	}

	if q.Type != QuestionTypeLikert && q.Scale != nil && looksLikert(q.Scale) {
		labels = append(labels, LabelLikert)
	}
	if q.Type != QuestionTypeOpenEnded && len(q.Options) == 0 && q.Scale == nil &&
		(strings.Contains(text, "please describe") || strings.Contains(text, "in your own words")) {
		labels = append(labels, LabelOpenEnded)
	}

	if containsAny(text, screenerMarkers) {
		labels = append(labels, LabelScreener)
	}
	if containsAny(text, pricingMarkers) {
		labels = append(labels, LabelPricing)
	}
	if containsAny(text, demographicMarkers) {
		labels = append(labels, LabelDemographic)
	}
	if strings.Contains(text, "how likely are you to recommend") {
		labels = append(labels, LabelNPS)
	}
	if len(q.Options) > 0 && q.Scale != nil {
		labels = append(labels, LabelMatrix)
	}

	return labels
}

// MergeLabels unions existing and detected label sets, preserving
// first-seen order. Existing annotations are never blindly
// overwritten.
func MergeLabels(existing, detected []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(detected))
	var out []string
	for _, l := range existing {
		if _, ok := seen[l]; !ok {
			seen[l] = struct{}{}
			out = append(out, l)
		}
	}
	for _, l := range detected {
		if _, ok := seen[l]; !ok {
			seen[l] = struct{}{}
			out = append(out, l)
		}
	}
	return out
}

func looksLikert(s *Scale) bool {
	span := s.Max - s.Min
	return span == 4 || span == 6 // 5- or 7-point scale
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}
