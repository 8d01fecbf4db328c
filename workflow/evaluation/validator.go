package evaluation

import (
	"fmt"
	"slices"

	"github.com/c360studio/surveygen/survey"
)

// Result contains the result of survey validation.
type Result struct {
	SchemaValid          bool     `json:"schema_valid"`
	MethodologyCompliant bool     `json:"methodology_compliant"`
	Issues               []string `json:"issues,omitempty"`
}

// Validator validates generated surveys against structural requirements
// and methodology rules.
type Validator struct {
	rules *RuleSet
}

// NewValidator creates a validator over the given rule set.
func NewValidator(rules *RuleSet) *Validator {
	return &Validator{rules: rules}
}

// Validate runs structural checks and, when a rule exists for the
// survey's methodology, methodology compliance checks.
func (v *Validator) Validate(s *survey.Survey) *Result {
	result := &Result{
		SchemaValid:          true,
		MethodologyCompliant: true,
	}

	v.checkStructure(s, result)
	v.checkMethodology(s, result)

	return result
}

// ValidateStructural runs only the structural checks, used when
// evaluation is disabled.
func (v *Validator) ValidateStructural(s *survey.Survey) *Result {
	result := &Result{
		SchemaValid:          true,
		MethodologyCompliant: true,
	}
	v.checkStructure(s, result)
	return result
}

func (v *Validator) checkStructure(s *survey.Survey, result *Result) {
	if s == nil {
		result.SchemaValid = false
		result.Issues = append(result.Issues, "survey is missing")
		return
	}
	if s.Title == "" {
		result.SchemaValid = false
		result.Issues = append(result.Issues, "survey has no title")
	}
	if len(s.Sections) == 0 {
		result.SchemaValid = false
		result.Issues = append(result.Issues, "survey has no sections")
		return
	}
	if s.QuestionCount() == 0 {
		result.SchemaValid = false
		result.Issues = append(result.Issues, "survey has no questions")
		return
	}

	for _, sec := range s.Sections {
		if len(sec.Questions) == 0 {
			result.SchemaValid = false
			result.Issues = append(result.Issues,
				fmt.Sprintf("section %q has no questions", sec.Title))
		}
		for _, q := range sec.Questions {
			if q.Text == "" {
				result.SchemaValid = false
				result.Issues = append(result.Issues,
					fmt.Sprintf("question %s has no text", q.ID))
			}
			switch q.Type {
			case survey.QuestionTypeSingleChoice, survey.QuestionTypeMultiChoice, survey.QuestionTypeRanking:
				if len(q.Options) < 2 {
					result.SchemaValid = false
					result.Issues = append(result.Issues,
						fmt.Sprintf("question %s needs at least 2 options", q.ID))
				}
			case survey.QuestionTypeLikert:
				if q.Scale == nil || q.Scale.Max <= q.Scale.Min {
					result.SchemaValid = false
					result.Issues = append(result.Issues,
						fmt.Sprintf("question %s has an invalid scale", q.ID))
				}
			case survey.QuestionTypeOpenEnded, survey.QuestionTypeNumeric:
				// No extra structure required
			default:
				result.SchemaValid = false
				result.Issues = append(result.Issues,
					fmt.Sprintf("question %s has unknown type %q", q.ID, q.Type))
			}
		}
	}
}

func (v *Validator) checkMethodology(s *survey.Survey, result *Result) {
	if s == nil || v.rules == nil {
		return
	}
	rule := v.rules.Rule(s.Methodology)
	if rule == nil {
		return
	}

	questions := s.Questions()

	if rule.PricingQuestions != nil {
		pricing := 0
		for _, q := range questions {
			if slices.Contains(survey.DetectLabels(q), survey.LabelPricing) {
				pricing++
			}
		}
		if pricing != *rule.PricingQuestions {
			result.MethodologyCompliant = false
			result.Issues = append(result.Issues,
				fmt.Sprintf("%s requires exactly %d pricing questions, found %d",
					s.Methodology, *rule.PricingQuestions, pricing))
		}
	}

	if rule.MinQuestions > 0 && len(questions) < rule.MinQuestions {
		result.MethodologyCompliant = false
		result.Issues = append(result.Issues,
			fmt.Sprintf("%s requires at least %d questions, found %d",
				s.Methodology, rule.MinQuestions, len(questions)))
	}
	if rule.MaxQuestions > 0 && len(questions) > rule.MaxQuestions {
		result.MethodologyCompliant = false
		result.Issues = append(result.Issues,
			fmt.Sprintf("%s allows at most %d questions, found %d",
				s.Methodology, rule.MaxQuestions, len(questions)))
	}

	for _, required := range rule.RequiredLabels {
		found := false
		for _, q := range questions {
			if slices.Contains(survey.DetectLabels(q), required) {
				found = true
				break
			}
		}
		if !found {
			result.MethodologyCompliant = false
			result.Issues = append(result.Issues,
				fmt.Sprintf("%s requires a %s question", s.Methodology, required))
		}
	}
}
