// Package prompts constructs the generation prompts for the
// survey-writer role.
package prompts

import (
	"fmt"
	"strings"

	"github.com/c360studio/surveygen/retrieval"
)

// Context carries everything the survey-writer prompt draws on.
type Context struct {
	RFQTitle     string
	RFQText      string
	Category     string
	Segment      string
	ResearchGoal string
	Methodology  string
	Unmapped     string

	Examples *retrieval.Examples

	// Regeneration inputs.
	FeedbackDigest string
	TargetSections []string
}

// SystemPrompt returns the system prompt for the survey-writer role.
func SystemPrompt() string {
	return `You are an expert survey designer for market research. You produce complete, deployable surveys as JSON documents.

Rules:
- Respond with a single JSON object only, no prose before or after.
- The object has: title, description, methodology, sections.
- Each section has: title, purpose, questions.
- Each question has: text, type (single_choice, multi_choice, likert, open_ended, numeric, ranking), and options or scale as the type requires.
- Likert questions use a scale object: {min, max, min_label, max_label}.
- Never invent respondent data or analysis; produce the instrument only.`
}

// SurveyWriterPrompt returns the user prompt assembling the RFQ,
// retrieved examples, and methodology guidance.
func SurveyWriterPrompt(ctx *Context) string {
	var sb strings.Builder

	sb.WriteString("Create a survey for the following research brief.\n\n")
	sb.WriteString(fmt.Sprintf("## Research Brief: %s\n\n%s\n\n", ctx.RFQTitle, ctx.RFQText))

	if ctx.Category != "" {
		sb.WriteString(fmt.Sprintf("Category: %s\n", ctx.Category))
	}
	if ctx.Segment != "" {
		sb.WriteString(fmt.Sprintf("Target segment: %s\n", ctx.Segment))
	}
	if ctx.ResearchGoal != "" {
		sb.WriteString(fmt.Sprintf("Research goal: %s\n", ctx.ResearchGoal))
	}
	if ctx.Methodology != "" {
		sb.WriteString(fmt.Sprintf("Methodology: %s\n", ctx.Methodology))
	}
	sb.WriteString("\n")

	if ctx.Unmapped != "" {
		sb.WriteString("## Additional Brief Content\n\n")
		sb.WriteString(ctx.Unmapped)
		sb.WriteString("\n\n")
	}

	writeExamples(&sb, ctx.Examples)

	if ctx.FeedbackDigest != "" {
		sb.WriteString("## Outstanding Reviewer Feedback\n\n")
		sb.WriteString("Address this feedback from earlier versions:\n\n")
		sb.WriteString(ctx.FeedbackDigest)
		sb.WriteString("\n\n")
	}

	sb.WriteString("Respond with the survey JSON object only.\n")
	return sb.String()
}

// RegenerationPrompt returns the user prompt for a regeneration run.
// For surgical and targeted modes only the named sections are rewritten;
// priorSurveyJSON is the serialized parent survey.
func RegenerationPrompt(ctx *Context, mode, priorSurveyJSON string) string {
	var sb strings.Builder

	sb.WriteString("Revise the survey below for the following research brief.\n\n")
	sb.WriteString(fmt.Sprintf("## Research Brief: %s\n\n%s\n\n", ctx.RFQTitle, ctx.RFQText))

	sb.WriteString("## Current Survey\n\n")
	sb.WriteString(priorSurveyJSON)
	sb.WriteString("\n\n")

	switch mode {
	case "surgical", "targeted":
		if len(ctx.TargetSections) > 0 {
			sb.WriteString(fmt.Sprintf("Rewrite ONLY these sections, keeping every other section unchanged: %s.\n\n",
				strings.Join(ctx.TargetSections, ", ")))
		}
	default:
		sb.WriteString("Produce a fully revised version of the survey.\n\n")
	}

	if ctx.FeedbackDigest != "" {
		sb.WriteString("## Reviewer Feedback to Address\n\n")
		sb.WriteString(ctx.FeedbackDigest)
		sb.WriteString("\n\n")
	}

	writeExamples(&sb, ctx.Examples)

	sb.WriteString("Respond with the complete revised survey JSON object only.\n")
	return sb.String()
}

// writeExamples appends retrieved example sections to the prompt.
func writeExamples(sb *strings.Builder, ex *retrieval.Examples) {
	if ex == nil || ex.Empty() {
		return
	}

	if len(ex.Golden) > 0 {
		sb.WriteString("## Example Surveys\n\n")
		sb.WriteString("High-quality surveys from similar briefs, for structure and tone:\n\n")
		for i, g := range ex.Golden {
			sb.WriteString(fmt.Sprintf("### Example %d\n%s\n\n", i+1, g.Text))
		}
	}

	if len(ex.Sections) > 0 {
		sb.WriteString("## Example Sections\n\n")
		for _, s := range ex.Sections {
			sb.WriteString(fmt.Sprintf("- %s\n", s.Text))
		}
		sb.WriteString("\n")
	}

	if len(ex.Questions) > 0 {
		sb.WriteString("## Example Questions\n\n")
		for _, q := range ex.Questions {
			sb.WriteString(fmt.Sprintf("- %s\n", q.Text))
		}
		sb.WriteString("\n")
	}

	if len(ex.Methodology) > 0 {
		sb.WriteString("## Methodology Guidance\n\n")
		for _, m := range ex.Methodology {
			sb.WriteString(fmt.Sprintf("### %s\n%s\n\n", m.Title, m.Guidance))
		}
	}
}
