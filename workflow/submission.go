package workflow

import (
	"encoding/json"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
)

// SubmissionPayload is an RFQ submission published to
// survey.submit.rfq to trigger a generation run.
type SubmissionPayload struct {
	// WorkflowID uniquely identifies this run. Assigned by the
	// submitter; minted server-side when empty.
	WorkflowID string `json:"workflow_id,omitempty"`

	// RFQID references a stored RFQ record. Optional for free-text
	// submissions.
	RFQID string `json:"rfq_id,omitempty"`

	// Title is the human-readable RFQ title
	Title string `json:"title"`

	// Text is the RFQ body
	Text string `json:"text"`

	// Category is the research category (optional)
	Category string `json:"category,omitempty"`

	// Segment is the target audience segment (optional)
	Segment string `json:"segment,omitempty"`

	// ResearchGoal is the stated goal of the research (optional)
	ResearchGoal string `json:"research_goal,omitempty"`

	// Methodology names the survey methodology (e.g. van_westendorp)
	Methodology string `json:"methodology,omitempty"`

	// Enhanced marks runs seeded from an uploaded document
	Enhanced bool `json:"enhanced,omitempty"`

	// ParentSurveyID triggers a regeneration of a prior survey
	ParentSurveyID string `json:"parent_survey_id,omitempty"`

	// RegenerationMode is one of full, surgical, or targeted
	RegenerationMode string `json:"regeneration_mode,omitempty"`

	// TargetSections limits targeted regeneration to named sections
	TargetSections []string `json:"target_sections,omitempty"`
}

// Schema returns the message type for this payload.
func (p *SubmissionPayload) Schema() message.Type {
	return SubmissionType
}

// Validate validates the payload.
func (p *SubmissionPayload) Validate() error {
	if p.Title == "" && p.RFQID == "" {
		return &ValidationError{Field: "title", Message: "title or rfq_id is required"}
	}
	if p.Text == "" && p.RFQID == "" {
		return &ValidationError{Field: "text", Message: "text or rfq_id is required"}
	}
	switch p.RegenerationMode {
	case "", string(RegenerationFull), string(RegenerationSurgical), string(RegenerationTargeted):
	default:
		return &ValidationError{Field: "regeneration_mode", Message: "must be full, surgical, or targeted"}
	}
	if p.RegenerationMode == string(RegenerationTargeted) && len(p.TargetSections) == 0 {
		return &ValidationError{Field: "target_sections", Message: "required for targeted regeneration"}
	}
	return nil
}

// MarshalJSON marshals the payload to JSON.
func (p *SubmissionPayload) MarshalJSON() ([]byte, error) {
	type Alias SubmissionPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the payload from JSON.
func (p *SubmissionPayload) UnmarshalJSON(data []byte) error {
	type Alias SubmissionPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// Request converts the payload into an engine request.
func (p *SubmissionPayload) Request() NewRequest {
	return NewRequest{
		WorkflowID:       p.WorkflowID,
		RFQID:            p.RFQID,
		Title:            p.Title,
		Text:             p.Text,
		Category:         p.Category,
		Segment:          p.Segment,
		ResearchGoal:     p.ResearchGoal,
		Methodology:      p.Methodology,
		Enhanced:         p.Enhanced,
		ParentSurveyID:   p.ParentSurveyID,
		RegenerationMode: RegenerationMode(p.RegenerationMode),
		TargetSections:   p.TargetSections,
	}
}

// SubmissionType is the message type for RFQ submission payloads.
var SubmissionType = message.Type{
	Domain:   "survey",
	Category: "submission",
	Version:  "v1",
}

// ValidationError represents a payload validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func init() {
	_ = component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "survey",
		Category:    "submission",
		Version:     "v1",
		Description: "RFQ submission payload triggering survey generation",
		Factory:     func() any { return &SubmissionPayload{} },
	})
}
