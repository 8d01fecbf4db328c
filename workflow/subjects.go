// Typed NATS subject definitions for survey domain events. These split
// lifecycle notifications into per-event-type subjects under
// "survey.events.<domain>.<action>", enabling type-safe subscribe and
// subject-based routing.
package workflow

import (
	"github.com/c360studio/semstreams/natsclient"
)

// Review lifecycle events (from the prompt-review gate)

// ReviewRequestedEvent is published when a run pauses for prompt review.
type ReviewRequestedEvent struct {
	WorkflowID string `json:"workflow_id"`
	SurveyID   string `json:"survey_id"`
	ReviewID   string `json:"review_id,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
}

// ReviewApprovedEvent is published when a reviewer approves a prompt.
type ReviewApprovedEvent struct {
	WorkflowID   string `json:"workflow_id"`
	SurveyID     string `json:"survey_id"`
	ReviewID     string `json:"review_id"`
	Reviewer     string `json:"reviewer,omitempty"`
	EditedPrompt string `json:"edited_prompt,omitempty"`
}

// ReviewRejectedEvent is published when a reviewer rejects a prompt.
type ReviewRejectedEvent struct {
	WorkflowID string `json:"workflow_id"`
	SurveyID   string `json:"survey_id"`
	ReviewID   string `json:"review_id"`
	Reviewer   string `json:"reviewer,omitempty"`
	Comment    string `json:"comment,omitempty"`
}

// Survey lifecycle events

// SurveyGeneratedEvent is published when generation produces a survey,
// before evaluation runs.
type SurveyGeneratedEvent struct {
	WorkflowID    string `json:"workflow_id"`
	SurveyID      string `json:"survey_id"`
	QuestionCount int    `json:"question_count"`
}

// SurveyScoredEvent is published when evaluation completes.
type SurveyScoredEvent struct {
	WorkflowID        string  `json:"workflow_id"`
	SurveyID          string  `json:"survey_id"`
	OverallScore      float64 `json:"overall_score"`
	QualityGatePassed bool    `json:"quality_gate_passed"`
}

// Typed subject definitions for survey domain events.
var (
	// Review lifecycle events
	ReviewRequested = natsclient.NewSubject[ReviewRequestedEvent](
		"survey.events.review.requested")
	ReviewApproved = natsclient.NewSubject[ReviewApprovedEvent](
		"survey.events.review.approved")
	ReviewRejected = natsclient.NewSubject[ReviewRejectedEvent](
		"survey.events.review.rejected")

	// Survey lifecycle events
	SurveyGenerated = natsclient.NewSubject[SurveyGeneratedEvent](
		"survey.events.survey.generated")
	SurveyScored = natsclient.NewSubject[SurveyScoredEvent](
		"survey.events.survey.scored")
)
