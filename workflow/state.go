// Package workflow implements the survey generation pipeline: a staged
// state machine that takes a parsed RFQ through retrieval, prompt
// construction, optional human review, LLM generation, label detection
// and evaluation, emitting monotonic progress events along the way.
package workflow

import (
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/surveygen/retrieval"
	"github.com/c360studio/surveygen/survey"
)

// RegenerationMode selects how much of a prior survey a regeneration
// run rebuilds.
type RegenerationMode string

const (
	// RegenerationFull rebuilds the entire survey from scratch.
	RegenerationFull RegenerationMode = "full"
	// RegenerationSurgical rebuilds only sections with negative feedback.
	RegenerationSurgical RegenerationMode = "surgical"
	// RegenerationTargeted rebuilds an explicit list of sections.
	RegenerationTargeted RegenerationMode = "targeted"
)

// State is the single mutable object threaded through every pipeline
// stage. Stages never mutate it directly; they return a Patch that the
// engine merges in (see Patch.Apply).
type State struct {
	// Identity. SurveyID is assigned once at creation and never
	// changes; it is the join key for the durable store, the
	// evaluation lock registry and the notification channel.
	WorkflowID string `json:"workflow_id"`
	SurveyID   string `json:"survey_id"`

	// Input fields, immutable after creation.
	RFQID        string `json:"rfq_id,omitempty"`
	RFQTitle     string `json:"rfq_title"`
	RFQText      string `json:"rfq_text"`
	Category     string `json:"category,omitempty"`
	Segment      string `json:"segment,omitempty"`
	ResearchGoal string `json:"research_goal,omitempty"`
	Methodology  string `json:"methodology,omitempty"`

	// Enhanced marks runs seeded from an uploaded RFQ document rather
	// than free text. Enhanced runs use the shorter pipeline timeout.
	Enhanced bool `json:"enhanced,omitempty"`

	// Derived and accumulated fields.
	Embedding       []float32           `json:"embedding,omitempty"`
	Examples        *retrieval.Examples `json:"examples,omitempty"`
	UnmappedContent string              `json:"unmapped_content,omitempty"`
	Context         *PromptContext      `json:"context,omitempty"`
	CustomPrompt    string              `json:"custom_prompt,omitempty"`

	GeneratedSurvey *survey.Survey `json:"generated_survey,omitempty"`
	// RawSurvey preserves the pre-validation LLM output verbatim.
	RawSurvey string `json:"raw_survey,omitempty"`
	// RawResponse holds salvaged provider output when generation
	// failed after text was received. Kept for debugging and audit.
	RawResponse string `json:"raw_response,omitempty"`

	SchemaValid           bool               `json:"schema_valid"`
	MethodologyCompliant  bool               `json:"methodology_compliant"`
	GoldenSimilarity      float64            `json:"golden_similarity"`
	PillarScores          map[string]float64 `json:"pillar_scores,omitempty"`
	OverallScore          float64            `json:"overall_score"`
	QualityGatePassed     bool               `json:"quality_gate_passed"`
	ValidationIssues      []string           `json:"validation_issues,omitempty"`
	EvaluationStructural  bool               `json:"evaluation_structural_only,omitempty"`

	// Control fields.
	RetryCount         int    `json:"retry_count"`
	MaxRetries         int    `json:"max_retries"`
	PendingHumanReview bool   `json:"pending_human_review"`
	WorkflowPaused     bool   `json:"workflow_paused"`
	PromptApproved     bool   `json:"prompt_approved"`
	WorkflowCompleted  bool   `json:"workflow_completed"`
	ErrorMessage       string `json:"error_message,omitempty"`

	// Regeneration fields. ParentSurveyID is a back-reference to the
	// prior version; the parent never owns the child.
	ParentSurveyID   string           `json:"parent_survey_id,omitempty"`
	RegenerationMode RegenerationMode `json:"regeneration_mode,omitempty"`
	TargetSections   []string         `json:"target_sections,omitempty"`
	FeedbackDigest   string           `json:"feedback_digest,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PromptContext is the assembled input to survey generation, merging
// RFQ fields, retrieved examples and methodology guidance.
type PromptContext struct {
	RFQTitle        string              `json:"rfq_title"`
	RFQText         string              `json:"rfq_text"`
	Category        string              `json:"category,omitempty"`
	Segment         string              `json:"segment,omitempty"`
	ResearchGoal    string              `json:"research_goal,omitempty"`
	Methodology     string              `json:"methodology,omitempty"`
	Examples        *retrieval.Examples `json:"examples,omitempty"`
	UnmappedContent string              `json:"unmapped_content,omitempty"`
	FeedbackDigest  string              `json:"feedback_digest,omitempty"`
	TargetSections  []string            `json:"target_sections,omitempty"`
	AssembledAt     time.Time           `json:"assembled_at"`
}

// NewRequest describes an RFQ submission.
type NewRequest struct {
	WorkflowID   string
	RFQID        string
	Title        string
	Text         string
	Category     string
	Segment      string
	ResearchGoal string
	Methodology  string
	Enhanced     bool

	// Regeneration inputs. Empty ParentSurveyID means a fresh run.
	ParentSurveyID   string
	RegenerationMode RegenerationMode
	TargetSections   []string
}

// NewState builds the initial pipeline state for an RFQ submission.
// The survey id is minted here and is stable for the lifetime of the
// artifact, across pause/resume and across process restarts.
func NewState(req NewRequest) *State {
	now := time.Now().UTC()
	workflowID := req.WorkflowID
	if workflowID == "" {
		workflowID = uuid.New().String()
	}
	mode := req.RegenerationMode
	if req.ParentSurveyID != "" && mode == "" {
		mode = RegenerationFull
	}
	return &State{
		WorkflowID:       workflowID,
		SurveyID:         uuid.New().String(),
		RFQID:            req.RFQID,
		RFQTitle:         req.Title,
		RFQText:          req.Text,
		Category:         req.Category,
		Segment:          req.Segment,
		ResearchGoal:     req.ResearchGoal,
		Methodology:      req.Methodology,
		Enhanced:         req.Enhanced,
		ParentSurveyID:   req.ParentSurveyID,
		RegenerationMode: mode,
		TargetSections:   req.TargetSections,
		MaxRetries:       0, // automatic regeneration is disabled by policy
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Patch is a partial state update returned by a stage. Nil fields are
// left untouched; a terminal failure may set only ErrorMessage.
type Patch struct {
	Embedding       []float32
	Examples        *retrieval.Examples
	UnmappedContent *string
	Context         *PromptContext
	CustomPrompt    *string

	GeneratedSurvey *survey.Survey
	RawSurvey       *string
	RawResponse     *string

	SchemaValid          *bool
	MethodologyCompliant *bool
	GoldenSimilarity     *float64
	PillarScores         map[string]float64
	OverallScore         *float64
	QualityGatePassed    *bool
	ValidationIssues     []string
	EvaluationStructural *bool

	PendingHumanReview *bool
	WorkflowPaused     *bool
	PromptApproved     *bool
	WorkflowCompleted  *bool
	ErrorMessage       *string

	FeedbackDigest *string
	ResearchGoal   *string
}

// Apply merges the patch into the state and bumps UpdatedAt.
func (p *Patch) Apply(s *State) {
	if p == nil {
		return
	}
	if p.Embedding != nil {
		s.Embedding = p.Embedding
	}
	if p.Examples != nil {
		s.Examples = p.Examples
	}
	if p.UnmappedContent != nil {
		s.UnmappedContent = *p.UnmappedContent
	}
	if p.Context != nil {
		s.Context = p.Context
	}
	if p.CustomPrompt != nil {
		s.CustomPrompt = *p.CustomPrompt
	}
	if p.GeneratedSurvey != nil {
		s.GeneratedSurvey = p.GeneratedSurvey
	}
	if p.RawSurvey != nil {
		s.RawSurvey = *p.RawSurvey
	}
	if p.RawResponse != nil {
		s.RawResponse = *p.RawResponse
	}
	if p.SchemaValid != nil {
		s.SchemaValid = *p.SchemaValid
	}
	if p.MethodologyCompliant != nil {
		s.MethodologyCompliant = *p.MethodologyCompliant
	}
	if p.GoldenSimilarity != nil {
		s.GoldenSimilarity = *p.GoldenSimilarity
	}
	if p.PillarScores != nil {
		s.PillarScores = p.PillarScores
	}
	if p.OverallScore != nil {
		s.OverallScore = *p.OverallScore
	}
	if p.QualityGatePassed != nil {
		s.QualityGatePassed = *p.QualityGatePassed
	}
	if p.ValidationIssues != nil {
		s.ValidationIssues = p.ValidationIssues
	}
	if p.EvaluationStructural != nil {
		s.EvaluationStructural = *p.EvaluationStructural
	}
	if p.PendingHumanReview != nil {
		s.PendingHumanReview = *p.PendingHumanReview
	}
	if p.WorkflowPaused != nil {
		s.WorkflowPaused = *p.WorkflowPaused
	}
	if p.PromptApproved != nil {
		s.PromptApproved = *p.PromptApproved
	}
	if p.WorkflowCompleted != nil {
		s.WorkflowCompleted = *p.WorkflowCompleted
	}
	if p.ErrorMessage != nil {
		s.ErrorMessage = *p.ErrorMessage
	}
	if p.FeedbackDigest != nil {
		s.FeedbackDigest = *p.FeedbackDigest
	}
	if p.ResearchGoal != nil {
		s.ResearchGoal = *p.ResearchGoal
	}
	s.UpdatedAt = time.Now().UTC()
}

// helpers for building patches without pointer noise at call sites

func boolPtr(b bool) *bool          { return &b }
func strPtr(s string) *string       { return &s }
func floatPtr(f float64) *float64   { return &f }
