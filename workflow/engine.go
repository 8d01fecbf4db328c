package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/surveygen/llm"
	"github.com/c360studio/surveygen/retrieval"
	"github.com/c360studio/surveygen/storage"
	"github.com/c360studio/surveygen/workflow/evaluation"
)

// ErrWorkflowPaused signals that a run was suspended for human review,
// not failed. Hosts must test for it with errors.Is and treat the
// workflow as resumable.
var ErrWorkflowPaused = errors.New("workflow paused for human review")

// ErrEmptySurvey is returned when a generated survey has zero
// questions at the persistence point. An empty survey is never stored
// as if it were successful.
var ErrEmptySurvey = errors.New("generated survey contains no questions")

// Review modes for the prompt_review gate.
const (
	ReviewDisabled    = "disabled"
	ReviewNonBlocking = "non_blocking"
	ReviewBlocking    = "blocking"
)

// OutcomeKind tags a stage result.
type OutcomeKind int

const (
	// OutcomeContinue proceeds to the next stage.
	OutcomeContinue OutcomeKind = iota
	// OutcomePaused suspends the run for human review.
	OutcomePaused
	// OutcomeFailed routes directly to the completion handler.
	OutcomeFailed
)

// StageOutcome is what every stage returns: a partial state update plus
// a routing tag. Stages prefer capturing failures into the patch's
// ErrorMessage over returning errors, so the completion handler stays
// the single place that turns failures into terminal events.
type StageOutcome struct {
	Kind  OutcomeKind
	Patch *Patch
}

// EngineConfig holds the tunable policy values for the pipeline.
type EngineConfig struct {
	ReviewMode          string        `json:"review_mode" yaml:"review_mode"`
	ReviewStageTimeout  time.Duration `json:"review_stage_timeout" yaml:"review_stage_timeout"`
	EvaluationEnabled   bool          `json:"evaluation_enabled" yaml:"evaluation_enabled"`
	SimilarityThreshold float64       `json:"similarity_threshold" yaml:"similarity_threshold"`
	LockWait            time.Duration `json:"lock_wait" yaml:"lock_wait"`

	PipelineTimeout         time.Duration `json:"pipeline_timeout" yaml:"pipeline_timeout"`
	EnhancedPipelineTimeout time.Duration `json:"enhanced_pipeline_timeout" yaml:"enhanced_pipeline_timeout"`
}

// DefaultEngineConfig returns the reference policy values.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ReviewMode:              ReviewDisabled,
		ReviewStageTimeout:      10 * time.Second,
		EvaluationEnabled:       true,
		SimilarityThreshold:     evaluation.DefaultSimilarityThreshold,
		LockWait:                30 * time.Second,
		PipelineTimeout:         900 * time.Second,
		EnhancedPipelineTimeout: 600 * time.Second,
	}
}

// Store is the durable persistence surface the engine needs. It is
// satisfied by *storage.Store.
type Store interface {
	GetRFQ(ctx context.Context, id string) (*storage.RFQ, error)
	PutWorkflowState(ctx context.Context, workflowID string, state any) error
	GetWorkflowState(ctx context.Context, workflowID string, out any) error
	PutSurvey(ctx context.Context, sv *storage.StoredSurvey) error
	GetSurvey(ctx context.Context, id string) (*storage.StoredSurvey, error)
	CreateReview(ctx context.Context, r *storage.Review) (string, error)
	GetReviewBySurvey(ctx context.Context, surveyID string) (*storage.Review, error)
	UpsertAnnotation(ctx context.Context, surveyID, questionID string, labels []string) error
}

// Generator is the LLM completion surface, satisfied by *llm.Client.
type Generator interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// ExampleFetcher assembles retrieval results for an embedding,
// satisfied by *retrieval.Fetcher.
type ExampleFetcher interface {
	Fetch(ctx context.Context, vector []float32, methodology string, filters *retrieval.Filters) (*retrieval.Examples, error)
}

// Engine runs the survey generation pipeline.
type Engine struct {
	cfg       EngineConfig
	store     Store
	embedder  retrieval.Embedder
	fetcher   ExampleFetcher
	searcher  retrieval.Searcher
	generator Generator
	evaluator evaluation.Evaluator
	validator *evaluation.Validator
	notifier  *Notifier
	registry  *Registry
	breaker   *CircuitBreaker
	logger    *slog.Logger
}

// EngineDeps bundles the engine's collaborators.
type EngineDeps struct {
	Store     Store
	Embedder  retrieval.Embedder
	Fetcher   ExampleFetcher
	Searcher  retrieval.Searcher
	Generator Generator
	Evaluator evaluation.Evaluator
	Validator *evaluation.Validator
	Notifier  *Notifier
	Registry  *Registry
	Breaker   *CircuitBreaker
	Logger    *slog.Logger
}

// NewEngine creates a pipeline engine.
func NewEngine(cfg EngineConfig, deps EngineDeps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	breaker := deps.Breaker
	if breaker == nil {
		breaker = NewCircuitBreaker("llm", 0, 0)
	}
	return &Engine{
		cfg:       cfg,
		store:     deps.Store,
		embedder:  deps.Embedder,
		fetcher:   deps.Fetcher,
		searcher:  deps.Searcher,
		generator: deps.Generator,
		evaluator: deps.Evaluator,
		validator: deps.Validator,
		notifier:  deps.Notifier,
		registry:  deps.Registry,
		breaker:   breaker,
		logger:    logger,
	}
}

// Run executes the full pipeline for an RFQ submission. It returns the
// final state together with ErrWorkflowPaused when the run suspended
// for review, or an error for admission rejection and pipeline timeout.
func (e *Engine) Run(ctx context.Context, req NewRequest) (*State, error) {
	state := NewState(req)

	release, err := e.registry.Admit(state.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("admit workflow %s: %w", state.WorkflowID, err)
	}
	defer release()

	timeout := e.cfg.PipelineTimeout
	if state.Enhanced {
		timeout = e.cfg.EnhancedPipelineTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tracker := e.registry.TrackerFor(state.WorkflowID, GenerationRanges)

	stages := []struct {
		step string
		fn   func(context.Context, *State) StageOutcome
	}{
		{StepInitializing, e.stageInitialize},
		{StepParsingRFQ, e.stageParseRFQ},
		{StepRetrieving, e.stageRetrieveExamples},
		{StepBuildingContext, e.stageBuildContext},
		{StepAwaitingReview, e.stagePromptReview},
		{StepGenerating, e.stageGenerate},
		{StepDetectingLabels, e.stageDetectLabels},
		{StepValidation, e.stageValidate},
	}

	var timedOut bool
	for _, st := range stages {
		if err := runCtx.Err(); err != nil {
			timedOut = true
			state.ErrorMessage = fmt.Sprintf("pipeline timeout after %s", timeout)
			break
		}

		// Errors or a missing survey skip validation; everything up to
		// and including detect_labels still runs.
		if st.step == StepValidation && (state.ErrorMessage != "" || state.GeneratedSurvey == nil) {
			break
		}

		e.notifier.Notify(runCtx, state.WorkflowID, tracker.ProgressEvent(st.step, "", nil))

		out := st.fn(runCtx, state)
		out.Patch.Apply(state)

		switch out.Kind {
		case OutcomePaused:
			return e.pause(runCtx, state, tracker)
		case OutcomeFailed:
			return e.complete(runCtx, state, tracker)
		}
	}

	finalState, err := e.complete(runCtx, state, tracker)
	if timedOut {
		return finalState, fmt.Errorf("workflow %s: %w", state.WorkflowID, context.DeadlineExceeded)
	}
	return finalState, err
}

// pause persists the state and surfaces the pause sentinel. The
// review-required event was already sent by the prompt_review stage;
// the tracker survives so resumption keeps its progress floor.
func (e *Engine) pause(ctx context.Context, state *State, tracker *Tracker) (*State, error) {
	if err := e.store.PutWorkflowState(ctx, state.WorkflowID, state); err != nil {
		// An unpersistable pause is a failure: the run could never be
		// resumed, so report it as an error terminal instead.
		e.logger.Error("persist paused workflow state",
			"workflow_id", state.WorkflowID,
			"error", err)
		state.WorkflowPaused = false
		state.PendingHumanReview = false
		state.ErrorMessage = fmt.Sprintf("persist paused state: %v", err)
		return e.complete(ctx, state, tracker)
	}

	e.logger.Info("workflow paused for human review",
		"workflow_id", state.WorkflowID,
		"survey_id", state.SurveyID)
	e.registry.RecordTerminal("paused")
	return state, ErrWorkflowPaused
}

// complete is the terminal fan-in: it emits exactly one terminal event
// (error or success), persists the final state, and tears down the
// progress tracker.
func (e *Engine) complete(ctx context.Context, state *State, tracker *Tracker) (*State, error) {
	// A paused state reaching completion means resumption went sideways
	// before clearing the flags; do not re-send the pause event.
	if state.WorkflowPaused {
		e.registry.RecordTerminal("paused")
		return state, ErrWorkflowPaused
	}

	state.WorkflowCompleted = true

	// Terminal events must go out even when the pipeline context is
	// already past its deadline.
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if state.ErrorMessage != "" {
		evt := tracker.CompletionEvent(StepCompleted, map[string]any{
			"survey_id": state.SurveyID,
			"error":     state.ErrorMessage,
		})
		evt.Type = EventTypeError
		e.notifier.Notify(notifyCtx, state.WorkflowID, evt)
		e.registry.RecordTerminal("error")
	} else {
		e.notifier.Notify(notifyCtx, state.WorkflowID, tracker.CompletionEvent(StepCompleted, map[string]any{
			"survey_id":           state.SurveyID,
			"quality_gate_passed": state.QualityGatePassed,
			"overall_score":       state.OverallScore,
		}))
		e.registry.RecordTerminal("success")
	}

	if err := e.store.PutWorkflowState(notifyCtx, state.WorkflowID, state); err != nil {
		e.logger.Error("persist final workflow state",
			"workflow_id", state.WorkflowID,
			"error", err)
	}

	e.registry.RemoveTracker(state.WorkflowID)

	e.logger.Info("workflow completed",
		"workflow_id", state.WorkflowID,
		"survey_id", state.SurveyID,
		"error", state.ErrorMessage,
		"quality_gate_passed", state.QualityGatePassed)
	return state, nil
}
