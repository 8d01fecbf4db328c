package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/c360studio/surveygen/storage"
)

// contextStaleAfter bounds how old an assembled prompt context may be
// before resumption rebuilds it. Underlying data may have changed while
// the workflow sat paused.
const contextStaleAfter = time.Hour

// Resume continues a workflow paused for human review. It is a separate
// entry point, not a re-run of the full graph: the persisted state is
// loaded, the review gate is forced open, the prompt context is rebuilt
// when missing or stale, and the pipeline runs generate → detect_labels
// → validate → completion.
//
// The generated survey is persisted immediately after generation and
// before validation so a later evaluation failure cannot lose the
// artifact; an empty survey at that point is a hard failure surfaced as
// ErrEmptySurvey.
func (e *Engine) Resume(ctx context.Context, workflowID string) (*State, error) {
	state := &State{}
	if err := e.store.GetWorkflowState(ctx, workflowID, state); err != nil {
		return nil, fmt.Errorf("load paused workflow %s: %w", workflowID, err)
	}
	if state.WorkflowCompleted {
		return nil, fmt.Errorf("workflow %s already completed", workflowID)
	}

	release, err := e.registry.Admit(workflowID)
	if err != nil {
		return nil, fmt.Errorf("admit workflow %s: %w", workflowID, err)
	}
	defer release()

	timeout := e.cfg.PipelineTimeout
	if state.Enhanced {
		timeout = e.cfg.EnhancedPipelineTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tracker := e.registry.TrackerFor(workflowID, GenerationRanges)

	// Force the review gate open; those stages are not re-run on resume.
	state.PromptApproved = true
	state.PendingHumanReview = false
	state.WorkflowPaused = false

	// Carry over a human-edited prompt from the approved review.
	if review, err := e.store.GetReviewBySurvey(runCtx, state.SurveyID); err == nil &&
		review.Status == storage.ReviewStatusApproved && review.EditedPrompt != "" {
		state.CustomPrompt = review.EditedPrompt
	}

	e.rebuildContextIfStale(runCtx, state)

	e.logger.Info("resuming workflow",
		"workflow_id", workflowID,
		"survey_id", state.SurveyID)

	e.notifier.Notify(runCtx, workflowID, tracker.ProgressEvent(StepGenerating, "", nil))
	out := e.stageGenerate(runCtx, state)
	out.Patch.Apply(state)

	// Persist the artifact before validation so evaluation failures
	// cannot lose it.
	if state.ErrorMessage == "" && state.GeneratedSurvey != nil {
		if state.GeneratedSurvey.QuestionCount() == 0 {
			state.ErrorMessage = ErrEmptySurvey.Error()
			if _, err := e.complete(runCtx, state, tracker); err != nil {
				return state, err
			}
			return state, fmt.Errorf("workflow %s: %w", workflowID, ErrEmptySurvey)
		}
		if err := e.persistGeneratedSurvey(runCtx, state); err != nil {
			state.ErrorMessage = fmt.Sprintf("persist generated survey: %v", err)
			return e.complete(runCtx, state, tracker)
		}
	}

	e.notifier.Notify(runCtx, workflowID, tracker.ProgressEvent(StepDetectingLabels, "", nil))
	out = e.stageDetectLabels(runCtx, state)
	out.Patch.Apply(state)

	if state.ErrorMessage == "" && state.GeneratedSurvey != nil {
		e.notifier.Notify(runCtx, workflowID, tracker.ProgressEvent(StepValidation, "", nil))
		out = e.stageValidate(runCtx, state)
		out.Patch.Apply(state)
	}

	return e.complete(runCtx, state, tracker)
}

// Reject terminates a workflow paused for human review with an error
// terminal. Used when a reviewer rejects the prompt after the run
// already suspended.
func (e *Engine) Reject(ctx context.Context, workflowID, reason string) (*State, error) {
	state := &State{}
	if err := e.store.GetWorkflowState(ctx, workflowID, state); err != nil {
		return nil, fmt.Errorf("load paused workflow %s: %w", workflowID, err)
	}
	if state.WorkflowCompleted {
		return nil, fmt.Errorf("workflow %s already completed", workflowID)
	}

	if reason == "" {
		reason = "prompt review rejected"
	}
	state.WorkflowPaused = false
	state.PendingHumanReview = false
	state.ErrorMessage = reason

	tracker := e.registry.TrackerFor(workflowID, GenerationRanges)
	return e.complete(ctx, state, tracker)
}

// rebuildContextIfStale re-derives the prompt context when it is
// missing or too old, re-running retrieval when an embedding exists.
func (e *Engine) rebuildContextIfStale(ctx context.Context, state *State) {
	if state.Context != nil && time.Since(state.Context.AssembledAt) < contextStaleAfter {
		return
	}

	e.logger.Info("rebuilding stale prompt context",
		"workflow_id", state.WorkflowID)

	if len(state.Embedding) > 0 {
		out := e.stageRetrieveExamples(ctx, state)
		// Retrieval failures here degrade to the previously stored
		// examples; do not let them overwrite ErrorMessage on resume.
		if out.Patch != nil && out.Patch.ErrorMessage == nil && out.Patch.Examples != nil {
			out.Patch.Apply(state)
		}
	}

	out := e.stageBuildContext(ctx, state)
	out.Patch.Apply(state)
}

// persistGeneratedSurvey writes the freshly generated survey, retrying
// once on a write failure.
func (e *Engine) persistGeneratedSurvey(ctx context.Context, state *State) error {
	record := &storage.StoredSurvey{
		ID:             state.SurveyID,
		RFQID:          state.RFQID,
		WorkflowID:     state.WorkflowID,
		ParentSurveyID: state.ParentSurveyID,
		Document:       state.GeneratedSurvey,
		Raw:            state.RawSurvey,
	}
	if err := e.store.PutSurvey(ctx, record); err != nil {
		e.logger.Warn("survey write failed, retrying once",
			"workflow_id", state.WorkflowID,
			"error", err)
		if err := e.store.PutSurvey(ctx, record); err != nil {
			return err
		}
	}
	return nil
}
