package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/c360studio/surveygen/llm"
	"github.com/c360studio/surveygen/retrieval"
	"github.com/c360studio/surveygen/storage"
	"github.com/c360studio/surveygen/survey"
	"github.com/c360studio/surveygen/workflow/evaluation"
	"github.com/c360studio/surveygen/workflow/prompts"
)

// stageInitialize does bookkeeping only; the engine has already emitted
// the initializing progress event.
func (e *Engine) stageInitialize(_ context.Context, state *State) StageOutcome {
	e.logger.Info("workflow starting",
		"workflow_id", state.WorkflowID,
		"survey_id", state.SurveyID,
		"rfq_title", state.RFQTitle,
		"enhanced", state.Enhanced)
	return StageOutcome{Kind: OutcomeContinue}
}

// stageParseRFQ computes the RFQ embedding and loads any stored
// enhanced RFQ data. An embedding failure is captured into the state,
// never re-raised, so the run still reaches completion.
func (e *Engine) stageParseRFQ(ctx context.Context, state *State) StageOutcome {
	patch := &Patch{}

	if state.ResearchGoal == "" {
		patch.ResearchGoal = strPtr(state.RFQTitle)
	}

	if state.RFQID != "" {
		if rfq, err := e.store.GetRFQ(ctx, state.RFQID); err == nil {
			if rfq.Unmapped != "" {
				patch.UnmappedContent = strPtr(rfq.Unmapped)
			}
		} else if !errors.Is(err, storage.ErrNotFound) {
			e.logger.Warn("load stored rfq",
				"workflow_id", state.WorkflowID,
				"rfq_id", state.RFQID,
				"error", err)
		}
	}

	vector, err := e.embedder.Embed(ctx, state.RFQText)
	if err != nil {
		e.logger.Warn("rfq embedding failed",
			"workflow_id", state.WorkflowID,
			"error", err)
		patch.ErrorMessage = strPtr(fmt.Sprintf("embed rfq: %v", err))
		return StageOutcome{Kind: OutcomeContinue, Patch: patch}
	}

	patch.Embedding = vector
	return StageOutcome{Kind: OutcomeContinue, Patch: patch}
}

// stageRetrieveExamples fetches similar prior work at three
// granularities. A missing embedding degrades to empty results rather
// than failing the run.
func (e *Engine) stageRetrieveExamples(ctx context.Context, state *State) StageOutcome {
	if len(state.Embedding) == 0 {
		e.logger.Info("no embedding available, skipping retrieval",
			"workflow_id", state.WorkflowID)
		return StageOutcome{Kind: OutcomeContinue, Patch: &Patch{Examples: &retrieval.Examples{}}}
	}

	filters := &retrieval.Filters{
		Category:    state.Category,
		Segment:     state.Segment,
		Methodology: state.Methodology,
	}
	examples, err := e.fetcher.Fetch(ctx, state.Embedding, state.Methodology, filters)
	if err != nil {
		e.logger.Warn("example retrieval failed",
			"workflow_id", state.WorkflowID,
			"error", err)
		return StageOutcome{Kind: OutcomeContinue, Patch: &Patch{
			Examples:     &retrieval.Examples{},
			ErrorMessage: strPtr(fmt.Sprintf("retrieve examples: %v", err)),
		}}
	}

	patch := &Patch{Examples: examples}
	if digest := formatFeedbackDigest(examples.Feedback); digest != "" {
		patch.FeedbackDigest = strPtr(digest)
	}
	return StageOutcome{Kind: OutcomeContinue, Patch: patch}
}

// stageBuildContext is pure assembly, no external calls.
func (e *Engine) stageBuildContext(_ context.Context, state *State) StageOutcome {
	return StageOutcome{Kind: OutcomeContinue, Patch: &Patch{
		Context: &PromptContext{
			RFQTitle:        state.RFQTitle,
			RFQText:         state.RFQText,
			Category:        state.Category,
			Segment:         state.Segment,
			ResearchGoal:    state.ResearchGoal,
			Methodology:     state.Methodology,
			Examples:        state.Examples,
			UnmappedContent: state.UnmappedContent,
			FeedbackDigest:  state.FeedbackDigest,
			TargetSections:  state.TargetSections,
			AssembledAt:     time.Now().UTC(),
		},
	}}
}

// stagePromptReview is the human-review gate. Every auxiliary failure
// and the stage timeout FAIL OPEN: the pipeline proceeds as if the
// prompt were approved rather than blocking on a review subsystem
// outage.
func (e *Engine) stagePromptReview(ctx context.Context, state *State) StageOutcome {
	if e.cfg.ReviewMode == ReviewDisabled || e.cfg.ReviewMode == "" {
		return approveOutcome("")
	}

	type reviewResult struct {
		outcome StageOutcome
	}
	resultCh := make(chan reviewResult, 1)

	stageCtx, cancel := context.WithTimeout(ctx, e.cfg.ReviewStageTimeout)
	defer cancel()

	go func() {
		resultCh <- reviewResult{outcome: e.reviewGate(stageCtx, state)}
	}()

	select {
	case r := <-resultCh:
		return r.outcome
	case <-stageCtx.Done():
		e.logger.Warn("prompt review stage timed out, failing open",
			"workflow_id", state.WorkflowID,
			"timeout", e.cfg.ReviewStageTimeout)
		return approveOutcome("")
	}
}

// reviewGate implements the review-mode decision table.
func (e *Engine) reviewGate(ctx context.Context, state *State) StageOutcome {
	review, err := e.store.GetReviewBySurvey(ctx, state.SurveyID)
	switch {
	case err == nil:
		switch review.Status {
		case storage.ReviewStatusApproved:
			return approveOutcome(review.EditedPrompt)
		case storage.ReviewStatusRejected:
			return StageOutcome{Kind: OutcomeFailed, Patch: &Patch{
				PendingHumanReview: boolPtr(false),
				ErrorMessage:       strPtr("prompt review rejected"),
			}}
		default:
			// Pending review already exists
			if e.cfg.ReviewMode == ReviewNonBlocking {
				return approveOutcome("")
			}
			return e.pauseForReview(ctx, state)
		}

	case errors.Is(err, storage.ErrNotFound):
		if e.cfg.ReviewMode == ReviewNonBlocking {
			// Record the review request but proceed
			if _, err := e.store.CreateReview(ctx, &storage.Review{
				SurveyID:   state.SurveyID,
				WorkflowID: state.WorkflowID,
				Status:     storage.ReviewStatusPending,
			}); err != nil {
				e.logger.Warn("create nonblocking review record",
					"workflow_id", state.WorkflowID,
					"error", err)
			}
			return approveOutcome("")
		}

		if _, err := e.store.CreateReview(ctx, &storage.Review{
			SurveyID:   state.SurveyID,
			WorkflowID: state.WorkflowID,
			Status:     storage.ReviewStatusPending,
		}); err != nil {
			// Fail open: cannot create the review record, proceed
			e.logger.Warn("create review record failed, failing open",
				"workflow_id", state.WorkflowID,
				"error", err)
			return approveOutcome("")
		}
		return e.pauseForReview(ctx, state)

	default:
		// Fail open on any review-subsystem failure
		e.logger.Warn("review lookup failed, failing open",
			"workflow_id", state.WorkflowID,
			"error", err)
		return approveOutcome("")
	}
}

// pauseForReview emits the review-required event and tags the run
// paused. The engine persists state before the sentinel surfaces.
func (e *Engine) pauseForReview(ctx context.Context, state *State) StageOutcome {
	tracker := e.registry.TrackerFor(state.WorkflowID, GenerationRanges)
	evt := tracker.ProgressEvent(StepAwaitingReview, "", map[string]any{
		"survey_id": state.SurveyID,
	})
	evt.Type = EventTypeReviewRequired
	evt.WorkflowPaused = true
	e.notifier.Notify(ctx, state.WorkflowID, evt)

	return StageOutcome{Kind: OutcomePaused, Patch: &Patch{
		PendingHumanReview: boolPtr(true),
		WorkflowPaused:     boolPtr(true),
		PromptApproved:     boolPtr(false),
	}}
}

func approveOutcome(customPrompt string) StageOutcome {
	patch := &Patch{
		PromptApproved:     boolPtr(true),
		PendingHumanReview: boolPtr(false),
	}
	if customPrompt != "" {
		patch.CustomPrompt = strPtr(customPrompt)
	}
	return StageOutcome{Kind: OutcomeContinue, Patch: patch}
}

// stageGenerate invokes the LLM under the circuit breaker. On failure
// it salvages any raw upstream response into the state for audit and
// continues, leaving the completion handler to report the error.
func (e *Engine) stageGenerate(ctx context.Context, state *State) StageOutcome {
	userPrompt, err := e.buildGenerationPrompt(ctx, state)
	if err != nil {
		return StageOutcome{Kind: OutcomeContinue, Patch: &Patch{
			ErrorMessage: strPtr(fmt.Sprintf("build generation prompt: %v", err)),
		}}
	}

	var resp *llm.Response
	callErr := e.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		resp, err = e.generator.Complete(ctx, llm.Request{
			Messages: []llm.Message{
				{Role: "system", Content: prompts.SystemPrompt()},
				{Role: "user", Content: userPrompt},
			},
		})
		return err
	})
	if callErr != nil {
		patch := &Patch{ErrorMessage: strPtr(fmt.Sprintf("generate survey: %v", callErr))}
		if raw := llm.RawResponseFromError(callErr); raw != "" {
			patch.RawResponse = strPtr(raw)
		}
		e.logger.Error("survey generation failed",
			"workflow_id", state.WorkflowID,
			"error", callErr)
		return StageOutcome{Kind: OutcomeContinue, Patch: patch}
	}

	doc, err := survey.Parse(resp.Content)
	if err != nil {
		// The raw text is still valuable for debugging even when it
		// doesn't parse.
		genErr := llm.NewGenerationError("parse generated survey", resp.Content, err)
		e.logger.Error("generated survey unparseable",
			"workflow_id", state.WorkflowID,
			"error", genErr)
		return StageOutcome{Kind: OutcomeContinue, Patch: &Patch{
			ErrorMessage: strPtr(genErr.Error()),
			RawResponse:  strPtr(resp.Content),
		}}
	}

	if doc.Methodology == "" {
		doc.Methodology = state.Methodology
	}

	return StageOutcome{Kind: OutcomeContinue, Patch: &Patch{
		GeneratedSurvey: doc,
		RawSurvey:       strPtr(resp.Content),
	}}
}

// buildGenerationPrompt picks the human-edited custom prompt when one
// exists, the regeneration prompt for regeneration runs, and the
// standard survey-writer prompt otherwise.
func (e *Engine) buildGenerationPrompt(ctx context.Context, state *State) (string, error) {
	if state.CustomPrompt != "" {
		return state.CustomPrompt, nil
	}

	pctx := promptContextFor(state)

	if state.ParentSurveyID != "" {
		parent, err := e.store.GetSurvey(ctx, state.ParentSurveyID)
		if err != nil {
			return "", fmt.Errorf("load parent survey %s: %w", state.ParentSurveyID, err)
		}
		parentJSON, err := json.Marshal(parent.Document)
		if err != nil {
			return "", fmt.Errorf("marshal parent survey: %w", err)
		}
		return prompts.RegenerationPrompt(pctx, string(state.RegenerationMode), string(parentJSON)), nil
	}

	return prompts.SurveyWriterPrompt(pctx), nil
}

func promptContextFor(state *State) *prompts.Context {
	pctx := &prompts.Context{
		RFQTitle:       state.RFQTitle,
		RFQText:        state.RFQText,
		Category:       state.Category,
		Segment:        state.Segment,
		ResearchGoal:   state.ResearchGoal,
		Methodology:    state.Methodology,
		FeedbackDigest: state.FeedbackDigest,
		TargetSections: state.TargetSections,
	}
	if state.Context != nil {
		pctx.Unmapped = state.Context.UnmappedContent
		pctx.Examples = state.Context.Examples
	} else {
		pctx.Unmapped = state.UnmappedContent
		pctx.Examples = state.Examples
	}
	return pctx
}

// stageDetectLabels always runs after generation, as a no-op when there
// is no survey. Detected labels are merged into existing annotations by
// union, keyed by the survey-scoped question key so regenerations of
// the same survey id cannot collide.
func (e *Engine) stageDetectLabels(ctx context.Context, state *State) StageOutcome {
	if state.GeneratedSurvey == nil {
		return StageOutcome{Kind: OutcomeContinue}
	}

	labeled := 0
	for _, q := range state.GeneratedSurvey.Questions() {
		labels := survey.DetectLabels(q)
		if len(labels) == 0 {
			continue
		}
		if err := e.store.UpsertAnnotation(ctx, state.SurveyID, q.ID, labels); err != nil {
			// Annotations are auxiliary; never fail the run over them
			e.logger.Warn("store annotation",
				"workflow_id", state.WorkflowID,
				"question_id", q.ID,
				"error", err)
			continue
		}
		labeled++
	}

	e.logger.Info("label detection finished",
		"workflow_id", state.WorkflowID,
		"questions_labeled", labeled)
	return StageOutcome{Kind: OutcomeContinue}
}

// stageValidate scores the generated survey. The quality gate never
// triggers an automatic retry: regardless of outcome the engine routes
// to completion with the gate result carried on the state.
func (e *Engine) stageValidate(ctx context.Context, state *State) StageOutcome {
	if !e.cfg.EvaluationEnabled {
		return e.structuralOnly(ctx, state)
	}

	lock := e.registry.EvalLockFor(state.SurveyID)
	acquired := lock.TryAcquire()
	if !acquired {
		acquired = lock.Acquire(ctx, e.cfg.LockWait)
	}
	if !acquired {
		// Another evaluation holds the lock; fall back to the cached
		// result rather than running a second concurrent evaluation.
		return e.cachedOrPending(ctx, state)
	}
	defer func() {
		lock.Release()
		e.registry.CleanupEvalLock(state.SurveyID)
	}()

	result := e.validator.Validate(state.GeneratedSurvey)

	similarity, err := evaluation.GoldenSimilarity(ctx, e.embedder, e.searcher, state.GeneratedSurvey)
	if err != nil {
		e.logger.Warn("golden similarity scoring failed",
			"workflow_id", state.WorkflowID,
			"error", err)
		result.Issues = append(result.Issues, fmt.Sprintf("similarity scoring failed: %v", err))
	}

	tracker := e.registry.TrackerFor(state.WorkflowID, GenerationRanges)
	e.notifier.Notify(ctx, state.WorkflowID, tracker.ProgressEvent(StepEvaluatingPillar, "", nil))

	scores, err := e.evaluator.Evaluate(ctx, state.GeneratedSurvey, state.RFQText)
	if err != nil {
		e.logger.Warn("pillar evaluation failed",
			"workflow_id", state.WorkflowID,
			"error", err)
		result.Issues = append(result.Issues, fmt.Sprintf("pillar evaluation failed: %v", err))
		scores = evaluation.PillarScores{}
	}
	overall := scores.Overall()

	gate := result.SchemaValid && result.MethodologyCompliant && similarity >= e.cfg.SimilarityThreshold

	e.persistScoredSurvey(ctx, state, gate, overall)

	return StageOutcome{Kind: OutcomeContinue, Patch: &Patch{
		SchemaValid:          boolPtr(result.SchemaValid),
		MethodologyCompliant: boolPtr(result.MethodologyCompliant),
		GoldenSimilarity:     floatPtr(similarity),
		PillarScores:         scores,
		OverallScore:         floatPtr(overall),
		QualityGatePassed:    boolPtr(gate),
		ValidationIssues:     result.Issues,
	}}
}

// structuralOnly runs the cheap validation mode used when evaluation is
// disabled: structure and required fields only, no similarity and no
// pillar calls.
func (e *Engine) structuralOnly(ctx context.Context, state *State) StageOutcome {
	result := e.validator.ValidateStructural(state.GeneratedSurvey)
	gate := result.SchemaValid && result.MethodologyCompliant

	e.persistScoredSurvey(ctx, state, gate, 0)

	return StageOutcome{Kind: OutcomeContinue, Patch: &Patch{
		SchemaValid:          boolPtr(result.SchemaValid),
		MethodologyCompliant: boolPtr(result.MethodologyCompliant),
		QualityGatePassed:    boolPtr(gate),
		ValidationIssues:     result.Issues,
		EvaluationStructural: boolPtr(true),
	}}
}

// cachedOrPending resolves a lock-contended evaluation: reuse the last
// persisted scores when present, otherwise report the evaluation as
// pending.
func (e *Engine) cachedOrPending(ctx context.Context, state *State) StageOutcome {
	e.logger.Info("evaluation lock busy, using cached result",
		"workflow_id", state.WorkflowID,
		"survey_id", state.SurveyID)

	if cached, err := e.store.GetSurvey(ctx, state.SurveyID); err == nil {
		return StageOutcome{Kind: OutcomeContinue, Patch: &Patch{
			QualityGatePassed: boolPtr(cached.QualityGatePassed),
			OverallScore:      floatPtr(cached.OverallScore),
			ValidationIssues:  []string{ErrEvaluationPending.Error() + ", reused cached scores"},
		}}
	}

	return StageOutcome{Kind: OutcomeContinue, Patch: &Patch{
		ValidationIssues: []string{ErrEvaluationPending.Error()},
	}}
}

// persistScoredSurvey writes the survey and its gate outcome to the
// durable store. Failures are logged; the terminal event still carries
// the scores.
func (e *Engine) persistScoredSurvey(ctx context.Context, state *State, gate bool, overall float64) {
	if state.GeneratedSurvey == nil {
		return
	}
	if err := e.store.PutSurvey(ctx, &storage.StoredSurvey{
		ID:                state.SurveyID,
		RFQID:             state.RFQID,
		WorkflowID:        state.WorkflowID,
		ParentSurveyID:    state.ParentSurveyID,
		Document:          state.GeneratedSurvey,
		Raw:               state.RawSurvey,
		QualityGatePassed: gate,
		OverallScore:      overall,
	}); err != nil {
		e.logger.Error("persist scored survey",
			"workflow_id", state.WorkflowID,
			"survey_id", state.SurveyID,
			"error", err)
	}
}

// formatFeedbackDigest flattens the digest into prompt-ready text.
func formatFeedbackDigest(digest *retrieval.FeedbackDigest) string {
	if digest == nil || len(digest.Items) == 0 {
		return ""
	}
	out := ""
	for _, item := range digest.Items {
		out += fmt.Sprintf("- [%s] %s\n", item.QuestionKey, item.Comment)
	}
	return out
}
