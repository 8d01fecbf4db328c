package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/c360studio/surveygen/llm"
	"github.com/c360studio/surveygen/retrieval"
	"github.com/c360studio/surveygen/storage"
	"github.com/c360studio/surveygen/survey"
	"github.com/c360studio/surveygen/workflow"
	"github.com/c360studio/surveygen/workflow/evaluation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validSurveyJSON is the canonical well-formed generation output used
// across engine tests: one screener plus enough structure to pass the
// structural checks.
const validSurveyJSON = `{
	"title": "B2B SaaS Churn Study",
	"methodology": "general",
	"sections": [
		{
			"id": "s1",
			"title": "Screener",
			"questions": [
				{"id": "q1", "text": "Do you currently manage software purchasing?", "type": "single_choice", "options": ["Yes", "No"]},
				{"id": "q2", "text": "How satisfied are you with your current tooling?", "type": "likert", "scale": {"min": 1, "max": 5}}
			]
		}
	]
}`

// fakeStore is an in-memory workflow.Store with per-method error
// injection.
type fakeStore struct {
	mu sync.Mutex

	rfqs        map[string]*storage.RFQ
	states      map[string][]byte
	surveys     map[string]*storage.StoredSurvey
	reviews     map[string]*storage.Review // keyed by survey id
	annotations map[string][]string

	putSurveyErr    error
	putStateErr     error
	reviewLookupErr error
	createReviews   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rfqs:        make(map[string]*storage.RFQ),
		states:      make(map[string][]byte),
		surveys:     make(map[string]*storage.StoredSurvey),
		reviews:     make(map[string]*storage.Review),
		annotations: make(map[string][]string),
	}
}

func (f *fakeStore) GetRFQ(_ context.Context, id string) (*storage.RFQ, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rfqs[id]; ok {
		return r, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) PutWorkflowState(_ context.Context, workflowID string, state any) error {
	if f.putStateErr != nil {
		return f.putStateErr
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[workflowID] = data
	return nil
}

func (f *fakeStore) GetWorkflowState(_ context.Context, workflowID string, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.states[workflowID]
	if !ok {
		return storage.ErrNotFound
	}
	return json.Unmarshal(data, out)
}

func (f *fakeStore) PutSurvey(_ context.Context, sv *storage.StoredSurvey) error {
	if f.putSurveyErr != nil {
		return f.putSurveyErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.surveys[sv.ID] = sv
	return nil
}

func (f *fakeStore) GetSurvey(_ context.Context, id string) (*storage.StoredSurvey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sv, ok := f.surveys[id]; ok {
		return sv, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) CreateReview(_ context.Context, r *storage.Review) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createReviews++
	id := fmt.Sprintf("rev-%d", f.createReviews)
	r.ID = id
	f.reviews[r.SurveyID] = r
	return id, nil
}

func (f *fakeStore) GetReviewBySurvey(_ context.Context, surveyID string) (*storage.Review, error) {
	if f.reviewLookupErr != nil {
		return nil, f.reviewLookupErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.reviews[surveyID]; ok {
		return r, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) UpsertAnnotation(_ context.Context, surveyID, questionID string, labels []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.annotations[surveyID+"."+questionID] = labels
	return nil
}

type fakeEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

type fakeSearcher struct {
	topScore float64
	err      error
}

func (f *fakeSearcher) Search(_ context.Context, _ []float32, _ retrieval.Granularity, _ int, _ *retrieval.Filters) ([]retrieval.ScoredExample, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []retrieval.ScoredExample{{ID: "golden-1", Score: f.topScore}}, nil
}

func (f *fakeSearcher) MethodologyBlocks(context.Context, string) ([]retrieval.MethodologyBlock, error) {
	return nil, nil
}

func (f *fakeSearcher) GetFeedbackDigest(context.Context, *retrieval.Filters) (*retrieval.FeedbackDigest, error) {
	return nil, nil
}

type fakeFetcher struct {
	examples *retrieval.Examples
	err      error
}

func (f *fakeFetcher) Fetch(context.Context, []float32, string, *retrieval.Filters) (*retrieval.Examples, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.examples != nil {
		return f.examples, nil
	}
	return &retrieval.Examples{}, nil
}

type fakeGenerator struct {
	mu       sync.Mutex
	content  string
	err      error
	calls    int
	requests []llm.Request
}

func (f *fakeGenerator) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: f.content}, nil
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeEvaluator returns fixed pillar scores.
type fakeEvaluator struct {
	scores evaluation.PillarScores
	err    error
	calls  int
}

func (f *fakeEvaluator) Name() string { return "fake" }

func (f *fakeEvaluator) Evaluate(_ context.Context, _ *survey.Survey, _ string) (evaluation.PillarScores, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.scores, nil
}

// engineFixture bundles an engine with its injected fakes.
type engineFixture struct {
	engine    *workflow.Engine
	store     *fakeStore
	embedder  *fakeEmbedder
	generator *fakeGenerator
	evaluator *fakeEvaluator
	registry  *workflow.Registry
}

func newEngineFixture(t *testing.T, cfg workflow.EngineConfig) *engineFixture {
	t.Helper()

	store := newFakeStore()
	embedder := &fakeEmbedder{vector: []float32{0.1, 0.2, 0.3}}
	generator := &fakeGenerator{content: validSurveyJSON}
	evaluator := &fakeEvaluator{scores: evaluation.PillarScores{
		evaluation.PillarContentValidity:     0.9,
		evaluation.PillarMethodologicalRigor: 0.9,
		evaluation.PillarClarity:             0.9,
		evaluation.PillarStructuralCoherence: 0.9,
		evaluation.PillarDeploymentReadiness: 0.9,
	}}
	registry := workflow.NewRegistry(10, nil, nil)

	rules, err := evaluation.NewRuleSet("", nil)
	require.NoError(t, err)

	engine := workflow.NewEngine(cfg, workflow.EngineDeps{
		Store:     store,
		Embedder:  embedder,
		Fetcher:   &fakeFetcher{},
		Searcher:  &fakeSearcher{topScore: 0.85},
		Generator: generator,
		Evaluator: evaluator,
		Validator: evaluation.NewValidator(rules),
		Notifier:  workflow.NewNotifier(nil, nil),
		Registry:  registry,
	})

	return &engineFixture{
		engine:    engine,
		store:     store,
		embedder:  embedder,
		generator: generator,
		evaluator: evaluator,
		registry:  registry,
	}
}

func TestEngine_RunHappyPath(t *testing.T) {
	fx := newEngineFixture(t, workflow.DefaultEngineConfig())

	state, err := fx.engine.Run(context.Background(), workflow.NewRequest{
		Title: "Churn study",
		Text:  "Understand why mid-market customers churn.",
	})
	require.NoError(t, err)
	require.NotNil(t, state)

	assert.True(t, state.WorkflowCompleted)
	assert.Empty(t, state.ErrorMessage)
	assert.True(t, state.SchemaValid)
	assert.True(t, state.MethodologyCompliant)
	assert.InDelta(t, 0.85, state.GoldenSimilarity, 1e-9)
	assert.True(t, state.QualityGatePassed)
	assert.InDelta(t, 0.9, state.OverallScore, 1e-9)
	assert.Equal(t, 1, fx.evaluator.calls)
	assert.NotNil(t, state.GeneratedSurvey)
	assert.Equal(t, 2, state.GeneratedSurvey.QuestionCount())

	// The scored survey is durable under its stable id.
	stored, err := fx.store.GetSurvey(context.Background(), state.SurveyID)
	require.NoError(t, err)
	assert.True(t, stored.QualityGatePassed)

	// Terminal runs tear down their tracker and free the admission slot.
	assert.Equal(t, 0, fx.registry.TrackerCount())
	assert.Equal(t, 0, fx.registry.ActiveWorkflows())
}

func TestEngine_RunQualityGateFailsBelowSimilarityThreshold(t *testing.T) {
	cfg := workflow.DefaultEngineConfig()
	cfg.SimilarityThreshold = 0.95
	fx := newEngineFixture(t, cfg)

	state, err := fx.engine.Run(context.Background(), workflow.NewRequest{
		Title: "Churn study",
		Text:  "Understand churn.",
	})
	require.NoError(t, err)

	// Below-threshold similarity fails the gate but is not an error
	// terminal, and never triggers an automatic retry.
	assert.False(t, state.QualityGatePassed)
	assert.Empty(t, state.ErrorMessage)
	assert.True(t, state.WorkflowCompleted)
	assert.Equal(t, 1, fx.generator.callCount())
	assert.Equal(t, 0, state.RetryCount)
}

func TestEngine_RunGenerationFailureIsSingleErrorTerminal(t *testing.T) {
	fx := newEngineFixture(t, workflow.DefaultEngineConfig())
	fx.generator.err = errors.New("model unavailable")

	state, err := fx.engine.Run(context.Background(), workflow.NewRequest{
		Title: "Churn study",
		Text:  "Understand churn.",
	})
	require.NoError(t, err)

	assert.True(t, state.WorkflowCompleted)
	assert.Contains(t, state.ErrorMessage, "generate survey")
	assert.Nil(t, state.GeneratedSurvey)

	// No retry, no survey persisted, tracker torn down.
	assert.Equal(t, 1, fx.generator.callCount())
	assert.Empty(t, fx.store.surveys)
	assert.Equal(t, 0, fx.registry.TrackerCount())
}

func TestEngine_RunUnparseableOutputKeepsRawResponse(t *testing.T) {
	fx := newEngineFixture(t, workflow.DefaultEngineConfig())
	fx.generator.content = "I could not produce a survey today."

	state, err := fx.engine.Run(context.Background(), workflow.NewRequest{
		Title: "Churn study",
		Text:  "Understand churn.",
	})
	require.NoError(t, err)

	assert.Contains(t, state.ErrorMessage, "parse generated survey")
	assert.Equal(t, "I could not produce a survey today.", state.RawResponse)
}

func TestEngine_RunEmbeddingFailureDegradesNotFails(t *testing.T) {
	fx := newEngineFixture(t, workflow.DefaultEngineConfig())
	fx.embedder.err = errors.New("embedding service down")

	state, err := fx.engine.Run(context.Background(), workflow.NewRequest{
		Title: "Churn study",
		Text:  "Understand churn.",
	})
	require.NoError(t, err)

	// The embedding failure is captured and the run still terminates
	// through the single completion path.
	assert.True(t, state.WorkflowCompleted)
	assert.Contains(t, state.ErrorMessage, "embed rfq")
	assert.Empty(t, state.Embedding)
}

func TestEngine_RunAdmissionCeiling(t *testing.T) {
	fx := newEngineFixture(t, workflow.DefaultEngineConfig())

	// Saturate the admission set out-of-band.
	for i := 0; i < 10; i++ {
		_, err := fx.registry.Admit(fmt.Sprintf("occupant-%d", i))
		require.NoError(t, err)
	}

	_, err := fx.engine.Run(context.Background(), workflow.NewRequest{
		WorkflowID: "wf-over",
		Title:      "Churn study",
		Text:       "Understand churn.",
	})
	require.ErrorIs(t, err, workflow.ErrTooManyWorkflows)
	assert.Equal(t, 0, fx.generator.callCount())
}

func TestEngine_BlockingReviewPausesRun(t *testing.T) {
	cfg := workflow.DefaultEngineConfig()
	cfg.ReviewMode = workflow.ReviewBlocking
	fx := newEngineFixture(t, cfg)

	state, err := fx.engine.Run(context.Background(), workflow.NewRequest{
		WorkflowID: "wf-pause",
		Title:      "Churn study",
		Text:       "Understand churn.",
	})
	require.ErrorIs(t, err, workflow.ErrWorkflowPaused)

	assert.True(t, state.WorkflowPaused)
	assert.True(t, state.PendingHumanReview)
	assert.False(t, state.WorkflowCompleted)

	// Generation never ran; the pause left a pending review record and
	// a persisted, resumable state. The tracker survives the pause.
	assert.Equal(t, 0, fx.generator.callCount())
	review, err := fx.store.GetReviewBySurvey(context.Background(), state.SurveyID)
	require.NoError(t, err)
	assert.Equal(t, storage.ReviewStatusPending, review.Status)
	assert.Contains(t, fx.store.states, "wf-pause")
	assert.Equal(t, 1, fx.registry.TrackerCount())
}

func TestEngine_ReviewFailuresFailOpen(t *testing.T) {
	cfg := workflow.DefaultEngineConfig()
	cfg.ReviewMode = workflow.ReviewBlocking
	fx := newEngineFixture(t, cfg)
	fx.store.reviewLookupErr = errors.New("kv unavailable")

	state, err := fx.engine.Run(context.Background(), workflow.NewRequest{
		Title: "Churn study",
		Text:  "Understand churn.",
	})
	require.NoError(t, err)

	// A broken review subsystem never blocks generation.
	assert.True(t, state.PromptApproved)
	assert.True(t, state.WorkflowCompleted)
	assert.Equal(t, 1, fx.generator.callCount())
}

func TestEngine_NonBlockingReviewProceeds(t *testing.T) {
	cfg := workflow.DefaultEngineConfig()
	cfg.ReviewMode = workflow.ReviewNonBlocking
	fx := newEngineFixture(t, cfg)

	state, err := fx.engine.Run(context.Background(), workflow.NewRequest{
		Title: "Churn study",
		Text:  "Understand churn.",
	})
	require.NoError(t, err)

	assert.True(t, state.WorkflowCompleted)
	assert.Equal(t, 1, fx.generator.callCount())

	// The review request was still recorded for later inspection.
	review, err := fx.store.GetReviewBySurvey(context.Background(), state.SurveyID)
	require.NoError(t, err)
	assert.Equal(t, storage.ReviewStatusPending, review.Status)
}

func TestEngine_ResumeAfterApproval(t *testing.T) {
	cfg := workflow.DefaultEngineConfig()
	cfg.ReviewMode = workflow.ReviewBlocking
	fx := newEngineFixture(t, cfg)

	paused, err := fx.engine.Run(context.Background(), workflow.NewRequest{
		WorkflowID: "wf-resume",
		Title:      "Churn study",
		Text:       "Understand churn.",
	})
	require.ErrorIs(t, err, workflow.ErrWorkflowPaused)

	// Reviewer approves with an edited prompt.
	fx.store.reviews[paused.SurveyID].Status = storage.ReviewStatusApproved
	fx.store.reviews[paused.SurveyID].EditedPrompt = "Write a 6-question churn survey."

	state, err := fx.engine.Resume(context.Background(), "wf-resume")
	require.NoError(t, err)

	assert.True(t, state.WorkflowCompleted)
	assert.False(t, state.WorkflowPaused)
	assert.Empty(t, state.ErrorMessage)
	assert.NotNil(t, state.GeneratedSurvey)

	// The human-edited prompt replaced the assembled one.
	require.Equal(t, 1, fx.generator.callCount())
	userMsg := fx.generator.requests[0].Messages[len(fx.generator.requests[0].Messages)-1]
	assert.Equal(t, "Write a 6-question churn survey.", userMsg.Content)

	// The stable survey id survived the pause.
	assert.Equal(t, paused.SurveyID, state.SurveyID)
}

func TestEngine_ResumeEmptySurveyIsHardFailure(t *testing.T) {
	cfg := workflow.DefaultEngineConfig()
	cfg.ReviewMode = workflow.ReviewBlocking
	fx := newEngineFixture(t, cfg)
	fx.generator.content = `{"title": "Empty", "sections": []}`

	paused, err := fx.engine.Run(context.Background(), workflow.NewRequest{
		WorkflowID: "wf-empty",
		Title:      "Churn study",
		Text:       "Understand churn.",
	})
	require.ErrorIs(t, err, workflow.ErrWorkflowPaused)
	fx.store.reviews[paused.SurveyID].Status = storage.ReviewStatusApproved

	state, err := fx.engine.Resume(context.Background(), "wf-empty")
	require.ErrorIs(t, err, workflow.ErrEmptySurvey)

	// The empty survey was never persisted as a success.
	assert.NotEmpty(t, state.ErrorMessage)
	assert.Empty(t, fx.store.surveys)
}

func TestEngine_ResumeCompletedWorkflowRejected(t *testing.T) {
	fx := newEngineFixture(t, workflow.DefaultEngineConfig())

	state, err := fx.engine.Run(context.Background(), workflow.NewRequest{
		WorkflowID: "wf-done",
		Title:      "Churn study",
		Text:       "Understand churn.",
	})
	require.NoError(t, err)
	require.True(t, state.WorkflowCompleted)

	_, err = fx.engine.Resume(context.Background(), "wf-done")
	assert.ErrorContains(t, err, "already completed")
}

func TestEngine_RejectTerminatesPausedWorkflow(t *testing.T) {
	cfg := workflow.DefaultEngineConfig()
	cfg.ReviewMode = workflow.ReviewBlocking
	fx := newEngineFixture(t, cfg)

	_, err := fx.engine.Run(context.Background(), workflow.NewRequest{
		WorkflowID: "wf-reject",
		Title:      "Churn study",
		Text:       "Understand churn.",
	})
	require.ErrorIs(t, err, workflow.ErrWorkflowPaused)

	state, err := fx.engine.Reject(context.Background(), "wf-reject", "off brief")
	require.NoError(t, err)

	assert.True(t, state.WorkflowCompleted)
	assert.Equal(t, "off brief", state.ErrorMessage)
	assert.False(t, state.WorkflowPaused)
	assert.Equal(t, 0, fx.generator.callCount())

	// Rejected workflows cannot be resumed afterwards.
	_, err = fx.engine.Resume(context.Background(), "wf-reject")
	assert.ErrorContains(t, err, "already completed")
}

func TestEngine_StructuralOnlyWhenEvaluationDisabled(t *testing.T) {
	cfg := workflow.DefaultEngineConfig()
	cfg.EvaluationEnabled = false
	fx := newEngineFixture(t, cfg)

	state, err := fx.engine.Run(context.Background(), workflow.NewRequest{
		Title: "Churn study",
		Text:  "Understand churn.",
	})
	require.NoError(t, err)

	assert.True(t, state.SchemaValid)
	assert.True(t, state.QualityGatePassed)
	assert.True(t, state.EvaluationStructural)
	assert.Zero(t, state.GoldenSimilarity)
	// Only the generation call hit the embedder-free path: the single
	// embed call belongs to the RFQ parse stage.
	assert.Equal(t, 1, fx.embedder.calls)
}

func TestEngine_LabelsAnnotatedDuringRun(t *testing.T) {
	fx := newEngineFixture(t, workflow.DefaultEngineConfig())

	state, err := fx.engine.Run(context.Background(), workflow.NewRequest{
		Title: "Churn study",
		Text:  "Understand churn.",
	})
	require.NoError(t, err)

	// q1 is a screener, q2 a likert: both should have annotations keyed
	// by the survey id.
	assert.NotEmpty(t, fx.store.annotations[state.SurveyID+".q1"])
	assert.NotEmpty(t, fx.store.annotations[state.SurveyID+".q2"])
}

func TestEngine_RegenerationUsesParentSurvey(t *testing.T) {
	fx := newEngineFixture(t, workflow.DefaultEngineConfig())

	parent, err := fx.engine.Run(context.Background(), workflow.NewRequest{
		Title: "Churn study",
		Text:  "Understand churn.",
	})
	require.NoError(t, err)

	child, err := fx.engine.Run(context.Background(), workflow.NewRequest{
		Title:          "Churn study v2",
		Text:           "Understand churn, round two.",
		ParentSurveyID: parent.SurveyID,
	})
	require.NoError(t, err)

	assert.Equal(t, workflow.RegenerationFull, child.RegenerationMode)
	assert.NotEqual(t, parent.SurveyID, child.SurveyID)

	stored, err := fx.store.GetSurvey(context.Background(), child.SurveyID)
	require.NoError(t, err)
	assert.Equal(t, parent.SurveyID, stored.ParentSurveyID)
}
