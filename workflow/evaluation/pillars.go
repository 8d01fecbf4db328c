package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/c360studio/surveygen/llm"
	"github.com/c360studio/surveygen/survey"
)

// Pillar names for quality scoring.
const (
	PillarContentValidity     = "content_validity"
	PillarMethodologicalRigor = "methodological_rigor"
	PillarClarity             = "clarity"
	PillarStructuralCoherence = "structural_coherence"
	PillarDeploymentReadiness = "deployment_readiness"
)

// PillarWeights are the fixed weights applied to each pillar. They sum
// to 1.0.
var PillarWeights = map[string]float64{
	PillarContentValidity:     0.20,
	PillarMethodologicalRigor: 0.25,
	PillarClarity:             0.25,
	PillarStructuralCoherence: 0.20,
	PillarDeploymentReadiness: 0.10,
}

// pillarOrder fixes iteration order for prompts and per-pillar calls.
var pillarOrder = []string{
	PillarContentValidity,
	PillarMethodologicalRigor,
	PillarClarity,
	PillarStructuralCoherence,
	PillarDeploymentReadiness,
}

// PillarScores holds per-pillar scores in [0,1].
type PillarScores map[string]float64

// Overall computes the weighted overall score.
func (p PillarScores) Overall() float64 {
	var total float64
	for name, weight := range PillarWeights {
		total += p[name] * weight
	}
	return total
}

// Evaluator scores a generated survey across the quality pillars.
type Evaluator interface {
	// Name returns the evaluator identifier.
	Name() string

	// Evaluate returns per-pillar scores in [0,1].
	Evaluate(ctx context.Context, s *survey.Survey, rfqText string) (PillarScores, error)
}

// Evaluator modes selectable by config.
const (
	ModeSingleCall = "single_call"
	ModeLegacy     = "legacy"
	ModeBasic      = "basic"
)

// NewEvaluator builds the evaluator ladder for the given mode: the
// named evaluator first, falling back through cheaper variants down to
// the heuristic one, which cannot fail.
func NewEvaluator(mode string, client *llm.Client, logger *slog.Logger) Evaluator {
	if logger == nil {
		logger = slog.Default()
	}

	var ladder []Evaluator
	switch mode {
	case ModeLegacy:
		ladder = []Evaluator{&LegacyEvaluator{client: client}, &BasicEvaluator{}}
	case ModeBasic:
		ladder = []Evaluator{&BasicEvaluator{}}
	default:
		ladder = []Evaluator{
			&SingleCallEvaluator{client: client},
			&LegacyEvaluator{client: client},
			&BasicEvaluator{},
		}
	}

	return &fallbackEvaluator{ladder: ladder, logger: logger}
}

// fallbackEvaluator tries each evaluator in order until one succeeds.
type fallbackEvaluator struct {
	ladder []Evaluator
	logger *slog.Logger
}

func (f *fallbackEvaluator) Name() string { return f.ladder[0].Name() }

func (f *fallbackEvaluator) Evaluate(ctx context.Context, s *survey.Survey, rfqText string) (PillarScores, error) {
	var lastErr error
	for _, ev := range f.ladder {
		scores, err := ev.Evaluate(ctx, s, rfqText)
		if err == nil {
			return scores, nil
		}
		lastErr = err
		f.logger.Warn("pillar evaluator failed, falling back",
			"evaluator", ev.Name(),
			"error", err)
	}
	return nil, fmt.Errorf("all evaluators failed: %w", lastErr)
}

// SingleCallEvaluator scores all five pillars with one LLM call
// returning a JSON object.
type SingleCallEvaluator struct {
	client *llm.Client
}

func (e *SingleCallEvaluator) Name() string { return ModeSingleCall }

func (e *SingleCallEvaluator) Evaluate(ctx context.Context, s *survey.Survey, rfqText string) (PillarScores, error) {
	if e.client == nil {
		return nil, fmt.Errorf("no llm client configured")
	}

	surveyJSON, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal survey: %w", err)
	}

	prompt := fmt.Sprintf(`Score this survey against the research brief on five pillars, each 0.0-1.0.

Research brief:
%s

Survey:
%s

Respond with only a JSON object: {"content_validity": n, "methodological_rigor": n, "clarity": n, "structural_coherence": n, "deployment_readiness": n}`,
		rfqText, surveyJSON)

	zero := 0.0
	resp, err := e.client.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: "You are a survey methodology expert. Respond only with JSON."},
			{Role: "user", Content: prompt},
		},
		Temperature: &zero,
	})
	if err != nil {
		return nil, fmt.Errorf("pillar scoring call: %w", err)
	}

	scores, err := parsePillarJSON(resp.Content)
	if err != nil {
		return nil, llm.NewGenerationError("parse pillar scores", resp.Content, err)
	}
	return scores, nil
}

// LegacyEvaluator scores one pillar per LLM call.
type LegacyEvaluator struct {
	client *llm.Client
}

func (e *LegacyEvaluator) Name() string { return ModeLegacy }

func (e *LegacyEvaluator) Evaluate(ctx context.Context, s *survey.Survey, rfqText string) (PillarScores, error) {
	if e.client == nil {
		return nil, fmt.Errorf("no llm client configured")
	}

	surveyJSON, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal survey: %w", err)
	}

	zero := 0.0
	scores := make(PillarScores, len(pillarOrder))
	for _, pillar := range pillarOrder {
		prompt := fmt.Sprintf(`Score this survey's %s against the research brief from 0.0 to 1.0.

Research brief:
%s

Survey:
%s

Respond with only the number.`, strings.ReplaceAll(pillar, "_", " "), rfqText, surveyJSON)

		resp, err := e.client.Complete(ctx, llm.Request{
			Messages: []llm.Message{
				{Role: "system", Content: "You are a survey methodology expert. Respond only with a number."},
				{Role: "user", Content: prompt},
			},
			Temperature: &zero,
		})
		if err != nil {
			return nil, fmt.Errorf("score %s: %w", pillar, err)
		}

		score, err := strconv.ParseFloat(strings.TrimSpace(resp.Content), 64)
		if err != nil {
			return nil, llm.NewGenerationError("parse "+pillar+" score", resp.Content, err)
		}
		scores[pillar] = clamp01(score)
	}
	return scores, nil
}

// BasicEvaluator scores heuristically with no LLM calls. It never
// errors and serves as the last rung of the fallback ladder.
type BasicEvaluator struct{}

func (e *BasicEvaluator) Name() string { return ModeBasic }

func (e *BasicEvaluator) Evaluate(_ context.Context, s *survey.Survey, _ string) (PillarScores, error) {
	scores := PillarScores{
		PillarContentValidity:     0.5,
		PillarMethodologicalRigor: 0.5,
		PillarClarity:             0.5,
		PillarStructuralCoherence: 0.5,
		PillarDeploymentReadiness: 0.5,
	}
	if s == nil {
		return scores, nil
	}

	questions := s.Questions()
	n := len(questions)

	// Reasonable survey length
	if n >= 8 && n <= 30 {
		scores[PillarContentValidity] = 0.7
	}

	// Question type diversity
	types := make(map[survey.QuestionType]struct{})
	for _, q := range questions {
		types[q.Type] = struct{}{}
	}
	if len(types) >= 3 {
		scores[PillarMethodologicalRigor] = 0.7
	}

	// Short question text reads better
	long := 0
	for _, q := range questions {
		if len(q.Text) > 200 {
			long++
		}
	}
	if n > 0 && long == 0 {
		scores[PillarClarity] = 0.7
	}

	// Sections with purposes hold together
	withPurpose := 0
	for _, sec := range s.Sections {
		if sec.Purpose != "" {
			withPurpose++
		}
	}
	if len(s.Sections) > 0 && withPurpose == len(s.Sections) {
		scores[PillarStructuralCoherence] = 0.7
	}

	if s.Title != "" && s.Description != "" {
		scores[PillarDeploymentReadiness] = 0.7
	}

	return scores, nil
}

// parsePillarJSON extracts the pillar score object from an LLM response.
func parsePillarJSON(content string) (PillarScores, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var raw map[string]float64
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("parse scores: %w", err)
	}

	scores := make(PillarScores, len(pillarOrder))
	for _, pillar := range pillarOrder {
		score, ok := raw[pillar]
		if !ok {
			return nil, fmt.Errorf("missing pillar %s", pillar)
		}
		scores[pillar] = clamp01(score)
	}
	return scores, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
