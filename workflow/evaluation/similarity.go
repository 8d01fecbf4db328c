package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/c360studio/surveygen/retrieval"
	"github.com/c360studio/surveygen/survey"
)

// DefaultSimilarityThreshold is the golden-similarity score a survey
// must reach for the quality gate.
const DefaultSimilarityThreshold = 0.75

// GoldenSimilarity scores the generated survey against the best-matching
// golden example: the survey is embedded and searched at survey
// granularity, and the top result's score is the similarity.
func GoldenSimilarity(ctx context.Context, embedder retrieval.Embedder, searcher retrieval.Searcher, s *survey.Survey) (float64, error) {
	if s == nil {
		return 0, fmt.Errorf("no survey to score")
	}

	text, err := surveyText(s)
	if err != nil {
		return 0, err
	}

	vector, err := embedder.Embed(ctx, text)
	if err != nil {
		return 0, fmt.Errorf("embed survey: %w", err)
	}

	results, err := searcher.Search(ctx, vector, retrieval.GranularitySurvey, 1, nil)
	if err != nil {
		return 0, fmt.Errorf("search golden examples: %w", err)
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0].Score, nil
}

// surveyText flattens a survey to the text representation used for
// embedding.
func surveyText(s *survey.Survey) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal survey for embedding: %w", err)
	}
	return string(data), nil
}

// Cosine returns the cosine similarity of two vectors, or 0 when either
// is empty or they differ in length.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
