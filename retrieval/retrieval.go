// Package retrieval provides the embedding and similarity-search
// clients used to find golden examples for a new RFQ. Both services
// are external collaborators; this package defines their interfaces
// and HTTP implementations.
package retrieval

import (
	"context"
)

// Granularity selects the level at which examples are retrieved.
type Granularity string

const (
	GranularitySurvey   Granularity = "survey"
	GranularitySection  Granularity = "section"
	GranularityQuestion Granularity = "question"
)

// ScoredExample is one ranked retrieval hit.
type ScoredExample struct {
	ID      string         `json:"id"`
	Text    string         `json:"text"`
	Payload map[string]any `json:"payload,omitempty"`
	Score   float64        `json:"score"`
}

// MethodologyBlock is a curated methodology template fragment.
type MethodologyBlock struct {
	Methodology string `json:"methodology"`
	Title       string `json:"title"`
	Guidance    string `json:"guidance"`
}

// FeedbackDigest summarizes questions with outstanding human comments,
// fed into regeneration prompts.
type FeedbackDigest struct {
	Items []FeedbackItem `json:"items"`
	IDs   []string       `json:"ids"`
}

// FeedbackItem is one outstanding comment on a prior question.
type FeedbackItem struct {
	QuestionKey string `json:"question_key"`
	SectionID   string `json:"section_id,omitempty"`
	Comment     string `json:"comment"`
	Sentiment   string `json:"sentiment,omitempty"`
}

// Examples bundles everything retrieval produces for one RFQ.
type Examples struct {
	Golden      []ScoredExample    `json:"golden,omitempty"`
	Sections    []ScoredExample    `json:"sections,omitempty"`
	Questions   []ScoredExample    `json:"questions,omitempty"`
	Methodology []MethodologyBlock `json:"methodology,omitempty"`
	Feedback    *FeedbackDigest    `json:"feedback,omitempty"`
}

// Empty reports whether retrieval produced nothing usable.
func (e *Examples) Empty() bool {
	if e == nil {
		return true
	}
	return len(e.Golden) == 0 && len(e.Sections) == 0 && len(e.Questions) == 0
}

// TopScore returns the best golden-example score, or 0 when there are
// no golden hits.
func (e *Examples) TopScore() float64 {
	if e == nil || len(e.Golden) == 0 {
		return 0
	}
	best := e.Golden[0].Score
	for _, g := range e.Golden[1:] {
		if g.Score > best {
			best = g.Score
		}
	}
	return best
}

// Embedder computes an embedding vector for free text. Failures are
// stage-level errors for the caller, never process crashes.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Filters narrows a search to a category, segment or methodology.
type Filters struct {
	Category    string `json:"category,omitempty"`
	Segment     string `json:"segment,omitempty"`
	Methodology string `json:"methodology,omitempty"`
	SurveyID    string `json:"survey_id,omitempty"`
}

// Searcher performs vector similarity search over prior surveys at
// three granularities, plus methodology template and feedback lookups.
type Searcher interface {
	Search(ctx context.Context, vector []float32, granularity Granularity, k int, filters *Filters) ([]ScoredExample, error)
	MethodologyBlocks(ctx context.Context, methodology string) ([]MethodologyBlock, error)
	GetFeedbackDigest(ctx context.Context, filters *Filters) (*FeedbackDigest, error)
}
