package retrieval_test

import (
	"context"
	"errors"
	"testing"

	"github.com/c360studio/surveygen/retrieval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSearcher returns canned results per granularity with
// injectable failures.
type scriptedSearcher struct {
	searchErr      map[retrieval.Granularity]error
	methodologyErr error
	feedbackErr    error

	searchCalls []retrieval.Granularity
}

func (s *scriptedSearcher) Search(_ context.Context, _ []float32, granularity retrieval.Granularity, k int, _ *retrieval.Filters) ([]retrieval.ScoredExample, error) {
	s.searchCalls = append(s.searchCalls, granularity)
	if err := s.searchErr[granularity]; err != nil {
		return nil, err
	}
	out := make([]retrieval.ScoredExample, k)
	for i := range out {
		out[i] = retrieval.ScoredExample{ID: string(granularity), Score: 0.9}
	}
	return out, nil
}

func (s *scriptedSearcher) MethodologyBlocks(context.Context, string) ([]retrieval.MethodologyBlock, error) {
	if s.methodologyErr != nil {
		return nil, s.methodologyErr
	}
	return []retrieval.MethodologyBlock{{Methodology: "nps", Title: "Core question"}}, nil
}

func (s *scriptedSearcher) GetFeedbackDigest(context.Context, *retrieval.Filters) (*retrieval.FeedbackDigest, error) {
	if s.feedbackErr != nil {
		return nil, s.feedbackErr
	}
	return &retrieval.FeedbackDigest{Items: []retrieval.FeedbackItem{{QuestionKey: "sv-1.q1", Comment: "too vague"}}}, nil
}

func TestFetcher_FetchAllGranularities(t *testing.T) {
	searcher := &scriptedSearcher{}
	fetcher := retrieval.NewFetcher(searcher, nil)

	ex, err := fetcher.Fetch(context.Background(), []float32{1, 0}, "nps", nil)
	require.NoError(t, err)

	assert.Len(t, ex.Golden, 3)
	assert.Len(t, ex.Sections, 5)
	assert.Len(t, ex.Questions, 10)
	assert.Len(t, ex.Methodology, 1)
	require.NotNil(t, ex.Feedback)
	assert.Len(t, ex.Feedback.Items, 1)

	assert.Equal(t, []retrieval.Granularity{
		retrieval.GranularitySurvey,
		retrieval.GranularitySection,
		retrieval.GranularityQuestion,
	}, searcher.searchCalls)
}

func TestFetcher_SearchFailureIsFatal(t *testing.T) {
	searcher := &scriptedSearcher{searchErr: map[retrieval.Granularity]error{
		retrieval.GranularitySection: errors.New("index offline"),
	}}
	fetcher := retrieval.NewFetcher(searcher, nil)

	_, err := fetcher.Fetch(context.Background(), []float32{1, 0}, "", nil)
	assert.ErrorContains(t, err, "search sections")
}

func TestFetcher_AuxiliaryFailuresDegrade(t *testing.T) {
	searcher := &scriptedSearcher{
		methodologyErr: errors.New("templates unavailable"),
		feedbackErr:    errors.New("feedback store down"),
	}
	fetcher := retrieval.NewFetcher(searcher, nil)

	ex, err := fetcher.Fetch(context.Background(), []float32{1, 0}, "nps", nil)
	require.NoError(t, err)

	assert.Len(t, ex.Golden, 3)
	assert.Empty(t, ex.Methodology)
	assert.Nil(t, ex.Feedback)
}

func TestFetcher_SkipsMethodologyWhenUnset(t *testing.T) {
	searcher := &scriptedSearcher{methodologyErr: errors.New("should not be called")}
	fetcher := retrieval.NewFetcher(searcher, nil)

	ex, err := fetcher.Fetch(context.Background(), []float32{1, 0}, "", nil)
	require.NoError(t, err)
	assert.Empty(t, ex.Methodology)
}

func TestExamples_Empty(t *testing.T) {
	assert.True(t, (*retrieval.Examples)(nil).Empty())
	assert.True(t, (&retrieval.Examples{}).Empty())
	assert.True(t, (&retrieval.Examples{Methodology: []retrieval.MethodologyBlock{{}}}).Empty())
	assert.False(t, (&retrieval.Examples{Golden: []retrieval.ScoredExample{{ID: "g1"}}}).Empty())
}

func TestExamples_TopScore(t *testing.T) {
	assert.Zero(t, (&retrieval.Examples{}).TopScore())

	ex := &retrieval.Examples{Golden: []retrieval.ScoredExample{
		{ID: "g1", Score: 0.7},
		{ID: "g2", Score: 0.93},
		{ID: "g3", Score: 0.81},
	}}
	assert.InDelta(t, 0.93, ex.TopScore(), 1e-9)
}
