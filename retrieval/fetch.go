package retrieval

import (
	"context"
	"fmt"
	"log/slog"
)

// Fetcher assembles the full example bundle for a workflow run.
type Fetcher struct {
	searcher Searcher
	logger   *slog.Logger
}

// NewFetcher creates a fetcher over the given searcher.
func NewFetcher(searcher Searcher, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{searcher: searcher, logger: logger}
}

// Fetch retrieves golden surveys, sections, questions, methodology blocks,
// and the feedback digest for a single embedding. Methodology and feedback
// fetch failures degrade to empty results; search failures are fatal.
func (f *Fetcher) Fetch(ctx context.Context, vector []float32, methodology string, filters *Filters) (*Examples, error) {
	golden, err := f.searcher.Search(ctx, vector, GranularitySurvey, 3, filters)
	if err != nil {
		return nil, fmt.Errorf("search golden surveys: %w", err)
	}

	sections, err := f.searcher.Search(ctx, vector, GranularitySection, 5, filters)
	if err != nil {
		return nil, fmt.Errorf("search sections: %w", err)
	}

	questions, err := f.searcher.Search(ctx, vector, GranularityQuestion, 10, filters)
	if err != nil {
		return nil, fmt.Errorf("search questions: %w", err)
	}

	ex := &Examples{
		Golden:    golden,
		Sections:  sections,
		Questions: questions,
	}

	if methodology != "" {
		blocks, err := f.searcher.MethodologyBlocks(ctx, methodology)
		if err != nil {
			f.logger.Warn("methodology block fetch failed, continuing without",
				"methodology", methodology,
				"error", err)
		} else {
			ex.Methodology = blocks
		}
	}

	digest, err := f.searcher.GetFeedbackDigest(ctx, filters)
	if err != nil {
		f.logger.Warn("feedback digest fetch failed, continuing without",
			"error", err)
	} else {
		ex.Feedback = digest
	}

	return ex, nil
}
