package surveyorchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/surveygen/config"
	"github.com/c360studio/surveygen/llm"
	"github.com/c360studio/surveygen/retrieval"
	"github.com/c360studio/surveygen/storage"
	"github.com/c360studio/surveygen/workflow"
	"github.com/c360studio/surveygen/workflow/evaluation"
)

// EngineWiring bundles the engine with the shared runtime objects
// sibling components need access to.
type EngineWiring struct {
	Engine   *workflow.Engine
	Registry *workflow.Registry
	Store    *storage.Store
	Rules    *evaluation.RuleSet
}

// BuildEngine wires storage, retrieval, generation and evaluation into
// a pipeline engine from the application config. The context governs
// bucket creation and the methodology rules watcher.
func BuildEngine(ctx context.Context, appCfg *config.Config, nc *natsclient.Client, js jetstream.JetStream, logger *slog.Logger) (*EngineWiring, error) {
	if appCfg == nil {
		return nil, fmt.Errorf("application config required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewStore(ctx, js)
	if err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}

	embedder := retrieval.NewHTTPEmbedder(appCfg.Embedding.URL, appCfg.Embedding.Model,
		retrieval.WithEmbedderLogger(logger))
	searcher := retrieval.NewHTTPSearcher(appCfg.Retrieval.URL,
		retrieval.WithSearcherLogger(logger))
	fetcher := retrieval.NewFetcher(searcher, logger)

	llmClient := llm.NewClient(appCfg.Model.Endpoint, llm.WithLogger(logger))

	rules, err := evaluation.NewRuleSet(appCfg.Evaluation.RulesPath, logger)
	if err != nil {
		return nil, fmt.Errorf("load methodology rules: %w", err)
	}
	if appCfg.Evaluation.RulesPath != "" {
		if err := rules.Watch(ctx); err != nil {
			logger.Warn("Methodology rules hot-reload unavailable", "error", err)
		}
	}

	registry := workflow.NewRegistry(appCfg.Engine.MaxConcurrent, nil, logger)

	engineCfg := workflow.DefaultEngineConfig()
	engineCfg.ReviewMode = appCfg.Review.Mode
	engineCfg.ReviewStageTimeout = appCfg.Review.StageTimeout
	engineCfg.EvaluationEnabled = appCfg.Evaluation.Enabled
	engineCfg.SimilarityThreshold = appCfg.Evaluation.SimilarityThreshold
	engineCfg.LockWait = appCfg.Engine.LockWait
	engineCfg.PipelineTimeout = appCfg.Engine.PipelineTimeout
	engineCfg.EnhancedPipelineTimeout = appCfg.Engine.EnhancedPipelineTimeout

	engine := workflow.NewEngine(engineCfg, workflow.EngineDeps{
		Store:     store,
		Embedder:  embedder,
		Fetcher:   fetcher,
		Searcher:  searcher,
		Generator: llmClient,
		Evaluator: evaluation.NewEvaluator(appCfg.Evaluation.Mode, llmClient, logger),
		Validator: evaluation.NewValidator(rules),
		Notifier:  workflow.NewNotifier(nc, logger),
		Registry:  registry,
		Breaker:   workflow.NewCircuitBreaker("llm", appCfg.Engine.BreakerThreshold, appCfg.Engine.BreakerTimeout),
		Logger:    logger,
	})

	return &EngineWiring{
		Engine:   engine,
		Registry: registry,
		Store:    store,
		Rules:    rules,
	}, nil
}
