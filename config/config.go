// Package config provides configuration loading and management for surveygen.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/surveygen/llm"
)

// Config represents the complete surveygen configuration
type Config struct {
	Model      ModelConfig      `yaml:"model"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	NATS       NATSConfig       `yaml:"nats"`
	Engine     EngineConfig     `yaml:"engine"`
	Review     ReviewConfig     `yaml:"review"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
}

// ModelConfig configures the generation LLM endpoint
type ModelConfig struct {
	// Endpoint identifies the provider, base URL, and model
	Endpoint llm.EndpointConfig `yaml:"endpoint"`
	// Temperature controls randomness (0.0-1.0)
	Temperature float64 `yaml:"temperature"`
	// Timeout is the maximum time to wait for model responses
	Timeout time.Duration `yaml:"timeout"`
}

// EmbeddingConfig configures the embedding endpoint
type EmbeddingConfig struct {
	// URL is the base URL of the OpenAI-compatible embeddings API
	URL string `yaml:"url"`
	// Model is the embedding model identifier
	Model string `yaml:"model"`
}

// RetrievalConfig configures the example-retrieval service
type RetrievalConfig struct {
	// URL is the base URL of the retrieval search service
	URL string `yaml:"url"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server)
	URL string `yaml:"url"`
	// Embedded indicates whether to use embedded NATS
	Embedded bool `yaml:"embedded"`
}

// EngineConfig configures workflow execution policy
type EngineConfig struct {
	// MaxConcurrent caps simultaneously running workflows
	MaxConcurrent int `yaml:"max_concurrent"`
	// PipelineTimeout is the wall-clock limit for a full RFQ run
	PipelineTimeout time.Duration `yaml:"pipeline_timeout"`
	// EnhancedPipelineTimeout is the wall-clock limit for enhanced runs
	EnhancedPipelineTimeout time.Duration `yaml:"enhanced_pipeline_timeout"`
	// LockWait bounds how long validation waits for the evaluation lock
	LockWait time.Duration `yaml:"lock_wait"`
	// BreakerThreshold is consecutive LLM failures before the circuit opens
	BreakerThreshold int `yaml:"breaker_threshold"`
	// BreakerTimeout is how long the circuit stays open before probing
	BreakerTimeout time.Duration `yaml:"breaker_timeout"`
}

// ReviewConfig configures the human prompt-review gate
type ReviewConfig struct {
	// Mode is one of "disabled", "non_blocking", or "blocking"
	Mode string `yaml:"mode"`
	// StageTimeout bounds the review stage's store lookups
	StageTimeout time.Duration `yaml:"stage_timeout"`
}

// EvaluationConfig configures survey quality evaluation
type EvaluationConfig struct {
	// Enabled toggles full evaluation; when false validation runs
	// structural checks only
	Enabled bool `yaml:"enabled"`
	// Mode selects the evaluator: "single_call", "legacy", or "basic"
	Mode string `yaml:"mode"`
	// SimilarityThreshold is the minimum golden-similarity score for
	// the quality gate
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	// RulesPath points at the methodology rules YAML file
	RulesPath string `yaml:"rules_path"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Endpoint: llm.EndpointConfig{
				Provider: "openai",
				URL:      "https://api.openai.com/v1",
				Model:    "gpt-4o",
			},
			Temperature: 0.7,
			Timeout:     3 * time.Minute,
		},
		Embedding: EmbeddingConfig{
			URL:   "https://api.openai.com/v1",
			Model: "text-embedding-3-small",
		},
		Retrieval: RetrievalConfig{
			URL: "http://localhost:8091",
		},
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
		},
		Engine: EngineConfig{
			MaxConcurrent:           10,
			PipelineTimeout:         900 * time.Second,
			EnhancedPipelineTimeout: 600 * time.Second,
			LockWait:                30 * time.Second,
			BreakerThreshold:        5,
			BreakerTimeout:          60 * time.Second,
		},
		Review: ReviewConfig{
			Mode:         "disabled",
			StageTimeout: 10 * time.Second,
		},
		Evaluation: EvaluationConfig{
			Enabled:             true,
			Mode:                "single_call",
			SimilarityThreshold: 0.75,
			RulesPath:           "",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Model.Endpoint.Provider == "" {
		return fmt.Errorf("model.endpoint.provider is required")
	}
	if c.Model.Endpoint.Model == "" {
		return fmt.Errorf("model.endpoint.model is required")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		return fmt.Errorf("model.temperature must be between 0 and 1")
	}
	if c.Embedding.URL == "" {
		return fmt.Errorf("embedding.url is required")
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model is required")
	}
	if c.Engine.MaxConcurrent <= 0 {
		return fmt.Errorf("engine.max_concurrent must be positive")
	}
	switch c.Review.Mode {
	case "disabled", "non_blocking", "blocking":
	default:
		return fmt.Errorf("review.mode must be disabled, non_blocking, or blocking")
	}
	switch c.Evaluation.Mode {
	case "single_call", "legacy", "basic":
	default:
		return fmt.Errorf("evaluation.mode must be single_call, legacy, or basic")
	}
	if c.Evaluation.SimilarityThreshold < 0 || c.Evaluation.SimilarityThreshold > 1 {
		return fmt.Errorf("evaluation.similarity_threshold must be between 0 and 1")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Model
	if other.Model.Endpoint.Provider != "" {
		c.Model.Endpoint.Provider = other.Model.Endpoint.Provider
	}
	if other.Model.Endpoint.URL != "" {
		c.Model.Endpoint.URL = other.Model.Endpoint.URL
	}
	if other.Model.Endpoint.Model != "" {
		c.Model.Endpoint.Model = other.Model.Endpoint.Model
	}
	if other.Model.Endpoint.MaxTokens != 0 {
		c.Model.Endpoint.MaxTokens = other.Model.Endpoint.MaxTokens
	}
	if other.Model.Temperature != 0 {
		c.Model.Temperature = other.Model.Temperature
	}
	if other.Model.Timeout != 0 {
		c.Model.Timeout = other.Model.Timeout
	}

	// Embedding
	if other.Embedding.URL != "" {
		c.Embedding.URL = other.Embedding.URL
	}
	if other.Embedding.Model != "" {
		c.Embedding.Model = other.Embedding.Model
	}

	// Retrieval
	if other.Retrieval.URL != "" {
		c.Retrieval.URL = other.Retrieval.URL
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}

	// Engine
	if other.Engine.MaxConcurrent != 0 {
		c.Engine.MaxConcurrent = other.Engine.MaxConcurrent
	}
	if other.Engine.PipelineTimeout != 0 {
		c.Engine.PipelineTimeout = other.Engine.PipelineTimeout
	}
	if other.Engine.EnhancedPipelineTimeout != 0 {
		c.Engine.EnhancedPipelineTimeout = other.Engine.EnhancedPipelineTimeout
	}
	if other.Engine.LockWait != 0 {
		c.Engine.LockWait = other.Engine.LockWait
	}
	if other.Engine.BreakerThreshold != 0 {
		c.Engine.BreakerThreshold = other.Engine.BreakerThreshold
	}
	if other.Engine.BreakerTimeout != 0 {
		c.Engine.BreakerTimeout = other.Engine.BreakerTimeout
	}

	// Review
	if other.Review.Mode != "" {
		c.Review.Mode = other.Review.Mode
	}
	if other.Review.StageTimeout != 0 {
		c.Review.StageTimeout = other.Review.StageTimeout
	}

	// Evaluation
	if other.Evaluation.Mode != "" {
		c.Evaluation.Mode = other.Evaluation.Mode
	}
	if other.Evaluation.SimilarityThreshold != 0 {
		c.Evaluation.SimilarityThreshold = other.Evaluation.SimilarityThreshold
	}
	if other.Evaluation.RulesPath != "" {
		c.Evaluation.RulesPath = other.Evaluation.RulesPath
	}
}
