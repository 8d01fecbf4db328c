package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// maxResponseSize limits response bodies to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// HTTPEmbedder calls an OpenAI-compatible embeddings endpoint.
type HTTPEmbedder struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// EmbedderOption configures an HTTPEmbedder.
type EmbedderOption func(*HTTPEmbedder)

// WithEmbedderHTTPClient sets a custom HTTP client.
func WithEmbedderHTTPClient(c *http.Client) EmbedderOption {
	return func(e *HTTPEmbedder) { e.httpClient = c }
}

// WithEmbedderLogger sets the logger.
func WithEmbedderLogger(logger *slog.Logger) EmbedderOption {
	return func(e *HTTPEmbedder) { e.logger = logger }
}

// NewHTTPEmbedder creates an embedder for the given endpoint and model.
func NewHTTPEmbedder(baseURL, model string, opts ...EmbedderOption) *HTTPEmbedder {
	e := &HTTPEmbedder{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed implements Embedder.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty text")
	}

	body, err := json.Marshal(embedRequest{Model: e.model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	url := e.baseURL + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key := os.Getenv("EMBEDDING_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API error (status %d): %s", resp.StatusCode, truncate(respBody, 200))
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse embed response: %w", err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding response contained no vector")
	}

	return parsed.Data[0].Embedding, nil
}

// HTTPSearcher calls the vector search service's REST API.
type HTTPSearcher struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// SearcherOption configures an HTTPSearcher.
type SearcherOption func(*HTTPSearcher)

// WithSearcherHTTPClient sets a custom HTTP client.
func WithSearcherHTTPClient(c *http.Client) SearcherOption {
	return func(s *HTTPSearcher) { s.httpClient = c }
}

// WithSearcherLogger sets the logger.
func WithSearcherLogger(logger *slog.Logger) SearcherOption {
	return func(s *HTTPSearcher) { s.logger = logger }
}

// NewHTTPSearcher creates a searcher for the given service endpoint.
func NewHTTPSearcher(baseURL string, opts ...SearcherOption) *HTTPSearcher {
	s := &HTTPSearcher{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type searchRequest struct {
	Vector      []float32 `json:"vector"`
	Granularity string    `json:"granularity"`
	K           int       `json:"k"`
	Filters     *Filters  `json:"filters,omitempty"`
}

type searchResponse struct {
	Results []ScoredExample `json:"results"`
}

// Search implements Searcher.
func (s *HTTPSearcher) Search(ctx context.Context, vector []float32, granularity Granularity, k int, filters *Filters) ([]ScoredExample, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	if k <= 0 {
		k = 5
	}

	var parsed searchResponse
	err := s.post(ctx, "/search", searchRequest{
		Vector:      vector,
		Granularity: string(granularity),
		K:           k,
		Filters:     filters,
	}, &parsed)
	if err != nil {
		return nil, err
	}
	return parsed.Results, nil
}

type methodologyResponse struct {
	Blocks []MethodologyBlock `json:"blocks"`
}

// MethodologyBlocks implements Searcher.
func (s *HTTPSearcher) MethodologyBlocks(ctx context.Context, methodology string) ([]MethodologyBlock, error) {
	var parsed methodologyResponse
	err := s.post(ctx, "/methodology", map[string]string{"methodology": methodology}, &parsed)
	if err != nil {
		return nil, err
	}
	return parsed.Blocks, nil
}

// GetFeedbackDigest implements Searcher.
func (s *HTTPSearcher) GetFeedbackDigest(ctx context.Context, filters *Filters) (*FeedbackDigest, error) {
	var parsed FeedbackDigest
	if err := s.post(ctx, "/feedback/digest", filters, &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

func (s *HTTPSearcher) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("search API error (status %d): %s", resp.StatusCode, truncate(respBody, 200))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse search response: %w", err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
