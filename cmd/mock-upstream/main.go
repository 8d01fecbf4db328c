// Package main implements a mock upstream server for surveygen
// development and wiring tests. It stands in for both external
// dependencies of a generation run: the LLM provider (OpenAI-compatible
// /chat/completions, serving assistant content from JSON fixture files
// routed by model name) and the golden-example retrieval service
// (/embeddings, /search, /methodology, /feedback/digest, serving
// deterministic vectors and canned results). Runs are fast,
// deterministic and offline.
//
// Usage:
//
//	mock-upstream -fixtures ./fixtures -port 11434 -golden-score 0.85
//
// Fixture files are JSON named by model ("survey-writer.json" answers
// model "survey-writer"). Numbered files ("survey-writer.1.json",
// "survey-writer.2.json") are served in order per call, with the base
// file repeating once the sequence is exhausted. That supports
// reject-revise-approve review loops and regeneration runs where the
// same model must answer differently across calls.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const embeddingDim = 64

// OpenAI chat wire types, mirrored from the provider contract.

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Retrieval wire types, mirrored from the searcher contract.

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type searchRequest struct {
	Vector      []float32      `json:"vector"`
	Granularity string         `json:"granularity"`
	K           int            `json:"k"`
	Filters     map[string]any `json:"filters,omitempty"`
}

type scoredExample struct {
	ID      string         `json:"id"`
	Text    string         `json:"text"`
	Payload map[string]any `json:"payload,omitempty"`
	Score   float64        `json:"score"`
}

// capturedRequest records one chat call for later assertion through the
// /requests endpoint.
type capturedRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	CallIndex int           `json:"call_index"`
	Timestamp int64         `json:"timestamp"`
}

type server struct {
	fixtures    map[string][]string // model name -> ordered fixture contents
	goldenScore float64             // score returned for golden search hits
	logger      *slog.Logger

	calls atomic.Int64

	mu            sync.Mutex
	modelCalls    map[string]int
	modelRequests map[string][]capturedRequest
}

func newServer(fixtures map[string][]string, goldenScore float64, logger *slog.Logger) *server {
	return &server{
		fixtures:      fixtures,
		goldenScore:   goldenScore,
		logger:        logger,
		modelCalls:    make(map[string]int),
		modelRequests: make(map[string][]capturedRequest),
	}
}

func main() {
	fixtureDir := flag.String("fixtures", "", "directory containing fixture response files")
	port := flag.Int("port", 11434, "port to listen on")
	goldenScore := flag.Float64("golden-score", 0.85, "similarity score returned for golden search hits")
	flag.Parse()

	if env := os.Getenv("MOCK_UPSTREAM_FIXTURES"); env != "" && *fixtureDir == "" {
		*fixtureDir = env
	}
	if *fixtureDir == "" {
		*fixtureDir = "./fixtures"
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	fixtures, err := loadFixtures(*fixtureDir)
	if err != nil {
		logger.Error("failed to load fixtures", "dir", *fixtureDir, "error", err)
		os.Exit(1)
	}
	logger.Info("fixtures loaded", "dir", *fixtureDir, "models", len(fixtures))
	for model, seq := range fixtures {
		logger.Info("model registered", "model", model, "fixtures", len(seq))
	}

	s := newServer(fixtures, *goldenScore, logger)

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("mock upstream listening", "addr", addr)
	if err := http.ListenAndServe(addr, s.routes()); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/embeddings", s.handleEmbeddings)
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/methodology", s.handleMethodology)
	mux.HandleFunc("/feedback/digest", s.handleFeedbackDigest)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/requests", s.handleRequests)
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	callNum := s.calls.Add(1)

	seq, ok := s.fixtures[req.Model]
	if !ok {
		seq, ok = s.fixtures[strings.TrimPrefix(req.Model, "mock-")]
	}
	if !ok {
		s.logger.Warn("no fixture for model", "call", callNum, "model", req.Model)
		http.Error(w, fmt.Sprintf("no fixture for model %q", req.Model), http.StatusNotFound)
		return
	}

	s.mu.Lock()
	callIndex := s.modelCalls[req.Model]
	s.modelCalls[req.Model] = callIndex + 1
	s.modelRequests[req.Model] = append(s.modelRequests[req.Model], capturedRequest{
		Model:     req.Model,
		Messages:  req.Messages,
		CallIndex: callIndex + 1,
		Timestamp: time.Now().UnixMilli(),
	})
	s.mu.Unlock()

	content := seq[len(seq)-1]
	if callIndex < len(seq) {
		content = seq[callIndex]
	}

	s.logger.Info("chat completion served",
		"call", callNum, "model", req.Model,
		"fixture", callIndex+1, "of", len(seq))

	writeJSON(w, chatResponse{
		ID:      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{{
			Message:      chatMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: chatUsage{
			PromptTokens:     len(content) / 4,
			CompletionTokens: len(content) / 4,
			TotalTokens:      len(content) / 2,
		},
	})
}

func (s *server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req embedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Input) == 0 {
		http.Error(w, "input is required", http.StatusBadRequest)
		return
	}

	data := make([]map[string]any, 0, len(req.Input))
	for i, text := range req.Input {
		data = append(data, map[string]any{
			"index":     i,
			"embedding": deterministicVector(text),
		})
	}
	writeJSON(w, map[string]any{"data": data})
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Vector) == 0 {
		http.Error(w, "vector is required", http.StatusBadRequest)
		return
	}
	if req.K <= 0 {
		req.K = 5
	}

	// Scores decay from the configured golden score so result ordering
	// stays stable across runs.
	results := make([]scoredExample, 0, req.K)
	for i := 0; i < req.K; i++ {
		results = append(results, scoredExample{
			ID:    fmt.Sprintf("golden-%s-%d", req.Granularity, i+1),
			Text:  fmt.Sprintf("canned %s example %d", req.Granularity, i+1),
			Score: s.goldenScore - float64(i)*0.05,
		})
	}
	writeJSON(w, map[string]any{"results": results})
}

func (s *server) handleMethodology(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Methodology string `json:"methodology"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	blocks := []map[string]string{}
	if req.Methodology != "" {
		blocks = append(blocks, map[string]string{
			"methodology": req.Methodology,
			"title":       "Structure",
			"guidance":    fmt.Sprintf("Canned %s guidance for wiring tests.", req.Methodology),
		})
	}
	writeJSON(w, map[string]any{"blocks": blocks})
}

func (s *server) handleFeedbackDigest(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"items": []any{}, "ids": []any{}})
}

func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	callsByModel := make(map[string]int, len(s.modelCalls))
	for model, n := range s.modelCalls {
		callsByModel[model] = n
	}
	s.mu.Unlock()

	writeJSON(w, map[string]any{
		"total_calls":    s.calls.Load(),
		"calls_by_model": callsByModel,
	})
}

// handleRequests returns captured chat requests for prompt assertions.
// Optional query params: model (filter by model), call (1-indexed call
// number within that model's sequence).
func (s *server) handleRequests(w http.ResponseWriter, r *http.Request) {
	modelFilter := r.URL.Query().Get("model")
	callFilter := r.URL.Query().Get("call")

	s.mu.Lock()
	result := make(map[string][]capturedRequest)
	for model, reqs := range s.modelRequests {
		if modelFilter != "" && model != modelFilter {
			continue
		}
		if callIdx, err := strconv.Atoi(callFilter); callFilter != "" && err == nil {
			for _, req := range reqs {
				if req.CallIndex == callIdx {
					result[model] = append(result[model], req)
				}
			}
			continue
		}
		result[model] = reqs
	}
	s.mu.Unlock()

	writeJSON(w, map[string]any{"requests_by_model": result})
}

// deterministicVector derives a unit-length embedding from the text so
// identical inputs always embed identically and distinct inputs differ.
func deterministicVector(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, embeddingDim)
	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float64(int64(seed>>11))/float64(1<<52) - 1
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// numberedFileRe matches sequential fixtures like "survey-writer.2.json".
var numberedFileRe = regexp.MustCompile(`^(.+)\.(\d+)\.json$`)

// loadFixtures reads JSON files from dir and returns model -> ordered
// content sequence: numbered files in numeric order, then the base
// model.json file as the repeating fallback.
func loadFixtures(dir string) (map[string][]string, error) {
	baseFiles := make(map[string]string)
	numberedFiles := make(map[string]map[int]string)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".json") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if !json.Valid(data) {
			return fmt.Errorf("invalid JSON in %s", path)
		}

		if m := numberedFileRe.FindStringSubmatch(info.Name()); m != nil {
			index, _ := strconv.Atoi(m[2])
			if numberedFiles[m[1]] == nil {
				numberedFiles[m[1]] = make(map[int]string)
			}
			numberedFiles[m[1]][index] = string(data)
			return nil
		}

		model := strings.TrimSuffix(info.Name(), ".json")
		baseFiles[model] = string(data)
		return nil
	})
	if err != nil {
		return nil, err
	}

	fixtures := make(map[string][]string)
	allModels := make(map[string]bool)
	for m := range baseFiles {
		allModels[m] = true
	}
	for m := range numberedFiles {
		allModels[m] = true
	}

	for model := range allModels {
		var seq []string
		if numbered, ok := numberedFiles[model]; ok {
			indices := make([]int, 0, len(numbered))
			for idx := range numbered {
				indices = append(indices, idx)
			}
			sort.Ints(indices)
			for _, idx := range indices {
				seq = append(seq, numbered[idx])
			}
		}
		if base, ok := baseFiles[model]; ok {
			seq = append(seq, base)
		}
		if len(seq) > 0 {
			fixtures[model] = seq
		}
	}

	if len(fixtures) == 0 {
		return nil, fmt.Errorf("no fixture files found in %s", dir)
	}
	return fixtures, nil
}
