package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestLoadFixtures_SequentialOrdering(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "survey-writer.json", `{"answer": "fallback"}`)
	writeFixture(t, dir, "survey-writer.1.json", `{"answer": "first"}`)
	writeFixture(t, dir, "survey-writer.2.json", `{"answer": "second"}`)
	writeFixture(t, dir, "extractor.json", `{"title": "x"}`)

	fixtures, err := loadFixtures(dir)
	require.NoError(t, err)

	require.Len(t, fixtures["survey-writer"], 3)
	assert.Contains(t, fixtures["survey-writer"][0], "first")
	assert.Contains(t, fixtures["survey-writer"][1], "second")
	assert.Contains(t, fixtures["survey-writer"][2], "fallback")
	require.Len(t, fixtures["extractor"], 1)
}

func TestLoadFixtures_RejectsInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "bad.json", `not json`)

	_, err := loadFixtures(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestLoadFixtures_EmptyDirFails(t *testing.T) {
	_, err := loadFixtures(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no fixture files")
}

func TestChatCompletions_ServesFixturesInOrder(t *testing.T) {
	s := newServer(map[string][]string{
		"survey-writer": {`{"n": 1}`, `{"n": 2}`},
	}, 0.85, testLogger())
	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	for i, want := range []string{`{"n": 1}`, `{"n": 2}`, `{"n": 2}`} {
		resp := postJSON(t, srv.URL+"/chat/completions", chatRequest{
			Model:    "survey-writer",
			Messages: []chatMessage{{Role: "user", Content: "go"}},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode, "call %d", i+1)

		var parsed chatResponse
		decodeBody(t, resp, &parsed)
		require.Len(t, parsed.Choices, 1)
		assert.Equal(t, want, parsed.Choices[0].Message.Content, "call %d", i+1)
		assert.Equal(t, "stop", parsed.Choices[0].FinishReason)
	}
}

func TestChatCompletions_UnknownModelIs404(t *testing.T) {
	s := newServer(map[string][]string{"survey-writer": {`{}`}}, 0.85, testLogger())
	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/chat/completions", chatRequest{Model: "nope"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEmbeddings_Deterministic(t *testing.T) {
	s := newServer(map[string][]string{"m": {`{}`}}, 0.85, testLogger())
	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	embed := func(text string) []float64 {
		resp := postJSON(t, srv.URL+"/embeddings", embedRequest{Model: "embed", Input: []string{text}})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var parsed struct {
			Data []struct {
				Embedding []float64 `json:"embedding"`
			} `json:"data"`
		}
		decodeBody(t, resp, &parsed)
		require.Len(t, parsed.Data, 1)
		return parsed.Data[0].Embedding
	}

	first := embed("churn survey brief")
	again := embed("churn survey brief")
	other := embed("pricing study brief")

	assert.Equal(t, first, again, "same text embeds identically")
	assert.NotEqual(t, first, other, "different text embeds differently")
	assert.Len(t, first, embeddingDim)
}

func TestSearch_ScoresDecayFromGoldenScore(t *testing.T) {
	s := newServer(map[string][]string{"m": {`{}`}}, 0.9, testLogger())
	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/search", searchRequest{
		Vector:      []float32{0.1, 0.2},
		Granularity: "survey",
		K:           3,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var parsed struct {
		Results []scoredExample `json:"results"`
	}
	decodeBody(t, resp, &parsed)
	require.Len(t, parsed.Results, 3)
	assert.InDelta(t, 0.9, parsed.Results[0].Score, 1e-9)
	assert.InDelta(t, 0.85, parsed.Results[1].Score, 1e-9)
	assert.Equal(t, "golden-survey-1", parsed.Results[0].ID)
}

func TestStatsAndRequests_CaptureChatCalls(t *testing.T) {
	s := newServer(map[string][]string{"survey-writer": {`{}`}}, 0.85, testLogger())
	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/chat/completions", chatRequest{
		Model:    "survey-writer",
		Messages: []chatMessage{{Role: "system", Content: "you write surveys"}},
	})
	resp.Body.Close()

	statsResp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	var stats struct {
		TotalCalls   int            `json:"total_calls"`
		CallsByModel map[string]int `json:"calls_by_model"`
	}
	decodeBody(t, statsResp, &stats)
	assert.Equal(t, 1, stats.TotalCalls)
	assert.Equal(t, 1, stats.CallsByModel["survey-writer"])

	reqResp, err := http.Get(srv.URL + "/requests?model=survey-writer&call=1")
	require.NoError(t, err)
	var captured struct {
		RequestsByModel map[string][]capturedRequest `json:"requests_by_model"`
	}
	decodeBody(t, reqResp, &captured)
	require.Len(t, captured.RequestsByModel["survey-writer"], 1)
	assert.Equal(t, "you write surveys", captured.RequestsByModel["survey-writer"][0].Messages[0].Content)
}
