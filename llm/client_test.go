package llm_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/c360studio/surveygen/llm"
	_ "github.com/c360studio/surveygen/llm/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetries() llm.RetryConfig {
	return llm.RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 1.0,
		MaxBackoff:        5 * time.Millisecond,
	}
}

func completionBody(t *testing.T, content string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"model": "gpt-4o",
		"choices": []map[string]any{
			{
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 34, "total_tokens": 46},
	})
	require.NoError(t, err)
	return body
}

func TestClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req map[string]any
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "gpt-4o", req["model"])

		w.Header().Set("Content-Type", "application/json")
		w.Write(completionBody(t, "Generated survey content"))
	}))
	defer server.Close()

	client := llm.NewClient(llm.EndpointConfig{
		Provider: "openai",
		URL:      server.URL,
		Model:    "gpt-4o",
	})

	resp, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: "You are a survey writer."},
			{Role: "user", Content: "Write a survey."},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Generated survey content", resp.Content)
	assert.Equal(t, "gpt-4o", resp.Model)
	assert.Equal(t, 46, resp.Usage.TotalTokens)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestClient_CompleteRequiresMessages(t *testing.T) {
	client := llm.NewClient(llm.EndpointConfig{Provider: "openai", Model: "gpt-4o"})

	_, err := client.Complete(context.Background(), llm.Request{})
	assert.ErrorContains(t, err, "at least one message")
}

func TestClient_RetriesRateLimitThenSucceeds(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			http.Error(w, `{"error": "rate limited"}`, http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(completionBody(t, "finally"))
	}))
	defer server.Close()

	client := llm.NewClient(llm.EndpointConfig{
		Provider: "openai",
		URL:      server.URL,
		Model:    "gpt-4o",
	}, llm.WithRetryConfig(fastRetries()))

	resp, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "finally", resp.Content)
	assert.Equal(t, 3, attempts)
}

func TestClient_DoesNotRetryAuthFailures(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, `{"error": "invalid api key"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	client := llm.NewClient(llm.EndpointConfig{
		Provider: "openai",
		URL:      server.URL,
		Model:    "gpt-4o",
	}, llm.WithRetryConfig(fastRetries()))

	_, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
	assert.Equal(t, 1, attempts)
}

func TestClient_ExhaustsRetriesOnServerErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, `{"error": "overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := llm.NewClient(llm.EndpointConfig{
		Provider: "openai",
		URL:      server.URL,
		Model:    "gpt-4o",
	}, llm.WithRetryConfig(fastRetries()))

	_, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, "all 3 attempts failed")
	assert.Equal(t, 3, attempts)
}

func TestClient_UnknownProviderIsFatal(t *testing.T) {
	client := llm.NewClient(llm.EndpointConfig{
		Provider: "carrier-pigeon",
		Model:    "gpt-4o",
	})

	_, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
	assert.ErrorContains(t, err, "unknown provider")
}

func TestClient_TemperatureAndMaxTokensForwarded(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		w.Write(completionBody(t, "ok"))
	}))
	defer server.Close()

	client := llm.NewClient(llm.EndpointConfig{
		Provider: "openai",
		URL:      server.URL,
		Model:    "gpt-4o",
	})

	zero := 0.0
	_, err := client.Complete(context.Background(), llm.Request{
		Messages:    []llm.Message{{Role: "user", Content: "hi"}},
		Temperature: &zero,
		MaxTokens:   512,
	})
	require.NoError(t, err)

	assert.Equal(t, float64(0), got["temperature"])
	assert.Equal(t, float64(512), got["max_tokens"])
}
