package llm

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codestory.dev/ingest/internal/config"
	"codestory.dev/ingest/internal/metrics"
)

func testNamespace(t *testing.T) string {
	t.Helper()
	return "codestory_test_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
}

func newTestClient(t *testing.T, baseURL string) *OpenAIClient {
	t.Helper()
	cfg := config.LLMConfig{
		BaseURL:    baseURL,
		APIKey:     "test-key",
		ChatModel:  "gpt-4o",
		EmbedModel: "text-embedding-3-small",
		Timeout:    5 * time.Second,
		MaxRetries: 2,
	}
	return NewOpenAIClient(cfg, metrics.NewLLM(testNamespace(t)), logrus.NewEntry(logrus.New()))
}

func TestOpenAIClient_Chat_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o", body["model"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "hello back"}},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 3},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.Chat(t.Context(), ChatRequest{Model: "gpt-4o", Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "hello back", resp.Content)
	assert.Equal(t, 10, resp.PromptTokens)
	assert.Equal(t, 3, resp.CompletionTokens)
}

func TestOpenAIClient_Chat_AuthErrorIsNotRetried(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Chat(t.Context(), ChatRequest{Model: "gpt-4o", Messages: []Message{{Role: "user", Content: "hi"}}})
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "auth errors must not be retried")
}

func TestOpenAIClient_Chat_RateLimitIsRetried(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{"message": map[string]string{"content": "ok"}}},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.Chat(t.Context(), ChatRequest{Model: "gpt-4o", Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 3, attempts)
}

func TestOpenAIClient_Embed_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"embedding": []float32{0.1, 0.2, 0.3}},
			},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.Embed(t.Context(), EmbedRequest{Model: "text-embedding-3-small", Input: []string{"hello"}})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 1)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, resp.Embeddings[0])
}

func TestOpenAIClient_Chat_ReasoningModelOmitsTemperatureOnWire(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{"message": map[string]string{"content": "done"}}},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	temp := 0.9
	_, err := client.Chat(t.Context(), ChatRequest{Model: "o1-mini", Messages: []Message{{Role: "user", Content: "hi"}}, Temperature: &temp, MaxTokens: 100})
	require.NoError(t, err)

	_, hasTemp := captured["temperature"]
	_, hasMaxTokens := captured["max_tokens"]
	assert.False(t, hasTemp)
	assert.False(t, hasMaxTokens)
	assert.Equal(t, float64(100), captured["max_completion_tokens"])
}
