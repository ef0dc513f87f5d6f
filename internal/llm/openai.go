package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"codestory.dev/ingest/internal/config"
	"codestory.dev/ingest/internal/metrics"
	"codestory.dev/ingest/internal/model"
)

// OpenAIClient implements Client against any OpenAI-compatible chat
// completions and embeddings API, grounded on the teacher-adjacent
// nevindra-oasis openaicompat.Provider's sendHTTP/doRequest/httpErr shape.
type OpenAIClient struct {
	cfg     config.LLMConfig
	http    *http.Client
	metrics *metrics.LLM
	log     *logrus.Entry
}

// NewOpenAIClient builds a client against cfg.BaseURL, timing every
// request out at cfg.Timeout.
func NewOpenAIClient(cfg config.LLMConfig, m *metrics.LLM, log *logrus.Entry) *OpenAIClient {
	return &OpenAIClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		metrics: m,
		log:     log,
	}
}

type embedWireRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedWireResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type chatWireResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *OpenAIClient) withRetry(ctx context.Context, call string, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.MaxRetries)), ctx)

	return backoff.RetryNotify(fn, policy, func(err error, d time.Duration) {
		c.metrics.RetriesTotal.WithLabelValues(call).Inc()
		c.log.WithError(err).WithField("call", call).WithField("backoff", d).Warn("retrying llm request")
	})
}

func (c *OpenAIClient) observe(call string, start time.Time, err error) {
	c.metrics.RequestDuration.WithLabelValues(call).Observe(time.Since(start).Seconds())
	success := "true"
	if err != nil {
		success = "false"
	}
	c.metrics.RequestsTotal.WithLabelValues(call, success).Inc()
}

// Chat sends req as a non-streaming chat completion, adjusting the wire
// body for reasoning models per adjustForReasoningModel.
func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	start := time.Now()
	wire := adjustForReasoningModel(req)

	var out ChatResponse
	err := c.withRetry(ctx, "chat", func() error {
		resp, err := c.post(ctx, "/chat/completions", wire)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return c.classifyHTTPError(resp)
		}

		var parsed chatWireResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("decode chat response: %w", err))
		}
		if len(parsed.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("chat response has no choices"))
		}

		out = ChatResponse{
			Content:          parsed.Choices[0].Message.Content,
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
		}
		return nil
	})

	c.observe("chat", start, err)
	if err != nil {
		return ChatResponse{}, err
	}
	return out, nil
}

// ChatAsync runs Chat on its own goroutine and publishes the result once.
func (c *OpenAIClient) ChatAsync(ctx context.Context, req ChatRequest) <-chan ChatResult {
	out := make(chan ChatResult, 1)
	go func() {
		defer close(out)
		resp, err := c.Chat(ctx, req)
		out <- ChatResult{Response: resp, Err: err}
	}()
	return out
}

func (c *OpenAIClient) Embed(ctx context.Context, req EmbedRequest) (EmbedResponse, error) {
	start := time.Now()
	wire := embedWireRequest{Model: req.Model, Input: req.Input}

	var out EmbedResponse
	err := c.withRetry(ctx, "embed", func() error {
		resp, err := c.post(ctx, "/embeddings", wire)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return c.classifyHTTPError(resp)
		}

		var parsed embedWireResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("decode embed response: %w", err))
		}

		embeddings := make([][]float32, len(parsed.Data))
		for i, d := range parsed.Data {
			embeddings[i] = d.Embedding
		}
		out = EmbedResponse{Embeddings: embeddings}
		return nil
	})

	c.observe("embed", start, err)
	if err != nil {
		return EmbedResponse{}, err
	}
	return out, nil
}

// CheckHealth issues a minimal embeddings call to confirm the endpoint and
// credentials are reachable.
func (c *OpenAIClient) CheckHealth(ctx context.Context) error {
	_, err := c.Embed(ctx, EmbedRequest{Model: c.cfg.EmbedModel, Input: []string{"healthcheck"}})
	return err
}

func (c *OpenAIClient) post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	return c.http.Do(httpReq)
}

// classifyHTTPError maps non-2xx responses onto the taxonomy's
// LLMAuthError/LLMRateLimited kinds, and marks everything else permanent
// so the retry loop doesn't keep hammering a 4xx.
func (c *OpenAIClient) classifyHTTPError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return backoff.Permanent(model.New(model.KindLLMAuthError, string(body), nil))
	case http.StatusTooManyRequests:
		return model.New(model.KindLLMRateLimited, string(body), nil)
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return model.Newf(model.KindExternalProcessError, nil, "llm upstream returned %d: %s", resp.StatusCode, body)
	default:
		return backoff.Permanent(model.Newf(model.KindExternalProcessError, nil, "llm request failed with %d: %s", resp.StatusCode, body))
	}
}

var _ Client = (*OpenAIClient)(nil)
