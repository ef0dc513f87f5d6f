// Package llm implements the LLM Adapter (C3): a chat/embed client over
// any OpenAI-compatible HTTP API, grounded on the request-building and
// response-parsing style of the nevindra-oasis openaicompat provider.
package llm

import "context"

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a provider-agnostic chat call.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature *float64
	MaxTokens   int
}

// ChatResponse is the adapter's normalized chat result.
type ChatResponse struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// EmbedRequest asks for one or more text embeddings.
type EmbedRequest struct {
	Model string
	Input []string
}

// EmbedResponse holds one embedding vector per EmbedRequest.Input entry.
type EmbedResponse struct {
	Embeddings [][]float32
}

// Client is the LLM Adapter contract (spec §4.3).
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	ChatAsync(ctx context.Context, req ChatRequest) <-chan ChatResult
	Embed(ctx context.Context, req EmbedRequest) (EmbedResponse, error)
	CheckHealth(ctx context.Context) error
}

// ChatResult is delivered on ChatAsync's channel.
type ChatResult struct {
	Response ChatResponse
	Err      error
}
