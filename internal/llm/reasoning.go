package llm

import "strings"

// reasoningModelTokens are the OpenAI reasoning model family names the API
// treats specially: they reject temperature and rename max_tokens to
// max_completion_tokens (spec §4.3). "o1-preview" and "o1-mini" are
// recognized by their shared "o1" component once the model name is split
// on "-", so only that bare token needs listing here.
var reasoningModelTokens = map[string]bool{
	"o1": true,
}

// isReasoningModel reports whether model is one of the OpenAI reasoning
// model family. The name is lowercased, a provider prefix joined with "/"
// (e.g. "azure/o1-mini") is treated as another dash, and the result is
// split on "-"; model is a reasoning model if any component matches
// reasoningModelTokens. This matches "gpt-4-o1", "azure/o1-mini", and
// "O1-preview" just as plainly as bare "o1".
func isReasoningModel(model string) bool {
	normalized := strings.ReplaceAll(strings.ToLower(model), "/", "-")
	for _, part := range strings.Split(normalized, "-") {
		if reasoningModelTokens[part] {
			return true
		}
	}
	return false
}

// wireRequest is the JSON shape actually sent on the wire, after
// adjustForReasoningModel has renamed/dropped fields the reasoning model
// family rejects.
type wireRequest struct {
	Model               string          `json:"model"`
	Messages            []Message       `json:"messages"`
	Temperature         *float64        `json:"temperature,omitempty"`
	MaxTokens           int             `json:"max_tokens,omitempty"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
}

// adjustForReasoningModel converts req into the wire shape, dropping
// Temperature and renaming MaxTokens to MaxCompletionTokens when req.Model
// is a reasoning model. Non-reasoning models pass through unchanged
// except for the struct shape itself.
func adjustForReasoningModel(req ChatRequest) wireRequest {
	wire := wireRequest{
		Model:    req.Model,
		Messages: req.Messages,
	}

	if isReasoningModel(req.Model) {
		wire.MaxCompletionTokens = req.MaxTokens
		return wire
	}

	wire.Temperature = req.Temperature
	wire.MaxTokens = req.MaxTokens
	return wire
}
