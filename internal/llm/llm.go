// Package llm provides the provider-neutral completion client used by the
// context generator and the attribute extractor, with adapters for
// Anthropic, Gemini, and OpenAI-compatible endpoints.
package llm

import (
	"context"
)

// Client completes a single prompt.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Name() string
}

// Request is one completion call.
type Request struct {
	Model       string  `json:"model"`
	System      string  `json:"system"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	// JSON asks the provider for a single JSON object.
	JSON bool `json:"json"`
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Response is the completion result.
type Response struct {
	Text       string `json:"text"`
	StopReason string `json:"stop_reason"`
	// Truncated is set when the provider stopped at the token limit.
	Truncated bool  `json:"truncated"`
	Usage     Usage `json:"usage"`
	// Cached is set when the response was served from the local cache.
	Cached bool `json:"-"`
}

const jsonInstruction = "Respond with a single JSON object and nothing else."

func systemPrompt(req Request) string {
	if !req.JSON {
		return req.System
	}
	if req.System == "" {
		return jsonInstruction
	}
	return req.System + "\n\n" + jsonInstruction
}
