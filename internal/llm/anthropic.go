package llm

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/dost0092/web-scraper-atomic/internal/resilience"
	"github.com/dost0092/web-scraper-atomic/pkg/anthropic"
)

// Anthropic adapts the Anthropic messages API.
type Anthropic struct {
	client anthropic.Client
}

// NewAnthropic wraps an Anthropic client.
func NewAnthropic(client anthropic.Client) *Anthropic {
	return &Anthropic{client: client}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Complete(ctx context.Context, req Request) (*Response, error) {
	temp := req.Temperature
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       req.Model,
		MaxTokens:   int64(req.MaxTokens),
		System:      systemPrompt(req),
		Prompt:      req.Prompt,
		Temperature: &temp,
	})
	if err != nil {
		return nil, resilience.ClassifyHTTP(eris.Wrap(err, "llm: anthropic complete"), anthropic.StatusCode(err))
	}
	stage := "context"
	if req.JSON {
		stage = "extract"
	}
	resp.Usage.LogCost(req.Model, stage)

	return &Response{
		Text:       resp.Text,
		StopReason: resp.StopReason,
		Truncated:  resp.StopReason == "max_tokens",
		Usage: Usage{
			InputTokens:  resp.Usage.InputTokens + resp.Usage.CacheReadInputTokens + resp.Usage.CacheCreationInputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}, nil
}
