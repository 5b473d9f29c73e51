// Package anthropic wraps the Anthropic messages API for single-turn
// prompts with a cached system instruction.
package anthropic

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// systemCacheTTL keeps the shared instruction cached across a batch.
const systemCacheTTL = "1h"

// Client sends one prompt and returns the model's answer.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

// MessageRequest is a single user turn.
type MessageRequest struct {
	Model     string
	MaxTokens int64
	// System is sent as one block with a cache breakpoint when set.
	System      string
	Prompt      string
	Temperature *float64
}

// MessageResponse is the answer to a MessageRequest. Text joins the text
// blocks of the reply.
type MessageResponse struct {
	ID         string
	Model      string
	Text       string
	StopReason string
	Usage      TokenUsage
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// modelPricing is {input, output} USD per million tokens for the default
// context and extraction models.
var modelPricing = map[string][2]float64{
	"claude-haiku-4-5-20251001":  {0.80, 4.00},
	"claude-sonnet-4-5-20250929": {3.00, 15.00},
}

// EstimateCost returns the USD cost of u for model, or 0 for a model
// without pricing.
func (u TokenUsage) EstimateCost(model string) float64 {
	pricing, ok := modelPricing[model]
	if !ok {
		return 0
	}
	in := float64(u.InputTokens) + float64(u.CacheCreationInputTokens)*1.25 + float64(u.CacheReadInputTokens)*0.1
	return (in*pricing[0] + float64(u.OutputTokens)*pricing[1]) / 1e6
}

// LogCost logs token usage and estimated cost for one pipeline stage.
func (u TokenUsage) LogCost(model, stage string) {
	zap.L().Info("anthropic: usage",
		zap.String("model", model),
		zap.String("stage", stage),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_write_tokens", u.CacheCreationInputTokens),
		zap.Int64("cache_read_tokens", u.CacheReadInputTokens),
		zap.Float64("estimated_cost_usd", u.EstimateCost(model)),
	)
}

// StatusCode returns the HTTP status of an API error, or 0 when err did not
// come from an HTTP response.
func StatusCode(err error) int {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

type sdkClient struct {
	client sdk.Client
}

// NewClient creates a Client backed by the SDK. SDK retries are disabled;
// callers apply their own retry policy.
func NewClient(apiKey string, opts ...option.RequestOption) Client {
	opts = append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)
	return &sdkClient{client: sdk.NewClient(opts...)}
}

func (c *sdkClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt))},
	}
	if req.System != "" {
		params.System = cachedSystem(req.System)
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: create message")
	}
	return fromSDKMessage(msg), nil
}

func cachedSystem(text string) []sdk.TextBlockParam {
	cc := sdk.NewCacheControlEphemeralParam()
	cc.TTL = sdk.CacheControlEphemeralTTL(systemCacheTTL)
	return []sdk.TextBlockParam{{Text: text, CacheControl: cc}}
}

func fromSDKMessage(msg *sdk.Message) *MessageResponse {
	var text strings.Builder
	for _, b := range msg.Content {
		if b.Type == "text" {
			text.WriteString(b.Text)
		}
	}
	return &MessageResponse{
		ID:         msg.ID,
		Model:      string(msg.Model),
		Text:       text.String(),
		StopReason: string(msg.StopReason),
		Usage: TokenUsage{
			InputTokens:              msg.Usage.InputTokens,
			OutputTokens:             msg.Usage.OutputTokens,
			CacheCreationInputTokens: msg.Usage.CacheCreationInputTokens,
			CacheReadInputTokens:     msg.Usage.CacheReadInputTokens,
		},
	}
}
