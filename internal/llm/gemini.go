package llm

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/dost0092/web-scraper-atomic/internal/resilience"
)

// Gemini adapts the Gemini generateContent API.
type Gemini struct {
	client *genai.Client
}

// NewGemini creates a Gemini client. baseURL overrides the API endpoint and
// is empty in production.
func NewGemini(ctx context.Context, apiKey, baseURL string) (*Gemini, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "llm: gemini client")
	}
	return &Gemini{client: client}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Complete(ctx context.Context, req Request) (*Response, error) {
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}

	contents := []*genai.Content{
		{Role: genai.RoleUser, Parts: []*genai.Part{genai.NewPartFromText(req.Prompt)}},
	}

	resp, err := g.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, resilience.ClassifyHTTP(eris.Wrap(err, "llm: gemini complete"), geminiStatus(err))
	}

	out := &Response{}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	// First candidate with text wins.
	var text strings.Builder
	for _, c := range resp.Candidates {
		if c.Content != nil {
			for _, part := range c.Content.Parts {
				text.WriteString(part.Text)
			}
		}
		if text.Len() > 0 {
			out.StopReason = string(c.FinishReason)
			out.Truncated = c.FinishReason == genai.FinishReasonMaxTokens
			break
		}
	}
	out.Text = text.String()

	zap.L().Debug("llm: gemini usage",
		zap.String("model", req.Model),
		zap.Int64("input_tokens", out.Usage.InputTokens),
		zap.Int64("output_tokens", out.Usage.OutputTokens),
	)
	return out, nil
}

var geminiCodeRe = regexp.MustCompile(`Error (\d{3}),`)

// geminiStatus recovers the HTTP status from a genai error, falling back to
// the "Error 429, Message: ..." text the SDK renders.
func geminiStatus(err error) int {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	if m := geminiCodeRe.FindStringSubmatch(err.Error()); len(m) == 2 {
		code, _ := strconv.Atoi(m[1])
		return code
	}
	if strings.Contains(err.Error(), "RESOURCE_EXHAUSTED") {
		return 429
	}
	return 0
}
