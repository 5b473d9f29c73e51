package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/dost0092/web-scraper-atomic/internal/resilience"
)

// OpenAI is a lightweight client for OpenAI-compatible chat completion
// endpoints such as OpenRouter.
type OpenAI struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewOpenAI creates a client for baseURL (e.g. "https://openrouter.ai/api/v1").
// Pass a nil httpClient to use a default client.
func NewOpenAI(httpClient *http.Client, baseURL, apiKey string) *OpenAI {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &OpenAI{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

func (o *OpenAI) Name() string { return "openai" }

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (*Response, error) {
	body := chatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})
	if req.JSON {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, "llm: openai marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "llm: openai create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "llm: openai request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "llm: openai read response")
	}

	if resp.StatusCode != http.StatusOK {
		msg := "api error"
		var errResp chatErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Message
		}
		return nil, resilience.ClassifyHTTP(
			eris.New(fmt.Sprintf("llm: openai returned %d: %s", resp.StatusCode, msg)),
			resp.StatusCode,
		)
	}

	var chat chatResponse
	if err := json.Unmarshal(respBody, &chat); err != nil {
		return nil, eris.Wrap(err, "llm: openai parse response")
	}
	if len(chat.Choices) == 0 {
		return nil, eris.New("llm: openai returned no choices")
	}

	choice := chat.Choices[0]
	return &Response{
		Text:       choice.Message.Content,
		StopReason: choice.FinishReason,
		Truncated:  choice.FinishReason == "length",
		Usage: Usage{
			InputTokens:  chat.Usage.PromptTokens,
			OutputTokens: chat.Usage.CompletionTokens,
		},
	}, nil
}
