package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dost0092/web-scraper-atomic/internal/resilience"
)

func TestOpenAI_Complete(t *testing.T) {
	var got chatRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"choices": []map[string]any{
				{"message": map[string]any{"content": `{"ok":true}`}, "finish_reason": "stop"},
			},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 4},
		})
	}))
	defer ts.Close()

	client := NewOpenAI(ts.Client(), ts.URL+"/", "sk-test")
	resp, err := client.Complete(context.Background(), Request{
		Model:     "openai/gpt-4o-mini",
		System:    "extract",
		Prompt:    "hotel context",
		MaxTokens: 256,
		JSON:      true,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"ok":true}`, resp.Text)
	assert.Equal(t, "stop", resp.StopReason)
	assert.False(t, resp.Truncated)
	assert.Equal(t, int64(12), resp.Usage.InputTokens)
	assert.Equal(t, int64(4), resp.Usage.OutputTokens)

	assert.Equal(t, "openai/gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "hotel context", got.Messages[1].Content)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
	assert.Equal(t, 256, got.MaxTokens)
}

func TestOpenAI_Truncated(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"choices": []map[string]any{
				{"message": map[string]any{"content": "partial"}, "finish_reason": "length"},
			},
		})
	}))
	defer ts.Close()

	resp, err := NewOpenAI(nil, ts.URL, "k").Complete(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.True(t, resp.Truncated)
}

func TestOpenAI_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
		{"unauthorized", http.StatusUnauthorized, false},
		{"bad request", http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
					"error": map[string]any{"message": "nope", "type": "x"},
				})
			}))
			defer ts.Close()

			_, err := NewOpenAI(nil, ts.URL, "k").Complete(context.Background(), Request{Prompt: "p"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "nope")
			assert.Equal(t, tt.transient, resilience.IsTransient(err))
		})
	}
}

func TestOpenAI_NoChoices(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`)) //nolint:errcheck
	}))
	defer ts.Close()

	_, err := NewOpenAI(nil, ts.URL, "k").Complete(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}
