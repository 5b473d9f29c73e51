package anthropic

import (
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedSystem(t *testing.T) {
	out := cachedSystem("Extract the pet policy")
	require.Len(t, out, 1)
	assert.Equal(t, "Extract the pet policy", out[0].Text)
	assert.Equal(t, sdk.CacheControlEphemeralTTL("1h"), out[0].CacheControl.TTL)
}

func TestStatusCode_NonAPIError(t *testing.T) {
	assert.Zero(t, StatusCode(errors.New("dial tcp: refused")))
	assert.Zero(t, StatusCode(nil))
}

func TestEstimateCost(t *testing.T) {
	tests := []struct {
		name  string
		model string
		usage TokenUsage
		want  float64
	}{
		{"context model", "claude-haiku-4-5-20251001", TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, 4.80},
		{"extract model", "claude-sonnet-4-5-20250929", TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, 18.00},
		// write 1.25x and read 0.1x of the 0.80 input rate
		{"cache", "claude-haiku-4-5-20251001", TokenUsage{CacheCreationInputTokens: 1_000_000, CacheReadInputTokens: 1_000_000}, 1.08},
		{"unknown model", "gpt-4o", TokenUsage{InputTokens: 1000, OutputTokens: 1000}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.usage.EstimateCost(tt.model), 0.001)
		})
	}
}

func TestLogCost_DoesNotPanic(t *testing.T) {
	u := TokenUsage{InputTokens: 100, OutputTokens: 50}
	assert.NotPanics(t, func() { u.LogCost("claude-haiku-4-5-20251001", "context") })
}
