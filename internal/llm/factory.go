package llm

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dost0092/web-scraper-atomic/internal/config"
	"github.com/dost0092/web-scraper-atomic/internal/resilience"
	"github.com/dost0092/web-scraper-atomic/pkg/anthropic"
)

// NewFromConfig builds the configured provider wrapped in a circuit breaker
// and, when a cache directory is set, the response cache. The returned
// closer releases the cache.
func NewFromConfig(ctx context.Context, cfg config.LLMConfig) (Client, io.Closer, error) {
	var base Client
	switch cfg.Provider {
	case "anthropic":
		key := firstNonEmpty(cfg.AnthropicKey, os.Getenv("ANTHROPIC_API_KEY"))
		if key == "" {
			return nil, nil, eris.New("llm: anthropic key is required (llm.anthropic_key or ANTHROPIC_API_KEY)")
		}
		base = NewAnthropic(anthropic.NewClient(key))
	case "gemini":
		key := firstNonEmpty(cfg.GeminiKey, os.Getenv("GEMINI_API_KEY"))
		if key == "" {
			return nil, nil, eris.New("llm: gemini key is required (llm.gemini_key or GEMINI_API_KEY)")
		}
		g, err := NewGemini(ctx, key, "")
		if err != nil {
			return nil, nil, err
		}
		base = g
	case "openai":
		key := firstNonEmpty(cfg.OpenAIKey, os.Getenv("OPENAI_API_KEY"))
		if key == "" {
			return nil, nil, eris.New("llm: openai key is required (llm.openai_key or OPENAI_API_KEY)")
		}
		base = NewOpenAI(&http.Client{}, cfg.OpenAIBaseURL, key)
	default:
		return nil, nil, eris.Errorf("llm: unknown provider %q", cfg.Provider)
	}

	breaker := resilience.NewBreaker(
		base.Name(),
		cfg.Circuit.FailureThreshold,
		time.Duration(cfg.Circuit.ResetTimeoutSecs)*time.Second,
	)
	var client Client = WithBreaker(base, breaker)

	if cfg.CacheDir == "" {
		return client, nopCloser{}, nil
	}
	cache, err := NewCache(client, cfg.CacheDir, cfg.CacheTTL)
	if err != nil {
		return nil, nil, err
	}
	zap.L().Info("llm: response cache enabled", zap.String("dir", cfg.CacheDir), zap.Duration("ttl", cfg.CacheTTL))
	return cache, cache, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
