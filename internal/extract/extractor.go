// Package extract asks the LLM for a hotel's pet policy and validates the
// answer into a model.PetPolicyDocument. A document is accepted whole or
// rejected whole.
package extract

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dost0092/web-scraper-atomic/internal/llm"
	"github.com/dost0092/web-scraper-atomic/internal/model"
	"github.com/dost0092/web-scraper-atomic/internal/resilience"
)

// Options configure the extraction call.
type Options struct {
	Model     string
	MaxTokens int
	// Timeout applies to each LLM attempt.
	Timeout time.Duration
	Limits  model.Limits
}

// Extractor turns web context into a validated pet policy document.
type Extractor struct {
	client llm.Client
	policy resilience.Policy
	opts   Options
	log    *zap.Logger
}

// New creates an Extractor.
func New(client llm.Client, policy resilience.Policy, opts Options) *Extractor {
	if opts.Limits == (model.Limits{}) {
		opts.Limits = model.DefaultLimits()
	}
	return &Extractor{
		client: client,
		policy: policy,
		opts:   opts,
		log:    zap.L().With(zap.String("component", "extract")),
	}
}

// Extract calls the LLM in JSON mode and parses its answer. Transient
// provider failures are retried by the policy and then reported as
// model.ErrGenerationFailed; a malformed answer is a *model.SchemaViolation
// and is not retried.
func (e *Extractor) Extract(ctx context.Context, webContext string) (*model.PetPolicyDocument, error) {
	if strings.TrimSpace(webContext) == "" {
		return nil, model.GenerationFailed(eris.New("extract: empty web context"))
	}

	req := llm.Request{
		Model:       e.opts.Model,
		System:      Instruction(),
		Prompt:      userPrompt(webContext),
		MaxTokens:   e.opts.MaxTokens,
		Temperature: 0,
		JSON:        true,
	}

	start := time.Now()
	resp, err := resilience.Retry(ctx, e.policy, "extract: complete", func(ctx context.Context) (*llm.Response, error) {
		if e.opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
			defer cancel()
		}
		return e.client.Complete(ctx, req)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "extract: complete")
		}
		return nil, model.GenerationFailed(eris.Wrap(err, "extract: complete"))
	}
	if resp.Truncated {
		return nil, model.GenerationFailed(eris.Errorf("extract: output truncated (stop reason %q)", resp.StopReason))
	}

	doc, err := Parse(resp.Text, e.opts.Limits)
	if err != nil {
		e.log.Warn("extract: rejected response", zap.Error(err), zap.Bool("cached", resp.Cached))
		return nil, err
	}

	e.log.Debug("extract: document accepted",
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
	)
	return doc, nil
}
