// Package webcontext turns a scraped hotel page into the plain-text hotel
// description that attribute extraction reads.
package webcontext

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dost0092/web-scraper-atomic/internal/llm"
	"github.com/dost0092/web-scraper-atomic/internal/model"
	"github.com/dost0092/web-scraper-atomic/internal/resilience"
)

const notSpecified = "Not specified"

const systemPrompt = "You are a strict hotel data formatter. Use only the data provided. Do not hallucinate or add facts that are not in the data."

const instruction = `You are generating a hotel web context.

Use ONLY the data provided below.

Focus strongly on:
1. Amenities & Facilities
2. PET POLICY (fees, weight, limits, deposits, species, service animals)
3. Room & stay experience
4. Parking, WiFi, Smoking policy
5. Location & nearby attractions

Formatting rules:
- One "Attribute: Value" line per fact.
- If a pets policy exists, state clearly: "This hotel is pet-friendly and allows pets." only when the policy says pets are allowed.
- Reproduce fees, weights and limits exactly as written.

HOTEL DATA:
`

// Options bound the prompt and the generated text.
type Options struct {
	Model          string
	MaxFieldChars  int
	MaxPromptChars int
	MaxLength      int
	MaxTokens      int
	// Timeout applies to each LLM attempt.
	Timeout time.Duration
}

// Generator produces web context text with the shared retry policy.
type Generator struct {
	client llm.Client
	policy resilience.Policy
	opts   Options
	log    *zap.Logger
}

// New creates a Generator.
func New(client llm.Client, policy resilience.Policy, opts Options) *Generator {
	return &Generator{
		client: client,
		policy: policy,
		opts:   opts,
		log:    zap.L().With(zap.String("component", "webcontext")),
	}
}

// Generate formats raw into a web context. Provider failures that survive
// the retry policy, empty output, output over MaxLength, and output cut at
// the token limit all fail with model.ErrGenerationFailed. Cancellation of
// ctx is returned as the context error.
func (g *Generator) Generate(ctx context.Context, raw model.RawExtraction) (string, error) {
	req := llm.Request{
		Model:       g.opts.Model,
		System:      systemPrompt,
		Prompt:      BuildPrompt(raw, g.opts.MaxFieldChars, g.opts.MaxPromptChars),
		MaxTokens:   g.opts.MaxTokens,
		Temperature: 0,
	}

	start := time.Now()
	resp, err := resilience.Retry(ctx, g.policy, "webcontext: generate", func(ctx context.Context) (*llm.Response, error) {
		return g.complete(ctx, req)
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", eris.Wrap(ctx.Err(), "webcontext: generate")
		}
		return "", model.GenerationFailed(eris.Wrap(err, "webcontext: generate"))
	}

	text := strings.TrimSpace(resp.Text)
	switch {
	case resp.Truncated:
		return "", model.GenerationFailed(eris.Errorf("webcontext: output truncated (stop reason %q)", resp.StopReason))
	case text == "":
		return "", model.GenerationFailed(eris.New("webcontext: empty output"))
	case g.opts.MaxLength > 0 && utf8.RuneCountInString(text) > g.opts.MaxLength:
		return "", model.GenerationFailed(eris.Errorf("webcontext: output length %d exceeds %d", utf8.RuneCountInString(text), g.opts.MaxLength))
	}

	g.log.Debug("webcontext: generated",
		zap.String("url", raw.URL),
		zap.Int("chars", len(text)),
		zap.Bool("cached", resp.Cached),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return text, nil
}

func (g *Generator) complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}
	return g.client.Complete(ctx, req)
}

// BuildPrompt renders raw in a fixed field order. Each value is cut to
// maxField runes and the whole prompt to maxPrompt runes; zero disables a
// bound. The same raw always yields the same prompt.
func BuildPrompt(raw model.RawExtraction, maxField, maxPrompt int) string {
	fields := []struct {
		label string
		value string
	}{
		{"Hotel Name", raw.Name},
		{"Description", raw.Description},
		{"Amenities", strings.Join(nonBlank(raw.Amenities), ", ")},
		{"Address", raw.Address},
		{"Phone", raw.Phone},
		{"Rating", raw.Rating},
		{"Parking Policy", table(raw.Policies.Parking)},
		{"Pets Policy", table(raw.Policies.Pets)},
		{"Smoking Policy", raw.Policies.Smoking},
		{"WiFi Policy", raw.Policies.WiFi},
		{"URL", raw.URL},
	}

	var b strings.Builder
	b.WriteString(instruction)
	for _, f := range fields {
		v := strings.TrimSpace(f.value)
		if v == "" {
			v = notSpecified
		}
		b.WriteString(f.label)
		b.WriteString(": ")
		b.WriteString(truncate(v, maxField))
		b.WriteByte('\n')
	}
	return truncate(b.String(), maxPrompt)
}

// table renders a label/value policy table with sorted labels.
func table(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		v := strings.TrimSpace(m[k])
		k = strings.TrimSpace(k)
		switch {
		case k == "" && v == "":
			continue
		case k == "":
			lines = append(lines, v)
		case v == "":
			lines = append(lines, k)
		default:
			lines = append(lines, k+": "+v)
		}
	}
	return strings.Join(lines, "\n")
}

func nonBlank(vals []string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit])
}
