package llm

import (
	"context"

	"github.com/dost0092/web-scraper-atomic/internal/resilience"
)

// Guarded routes calls through a circuit breaker.
type Guarded struct {
	inner   Client
	breaker *resilience.Breaker
}

// WithBreaker wraps inner with b.
func WithBreaker(inner Client, b *resilience.Breaker) *Guarded {
	return &Guarded{inner: inner, breaker: b}
}

func (g *Guarded) Name() string { return g.inner.Name() }

func (g *Guarded) Complete(ctx context.Context, req Request) (*Response, error) {
	return resilience.Guard(ctx, g.breaker, func(ctx context.Context) (*Response, error) {
		return g.inner.Complete(ctx, req)
	})
}
