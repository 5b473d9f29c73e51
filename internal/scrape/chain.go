package scrape

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dost0092/web-scraper-atomic/internal/chain"
	"github.com/dost0092/web-scraper-atomic/internal/config"
	"github.com/dost0092/web-scraper-atomic/internal/model"
)

// Chain tries scrapers in priority order, returning the first success.
// Every failure is reported as model.ErrScrapeFailed.
type Chain struct {
	scrapers []Scraper
}

// NewChain creates a Chain. Scrapers are tried in order.
func NewChain(scrapers ...Scraper) *Chain {
	return &Chain{scrapers: scrapers}
}

func (c *Chain) Name() string           { return "chain" }
func (c *Chain) Supports(_ string) bool { return len(c.scrapers) > 0 }

// Scrape tries each supporting scraper for targetURL. A result without a
// hotel name counts as a failure.
func (c *Chain) Scrape(ctx context.Context, targetURL string) (*model.RawExtraction, error) {
	var lastErr error
	for _, s := range c.scrapers {
		if !s.Supports(targetURL) {
			continue
		}
		raw, err := s.Scrape(ctx, targetURL)
		if err == nil && raw != nil && raw.Name != "" {
			zap.L().Debug("scrape: page extracted",
				zap.String("scraper", s.Name()),
				zap.String("url", targetURL),
				zap.String("chain", raw.Chain),
			)
			return raw, nil
		}
		if err == nil {
			err = eris.Errorf("scrape: %s returned no hotel name", s.Name())
		}
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "scrape")
		}
		zap.L().Debug("scrape: scraper failed, trying next",
			zap.String("scraper", s.Name()),
			zap.String("url", targetURL),
			zap.Error(err),
		)
		lastErr = err
	}
	if lastErr != nil {
		return nil, model.ScrapeFailed(eris.Wrap(lastErr, "scrape: all scrapers failed"))
	}
	return nil, model.ScrapeFailed(eris.Errorf("scrape: no suitable scraper for url: %s", targetURL))
}

// Fetch returns the page HTML from the first scraper that can fetch it.
func (c *Chain) Fetch(ctx context.Context, targetURL string) ([]byte, error) {
	var lastErr error
	for _, s := range c.scrapers {
		f, ok := s.(Fetcher)
		if !ok || !s.Supports(targetURL) {
			continue
		}
		body, err := f.Fetch(ctx, targetURL)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "fetch")
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, eris.Wrap(lastErr, "fetch: all scrapers failed")
	}
	return nil, eris.Errorf("fetch: no scraper can fetch %s", targetURL)
}

// Close releases scrapers that hold resources.
func (c *Chain) Close() error {
	var first error
	for _, s := range c.scrapers {
		if cl, ok := s.(io.Closer); ok {
			if err := cl.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// NewFromConfig builds the scraper chain selected by cfg.Engine: "http",
// "browser", or "auto" (http first, then browser).
func NewFromConfig(cfg config.ScrapeConfig) *Chain {
	cat := chain.Default()
	httpScraper := func() Scraper {
		return NewHTTPScraper(HTTPOptions{
			Timeout:    cfg.Timeout,
			UserAgent:  cfg.UserAgent,
			RatePerSec: cfg.RatePerSec,
			Burst:      cfg.Burst,
			Catalogue:  cat,
		})
	}
	browserScraper := func() Scraper {
		return NewBrowserScraper(BrowserOptions{
			Headless:   cfg.Browser.Headless,
			Bin:        cfg.Browser.Bin,
			NoSandbox:  cfg.Browser.NoSandbox,
			PoolSize:   cfg.Browser.PoolSize,
			Timeout:    cfg.Timeout,
			RatePerSec: cfg.RatePerSec,
			Burst:      cfg.Burst,
			Catalogue:  cat,
		})
	}

	switch cfg.Engine {
	case "http":
		return NewChain(httpScraper())
	case "browser":
		return NewChain(browserScraper())
	default:
		return NewChain(httpScraper(), browserScraper())
	}
}
