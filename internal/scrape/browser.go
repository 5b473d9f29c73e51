package scrape

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dost0092/web-scraper-atomic/internal/chain"
	"github.com/dost0092/web-scraper-atomic/internal/model"
)

// BrowserOptions configure a BrowserScraper.
type BrowserOptions struct {
	Headless   bool
	Bin        string
	NoSandbox  bool
	PoolSize   int
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
	Catalogue  *chain.Catalogue
}

// BrowserScraper renders pages in a headless Chrome with stealth patches,
// for chain sites that build their policy tabs with JavaScript. The browser
// is launched on first use and shared through a page pool.
type BrowserScraper struct {
	opts    BrowserOptions
	limiter *rate.Limiter

	once    sync.Once
	initErr error
	browser *rod.Browser
	pool    rod.Pool[rod.Page]

	// prepare runs once on each page the pool creates.
	prepare func(*rod.Page) error
}

// NewBrowserScraper creates a BrowserScraper. No browser is started until
// the first Scrape.
func NewBrowserScraper(opts BrowserOptions) *BrowserScraper {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Catalogue == nil {
		opts.Catalogue = chain.Default()
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &BrowserScraper{
		opts:    opts,
		limiter: rate.NewLimiter(limit, opts.Burst),
		prepare: injectStealth,
	}
}

// injectStealth registers the stealth patches for every document the page
// loads from now on.
func injectStealth(page *rod.Page) error {
	_, err := page.EvalOnNewDocument(stealth.JS)
	return err
}

func (b *BrowserScraper) Name() string           { return "browser" }
func (b *BrowserScraper) Supports(_ string) bool { return true }

func (b *BrowserScraper) start() error {
	b.once.Do(func() {
		l := launcher.New().
			Headless(b.opts.Headless).
			NoSandbox(b.opts.NoSandbox)
		if b.opts.Bin != "" {
			l = l.Bin(b.opts.Bin)
		}
		l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
		l.Delete(flags.Flag("enable-automation"))
		l.Set(flags.Flag("disable-dev-shm-usage"))
		l.Set(flags.Flag("no-first-run"))

		controlURL, err := l.Launch()
		if err != nil {
			b.initErr = eris.Wrap(err, "browser: launch")
			return
		}
		browser := rod.New().ControlURL(controlURL)
		if err := browser.Connect(); err != nil {
			b.initErr = eris.Wrap(err, "browser: connect")
			return
		}
		b.browser = browser
		b.pool = rod.NewPagePool(b.opts.PoolSize)
		zap.L().Info("browser: launched", zap.Int("pool_size", b.opts.PoolSize))
	})
	return b.initErr
}

// Scrape renders targetURL, waits for the DOM to settle and extracts the
// hotel fields from the rendered HTML.
func (b *BrowserScraper) Scrape(ctx context.Context, targetURL string) (*model.RawExtraction, error) {
	html, err := b.Fetch(ctx, targetURL)
	if err != nil {
		return nil, err
	}
	raw, err := Parse(html, targetURL, b.opts.Catalogue)
	if err != nil {
		return nil, err
	}
	if raw.Name == "" {
		return nil, eris.Errorf("browser: no hotel name in rendered page %s", targetURL)
	}
	return raw, nil
}

// Fetch returns the rendered HTML of targetURL once its DOM has settled.
func (b *BrowserScraper) Fetch(ctx context.Context, targetURL string) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "browser: rate limit")
	}
	if err := b.start(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	page, err := b.pool.Get(b.newPage)
	if err != nil {
		return nil, eris.Wrap(err, "browser: acquire page")
	}
	defer func() {
		if navErr := page.Navigate("about:blank"); navErr != nil {
			zap.L().Debug("browser: reset page failed", zap.Error(navErr))
		}
		b.pool.Put(page)
	}()

	p := page.Context(ctx)
	if err := p.Navigate(targetURL); err != nil {
		return nil, eris.Wrapf(err, "browser: navigate %s", targetURL)
	}
	if err := p.WaitDOMStable(500*time.Millisecond, 0.1); err != nil {
		zap.L().Debug("browser: dom did not settle", zap.String("url", targetURL), zap.Error(err))
	}

	html, err := p.HTML()
	if err != nil {
		return nil, eris.Wrap(err, "browser: read html")
	}
	return []byte(html), nil
}

// newPage opens a tab for the pool. Pooled pages keep their stealth
// patches across reuse, so they are applied here only.
func (b *BrowserScraper) newPage() (*rod.Page, error) {
	page, err := b.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, err
	}
	if err := b.prepare(page); err != nil {
		zap.L().Debug("browser: stealth injection failed", zap.Error(err))
	}
	return page, nil
}

// Close drains the page pool and stops the browser.
func (b *BrowserScraper) Close() error {
	if b.browser == nil {
		return nil
	}
	b.pool.Cleanup(func(p *rod.Page) { _ = p.Close() })
	return eris.Wrap(b.browser.Close(), "browser: close")
}
