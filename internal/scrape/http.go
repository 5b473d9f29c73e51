package scrape

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/dost0092/web-scraper-atomic/internal/chain"
	"github.com/dost0092/web-scraper-atomic/internal/model"
	"github.com/dost0092/web-scraper-atomic/internal/resilience"
)

// maxBodyBytes caps how much of a page is read.
const maxBodyBytes = 4 << 20

// HTTPScraper fetches pages with net/http and extracts fields from the
// static HTML. It is rate limited and refuses blocked pages so the browser
// scraper can take over.
type HTTPScraper struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	catalogue *chain.Catalogue
}

// HTTPOptions configure an HTTPScraper.
type HTTPOptions struct {
	Timeout    time.Duration
	UserAgent  string
	RatePerSec float64
	Burst      int
	Catalogue  *chain.Catalogue
}

// NewHTTPScraper creates an HTTPScraper with sensible defaults.
func NewHTTPScraper(opts HTTPOptions) *HTTPScraper {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (compatible; hotelx/1.0)"
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

	return &HTTPScraper{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		limiter:   rate.NewLimiter(limit, opts.Burst),
		userAgent: opts.UserAgent,
		catalogue: opts.Catalogue,
	}
}

func (h *HTTPScraper) Name() string           { return "http" }
func (h *HTTPScraper) Supports(_ string) bool { return true }

// Scrape fetches a URL, detects blocks and extracts the hotel fields.
func (h *HTTPScraper) Scrape(ctx context.Context, targetURL string) (*model.RawExtraction, error) {
	body, err := h.Fetch(ctx, targetURL)
	if err != nil {
		return nil, err
	}
	raw, err := Parse(body, targetURL, h.catalogue)
	if err != nil {
		return nil, err
	}
	if raw.Name == "" {
		return nil, eris.Errorf("http: no hotel name in static html for %s", targetURL)
	}
	return raw, nil
}

// Fetch returns the static HTML of targetURL. Blocked, failed and empty
// pages are errors.
func (h *HTTPScraper) Fetch(ctx context.Context, targetURL string) ([]byte, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "http: rate limit")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "http: create request")
	}
	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "http: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "http: read body")
	}

	if blocked, blockType := DetectBlock(resp, body); blocked {
		return nil, eris.Errorf("http: blocked (%s)", blockType)
	}
	if resp.StatusCode >= 400 {
		return nil, resilience.ClassifyHTTP(eris.Errorf("http: status %d", resp.StatusCode), resp.StatusCode)
	}
	if len(body) < 100 {
		return nil, eris.New("http: empty page")
	}
	return body, nil
}
