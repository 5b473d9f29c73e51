package scrape

import (
	"bytes"
	"context"
	nurl "net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dost0092/web-scraper-atomic/internal/chain"
	"github.com/dost0092/web-scraper-atomic/internal/model"
)

const (
	defaultMaxPages    = 2000
	defaultMaxDepth    = 3
	cardAncestorLevels = 4
)

// Fetcher returns the HTML of a page. HTTPScraper and BrowserScraper both
// satisfy it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// DiscoverOptions bounds a directory walk.
type DiscoverOptions struct {
	// MaxPages caps the directory pages fetched per walk.
	MaxPages int
}

// DiscoverStats summarizes one walk.
type DiscoverStats struct {
	Chain       string `json:"chain"`
	CountryCode string `json:"country_code,omitempty"`
	Pages       int    `json:"pages"`
	Found       int    `json:"found"`
	Errors      int    `json:"errors"`
	Truncated   bool   `json:"truncated,omitempty"`
}

// Discoverer walks a chain's location directory and reports every property
// page it lists.
type Discoverer struct {
	fetcher   Fetcher
	catalogue *chain.Catalogue
	opts      DiscoverOptions
}

// NewDiscoverer creates a Discoverer. A nil catalogue uses the embedded one.
func NewDiscoverer(fetcher Fetcher, cat *chain.Catalogue, opts DiscoverOptions) *Discoverer {
	if cat == nil {
		cat = chain.Default()
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = defaultMaxPages
	}
	return &Discoverer{fetcher: fetcher, catalogue: cat, opts: opts}
}

type dirPage struct {
	url     string
	country string
	state   string
}

// Discover walks the directory of chainKey breadth-first from its index
// page and calls emit once per distinct property URL. A non-empty
// countryCode restricts the walk to that country's pages. Pages that fail
// to load are counted and skipped; an emit error stops the walk.
func (d *Discoverer) Discover(ctx context.Context, chainKey, countryCode string, emit func(context.Context, model.HotelLocation) error) (*DiscoverStats, error) {
	ch, countryCode, err := d.directory(chainKey, countryCode)
	if err != nil {
		return nil, err
	}
	disc := ch.Discovery

	index, err := nurl.Parse(disc.IndexURL)
	if err != nil {
		return nil, eris.Wrap(err, "scrape: parse index url")
	}
	maxDepth := disc.MaxDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}

	stats := &DiscoverStats{Chain: ch.Key, CountryCode: countryCode}
	visited := map[string]bool{pageKey(index): true}
	seen := make(map[string]bool)
	queue := []dirPage{{url: index.String()}}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return stats, eris.Wrap(err, "scrape: discover cancelled")
		}
		if stats.Pages >= d.opts.MaxPages {
			stats.Truncated = true
			zap.L().Warn("scrape: discovery page cap reached",
				zap.String("chain", ch.Key),
				zap.Int("max_pages", d.opts.MaxPages),
				zap.Int("pending", len(queue)),
			)
			break
		}
		page := queue[0]
		queue = queue[1:]

		stats.Pages++
		html, err := d.fetcher.Fetch(ctx, page.url)
		if err != nil {
			if ctx.Err() != nil {
				return stats, eris.Wrap(ctx.Err(), "scrape: discover cancelled")
			}
			stats.Errors++
			zap.L().Warn("scrape: directory page failed", zap.String("url", page.url), zap.Error(err))
			continue
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
		if err != nil {
			stats.Errors++
			continue
		}
		base, _ := nurl.Parse(page.url)

		if countryCode == "" || page.country == countryCode {
			for _, loc := range hotelCards(doc, base, disc) {
				if seen[loc.URL] {
					continue
				}
				seen[loc.URL] = true
				loc.Chain = ch.Key
				loc.CountryCode = page.country
				loc.State = page.state
				stats.Found++
				if err := emit(ctx, loc); err != nil {
					return stats, err
				}
			}
		}

		for _, sel := range disc.NextPage {
			a := doc.Find(sel).First()
			if a.Length() == 0 {
				continue
			}
			u := resolve(base, a.AttrOr("href", ""))
			if u != nil && u.Host == index.Host && !visited[pageKey(u)] {
				visited[pageKey(u)] = true
				queue = append(queue, dirPage{url: u.String(), country: page.country, state: page.state})
			}
			break
		}

		for _, sel := range disc.LocationLinks {
			doc.Find(sel).Each(func(_ int, a *goquery.Selection) {
				u := resolve(base, a.AttrOr("href", ""))
				if u == nil || u.Host != index.Host || visited[pageKey(u)] {
					return
				}
				segs := segmentsBelow(index.Path, u.Path)
				if len(segs) == 0 || len(segs) > maxDepth {
					return
				}
				next := dirPage{url: u.String(), country: strings.ToUpper(disc.Countries[segs[0]]), state: page.state}
				if countryCode != "" && next.country != countryCode {
					return
				}
				if len(segs) == 2 {
					next.state = cleanText(a.Text())
				}
				visited[pageKey(u)] = true
				queue = append(queue, next)
			})
		}
	}

	zap.L().Info("scrape: discovery finished",
		zap.String("chain", stats.Chain),
		zap.String("country_code", stats.CountryCode),
		zap.Int("pages", stats.Pages),
		zap.Int("found", stats.Found),
		zap.Int("errors", stats.Errors),
	)
	return stats, nil
}

// Check reports whether chainKey has a location directory that lists
// countryCode. It returns an error matching model.ErrNoDirectory when not.
func (d *Discoverer) Check(chainKey, countryCode string) error {
	_, _, err := d.directory(chainKey, countryCode)
	return err
}

func (d *Discoverer) directory(chainKey, countryCode string) (*chain.Chain, string, error) {
	ch := d.catalogue.Lookup(chainKey)
	if ch == nil {
		return nil, "", eris.Wrapf(model.ErrNoDirectory, "scrape: unknown chain %q", chainKey)
	}
	if ch.Discovery == nil {
		return nil, "", eris.Wrapf(model.ErrNoDirectory, "scrape: chain %q has no location directory", ch.Key)
	}
	countryCode = strings.ToUpper(strings.TrimSpace(countryCode))
	if countryCode != "" && !hasCountry(ch.Discovery.Countries, countryCode) {
		return nil, "", eris.Wrapf(model.ErrNoDirectory, "scrape: chain %q does not list country %q", ch.Key, countryCode)
	}
	return ch, countryCode, nil
}

// hotelCards reads the property listings on one directory page. The
// property link is the card's enclosing anchor or, failing that, the
// nearest HotelLink match among the card's ancestors.
func hotelCards(doc *goquery.Document, base *nurl.URL, disc *chain.Discovery) []model.HotelLocation {
	var out []model.HotelLocation
	for _, sel := range disc.HotelCards {
		doc.Find(sel).Each(func(_ int, card *goquery.Selection) {
			name := cleanText(card.Text())
			if name == "" {
				return
			}
			href := card.Closest("a").AttrOr("href", "")
			if href == "" && disc.HotelLink != "" {
				p := card.Parent()
				for i := 0; i < cardAncestorLevels && p.Length() > 0; i++ {
					if a := p.Find(disc.HotelLink).First(); a.Length() > 0 {
						href = a.AttrOr("href", "")
						break
					}
					p = p.Parent()
				}
			}
			u := resolve(base, href)
			if u == nil {
				return
			}
			u.RawQuery = ""
			out = append(out, model.HotelLocation{URL: u.String(), Name: name})
		})
	}
	return out
}

func resolve(base *nurl.URL, href string) *nurl.URL {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return nil
	}
	ref, err := nurl.Parse(href)
	if err != nil {
		return nil
	}
	u := base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil
	}
	u.Fragment = ""
	return u
}

// pageKey identifies a directory page regardless of trailing slash.
func pageKey(u *nurl.URL) string {
	key := u.Host + strings.TrimSuffix(u.Path, "/")
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key
}

// segmentsBelow returns the path segments of p under root, or nil when p
// is not below root.
func segmentsBelow(root, p string) []string {
	root = strings.TrimSuffix(root, "/") + "/"
	if !strings.HasPrefix(p, root) {
		return nil
	}
	rest := strings.Trim(strings.TrimPrefix(p, root), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func hasCountry(countries map[string]string, code string) bool {
	for _, c := range countries {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}

func cleanText(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
