// Package scrape fetches hotel property pages and extracts their raw fields.
package scrape

import (
	"context"

	"github.com/dost0092/web-scraper-atomic/internal/model"
)

// Scraper fetches a single hotel page and returns its raw fields.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*model.RawExtraction, error)
	Name() string
	Supports(url string) bool
}
