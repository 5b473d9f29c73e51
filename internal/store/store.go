package store

import (
	"context"
	"time"

	"github.com/dost0092/web-scraper-atomic/internal/model"
)

// ListFilter specifies criteria for listing records.
type ListFilter struct {
	Stage model.Stage `json:"stage,omitempty"`
	// RetryableOnly keeps FAILED records whose failure is retryable.
	RetryableOnly bool `json:"retryable_only,omitempty"`
	// UpdatedAfter keeps records whose last stage commit is at or after it.
	UpdatedAfter time.Time `json:"updated_after,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	Offset       int       `json:"offset,omitempty"`
}

// LocationFilter specifies criteria for listing discovered locations.
type LocationFilter struct {
	Chain       string `json:"chain,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Offset      int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for extraction records.
//
// Lookups that find nothing return (nil, nil), except Get which returns
// model.ErrNotFound. Unique index violations surface as model.ErrConflict
// on InsertRaw and ResetRaw and as model.ErrSlugTaken on UpdateSlug.
//
// Stage commits apply only while owner holds the record's lease or the
// record is unleased; otherwise they return model.ErrLeaseHeld.
type Store interface {
	// Raw content
	InsertRaw(ctx context.Context, rec model.NewRecord) (*model.ExtractionRecord, error)
	ResetRaw(ctx context.Context, rec model.NewRecord) (*model.ExtractionRecord, error)

	// Lookups
	Get(ctx context.Context, id string) (*model.ExtractionRecord, error)
	FindByHash(ctx context.Context, contentHash string) (*model.ExtractionRecord, error)
	FindByURL(ctx context.Context, sourceURL string) (*model.ExtractionRecord, error)
	List(ctx context.Context, filter ListFilter) ([]model.ExtractionRecord, error)
	SlugOwner(ctx context.Context, slug string) (string, error)

	// Stage commits
	UpdateContext(ctx context.Context, id, owner, webContext string) error
	UpdateAttributes(ctx context.Context, id, owner string, doc *model.PetPolicyDocument) error
	UpdateSlug(ctx context.Context, id, owner, slug string) error
	MarkFailed(ctx context.Context, id, owner string, failure model.Failure) error

	// Discovered locations. UpsertLocation reports whether the URL is new.
	UpsertLocation(ctx context.Context, loc model.HotelLocation) (bool, error)
	ListLocations(ctx context.Context, filter LocationFilter) ([]model.HotelLocation, error)

	// Run lease
	AcquireLease(ctx context.Context, id, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, id, owner string) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
