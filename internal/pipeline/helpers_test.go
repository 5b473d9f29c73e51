package pipeline

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dost0092/web-scraper-atomic/internal/extract"
	"github.com/dost0092/web-scraper-atomic/internal/model"
	"github.com/dost0092/web-scraper-atomic/internal/resilience"
	"github.com/dost0092/web-scraper-atomic/internal/store"
)

const hiltonURL = "https://www.hilton.com/en/hotels/anchahf-hilton-anchorage/"

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func fastPolicy() resilience.Policy {
	return resilience.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func testOptions() Options {
	return Options{
		LeaseTTL:     time.Minute,
		StoreTimeout: 5 * time.Second,
		Policy:       fastPolicy(),
	}
}

func hiltonRaw(url string) model.RawExtraction {
	return model.RawExtraction{
		URL:       url,
		Chain:     "hilton",
		Name:      "Hilton Anchorage",
		Address:   "500 West Third Avenue, Anchorage, Alaska, 99501, USA",
		Phone:     "+1 907-272-7411",
		Amenities: []string{"Fitness center", "Pet friendly"},
		Policies: model.Policies{
			Pets: map[string]string{
				"Pets allowed": "Yes",
				"Deposit":      "$75.00 non-refundable",
				"Max weight":   "75 lbs",
			},
		},
	}
}

// petResponse is an extraction answer with every field not_mentioned except
// the overrides.
func petResponse(t *testing.T, overrides map[string]string) string {
	t.Helper()
	info := make(map[string]json.RawMessage)
	conf := make(map[string]float64)
	for _, name := range model.PetFieldNames() {
		info[name] = json.RawMessage(`{"status":"not_mentioned"}`)
		conf[name] = 0
	}
	for k, v := range overrides {
		info[k] = json.RawMessage(v)
		conf[k] = 1
	}
	b, err := json.Marshal(map[string]any{"pet_information": info, "confidence_scores": conf})
	require.NoError(t, err)
	return string(b)
}

func hiltonPetResponse(t *testing.T) string {
	return petResponse(t, map[string]string{
		"is_pet_friendly":       `{"status":"present","value":true}`,
		"has_pet_deposit":       `{"status":"present","value":true}`,
		"pet_deposit_amount":    `{"status":"present","value":75.0}`,
		"is_deposit_refundable": `{"status":"present","value":false}`,
		"max_weight_lbs":        `{"status":"present","value":75}`,
	})
}

func hiltonDoc(t *testing.T) *model.PetPolicyDocument {
	t.Helper()
	doc, err := extract.Parse(hiltonPetResponse(t), model.DefaultLimits())
	require.NoError(t, err)
	return doc
}

// fakeGenerator echoes the hotel name and pet policy, or runs fn when set.
type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, raw model.RawExtraction) (string, error)
}

func (g *fakeGenerator) Generate(ctx context.Context, raw model.RawExtraction) (string, error) {
	g.mu.Lock()
	g.calls++
	fn := g.fn
	g.mu.Unlock()
	if fn != nil {
		return fn(ctx, raw)
	}
	var pets []string
	for k, v := range raw.Policies.Pets {
		pets = append(pets, k+" - "+v)
	}
	return "Hotel Name: " + raw.Name + "\nPets Policy: " + strings.Join(pets, "; "), nil
}

func (g *fakeGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// fakeExtractor returns doc, or runs fn when set.
type fakeExtractor struct {
	mu    sync.Mutex
	calls int
	doc   *model.PetPolicyDocument
	fn    func(ctx context.Context, webContext string) (*model.PetPolicyDocument, error)
}

func (e *fakeExtractor) Extract(ctx context.Context, webContext string) (*model.PetPolicyDocument, error) {
	e.mu.Lock()
	e.calls++
	fn := e.fn
	e.mu.Unlock()
	if fn != nil {
		return fn(ctx, webContext)
	}
	return e.doc, nil
}

func (e *fakeExtractor) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// stubScraper returns raw for every URL.
type stubScraper struct {
	mu    sync.Mutex
	calls int
	raw   func(url string) model.RawExtraction
	err   error
}

func (s *stubScraper) Name() string           { return "stub" }
func (s *stubScraper) Supports(_ string) bool { return true }
func (s *stubScraper) Scrape(_ context.Context, url string) (*model.RawExtraction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	raw := s.raw(url)
	return &raw, nil
}

// faultyStore injects errors into selected store calls.
type faultyStore struct {
	store.Store
	updateContextErr error
	// afterUpdateContext runs after a successful context commit.
	afterUpdateContext func(id string)
	// slugTaken makes the first n UpdateSlug calls lose the unique race.
	slugTaken int
}

func (f *faultyStore) UpdateContext(ctx context.Context, id, owner, webContext string) error {
	if f.updateContextErr != nil {
		return f.updateContextErr
	}
	if err := f.Store.UpdateContext(ctx, id, owner, webContext); err != nil {
		return err
	}
	if f.afterUpdateContext != nil {
		f.afterUpdateContext(id)
	}
	return nil
}

func (f *faultyStore) UpdateSlug(ctx context.Context, id, owner, slug string) error {
	if f.slugTaken > 0 {
		f.slugTaken--
		return model.ErrSlugTaken
	}
	return f.Store.UpdateSlug(ctx, id, owner, slug)
}
