// Package pipeline sequences a hotel page through hashing, deduplication,
// context generation, attribute extraction and slug assignment, committing
// each stage to the store under one record identity.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dost0092/web-scraper-atomic/internal/model"
	"github.com/dost0092/web-scraper-atomic/internal/resilience"
	"github.com/dost0092/web-scraper-atomic/internal/scrape"
	"github.com/dost0092/web-scraper-atomic/internal/store"
)

// ContextGenerator turns a raw extraction into web context text.
type ContextGenerator interface {
	Generate(ctx context.Context, raw model.RawExtraction) (string, error)
}

// AttributeExtractor turns web context text into a validated pet policy.
type AttributeExtractor interface {
	Extract(ctx context.Context, webContext string) (*model.PetPolicyDocument, error)
}

// Outcome names the path a run took.
type Outcome string

const (
	// OutcomeCreated is a first extraction for a URL.
	OutcomeCreated Outcome = "created"
	// OutcomeDeduplicated returned a finalized record with the same content.
	OutcomeDeduplicated Outcome = "deduplicated"
	// OutcomeResumed continued an unfinished record from its checkpoint.
	OutcomeResumed Outcome = "resumed"
	// OutcomeReextracted reset a URL's record after its content changed.
	OutcomeReextracted Outcome = "reextracted"
	// OutcomeInProgress means another run owns the content or the record.
	OutcomeInProgress Outcome = "in_progress"
	// OutcomeCached returned a URL's finalized record without scraping.
	OutcomeCached Outcome = "cached"
)

// Request asks for one URL to be extracted.
type Request struct {
	URL string `json:"url" validate:"required,url"`
	// Refresh scrapes the page even when the URL already has a finalized
	// record.
	Refresh bool `json:"refresh"`
}

// Result reports a run. Record is the last known state of the record and
// Failure is set when the run halted in a failed stage.
type Result struct {
	URL        string                  `json:"url"`
	Outcome    Outcome                 `json:"outcome,omitempty"`
	RecordID   string                  `json:"record_id,omitempty"`
	Record     *model.ExtractionRecord `json:"record,omitempty"`
	Stages     []model.Stage           `json:"stages"`
	Failure    *model.Failure          `json:"failure,omitempty"`
	DurationMs int64                   `json:"duration_ms"`
}

// Failed reports whether the run halted in a failed stage.
func (r *Result) Failed() bool {
	return r != nil && r.Failure != nil
}

// Options configure an Orchestrator.
type Options struct {
	// MinConfidence flags PRESENT fields below it in the run log.
	MinConfidence float64
	// LeaseTTL bounds how long a crashed run blocks others.
	LeaseTTL time.Duration
	// StoreTimeout applies to each store call.
	StoreTimeout time.Duration
	// ScrapeTimeout applies to each scrape attempt.
	ScrapeTimeout time.Duration
	// Policy retries scrape attempts and timed out store calls.
	Policy resilience.Policy
}

// Orchestrator runs the extraction state machine.
type Orchestrator struct {
	store     store.Store
	scraper   scrape.Scraper
	generator ContextGenerator
	extractor AttributeExtractor
	opts      Options

	now   func() time.Time
	newID func() string
}

// New creates an Orchestrator. scraper may be nil when only Process and
// Resume are used.
func New(st store.Store, scraper scrape.Scraper, gen ContextGenerator, ext AttributeExtractor, opts Options) *Orchestrator {
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 10 * time.Minute
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 10 * time.Second
	}
	return &Orchestrator{
		store:     st,
		scraper:   scraper,
		generator: gen,
		extractor: ext,
		opts:      opts,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Run extracts req.URL. Unless req.Refresh is set, a URL whose record is
// already finalized is returned without scraping.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if !req.Refresh {
		rec, err := callStore(ctx, o, "find by url", func(ctx context.Context) (*model.ExtractionRecord, error) {
			return o.store.FindByURL(ctx, req.URL)
		})
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: lookup url")
		}
		if rec.Finalized() {
			zap.L().Info("pipeline: url already finalized", zap.String("url", req.URL), zap.String("record_id", rec.ID))
			return &Result{URL: req.URL, Outcome: OutcomeCached, RecordID: rec.ID, Record: rec, Stages: []model.Stage{}}, nil
		}
	}

	if o.scraper == nil {
		return nil, eris.New("pipeline: no scraper configured")
	}
	start := o.now()
	raw, err := resilience.Retry(ctx, o.opts.Policy, "pipeline: scrape", func(ctx context.Context) (*model.RawExtraction, error) {
		if o.opts.ScrapeTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, o.opts.ScrapeTimeout)
			defer cancel()
		}
		return o.scraper.Scrape(ctx, req.URL)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "pipeline: scrape")
		}
		err = model.ScrapeFailed(err)
		res := &Result{
			URL:        req.URL,
			Stages:     []model.Stage{},
			Failure:    &model.Failure{Stage: model.StageStarted, Reason: err.Error(), Retryable: true, FailedAt: o.now().UTC()},
			DurationMs: o.now().Sub(start).Milliseconds(),
		}
		zap.L().Warn("pipeline: scrape failed", zap.String("url", req.URL), zap.Error(err))
		return res, &model.StageError{Stage: model.StageStarted, Err: err, Retryable: true}
	}
	if raw.URL == "" {
		raw.URL = req.URL
	}
	return o.Process(ctx, req.URL, *raw)
}

// Process runs an already scraped page through the pipeline. Finalized
// content is returned without LLM calls; unfinished content for the same
// URL resumes from its checkpoint; changed content for a known URL resets
// that URL's record.
func (o *Orchestrator) Process(ctx context.Context, sourceURL string, raw model.RawExtraction) (*Result, error) {
	r := o.newRun(sourceURL)
	r.advance(model.StageStarted)

	hash := r.hashRaw(raw)
	r.advance(model.StageHashed)

	existing, err := callStore(ctx, o, "find by hash", func(ctx context.Context) (*model.ExtractionRecord, error) {
		return o.store.FindByHash(ctx, hash)
	})
	if err != nil {
		return o.failUnpersisted(ctx, r, model.StageDedupChecked, eris.Wrap(err, "pipeline: dedup lookup"))
	}
	r.advance(model.StageDedupChecked)

	switch {
	case existing.Finalized():
		r.log.Info("pipeline: content already finalized", zap.String("record_id", existing.ID))
		return r.finish(OutcomeDeduplicated, existing), nil
	case existing != nil && existing.SourceURL == sourceURL:
		return o.resumeRecord(ctx, r, existing)
	case existing != nil:
		r.log.Info("pipeline: content owned by another url",
			zap.String("record_id", existing.ID),
			zap.String("owner_url", existing.SourceURL),
		)
		return r.finish(OutcomeInProgress, existing), nil
	}

	rec, outcome, err := o.saveRaw(ctx, r, hash, raw)
	switch {
	case err != nil && (eris.Is(err, model.ErrConflict) || eris.Is(err, model.ErrLeaseHeld)):
		r.log.Info("pipeline: lost raw save race", zap.Error(err))
		return r.finish(OutcomeInProgress, nil), nil
	case err != nil:
		return o.failUnpersisted(ctx, r, model.StageRawSaved, err)
	}
	r.outcome = outcome
	r.advance(model.StageRawSaved)
	return o.advance(ctx, r, *rec)
}

// Resume continues a stored record from its checkpoint using its stored raw
// content and context. Nothing is scraped or hashed.
func (o *Orchestrator) Resume(ctx context.Context, recordID string) (*Result, error) {
	rec, err := callStore(ctx, o, "get", func(ctx context.Context) (*model.ExtractionRecord, error) {
		return o.store.Get(ctx, recordID)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: resume %s", recordID)
	}
	r := o.newRun(rec.SourceURL)
	if rec.Finalized() {
		return r.finish(OutcomeCached, rec), nil
	}
	return o.resumeRecord(ctx, r, rec)
}

func (o *Orchestrator) resumeRecord(ctx context.Context, r *run, rec *model.ExtractionRecord) (*Result, error) {
	acquired, err := callStore(ctx, o, "acquire lease", func(ctx context.Context) (bool, error) {
		return o.store.AcquireLease(ctx, rec.ID, r.owner, o.opts.LeaseTTL)
	})
	if err != nil {
		return o.failUnpersisted(ctx, r, rec.Checkpoint, eris.Wrap(err, "pipeline: acquire lease"))
	}
	if !acquired {
		r.log.Info("pipeline: record leased by another run", zap.String("record_id", rec.ID))
		return r.finish(OutcomeInProgress, rec), nil
	}

	r.outcome = OutcomeResumed
	r.log.Info("pipeline: resuming record",
		zap.String("record_id", rec.ID),
		zap.String("checkpoint", rec.Checkpoint.String()),
	)
	cur := *rec
	cur.Stage, cur.Failure = cur.Checkpoint, nil
	r.advance(cur.Checkpoint)
	return o.advance(ctx, r, cur)
}

// saveRaw claims the content with an atomic insert, or resets the URL's
// existing record when its content changed.
func (o *Orchestrator) saveRaw(ctx context.Context, r *run, hash string, raw model.RawExtraction) (*model.ExtractionRecord, Outcome, error) {
	byURL, err := callStore(ctx, o, "find by url", func(ctx context.Context) (*model.ExtractionRecord, error) {
		return o.store.FindByURL(ctx, r.url)
	})
	if err != nil {
		return nil, "", eris.Wrap(err, "pipeline: lookup url")
	}

	nr := model.NewRecord{
		SourceURL:      r.url,
		ContentHash:    hash,
		Raw:            raw,
		Address:        parseAddress(raw.Address),
		LeaseOwner:     r.owner,
		LeaseExpiresAt: o.now().Add(o.opts.LeaseTTL),
	}

	if byURL != nil {
		nr.ID = byURL.ID
		r.log.Info("pipeline: content changed, re-extracting",
			zap.String("record_id", byURL.ID),
			zap.String("previous_hash", byURL.ContentHash),
		)
		rec, err := callStore(ctx, o, "reset raw", func(ctx context.Context) (*model.ExtractionRecord, error) {
			return o.store.ResetRaw(ctx, nr)
		})
		return rec, OutcomeReextracted, err
	}

	nr.ID = o.newID()
	rec, err := callStore(ctx, o, "insert raw", func(ctx context.Context) (*model.ExtractionRecord, error) {
		return o.store.InsertRaw(ctx, nr)
	})
	return rec, OutcomeCreated, err
}

// callStore runs one store call with the store timeout, retrying timeouts
// and other transient errors under the shared policy.
func callStore[T any](ctx context.Context, o *Orchestrator, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	return resilience.Retry(ctx, o.opts.Policy, "store: "+op, func(ctx context.Context) (T, error) {
		ctx, cancel := context.WithTimeout(ctx, o.opts.StoreTimeout)
		defer cancel()
		return fn(ctx)
	})
}

func execStore(ctx context.Context, o *Orchestrator, op string, fn func(ctx context.Context) error) error {
	_, err := callStore(ctx, o, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
