package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dost0092/web-scraper-atomic/internal/address"
	"github.com/dost0092/web-scraper-atomic/internal/hasher"
	"github.com/dost0092/web-scraper-atomic/internal/model"
	"github.com/dost0092/web-scraper-atomic/internal/slug"
)

// maxSlugAttempts bounds the disambiguated candidates tried after the base
// slug is taken.
const maxSlugAttempts = 4

// run tracks one pass through the state machine.
type run struct {
	url     string
	owner   string
	outcome Outcome
	stages  []model.Stage
	start   time.Time
	now     func() time.Time
	log     *zap.Logger
}

func (o *Orchestrator) newRun(sourceURL string) *run {
	owner := o.newID()
	return &run{
		url:   sourceURL,
		owner: owner,
		start: o.now(),
		now:   o.now,
		log: zap.L().With(
			zap.String("url", sourceURL),
			zap.String("run", owner),
		),
	}
}

func (r *run) advance(stage model.Stage) {
	r.stages = append(r.stages, stage)
	r.log.Debug("pipeline: stage", zap.String("stage", stage.String()))
}

func (r *run) hashRaw(raw model.RawExtraction) string {
	h := hasher.HashRaw(raw)
	r.log.Debug("pipeline: content hashed", zap.String("content_hash", h))
	return h
}

func (r *run) finish(outcome Outcome, rec *model.ExtractionRecord) *Result {
	r.outcome = outcome
	res := &Result{
		URL:        r.url,
		Outcome:    r.outcome,
		Record:     rec,
		Stages:     r.stages,
		DurationMs: r.now().Sub(r.start).Milliseconds(),
	}
	if res.Stages == nil {
		res.Stages = []model.Stage{}
	}
	if rec != nil {
		res.RecordID = rec.ID
		if rec.Failed() {
			res.Failure = rec.Failure
		}
	}
	return res
}

// advance runs the remaining stages for rec, starting after its checkpoint.
// The run's lease is released on every exit path.
func (o *Orchestrator) advance(ctx context.Context, r *run, rec model.ExtractionRecord) (*Result, error) {
	defer o.releaseLease(ctx, r, rec.ID)

	cur := rec
	if !cur.Checkpoint.AtLeast(model.StageContextSaved) {
		if !o.renewLease(ctx, r, cur.ID) {
			return o.lostLease(r, cur), nil
		}
		text, err := o.generator.Generate(ctx, cur.Raw)
		if err != nil {
			return o.fail(ctx, r, cur, model.StageContextGenerated, err)
		}
		r.advance(model.StageContextGenerated)

		if err := execStore(ctx, o, "update context", func(ctx context.Context) error {
			return o.store.UpdateContext(ctx, cur.ID, r.owner, text)
		}); err != nil {
			return o.fail(ctx, r, cur, model.StageContextSaved, err)
		}
		cur = cur.WithContext(text)
		r.advance(model.StageContextSaved)
	}

	if !cur.Checkpoint.AtLeast(model.StageAttributesSaved) {
		if !o.renewLease(ctx, r, cur.ID) {
			return o.lostLease(r, cur), nil
		}
		doc, err := o.extractor.Extract(ctx, *cur.WebContext)
		if err != nil {
			return o.fail(ctx, r, cur, model.StageAttributesExtracted, err)
		}
		r.advance(model.StageAttributesExtracted)
		if low := doc.LowConfidence(o.opts.MinConfidence); len(low) > 0 {
			r.log.Warn("pipeline: low confidence fields",
				zap.Strings("fields", low),
				zap.Float64("threshold", o.opts.MinConfidence),
			)
		}

		if err := execStore(ctx, o, "update attributes", func(ctx context.Context) error {
			return o.store.UpdateAttributes(ctx, cur.ID, r.owner, doc)
		}); err != nil {
			return o.fail(ctx, r, cur, model.StageAttributesSaved, err)
		}
		cur = cur.WithAttributes(doc)
		r.advance(model.StageAttributesSaved)
	}

	if !cur.Checkpoint.AtLeast(model.StageFinalized) {
		s, err := o.assignSlug(ctx, r, cur)
		if err != nil {
			return o.fail(ctx, r, cur, model.StageSlugComputed, err)
		}
		cur = cur.WithSlug(s)
		r.advance(model.StageFinalized)
	}

	cur.UpdatedAt = o.now().UTC()
	r.log.Info("pipeline: record finalized",
		zap.String("record_id", cur.ID),
		zap.String("slug", *cur.WebSlug),
		zap.String("outcome", string(r.outcome)),
		zap.Int64("duration_ms", o.now().Sub(r.start).Milliseconds()),
	)
	return r.finish(r.outcome, &cur), nil
}

// assignSlug commits a unique slug for rec. The base slug is used unless a
// different record holds it; then deterministic suffixes derived from the
// record ID are tried. Losing a race on the unique index moves on to the
// next candidate.
func (o *Orchestrator) assignSlug(ctx context.Context, r *run, rec model.ExtractionRecord) (string, error) {
	base := slug.Slugify(rec.Raw.Name, rec.Address)
	candidate := base
	computed := false

	for attempt := 0; ; attempt++ {
		owner, err := callStore(ctx, o, "slug owner", func(ctx context.Context) (string, error) {
			return o.store.SlugOwner(ctx, candidate)
		})
		if err != nil {
			return "", eris.Wrapf(err, "pipeline: slug owner %s", candidate)
		}

		if owner == "" || owner == rec.ID {
			if !computed {
				r.advance(model.StageSlugComputed)
				computed = true
			}
			err := execStore(ctx, o, "update slug", func(ctx context.Context) error {
				return o.store.UpdateSlug(ctx, rec.ID, r.owner, candidate)
			})
			if err == nil {
				return candidate, nil
			}
			if !errors.Is(err, model.ErrSlugTaken) {
				return "", err
			}
		}

		if attempt >= maxSlugAttempts {
			return "", eris.Errorf("pipeline: no free slug for %q after %d attempts", base, attempt+1)
		}
		r.log.Debug("pipeline: slug collision", zap.String("slug", candidate), zap.String("owner", owner))
		candidate = slug.Disambiguate(base, rec.ID, attempt)
	}
}

// fail records a stage failure on the record and halts. A cancelled run is
// not recorded: the record stays at its last committed stage. A run that
// lost its lease writes nothing and reports the record as in progress.
func (o *Orchestrator) fail(ctx context.Context, r *run, rec model.ExtractionRecord, stage model.Stage, err error) (*Result, error) {
	if errors.Is(err, model.ErrLeaseHeld) {
		return o.lostLease(r, rec), nil
	}
	if ctx.Err() != nil {
		r.log.Info("pipeline: run cancelled",
			zap.String("record_id", rec.ID),
			zap.String("stage", stage.String()),
			zap.String("checkpoint", rec.Checkpoint.String()),
		)
		return r.finish(r.outcome, &rec), eris.Wrapf(ctx.Err(), "pipeline: %s", stage)
	}

	retryable := !errors.Is(err, model.ErrSchemaViolation)
	f := model.Failure{
		Stage:     stage,
		Reason:    err.Error(),
		Retryable: retryable,
		FailedAt:  o.now().UTC(),
	}
	markErr := execStore(ctx, o, "mark failed", func(ctx context.Context) error {
		return o.store.MarkFailed(ctx, rec.ID, r.owner, f)
	})
	switch {
	case errors.Is(markErr, model.ErrLeaseHeld):
		return o.lostLease(r, rec), nil
	case markErr != nil:
		r.log.Error("pipeline: failed to record failure", zap.String("record_id", rec.ID), zap.Error(markErr))
	}

	failed := rec.WithFailure(f)
	r.advance(model.StageFailed)
	r.log.Error("pipeline: stage failed",
		zap.String("record_id", rec.ID),
		zap.String("stage", stage.String()),
		zap.Bool("retryable", retryable),
		zap.Error(err),
	)
	return r.finish(r.outcome, &failed), &model.StageError{Stage: stage, Err: err, Retryable: retryable}
}

// failUnpersisted reports a failure that happened before the run held a
// record. Nothing is written.
func (o *Orchestrator) failUnpersisted(ctx context.Context, r *run, stage model.Stage, err error) (*Result, error) {
	if ctx.Err() != nil {
		return r.finish(r.outcome, nil), eris.Wrapf(ctx.Err(), "pipeline: %s", stage)
	}
	r.log.Error("pipeline: stage failed", zap.String("stage", stage.String()), zap.Error(err))
	res := r.finish(r.outcome, nil)
	res.Failure = &model.Failure{Stage: stage, Reason: err.Error(), Retryable: true, FailedAt: o.now().UTC()}
	return res, &model.StageError{Stage: stage, Err: err, Retryable: true}
}

// renewLease extends the run's lease before an LLM stage and reports
// whether the run still owns the record. A renewal that errors keeps the
// run going; the lease guard on each commit still applies.
func (o *Orchestrator) renewLease(ctx context.Context, r *run, id string) bool {
	ok, err := callStore(ctx, o, "renew lease", func(ctx context.Context) (bool, error) {
		return o.store.AcquireLease(ctx, id, r.owner, o.opts.LeaseTTL)
	})
	if err != nil {
		r.log.Warn("pipeline: lease renewal failed", zap.String("record_id", id), zap.Error(err))
		return true
	}
	return ok
}

// lostLease halts a run whose record was taken over by another run.
func (o *Orchestrator) lostLease(r *run, rec model.ExtractionRecord) *Result {
	r.log.Warn("pipeline: lease lost, halting",
		zap.String("record_id", rec.ID),
		zap.String("checkpoint", rec.Checkpoint.String()),
	)
	return r.finish(OutcomeInProgress, &rec)
}

func (o *Orchestrator) releaseLease(ctx context.Context, r *run, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.StoreTimeout)
	defer cancel()
	if err := o.store.ReleaseLease(ctx, id, r.owner); err != nil {
		r.log.Warn("pipeline: release lease failed", zap.String("record_id", id), zap.Error(err))
	}
}

func parseAddress(s string) model.Address {
	if s == "" {
		return model.Address{}
	}
	return address.Parse(s)
}
