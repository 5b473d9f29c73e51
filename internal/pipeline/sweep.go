package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dost0092/web-scraper-atomic/internal/model"
	"github.com/dost0092/web-scraper-atomic/internal/store"
)

// SweepStats summarizes a retry sweep.
type SweepStats struct {
	Found      int `json:"found"`
	Finalized  int `json:"finalized"`
	Failed     int `json:"failed"`
	InProgress int `json:"in_progress"`
}

// RetryFailed resumes up to limit FAILED records whose failure is
// retryable, running at most concurrency at a time. Individual failures do
// not stop the sweep.
func (o *Orchestrator) RetryFailed(ctx context.Context, limit, concurrency int) (*SweepStats, error) {
	recs, err := callStore(ctx, o, "list failed", func(ctx context.Context) ([]model.ExtractionRecord, error) {
		return o.store.List(ctx, store.ListFilter{Stage: model.StageFailed, RetryableOnly: true, Limit: limit})
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list retryable records")
	}
	if concurrency < 1 {
		concurrency = 1
	}

	stats := &SweepStats{Found: len(recs)}
	if len(recs) == 0 {
		return stats, nil
	}
	zap.L().Info("pipeline: retry sweep starting", zap.Int("records", len(recs)), zap.Int("concurrency", concurrency))

	var finalized, failed, inProgress atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, rec := range recs {
		id := rec.ID
		g.Go(func() error {
			res, err := o.Resume(gctx, id)
			switch {
			case err != nil:
				failed.Add(1)
				zap.L().Warn("pipeline: retry failed", zap.String("record_id", id), zap.Error(err))
			case res.Outcome == OutcomeInProgress:
				inProgress.Add(1)
			default:
				finalized.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.Finalized = int(finalized.Load())
	stats.Failed = int(failed.Load())
	stats.InProgress = int(inProgress.Load())
	zap.L().Info("pipeline: retry sweep complete",
		zap.Int("finalized", stats.Finalized),
		zap.Int("failed", stats.Failed),
		zap.Int("in_progress", stats.InProgress),
	)
	if ctx.Err() != nil {
		return stats, eris.Wrap(ctx.Err(), "pipeline: retry sweep")
	}
	return stats, nil
}
