// Package monitoring summarizes recent extraction outcomes and raises
// webhook alerts when they cross configured thresholds.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/dost0092/web-scraper-atomic/internal/model"
	"github.com/dost0092/web-scraper-atomic/internal/store"
)

// scanLimit caps the records read per snapshot.
const scanLimit = 10000

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Records whose last stage commit falls in the lookback window.
	Total      int `json:"total"`
	Finalized  int `json:"finalized"`
	Failed     int `json:"failed"`
	InProgress int `json:"in_progress"`

	// Failure breakdown.
	FailRate         float64             `json:"fail_rate"`
	RetryableFailed  int                 `json:"retryable_failed"`
	SchemaViolations int                 `json:"schema_violations"`
	FailedByStage    map[model.Stage]int `json:"failed_by_stage"`

	// Stalled counts unfinished records not updated within the stall window.
	Stalled int `json:"stalled"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RecordLister is the store surface the collector reads.
type RecordLister interface {
	List(ctx context.Context, filter store.ListFilter) ([]model.ExtractionRecord, error)
}

// Collector gathers metrics from the record store.
type Collector struct {
	records      RecordLister
	stalledAfter time.Duration
	now          func() time.Time
}

// NewCollector creates a collector. Unfinished records idle longer than
// stalledAfter count as stalled; zero disables the check.
func NewCollector(records RecordLister, stalledAfter time.Duration) *Collector {
	return &Collector{records: records, stalledAfter: stalledAfter, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		FailedByStage: make(map[model.Stage]int),
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	recs, err := c.records.List(ctx, store.ListFilter{UpdatedAfter: cutoff, Limit: scanLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list records")
	}

	snap.Total = len(recs)
	for _, r := range recs {
		switch {
		case r.Finalized():
			snap.Finalized++
		case r.Failed():
			snap.Failed++
			if r.Failure != nil {
				snap.FailedByStage[r.Failure.Stage]++
				if r.Failure.Retryable {
					snap.RetryableFailed++
				} else {
					snap.SchemaViolations++
				}
			}
		default:
			snap.InProgress++
			if c.stalledAfter > 0 && now.Sub(r.UpdatedAt) > c.stalledAfter {
				snap.Stalled++
			}
		}
	}

	if finished := snap.Finalized + snap.Failed; finished > 0 {
		snap.FailRate = float64(snap.Failed) / float64(finished)
	}
	return snap, nil
}
