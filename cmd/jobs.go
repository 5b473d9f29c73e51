package main

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dost0092/web-scraper-atomic/internal/pipeline"
	"github.com/dost0092/web-scraper-atomic/internal/scrape"
)

type jobStatus string

const (
	jobQueued    jobStatus = "queued"
	jobRunning   jobStatus = "running"
	jobCompleted jobStatus = "completed"
	jobFailed    jobStatus = "failed"
)

type jobKind string

const (
	jobExtract  jobKind = "extract"
	jobDiscover jobKind = "discover"
)

// job tracks one asynchronous extraction or discovery submitted to the API.
type job struct {
	ID          string                `json:"job_id"`
	Kind        jobKind               `json:"kind"`
	URL         string                `json:"url,omitempty"`
	Chain       string                `json:"chain,omitempty"`
	CountryCode string                `json:"country_code,omitempty"`
	Status      jobStatus             `json:"status"`
	Result      *pipeline.Result      `json:"result,omitempty"`
	Discovery   *scrape.DiscoverStats `json:"discovery,omitempty"`
	Batch       *batchResult          `json:"batch,omitempty"`
	Error       string                `json:"error,omitempty"`
	SubmittedAt time.Time             `json:"submitted_at"`
	FinishedAt  *time.Time            `json:"finished_at,omitempty"`
}

func (j *job) active() bool {
	return j.Status == jobQueued || j.Status == jobRunning
}

// jobRegistry keeps async jobs in memory. Jobs do not survive a restart;
// the records they produce do.
type jobRegistry struct {
	mu    sync.RWMutex
	jobs  map[string]*job
	limit int
	ids   []string
	now   func() time.Time
}

func newJobRegistry(limit int) *jobRegistry {
	if limit <= 0 {
		limit = 1000
	}
	return &jobRegistry{
		jobs:  make(map[string]*job),
		limit: limit,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// add registers a queued extraction job for url.
func (r *jobRegistry) add(url string) job {
	return r.insert(&job{Kind: jobExtract, URL: url})
}

// addDiscovery registers a queued discovery job for a chain directory.
func (r *jobRegistry) addDiscovery(chainKey, countryCode string) job {
	return r.insert(&job{Kind: jobDiscover, Chain: chainKey, CountryCode: countryCode})
}

// insert queues j, evicting the oldest job when full.
func (r *jobRegistry) insert(j *job) job {
	j.ID = uuid.NewString()
	j.Status = jobQueued
	r.mu.Lock()
	defer r.mu.Unlock()
	j.SubmittedAt = r.now()
	if len(r.ids) >= r.limit {
		oldest := r.ids[0]
		r.ids = r.ids[1:]
		delete(r.jobs, oldest)
	}
	r.jobs[j.ID] = j
	r.ids = append(r.ids, j.ID)
	return *j
}

func (r *jobRegistry) start(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		j.Status = jobRunning
	}
}

// finish records the outcome of an extraction job. A run that halted in a
// failed stage is a failed job even though it produced a result.
func (r *jobRegistry) finish(id string, res *pipeline.Result, err error) {
	r.complete(id, err, func(j *job) { j.Result = res })
}

// finishDiscovery records the outcome of a discovery job and, when its
// URLs were extracted, the batch totals.
func (r *jobRegistry) finishDiscovery(id string, stats *scrape.DiscoverStats, batch *batchResult, err error) {
	r.complete(id, err, func(j *job) {
		j.Discovery = stats
		j.Batch = batch
	})
}

func (r *jobRegistry) complete(id string, err error, set func(*job)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return
	}
	set(j)
	now := r.now()
	j.FinishedAt = &now
	j.Status = jobCompleted
	if err != nil {
		j.Status = jobFailed
		j.Error = err.Error()
	}
}

// get returns a copy of the job.
func (r *jobRegistry) get(id string) (job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return job{}, false
	}
	return *j, true
}

// list returns copies of the jobs in submission order, optionally only
// those still queued or running.
func (r *jobRegistry) list(activeOnly bool) []job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]job, 0, len(r.ids))
	for _, id := range r.ids {
		j := r.jobs[id]
		if activeOnly && !j.active() {
			continue
		}
		out = append(out, *j)
	}
	return out
}

// prune drops finished jobs that completed more than age ago and returns
// how many were dropped. Active jobs are never pruned.
func (r *jobRegistry) prune(age time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-age)
	kept := r.ids[:0]
	removed := 0
	for _, id := range r.ids {
		j := r.jobs[id]
		if j.FinishedAt != nil && !j.FinishedAt.After(cutoff) {
			delete(r.jobs, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	r.ids = kept
	return removed
}
