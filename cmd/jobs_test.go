package main

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dost0092/web-scraper-atomic/internal/pipeline"
	"github.com/dost0092/web-scraper-atomic/internal/scrape"
)

func TestJobRegistry_Lifecycle(t *testing.T) {
	reg := newJobRegistry(10)
	j := reg.add("https://a.example.com/")
	assert.Equal(t, jobQueued, j.Status)
	assert.NotEmpty(t, j.ID)

	reg.start(j.ID)
	got, ok := reg.get(j.ID)
	require.True(t, ok)
	assert.Equal(t, jobRunning, got.Status)

	reg.finish(j.ID, &pipeline.Result{URL: j.URL, Outcome: pipeline.OutcomeCreated}, nil)
	got, _ = reg.get(j.ID)
	assert.Equal(t, jobCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, pipeline.OutcomeCreated, got.Result.Outcome)
	assert.NotNil(t, got.FinishedAt)
}

func TestJobRegistry_Failed(t *testing.T) {
	reg := newJobRegistry(10)
	j := reg.add("https://a.example.com/")
	reg.finish(j.ID, nil, errors.New("scrape failed"))

	got, ok := reg.get(j.ID)
	require.True(t, ok)
	assert.Equal(t, jobFailed, got.Status)
	assert.Equal(t, "scrape failed", got.Error)
}

func TestJobRegistry_EvictsOldest(t *testing.T) {
	reg := newJobRegistry(2)
	first := reg.add("https://a.example.com/")
	second := reg.add("https://b.example.com/")
	third := reg.add("https://c.example.com/")

	_, ok := reg.get(first.ID)
	assert.False(t, ok)
	_, ok = reg.get(second.ID)
	assert.True(t, ok)
	_, ok = reg.get(third.ID)
	assert.True(t, ok)
}

func TestJobRegistry_UnknownID(t *testing.T) {
	reg := newJobRegistry(0)
	reg.start("missing")
	reg.finish("missing", nil, nil)
	_, ok := reg.get("missing")
	assert.False(t, ok)
}

func TestJobRegistry_Discovery(t *testing.T) {
	reg := newJobRegistry(10)
	j := reg.addDiscovery("hilton", "US")
	assert.Equal(t, jobDiscover, j.Kind)
	assert.Empty(t, j.URL)

	stats := &scrape.DiscoverStats{Chain: "hilton", CountryCode: "US", Pages: 4, Found: 12}
	batch := &batchResult{Total: 12, Finalized: 11, Failed: 1}
	reg.finishDiscovery(j.ID, stats, batch, nil)

	got, ok := reg.get(j.ID)
	require.True(t, ok)
	assert.Equal(t, jobCompleted, got.Status)
	assert.Equal(t, stats, got.Discovery)
	assert.Equal(t, batch, got.Batch)
}

func TestJobRegistry_ListActive(t *testing.T) {
	reg := newJobRegistry(10)
	done := reg.add("https://a.example.com/")
	running := reg.add("https://b.example.com/")
	queued := reg.addDiscovery("hilton", "")
	reg.start(running.ID)
	reg.finish(done.ID, nil, nil)

	all := reg.list(false)
	require.Len(t, all, 3)
	assert.Equal(t, done.ID, all[0].ID)

	active := reg.list(true)
	require.Len(t, active, 2)
	assert.Equal(t, running.ID, active[0].ID)
	assert.Equal(t, queued.ID, active[1].ID)
}

func TestJobRegistry_Prune(t *testing.T) {
	reg := newJobRegistry(10)
	clock := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return clock }

	old := reg.add("https://a.example.com/")
	reg.finish(old.ID, nil, nil)
	stillRunning := reg.add("https://b.example.com/")
	reg.start(stillRunning.ID)

	clock = clock.Add(3 * time.Hour)
	recent := reg.add("https://c.example.com/")
	reg.finish(recent.ID, nil, errors.New("scrape failed"))

	assert.Equal(t, 1, reg.prune(2*time.Hour))
	_, ok := reg.get(old.ID)
	assert.False(t, ok)
	_, ok = reg.get(stillRunning.ID)
	assert.True(t, ok)
	_, ok = reg.get(recent.ID)
	assert.True(t, ok)
	assert.Len(t, reg.list(false), 2)

	assert.Equal(t, 0, reg.prune(2*time.Hour))
}
