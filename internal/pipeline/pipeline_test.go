package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dost0092/web-scraper-atomic/internal/extract"
	"github.com/dost0092/web-scraper-atomic/internal/hasher"
	"github.com/dost0092/web-scraper-atomic/internal/llm"
	"github.com/dost0092/web-scraper-atomic/internal/llm/mocks"
	"github.com/dost0092/web-scraper-atomic/internal/model"
	"github.com/dost0092/web-scraper-atomic/internal/slug"
	"github.com/dost0092/web-scraper-atomic/internal/webcontext"
)

func TestProcess_HiltonAnchorageEndToEnd(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	client := mocks.NewMockClient(t)
	client.On("Complete", mock.Anything, mock.MatchedBy(func(req llm.Request) bool {
		return !req.JSON && strings.Contains(req.Prompt, "Hilton Anchorage")
	})).Return(&llm.Response{
		Text: "Hotel Name: Hilton Anchorage\nAddress: 500 West Third Avenue, Anchorage, Alaska, 99501, USA\n" +
			"Pets Policy: Pets allowed - Yes; Deposit - $75.00 non-refundable; max 75 lbs",
		StopReason: "end_turn",
	}, nil).Once()
	client.On("Complete", mock.Anything, mock.MatchedBy(func(req llm.Request) bool {
		return req.JSON && strings.Contains(req.Prompt, "Deposit - $75.00 non-refundable")
	})).Return(&llm.Response{Text: hiltonPetResponse(t), StopReason: "end_turn"}, nil).Once()

	gen := webcontext.New(client, fastPolicy(), webcontext.Options{
		Model: "context-model", MaxFieldChars: 2000, MaxPromptChars: 12000, MaxLength: 8000, MaxTokens: 1024, Timeout: time.Second,
	})
	ext := extract.New(client, fastPolicy(), extract.Options{Model: "extract-model", MaxTokens: 2048, Timeout: time.Second})
	o := New(st, nil, gen, ext, testOptions())

	res, err := o.Process(ctx, hiltonURL, hiltonRaw(hiltonURL))
	require.NoError(t, err)

	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.False(t, res.Failed())
	assert.Equal(t, []model.Stage{
		model.StageStarted,
		model.StageHashed,
		model.StageDedupChecked,
		model.StageRawSaved,
		model.StageContextGenerated,
		model.StageContextSaved,
		model.StageAttributesExtracted,
		model.StageAttributesSaved,
		model.StageSlugComputed,
		model.StageFinalized,
	}, res.Stages)

	stored, err := st.Get(ctx, res.RecordID)
	require.NoError(t, err)
	require.NoError(t, stored.Validate())
	assert.Equal(t, model.StageFinalized, stored.Stage)
	assert.Equal(t, hasher.HashRaw(hiltonRaw(hiltonURL)), stored.ContentHash)
	assert.Equal(t, "Anchorage", stored.Address.City)
	require.NotNil(t, stored.WebSlug)
	assert.Equal(t, "hilton-anchorage", *stored.WebSlug)
	require.NotNil(t, stored.WebContext)
	assert.Contains(t, *stored.WebContext, "Hotel Name: Hilton Anchorage")

	doc := stored.PetAttributes
	require.NotNil(t, doc)
	friendly, ok := doc.IsPetFriendly.Get()
	assert.True(t, ok)
	assert.True(t, friendly)
	deposit, ok := doc.HasPetDeposit.Get()
	assert.True(t, ok)
	assert.True(t, deposit)
	amount, ok := doc.PetDepositAmount.Get()
	assert.True(t, ok)
	assert.InDelta(t, 75.0, amount, 1e-9)
	refundable, ok := doc.IsDepositRefundable.Get()
	assert.True(t, ok)
	assert.False(t, refundable)
	weight, ok := doc.MaxWeightLbs.Get()
	assert.True(t, ok)
	assert.Equal(t, 75, weight)
	assert.InDelta(t, 1.0, doc.MaxWeightLbs.Confidence, 1e-9)
}

func TestProcess_DedupIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	gen := &fakeGenerator{}
	ext := &fakeExtractor{doc: hiltonDoc(t)}
	o := New(st, nil, gen, ext, testOptions())

	first, err := o.Process(ctx, hiltonURL, hiltonRaw(hiltonURL))
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, first.Outcome)

	// Whitespace and ordering differences normalize to the same content.
	again := hiltonRaw(hiltonURL)
	again.Name = "  Hilton   Anchorage "
	again.Amenities = []string{"Pet friendly", "Fitness center"}

	second, err := o.Process(ctx, hiltonURL, again)
	require.NoError(t, err)

	assert.Equal(t, OutcomeDeduplicated, second.Outcome)
	assert.Equal(t, first.RecordID, second.RecordID)
	assert.Equal(t, model.StageFinalized, second.Record.Stage)
	assert.Equal(t, 1, gen.Calls())
	assert.Equal(t, 1, ext.Calls())
}

func TestProcess_ContentChangeReextracts(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	gen := &fakeGenerator{}
	ext := &fakeExtractor{doc: hiltonDoc(t)}
	o := New(st, nil, gen, ext, testOptions())

	first, err := o.Process(ctx, hiltonURL, hiltonRaw(hiltonURL))
	require.NoError(t, err)

	changed := hiltonRaw(hiltonURL)
	changed.Policies.Pets["Deposit"] = "$100.00 non-refundable"

	second, err := o.Process(ctx, hiltonURL, changed)
	require.NoError(t, err)

	assert.Equal(t, OutcomeReextracted, second.Outcome)
	assert.Equal(t, first.RecordID, second.RecordID)
	assert.Equal(t, 2, gen.Calls())
	assert.Equal(t, 2, ext.Calls())

	stored, err := st.Get(ctx, first.RecordID)
	require.NoError(t, err)
	assert.Equal(t, model.StageFinalized, stored.Stage)
	assert.Equal(t, hasher.HashRaw(changed), stored.ContentHash)
	assert.Contains(t, *stored.WebContext, "$100.00")
	assert.Equal(t, "hilton-anchorage", *stored.WebSlug)
}

func TestProcess_SlugCollision(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	o := New(st, nil, &fakeGenerator{}, &fakeExtractor{doc: hiltonDoc(t)}, testOptions())

	first, err := o.Process(ctx, hiltonURL, hiltonRaw(hiltonURL))
	require.NoError(t, err)

	otherURL := "https://www.example-travel.com/hilton-anchorage"
	other := hiltonRaw(otherURL)
	other.Phone = "+1 907-555-0100"
	second, err := o.Process(ctx, otherURL, other)
	require.NoError(t, err)
	require.NotEqual(t, first.RecordID, second.RecordID)

	assert.Equal(t, "hilton-anchorage", *first.Record.WebSlug)
	want := slug.Disambiguate("hilton-anchorage", second.RecordID, 0)
	assert.Equal(t, want, *second.Record.WebSlug)

	owner, err := st.SlugOwner(ctx, "hilton-anchorage")
	require.NoError(t, err)
	assert.Equal(t, first.RecordID, owner)

	// A content change re-derives the same suffixed slug.
	other.Policies.Smoking = "Non-smoking hotel"
	third, err := o.Process(ctx, otherURL, other)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReextracted, third.Outcome)
	assert.Equal(t, want, *third.Record.WebSlug)
}

func TestProcess_SlugRaceAdvancesSuffix(t *testing.T) {
	ctx := context.Background()
	st := &faultyStore{Store: newTestStore(t), slugTaken: 2}
	o := New(st, nil, &fakeGenerator{}, &fakeExtractor{doc: hiltonDoc(t)}, testOptions())

	res, err := o.Process(ctx, hiltonURL, hiltonRaw(hiltonURL))
	require.NoError(t, err)
	assert.Equal(t, slug.Disambiguate("hilton-anchorage", res.RecordID, 1), *res.Record.WebSlug)
}

func TestProcess_SchemaViolationIsNotRetryable(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	ext := &fakeExtractor{fn: func(context.Context, string) (*model.PetPolicyDocument, error) {
		return nil, model.Violation("max_weight_lbs", "field missing from response")
	}}
	o := New(st, nil, &fakeGenerator{}, ext, testOptions())

	res, err := o.Process(ctx, hiltonURL, hiltonRaw(hiltonURL))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrSchemaViolation)

	se, ok := model.AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, model.StageAttributesExtracted, se.Stage)
	assert.False(t, se.Retryable)

	require.True(t, res.Failed())
	assert.Equal(t, model.StageAttributesExtracted, res.Failure.Stage)
	assert.Equal(t, model.StageFailed, res.Stages[len(res.Stages)-1])
	assert.Equal(t, 1, ext.Calls())

	stored, err := st.Get(ctx, res.RecordID)
	require.NoError(t, err)
	require.NoError(t, stored.Validate())
	assert.Equal(t, model.StageFailed, stored.Stage)
	assert.Equal(t, model.StageContextSaved, stored.Checkpoint)
	assert.NotNil(t, stored.WebContext)
	assert.Nil(t, stored.PetAttributes)
	assert.Nil(t, stored.WebSlug)
	require.NotNil(t, stored.Failure)
	assert.False(t, stored.Failure.Retryable)
	assert.Contains(t, stored.Failure.Reason, "max_weight_lbs")
}

func TestProcess_FailedRunReentersFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	failing := true
	gen := &fakeGenerator{}
	gen.fn = func(_ context.Context, raw model.RawExtraction) (string, error) {
		if failing {
			return "", model.GenerationFailed(errors.New("provider overloaded"))
		}
		return "Hotel Name: " + raw.Name, nil
	}
	ext := &fakeExtractor{doc: hiltonDoc(t)}
	o := New(st, nil, gen, ext, testOptions())

	res, err := o.Process(ctx, hiltonURL, hiltonRaw(hiltonURL))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrGenerationFailed)
	se, ok := model.AsStageError(err)
	require.True(t, ok)
	assert.True(t, se.Retryable)
	assert.Equal(t, 0, ext.Calls())

	stored, err := st.Get(ctx, res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, model.StageFailed, stored.Stage)
	assert.Equal(t, model.StageRawSaved, stored.Checkpoint)
	assert.Nil(t, stored.WebContext)

	failing = false
	again, err := o.Process(ctx, hiltonURL, hiltonRaw(hiltonURL))
	require.NoError(t, err)
	assert.Equal(t, OutcomeResumed, again.Outcome)
	assert.Equal(t, res.RecordID, again.RecordID)
	assert.Equal(t, model.StageFinalized, again.Record.Stage)
	assert.Nil(t, again.Failure)
}

func TestResume_SkipsCommittedStages(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	gen := &fakeGenerator{}
	failing := true
	ext := &fakeExtractor{}
	ext.fn = func(context.Context, string) (*model.PetPolicyDocument, error) {
		if failing {
			return nil, model.GenerationFailed(errors.New("timeout"))
		}
		return hiltonDoc(t), nil
	}
	o := New(st, nil, gen, ext, testOptions())

	res, err := o.Process(ctx, hiltonURL, hiltonRaw(hiltonURL))
	require.Error(t, err)

	failing = false
	resumed, err := o.Resume(ctx, res.RecordID)
	require.NoError(t, err)

	assert.Equal(t, OutcomeResumed, resumed.Outcome)
	assert.Equal(t, 1, gen.Calls())
	assert.Equal(t, 2, ext.Calls())
	assert.Equal(t, model.StageContextSaved, resumed.Stages[0])
	assert.Equal(t, model.StageFinalized, resumed.Record.Stage)

	cached, err := o.Resume(ctx, res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCached, cached.Outcome)
	assert.Equal(t, 2, ext.Calls())
}

func TestResume_NotFound(t *testing.T) {
	o := New(newTestStore(t), nil, &fakeGenerator{}, &fakeExtractor{}, testOptions())
	_, err := o.Resume(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestProcess_CancellationKeepsLastCommittedStage(t *testing.T) {
	st := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ext := &fakeExtractor{fn: func(ctx context.Context, _ string) (*model.PetPolicyDocument, error) {
		cancel()
		return nil, ctx.Err()
	}}
	o := New(st, nil, &fakeGenerator{}, ext, testOptions())

	res, err := o.Process(ctx, hiltonURL, hiltonRaw(hiltonURL))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	_, isStage := model.AsStageError(err)
	assert.False(t, isStage)

	stored, err := st.Get(context.Background(), res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, model.StageContextSaved, stored.Stage)
	assert.Nil(t, stored.Failure)
	assert.Nil(t, stored.PetAttributes)

	// The lease was released, so another run can take the record.
	ok, err := st.AcquireLease(context.Background(), res.RecordID, "other-run", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProcess_LeasedRecordIsInProgress(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	raw := hiltonRaw(hiltonURL)

	_, err := st.InsertRaw(ctx, model.NewRecord{
		ID:             "crashed-record",
		SourceURL:      hiltonURL,
		ContentHash:    hasher.HashRaw(raw),
		Raw:            raw,
		LeaseOwner:     "live-run",
		LeaseExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	gen := &fakeGenerator{}
	o := New(st, nil, gen, &fakeExtractor{doc: hiltonDoc(t)}, testOptions())

	res, err := o.Process(ctx, hiltonURL, raw)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInProgress, res.Outcome)
	assert.Equal(t, "crashed-record", res.RecordID)
	assert.Equal(t, 0, gen.Calls())
}

func TestProcess_ExpiredLeaseResumes(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	raw := hiltonRaw(hiltonURL)

	_, err := st.InsertRaw(ctx, model.NewRecord{
		ID:             "crashed-record",
		SourceURL:      hiltonURL,
		ContentHash:    hasher.HashRaw(raw),
		Raw:            raw,
		LeaseOwner:     "dead-run",
		LeaseExpiresAt: time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)

	o := New(st, nil, &fakeGenerator{}, &fakeExtractor{doc: hiltonDoc(t)}, testOptions())
	res, err := o.Process(ctx, hiltonURL, raw)
	require.NoError(t, err)
	assert.Equal(t, OutcomeResumed, res.Outcome)
	assert.Equal(t, "crashed-record", res.RecordID)
	assert.Equal(t, model.StageFinalized, res.Record.Stage)
}

func TestProcess_LeaseLostDuringGeneration(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	opts := testOptions()
	opts.LeaseTTL = 20 * time.Millisecond

	gen := &fakeGenerator{}
	gen.fn = func(ctx context.Context, raw model.RawExtraction) (string, error) {
		time.Sleep(50 * time.Millisecond)
		rec, err := st.FindByURL(ctx, hiltonURL)
		require.NoError(t, err)
		ok, err := st.AcquireLease(ctx, rec.ID, "other-run", time.Hour)
		require.NoError(t, err)
		require.True(t, ok)
		return "Hotel Name: " + raw.Name, nil
	}
	ext := &fakeExtractor{doc: hiltonDoc(t)}
	o := New(st, nil, gen, ext, opts)

	res, err := o.Process(ctx, hiltonURL, hiltonRaw(hiltonURL))
	require.NoError(t, err)
	assert.Equal(t, OutcomeInProgress, res.Outcome)
	assert.False(t, res.Failed())
	assert.Equal(t, 0, ext.Calls())

	stored, err := st.Get(ctx, res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, model.StageRawSaved, stored.Stage)
	assert.Nil(t, stored.WebContext)
	assert.Nil(t, stored.Failure)
	assert.Equal(t, "other-run", stored.LeaseOwner)
}

func TestProcess_LeaseLostBeforeExtraction(t *testing.T) {
	ctx := context.Background()
	base := newTestStore(t)
	opts := testOptions()
	opts.LeaseTTL = 20 * time.Millisecond

	st := &faultyStore{Store: base}
	st.afterUpdateContext = func(id string) {
		time.Sleep(50 * time.Millisecond)
		ok, err := base.AcquireLease(ctx, id, "other-run", time.Hour)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ext := &fakeExtractor{doc: hiltonDoc(t)}
	o := New(st, nil, &fakeGenerator{}, ext, opts)

	res, err := o.Process(ctx, hiltonURL, hiltonRaw(hiltonURL))
	require.NoError(t, err)
	assert.Equal(t, OutcomeInProgress, res.Outcome)
	assert.Equal(t, 0, ext.Calls())

	stored, err := base.Get(ctx, res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, model.StageContextSaved, stored.Stage)
	assert.Nil(t, stored.PetAttributes)
	assert.Equal(t, "other-run", stored.LeaseOwner)
}

func TestProcess_SameContentOtherURL(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	gen := &fakeGenerator{}
	o := New(st, nil, gen, &fakeExtractor{doc: hiltonDoc(t)}, testOptions())

	first, err := o.Process(ctx, hiltonURL, hiltonRaw(hiltonURL))
	require.NoError(t, err)

	mirror := "https://mirror.example.com/hilton-anchorage"
	res, err := o.Process(ctx, mirror, hiltonRaw(mirror))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeduplicated, res.Outcome)
	assert.Equal(t, first.RecordID, res.RecordID)
	assert.Equal(t, 1, gen.Calls())
}

func TestProcess_StoreWriteFailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	base := newTestStore(t)
	st := &faultyStore{Store: base, updateContextErr: errors.New("disk full")}
	o := New(st, nil, &fakeGenerator{}, &fakeExtractor{doc: hiltonDoc(t)}, testOptions())

	res, err := o.Process(ctx, hiltonURL, hiltonRaw(hiltonURL))
	require.Error(t, err)
	se, ok := model.AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, model.StageContextSaved, se.Stage)
	assert.True(t, se.Retryable)

	stored, err := base.Get(ctx, res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, model.StageFailed, stored.Stage)
	assert.Equal(t, model.StageRawSaved, stored.Checkpoint)
	assert.Nil(t, stored.WebContext)
}

func TestRun_CachedWithoutScraping(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sc := &stubScraper{raw: hiltonRaw}
	gen := &fakeGenerator{}
	o := New(st, sc, gen, &fakeExtractor{doc: hiltonDoc(t)}, testOptions())

	first, err := o.Run(ctx, Request{URL: hiltonURL})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, first.Outcome)

	cached, err := o.Run(ctx, Request{URL: hiltonURL})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCached, cached.Outcome)
	assert.Equal(t, first.RecordID, cached.RecordID)
	assert.Equal(t, 1, sc.calls)

	refreshed, err := o.Run(ctx, Request{URL: hiltonURL, Refresh: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeduplicated, refreshed.Outcome)
	assert.Equal(t, 2, sc.calls)
	assert.Equal(t, 1, gen.Calls())
}

func TestRun_ScrapeFailedIsNotPersisted(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sc := &stubScraper{err: model.ScrapeFailed(errors.New("no hotel name"))}
	o := New(st, sc, &fakeGenerator{}, &fakeExtractor{}, testOptions())

	res, err := o.Run(ctx, Request{URL: hiltonURL})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrScrapeFailed)
	se, ok := model.AsStageError(err)
	require.True(t, ok)
	assert.True(t, se.Retryable)
	require.True(t, res.Failed())
	assert.Equal(t, 1, sc.calls)

	rec, err := st.FindByURL(ctx, hiltonURL)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRun_NoScraper(t *testing.T) {
	o := New(newTestStore(t), nil, &fakeGenerator{}, &fakeExtractor{}, testOptions())
	_, err := o.Run(context.Background(), Request{URL: hiltonURL})
	require.Error(t, err)
}
