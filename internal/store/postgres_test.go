package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dost0092/web-scraper-atomic/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock, now: time.Now}
	return s, mock
}

var recordCols = []string{
	"id", "source_url", "content_hash", "stage", "checkpoint", "failure", "raw", "address",
	"web_context", "pet_attributes", "web_slug", "lease_owner", "lease_expires_ms", "created_at", "updated_at",
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint}
}

func TestPostgresStore_InsertRaw(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	nr := newRecord("https://example.com/hotel", "hash-1")

	mock.ExpectExec(`INSERT INTO extraction_records`).
		WithArgs(nr.ID, nr.SourceURL, "hash-1", "RAW_SAVED", pgxmock.AnyArg(), pgxmock.AnyArg(),
			"run-1", nr.LeaseExpiresAt.UnixMilli(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec, err := s.InsertRaw(context.Background(), nr)
	require.NoError(t, err)
	assert.Equal(t, nr.ID, rec.ID)
	assert.Equal(t, model.StageRawSaved, rec.Stage)
	assert.Equal(t, "run-1", rec.LeaseOwner)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertRaw_Conflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO extraction_records`).
		WillReturnError(uniqueViolation("uq_extraction_records_content_hash"))

	_, err := s.InsertRaw(context.Background(), newRecord("https://example.com/hotel", "hash-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrConflict)
	assert.Contains(t, err.Error(), "uq_extraction_records_content_hash")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertRaw_RequiresIdentity(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	_, err := s.InsertRaw(context.Background(), model.NewRecord{SourceURL: "https://example.com"})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	nr := newRecord("https://example.com/hotel", "hash-1")

	raw, err := json.Marshal(nr.Raw)
	require.NoError(t, err)
	addr, err := json.Marshal(nr.Address)
	require.NoError(t, err)
	failure := []byte(`{"stage":"CONTEXT_GENERATED","reason":"generation failed","retryable":true,"failed_at":"2026-01-02T03:04:05Z"}`)
	webContext := "Hotel Name: Hilton Anchorage"
	owner := "run-1"
	exp := int64(1767323045000)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, source_url, content_hash, stage, checkpoint, failure, raw, address,\s+web_context.* FROM extraction_records WHERE id = \$1`).
		WithArgs(nr.ID).
		WillReturnRows(pgxmock.NewRows(recordCols).AddRow(
			nr.ID, nr.SourceURL, "hash-1", "FAILED", "CONTEXT_SAVED", failure, raw, addr,
			&webContext, []byte(nil), (*string)(nil), &owner, &exp, now, now,
		))

	rec, err := s.Get(context.Background(), nr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageFailed, rec.Stage)
	assert.Equal(t, model.StageContextSaved, rec.Checkpoint)
	require.NotNil(t, rec.Failure)
	assert.Equal(t, model.StageContextGenerated, rec.Failure.Stage)
	assert.True(t, rec.Failure.Retryable)
	assert.Equal(t, "Hilton Anchorage", rec.Raw.Name)
	assert.Equal(t, "Anchorage", rec.Address.City)
	require.NotNil(t, rec.WebContext)
	assert.Equal(t, webContext, *rec.WebContext)
	assert.Nil(t, rec.PetAttributes)
	assert.Nil(t, rec.WebSlug)
	require.NotNil(t, rec.LeaseExpiresAt)
	assert.Equal(t, exp, rec.LeaseExpiresAt.UnixMilli())
	assert.NoError(t, rec.Validate())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM extraction_records WHERE id = \$1`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.Get(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindByHash_Missing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM extraction_records WHERE content_hash = \$1`).
		WithArgs("abc").
		WillReturnError(pgx.ErrNoRows)

	rec, err := s.FindByHash(context.Background(), "abc")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResetRaw_LeaseHeld(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	nr := newRecord("https://example.com/hotel", "hash-2")

	mock.ExpectExec(`UPDATE extraction_records SET content_hash = \$1`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	_, err := s.ResetRaw(context.Background(), nr)
	assert.ErrorIs(t, err, model.ErrLeaseHeld)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateContext(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE extraction_records SET web_context = \$1, stage = \$2, checkpoint = \$2`).
		WithArgs("ctx", "CONTEXT_SAVED", pgxmock.AnyArg(), "rec-1", "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE extraction_records SET web_context`).
		WithArgs("ctx", "CONTEXT_SAVED", pgxmock.AnyArg(), "missing", "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM extraction_records WHERE id = \$1\)`).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	require.NoError(t, s.UpdateContext(context.Background(), "rec-1", "run-1", "ctx"))
	assert.ErrorIs(t, s.UpdateContext(context.Background(), "missing", "run-1", "ctx"), model.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StageCommit_LeaseHeld(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`WHERE id = \$4 AND \(lease_owner IS NULL OR lease_owner = \$5\)`).
		WithArgs(pgxmock.AnyArg(), "ATTRIBUTES_SAVED", pgxmock.AnyArg(), "rec-1", "stale-run").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("rec-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(`UPDATE extraction_records SET stage = \$1, failure = \$2`).
		WithArgs("FAILED", pgxmock.AnyArg(), pgxmock.AnyArg(), "rec-1", "stale-run").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("rec-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	err := s.UpdateAttributes(context.Background(), "rec-1", "stale-run", &model.PetPolicyDocument{})
	assert.ErrorIs(t, err, model.ErrLeaseHeld)
	err = s.MarkFailed(context.Background(), "rec-1", "stale-run", model.Failure{Stage: model.StageAttributesExtracted, Reason: "boom"})
	assert.ErrorIs(t, err, model.ErrLeaseHeld)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateSlug_Taken(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE extraction_records SET web_slug = \$1`).
		WithArgs("hilton-anchorage", "FINALIZED", pgxmock.AnyArg(), "rec-1", "run-1").
		WillReturnError(uniqueViolation("uq_extraction_records_web_slug"))

	err := s.UpdateSlug(context.Background(), "rec-1", "run-1", "hilton-anchorage")
	assert.ErrorIs(t, err, model.ErrSlugTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SlugOwner(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id FROM extraction_records WHERE web_slug = \$1`).
		WithArgs("hilton-anchorage").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("rec-1"))
	mock.ExpectQuery(`SELECT id FROM extraction_records WHERE web_slug = \$1`).
		WithArgs("free").
		WillReturnError(pgx.ErrNoRows)

	owner, err := s.SlugOwner(context.Background(), "hilton-anchorage")
	require.NoError(t, err)
	assert.Equal(t, "rec-1", owner)

	owner, err = s.SlugOwner(context.Background(), "free")
	require.NoError(t, err)
	assert.Empty(t, owner)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkFailed(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE extraction_records SET stage = \$1, failure = \$2`).
		WithArgs("FAILED", pgxmock.AnyArg(), pgxmock.AnyArg(), "rec-1", "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.MarkFailed(context.Background(), "rec-1", "run-1", model.Failure{Stage: model.StageContextGenerated, Reason: "boom", Retryable: true})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AcquireLease(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE extraction_records SET lease_owner = \$1`).
		WithArgs("run-1", pgxmock.AnyArg(), pgxmock.AnyArg(), "rec-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE extraction_records SET lease_owner = \$1`).
		WithArgs("run-2", pgxmock.AnyArg(), pgxmock.AnyArg(), "rec-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec(`SET lease_owner = NULL`).
		WithArgs("rec-1", "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := s.AcquireLease(context.Background(), "rec-1", "run-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AcquireLease(context.Background(), "rec-1", "run-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.ReleaseLease(context.Background(), "rec-1", "run-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_List_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE true AND stage = \$1 AND stage = 'FAILED' AND \(failure->>'retryable'\)::boolean ORDER BY updated_at DESC LIMIT \$2 OFFSET \$3`).
		WithArgs("FAILED", 10, 20).
		WillReturnRows(pgxmock.NewRows(recordCols))

	recs, err := s.List(context.Background(), ListFilter{Stage: model.StageFailed, RetryableOnly: true, Limit: 10, Offset: 20})
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_List_UpdatedAfter(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	cutoff := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`WHERE true AND updated_at >= \$1 ORDER BY updated_at DESC LIMIT \$2`).
		WithArgs(cutoff, 500).
		WillReturnRows(pgxmock.NewRows(recordCols))

	_, err := s.List(context.Background(), ListFilter{UpdatedAfter: cutoff, Limit: 500})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_List_DefaultLimit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`ORDER BY updated_at DESC LIMIT \$1$`).
		WithArgs(defaultListLimit).
		WillReturnRows(pgxmock.NewRows(recordCols))

	_, err := s.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var locationCols = []string{"url", "hotel_name", "chain", "country_code", "state", "created_at", "updated_at"}

func TestPostgresStore_UpsertLocation(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	loc := model.HotelLocation{URL: "https://www.hilton.com/en/hotels/ancak/", Name: "Hilton Anchorage", Chain: "hilton", CountryCode: "US", State: "Alaska"}

	mock.ExpectQuery(`(?s)INSERT INTO hotel_locations .* ON CONFLICT \(url\) DO UPDATE .* RETURNING \(xmax = 0\)`).
		WithArgs(loc.URL, loc.Name, loc.Chain, loc.CountryCode, loc.State, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))
	mock.ExpectQuery(`INSERT INTO hotel_locations`).
		WithArgs(loc.URL, loc.Name, loc.Chain, loc.CountryCode, loc.State, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(false))

	created, err := s.UpsertLocation(context.Background(), loc)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.UpsertLocation(context.Background(), loc)
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListLocations(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	mock.ExpectQuery(`FROM hotel_locations WHERE true AND chain = \$1 AND country_code = \$2 ORDER BY chain, country_code, state, hotel_name LIMIT \$3 OFFSET \$4`).
		WithArgs("hilton", "US", 50, 100).
		WillReturnRows(pgxmock.NewRows(locationCols).
			AddRow("https://www.hilton.com/en/hotels/ancak/", "Hilton Anchorage", "hilton", "US", "Alaska", now, now))

	locs, err := s.ListLocations(context.Background(), LocationFilter{Chain: "hilton", CountryCode: "US", Limit: 50, Offset: 100})
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, "Alaska", locs[0].State)
	assert.NoError(t, mock.ExpectationsWereMet())
}
