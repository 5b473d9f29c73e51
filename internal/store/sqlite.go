package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/dost0092/web-scraper-atomic/internal/db"
	"github.com/dost0092/web-scraper-atomic/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: conn, path: path, now: time.Now}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Migrate applies the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	m, err := db.NewMigrator("sqlite", s.path)
	if err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	defer m.Close() //nolint:errcheck
	return eris.Wrap(m.Up(), "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

func (s *SQLiteStore) InsertRaw(ctx context.Context, rec model.NewRecord) (*model.ExtractionRecord, error) {
	if err := validateNew(rec); err != nil {
		return nil, err
	}
	raw, addr, err := rawJSON(rec)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	stage := string(model.StageRawSaved)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO extraction_records (id, source_url, content_hash, stage, checkpoint, raw, address, lease_owner, lease_expires_ms, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SourceURL, rec.ContentHash, stage, stage, string(raw), string(addr),
		rec.LeaseOwner, rec.LeaseExpiresAt.UnixMilli(), now, now,
	)
	if isUniqueViolation(err) {
		return nil, eris.Wrapf(model.ErrConflict, "sqlite: insert raw %s: %v", rec.SourceURL, err)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert raw %s", rec.SourceURL)
	}
	return freshRecord(rec, now), nil
}

func (s *SQLiteStore) ResetRaw(ctx context.Context, rec model.NewRecord) (*model.ExtractionRecord, error) {
	if err := validateNew(rec); err != nil {
		return nil, err
	}
	raw, addr, err := rawJSON(rec)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	stage := string(model.StageRawSaved)

	res, err := s.db.ExecContext(ctx,
		`UPDATE extraction_records SET content_hash = ?, raw = ?, address = ?, stage = ?, checkpoint = ?,
			failure = NULL, web_context = NULL, pet_attributes = NULL, web_slug = NULL,
			lease_owner = ?, lease_expires_ms = ?, updated_at = ?
		WHERE id = ? AND (lease_owner IS NULL OR lease_owner = ? OR lease_expires_ms < ?)`,
		rec.ContentHash, string(raw), string(addr), stage, stage,
		rec.LeaseOwner, rec.LeaseExpiresAt.UnixMilli(), now,
		rec.ID, rec.LeaseOwner, now.UnixMilli(),
	)
	if isUniqueViolation(err) {
		return nil, eris.Wrapf(model.ErrConflict, "sqlite: reset raw %s: %v", rec.ID, err)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: reset raw %s", rec.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return nil, eris.Wrapf(model.ErrLeaseHeld, "sqlite: reset raw %s", rec.ID)
	}
	return s.Get(ctx, rec.ID)
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.ExtractionRecord, error) {
	rec, err := s.queryOne(ctx, `SELECT `+recordColumns+` FROM extraction_records WHERE id = ?`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get record %s", id)
	}
	if rec == nil {
		return nil, eris.Wrapf(model.ErrNotFound, "sqlite: get record %s", id)
	}
	return rec, nil
}

func (s *SQLiteStore) FindByHash(ctx context.Context, contentHash string) (*model.ExtractionRecord, error) {
	rec, err := s.queryOne(ctx, `SELECT `+recordColumns+` FROM extraction_records WHERE content_hash = ?`, contentHash)
	return rec, eris.Wrap(err, "sqlite: find by hash")
}

func (s *SQLiteStore) FindByURL(ctx context.Context, sourceURL string) (*model.ExtractionRecord, error) {
	rec, err := s.queryOne(ctx, `SELECT `+recordColumns+` FROM extraction_records WHERE source_url = ?`, sourceURL)
	return rec, eris.Wrap(err, "sqlite: find by url")
}

func (s *SQLiteStore) queryOne(ctx context.Context, query string, args ...any) (*model.ExtractionRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) ([]model.ExtractionRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM extraction_records WHERE 1=1`
	args := []any{}

	if filter.Stage != "" {
		query += ` AND stage = ?`
		args = append(args, string(filter.Stage))
	}
	if filter.RetryableOnly {
		query += ` AND stage = 'FAILED' AND json_extract(failure, '$.retryable') = 1`
	}
	if !filter.UpdatedAfter.IsZero() {
		query += ` AND updated_at >= ?`
		args = append(args, filter.UpdatedAfter.UTC())
	}
	query += ` ORDER BY updated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ExtractionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

func (s *SQLiteStore) SlugOwner(ctx context.Context, slug string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM extraction_records WHERE web_slug = ?`, slug).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, eris.Wrapf(err, "sqlite: slug owner %s", slug)
}

func (s *SQLiteStore) UpdateContext(ctx context.Context, id, owner, webContext string) error {
	return s.advance(ctx, "web_context", webContext, model.StageContextSaved, id, owner)
}

func (s *SQLiteStore) UpdateAttributes(ctx context.Context, id, owner string, doc *model.PetPolicyDocument) error {
	if doc == nil {
		return eris.Errorf("sqlite: update attributes %s: nil document", id)
	}
	attrs, err := json.Marshal(doc)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal pet attributes")
	}
	return s.advance(ctx, "pet_attributes", string(attrs), model.StageAttributesSaved, id, owner)
}

func (s *SQLiteStore) UpdateSlug(ctx context.Context, id, owner, slug string) error {
	err := s.advance(ctx, "web_slug", slug, model.StageFinalized, id, owner)
	if isUniqueViolation(err) {
		return eris.Wrapf(model.ErrSlugTaken, "sqlite: update slug %s to %q", id, slug)
	}
	return err
}

// advance writes one stage output column and moves stage and checkpoint to
// stage in a single statement. Only the lease owner, or anyone when the
// record is unleased, may advance it.
func (s *SQLiteStore) advance(ctx context.Context, column, value string, stage model.Stage, id, owner string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE extraction_records SET `+column+` = ?, stage = ?, checkpoint = ?, failure = NULL, updated_at = ?
		WHERE id = ? AND (lease_owner IS NULL OR lease_owner = ?)`,
		value, string(stage), string(stage), s.clock(), id, owner,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: advance %s to %s", id, stage)
	}
	return s.checkCommitted(ctx, res, "sqlite: advance "+string(stage), id)
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, id, owner string, failure model.Failure) error {
	f, err := json.Marshal(failure)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal failure")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE extraction_records SET stage = ?, failure = ?, updated_at = ?
		WHERE id = ? AND (lease_owner IS NULL OR lease_owner = ?)`,
		string(model.StageFailed), string(f), s.clock(), id, owner,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark failed %s", id)
	}
	return s.checkCommitted(ctx, res, "sqlite: mark failed", id)
}

// checkCommitted maps a lease-guarded update that touched no rows to
// ErrNotFound when the record is gone and ErrLeaseHeld otherwise.
func (s *SQLiteStore) checkCommitted(ctx context.Context, res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM extraction_records WHERE id = ?)`, id).Scan(&exists); err != nil {
		return eris.Wrapf(err, "%s %s", op, id)
	}
	return leaseHeldOrNotFound(exists, op, id)
}

func (s *SQLiteStore) AcquireLease(ctx context.Context, id, owner string, ttl time.Duration) (bool, error) {
	now := s.clock()
	res, err := s.db.ExecContext(ctx,
		`UPDATE extraction_records SET lease_owner = ?, lease_expires_ms = ?, updated_at = ?
		WHERE id = ? AND (lease_owner IS NULL OR lease_owner = ? OR lease_expires_ms < ?)`,
		owner, now.Add(ttl).UnixMilli(), now, id, owner, now.UnixMilli(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: acquire lease %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) ReleaseLease(ctx context.Context, id, owner string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE extraction_records SET lease_owner = NULL, lease_expires_ms = NULL WHERE id = ? AND lease_owner = ?`,
		id, owner,
	)
	return eris.Wrapf(err, "sqlite: release lease %s", id)
}

func scanRecord(row scannable) (*model.ExtractionRecord, error) {
	var r recordRow
	if err := row.Scan(r.dest()...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan record")
	}
	return r.record()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// UpsertLocation inserts loc or refreshes the stored entry for its URL.
func (s *SQLiteStore) UpsertLocation(ctx context.Context, loc model.HotelLocation) (bool, error) {
	if loc.URL == "" {
		return false, eris.New("sqlite: upsert location: empty url")
	}
	now := s.clock()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO hotel_locations (url, hotel_name, chain, country_code, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT(url) DO NOTHING`,
		loc.URL, loc.Name, loc.Chain, loc.CountryCode, loc.State, now, now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert location %s", loc.URL)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return true, nil
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE hotel_locations SET hotel_name = ?, chain = ?, country_code = ?, state = ?, updated_at = ? WHERE url = ?`,
		loc.Name, loc.Chain, loc.CountryCode, loc.State, now, loc.URL,
	)
	return false, eris.Wrapf(err, "sqlite: update location %s", loc.URL)
}

func (s *SQLiteStore) ListLocations(ctx context.Context, filter LocationFilter) ([]model.HotelLocation, error) {
	query := `SELECT url, hotel_name, chain, country_code, state, created_at, updated_at FROM hotel_locations WHERE 1=1`
	args := []any{}
	if filter.Chain != "" {
		query += ` AND chain = ?`
		args = append(args, filter.Chain)
	}
	if filter.CountryCode != "" {
		query += ` AND country_code = ?`
		args = append(args, filter.CountryCode)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` ORDER BY chain, country_code, state, hotel_name LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list locations")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.HotelLocation
	for rows.Next() {
		var loc model.HotelLocation
		if err := rows.Scan(&loc.URL, &loc.Name, &loc.Chain, &loc.CountryCode, &loc.State, &loc.CreatedAt, &loc.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan location")
		}
		out = append(out, loc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list locations iterate")
}
