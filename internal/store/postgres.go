package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/dost0092/web-scraper-atomic/internal/db"
	"github.com/dost0092/web-scraper-atomic/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	dsn     string
	closeFn func()
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, dsn: connString, closeFn: pool.Close, now: time.Now}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// Migrate applies the embedded schema migrations.
func (s *PostgresStore) Migrate(_ context.Context) error {
	m, err := db.NewMigrator("postgres", s.dsn)
	if err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	defer m.Close() //nolint:errcheck
	return eris.Wrap(m.Up(), "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

func (s *PostgresStore) InsertRaw(ctx context.Context, rec model.NewRecord) (*model.ExtractionRecord, error) {
	if err := validateNew(rec); err != nil {
		return nil, err
	}
	raw, addr, err := rawJSON(rec)
	if err != nil {
		return nil, err
	}
	now := s.clock()

	_, err = s.pool.Exec(ctx,
		`INSERT INTO extraction_records (id, source_url, content_hash, stage, checkpoint, raw, address, lease_owner, lease_expires_ms, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4, $5, $6, $7, $8, $9, $9)`,
		rec.ID, rec.SourceURL, rec.ContentHash, string(model.StageRawSaved), raw, addr,
		rec.LeaseOwner, rec.LeaseExpiresAt.UnixMilli(), now,
	)
	if constraint, ok := db.UniqueViolation(err); ok {
		return nil, eris.Wrapf(model.ErrConflict, "postgres: insert raw %s violates %s", rec.SourceURL, constraint)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert raw %s", rec.SourceURL)
	}
	return freshRecord(rec, now), nil
}

func (s *PostgresStore) ResetRaw(ctx context.Context, rec model.NewRecord) (*model.ExtractionRecord, error) {
	if err := validateNew(rec); err != nil {
		return nil, err
	}
	raw, addr, err := rawJSON(rec)
	if err != nil {
		return nil, err
	}
	now := s.clock()

	tag, err := s.pool.Exec(ctx,
		`UPDATE extraction_records SET content_hash = $1, raw = $2, address = $3, stage = $4, checkpoint = $4,
			failure = NULL, web_context = NULL, pet_attributes = NULL, web_slug = NULL,
			lease_owner = $5, lease_expires_ms = $6, updated_at = $7
		WHERE id = $8 AND (lease_owner IS NULL OR lease_owner = $5 OR lease_expires_ms < $9)`,
		rec.ContentHash, raw, addr, string(model.StageRawSaved),
		rec.LeaseOwner, rec.LeaseExpiresAt.UnixMilli(), now, rec.ID, now.UnixMilli(),
	)
	if constraint, ok := db.UniqueViolation(err); ok {
		return nil, eris.Wrapf(model.ErrConflict, "postgres: reset raw %s violates %s", rec.ID, constraint)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: reset raw %s", rec.ID)
	}
	if tag.RowsAffected() == 0 {
		return nil, eris.Wrapf(model.ErrLeaseHeld, "postgres: reset raw %s", rec.ID)
	}
	return s.Get(ctx, rec.ID)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.ExtractionRecord, error) {
	rec, err := s.queryOne(ctx, `SELECT `+recordColumns+` FROM extraction_records WHERE id = $1`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %s", id)
	}
	if rec == nil {
		return nil, eris.Wrapf(model.ErrNotFound, "postgres: get record %s", id)
	}
	return rec, nil
}

func (s *PostgresStore) FindByHash(ctx context.Context, contentHash string) (*model.ExtractionRecord, error) {
	rec, err := s.queryOne(ctx, `SELECT `+recordColumns+` FROM extraction_records WHERE content_hash = $1`, contentHash)
	return rec, eris.Wrap(err, "postgres: find by hash")
}

func (s *PostgresStore) FindByURL(ctx context.Context, sourceURL string) (*model.ExtractionRecord, error) {
	rec, err := s.queryOne(ctx, `SELECT `+recordColumns+` FROM extraction_records WHERE source_url = $1`, sourceURL)
	return rec, eris.Wrap(err, "postgres: find by url")
}

func (s *PostgresStore) queryOne(ctx context.Context, query string, args ...any) (*model.ExtractionRecord, error) {
	var row recordRow
	err := s.pool.QueryRow(ctx, query, args...).Scan(row.dest()...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.record()
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]model.ExtractionRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM extraction_records WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Stage != "" {
		query += fmt.Sprintf(` AND stage = $%d`, argIdx)
		args = append(args, string(filter.Stage))
		argIdx++
	}
	if filter.RetryableOnly {
		query += ` AND stage = 'FAILED' AND (failure->>'retryable')::boolean`
	}
	if !filter.UpdatedAfter.IsZero() {
		query += fmt.Sprintf(` AND updated_at >= $%d`, argIdx)
		args = append(args, filter.UpdatedAfter)
		argIdx++
	}
	query += ` ORDER BY updated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var out []model.ExtractionRecord
	for rows.Next() {
		var row recordRow
		if err := rows.Scan(row.dest()...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

func (s *PostgresStore) SlugOwner(ctx context.Context, slug string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `SELECT id FROM extraction_records WHERE web_slug = $1`, slug).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return id, eris.Wrapf(err, "postgres: slug owner %s", slug)
}

func (s *PostgresStore) UpdateContext(ctx context.Context, id, owner, webContext string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE extraction_records SET web_context = $1, stage = $2, checkpoint = $2, failure = NULL, updated_at = $3
		WHERE id = $4 AND (lease_owner IS NULL OR lease_owner = $5)`,
		webContext, string(model.StageContextSaved), s.clock(), id, owner,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update context %s", id)
	}
	return s.checkCommitted(ctx, tag.RowsAffected(), "postgres: update context", id)
}

func (s *PostgresStore) UpdateAttributes(ctx context.Context, id, owner string, doc *model.PetPolicyDocument) error {
	if doc == nil {
		return eris.Errorf("postgres: update attributes %s: nil document", id)
	}
	attrs, err := json.Marshal(doc)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal pet attributes")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE extraction_records SET pet_attributes = $1, stage = $2, checkpoint = $2, failure = NULL, updated_at = $3
		WHERE id = $4 AND (lease_owner IS NULL OR lease_owner = $5)`,
		attrs, string(model.StageAttributesSaved), s.clock(), id, owner,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update attributes %s", id)
	}
	return s.checkCommitted(ctx, tag.RowsAffected(), "postgres: update attributes", id)
}

func (s *PostgresStore) UpdateSlug(ctx context.Context, id, owner, slug string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE extraction_records SET web_slug = $1, stage = $2, checkpoint = $2, failure = NULL, updated_at = $3
		WHERE id = $4 AND (lease_owner IS NULL OR lease_owner = $5)`,
		slug, string(model.StageFinalized), s.clock(), id, owner,
	)
	if _, ok := db.UniqueViolation(err); ok {
		return eris.Wrapf(model.ErrSlugTaken, "postgres: update slug %s to %q", id, slug)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: update slug %s", id)
	}
	return s.checkCommitted(ctx, tag.RowsAffected(), "postgres: update slug", id)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id, owner string, failure model.Failure) error {
	f, err := json.Marshal(failure)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal failure")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE extraction_records SET stage = $1, failure = $2, updated_at = $3
		WHERE id = $4 AND (lease_owner IS NULL OR lease_owner = $5)`,
		string(model.StageFailed), f, s.clock(), id, owner,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark failed %s", id)
	}
	return s.checkCommitted(ctx, tag.RowsAffected(), "postgres: mark failed", id)
}

// checkCommitted maps a lease-guarded update that touched no rows to
// ErrNotFound when the record is gone and ErrLeaseHeld otherwise.
func (s *PostgresStore) checkCommitted(ctx context.Context, n int64, op, id string) error {
	if n > 0 {
		return nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM extraction_records WHERE id = $1)`, id).Scan(&exists); err != nil {
		return eris.Wrapf(err, "%s %s", op, id)
	}
	return leaseHeldOrNotFound(exists, op, id)
}

func (s *PostgresStore) AcquireLease(ctx context.Context, id, owner string, ttl time.Duration) (bool, error) {
	now := s.clock()
	tag, err := s.pool.Exec(ctx,
		`UPDATE extraction_records SET lease_owner = $1, lease_expires_ms = $2, updated_at = $3
		WHERE id = $4 AND (lease_owner IS NULL OR lease_owner = $1 OR lease_expires_ms < $5)`,
		owner, now.Add(ttl).UnixMilli(), now, id, now.UnixMilli(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: acquire lease %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ReleaseLease(ctx context.Context, id, owner string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE extraction_records SET lease_owner = NULL, lease_expires_ms = NULL WHERE id = $1 AND lease_owner = $2`,
		id, owner,
	)
	return eris.Wrapf(err, "postgres: release lease %s", id)
}

// UpsertLocation inserts loc or refreshes the stored entry for its URL.
func (s *PostgresStore) UpsertLocation(ctx context.Context, loc model.HotelLocation) (bool, error) {
	if loc.URL == "" {
		return false, eris.New("postgres: upsert location: empty url")
	}
	now := s.clock()
	var inserted bool
	err := s.pool.QueryRow(ctx,
		`INSERT INTO hotel_locations (url, hotel_name, chain, country_code, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (url) DO UPDATE SET hotel_name = EXCLUDED.hotel_name, chain = EXCLUDED.chain,
			country_code = EXCLUDED.country_code, state = EXCLUDED.state, updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0) AS inserted`,
		loc.URL, loc.Name, loc.Chain, loc.CountryCode, loc.State, now,
	).Scan(&inserted)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: upsert location %s", loc.URL)
	}
	return inserted, nil
}

func (s *PostgresStore) ListLocations(ctx context.Context, filter LocationFilter) ([]model.HotelLocation, error) {
	query := `SELECT url, hotel_name, chain, country_code, state, created_at, updated_at FROM hotel_locations WHERE true`
	args := []any{}
	if filter.Chain != "" {
		args = append(args, filter.Chain)
		query += fmt.Sprintf(` AND chain = $%d`, len(args))
	}
	if filter.CountryCode != "" {
		args = append(args, filter.CountryCode)
		query += fmt.Sprintf(` AND country_code = $%d`, len(args))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY chain, country_code, state, hotel_name LIMIT $%d`, len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list locations")
	}
	defer rows.Close()

	var out []model.HotelLocation
	for rows.Next() {
		var loc model.HotelLocation
		if err := rows.Scan(&loc.URL, &loc.Name, &loc.Chain, &loc.CountryCode, &loc.State, &loc.CreatedAt, &loc.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan location")
		}
		out = append(out, loc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list locations iterate")
}

func leaseHeldOrNotFound(exists bool, op, id string) error {
	if !exists {
		return eris.Wrapf(model.ErrNotFound, "%s %s", op, id)
	}
	return eris.Wrapf(model.ErrLeaseHeld, "%s %s", op, id)
}
