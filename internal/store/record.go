package store

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/dost0092/web-scraper-atomic/internal/model"
)

const recordColumns = `id, source_url, content_hash, stage, checkpoint, failure, raw, address,
	web_context, pet_attributes, web_slug, lease_owner, lease_expires_ms, created_at, updated_at`

const defaultListLimit = 100

type scannable interface {
	Scan(dest ...any) error
}

// recordRow mirrors one extraction_records row before JSON decoding.
type recordRow struct {
	ID             string
	SourceURL      string
	ContentHash    string
	Stage          string
	Checkpoint     string
	Failure        []byte
	Raw            []byte
	Address        []byte
	WebContext     *string
	PetAttributes  []byte
	WebSlug        *string
	LeaseOwner     *string
	LeaseExpiresMs *int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (r *recordRow) dest() []any {
	return []any{
		&r.ID, &r.SourceURL, &r.ContentHash, &r.Stage, &r.Checkpoint, &r.Failure, &r.Raw, &r.Address,
		&r.WebContext, &r.PetAttributes, &r.WebSlug, &r.LeaseOwner, &r.LeaseExpiresMs, &r.CreatedAt, &r.UpdatedAt,
	}
}

func (r *recordRow) record() (*model.ExtractionRecord, error) {
	rec := &model.ExtractionRecord{
		ID:          r.ID,
		SourceURL:   r.SourceURL,
		ContentHash: r.ContentHash,
		WebContext:  r.WebContext,
		WebSlug:     r.WebSlug,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}

	var err error
	if rec.Stage, err = model.ParseStage(r.Stage); err != nil {
		return nil, err
	}
	if rec.Checkpoint, err = model.ParseStage(r.Checkpoint); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(r.Raw, &rec.Raw); err != nil {
		return nil, eris.Wrapf(err, "store: unmarshal raw %s", r.ID)
	}
	if err := json.Unmarshal(r.Address, &rec.Address); err != nil {
		return nil, eris.Wrapf(err, "store: unmarshal address %s", r.ID)
	}
	if len(r.Failure) > 0 {
		rec.Failure = &model.Failure{}
		if err := json.Unmarshal(r.Failure, rec.Failure); err != nil {
			return nil, eris.Wrapf(err, "store: unmarshal failure %s", r.ID)
		}
	}
	if len(r.PetAttributes) > 0 {
		rec.PetAttributes = &model.PetPolicyDocument{}
		if err := json.Unmarshal(r.PetAttributes, rec.PetAttributes); err != nil {
			return nil, eris.Wrapf(err, "store: unmarshal pet attributes %s", r.ID)
		}
	}
	if r.LeaseOwner != nil {
		rec.LeaseOwner = *r.LeaseOwner
	}
	if r.LeaseExpiresMs != nil {
		t := time.UnixMilli(*r.LeaseExpiresMs).UTC()
		rec.LeaseExpiresAt = &t
	}
	return rec, nil
}

// rawJSON encodes the raw content and parsed address of a new record.
func rawJSON(rec model.NewRecord) (raw, addr []byte, err error) {
	if raw, err = json.Marshal(rec.Raw); err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal raw")
	}
	if addr, err = json.Marshal(rec.Address); err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal address")
	}
	return raw, addr, nil
}

// freshRecord is the record state written by InsertRaw.
func freshRecord(rec model.NewRecord, now time.Time) *model.ExtractionRecord {
	exp := time.UnixMilli(rec.LeaseExpiresAt.UnixMilli()).UTC()
	return &model.ExtractionRecord{
		ID:             rec.ID,
		SourceURL:      rec.SourceURL,
		ContentHash:    rec.ContentHash,
		Stage:          model.StageRawSaved,
		Checkpoint:     model.StageRawSaved,
		Raw:            rec.Raw,
		Address:        rec.Address,
		LeaseOwner:     rec.LeaseOwner,
		LeaseExpiresAt: &exp,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func validateNew(rec model.NewRecord) error {
	if rec.ID == "" || rec.SourceURL == "" || rec.ContentHash == "" {
		return eris.New("store: new record requires id, source url and content hash")
	}
	return nil
}
