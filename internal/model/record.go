package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Failure describes why a record is in the FAILED stage.
type Failure struct {
	Stage     Stage     `json:"stage"`
	Reason    string    `json:"reason"`
	Retryable bool      `json:"retryable"`
	FailedAt  time.Time `json:"failed_at"`
}

// ExtractionRecord is the persisted identity of one source URL's extraction.
// Stage is the externally visible status; Checkpoint is the last stage whose
// output was committed, which differs from Stage only when Stage is FAILED.
type ExtractionRecord struct {
	ID             string             `json:"record_id"`
	SourceURL      string             `json:"source_url"`
	ContentHash    string             `json:"content_hash"`
	Stage          Stage              `json:"stage"`
	Checkpoint     Stage              `json:"checkpoint"`
	Failure        *Failure           `json:"failure,omitempty"`
	Raw            RawExtraction      `json:"raw"`
	Address        Address            `json:"address"`
	WebContext     *string            `json:"web_context"`
	PetAttributes  *PetPolicyDocument `json:"pet_attributes"`
	WebSlug        *string            `json:"web_slug"`
	LeaseOwner     string             `json:"-"`
	LeaseExpiresAt *time.Time         `json:"-"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// NewRecord carries the values written by the first persistence of raw
// content for a URL, or by a content-changed reset.
type NewRecord struct {
	ID             string
	SourceURL      string
	ContentHash    string
	Raw            RawExtraction
	Address        Address
	LeaseOwner     string
	LeaseExpiresAt time.Time
}

// Finalized reports whether the record completed the pipeline.
func (r *ExtractionRecord) Finalized() bool {
	return r != nil && r.Stage == StageFinalized
}

// Failed reports whether the record's last run failed.
func (r *ExtractionRecord) Failed() bool {
	return r != nil && r.Stage == StageFailed
}

// WithContext returns a copy of r advanced to CONTEXT_SAVED.
func (r ExtractionRecord) WithContext(text string) ExtractionRecord {
	r.WebContext = &text
	r.Stage, r.Checkpoint, r.Failure = StageContextSaved, StageContextSaved, nil
	return r
}

// WithAttributes returns a copy of r advanced to ATTRIBUTES_SAVED.
func (r ExtractionRecord) WithAttributes(doc *PetPolicyDocument) ExtractionRecord {
	r.PetAttributes = doc
	r.Stage, r.Checkpoint, r.Failure = StageAttributesSaved, StageAttributesSaved, nil
	return r
}

// WithSlug returns a copy of r advanced to FINALIZED.
func (r ExtractionRecord) WithSlug(slug string) ExtractionRecord {
	r.WebSlug = &slug
	r.Stage, r.Checkpoint, r.Failure = StageFinalized, StageFinalized, nil
	return r
}

// WithFailure returns a copy of r marked FAILED. The checkpoint and every
// committed value are kept.
func (r ExtractionRecord) WithFailure(f Failure) ExtractionRecord {
	r.Stage = StageFailed
	r.Failure = &f
	return r
}

// Validate checks that every value belonging to a stage at or before the
// checkpoint is set.
func (r *ExtractionRecord) Validate() error {
	if r.ID == "" || r.SourceURL == "" || r.ContentHash == "" {
		return eris.New("model: record missing identity fields")
	}
	if r.Checkpoint.Ordinal() < StageRawSaved.Ordinal() {
		return eris.Errorf("model: record %s has invalid checkpoint %q", r.ID, r.Checkpoint)
	}
	if r.Stage == StageFailed && r.Failure == nil {
		return eris.Errorf("model: record %s is FAILED without a failure", r.ID)
	}
	if r.Stage != StageFailed && r.Stage != r.Checkpoint {
		return eris.Errorf("model: record %s stage %s differs from checkpoint %s", r.ID, r.Stage, r.Checkpoint)
	}
	if r.Checkpoint.AtLeast(StageContextSaved) && r.WebContext == nil {
		return eris.Errorf("model: record %s at %s has no web context", r.ID, r.Checkpoint)
	}
	if r.Checkpoint.AtLeast(StageAttributesSaved) && r.PetAttributes == nil {
		return eris.Errorf("model: record %s at %s has no pet attributes", r.ID, r.Checkpoint)
	}
	if r.Checkpoint == StageFinalized && r.WebSlug == nil {
		return eris.Errorf("model: record %s is finalized without a slug", r.ID)
	}
	return nil
}
