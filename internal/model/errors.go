package model

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// Sentinel errors for the extraction pipeline.
var (
	ErrScrapeFailed     = eris.New("scrape failed")
	ErrGenerationFailed = eris.New("generation failed")
	ErrSchemaViolation  = eris.New("schema violation")
	ErrNotFound         = eris.New("record not found")
	ErrConflict         = eris.New("record conflict")
	ErrSlugTaken        = eris.New("slug already taken")
	ErrLeaseHeld        = eris.New("record lease held by another run")
	ErrNoDirectory      = eris.New("no location directory")
)

// SchemaViolation reports a malformed LLM response for one field, or for
// the document as a whole when Field is empty.
type SchemaViolation struct {
	Field  string
	Reason string
}

func (e *SchemaViolation) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema violation: %s", e.Reason)
	}
	return fmt.Sprintf("schema violation: %s: %s", e.Field, e.Reason)
}

// Is matches ErrSchemaViolation.
func (e *SchemaViolation) Is(target error) bool {
	return target == ErrSchemaViolation
}

// Violation builds a SchemaViolation for field.
func Violation(field, format string, args ...any) *SchemaViolation {
	return &SchemaViolation{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// StageError records the pipeline stage a failure happened in.
type StageError struct {
	Stage     Stage
	Err       error
	Retryable bool
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// AsStageError extracts a StageError from err's chain.
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// kindError wraps a cause so it matches a sentinel while keeping the cause
// in the chain.
type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string {
	return fmt.Sprintf("%s: %v", e.kind.Error(), e.cause)
}

func (e *kindError) Is(target error) bool { return target == e.kind }

func (e *kindError) Unwrap() error { return e.cause }

// ScrapeFailed marks cause as a scrape failure.
func ScrapeFailed(cause error) error {
	if cause == nil || errors.Is(cause, ErrScrapeFailed) {
		return cause
	}
	return &kindError{kind: ErrScrapeFailed, cause: cause}
}

// GenerationFailed marks cause as an LLM generation failure.
func GenerationFailed(cause error) error {
	if cause == nil || errors.Is(cause, ErrGenerationFailed) {
		return cause
	}
	return &kindError{kind: ErrGenerationFailed, cause: cause}
}
