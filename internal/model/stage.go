// Package model defines the extraction record, the tri-state field model,
// and the pet policy document shared by every pipeline stage.
package model

import (
	"github.com/rotisserie/eris"
)

// Stage is a named checkpoint in the extraction pipeline.
type Stage string

const (
	StageStarted             Stage = "STARTED"
	StageHashed              Stage = "HASHED"
	StageDedupChecked        Stage = "DEDUP_CHECKED"
	StageRawSaved            Stage = "RAW_SAVED"
	StageContextGenerated    Stage = "CONTEXT_GENERATED"
	StageContextSaved        Stage = "CONTEXT_SAVED"
	StageAttributesExtracted Stage = "ATTRIBUTES_EXTRACTED"
	StageAttributesSaved     Stage = "ATTRIBUTES_SAVED"
	StageSlugComputed        Stage = "SLUG_COMPUTED"
	StageFinalized           Stage = "FINALIZED"
	StageFailed              Stage = "FAILED"
)

// stageOrder lists the non-failure stages in transition order.
var stageOrder = []Stage{
	StageStarted,
	StageHashed,
	StageDedupChecked,
	StageRawSaved,
	StageContextGenerated,
	StageContextSaved,
	StageAttributesExtracted,
	StageAttributesSaved,
	StageSlugComputed,
	StageFinalized,
}

// Ordinal returns the position of s in the transition order, or -1 for
// FAILED and unknown stages.
func (s Stage) Ordinal() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the stage that follows s. FINALIZED, FAILED and unknown
// stages have no successor.
func (s Stage) Next() (Stage, bool) {
	i := s.Ordinal()
	if i < 0 || i == len(stageOrder)-1 {
		return "", false
	}
	return stageOrder[i+1], true
}

// Persisted reports whether s is a stage that is durably committed to the
// store, as opposed to an in-memory transition.
func (s Stage) Persisted() bool {
	switch s {
	case StageRawSaved, StageContextSaved, StageAttributesSaved, StageFinalized, StageFailed:
		return true
	default:
		return false
	}
}

// AtLeast reports whether s has reached other in the transition order.
func (s Stage) AtLeast(other Stage) bool {
	a, b := s.Ordinal(), other.Ordinal()
	return a >= 0 && b >= 0 && a >= b
}

func (s Stage) String() string { return string(s) }

// ParseStage converts a stored stage name into a Stage.
func ParseStage(v string) (Stage, error) {
	s := Stage(v)
	if s == StageFailed || s.Ordinal() >= 0 {
		return s, nil
	}
	return "", eris.Errorf("model: unknown stage %q", v)
}
