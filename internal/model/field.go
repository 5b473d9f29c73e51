package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
)

// FieldStatus is the tri-state outcome of extracting one attribute.
type FieldStatus string

const (
	StatusPresent      FieldStatus = "present"
	StatusNotMentioned FieldStatus = "not_mentioned"
	StatusAmbiguous    FieldStatus = "ambiguous"
)

// ParseStatus converts a wire status into a FieldStatus. Matching is
// case-insensitive and accepts "explicit_none" as NOT_MENTIONED.
func ParseStatus(v string) (FieldStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "present":
		return StatusPresent, true
	case "not_mentioned", "explicit_none":
		return StatusNotMentioned, true
	case "ambiguous":
		return StatusAmbiguous, true
	default:
		return "", false
	}
}

// Field is one extracted attribute. Value is set only when Status is
// PRESENT.
type Field[T any] struct {
	Status     FieldStatus `json:"status"`
	Value      *T          `json:"value,omitempty"`
	Confidence float64     `json:"confidence"`
}

// Present builds a PRESENT field.
func Present[T any](v T, confidence float64) Field[T] {
	return Field[T]{Status: StatusPresent, Value: &v, Confidence: confidence}
}

// NotMentioned builds a NOT_MENTIONED field with zero confidence.
func NotMentioned[T any]() Field[T] {
	return Field[T]{Status: StatusNotMentioned}
}

// Ambiguous builds an AMBIGUOUS field.
func Ambiguous[T any](confidence float64) Field[T] {
	return Field[T]{Status: StatusAmbiguous, Confidence: confidence}
}

// Get returns the value and whether the field is PRESENT.
func (f Field[T]) Get() (T, bool) {
	if f.Status != StatusPresent || f.Value == nil {
		var zero T
		return zero, false
	}
	return *f.Value, true
}

// FieldStatus returns the field's status.
func (f *Field[T]) FieldStatus() FieldStatus { return f.Status }

// FieldConfidence returns the field's confidence.
func (f *Field[T]) FieldConfidence() float64 { return f.Confidence }

// AnyValue returns the value as an untyped interface, or nil.
func (f *Field[T]) AnyValue() any {
	if f.Value == nil {
		return nil
	}
	return *f.Value
}

func (f *Field[T]) markAmbiguous() {
	f.Status = StatusAmbiguous
	f.Value = nil
}

// RawField is an unvalidated field candidate as decoded from an LLM
// response.
type RawField struct {
	Status     string          `json:"status"`
	Value      json.RawMessage `json:"value,omitempty"`
	Confidence *float64        `json:"confidence,omitempty"`
}

func (r RawField) hasValue() bool {
	v := bytes.TrimSpace(r.Value)
	return len(v) > 0 && !bytes.Equal(v, []byte("null"))
}

// ParseField validates a raw candidate into a Field. PRESENT requires a
// value and every other status forbids one; values are decoded strictly
// and then passed to check, which rejects out-of-range values.
func ParseField[T any](name string, raw RawField, decode func(json.RawMessage) (T, error), check func(T) error) (Field[T], error) {
	status, ok := ParseStatus(raw.Status)
	if !ok {
		return Field[T]{}, Violation(name, "unknown status %q", raw.Status)
	}
	if raw.Confidence == nil {
		return Field[T]{}, Violation(name, "missing confidence")
	}
	conf := *raw.Confidence
	if math.IsNaN(conf) || conf < 0 || conf > 1 {
		return Field[T]{}, Violation(name, "confidence %v outside [0, 1]", conf)
	}

	if status != StatusPresent {
		if raw.hasValue() {
			return Field[T]{}, Violation(name, "status %s must not carry a value", status)
		}
		return Field[T]{Status: status, Confidence: conf}, nil
	}

	if !raw.hasValue() {
		return Field[T]{}, Violation(name, "status present requires a value")
	}
	v, err := decode(raw.Value)
	if err != nil {
		return Field[T]{}, Violation(name, "invalid value: %v", err)
	}
	if check != nil {
		if err := check(v); err != nil {
			return Field[T]{}, Violation(name, "%v", err)
		}
	}
	return Field[T]{Status: status, Value: &v, Confidence: conf}, nil
}
