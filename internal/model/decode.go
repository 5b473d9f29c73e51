package model

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/rotisserie/eris"
)

// Strict JSON decoders for field values. None of them coerce between JSON
// types: a string "75" is not a number and a number is not a boolean.

func decodeBool(raw json.RawMessage) (bool, error) {
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, eris.New("expected boolean")
	}
	return v, nil
}

func decodeFloat(raw json.RawMessage) (float64, error) {
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, eris.New("expected number")
	}
	return v, nil
}

// decodeInt accepts integral JSON numbers, including forms like 75.0.
func decodeInt(raw json.RawMessage) (int, error) {
	v, err := decodeFloat(raw)
	if err != nil {
		return 0, eris.New("expected integer")
	}
	if v != math.Trunc(v) || math.Abs(v) > math.MaxInt32 {
		return 0, eris.Errorf("expected integer, got %v", v)
	}
	return int(v), nil
}

func decodeString(raw json.RawMessage) (string, error) {
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", eris.New("expected string")
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", eris.New("empty string")
	}
	return v, nil
}

func decodeStrings(raw json.RawMessage) ([]string, error) {
	var vs []string
	if err := json.Unmarshal(raw, &vs); err != nil {
		return nil, eris.New("expected list of strings")
	}
	if len(vs) == 0 {
		return nil, eris.New("empty list")
	}
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		v = strings.TrimSpace(v)
		if v == "" {
			return nil, eris.New("blank list item")
		}
		out = append(out, v)
	}
	return out, nil
}

// decodeCodes decodes a list of predefined codes, upper-casing each entry
// and rejecting anything outside set.
func decodeCodes(set CodeSet) func(json.RawMessage) ([]string, error) {
	return func(raw json.RawMessage) ([]string, error) {
		vs, err := decodeStrings(raw)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool, len(vs))
		out := make([]string, 0, len(vs))
		for _, v := range vs {
			code := strings.ToUpper(v)
			if !set.Has(code) {
				return nil, eris.Errorf("unknown code %q", v)
			}
			if seen[code] {
				continue
			}
			seen[code] = true
			out = append(out, code)
		}
		return out, nil
	}
}
