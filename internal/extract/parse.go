package extract

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/dost0092/web-scraper-atomic/internal/model"
)

type envelope struct {
	PetInformation   map[string]json.RawMessage `json:"pet_information"`
	ConfidenceScores map[string]*float64        `json:"confidence_scores"`
}

// Parse decodes an LLM answer into a document. Code fences around the JSON
// are tolerated. Confidence may appear inside the field object or in
// confidence_scores; the field object wins. Every declared field must be
// present and valid. Unknown fields are logged and ignored.
func Parse(text string, lim model.Limits) (*model.PetPolicyDocument, error) {
	body := StripFences(text)
	if body == "" {
		return nil, model.Violation("", "empty response")
	}

	var env envelope
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, model.Violation("", "response is not a JSON object: %v", err)
	}
	if env.PetInformation == nil {
		return nil, model.Violation("", "missing pet_information")
	}

	known := make(map[string]bool)
	for _, name := range model.PetFieldNames() {
		known[name] = true
	}

	fields := make(map[string]model.RawField, len(env.PetInformation))
	var unknown []string
	for name, raw := range env.PetInformation {
		if !known[name] {
			unknown = append(unknown, name)
			continue
		}
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return nil, model.Violation(name, "field must be an object with a status")
		}
		var rf model.RawField
		if err := json.Unmarshal(trimmed, &rf); err != nil {
			return nil, model.Violation(name, "malformed field: %v", err)
		}
		if rf.Confidence == nil {
			rf.Confidence = env.ConfidenceScores[name]
		}
		fields[name] = rf
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		zap.L().Debug("extract: ignoring unknown fields", zap.Strings("fields", unknown))
	}

	return model.ParsePetPolicy(fields, lim)
}

// StripFences removes a surrounding markdown code fence such as ```json.
func StripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
