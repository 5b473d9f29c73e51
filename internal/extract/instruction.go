package extract

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dost0092/web-scraper-atomic/internal/model"
)

var (
	instructionOnce sync.Once
	instructionText string
)

// Instruction returns the fixed extraction instruction. It enumerates
// every pet policy field with its kind and allowed codes, so it changes
// only when the field catalogue does.
func Instruction() string {
	instructionOnce.Do(func() {
		instructionText = buildInstruction(model.PetFields())
	})
	return instructionText
}

func buildInstruction(fields []model.FieldInfo) string {
	var b strings.Builder

	b.WriteString(`You are an expert travel data extraction specialist.

Return a JSON object with TWO top-level keys:
1. "pet_information": an object with EVERY field listed below. Do not omit any field.
2. "confidence_scores": an object mapping every field name to a confidence between 0.0 and 1.0.

Each field in pet_information is an object {"status": ..., "value": ...} where status is ONE of:
- "present": the context states the value. "value" is REQUIRED and must match the field type.
- "not_mentioned": the context says nothing about it, or explicitly says none / not offered / no restriction. "value" MUST be omitted.
- "ambiguous": the context mentions it but the value cannot be determined. "value" MUST be omitted.

CRITICAL:
- Silence is not_mentioned. Do NOT infer missing information.
- Never return a value for a field that is not present.
- Lists must be non-empty when present.

FIELDS:
`)

	for _, f := range fields {
		fmt.Fprintf(&b, "- %s (%s): %s\n", f.Name, f.Kind, f.Description)
		if len(f.Enum) > 0 {
			fmt.Fprintf(&b, "    one of: %s\n", strings.Join(f.Enum, ", "))
		}
		if len(f.Codes) > 0 {
			codes := make([]string, len(f.Codes))
			for i, c := range f.Codes {
				codes[i] = fmt.Sprintf("%s: %s", c.Code, c.Label)
			}
			fmt.Fprintf(&b, "    codes: %s\n", strings.Join(codes, " | "))
		}
	}

	b.WriteString(`
NUMERIC RULES:
- Convert kg to lbs (1 kg = 2.20462 lbs) and round to a whole number.
- Extract numeric values only: "$75.00 non-refundable" -> 75.0.
- Currency is a three-letter code: "$" -> "USD".

SERVICE ANIMAL LOGIC:
- Service animals are NOT pets. A property that allows ONLY service animals is NOT pet-friendly.
- "Service animals only" / "No pets except service animals":
  is_pet_friendly = present false, service_animals_allowed = present true,
  and allowed_species, pet_fee_amount, pet_fee_variations, pet_amenities_list = not_mentioned.
- "Pets allowed" and service animals mentioned: is_pet_friendly = present true, service_animals_allowed = present true.
- Service animals not mentioned at all: service_animals_allowed = not_mentioned.
- Never treat service animals as pets for any fee, deposit, or amenity field.

RESPONSE FORMAT EXAMPLE:
{
  "pet_information": {
    "is_pet_friendly": {"status": "present", "value": true},
    "allowed_species": {"status": "present", "value": ["PET_TYPE_DOG", "PET_TYPE_CAT"]},
    "pet_deposit_amount": {"status": "present", "value": 75.0},
    "pet_fee_interval": {"status": "present", "value": "per-stay"},
    "max_weight_lbs": {"status": "not_mentioned"},
    "...": "every other field"
  },
  "confidence_scores": {
    "is_pet_friendly": 1.0,
    "allowed_species": 1.0,
    "pet_deposit_amount": 1.0,
    "pet_fee_interval": 0.9,
    "max_weight_lbs": 0.0,
    "...": "every other field"
  }
}
`)
	return b.String()
}

// userPrompt wraps the web context for the extraction call.
func userPrompt(webContext string) string {
	return "HOTEL INFORMATION:\n" + webContext +
		"\n\nReturn JSON with pet_information and confidence_scores as the only top-level keys."
}
