package model

import (
	"encoding/json"
	"regexp"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
)

// PetPolicyDocument is the validated pet policy extracted for one record.
// It is replaced as a whole on every extraction and never edited field by
// field.
type PetPolicyDocument struct {
	IsPetFriendly                  Field[bool]     `json:"is_pet_friendly"`
	AllowedSpecies                 Field[[]string] `json:"allowed_species"`
	HasPetDeposit                  Field[bool]     `json:"has_pet_deposit"`
	PetDepositAmount               Field[float64]  `json:"pet_deposit_amount"`
	IsDepositRefundable            Field[bool]     `json:"is_deposit_refundable"`
	PetFeeAmount                   Field[float64]  `json:"pet_fee_amount"`
	PetFeeVariations               Field[[]string] `json:"pet_fee_variations"`
	PetFeeCurrency                 Field[string]   `json:"pet_fee_currency"`
	PetFeeInterval                 Field[string]   `json:"pet_fee_interval"`
	MaxWeightLbs                   Field[int]      `json:"max_weight_lbs"`
	MaxPetsAllowed                 Field[int]      `json:"max_pets_allowed"`
	BreedRestrictions              Field[[]string] `json:"breed_restrictions"`
	GeneralPetRules                Field[[]string] `json:"general_pet_rules"`
	HasPetAmenities                Field[bool]     `json:"has_pet_amenities"`
	PetAmenitiesList               Field[[]string] `json:"pet_amenities_list"`
	ServiceAnimalsAllowed          Field[bool]     `json:"service_animals_allowed"`
	EmotionalSupportAnimalsAllowed Field[bool]     `json:"emotional_support_animals_allowed"`
	ServiceAnimalPolicy            Field[string]   `json:"service_animal_policy"`
	MinimumPetAge                  Field[int]      `json:"minimum_pet_age"`
}

// Limits are the plausible ranges for numeric pet policy values. Values
// outside a range are rejected, never clamped.
type Limits struct {
	MaxDeposit      float64 `mapstructure:"max_deposit" yaml:"max_deposit" validate:"gt=0"`
	MaxFee          float64 `mapstructure:"max_fee" yaml:"max_fee" validate:"gt=0"`
	MaxWeightLbs    int     `mapstructure:"max_weight_lbs" yaml:"max_weight_lbs" validate:"gt=0"`
	MaxPets         int     `mapstructure:"max_pets" yaml:"max_pets" validate:"gt=0"`
	MaxPetAgeMonths int     `mapstructure:"max_pet_age_months" yaml:"max_pet_age_months" validate:"gt=0"`
}

// DefaultLimits returns the ranges used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxDeposit:      5000,
		MaxFee:          2000,
		MaxWeightLbs:    500,
		MaxPets:         20,
		MaxPetAgeMonths: 240,
	}
}

// FieldKind describes the value type of a pet policy field.
type FieldKind string

const (
	KindBool    FieldKind = "boolean"
	KindNumber  FieldKind = "number"
	KindInteger FieldKind = "integer"
	KindString  FieldKind = "string"
	KindEnum    FieldKind = "enum"
	KindList    FieldKind = "list of strings"
	KindCodes   FieldKind = "list of codes"
)

// FieldInfo describes one field of the pet policy document.
type FieldInfo struct {
	Name        string
	Kind        FieldKind
	Description string
	Codes       CodeSet
	Enum        []string
}

// fieldRef is the untyped view of a *Field[T] inside a document.
type fieldRef interface {
	FieldStatus() FieldStatus
	FieldConfidence() float64
	AnyValue() any
	markAmbiguous()
}

type fieldDef struct {
	FieldInfo
	ref   func(d *PetPolicyDocument) fieldRef
	parse func(d *PetPolicyDocument, raw RawField, lim Limits) error
}

func bind[T any](info FieldInfo, ptr func(d *PetPolicyDocument) *Field[T], decode func(json.RawMessage) (T, error), check func(T, Limits) error) fieldDef {
	return fieldDef{
		FieldInfo: info,
		ref:       func(d *PetPolicyDocument) fieldRef { return ptr(d) },
		parse: func(d *PetPolicyDocument, raw RawField, lim Limits) error {
			var c func(T) error
			if check != nil {
				c = func(v T) error { return check(v, lim) }
			}
			f, err := ParseField(info.Name, raw, decode, c)
			if err != nil {
				return err
			}
			*ptr(d) = f
			return nil
		},
	}
}

var currencyRe = regexp.MustCompile(`^[A-Za-z]{3}$`)

func inRangeFloat(upper func(Limits) float64) func(float64, Limits) error {
	return func(v float64, lim Limits) error {
		if v <= 0 || v > upper(lim) {
			return eris.Errorf("value %v outside (0, %v]", v, upper(lim))
		}
		return nil
	}
}

func inRangeInt(upper func(Limits) int) func(int, Limits) error {
	return func(v int, lim Limits) error {
		if v <= 0 || v > upper(lim) {
			return eris.Errorf("value %d outside (0, %d]", v, upper(lim))
		}
		return nil
	}
}

func decodeCurrency(raw json.RawMessage) (string, error) {
	v, err := decodeString(raw)
	if err != nil {
		return "", err
	}
	if !currencyRe.MatchString(v) {
		return "", eris.Errorf("currency %q is not a 3-letter code", v)
	}
	return strings.ToUpper(v), nil
}

func decodeInterval(raw json.RawMessage) (string, error) {
	v, err := decodeString(raw)
	if err != nil {
		return "", err
	}
	norm := strings.NewReplacer("_", "-", " ", "-").Replace(strings.ToLower(v))
	if !slices.Contains(FeeIntervals, norm) {
		return "", eris.Errorf("interval %q not one of %s", v, strings.Join(FeeIntervals, ", "))
	}
	return norm, nil
}

// petFields is the fixed field catalogue, in response order.
var petFields = []fieldDef{
	bind(FieldInfo{Name: "is_pet_friendly", Kind: KindBool,
		Description: "Whether pets (not service animals) are allowed."},
		func(d *PetPolicyDocument) *Field[bool] { return &d.IsPetFriendly }, decodeBool, nil),
	bind(FieldInfo{Name: "allowed_species", Kind: KindCodes, Codes: SpeciesCodes,
		Description: "Species allowed at the hotel."},
		func(d *PetPolicyDocument) *Field[[]string] { return &d.AllowedSpecies }, decodeCodes(SpeciesCodes), nil),
	bind(FieldInfo{Name: "has_pet_deposit", Kind: KindBool,
		Description: "Whether a pet deposit is required."},
		func(d *PetPolicyDocument) *Field[bool] { return &d.HasPetDeposit }, decodeBool, nil),
	bind(FieldInfo{Name: "pet_deposit_amount", Kind: KindNumber,
		Description: "Deposit amount, only when has_pet_deposit is true. '$100 refundable deposit' -> 100."},
		func(d *PetPolicyDocument) *Field[float64] { return &d.PetDepositAmount }, decodeFloat,
		inRangeFloat(func(l Limits) float64 { return l.MaxDeposit })),
	bind(FieldInfo{Name: "is_deposit_refundable", Kind: KindBool,
		Description: "Whether the deposit is refundable, only when has_pet_deposit is true."},
		func(d *PetPolicyDocument) *Field[bool] { return &d.IsDepositRefundable }, decodeBool, nil),
	bind(FieldInfo{Name: "pet_fee_amount", Kind: KindNumber,
		Description: "Non-refundable pet fee amount."},
		func(d *PetPolicyDocument) *Field[float64] { return &d.PetFeeAmount }, decodeFloat,
		inRangeFloat(func(l Limits) float64 { return l.MaxFee })),
	bind(FieldInfo{Name: "pet_fee_variations", Kind: KindList,
		Description: "Fee variations by size, weight, type or length of stay. ['1-4 nights: $75', '5+ nights: $125']."},
		func(d *PetPolicyDocument) *Field[[]string] { return &d.PetFeeVariations }, decodeStrings, nil),
	bind(FieldInfo{Name: "pet_fee_currency", Kind: KindString,
		Description: "Three-letter currency code of the pet fee, e.g. usd."},
		func(d *PetPolicyDocument) *Field[string] { return &d.PetFeeCurrency }, decodeCurrency, nil),
	bind(FieldInfo{Name: "pet_fee_interval", Kind: KindEnum, Enum: FeeIntervals,
		Description: "How often the pet fee is charged."},
		func(d *PetPolicyDocument) *Field[string] { return &d.PetFeeInterval }, decodeInterval, nil),
	bind(FieldInfo{Name: "max_weight_lbs", Kind: KindInteger,
		Description: "Maximum weight per pet in lbs. Convert kg (1 kg = 2.20462 lbs)."},
		func(d *PetPolicyDocument) *Field[int] { return &d.MaxWeightLbs }, decodeInt,
		inRangeInt(func(l Limits) int { return l.MaxWeightLbs })),
	bind(FieldInfo{Name: "max_pets_allowed", Kind: KindInteger,
		Description: "Maximum number of pets per room."},
		func(d *PetPolicyDocument) *Field[int] { return &d.MaxPetsAllowed }, decodeInt,
		inRangeInt(func(l Limits) int { return l.MaxPets })),
	bind(FieldInfo{Name: "breed_restrictions", Kind: KindCodes, Codes: BreedCodes,
		Description: "Breeds not allowed."},
		func(d *PetPolicyDocument) *Field[[]string] { return &d.BreedRestrictions }, decodeCodes(BreedCodes), nil),
	bind(FieldInfo{Name: "general_pet_rules", Kind: KindList,
		Description: "Other pet rules, e.g. 'Pets must be leashed'."},
		func(d *PetPolicyDocument) *Field[[]string] { return &d.GeneralPetRules }, decodeStrings, nil),
	bind(FieldInfo{Name: "has_pet_amenities", Kind: KindBool,
		Description: "Whether the hotel offers pet amenities."},
		func(d *PetPolicyDocument) *Field[bool] { return &d.HasPetAmenities }, decodeBool, nil),
	bind(FieldInfo{Name: "pet_amenities_list", Kind: KindCodes, Codes: AmenityCodes,
		Description: "Pet amenities offered, only when has_pet_amenities is true."},
		func(d *PetPolicyDocument) *Field[[]string] { return &d.PetAmenitiesList }, decodeCodes(AmenityCodes), nil),
	bind(FieldInfo{Name: "service_animals_allowed", Kind: KindBool,
		Description: "Whether service animals are allowed."},
		func(d *PetPolicyDocument) *Field[bool] { return &d.ServiceAnimalsAllowed }, decodeBool, nil),
	bind(FieldInfo{Name: "emotional_support_animals_allowed", Kind: KindBool,
		Description: "Whether emotional support animals are allowed."},
		func(d *PetPolicyDocument) *Field[bool] { return &d.EmotionalSupportAnimalsAllowed }, decodeBool, nil),
	bind(FieldInfo{Name: "service_animal_policy", Kind: KindString,
		Description: "Service animal policy details and requirements."},
		func(d *PetPolicyDocument) *Field[string] { return &d.ServiceAnimalPolicy }, decodeString, nil),
	bind(FieldInfo{Name: "minimum_pet_age", Kind: KindInteger,
		Description: "Minimum pet age in months."},
		func(d *PetPolicyDocument) *Field[int] { return &d.MinimumPetAge }, decodeInt,
		inRangeInt(func(l Limits) int { return l.MaxPetAgeMonths })),
}

// PetFields describes the pet policy fields in their canonical order.
func PetFields() []FieldInfo {
	out := make([]FieldInfo, len(petFields))
	for i, s := range petFields {
		out[i] = s.FieldInfo
	}
	return out
}

// PetFieldNames returns the declared field names in canonical order.
func PetFieldNames() []string {
	out := make([]string, len(petFields))
	for i, s := range petFields {
		out[i] = s.Name
	}
	return out
}

// ParsePetPolicy validates a decoded response into a document. Every
// declared field must be present in fields; the first violation fails the
// whole document.
func ParsePetPolicy(fields map[string]RawField, lim Limits) (*PetPolicyDocument, error) {
	doc := &PetPolicyDocument{}
	for _, s := range petFields {
		raw, ok := fields[s.Name]
		if !ok {
			return nil, Violation(s.Name, "missing from response")
		}
		if err := s.parse(doc, raw, lim); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// FieldView is a flattened, untyped view of one document field.
type FieldView struct {
	Name       string      `json:"name"`
	Status     FieldStatus `json:"status"`
	Value      any         `json:"value,omitempty"`
	Confidence float64     `json:"confidence"`
}

// Fields returns every field of d in canonical order.
func (d *PetPolicyDocument) Fields() []FieldView {
	out := make([]FieldView, len(petFields))
	for i, s := range petFields {
		f := s.ref(d)
		out[i] = FieldView{
			Name:       s.Name,
			Status:     f.FieldStatus(),
			Value:      f.AnyValue(),
			Confidence: f.FieldConfidence(),
		}
	}
	return out
}

// ConfidenceScores returns the per-field confidence map.
func (d *PetPolicyDocument) ConfidenceScores() map[string]float64 {
	out := make(map[string]float64, len(petFields))
	for _, s := range petFields {
		out[s.Name] = s.ref(d).FieldConfidence()
	}
	return out
}

// LowConfidence returns the PRESENT fields whose confidence is below
// threshold.
func (d *PetPolicyDocument) LowConfidence(threshold float64) []string {
	var names []string
	for _, s := range petFields {
		f := s.ref(d)
		if f.FieldStatus() == StatusPresent && f.FieldConfidence() < threshold {
			names = append(names, s.Name)
		}
	}
	return names
}

// Effective returns a copy of d in which PRESENT fields with confidence
// below threshold are reported as AMBIGUOUS. d is not modified.
func (d *PetPolicyDocument) Effective(threshold float64) *PetPolicyDocument {
	cp := *d
	for _, name := range d.LowConfidence(threshold) {
		for _, s := range petFields {
			if s.Name == name {
				s.ref(&cp).markAmbiguous()
			}
		}
	}
	return &cp
}
