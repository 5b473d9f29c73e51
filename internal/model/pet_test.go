package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// notMentionedFields returns a response map with every field NOT_MENTIONED.
func notMentionedFields() map[string]RawField {
	out := make(map[string]RawField)
	for _, name := range PetFieldNames() {
		out[name] = RawField{Status: "not_mentioned", Confidence: conf(0)}
	}
	return out
}

func present(value string, c float64) RawField {
	return RawField{Status: "present", Value: json.RawMessage(value), Confidence: conf(c)}
}

func TestPetFieldNames(t *testing.T) {
	t.Parallel()

	names := PetFieldNames()
	assert.Len(t, names, 19)
	assert.Equal(t, "is_pet_friendly", names[0])
	assert.Equal(t, "minimum_pet_age", names[len(names)-1])
}

func TestParsePetPolicy_HiltonAnchorage(t *testing.T) {
	t.Parallel()

	fields := notMentionedFields()
	fields["is_pet_friendly"] = present(`true`, 1)
	fields["has_pet_deposit"] = present(`true`, 1)
	fields["pet_deposit_amount"] = present(`75.0`, 1)
	fields["is_deposit_refundable"] = present(`false`, 1)
	fields["max_weight_lbs"] = present(`75`, 1)
	fields["pet_fee_currency"] = present(`"usd"`, 0.9)
	fields["pet_fee_interval"] = present(`"per stay"`, 0.9)

	doc, err := ParsePetPolicy(fields, DefaultLimits())
	require.NoError(t, err)

	friendly, ok := doc.IsPetFriendly.Get()
	assert.True(t, ok)
	assert.True(t, friendly)

	amount, ok := doc.PetDepositAmount.Get()
	assert.True(t, ok)
	assert.InDelta(t, 75.0, amount, 0.001)

	refundable, ok := doc.IsDepositRefundable.Get()
	assert.True(t, ok)
	assert.False(t, refundable)

	weight, _ := doc.MaxWeightLbs.Get()
	assert.Equal(t, 75, weight)

	currency, _ := doc.PetFeeCurrency.Get()
	assert.Equal(t, "USD", currency)

	interval, _ := doc.PetFeeInterval.Get()
	assert.Equal(t, "per-stay", interval)

	assert.Equal(t, StatusNotMentioned, doc.BreedRestrictions.Status)
	assert.InDelta(t, 0.0, doc.ConfidenceScores()["breed_restrictions"], 0.0001)
}

func TestParsePetPolicy_MissingField(t *testing.T) {
	t.Parallel()

	fields := notMentionedFields()
	delete(fields, "max_pets_allowed")

	_, err := ParsePetPolicy(fields, DefaultLimits())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaViolation)

	var sv *SchemaViolation
	require.ErrorAs(t, err, &sv)
	assert.Equal(t, "max_pets_allowed", sv.Field)
}

func TestParsePetPolicy_SingleViolationFailsDocument(t *testing.T) {
	t.Parallel()

	fields := notMentionedFields()
	fields["is_pet_friendly"] = present(`true`, 1)
	fields["pet_deposit_amount"] = RawField{Status: "not_mentioned", Value: json.RawMessage(`75.0`), Confidence: conf(0)}

	doc, err := ParsePetPolicy(fields, DefaultLimits())
	assert.Nil(t, doc)
	assert.ErrorIs(t, err, ErrSchemaViolation)
}

func TestParsePetPolicy_RangeUsesLimits(t *testing.T) {
	t.Parallel()

	fields := notMentionedFields()
	fields["max_weight_lbs"] = present(`120`, 1)

	lim := DefaultLimits()
	lim.MaxWeightLbs = 100
	_, err := ParsePetPolicy(fields, lim)
	assert.ErrorIs(t, err, ErrSchemaViolation)

	lim.MaxWeightLbs = 150
	_, err = ParsePetPolicy(fields, lim)
	assert.NoError(t, err)
}

func TestParsePetPolicy_UnknownInterval(t *testing.T) {
	t.Parallel()

	fields := notMentionedFields()
	fields["pet_fee_interval"] = present(`"fortnightly"`, 1)

	_, err := ParsePetPolicy(fields, DefaultLimits())
	assert.ErrorIs(t, err, ErrSchemaViolation)
}

func TestPetPolicyDocument_Effective(t *testing.T) {
	t.Parallel()

	fields := notMentionedFields()
	fields["is_pet_friendly"] = present(`true`, 0.95)
	fields["max_weight_lbs"] = present(`50`, 0.1)

	doc, err := ParsePetPolicy(fields, DefaultLimits())
	require.NoError(t, err)

	assert.Equal(t, []string{"max_weight_lbs"}, doc.LowConfidence(0.5))

	eff := doc.Effective(0.5)
	assert.Equal(t, StatusAmbiguous, eff.MaxWeightLbs.Status)
	assert.Nil(t, eff.MaxWeightLbs.Value)
	assert.Equal(t, StatusPresent, eff.IsPetFriendly.Status)

	// The receiver is untouched.
	assert.Equal(t, StatusPresent, doc.MaxWeightLbs.Status)
	v, _ := doc.MaxWeightLbs.Get()
	assert.Equal(t, 50, v)
}

func TestPetPolicyDocument_Fields(t *testing.T) {
	t.Parallel()

	fields := notMentionedFields()
	fields["allowed_species"] = present(`["PET_TYPE_DOG"]`, 0.8)

	doc, err := ParsePetPolicy(fields, DefaultLimits())
	require.NoError(t, err)

	views := doc.Fields()
	require.Len(t, views, 19)
	assert.Equal(t, "allowed_species", views[1].Name)
	assert.Equal(t, []string{"PET_TYPE_DOG"}, views[1].Value)
	assert.Nil(t, views[0].Value)
}

func TestPetPolicyDocument_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	fields := notMentionedFields()
	fields["is_pet_friendly"] = present(`false`, 1)
	fields["service_animals_allowed"] = present(`true`, 1)

	doc, err := ParsePetPolicy(fields, DefaultLimits())
	require.NoError(t, err)

	b, err := json.Marshal(doc)
	require.NoError(t, err)

	var back PetPolicyDocument
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, *doc, back)
}
