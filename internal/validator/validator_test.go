package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iius-rcox/safetyamp-sync/internal/domain"
)

func employeeRules() EntityRules {
	return EntityRules{
		{Field: "id", Required: true},
		{Field: "first_name"},
		{Field: "last_name"},
		{Field: "email", Format: "email"},
		{Field: "phone", Format: "phone"},
	}
}

func newValidator() *Validator {
	return New(Config{
		EmailDomain: "x.com",
		Rules:       map[domain.EntityType]EntityRules{domain.EntityEmployee: employeeRules()},
	})
}

func TestValidate_AutoRepairsMissingNameAndSynthesizesEmail(t *testing.T) {
	v := newValidator()
	res := v.Validate(domain.EntityEmployee, map[string]any{
		"id":         "1002",
		"first_name": "",
		"last_name":  "Smith",
		"email":      "",
	})

	require.True(t, res.Valid)
	assert.Equal(t, "Unknown", res.Payload["first_name"])
	assert.Equal(t, "Smith", res.Payload["last_name"])
	assert.Equal(t, "unknown.smith@x.com", res.Payload["email"])

	require.Len(t, res.Repairs, 2)
	assert.Equal(t, Repair{Field: "email", Kind: "synthesized"}, res.Repairs[0])
	assert.Equal(t, Repair{Field: "first_name", Kind: "defaulted"}, res.Repairs[1])
}

func TestValidate_MissingRequiredFieldIsError(t *testing.T) {
	v := newValidator()
	res := v.Validate(domain.EntityEmployee, map[string]any{
		"first_name": "Jane",
		"last_name":  "Doe",
	})

	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "id", res.Errors[0].Field)
}

func TestValidate_TrimsWhitespace(t *testing.T) {
	v := newValidator()
	res := v.Validate(domain.EntityEmployee, map[string]any{
		"id":         "1",
		"first_name": "  Jane  ",
		"last_name":  "Doe",
	})

	assert.Equal(t, "Jane", res.Payload["first_name"])
	assert.Contains(t, res.Repairs, Repair{Field: "first_name", Kind: "trimmed"})
}

func TestValidate_DropsInvalidPhoneWithoutFailing(t *testing.T) {
	v := newValidator()
	res := v.Validate(domain.EntityEmployee, map[string]any{
		"id":         "1",
		"first_name": "Jane",
		"last_name":  "Doe",
		"phone":      "not-a-phone!",
	})

	assert.True(t, res.Valid)
	_, present := res.Payload["phone"]
	assert.False(t, present)
	assert.Empty(t, res.Errors)
}

func TestValidate_DropsInvalidEmailWithoutFailing(t *testing.T) {
	v := newValidator()
	res := v.Validate(domain.EntityEmployee, map[string]any{
		"id":         "1",
		"first_name": "Jane",
		"last_name":  "Doe",
		"email":      "not-an-email",
	})

	assert.True(t, res.Valid)
	assert.Equal(t, "jane.doe@x.com", res.Payload["email"])
}

func TestValidate_DeterministicAcrossRuns(t *testing.T) {
	v := newValidator()
	input := map[string]any{"id": "1", "first_name": "", "last_name": ""}

	first := v.Validate(domain.EntityEmployee, input)
	second := v.Validate(domain.EntityEmployee, input)

	assert.Equal(t, first.Payload, second.Payload)
	assert.Equal(t, first.Repairs, second.Repairs)
}
