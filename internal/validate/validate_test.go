package validate

import (
	"encoding/json"
	"strings"
	"testing"

	"ghosttrack/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	HardwareID string   `json:"hardwareId" validate:"required,max=128"`
	Email      string   `json:"email" validate:"omitempty,email"`
	Latitude   *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
}

func TestStruct(t *testing.T) {
	lat := 12.5
	require.NoError(t, Struct(sample{HardwareID: "HW1", Latitude: &lat}))

	bad := 91.0
	err := Struct(sample{Email: "nope", Latitude: &bad})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	fields := apperr.FieldsOf(err)
	assert.Equal(t, "is required", fields["hardwareId"])
	assert.Equal(t, "must be a valid email address", fields["email"])
	assert.Equal(t, "must be at most 90", fields["latitude"])

	zero := 0.0
	assert.NoError(t, Struct(sample{HardwareID: "HW1", Latitude: &zero}), "zero is a present coordinate")
	assert.Contains(t, apperr.FieldsOf(Struct(sample{HardwareID: "HW1"})), "latitude")
}

func TestVar(t *testing.T) {
	assert.NoError(t, Var("email", "owner@example.com", "required,email"))
	err := Var("email", "owner@", "required,email")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, "must be a valid email address", apperr.FieldsOf(err)["email"])
}

func TestJSONTypeMismatch(t *testing.T) {
	var s sample
	err := JSON(json.NewDecoder(strings.NewReader(`{"hardwareId":42,"latitude":1}`)), &s)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, "must be a string", apperr.FieldsOf(err)["hardwareId"])

	err = JSON(json.NewDecoder(strings.NewReader(`{`)), &s)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	require.NoError(t, JSON(json.NewDecoder(strings.NewReader(`{"hardwareId":"HW1","latitude":0}`)), &s))
	assert.Equal(t, "HW1", s.HardwareID)
}
