package utils

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

type line struct {
	Quantity int64 `validate:"gt=0"`
}

type request struct {
	Name  string `validate:"required"`
	Email string `validate:"omitempty,email"`
	Lines []line `validate:"required,min=1,dive"`
}

func TestFormatValidationError(t *testing.T) {
	err := validator.New().Struct(request{
		Email: "nope",
		Lines: []line{{Quantity: 1}, {Quantity: 0}},
	})
	require.Error(t, err)

	fields := FormatValidationError(err)
	require.Equal(t, map[string]string{
		"name":              "name is required",
		"email":             "email must be a valid email",
		"lines[1].quantity": "lines[1].quantity must be greater than 0",
	}, fields)
}

func TestFormatValidationError_MinEntries(t *testing.T) {
	err := validator.New().Struct(request{Name: "x", Lines: []line{}})
	require.Error(t, err)

	require.Equal(t, map[string]string{
		"lines": "lines must contain at least 1 entries",
	}, FormatValidationError(err))
}

func TestFormatValidationError_PlainError(t *testing.T) {
	require.Equal(t, map[string]string{"body": "boom"}, FormatValidationError(errors.New("boom")))
}
