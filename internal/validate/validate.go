// Package validate checks request structs against their validate tags.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kkkkikiki/couponcodes/internal/model"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// report fields by their json names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Struct validates s and returns an error wrapping model.ErrInvalidInput
// that describes the first failing field.
func Struct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return fmt.Errorf("invalid validation target: %w", err)
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) || len(validationErrors) == 0 {
		return fmt.Errorf("%w: %w", model.ErrInvalidInput, err)
	}

	first := validationErrors[0]
	field, param := first.Field(), first.Param()

	switch first.Tag() {
	case "required":
		return fmt.Errorf("%w: field '%s' is required", model.ErrInvalidInput, field)
	case "gte", "min":
		return fmt.Errorf("%w: field '%s' must be at least %s", model.ErrInvalidInput, field, param)
	case "lte", "max":
		return fmt.Errorf("%w: field '%s' must be at most %s", model.ErrInvalidInput, field, param)
	case "gt":
		return fmt.Errorf("%w: field '%s' must be greater than %s", model.ErrInvalidInput, field, param)
	default:
		return fmt.Errorf("%w: field '%s' failed on '%s'", model.ErrInvalidInput, field, first.Tag())
	}
}
