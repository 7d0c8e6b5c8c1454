package configutil

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	parts := make([]string, len(e))
	for i, ve := range e {
		parts[i] = ve.Error()
	}
	return fmt.Sprintf("%d validation errors: %s", len(e), strings.Join(parts, "; "))
}

// Validator accumulates configuration validation errors through a fluent
// chain, reporting them all at once instead of failing on the first
type Validator struct {
	errors []ValidationError
}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{}
}

// RequiredString validates that a string field is not empty
func (v *Validator) RequiredString(field, value string) *Validator {
	if value == "" {
		v.errors = append(v.errors, ValidationError{
			Field:   field,
			Message: "is required and cannot be empty",
		})
	}
	return v
}

// RequiredInt validates that an integer field is greater than zero
func (v *Validator) RequiredInt(field string, value int) *Validator {
	if value <= 0 {
		v.errors = append(v.errors, ValidationError{
			Field:   field,
			Message: "must be greater than zero",
		})
	}
	return v
}

// NonNegativeInt validates that an integer field is zero or greater
func (v *Validator) NonNegativeInt(field string, value int) *Validator {
	if value < 0 {
		v.errors = append(v.errors, ValidationError{
			Field:   field,
			Message: "cannot be negative",
		})
	}
	return v
}

// IntRange validates that an integer field is within a specific range
func (v *Validator) IntRange(field string, value, min, max int) *Validator {
	if value < min || value > max {
		v.errors = append(v.errors, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be between %d and %d", min, max),
		})
	}
	return v
}

// OneOf validates that a string field is one of the allowed values
func (v *Validator) OneOf(field, value string, allowed []string) *Validator {
	for _, allowedValue := range allowed {
		if value == allowedValue {
			return v
		}
	}
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Message: fmt.Sprintf("must be one of: %v", allowed),
	})
	return v
}

// Result returns validation errors if any exist
func (v *Validator) Result() error {
	if len(v.errors) == 0 {
		return nil
	}
	return ValidationErrors(v.errors)
}

// HasErrors returns true if there are validation errors
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// ErrorCount returns the number of validation errors
func (v *Validator) ErrorCount() int {
	return len(v.errors)
}
