package domain

import "fmt"

// FieldError names the response field that failed validation.
type FieldError struct {
	Field   string
	Problem string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Problem)
}

func MissingField(field string) error {
	return &FieldError{Field: field, Problem: "missing or empty"}
}
