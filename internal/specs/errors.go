package specs

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrConfigNotFound = errors.New("config not found")
	ErrInvalidSpec    = errors.New("invalid layer spec")
)

// SpecError describes a record that failed validation.
type SpecError struct {
	Table  string // Table name, empty while decoding a lone record
	Index  int    // Record position, -1 when unknown
	Field  string // Offending field
	Reason string
}

// Error implements the error interface.
func (e *SpecError) Error() string {
	if e.Table != "" && e.Index >= 0 {
		return fmt.Sprintf("table %q spec %d: %s: %s", e.Table, e.Index, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Unwrap makes errors.Is(err, ErrInvalidSpec) hold.
func (e *SpecError) Unwrap() error {
	return ErrInvalidSpec
}

func fieldError(field, reason string) *SpecError {
	return &SpecError{Index: -1, Field: field, Reason: reason}
}

// at attaches the table position to a validation error.
func at(err error, table string, index int) error {
	var se *SpecError
	if errors.As(err, &se) {
		cp := *se
		cp.Table = table
		cp.Index = index
		return &cp
	}
	return fmt.Errorf("table %q spec %d: %w", table, index, err)
}
