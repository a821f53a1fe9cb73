package backbone

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrInvalidRoute = errors.New("invalid route")
	ErrStageInputs  = errors.New("wrong number of stage inputs")
)

// BuildError reports the spec a build failed on.
type BuildError struct {
	Table string // Table name
	Index int    // Spec position in the table
	Kind  string // Spec layer kind
	Err   error
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	return fmt.Sprintf("build %s: spec %d (%s): %v", e.Table, e.Index, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *BuildError) Unwrap() error {
	return e.Err
}
