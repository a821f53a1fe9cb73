package loader

import (
	"errors"
	"fmt"

	"github.com/born-ml/yolo/internal/graph"
)

// Common errors.
var (
	ErrInvalidBoundary  = errors.New("invalid split boundary")
	ErrShapeMismatch    = errors.New("weight block does not match layer parameter")
	ErrSegmentExhausted = errors.New("weight segment exhausted")
	ErrUnconsumedBlocks = errors.New("weight blocks left over after assignment")
)

// ImportError locates an assignment failure.
type ImportError struct {
	Layer    int    // Position of the layer in the subset, -1 when past the last layer
	Name     string // Layer name
	Role     graph.Role
	Block    int    // Index of the offending block in the segment
	Expected string // What the layer wanted
	Got      string // What the segment held
	Err      error
}

// Error implements the error interface.
func (e *ImportError) Error() string {
	if e.Layer < 0 {
		return fmt.Sprintf("%v: from block %d: %s", e.Err, e.Block, e.Got)
	}
	return fmt.Sprintf("%v: layer %d (%s) %s, block %d: want %s, got %s",
		e.Err, e.Layer, e.Name, e.Role, e.Block, e.Expected, e.Got)
}

// Unwrap returns the sentinel error.
func (e *ImportError) Unwrap() error {
	return e.Err
}
