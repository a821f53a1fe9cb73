// Package tensor provides the shape and storage types shared by the graph
// builder and the weight importer.
//
// Tensors here are plain float32 buffers: they hold parameter values and
// describe symbolic activations, they never run numeric kernels.
package tensor

import (
	"fmt"
	"strconv"
	"strings"
)

// Dynamic marks a dimension whose size is not known until runtime
// (batch size, image height/width of a fully convolutional graph).
const Dynamic = -1

// Shape represents the dimensions of a tensor.
type Shape []int

// NumElements returns the total number of elements in the tensor.
//
// Shapes containing Dynamic dimensions have no fixed element count; -1 is
// returned for them.
func (s Shape) NumElements() int {
	if len(s) == 0 {
		return 1 // Scalar has 1 element
	}
	n := 1
	for _, dim := range s {
		if dim == Dynamic {
			return Dynamic
		}
		n *= dim
	}
	return n
}

// Validate checks if the shape is valid (all dimensions > 0).
func (s Shape) Validate() error {
	for i, dim := range s {
		if dim <= 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be > 0)", i, dim)
		}
	}
	return nil
}

// ValidateSymbolic is like Validate but also accepts Dynamic dimensions.
func (s Shape) ValidateSymbolic() error {
	for i, dim := range s {
		if dim <= 0 && dim != Dynamic {
			return fmt.Errorf("invalid dimension at index %d: %d (must be > 0 or dynamic)", i, dim)
		}
	}
	return nil
}

// IsStatic reports whether every dimension is known.
func (s Shape) IsStatic() bool {
	for _, dim := range s {
		if dim == Dynamic {
			return false
		}
	}
	return true
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Compatible reports whether two shapes can describe the same tensor,
// treating Dynamic as a wildcard.
func (s Shape) Compatible(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] && s[i] != Dynamic && other[i] != Dynamic {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// ComputeStrides calculates row-major strides for the shape.
// Strides define memory layout: stride[i] = product of all dimensions after i.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}

	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * s[i+1]
	}
	return strides
}

// String renders the shape as "[1 416 416 3]", with "?" for dynamic dimensions.
func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, dim := range s {
		if dim == Dynamic {
			parts[i] = "?"
			continue
		}
		parts[i] = strconv.Itoa(dim)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// ParseShape parses a comma separated shape such as "416,416,3".
// "?" and "-1" denote Dynamic dimensions.
func ParseShape(text string) (Shape, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty shape")
	}
	fields := strings.Split(text, ",")
	shape := make(Shape, len(fields))
	for i, f := range fields {
		f = strings.TrimSpace(f)
		if f == "?" {
			shape[i] = Dynamic
			continue
		}
		dim, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("dimension %d: %w", i, err)
		}
		shape[i] = dim
	}
	if err := shape.ValidateSymbolic(); err != nil {
		return nil, err
	}
	return shape, nil
}
