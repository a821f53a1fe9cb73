package tensor

import (
	"fmt"
)

// RawTensor is a dense row-major float32 tensor.
//
// It is the storage behind every learnable parameter. Shapes of raw tensors
// are always static.
type RawTensor struct {
	shape Shape
	data  []float32
}

// NewRaw creates a new RawTensor with the given shape.
// Memory is allocated and zero filled.
func NewRaw(shape Shape) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	return &RawTensor{
		shape: shape.Clone(),
		data:  make([]float32, shape.NumElements()),
	}, nil
}

// FromSlice creates a RawTensor that takes ownership of data.
func FromSlice(data []float32, shape Shape) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)",
			len(data), shape, shape.NumElements())
	}
	return &RawTensor{shape: shape.Clone(), data: data}, nil
}

// Full creates a RawTensor with every element set to value.
func Full(shape Shape, value float32) (*RawTensor, error) {
	t, err := NewRaw(shape)
	if err != nil {
		return nil, err
	}
	if value != 0 {
		for i := range t.data {
			t.data[i] = value
		}
	}
	return t, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Strides returns the tensor's memory strides.
func (r *RawTensor) Strides() []int {
	return r.shape.ComputeStrides()
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return len(r.data)
}

// ByteSize returns the total memory size in bytes.
func (r *RawTensor) ByteSize() int {
	return len(r.data) * 4
}

// Data returns the underlying element slice.
// WARNING: Direct access to underlying memory. Use with caution.
func (r *RawTensor) Data() []float32 {
	return r.data
}

// Clone returns a deep copy.
func (r *RawTensor) Clone() *RawTensor {
	data := make([]float32, len(r.data))
	copy(data, r.data)
	return &RawTensor{shape: r.shape.Clone(), data: data}
}

// CopyFrom overwrites the contents of r with src. Shapes must be equal.
func (r *RawTensor) CopyFrom(src *RawTensor) error {
	if !r.shape.Equal(src.shape) {
		return fmt.Errorf("copy: shape %v does not match %v", src.shape, r.shape)
	}
	copy(r.data, src.data)
	return nil
}

// Reshape returns a tensor sharing r's data with a new shape of equal size.
func (r *RawTensor) Reshape(shape Shape) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("reshape: %w", err)
	}
	if shape.NumElements() != len(r.data) {
		return nil, fmt.Errorf("reshape: cannot reshape %v to %v", r.shape, shape)
	}
	return &RawTensor{shape: shape.Clone(), data: r.data}, nil
}
