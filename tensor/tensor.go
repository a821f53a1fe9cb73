// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/born-ml/yolo/internal/tensor"
)

// Dynamic marks a dimension whose size is unknown until run time.
const Dynamic = tensor.Dynamic

// Shape represents the dimensions of a tensor, outermost first.
// Example: Shape{1, 416, 416, 3} is one 416x416 RGB image in NHWC order.
type Shape = tensor.Shape

// RawTensor is a dense row-major float32 tensor.
//
// Parameters of YOLO graphs are RawTensors. Kernels are stored HWIO
// ([kh, kw, in, out]).
type RawTensor = tensor.RawTensor

// ParseShape parses a comma separated shape such as "416,416,3".
// "?" and "-1" denote Dynamic dimensions.
func ParseShape(text string) (Shape, error) {
	return tensor.ParseShape(text)
}

// New creates a zero-filled tensor of the given static shape.
//
// Example:
//
//	t, err := tensor.New(tensor.Shape{3, 3, 32, 64})
func New(shape Shape) (*RawTensor, error) {
	return tensor.NewRaw(shape)
}

// FromSlice wraps data in a tensor of the given shape. The slice is not
// copied; its length must equal the shape's element count.
func FromSlice(data []float32, shape Shape) (*RawTensor, error) {
	return tensor.FromSlice(data, shape)
}

// Full creates a tensor of the given shape filled with value.
func Full(shape Shape, value float32) (*RawTensor, error) {
	return tensor.Full(shape, value)
}

// TransposeAxes permutes the dimensions of x; output dimension i is input
// dimension axes[i].
//
// Example:
//
//	// darknet [out, in, kh, kw] -> HWIO
//	hwio, err := tensor.TransposeAxes(oihw, 2, 3, 1, 0)
func TransposeAxes(x *RawTensor, axes ...int) (*RawTensor, error) {
	return tensor.TransposeAxes(x, axes...)
}
