package tensor

import (
	"fmt"

	"github.com/born-ml/yolo/internal/parallel"
)

// TransposeAxes permutes the dimensions of x.
//
// Output dimension i is input dimension axes[i]. With no axes all
// dimensions are reversed. The result never shares memory with x.
//
// Example:
//
//	// [out, in, kh, kw] -> [kh, kw, in, out]
//	hwio, err := tensor.TransposeAxes(oihw, 2, 3, 1, 0)
func TransposeAxes(x *RawTensor, axes ...int) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("TransposeAxes: input tensor is nil")
	}

	ndim := len(x.shape)

	// Default: reverse all dimensions
	if len(axes) == 0 {
		axes = make([]int, ndim)
		for i := range axes {
			axes[i] = ndim - 1 - i
		}
	}

	if len(axes) != ndim {
		return nil, fmt.Errorf("TransposeAxes: axes length %d must match tensor dimensions %d", len(axes), ndim)
	}

	seen := make([]bool, ndim)
	newShape := make(Shape, ndim)
	for i, ax := range axes {
		if ax < 0 || ax >= ndim {
			return nil, fmt.Errorf("TransposeAxes: axis %d out of range [0, %d)", ax, ndim)
		}
		if seen[ax] {
			return nil, fmt.Errorf("TransposeAxes: axis %d repeated", ax)
		}
		seen[ax] = true
		newShape[i] = x.shape[ax]
	}

	result, err := NewRaw(newShape)
	if err != nil {
		return nil, fmt.Errorf("TransposeAxes: %w", err)
	}
	transposeData(x.data, result.data, x.shape, newShape, axes)
	return result, nil
}

func transposeData(in, out []float32, oldShape, newShape Shape, axes []int) {
	ndim := len(oldShape)
	oldStrides := oldShape.ComputeStrides()

	parallel.Range(len(out), func(start, end int) {
		idx := make([]int, ndim)
		for i := start; i < end; i++ {
			// Decompose the output position into its multi-index.
			tmp := i
			for j := ndim - 1; j >= 0; j-- {
				idx[j] = tmp % newShape[j]
				tmp /= newShape[j]
			}

			oldFlat := 0
			for j := 0; j < ndim; j++ {
				oldFlat += idx[j] * oldStrides[axes[j]]
			}
			out[i] = in[oldFlat]
		}
	}, parallel.DefaultConfig())
}

// InversePermutation returns the permutation undoing axes.
func InversePermutation(axes []int) []int {
	inv := make([]int, len(axes))
	for i, ax := range axes {
		inv[ax] = i
	}
	return inv
}
