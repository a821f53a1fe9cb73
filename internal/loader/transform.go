package loader

import (
	"fmt"

	"github.com/born-ml/yolo/internal/tensor"
)

// darknetToHWIO maps [out, in, kh, kw] to [kh, kw, in, out].
var darknetToHWIO = []int{2, 3, 1, 0}

// DarknetToHWIO converts a stored darknet kernel to the graph layout.
func DarknetToHWIO(k *tensor.RawTensor) (*tensor.RawTensor, error) {
	if len(k.Shape()) != 4 {
		return nil, fmt.Errorf("%w: kernel must be 4-D, got %v", ErrShapeMismatch, k.Shape())
	}
	return tensor.TransposeAxes(k, darknetToHWIO...)
}

// HWIOToDarknet is the inverse of DarknetToHWIO.
func HWIOToDarknet(k *tensor.RawTensor) (*tensor.RawTensor, error) {
	if len(k.Shape()) != 4 {
		return nil, fmt.Errorf("%w: kernel must be 4-D, got %v", ErrShapeMismatch, k.Shape())
	}
	return tensor.TransposeAxes(k, tensor.InversePermutation(darknetToHWIO)...)
}
