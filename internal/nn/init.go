package nn

import (
	"math"
	"math/rand"

	"github.com/born-ml/yolo/internal/tensor"
)

// Xavier (Glorot) initialization for weights.
//
// Initializes weights with values drawn from a uniform distribution:
// U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
//
// With a nil rnd the tensor is left zeroed, which keeps freshly built
// graphs deterministic until weights are imported.
func Xavier(fanIn, fanOut int, shape tensor.Shape, rnd *rand.Rand) (*tensor.RawTensor, error) {
	t, err := tensor.NewRaw(shape)
	if err != nil {
		return nil, err
	}
	if rnd == nil {
		return t, nil
	}

	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
	data := t.Data()
	for i := range data {
		//nolint:gosec // Using math/rand for weight initialization (not security-critical)
		data[i] = float32((rnd.Float64()*2.0 - 1.0) * bound)
	}
	return t, nil
}

// Zeros creates a zero-filled tensor, used for biases and running means.
func Zeros(shape tensor.Shape) (*tensor.RawTensor, error) {
	return tensor.NewRaw(shape)
}

// Ones creates a tensor filled with ones, used for scales and variances.
func Ones(shape tensor.Shape) (*tensor.RawTensor, error) {
	return tensor.Full(shape, 1)
}
