// Package nn implements the darknet building blocks the backbone builder
// composes: convolutions, pools, routes, residual and CSP blocks.
//
// Blocks are symbolic. Apply records nodes on the graph that owns the
// input values and returns the produced values; no numeric forward pass
// runs. Parametric blocks own real float32 parameters, created the first
// time the block is applied, once the input channel count is known.
//
// Block kinds are looked up through a Registry keyed by (kind, stack mode):
//
//	reg := nn.NewRegistry()
//	t, err := reg.New("DarkConv", specs.StackNone, nn.BlockConfig{
//	    Name:       "stem",
//	    Filters:    32,
//	    KernelSize: 3,
//	    Strides:    1,
//	    Padding:    specs.PaddingSame,
//	    Activation: "mish",
//	    Norm:       true,
//	})
//	outs, err := t.Apply(input) // [?, 416, 416, 32]
package nn

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/born-ml/yolo/internal/graph"
	"github.com/born-ml/yolo/internal/specs"
	"github.com/born-ml/yolo/internal/tensor"
)

// Common errors.
var (
	ErrUnknownLayerKind = errors.New("unknown layer kind")
	ErrInvalidConfig    = errors.New("invalid block config")
	ErrInputCount       = errors.New("wrong number of inputs")
	ErrShape            = errors.New("incompatible input shape")
)

// Transform is one block of the graph.
type Transform interface {
	// Name returns the block name; parametric layers inside it are named
	// after it.
	Name() string

	// OutputShape computes the shapes Apply would produce.
	OutputShape(inputs ...tensor.Shape) ([]tensor.Shape, error)

	// Apply records the block on the inputs' graph and returns its
	// outputs. Single-output blocks return one value; split blocks return
	// (main, route).
	Apply(inputs ...*graph.Value) ([]*graph.Value, error)
}

// BlockConfig is the constructor input of every block kind. Fields a kind
// does not use are ignored.
type BlockConfig struct {
	Name        string
	Filters     int
	KernelSize  int
	Strides     int
	Padding     specs.Padding
	Activation  string
	Norm        bool
	Downsample  bool // residual: prepend a stride 2 convolution
	FilterScale int  // residual: divisor of the 1x1 bottleneck filters
	Rand        *rand.Rand
}

// withDefaults fills zero values with the darknet defaults.
func (c BlockConfig) withDefaults() BlockConfig {
	if c.Strides == 0 {
		c.Strides = 1
	}
	if c.Padding == "" {
		c.Padding = specs.PaddingSame
	}
	if c.Activation == "" {
		c.Activation = specs.DefaultActivation
	}
	if c.FilterScale == 0 {
		c.FilterScale = 1
	}
	return c
}

// child derives the config of a nested block.
func (c BlockConfig) child(suffix string, filters, kernel, strides int) BlockConfig {
	c.Name = c.Name + "/" + suffix
	c.Filters = filters
	c.KernelSize = kernel
	c.Strides = strides
	c.Padding = specs.PaddingSame
	c.Downsample = false
	c.FilterScale = 1
	return c
}

func configError(name, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", name, ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// one checks a single-input Apply and returns the input.
func one(name string, inputs []*graph.Value) (*graph.Value, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("%s: %w: want 1, got %d", name, ErrInputCount, len(inputs))
	}
	return inputs[0], nil
}

// oneShape checks a single-input OutputShape and returns the shape.
func oneShape(name string, inputs []tensor.Shape) (tensor.Shape, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("%s: %w: want 1, got %d", name, ErrInputCount, len(inputs))
	}
	if len(inputs[0]) != 4 {
		return nil, fmt.Errorf("%s: %w: want NHWC, got %v", name, ErrShape, inputs[0])
	}
	return inputs[0], nil
}

// shapesOf returns the shapes of values.
func shapesOf(values []*graph.Value) []tensor.Shape {
	out := make([]tensor.Shape, len(values))
	for i, v := range values {
		out[i] = v.Shape()
	}
	return out
}

// record appends a node to the graph owning the first input.
func record(n *graph.Node, shapes ...tensor.Shape) ([]*graph.Value, error) {
	g := n.Inputs[0].Graph()
	outs, err := g.AddNode(n, shapes...)
	if err != nil {
		return nil, err
	}
	return outs, nil
}
