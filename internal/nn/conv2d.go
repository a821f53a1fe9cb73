package nn

import (
	"fmt"

	"github.com/born-ml/yolo/internal/graph"
	"github.com/born-ml/yolo/internal/specs"
	"github.com/born-ml/yolo/internal/tensor"
)

// DarkConv is a 2D convolution followed by optional batch normalization and
// an activation.
//
// Input shape:  [batch, height, width, in_channels]
// Kernel shape: [kernel_h, kernel_w, in_channels, filters]
// Output shape: [batch, out_h, out_w, filters]
//
// Where, for "same" padding (pad = kernel/2):
//
//	out_h = (height + 2*pad - kernel) / stride + 1
//
// and for "valid" padding pad is 0.
//
// With Norm the layer carries the four batch-norm vectors and no bias;
// without it, a bias vector. Parameters are returned in the order darknet
// stores them: bias (or norm bias, scale, mean, variance), then kernel.
//
// Parameters are created by the first Apply. Applying the same DarkConv
// to an input with a different channel count is an error.
type DarkConv struct {
	name       string
	filters    int
	kernelSize int
	strides    int
	padding    specs.Padding
	activation string
	norm       bool
	cfg        BlockConfig

	inChannels int

	bias     *graph.Parameter // [filters], without norm
	beta     *graph.Parameter // [filters], norm bias
	gamma    *graph.Parameter // [filters], norm scale
	mean     *graph.Parameter // [filters]
	variance *graph.Parameter // [filters]
	kernel   *graph.Parameter // [kh, kw, in, filters]
}

// NewDarkConv validates cfg and returns an unbuilt convolution.
func NewDarkConv(cfg BlockConfig) (*DarkConv, error) {
	cfg = cfg.withDefaults()
	switch {
	case cfg.Filters <= 0:
		return nil, configError(cfg.Name, "filters must be positive, got %d", cfg.Filters)
	case cfg.KernelSize <= 0:
		return nil, configError(cfg.Name, "kernel size must be positive, got %d", cfg.KernelSize)
	case !IsActivation(cfg.Activation):
		return nil, configError(cfg.Name, "unknown activation %q", cfg.Activation)
	}
	return &DarkConv{
		name:       cfg.Name,
		filters:    cfg.Filters,
		kernelSize: cfg.KernelSize,
		strides:    cfg.Strides,
		padding:    cfg.Padding,
		activation: cfg.Activation,
		norm:       cfg.Norm,
		cfg:        cfg,
	}, nil
}

// Name returns the layer name.
func (c *DarkConv) Name() string { return c.name }

// Filters returns the number of output channels.
func (c *DarkConv) Filters() int { return c.filters }

// KernelSize returns the square kernel size.
func (c *DarkConv) KernelSize() int { return c.kernelSize }

// Strides returns the spatial stride.
func (c *DarkConv) Strides() int { return c.strides }

// Activation returns the activation name.
func (c *DarkConv) Activation() string { return c.activation }

// Norm reports whether the layer is batch normalized.
func (c *DarkConv) Norm() bool { return c.norm }

// InChannels returns the input channel count, 0 before the first Apply.
func (c *DarkConv) InChannels() int { return c.inChannels }

// Parameters returns the layer parameters in stored-weights order. It is
// empty before the first Apply.
func (c *DarkConv) Parameters() []*graph.Parameter {
	if c.kernel == nil {
		return nil
	}
	if c.norm {
		return []*graph.Parameter{c.beta, c.gamma, c.mean, c.variance, c.kernel}
	}
	return []*graph.Parameter{c.bias, c.kernel}
}

// OutputShape computes the output shape for an NHWC input.
func (c *DarkConv) OutputShape(inputs ...tensor.Shape) ([]tensor.Shape, error) {
	in, err := oneShape(c.name, inputs)
	if err != nil {
		return nil, err
	}
	h, err := convOut(in[1], c.kernelSize, c.strides, c.padding)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.name, err)
	}
	w, err := convOut(in[2], c.kernelSize, c.strides, c.padding)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.name, err)
	}
	return []tensor.Shape{{in[0], h, w, c.filters}}, nil
}

// Apply builds the parameters on first use and records a conv node.
func (c *DarkConv) Apply(inputs ...*graph.Value) ([]*graph.Value, error) {
	x, err := one(c.name, inputs)
	if err != nil {
		return nil, err
	}
	shapes, err := c.OutputShape(x.Shape())
	if err != nil {
		return nil, err
	}
	if err := c.build(x.Channels()); err != nil {
		return nil, err
	}

	pad := 0
	if c.padding == specs.PaddingSame {
		pad = 1
	}
	norm := 0
	if c.norm {
		norm = 1
	}
	return record(&graph.Node{
		Op:     graph.OpConv,
		Name:   c.name,
		Inputs: []*graph.Value{x},
		Attrs: map[string]int{
			"filters":         c.filters,
			"size":            c.kernelSize,
			"stride":          c.strides,
			"pad":             pad,
			"batch_normalize": norm,
		},
		Activation: c.activation,
		Layer:      c,
	}, shapes...)
}

// build creates the parameters for inChannels input channels.
func (c *DarkConv) build(inChannels int) error {
	if inChannels <= 0 {
		return configError(c.name, "input channels must be known, got %d", inChannels)
	}
	if c.kernel != nil {
		if inChannels != c.inChannels {
			return fmt.Errorf("%s: %w: built for %d input channels, got %d",
				c.name, ErrShape, c.inChannels, inChannels)
		}
		return nil
	}

	k := c.kernelSize
	fanIn := inChannels * k * k
	fanOut := c.filters * k * k
	kernel, err := Xavier(fanIn, fanOut, tensor.Shape{k, k, inChannels, c.filters}, c.cfg.Rand)
	if err != nil {
		return fmt.Errorf("%s: kernel: %w", c.name, err)
	}
	vec := tensor.Shape{c.filters}

	if c.norm {
		beta, err := Zeros(vec)
		if err != nil {
			return err
		}
		gamma, err := Ones(vec)
		if err != nil {
			return err
		}
		mean, err := Zeros(vec)
		if err != nil {
			return err
		}
		variance, err := Ones(vec)
		if err != nil {
			return err
		}
		c.beta = graph.NewParameter(c.name+".norm_bias", graph.RoleNormBias, beta)
		c.gamma = graph.NewParameter(c.name+".norm_scale", graph.RoleNormScale, gamma)
		c.mean = graph.NewParameter(c.name+".norm_mean", graph.RoleNormMean, mean)
		c.variance = graph.NewParameter(c.name+".norm_variance", graph.RoleNormVariance, variance)
	} else {
		bias, err := Zeros(vec)
		if err != nil {
			return err
		}
		c.bias = graph.NewParameter(c.name+".bias", graph.RoleBias, bias)
	}
	c.kernel = graph.NewParameter(c.name+".kernel", graph.RoleKernel, kernel)
	c.inChannels = inChannels
	return nil
}

// convOut computes one output spatial dimension. Unknown sizes stay
// unknown.
func convOut(size, kernel, stride int, padding specs.Padding) (int, error) {
	if size == tensor.Dynamic {
		return tensor.Dynamic, nil
	}
	pad := 0
	if padding == specs.PaddingSame {
		pad = kernel / 2
	}
	span := size + 2*pad - kernel
	if span < 0 {
		return 0, fmt.Errorf("%w: kernel %d larger than padded input %d", ErrShape, kernel, size+2*pad)
	}
	return span/stride + 1, nil
}
