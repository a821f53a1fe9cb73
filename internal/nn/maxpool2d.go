package nn

import (
	"fmt"

	"github.com/born-ml/yolo/internal/graph"
	"github.com/born-ml/yolo/internal/specs"
	"github.com/born-ml/yolo/internal/tensor"
)

// MaxPool is a 2D max pooling block. It has no learnable parameters.
//
// Input shape:  [batch, height, width, channels]
// Output shape: [batch, out_height, out_width, channels]
//
// With "same" padding out_height = ceil(height / stride), matching darknet's
// default pool padding of size-1. With "valid" padding
// out_height = (height - size) / stride + 1.
//
// Common configurations:
//   - size 2, stride 2: halves the spatial dimensions (tiny backbones)
//   - size 2, stride 1: keeps the spatial size (last darknet tiny stage)
//   - size 5/9/13, stride 1: the SPP pyramid
type MaxPool struct {
	name    string
	size    int
	stride  int
	padding specs.Padding
}

// NewMaxPool creates a pooling block; cfg.KernelSize is the window size.
func NewMaxPool(cfg BlockConfig) (*MaxPool, error) {
	cfg = cfg.withDefaults()
	if cfg.KernelSize <= 0 {
		return nil, configError(cfg.Name, "pool size must be positive, got %d", cfg.KernelSize)
	}
	return &MaxPool{name: cfg.Name, size: cfg.KernelSize, stride: cfg.Strides, padding: cfg.Padding}, nil
}

// Name returns the block name.
func (p *MaxPool) Name() string { return p.name }

// OutputShape computes the pooled shape.
func (p *MaxPool) OutputShape(inputs ...tensor.Shape) ([]tensor.Shape, error) {
	in, err := oneShape(p.name, inputs)
	if err != nil {
		return nil, err
	}
	h, err := poolOut(in[1], p.size, p.stride, p.padding)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	w, err := poolOut(in[2], p.size, p.stride, p.padding)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	return []tensor.Shape{{in[0], h, w, in[3]}}, nil
}

// Apply records a maxpool node.
func (p *MaxPool) Apply(inputs ...*graph.Value) ([]*graph.Value, error) {
	x, err := one(p.name, inputs)
	if err != nil {
		return nil, err
	}
	shapes, err := p.OutputShape(x.Shape())
	if err != nil {
		return nil, err
	}
	return record(&graph.Node{
		Op:     graph.OpMaxPool,
		Name:   p.name,
		Inputs: []*graph.Value{x},
		Attrs:  map[string]int{"size": p.size, "stride": p.stride},
	}, shapes...)
}

func poolOut(size, window, stride int, padding specs.Padding) (int, error) {
	if size == tensor.Dynamic {
		return tensor.Dynamic, nil
	}
	if padding == specs.PaddingSame {
		return (size + stride - 1) / stride, nil
	}
	if size < window {
		return 0, fmt.Errorf("%w: pool %d larger than input %d", ErrShape, window, size)
	}
	return (size-window)/stride + 1, nil
}

// SPP is spatial pyramid pooling: three stride 1 pools of sizes 5, 9 and 13
// over the same input, concatenated as [pool13, pool9, pool5, input].
type SPP struct {
	name  string
	pools []*MaxPool
}

// sppSizes are the pyramid window sizes, in application order.
var sppSizes = []int{5, 9, 13}

// NewSPP creates the pyramid block.
func NewSPP(cfg BlockConfig) *SPP {
	s := &SPP{name: cfg.Name}
	for _, size := range sppSizes {
		s.pools = append(s.pools, &MaxPool{
			name:    fmt.Sprintf("%s/pool%d", cfg.Name, size),
			size:    size,
			stride:  1,
			padding: specs.PaddingSame,
		})
	}
	return s
}

// Name returns the block name.
func (s *SPP) Name() string { return s.name }

// OutputShape returns the input shape with four times the channels.
func (s *SPP) OutputShape(inputs ...tensor.Shape) ([]tensor.Shape, error) {
	in, err := oneShape(s.name, inputs)
	if err != nil {
		return nil, err
	}
	out := in.Clone()
	if out[3] != tensor.Dynamic {
		out[3] *= len(sppSizes) + 1
	}
	return []tensor.Shape{out}, nil
}

// Apply records the three pools and the concatenation.
func (s *SPP) Apply(inputs ...*graph.Value) ([]*graph.Value, error) {
	x, err := one(s.name, inputs)
	if err != nil {
		return nil, err
	}
	pooled := make([]*graph.Value, len(s.pools))
	for i, p := range s.pools {
		outs, err := p.Apply(x)
		if err != nil {
			return nil, err
		}
		pooled[i] = outs[0]
	}
	// Largest window first, input last.
	parts := make([]*graph.Value, 0, len(pooled)+1)
	for i := len(pooled) - 1; i >= 0; i-- {
		parts = append(parts, pooled[i])
	}
	parts = append(parts, x)
	return concat(s.name+"/concat", parts)
}

// UpSample repeats each spatial position stride times along height and
// width (nearest neighbour).
type UpSample struct {
	name   string
	factor int
}

// NewUpSample creates an upsampling block; cfg.Strides is the factor.
func NewUpSample(cfg BlockConfig) (*UpSample, error) {
	cfg = cfg.withDefaults()
	if cfg.Strides < 2 {
		return nil, configError(cfg.Name, "upsample factor must be at least 2, got %d", cfg.Strides)
	}
	return &UpSample{name: cfg.Name, factor: cfg.Strides}, nil
}

// Name returns the block name.
func (u *UpSample) Name() string { return u.name }

// OutputShape multiplies height and width by the factor.
func (u *UpSample) OutputShape(inputs ...tensor.Shape) ([]tensor.Shape, error) {
	in, err := oneShape(u.name, inputs)
	if err != nil {
		return nil, err
	}
	out := in.Clone()
	for _, axis := range []int{1, 2} {
		if out[axis] != tensor.Dynamic {
			out[axis] *= u.factor
		}
	}
	return []tensor.Shape{out}, nil
}

// Apply records an upsample node.
func (u *UpSample) Apply(inputs ...*graph.Value) ([]*graph.Value, error) {
	x, err := one(u.name, inputs)
	if err != nil {
		return nil, err
	}
	shapes, err := u.OutputShape(x.Shape())
	if err != nil {
		return nil, err
	}
	return record(&graph.Node{
		Op:     graph.OpUpsample,
		Name:   u.name,
		Inputs: []*graph.Value{x},
		Attrs:  map[string]int{"stride": u.factor},
	}, shapes...)
}
