package nn

import (
	"fmt"

	"github.com/born-ml/yolo/internal/graph"
	"github.com/born-ml/yolo/internal/specs"
	"github.com/born-ml/yolo/internal/tensor"
)

// DarkTiny is the tiny backbone stage: a size 2 max pool with the given
// stride followed by a 3x3 convolution.
type DarkTiny struct {
	name string
	pool *MaxPool
	conv *DarkConv
}

// NewDarkTiny creates a tiny stage.
func NewDarkTiny(cfg BlockConfig) (*DarkTiny, error) {
	cfg = cfg.withDefaults()
	conv, err := NewDarkConv(cfg.child("conv", cfg.Filters, 3, 1))
	if err != nil {
		return nil, err
	}
	return &DarkTiny{
		name: cfg.Name,
		pool: &MaxPool{name: cfg.Name + "/pool", size: 2, stride: cfg.Strides, padding: specs.PaddingSame},
		conv: conv,
	}, nil
}

// Name returns the block name.
func (d *DarkTiny) Name() string { return d.name }

// OutputShape chains the pool and the convolution.
func (d *DarkTiny) OutputShape(inputs ...tensor.Shape) ([]tensor.Shape, error) {
	p, err := d.pool.OutputShape(inputs...)
	if err != nil {
		return nil, err
	}
	return d.conv.OutputShape(p...)
}

// Apply records the pool and the convolution.
func (d *DarkTiny) Apply(inputs ...*graph.Value) ([]*graph.Value, error) {
	p, err := d.pool.Apply(inputs...)
	if err != nil {
		return nil, err
	}
	return d.conv.Apply(p...)
}

// CSPTiny is the YOLOv4-tiny partial block:
//
//	conv1 filters 3x3
//	split, keep the second channel half
//	conv2 filters/2 3x3
//	conv3 filters/2 3x3
//	concat(conv3, conv2)
//	conv4 filters 1x1                  route output
//	concat(conv1, conv4)
//	maxpool 2x2 stride 2               main output
//
// Apply returns (main, route).
type CSPTiny struct {
	name  string
	conv1 *DarkConv
	conv2 *DarkConv
	conv3 *DarkConv
	conv4 *DarkConv
	pool  *MaxPool
}

// NewCSPTiny creates the block.
func NewCSPTiny(cfg BlockConfig) (*CSPTiny, error) {
	cfg = cfg.withDefaults()
	if cfg.Filters <= 0 || cfg.Filters%2 != 0 {
		return nil, configError(cfg.Name, "filters must be positive and even, got %d", cfg.Filters)
	}
	b := &CSPTiny{
		name: cfg.Name,
		pool: &MaxPool{name: cfg.Name + "/pool", size: 2, stride: 2, padding: specs.PaddingSame},
	}
	half := cfg.Filters / 2
	var err error
	if b.conv1, err = NewDarkConv(cfg.child("conv1", cfg.Filters, 3, 1)); err != nil {
		return nil, err
	}
	if b.conv2, err = NewDarkConv(cfg.child("conv2", half, 3, 1)); err != nil {
		return nil, err
	}
	if b.conv3, err = NewDarkConv(cfg.child("conv3", half, 3, 1)); err != nil {
		return nil, err
	}
	if b.conv4, err = NewDarkConv(cfg.child("conv4", cfg.Filters, 1, 1)); err != nil {
		return nil, err
	}
	return b, nil
}

// Name returns the block name.
func (b *CSPTiny) Name() string { return b.name }

// OutputShape returns (main, route) shapes.
func (b *CSPTiny) OutputShape(inputs ...tensor.Shape) ([]tensor.Shape, error) {
	c1, err := b.conv1.OutputShape(inputs...)
	if err != nil {
		return nil, err
	}
	route := c1[0].Clone()
	main := route.Clone()
	main[3] = 2 * b.conv4.Filters()
	pooled, err := b.pool.OutputShape(main)
	if err != nil {
		return nil, err
	}
	return []tensor.Shape{pooled[0], route}, nil
}

// Apply records the block and returns (main, route).
func (b *CSPTiny) Apply(inputs ...*graph.Value) ([]*graph.Value, error) {
	c1, err := b.conv1.Apply(inputs...)
	if err != nil {
		return nil, err
	}
	half, err := split(b.name+"/split", c1[0])
	if err != nil {
		return nil, err
	}
	c2, err := b.conv2.Apply(half...)
	if err != nil {
		return nil, err
	}
	c3, err := b.conv3.Apply(c2...)
	if err != nil {
		return nil, err
	}
	inner, err := concat(b.name+"/concat1", []*graph.Value{c3[0], c2[0]})
	if err != nil {
		return nil, err
	}
	c4, err := b.conv4.Apply(inner...)
	if err != nil {
		return nil, err
	}
	outer, err := concat(b.name+"/concat2", []*graph.Value{c1[0], c4[0]})
	if err != nil {
		return nil, err
	}
	pooled, err := b.pool.Apply(outer...)
	if err != nil {
		return nil, err
	}
	return []*graph.Value{pooled[0], c4[0]}, nil
}

func inputCount(name string, want, got int) error {
	return fmt.Errorf("%s: %w: want %d, got %d", name, ErrInputCount, want, got)
}
