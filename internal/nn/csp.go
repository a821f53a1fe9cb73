package nn

import (
	"github.com/born-ml/yolo/internal/graph"
	"github.com/born-ml/yolo/internal/tensor"
)

// CSPDownSample opens a cross-stage-partial stage. It downsamples with a
// stride 2 convolution and splits the result into a route branch and a
// main branch, each a 1x1 convolution to filters/FilterScale channels.
//
// Apply returns (main, route). The route convolution is recorded first,
// matching the darknet layer order.
type CSPDownSample struct {
	name  string
	down  *DarkConv
	route *DarkConv
	main  *DarkConv
}

// NewCSPDownSample creates the stage opener; cfg.FilterScale is the filter
// reduction (1 for bottleneck stages, 2 otherwise).
func NewCSPDownSample(cfg BlockConfig) (*CSPDownSample, error) {
	cfg = cfg.withDefaults()
	if cfg.Filters <= 0 || cfg.Filters%cfg.FilterScale != 0 {
		return nil, configError(cfg.Name, "filters %d not divisible by reduction %d", cfg.Filters, cfg.FilterScale)
	}
	reduced := cfg.Filters / cfg.FilterScale
	b := &CSPDownSample{name: cfg.Name}
	var err error
	if b.down, err = NewDarkConv(cfg.child("down", cfg.Filters, 3, 2)); err != nil {
		return nil, err
	}
	if b.route, err = NewDarkConv(cfg.child("route", reduced, 1, 1)); err != nil {
		return nil, err
	}
	if b.main, err = NewDarkConv(cfg.child("main", reduced, 1, 1)); err != nil {
		return nil, err
	}
	return b, nil
}

// Name returns the block name.
func (b *CSPDownSample) Name() string { return b.name }

// OutputShape returns (main, route) shapes.
func (b *CSPDownSample) OutputShape(inputs ...tensor.Shape) ([]tensor.Shape, error) {
	d, err := b.down.OutputShape(inputs...)
	if err != nil {
		return nil, err
	}
	m, err := b.main.OutputShape(d...)
	if err != nil {
		return nil, err
	}
	r, err := b.route.OutputShape(d...)
	if err != nil {
		return nil, err
	}
	return []tensor.Shape{m[0], r[0]}, nil
}

// Apply records the three convolutions and returns (main, route).
func (b *CSPDownSample) Apply(inputs ...*graph.Value) ([]*graph.Value, error) {
	d, err := b.down.Apply(inputs...)
	if err != nil {
		return nil, err
	}
	r, err := b.route.Apply(d...)
	if err != nil {
		return nil, err
	}
	m, err := b.main.Apply(d...)
	if err != nil {
		return nil, err
	}
	return []*graph.Value{m[0], r[0]}, nil
}

// CSPConnect closes a cross-stage-partial stage: a 1x1 convolution on the
// main branch, concatenation with the route branch, and a 1x1 convolution
// to filters channels.
type CSPConnect struct {
	name  string
	conv1 *DarkConv
	conv2 *DarkConv
}

// NewCSPConnect creates the stage closer; cfg.FilterScale is the same
// reduction the matching CSPDownSample used.
func NewCSPConnect(cfg BlockConfig) (*CSPConnect, error) {
	cfg = cfg.withDefaults()
	if cfg.Filters <= 0 || cfg.Filters%cfg.FilterScale != 0 {
		return nil, configError(cfg.Name, "filters %d not divisible by reduction %d", cfg.Filters, cfg.FilterScale)
	}
	b := &CSPConnect{name: cfg.Name}
	var err error
	if b.conv1, err = NewDarkConv(cfg.child("conv1", cfg.Filters/cfg.FilterScale, 1, 1)); err != nil {
		return nil, err
	}
	if b.conv2, err = NewDarkConv(cfg.child("conv2", cfg.Filters, 1, 1)); err != nil {
		return nil, err
	}
	return b, nil
}

// Name returns the block name.
func (b *CSPConnect) Name() string { return b.name }

// OutputShape takes (main, route) shapes.
func (b *CSPConnect) OutputShape(inputs ...tensor.Shape) ([]tensor.Shape, error) {
	if len(inputs) != 2 {
		return nil, inputCount(b.name, 2, len(inputs))
	}
	m, err := b.conv1.OutputShape(inputs[0])
	if err != nil {
		return nil, err
	}
	c, err := concatShape(b.name+"/concat", []tensor.Shape{m[0], inputs[1]})
	if err != nil {
		return nil, err
	}
	return b.conv2.OutputShape(c)
}

// Apply takes (main, route) and records the merge.
func (b *CSPConnect) Apply(inputs ...*graph.Value) ([]*graph.Value, error) {
	if len(inputs) != 2 {
		return nil, inputCount(b.name, 2, len(inputs))
	}
	m, err := b.conv1.Apply(inputs[0])
	if err != nil {
		return nil, err
	}
	c, err := concat(b.name+"/concat", []*graph.Value{m[0], inputs[1]})
	if err != nil {
		return nil, err
	}
	return b.conv2.Apply(c...)
}
