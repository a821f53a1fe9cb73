package nn

import (
	"fmt"

	"github.com/born-ml/yolo/internal/graph"
	"github.com/born-ml/yolo/internal/tensor"
)

// DarkResidual is the darknet residual unit:
//
//	[down: conv filters 3x3 stride 2]   only with Downsample
//	conv filters/FilterScale 1x1
//	conv filters 3x3
//	shortcut (unit input + conv output)
type DarkResidual struct {
	name  string
	down  *DarkConv
	conv1 *DarkConv
	conv2 *DarkConv
}

// NewDarkResidual creates a residual unit.
func NewDarkResidual(cfg BlockConfig) (*DarkResidual, error) {
	cfg = cfg.withDefaults()
	if cfg.Filters <= 0 || cfg.Filters%cfg.FilterScale != 0 {
		return nil, configError(cfg.Name, "filters %d not divisible by filter scale %d", cfg.Filters, cfg.FilterScale)
	}
	r := &DarkResidual{name: cfg.Name}
	var err error
	if cfg.Downsample {
		if r.down, err = NewDarkConv(cfg.child("down", cfg.Filters, 3, 2)); err != nil {
			return nil, err
		}
	}
	if r.conv1, err = NewDarkConv(cfg.child("conv1", cfg.Filters/cfg.FilterScale, 1, 1)); err != nil {
		return nil, err
	}
	if r.conv2, err = NewDarkConv(cfg.child("conv2", cfg.Filters, 3, 1)); err != nil {
		return nil, err
	}
	return r, nil
}

// Name returns the block name.
func (r *DarkResidual) Name() string { return r.name }

// OutputShape chains the convolutions and checks the shortcut.
func (r *DarkResidual) OutputShape(inputs ...tensor.Shape) ([]tensor.Shape, error) {
	in, err := oneShape(r.name, inputs)
	if err != nil {
		return nil, err
	}
	shapes := []tensor.Shape{in}
	for _, c := range r.convs() {
		if shapes, err = c.OutputShape(shapes...); err != nil {
			return nil, err
		}
		if c == r.down {
			in = shapes[0]
		}
	}
	if !in.Compatible(shapes[0]) {
		return nil, fmt.Errorf("%s: %w: shortcut %v vs %v", r.name, ErrShape, in, shapes[0])
	}
	return shapes, nil
}

// Apply records the convolutions and the shortcut.
func (r *DarkResidual) Apply(inputs ...*graph.Value) ([]*graph.Value, error) {
	x, err := one(r.name, inputs)
	if err != nil {
		return nil, err
	}
	if r.down != nil {
		outs, err := r.down.Apply(x)
		if err != nil {
			return nil, err
		}
		x = outs[0]
	}
	y := []*graph.Value{x}
	for _, c := range []*DarkConv{r.conv1, r.conv2} {
		if y, err = c.Apply(y...); err != nil {
			return nil, err
		}
	}
	return add(r.name+"/shortcut", x, y[0])
}

func (r *DarkResidual) convs() []*DarkConv {
	if r.down != nil {
		return []*DarkConv{r.down, r.conv1, r.conv2}
	}
	return []*DarkConv{r.conv1, r.conv2}
}
