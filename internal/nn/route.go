package nn

import (
	"fmt"

	"github.com/born-ml/yolo/internal/graph"
	"github.com/born-ml/yolo/internal/tensor"
)

// DarkRoute concatenates its inputs along the channel axis, in operand
// order. With a single input it forwards that input unchanged, which is
// how darknet re-reads an earlier layer.
type DarkRoute struct {
	name string
}

// NewDarkRoute creates a route block.
func NewDarkRoute(cfg BlockConfig) *DarkRoute {
	return &DarkRoute{name: cfg.Name}
}

// Name returns the block name.
func (r *DarkRoute) Name() string { return r.name }

// OutputShape returns the concatenated shape.
func (r *DarkRoute) OutputShape(inputs ...tensor.Shape) ([]tensor.Shape, error) {
	s, err := concatShape(r.name, inputs)
	if err != nil {
		return nil, err
	}
	return []tensor.Shape{s}, nil
}

// Apply records a concat node.
func (r *DarkRoute) Apply(inputs ...*graph.Value) ([]*graph.Value, error) {
	return concat(r.name, inputs)
}

// concat records a channel concatenation of parts.
func concat(name string, parts []*graph.Value) ([]*graph.Value, error) {
	s, err := concatShape(name, shapesOf(parts))
	if err != nil {
		return nil, err
	}
	return record(&graph.Node{
		Op:     graph.OpConcat,
		Name:   name,
		Inputs: append([]*graph.Value(nil), parts...),
	}, s)
}

// concatShape sums channels; batch and spatial dims must agree where known.
func concatShape(name string, inputs []tensor.Shape) (tensor.Shape, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%s: %w: want at least 1, got 0", name, ErrInputCount)
	}
	out := inputs[0].Clone()
	if len(out) != 4 {
		return nil, fmt.Errorf("%s: %w: want NHWC, got %v", name, ErrShape, out)
	}
	for _, in := range inputs[1:] {
		if len(in) != 4 {
			return nil, fmt.Errorf("%s: %w: want NHWC, got %v", name, ErrShape, in)
		}
		for axis := 0; axis < 3; axis++ {
			switch {
			case out[axis] == tensor.Dynamic:
				out[axis] = in[axis]
			case in[axis] == tensor.Dynamic || in[axis] == out[axis]:
			default:
				return nil, fmt.Errorf("%s: %w: cannot concatenate %v and %v", name, ErrShape, inputs[0], in)
			}
		}
		if out[3] == tensor.Dynamic || in[3] == tensor.Dynamic {
			out[3] = tensor.Dynamic
		} else {
			out[3] += in[3]
		}
	}
	return out, nil
}

// add records an element-wise shortcut sum of a and b.
func add(name string, a, b *graph.Value) ([]*graph.Value, error) {
	as, bs := a.Shape(), b.Shape()
	if !as.Compatible(bs) {
		return nil, fmt.Errorf("%s: %w: cannot add %v and %v", name, ErrShape, as, bs)
	}
	out := as.Clone()
	for i := range out {
		if out[i] == tensor.Dynamic {
			out[i] = bs[i]
		}
	}
	return record(&graph.Node{
		Op:         graph.OpAdd,
		Name:       name,
		Inputs:     []*graph.Value{a, b},
		Activation: "linear",
	}, out)
}

// split records a channel split keeping the second of two groups.
func split(name string, x *graph.Value) ([]*graph.Value, error) {
	s := x.Shape()
	c := s[3]
	if c != tensor.Dynamic && c%2 != 0 {
		return nil, fmt.Errorf("%s: %w: cannot split %d channels in two groups", name, ErrShape, c)
	}
	if c != tensor.Dynamic {
		s[3] = c / 2
	}
	return record(&graph.Node{
		Op:     graph.OpSplit,
		Name:   name,
		Inputs: []*graph.Value{x},
		Attrs:  map[string]int{"groups": 2, "group_id": 1},
	}, s)
}

// Yolo marks a detection output. It forwards its input; decoding boxes
// from it is left to the caller.
type Yolo struct {
	name string
}

// NewYolo creates a detection marker.
func NewYolo(cfg BlockConfig) *Yolo {
	return &Yolo{name: cfg.Name}
}

// Name returns the block name.
func (y *Yolo) Name() string { return y.name }

// OutputShape returns the input shape.
func (y *Yolo) OutputShape(inputs ...tensor.Shape) ([]tensor.Shape, error) {
	in, err := oneShape(y.name, inputs)
	if err != nil {
		return nil, err
	}
	return []tensor.Shape{in.Clone()}, nil
}

// Apply records a detect node.
func (y *Yolo) Apply(inputs ...*graph.Value) ([]*graph.Value, error) {
	x, err := one(y.name, inputs)
	if err != nil {
		return nil, err
	}
	shapes, err := y.OutputShape(x.Shape())
	if err != nil {
		return nil, err
	}
	return record(&graph.Node{
		Op:     graph.OpDetect,
		Name:   y.name,
		Inputs: []*graph.Value{x},
	}, shapes...)
}
