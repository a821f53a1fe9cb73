package loader

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/born-ml/yolo/internal/darknet"
	"github.com/born-ml/yolo/internal/graph"
	"github.com/born-ml/yolo/internal/tensor"
)

// Importer assigns weight segments to graph layers.
type Importer struct {
	logger   *slog.Logger
	mappings []Mapping
}

// NewImporter creates an importer; a nil logger means slog.Default().
func NewImporter(logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{logger: logger}
}

// Mappings returns every layer assigned so far, in order.
func (im *Importer) Mappings() []Mapping {
	return append([]Mapping(nil), im.mappings...)
}

// Assign walks subset's layers in recorded order and consumes one block
// per parameter, in the order the layer lists its parameters. Each block
// must carry the parameter's role and element count; kernels are
// converted from [out, in, kh, kw] to [kh, kw, in, out].
//
// A layer is written only after all its blocks validated. The returned
// count is the number of layers written, also on error.
func (im *Importer) Assign(subset graph.LayerSet, segment []darknet.Block) (int, error) {
	layers := subset.Layers()
	cursor := 0
	assigned := 0

	for i, layer := range layers {
		params := layer.Parameters()
		if len(params) == 0 {
			continue
		}
		if need := cursor + len(params); need > len(segment) {
			err := &ImportError{
				Layer:    i,
				Name:     layer.Name(),
				Role:     params[len(segment)-cursor].Role(),
				Block:    len(segment),
				Expected: fmt.Sprintf("%d blocks", len(params)),
				Got:      fmt.Sprintf("%d remaining", len(segment)-cursor),
				Err:      ErrSegmentExhausted,
			}
			return assigned, err
		}

		staged := make([]*tensor.RawTensor, len(params))
		values := 0
		for j, p := range params {
			t, err := stage(p, segment[cursor+j])
			if err != nil {
				var ie *ImportError
				if errors.As(err, &ie) {
					ie.Layer, ie.Name, ie.Block = i, layer.Name(), cursor+j
				}
				return assigned, err
			}
			staged[j] = t
			values += t.NumElements()
		}

		for j, p := range params {
			if err := p.Set(staged[j]); err != nil {
				return assigned, err
			}
		}
		m := Mapping{Source: segment[cursor].Layer, Layer: layer.Name(), Blocks: len(params), Values: values}
		im.mappings = append(im.mappings, m)
		im.logger.Debug("assigned layer",
			"layer", m.Layer,
			"source", m.Source,
			"blocks", m.Blocks,
			"values", m.Values)

		cursor += len(params)
		assigned++
	}

	if cursor < len(segment) {
		return assigned, &ImportError{
			Layer: -1,
			Block: cursor,
			Got:   fmt.Sprintf("%d unconsumed blocks", len(segment)-cursor),
			Err:   ErrUnconsumedBlocks,
		}
	}
	im.logger.Info("assigned weight segment", "layers", assigned, "blocks", cursor)
	return assigned, nil
}

// Assign assigns segment to subset with a default importer.
func Assign(subset graph.LayerSet, segment []darknet.Block) (int, error) {
	return NewImporter(nil).Assign(subset, segment)
}

// stage checks b against p and returns the tensor to write.
func stage(p *graph.Parameter, b darknet.Block) (*tensor.RawTensor, error) {
	mismatch := func(expected, got string) error {
		return &ImportError{Role: p.Role(), Expected: expected, Got: got, Err: ErrShapeMismatch}
	}
	if b.Role != p.Role() {
		return nil, mismatch(p.Role().String(), b.Role.String())
	}
	want := p.Shape()
	if n := b.Shape.NumElements(); n != want.NumElements() || n != len(b.Data) {
		return nil, mismatch(
			fmt.Sprintf("%v (%d values)", want, want.NumElements()),
			fmt.Sprintf("%v (%d values)", b.Shape, len(b.Data)))
	}

	t, err := tensor.FromSlice(b.Data, b.Shape)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Name(), err)
	}
	if p.Role() == graph.RoleKernel {
		if len(b.Shape) != 4 {
			return nil, mismatch(want.String(), b.Shape.String())
		}
		if t, err = DarknetToHWIO(t); err != nil {
			return nil, err
		}
		if !t.Shape().Equal(want) {
			return nil, mismatch(want.String(), fmt.Sprintf("%v as %v", b.Shape, t.Shape()))
		}
		return t, nil
	}
	return t.Reshape(want)
}

// Collect is the inverse of Assign: it returns the blocks of subset in
// stream order. Block.Layer is the ordinal of the layer in subset.
func Collect(subset graph.LayerSet) ([]darknet.Block, error) {
	var out []darknet.Block
	for i, layer := range subset.Layers() {
		for _, p := range layer.Parameters() {
			t := p.Tensor()
			if p.Role() == graph.RoleKernel {
				var err error
				if t, err = HWIOToDarknet(t); err != nil {
					return nil, fmt.Errorf("%s: %w", p.Name(), err)
				}
			} else {
				t = t.Clone()
			}
			out = append(out, darknet.Block{Layer: i, Role: p.Role(), Shape: t.Shape(), Data: t.Data()})
		}
	}
	return out, nil
}
