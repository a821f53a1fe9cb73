package darknet

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/born-ml/yolo/internal/graph"
)

// YoloMeta describes one [yolo] section.
type YoloMeta struct {
	Mask    []int
	Anchors [][2]int // All anchors of the model, not only the masked ones
	Classes int
}

// ExportOptions configures FromGraph.
type ExportOptions struct {
	// Batch and Subdivisions go to [net]; zero values write 1.
	Batch        int
	Subdivisions int
	// Yolo holds one entry per detect node, in graph order.
	Yolo []YoloMeta
}

// StageEnd is the number of cfg sections, [net] included, emitted once a
// graph stage is complete. It is the split boundary of that stage.
type StageEnd struct {
	Stage    string
	Sections int
}

// Export is the result of FromGraph.
type Export struct {
	Cfg    *Cfg
	Stages []StageEnd
}

// Boundaries returns the section counts of every stage, in order.
func (e *Export) Boundaries() []int {
	out := make([]int, len(e.Stages))
	for i, s := range e.Stages {
		out[i] = s.Sections
	}
	return out
}

// FromGraph translates a single-input graph into a cfg. Nodes become
// sections in construction order; an operand that is not the previous
// section is reached through an inserted [route].
func FromGraph(g *graph.Graph, opts ExportOptions) (*Export, error) {
	inputs := g.Inputs()
	if len(inputs) != 1 {
		return nil, fmt.Errorf("%w: export needs exactly one graph input, got %d", ErrUnsupportedSection, len(inputs))
	}
	in := inputs[0].Shape()
	if len(in) != 4 {
		return nil, fmt.Errorf("%w: export needs an NHWC input, got %v", ErrUnsupportedSection, in)
	}
	for axis := 1; axis < 4; axis++ {
		if in[axis] <= 0 {
			return nil, fmt.Errorf("%w: export needs static spatial dims and channels, got %v", ErrUnsupportedSection, in)
		}
	}

	e := &exporter{
		cfg:   &Cfg{},
		layer: map[int]int{inputs[0].ID(): -1},
		last:  -1,
		opts:  opts,
	}
	e.cfg.Sections = append(e.cfg.Sections, NewSection(SectionNet,
		Option{"batch", itoa(orOne(opts.Batch))},
		Option{"subdivisions", itoa(orOne(opts.Subdivisions))},
		Option{"width", itoa(in[2])},
		Option{"height", itoa(in[1])},
		Option{"channels", itoa(in[3])},
	))

	ends := make(map[int][]string) // last node index -> stages ending there
	for _, s := range g.Stages() {
		nodes := s.Nodes()
		if len(nodes) == 0 {
			continue
		}
		idx := nodes[len(nodes)-1].Index
		ends[idx] = append(ends[idx], s.Name())
	}

	out := &Export{Cfg: e.cfg}
	for _, s := range g.Stages() {
		if len(s.Nodes()) == 0 {
			out.Stages = append(out.Stages, StageEnd{Stage: s.Name()})
		}
	}
	for _, n := range g.Nodes() {
		if err := e.node(n); err != nil {
			return nil, fmt.Errorf("export node %s: %w", n.Name, err)
		}
		for _, name := range ends[n.Index] {
			out.Stages = append(out.Stages, StageEnd{Stage: name, Sections: len(e.cfg.Sections)})
		}
	}
	if e.detect != len(opts.Yolo) {
		return nil, fmt.Errorf("%w: %d yolo entries for %d detect nodes", ErrMalformedCfg, len(opts.Yolo), e.detect)
	}

	sortStages(out.Stages, g.Stages())
	// Stages without nodes inherit the boundary of the stage before them.
	prev := 1
	for i := range out.Stages {
		if out.Stages[i].Sections == 0 {
			out.Stages[i].Sections = prev
		}
		prev = out.Stages[i].Sections
	}
	return out, nil
}

type exporter struct {
	cfg    *Cfg
	layer  map[int]int // value id -> darknet layer index
	last   int         // darknet index of the newest layer
	opts   ExportOptions
	detect int
}

// next is the darknet index of the section about to be emitted.
func (e *exporter) next() int {
	return len(e.cfg.Sections) - 1
}

func (e *exporter) emit(s *CfgSection, outputs []*graph.Value) {
	e.cfg.Sections = append(e.cfg.Sections, s)
	e.last = e.next() - 1
	for _, v := range outputs {
		e.layer[v.ID()] = e.last
	}
}

func (e *exporter) source(v *graph.Value) (int, error) {
	idx, ok := e.layer[v.ID()]
	if !ok {
		return 0, fmt.Errorf("%w: value %d has no section", ErrMalformedCfg, v.ID())
	}
	return idx, nil
}

// rel returns idx relative to the section about to be emitted.
func (e *exporter) rel(idx int) (string, error) {
	if idx < 0 {
		return "", fmt.Errorf("%w: cannot route to the network input", ErrUnsupportedSection)
	}
	return itoa(idx - e.next()), nil
}

// follow makes v the newest layer, inserting a [route] when needed.
func (e *exporter) follow(v *graph.Value) error {
	idx, err := e.source(v)
	if err != nil {
		return err
	}
	if idx == e.last {
		return nil
	}
	r, err := e.rel(idx)
	if err != nil {
		return err
	}
	e.emit(NewSection(SectionRoute, Option{"layers", r}), nil)
	return nil
}

func (e *exporter) node(n *graph.Node) error {
	switch n.Op {
	case graph.OpConv, graph.OpMaxPool, graph.OpUpsample, graph.OpDetect, graph.OpSplit:
		if len(n.Inputs) != 1 {
			return fmt.Errorf("%w: %s with %d inputs", ErrUnsupportedSection, n.Op, len(n.Inputs))
		}
	}

	switch n.Op {
	case graph.OpConv:
		if err := e.follow(n.Inputs[0]); err != nil {
			return err
		}
		e.emit(NewSection(SectionConvolutional,
			Option{"batch_normalize", itoa(n.Attrs["batch_normalize"])},
			Option{"filters", itoa(n.Attrs["filters"])},
			Option{"size", itoa(n.Attrs["size"])},
			Option{"stride", itoa(n.Attrs["stride"])},
			Option{"pad", itoa(n.Attrs["pad"])},
			Option{"activation", n.Activation},
		), n.Outputs)
	case graph.OpMaxPool:
		if err := e.follow(n.Inputs[0]); err != nil {
			return err
		}
		e.emit(NewSection(SectionMaxPool,
			Option{"size", itoa(n.Attrs["size"])},
			Option{"stride", itoa(n.Attrs["stride"])},
		), n.Outputs)
	case graph.OpUpsample:
		if err := e.follow(n.Inputs[0]); err != nil {
			return err
		}
		e.emit(NewSection(SectionUpsample, Option{"stride", itoa(n.Attrs["stride"])}), n.Outputs)
	case graph.OpDetect:
		if e.detect >= len(e.opts.Yolo) {
			return fmt.Errorf("%w: no yolo entry for detect node %d", ErrMalformedCfg, e.detect)
		}
		if err := e.follow(n.Inputs[0]); err != nil {
			return err
		}
		e.emit(yoloSection(e.opts.Yolo[e.detect]), n.Outputs)
		e.detect++
	case graph.OpSplit:
		idx, err := e.source(n.Inputs[0])
		if err != nil {
			return err
		}
		r, err := e.rel(idx)
		if err != nil {
			return err
		}
		e.emit(NewSection(SectionRoute,
			Option{"layers", r},
			Option{"groups", itoa(n.Attrs["groups"])},
			Option{"group_id", itoa(n.Attrs["group_id"])},
		), n.Outputs)
	case graph.OpConcat:
		refs := make([]string, len(n.Inputs))
		for i, v := range n.Inputs {
			idx, err := e.source(v)
			if err != nil {
				return err
			}
			if refs[i], err = e.rel(idx); err != nil {
				return err
			}
		}
		e.emit(NewSection(SectionRoute, Option{"layers", strings.Join(refs, ",")}), n.Outputs)
	case graph.OpAdd:
		if len(n.Inputs) != 2 {
			return fmt.Errorf("%w: add with %d inputs", ErrUnsupportedSection, len(n.Inputs))
		}
		a, b := n.Inputs[0], n.Inputs[1]
		ai, err := e.source(a)
		if err != nil {
			return err
		}
		if ai == e.last {
			a, b = b, a
		} else if err := e.follow(b); err != nil {
			return err
		}
		other, err := e.source(a)
		if err != nil {
			return err
		}
		from, err := e.rel(other)
		if err != nil {
			return err
		}
		e.emit(NewSection(SectionShortcut,
			Option{"from", from},
			Option{"activation", orLinear(n.Activation)},
		), n.Outputs)
	default:
		return fmt.Errorf("%w: op %q", ErrUnsupportedSection, n.Op)
	}
	return nil
}

func yoloSection(m YoloMeta) *CfgSection {
	anchors := make([]string, 0, 2*len(m.Anchors))
	for _, a := range m.Anchors {
		anchors = append(anchors, itoa(a[0]), itoa(a[1]))
	}
	return NewSection(SectionYolo,
		Option{"mask", joinInts(m.Mask)},
		Option{"anchors", strings.Join(anchors, ",")},
		Option{"classes", itoa(m.Classes)},
		Option{"num", itoa(len(m.Anchors))},
	)
}

// sortStages orders ends like the graph's stages.
func sortStages(ends []StageEnd, stages []*graph.Stage) {
	pos := make(map[string]int, len(stages))
	for i, s := range stages {
		pos[s.Name()] = i
	}
	for i := 1; i < len(ends); i++ {
		for j := i; j > 0 && pos[ends[j].Stage] < pos[ends[j-1].Stage]; j-- {
			ends[j], ends[j-1] = ends[j-1], ends[j]
		}
	}
}

func joinInts(xs []int) string {
	s := make([]string, len(xs))
	for i, x := range xs {
		s[i] = itoa(x)
	}
	return strings.Join(s, ",")
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func orOne(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func orLinear(act string) string {
	if act == "" {
		return "linear"
	}
	return act
}
