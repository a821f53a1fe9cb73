// Package backbone assembles graphs from layer-spec tables.
//
// The builder keeps an append-only list of stack outputs. Position 0..k-1
// hold the stage inputs; spec i appends exactly one output at position
// k+i. Routes may only name positions that already exist, so the graph is
// acyclic by construction.
package backbone

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/born-ml/yolo/internal/graph"
	"github.com/born-ml/yolo/internal/nn"
	"github.com/born-ml/yolo/internal/specs"
	"github.com/born-ml/yolo/internal/tensor"
)

// RouteSuffix names the endpoint holding the secondary output of a
// csp_tiny spec: a spec with output name "4" also records "4:route".
const RouteSuffix = ":route"

// Options configures a Builder.
type Options struct {
	// Registry supplies block constructors; nil means nn.NewRegistry().
	Registry *nn.Registry
	// Logger receives build progress; nil means slog.Default().
	Logger *slog.Logger
	// Rand seeds kernel initialization; nil leaves kernels zeroed.
	Rand *rand.Rand
}

// Builder turns spec tables into graph stages.
type Builder struct {
	registry *nn.Registry
	logger   *slog.Logger
	rnd      *rand.Rand
}

// New creates a builder.
func New(opts Options) *Builder {
	b := &Builder{registry: opts.Registry, logger: opts.Logger, rnd: opts.Rand}
	if b.registry == nil {
		b.registry = nn.NewRegistry()
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Build creates a graph with one input of the given NHWC shape and builds
// table on it.
func (b *Builder) Build(table *specs.Table, input tensor.Shape) (*graph.Graph, *graph.Endpoints, error) {
	g := graph.New(table.Name())
	in, err := g.AddInput(input)
	if err != nil {
		return nil, nil, err
	}
	stage, err := b.Extend(g, table.Name(), table, in)
	if err != nil {
		return nil, nil, err
	}
	return g, stage.Endpoints(), nil
}

// Extend builds table onto an existing graph as a named stage. inputs
// occupy stack positions 0..len(inputs)-1.
func (b *Builder) Extend(g *graph.Graph, name string, table *specs.Table, inputs ...*graph.Value) (*graph.Stage, error) {
	if len(inputs) != table.Inputs() {
		return nil, fmt.Errorf("stage %s: %w: table %s wants %d, got %d",
			name, ErrStageInputs, table.Name(), table.Inputs(), len(inputs))
	}
	stage, err := g.BeginStage(name)
	if err != nil {
		return nil, err
	}

	st := &state{
		stage: stage,
		aux:   make(map[int]*graph.Value),
	}
	for _, in := range inputs {
		stage.Push(in)
	}

	for i, spec := range table.Specs() {
		if err := b.buildSpec(st, name, i, spec); err != nil {
			stage.Abort()
			return nil, &BuildError{Table: table.Name(), Index: i, Kind: spec.Kind, Err: err}
		}
	}
	if err := stage.End(); err != nil {
		return nil, err
	}

	b.logger.Info("built stage",
		"stage", name,
		"table", table.Name(),
		"specs", table.Len(),
		"layers", len(stage.Layers()),
		"endpoints", stage.Endpoints().Names())
	return stage, nil
}

// state is the per-stage bookkeeping: the stage holds the stack outputs,
// aux the secondary outputs of csp_tiny specs by stack position.
type state struct {
	stage *graph.Stage
	aux   map[int]*graph.Value
}

func (b *Builder) buildSpec(st *state, stageName string, i int, spec specs.LayerSpec) error {
	if _, ok := b.registry.Lookup(spec.Kind, spec.Stack); !ok {
		return fmt.Errorf("%w: %q with stack %s", nn.ErrUnknownLayerKind, spec.Kind, spec.Stack)
	}

	position := len(st.stage.Outputs())
	srcs, err := st.resolve(spec.Route, position)
	if err != nil {
		return err
	}

	name := fmt.Sprintf("%s/%s_%d", stageName, spec.Kind, i)
	cfg := nn.BlockConfig{
		Name:       name,
		Filters:    spec.Filters,
		KernelSize: spec.KernelSize.OrElse(0),
		Strides:    spec.Strides,
		Padding:    spec.Padding,
		Activation: spec.Activation,
		Norm:       spec.Norm,
		Rand:       b.rnd,
	}

	var main, route *graph.Value
	switch spec.Stack {
	case specs.StackNone:
		main, err = b.plain(spec, cfg, srcs)
	case specs.StackResidual:
		main, err = b.residual(spec, cfg, srcs)
	case specs.StackCSP:
		main, err = b.csp(spec, cfg, srcs)
	case specs.StackCSPTiny:
		main, route, err = b.cspTiny(spec, cfg, srcs)
	default:
		err = fmt.Errorf("%w: stack %s", nn.ErrUnknownLayerKind, spec.Stack)
	}
	if err != nil {
		return err
	}

	st.stage.Push(main)
	if route != nil {
		st.aux[position] = route
	}
	if out, ok := spec.OutputName.Get(); ok {
		st.stage.Endpoints().Set(out, main)
		if route != nil {
			st.stage.Endpoints().Set(out+RouteSuffix, route)
		}
	}

	b.logger.Debug("built spec",
		"stage", stageName,
		"index", i,
		"kind", spec.Kind,
		"stack", spec.Stack.String(),
		"route", spec.Route.String(),
		"shape", main.Shape().String())
	return nil
}

// resolve maps route references to values and records the edges.
func (st *state) resolve(route specs.Route, position int) ([]*graph.Value, error) {
	outputs := st.stage.Outputs()
	refs := route.Refs()
	values := make([]*graph.Value, len(refs))
	for j, ref := range refs {
		idx := ref.Index
		if idx < 0 {
			idx += len(outputs)
		}
		if idx < 0 || idx >= len(outputs) {
			return nil, fmt.Errorf("%w: %s out of range [0, %d)", ErrInvalidRoute, ref, len(outputs))
		}
		v := outputs[idx]
		if ref.Branch == specs.BranchRoute {
			aux, ok := st.aux[idx]
			if !ok {
				return nil, fmt.Errorf("%w: %s has no route output", ErrInvalidRoute, ref)
			}
			v = aux
		}
		values[j] = v
		st.stage.AddEdge(idx, position)
	}
	return values, nil
}

// plain applies a single-mode block Repetitions times, chaining.
func (b *Builder) plain(spec specs.LayerSpec, cfg nn.BlockConfig, srcs []*graph.Value) (*graph.Value, error) {
	xs := srcs
	for r := 0; r < spec.Repetitions; r++ {
		c := cfg
		if spec.Repetitions > 1 {
			c.Name = fmt.Sprintf("%s_%d", cfg.Name, r)
		}
		t, err := b.registry.New(spec.Kind, specs.StackNone, c)
		if err != nil {
			return nil, err
		}
		if xs, err = t.Apply(xs...); err != nil {
			return nil, err
		}
	}
	return xs[0], nil
}

// residual applies one downsampling residual unit and Repetitions-1 plain
// ones.
func (b *Builder) residual(spec specs.LayerSpec, cfg nn.BlockConfig, srcs []*graph.Value) (*graph.Value, error) {
	x := srcs[0]
	for r := 0; r < spec.Repetitions; r++ {
		c := cfg
		c.FilterScale = 2
		if r == 0 {
			c.Name = cfg.Name + "/residual_down"
			c.Downsample = true
		} else {
			c.Name = fmt.Sprintf("%s/residual_%d", cfg.Name, r-1)
		}
		t, err := b.registry.New(spec.Kind, specs.StackResidual, c)
		if err != nil {
			return nil, err
		}
		outs, err := t.Apply(x)
		if err != nil {
			return nil, err
		}
		x = outs[0]
	}
	return x, nil
}

// csp wraps Repetitions residual units in a cross-stage-partial stage.
func (b *Builder) csp(spec specs.LayerSpec, cfg nn.BlockConfig, srcs []*graph.Value) (*graph.Value, error) {
	cspReduce, residualReduce, scaleFilters := 2, 1, 2
	if spec.Bottleneck {
		cspReduce, residualReduce, scaleFilters = 1, 2, 1
	}

	dcfg := cfg
	dcfg.Name = cfg.Name + "/csp_down"
	dcfg.FilterScale = cspReduce
	down, err := b.registry.New(nn.KindCSPDown, specs.StackCSP, dcfg)
	if err != nil {
		return nil, err
	}
	mr, err := down.Apply(srcs...)
	if err != nil {
		return nil, err
	}

	x := mr[0]
	for r := 0; r < spec.Repetitions; r++ {
		c := cfg
		c.Name = fmt.Sprintf("%s/residual_%d", cfg.Name, r)
		c.Filters = cfg.Filters / scaleFilters
		c.FilterScale = residualReduce
		t, err := b.registry.New(spec.Kind, specs.StackCSP, c)
		if err != nil {
			return nil, err
		}
		outs, err := t.Apply(x)
		if err != nil {
			return nil, err
		}
		x = outs[0]
	}

	ccfg := cfg
	ccfg.Name = cfg.Name + "/csp_connect"
	ccfg.FilterScale = cspReduce
	connect, err := b.registry.New(nn.KindCSPConnect, specs.StackCSP, ccfg)
	if err != nil {
		return nil, err
	}
	outs, err := connect.Apply(x, mr[1])
	if err != nil {
		return nil, err
	}
	return outs[0], nil
}

// cspTiny applies the split block once and returns (main, route).
func (b *Builder) cspTiny(spec specs.LayerSpec, cfg nn.BlockConfig, srcs []*graph.Value) (*graph.Value, *graph.Value, error) {
	t, err := b.registry.New(spec.Kind, specs.StackCSPTiny, cfg)
	if err != nil {
		return nil, nil, err
	}
	outs, err := t.Apply(srcs...)
	if err != nil {
		return nil, nil, err
	}
	if len(outs) != 2 {
		return nil, nil, fmt.Errorf("%s: %w: csp_tiny block returned %d outputs", cfg.Name, nn.ErrInputCount, len(outs))
	}
	return outs[0], outs[1], nil
}
