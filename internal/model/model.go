package model

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/born-ml/yolo/internal/backbone"
	"github.com/born-ml/yolo/internal/graph"
	"github.com/born-ml/yolo/internal/nn"
	"github.com/born-ml/yolo/internal/specs"
	"github.com/born-ml/yolo/internal/tensor"
)

// Options configures New.
type Options struct {
	// Input overrides the variant's NHWC input shape.
	Input tensor.Shape
	// Catalog supplies the tables; nil means the built-in tables.
	Catalog *specs.Catalog
	// Registry supplies block constructors; nil means nn.NewRegistry().
	Registry *nn.Registry
	// Logger receives progress; nil means slog.Default().
	Logger *slog.Logger
	// Rand seeds kernel initialization; nil leaves kernels zeroed.
	Rand *rand.Rand
}

// Model is a built YOLO graph with its stages.
type Model struct {
	variant  Variant
	graph    *graph.Graph
	backbone *graph.Stage
	neck     *graph.Stage // nil when the variant has no neck
	head     *graph.Stage
	logger   *slog.Logger
}

// New builds the variant's backbone, neck and head into one graph.
func New(v Variant, opts Options) (*Model, error) {
	v = v.Clone()
	if err := v.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	catalog := opts.Catalog
	if catalog == nil {
		var err error
		if catalog, err = specs.Builtin(); err != nil {
			return nil, err
		}
	}
	input := v.Input
	if opts.Input != nil {
		input = opts.Input.Clone()
	}
	v.Input = input

	b := backbone.New(backbone.Options{Registry: opts.Registry, Logger: logger, Rand: opts.Rand})
	m := &Model{variant: v, logger: logger}

	bt, err := catalog.Load(v.Backbone)
	if err != nil {
		return nil, err
	}
	g, endpoints, err := b.Build(bt, input)
	if err != nil {
		return nil, err
	}
	m.graph = g
	m.backbone, _ = g.Stage(bt.Name())

	feed, err := pick(endpoints, v.BackboneOutputs, "backbone")
	if err != nil {
		return nil, err
	}
	if v.Neck != "" {
		nt, err := catalog.Load(v.Neck)
		if err != nil {
			return nil, err
		}
		if m.neck, err = b.Extend(g, "neck", nt, feed...); err != nil {
			return nil, err
		}
		if feed, err = pick(m.neck.Endpoints(), v.NeckOutputs, "neck"); err != nil {
			return nil, err
		}
	}

	ht, err := catalog.Load(v.Head)
	if err != nil {
		return nil, err
	}
	if m.head, err = b.Extend(g, "head", ht, feed...); err != nil {
		return nil, err
	}
	for _, l := range v.Levels {
		if _, ok := m.head.Endpoints().Get(l.Endpoint); !ok {
			return nil, fmt.Errorf("variant %s: head has no endpoint %q", v.Name, l.Endpoint)
		}
	}

	logger.Info("built model",
		"variant", v.Name,
		"graph", g.ID().String(),
		"layers", len(g.Layers()),
		"parameters", g.ParameterCount())
	return m, nil
}

// NewVariant looks up a built-in variant and builds it.
func NewVariant(name string, opts Options) (*Model, error) {
	v, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return New(v, opts)
}

func pick(e *graph.Endpoints, names []string, stage string) ([]*graph.Value, error) {
	out := make([]*graph.Value, len(names))
	for i, n := range names {
		v, ok := e.Get(n)
		if !ok {
			return nil, fmt.Errorf("%s has no endpoint %q (have %v)", stage, n, e.Names())
		}
		out[i] = v
	}
	return out, nil
}

// Variant returns a copy of the model's variant.
func (m *Model) Variant() Variant { return m.variant.Clone() }

// Graph returns the model graph.
func (m *Model) Graph() *graph.Graph { return m.graph }

// Backbone returns the backbone stage.
func (m *Model) Backbone() *graph.Stage { return m.backbone }

// Neck returns the neck stage, nil when the variant has none.
func (m *Model) Neck() *graph.Stage { return m.neck }

// Head returns the head stage.
func (m *Model) Head() *graph.Stage { return m.head }

// Outputs returns the detection outputs in level order.
func (m *Model) Outputs() []*graph.Value {
	out := make([]*graph.Value, len(m.variant.Levels))
	for i, l := range m.variant.Levels {
		out[i], _ = m.head.Endpoints().Get(l.Endpoint)
	}
	return out
}

// noLayers stands in for an absent neck.
type noLayers struct{}

func (noLayers) Layers() []graph.Layer { return nil }

func (m *Model) neckLayers() graph.LayerSet {
	if m.neck == nil {
		return noLayers{}
	}
	return m.neck
}
