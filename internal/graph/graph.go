// Package graph holds the symbolic computation graph produced by the
// backbone builder.
//
// A Graph owns its values and nodes. Nodes are appended in construction
// order and may only consume values that already exist, so every graph is
// acyclic by construction. Learnable layers are recorded separately, in the
// order they were created; that record is what weight importers walk.
package graph

import (
	"errors"
	"fmt"

	"github.com/born-ml/yolo/internal/tensor"
	"github.com/google/uuid"
)

// Errors returned by graph construction.
var (
	ErrForeignValue   = errors.New("value belongs to a different graph")
	ErrDuplicateLayer = errors.New("duplicate layer name")
	ErrStageOpen      = errors.New("a stage is already open")
	ErrStageClosed    = errors.New("no stage is open")
)

// Value is a symbolic tensor flowing between nodes.
type Value struct {
	id       int
	shape    tensor.Shape
	producer *Node // nil for graph inputs
	graph    *Graph
}

// ID returns the value's position in the graph.
func (v *Value) ID() int {
	return v.id
}

// Shape returns a copy of the value shape (NHWC).
func (v *Value) Shape() tensor.Shape {
	return v.shape.Clone()
}

// Channels returns the size of the last dimension.
func (v *Value) Channels() int {
	return v.shape[len(v.shape)-1]
}

// Producer returns the node that produced v, or nil for graph inputs.
func (v *Value) Producer() *Node {
	return v.producer
}

// Graph returns the graph v belongs to.
func (v *Value) Graph() *Graph {
	return v.graph
}

// Node is one recorded operation.
type Node struct {
	Index      int            // Position in Graph.Nodes
	Op         string         // Operation kind, see Op* constants
	Name       string         // Unique, human readable name
	Inputs     []*Value       // Consumed values, in operand order
	Outputs    []*Value       // Produced values
	Attrs      map[string]int // Integer attributes (size, stride, filters, ...)
	Activation string         // Activation applied after the op, if any
	Layer      Layer          // Learnable state, nil for parameter-free ops
}

// Operation kinds recorded by the standard blocks.
const (
	OpConv     = "conv"
	OpMaxPool  = "maxpool"
	OpUpsample = "upsample"
	OpConcat   = "concat"
	OpAdd      = "add"
	OpSplit    = "split"
	OpDetect   = "detect"
)

// Graph is a symbolic DAG of nodes with a record of learnable layers.
type Graph struct {
	id     uuid.UUID
	name   string
	inputs []*Value
	values []*Value
	nodes  []*Node
	layers []Layer
	names  map[string]struct{}
	stages []*Stage
	open   *Stage
}

// New creates an empty graph.
func New(name string) *Graph {
	return &Graph{
		id:    uuid.New(),
		name:  name,
		names: make(map[string]struct{}),
	}
}

// ID returns the graph identity.
func (g *Graph) ID() uuid.UUID {
	return g.id
}

// Name returns the graph name.
func (g *Graph) Name() string {
	return g.name
}

// AddInput declares a new graph input.
func (g *Graph) AddInput(shape tensor.Shape) (*Value, error) {
	if err := shape.ValidateSymbolic(); err != nil {
		return nil, fmt.Errorf("graph input: %w", err)
	}
	v := g.newValue(shape, nil)
	g.inputs = append(g.inputs, v)
	return v, nil
}

// AddNode appends a node consuming inputs and producing one value per
// output shape.
func (g *Graph) AddNode(n *Node, outShapes ...tensor.Shape) ([]*Value, error) {
	for _, in := range n.Inputs {
		if in == nil || in.graph != g {
			return nil, fmt.Errorf("node %s: %w", n.Name, ErrForeignValue)
		}
	}
	fresh, err := g.checkLayer(n.Layer)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", n.Name, err)
	}
	n.Index = len(g.nodes)
	n.Outputs = make([]*Value, len(outShapes))
	for i, s := range outShapes {
		n.Outputs[i] = g.newValue(s, n)
	}
	g.nodes = append(g.nodes, n)
	if fresh {
		g.names[n.Layer.Name()] = struct{}{}
		g.layers = append(g.layers, n.Layer)
	}
	return n.Outputs, nil
}

// checkLayer reports whether l is new to the graph.
func (g *Graph) checkLayer(l Layer) (bool, error) {
	if l == nil {
		return false, nil
	}
	for _, known := range g.layers {
		if known == l {
			return false, nil // shared layer applied again
		}
	}
	if _, dup := g.names[l.Name()]; dup {
		return false, fmt.Errorf("%w: %s", ErrDuplicateLayer, l.Name())
	}
	return true, nil
}

func (g *Graph) newValue(shape tensor.Shape, producer *Node) *Value {
	v := &Value{
		id:       len(g.values),
		shape:    shape.Clone(),
		producer: producer,
		graph:    g,
	}
	g.values = append(g.values, v)
	return v
}

// Inputs returns the graph inputs in declaration order.
func (g *Graph) Inputs() []*Value {
	return append([]*Value(nil), g.inputs...)
}

// Nodes returns all nodes in construction order.
func (g *Graph) Nodes() []*Node {
	return append([]*Node(nil), g.nodes...)
}

// Layers returns the learnable layers in the order they were created.
func (g *Graph) Layers() []Layer {
	return append([]Layer(nil), g.layers...)
}

// Parameters returns every parameter of every layer, in layer order.
func (g *Graph) Parameters() []*Parameter {
	var params []*Parameter
	for _, l := range g.layers {
		params = append(params, l.Parameters()...)
	}
	return params
}

// ParameterCount returns the total number of parameter elements.
func (g *Graph) ParameterCount() int {
	n := 0
	for _, p := range g.Parameters() {
		n += p.Tensor().NumElements()
	}
	return n
}
