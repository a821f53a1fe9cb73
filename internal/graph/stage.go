package graph

import "fmt"

// Edge is a resolved routing reference inside a stage: the spec producing
// stack output To consumed stack output From.
type Edge struct {
	From int
	To   int
}

// Stage is a named, contiguous slice of a graph built from one spec table
// (a backbone, a neck, a head).
type Stage struct {
	name       string
	graph      *Graph
	firstLayer int
	lastLayer  int // exclusive, valid once closed
	firstNode  int
	lastNode   int // exclusive, valid once closed
	firstValue int
	closed     bool

	outputs   []*Value
	edges     []Edge
	endpoints *Endpoints
}

// BeginStage opens a new stage. Layers and nodes added until End belong
// to it.
func (g *Graph) BeginStage(name string) (*Stage, error) {
	if g.open != nil {
		return nil, fmt.Errorf("begin %q: %w (%q)", name, ErrStageOpen, g.open.name)
	}
	s := &Stage{
		name:       name,
		graph:      g,
		firstLayer: len(g.layers),
		firstNode:  len(g.nodes),
		firstValue: len(g.values),
		endpoints:  NewEndpoints(),
	}
	g.open = s
	return s, nil
}

// End closes the stage and records it on the graph.
func (s *Stage) End() error {
	if s.graph.open != s {
		return fmt.Errorf("end %q: %w", s.name, ErrStageClosed)
	}
	s.lastLayer = len(s.graph.layers)
	s.lastNode = len(s.graph.nodes)
	s.closed = true
	s.graph.open = nil
	s.graph.stages = append(s.graph.stages, s)
	return nil
}

// Abort closes an open stage without recording it and rolls the graph
// back to where BeginStage found it: the nodes, values and layers added
// since are dropped and their layer names become free again.
func (s *Stage) Abort() {
	g := s.graph
	if g.open != s {
		return
	}
	for _, l := range g.layers[s.firstLayer:] {
		delete(g.names, l.Name())
	}
	for len(g.inputs) > 0 && g.inputs[len(g.inputs)-1].id >= s.firstValue {
		g.inputs = g.inputs[:len(g.inputs)-1]
	}
	clear(g.layers[s.firstLayer:])
	clear(g.nodes[s.firstNode:])
	clear(g.values[s.firstValue:])
	g.layers = g.layers[:s.firstLayer]
	g.nodes = g.nodes[:s.firstNode]
	g.values = g.values[:s.firstValue]
	s.outputs = nil
	s.edges = nil
	s.endpoints = NewEndpoints()
	g.open = nil
}

// Name returns the stage name.
func (s *Stage) Name() string {
	return s.name
}

// Graph returns the owning graph.
func (s *Stage) Graph() *Graph {
	return s.graph
}

// Layers returns the learnable layers created while the stage was open,
// in creation order.
func (s *Stage) Layers() []Layer {
	end := s.lastLayer
	if !s.closed {
		end = len(s.graph.layers)
	}
	return append([]Layer(nil), s.graph.layers[s.firstLayer:end]...)
}

// Nodes returns the nodes created while the stage was open.
func (s *Stage) Nodes() []*Node {
	end := s.lastNode
	if !s.closed {
		end = len(s.graph.nodes)
	}
	return append([]*Node(nil), s.graph.nodes[s.firstNode:end]...)
}

// Push appends a stack output.
func (s *Stage) Push(v *Value) {
	s.outputs = append(s.outputs, v)
}

// Outputs returns the stack outputs: the stage inputs followed by one
// output per spec.
func (s *Stage) Outputs() []*Value {
	return append([]*Value(nil), s.outputs...)
}

// AddEdge records a resolved route.
func (s *Stage) AddEdge(from, to int) {
	s.edges = append(s.edges, Edge{From: from, To: to})
}

// Edges returns the resolved routes in build order.
func (s *Stage) Edges() []Edge {
	return append([]Edge(nil), s.edges...)
}

// Endpoints returns the named outputs of the stage.
func (s *Stage) Endpoints() *Endpoints {
	return s.endpoints
}

// Stage returns the closed stage with the given name.
func (g *Graph) Stage(name string) (*Stage, bool) {
	for _, s := range g.stages {
		if s.name == name {
			return s, true
		}
	}
	return nil, false
}

// Stages returns the closed stages in build order.
func (g *Graph) Stages() []*Stage {
	return append([]*Stage(nil), g.stages...)
}
