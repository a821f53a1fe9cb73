package graph

// Endpoints is an insertion-ordered map from endpoint name to value.
//
// Setting an existing name replaces its value and keeps its original
// position: the last write wins.
type Endpoints struct {
	names  []string
	values map[string]*Value
}

// NewEndpoints creates an empty endpoint map.
func NewEndpoints() *Endpoints {
	return &Endpoints{values: make(map[string]*Value)}
}

// Set records v under name.
func (e *Endpoints) Set(name string, v *Value) {
	if _, ok := e.values[name]; !ok {
		e.names = append(e.names, name)
	}
	e.values[name] = v
}

// Get returns the value recorded under name.
func (e *Endpoints) Get(name string) (*Value, bool) {
	v, ok := e.values[name]
	return v, ok
}

// Names returns endpoint names in insertion order.
func (e *Endpoints) Names() []string {
	return append([]string(nil), e.names...)
}

// Values returns the endpoint values in insertion order.
func (e *Endpoints) Values() []*Value {
	out := make([]*Value, len(e.names))
	for i, n := range e.names {
		out[i] = e.values[n]
	}
	return out
}

// Len returns the number of endpoints.
func (e *Endpoints) Len() int {
	return len(e.names)
}
