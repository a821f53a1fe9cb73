// Package specs defines the declarative layer-spec records the backbone
// builder consumes and the catalog of named model tables.
//
// Tables are immutable once loaded: every accessor hands out copies.
package specs

import (
	"fmt"
	"strconv"
	"strings"
)

// StackMode selects how the builder expands a single spec record.
type StackMode int

// Stack modes.
const (
	StackNone StackMode = iota
	StackResidual
	StackCSP
	StackCSPTiny
)

// String returns the textual stack mode used in table files.
func (m StackMode) String() string {
	switch m {
	case StackNone:
		return "none"
	case StackResidual:
		return "residual"
	case StackCSP:
		return "csp"
	case StackCSPTiny:
		return "csp_tiny"
	default:
		return fmt.Sprintf("stack(%d)", int(m))
	}
}

// ParseStackMode parses a stack mode; the empty string means none.
func ParseStackMode(s string) (StackMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return StackNone, nil
	case "residual":
		return StackResidual, nil
	case "csp":
		return StackCSP, nil
	case "csp_tiny":
		return StackCSPTiny, nil
	default:
		return 0, fmt.Errorf("unknown stack mode %q", s)
	}
}

// Padding is the spatial padding policy of convolutions and pools.
type Padding string

// Padding policies.
const (
	PaddingSame  Padding = "same"
	PaddingValid Padding = "valid"
)

// Branch selects which output of a spec a route refers to.
type Branch int

// Branches.
const (
	// BranchMain is the output pushed onto the stack.
	BranchMain Branch = iota
	// BranchRoute is the secondary output a csp_tiny stack keeps aside.
	BranchRoute
)

// RouteRef references one stack output. Negative indices count back from
// the newest output (-1 is the previous output).
type RouteRef struct {
	Index  int
	Branch Branch
}

// String renders the reference in table syntax ("4", "-1", "5:route").
func (r RouteRef) String() string {
	if r.Branch == BranchRoute {
		return strconv.Itoa(r.Index) + ":route"
	}
	return strconv.Itoa(r.Index)
}

// ParseRouteRef parses "<index>" or "<index>:route".
func ParseRouteRef(s string) (RouteRef, error) {
	idx, branch, hasBranch := strings.Cut(strings.TrimSpace(s), ":")
	i, err := strconv.Atoi(strings.TrimSpace(idx))
	if err != nil {
		return RouteRef{}, fmt.Errorf("route %q: %w", s, err)
	}
	ref := RouteRef{Index: i}
	if hasBranch {
		switch strings.TrimSpace(branch) {
		case "route":
			ref.Branch = BranchRoute
		case "main":
		default:
			return RouteRef{}, fmt.Errorf("route %q: unknown branch %q", s, branch)
		}
	}
	return ref, nil
}

// Route is either a single reference or a list of references.
type Route struct {
	refs []RouteRef
	list bool
}

// Single returns a route to one stack output.
func Single(index int) Route {
	return Route{refs: []RouteRef{{Index: index}}}
}

// List returns a multi-input route.
func List(refs ...RouteRef) Route {
	return Route{refs: append([]RouteRef(nil), refs...), list: true}
}

// Previous is the default route: the newest stack output.
func Previous() Route {
	return Single(-1)
}

// Refs returns a copy of the referenced outputs.
func (r Route) Refs() []RouteRef {
	return append([]RouteRef(nil), r.refs...)
}

// IsList reports whether the route was written as a list.
func (r Route) IsList() bool {
	return r.list
}

// IsZero reports whether the route is unset.
func (r Route) IsZero() bool {
	return len(r.refs) == 0
}

// String renders the route in table syntax.
func (r Route) String() string {
	parts := make([]string, len(r.refs))
	for i, ref := range r.refs {
		parts[i] = ref.String()
	}
	if r.list {
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return strings.Join(parts, "")
}

// Optional holds a value that may be absent.
type Optional[T any] struct {
	value T
	ok    bool
}

// Some wraps a present value.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, ok: true}
}

// None returns an absent value.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.ok
}

// IsSet reports whether the value is present.
func (o Optional[T]) IsSet() bool {
	return o.ok
}

// OrElse returns the value or def when absent.
func (o Optional[T]) OrElse(def T) T {
	if o.ok {
		return o.value
	}
	return def
}

// LayerSpec is one record of a model table.
type LayerSpec struct {
	Kind        string           // Registered block kind (DarkConv, DarkRes, ...)
	Route       Route            // Source(s) on the stack
	Stack       StackMode        // Expansion mode
	Filters     int              // Output channels
	KernelSize  Optional[int]    // Kernel or pool size, for kinds that take one
	Strides     int              // Spatial stride
	Padding     Padding          // same or valid
	Repetitions int              // Times the block is repeated
	Activation  string           // Activation after each convolution
	Bottleneck  bool             // csp: bottleneck filter scaling
	Norm        bool             // Batch normalization after convolutions
	OutputName  Optional[string] // Endpoint name
}

// clone deep-copies the route slice.
func (s LayerSpec) clone() LayerSpec {
	s.Route = Route{refs: s.Route.Refs(), list: s.Route.list}
	return s
}

// Validate checks the record for values no block can accept.
func (s LayerSpec) Validate() error {
	switch {
	case strings.TrimSpace(s.Kind) == "":
		return fieldError("kind", "must not be empty")
	case s.Route.IsZero():
		return fieldError("route", "must reference at least one output")
	case s.Filters < 0:
		return fieldError("filters", fmt.Sprintf("must not be negative, got %d", s.Filters))
	case s.Strides < 1:
		return fieldError("strides", fmt.Sprintf("must be >= 1, got %d", s.Strides))
	case s.Repetitions < 1:
		return fieldError("repetitions", fmt.Sprintf("must be >= 1, got %d", s.Repetitions))
	case s.Padding != PaddingSame && s.Padding != PaddingValid:
		return fieldError("padding", fmt.Sprintf("must be same or valid, got %q", s.Padding))
	case strings.TrimSpace(s.Activation) == "":
		return fieldError("activation", "must not be empty")
	}
	if k, ok := s.KernelSize.Get(); ok && k < 1 {
		return fieldError("kernel_size", fmt.Sprintf("must be >= 1, got %d", k))
	}
	if name, ok := s.OutputName.Get(); ok && strings.TrimSpace(name) == "" {
		return fieldError("output_name", "must not be blank when set")
	}
	if s.Stack != StackNone && s.Filters == 0 {
		return fieldError("filters", "stacked blocks need filters")
	}
	if s.Stack != StackNone && s.Route.IsList() {
		return fieldError("route", "stacked blocks take a single input")
	}
	return nil
}
