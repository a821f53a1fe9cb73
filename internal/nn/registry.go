package nn

import (
	"fmt"
	"sort"

	"github.com/born-ml/yolo/internal/specs"
)

// Kinds of the blocks that open and close a csp stack. The builder asks
// the registry for them with StackCSP around the residual units.
const (
	KindCSPDown    = "CSPDown"
	KindCSPConnect = "CSPConnect"
)

// Constructor builds a block from its config.
type Constructor func(cfg BlockConfig) (Transform, error)

type registryKey struct {
	kind string
	mode specs.StackMode
}

// Registry maps (layer kind, stack mode) pairs to block constructors.
//
// For StackNone the constructor builds the block applied Repetitions
// times. For residual and csp it builds the residual unit repeated inside
// the stack; for csp_tiny it builds the whole split block.
type Registry struct {
	ctors map[registryKey]Constructor
}

// NewRegistry creates a registry with all built-in blocks.
func NewRegistry() *Registry {
	r := &Registry{
		ctors: make(map[registryKey]Constructor),
	}

	r.registerPlain()
	r.registerStacked()

	return r
}

// Register adds or replaces a constructor. Kinds are not validated here;
// an unregistered pair fails when a spec asks for it.
func (r *Registry) Register(kind string, mode specs.StackMode, ctor Constructor) {
	r.ctors[registryKey{kind: kind, mode: mode}] = ctor
}

// Lookup returns the constructor for (kind, mode).
func (r *Registry) Lookup(kind string, mode specs.StackMode) (Constructor, bool) {
	c, ok := r.ctors[registryKey{kind: kind, mode: mode}]
	return c, ok
}

// New constructs the block registered for (kind, mode).
func (r *Registry) New(kind string, mode specs.StackMode, cfg BlockConfig) (Transform, error) {
	ctor, ok := r.Lookup(kind, mode)
	if !ok {
		return nil, fmt.Errorf("%w: %q with stack %s", ErrUnknownLayerKind, kind, mode)
	}
	return ctor(cfg.withDefaults())
}

// Kinds returns the registered pairs as "kind/mode", sorted.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.ctors))
	for k := range r.ctors {
		out = append(out, k.kind+"/"+k.mode.String())
	}
	sort.Strings(out)
	return out
}

func (r *Registry) registerPlain() {
	r.Register("DarkConv", specs.StackNone, func(cfg BlockConfig) (Transform, error) {
		return NewDarkConv(cfg)
	})
	r.Register("MaxPool", specs.StackNone, func(cfg BlockConfig) (Transform, error) {
		return NewMaxPool(cfg)
	})
	r.Register("UpSample", specs.StackNone, func(cfg BlockConfig) (Transform, error) {
		return NewUpSample(cfg)
	})
	r.Register("DarkRoute", specs.StackNone, func(cfg BlockConfig) (Transform, error) {
		return NewDarkRoute(cfg), nil
	})
	r.Register("SPP", specs.StackNone, func(cfg BlockConfig) (Transform, error) {
		return NewSPP(cfg), nil
	})
	r.Register("Yolo", specs.StackNone, func(cfg BlockConfig) (Transform, error) {
		return NewYolo(cfg), nil
	})
	r.Register("DarkTiny", specs.StackNone, func(cfg BlockConfig) (Transform, error) {
		return NewDarkTiny(cfg)
	})
}

func (r *Registry) registerStacked() {
	residual := func(cfg BlockConfig) (Transform, error) {
		return NewDarkResidual(cfg)
	}
	r.Register("DarkRes", specs.StackResidual, residual)
	r.Register("DarkRes", specs.StackCSP, residual)
	r.Register(KindCSPDown, specs.StackCSP, func(cfg BlockConfig) (Transform, error) {
		return NewCSPDownSample(cfg)
	})
	r.Register(KindCSPConnect, specs.StackCSP, func(cfg BlockConfig) (Transform, error) {
		return NewCSPConnect(cfg)
	})
	r.Register("CSPTiny", specs.StackCSPTiny, func(cfg BlockConfig) (Transform, error) {
		return NewCSPTiny(cfg)
	})
}
