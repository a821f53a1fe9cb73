package graph

import (
	"fmt"

	"github.com/born-ml/yolo/internal/tensor"
)

// Role identifies what a parameter tensor is for inside its layer.
//
// The darknet weight stream and the importer both speak in roles, so the
// set here is exactly the set a legacy convolution can carry.
type Role int

// Parameter roles.
const (
	RoleBias Role = iota
	RoleNormBias
	RoleNormScale
	RoleNormMean
	RoleNormVariance
	RoleKernel
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleBias:
		return "bias"
	case RoleNormBias:
		return "norm_bias"
	case RoleNormScale:
		return "norm_scale"
	case RoleNormMean:
		return "norm_mean"
	case RoleNormVariance:
		return "norm_variance"
	case RoleKernel:
		return "kernel"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Parameter represents a learnable (or running-statistic) tensor of a layer.
//
// Example:
//
//	kernel := graph.NewParameter("conv_0.kernel", graph.RoleKernel, t)
//
//	// Replace its contents, shape must match
//	err := kernel.Set(loaded)
type Parameter struct {
	name   string            // Parameter name (e.g., "DarkConv_0_0.kernel")
	role   Role              // Position in the canonical darknet order
	tensor *tensor.RawTensor // The parameter tensor
}

// NewParameter creates a new parameter.
func NewParameter(name string, role Role, t *tensor.RawTensor) *Parameter {
	return &Parameter{
		name:   name,
		role:   role,
		tensor: t,
	}
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Role returns the parameter role.
func (p *Parameter) Role() Role {
	return p.role
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.RawTensor {
	return p.tensor
}

// Shape returns the parameter shape.
func (p *Parameter) Shape() tensor.Shape {
	return p.tensor.Shape()
}

// Set copies t into the parameter. The shapes must be equal.
func (p *Parameter) Set(t *tensor.RawTensor) error {
	if err := p.tensor.CopyFrom(t); err != nil {
		return fmt.Errorf("parameter %s: %w", p.name, err)
	}
	return nil
}

// Layer is a unit of learnable state recorded on a graph.
//
// Parameters must be returned in the canonical order the legacy weight
// stream stores them: with normalization [norm bias, norm scale, norm mean,
// norm variance, kernel], without [bias, kernel].
type Layer interface {
	// Name returns the unique layer name inside its graph.
	Name() string

	// Parameters returns the layer parameters in canonical order.
	Parameters() []*Parameter
}

// LayerSet is anything exposing an ordered run of layers: a whole graph or
// one of its stages.
type LayerSet interface {
	Layers() []Layer
}
