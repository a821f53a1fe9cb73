package specs

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

type yamlTable struct {
	Name   string      `yaml:"name"`
	Inputs int         `yaml:"inputs"`
	Layers []yamlLayer `yaml:"layers"`
}

type yamlLayer struct {
	Kind        string  `yaml:"kind"`
	Route       *Route  `yaml:"route"`
	Stack       *string `yaml:"stack"`
	Filters     *int    `yaml:"filters"`
	KernelSize  *int    `yaml:"kernel_size"`
	Strides     *int    `yaml:"strides"`
	Padding     *string `yaml:"padding"`
	Repetitions *int    `yaml:"repetitions"`
	Activation  *string `yaml:"activation"`
	Bottleneck  *bool   `yaml:"bottleneck"`
	Norm        *bool   `yaml:"norm"`
	OutputName  *string `yaml:"output_name"`
}

// UnmarshalYAML accepts a scalar reference or a sequence of references.
func (r *Route) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		ref, err := ParseRouteRef(value.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		*r = Route{refs: []RouteRef{ref}}
		return nil
	case yaml.SequenceNode:
		refs := make([]RouteRef, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: route list items must be scalars", item.Line)
			}
			ref, err := ParseRouteRef(item.Value)
			if err != nil {
				return fmt.Errorf("line %d: %w", item.Line, err)
			}
			refs = append(refs, ref)
		}
		*r = Route{refs: refs, list: true}
		return nil
	default:
		return fmt.Errorf("line %d: route must be a scalar or a list", value.Line)
	}
}

// MarshalYAML writes the route in the form it was read.
func (r Route) MarshalYAML() (any, error) {
	if !r.list && len(r.refs) == 1 {
		return r.refs[0].String(), nil
	}
	out := make([]string, len(r.refs))
	for i, ref := range r.refs {
		out[i] = ref.String()
	}
	return out, nil
}

// ParseYAML decodes one table document. Unknown keys are rejected.
func ParseYAML(data []byte) (*Table, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var raw yamlTable
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode table: %w", err)
	}
	if raw.Inputs == 0 {
		raw.Inputs = 1
	}

	specs := make([]LayerSpec, len(raw.Layers))
	for i, l := range raw.Layers {
		s, err := record(l).toSpec()
		if err != nil {
			return nil, at(err, raw.Name, i)
		}
		specs[i] = s
	}
	return NewTable(raw.Name, raw.Inputs, specs)
}
