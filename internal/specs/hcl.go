package specs

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// hclFile is the top-level structure of a user table file:
//
//	table "mynet" {
//	  inputs = 1
//	  layer "DarkConv" {
//	    filters     = 32
//	    kernel_size = 3
//	  }
//	  layer "DarkRoute" {
//	    route = [-1, "4:route"]
//	  }
//	}
type hclFile struct {
	Tables []*hclTable `hcl:"table,block"`
}

type hclTable struct {
	Name   string      `hcl:"name,label"`
	Inputs *int        `hcl:"inputs,optional"`
	Layers []*hclLayer `hcl:"layer,block"`
}

type hclLayer struct {
	Kind        string         `hcl:"kind,label"`
	Route       hcl.Expression `hcl:"route,optional"`
	Stack       *string        `hcl:"stack,optional"`
	Filters     *int           `hcl:"filters,optional"`
	KernelSize  *int           `hcl:"kernel_size,optional"`
	Strides     *int           `hcl:"strides,optional"`
	Padding     *string        `hcl:"padding,optional"`
	Repetitions *int           `hcl:"repetitions,optional"`
	Activation  *string        `hcl:"activation,optional"`
	Bottleneck  *bool          `hcl:"bottleneck,optional"`
	Norm        *bool          `hcl:"norm,optional"`
	OutputName  *string        `hcl:"output_name,optional"`
}

// LoadHCL parses a file of table blocks into a catalog.
func LoadHCL(filePath string) (*Catalog, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filePath)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filePath, diags)
	}
	return decodeHCL(file, filePath)
}

// ParseHCL parses table blocks from src. filename is used in diagnostics.
func ParseHCL(src []byte, filename string) (*Catalog, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}
	return decodeHCL(file, filename)
}

func decodeHCL(file *hcl.File, filename string) (*Catalog, error) {
	var parsed hclFile
	if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}

	tables := make([]*Table, 0, len(parsed.Tables))
	for _, ht := range parsed.Tables {
		t, err := ht.toTable()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		tables = append(tables, t)
	}
	return NewCatalog(tables...), nil
}

func (ht *hclTable) toTable() (*Table, error) {
	inputs := 1
	if ht.Inputs != nil {
		inputs = *ht.Inputs
	}
	specs := make([]LayerSpec, len(ht.Layers))
	for i, hl := range ht.Layers {
		route, err := routeFromExpr(hl.Route)
		if err != nil {
			return nil, at(fieldError("route", err.Error()), ht.Name, i)
		}
		rec := record{
			Kind:        hl.Kind,
			Route:       route,
			Stack:       hl.Stack,
			Filters:     hl.Filters,
			KernelSize:  hl.KernelSize,
			Strides:     hl.Strides,
			Padding:     hl.Padding,
			Repetitions: hl.Repetitions,
			Activation:  hl.Activation,
			Bottleneck:  hl.Bottleneck,
			Norm:        hl.Norm,
			OutputName:  hl.OutputName,
		}
		s, err := rec.toSpec()
		if err != nil {
			return nil, at(err, ht.Name, i)
		}
		specs[i] = s
	}
	return NewTable(ht.Name, inputs, specs)
}

// routeFromExpr evaluates a route attribute. A number or string is a
// single reference; a tuple or list is a multi-input route. Absent routes
// return nil so the default applies.
func routeFromExpr(expr hcl.Expression) (*Route, error) {
	if expr == nil {
		return nil, nil
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, diags
	}
	if val.IsNull() {
		return nil, nil
	}
	if !val.IsWhollyKnown() {
		return nil, fmt.Errorf("route must be a constant")
	}

	ty := val.Type()
	if ty.IsTupleType() || ty.IsListType() {
		var refs []RouteRef
		for it := val.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			ref, err := refFromValue(ev)
			if err != nil {
				return nil, err
			}
			refs = append(refs, ref)
		}
		r := Route{refs: refs, list: true}
		return &r, nil
	}

	ref, err := refFromValue(val)
	if err != nil {
		return nil, err
	}
	r := Route{refs: []RouteRef{ref}}
	return &r, nil
}

func refFromValue(v cty.Value) (RouteRef, error) {
	switch v.Type() {
	case cty.Number:
		var i int
		if err := gocty.FromCtyValue(v, &i); err != nil {
			return RouteRef{}, fmt.Errorf("route index: %w", err)
		}
		return RouteRef{Index: i}, nil
	case cty.String:
		return ParseRouteRef(v.AsString())
	default:
		return RouteRef{}, fmt.Errorf("unsupported route value of type %s", v.Type().FriendlyName())
	}
}
