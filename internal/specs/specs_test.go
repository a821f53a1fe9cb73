package specs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinNames(t *testing.T) {
	assert.Equal(t, []string{
		"cspdarknet53",
		"cspdarknettiny",
		"darknet53",
		"darknettiny",
		"yolov4_head",
		"yolov4_neck",
		"yolov4_tiny_head",
	}, Names())
}

func TestLoadUnknownTable(t *testing.T) {
	_, err := Load("resnet50")
	require.ErrorIs(t, err, ErrConfigNotFound)
}

func TestLoadCSPDarknet53(t *testing.T) {
	table, err := Load("cspdarknet53")
	require.NoError(t, err)

	assert.Equal(t, "cspdarknet53", table.Name())
	assert.Equal(t, 1, table.Inputs())
	require.Equal(t, 6, table.Len())

	stem := table.At(0)
	assert.Equal(t, "DarkConv", stem.Kind)
	assert.Equal(t, StackNone, stem.Stack)
	assert.Equal(t, Some(3), stem.KernelSize)
	assert.Equal(t, "mish", stem.Activation)
	assert.Equal(t, []RouteRef{{Index: -1}}, stem.Route.Refs())
	assert.False(t, stem.Route.IsList())
	assert.True(t, stem.Norm)
	assert.Equal(t, PaddingSame, stem.Padding)
	assert.False(t, stem.OutputName.IsSet())

	first := table.At(1)
	assert.Equal(t, StackCSP, first.Stack)
	assert.True(t, first.Bottleneck)
	assert.Equal(t, 64, first.Filters)

	var reps []int
	var names []string
	for _, s := range table.Specs()[1:] {
		reps = append(reps, s.Repetitions)
		if n, ok := s.OutputName.Get(); ok {
			names = append(names, n)
		}
	}
	assert.Equal(t, []int{1, 2, 8, 8, 4}, reps)
	assert.Equal(t, []string{"3", "4", "5"}, names)
}

func TestNeckRoutes(t *testing.T) {
	table, err := Load("yolov4_neck")
	require.NoError(t, err)
	assert.Equal(t, 3, table.Inputs())
	require.Equal(t, 25, table.Len())

	assert.Equal(t, []RouteRef{{Index: 2}}, table.At(0).Route.Refs())

	concat := table.At(10)
	assert.Equal(t, "DarkRoute", concat.Kind)
	assert.True(t, concat.Route.IsList())
	assert.Equal(t, []RouteRef{{Index: -1}, {Index: -2}}, concat.Route.Refs())
	assert.Equal(t, "[-1, -2]", concat.Route.String())
}

func TestHeadDetectionConvs(t *testing.T) {
	table, err := Load("yolov4_head")
	require.NoError(t, err)

	det := table.At(1)
	assert.Equal(t, 255, det.Filters)
	assert.False(t, det.Norm)
	assert.Equal(t, "linear", det.Activation)
}

func TestTableIsImmutable(t *testing.T) {
	table, err := Load("yolov4_neck")
	require.NoError(t, err)

	s := table.At(10)
	refs := s.Route.Refs()
	refs[0].Index = 99
	s.Filters = 7

	again := table.At(10)
	assert.Equal(t, -1, again.Route.Refs()[0].Index)
	assert.Equal(t, 0, again.Filters)
}

func TestParseRouteRef(t *testing.T) {
	tests := []struct {
		in      string
		want    RouteRef
		wantErr bool
	}{
		{in: "-1", want: RouteRef{Index: -1}},
		{in: "4", want: RouteRef{Index: 4}},
		{in: "5:route", want: RouteRef{Index: 5, Branch: BranchRoute}},
		{in: " 2 : main", want: RouteRef{Index: 2}},
		{in: "x", wantErr: true},
		{in: "3:side", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRouteRef(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseYAMLValidation(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{
			name:  "zero strides",
			doc:   "name: t\nlayers:\n  - {kind: DarkConv, filters: 8, strides: 0}\n",
			field: "strides",
		},
		{
			name:  "bad padding",
			doc:   "name: t\nlayers:\n  - {kind: DarkConv, filters: 8, padding: full}\n",
			field: "padding",
		},
		{
			name:  "stacked list route",
			doc:   "name: t\nlayers:\n  - {kind: DarkRes, stack: csp, filters: 8, route: [-1]}\n",
			field: "route",
		},
		{
			name:  "blank output name",
			doc:   "name: t\nlayers:\n  - {kind: DarkConv, filters: 8, output_name: \" \"}\n",
			field: "output_name",
		},
		{
			name:  "unknown stack",
			doc:   "name: t\nlayers:\n  - {kind: DarkRes, stack: dense, filters: 8}\n",
			field: "stack",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseYAML([]byte(tt.doc))
			require.ErrorIs(t, err, ErrInvalidSpec)
			var se *SpecError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.field, se.Field)
			assert.Equal(t, "t", se.Table)
			assert.Equal(t, 0, se.Index)
		})
	}
}

func TestParseYAMLRejectsUnknownKeys(t *testing.T) {
	_, err := ParseYAML([]byte("name: t\nlayers:\n  - {kind: DarkConv, filter: 8}\n"))
	require.Error(t, err)
}

func TestNewTableRequiresInputs(t *testing.T) {
	_, err := NewTable("t", 0, nil)
	require.ErrorIs(t, err, ErrInvalidSpec)
}

const userTables = `
table "mini" {
  layer "DarkConv" {
    filters     = 8
    kernel_size = 3
    activation  = "mish"
  }
  layer "CSPTiny" {
    stack   = "csp_tiny"
    filters = 16
  }
  layer "DarkRoute" {
    route = [-1, "2:route"]
  }
  layer "DarkConv" {
    route       = 1
    filters     = 4
    kernel_size = 1
    norm        = false
    output_name = "out"
  }
}

table "pair" {
  inputs = 2
  layer "DarkRoute" {
    route = [0, 1]
  }
}
`

func TestParseHCL(t *testing.T) {
	cat, err := ParseHCL([]byte(userTables), "user.hcl")
	require.NoError(t, err)
	assert.Equal(t, []string{"mini", "pair"}, cat.Names())

	mini, err := cat.Load("mini")
	require.NoError(t, err)
	require.Equal(t, 4, mini.Len())

	assert.Equal(t, []RouteRef{{Index: -1}}, mini.At(0).Route.Refs())
	assert.Equal(t, "mish", mini.At(0).Activation)
	assert.Equal(t, StackCSPTiny, mini.At(1).Stack)

	route := mini.At(2).Route
	assert.True(t, route.IsList())
	assert.Equal(t, []RouteRef{{Index: -1}, {Index: 2, Branch: BranchRoute}}, route.Refs())

	last := mini.At(3)
	assert.Equal(t, []RouteRef{{Index: 1}}, last.Route.Refs())
	assert.False(t, last.Norm)
	assert.Equal(t, Some("out"), last.OutputName)

	pair, err := cat.Load("pair")
	require.NoError(t, err)
	assert.Equal(t, 2, pair.Inputs())
}

func TestLoadHCLFileAndMerge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.hcl")
	require.NoError(t, os.WriteFile(path, []byte(userTables), 0o600))

	user, err := LoadHCL(path)
	require.NoError(t, err)

	builtin, err := Builtin()
	require.NoError(t, err)
	merged := builtin.Merge(user)

	_, err = merged.Load("mini")
	require.NoError(t, err)
	_, err = merged.Load("cspdarknet53")
	require.NoError(t, err)
}

func TestParseHCLRejectsFractionalRoute(t *testing.T) {
	src := `
table "bad" {
  layer "DarkConv" {
    filters = 8
    route   = 1.5
  }
}
`
	_, err := ParseHCL([]byte(src), "bad.hcl")
	require.ErrorIs(t, err, ErrInvalidSpec)
}

func TestOptional(t *testing.T) {
	none := None[int]()
	assert.False(t, none.IsSet())
	assert.Equal(t, 3, none.OrElse(3))

	v, ok := Some(5).Get()
	assert.True(t, ok)
	assert.Equal(t, 5, v)
}
