package nn

import (
	"math/rand"
	"testing"

	"github.com/born-ml/yolo/internal/graph"
	"github.com/born-ml/yolo/internal/specs"
	"github.com/born-ml/yolo/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInput(t *testing.T, shape tensor.Shape) (*graph.Graph, *graph.Value) {
	t.Helper()
	g := graph.New("test")
	in, err := g.AddInput(shape)
	require.NoError(t, err)
	return g, in
}

func convConfig(name string, filters, kernel, strides int) BlockConfig {
	return BlockConfig{
		Name:       name,
		Filters:    filters,
		KernelSize: kernel,
		Strides:    strides,
		Padding:    specs.PaddingSame,
		Activation: "leaky",
		Norm:       true,
	}
}

func TestDarkConvOutputShape(t *testing.T) {
	tests := []struct {
		name    string
		kernel  int
		strides int
		padding specs.Padding
		in      tensor.Shape
		want    tensor.Shape
	}{
		{"same 3x3", 3, 1, specs.PaddingSame, tensor.Shape{1, 416, 416, 3}, tensor.Shape{1, 416, 416, 8}},
		{"same 3x3 stride 2", 3, 2, specs.PaddingSame, tensor.Shape{1, 416, 416, 3}, tensor.Shape{1, 208, 208, 8}},
		{"same odd stride 2", 3, 2, specs.PaddingSame, tensor.Shape{1, 13, 13, 3}, tensor.Shape{1, 7, 7, 8}},
		{"same 1x1", 1, 1, specs.PaddingSame, tensor.Shape{2, 52, 52, 3}, tensor.Shape{2, 52, 52, 8}},
		{"valid 3x3", 3, 1, specs.PaddingValid, tensor.Shape{1, 10, 10, 3}, tensor.Shape{1, 8, 8, 8}},
		{"dynamic", 3, 2, specs.PaddingSame, tensor.Shape{tensor.Dynamic, tensor.Dynamic, tensor.Dynamic, 3},
			tensor.Shape{tensor.Dynamic, tensor.Dynamic, tensor.Dynamic, 8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := convConfig("c", 8, tt.kernel, tt.strides)
			cfg.Padding = tt.padding
			c, err := NewDarkConv(cfg)
			require.NoError(t, err)
			got, err := c.OutputShape(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got[0])
		})
	}
}

func TestDarkConvParameters(t *testing.T) {
	_, in := newInput(t, tensor.Shape{1, 8, 8, 3})

	c, err := NewDarkConv(convConfig("bn", 4, 3, 1))
	require.NoError(t, err)
	assert.Empty(t, c.Parameters())

	_, err = c.Apply(in)
	require.NoError(t, err)

	params := c.Parameters()
	require.Len(t, params, 5)
	roles := make([]graph.Role, len(params))
	for i, p := range params {
		roles[i] = p.Role()
	}
	assert.Equal(t, []graph.Role{
		graph.RoleNormBias, graph.RoleNormScale, graph.RoleNormMean, graph.RoleNormVariance, graph.RoleKernel,
	}, roles)
	assert.Equal(t, tensor.Shape{3, 3, 3, 4}, params[4].Shape())
	assert.Equal(t, []float32{1, 1, 1, 1}, params[1].Tensor().Data())
	assert.Equal(t, []float32{1, 1, 1, 1}, params[3].Tensor().Data())
	assert.Equal(t, "bn.kernel", params[4].Name())

	cfg := convConfig("det", 255, 1, 1)
	cfg.Norm = false
	cfg.Activation = "linear"
	det, err := NewDarkConv(cfg)
	require.NoError(t, err)
	outs, err := det.Apply(in)
	require.NoError(t, err)
	require.Len(t, det.Parameters(), 2)
	assert.Equal(t, graph.RoleBias, det.Parameters()[0].Role())
	assert.Equal(t, 255, outs[0].Channels())

	node := outs[0].Producer()
	assert.Equal(t, graph.OpConv, node.Op)
	assert.Equal(t, 0, node.Attrs["batch_normalize"])
	assert.Equal(t, "linear", node.Activation)
}

func TestDarkConvXavierIsSeeded(t *testing.T) {
	build := func() []float32 {
		_, in := newInput(t, tensor.Shape{1, 4, 4, 2})
		cfg := convConfig("c", 3, 3, 1)
		cfg.Rand = rand.New(rand.NewSource(7))
		c, err := NewDarkConv(cfg)
		require.NoError(t, err)
		_, err = c.Apply(in)
		require.NoError(t, err)
		return c.Parameters()[4].Tensor().Data()
	}
	a, b := build(), build()
	assert.Equal(t, a, b)
	assert.NotEqual(t, make([]float32, len(a)), a)
}

func TestDarkConvRejectsChannelChange(t *testing.T) {
	g := graph.New("reuse")
	a, err := g.AddInput(tensor.Shape{1, 4, 4, 3})
	require.NoError(t, err)
	b, err := g.AddInput(tensor.Shape{1, 4, 4, 5})
	require.NoError(t, err)

	c, err := NewDarkConv(convConfig("c", 2, 1, 1))
	require.NoError(t, err)
	_, err = c.Apply(a)
	require.NoError(t, err)
	_, err = c.Apply(a)
	require.NoError(t, err)
	assert.Len(t, g.Layers(), 1)

	_, err = c.Apply(b)
	require.ErrorIs(t, err, ErrShape)
}

func TestDarkConvConfigErrors(t *testing.T) {
	_, err := NewDarkConv(convConfig("c", 0, 3, 1))
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewDarkConv(convConfig("c", 4, 0, 1))
	require.ErrorIs(t, err, ErrInvalidConfig)

	cfg := convConfig("c", 4, 3, 1)
	cfg.Activation = "gelu"
	_, err = NewDarkConv(cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)

	c, err := NewDarkConv(convConfig("c", 4, 3, 1))
	require.NoError(t, err)
	_, in := newInput(t, tensor.Shape{1, 4, 4, tensor.Dynamic})
	_, err = c.Apply(in)
	require.ErrorIs(t, err, ErrInvalidConfig)
}
