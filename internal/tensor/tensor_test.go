package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShapeNumElements(t *testing.T) {
	tests := []struct {
		name  string
		shape Shape
		want  int
	}{
		{"scalar", Shape{}, 1},
		{"vector", Shape{5}, 5},
		{"kernel", Shape{3, 3, 32, 64}, 18432},
		{"dynamic", Shape{Dynamic, 13, 13, 255}, Dynamic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.shape.NumElements())
		})
	}
}

func TestShapeValidate(t *testing.T) {
	require.NoError(t, Shape{1, 2, 3}.Validate())
	require.Error(t, Shape{1, 0}.Validate())
	require.Error(t, Shape{Dynamic, 3}.Validate())
	require.NoError(t, Shape{Dynamic, 3}.ValidateSymbolic())
	require.Error(t, Shape{-2, 3}.ValidateSymbolic())
}

func TestShapeCompatible(t *testing.T) {
	assert.True(t, Shape{Dynamic, 52, 52, 256}.Compatible(Shape{1, 52, 52, 256}))
	assert.False(t, Shape{1, 52, 52, 256}.Compatible(Shape{1, 26, 26, 256}))
	assert.False(t, Shape{1, 52}.Compatible(Shape{1, 52, 1}))
}

func TestParseShape(t *testing.T) {
	s, err := ParseShape("?, 416,416,3")
	require.NoError(t, err)
	assert.Equal(t, Shape{Dynamic, 416, 416, 3}, s)
	assert.Equal(t, "[? 416 416 3]", s.String())

	_, err = ParseShape("416,x")
	require.Error(t, err)
	_, err = ParseShape("")
	require.Error(t, err)
}

func TestFromSliceLengthMismatch(t *testing.T) {
	_, err := FromSlice([]float32{1, 2, 3}, Shape{2, 2})
	require.Error(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	a, err := FromSlice([]float32{1, 2, 3, 4}, Shape{2, 2})
	require.NoError(t, err)
	b := a.Clone()
	b.Data()[0] = 42
	assert.Equal(t, float32(1), a.Data()[0])
}

func TestCopyFrom(t *testing.T) {
	dst, err := NewRaw(Shape{2})
	require.NoError(t, err)
	src, err := FromSlice([]float32{7, 8}, Shape{2})
	require.NoError(t, err)
	require.NoError(t, dst.CopyFrom(src))
	assert.Equal(t, []float32{7, 8}, dst.Data())

	other, err := NewRaw(Shape{3})
	require.NoError(t, err)
	require.Error(t, dst.CopyFrom(other))
}

func TestTransposeAxes2D(t *testing.T) {
	x, err := FromSlice([]float32{1, 2, 3, 4, 5, 6}, Shape{2, 3})
	require.NoError(t, err)

	y, err := TransposeAxes(x)
	require.NoError(t, err)
	assert.Equal(t, Shape{3, 2}, y.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, y.Data())
}

func TestTransposeAxesKernelLayout(t *testing.T) {
	// [out=2, in=3, kh=1, kw=2]
	data := make([]float32, 12)
	for i := range data {
		data[i] = float32(i)
	}
	oihw, err := FromSlice(data, Shape{2, 3, 1, 2})
	require.NoError(t, err)

	hwio, err := TransposeAxes(oihw, 2, 3, 1, 0)
	require.NoError(t, err)
	require.Equal(t, Shape{1, 2, 3, 2}, hwio.Shape())

	// hwio[h][w][i][o] == oihw[o][i][h][w]
	get := func(t *RawTensor, idx ...int) float32 {
		strides := t.Strides()
		off := 0
		for i, v := range idx {
			off += v * strides[i]
		}
		return t.Data()[off]
	}
	for o := 0; o < 2; o++ {
		for i := 0; i < 3; i++ {
			for w := 0; w < 2; w++ {
				assert.Equal(t, get(oihw, o, i, 0, w), get(hwio, 0, w, i, o))
			}
		}
	}

	back, err := TransposeAxes(hwio, InversePermutation([]int{2, 3, 1, 0})...)
	require.NoError(t, err)
	assert.Equal(t, oihw.Data(), back.Data())
	assert.Equal(t, oihw.Shape(), back.Shape())
}

func TestTransposeAxesErrors(t *testing.T) {
	x, err := NewRaw(Shape{2, 2})
	require.NoError(t, err)

	_, err = TransposeAxes(x, 0)
	require.Error(t, err)
	_, err = TransposeAxes(x, 0, 2)
	require.Error(t, err)
	_, err = TransposeAxes(x, 1, 1)
	require.Error(t, err)
	_, err = TransposeAxes(nil)
	require.Error(t, err)
}

func TestTransposeAxesLarge(t *testing.T) {
	shape := Shape{64, 32, 3, 3}
	data := make([]float32, shape.NumElements())
	for i := range data {
		data[i] = float32(i)
	}
	x, err := FromSlice(data, shape)
	require.NoError(t, err)

	y, err := TransposeAxes(x, 2, 3, 1, 0)
	require.NoError(t, err)
	require.Equal(t, Shape{3, 3, 32, 64}, y.Shape())

	src, dst := x.Strides(), y.Strides()
	for o := 0; o < 64; o++ {
		for i := 0; i < 32; i++ {
			for h := 0; h < 3; h++ {
				for w := 0; w < 3; w++ {
					require.Equal(t,
						x.Data()[o*src[0]+i*src[1]+h*src[2]+w*src[3]],
						y.Data()[h*dst[0]+w*dst[1]+i*dst[2]+o*dst[3]])
				}
			}
		}
	}
}
