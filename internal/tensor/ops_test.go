package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustFromFloat32(t *testing.T, data []float32, shape Shape) *RawTensor {
	t.Helper()
	raw, err := FromFloat32(data, shape)
	require.NoError(t, err)
	return raw
}

func TestReshape(t *testing.T) {
	x := Arange(12)

	t.Run("infer dimension", func(t *testing.T) {
		y, err := Reshape(x, Shape{3, -1})
		require.NoError(t, err)
		assert.Equal(t, Shape{3, 4}, y.Shape())
		assert.True(t, y.SharesStorage(x))
	})

	t.Run("two inferred dimensions", func(t *testing.T) {
		_, err := Reshape(x, Shape{-1, -1})
		assert.Error(t, err)
	})

	t.Run("element count mismatch", func(t *testing.T) {
		_, err := Reshape(x, Shape{5, 3})
		assert.Error(t, err)
	})

	t.Run("not divisible", func(t *testing.T) {
		_, err := Reshape(x, Shape{5, -1})
		assert.Error(t, err)
	})
}

func TestNarrowLeadingAxisIsView(t *testing.T) {
	x := Arange(8)
	v, err := Narrow(x, 0, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 3, 4}, v.AsFloat32())

	v.AsFloat32()[0] = 42
	assert.Equal(t, float32(42), x.AsFloat32()[2])
}

func TestNarrowInnerAxisCopies(t *testing.T) {
	x, err := Reshape(Arange(12), Shape{3, 4})
	require.NoError(t, err)

	v, err := Narrow(x, 1, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, Shape{3, 2}, v.Shape())
	assert.Equal(t, []float32{1, 2, 5, 6, 9, 10}, v.AsFloat32())
	assert.False(t, v.SharesStorage(x))
}

func TestNarrowOutOfBounds(t *testing.T) {
	_, err := Narrow(Arange(4), 0, 3, 2)
	assert.Error(t, err)

	_, err = Narrow(Arange(4), 1, 0, 1)
	assert.Error(t, err)
}

func TestChunk(t *testing.T) {
	tests := []struct {
		name  string
		dim   int
		n     int
		sizes []int
	}{
		{"even", 8, 4, []int{2, 2, 2, 2}},
		{"remainder", 10, 4, []int{3, 3, 3, 1}},
		{"fewer chunks than requested", 6, 4, []int{2, 2, 2}},
		{"single", 5, 1, []int{5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts, err := Chunk(Arange(tt.dim), tt.n, 0)
			require.NoError(t, err)
			require.Len(t, parts, len(tt.sizes))
			for i, p := range parts {
				assert.Equal(t, tt.sizes[i], p.Shape()[0])
			}
		})
	}

	_, err := Chunk(Arange(4), 0, 0)
	assert.Error(t, err)
}

func TestConcat(t *testing.T) {
	a := mustFromFloat32(t, []float32{1, 2, 3, 4}, Shape{2, 2})
	b := mustFromFloat32(t, []float32{5, 6, 7, 8}, Shape{2, 2})

	t.Run("axis 0", func(t *testing.T) {
		c, err := Concat([]*RawTensor{a, b}, 0)
		require.NoError(t, err)
		assert.Equal(t, Shape{4, 2}, c.Shape())
		assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, c.AsFloat32())
	})

	t.Run("axis 1", func(t *testing.T) {
		c, err := Concat([]*RawTensor{a, b}, 1)
		require.NoError(t, err)
		assert.Equal(t, Shape{2, 4}, c.Shape())
		assert.Equal(t, []float32{1, 2, 5, 6, 3, 4, 7, 8}, c.AsFloat32())
	})

	t.Run("negative axis", func(t *testing.T) {
		c, err := Concat([]*RawTensor{a, b}, -1)
		require.NoError(t, err)
		assert.Equal(t, Shape{2, 4}, c.Shape())
	})

	t.Run("incompatible shapes", func(t *testing.T) {
		odd := mustFromFloat32(t, []float32{1, 2, 3}, Shape{1, 3})
		_, err := Concat([]*RawTensor{a, odd}, 0)
		assert.Error(t, err)
	})

	t.Run("dtype mismatch", func(t *testing.T) {
		d, err := NewRaw(Shape{2, 2}, Float64)
		require.NoError(t, err)
		_, err = Concat([]*RawTensor{a, d}, 0)
		assert.Error(t, err)
	})
}

// Splitting into W chunks and concatenating them back must reproduce the input
// for every world size and axis.
func TestChunkConcatRoundTrip(t *testing.T) {
	full, err := Reshape(Arange(4*6*2), Shape{4, 6, 2})
	require.NoError(t, err)

	for _, axis := range []int{0, 1} {
		for _, world := range []int{1, 2} {
			parts, err := Chunk(full, world, axis)
			require.NoError(t, err)
			require.Len(t, parts, world)

			back, err := Concat(parts, axis)
			require.NoError(t, err)
			assert.True(t, Equal(full, back), "axis=%d world=%d", axis, world)
		}
	}
}

func TestPadEnd(t *testing.T) {
	x := mustFromFloat32(t, []float32{1, 2, 3, 4, 5, 6}, Shape{3, 2})

	padded, err := PadEnd(x, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, Shape{5, 2}, padded.Shape())
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 0, 0, 0, 0}, padded.AsFloat32())

	same, err := PadEnd(x, 0, 0)
	require.NoError(t, err)
	assert.True(t, Equal(x, same))

	_, err = PadEnd(x, 0, -1)
	assert.Error(t, err)
}

func TestTranspose2D(t *testing.T) {
	x := mustFromFloat32(t, []float32{1, 2, 3, 4, 5, 6}, Shape{2, 3})
	y, err := Transpose2D(x)
	require.NoError(t, err)
	assert.Equal(t, Shape{3, 2}, y.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, y.AsFloat32())

	_, err = Transpose2D(Arange(3))
	assert.Error(t, err)
}
