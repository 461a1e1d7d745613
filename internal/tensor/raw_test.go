package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestNewRawAllTypes(t *testing.T) {
	types := []struct {
		dtype       DataType
		elementSize int
	}{
		{Float32, 4},
		{Float64, 8},
		{Int32, 4},
		{Int64, 8},
		{Float16, 2},
	}

	for _, tt := range types {
		raw, err := NewRaw(Shape{2, 3}, tt.dtype)
		require.NoError(t, err)
		assert.Equal(t, 6*tt.elementSize, raw.ByteSize(), tt.dtype.String())
		assert.Len(t, raw.Data(), 6*tt.elementSize)
	}
}

func TestNewRawRejectsNegativeDim(t *testing.T) {
	_, err := NewRaw(Shape{2, -1}, Float32)
	assert.Error(t, err)
}

func TestCloneIsIndependent(t *testing.T) {
	raw := Arange(4)
	clone := raw.Clone()

	clone.AsFloat32()[0] = 9
	assert.Equal(t, float32(0), raw.AsFloat32()[0])
	assert.False(t, clone.SharesStorage(raw))
}

func TestCopyFrom(t *testing.T) {
	dst, err := NewRaw(Shape{2, 2}, Float32)
	require.NoError(t, err)

	require.NoError(t, dst.CopyFrom(Arange(4)))
	assert.Equal(t, []float32{0, 1, 2, 3}, dst.AsFloat32())

	assert.Error(t, dst.CopyFrom(Arange(3)))

	f64, err := NewRaw(Shape{4}, Float64)
	require.NoError(t, err)
	assert.Error(t, dst.CopyFrom(f64))
}

func TestCastFloat16(t *testing.T) {
	x, err := FromFloat32([]float32{1.5, -2.25, 65504}, Shape{3})
	require.NoError(t, err)

	half, err := Cast(x, Float16)
	require.NoError(t, err)
	assert.Equal(t, Float16, half.DType())
	assert.Equal(t, float16.Fromfloat32(1.5), half.AsFloat16()[0])

	back, err := Cast(half, Float32)
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, -2.25, 65504}, back.AsFloat32())
}

func TestCastRejectsIntegers(t *testing.T) {
	x, err := NewRaw(Shape{2}, Int64)
	require.NoError(t, err)
	_, err = Cast(x, Float32)
	assert.Error(t, err)
}

func TestFromBytesSizeMismatch(t *testing.T) {
	_, err := FromBytes(make([]byte, 7), Shape{2}, Float32)
	assert.Error(t, err)
}

func TestEmptyTensorAccessors(t *testing.T) {
	raw, err := NewRaw(Shape{0}, Float32)
	require.NoError(t, err)
	assert.Empty(t, raw.AsFloat32())
}
