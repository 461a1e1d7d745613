package serialization

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/born-ml/ucp/internal/tensor"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exp_avg.pt")

	weight, err := tensor.Reshape(tensor.Arange(6), tensor.Shape{2, 3})
	require.NoError(t, err)
	half, err := tensor.Cast(tensor.Arange(4), tensor.Float16)
	require.NoError(t, err)

	meta := map[string]string{"cat_dim": "1", "vocab_tensor": "false"}
	require.NoError(t, WriteFile(path, map[string]*tensor.RawTensor{"param": weight, "half": half}, meta))

	f, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, meta, f.Metadata)
	assert.Equal(t, []string{"half", "param"}, f.TensorNames())

	got, err := f.Tensor("param")
	require.NoError(t, err)
	assert.True(t, tensor.Equal(weight, got))

	gotHalf, err := f.Tensor("half")
	require.NoError(t, err)
	assert.True(t, tensor.Equal(half, gotHalf))
}

func TestMetadataOnlyFile(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, nil, map[string]string{"step": "12"}))

	f, err := Read(&buf)
	require.NoError(t, err)
	assert.Empty(t, f.Tensors)
	assert.Equal(t, "12", f.Metadata["step"])
}

func TestMissingTensor(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, map[string]*tensor.RawTensor{"param": tensor.Arange(2)}, nil))

	f, err := Read(&buf)
	require.NoError(t, err)
	_, err = f.Tensor("exp_avg")
	assert.True(t, errors.Is(err, ErrTensorNotFound))
}

func TestReadRejectsOversizedHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(MaxHeaderSize+1)))

	_, err := Read(&buf)
	assert.True(t, errors.Is(err, ErrHeaderTooLarge))
}

func TestReadRejectsTruncatedData(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, map[string]*tensor.RawTensor{"param": tensor.Arange(4)}, nil))
	truncated := buf.Bytes()[:buf.Len()-4]

	_, err := Read(bytes.NewReader(truncated))
	assert.True(t, errors.Is(err, ErrOutOfBounds))
}

func TestValidateOffsets(t *testing.T) {
	tests := []struct {
		name    string
		tensors map[string]TensorInfo
		size    int64
		want    error
	}{
		{
			name: "adjacent",
			tensors: map[string]TensorInfo{
				"a": {DataOffsets: [2]int64{0, 8}},
				"b": {DataOffsets: [2]int64{8, 16}},
			},
			size: 16,
		},
		{
			name: "overlap",
			tensors: map[string]TensorInfo{
				"a": {DataOffsets: [2]int64{0, 10}},
				"b": {DataOffsets: [2]int64{8, 16}},
			},
			size: 16,
			want: ErrOffsetOverlap,
		},
		{
			name:    "beyond data",
			tensors: map[string]TensorInfo{"a": {DataOffsets: [2]int64{0, 32}}},
			size:    16,
			want:    ErrOutOfBounds,
		},
		{
			name:    "inverted range",
			tensors: map[string]TensorInfo{"a": {DataOffsets: [2]int64{8, 4}}},
			size:    16,
			want:    ErrOutOfBounds,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOffsets(tt.tensors, tt.size)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}
