package main

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/born-ml/ucp/internal/optim"
	"github.com/born-ml/ucp/internal/serialization"
	"github.com/born-ml/ucp/internal/tensor"
	"github.com/born-ml/ucp/internal/ucp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSliceThenMerge(t *testing.T) {
	root := t.TempDir()
	src := ucp.ParamDir(root, "layers.0.weight")

	full, err := tensor.Reshape(tensor.Arange(8), tensor.Shape{4, 2})
	require.NoError(t, err)
	require.NoError(t, ucp.SaveState(src, ucp.FP32WeightKey, full, ucp.DefaultStateMeta()))
	require.NoError(t, ucp.SaveState(src, optim.ExpAvgKey, full, ucp.DefaultStateMeta()))
	require.NoError(t, ucp.SaveStep(src, 5))

	var out bytes.Buffer
	shards := make([]string, 2)
	for r := range shards {
		shards[r] = filepath.Join(root, fmt.Sprintf("rank%d.safetensors", r))
		require.NoError(t, run([]string{"slice", "-dir", src, "-shape", "2,2",
			"-tp-rank", fmt.Sprint(r), "-tp-size", "2", "-out", shards[r]}, &out))
	}

	f, err := serialization.ReadFile(shards[1])
	require.NoError(t, err)
	assert.Equal(t, "5", f.Metadata[ucp.StepKey])
	w, err := f.Tensor(ucp.FP32WeightKey)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 2}, w.Shape())
	assert.Equal(t, []float32{4, 5, 6, 7}, w.AsFloat32())

	dst := ucp.ParamDir(root, "merged")
	for _, key := range []string{ucp.FP32WeightKey, optim.ExpAvgKey} {
		args := append([]string{"merge", "-out", dst, "-key", key}, shards...)
		require.NoError(t, run(args, &out))

		st, err := ucp.ReadState(filepath.Join(dst, key+ucp.StateFileExt))
		require.NoError(t, err)
		assert.True(t, tensor.Equal(full, st.Full), "%s: %v", key, st.Full.Float32s())
	}

	out.Reset()
	require.NoError(t, run([]string{"inspect", "-dir", dst}, &out))
	assert.Contains(t, out.String(), optim.ExpAvgKey)
	assert.Contains(t, out.String(), "Tensor[float32][4 2]")
}

func TestMergeStripsVocabPadding(t *testing.T) {
	root := t.TempDir()
	shards := make([]string, 2)
	for r := range shards {
		x, err := tensor.FromFloat32([]float32{float32(2 * r), float32(2*r + 1)}, tensor.Shape{2, 1})
		require.NoError(t, err)
		shards[r] = filepath.Join(root, fmt.Sprintf("rank%d.safetensors", r))
		require.NoError(t, serialization.WriteFile(shards[r], map[string]*tensor.RawTensor{ucp.FP32WeightKey: x}, nil))
	}

	dst := ucp.ParamDir(root, "embed")
	var out bytes.Buffer
	require.NoError(t, run(append([]string{"merge", "-out", dst, "-vocab-rows", "3"}, shards...), &out))

	st, err := ucp.ReadState(filepath.Join(dst, ucp.FP32WeightKey+ucp.StateFileExt))
	require.NoError(t, err)
	assert.True(t, st.Meta.VocabTensor)
	assert.Equal(t, []float32{0, 1, 2}, st.Full.AsFloat32())
}

func TestRunVersionAndErrors(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"version"}, &out))
	assert.Equal(t, "ucp "+version+"\n", out.String())

	assert.Error(t, run([]string{"bogus"}, &out))
	assert.Error(t, run([]string{"slice", "-dir", t.TempDir()}, &out))
	assert.Error(t, run([]string{"merge", "-out", t.TempDir()}, &out))

	_, err := parseShape("2,x")
	assert.Error(t, err)
	_, err = parseShape("2,-1")
	assert.Error(t, err)
}
