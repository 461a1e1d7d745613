package ucp

import (
	"testing"

	"github.com/born-ml/ucp/internal/tensor"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func arange(t *testing.T, shape ...int) *tensor.RawTensor {
	t.Helper()
	x, err := tensor.Reshape(tensor.Arange(tensor.Shape(shape).NumElements()), shape)
	require.NoError(t, err)
	return x
}

// sliceAll cuts full for every rank and checks merge rebuilds it exactly.
func sliceAll(t *testing.T, rule splitRule, full *tensor.RawTensor, world int) []*tensor.RawTensor {
	t.Helper()
	shards := make([]*tensor.RawTensor, world)
	for r := range shards {
		s, err := rule.slice(full, r, world)
		require.NoError(t, err, "rank %d", r)
		assert.Equal(t, full.NumElements()/world, s.NumElements())
		shards[r] = s
	}
	merged, err := rule.merge(shards)
	require.NoError(t, err)
	assert.True(t, tensor.Equal(full, merged), "merge(%s) = %v, want %v", rule, merged.Float32s(), full.Float32s())
	return shards
}

func TestAxisRuleMatchesOriginalShards(t *testing.T) {
	for _, axis := range []int{0, 1} {
		for _, world := range []int{1, 2, 4} {
			full := arange(t, 4, 8)
			rule := axisRule{axis: axis}
			shards := sliceAll(t, rule, full, world)

			n := full.Shape()[axis] / world
			for r, s := range shards {
				want, err := tensor.Narrow(full, axis, r*n, n)
				require.NoError(t, err)
				assert.True(t, tensor.Equal(want.Clone(), s), "axis %d world %d rank %d", axis, world, r)
			}
		}
	}
}

func TestAxisRuleUnevenSplit(t *testing.T) {
	_, err := axisRule{axis: 0}.slice(arange(t, 4, 2), 0, 3)
	require.True(t, errors.Is(err, ErrUnevenSplit))
	assert.Contains(t, err.Error(), "into 3 ranks")
	assert.Contains(t, err.Error(), "sizes [2 2]")

	_, err = axisRule{axis: -1}.slice(arange(t, 2, 5), 0, 2)
	require.True(t, errors.Is(err, ErrUnevenSplit))
	assert.Contains(t, err.Error(), "sizes [3 2]")

	_, err = axisRule{axis: 0}.slice(arange(t, 4, 2), 2, 2)
	assert.Error(t, err)
}

func TestSubParamRule(t *testing.T) {
	full := arange(t, 12, 2)
	rule := subParamRule{n: 3, axis: 0}
	shards := sliceAll(t, rule, full, 2)

	// Rank 0 gets the first half of each of the three 4-row sub-params.
	assert.Equal(t, []float32{0, 1, 2, 3, 8, 9, 10, 11, 16, 17, 18, 19}, shards[0].Float32s())
	assert.Equal(t, tensor.Shape{6, 2}, shards[0].Shape())
}

func TestExpertFC1Rule(t *testing.T) {
	cfg := ShapeConfig{NumExperts: 2, HiddenSize: 3}
	full := arange(t, 16, 3) // [expert=2, 2, hidden2=4, hidden1=3]
	shards := sliceAll(t, expertFC1Rule{cfg}, full, 2)

	// Expert 0, activation half: hidden2 rows 0 and 1 of 4.
	assert.Equal(t, []float32{0, 1, 2, 3, 4, 5}, shards[0].Float32s()[:6])
	assert.Equal(t, []float32{6, 7, 8, 9, 10, 11}, shards[1].Float32s()[:6])
}

func TestExpertFC2Rule(t *testing.T) {
	cfg := ShapeConfig{NumExperts: 2, HiddenSize: 3}
	full := arange(t, 8, 3) // [expert=2, hidden2=4, hidden1=3]
	shards := sliceAll(t, expertFC2Rule{cfg}, full, 2)

	assert.Equal(t, []float32{0, 1, 2, 3, 4, 5, 12, 13, 14, 15, 16, 17}, shards[0].Float32s())
}

func TestQKVRule(t *testing.T) {
	cfg := ShapeConfig{HiddenSize: 2, NHead: 4, NHeadKV: 2, HeadDim: 1}

	t.Run("weight", func(t *testing.T) {
		full := arange(t, 8, 2)
		shards := sliceAll(t, qkvRule{cfg: cfg}, full, 2)
		// q rows 0,1 + k row 4 + v row 6.
		assert.Equal(t, []float32{0, 1, 2, 3, 8, 9, 12, 13}, shards[0].Float32s())
		assert.Equal(t, []float32{4, 5, 6, 7, 10, 11, 14, 15}, shards[1].Float32s())
	})

	t.Run("bias", func(t *testing.T) {
		full := arange(t, 8)
		shards := sliceAll(t, qkvRule{cfg: cfg, bias: true}, full, 2)
		assert.Equal(t, []float32{0, 1, 4, 6}, shards[0].Float32s())
		assert.Equal(t, []float32{2, 3, 5, 7}, shards[1].Float32s())
	})
}

func TestRuleFor(t *testing.T) {
	cfg := DefaultShapeConfig()
	meta := DefaultStateMeta()

	assert.IsType(t, axisRule{}, ruleFor("zero/embed.weight", meta, cfg))
	assert.IsType(t, expertFC1Rule{}, ruleFor("zero/layers.0.mlp.fc1.weight", meta, cfg))
	assert.IsType(t, expertFC2Rule{}, ruleFor("zero/layers.0.mlp.fc2.weight", meta, cfg))
	assert.Equal(t, qkvRule{cfg: cfg}, ruleFor("zero/layers.0.attn.Wqkv.weight", meta, cfg))
	assert.Equal(t, qkvRule{cfg: cfg, bias: true}, ruleFor("zero/layers.0.attn.Wqkv.bias", meta, cfg))

	meta.SubParams = 2
	assert.Equal(t, subParamRule{n: 2, axis: 0}, ruleFor("zero/layers.0.mlp.fc1.weight", meta, cfg))
}
