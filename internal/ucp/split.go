package ucp

import (
	"fmt"
	"strings"

	"github.com/born-ml/ucp/internal/tensor"
	"github.com/pkg/errors"
)

// Folder substrings that select a fused-layer layout.
const (
	ExpertFC1Pattern = "mlp.fc1.weight"
	ExpertFC2Pattern = "mlp.fc2.weight"
	QKVWeightPattern = "attn.Wqkv.weight"
	QKVBiasPattern   = "attn.Wqkv.bias"
)

// splitRule maps between a full tensor and its tensor-parallel slices.
// slice and merge are inverses: merging the slices of every rank rebuilds the
// full tensor's data.
type splitRule interface {
	slice(full *tensor.RawTensor, rank, world int) (*tensor.RawTensor, error)
	merge(shards []*tensor.RawTensor) (*tensor.RawTensor, error)
	String() string
}

// ruleFor picks the layout of the state stored in folder. Packed sub-parameters
// win over the fused-layer patterns, which win over a plain axis split.
func ruleFor(folder string, meta StateMeta, cfg ShapeConfig) splitRule {
	if meta.SubParams > 1 {
		return subParamRule{n: meta.SubParams, axis: meta.CatDim}
	}
	switch {
	case strings.Contains(folder, ExpertFC1Pattern):
		return expertFC1Rule{cfg}
	case strings.Contains(folder, ExpertFC2Pattern):
		return expertFC2Rule{cfg}
	case strings.Contains(folder, QKVWeightPattern):
		return qkvRule{cfg: cfg}
	case strings.Contains(folder, QKVBiasPattern):
		return qkvRule{cfg: cfg, bias: true}
	default:
		return axisRule{axis: meta.CatDim}
	}
}

// evenChunks splits x into exactly n equal pieces along axis.
func evenChunks(x *tensor.RawTensor, n, axis int) ([]*tensor.RawTensor, error) {
	parts, err := tensor.Chunk(x, n, axis)
	if err != nil {
		return nil, err
	}
	if len(parts) != n || parts[0].NumElements()*n != x.NumElements() {
		ax := axis
		if ax < 0 {
			ax += len(x.Shape())
		}
		sizes := make([]int, len(parts))
		for i, part := range parts {
			sizes[i] = part.Shape()[ax]
		}
		return nil, errors.Wrapf(ErrUnevenSplit, "shape %v axis %d into %d ranks: got %d pieces of sizes %v",
			x.Shape(), axis, n, len(parts), sizes)
	}
	return parts, nil
}

// chunkSelect returns the rank-th of world equal pieces of x along axis.
func chunkSelect(x *tensor.RawTensor, world, axis, rank int) (*tensor.RawTensor, error) {
	if rank < 0 || rank >= world {
		return nil, errors.Errorf("rank %d out of range for world size %d", rank, world)
	}
	parts, err := evenChunks(x, world, axis)
	if err != nil {
		return nil, err
	}
	return parts[rank], nil
}

// axisRule is the plain layout: slices were concatenated along one axis.
type axisRule struct{ axis int }

func (r axisRule) slice(full *tensor.RawTensor, rank, world int) (*tensor.RawTensor, error) {
	return chunkSelect(full, world, r.axis, rank)
}

func (r axisRule) merge(shards []*tensor.RawTensor) (*tensor.RawTensor, error) {
	return tensor.Concat(shards, r.axis)
}

func (r axisRule) String() string { return fmt.Sprintf("chunk along axis %d", r.axis) }

// subParamRule handles n logical parameters packed along axis; each one is
// sliced across ranks on its own.
type subParamRule struct{ n, axis int }

func (r subParamRule) slice(full *tensor.RawTensor, rank, world int) (*tensor.RawTensor, error) {
	parts, err := evenChunks(full, r.n, r.axis)
	if err != nil {
		return nil, errors.WithMessage(err, "sub-params")
	}
	pieces := make([]*tensor.RawTensor, len(parts))
	for i, p := range parts {
		if pieces[i], err = chunkSelect(p, world, r.axis, rank); err != nil {
			return nil, errors.WithMessagef(err, "sub-param %d", i)
		}
	}
	return tensor.Concat(pieces, r.axis)
}

func (r subParamRule) merge(shards []*tensor.RawTensor) (*tensor.RawTensor, error) {
	perSub := make([][]*tensor.RawTensor, r.n)
	for rank, shard := range shards {
		parts, err := evenChunks(shard, r.n, r.axis)
		if err != nil {
			return nil, errors.WithMessagef(err, "rank %d sub-params", rank)
		}
		for i, p := range parts {
			perSub[i] = append(perSub[i], p)
		}
	}
	subs := make([]*tensor.RawTensor, r.n)
	for i, pieces := range perSub {
		sub, err := tensor.Concat(pieces, r.axis)
		if err != nil {
			return nil, err
		}
		subs[i] = sub
	}
	return tensor.Concat(subs, r.axis)
}

func (r subParamRule) String() string {
	return fmt.Sprintf("%d sub-params along axis %d", r.n, r.axis)
}

// expertFC1Rule: [expert, act+swiglu_gate, hidden2, hidden1], sliced on hidden2.
type expertFC1Rule struct{ cfg ShapeConfig }

func (r expertFC1Rule) view(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	return tensor.Reshape(x, tensor.Shape{r.cfg.NumExperts, 2, -1, r.cfg.HiddenSize})
}

func (r expertFC1Rule) slice(full *tensor.RawTensor, rank, world int) (*tensor.RawTensor, error) {
	v, err := r.view(full)
	if err != nil {
		return nil, err
	}
	return chunkSelect(v, world, 2, rank)
}

func (r expertFC1Rule) merge(shards []*tensor.RawTensor) (*tensor.RawTensor, error) {
	views := make([]*tensor.RawTensor, len(shards))
	for i, s := range shards {
		v, err := r.view(s)
		if err != nil {
			return nil, errors.WithMessagef(err, "rank %d", i)
		}
		views[i] = v
	}
	full, err := tensor.Concat(views, 2)
	if err != nil {
		return nil, err
	}
	return tensor.Reshape(full, tensor.Shape{-1, r.cfg.HiddenSize})
}

func (r expertFC1Rule) String() string {
	return fmt.Sprintf("reshape to [%d, 2, -1, %d] ([expert, act+swiglu_gate, hidden2, hidden1])",
		r.cfg.NumExperts, r.cfg.HiddenSize)
}

// expertFC2Rule: [expert, hidden2, hidden1], sliced on hidden2.
type expertFC2Rule struct{ cfg ShapeConfig }

func (r expertFC2Rule) view(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	return tensor.Reshape(x, tensor.Shape{r.cfg.NumExperts, -1, r.cfg.HiddenSize})
}

func (r expertFC2Rule) slice(full *tensor.RawTensor, rank, world int) (*tensor.RawTensor, error) {
	v, err := r.view(full)
	if err != nil {
		return nil, err
	}
	return chunkSelect(v, world, 1, rank)
}

func (r expertFC2Rule) merge(shards []*tensor.RawTensor) (*tensor.RawTensor, error) {
	views := make([]*tensor.RawTensor, len(shards))
	for i, s := range shards {
		v, err := r.view(s)
		if err != nil {
			return nil, errors.WithMessagef(err, "rank %d", i)
		}
		views[i] = v
	}
	full, err := tensor.Concat(views, 1)
	if err != nil {
		return nil, err
	}
	return tensor.Reshape(full, tensor.Shape{-1, r.cfg.HiddenSize})
}

func (r expertFC2Rule) String() string {
	return fmt.Sprintf("reshape to [%d, -1, %d] ([expert, hidden2, hidden1])", r.cfg.NumExperts, r.cfg.HiddenSize)
}

// qkvRule handles a fused query-key-value projection: query, key and value
// heads are stacked along axis 0 and each block is sliced across ranks
// separately, since key/value may have fewer heads than query.
type qkvRule struct {
	cfg  ShapeConfig
	bias bool
}

// rows returns the query, key and value row counts of the full tensor.
func (r qkvRule) rows() (q, k, v int) {
	return r.cfg.NHead * r.cfg.HeadDim, r.cfg.NHeadKV * r.cfg.HeadDim, r.cfg.NHeadKV * r.cfg.HeadDim
}

func (r qkvRule) view(x *tensor.RawTensor, rows int) (*tensor.RawTensor, error) {
	if r.bias {
		return tensor.Flatten(x), nil
	}
	return tensor.Reshape(x, tensor.Shape{rows, r.cfg.HiddenSize})
}

func (r qkvRule) slice(full *tensor.RawTensor, rank, world int) (*tensor.RawTensor, error) {
	q, k, _ := r.rows()
	total := (r.cfg.NHead + 2*r.cfg.NHeadKV) * r.cfg.HeadDim
	x, err := r.view(full, total)
	if err != nil {
		return nil, err
	}
	bounds := []int{0, q, q + k, x.Shape()[0]}
	pieces := make([]*tensor.RawTensor, 3)
	for i := range pieces {
		block, err := tensor.Narrow(x, 0, bounds[i], bounds[i+1]-bounds[i])
		if err != nil {
			return nil, errors.WithMessagef(err, "qkv block %d", i)
		}
		if pieces[i], err = chunkSelect(block, world, 0, rank); err != nil {
			return nil, errors.WithMessagef(err, "qkv block %d", i)
		}
	}
	return tensor.Concat(pieces, 0)
}

func (r qkvRule) merge(shards []*tensor.RawTensor) (*tensor.RawTensor, error) {
	world := len(shards)
	q, k, _ := r.rows()
	if q%world != 0 || k%world != 0 {
		return nil, errors.Wrapf(ErrUnevenSplit, "q rows %d, kv rows %d into %d", q, k, world)
	}
	blocks := make([][]*tensor.RawTensor, 3)
	for rank, shard := range shards {
		x, err := r.view(shard, -1)
		if err != nil {
			return nil, errors.WithMessagef(err, "rank %d", rank)
		}
		sizes := []int{q / world, k / world, x.Shape()[0] - (q+k)/world}
		parts, err := tensor.Split(x, 0, sizes)
		if err != nil {
			return nil, errors.WithMessagef(err, "rank %d", rank)
		}
		for i, p := range parts {
			blocks[i] = append(blocks[i], p)
		}
	}
	merged := make([]*tensor.RawTensor, 3)
	for i, b := range blocks {
		m, err := tensor.Concat(b, 0)
		if err != nil {
			return nil, err
		}
		merged[i] = m
	}
	return tensor.Concat(merged, 0)
}

func (r qkvRule) String() string {
	total := (r.cfg.NHead + 2*r.cfg.NHeadKV) * r.cfg.HeadDim
	if r.bias {
		return fmt.Sprintf("split bias into q/k/v of [%d]", total)
	}
	return fmt.Sprintf("reshape to [%d, %d] ([(n_head+n_head_kv*2)*head_dim, hidden])", total, r.cfg.HiddenSize)
}
