package ucp

import (
	"github.com/born-ml/ucp/internal/tensor"
	"github.com/pkg/errors"
)

// MergeShards rebuilds a full tensor from the tensor-parallel slices of every
// rank, in rank order. folder selects the fused-layer layout the same way
// loading does, so MergeShards followed by a load returns each rank its slice.
func MergeShards(folder string, shards []*tensor.RawTensor, meta StateMeta, cfg ShapeConfig) (*tensor.RawTensor, error) {
	if len(shards) == 0 {
		return nil, errors.New("no shards to merge")
	}
	if len(shards) == 1 {
		return shards[0].Clone(), nil
	}
	rule := ruleFor(folder, meta, cfg)
	full, err := rule.merge(shards)
	if err != nil {
		return nil, errors.WithMessagef(err, "merging %d shards of %s (%s)", len(shards), folder, rule)
	}
	return full, nil
}

// StripVocabPadding drops the rows added to a vocabulary tensor to make it
// divisible by the tensor-parallel world size, keeping the first rows rows.
func StripVocabPadding(full *tensor.RawTensor, rows int) (*tensor.RawTensor, error) {
	if len(full.Shape()) == 0 {
		return nil, errors.New("cannot strip vocabulary padding from a scalar")
	}
	have := full.Shape()[0]
	if rows > have || rows < 0 {
		return nil, errors.Wrapf(ErrVocabTooLarge, "%d rows requested from %d", rows, have)
	}
	v, err := tensor.Narrow(full, 0, 0, rows)
	if err != nil {
		return nil, err
	}
	return v.Clone(), nil
}
