// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides the flat, partitioned optimizer that universal
// checkpoints are restored into.
//
// # Overview
//
// Parameters are handed to the optimizer as flat FP32 partitions, one per param
// group on each rank. This package contains:
//   - ZeroOptimizer: partitions, per-partition state and global bookkeeping
//   - Adam: AdamW update rule reading its hyperparameters from the group
//   - GlobalState: the msgpack blob saved next to a universal checkpoint
//
// # Basic Usage
//
//	flat := optim.NewFlatParam("group0", 1024)
//	opt := optim.NewZeroOptimizer([]*optim.ParamGroup{{
//	    Params: []*optim.FlatParam{flat},
//	    Hyper:  optim.Hyper{"lr": 1e-3},
//	}}, optim.Adam{}, nil)
//
//	if err := opt.Step(map[*optim.FlatParam]*tensor.RawTensor{flat: grad}); err != nil {
//	    return err
//	}
package optim

import (
	"github.com/born-ml/ucp/internal/optim"
	"github.com/born-ml/ucp/internal/parallel"
)

// ZeroOptimizer wraps an update rule with flat partitions and their state.
type ZeroOptimizer = optim.ZeroOptimizer

// ParamGroup is a set of partitions sharing hyperparameters.
type ParamGroup = optim.ParamGroup

// FlatParam is one flattened FP32 optimizer partition.
type FlatParam = optim.FlatParam

// Address is a flat [Start, Start+NumEl) element range.
type Address = optim.Address

// ParamState is the optimizer state of one partition.
type ParamState = optim.ParamState

// Hyper holds the hyperparameters of a param group.
type Hyper = optim.Hyper

// Rule is the update rule applied to every partition on Step.
type Rule = optim.Rule

// Adam implements AdamW over flat partitions.
type Adam = optim.Adam

// GlobalState is the optimizer-wide state saved with a universal checkpoint.
type GlobalState = optim.GlobalState

// ProcessGroup reports the tensor-parallel coordinates of the local process.
type ProcessGroup = parallel.ProcessGroup

// NewZeroOptimizer creates an optimizer over groups. mpu may be nil when not
// running tensor parallel.
func NewZeroOptimizer(groups []*ParamGroup, rule Rule, mpu ProcessGroup) *ZeroOptimizer {
	return optim.NewZeroOptimizer(groups, rule, mpu)
}

// NewFlatParam allocates a zero-filled partition of n elements.
func NewFlatParam(name string, n int) *FlatParam {
	return optim.NewFlatParam(name, n)
}

// NewStaticGroup creates a fixed tensor-parallel process group.
func NewStaticGroup(rank, worldSize int) (ProcessGroup, error) {
	g, err := parallel.NewStatic(rank, worldSize)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// ReadGlobalState decodes a msgpack-encoded GlobalState from path.
func ReadGlobalState(path string) (*GlobalState, error) {
	return optim.ReadGlobalState(path)
}

// WriteGlobalState encodes gs with msgpack and writes it to path.
func WriteGlobalState(path string, gs *GlobalState) error {
	return optim.WriteGlobalState(path, gs)
}
