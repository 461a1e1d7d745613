// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package loader loads universal checkpoints into a tensor-parallel,
// mixed-precision training run.
//
// This package wraps the internal implementation and exports a clean public API.
//
// Example usage:
//
//	import (
//	    "github.com/born-ml/ucp/loader"
//	    "github.com/born-ml/ucp/optim"
//	)
//
//	flat := optim.NewFlatParam("group0", 4096)
//	w, _ := loader.NewParam("layers.0.attn.out_proj.weight", tensor.Shape{64, 64})
//	m, _ := loader.NewHPMapping(flat, optim.Address{NumEl: 4096}, optim.Address{NumEl: 4096})
//	_ = w.Attach(m)
//
//	cfg, err := loader.ShapeConfigFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := loader.LoadFromCheckpointDir(opt, [][]*loader.Param{{w}}, "ckpt/global_step100", cfg); err != nil {
//	    log.Fatal(err)
//	}
//	if err := loader.SyncLPParams([][]*loader.Param{{w}}); err != nil {
//	    log.Fatal(err)
//	}
package loader

import (
	"github.com/born-ml/ucp/internal/optim"
	"github.com/born-ml/ucp/internal/tensor"
	"github.com/born-ml/ucp/internal/ucp"
)

// Param is a local low-precision parameter slice.
type Param = ucp.Param

// HPMapping links a Param to its fragment of a flat FP32 partition.
type HPMapping = ucp.HPMapping

// Address is a flat element range.
type Address = optim.Address

// ShapeConfig describes the dimensions needed to undo fused layer layouts.
type ShapeConfig = ucp.ShapeConfig

// StateMeta is the layout information saved with a full tensor.
type StateMeta = ucp.StateMeta

// Loading errors, matchable with errors.Is.
var (
	ErrNumelMismatch      = ucp.ErrNumelMismatch
	ErrVocabTooLarge      = ucp.ErrVocabTooLarge
	ErrSizeMismatch       = ucp.ErrSizeMismatch
	ErrStepMismatch       = ucp.ErrStepMismatch
	ErrMissingGlobalState = ucp.ErrMissingGlobalState
)

// NewParam allocates a zero float16 parameter of the given local shape.
func NewParam(name string, shape tensor.Shape) (*Param, error) {
	return ucp.NewParam(name, shape)
}

// NewHPMapping maps lpAddr of a local parameter onto hpAddr of flat.
func NewHPMapping(flat *optim.FlatParam, lpAddr, hpAddr Address) (*HPMapping, error) {
	return ucp.NewHPMapping(flat, lpAddr, hpAddr)
}

// DefaultShapeConfig returns the dimensions used when the environment is silent.
func DefaultShapeConfig() ShapeConfig {
	return ucp.DefaultShapeConfig()
}

// ShapeConfigFromEnv reads NUM_EXPERTS, HIDDEN_SIZE, N_HEAD, N_HEAD_KV and
// HEAD_DIM over the defaults.
func ShapeConfigFromEnv() (ShapeConfig, error) {
	return ucp.ShapeConfigFromEnv()
}

// LoadFromCheckpointDir restores opt from the universal checkpoint in dir.
// lpGroups[i] holds the local parameters of the optimizer's i-th param group.
func LoadFromCheckpointDir(opt *optim.ZeroOptimizer, lpGroups [][]*Param, dir string, cfg ShapeConfig) error {
	return ucp.LoadFromCheckpointDir(opt, lpGroups, dir, cfg)
}

// SyncLPParams refreshes every low-precision parameter from its FP32 fragment.
func SyncLPParams(groups [][]*Param) error {
	return ucp.SyncLPParams(groups)
}

// MergeShards rebuilds a full tensor from per-rank slices for the parameter
// folder.
func MergeShards(folder string, shards []*tensor.RawTensor, meta StateMeta, cfg ShapeConfig) (*tensor.RawTensor, error) {
	return ucp.MergeShards(folder, shards, meta, cfg)
}

// SaveState writes a full tensor as <folder>/<key>.pt.
func SaveState(folder, key string, full *tensor.RawTensor, meta StateMeta) error {
	return ucp.SaveState(folder, key, full, meta)
}

// SaveStep writes the step counter of a parameter.
func SaveStep(folder string, step int64) error {
	return ucp.SaveStep(folder, step)
}

// SaveGlobalState writes the optimizer-wide state of a checkpoint.
func SaveGlobalState(checkpointDir string, gs *optim.GlobalState) error {
	return ucp.SaveGlobalState(checkpointDir, gs)
}

// ParamDir returns the folder holding the state files of a parameter.
func ParamDir(checkpointDir, name string) string {
	return ucp.ParamDir(checkpointDir, name)
}
