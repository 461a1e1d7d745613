// Package optim holds the flat, partitioned optimizer that universal checkpoints
// are restored into.
//
// Parameters are handed to the optimizer as flat FP32 partitions (one per param
// group on this rank). The model's low-precision parameters each own a fragment
// of such a partition; per-parameter optimizer state is merged back into
// partition-sized buffers with MapToFlatOptStates.
//
// Example usage:
//
//	flat := optim.NewFlatParam("group0", 1024)
//	opt := optim.NewZeroOptimizer([]*optim.ParamGroup{{
//	    Params: []*optim.FlatParam{flat},
//	    Hyper:  optim.Hyper{"lr": 1e-3, "betas": []any{0.9, 0.999}},
//	}}, optim.Adam{}, processGroup)
//
//	grads := map[*optim.FlatParam]*tensor.RawTensor{flat: grad}
//	if err := opt.Step(grads); err != nil {
//	    return err
//	}
package optim

import (
	"github.com/born-ml/ucp/internal/parallel"
	"github.com/born-ml/ucp/internal/tensor"
	"github.com/pkg/errors"
)

// ErrGroupCountMismatch is returned when saved state describes a different
// number of param groups than the live optimizer has.
var ErrGroupCountMismatch = errors.New("param group count mismatch")

// Address is a flat [Start, Start+NumEl) element range.
type Address struct {
	Start int
	NumEl int
}

// End returns the exclusive end of the range.
func (a Address) End() int { return a.Start + a.NumEl }

// FlatParam is one flattened FP32 optimizer partition.
type FlatParam struct {
	Name string
	Data *tensor.RawTensor // 1-D Float32
}

// NewFlatParam allocates a zero-filled partition of n elements.
func NewFlatParam(name string, n int) *FlatParam {
	data, err := tensor.NewRaw(tensor.Shape{n}, tensor.Float32)
	if err != nil {
		panic(err) // n < 0 is a programming error
	}
	return &FlatParam{Name: name, Data: data}
}

// ParamGroup is a set of partitions sharing hyperparameters.
type ParamGroup struct {
	Params []*FlatParam
	Hyper  Hyper
}

// ParamState is the optimizer state of one partition.
type ParamState struct {
	Step    int64
	HasStep bool
	Tensors map[string]*tensor.RawTensor // e.g. "exp_avg", "exp_avg_sq"
}

// Rule is the update rule applied to every partition on Step.
type Rule interface {
	Update(p *FlatParam, grad *tensor.RawTensor, st *ParamState, hyper Hyper) error
}

// ZeroOptimizer wraps an update rule with flat partitions, their state, and the
// global bookkeeping that is saved alongside universal checkpoints.
type ZeroOptimizer struct {
	ParamGroups []*ParamGroup
	Rule        Rule
	MPU         parallel.ProcessGroup // nil when not running tensor parallel

	LossScale        float64
	DynamicLossScale bool
	ClipGrad         float64
	Overflow         bool

	state map[*FlatParam]*ParamState
}

// NewZeroOptimizer creates an optimizer over groups. mpu may be nil.
func NewZeroOptimizer(groups []*ParamGroup, rule Rule, mpu parallel.ProcessGroup) *ZeroOptimizer {
	for _, g := range groups {
		if g.Hyper == nil {
			g.Hyper = Hyper{}
		}
	}
	return &ZeroOptimizer{
		ParamGroups: groups,
		Rule:        rule,
		MPU:         mpu,
		LossScale:   1,
		state:       make(map[*FlatParam]*ParamState),
	}
}

// State returns the state of p, creating an empty one on first access.
func (o *ZeroOptimizer) State(p *FlatParam) *ParamState {
	st, ok := o.state[p]
	if !ok {
		st = &ParamState{Tensors: make(map[string]*tensor.RawTensor)}
		o.state[p] = st
	}
	return st
}

// HasState reports whether p has any state yet.
func (o *ZeroOptimizer) HasState(p *FlatParam) bool {
	_, ok := o.state[p]
	return ok
}

// LoadGlobalState restores the global bookkeeping saved next to the
// per-parameter checkpoint folders. Param group hyperparameters are not
// touched here; they are copied group by group during restore.
func (o *ZeroOptimizer) LoadGlobalState(gs *GlobalState) error {
	if len(gs.ParamGroups) != len(o.ParamGroups) {
		return errors.Wrapf(ErrGroupCountMismatch, "saved %d, optimizer has %d", len(gs.ParamGroups), len(o.ParamGroups))
	}
	if gs.LossScale > 0 {
		o.LossScale = gs.LossScale
	}
	o.DynamicLossScale = gs.DynamicLossScale
	o.ClipGrad = gs.ClipGrad
	o.Overflow = gs.Overflow
	return nil
}

// GlobalState snapshots the bookkeeping and param group hyperparameters.
// Each group lists the indices of its partitions under "params".
func (o *ZeroOptimizer) GlobalState() *GlobalState {
	gs := &GlobalState{
		LossScale:        o.LossScale,
		DynamicLossScale: o.DynamicLossScale,
		ClipGrad:         o.ClipGrad,
		Overflow:         o.Overflow,
	}
	next := 0
	for _, g := range o.ParamGroups {
		saved := make(map[string]any, len(g.Hyper)+1)
		for k, v := range g.Hyper {
			saved[k] = v
		}
		ids := make([]int, len(g.Params))
		for i := range g.Params {
			ids[i] = next
			next++
		}
		saved[ParamsKey] = ids
		gs.ParamGroups = append(gs.ParamGroups, saved)
	}
	return gs
}

// Step applies the update rule to every partition that has a gradient.
func (o *ZeroOptimizer) Step(grads map[*FlatParam]*tensor.RawTensor) error {
	for _, g := range o.ParamGroups {
		for _, p := range g.Params {
			grad, ok := grads[p]
			if !ok {
				continue
			}
			if err := o.Rule.Update(p, grad, o.State(p), g.Hyper); err != nil {
				return errors.WithMessagef(err, "updating %s", p.Name)
			}
		}
	}
	return nil
}
