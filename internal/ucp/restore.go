package ucp

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/born-ml/ucp/internal/optim"
	"github.com/born-ml/ucp/internal/parallel"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// LoadFromCheckpointDir restores opt from the universal checkpoint in
// checkpointDir. lpGroups[i] holds the local parameters of opt.ParamGroups[i];
// parameters without a mapping are skipped. Every mapped parameter is loaded
// from <checkpointDir>/zero/<name>, its fragments are merged into the flat
// partitions and the saved group hyperparameters replace the live ones.
//
// On error the optimizer may be partially updated and should be discarded.
func LoadFromCheckpointDir(opt *optim.ZeroOptimizer, lpGroups [][]*Param, checkpointDir string, cfg ShapeConfig) error {
	statePath := filepath.Join(checkpointDir, ZeroDir, OptimizerStateFile)
	if _, err := os.Stat(statePath); err != nil {
		return errors.Wrapf(ErrMissingGlobalState, "%s: %v", statePath, err)
	}
	gs, err := optim.ReadGlobalState(statePath)
	if err != nil {
		return err
	}
	if err := opt.LoadGlobalState(gs); err != nil {
		return err
	}
	if len(lpGroups) != len(opt.ParamGroups) {
		return errors.Wrapf(optim.ErrGroupCountMismatch, "%d parameter groups for %d optimizer groups",
			len(lpGroups), len(opt.ParamGroups))
	}

	tpRank, tpWorldSize, ok := parallel.TensorParallel(opt.MPU)
	if !ok {
		klog.Warning("no tensor-parallel process group, loading universal checkpoint with world size 1")
	}
	klog.V(1).Infof("loading universal checkpoint %s as rank %d of %d", checkpointDir, tpRank, tpWorldSize)

	for i, group := range opt.ParamGroups {
		if err := loadGroup(opt, lpGroups[i], checkpointDir, tpRank, tpWorldSize, cfg); err != nil {
			return errors.WithMessagef(err, "param group %d", i)
		}
		for k, v := range gs.ParamGroups[i] {
			if k == optim.ParamsKey {
				continue
			}
			group.Hyper[k] = v
		}
	}
	return nil
}

func loadGroup(opt *optim.ZeroOptimizer, params []*Param, checkpointDir string, tpRank, tpWorldSize int, cfg ShapeConfig) error {
	var (
		steps   []*int64
		flats   []*optim.FlatParam
		byFlat  = make(map[*optim.FlatParam][]optim.Fragment)
		keysSet = make(map[string]struct{})
	)
	for _, p := range params {
		m := p.Mapping()
		if m == nil {
			continue
		}
		step, err := p.LoadHPCheckpointState(ParamDir(checkpointDir, p.Name), tpRank, tpWorldSize, cfg)
		if err != nil {
			return errors.WithMessagef(err, "param %s", p.Name)
		}
		steps = append(steps, step)

		if _, seen := byFlat[m.Flat()]; !seen {
			flats = append(flats, m.Flat())
		}
		byFlat[m.Flat()] = append(byFlat[m.Flat()], m)
		for _, k := range m.OptimStateKeys() {
			keysSet[k] = struct{}{}
		}
	}
	if len(steps) == 0 {
		return nil
	}

	step, err := commonStep(steps)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(keysSet))
	for k := range keysSet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, flat := range flats {
		st := opt.State(flat)
		if step != nil {
			st.Step = *step
			st.HasStep = true
		}
		if err := optim.MapToFlatOptStates(flat, byFlat[flat], st, keys); err != nil {
			return err
		}
	}
	return nil
}

// commonStep returns the step shared by every loaded parameter of a group.
func commonStep(steps []*int64) (*int64, error) {
	first := steps[0]
	for _, s := range steps[1:] {
		switch {
		case first == nil && s == nil:
		case first == nil || s == nil:
			return nil, errors.Wrap(ErrStepMismatch, "some parameters have no step")
		case *first != *s:
			return nil, errors.Wrapf(ErrStepMismatch, "%d != %d", *first, *s)
		}
	}
	return first, nil
}
