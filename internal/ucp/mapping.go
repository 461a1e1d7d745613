package ucp

import (
	"path/filepath"
	"sort"

	"github.com/born-ml/ucp/internal/optim"
	"github.com/born-ml/ucp/internal/tensor"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// HPMapping links a low-precision parameter to the fragment of a flat FP32
// optimizer partition it owns.
type HPMapping struct {
	flat   *optim.FlatParam
	lpAddr optim.Address // range inside the flattened local parameter
	hpAddr optim.Address // range inside the flat partition

	optimState map[string]*tensor.RawTensor
}

// NewHPMapping maps lpAddr of a local parameter onto hpAddr of flat.
func NewHPMapping(flat *optim.FlatParam, lpAddr, hpAddr optim.Address) (*HPMapping, error) {
	if lpAddr.NumEl != hpAddr.NumEl {
		return nil, errors.Wrapf(ErrSizeMismatch, "lp fragment %+v, hp fragment %+v", lpAddr, hpAddr)
	}
	if lpAddr.Start < 0 || hpAddr.Start < 0 || hpAddr.End() > flat.Data.NumElements() {
		return nil, errors.Errorf("hp fragment %+v outside partition %s of %d elements",
			hpAddr, flat.Name, flat.Data.NumElements())
	}
	return &HPMapping{
		flat:       flat,
		lpAddr:     lpAddr,
		hpAddr:     hpAddr,
		optimState: make(map[string]*tensor.RawTensor),
	}, nil
}

// Flat returns the partition the fragment lives in.
func (m *HPMapping) Flat() *optim.FlatParam { return m.flat }

// LPFragmentAddress is the range of the local parameter covered by the fragment.
func (m *HPMapping) LPFragmentAddress() optim.Address { return m.lpAddr }

// HPFragmentAddress implements optim.Fragment.
func (m *HPMapping) HPFragmentAddress() optim.Address { return m.hpAddr }

// HPFragment returns a view of the fragment's FP32 weights.
func (m *HPMapping) HPFragment() (*tensor.RawTensor, error) {
	v, err := tensor.Narrow(m.flat.Data, 0, m.hpAddr.Start, m.hpAddr.NumEl)
	if err != nil {
		return nil, errors.Wrapf(err, "hp fragment %+v of partition %s", m.hpAddr, m.flat.Name)
	}
	return v, nil
}

// OptimFragment implements optim.Fragment.
func (m *HPMapping) OptimFragment(key string) (*tensor.RawTensor, bool) {
	t, ok := m.optimState[key]
	return t, ok
}

// SetOptimFragment implements optim.Fragment.
func (m *HPMapping) SetOptimFragment(key string, t *tensor.RawTensor) { m.optimState[key] = t }

// OptimStateKeys returns the optimizer state keys held by the fragment, sorted.
func (m *HPMapping) OptimStateKeys() []string {
	keys := make([]string, 0, len(m.optimState))
	for k := range m.optimState {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Param is a local low-precision parameter: one tensor-parallel slice of a
// model weight, stored in float16.
type Param struct {
	Name  string
	Shape tensor.Shape
	Data  *tensor.RawTensor

	mapping *HPMapping
}

// NewParam allocates a zero float16 parameter of the given local shape.
func NewParam(name string, shape tensor.Shape) (*Param, error) {
	data, err := tensor.NewRaw(shape, tensor.Float16)
	if err != nil {
		return nil, errors.Wrapf(err, "param %s", name)
	}
	return &Param{Name: name, Shape: shape.Clone(), Data: data}, nil
}

// Attach sets the parameter's optimizer fragment mapping.
func (p *Param) Attach(m *HPMapping) error {
	if m.lpAddr.End() > p.NumElements() {
		return errors.Errorf("param %s: lp fragment %+v exceeds %d elements", p.Name, m.lpAddr, p.NumElements())
	}
	p.mapping = m
	return nil
}

// Mapping returns the fragment mapping, or nil when the parameter owns no part
// of this rank's optimizer partitions.
func (p *Param) Mapping() *HPMapping { return p.mapping }

// NumElements returns the element count of the local slice.
func (p *Param) NumElements() int { return p.Shape.NumElements() }

// LoadHPCheckpointState fills the parameter's fragment from the universal
// checkpoint folder of the parameter. The FP32 weight is copied into the flat
// partition in place; every other state key is stored as an optimizer fragment.
// Optimizer fragments from an earlier load are discarded.
// It returns the saved step, or nil when the folder has no step file.
func (p *Param) LoadHPCheckpointState(folder string, tpRank, tpWorldSize int, cfg ShapeConfig) (*int64, error) {
	m := p.mapping
	if m == nil {
		return nil, errors.Wrapf(ErrNoMapping, "param %s", p.Name)
	}
	m.optimState = make(map[string]*tensor.RawTensor)
	keys, err := ListStateKeys(folder)
	if err != nil {
		return nil, err
	}

	var step *int64
	for _, key := range keys {
		path := filepath.Join(folder, key+StateFileExt)
		if key == StepKey {
			s, err := ReadStep(path)
			if err != nil {
				return nil, err
			}
			step = &s
			continue
		}

		st, err := ReadState(path)
		if err != nil {
			return nil, err
		}
		frag, err := p.fragmentOf(folder, path, st, tpRank, tpWorldSize, cfg)
		if err != nil {
			return nil, err
		}

		if key == FP32WeightKey {
			dst, err := m.HPFragment()
			if err != nil {
				return nil, errors.WithMessagef(err, "loading %s", path)
			}
			if dst.NumElements() != frag.NumElements() {
				return nil, errors.Wrapf(ErrSizeMismatch, "%s: hp fragment %d, checkpoint fragment %d",
					path, dst.NumElements(), frag.NumElements())
			}
			if frag.DType() != dst.DType() {
				if frag, err = tensor.Cast(frag, dst.DType()); err != nil {
					return nil, errors.Wrapf(err, "loading %s", path)
				}
			}
			if err := dst.CopyFrom(frag); err != nil {
				return nil, errors.Wrapf(err, "loading %s", path)
			}
			continue
		}
		m.SetOptimFragment(key, frag.Clone())
	}
	return step, nil
}

// fragmentOf cuts the part of a full tensor owned by this parameter's fragment.
func (p *Param) fragmentOf(folder, path string, st *State, tpRank, tpWorldSize int, cfg ShapeConfig) (*tensor.RawTensor, error) {
	full := st.Full
	rank, world := tpRank, tpWorldSize

	// Averaged across ranks at save time; nothing to split.
	if full.NumElements() == p.NumElements() {
		rank, world = 0, 1
	}

	if st.Meta.VocabTensor && len(p.Shape) > 0 && len(full.Shape()) > 0 {
		target := p.Shape[0] * world
		rows := full.Shape()[0]
		if target < rows {
			return nil, errors.Wrapf(ErrVocabTooLarge, "%s: %d rows, padded target %d", path, rows, target)
		}
		if target > rows {
			padded, err := tensor.PadEnd(full, 0, target-rows)
			if err != nil {
				return nil, errors.Wrapf(err, "padding %s", path)
			}
			full = padded
		}
	}

	if full.NumElements() != world*p.NumElements() {
		return nil, errors.Wrapf(ErrNumelMismatch, "%s: full %v (%d) vs %d x local %v (%d)",
			path, full.Shape(), full.NumElements(), world, p.Shape, p.NumElements())
	}

	var slice *tensor.RawTensor
	if world == 1 {
		slice = full
	} else {
		rule := ruleFor(folder, st.Meta, cfg)
		klog.V(1).Infof("%s: %s (%s)", path, rule, cfg)
		var err error
		if slice, err = rule.slice(full, rank, world); err != nil {
			return nil, errors.WithMessagef(err, "slicing %s for rank %d of %d", path, rank, world)
		}
	}

	lp := p.mapping.lpAddr
	frag, err := tensor.Narrow(tensor.Flatten(slice), 0, lp.Start, lp.NumEl)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: lp fragment %+v", path, lp)
	}
	return frag, nil
}

// SyncFromHP writes the FP32 fragment back into the float16 parameter data.
func (p *Param) SyncFromHP() error {
	m := p.mapping
	if m == nil {
		return nil
	}
	hp, err := m.HPFragment()
	if err != nil {
		return errors.WithMessagef(err, "param %s", p.Name)
	}
	half, err := tensor.Cast(hp, p.Data.DType())
	if err != nil {
		return errors.Wrapf(err, "param %s", p.Name)
	}
	dst, err := tensor.Narrow(tensor.Flatten(p.Data), 0, m.lpAddr.Start, m.lpAddr.NumEl)
	if err != nil {
		return errors.Wrapf(err, "param %s", p.Name)
	}
	return errors.Wrapf(dst.CopyFrom(half), "param %s", p.Name)
}

// SyncLPParams refreshes every low-precision parameter from its FP32 fragment.
func SyncLPParams(groups [][]*Param) error {
	for _, group := range groups {
		for _, p := range group {
			if err := p.SyncFromHP(); err != nil {
				return err
			}
		}
	}
	return nil
}
