package ucp

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/born-ml/ucp/internal/optim"
	"github.com/born-ml/ucp/internal/serialization"
	"github.com/born-ml/ucp/internal/tensor"
	"github.com/pkg/errors"
)

// Names used inside a universal checkpoint.
const (
	FP32WeightKey      = "fp32"
	StepKey            = "step"
	ParamKey           = "param"
	CatDimKey          = "cat_dim"
	SubParamsKey       = "param_n_sub_params"
	VocabTensorKey     = "vocab_tensor"
	StateFileExt       = ".pt"
	ZeroDir            = "zero"
	OptimizerStateFile = "optimizer_state.pt"
)

var stateFileRe = regexp.MustCompile(`^(.+)\.pt$`)

// StateMeta is the layout information saved with a full tensor.
type StateMeta struct {
	CatDim      int  // Axis the tensor-parallel slices were concatenated along
	SubParams   int  // Number of logical parameters packed along CatDim (1 = none)
	VocabTensor bool // Axis 0 is a vocabulary whose TP padding was stripped
}

// DefaultStateMeta returns the layout assumed when a file carries no metadata.
func DefaultStateMeta() StateMeta {
	return StateMeta{CatDim: 0, SubParams: 1}
}

// State is one decoded state file.
type State struct {
	Full *tensor.RawTensor
	Meta StateMeta
}

// ParamDir returns the folder holding the state files of a parameter.
func ParamDir(checkpointDir, name string) string {
	return filepath.Join(checkpointDir, ZeroDir, name)
}

// ListStateKeys returns the state keys present in folder, sorted.
func ListStateKeys(folder string) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", folder)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if m := stateFileRe.FindStringSubmatch(e.Name()); m != nil {
			keys = append(keys, m[1])
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// ReadState decodes a state file holding a full tensor.
func ReadState(path string) (*State, error) {
	f, err := serialization.ReadFile(path)
	if err != nil {
		return nil, err
	}
	full, err := f.Tensor(ParamKey)
	if err != nil {
		return nil, errors.WithMessagef(err, "loading %s", path)
	}
	meta, err := parseMeta(f.Metadata)
	if err != nil {
		return nil, errors.WithMessagef(err, "loading %s", path)
	}
	return &State{Full: full, Meta: meta}, nil
}

func parseMeta(md map[string]string) (StateMeta, error) {
	meta := DefaultStateMeta()
	if v, ok := md[CatDimKey]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return meta, errors.Wrapf(err, "invalid %s", CatDimKey)
		}
		meta.CatDim = n
	}
	if v, ok := md[SubParamsKey]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return meta, errors.Wrapf(err, "invalid %s", SubParamsKey)
		}
		if n < 1 {
			return meta, errors.Errorf("invalid %s %d", SubParamsKey, n)
		}
		meta.SubParams = n
	}
	if v, ok := md[VocabTensorKey]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return meta, errors.Wrapf(err, "invalid %s", VocabTensorKey)
		}
		meta.VocabTensor = b
	}
	return meta, nil
}

func (m StateMeta) encode() map[string]string {
	return map[string]string{
		CatDimKey:      strconv.Itoa(m.CatDim),
		SubParamsKey:   strconv.Itoa(m.SubParams),
		VocabTensorKey: strconv.FormatBool(m.VocabTensor),
	}
}

// SaveState writes full as <folder>/<key>.pt, creating folder if needed.
func SaveState(folder, key string, full *tensor.RawTensor, meta StateMeta) error {
	if err := os.MkdirAll(folder, 0o750); err != nil {
		return errors.Wrapf(err, "creating %s", folder)
	}
	path := filepath.Join(folder, key+StateFileExt)
	return serialization.WriteFile(path, map[string]*tensor.RawTensor{ParamKey: full}, meta.encode())
}

// SaveStep writes the step counter of a parameter.
func SaveStep(folder string, step int64) error {
	if err := os.MkdirAll(folder, 0o750); err != nil {
		return errors.Wrapf(err, "creating %s", folder)
	}
	path := filepath.Join(folder, StepKey+StateFileExt)
	return serialization.WriteFile(path, nil, map[string]string{StepKey: strconv.FormatInt(step, 10)})
}

// ReadStep decodes a step file.
func ReadStep(path string) (int64, error) {
	f, err := serialization.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, ok := f.Metadata[StepKey]
	if !ok {
		return 0, errors.Errorf("%s has no %q entry", path, StepKey)
	}
	step, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid step in %s", path)
	}
	return step, nil
}

// SaveGlobalState writes the optimizer-wide state of a checkpoint.
func SaveGlobalState(checkpointDir string, gs *optim.GlobalState) error {
	dir := filepath.Join(checkpointDir, ZeroDir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrapf(err, "creating %s", dir)
	}
	return optim.WriteGlobalState(filepath.Join(dir, OptimizerStateFile), gs)
}
