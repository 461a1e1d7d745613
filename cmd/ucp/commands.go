package main

import (
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/born-ml/ucp/internal/optim"
	"github.com/born-ml/ucp/internal/serialization"
	"github.com/born-ml/ucp/internal/tensor"
	"github.com/born-ml/ucp/internal/ucp"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

func runInspect(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	dir := fs.String("dir", "", "Parameter folder (<checkpoint>/zero/<name>)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dir == "" {
		return errors.New("inspect: -dir is required")
	}

	keys, err := ucp.ListStateKeys(*dir)
	if err != nil {
		return err
	}
	for _, key := range keys {
		path := filepath.Join(*dir, key+ucp.StateFileExt)
		if key == ucp.StepKey {
			step, err := ucp.ReadStep(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%-12s %d\n", key, step)
			continue
		}
		st, err := ucp.ReadState(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%-12s %v cat_dim=%d sub_params=%d vocab=%t\n",
			key, st.Full, st.Meta.CatDim, st.Meta.SubParams, st.Meta.VocabTensor)
	}
	return nil
}

func runSlice(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("slice", flag.ContinueOnError)
	dir := fs.String("dir", "", "Parameter folder (<checkpoint>/zero/<name>)")
	shapeFlag := fs.String("shape", "", "Local (per-rank) parameter shape, e.g. 8,4")
	rank := fs.Int("tp-rank", 0, "Tensor-parallel rank")
	size := fs.Int("tp-size", 1, "Tensor-parallel world size")
	outPath := fs.String("out", "", "Output safetensors file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dir == "" || *shapeFlag == "" || *outPath == "" {
		return errors.New("slice: -dir, -shape and -out are required")
	}
	shape, err := parseShape(*shapeFlag)
	if err != nil {
		return err
	}
	cfg, err := ucp.ShapeConfigFromEnv()
	if err != nil {
		return err
	}

	name := filepath.Base(*dir)
	flat := optim.NewFlatParam(name, shape.NumElements())
	p, err := ucp.NewParam(name, shape)
	if err != nil {
		return err
	}
	whole := optim.Address{NumEl: shape.NumElements()}
	m, err := ucp.NewHPMapping(flat, whole, whole)
	if err != nil {
		return err
	}
	if err := p.Attach(m); err != nil {
		return err
	}

	step, err := p.LoadHPCheckpointState(*dir, *rank, *size, cfg)
	if err != nil {
		return err
	}

	tensors := make(map[string]*tensor.RawTensor)
	if tensors[ucp.FP32WeightKey], err = tensor.Reshape(flat.Data, shape); err != nil {
		return err
	}
	for _, key := range m.OptimStateKeys() {
		frag, _ := m.OptimFragment(key)
		if tensors[key], err = tensor.Reshape(frag, shape); err != nil {
			return err
		}
	}
	meta := map[string]string{"tp_rank": strconv.Itoa(*rank), "tp_size": strconv.Itoa(*size)}
	if step != nil {
		meta[ucp.StepKey] = strconv.FormatInt(*step, 10)
	}
	if err := serialization.WriteFile(*outPath, tensors, meta); err != nil {
		return err
	}
	klog.V(1).Infof("wrote %d tensors to %s", len(tensors), *outPath)
	fmt.Fprintf(out, "rank %d/%d of %s: %d tensors -> %s\n", *rank, *size, *dir, len(tensors), *outPath)
	return nil
}

func runMerge(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("merge", flag.ContinueOnError)
	outDir := fs.String("out", "", "Parameter folder to write (<checkpoint>/zero/<name>)")
	key := fs.String("key", ucp.FP32WeightKey, "State key to merge")
	catDim := fs.Int("cat-dim", 0, "Axis the shards are concatenated along")
	subParams := fs.Int("sub-params", 1, "Number of sub-params packed along -cat-dim")
	vocabRows := fs.Int("vocab-rows", 0, "Original vocabulary rows; strips TP padding when set")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *outDir == "" || fs.NArg() == 0 {
		return errors.New("merge: -out and at least one shard file are required")
	}
	cfg, err := ucp.ShapeConfigFromEnv()
	if err != nil {
		return err
	}

	shards := make([]*tensor.RawTensor, fs.NArg())
	for i, path := range fs.Args() {
		f, err := serialization.ReadFile(path)
		if err != nil {
			return err
		}
		if shards[i], err = f.Tensor(*key); err != nil {
			return errors.WithMessagef(err, "shard %s", path)
		}
	}

	meta := ucp.StateMeta{CatDim: *catDim, SubParams: *subParams}
	full, err := ucp.MergeShards(*outDir, shards, meta, cfg)
	if err != nil {
		return err
	}
	if *vocabRows > 0 {
		if full, err = ucp.StripVocabPadding(full, *vocabRows); err != nil {
			return err
		}
		meta.VocabTensor = true
	}
	if err := ucp.SaveState(*outDir, *key, full, meta); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s/%s%s: %v from %d shards\n", *outDir, *key, ucp.StateFileExt, full, len(shards))
	return nil
}

func parseShape(s string) (tensor.Shape, error) {
	parts := strings.Split(s, ",")
	shape := make(tensor.Shape, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid shape %q", s)
		}
		shape[i] = n
	}
	if err := shape.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid shape %q", s)
	}
	return shape, nil
}
