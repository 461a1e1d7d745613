package ucp

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// Environment variables consulted for fused-layer shape reconstruction.
const (
	EnvNumExperts = "NUM_EXPERTS"
	EnvHiddenSize = "HIDDEN_SIZE"
	EnvNHead      = "N_HEAD"
	EnvNHeadKV    = "N_HEAD_KV"
	EnvHeadDim    = "HEAD_DIM"
)

// ShapeConfig describes the model dimensions needed to undo the fused layouts
// of expert MLP and query-key-value attention weights.
type ShapeConfig struct {
	NumExperts int
	HiddenSize int
	NHead      int
	NHeadKV    int
	HeadDim    int
}

// DefaultShapeConfig returns the dimensions used when the environment is silent.
func DefaultShapeConfig() ShapeConfig {
	return ShapeConfig{
		NumExperts: 16,
		HiddenSize: 4096,
		NHead:      32,
		NHeadKV:    8,
		HeadDim:    128,
	}
}

// ShapeConfigFromEnv overlays the environment on DefaultShapeConfig.
// A variable that is set but not a positive integer is an error.
func ShapeConfigFromEnv() (ShapeConfig, error) {
	cfg := DefaultShapeConfig()
	fields := []struct {
		env string
		dst *int
	}{
		{EnvNumExperts, &cfg.NumExperts},
		{EnvHiddenSize, &cfg.HiddenSize},
		{EnvNHead, &cfg.NHead},
		{EnvNHeadKV, &cfg.NHeadKV},
		{EnvHeadDim, &cfg.HeadDim},
	}
	for _, f := range fields {
		v, ok := os.LookupEnv(f.env)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, errors.Wrapf(err, "parsing %s", f.env)
		}
		if n <= 0 {
			return cfg, errors.Errorf("%s must be positive, got %d", f.env, n)
		}
		*f.dst = n
	}
	return cfg, nil
}

// String returns the configuration in key=value form for logging.
func (c ShapeConfig) String() string {
	return fmt.Sprintf("num_experts=%d hidden_size=%d n_head=%d n_head_kv=%d head_dim=%d",
		c.NumExperts, c.HiddenSize, c.NHead, c.NHeadKV, c.HeadDim)
}
