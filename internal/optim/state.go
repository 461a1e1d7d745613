package optim

import (
	"os"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack"
)

// ParamsKey names the entry of a saved param group that lists its parameters.
// It is never copied into live hyperparameters.
const ParamsKey = "params"

// GlobalState is the optimizer-wide blob stored at zero/optimizer_state.pt.
type GlobalState struct {
	ParamGroups      []map[string]any `msgpack:"param_groups"`
	LossScale        float64          `msgpack:"loss_scale"`
	DynamicLossScale bool             `msgpack:"dynamic_loss_scale"`
	ClipGrad         float64          `msgpack:"clip_grad"`
	Overflow         bool             `msgpack:"overflow"`
}

// ReadGlobalState decodes a msgpack-encoded GlobalState from path.
func ReadGlobalState(path string) (*GlobalState, error) {
	//nolint:gosec // G304: path is chosen by the caller, which is expected for checkpoint loading
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read optimizer state %s", path)
	}
	var gs GlobalState
	if err := msgpack.Unmarshal(data, &gs); err != nil {
		return nil, errors.Wrapf(err, "failed to decode optimizer state %s", path)
	}
	return &gs, nil
}

// WriteGlobalState encodes gs with msgpack and writes it to path.
func WriteGlobalState(path string, gs *GlobalState) error {
	data, err := msgpack.Marshal(gs)
	if err != nil {
		return errors.Wrap(err, "failed to encode optimizer state")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrapf(err, "failed to write optimizer state %s", path)
	}
	return nil
}

// Hyper holds the hyperparameters of a param group. Values come either from Go
// code or from a decoded checkpoint, so numbers may be any integer or float type.
type Hyper map[string]any

// Float returns the numeric value of key, or def when missing or not numeric.
func (h Hyper) Float(key string, def float64) float64 {
	if f, ok := toFloat(h[key]); ok {
		return f
	}
	return def
}

// Pair returns a two element numeric sequence stored under key (e.g. "betas").
func (h Hyper) Pair(key string, def [2]float64) [2]float64 {
	switch v := h[key].(type) {
	case [2]float64:
		return v
	case []float64:
		if len(v) == 2 {
			return [2]float64{v[0], v[1]}
		}
	case []any:
		if len(v) == 2 {
			a, okA := toFloat(v[0])
			b, okB := toFloat(v[1])
			if okA && okB {
				return [2]float64{a, b}
			}
		}
	}
	return def
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
