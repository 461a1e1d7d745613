package optim

import (
	"math"

	"github.com/born-ml/ucp/internal/tensor"
	"github.com/pkg/errors"
)

// State keys written by Adam. They match the state file names of a universal
// checkpoint, so restored moments are picked up without renaming.
const (
	ExpAvgKey   = "exp_avg"
	ExpAvgSqKey = "exp_avg_sq"
)

// Adam implements AdamW (Adam with decoupled weight decay) over flat partitions.
//
// Update rule:
//
//	m_t = beta1 * m_{t-1} + (1-beta1) * gradient       // exp_avg
//	v_t = beta2 * v_{t-1} + (1-beta2) * gradient²      // exp_avg_sq
//	m_hat = m_t / (1 - beta1^t)                        // Bias correction
//	v_hat = v_t / (1 - beta2^t)                        // Bias correction
//	param = param - lr * (m_hat / (sqrt(v_hat) + eps) + weight_decay * param)
//
// Hyperparameters are read from the param group on every step ("lr", "betas",
// "eps", "weight_decay"), so values restored from a checkpoint take effect
// immediately. The timestep lives in ParamState.Step.
//
// Reference: "Decoupled Weight Decay Regularization" (Loshchilov & Hutter, 2019)
type Adam struct{}

// Adam defaults.
const (
	DefaultLR  = 1e-3
	DefaultEps = 1e-8
)

// DefaultBetas are the default running-average coefficients.
var DefaultBetas = [2]float64{0.9, 0.999}

// Update implements Rule.
func (Adam) Update(p *FlatParam, grad *tensor.RawTensor, st *ParamState, hyper Hyper) error {
	if grad.NumElements() != p.Data.NumElements() || grad.DType() != tensor.Float32 {
		return errors.Errorf("gradient %v does not match partition %v", grad, p.Data)
	}

	lr := float32(hyper.Float("lr", DefaultLR))
	betas := hyper.Pair("betas", DefaultBetas)
	beta1, beta2 := float32(betas[0]), float32(betas[1])
	eps := float32(hyper.Float("eps", DefaultEps))
	wd := float32(hyper.Float("weight_decay", 0))

	m := moment(st, ExpAvgKey, p)
	v := moment(st, ExpAvgSqKey, p)

	st.Step++
	st.HasStep = true
	biasCorrection1 := float32(1.0 - math.Pow(float64(beta1), float64(st.Step)))
	biasCorrection2 := float32(1.0 - math.Pow(float64(beta2), float64(st.Step)))

	gradData := grad.AsFloat32()
	mData := m.AsFloat32()
	vData := v.AsFloat32()
	paramData := p.Data.AsFloat32()

	for i := range paramData {
		g := gradData[i]
		mData[i] = beta1*mData[i] + (1.0-beta1)*g
		vData[i] = beta2*vData[i] + (1.0-beta2)*g*g

		mHat := mData[i] / biasCorrection1
		vHat := vData[i] / biasCorrection2

		paramData[i] -= lr * (mHat/(float32(math.Sqrt(float64(vHat)))+eps) + wd*paramData[i])
	}
	return nil
}

// moment returns the Float32 moment buffer for key, allocating it on first use.
func moment(st *ParamState, key string, p *FlatParam) *tensor.RawTensor {
	buf, ok := st.Tensors[key]
	if !ok || buf.DType() != tensor.Float32 {
		buf = tensor.ZerosLike(p.Data)
		st.Tensors[key] = buf
	}
	return buf
}
