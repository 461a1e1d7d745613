package fx

import (
	"fmt"

	"github.com/born-ml/ucp/internal/tensor"
)

// Built-in targets.
var (
	// Transpose swaps the axes of a matrix. The result may alias its input.
	Transpose = &Target{Name: "aten.t", Fn: unary("aten.t", tensor.Transpose2D)}

	// Clone returns an independent copy of its input.
	Clone = &Target{Name: "aten.clone", Fn: unary("aten.clone", func(x *tensor.RawTensor) (*tensor.RawTensor, error) {
		return x.Clone(), nil
	})}

	// Add sums two Float32 tensors of the same shape.
	Add = &Target{Name: "aten.add", Fn: add}
)

// reuseInputs lists the targets whose output shares storage with an input.
var reuseInputs = []*Target{Transpose}

// ReusesInputs reports whether the output of target may alias its inputs.
func ReusesInputs(target *Target) bool {
	for _, t := range reuseInputs {
		if t == target {
			return true
		}
	}
	return false
}

func unary(name string, fn func(*tensor.RawTensor) (*tensor.RawTensor, error)) Func {
	return func(args []*tensor.RawTensor) (*tensor.RawTensor, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("%s: expected 1 argument, got %d", name, len(args))
		}
		return fn(args[0])
	}
}

func add(args []*tensor.RawTensor) (*tensor.RawTensor, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("aten.add: expected 2 arguments, got %d", len(args))
	}
	a, b := args[0], args[1]
	if !a.Shape().Equal(b.Shape()) || a.DType() != tensor.Float32 || b.DType() != tensor.Float32 {
		return nil, fmt.Errorf("aten.add: cannot add %v and %v", a, b)
	}
	out := a.Clone()
	dst := out.AsFloat32()
	for i, v := range b.AsFloat32() {
		dst[i] += v
	}
	return out, nil
}
