package optim

import (
	"github.com/born-ml/ucp/internal/tensor"
	"github.com/pkg/errors"
)

// Fragment is the slice of a flat partition owned by one low-precision parameter.
type Fragment interface {
	// HPFragmentAddress is the range of the fragment inside the flat partition.
	HPFragmentAddress() Address
	// OptimFragment returns the fragment-sized optimizer state for key.
	OptimFragment(key string) (*tensor.RawTensor, bool)
	// SetOptimFragment replaces the fragment-sized optimizer state for key.
	SetOptimFragment(key string, t *tensor.RawTensor)
}

// MapToFlatOptStates assembles partition-sized optimizer state from per-fragment
// state. For every key a zero buffer shaped like flat is filled from each
// fragment at its address and stored in st; afterwards each fragment's state
// for that key is a view into the buffer, so later updates stay in sync.
func MapToFlatOptStates(flat *FlatParam, frags []Fragment, st *ParamState, keys []string) error {
	for _, key := range keys {
		buf := tensor.ZerosLike(flat.Data)
		for _, f := range frags {
			src, ok := f.OptimFragment(key)
			if !ok {
				return errors.Errorf("%s: fragment at %+v has no %q state", flat.Name, f.HPFragmentAddress(), key)
			}
			if src.DType() != buf.DType() {
				cast, err := tensor.Cast(src, buf.DType())
				if err != nil {
					return errors.Wrapf(err, "%s: %q state", flat.Name, key)
				}
				src = cast
			}

			addr := f.HPFragmentAddress()
			view, err := tensor.Narrow(buf, 0, addr.Start, addr.NumEl)
			if err != nil {
				return errors.Wrapf(err, "%s: %q state", flat.Name, key)
			}
			if err := view.CopyFrom(src); err != nil {
				return errors.Wrapf(err, "%s: %q state", flat.Name, key)
			}
			f.SetOptimFragment(key, view)
		}
		st.Tensors[key] = buf
	}
	return nil
}
