package tensor

import (
	"fmt"
	"unsafe"

	"github.com/x448/float16"
)

// RawTensor is the low-level tensor representation.
//
// The byte buffer may be shared between several tensors: views created by
// Reshape, Flatten and Narrow(axis 0) alias the parent and writes through them
// are visible in the parent. Clone always produces an independent copy.
type RawTensor struct {
	buffer []byte   // Shared backing storage
	offset int      // Byte offset of the first element in buffer
	shape  Shape    // Tensor dimensions
	dtype  DataType // Runtime type information
}

// NewRaw creates a new zero-filled RawTensor with the given shape and type.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	return &RawTensor{
		buffer: make([]byte, shape.NumElements()*dtype.Size()),
		shape:  shape.Clone(),
		dtype:  dtype,
	}, nil
}

// ZerosLike allocates a zero-filled tensor with the shape and type of x.
func ZerosLike(x *RawTensor) *RawTensor {
	return &RawTensor{
		buffer: make([]byte, x.ByteSize()),
		shape:  x.shape.Clone(),
		dtype:  x.dtype,
	}
}

// FromFloat32 creates a Float32 tensor holding a copy of data.
func FromFloat32(data []float32, shape Shape) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	raw, err := NewRaw(shape, Float32)
	if err != nil {
		return nil, err
	}
	copy(raw.AsFloat32(), data)
	return raw, nil
}

// FromFloat64 creates a Float64 tensor holding a copy of data.
func FromFloat64(data []float64, shape Shape) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	raw, err := NewRaw(shape, Float64)
	if err != nil {
		return nil, err
	}
	copy(raw.AsFloat64(), data)
	return raw, nil
}

// FromBytes wraps a little-endian byte payload as a tensor. The payload is copied.
func FromBytes(data []byte, shape Shape, dtype DataType) (*RawTensor, error) {
	raw, err := NewRaw(shape, dtype)
	if err != nil {
		return nil, err
	}
	if len(data) != raw.ByteSize() {
		return nil, fmt.Errorf("shape %v of %s requires %d bytes, but got %d", shape, dtype, raw.ByteSize(), len(data))
	}
	copy(raw.buffer, data)
	return raw, nil
}

// Arange creates a 1-D Float32 tensor holding 0, 1, ..., n-1.
// Useful for building tensors whose layout can be checked by value.
func Arange(n int) *RawTensor {
	raw := &RawTensor{buffer: make([]byte, n*Float32.Size()), shape: Shape{n}, dtype: Float32}
	data := raw.AsFloat32()
	for i := range data {
		data[i] = float32(i)
	}
	return raw
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the total memory size in bytes.
func (r *RawTensor) ByteSize() int {
	return r.NumElements() * r.dtype.Size()
}

// Data returns the bytes backing this tensor.
// WARNING: Direct access to underlying memory, shared with any views.
func (r *RawTensor) Data() []byte {
	return r.buffer[r.offset : r.offset+r.ByteSize()]
}

// SharesStorage reports whether r and other alias the same buffer.
func (r *RawTensor) SharesStorage(other *RawTensor) bool {
	if cap(r.buffer) == 0 || cap(other.buffer) == 0 {
		return false
	}
	return &r.buffer[:1][0] == &other.buffer[:1][0]
}

func (r *RawTensor) elems() unsafe.Pointer {
	if r.NumElements() == 0 {
		return nil
	}
	return unsafe.Pointer(&r.buffer[r.offset])
}

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*float32)(r.elems()), r.NumElements())
}

// AsFloat64 interprets the data as []float64.
// Panics if the tensor's dtype is not Float64.
func (r *RawTensor) AsFloat64() []float64 {
	if r.dtype != Float64 {
		panic(fmt.Sprintf("tensor dtype is %s, not float64", r.dtype))
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*float64)(r.elems()), r.NumElements())
}

// AsInt32 interprets the data as []int32.
// Panics if the tensor's dtype is not Int32.
func (r *RawTensor) AsInt32() []int32 {
	if r.dtype != Int32 {
		panic(fmt.Sprintf("tensor dtype is %s, not int32", r.dtype))
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*int32)(r.elems()), r.NumElements())
}

// AsInt64 interprets the data as []int64.
// Panics if the tensor's dtype is not Int64.
func (r *RawTensor) AsInt64() []int64 {
	if r.dtype != Int64 {
		panic(fmt.Sprintf("tensor dtype is %s, not int64", r.dtype))
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*int64)(r.elems()), r.NumElements())
}

// AsFloat16 interprets the data as IEEE 754 half precision values.
// Panics if the tensor's dtype is not Float16.
func (r *RawTensor) AsFloat16() []float16.Float16 {
	if r.dtype != Float16 {
		panic(fmt.Sprintf("tensor dtype is %s, not float16", r.dtype))
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*float16.Float16)(r.elems()), r.NumElements())
}

// Clone creates an independent deep copy of the tensor.
func (r *RawTensor) Clone() *RawTensor {
	buf := make([]byte, r.ByteSize())
	copy(buf, r.Data())
	return &RawTensor{buffer: buf, shape: r.shape.Clone(), dtype: r.dtype}
}

// CopyFrom copies src into r in place. Shapes may differ but element count and
// dtype must match.
func (r *RawTensor) CopyFrom(src *RawTensor) error {
	if src.NumElements() != r.NumElements() {
		return fmt.Errorf("CopyFrom: destination has %d elements, source has %d", r.NumElements(), src.NumElements())
	}
	if src.dtype != r.dtype {
		return fmt.Errorf("CopyFrom: destination dtype %s, source dtype %s", r.dtype, src.dtype)
	}
	copy(r.Data(), src.Data())
	return nil
}

// Float32s returns the values converted to float32, whatever the stored type.
// Integer tensors are converted by value.
func (r *RawTensor) Float32s() []float32 {
	out := make([]float32, r.NumElements())
	switch r.dtype {
	case Float32:
		copy(out, r.AsFloat32())
	case Float64:
		for i, v := range r.AsFloat64() {
			out[i] = float32(v)
		}
	case Float16:
		for i, v := range r.AsFloat16() {
			out[i] = v.Float32()
		}
	case Int32:
		for i, v := range r.AsInt32() {
			out[i] = float32(v)
		}
	case Int64:
		for i, v := range r.AsInt64() {
			out[i] = float32(v)
		}
	}
	return out
}

// Cast converts the tensor to another floating point data type.
// Float16 rounding follows IEEE 754 round-to-nearest-even.
func Cast(x *RawTensor, dtype DataType) (*RawTensor, error) {
	if x.dtype == dtype {
		return x.Clone(), nil
	}
	if !x.dtype.IsFloat() || !dtype.IsFloat() {
		return nil, fmt.Errorf("Cast: unsupported conversion %s -> %s", x.dtype, dtype)
	}
	out, err := NewRaw(x.shape, dtype)
	if err != nil {
		return nil, fmt.Errorf("Cast: %w", err)
	}
	src := x.Float32s()
	switch dtype {
	case Float32:
		copy(out.AsFloat32(), src)
	case Float64:
		dst := out.AsFloat64()
		for i, v := range src {
			dst[i] = float64(v)
		}
	case Float16:
		dst := out.AsFloat16()
		for i, v := range src {
			dst[i] = float16.Fromfloat32(v)
		}
	}
	return out, nil
}

// String returns a human-readable representation of the tensor.
func (r *RawTensor) String() string {
	return fmt.Sprintf("Tensor[%s]%v", r.dtype, r.shape)
}
