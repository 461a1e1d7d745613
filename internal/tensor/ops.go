package tensor

import (
	"bytes"
	"fmt"
)

// Reshape returns a view of x with the given shape. A single -1 dimension is inferred.
func Reshape(x *RawTensor, newShape Shape) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("Reshape: input tensor is nil")
	}

	totalElements := x.NumElements()
	inferIdx := -1
	product := 1
	for i, dim := range newShape {
		switch {
		case dim == -1:
			if inferIdx >= 0 {
				return nil, fmt.Errorf("Reshape: can only have one -1 dimension")
			}
			inferIdx = i
		case dim < 0:
			return nil, fmt.Errorf("Reshape: dimensions must be non-negative, got %d", dim)
		default:
			product *= dim
		}
	}

	actualShape := newShape.Clone()
	if inferIdx >= 0 {
		if product == 0 || totalElements%product != 0 {
			return nil, fmt.Errorf("Reshape: cannot infer dimension for shape %v from %d elements", newShape, totalElements)
		}
		actualShape[inferIdx] = totalElements / product
	}

	if actualShape.NumElements() != totalElements {
		return nil, fmt.Errorf("Reshape: cannot reshape %d elements to shape %v (%d elements)",
			totalElements, actualShape, actualShape.NumElements())
	}

	return &RawTensor{buffer: x.buffer, offset: x.offset, shape: actualShape, dtype: x.dtype}, nil
}

// Flatten returns a 1-D view of x.
func Flatten(x *RawTensor) *RawTensor {
	return &RawTensor{buffer: x.buffer, offset: x.offset, shape: Shape{x.NumElements()}, dtype: x.dtype}
}

// Narrow returns the slice [start, start+length) of x along axis.
//
// Along axis 0 the result is a view sharing storage with x, so writes into it
// land in x. Along any other axis the data is copied.
func Narrow(x *RawTensor, axis, start, length int) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("Narrow: input tensor is nil")
	}
	axis, err := x.shape.normalizeAxis(axis)
	if err != nil {
		return nil, fmt.Errorf("Narrow: %w", err)
	}
	if start < 0 || length < 0 || start+length > x.shape[axis] {
		return nil, fmt.Errorf("Narrow: range [%d, %d) out of bounds for axis %d of size %d",
			start, start+length, axis, x.shape[axis])
	}

	newShape := x.shape.Clone()
	newShape[axis] = length

	if axis == 0 {
		_, inner := x.shape.outerInner(0)
		return &RawTensor{
			buffer: x.buffer,
			offset: x.offset + start*inner*x.dtype.Size(),
			shape:  newShape,
			dtype:  x.dtype,
		}, nil
	}

	out, err := NewRaw(newShape, x.dtype)
	if err != nil {
		return nil, fmt.Errorf("Narrow: %w", err)
	}
	copyAxisRange(x, out, axis, start, length)
	return out, nil
}

// copyAxisRange copies src[..., start:start+length, ...] (along axis) into dst.
func copyAxisRange(src, dst *RawTensor, axis, start, length int) {
	outer, inner := src.shape.outerInner(axis)
	esz := src.dtype.Size()
	rowBytes := length * inner * esz
	srcStride := src.shape[axis] * inner * esz
	srcData := src.Data()
	dstData := dst.Data()

	for o := 0; o < outer; o++ {
		from := o*srcStride + start*inner*esz
		copy(dstData[o*rowBytes:(o+1)*rowBytes], srcData[from:from+rowBytes])
	}
}

// Split splits x along axis into pieces of the given sizes.
func Split(x *RawTensor, axis int, sizes []int) ([]*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("Split: input tensor is nil")
	}
	axis, err := x.shape.normalizeAxis(axis)
	if err != nil {
		return nil, fmt.Errorf("Split: %w", err)
	}

	total := 0
	for _, s := range sizes {
		total += s
	}
	if total != x.shape[axis] {
		return nil, fmt.Errorf("Split: split sizes sum to %d, but axis has size %d", total, x.shape[axis])
	}

	parts := make([]*RawTensor, len(sizes))
	offset := 0
	for i, size := range sizes {
		part, err := Narrow(x, axis, offset, size)
		if err != nil {
			return nil, fmt.Errorf("Split: %w", err)
		}
		parts[i] = part
		offset += size
	}
	return parts, nil
}

// Chunk splits x into at most n pieces along axis.
//
// Every piece has ceil(size/n) entries along axis except possibly the last,
// which holds the remainder. When size is not a multiple of the piece size
// fewer than n pieces may be returned.
func Chunk(x *RawTensor, n, axis int) ([]*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("Chunk: input tensor is nil")
	}
	if n <= 0 {
		return nil, fmt.Errorf("Chunk: number of chunks must be positive, got %d", n)
	}
	axis, err := x.shape.normalizeAxis(axis)
	if err != nil {
		return nil, fmt.Errorf("Chunk: %w", err)
	}

	dim := x.shape[axis]
	if dim == 0 {
		return []*RawTensor{x}, nil
	}
	size := (dim + n - 1) / n

	var sizes []int
	for rest := dim; rest > 0; rest -= size {
		sizes = append(sizes, min(size, rest))
	}
	return Split(x, axis, sizes)
}

// Concat concatenates tensors along axis.
//
//nolint:cyclop // Concat validation has inherent complexity
func Concat(tensors []*RawTensor, axis int) (*RawTensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("Concat: no tensors provided")
	}
	if len(tensors) == 1 {
		return tensors[0].Clone(), nil
	}

	first := tensors[0]
	ndim := len(first.shape)
	axis, err := first.shape.normalizeAxis(axis)
	if err != nil {
		return nil, fmt.Errorf("Concat: %w", err)
	}

	newShape := first.shape.Clone()
	for i, t := range tensors[1:] {
		if len(t.shape) != ndim {
			return nil, fmt.Errorf("Concat: tensor %d has %d dimensions, expected %d", i+1, len(t.shape), ndim)
		}
		if t.dtype != first.dtype {
			return nil, fmt.Errorf("Concat: tensor %d has dtype %v, expected %v", i+1, t.dtype, first.dtype)
		}
		for j := 0; j < ndim; j++ {
			if j != axis && t.shape[j] != first.shape[j] {
				return nil, fmt.Errorf("Concat: tensor %d has shape %v, incompatible with %v on axis %d", i+1, t.shape, first.shape, axis)
			}
		}
		newShape[axis] += t.shape[axis]
	}

	result, err := NewRaw(newShape, first.dtype)
	if err != nil {
		return nil, fmt.Errorf("Concat: %w", err)
	}

	outer, inner := newShape.outerInner(axis)
	esz := first.dtype.Size()
	out := result.Data()
	offset := 0
	for o := 0; o < outer; o++ {
		for _, t := range tensors {
			n := t.shape[axis] * inner * esz
			copy(out[offset:offset+n], t.Data()[o*n:(o+1)*n])
			offset += n
		}
	}
	return result, nil
}

// PadEnd appends n zero-filled slices to x along axis.
func PadEnd(x *RawTensor, axis, n int) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("PadEnd: input tensor is nil")
	}
	if n < 0 {
		return nil, fmt.Errorf("PadEnd: padding must be non-negative, got %d", n)
	}
	axis, err := x.shape.normalizeAxis(axis)
	if err != nil {
		return nil, fmt.Errorf("PadEnd: %w", err)
	}
	if n == 0 {
		return x.Clone(), nil
	}

	padShape := x.shape.Clone()
	padShape[axis] = n
	pad, err := NewRaw(padShape, x.dtype)
	if err != nil {
		return nil, fmt.Errorf("PadEnd: %w", err)
	}
	return Concat([]*RawTensor{x, pad}, axis)
}

// Transpose2D swaps the two axes of a matrix. The result is a fresh tensor.
func Transpose2D(x *RawTensor) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("Transpose2D: input tensor is nil")
	}
	if len(x.shape) != 2 {
		return nil, fmt.Errorf("Transpose2D: expected 2 dimensions, got shape %v", x.shape)
	}

	rows, cols := x.shape[0], x.shape[1]
	out, err := NewRaw(Shape{cols, rows}, x.dtype)
	if err != nil {
		return nil, fmt.Errorf("Transpose2D: %w", err)
	}

	esz := x.dtype.Size()
	src := x.Data()
	dst := out.Data()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			from := (r*cols + c) * esz
			to := (c*rows + r) * esz
			copy(dst[to:to+esz], src[from:from+esz])
		}
	}
	return out, nil
}

// Equal reports whether a and b have the same dtype, shape and bytes.
func Equal(a, b *RawTensor) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.dtype == b.dtype && a.shape.Equal(b.shape) && bytes.Equal(a.Data(), b.Data())
}
