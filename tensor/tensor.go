// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public API for the host-memory tensors that
// universal checkpoints are read into.
//
// The package defines:
//   - RawTensor: a typed, contiguous buffer with a shape
//   - Shape, DataType: core type definitions
//   - Layout operations used for resharding: Reshape, Narrow, Chunk, Concat, PadEnd
//
// Example:
//
//	x, _ := tensor.Reshape(tensor.Arange(8), tensor.Shape{4, 2})
//	halves, _ := tensor.Chunk(x, 2, 0)   // two [2, 2] views
//	back, _ := tensor.Concat(halves, 0)  // equal to x
package tensor

import (
	"github.com/born-ml/ucp/internal/tensor"
)

// RawTensor is a typed, contiguous buffer with a shape.
//
// Views produced by Reshape, Flatten and Narrow along axis 0 share storage with
// their source; writes through a view are visible in the source.
//
// Example:
//
//	raw, _ := tensor.NewRaw(tensor.Shape{2, 3}, tensor.Float32)
//	data := raw.AsFloat32()  // Type-safe access
//	clone := raw.Clone()     // Independent copy
type RawTensor = tensor.RawTensor

// Shape represents the dimensions of a tensor.
// Example: Shape{2, 3, 4} represents a 3D tensor with dimensions 2×3×4.
type Shape = tensor.Shape

// DataType represents the element type of a tensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32 DataType = tensor.Float32
	Float64 DataType = tensor.Float64
	Int32   DataType = tensor.Int32
	Int64   DataType = tensor.Int64
	Float16 DataType = tensor.Float16
)

// NewRaw allocates a zero-filled tensor.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype)
}

// FromFloat32 creates a Float32 tensor holding a copy of data.
func FromFloat32(data []float32, shape Shape) (*RawTensor, error) {
	return tensor.FromFloat32(data, shape)
}

// Arange creates a 1-D Float32 tensor holding 0, 1, ..., n-1.
func Arange(n int) *RawTensor {
	return tensor.Arange(n)
}

// Reshape returns a view of x with a new shape. One dimension may be -1.
func Reshape(x *RawTensor, shape Shape) (*RawTensor, error) {
	return tensor.Reshape(x, shape)
}

// Narrow returns the slice [start, start+length) of x along axis.
func Narrow(x *RawTensor, axis, start, length int) (*RawTensor, error) {
	return tensor.Narrow(x, axis, start, length)
}

// Chunk splits x into at most n pieces along axis.
func Chunk(x *RawTensor, n, axis int) ([]*RawTensor, error) {
	return tensor.Chunk(x, n, axis)
}

// Concat concatenates tensors along axis.
func Concat(tensors []*RawTensor, axis int) (*RawTensor, error) {
	return tensor.Concat(tensors, axis)
}

// PadEnd appends n zero-filled slices to x along axis.
func PadEnd(x *RawTensor, axis, n int) (*RawTensor, error) {
	return tensor.PadEnd(x, axis, n)
}

// Cast converts x to another floating point data type.
func Cast(x *RawTensor, dtype DataType) (*RawTensor, error) {
	return tensor.Cast(x, dtype)
}

// Equal reports whether a and b have the same dtype, shape and bytes.
func Equal(a, b *RawTensor) bool {
	return tensor.Equal(a, b)
}
