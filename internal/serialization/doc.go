// Package serialization reads and writes the safetensors containers used for
// universal checkpoint state files.
//
//	Format Structure:
//	  [8 bytes: header size (uint64 LE)]
//	  [header: JSON object, tensor name -> {dtype, shape, data_offsets}, plus "__metadata__"]
//	  [tensor data: raw little-endian bytes]
//
// Every string in "__metadata__" is preserved verbatim; callers encode typed
// values (axes, counts, flags) into it themselves.
package serialization
