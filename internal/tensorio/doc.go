// Package tensorio reads and writes named tensors in the SafeTensors format.
//
//	Format Structure:
//	  [8 bytes: Header Size (uint64 LE)]
//	  [Header: JSON, tensor name -> {dtype, shape, data_offsets}]
//	  [Tensor data: raw little-endian bytes]
//
// Only F32 and F64 tensors are supported. Files written by this package carry
// a SHA-256 checksum of the data section in the header metadata, which
// Reader.Verify checks. Files from other producers without a checksum load
// normally.
//
// Example usage:
//
//	err := tensorio.WriteFile("pred.safetensors", map[string]*tensor.RawTensor{
//		"pred": pred,
//	}, nil)
//
//	r, err := tensorio.Open("pred.safetensors")
//	defer r.Close()
//	pred, err := r.Load("pred")
package tensorio
