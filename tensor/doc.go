// Copyright 2026 TVM Offload Core Contributors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the host-side tensor representation shared
// across the offload boundary.
//
// # Overview
//
// Everything that crosses between the host compiler and the offload
// runtime — graph inputs, outputs, and constants — travels as a
// RawTensor: a contiguous row-major byte buffer with a shape and a
// runtime data-type tag. The offload engine itself works in its own
// channel-plane layout; the runtime converts between the two on every
// forward pass.
//
// # Basic Usage
//
//	import "github.com/digital-nomad-cheng/tvm/tensor"
//
//	weight, err := tensor.FromFloat32(tensor.Shape{3, 4}, values)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	data := weight.AsFloat32() // zero-copy typed view
//
// # Supported Data Types
//
//   - float32 (the only type the offload engine executes)
//   - float64, int32, int64, uint8 (carried for host-side buffers)
//
// Shapes follow the host convention: rank 2 is [batch, features],
// rank 4 is [batch, channels, height, width], batch always 1.
package tensor
