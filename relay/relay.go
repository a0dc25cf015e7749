// Copyright 2026 TVM Offload Core Contributors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package relay exposes the host-IR subset the offload boundary
// consumes: fused functions whose bodies are call chains over
// variables and constants.
//
// # Basic Usage
//
//	import (
//	    "github.com/digital-nomad-cheng/tvm/relay"
//	    "github.com/digital-nomad-cheng/tvm/tensor"
//	)
//
//	data := relay.NewVar("data", tensor.Shape{1, 4}, tensor.Float32)
//	weight := relay.NewConstant(weightTensor)
//	dense := relay.NewCall(relay.OpDense, tensor.Shape{1, 3}, nil, data, weight)
//	fn := relay.NewFunction([]*relay.Var{data}, dense, relay.CompositeDense)
//
// The function is then handed to codegen.Compile, which recognizes the
// fused pattern and serializes it into the portable graph description.
package relay

import (
	"github.com/digital-nomad-cheng/tvm/internal/relay"
	"github.com/digital-nomad-cheng/tvm/internal/tensor"
)

// Operator names recognized at the offload boundary.
const (
	OpDense   = relay.OpDense
	OpConv2D  = relay.OpConv2D
	OpBiasAdd = relay.OpBiasAdd
	OpAdd     = relay.OpAdd
	OpReLU    = relay.OpReLU
	OpReshape = relay.OpReshape
)

// Composite pattern names attached to fused functions.
const (
	CompositeDense  = relay.CompositeDense
	CompositeConv2D = relay.CompositeConv2D
)

// Expr is a node of the fused sub-expression tree.
type Expr = relay.Expr

// Attrs holds an operator's structural attributes in serialized form.
type Attrs = relay.Attrs

// Var is a runtime-supplied graph input.
type Var = relay.Var

// Constant is a compile-time tensor value (weights, bias).
type Constant = relay.Constant

// Call applies an operator to argument expressions.
type Call = relay.Call

// Function is a fused sub-expression handed across the offload
// boundary.
type Function = relay.Function

// NewVar creates a named graph input with a declared shape.
func NewVar(name string, shape tensor.Shape, dtype tensor.DataType) *Var {
	return relay.NewVar(name, shape, dtype)
}

// NewConstant wraps a host tensor as an IR constant.
func NewConstant(data *tensor.RawTensor) *Constant {
	return relay.NewConstant(data)
}

// NewCall builds an operator application with a declared output shape.
func NewCall(op string, shape tensor.Shape, attrs Attrs, args ...Expr) *Call {
	return relay.NewCall(op, shape, attrs, args...)
}

// NewFunction wraps a body expression as a fused function.
func NewFunction(params []*Var, body Expr, composite string) *Function {
	return relay.NewFunction(params, body, composite)
}

// IsOp reports whether e is a call to the named operator.
func IsOp(e Expr, op string) bool {
	return relay.IsOp(e, op)
}
