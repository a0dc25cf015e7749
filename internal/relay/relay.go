// Package relay models the slice of the host compiler's IR that the
// offload boundary sees: fused functions whose bodies are call chains
// over variables and constants. It carries just enough structure for
// pattern extraction and serialization, none of the host's optimizer.
package relay

import (
	"github.com/digital-nomad-cheng/tvm/internal/tensor"
)

// Operator names recognized at the offload boundary.
const (
	OpDense   = "nn.dense"
	OpConv2D  = "nn.conv2d"
	OpBiasAdd = "nn.bias_add"
	OpAdd     = "add"
	OpReLU    = "nn.relu"
	OpReshape = "reshape"
)

// Composite pattern names attached to fused functions.
const (
	CompositeDense  = "engine.dense"
	CompositeConv2D = "engine.conv2d"
)

// Attrs holds an operator's structural attributes in their serialized
// form: every value is a list of strings, one per axis or element.
type Attrs map[string][]string

// Clone returns a deep copy of the attribute map.
func (a Attrs) Clone() Attrs {
	clone := make(Attrs, len(a))
	for k, v := range a {
		clone[k] = append([]string(nil), v...)
	}
	return clone
}

// Expr is a node of the fused sub-expression tree.
type Expr interface {
	// OutShape is the expression's declared result shape.
	OutShape() tensor.Shape
	isExpr()
}

// Var is a runtime-supplied graph input.
type Var struct {
	Name  string
	Shape tensor.Shape
	DType tensor.DataType
}

// NewVar creates a named graph input with a declared shape.
func NewVar(name string, shape tensor.Shape, dtype tensor.DataType) *Var {
	return &Var{Name: name, Shape: shape.Clone(), DType: dtype}
}

func (v *Var) OutShape() tensor.Shape { return v.Shape }
func (v *Var) isExpr()                {}

// Constant is a compile-time tensor value (weights, bias).
type Constant struct {
	Data *tensor.RawTensor
}

// NewConstant wraps a host tensor as an IR constant.
func NewConstant(data *tensor.RawTensor) *Constant {
	return &Constant{Data: data}
}

func (c *Constant) OutShape() tensor.Shape { return c.Data.Shape() }
func (c *Constant) isExpr()                {}

// Call applies an operator to argument expressions.
type Call struct {
	Op    string
	Args  []Expr
	Attrs Attrs
	Shape tensor.Shape // declared output shape
}

// NewCall builds an operator application with a declared output shape.
func NewCall(op string, shape tensor.Shape, attrs Attrs, args ...Expr) *Call {
	if attrs == nil {
		attrs = Attrs{}
	}
	return &Call{Op: op, Args: args, Attrs: attrs, Shape: shape.Clone()}
}

func (c *Call) OutShape() tensor.Shape { return c.Shape }
func (c *Call) isExpr()                {}

// Function is a fused sub-expression handed across the offload
// boundary: parameters, a body call chain, and the composite pattern
// name the host's pattern matcher attached.
type Function struct {
	Params    []*Var
	Body      Expr
	Composite string
}

// NewFunction wraps a body expression as a fused function.
func NewFunction(params []*Var, body Expr, composite string) *Function {
	return &Function{Params: params, Body: body, Composite: composite}
}

// IsOp reports whether e is a call to the named operator.
func IsOp(e Expr, op string) bool {
	call, ok := e.(*Call)
	return ok && call.Op == op
}
