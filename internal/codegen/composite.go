// Package codegen recognizes fused operator patterns in host-IR
// sub-expressions and serializes them into the portable graph
// description consumed by the offload runtime.
package codegen

import (
	"errors"
	"fmt"

	"github.com/digital-nomad-cheng/tvm/internal/relay"
)

// Extraction failures. All of them are construction defects in the
// host's pattern matcher, never runtime conditions.
var (
	ErrUnknownPattern = errors.New("unknown composite pattern")
	ErrNoCoreOp       = errors.New("composite body is missing its core operator")
)

// CompositeNode captures the calls of one recognized fusion pattern.
// Core is always set on success; Bias and Activation only when the
// pattern carried them. Discarded after serialization.
type CompositeNode struct {
	Core       *relay.Call
	Bias       *relay.Call
	Activation *relay.Call
}

// compositeCoreOps maps a composite pattern name to the core operator
// its body must anchor on. New patterns register here.
var compositeCoreOps = map[string]string{
	relay.CompositeDense:  relay.OpDense,
	relay.CompositeConv2D: relay.OpConv2D,
}

// ExtractComposite walks a fused function body from the output toward
// its inputs: at most one trailing activation, then at most one
// bias-add, then the mandatory core operator.
func ExtractComposite(fn *relay.Function) (*CompositeNode, error) {
	coreOp, ok := compositeCoreOps[fn.Composite]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPattern, fn.Composite)
	}

	node := &CompositeNode{}
	current, _ := fn.Body.(*relay.Call)

	if current != nil && current.Op == relay.OpReLU {
		node.Activation = current
		current = argCall(current, 0)
	}
	if current != nil && (current.Op == relay.OpAdd || current.Op == relay.OpBiasAdd) {
		node.Bias = current
		current = argCall(current, 0)
	}
	if current == nil || current.Op != coreOp {
		return nil, fmt.Errorf("%w: pattern %q requires %s", ErrNoCoreOp, fn.Composite, coreOp)
	}
	node.Core = current
	return node, nil
}

// argCall returns the i-th argument as a call, or nil when the
// argument is absent or not a call.
func argCall(c *relay.Call, i int) *relay.Call {
	if i >= len(c.Args) {
		return nil
	}
	call, _ := c.Args[i].(*relay.Call)
	return call
}
