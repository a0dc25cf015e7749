// Package codegen provides the compile-time half of the offload
// pipeline: it recognizes fused operator patterns in host-IR
// sub-expressions and serializes them into the portable graph
// description the runtime consumes.
//
// # Supported Patterns
//
//   - engine.dense:  nn.dense  [+ bias-add] [+ nn.relu]
//   - engine.conv2d: nn.conv2d [+ bias-add] [+ nn.relu]
//   - bare reshape bodies (no composite wrapper)
//
// # Example Usage
//
//	import (
//	    "github.com/digital-nomad-cheng/tvm/codegen"
//	    "github.com/digital-nomad-cheng/tvm/relay"
//	)
//
//	art, err := codegen.Compile("dense_unit", fn)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	// art.GraphJSON and art.ConstNames cross the compile-time
//	// boundary; art.Constants are handed back at Module.Init.
//
// A composite body missing its core operator is a construction defect
// in the host's pattern matcher and fails the compilation outright.
package codegen

import (
	"github.com/digital-nomad-cheng/tvm/internal/codegen"
	"github.com/digital-nomad-cheng/tvm/internal/relay"
)

// Extraction and serialization failures, all fatal at compile time.
var (
	ErrUnknownPattern  = codegen.ErrUnknownPattern
	ErrNoCoreOp        = codegen.ErrNoCoreOp
	ErrUnsupportedOp   = codegen.ErrUnsupportedOp
	ErrUnsupportedExpr = codegen.ErrUnsupportedExpr
)

// CompositeNode captures the calls of one recognized fusion pattern.
type CompositeNode = codegen.CompositeNode

// Artifact is the compile-time output for one offload unit.
type Artifact = codegen.Artifact

// Compile turns one fused function into an offload artifact.
func Compile(symbol string, fn *relay.Function) (*Artifact, error) {
	return codegen.Compile(symbol, fn)
}

// ExtractComposite walks a fused function body from the output toward
// its inputs, recognizing {core op, optional bias-add, optional
// activation}.
func ExtractComposite(fn *relay.Function) (*CompositeNode, error) {
	return codegen.ExtractComposite(fn)
}
