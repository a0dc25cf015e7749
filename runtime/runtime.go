// Copyright 2026 TVM Offload Core Contributors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package runtime provides the execution half of the offload pipeline:
// it turns serialized graph descriptions into cached native engine
// layers and runs forward passes over host buffers.
//
// # Module Lifecycle
//
//	Constructed -> Init -> Ready -> Run*
//
// CreateModule parses the description and enforces the single-kernel
// invariant. Init binds the constant table positionally and builds the
// module's one cached layer; it fails on any count mismatch. Run
// marshals bound host buffers in, executes the layer, and marshals the
// engine output back out. A module may be serialized with SaveToBinary
// and reconstructed with LoadModuleFromBinary.
//
// # Example Usage
//
//	import "github.com/digital-nomad-cheng/tvm/runtime"
//
//	reg := runtime.NewRegistry()
//	m, err := reg.Create(runtime.TypeEngineJSON, art.Symbol, art.GraphJSON, art.ConstNames)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Close()
//
//	if err := m.Init(art.Constants); err != nil {
//	    log.Fatal(err)
//	}
//	m.BindInput("data", in)
//	m.BindOutput(0, out)
//	if err := m.Run(); err != nil {
//	    log.Fatal(err)
//	}
//
// Distinct module instances are independent; calls to the same
// instance must be serialized by the caller.
package runtime

import (
	"github.com/digital-nomad-cheng/tvm/internal/engine"
	"github.com/digital-nomad-cheng/tvm/internal/runtime"
)

// Fatal module failures. Every one is a construction or configuration
// defect; there is no retry and no degraded mode.
var (
	ErrUnsupportedOp      = runtime.ErrUnsupportedOp
	ErrKernelMultiplicity = runtime.ErrKernelMultiplicity
	ErrArity              = runtime.ErrArity
	ErrConstCount         = runtime.ErrConstCount
	ErrRank               = runtime.ErrRank
	ErrShape              = runtime.ErrShape
	ErrBatch              = runtime.ErrBatch
	ErrDType              = runtime.ErrDType
	ErrNotInitialized     = runtime.ErrNotInitialized
	ErrUnboundBuffer      = runtime.ErrUnboundBuffer
)

// TypeEngineJSON keys the built-in engine-backed module kind.
const TypeEngineJSON = runtime.TypeEngineJSON

// Module is one compiled offload unit.
type Module = runtime.Module

// Registry maps module type keys to their construction entry points,
// scoped to one compiler session.
type Registry = runtime.Registry

// Option adjusts module construction.
type Option = runtime.Option

// Options are the engine execution options captured once at
// layer-build time.
type Options = engine.Options

// DefaultOptions returns the options every module uses unless the host
// overrides them: a two-worker pool, CPU execution.
func DefaultOptions() Options {
	return engine.DefaultOptions()
}

// WithOptions overrides the engine execution options captured at
// layer-build time.
func WithOptions(opt Options) Option {
	return runtime.WithOptions(opt)
}

// CreateModule builds an uninitialized module from a serialized graph
// description and its ordered constant-name list.
func CreateModule(symbolName, graphJSON string, constNames []string, opts ...Option) (*Module, error) {
	return runtime.CreateModule(symbolName, graphJSON, constNames, opts...)
}

// LoadModuleFromBinary reconstructs a module from a previously
// serialized binary form.
func LoadModuleFromBinary(data []byte, opts ...Option) (*Module, error) {
	return runtime.LoadModuleFromBinary(data, opts...)
}

// NewRegistry creates a registry seeded with the built-in
// engine-backed module type.
func NewRegistry() *Registry {
	return runtime.NewRegistry()
}
