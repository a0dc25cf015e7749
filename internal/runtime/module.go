// Package runtime executes serialized offload units: it parses the
// portable graph description, builds the single native engine layer a
// unit is allowed to carry, and runs forward passes with explicit
// layout conversion between host buffers and engine tensors.
package runtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/digital-nomad-cheng/tvm/internal/engine"
	"github.com/digital-nomad-cheng/tvm/internal/graph"
	"github.com/digital-nomad-cheng/tvm/internal/logger"
	"github.com/digital-nomad-cheng/tvm/internal/metrics"
	"github.com/digital-nomad-cheng/tvm/internal/tensor"
)

// Fatal module failures. Every one of them is a construction or
// configuration defect: there is no retry and no degraded mode.
var (
	ErrUnsupportedOp      = errors.New("unsupported operator")
	ErrKernelMultiplicity = errors.New("a module carries exactly one kernel node")
	ErrArity              = errors.New("kernel input count out of range")
	ErrConstCount         = errors.New("constant count mismatch")
	ErrRank               = errors.New("unsupported tensor rank")
	ErrShape              = errors.New("host buffer geometry mismatch")
	ErrBatch              = errors.New("batch dimension must be 1")
	ErrDType              = errors.New("unsupported data type")
	ErrNotInitialized     = errors.New("module is not initialized")
	ErrUnboundBuffer      = errors.New("no host buffer bound")
)

// Module is one compiled offload unit. Lifecycle: CreateModule →
// Init (builds the cached layer once) → any number of Run calls.
// A single instance's scratch tensors are exclusively owned, so calls
// to the same instance must be serialized by the caller; distinct
// instances are independent.
type Module struct {
	symbol     string
	graphJSON  string
	g          *graph.Graph
	constNames []string

	kernelNID int
	opt       engine.Options

	// Bound at Init, immutable afterwards.
	constants   map[int]*tensor.RawTensor // const node id -> tensor
	layer       *CachedLayer
	initialized bool

	// Host buffers, bound per entry id.
	bindings map[int]*tensor.RawTensor
}

// CreateModule builds an uninitialized module from a serialized graph
// description and its ordered constant-name list.
func CreateModule(symbolName, graphJSON string, constNames []string, opts ...Option) (*Module, error) {
	g, err := graph.Parse(graphJSON)
	if err != nil {
		return nil, fmt.Errorf("create module %s: %w", symbolName, err)
	}

	m := &Module{
		symbol:     symbolName,
		graphJSON:  graphJSON,
		g:          g,
		constNames: append([]string(nil), constNames...),
		kernelNID:  -1,
		opt:        engine.DefaultOptions(),
		bindings:   make(map[int]*tensor.RawTensor),
	}
	for _, o := range opts {
		o(m)
	}

	constNodes := 0
	for _, n := range g.Nodes {
		switch n.OpType {
		case graph.OpTypeKernel:
			if m.kernelNID >= 0 {
				metrics.RecordBuildError("multiplicity")
				return nil, fmt.Errorf("create module %s: %w (nodes %d and %d)",
					symbolName, ErrKernelMultiplicity, m.kernelNID, n.ID)
			}
			m.kernelNID = n.ID
		case graph.OpTypeConst:
			constNodes++
		case graph.OpTypeInput:
		default:
			return nil, fmt.Errorf("create module %s: node %d has unknown op_type %q",
				symbolName, n.ID, n.OpType)
		}
	}
	if m.kernelNID < 0 {
		metrics.RecordBuildError("multiplicity")
		return nil, fmt.Errorf("create module %s: %w (none found)", symbolName, ErrKernelMultiplicity)
	}
	if constNodes != len(constNames) {
		metrics.RecordBuildError("const_count")
		return nil, fmt.Errorf("create module %s: %w: graph carries %d const nodes, name list %d",
			symbolName, ErrConstCount, constNodes, len(constNames))
	}

	metrics.ModulesCreated.Inc()
	logger.Log.Debug("created offload module",
		"symbol", symbolName,
		"nodes", len(g.Nodes),
		"consts", len(constNames))
	return m, nil
}

// Option adjusts module construction.
type Option func(*Module)

// WithOptions overrides the engine execution options captured at
// layer-build time.
func WithOptions(opt engine.Options) Option {
	return func(m *Module) { m.opt = opt }
}

// Symbol returns the offload unit's symbol name.
func (m *Module) Symbol() string { return m.symbol }

// ConstNames returns the ordered constant names fixed at
// serialization time.
func (m *Module) ConstNames() []string { return m.constNames }

// Init binds the constant table and builds the module's single cached
// layer. The constant count must equal the serialized constant-name
// count; the binding is positional and immutable afterwards.
func (m *Module) Init(constants []*tensor.RawTensor) error {
	if m.initialized {
		return fmt.Errorf("init %s: module is already initialized", m.symbol)
	}
	if len(constants) != len(m.constNames) {
		metrics.RecordBuildError("const_count")
		return fmt.Errorf("init %s: %w: got %d constants, want %d",
			m.symbol, ErrConstCount, len(constants), len(m.constNames))
	}

	m.constants = make(map[int]*tensor.RawTensor, len(constants))
	next := 0
	for _, n := range m.g.Nodes {
		if n.OpType == graph.OpTypeConst {
			m.constants[n.ID] = constants[next]
			next++
		}
	}

	layer, err := m.buildLayer()
	if err != nil {
		metrics.RecordBuildError("layer_build")
		logger.Log.Error("engine layer build failed", "symbol", m.symbol, "err", err)
		return fmt.Errorf("init %s: %w", m.symbol, err)
	}
	m.layer = layer
	m.initialized = true

	metrics.RecordLayerBuilt(m.g.Nodes[m.kernelNID].OpName)
	logger.Log.Debug("built engine layer",
		"symbol", m.symbol,
		"op", m.g.Nodes[m.kernelNID].OpName,
		"layer", layer.Op.TypeName(),
		"threads", m.opt.NumThreads)
	return nil
}

// BindInput attaches a host buffer to the named graph input.
func (m *Module) BindInput(name string, buf *tensor.RawTensor) error {
	for _, nid := range m.g.ArgNodes {
		n := m.g.Nodes[nid]
		if n.OpType == graph.OpTypeInput && n.OpName == name {
			m.bindings[m.g.EntryID(graph.Entry{NodeID: nid})] = buf
			return nil
		}
	}
	return fmt.Errorf("bind input %s: module %s has no such input", name, m.symbol)
}

// BindOutput attaches a host buffer to the i-th declared output.
func (m *Module) BindOutput(i int, buf *tensor.RawTensor) error {
	if i < 0 || i >= len(m.g.Heads) {
		return fmt.Errorf("bind output %d: module %s declares %d outputs", i, m.symbol, len(m.g.Heads))
	}
	m.bindings[m.g.EntryID(m.g.Heads[i])] = buf
	return nil
}

// Run executes one forward pass: marshal every bound input into the
// cached layer's scratch input, run the native layer, marshal the
// scratch output back into every declared output buffer. Idempotent
// for identical inputs; the layer is never rebuilt.
func (m *Module) Run() error {
	if !m.initialized {
		return fmt.Errorf("run %s: %w", m.symbol, ErrNotInitialized)
	}
	start := time.Now()

	for _, nid := range m.g.ArgNodes {
		n := m.g.Nodes[nid]
		if n.OpType != graph.OpTypeInput {
			continue
		}
		eid := m.g.EntryID(graph.Entry{NodeID: nid})
		buf, ok := m.bindings[eid]
		if !ok {
			return fmt.Errorf("run %s: %w for input %q", m.symbol, ErrUnboundBuffer, n.OpName)
		}
		if err := marshalIn(m.layer.In, buf); err != nil {
			return fmt.Errorf("run %s: input %q: %w", m.symbol, n.OpName, err)
		}
	}

	if err := m.layer.Op.Forward(m.layer.In, m.layer.Out); err != nil {
		return fmt.Errorf("run %s: %w", m.symbol, err)
	}

	for i, head := range m.g.Heads {
		buf, ok := m.bindings[m.g.EntryID(head)]
		if !ok {
			return fmt.Errorf("run %s: %w for output %d", m.symbol, ErrUnboundBuffer, i)
		}
		if err := marshalOut(buf, m.layer.Out); err != nil {
			return fmt.Errorf("run %s: output %d: %w", m.symbol, i, err)
		}
	}

	metrics.ObserveRun(start)
	return nil
}

// Close releases the cached layer and its native resources.
// Idempotent; the module cannot run afterwards.
func (m *Module) Close() {
	if m.layer != nil {
		m.layer.Close()
		m.layer = nil
	}
	m.initialized = false
}
