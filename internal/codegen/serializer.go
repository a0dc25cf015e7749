package codegen

import (
	"errors"
	"fmt"

	"github.com/digital-nomad-cheng/tvm/internal/graph"
	"github.com/digital-nomad-cheng/tvm/internal/logger"
	"github.com/digital-nomad-cheng/tvm/internal/relay"
	"github.com/digital-nomad-cheng/tvm/internal/tensor"
)

// Serialization failures, all fatal at compile time.
var (
	ErrUnsupportedOp   = errors.New("operator not supported for offload")
	ErrUnsupportedExpr = errors.New("expression kind not supported for offload")
)

// plainOps are operators serialized directly from a bare call body,
// without a composite pattern wrapper.
var plainOps = map[string]bool{
	relay.OpReshape: true,
}

// Artifact is the compile-time output for one offload unit: the
// portable graph description plus the ordered constants the host must
// hand back to Module.Init.
type Artifact struct {
	Symbol     string
	GraphJSON  string
	ConstNames []string
	Constants  []*tensor.RawTensor
}

// Compile turns one fused function into an offload artifact. Functions
// carrying a composite pattern name go through the pattern extractor;
// bare bodies are accepted for the plain operator set (reshape).
func Compile(symbol string, fn *relay.Function) (*Artifact, error) {
	s := newSerializer(symbol)

	var (
		entry graph.Entry
		err   error
	)
	if fn.Composite != "" {
		var comp *CompositeNode
		if comp, err = ExtractComposite(fn); err == nil {
			entry, err = s.serializeComposite(fn, comp)
		}
	} else {
		entry, err = s.serializePlain(fn)
	}
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", symbol, err)
	}

	s.heads = append(s.heads, entry)
	graphJSON, err := s.finish().Marshal()
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", symbol, err)
	}

	logger.Log.Debug("serialized offload graph",
		"symbol", symbol,
		"nodes", len(s.nodes),
		"consts", len(s.constNames))

	return &Artifact{
		Symbol:     symbol,
		GraphJSON:  graphJSON,
		ConstNames: s.constNames,
		Constants:  s.constants,
	}, nil
}

// serializer assigns node ids in visitation order, which follows data
// dependencies and is therefore a topological order of the DAG.
type serializer struct {
	symbol     string
	nodes      []*graph.Node
	argNodes   []int
	heads      []graph.Entry
	constNames []string
	constants  []*tensor.RawTensor
	memo       map[relay.Expr]graph.Entry
}

func newSerializer(symbol string) *serializer {
	return &serializer{
		symbol: symbol,
		memo:   make(map[relay.Expr]graph.Entry),
	}
}

// serializeComposite emits one kernel node for a recognized pattern.
// Input order is load-bearing: data, weight, then bias if present —
// the runtime's layer builders index inputs positionally.
func (s *serializer) serializeComposite(fn *relay.Function, comp *CompositeNode) (graph.Entry, error) {
	if len(comp.Core.Args) < 2 {
		return graph.Entry{}, fmt.Errorf("%w: %s call carries %d args, want data and weight",
			ErrUnsupportedExpr, comp.Core.Op, len(comp.Core.Args))
	}

	inputs := make([]graph.Entry, 0, 3)

	dataEntry, err := s.visit(comp.Core.Args[0])
	if err != nil {
		return graph.Entry{}, err
	}
	inputs = append(inputs, dataEntry)

	weightEntry, err := s.visit(comp.Core.Args[1])
	if err != nil {
		return graph.Entry{}, err
	}
	inputs = append(inputs, weightEntry)

	if comp.Bias != nil {
		if len(comp.Bias.Args) < 2 {
			return graph.Entry{}, fmt.Errorf("%w: bias call carries %d args", ErrUnsupportedExpr, len(comp.Bias.Args))
		}
		biasEntry, err := s.visit(comp.Bias.Args[1])
		if err != nil {
			return graph.Entry{}, err
		}
		inputs = append(inputs, biasEntry)
	}

	// Attributes are copied verbatim from the core call; the fused
	// activation rides along as its own attribute.
	attrs := comp.Core.Attrs.Clone()
	if comp.Activation != nil {
		attrs["activation_type"] = []string{"relu"}
	}
	if dt, ok := exprDType(comp.Core.Args[0]); ok {
		attrs["dtype"] = []string{dt.String()}
	}

	return s.addNode(graph.OpTypeKernel, comp.Core.Op, inputs, attrs, fn.Body.OutShape()), nil
}

// serializePlain emits one kernel node for a bare single-call body.
func (s *serializer) serializePlain(fn *relay.Function) (graph.Entry, error) {
	call, ok := fn.Body.(*relay.Call)
	if !ok {
		return graph.Entry{}, fmt.Errorf("%w: fused body is %T, want a call", ErrUnsupportedExpr, fn.Body)
	}
	if !plainOps[call.Op] {
		return graph.Entry{}, fmt.Errorf("%w: %s", ErrUnsupportedOp, call.Op)
	}

	inputs := make([]graph.Entry, 0, len(call.Args))
	for _, arg := range call.Args {
		entry, err := s.visit(arg)
		if err != nil {
			return graph.Entry{}, err
		}
		inputs = append(inputs, entry)
	}

	attrs := call.Attrs.Clone()
	if len(call.Args) > 0 {
		if dt, ok := exprDType(call.Args[0]); ok {
			attrs["dtype"] = []string{dt.String()}
		}
	}

	return s.addNode(graph.OpTypeKernel, call.Op, inputs, attrs, call.OutShape()), nil
}

// visit serializes a kernel argument, reusing already-visited
// sub-expressions. Only variables and constants can feed a kernel
// node: anything deeper would mean a second operator in the unit.
func (s *serializer) visit(e relay.Expr) (graph.Entry, error) {
	if entry, ok := s.memo[e]; ok {
		return entry, nil
	}

	var entry graph.Entry
	switch v := e.(type) {
	case *relay.Var:
		attrs := map[string][]string{"dtype": {v.DType.String()}}
		entry = s.addNode(graph.OpTypeInput, v.Name, nil, attrs, v.Shape)
		s.argNodes = append(s.argNodes, entry.NodeID)
	case *relay.Constant:
		name := fmt.Sprintf("%s_const_%d", s.symbol, len(s.constNames))
		attrs := map[string][]string{"dtype": {v.Data.DType().String()}}
		entry = s.addNode(graph.OpTypeConst, name, nil, attrs, v.Data.Shape())
		s.argNodes = append(s.argNodes, entry.NodeID)
		s.constNames = append(s.constNames, name)
		s.constants = append(s.constants, v.Data)
	default:
		return graph.Entry{}, fmt.Errorf("%w: %T cannot feed a kernel node", ErrUnsupportedExpr, e)
	}

	s.memo[e] = entry
	return entry, nil
}

func (s *serializer) addNode(opType, opName string, inputs []graph.Entry, attrs map[string][]string, shape tensor.Shape) graph.Entry {
	node := &graph.Node{
		ID:           len(s.nodes),
		OpType:       opType,
		OpName:       opName,
		Inputs:       inputs,
		Attrs:        attrs,
		OutputShapes: [][]int{shape.Clone()},
		NumOutputs:   1,
	}
	s.nodes = append(s.nodes, node)
	return graph.Entry{NodeID: node.ID, Index: 0}
}

func (s *serializer) finish() *graph.Graph {
	g := &graph.Graph{
		Nodes:    s.nodes,
		ArgNodes: s.argNodes,
		Heads:    s.heads,
	}
	g.NodeRowPtr = make([]int, len(s.nodes)+1)
	for i, n := range s.nodes {
		g.NodeRowPtr[i+1] = g.NodeRowPtr[i] + n.NumOutputs
	}
	return g
}

// exprDType resolves the data type of a serializable argument.
func exprDType(e relay.Expr) (tensor.DataType, bool) {
	switch v := e.(type) {
	case *relay.Var:
		return v.DType, true
	case *relay.Constant:
		return v.Data.DType(), true
	default:
		return 0, false
	}
}
