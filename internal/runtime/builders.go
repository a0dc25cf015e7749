package runtime

import (
	"fmt"
	"strconv"

	"github.com/digital-nomad-cheng/tvm/internal/engine"
	"github.com/digital-nomad-cheng/tvm/internal/graph"
	"github.com/digital-nomad-cheng/tvm/internal/relay"
	"github.com/digital-nomad-cheng/tvm/internal/tensor"
)

// CachedLayer bundles the module's single built native layer with the
// execution options it was finalized against and the scratch tensors
// allocated once at build time. Exclusively owned by one Module.
type CachedLayer struct {
	Op  engine.Layer
	Opt engine.Options
	In  *engine.Mat
	Out *engine.Mat
}

// Close tears down the native layer and drops the scratch tensors.
// Safe to call repeatedly.
func (c *CachedLayer) Close() {
	if c.Op != nil {
		c.Op.Destroy()
		c.Op = nil
	}
	c.In = nil
	c.Out = nil
}

// layerBuilder is one entry of the dispatch table: the valid input
// arity range and the construction function for a kernel kind.
// Supporting a new operator means adding a table entry.
type layerBuilder struct {
	minInputs int
	maxInputs int
	build     func(m *Module, node *graph.Node) (engine.Layer, error)
}

var layerBuilders = map[string]layerBuilder{
	relay.OpDense:   {minInputs: 2, maxInputs: 3, build: buildInnerProduct},
	relay.OpConv2D:  {minInputs: 2, maxInputs: 3, build: buildConvolution},
	relay.OpReshape: {minInputs: 1, maxInputs: 1, build: buildReshape},
}

// buildLayer constructs, finalizes and wraps the module's single
// native layer. Any failure partway releases whatever was already
// allocated before the error surfaces.
func (m *Module) buildLayer() (*CachedLayer, error) {
	node := m.g.Nodes[m.kernelNID]

	builder, ok := layerBuilders[node.OpName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOp, node.OpName)
	}
	if len(node.Inputs) < builder.minInputs || len(node.Inputs) > builder.maxInputs {
		return nil, fmt.Errorf("%w: %s carries %d inputs, want %d..%d",
			ErrArity, node.OpName, len(node.Inputs), builder.minInputs, builder.maxInputs)
	}

	op, err := builder.build(m, node)
	if err != nil {
		if op != nil {
			op.Destroy()
		}
		return nil, err
	}
	if err := op.BuildPipeline(m.opt); err != nil {
		op.Destroy()
		return nil, err
	}

	in, err := matForShape(m.inputNode(node, 0).Shape(0))
	if err != nil {
		op.Destroy()
		return nil, fmt.Errorf("scratch input: %w", err)
	}
	out, err := matForShape(node.Shape(0))
	if err != nil {
		op.Destroy()
		return nil, fmt.Errorf("scratch output: %w", err)
	}

	return &CachedLayer{Op: op, Opt: m.opt, In: in, Out: out}, nil
}

func buildInnerProduct(m *Module, node *graph.Node) (engine.Layer, error) {
	weightShape := m.inputNode(node, 1).Shape(0)
	if len(weightShape) != 2 {
		return nil, fmt.Errorf("%w: dense weight is rank %d, want 2", ErrRank, len(weightShape))
	}

	act, err := activationOf(node)
	if err != nil {
		return nil, err
	}

	hasBias := len(node.Inputs) == 3
	l := engine.NewInnerProduct(engine.InnerProductParams{
		OutFeatures: weightShape[0],
		BiasTerm:    hasBias,
		WeightSize:  weightShape.NumElements(),
		Activation:  act,
	})

	weight, err := m.constFloat32(node, 1)
	if err != nil {
		return l, err
	}
	var bias []float32
	if hasBias {
		if bias, err = m.constFloat32(node, 2); err != nil {
			return l, err
		}
	}
	if err := l.LoadWeights(weight, bias); err != nil {
		return l, err
	}
	return l, nil
}

func buildConvolution(m *Module, node *graph.Node) (engine.Layer, error) {
	outChannels, err := attrInt(node, "channels")
	if err != nil {
		return nil, err
	}
	kernel, err := attrAxes(node, "kernel_size")
	if err != nil {
		return nil, err
	}
	stride, err := attrAxes(node, "strides")
	if err != nil {
		return nil, err
	}
	pad, err := attrAxes(node, "padding")
	if err != nil {
		return nil, err
	}
	dilation, err := attrAxes(node, "dilation")
	if err != nil {
		return nil, err
	}
	act, err := activationOf(node)
	if err != nil {
		return nil, err
	}

	hasBias := len(node.Inputs) == 3
	l := engine.NewConvolution(engine.ConvolutionParams{
		OutChannels: outChannels,
		Kernel:      kernel,
		Stride:      stride,
		Pad:         pad,
		Dilation:    dilation,
		BiasTerm:    hasBias,
		WeightSize:  m.inputNode(node, 1).Shape(0).NumElements(),
		Activation:  act,
	})

	weight, err := m.constFloat32(node, 1)
	if err != nil {
		return l, err
	}
	var bias []float32
	if hasBias {
		if bias, err = m.constFloat32(node, 2); err != nil {
			return l, err
		}
	}
	if err := l.LoadWeights(weight, bias); err != nil {
		return l, err
	}
	return l, nil
}

// buildReshape deliberately ignores the node's own attributes: the
// engine supports only the fixed flatten configuration, and reading a
// target shape here would suggest a generality that does not exist.
func buildReshape(_ *Module, _ *graph.Node) (engine.Layer, error) {
	return engine.NewReshape(engine.FixedFlattenParams()), nil
}

// inputNode resolves the node feeding the kernel's i-th input.
func (m *Module) inputNode(node *graph.Node, i int) *graph.Node {
	return m.g.Nodes[node.Inputs[i].NodeID]
}

// constFloat32 fetches the constant bound to the kernel's i-th input
// and copies it element-by-element in declared row-major order. Only
// fully contiguous float32 constants are supported.
func (m *Module) constFloat32(node *graph.Node, i int) ([]float32, error) {
	cn := m.inputNode(node, i)
	if cn.OpType != graph.OpTypeConst {
		return nil, fmt.Errorf("kernel input %d references %s node %d, want const", i, cn.OpType, cn.ID)
	}
	raw, ok := m.constants[cn.ID]
	if !ok {
		return nil, fmt.Errorf("constant %q is not bound", cn.OpName)
	}
	if raw.DType() != tensor.Float32 {
		return nil, fmt.Errorf("%w: constant %q is %s, engine layers are float32-only",
			ErrDType, cn.OpName, raw.DType())
	}
	declared := cn.Shape(0).NumElements()
	if raw.NumElements() != declared {
		return nil, fmt.Errorf("constant %q carries %d elements, node declares %d",
			cn.OpName, raw.NumElements(), declared)
	}

	src := raw.AsFloat32()
	dst := make([]float32, declared)
	for idx, v := range src {
		dst[idx] = v
	}
	return dst, nil
}

// activationOf reads the fused activation attribute.
func activationOf(node *graph.Node) (engine.ActivationType, error) {
	s, _ := node.Attr("activation_type")
	act, err := engine.ParseActivation(s)
	if err != nil {
		return engine.ActivationNone, fmt.Errorf("kernel node %d: %w", node.ID, err)
	}
	return act, nil
}

// attrInt reads a required single-valued integer attribute.
func attrInt(node *graph.Node, key string) (int, error) {
	s, ok := node.Attr(key)
	if !ok {
		return 0, fmt.Errorf("kernel node %d is missing required attr %q", node.ID, key)
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("kernel node %d attr %q: %w", node.ID, key, err)
	}
	return v, nil
}

// attrAxes reads a required per-axis attribute into a fixed pair.
// A single value is treated as isotropic; the engine rejects pairs
// whose axes disagree at pipeline-build time.
func attrAxes(node *graph.Node, key string) (engine.Axes, error) {
	values := node.AttrValues(key)
	if len(values) == 0 {
		return engine.Axes{}, fmt.Errorf("kernel node %d is missing required attr %q", node.ID, key)
	}
	h, err := strconv.Atoi(values[0])
	if err != nil {
		return engine.Axes{}, fmt.Errorf("kernel node %d attr %q: %w", node.ID, key, err)
	}
	w := h
	if len(values) > 1 {
		if w, err = strconv.Atoi(values[1]); err != nil {
			return engine.Axes{}, fmt.Errorf("kernel node %d attr %q: %w", node.ID, key, err)
		}
	}
	return engine.Axes{H: h, W: w}, nil
}

// matForShape allocates engine scratch for a declared host shape.
// Rank 2 is [batch, features]; rank 4 is [batch, channels, height,
// width]. The batch dimension must be exactly 1.
func matForShape(s tensor.Shape) (*engine.Mat, error) {
	switch len(s) {
	case 2:
		if s[0] != 1 {
			return nil, fmt.Errorf("%w: got %d", ErrBatch, s[0])
		}
		return engine.NewMat2D(s[1], s[0]), nil
	case 4:
		if s[0] != 1 {
			return nil, fmt.Errorf("%w: got %d", ErrBatch, s[0])
		}
		return engine.NewMat3D(s[3], s[2], s[1]), nil
	default:
		return nil, fmt.Errorf("%w: rank %d shape %v", ErrRank, len(s), s)
	}
}
