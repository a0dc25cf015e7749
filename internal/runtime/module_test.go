package runtime

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digital-nomad-cheng/tvm/internal/engine"
	"github.com/digital-nomad-cheng/tvm/internal/graph"
	"github.com/digital-nomad-cheng/tvm/internal/tensor"
)

// testGraph assembles a serialized description from nodes: every
// input/const node becomes an argument, the last node the single head.
func testGraph(t *testing.T, nodes []*graph.Node) string {
	t.Helper()
	g := &graph.Graph{Nodes: nodes}
	for _, n := range nodes {
		if n.OpType != graph.OpTypeKernel {
			g.ArgNodes = append(g.ArgNodes, n.ID)
		}
	}
	g.Heads = []graph.Entry{{NodeID: nodes[len(nodes)-1].ID}}
	encoded, err := g.Marshal()
	require.NoError(t, err)
	return encoded
}

func inputNode(id int, name string, shape []int) *graph.Node {
	return &graph.Node{
		ID: id, OpType: graph.OpTypeInput, OpName: name,
		Attrs:        map[string][]string{"dtype": {"float32"}},
		OutputShapes: [][]int{shape}, NumOutputs: 1,
	}
}

func constNode(id int, name string, shape []int) *graph.Node {
	return &graph.Node{
		ID: id, OpType: graph.OpTypeConst, OpName: name,
		Attrs:        map[string][]string{"dtype": {"float32"}},
		OutputShapes: [][]int{shape}, NumOutputs: 1,
	}
}

func kernelNode(id int, op string, inputs []graph.Entry, attrs map[string][]string, shape []int) *graph.Node {
	return &graph.Node{
		ID: id, OpType: graph.OpTypeKernel, OpName: op,
		Inputs: inputs, Attrs: attrs,
		OutputShapes: [][]int{shape}, NumOutputs: 1,
	}
}

// denseJSON describes a [1,4] x [3,4]^T dense unit, optionally with a
// bias constant and a fused activation attribute.
func denseJSON(t *testing.T, withBias bool, activation string) (string, []string) {
	t.Helper()
	attrs := map[string][]string{}
	if activation != "" {
		attrs["activation_type"] = []string{activation}
	}

	nodes := []*graph.Node{
		inputNode(0, "data", []int{1, 4}),
		constNode(1, "dense_const_0", []int{3, 4}),
	}
	names := []string{"dense_const_0"}
	inputs := []graph.Entry{{NodeID: 0}, {NodeID: 1}}
	if withBias {
		nodes = append(nodes, constNode(2, "dense_const_1", []int{3}))
		names = append(names, "dense_const_1")
		inputs = append(inputs, graph.Entry{NodeID: 2})
	}
	nodes = append(nodes, kernelNode(len(nodes), "nn.dense", inputs, attrs, []int{1, 3}))
	return testGraph(t, nodes), names
}

// convJSON describes the [1,1,5,5] -> [1,2,3,3] convolution unit.
func convJSON(t *testing.T, kernelSize []string) (string, []string) {
	t.Helper()
	nodes := []*graph.Node{
		inputNode(0, "data", []int{1, 1, 5, 5}),
		constNode(1, "conv_const_0", []int{2, 1, 3, 3}),
		kernelNode(2, "nn.conv2d",
			[]graph.Entry{{NodeID: 0}, {NodeID: 1}},
			map[string][]string{
				"channels":    {"2"},
				"kernel_size": kernelSize,
				"strides":     {"1", "1"},
				"padding":     {"0", "0"},
				"dilation":    {"1", "1"},
			},
			[]int{1, 2, 3, 3}),
	}
	return testGraph(t, nodes), []string{"conv_const_0"}
}

func float32Tensor(t *testing.T, shape tensor.Shape, values []float32) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.FromFloat32(shape, values)
	require.NoError(t, err)
	return raw
}

func onesTensor(t *testing.T, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	values := make([]float32, shape.NumElements())
	for i := range values {
		values[i] = 1
	}
	return float32Tensor(t, shape, values)
}

func TestDenseModuleScenario(t *testing.T) {
	graphJSON, names := denseJSON(t, true, "relu")
	m, err := CreateModule("dense_unit", graphJSON, names)
	require.NoError(t, err)
	defer m.Close()

	weight := float32Tensor(t, tensor.Shape{3, 4}, []float32{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
	})
	bias := float32Tensor(t, tensor.Shape{3}, []float32{10, 20, 30})
	require.NoError(t, m.Init([]*tensor.RawTensor{weight, bias}))

	in := float32Tensor(t, tensor.Shape{1, 4}, []float32{1, 2, 3, 4})
	out, err := tensor.NewRaw(tensor.Shape{1, 3}, tensor.Float32)
	require.NoError(t, err)
	require.NoError(t, m.BindInput("data", in))
	require.NoError(t, m.BindOutput(0, out))

	require.NoError(t, m.Run())
	assert.Equal(t, []float32{11, 22, 33}, out.AsFloat32())

	// Run is idempotent for identical inputs; the layer is not rebuilt.
	require.NoError(t, m.Run())
	assert.Equal(t, []float32{11, 22, 33}, out.AsFloat32())
}

func TestConvModuleScenario(t *testing.T) {
	graphJSON, names := convJSON(t, []string{"3", "3"})
	m, err := CreateModule("conv_unit", graphJSON, names,
		WithOptions(engine.Options{NumThreads: 4}))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Init([]*tensor.RawTensor{onesTensor(t, tensor.Shape{2, 1, 3, 3})}))

	in := onesTensor(t, tensor.Shape{1, 1, 5, 5})
	out, err := tensor.NewRaw(tensor.Shape{1, 2, 3, 3}, tensor.Float32)
	require.NoError(t, err)
	require.NoError(t, m.BindInput("data", in))
	require.NoError(t, m.BindOutput(0, out))

	require.NoError(t, m.Run())
	for i, v := range out.AsFloat32() {
		assert.Equal(t, float32(9), v, "element %d", i)
	}
}

func TestReshapeRoundTripIsBitForBit(t *testing.T) {
	nodes := []*graph.Node{
		inputNode(0, "data", []int{1, 2, 2, 2}),
		kernelNode(1, "reshape", []graph.Entry{{NodeID: 0}},
			map[string][]string{"dtype": {"float32"}}, []int{1, 8}),
	}
	m, err := CreateModule("reshape_unit", testGraph(t, nodes), nil)
	require.NoError(t, err)
	defer m.Close()
	require.NoError(t, m.Init(nil))

	// Negative zero keeps == equality from masking a layout defect:
	// only the raw bytes prove the round trip exact.
	in := float32Tensor(t, tensor.Shape{1, 2, 2, 2},
		[]float32{1.5, -2.25, float32(math.Copysign(0, -1)), 4, -5, 6.0625, 7, -8})
	out, err := tensor.NewRaw(tensor.Shape{1, 8}, tensor.Float32)
	require.NoError(t, err)
	require.NoError(t, m.BindInput("data", in))
	require.NoError(t, m.BindOutput(0, out))

	require.NoError(t, m.Run())
	assert.Equal(t, in.Data(), out.Data(), "host -> engine -> host must reproduce the buffer exactly")
}

func TestInitConstCount(t *testing.T) {
	weight := func() *tensor.RawTensor { return onesTensor(t, tensor.Shape{3, 4}) }
	bias := func() *tensor.RawTensor { return onesTensor(t, tensor.Shape{3}) }

	tests := []struct {
		name      string
		constants []*tensor.RawTensor
		wantErr   bool
	}{
		{"exact", []*tensor.RawTensor{weight(), bias()}, false},
		{"one_short", []*tensor.RawTensor{weight()}, true},
		{"one_extra", []*tensor.RawTensor{weight(), bias(), bias()}, true},
		{"empty", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			graphJSON, names := denseJSON(t, true, "")
			m, err := CreateModule("dense_unit", graphJSON, names)
			require.NoError(t, err)
			defer m.Close()

			err = m.Init(tt.constants)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrConstCount)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCreateModuleKernelMultiplicity(t *testing.T) {
	dense := func(id int, in graph.Entry) *graph.Node {
		return kernelNode(id, "nn.dense", []graph.Entry{in, {NodeID: 1}}, nil, []int{1, 3})
	}

	// Two kernel nodes must fail regardless of where they sit in the
	// node list.
	kernelsLast := []*graph.Node{
		inputNode(0, "data", []int{1, 4}),
		constNode(1, "c0", []int{3, 4}),
		dense(2, graph.Entry{NodeID: 0}),
		dense(3, graph.Entry{NodeID: 0}),
	}
	kernelSplit := []*graph.Node{
		inputNode(0, "data", []int{1, 4}),
		dense(1, graph.Entry{NodeID: 0}),
		constNode(2, "c0", []int{3, 4}),
		dense(3, graph.Entry{NodeID: 0}),
	}
	// The split layout wires weights to node 2 instead.
	kernelSplit[1].Inputs = []graph.Entry{{NodeID: 0}, {NodeID: 2}}
	kernelSplit[3].Inputs = []graph.Entry{{NodeID: 0}, {NodeID: 2}}

	for name, nodes := range map[string][]*graph.Node{
		"kernels_last":   kernelsLast,
		"kernels_spread": kernelSplit,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := CreateModule("two_kernels", testGraph(t, nodes), []string{"c0"})
			assert.ErrorIs(t, err, ErrKernelMultiplicity)
		})
	}
}

func TestCreateModuleRequiresKernel(t *testing.T) {
	nodes := []*graph.Node{inputNode(0, "data", []int{1, 4})}
	_, err := CreateModule("no_kernel", testGraph(t, nodes), nil)
	assert.ErrorIs(t, err, ErrKernelMultiplicity)
}

func TestCreateModuleConstNameCount(t *testing.T) {
	graphJSON, _ := denseJSON(t, false, "")
	_, err := CreateModule("dense_unit", graphJSON, []string{"a", "b"})
	assert.ErrorIs(t, err, ErrConstCount)
}

func TestInitTwiceFails(t *testing.T) {
	graphJSON, names := denseJSON(t, false, "")
	m, err := CreateModule("dense_unit", graphJSON, names)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Init([]*tensor.RawTensor{onesTensor(t, tensor.Shape{3, 4})}))
	assert.Error(t, m.Init([]*tensor.RawTensor{onesTensor(t, tensor.Shape{3, 4})}))
}

func TestRunBeforeInit(t *testing.T) {
	graphJSON, names := denseJSON(t, false, "")
	m, err := CreateModule("dense_unit", graphJSON, names)
	require.NoError(t, err)

	assert.ErrorIs(t, m.Run(), ErrNotInitialized)
}

func TestRunRequiresBoundBuffers(t *testing.T) {
	graphJSON, names := denseJSON(t, false, "")
	m, err := CreateModule("dense_unit", graphJSON, names)
	require.NoError(t, err)
	defer m.Close()
	require.NoError(t, m.Init([]*tensor.RawTensor{onesTensor(t, tensor.Shape{3, 4})}))

	assert.ErrorIs(t, m.Run(), ErrUnboundBuffer, "unbound input")

	require.NoError(t, m.BindInput("data", onesTensor(t, tensor.Shape{1, 4})))
	assert.ErrorIs(t, m.Run(), ErrUnboundBuffer, "unbound output")

	out, err := tensor.NewRaw(tensor.Shape{1, 3}, tensor.Float32)
	require.NoError(t, err)
	require.NoError(t, m.BindOutput(0, out))
	assert.NoError(t, m.Run())
}

func TestBindValidation(t *testing.T) {
	graphJSON, names := denseJSON(t, false, "")
	m, err := CreateModule("dense_unit", graphJSON, names)
	require.NoError(t, err)

	buf := onesTensor(t, tensor.Shape{1, 4})
	assert.Error(t, m.BindInput("missing", buf))
	assert.Error(t, m.BindOutput(1, buf))
	assert.Error(t, m.BindOutput(-1, buf))
}

func TestModuleCloseIsIdempotent(t *testing.T) {
	graphJSON, names := denseJSON(t, false, "")
	m, err := CreateModule("dense_unit", graphJSON, names)
	require.NoError(t, err)
	require.NoError(t, m.Init([]*tensor.RawTensor{onesTensor(t, tensor.Shape{3, 4})}))

	m.Close()
	m.Close()
	assert.ErrorIs(t, m.Run(), ErrNotInitialized)
}

func TestUnsupportedOperator(t *testing.T) {
	nodes := []*graph.Node{
		inputNode(0, "data", []int{1, 4}),
		kernelNode(1, "nn.softmax", []graph.Entry{{NodeID: 0}}, nil, []int{1, 4}),
	}
	m, err := CreateModule("softmax_unit", testGraph(t, nodes), nil)
	require.NoError(t, err, "the op set is enforced at layer build, not at parse")

	assert.ErrorIs(t, m.Init(nil), ErrUnsupportedOp)
}

func TestArityViolation(t *testing.T) {
	tooFew := []*graph.Node{
		inputNode(0, "data", []int{1, 4}),
		kernelNode(1, "nn.dense", []graph.Entry{{NodeID: 0}}, nil, []int{1, 3}),
	}
	m, err := CreateModule("dense_unit", testGraph(t, tooFew), nil)
	require.NoError(t, err)
	assert.ErrorIs(t, m.Init(nil), ErrArity)

	tooMany := []*graph.Node{
		inputNode(0, "data", []int{1, 4}),
		constNode(1, "c0", []int{3, 4}),
		constNode(2, "c1", []int{3}),
		constNode(3, "c2", []int{3}),
		kernelNode(4, "nn.dense",
			[]graph.Entry{{NodeID: 0}, {NodeID: 1}, {NodeID: 2}, {NodeID: 3}}, nil, []int{1, 3}),
	}
	m, err = CreateModule("dense_unit", testGraph(t, tooMany), []string{"c0", "c1", "c2"})
	require.NoError(t, err)
	err = m.Init([]*tensor.RawTensor{
		onesTensor(t, tensor.Shape{3, 4}),
		onesTensor(t, tensor.Shape{3}),
		onesTensor(t, tensor.Shape{3}),
	})
	assert.ErrorIs(t, err, ErrArity)
}

func TestBatchMustBeOne(t *testing.T) {
	nodes := []*graph.Node{
		inputNode(0, "data", []int{2, 4}),
		constNode(1, "c0", []int{3, 4}),
		kernelNode(2, "nn.dense", []graph.Entry{{NodeID: 0}, {NodeID: 1}}, nil, []int{2, 3}),
	}
	m, err := CreateModule("batched_unit", testGraph(t, nodes), []string{"c0"})
	require.NoError(t, err)

	err = m.Init([]*tensor.RawTensor{onesTensor(t, tensor.Shape{3, 4})})
	assert.ErrorIs(t, err, ErrBatch)
}

func TestAnisotropicConvAttrRejected(t *testing.T) {
	graphJSON, names := convJSON(t, []string{"3", "5"})
	m, err := CreateModule("conv_unit", graphJSON, names)
	require.NoError(t, err)

	// Weight size follows the declared [2,1,3,3] const, so the build
	// fails on the anisotropy check, not on a silent truncation.
	err = m.Init([]*tensor.RawTensor{onesTensor(t, tensor.Shape{2, 1, 3, 3})})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anisotropic")
}

func TestConstMustBeFloat32(t *testing.T) {
	graphJSON, names := denseJSON(t, false, "")
	m, err := CreateModule("dense_unit", graphJSON, names)
	require.NoError(t, err)

	weight, err := tensor.NewRaw(tensor.Shape{3, 4}, tensor.Int32)
	require.NoError(t, err)
	assert.ErrorIs(t, m.Init([]*tensor.RawTensor{weight}), ErrDType)
}

func TestReshapeIgnoresAttrs(t *testing.T) {
	// The reshape builder deliberately never consults the node's own
	// attributes; a declared target shape still flattens.
	nodes := []*graph.Node{
		inputNode(0, "data", []int{1, 2, 2, 2}),
		kernelNode(1, "reshape", []graph.Entry{{NodeID: 0}},
			map[string][]string{"newshape": {"2", "4"}}, []int{1, 8}),
	}
	m, err := CreateModule("reshape_unit", testGraph(t, nodes), nil)
	require.NoError(t, err)
	defer m.Close()
	require.NoError(t, m.Init(nil))

	in := onesTensor(t, tensor.Shape{1, 2, 2, 2})
	out, err := tensor.NewRaw(tensor.Shape{1, 8}, tensor.Float32)
	require.NoError(t, err)
	require.NoError(t, m.BindInput("data", in))
	require.NoError(t, m.BindOutput(0, out))
	assert.NoError(t, m.Run())
}
