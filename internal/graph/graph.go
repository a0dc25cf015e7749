// Package graph defines the portable description of an offload unit:
// typed nodes with ordered input references, attribute maps and
// declared output shapes, plus the JSON codec that carries the
// description across the compile-time/run-time boundary.
package graph

import (
	"encoding/json"
	"fmt"

	"github.com/digital-nomad-cheng/tvm/internal/tensor"
)

// Node kinds.
const (
	OpTypeInput  = "input"
	OpTypeConst  = "const"
	OpTypeKernel = "kernel"
)

// Entry addresses one output of one node as a (node_id, output_index)
// pair. It serializes as a two-element JSON array.
type Entry struct {
	NodeID int
	Index  int
}

// MarshalJSON encodes the entry as [node_id, output_index].
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{e.NodeID, e.Index})
}

// UnmarshalJSON decodes a [node_id, output_index] pair.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var pair [2]int
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("entry must be a [node_id, output_index] pair: %w", err)
	}
	e.NodeID, e.Index = pair[0], pair[1]
	return nil
}

// Node is one node of the serialized graph. Immutable once serialized.
type Node struct {
	ID           int                 `json:"id"`
	OpType       string              `json:"op_type"`
	OpName       string              `json:"op_name"`
	Inputs       []Entry             `json:"inputs"`
	Attrs        map[string][]string `json:"attrs,omitempty"`
	OutputShapes [][]int             `json:"output_shapes"`
	NumOutputs   int                 `json:"num_outputs"`
}

// Attr returns the first value of the named attribute.
// Structured per-axis attributes are read through this accessor.
func (n *Node) Attr(key string) (string, bool) {
	values, ok := n.Attrs[key]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// AttrValues returns every value of the named attribute.
func (n *Node) AttrValues(key string) []string {
	return n.Attrs[key]
}

// Shape returns the declared shape of the node's i-th output.
func (n *Node) Shape(i int) tensor.Shape {
	if i < 0 || i >= len(n.OutputShapes) {
		return nil
	}
	return tensor.Shape(n.OutputShapes[i])
}

// Graph is the complete description of one offload unit.
type Graph struct {
	Nodes      []*Node `json:"nodes"`
	ArgNodes   []int   `json:"arg_nodes"`
	Heads      []Entry `json:"heads"`
	NodeRowPtr []int   `json:"node_row_ptr"`
}

// Marshal encodes the graph as its portable JSON form.
func (g *Graph) Marshal() (string, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return "", fmt.Errorf("marshal graph: %w", err)
	}
	return string(data), nil
}

// Parse decodes and structurally validates a serialized graph.
// Semantic checks (kernel multiplicity, arity) belong to the runtime.
func Parse(data string) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal([]byte(data), &g); err != nil {
		return nil, fmt.Errorf("parse graph: %w", err)
	}

	for i, n := range g.Nodes {
		if n.ID != i {
			return nil, fmt.Errorf("parse graph: node %d carries id %d (ids must be positional)", i, n.ID)
		}
		if n.NumOutputs < 1 {
			return nil, fmt.Errorf("parse graph: node %d declares %d outputs", i, n.NumOutputs)
		}
		for _, in := range n.Inputs {
			if in.NodeID < 0 || in.NodeID >= len(g.Nodes) {
				return nil, fmt.Errorf("parse graph: node %d references missing node %d", i, in.NodeID)
			}
		}
	}

	if len(g.NodeRowPtr) != len(g.Nodes)+1 {
		g.recomputeRowPtr()
	}
	return &g, nil
}

// recomputeRowPtr rebuilds the entry-id row pointers from node output
// counts. Serialized graphs normally carry them already.
func (g *Graph) recomputeRowPtr() {
	g.NodeRowPtr = make([]int, len(g.Nodes)+1)
	for i, n := range g.Nodes {
		g.NodeRowPtr[i+1] = g.NodeRowPtr[i] + n.NumOutputs
	}
}

// EntryID flattens an entry to its position in the data-entry table.
func (g *Graph) EntryID(e Entry) int {
	return g.NodeRowPtr[e.NodeID] + e.Index
}

// NumEntries returns the size of the data-entry table.
func (g *Graph) NumEntries() int {
	if len(g.NodeRowPtr) == 0 {
		return 0
	}
	return g.NodeRowPtr[len(g.NodeRowPtr)-1]
}
