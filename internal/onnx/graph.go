package onnx

import (
	"errors"
	"fmt"

	"github.com/born-ml/ptq/internal/tensor"
)

// ErrInitializerNotFound is returned when a tensor name is not a graph
// initializer.
var ErrInitializerNotFound = errors.New("initializer not found")

// Graph indexes a ModelProto for structural queries: nodes by name, producers
// and consumers by tensor name, initializers by name. It borrows the model and
// must be rebuilt after the model's node list changes.
type Graph struct {
	model         *ModelProto
	nodeByName    map[string]int
	nodesByOutput map[string][]int
	nodesByInput  map[string][]int
	initByName    map[string]int
}

// NewGraph builds the index. Node names must be unique and non-empty; use
// AssignNodeNames on models exported without names.
func NewGraph(model *ModelProto) (*Graph, error) {
	if model == nil || model.Graph == nil {
		return nil, errors.New("model has no graph")
	}
	g := &Graph{
		model:         model,
		nodeByName:    make(map[string]int, len(model.Graph.Nodes)),
		nodesByOutput: make(map[string][]int),
		nodesByInput:  make(map[string][]int),
		initByName:    make(map[string]int, len(model.Graph.Initializers)),
	}
	for i := range model.Graph.Nodes {
		node := &model.Graph.Nodes[i]
		if node.Name == "" {
			return nil, fmt.Errorf("node %d (%s) has no name", i, node.OpType)
		}
		if _, dup := g.nodeByName[node.Name]; dup {
			return nil, fmt.Errorf("duplicate node name %q", node.Name)
		}
		g.nodeByName[node.Name] = i
		for _, out := range node.Outputs {
			if out != "" {
				g.nodesByOutput[out] = append(g.nodesByOutput[out], i)
			}
		}
		for _, in := range node.Inputs {
			if in != "" {
				g.nodesByInput[in] = append(g.nodesByInput[in], i)
			}
		}
	}
	for i := range model.Graph.Initializers {
		g.initByName[model.Graph.Initializers[i].Name] = i
	}
	return g, nil
}

// Model returns the indexed model.
func (g *Graph) Model() *ModelProto {
	return g.model
}

// Nodes returns the model's nodes in file order.
func (g *Graph) Nodes() []NodeProto {
	return g.model.Graph.Nodes
}

// NodeByName returns the node with the given name.
func (g *Graph) NodeByName(name string) (*NodeProto, bool) {
	i, ok := g.nodeByName[name]
	if !ok {
		return nil, false
	}
	return &g.model.Graph.Nodes[i], true
}

// NodesByOutput returns the nodes producing the tensor. A well-formed graph
// has at most one.
func (g *Graph) NodesByOutput(tensorName string) []*NodeProto {
	return g.collect(g.nodesByOutput[tensorName])
}

// NodesByInput returns the nodes consuming the tensor.
func (g *Graph) NodesByInput(tensorName string) []*NodeProto {
	return g.collect(g.nodesByInput[tensorName])
}

func (g *Graph) collect(idx []int) []*NodeProto {
	nodes := make([]*NodeProto, len(idx))
	for i, j := range idx {
		nodes[i] = &g.model.Graph.Nodes[j]
	}
	return nodes
}

// NodeEdgeNames returns the input and output tensor names of a node.
func (g *Graph) NodeEdgeNames(nodeName string) (inputs, outputs []string, err error) {
	node, ok := g.NodeByName(nodeName)
	if !ok {
		return nil, nil, fmt.Errorf("node %q not found", nodeName)
	}
	return node.Inputs, node.Outputs, nil
}

// Initializer returns the initializer with the given name.
func (g *Graph) Initializer(name string) (*TensorProto, bool) {
	i, ok := g.initByName[name]
	if !ok {
		return nil, false
	}
	return &g.model.Graph.Initializers[i], true
}

// InitializerValue decodes the named initializer.
func (g *Graph) InitializerValue(name string) (*tensor.RawTensor, error) {
	init, ok := g.Initializer(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInitializerNotFound, name)
	}
	return TensorFromProto(init)
}

// IsInitializer reports whether the tensor name is a graph initializer.
func (g *Graph) IsInitializer(name string) bool {
	_, ok := g.initByName[name]
	return ok
}

// InputNames returns the graph inputs that are not initializers.
func (g *Graph) InputNames() []string {
	var names []string
	for i := range g.model.Graph.Inputs {
		if name := g.model.Graph.Inputs[i].Name; !g.IsInitializer(name) {
			names = append(names, name)
		}
	}
	return names
}

// OutputNames returns the graph output names.
func (g *Graph) OutputNames() []string {
	names := make([]string, len(g.model.Graph.Outputs))
	for i := range g.model.Graph.Outputs {
		names[i] = g.model.Graph.Outputs[i].Name
	}
	return names
}

// ValueInfo looks up type information for a tensor among graph inputs,
// outputs and value_info entries.
func (g *Graph) ValueInfo(name string) (*ValueInfoProto, bool) {
	for _, list := range [][]ValueInfoProto{g.model.Graph.Inputs, g.model.Graph.Outputs, g.model.Graph.ValueInfo} {
		for i := range list {
			if list[i].Name == name {
				return &list[i], true
			}
		}
	}
	return nil, false
}

// AssignNodeNames gives every unnamed node a unique "<OpType>_<index>" name.
// It returns the number of nodes renamed.
func AssignNodeNames(model *ModelProto) int {
	if model == nil || model.Graph == nil {
		return 0
	}
	used := make(map[string]bool, len(model.Graph.Nodes))
	for i := range model.Graph.Nodes {
		used[model.Graph.Nodes[i].Name] = true
	}
	renamed := 0
	for i := range model.Graph.Nodes {
		node := &model.Graph.Nodes[i]
		if node.Name != "" {
			continue
		}
		name := fmt.Sprintf("%s_%d", node.OpType, i)
		for suffix := 1; used[name]; suffix++ {
			name = fmt.Sprintf("%s_%d_%d", node.OpType, i, suffix)
		}
		node.Name = name
		used[name] = true
		renamed++
	}
	return renamed
}
