package onnx

import (
	"context"
	"fmt"

	"github.com/born-ml/ptq/internal/onnx/operators"
	"github.com/born-ml/ptq/internal/tensor"
)

// Session executes a model's graph on a compute backend.
type Session struct {
	registry    *operators.Registry
	backend     tensor.Backend
	weights     map[string]*tensor.RawTensor
	inputNames  []string
	outputNames []string
	sortedNodes []*operators.Node
}

// NewSession decodes the model's initializers and orders its nodes for
// execution. The session holds no reference to model afterwards.
func NewSession(model *ModelProto, backend tensor.Backend) (*Session, error) {
	if model == nil || model.Graph == nil {
		return nil, fmt.Errorf("model has no graph")
	}
	graph := model.Graph

	s := &Session{
		registry: operators.NewRegistry(),
		backend:  backend,
		weights:  make(map[string]*tensor.RawTensor, len(graph.Initializers)),
	}
	for i := range graph.Initializers {
		init := &graph.Initializers[i]
		t, err := TensorFromProto(init)
		if err != nil {
			return nil, fmt.Errorf("failed to load initializer %s: %w", init.Name, err)
		}
		s.weights[init.Name] = t
	}

	for i := range graph.Inputs {
		if _, isWeight := s.weights[graph.Inputs[i].Name]; !isWeight {
			s.inputNames = append(s.inputNames, graph.Inputs[i].Name)
		}
	}
	for i := range graph.Outputs {
		s.outputNames = append(s.outputNames, graph.Outputs[i].Name)
	}

	sorted, err := SortNodes(graph.Nodes)
	if err != nil {
		return nil, err
	}
	for _, node := range sorted {
		if _, ok := s.registry.Get(node.OpType); !ok {
			return nil, fmt.Errorf("node %s: unsupported operator: %s", node.Name, node.OpType)
		}
		s.sortedNodes = append(s.sortedNodes, operatorNode(node))
	}
	return s, nil
}

// InputNames returns the names of the graph inputs that are not initializers.
func (s *Session) InputNames() []string {
	return s.inputNames
}

// OutputNames returns the names of the graph outputs.
func (s *Session) OutputNames() []string {
	return s.outputNames
}

// Run executes the graph and returns every graph output by name.
func (s *Session) Run(ctx context.Context, inputs map[string]*tensor.RawTensor) (map[string]*tensor.RawTensor, error) {
	tensors := make(map[string]*tensor.RawTensor, len(s.weights)+len(inputs))
	for name, t := range s.weights {
		tensors[name] = t
	}
	for _, name := range s.inputNames {
		t, ok := inputs[name]
		if !ok {
			return nil, fmt.Errorf("missing input: %s", name)
		}
		tensors[name] = t
	}

	opCtx := &operators.Context{Backend: s.backend}
	for _, node := range s.sortedNodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		nodeInputs := make([]*tensor.RawTensor, len(node.Inputs))
		for i, name := range node.Inputs {
			if name == "" {
				continue
			}
			t, ok := tensors[name]
			if !ok {
				return nil, fmt.Errorf("node %s: missing input %s", node.Name, name)
			}
			nodeInputs[i] = t
		}

		outputs, err := s.registry.Execute(opCtx, node, nodeInputs)
		if err != nil {
			return nil, fmt.Errorf("node %s (%s): %w", node.Name, node.OpType, err)
		}
		for i, name := range node.Outputs {
			if i < len(outputs) && name != "" {
				tensors[name] = outputs[i]
			}
		}
	}

	result := make(map[string]*tensor.RawTensor, len(s.outputNames))
	for _, name := range s.outputNames {
		t, ok := tensors[name]
		if !ok {
			return nil, fmt.Errorf("missing output: %s", name)
		}
		result[name] = t
	}
	return result, nil
}

func operatorNode(proto *NodeProto) *operators.Node {
	attrs := make([]operators.Attribute, len(proto.Attributes))
	for i := range proto.Attributes {
		attr := &proto.Attributes[i]
		attrs[i] = operators.Attribute{
			Name:   attr.Name,
			F:      attr.F,
			I:      attr.I,
			S:      attr.S,
			Floats: attr.Floats,
			Ints:   attr.Ints,
		}
	}
	return &operators.Node{
		Name:       proto.Name,
		OpType:     proto.OpType,
		Inputs:     proto.Inputs,
		Outputs:    proto.Outputs,
		Attributes: attrs,
	}
}

// SortNodes returns the nodes in an order where every producer precedes its
// consumers. Ties keep file order. A cycle is an error.
func SortNodes(nodes []NodeProto) ([]*NodeProto, error) {
	outputToNode := make(map[string]int)
	for i := range nodes {
		for _, output := range nodes[i].Outputs {
			outputToNode[output] = i
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(nodes))
	result := make([]*NodeProto, 0, len(nodes))

	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("graph has a cycle through node %s", nodes[i].Name)
		}
		state[i] = visiting
		for _, input := range nodes[i].Inputs {
			if dep, ok := outputToNode[input]; ok && input != "" {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		state[i] = done
		result = append(result, &nodes[i])
		return nil
	}

	for i := range nodes {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return result, nil
}
