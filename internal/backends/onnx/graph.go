package onnxbackend

import (
	"fmt"

	"github.com/born-ml/ptq/internal/algorithms"
	"github.com/born-ml/ptq/internal/graph"
	"github.com/born-ml/ptq/internal/onnx"
	"github.com/born-ml/ptq/internal/tensor"
)

// Name prefixes of the synthetic graph input and output nodes.
const (
	InputNodePrefix  = "graph_input/"
	OutputNodePrefix = "graph_output/"
)

// asModel unwraps the backend's concrete model type.
func asModel(model any) (*onnx.ModelProto, error) {
	m, ok := model.(*onnx.ModelProto)
	if !ok || m == nil {
		return nil, fmt.Errorf("%w: expected *onnx.ModelProto, got %T", algorithms.ErrUnsupportedBackend, model)
	}
	return m, nil
}

type producerRef struct {
	node *graph.Node
	port int
}

// NewGraph converts an ONNX model into the backend-neutral graph. Nodes are
// added in execution order: graph inputs, operators, graph outputs.
// Initializers are not nodes.
func NewGraph(model *onnx.ModelProto) (*graph.Graph, error) {
	og, err := onnx.NewGraph(model)
	if err != nil {
		return nil, err
	}
	sorted, err := onnx.SortNodes(model.Graph.Nodes)
	if err != nil {
		return nil, err
	}

	g := graph.New()
	producers := make(map[string]producerRef)

	for _, name := range og.InputNames() {
		n, err := g.AddNode(InputNodePrefix+name, "input", graph.InputNoopMetatype, nil)
		if err != nil {
			return nil, err
		}
		producers[name] = producerRef{node: n}
	}

	for _, proto := range sorted {
		metatype, err := OperationMetatypes.ByOpName(proto.OpType)
		if err != nil {
			return nil, err
		}
		attrs, err := layerAttributes(og, proto, metatype)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", proto.Name, err)
		}
		n, err := g.AddNode(proto.Name, proto.OpType, metatype, attrs)
		if err != nil {
			return nil, err
		}
		for port, in := range proto.Inputs {
			src, ok := producers[in]
			if !ok {
				continue
			}
			if _, err := g.AddEdge(src.node, n, src.port, port, in, edgeShape(og, in)); err != nil {
				return nil, err
			}
		}
		for port, out := range proto.Outputs {
			if out != "" {
				producers[out] = producerRef{node: n, port: port}
			}
		}
	}

	for _, name := range og.OutputNames() {
		n, err := g.AddNode(OutputNodePrefix+name, "output", graph.OutputNoopMetatype, nil)
		if err != nil {
			return nil, err
		}
		if src, ok := producers[name]; ok {
			if _, err := g.AddEdge(src.node, n, src.port, 0, name, edgeShape(og, name)); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

func layerAttributes(og *onnx.Graph, proto *onnx.NodeProto, metatype *graph.Metatype) (graph.LayerAttributes, error) {
	tensors := graph.TensorNames{
		Inputs:  append([]string(nil), proto.Inputs...),
		Outputs: append([]string(nil), proto.Outputs...),
	}
	if !metatype.HasWeights || !hasConstantWeight(og, proto) {
		return &graph.GenericLayerAttributes{Tensors: tensors}, nil
	}
	attrs, err := graph.NewWeightedLayerAttributes(tensors, WeightPortID, BiasPortID, weightShape(og, proto.Inputs[WeightPortID]))
	if err != nil {
		return nil, err
	}
	return attrs, nil
}

// hasConstantWeight reports whether the weight port is fed by an initializer,
// directly or through a dequantize (and optionally quantize) chain.
func hasConstantWeight(og *onnx.Graph, proto *onnx.NodeProto) bool {
	if len(proto.Inputs) <= WeightPortID || proto.Inputs[WeightPortID] == "" {
		return false
	}
	_, ok := weightInitializer(og, proto.Inputs[WeightPortID])
	return ok
}

// weightInitializer follows DequantizeLinear and QuantizeLinear producers
// back to the initializer holding the weight.
func weightInitializer(og *onnx.Graph, name string) (*onnx.TensorProto, bool) {
	for range 3 {
		if init, ok := og.Initializer(name); ok {
			return init, true
		}
		producers := og.NodesByOutput(name)
		if len(producers) != 1 {
			return nil, false
		}
		switch p := producers[0]; p.OpType {
		case "DequantizeLinear", "QuantizeLinear", "Identity":
			if len(p.Inputs) == 0 {
				return nil, false
			}
			name = p.Inputs[0]
		default:
			return nil, false
		}
	}
	return nil, false
}

func weightShape(og *onnx.Graph, name string) tensor.Shape {
	init, ok := weightInitializer(og, name)
	if !ok {
		return nil
	}
	shape := make(tensor.Shape, len(init.Dims))
	for i, d := range init.Dims {
		shape[i] = int(d)
	}
	return shape
}

func edgeShape(og *onnx.Graph, name string) tensor.Shape {
	shape, ok := onnx.StaticShape(valueInfo(og, name))
	if !ok {
		return nil
	}
	return tensor.Shape(shape)
}

func valueInfo(og *onnx.Graph, name string) *onnx.ValueInfoProto {
	vi, _ := og.ValueInfo(name)
	return vi
}

// InputShapes returns the shape of every non-initializer graph input.
// Symbolic dimensions resolve to 1. Node names are not required.
func InputShapes(model any) (map[string]tensor.Shape, error) {
	m, err := asModel(model)
	if err != nil {
		return nil, err
	}
	if m.Graph == nil {
		return nil, fmt.Errorf("model has no graph")
	}
	initializers := make(map[string]bool, len(m.Graph.Initializers))
	for i := range m.Graph.Initializers {
		initializers[m.Graph.Initializers[i].Name] = true
	}
	shapes := make(map[string]tensor.Shape)
	for i := range m.Graph.Inputs {
		vi := &m.Graph.Inputs[i]
		if initializers[vi.Name] {
			continue
		}
		if vi.Type == nil || vi.Type.TensorType == nil || vi.Type.TensorType.Shape == nil {
			return nil, fmt.Errorf("input %s has no shape", vi.Name)
		}
		dims := vi.Type.TensorType.Shape.Dims
		shape := make(tensor.Shape, len(dims))
		for j, d := range dims {
			shape[j] = 1
			if d.DimParam == "" && d.DimValue > 0 {
				shape[j] = int(d.DimValue)
			}
		}
		shapes[vi.Name] = shape
	}
	return shapes, nil
}

// PrepareModel returns model with every node named, cloning it when names
// have to be assigned.
func PrepareModel(model any) (any, error) {
	m, err := asModel(model)
	if err != nil {
		return nil, err
	}
	if m.Graph == nil {
		return nil, fmt.Errorf("model has no graph")
	}
	for i := range m.Graph.Nodes {
		if m.Graph.Nodes[i].Name == "" {
			m = m.Clone()
			onnx.AssignNodeNames(m)
			break
		}
	}
	return m, nil
}
