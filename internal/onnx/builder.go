package onnx

import (
	"github.com/born-ml/ptq/internal/tensor"
)

// DefaultOpset is the opset written by Builder. QuantizeLinear with
// per-axis parameters needs at least 13.
const DefaultOpset = 13

// Builder assembles a ModelProto in code. Calls append in order; Build
// returns the model as built so far.
type Builder struct {
	model *ModelProto
}

// NewBuilder starts a model with a single graph.
func NewBuilder(graphName string) *Builder {
	return &Builder{model: &ModelProto{
		IRVersion:    8,
		OpsetImport:  []OperatorSetID{{Domain: "", Version: DefaultOpset}},
		ProducerName: "ptq",
		Graph:        &GraphProto{Name: graphName},
	}}
}

// Input declares a float32 graph input.
func (b *Builder) Input(name string, shape ...int) *Builder {
	b.model.Graph.Inputs = append(b.model.Graph.Inputs, ValueInfo(name, TensorProtoFloat, shape))
	return b
}

// Output declares a float32 graph output. The shape may be omitted.
func (b *Builder) Output(name string, shape ...int) *Builder {
	b.model.Graph.Outputs = append(b.model.Graph.Outputs, ValueInfo(name, TensorProtoFloat, shape))
	return b
}

// Initializer adds a constant tensor.
func (b *Builder) Initializer(name string, t *tensor.RawTensor) *Builder {
	b.model.Graph.Initializers = append(b.model.Graph.Initializers, *TensorToProto(name, t))
	return b
}

// Node appends a node.
func (b *Builder) Node(opType, name string, inputs, outputs []string, attrs ...AttributeProto) *Builder {
	b.model.Graph.Nodes = append(b.model.Graph.Nodes, NodeProto{
		Name:       name,
		OpType:     opType,
		Inputs:     inputs,
		Outputs:    outputs,
		Attributes: attrs,
	})
	return b
}

// Build returns the model.
func (b *Builder) Build() *ModelProto {
	return b.model
}

// ValueInfo describes a tensor value. A nil shape leaves the shape unknown.
func ValueInfo(name string, elemType int32, shape []int) ValueInfoProto {
	tt := &TensorTypeProto{ElemType: elemType}
	if shape != nil {
		tt.Shape = &TensorShapeProto{Dims: make([]DimensionProto, len(shape))}
		for i, d := range shape {
			tt.Shape.Dims[i].DimValue = int64(d)
		}
	}
	return ValueInfoProto{Name: name, Type: &TypeProto{TensorType: tt}}
}

// IntAttr builds an INT attribute.
func IntAttr(name string, v int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoInt, I: v}
}

// IntsAttr builds an INTS attribute.
func IntsAttr(name string, v ...int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoInts, Ints: v}
}

// FloatAttr builds a FLOAT attribute.
func FloatAttr(name string, v float32) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoFloat, F: v}
}

// StringAttr builds a STRING attribute.
func StringAttr(name, v string) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoString, S: []byte(v)}
}

// StaticShape returns the shape recorded in a value info, or false when any
// dimension is symbolic or the shape is unknown.
func StaticShape(vi *ValueInfoProto) ([]int, bool) {
	if vi == nil || vi.Type == nil || vi.Type.TensorType == nil || vi.Type.TensorType.Shape == nil {
		return nil, false
	}
	dims := vi.Type.TensorType.Shape.Dims
	shape := make([]int, len(dims))
	for i, d := range dims {
		if d.DimParam != "" || d.DimValue <= 0 {
			return nil, false
		}
		shape[i] = int(d.DimValue)
	}
	return shape, true
}
