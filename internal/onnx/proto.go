package onnx

// Go mirrors of the ONNX protobuf messages. Only the fields the quantization
// pipeline reads or writes are kept; unknown fields are dropped on decode.

// ModelProto represents an ONNX model.
type ModelProto struct {
	IRVersion       int64
	OpsetImport     []OperatorSetID
	ProducerName    string
	ProducerVersion string
	Domain          string
	ModelVersion    int64
	DocString       string
	Graph           *GraphProto
	MetadataProps   []StringStringEntry
}

// GraphProto represents the computation graph.
type GraphProto struct {
	Name         string
	Nodes        []NodeProto
	Initializers []TensorProto
	DocString    string
	Inputs       []ValueInfoProto
	Outputs      []ValueInfoProto
	ValueInfo    []ValueInfoProto
}

// NodeProto represents a single operation.
type NodeProto struct {
	Inputs     []string
	Outputs    []string
	Name       string
	OpType     string
	Attributes []AttributeProto
	DocString  string
	Domain     string
}

// TensorProto represents a constant tensor (weights/initializers).
type TensorProto struct {
	Dims       []int64
	DataType   int32
	FloatData  []float32
	Int32Data  []int32
	Int64Data  []int64
	Name       string
	RawData    []byte
	DoubleData []float64
	DocString  string
}

// ValueInfoProto describes a named value and its type.
type ValueInfoProto struct {
	Name      string
	Type      *TypeProto
	DocString string
}

// TypeProto describes a value type. Only tensor types are modelled.
type TypeProto struct {
	TensorType *TensorTypeProto
}

// TensorTypeProto describes tensor shape and element type.
type TensorTypeProto struct {
	ElemType int32
	Shape    *TensorShapeProto
}

// TensorShapeProto describes tensor dimensions.
type TensorShapeProto struct {
	Dims []DimensionProto
}

// DimensionProto is either a static size or a symbolic name.
type DimensionProto struct {
	DimValue int64
	DimParam string
}

// AttributeProto represents a node attribute.
type AttributeProto struct {
	Name      string
	F         float32
	I         int64
	S         []byte
	T         *TensorProto
	Floats    []float32
	Ints      []int64
	Strings   [][]byte
	DocString string
	Type      int32
}

// OperatorSetID identifies an opset version.
type OperatorSetID struct {
	Domain  string
	Version int64
}

// StringStringEntry represents key-value metadata.
type StringStringEntry struct {
	Key   string
	Value string
}

// ONNX data types (TensorProto.DataType).
const (
	TensorProtoUndefined = 0
	TensorProtoFloat     = 1  // float32
	TensorProtoUint8     = 2  // uint8
	TensorProtoInt8      = 3  // int8
	TensorProtoUint16    = 4  // uint16
	TensorProtoInt16     = 5  // int16
	TensorProtoInt32     = 6  // int32
	TensorProtoInt64     = 7  // int64
	TensorProtoString    = 8  // string
	TensorProtoBool      = 9  // bool
	TensorProtoFloat16   = 10 // float16
	TensorProtoDouble    = 11 // float64
)

// ONNX attribute types (AttributeProto.Type).
const (
	AttributeProtoUndefined = 0
	AttributeProtoFloat     = 1
	AttributeProtoInt       = 2
	AttributeProtoString    = 3
	AttributeProtoTensor    = 4
	AttributeProtoGraph     = 5
	AttributeProtoFloats    = 6
	AttributeProtoInts      = 7
	AttributeProtoStrings   = 8
)

// Clone returns a deep copy of the model. Transformers edit clones so the
// caller's model is never partially modified.
func (m *ModelProto) Clone() *ModelProto {
	if m == nil {
		return nil
	}
	c := *m
	c.OpsetImport = append([]OperatorSetID(nil), m.OpsetImport...)
	c.MetadataProps = append([]StringStringEntry(nil), m.MetadataProps...)
	c.Graph = m.Graph.Clone()
	return &c
}

// Clone returns a deep copy of the graph.
func (g *GraphProto) Clone() *GraphProto {
	if g == nil {
		return nil
	}
	c := *g
	c.Nodes = make([]NodeProto, len(g.Nodes))
	for i := range g.Nodes {
		c.Nodes[i] = g.Nodes[i].Clone()
	}
	c.Initializers = make([]TensorProto, len(g.Initializers))
	for i := range g.Initializers {
		c.Initializers[i] = *g.Initializers[i].Clone()
	}
	c.Inputs = cloneValueInfos(g.Inputs)
	c.Outputs = cloneValueInfos(g.Outputs)
	c.ValueInfo = cloneValueInfos(g.ValueInfo)
	return &c
}

// Clone returns a deep copy of the node.
func (n *NodeProto) Clone() NodeProto {
	c := *n
	c.Inputs = append([]string(nil), n.Inputs...)
	c.Outputs = append([]string(nil), n.Outputs...)
	c.Attributes = make([]AttributeProto, len(n.Attributes))
	for i := range n.Attributes {
		a := n.Attributes[i]
		a.S = append([]byte(nil), a.S...)
		a.Floats = append([]float32(nil), a.Floats...)
		a.Ints = append([]int64(nil), a.Ints...)
		a.Strings = append([][]byte(nil), a.Strings...)
		if a.T != nil {
			a.T = a.T.Clone()
		}
		c.Attributes[i] = a
	}
	return c
}

// Clone returns a deep copy of the tensor.
func (t *TensorProto) Clone() *TensorProto {
	c := *t
	c.Dims = append([]int64(nil), t.Dims...)
	c.FloatData = append([]float32(nil), t.FloatData...)
	c.Int32Data = append([]int32(nil), t.Int32Data...)
	c.Int64Data = append([]int64(nil), t.Int64Data...)
	c.RawData = append([]byte(nil), t.RawData...)
	c.DoubleData = append([]float64(nil), t.DoubleData...)
	return &c
}

func cloneValueInfos(in []ValueInfoProto) []ValueInfoProto {
	if in == nil {
		return nil
	}
	out := make([]ValueInfoProto, len(in))
	for i := range in {
		out[i] = in[i]
		if t := in[i].Type; t != nil && t.TensorType != nil {
			tt := *t.TensorType
			if tt.Shape != nil {
				tt.Shape = &TensorShapeProto{Dims: append([]DimensionProto(nil), tt.Shape.Dims...)}
			}
			out[i].Type = &TypeProto{TensorType: &tt}
		}
	}
	return out
}

// Attribute returns the named attribute of the node, or nil.
func (n *NodeProto) Attribute(name string) *AttributeProto {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return &n.Attributes[i]
		}
	}
	return nil
}

// OpsetVersion returns the default-domain opset version of the model.
func (m *ModelProto) OpsetVersion() int64 {
	for _, opset := range m.OpsetImport {
		if opset.Domain == "" || opset.Domain == "ai.onnx" {
			return opset.Version
		}
	}
	return 0
}
