package onnx

import (
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// Marshal encodes the model into the ONNX protobuf wire format.
func Marshal(m *ModelProto) []byte {
	return appendModelProto(nil, m)
}

// WriteFile encodes the model and writes it to path.
func WriteFile(path string, m *ModelProto) error {
	if err := os.WriteFile(path, Marshal(m), 0o600); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}
	return nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendInt64(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

// appendMessage writes an embedded message produced by enc.
func appendMessage(b []byte, num protowire.Number, enc func([]byte) []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, enc(nil))
}

func appendModelProto(b []byte, m *ModelProto) []byte {
	b = appendInt64(b, 1, m.IRVersion)
	b = appendString(b, 2, m.ProducerName)
	b = appendString(b, 3, m.ProducerVersion)
	b = appendString(b, 4, m.Domain)
	b = appendInt64(b, 5, m.ModelVersion)
	b = appendString(b, 6, m.DocString)
	if m.Graph != nil {
		b = appendMessage(b, 7, func(b []byte) []byte { return appendGraphProto(b, m.Graph) })
	}
	for _, opset := range m.OpsetImport {
		b = appendMessage(b, 8, func(b []byte) []byte {
			b = appendString(b, 1, opset.Domain)
			return appendInt64(b, 2, opset.Version)
		})
	}
	for _, entry := range m.MetadataProps {
		b = appendMessage(b, 14, func(b []byte) []byte {
			b = appendString(b, 1, entry.Key)
			return appendString(b, 2, entry.Value)
		})
	}
	return b
}

func appendGraphProto(b []byte, g *GraphProto) []byte {
	for i := range g.Nodes {
		b = appendMessage(b, 1, func(b []byte) []byte { return appendNodeProto(b, &g.Nodes[i]) })
	}
	b = appendString(b, 2, g.Name)
	for i := range g.Initializers {
		b = appendMessage(b, 5, func(b []byte) []byte { return appendTensorProto(b, &g.Initializers[i]) })
	}
	b = appendString(b, 10, g.DocString)
	for _, group := range []struct {
		num    protowire.Number
		values []ValueInfoProto
	}{{11, g.Inputs}, {12, g.Outputs}, {13, g.ValueInfo}} {
		for i := range group.values {
			b = appendMessage(b, group.num, func(b []byte) []byte { return appendValueInfoProto(b, &group.values[i]) })
		}
	}
	return b
}

func appendNodeProto(b []byte, n *NodeProto) []byte {
	// Empty names are meaningful for optional inputs, so they are always written.
	for _, in := range n.Inputs {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, in)
	}
	for _, out := range n.Outputs {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, out)
	}
	b = appendString(b, 3, n.Name)
	b = appendString(b, 4, n.OpType)
	for i := range n.Attributes {
		b = appendMessage(b, 5, func(b []byte) []byte { return appendAttributeProto(b, &n.Attributes[i]) })
	}
	b = appendString(b, 6, n.DocString)
	return appendString(b, 7, n.Domain)
}

func appendTensorProto(b []byte, t *TensorProto) []byte {
	for _, d := range t.Dims {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d))
	}
	b = appendInt64(b, 2, int64(t.DataType))
	if len(t.FloatData) > 0 {
		packed := make([]byte, 0, 4*len(t.FloatData))
		for _, f := range t.FloatData {
			packed = protowire.AppendFixed32(packed, math.Float32bits(f))
		}
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	if len(t.Int32Data) > 0 {
		var packed []byte
		for _, v := range t.Int32Data {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	if len(t.Int64Data) > 0 {
		var packed []byte
		for _, v := range t.Int64Data {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		b = protowire.AppendTag(b, 7, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	b = appendString(b, 8, t.Name)
	if len(t.RawData) > 0 {
		b = protowire.AppendTag(b, 9, protowire.BytesType)
		b = protowire.AppendBytes(b, t.RawData)
	}
	if len(t.DoubleData) > 0 {
		packed := make([]byte, 0, 8*len(t.DoubleData))
		for _, f := range t.DoubleData {
			packed = protowire.AppendFixed64(packed, math.Float64bits(f))
		}
		b = protowire.AppendTag(b, 10, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	return appendString(b, 12, t.DocString)
}

func appendValueInfoProto(b []byte, vi *ValueInfoProto) []byte {
	b = appendString(b, 1, vi.Name)
	if vi.Type != nil && vi.Type.TensorType != nil {
		tt := vi.Type.TensorType
		b = appendMessage(b, 2, func(b []byte) []byte {
			return appendMessage(b, 1, func(b []byte) []byte {
				b = appendInt64(b, 1, int64(tt.ElemType))
				if tt.Shape == nil {
					return b
				}
				return appendMessage(b, 2, func(b []byte) []byte {
					for _, dim := range tt.Shape.Dims {
						b = appendMessage(b, 1, func(b []byte) []byte {
							if dim.DimParam != "" {
								return appendString(b, 2, dim.DimParam)
							}
							b = protowire.AppendTag(b, 1, protowire.VarintType)
							return protowire.AppendVarint(b, uint64(dim.DimValue))
						})
					}
					return b
				})
			})
		})
	}
	return appendString(b, 3, vi.DocString)
}

func appendAttributeProto(b []byte, a *AttributeProto) []byte {
	b = appendString(b, 1, a.Name)
	switch a.Type {
	case AttributeProtoFloat:
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.F))
	case AttributeProtoInt:
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.I))
	case AttributeProtoString:
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, a.S)
	case AttributeProtoTensor:
		if a.T != nil {
			b = appendMessage(b, 5, func(b []byte) []byte { return appendTensorProto(b, a.T) })
		}
	case AttributeProtoFloats:
		for _, f := range a.Floats {
			b = protowire.AppendTag(b, 7, protowire.Fixed32Type)
			b = protowire.AppendFixed32(b, math.Float32bits(f))
		}
	case AttributeProtoInts:
		for _, v := range a.Ints {
			b = protowire.AppendTag(b, 8, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(v))
		}
	case AttributeProtoStrings:
		for _, s := range a.Strings {
			b = protowire.AppendTag(b, 9, protowire.BytesType)
			b = protowire.AppendBytes(b, s)
		}
	}
	b = appendString(b, 13, a.DocString)
	return appendInt64(b, 20, int64(a.Type))
}
