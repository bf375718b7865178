package onnx

import (
	"errors"
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// ParseFile parses an ONNX model from file.
//
//nolint:gosec // G304: path is provided by the user on purpose
func ParseFile(path string) (*ModelProto, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes an ONNX model from its protobuf wire form.
func Parse(data []byte) (*ModelProto, error) {
	model := &ModelProto{}
	if err := readModelProto(data, model); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	if model.Graph == nil {
		return nil, errors.New("failed to parse model: model has no graph")
	}
	return model, nil
}

// fieldFunc consumes the value of one field and reports how many bytes it
// used. Returning a negative count signals a wire error.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

// walk iterates over the fields of one message.
func walk(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if m < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

// skip consumes a field the decoder does not model.
func skip(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	return protowire.ConsumeFieldValue(num, typ, b), nil
}

func consumeString(b []byte, dst *string) int {
	v, n := protowire.ConsumeBytes(b)
	if n >= 0 {
		*dst = string(v)
	}
	return n
}

func consumeBytes(b []byte, dst *[]byte) int {
	v, n := protowire.ConsumeBytes(b)
	if n >= 0 {
		*dst = append([]byte(nil), v...)
	}
	return n
}

func consumeInt64(b []byte, dst *int64) int {
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = int64(v)
	}
	return n
}

func consumeInt32(b []byte, dst *int32) int {
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = int32(v)
	}
	return n
}

// consumeMessage decodes an embedded message with read.
func consumeMessage(b []byte, read func([]byte) error) (int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n, nil
	}
	return n, read(v)
}

// consumeVarints reads a repeated varint field in packed or unpacked form.
func consumeVarints(typ protowire.Type, b []byte, add func(uint64)) int {
	if typ == protowire.VarintType {
		v, n := protowire.ConsumeVarint(b)
		if n >= 0 {
			add(v)
		}
		return n
	}
	packed, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n
	}
	for len(packed) > 0 {
		v, m := protowire.ConsumeVarint(packed)
		if m < 0 {
			return m
		}
		add(v)
		packed = packed[m:]
	}
	return n
}

// consumeFloats reads a repeated float field in packed or unpacked form.
func consumeFloats(typ protowire.Type, b []byte, dst *[]float32) int {
	if typ == protowire.Fixed32Type {
		v, n := protowire.ConsumeFixed32(b)
		if n >= 0 {
			*dst = append(*dst, math.Float32frombits(v))
		}
		return n
	}
	packed, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n
	}
	for len(packed) > 0 {
		v, m := protowire.ConsumeFixed32(packed)
		if m < 0 {
			return m
		}
		*dst = append(*dst, math.Float32frombits(v))
		packed = packed[m:]
	}
	return n
}

// consumeDoubles reads a repeated double field in packed or unpacked form.
func consumeDoubles(typ protowire.Type, b []byte, dst *[]float64) int {
	if typ == protowire.Fixed64Type {
		v, n := protowire.ConsumeFixed64(b)
		if n >= 0 {
			*dst = append(*dst, math.Float64frombits(v))
		}
		return n
	}
	packed, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n
	}
	for len(packed) > 0 {
		v, m := protowire.ConsumeFixed64(packed)
		if m < 0 {
			return m
		}
		*dst = append(*dst, math.Float64frombits(v))
		packed = packed[m:]
	}
	return n
}

func readModelProto(data []byte, m *ModelProto) error {
	return walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1: // ir_version
			return consumeInt64(b, &m.IRVersion), nil
		case 2: // producer_name
			return consumeString(b, &m.ProducerName), nil
		case 3: // producer_version
			return consumeString(b, &m.ProducerVersion), nil
		case 4: // domain
			return consumeString(b, &m.Domain), nil
		case 5: // model_version
			return consumeInt64(b, &m.ModelVersion), nil
		case 6: // doc_string
			return consumeString(b, &m.DocString), nil
		case 7: // graph
			m.Graph = &GraphProto{}
			return consumeMessage(b, func(v []byte) error { return readGraphProto(v, m.Graph) })
		case 8: // opset_import
			return consumeMessage(b, func(v []byte) error {
				var opset OperatorSetID
				if err := readOperatorSetID(v, &opset); err != nil {
					return err
				}
				m.OpsetImport = append(m.OpsetImport, opset)
				return nil
			})
		case 14: // metadata_props
			return consumeMessage(b, func(v []byte) error {
				var entry StringStringEntry
				if err := readStringStringEntry(v, &entry); err != nil {
					return err
				}
				m.MetadataProps = append(m.MetadataProps, entry)
				return nil
			})
		default:
			return skip(num, typ, b)
		}
	})
}

func readGraphProto(data []byte, g *GraphProto) error {
	readValueInfoInto := func(dst *[]ValueInfoProto) func([]byte) error {
		return func(v []byte) error {
			var vi ValueInfoProto
			if err := readValueInfoProto(v, &vi); err != nil {
				return err
			}
			*dst = append(*dst, vi)
			return nil
		}
	}

	return walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1: // node
			return consumeMessage(b, func(v []byte) error {
				var node NodeProto
				if err := readNodeProto(v, &node); err != nil {
					return err
				}
				g.Nodes = append(g.Nodes, node)
				return nil
			})
		case 2: // name
			return consumeString(b, &g.Name), nil
		case 5: // initializer
			return consumeMessage(b, func(v []byte) error {
				var t TensorProto
				if err := readTensorProto(v, &t); err != nil {
					return err
				}
				g.Initializers = append(g.Initializers, t)
				return nil
			})
		case 10: // doc_string
			return consumeString(b, &g.DocString), nil
		case 11: // input
			return consumeMessage(b, readValueInfoInto(&g.Inputs))
		case 12: // output
			return consumeMessage(b, readValueInfoInto(&g.Outputs))
		case 13: // value_info
			return consumeMessage(b, readValueInfoInto(&g.ValueInfo))
		default:
			return skip(num, typ, b)
		}
	})
}

func readNodeProto(data []byte, node *NodeProto) error {
	return walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1: // input
			var s string
			n := consumeString(b, &s)
			node.Inputs = append(node.Inputs, s)
			return n, nil
		case 2: // output
			var s string
			n := consumeString(b, &s)
			node.Outputs = append(node.Outputs, s)
			return n, nil
		case 3: // name
			return consumeString(b, &node.Name), nil
		case 4: // op_type
			return consumeString(b, &node.OpType), nil
		case 5: // attribute
			return consumeMessage(b, func(v []byte) error {
				var attr AttributeProto
				if err := readAttributeProto(v, &attr); err != nil {
					return err
				}
				node.Attributes = append(node.Attributes, attr)
				return nil
			})
		case 6: // doc_string
			return consumeString(b, &node.DocString), nil
		case 7: // domain
			return consumeString(b, &node.Domain), nil
		default:
			return skip(num, typ, b)
		}
	})
}

func readTensorProto(data []byte, t *TensorProto) error {
	return walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1: // dims
			return consumeVarints(typ, b, func(v uint64) { t.Dims = append(t.Dims, int64(v)) }), nil
		case 2: // data_type
			return consumeInt32(b, &t.DataType), nil
		case 4: // float_data
			return consumeFloats(typ, b, &t.FloatData), nil
		case 5: // int32_data
			return consumeVarints(typ, b, func(v uint64) { t.Int32Data = append(t.Int32Data, int32(v)) }), nil
		case 7: // int64_data
			return consumeVarints(typ, b, func(v uint64) { t.Int64Data = append(t.Int64Data, int64(v)) }), nil
		case 8: // name
			return consumeString(b, &t.Name), nil
		case 9: // raw_data
			return consumeBytes(b, &t.RawData), nil
		case 10: // double_data
			return consumeDoubles(typ, b, &t.DoubleData), nil
		case 12: // doc_string
			return consumeString(b, &t.DocString), nil
		default:
			return skip(num, typ, b)
		}
	})
}

func readValueInfoProto(data []byte, vi *ValueInfoProto) error {
	return walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1: // name
			return consumeString(b, &vi.Name), nil
		case 2: // type
			vi.Type = &TypeProto{}
			return consumeMessage(b, func(v []byte) error { return readTypeProto(v, vi.Type) })
		case 3: // doc_string
			return consumeString(b, &vi.DocString), nil
		default:
			return skip(num, typ, b)
		}
	})
}

func readTypeProto(data []byte, tp *TypeProto) error {
	return walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 { // tensor_type; sequence/map types are not modelled
			return skip(num, typ, b)
		}
		tp.TensorType = &TensorTypeProto{}
		return consumeMessage(b, func(v []byte) error { return readTensorTypeProto(v, tp.TensorType) })
	})
}

func readTensorTypeProto(data []byte, tt *TensorTypeProto) error {
	return walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1: // elem_type
			return consumeInt32(b, &tt.ElemType), nil
		case 2: // shape
			tt.Shape = &TensorShapeProto{}
			return consumeMessage(b, func(v []byte) error {
				return walk(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
					if num != 1 { // dim
						return skip(num, typ, b)
					}
					return consumeMessage(b, func(v []byte) error {
						var dim DimensionProto
						if err := readDimensionProto(v, &dim); err != nil {
							return err
						}
						tt.Shape.Dims = append(tt.Shape.Dims, dim)
						return nil
					})
				})
			})
		default:
			return skip(num, typ, b)
		}
	})
}

func readDimensionProto(data []byte, d *DimensionProto) error {
	return walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1: // dim_value
			return consumeInt64(b, &d.DimValue), nil
		case 2: // dim_param
			return consumeString(b, &d.DimParam), nil
		default:
			return skip(num, typ, b)
		}
	})
}

func readAttributeProto(data []byte, a *AttributeProto) error {
	return walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1: // name
			return consumeString(b, &a.Name), nil
		case 2: // f
			v, n := protowire.ConsumeFixed32(b)
			if n >= 0 {
				a.F = math.Float32frombits(v)
			}
			return n, nil
		case 3: // i
			return consumeInt64(b, &a.I), nil
		case 4: // s
			return consumeBytes(b, &a.S), nil
		case 5: // t
			a.T = &TensorProto{}
			return consumeMessage(b, func(v []byte) error { return readTensorProto(v, a.T) })
		case 7: // floats
			return consumeFloats(typ, b, &a.Floats), nil
		case 8: // ints
			return consumeVarints(typ, b, func(v uint64) { a.Ints = append(a.Ints, int64(v)) }), nil
		case 9: // strings
			var s []byte
			n := consumeBytes(b, &s)
			a.Strings = append(a.Strings, s)
			return n, nil
		case 13: // doc_string
			return consumeString(b, &a.DocString), nil
		case 20: // type
			return consumeInt32(b, &a.Type), nil
		default:
			return skip(num, typ, b)
		}
	})
}

func readOperatorSetID(data []byte, o *OperatorSetID) error {
	return walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1: // domain
			return consumeString(b, &o.Domain), nil
		case 2: // version
			return consumeInt64(b, &o.Version), nil
		default:
			return skip(num, typ, b)
		}
	})
}

func readStringStringEntry(data []byte, e *StringStringEntry) error {
	return walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1: // key
			return consumeString(b, &e.Key), nil
		case 2: // value
			return consumeString(b, &e.Value), nil
		default:
			return skip(num, typ, b)
		}
	})
}
