package onnx

import (
	"encoding/binary"
	"fmt"

	"github.com/x448/float16"

	"github.com/born-ml/ptq/internal/tensor"
)

// TensorFromProto converts an initializer into a runtime tensor. FLOAT16
// initializers are widened to float32.
func TensorFromProto(proto *TensorProto) (*tensor.RawTensor, error) {
	shape := make(tensor.Shape, len(proto.Dims))
	for i, dim := range proto.Dims {
		shape[i] = int(dim)
	}

	if proto.DataType == TensorProtoFloat16 {
		return float16FromProto(proto, shape)
	}

	dtype, err := protoTypeToTensorType(proto.DataType)
	if err != nil {
		return nil, fmt.Errorf("tensor %q: %w", proto.Name, err)
	}
	t, err := tensor.NewRaw(shape, dtype)
	if err != nil {
		return nil, fmt.Errorf("tensor %q: %w", proto.Name, err)
	}

	n := t.NumElements()
	switch {
	case len(proto.RawData) > 0:
		if len(proto.RawData) != t.ByteSize() {
			return nil, fmt.Errorf("tensor %q: raw data has %d bytes, want %d", proto.Name, len(proto.RawData), t.ByteSize())
		}
		copy(t.Data(), proto.RawData)
	case dtype == tensor.Float32 && len(proto.FloatData) == n:
		copy(t.AsFloat32(), proto.FloatData)
	case dtype == tensor.Float64 && len(proto.DoubleData) == n:
		copy(t.AsFloat64(), proto.DoubleData)
	case dtype == tensor.Int64 && len(proto.Int64Data) == n:
		copy(t.AsInt64(), proto.Int64Data)
	case len(proto.Int32Data) == n:
		// int32_data also carries int8/uint8 payloads.
		for i, v := range proto.Int32Data {
			switch dtype {
			case tensor.Int32:
				t.AsInt32()[i] = v
			case tensor.Int8:
				t.AsInt8()[i] = int8(v)
			case tensor.Uint8:
				t.AsUint8()[i] = uint8(v)
			default:
				return nil, fmt.Errorf("tensor %q: int32_data for %s", proto.Name, dtype)
			}
		}
	default:
		return nil, fmt.Errorf("tensor %q: no data for %d elements", proto.Name, n)
	}
	return t, nil
}

func float16FromProto(proto *TensorProto, shape tensor.Shape) (*tensor.RawTensor, error) {
	t, err := tensor.NewRaw(shape, tensor.Float32)
	if err != nil {
		return nil, fmt.Errorf("tensor %q: %w", proto.Name, err)
	}
	dst := t.AsFloat32()
	switch {
	case len(proto.RawData) == 2*len(dst):
		for i := range dst {
			dst[i] = float16.Frombits(binary.LittleEndian.Uint16(proto.RawData[2*i:])).Float32()
		}
	case len(proto.Int32Data) == len(dst):
		for i, v := range proto.Int32Data {
			dst[i] = float16.Frombits(uint16(v)).Float32()
		}
	default:
		return nil, fmt.Errorf("tensor %q: no float16 data for %d elements", proto.Name, len(dst))
	}
	return t, nil
}

// TensorToProto converts a runtime tensor into an initializer using raw_data.
func TensorToProto(name string, t *tensor.RawTensor) *TensorProto {
	dims := make([]int64, len(t.Shape()))
	for i, d := range t.Shape() {
		dims[i] = int64(d)
	}
	return &TensorProto{
		Name:     name,
		Dims:     dims,
		DataType: tensorTypeToProtoType(t.DType()),
		RawData:  append([]byte(nil), t.Data()...),
	}
}

// Float16ToProto encodes values as a FLOAT16 initializer in raw_data.
func Float16ToProto(name string, shape tensor.Shape, values []float32) (*TensorProto, error) {
	if shape.NumElements() != len(values) {
		return nil, fmt.Errorf("tensor %q: shape %v requires %d elements, got %d", name, shape, shape.NumElements(), len(values))
	}
	dims := make([]int64, len(shape))
	for i, d := range shape {
		dims[i] = int64(d)
	}
	raw := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(raw[2*i:], float16.Fromfloat32(v).Bits())
	}
	return &TensorProto{
		Name:     name,
		Dims:     dims,
		DataType: TensorProtoFloat16,
		RawData:  raw,
	}, nil
}

// protoTypeToTensorType converts an ONNX element type to tensor.DataType.
func protoTypeToTensorType(onnxType int32) (tensor.DataType, error) {
	switch onnxType {
	case TensorProtoFloat:
		return tensor.Float32, nil
	case TensorProtoDouble:
		return tensor.Float64, nil
	case TensorProtoInt8:
		return tensor.Int8, nil
	case TensorProtoUint8:
		return tensor.Uint8, nil
	case TensorProtoInt32:
		return tensor.Int32, nil
	case TensorProtoInt64:
		return tensor.Int64, nil
	default:
		return 0, fmt.Errorf("unsupported ONNX data type %d", onnxType)
	}
}

// tensorTypeToProtoType converts tensor.DataType to the ONNX element type.
func tensorTypeToProtoType(dtype tensor.DataType) int32 {
	switch dtype {
	case tensor.Float32:
		return TensorProtoFloat
	case tensor.Float64:
		return TensorProtoDouble
	case tensor.Int8:
		return TensorProtoInt8
	case tensor.Uint8:
		return TensorProtoUint8
	case tensor.Int32:
		return TensorProtoInt32
	case tensor.Int64:
		return TensorProtoInt64
	default:
		return TensorProtoUndefined
	}
}
