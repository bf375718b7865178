package onnxbackend

import (
	"fmt"

	"github.com/born-ml/ptq/internal/algorithms/minmax"
	"github.com/born-ml/ptq/internal/graph"
	"github.com/born-ml/ptq/internal/onnx"
	"github.com/born-ml/ptq/internal/statistics"
	"github.com/born-ml/ptq/internal/tensor"
	"github.com/born-ml/ptq/internal/transform"
)

// quantizableMetatypes are the operators min-max quantization covers.
var quantizableMetatypes = []*graph.Metatype{ConvMetatype, ConvTransposeMetatype, GemmMetatype, MatMulMetatype}

// MinMaxBackend implements minmax.Backend for ONNX models.
type MinMaxBackend struct {
	base
}

var _ minmax.Backend = MinMaxBackend{}

// NewMinMaxBackend returns the ONNX min-max backend.
func NewMinMaxBackend() MinMaxBackend {
	return MinMaxBackend{}
}

// QuantizableMetatypes implements minmax.Backend.
func (MinMaxBackend) QuantizableMetatypes() []*graph.Metatype {
	return quantizableMetatypes
}

// WeightChannelAxis implements minmax.Backend. Conv weights are
// [out, in, ...] and ConvTranspose weights [in, out, ...]; Gemm follows
// transB and MatMul weights are [in, out].
func (MinMaxBackend) WeightChannelAxis(model any, node *graph.Node) (int, error) {
	switch node.Metatype {
	case ConvMetatype:
		return 0, nil
	case ConvTransposeMetatype:
		return 1, nil
	case MatMulMetatype:
		return -1, nil
	case GemmMetatype:
		og, err := protoGraph(model)
		if err != nil {
			return 0, err
		}
		proto, ok := og.NodeByName(node.Name)
		if !ok {
			return 0, fmt.Errorf("node %s not in model", node.Name)
		}
		if attr := proto.Attribute("transB"); attr != nil && attr.I != 0 {
			return 0, nil
		}
		return -1, nil
	default:
		return 0, fmt.Errorf("node %s (%s) has no weight channel axis", node.Name, node.NodeType)
	}
}

// WeightValue implements minmax.Backend.
func (MinMaxBackend) WeightValue(model any, node *graph.Node) (*tensor.RawTensor, error) {
	attrs, ok := node.LayerAttributes.(*graph.WeightedLayerAttributes)
	if !ok {
		return nil, fmt.Errorf("node %s has no constant weight", node.Name)
	}
	og, err := protoGraph(model)
	if err != nil {
		return nil, err
	}
	init, ok := weightInitializer(og, attrs.WeightTensorName())
	if !ok {
		return nil, fmt.Errorf("%w: weight %s of node %s", onnx.ErrInitializerNotFound, attrs.WeightTensorName(), node.Name)
	}
	return onnx.TensorFromProto(init)
}

// WeightPortID implements minmax.Backend.
func (MinMaxBackend) WeightPortID(*graph.Node) int {
	return WeightPortID
}

// IsQuantizedWeights implements minmax.Backend.
func (MinMaxBackend) IsQuantizedWeights(node *graph.Node, model any) (bool, error) {
	return isQuantizedWeights(node, model)
}

// MinMaxStatisticCollector implements minmax.Backend.
func (MinMaxBackend) MinMaxStatisticCollector(reduction statistics.ReductionShape, numSamples int) *statistics.MinMaxCollector {
	return statistics.NewMinMaxCollector(TensorProcessor{}, reduction, numSamples)
}

// QuantizerInsertionCommand implements minmax.Backend.
func (MinMaxBackend) QuantizerInsertionCommand(tp transform.TargetPoint, params transform.QuantizerParams) (*transform.QuantizerInsertionCommand, error) {
	if _, _, err := quantizerTensors(params); err != nil {
		return nil, fmt.Errorf("quantizer at %s: %w", tp, err)
	}
	return &transform.QuantizerInsertionCommand{Target: tp, Params: params}, nil
}
