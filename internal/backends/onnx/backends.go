package onnxbackend

import (
	"errors"
	"fmt"

	"github.com/born-ml/ptq/internal/aggregator"
	"github.com/born-ml/ptq/internal/algorithms/fbc"
	"github.com/born-ml/ptq/internal/engine"
	"github.com/born-ml/ptq/internal/graph"
	"github.com/born-ml/ptq/internal/onnx"
	"github.com/born-ml/ptq/internal/statistics"
	"github.com/born-ml/ptq/internal/tensor"
	"github.com/born-ml/ptq/internal/transform"
)

// supportedTargetTypes are the target point types ONNX models can express.
var supportedTargetTypes = []transform.TargetType{
	transform.PreLayerOperation,
	transform.PostLayerOperation,
	transform.OperationWithWeights,
	transform.OperationWithBias,
}

// base holds the operations shared by every ONNX algorithm backend.
type base struct{}

func (base) OperationMetatypes() *graph.MetatypeRegistry {
	return OperationMetatypes
}

func (base) TensorProcessor() statistics.TensorProcessor {
	return TensorProcessor{}
}

func (base) ModelTransformer(model any) (transform.ModelTransformer, error) {
	return NewModelTransformer(model)
}

func (base) TargetPoint(tt transform.TargetType, nodeName string, portID int) (transform.TargetPoint, error) {
	return transform.NewTargetPoint(tt, nodeName, portID, supportedTargetTypes...)
}

func (base) NewEngine(model any) (engine.Engine, error) {
	e, err := NewEngine(model)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (base) NewGraph(model any) (*graph.Graph, error) {
	m, err := asModel(model)
	if err != nil {
		return nil, err
	}
	return NewGraph(m)
}

func (base) ProcessModelOutput(outputs map[string]*tensor.RawTensor, name string) (tensor.Tensor, error) {
	return ProcessModelOutput(outputs, name)
}

// FBCBackend implements fbc.Backend for ONNX models.
type FBCBackend struct {
	base
}

var _ fbc.Backend = FBCBackend{}

// NewFBCBackend returns the ONNX fast bias correction backend.
func NewFBCBackend() FBCBackend {
	return FBCBackend{}
}

// LayersWithBiasMetatypes implements fbc.Backend.
func (FBCBackend) LayersWithBiasMetatypes() []*graph.Metatype {
	return LayersWithBiasMetatypes
}

// ChannelAxisByTypes implements fbc.Backend.
func (FBCBackend) ChannelAxisByTypes() map[string]int {
	return ChannelAxisByTypes()
}

// BiasCorrectionCommand implements fbc.Backend.
func (FBCBackend) BiasCorrectionCommand(tp transform.TargetPoint, bias *tensor.RawTensor, threshold float64) (*transform.BiasCorrectionCommand, error) {
	if tp.Type != transform.OperationWithBias {
		return nil, &transform.InvalidTargetError{Target: tp, Reason: "bias correction needs an OPERATION_WITH_BIAS target"}
	}
	if bias == nil {
		return nil, errors.New("bias correction command without bias value")
	}
	return &transform.BiasCorrectionCommand{Target: tp, Bias: bias, Threshold: threshold}, nil
}

// ModelExtractionCommand implements fbc.Backend.
func (FBCBackend) ModelExtractionCommand(inputs, outputs []string) *transform.ModelExtractionCommand {
	return &transform.ModelExtractionCommand{Inputs: inputs, Outputs: outputs}
}

// MeanStatisticCollector implements fbc.Backend.
func (FBCBackend) MeanStatisticCollector(reduction statistics.ReductionShape, numSamples, windowSize int) *statistics.MeanCollector {
	return statistics.NewMeanCollector(TensorProcessor{}, reduction, numSamples, windowSize)
}

// WrapTensor implements fbc.Backend.
func (FBCBackend) WrapTensor(raw *tensor.RawTensor) tensor.Tensor {
	return WrapTensor(raw)
}

// TensorNames implements fbc.Backend.
func (FBCBackend) TensorNames(node *graph.Node) (inputs, outputs []string, err error) {
	if node.LayerAttributes == nil {
		return nil, nil, fmt.Errorf("node %s has no layer attributes", node.Name)
	}
	names := node.LayerAttributes.TensorNames()
	return names.Inputs, names.Outputs, nil
}

// CreateBlob implements fbc.Backend.
func (FBCBackend) CreateBlob(shape tensor.Shape, data []float32, channelAxis int) (*tensor.RawTensor, error) {
	return CreateBlob(shape, data, channelAxis)
}

// BiasValue implements fbc.Backend.
func (FBCBackend) BiasValue(model any, node *graph.Node) (*tensor.RawTensor, error) {
	og, err := protoGraph(model)
	if err != nil {
		return nil, err
	}
	proto, ok := og.NodeByName(node.Name)
	if !ok {
		return nil, fmt.Errorf("node %s not in model", node.Name)
	}
	init, err := biasInitializer(og, proto, BiasPortID)
	if err != nil {
		return nil, err
	}
	return onnx.TensorFromProto(init)
}

// ActivationPortIDs implements fbc.Backend.
func (FBCBackend) ActivationPortIDs(any, *graph.Node) (in, out int) {
	return ActivationInputPortID, ActivationOutputPortID
}

// BiasPortID implements fbc.Backend.
func (FBCBackend) BiasPortID(any, *graph.Node) int {
	return BiasPortID
}

// IsQuantizedWeights implements fbc.Backend.
func (FBCBackend) IsQuantizedWeights(node *graph.Node, model any) (bool, error) {
	return isQuantizedWeights(node, model)
}

func protoGraph(model any) (*onnx.Graph, error) {
	m, err := asModel(model)
	if err != nil {
		return nil, err
	}
	return onnx.NewGraph(m)
}

// isQuantizedWeights reports whether the weight input of node is produced by
// a dequantize operator. A weight with several producers violates the graph
// invariants and panics.
func isQuantizedWeights(node *graph.Node, model any) (bool, error) {
	og, err := protoGraph(model)
	if err != nil {
		return false, err
	}
	proto, ok := og.NodeByName(node.Name)
	if !ok {
		return false, fmt.Errorf("node %s not in model", node.Name)
	}
	if len(proto.Inputs) <= WeightPortID || proto.Inputs[WeightPortID] == "" {
		return false, nil
	}
	producers := og.NodesByOutput(proto.Inputs[WeightPortID])
	switch len(producers) {
	case 0:
		return false, nil
	case 1:
	default:
		panic(fmt.Sprintf("weight %s of node %s has %d producers", proto.Inputs[WeightPortID], node.Name, len(producers)))
	}
	metatype, err := OperationMetatypes.ByOpName(producers[0].OpType)
	if err != nil {
		return false, err
	}
	return metatype == DequantizeLinearMetatype, nil
}

// AggregatorBackend implements aggregator.Backend for ONNX models.
type AggregatorBackend struct {
	base
}

var _ aggregator.Backend = AggregatorBackend{}

// NewAggregatorBackend returns the ONNX statistics aggregation backend.
func NewAggregatorBackend() AggregatorBackend {
	return AggregatorBackend{}
}

// OutputInsertionCommand implements aggregator.Backend.
func (AggregatorBackend) OutputInsertionCommand(tp transform.TargetPoint) *transform.OutputInsertionCommand {
	return &transform.OutputInsertionCommand{Target: tp}
}

// TargetTensorName implements aggregator.Backend.
func (AggregatorBackend) TargetTensorName(model any, tp transform.TargetPoint) (string, error) {
	return TargetTensorName(model, tp)
}
