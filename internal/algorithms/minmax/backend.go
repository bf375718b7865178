package minmax

import (
	"github.com/born-ml/ptq/internal/graph"
	"github.com/born-ml/ptq/internal/statistics"
	"github.com/born-ml/ptq/internal/tensor"
	"github.com/born-ml/ptq/internal/transform"
)

// Backend adapts min-max quantization to one model representation.
type Backend interface {
	OperationMetatypes() *graph.MetatypeRegistry
	// QuantizableMetatypes are the operators whose inputs get quantizers.
	QuantizableMetatypes() []*graph.Metatype
	// WeightChannelAxis returns the output channel axis of node's weight.
	WeightChannelAxis(model any, node *graph.Node) (int, error)
	TargetPoint(tt transform.TargetType, nodeName string, portID int) (transform.TargetPoint, error)
	ModelTransformer(model any) (transform.ModelTransformer, error)
	// WeightValue returns the constant weight of node.
	WeightValue(model any, node *graph.Node) (*tensor.RawTensor, error)
	WeightPortID(node *graph.Node) int
	IsQuantizedWeights(node *graph.Node, model any) (bool, error)
	MinMaxStatisticCollector(reduction statistics.ReductionShape, numSamples int) *statistics.MinMaxCollector
	QuantizerInsertionCommand(tp transform.TargetPoint, params transform.QuantizerParams) (*transform.QuantizerInsertionCommand, error)
	NewGraph(model any) (*graph.Graph, error)
}
