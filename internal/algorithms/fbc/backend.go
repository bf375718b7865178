package fbc

import (
	"github.com/born-ml/ptq/internal/engine"
	"github.com/born-ml/ptq/internal/graph"
	"github.com/born-ml/ptq/internal/statistics"
	"github.com/born-ml/ptq/internal/tensor"
	"github.com/born-ml/ptq/internal/transform"
)

// Backend adapts fast bias correction to one model representation. Models
// are passed as the backend's concrete type behind any; a model of the wrong
// type is an error.
type Backend interface {
	OperationMetatypes() *graph.MetatypeRegistry
	LayersWithBiasMetatypes() []*graph.Metatype
	// ChannelAxisByTypes maps operator types to the axis holding channels.
	ChannelAxisByTypes() map[string]int
	TensorProcessor() statistics.TensorProcessor

	ModelTransformer(model any) (transform.ModelTransformer, error)
	TargetPoint(tt transform.TargetType, nodeName string, portID int) (transform.TargetPoint, error)
	BiasCorrectionCommand(tp transform.TargetPoint, bias *tensor.RawTensor, threshold float64) (*transform.BiasCorrectionCommand, error)
	ModelExtractionCommand(inputs, outputs []string) *transform.ModelExtractionCommand
	// MeanStatisticCollector builds a collector; zero numSamples or
	// windowSize means unset.
	MeanStatisticCollector(reduction statistics.ReductionShape, numSamples, windowSize int) *statistics.MeanCollector
	WrapTensor(raw *tensor.RawTensor) tensor.Tensor

	TensorNames(node *graph.Node) (inputs, outputs []string, err error)
	// CreateBlob fills a tensor of shape so that its slice at index i along
	// channelAxis equals data[i].
	CreateBlob(shape tensor.Shape, data []float32, channelAxis int) (*tensor.RawTensor, error)
	// BiasValue returns the node's bias or an *algorithms.BiasNotFoundError.
	BiasValue(model any, node *graph.Node) (*tensor.RawTensor, error)
	ActivationPortIDs(model any, node *graph.Node) (in, out int)
	BiasPortID(model any, node *graph.Node) int
	ProcessModelOutput(outputs map[string]*tensor.RawTensor, name string) (tensor.Tensor, error)
	// IsQuantizedWeights reports whether the weight input is produced by a
	// dequantize operator. It panics when the weight has several producers.
	IsQuantizedWeights(node *graph.Node, model any) (bool, error)

	NewEngine(model any) (engine.Engine, error)
	NewGraph(model any) (*graph.Graph, error)
}
