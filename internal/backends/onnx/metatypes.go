// Package onnxbackend adapts the quantization algorithms to ONNX models.
//
// Models are *onnx.ModelProto values. Graph conversion, bias lookup and
// weight inspection read the proto directly; every edit goes through
// ModelTransformer, which works on a clone. Sub-models run on the CPU
// backend through onnx.Session.
package onnxbackend

import (
	"github.com/born-ml/ptq/internal/graph"
)

// Port conventions of ONNX operators.
const (
	ActivationInputPortID  = 0
	ActivationOutputPortID = 0
	WeightPortID           = 1
	BiasPortID             = 2
)

// Operator metatypes.
var (
	ConvMetatype              = &graph.Metatype{Name: "conv", OpNames: []string{"Conv"}, Category: graph.CategoryConvolution, HasWeights: true}
	ConvTransposeMetatype     = &graph.Metatype{Name: "conv_transpose", OpNames: []string{"ConvTranspose"}, Category: graph.CategoryConvolution, HasWeights: true}
	GemmMetatype              = &graph.Metatype{Name: "gemm", OpNames: []string{"Gemm"}, Category: graph.CategoryMatMul, HasWeights: true}
	MatMulMetatype            = &graph.Metatype{Name: "matmul", OpNames: []string{"MatMul"}, Category: graph.CategoryMatMul, HasWeights: true}
	IdentityMetatype          = &graph.Metatype{Name: "identity", OpNames: []string{"Identity"}, Category: graph.CategoryIdentity}
	QuantizeLinearMetatype    = &graph.Metatype{Name: "quantize_linear", OpNames: []string{"QuantizeLinear"}, Category: graph.CategoryQuantize}
	DequantizeLinearMetatype  = &graph.Metatype{Name: "dequantize_linear", OpNames: []string{"DequantizeLinear"}, Category: graph.CategoryDequantize}
	ReluMetatype              = &graph.Metatype{Name: "relu", OpNames: []string{"Relu"}, Category: graph.CategoryActivation}
	SigmoidMetatype           = &graph.Metatype{Name: "sigmoid", OpNames: []string{"Sigmoid"}, Category: graph.CategoryActivation}
	SoftmaxMetatype           = &graph.Metatype{Name: "softmax", OpNames: []string{"Softmax"}, Category: graph.CategoryActivation}
	AddMetatype               = &graph.Metatype{Name: "add", OpNames: []string{"Add"}, Category: graph.CategoryElementwise}
	SubMetatype               = &graph.Metatype{Name: "sub", OpNames: []string{"Sub"}, Category: graph.CategoryElementwise}
	MulMetatype               = &graph.Metatype{Name: "mul", OpNames: []string{"Mul"}, Category: graph.CategoryElementwise}
	DivMetatype               = &graph.Metatype{Name: "div", OpNames: []string{"Div"}, Category: graph.CategoryElementwise}
	FlattenMetatype           = &graph.Metatype{Name: "flatten", OpNames: []string{"Flatten"}, Category: graph.CategoryReshape}
	ReshapeMetatype           = &graph.Metatype{Name: "reshape", OpNames: []string{"Reshape"}, Category: graph.CategoryReshape}
	GlobalAveragePoolMetatype = &graph.Metatype{Name: "global_average_pool", OpNames: []string{"GlobalAveragePool"}, Category: graph.CategoryPooling}

	// UnknownMetatype classifies every other operator.
	UnknownMetatype = &graph.Metatype{Name: "unknown", Category: graph.CategoryUnknown}
)

// OperationMetatypes is the ONNX registry. Unknown operators resolve to
// UnknownMetatype.
var OperationMetatypes = graph.NewMetatypeRegistry("onnx_operator_metatypes").
	MustRegister(
		ConvMetatype, ConvTransposeMetatype, GemmMetatype, MatMulMetatype,
		IdentityMetatype, QuantizeLinearMetatype, DequantizeLinearMetatype,
		ReluMetatype, SigmoidMetatype, SoftmaxMetatype,
		AddMetatype, SubMetatype, MulMetatype, DivMetatype,
		FlattenMetatype, ReshapeMetatype, GlobalAveragePoolMetatype,
	).
	SetFallback(UnknownMetatype)

// LayersWithBiasMetatypes are the operators carrying a bias at BiasPortID.
var LayersWithBiasMetatypes = []*graph.Metatype{ConvMetatype, ConvTransposeMetatype, GemmMetatype}

// channelAxisByTypes maps bias-bearing operator types to their output channel
// axis.
var channelAxisByTypes = map[string]int{
	"Conv":          1,
	"Gemm":          -1,
	"ConvTranspose": 1,
}

// ChannelAxisByTypes returns a copy of the channel axis table.
func ChannelAxisByTypes() map[string]int {
	axes := make(map[string]int, len(channelAxisByTypes))
	for k, v := range channelAxisByTypes {
		axes[k] = v
	}
	return axes
}
