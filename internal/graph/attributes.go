package graph

import (
	"fmt"

	"github.com/born-ml/ptq/internal/tensor"
)

// TensorNames records the tensors a node reads and writes, in port order.
type TensorNames struct {
	Inputs  []string
	Outputs []string
}

// LayerAttributes is implemented by *WeightedLayerAttributes and
// *GenericLayerAttributes only.
type LayerAttributes interface {
	TensorNames() TensorNames
	layerAttributes()
}

// WeightedLayerAttributes describe a node with a weight input and possibly a
// bias input.
type WeightedLayerAttributes struct {
	Tensors      TensorNames
	WeightPortID int
	BiasPortID   int
	HasBias      bool
	WeightShape  tensor.Shape
}

// NewWeightedLayerAttributes validates the ports against the tensor names.
// biasPort is only checked when the bias is present.
func NewWeightedLayerAttributes(tensors TensorNames, weightPort, biasPort int, weightShape tensor.Shape) (*WeightedLayerAttributes, error) {
	if weightPort < 0 || weightPort >= len(tensors.Inputs) || tensors.Inputs[weightPort] == "" {
		return nil, fmt.Errorf("weight port %d not connected (inputs %v)", weightPort, tensors.Inputs)
	}
	hasBias := biasPort >= 0 && biasPort < len(tensors.Inputs) && tensors.Inputs[biasPort] != ""
	return &WeightedLayerAttributes{
		Tensors:      tensors,
		WeightPortID: weightPort,
		BiasPortID:   biasPort,
		HasBias:      hasBias,
		WeightShape:  weightShape,
	}, nil
}

// TensorNames implements LayerAttributes.
func (a *WeightedLayerAttributes) TensorNames() TensorNames { return a.Tensors }

func (*WeightedLayerAttributes) layerAttributes() {}

// WeightTensorName returns the name of the weight input.
func (a *WeightedLayerAttributes) WeightTensorName() string {
	return a.Tensors.Inputs[a.WeightPortID]
}

// BiasTensorName returns the name of the bias input, or "" without bias.
func (a *WeightedLayerAttributes) BiasTensorName() string {
	if !a.HasBias {
		return ""
	}
	return a.Tensors.Inputs[a.BiasPortID]
}

// GenericLayerAttributes describe any other operator.
type GenericLayerAttributes struct {
	Tensors TensorNames
}

// TensorNames implements LayerAttributes.
func (a *GenericLayerAttributes) TensorNames() TensorNames { return a.Tensors }

func (*GenericLayerAttributes) layerAttributes() {}
