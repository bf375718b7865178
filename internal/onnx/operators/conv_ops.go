package operators

import (
	"fmt"

	"github.com/born-ml/ptq/internal/tensor"
)

func (r *Registry) registerConvOps() {
	r.Register("Conv", handleConv)
	r.Register("ConvTranspose", handleConvTranspose)
	r.Register("GlobalAveragePool", handleGlobalAveragePool)
}

func convParams(node *Node) (tensor.ConvParams, error) {
	if pad := GetAttrString(node, "auto_pad", "NOTSET"); pad != "NOTSET" && pad != "VALID" {
		return tensor.ConvParams{}, fmt.Errorf("auto_pad %s is not supported", pad)
	}
	return tensor.ConvParams{
		Strides:   GetAttrInts(node, "strides"),
		Pads:      GetAttrInts(node, "pads"),
		Dilations: GetAttrInts(node, "dilations"),
		Group:     int(GetAttrInt(node, "group", 1)),
	}, nil
}

func handleConv(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("Conv", inputs, 2, 3); err != nil {
		return nil, err
	}
	p, err := convParams(node)
	if err != nil {
		return nil, fmt.Errorf("conv: %w", err)
	}
	return single(ctx.Backend.Conv2D(inputs[0], inputs[1], optional(inputs, 2), p)), nil
}

func handleConvTranspose(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("ConvTranspose", inputs, 2, 3); err != nil {
		return nil, err
	}
	p, err := convParams(node)
	if err != nil {
		return nil, fmt.Errorf("convTranspose: %w", err)
	}
	for _, v := range GetAttrInts(node, "output_padding") {
		if v != 0 {
			return nil, fmt.Errorf("convTranspose: output_padding is not supported")
		}
	}
	return single(ctx.Backend.ConvTranspose2D(inputs[0], inputs[1], optional(inputs, 2), p)), nil
}

func handleGlobalAveragePool(ctx *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("GlobalAveragePool", inputs, 1, 1); err != nil {
		return nil, err
	}
	return single(ctx.Backend.GlobalAveragePool(inputs[0])), nil
}
