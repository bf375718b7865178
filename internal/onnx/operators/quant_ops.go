package operators

import (
	"fmt"

	"github.com/born-ml/ptq/internal/tensor"
)

func (r *Registry) registerQuantOps() {
	r.Register("QuantizeLinear", handleQuantizeLinear)
	r.Register("DequantizeLinear", handleDequantizeLinear)
}

// handleQuantizeLinear takes its output type from the zero point, uint8 when
// the zero point is absent.
func handleQuantizeLinear(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("QuantizeLinear", inputs, 2, 3); err != nil {
		return nil, err
	}
	zp := optional(inputs, 2)
	dtype := tensor.Uint8
	if zp != nil {
		dtype = zp.DType()
	}
	if dtype != tensor.Uint8 && dtype != tensor.Int8 {
		return nil, fmt.Errorf("quantizeLinear: unsupported zero point type %s", dtype)
	}
	axis := int(GetAttrInt(node, "axis", 1))
	return single(ctx.Backend.QuantizeLinear(inputs[0], inputs[1], zp, axis, dtype)), nil
}

func handleDequantizeLinear(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("DequantizeLinear", inputs, 2, 3); err != nil {
		return nil, err
	}
	axis := int(GetAttrInt(node, "axis", 1))
	return single(ctx.Backend.DequantizeLinear(inputs[0], inputs[1], optional(inputs, 2), axis)), nil
}
