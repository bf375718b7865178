package operators

import (
	"github.com/born-ml/ptq/internal/tensor"
)

func (r *Registry) registerActivations() {
	r.Register("Relu", unary("Relu", tensor.Backend.Relu))
	r.Register("Sigmoid", unary("Sigmoid", tensor.Backend.Sigmoid))
	r.Register("Softmax", handleSoftmax)
}

func unary(op string, fn func(tensor.Backend, *tensor.RawTensor) *tensor.RawTensor) OpHandler {
	return func(ctx *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
		if err := requireInputs(op, inputs, 1, 1); err != nil {
			return nil, err
		}
		return single(fn(ctx.Backend, inputs[0])), nil
	}
}

func handleSoftmax(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("Softmax", inputs, 1, 1); err != nil {
		return nil, err
	}
	axis := int(GetAttrInt(node, "axis", -1))
	return single(ctx.Backend.Softmax(inputs[0], axis)), nil
}
