package operators

import (
	"fmt"

	"github.com/born-ml/ptq/internal/tensor"
)

func (r *Registry) registerMathOps() {
	r.Register("Add", binary("Add", tensor.Backend.Add))
	r.Register("Sub", binary("Sub", tensor.Backend.Sub))
	r.Register("Mul", binary("Mul", tensor.Backend.Mul))
	r.Register("Div", binary("Div", tensor.Backend.Div))
	r.Register("MatMul", binary("MatMul", tensor.Backend.MatMul))
	r.Register("Gemm", handleGemm)
}

func binary(op string, fn func(tensor.Backend, *tensor.RawTensor, *tensor.RawTensor) *tensor.RawTensor) OpHandler {
	return func(ctx *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
		if err := requireInputs(op, inputs, 2, 2); err != nil {
			return nil, err
		}
		return single(fn(ctx.Backend, inputs[0], inputs[1])), nil
	}
}

// handleGemm implements Y = alpha * A' * B' + beta * C.
func handleGemm(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("Gemm", inputs, 2, 3); err != nil {
		return nil, err
	}

	alpha := GetAttrFloat(node, "alpha", 1.0)
	beta := GetAttrFloat(node, "beta", 1.0)
	a, b := inputs[0], inputs[1]
	if len(a.Shape()) != 2 || len(b.Shape()) != 2 {
		return nil, fmt.Errorf("gemm: A and B must be 2D, got %v and %v", a.Shape(), b.Shape())
	}
	if GetAttrInt(node, "transA", 0) != 0 {
		a = ctx.Backend.Transpose(a)
	}
	if GetAttrInt(node, "transB", 0) != 0 {
		b = ctx.Backend.Transpose(b)
	}

	y := ctx.Backend.MatMul(a, b)
	if alpha != 1 {
		y = ctx.Backend.MulScalar(y, alpha)
	}
	if c := optional(inputs, 2); c != nil {
		if beta != 1 {
			c = ctx.Backend.MulScalar(c, beta)
		}
		y = ctx.Backend.Add(y, c)
	}
	return single(y), nil
}
