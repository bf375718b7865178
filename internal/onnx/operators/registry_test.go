package operators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/ptq/internal/backend/cpu"
	"github.com/born-ml/ptq/internal/tensor"
)

func f32(t *testing.T, shape tensor.Shape, values ...float32) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.FromSlice(shape, values)
	require.NoError(t, err)
	return r
}

func run(t *testing.T, node *Node, inputs ...*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	t.Helper()
	return NewRegistry().Execute(&Context{Backend: cpu.New()}, node, inputs)
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	for _, op := range []string{
		"Add", "Sub", "Mul", "Div", "MatMul", "Gemm",
		"Conv", "ConvTranspose", "GlobalAveragePool",
		"Relu", "Sigmoid", "Softmax",
		"Identity", "Flatten", "Reshape",
		"QuantizeLinear", "DequantizeLinear",
	} {
		_, ok := r.Get(op)
		assert.True(t, ok, "operator %s should be registered", op)
	}
	_, ok := r.Get("UnknownOp")
	assert.False(t, ok)
	assert.Len(t, r.SupportedOps(), 17)
}

func TestRegisterCustomOp(t *testing.T) {
	r := NewRegistry()
	r.Register("MyCustomOp", func(_ *Context, _ *Node, _ []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
		return nil, nil
	})
	_, ok := r.Get("MyCustomOp")
	assert.True(t, ok)
}

func TestExecuteUnsupported(t *testing.T) {
	_, err := run(t, &Node{OpType: "LSTM"})
	assert.ErrorContains(t, err, "unsupported operator: LSTM")
}

func TestExecuteRecoversBackendPanic(t *testing.T) {
	a := f32(t, tensor.Shape{2, 3}, 1, 2, 3, 4, 5, 6)
	b := f32(t, tensor.Shape{2, 2}, 1, 2, 3, 4)
	_, err := run(t, &Node{OpType: "Add"}, a, b)
	require.Error(t, err)
}

func TestGemm(t *testing.T) {
	a := f32(t, tensor.Shape{1, 2}, 1, 2)
	// B stored as [N, K] with transB.
	b := f32(t, tensor.Shape{3, 2}, 1, 0, 0, 1, 1, 1)
	c := f32(t, tensor.Shape{3}, 10, 20, 30)
	node := &Node{OpType: "Gemm", Attributes: []Attribute{
		{Name: "transB", I: 1},
		{Name: "alpha", F: 2},
	}}
	out, err := run(t, node, a, b, c)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 3}, out[0].Shape())
	assert.Equal(t, []float32{12, 24, 36}, out[0].AsFloat32())
}

func TestGemmWithoutBias(t *testing.T) {
	a := f32(t, tensor.Shape{1, 2}, 1, 2)
	b := f32(t, tensor.Shape{2, 1}, 3, 4)
	out, err := run(t, &Node{OpType: "Gemm"}, a, b)
	require.NoError(t, err)
	assert.Equal(t, []float32{11}, out[0].AsFloat32())
}

func TestConvRejectsAutoPad(t *testing.T) {
	x := f32(t, tensor.Shape{1, 1, 2, 2}, 1, 2, 3, 4)
	w := f32(t, tensor.Shape{1, 1, 1, 1}, 1)
	node := &Node{OpType: "Conv", Attributes: []Attribute{{Name: "auto_pad", S: []byte("SAME_UPPER")}}}
	_, err := run(t, node, x, w)
	assert.ErrorContains(t, err, "auto_pad")
}

func TestConvWithBias(t *testing.T) {
	x := f32(t, tensor.Shape{1, 1, 2, 2}, 1, 2, 3, 4)
	w := f32(t, tensor.Shape{2, 1, 1, 1}, 1, -1)
	b := f32(t, tensor.Shape{2}, 0.5, 1)
	out, err := run(t, &Node{OpType: "Conv"}, x, w, b)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 2, 2, 2}, out[0].Shape())
	assert.Equal(t, []float32{1.5, 2.5, 3.5, 4.5, 0, -1, -2, -3}, out[0].AsFloat32())
}

func TestFlatten(t *testing.T) {
	x := f32(t, tensor.Shape{2, 3, 1, 1}, 1, 2, 3, 4, 5, 6)
	out, err := run(t, &Node{OpType: "Flatten"}, x)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3}, out[0].Shape())

	out, err = run(t, &Node{OpType: "Flatten", Attributes: []Attribute{{Name: "axis", I: 0}}}, x)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 6}, out[0].Shape())
}

func TestReshape(t *testing.T) {
	x := f32(t, tensor.Shape{2, 3, 2}, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12)
	tests := []struct {
		name   string
		target []int64
		want   tensor.Shape
		err    bool
	}{
		{"explicit", []int64{3, 4}, tensor.Shape{3, 4}, false},
		{"infer", []int64{-1, 2}, tensor.Shape{6, 2}, false},
		{"copy", []int64{0, -1}, tensor.Shape{2, 6}, false},
		{"two infers", []int64{-1, -1}, nil, true},
		{"indivisible", []int64{5, -1}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shape, err := tensor.FromSlice(tensor.Shape{len(tt.target)}, tt.target)
			require.NoError(t, err)
			out, err := run(t, &Node{OpType: "Reshape"}, x, shape)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out[0].Shape())
		})
	}
}

func TestQuantizeDequantizeRoundTrip(t *testing.T) {
	x := f32(t, tensor.Shape{4}, -1, 0, 0.5, 1)
	scale := f32(t, tensor.Shape{}, 0.5)
	zp, err := tensor.FromSlice(tensor.Shape{}, []int8{0})
	require.NoError(t, err)

	q, err := run(t, &Node{OpType: "QuantizeLinear"}, x, scale, zp)
	require.NoError(t, err)
	assert.Equal(t, tensor.Int8, q[0].DType())
	assert.Equal(t, []int8{-2, 0, 1, 2}, q[0].AsInt8())

	dq, err := run(t, &Node{OpType: "DequantizeLinear"}, q[0], scale, zp)
	require.NoError(t, err)
	assert.Equal(t, []float32{-1, 0, 0.5, 1}, dq[0].AsFloat32())
}

func TestQuantizeLinearDefaultsToUint8(t *testing.T) {
	x := f32(t, tensor.Shape{2}, 1, 300)
	scale := f32(t, tensor.Shape{}, 1)
	q, err := run(t, &Node{OpType: "QuantizeLinear"}, x, scale)
	require.NoError(t, err)
	assert.Equal(t, []uint8{1, 255}, q[0].AsUint8())
}

func TestMissingRequiredInput(t *testing.T) {
	_, err := run(t, &Node{OpType: "Relu"})
	assert.ErrorContains(t, err, "Relu requires 1 inputs")
}
