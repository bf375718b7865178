package algorithms

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/ptq/internal/onnx"
)

func TestBackendOf(t *testing.T) {
	bt, err := BackendOf(&onnx.ModelProto{})
	require.NoError(t, err)
	assert.Equal(t, BackendONNX, bt)

	_, err = BackendOf("model.pt")
	assert.ErrorIs(t, err, ErrUnsupportedBackend)
}

func TestParseBackendType(t *testing.T) {
	tests := []struct {
		in   string
		want BackendType
		err  bool
	}{
		{"onnx", BackendONNX, false},
		{" ONNX ", BackendONNX, false},
		{"torch_fx", BackendTorchFX, false},
		{"openvino", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBackendType(tt.in)
			if tt.err {
				assert.ErrorIs(t, err, ErrUnsupportedBackend)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, mustParse(t, got.String()))
		})
	}
}

func mustParse(t *testing.T, s string) BackendType {
	t.Helper()
	bt, err := ParseBackendType(s)
	require.NoError(t, err)
	return bt
}

func TestBiasNotFoundError(t *testing.T) {
	var err error = &BiasNotFoundError{NodeName: "conv", Reason: "bias produced by Relu"}
	var bnf *BiasNotFoundError
	require.True(t, errors.As(err, &bnf))
	assert.Equal(t, "could not find the bias value of node conv: bias produced by Relu", err.Error())
}
