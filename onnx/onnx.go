// Package onnx reads, writes and runs ONNX models.
//
// Only the parts of the format that post-training quantization touches are
// decoded: graph structure, initializers, attributes and value infos.
// Unknown fields are dropped on re-encoding.
//
// # Example Usage
//
//	model, err := onnx.Load("model.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	outputs, err := onnx.Run(ctx, model, map[string]*tensor.RawTensor{"x": x})
//
// Use [ListSupportedOps] to get the operators Run can execute.
package onnx

import (
	"context"

	"github.com/born-ml/ptq/internal/backend/cpu"
	internalonnx "github.com/born-ml/ptq/internal/onnx"
	"github.com/born-ml/ptq/internal/onnx/operators"
	"github.com/born-ml/ptq/tensor"
)

// Model is a decoded ONNX model.
type Model = internalonnx.ModelProto

// Load reads a model from path.
func Load(path string) (*Model, error) {
	return internalonnx.ParseFile(path)
}

// LoadFromBytes decodes a serialized model.
//
// This is useful when the model is embedded in the binary or loaded
// from a network source.
func LoadFromBytes(data []byte) (*Model, error) {
	return internalonnx.Parse(data)
}

// Save writes model to path.
func Save(path string, model *Model) error {
	return internalonnx.WriteFile(path, model)
}

// Marshal serializes model to the ONNX wire format.
func Marshal(model *Model) []byte {
	return internalonnx.Marshal(model)
}

// Run executes model once on the CPU and returns every graph output by name.
func Run(ctx context.Context, model *Model, inputs map[string]*tensor.RawTensor) (map[string]*tensor.RawTensor, error) {
	session, err := internalonnx.NewSession(model, cpu.New())
	if err != nil {
		return nil, err
	}
	return session.Run(ctx, inputs)
}

// ListSupportedOps returns the operator types Run can execute, sorted.
func ListSupportedOps() []string {
	return operators.NewRegistry().SupportedOps()
}
