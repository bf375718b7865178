package onnxbackend

import (
	"context"

	"github.com/born-ml/ptq/internal/backend/cpu"
	"github.com/born-ml/ptq/internal/engine"
	"github.com/born-ml/ptq/internal/onnx"
	"github.com/born-ml/ptq/internal/tensor"
)

// Engine runs an ONNX model on the CPU backend.
type Engine struct {
	session *onnx.Session
}

var _ engine.Engine = (*Engine)(nil)

// NewEngine prepares model for inference.
func NewEngine(model any) (*Engine, error) {
	m, err := asModel(model)
	if err != nil {
		return nil, err
	}
	session, err := onnx.NewSession(m, cpu.New())
	if err != nil {
		return nil, err
	}
	return &Engine{session: session}, nil
}

// InputNames implements engine.Engine.
func (e *Engine) InputNames() []string {
	return e.session.InputNames()
}

// Infer implements engine.Engine.
func (e *Engine) Infer(ctx context.Context, inputs map[string]*tensor.RawTensor) (map[string]*tensor.RawTensor, error) {
	return e.session.Run(ctx, inputs)
}
