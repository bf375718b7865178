// Package algorithms holds the types shared by the quantization algorithms
// and their backends.
package algorithms

import (
	"errors"
	"fmt"
	"strings"

	"github.com/born-ml/ptq/internal/onnx"
)

// BackendType tags a model representation.
type BackendType int

// Known backends.
const (
	BackendONNX BackendType = iota + 1
	BackendTorchFX
)

func (b BackendType) String() string {
	switch b {
	case BackendONNX:
		return "onnx"
	case BackendTorchFX:
		return "torch_fx"
	default:
		return fmt.Sprintf("BackendType(%d)", int(b))
	}
}

// ErrUnsupportedBackend is returned for models or backend tags without an
// adapter.
var ErrUnsupportedBackend = errors.New("unsupported backend")

// ParseBackendType parses a backend name as written in configuration.
func ParseBackendType(s string) (BackendType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "onnx":
		return BackendONNX, nil
	case "torch_fx", "torchfx", "fx":
		return BackendTorchFX, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedBackend, s)
	}
}

// BackendOf detects the backend of a concrete model.
func BackendOf(model any) (BackendType, error) {
	switch model.(type) {
	case *onnx.ModelProto:
		return BackendONNX, nil
	default:
		return 0, fmt.Errorf("%w: model of type %T", ErrUnsupportedBackend, model)
	}
}
