package quantization

import (
	"errors"

	"github.com/born-ml/ptq/internal/algorithms"
	"github.com/born-ml/ptq/internal/graph"
)

// NodeInfo describes one operator for inspection.
type NodeInfo struct {
	Name             string
	OpType           string
	Metatype         string
	HasBias          bool
	QuantizedWeights bool
	// BiasCandidate marks nodes fast bias correction would consider.
	BiasCandidate bool
}

// Inspect lists the operators of model in execution order, without the
// synthetic graph input and output nodes.
func Inspect(model any) ([]NodeInfo, error) {
	_, b, err := backendsFor(model, "")
	if err != nil {
		return nil, err
	}
	model, err = b.prepare(model)
	if err != nil {
		return nil, err
	}
	g, err := b.fbc.NewGraph(model)
	if err != nil {
		return nil, err
	}

	biasTypes := b.fbc.LayersWithBiasMetatypes()
	var infos []NodeInfo
	for _, node := range g.Nodes() {
		if node.Metatype == graph.InputNoopMetatype || node.Metatype == graph.OutputNoopMetatype {
			continue
		}
		info := NodeInfo{Name: node.Name, OpType: node.NodeType, Metatype: node.Metatype.Name}
		if attrs, ok := node.LayerAttributes.(*graph.WeightedLayerAttributes); ok {
			info.HasBias = attrs.HasBias
			info.QuantizedWeights, err = b.fbc.IsQuantizedWeights(node, model)
			if err != nil {
				return nil, err
			}
		}
		if graph.ContainsMetatype(biasTypes, node.Metatype) {
			_, err := b.fbc.BiasValue(model, node)
			var bnf *algorithms.BiasNotFoundError
			switch {
			case errors.As(err, &bnf):
			case err != nil:
				return nil, err
			default:
				info.BiasCandidate = true
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}
