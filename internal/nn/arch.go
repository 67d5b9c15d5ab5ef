package nn

import (
	"math/rand"

	"github.com/gradnet-ml/gradnet/internal/graph"
	"github.com/gradnet-ml/gradnet/internal/tensor"
)

// LayerKind tags an entry of an architecture descriptor.
type LayerKind string

// The descriptor entry kinds.
const (
	LayerInput   LayerKind = "input"
	LayerDropout LayerKind = "dropout"
	LayerConv    LayerKind = "conv"
	LayerFlatten LayerKind = "flatten"
	LayerDense   LayerKind = "dense"
)

// LayerSpec is one entry of an architecture descriptor: a tagged union
// over the layer kinds, serializable as JSON so the architecture can be
// persisted next to the parameter blob and replayed at load time.
type LayerSpec struct {
	Kind  LayerKind    `json:"kind"`
	Shape tensor.Shape `json:"shape,omitempty"` // input: declared feeder shape
	Rate  float64      `json:"rate,omitempty"`  // dropout
	Conv  *ConvConfig  `json:"conv,omitempty"`
	Dense *DenseConfig `json:"dense,omitempty"`
}

// Build replays an architecture descriptor into the graph: feeder
// first, then each layer, then the cross-entropy cost node on top of
// the last layer's output.
//
// It returns the last pre-cost node (the network's prediction output);
// the cost is reachable through g.Final().
func Build(g *graph.Graph, specs []LayerSpec) (*graph.Node, error) {
	if len(specs) == 0 || specs[0].Kind != LayerInput {
		return nil, &graph.ConfigurationError{Op: "build", Field: "specs", Detail: "descriptor must start with an input layer"}
	}

	cur, err := g.AddFeeder(specs[0].Shape)
	if err != nil {
		return nil, err
	}

	for _, spec := range specs[1:] {
		switch spec.Kind {
		case LayerDropout:
			if spec.Rate <= 0 || spec.Rate >= 1 {
				return nil, &graph.ConfigurationError{Op: "build", Field: "rate", Detail: "dropout rate must be in (0, 1)"}
			}
			cur, err = g.AddOperation(graph.NewDropout(spec.Rate, rand.Int63()), cur)
		case LayerConv:
			if spec.Conv == nil {
				return nil, &graph.ConfigurationError{Op: "build", Field: "conv", Detail: "missing conv configuration"}
			}
			cur, err = AddConv(g, cur, *spec.Conv)
		case LayerFlatten:
			cur, err = g.AddOperation(graph.NewFlatten(), cur)
		case LayerDense:
			if spec.Dense == nil {
				return nil, &graph.ConfigurationError{Op: "build", Field: "dense", Detail: "missing dense configuration"}
			}
			cur, err = AddDense(g, cur, *spec.Dense)
		case LayerInput:
			return nil, &graph.ConfigurationError{Op: "build", Field: "kind", Detail: "input layer must be first"}
		default:
			return nil, &graph.ConfigurationError{Op: "build", Field: "kind", Detail: string(spec.Kind)}
		}
		if err != nil {
			return nil, err
		}
	}

	if _, err := g.AddCost(graph.NewCrossEntropy(), cur); err != nil {
		return nil, err
	}
	return cur, nil
}
