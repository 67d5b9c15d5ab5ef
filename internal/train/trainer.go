// Package train wires a built graph to the optimizer: it exposes the
// objective-and-gradient function the minimizer consumes, evaluates
// held-out accuracy, and persists trained models.
package train

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/gradnet-ml/gradnet/internal/graph"
	"github.com/gradnet-ml/gradnet/internal/nn"
	"github.com/gradnet-ml/gradnet/internal/serialization"
	"github.com/gradnet-ml/gradnet/internal/tensor"
)

// Trainer orchestrates one graph through training and evaluation.
//
// Not safe for concurrent use: it drives the graph's in-place caches.
// Parallel training requires one Trainer per worker, each owning an
// independent graph built from the same architecture descriptor.
type Trainer struct {
	g      *graph.Graph
	arch   []nn.LayerSpec
	output *graph.Node // prediction node, the cost's input
}

// New creates a trainer by replaying the architecture descriptor into
// a fresh graph.
func New(arch []nn.LayerSpec) (*Trainer, error) {
	g := graph.New()
	output, err := nn.Build(g, arch)
	if err != nil {
		return nil, err
	}
	return &Trainer{g: g, arch: arch, output: output}, nil
}

// Graph returns the underlying graph.
func (t *Trainer) Graph() *graph.Graph { return t.g }

// Output returns the prediction node (the final operation's input).
func (t *Trainer) Output() *graph.Node { return t.output }

// CostAndGradient is the objective handed to the optimizer: a pure
// mapping from (parameters, data, labels) to (cost, gradient).
//
// The steps are strictly ordered. Data is bound first, then every
// per-node cache from the previous call is cleared, labels are bound,
// the proposed parameter point is restored into the trainable nodes,
// and only then does the forward/backward cycle run. Nothing carries
// over between calls except node values, which steps overwrite.
func (t *Trainer) CostAndGradient(params []float64, data, labels *tensor.Tensor) (float64, []float64, error) {
	t.g.SetTraining(true)

	if err := t.g.BindData(data); err != nil {
		return 0, nil, err
	}
	t.g.ResetAll()
	if err := t.g.BindLabels(labels); err != nil {
		return 0, nil, err
	}
	if err := t.g.AttachParameters(params); err != nil {
		return 0, nil, err
	}

	cost, err := t.g.FeedForward()
	if err != nil {
		return 0, nil, err
	}
	if err := t.g.FeedBackward(); err != nil {
		return 0, nil, err
	}
	grad, err := t.g.UnrollGradients()
	if err != nil {
		return 0, nil, err
	}
	return cost, grad, nil
}

// Accuracy evaluates the fraction of samples whose predicted class
// (argmax of the prediction node) matches the label id. Evaluation
// runs in batches to bound memory and with training-dependent ops in
// evaluation mode.
func (t *Trainer) Accuracy(data *tensor.Tensor, labelIDs []int, batchSize int) (float64, error) {
	if data == nil || data.Shape()[0] == 0 {
		return 0, &graph.StateError{Op: "accuracy", Detail: "no evaluation samples"}
	}
	n := data.Shape()[0]
	if len(labelIDs) != n {
		return 0, &graph.ShapeError{
			Op:     "accuracy",
			Got:    data.Shape().Clone(),
			Detail: fmt.Sprintf("%d label ids for %d samples", len(labelIDs), n),
		}
	}
	if batchSize <= 0 {
		batchSize = 256
	}

	t.g.SetTraining(false)
	defer t.g.SetTraining(true)

	correct := 0
	for start := 0; start < n; start += batchSize {
		end := min(start+batchSize, n)
		batch, err := data.SliceRows(start, end)
		if err != nil {
			return 0, err
		}
		if err := t.g.BindData(batch); err != nil {
			return 0, err
		}
		t.g.ResetAll()

		pred, err := t.g.EvalTo(t.output)
		if err != nil {
			return 0, err
		}

		classes := pred.Shape()[1]
		pd := pred.Data()
		for i := 0; i < end-start; i++ {
			best := 0
			for j := 1; j < classes; j++ {
				if pd[i*classes+j] > pd[i*classes+best] {
					best = j
				}
			}
			if best == labelIDs[start+i] {
				correct++
			}
		}
	}
	return float64(correct) / float64(n), nil
}

// SaveModel persists the two model artifacts in one container: the
// architecture descriptor in the header and the parameter values as
// sections keyed by node index.
func (t *Trainer) SaveModel(path string) error {
	archJSON, err := json.Marshal(t.arch)
	if err != nil {
		return errors.Wrap(err, "marshal architecture")
	}

	state := t.g.StateDict()
	names := make([]string, 0, len(state))
	for name := range state {
		names = append(names, name)
	}
	sort.Strings(names)

	sections := make([]serialization.Section, len(names))
	for i, name := range names {
		v := state[name]
		sections[i] = serialization.Section{Name: name, Shape: v.Shape(), Data: v.Data()}
	}
	return serialization.Write(path, serialization.Header{
		Kind: serialization.KindModel,
		Arch: archJSON,
	}, sections)
}

// LoadModel reconstructs a trainer from a saved model: the descriptor
// is replayed into a fresh graph and the persisted parameter values
// are restored into its trainable nodes.
func LoadModel(path string) (*Trainer, error) {
	header, sections, err := serialization.Read(path)
	if err != nil {
		return nil, err
	}
	if header.Kind != serialization.KindModel {
		return nil, errors.Errorf("%s is not a model artifact", path)
	}

	var arch []nn.LayerSpec
	if err := json.Unmarshal(header.Arch, &arch); err != nil {
		return nil, errors.Wrap(err, "decode architecture")
	}

	t, err := New(arch)
	if err != nil {
		return nil, err
	}

	state := make(map[string]*tensor.Tensor, len(sections))
	for _, s := range sections {
		v, err := tensor.FromSlice(s.Data, s.Shape)
		if err != nil {
			return nil, errors.Wrapf(err, "section %q", s.Name)
		}
		state[s.Name] = v
	}
	if err := t.g.LoadStateDict(state); err != nil {
		return nil, err
	}
	return t, nil
}
