package optim

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"

	"github.com/gradnet-ml/gradnet/internal/graph"
	"github.com/gradnet-ml/gradnet/internal/serialization"
	"github.com/gradnet-ml/gradnet/internal/tensor"
)

// CostGradientFunc is the objective handed to the minimizer: a pure
// mapping from (parameters, data, labels) to (cost, gradient). The
// gradient must mirror the parameter vector's layout.
type CostGradientFunc func(params []float64, data, labels *tensor.Tensor) (float64, []float64, error)

// AdamConfig holds the minimizer's hyperparameters.
type AdamConfig struct {
	Epochs        int     // passes over the training set (default: 1)
	MiniBatchSize int     // rows per update step (default: 32)
	LR            float64 // learning rate (default: 0.001)
	Beta1         float64 // first-moment decay (default: 0.9)
	Beta2         float64 // second-moment decay (default: 0.999)
	Eps           float64 // numerical stability term (default: 1e-8)

	// TestFrequency logs the current cost every N update steps via
	// klog. Zero disables periodic logging.
	TestFrequency int

	// CheckpointPath, when set, receives a checkpoint (parameters plus
	// moment estimates) after every epoch.
	CheckpointPath string

	// Seed fixes the mini-batch shuffling order. Zero seeds from the
	// global source.
	Seed int64

	// ShowProgress renders a per-epoch progress bar on stderr.
	ShowProgress bool
}

// Adam is the adaptive mini-batch minimizer.
//
// Not safe for concurrent use: the moment estimates and step counter
// are mutated across Minimize calls so training can be resumed.
type Adam struct {
	cfg AdamConfig
	rng *rand.Rand

	m []float64 // first moment estimates
	v []float64 // second moment estimates
	t int       // update steps taken, for bias correction

	startEpoch int
	lastCost   float64
}

// NewAdam creates a minimizer, filling unset config fields with the
// usual defaults.
func NewAdam(cfg AdamConfig) (*Adam, error) {
	if cfg.Epochs == 0 {
		cfg.Epochs = 1
	}
	if cfg.MiniBatchSize == 0 {
		cfg.MiniBatchSize = 32
	}
	if cfg.LR == 0 {
		cfg.LR = 0.001
	}
	if cfg.Beta1 == 0 {
		cfg.Beta1 = 0.9
	}
	if cfg.Beta2 == 0 {
		cfg.Beta2 = 0.999
	}
	if cfg.Eps == 0 {
		cfg.Eps = 1e-8
	}
	if cfg.Epochs < 0 || cfg.MiniBatchSize < 0 || cfg.LR < 0 {
		return nil, &graph.ConfigurationError{Op: "adam", Detail: "epochs, mini-batch size and learning rate must be non-negative"}
	}
	if cfg.Beta1 < 0 || cfg.Beta1 >= 1 || cfg.Beta2 < 0 || cfg.Beta2 >= 1 {
		return nil, &graph.ConfigurationError{Op: "adam", Field: "betas", Detail: "must be in [0, 1)"}
	}

	src := rand.NewSource(cfg.Seed)
	if cfg.Seed == 0 {
		//nolint:gosec // shuffling order, not security-critical
		src = rand.NewSource(rand.Int63())
	}
	return &Adam{cfg: cfg, rng: rand.New(src)}, nil
}

// Timestep returns the number of update steps taken so far.
func (a *Adam) Timestep() int { return a.t }

// Minimize runs mini-batch descent over the training set and returns
// the final parameter vector. The incoming vector is not mutated.
//
// Each epoch shuffles the sample order, walks the set in mini-batches,
// and invokes fn once per batch with the optimizer's current parameter
// point. When a checkpoint path is configured the full optimizer state
// is persisted after every epoch.
func (a *Adam) Minimize(fn CostGradientFunc, initial []float64, data, labels *tensor.Tensor) ([]float64, error) {
	n := data.Shape()[0]
	if labels.Shape()[0] != n {
		return nil, &tensor.ShapeError{
			Op:     "minimize",
			Got:    labels.Shape().Clone(),
			Detail: fmt.Sprintf("labels must have %d rows like the data", n),
		}
	}

	params := make([]float64, len(initial))
	copy(params, initial)

	if len(a.m) != len(params) {
		a.m = make([]float64, len(params))
		a.v = make([]float64, len(params))
		a.t = 0
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	batches := (n + a.cfg.MiniBatchSize - 1) / a.cfg.MiniBatchSize
	for epoch := a.startEpoch; epoch < a.cfg.Epochs; epoch++ {
		a.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })

		var bar *progressbar.ProgressBar
		if a.cfg.ShowProgress {
			bar = progressbar.Default(int64(batches), fmt.Sprintf("epoch %d/%d", epoch+1, a.cfg.Epochs))
		}

		for start := 0; start < n; start += a.cfg.MiniBatchSize {
			end := min(start+a.cfg.MiniBatchSize, n)

			batchData, err := data.TakeRows(order[start:end])
			if err != nil {
				return nil, err
			}
			batchLabels, err := labels.TakeRows(order[start:end])
			if err != nil {
				return nil, err
			}

			cost, grad, err := fn(params, batchData, batchLabels)
			if err != nil {
				return nil, errors.Wrapf(err, "objective at step %d", a.t+1)
			}
			if len(grad) != len(params) {
				return nil, &tensor.ShapeError{
					Op:     "minimize",
					Detail: fmt.Sprintf("gradient length %d does not match %d parameters", len(grad), len(params)),
				}
			}

			a.step(params, grad)
			a.lastCost = cost

			if a.cfg.TestFrequency > 0 && a.t%a.cfg.TestFrequency == 0 {
				klog.Infof("step %d epoch %d: cost=%.6f |grad|=%.4f", a.t, epoch+1, cost, floats.Norm(grad, 2))
			}
			if bar != nil {
				_ = bar.Add(1)
			}
		}

		if a.cfg.CheckpointPath != "" {
			if err := a.saveCheckpoint(a.cfg.CheckpointPath, params, epoch+1); err != nil {
				return nil, errors.Wrap(err, "checkpoint")
			}
		}
	}
	return params, nil
}

// step applies one bias-corrected Adam update in place.
func (a *Adam) step(params, grad []float64) {
	a.t++
	c1 := 1 - math.Pow(a.cfg.Beta1, float64(a.t))
	c2 := 1 - math.Pow(a.cfg.Beta2, float64(a.t))

	for i, g := range grad {
		a.m[i] = a.cfg.Beta1*a.m[i] + (1-a.cfg.Beta1)*g
		a.v[i] = a.cfg.Beta2*a.v[i] + (1-a.cfg.Beta2)*g*g

		mHat := a.m[i] / c1
		vHat := a.v[i] / c2
		params[i] -= a.cfg.LR * mHat / (math.Sqrt(vHat) + a.cfg.Eps)
	}
}

// saveCheckpoint persists the parameter vector and the moment
// estimates so a later run can resume.
func (a *Adam) saveCheckpoint(path string, params []float64, epoch int) error {
	shape := tensor.Shape{len(params)}
	return serialization.Write(path, serialization.Header{
		Kind: serialization.KindCheckpoint,
		Checkpoint: &serialization.CheckpointMeta{
			Epoch: epoch,
			Step:  a.t,
			Loss:  a.lastCost,
		},
	}, []serialization.Section{
		{Name: "params", Shape: shape, Data: params},
		{Name: "adam.m", Shape: shape, Data: a.m},
		{Name: "adam.v", Shape: shape, Data: a.v},
	})
}

// Restore loads a checkpoint written by a previous run and returns its
// parameter vector. The optimizer resumes at the recorded epoch with
// the recorded moment estimates.
func (a *Adam) Restore(path string) ([]float64, error) {
	header, sections, err := serialization.Read(path)
	if err != nil {
		return nil, err
	}
	if header.Kind != serialization.KindCheckpoint || header.Checkpoint == nil {
		return nil, errors.Errorf("%s is not a checkpoint", path)
	}

	params, err := serialization.SectionByName(sections, "params")
	if err != nil {
		return nil, err
	}
	m, err := serialization.SectionByName(sections, "adam.m")
	if err != nil {
		return nil, err
	}
	v, err := serialization.SectionByName(sections, "adam.v")
	if err != nil {
		return nil, err
	}
	if len(m.Data) != len(params.Data) || len(v.Data) != len(params.Data) {
		return nil, errors.Wrap(serialization.ErrSectionCorrupt, "moment estimates do not match parameters")
	}

	a.m = m.Data
	a.v = v.Data
	a.t = header.Checkpoint.Step
	a.startEpoch = header.Checkpoint.Epoch
	a.lastCost = header.Checkpoint.Loss
	return params.Data, nil
}
