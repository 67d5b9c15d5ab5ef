// Command gradnet-train trains a LeNet-style convolutional classifier
// on MNIST and persists the result as a .grnt model file.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/gradnet-ml/gradnet/internal/dataset"
	"github.com/gradnet-ml/gradnet/internal/nn"
	"github.com/gradnet-ml/gradnet/internal/optim"
	"github.com/gradnet-ml/gradnet/internal/tensor"
	"github.com/gradnet-ml/gradnet/internal/train"
)

func main() {
	runIndex := flag.Int("run", 0, "Run index, used to name the model and checkpoint files")
	dataDir := flag.String("data", "./data", "Directory containing the MNIST idx files")
	outDir := flag.String("out", ".", "Directory receiving the model and checkpoint files")
	epochs := flag.Int("epochs", 10, "Number of training epochs")
	batchSize := flag.Int("batch", 32, "Mini-batch size")
	lr := flag.Float64("lr", 0.001, "Learning rate for the Adam optimizer")
	validFraction := flag.Float64("valid", 0.1, "Fraction of the training set held out for validation")
	seed := flag.Int64("seed", 0, "Shuffle seed (0 = random)")
	resume := flag.String("resume", "", "Checkpoint file to resume training from")
	flag.Parse()

	fmt.Printf("Loading MNIST data from %s\n", *dataDir)
	ds, err := dataset.Load(*dataDir, *validFraction)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(os.Stderr, "MNIST data files not found.")
			fmt.Fprintln(os.Stderr, "Download and gunzip the four idx files into the data directory:")
			fmt.Fprintln(os.Stderr, "  train-images-idx3-ubyte, train-labels-idx1-ubyte,")
			fmt.Fprintln(os.Stderr, "  t10k-images-idx3-ubyte, t10k-labels-idx1-ubyte")
			os.Exit(1)
		}
		log.Fatalf("load dataset: %v", err)
	}
	fmt.Printf("  train: %d samples, valid: %d, test: %d\n",
		ds.Train.NumSamples(), ds.Valid.NumSamples(), ds.Test.NumSamples())

	arch := leNetArch(*batchSize, ds.Rows, ds.Cols)
	trainer, err := train.New(arch)
	if err != nil {
		log.Fatalf("build network: %v", err)
	}
	g := trainer.Graph()
	fmt.Printf("Network built: %d nodes, %s trainable parameters\n",
		g.NumNodes(), humanize.Comma(int64(g.NumParameters())))

	modelPath := filepath.Join(*outDir, fmt.Sprintf("gradnet_%d.grnt", *runIndex))
	checkpointPath := filepath.Join(*outDir, fmt.Sprintf("gradnet_%d_checkpoint.grnt", *runIndex))

	adam, err := optim.NewAdam(optim.AdamConfig{
		Epochs:         *epochs,
		MiniBatchSize:  *batchSize,
		LR:             *lr,
		TestFrequency:  50,
		CheckpointPath: checkpointPath,
		Seed:           *seed,
		ShowProgress:   true,
	})
	if err != nil {
		log.Fatalf("configure optimizer: %v", err)
	}

	params := g.UnrollParameters()
	if *resume != "" {
		if params, err = adam.Restore(*resume); err != nil {
			log.Fatalf("restore checkpoint: %v", err)
		}
		fmt.Printf("Resumed from %s at timestep %d\n", *resume, adam.Timestep())
	}

	fmt.Printf("Training: %d epochs, batch %d, lr %g\n", *epochs, *batchSize, *lr)
	params, err = adam.Minimize(trainer.CostAndGradient, params, ds.Train.Images, ds.Train.Labels)
	if err != nil {
		log.Fatalf("training: %v", err)
	}
	if err := g.AttachParameters(params); err != nil {
		log.Fatalf("attach parameters: %v", err)
	}

	if err := trainer.SaveModel(modelPath); err != nil {
		log.Fatalf("save model: %v", err)
	}
	fmt.Printf("Model saved to %s\n", modelPath)

	// Reload from disk so the reported accuracy reflects the persisted
	// model, not the in-memory graph.
	reloaded, err := train.LoadModel(modelPath)
	if err != nil {
		log.Fatalf("reload model: %v", err)
	}

	report(reloaded, "train", &ds.Train, *batchSize)
	report(reloaded, "valid", &ds.Valid, *batchSize)
	report(reloaded, "test", &ds.Test, *batchSize)
}

// leNetArch is the classic small MNIST convnet: two SAME-padded conv
// blocks with max pooling, then a wide dropout-regularized dense layer
// into a softmax readout.
func leNetArch(batchSize, rows, cols int) []nn.LayerSpec {
	return []nn.LayerSpec{
		{Kind: nn.LayerInput, Shape: tensor.Shape{batchSize, 1, rows, cols}},
		{Kind: nn.LayerDropout, Rate: 0.05},
		{Kind: nn.LayerConv, Conv: &nn.ConvConfig{
			Filters: 20, FilterH: 5, FilterW: 5,
			Padding: "SAME", Stride: 1,
			Activation: nn.ActivationReLU,
			Pool:       nn.PoolMax, PoolH: 2, PoolW: 2, PoolStride: 2,
		}},
		{Kind: nn.LayerConv, Conv: &nn.ConvConfig{
			Filters: 50, FilterH: 5, FilterW: 5,
			Padding: "SAME", Stride: 1,
			Activation: nn.ActivationReLU,
			Pool:       nn.PoolMax, PoolH: 2, PoolW: 2, PoolStride: 2,
		}},
		{Kind: nn.LayerFlatten},
		{Kind: nn.LayerDropout, Rate: 0.1},
		{Kind: nn.LayerDense, Dense: &nn.DenseConfig{
			OutputWidth: 500,
			Activation:  nn.ActivationReLU,
			DropoutRate: 0.1,
		}},
		{Kind: nn.LayerDense, Dense: &nn.DenseConfig{
			OutputWidth: dataset.NumClasses,
			Activation:  nn.ActivationSoftmax,
		}},
	}
}

func report(t *train.Trainer, name string, split *dataset.Split, batchSize int) {
	if split.NumSamples() == 0 {
		return
	}
	acc, err := t.Accuracy(split.Images, split.LabelIDs, batchSize)
	if err != nil {
		log.Fatalf("%s accuracy: %v", name, err)
	}
	fmt.Printf("  %s accuracy: %.2f%%\n", name, acc*100)
}
