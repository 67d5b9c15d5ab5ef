// Package dataset loads image-classification datasets in the IDX
// binary format (the layout MNIST and its drop-in variants ship in)
// into the tensors the training loop consumes.
package dataset

import (
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/gradnet-ml/gradnet/internal/tensor"
)

// NumClasses is the label alphabet size of the supported datasets.
const NumClasses = 10

// Expected file names inside the data directory.
const (
	trainImagesFile = "train-images-idx3-ubyte"
	trainLabelsFile = "train-labels-idx1-ubyte"
	testImagesFile  = "t10k-images-idx3-ubyte"
	testLabelsFile  = "t10k-labels-idx1-ubyte"
)

// Split is one partition of a dataset.
type Split struct {
	Images   *tensor.Tensor // [n, 1, rows, cols], pixel values in [0, 1]
	Labels   *tensor.Tensor // one-hot [n, NumClasses]
	LabelIDs []int          // [n]
}

// NumSamples returns the number of samples in the split.
func (s *Split) NumSamples() int {
	if s.Images == nil {
		return 0
	}
	return s.Images.Shape()[0]
}

// Dataset holds the three partitions the training script consumes.
type Dataset struct {
	Train Split
	Valid Split
	Test  Split
	Rows  int
	Cols  int
}

// Load reads the train and test IDX files from dir and carves the
// validation split off the tail of the training set.
func Load(dir string, validFraction float64) (*Dataset, error) {
	if validFraction < 0 || validFraction >= 1 {
		return nil, errors.Errorf("validation fraction %g must be in [0, 1)", validFraction)
	}

	trainImages, rows, cols, err := readIDXImages(filepath.Join(dir, trainImagesFile))
	if err != nil {
		return nil, errors.Wrap(err, "train images")
	}
	trainLabels, err := readIDXLabels(filepath.Join(dir, trainLabelsFile))
	if err != nil {
		return nil, errors.Wrap(err, "train labels")
	}
	if len(trainImages) != len(trainLabels) {
		return nil, errors.Errorf("train image count %d != label count %d", len(trainImages), len(trainLabels))
	}

	testImages, testRows, testCols, err := readIDXImages(filepath.Join(dir, testImagesFile))
	if err != nil {
		return nil, errors.Wrap(err, "test images")
	}
	testLabels, err := readIDXLabels(filepath.Join(dir, testLabelsFile))
	if err != nil {
		return nil, errors.Wrap(err, "test labels")
	}
	if len(testImages) != len(testLabels) {
		return nil, errors.Errorf("test image count %d != label count %d", len(testImages), len(testLabels))
	}
	if testRows != rows || testCols != cols {
		return nil, errors.Errorf("test images are %dx%d, train images %dx%d", testRows, testCols, rows, cols)
	}

	splitIdx := len(trainImages) - int(float64(len(trainImages))*validFraction)

	ds := &Dataset{Rows: rows, Cols: cols}
	if ds.Train, err = newSplit(trainImages[:splitIdx], trainLabels[:splitIdx], rows, cols); err != nil {
		return nil, err
	}
	if splitIdx < len(trainImages) {
		if ds.Valid, err = newSplit(trainImages[splitIdx:], trainLabels[splitIdx:], rows, cols); err != nil {
			return nil, err
		}
	}
	if ds.Test, err = newSplit(testImages, testLabels, rows, cols); err != nil {
		return nil, err
	}
	return ds, nil
}

// newSplit converts raw bytes into the split's tensors: pixels
// normalized to [0, 1] in NCHW layout, labels one-hot encoded.
func newSplit(images [][]byte, labels []byte, rows, cols int) (Split, error) {
	n := len(images)
	imgT, err := tensor.New(tensor.Shape{n, 1, rows, cols})
	if err != nil {
		return Split{}, err
	}
	labT, err := tensor.New(tensor.Shape{n, NumClasses})
	if err != nil {
		return Split{}, err
	}

	imgData, labData := imgT.Data(), labT.Data()
	ids := make([]int, n)
	for i := 0; i < n; i++ {
		for j, px := range images[i] {
			imgData[i*rows*cols+j] = float64(px) / 255.0
		}
		label := int(labels[i])
		if label < 0 || label >= NumClasses {
			return Split{}, errors.Errorf("label %d out of range [0, %d) at sample %d", label, NumClasses, i)
		}
		ids[i] = label
		labData[i*NumClasses+label] = 1
	}
	return Split{Images: imgT, Labels: labT, LabelIDs: ids}, nil
}
