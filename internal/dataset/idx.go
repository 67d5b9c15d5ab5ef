package dataset

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

// IDX magic numbers (big-endian), as used by the MNIST distribution.
const (
	imageMagic = 2051
	labelMagic = 2049
)

// readIDXImages reads an IDX image file.
//
// Layout: magic (0x00000803), image count, rows, cols as big-endian
// uint32, then one unsigned byte per pixel.
func readIDXImages(filename string) (images [][]byte, rows, cols int, err error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, 0, 0, err
	}
	defer f.Close()

	var magic uint32
	if err := binary.Read(f, binary.BigEndian, &magic); err != nil {
		return nil, 0, 0, errors.Wrap(err, "read magic")
	}
	if magic != imageMagic {
		return nil, 0, 0, errors.Errorf("invalid image magic: got %d, want %d", magic, imageMagic)
	}

	var count, nRows, nCols uint32
	if err := binary.Read(f, binary.BigEndian, &count); err != nil {
		return nil, 0, 0, errors.Wrap(err, "read count")
	}
	if err := binary.Read(f, binary.BigEndian, &nRows); err != nil {
		return nil, 0, 0, errors.Wrap(err, "read rows")
	}
	if err := binary.Read(f, binary.BigEndian, &nCols); err != nil {
		return nil, 0, 0, errors.Wrap(err, "read cols")
	}

	imageSize := int(nRows * nCols)
	images = make([][]byte, count)
	for i := range images {
		images[i] = make([]byte, imageSize)
		if _, err := io.ReadFull(f, images[i]); err != nil {
			return nil, 0, 0, errors.Wrapf(err, "read image %d", i)
		}
	}
	return images, int(nRows), int(nCols), nil
}

// readIDXLabels reads an IDX label file.
//
// Layout: magic (0x00000801), label count as big-endian uint32, then
// one unsigned byte per label.
func readIDXLabels(filename string) ([]byte, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var magic uint32
	if err := binary.Read(f, binary.BigEndian, &magic); err != nil {
		return nil, errors.Wrap(err, "read magic")
	}
	if magic != labelMagic {
		return nil, errors.Errorf("invalid label magic: got %d, want %d", magic, labelMagic)
	}

	var count uint32
	if err := binary.Read(f, binary.BigEndian, &count); err != nil {
		return nil, errors.Wrap(err, "read count")
	}

	labels := make([]byte, count)
	if _, err := io.ReadFull(f, labels); err != nil {
		return nil, errors.Wrap(err, "read labels")
	}
	return labels, nil
}
