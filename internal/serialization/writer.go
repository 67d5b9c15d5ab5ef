package serialization

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/gradnet-ml/gradnet/internal/tensor"
)

// Section is one named tensor payload of a .grnt file.
type Section struct {
	Name  string
	Shape tensor.Shape
	Data  []float64
}

// Write serializes the sections to path under the given header. The
// header's section table, checksum and timestamps are filled in here;
// callers only set Kind, Arch and Checkpoint.
func Write(path string, header Header, sections []Section) error {
	header.FormatVersion = FormatVersion
	header.CreatedAt = time.Now().UTC()
	header.Sections = make([]SectionMeta, len(sections))

	// Lay out the data area and serialize payloads.
	var offset int64
	data := make([]byte, 0, totalBytes(sections))
	for i, s := range sections {
		if s.Shape.NumElements() != len(s.Data) {
			return errors.Wrapf(ErrSectionCorrupt, "section %q: shape %s vs %d values", s.Name, s.Shape, len(s.Data))
		}
		size := int64(len(s.Data) * bytesPerElement)
		header.Sections[i] = SectionMeta{
			Name:   s.Name,
			Shape:  []int(s.Shape),
			Offset: offset,
			Size:   size,
		}
		offset += size

		var buf [bytesPerElement]byte
		for _, v := range s.Data {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			data = append(data, buf[:]...)
		}
	}

	checksum := sha256.Sum256(data)

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "marshal header")
	}
	if len(headerJSON) > maxHeaderSize {
		return ErrHeaderTooLarge
	}

	// Pad the header so the data area is 64-byte aligned.
	prefix := len(MagicBytes) + 4 + ChecksumSize + 8
	padding := 0
	if rem := (prefix + len(headerJSON)) % DataAlignment; rem != 0 {
		padding = DataAlignment - rem
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer f.Close()

	if _, err := f.Write([]byte(MagicBytes)); err != nil {
		return errors.Wrap(err, "write magic")
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(FormatVersion)); err != nil {
		return errors.Wrap(err, "write version")
	}
	if _, err := f.Write(checksum[:]); err != nil {
		return errors.Wrap(err, "write checksum")
	}
	if err := binary.Write(f, binary.LittleEndian, uint64(len(headerJSON)+padding)); err != nil {
		return errors.Wrap(err, "write header size")
	}
	if _, err := f.Write(headerJSON); err != nil {
		return errors.Wrap(err, "write header")
	}
	if padding > 0 {
		if _, err := f.Write(make([]byte, padding)); err != nil {
			return errors.Wrap(err, "write padding")
		}
	}
	if _, err := f.Write(data); err != nil {
		return errors.Wrap(err, "write data")
	}
	return errors.Wrap(f.Sync(), "sync")
}

func totalBytes(sections []Section) int {
	n := 0
	for _, s := range sections {
		n += len(s.Data) * bytesPerElement
	}
	return n
}
