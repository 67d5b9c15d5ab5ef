package serialization

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"

	"github.com/gradnet-ml/gradnet/internal/tensor"
)

// Read loads a .grnt file, validates magic, version and checksum, and
// decodes every section.
func Read(path string) (Header, []Section, error) {
	var header Header

	f, err := os.Open(path)
	if err != nil {
		return header, nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	magic := make([]byte, len(MagicBytes))
	if _, err := io.ReadFull(f, magic); err != nil {
		return header, nil, errors.Wrap(err, "read magic")
	}
	if string(magic) != MagicBytes {
		return header, nil, errors.Wrapf(ErrInvalidMagic, "got %q", magic)
	}

	var version uint32
	if err := binary.Read(f, binary.LittleEndian, &version); err != nil {
		return header, nil, errors.Wrap(err, "read version")
	}
	if version != FormatVersion {
		return header, nil, errors.Wrapf(ErrUnsupportedVersion, "version %d", version)
	}

	var checksum [ChecksumSize]byte
	if _, err := io.ReadFull(f, checksum[:]); err != nil {
		return header, nil, errors.Wrap(err, "read checksum")
	}

	var headerSize uint64
	if err := binary.Read(f, binary.LittleEndian, &headerSize); err != nil {
		return header, nil, errors.Wrap(err, "read header size")
	}
	if headerSize > maxHeaderSize {
		return header, nil, ErrHeaderTooLarge
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(f, headerBytes); err != nil {
		return header, nil, errors.Wrap(err, "read header")
	}
	// Padding past the JSON document is zero bytes; trim before decoding.
	if err := json.Unmarshal(trimPadding(headerBytes), &header); err != nil {
		return header, nil, errors.Wrap(err, "decode header")
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return header, nil, errors.Wrap(err, "read data")
	}
	if sha256.Sum256(data) != checksum {
		return header, nil, ErrChecksumMismatch
	}

	sections := make([]Section, len(header.Sections))
	for i, meta := range header.Sections {
		if meta.Offset < 0 || meta.Size < 0 || meta.Offset+meta.Size > int64(len(data)) {
			return header, nil, errors.Wrapf(ErrSectionCorrupt, "section %q out of bounds", meta.Name)
		}
		n := int(meta.Size / bytesPerElement)
		shape := tensor.Shape(meta.Shape)
		if shape.NumElements() != n {
			return header, nil, errors.Wrapf(ErrSectionCorrupt, "section %q: shape %s vs %d values", meta.Name, shape, n)
		}
		values := make([]float64, n)
		payload := data[meta.Offset : meta.Offset+meta.Size]
		for j := range values {
			values[j] = math.Float64frombits(binary.LittleEndian.Uint64(payload[j*bytesPerElement:]))
		}
		sections[i] = Section{Name: meta.Name, Shape: shape.Clone(), Data: values}
	}
	return header, sections, nil
}

// SectionByName finds a section, or ErrSectionMissing.
func SectionByName(sections []Section, name string) (Section, error) {
	for _, s := range sections {
		if s.Name == name {
			return s, nil
		}
	}
	return Section{}, errors.Wrap(ErrSectionMissing, name)
}

func trimPadding(b []byte) []byte {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return b[:end]
}
