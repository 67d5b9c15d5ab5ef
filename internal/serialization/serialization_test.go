package serialization

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradnet-ml/gradnet/internal/tensor"
)

func writeTestFile(t *testing.T, sections []Section) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.grnt")
	require.NoError(t, Write(path, Header{Kind: KindModel}, sections))
	return path
}

func TestWriteRead_RoundTrip(t *testing.T) {
	sections := []Section{
		{Name: "node.1", Shape: tensor.Shape{2, 3}, Data: []float64{1, 2, 3, 4, 5, 6}},
		{Name: "node.2", Shape: tensor.Shape{3}, Data: []float64{-0.5, 0, 1e300}},
	}
	path := writeTestFile(t, sections)

	header, got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, FormatVersion, header.FormatVersion)
	assert.Equal(t, KindModel, header.Kind)
	assert.False(t, header.CreatedAt.IsZero())

	require.Len(t, got, 2)
	for i, s := range sections {
		assert.Equal(t, s.Name, got[i].Name)
		assert.True(t, got[i].Shape.Equal(s.Shape))
		assert.Equal(t, s.Data, got[i].Data)
	}
}

func TestWrite_DataAligned(t *testing.T) {
	path := writeTestFile(t, []Section{
		{Name: "p", Shape: tensor.Shape{1}, Data: []float64{42}},
	})
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	headerSize := binary.LittleEndian.Uint64(raw[len(MagicBytes)+4+ChecksumSize:])
	dataStart := len(MagicBytes) + 4 + ChecksumSize + 8 + int(headerSize)
	assert.Zero(t, dataStart%DataAlignment, "data area must start 64-byte aligned")
}

func TestWrite_ShapeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.grnt")
	err := Write(path, Header{Kind: KindModel}, []Section{
		{Name: "p", Shape: tensor.Shape{4}, Data: []float64{1, 2}},
	})
	assert.True(t, errors.Is(err, ErrSectionCorrupt))
}

func TestRead_InvalidMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.grnt")
	require.NoError(t, os.WriteFile(path, []byte("NOPE0000000000000000000000000000000000000000000000"), 0o644))

	_, _, err := Read(path)
	assert.True(t, errors.Is(err, ErrInvalidMagic))
}

func TestRead_UnsupportedVersion(t *testing.T) {
	path := writeTestFile(t, []Section{
		{Name: "p", Shape: tensor.Shape{1}, Data: []float64{1}},
	})
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(raw[len(MagicBytes):], 99)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, _, err = Read(path)
	assert.True(t, errors.Is(err, ErrUnsupportedVersion))
}

func TestRead_ChecksumMismatch(t *testing.T) {
	path := writeTestFile(t, []Section{
		{Name: "p", Shape: tensor.Shape{2}, Data: []float64{1, 2}},
	})
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF // corrupt the data area
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, _, err = Read(path)
	assert.True(t, errors.Is(err, ErrChecksumMismatch))
}

func TestSectionByName(t *testing.T) {
	sections := []Section{
		{Name: "params", Shape: tensor.Shape{1}, Data: []float64{1}},
		{Name: "adam.m", Shape: tensor.Shape{1}, Data: []float64{2}},
	}
	s, err := SectionByName(sections, "adam.m")
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, s.Data)

	_, err = SectionByName(sections, "adam.v")
	assert.True(t, errors.Is(err, ErrSectionMissing))
}

func TestHeader_CheckpointMetaRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ckpt.grnt")
	header := Header{
		Kind:       KindCheckpoint,
		Checkpoint: &CheckpointMeta{Epoch: 3, Step: 1400, Loss: 0.125},
	}
	require.NoError(t, Write(path, header, []Section{
		{Name: "params", Shape: tensor.Shape{2}, Data: []float64{0.5, -0.5}},
	}))

	got, _, err := Read(path)
	require.NoError(t, err)
	require.NotNil(t, got.Checkpoint)
	assert.Equal(t, 3, got.Checkpoint.Epoch)
	assert.Equal(t, 1400, got.Checkpoint.Step)
	assert.Equal(t, 0.125, got.Checkpoint.Loss)
}
