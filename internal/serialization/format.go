// Package serialization implements the .grnt container: a binary file
// holding named float64 sections plus a JSON header.
//
// Two artifact kinds share the container. A model file carries the
// architecture descriptor in its header and one parameter section per
// trainable node; a checkpoint file carries the flat parameter vector,
// the optimizer's moment estimates, and the training position.
//
//	Format structure:
//	  [4 bytes: magic "GRNT"]
//	  [4 bytes: format version (uint32 LE)]
//	  [32 bytes: SHA-256 of the data section]
//	  [8 bytes: header size (uint64 LE)]
//	  [header: JSON metadata]
//	  [padding to 64-byte alignment]
//	  [data: float64 LE section payloads]
package serialization

import (
	"encoding/json"
	"time"
)

// Format constants.
const (
	MagicBytes      = "GRNT"
	FormatVersion   = 1
	DataAlignment   = 64 // section data starts 64-byte aligned
	ChecksumSize    = 32 // SHA-256
	maxHeaderSize   = 16 << 20
	bytesPerElement = 8 // float64
)

// Artifact kinds stored in the header.
const (
	KindModel      = "model"
	KindCheckpoint = "checkpoint"
)

// Header is the JSON metadata of a .grnt file.
type Header struct {
	FormatVersion int             `json:"format_version"`
	Kind          string          `json:"kind"`
	CreatedAt     time.Time       `json:"created_at"`
	Arch          json.RawMessage `json:"arch,omitempty"` // architecture descriptor, model files only
	Sections      []SectionMeta   `json:"sections"`
	Checkpoint    *CheckpointMeta `json:"checkpoint,omitempty"`
}

// SectionMeta locates one named section inside the data area.
type SectionMeta struct {
	Name   string `json:"name"`
	Shape  []int  `json:"shape"`
	Offset int64  `json:"offset"` // bytes from the start of the data area
	Size   int64  `json:"size"`   // bytes
}

// CheckpointMeta records the training position a checkpoint was taken
// at, so a resumed run continues where it stopped.
type CheckpointMeta struct {
	Epoch int     `json:"epoch"`
	Step  int     `json:"step"`
	Loss  float64 `json:"loss"`
}
