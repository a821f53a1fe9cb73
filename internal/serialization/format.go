package serialization

import "time"

// Format constants.
const (
	MagicBytes      = "YOLO"
	FormatVersion   = 1
	HeaderAlignment = 64   // Tensor data starts on a 64-byte boundary
	FixedHeaderSize = 64   // Fixed header size (0x40 bytes)
	ChecksumSize    = 32   // SHA-256 checksum size (32 bytes)
	ChecksumOffset  = 0x20 // Checksum offset in the fixed header
	DTypeFloat32    = "float32"
)

// Flags for the checkpoint format.
const (
	FlagHasMetadata uint32 = 1 << 0 // custom metadata included
	FlagHasGraphID  uint32 = 1 << 1 // header carries the source graph id
)

// Header represents the JSON header of a checkpoint.
type Header struct {
	FormatVersion int               `json:"format_version"`
	Variant       string            `json:"variant"`            // Model variant (e.g., "yolov4")
	GraphID       string            `json:"graph_id,omitempty"` // Identity of the graph that was saved
	CreatedAt     time.Time         `json:"created_at"`
	Tensors       []TensorMeta      `json:"tensors"`
	Metadata      map[string]string `json:"metadata"`
}

// TensorMeta describes a tensor in the checkpoint.
type TensorMeta struct {
	Name   string `json:"name"`   // Parameter name (e.g., "neck/DarkConv_0.kernel")
	Role   string `json:"role"`   // Parameter role (e.g., "kernel", "norm_mean")
	DType  string `json:"dtype"`  // Always "float32"
	Shape  []int  `json:"shape"`  // Tensor shape
	Offset int64  `json:"offset"` // Offset in the data section
	Size   int64  `json:"size"`   // Size in bytes
}

// padding returns the bytes needed to align pos.
func padding(pos int64) int64 {
	return (HeaderAlignment - (pos % HeaderAlignment)) % HeaderAlignment
}
