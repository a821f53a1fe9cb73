package serialization

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/born-ml/yolo/internal/graph"
)

// Write writes params, in order, as a checkpoint. Tensors, FormatVersion
// and a zero CreatedAt in header are filled in.
func Write(w io.Writer, params []*graph.Parameter, header Header) error {
	header.FormatVersion = FormatVersion
	if header.CreatedAt.IsZero() {
		header.CreatedAt = time.Now().UTC()
	}
	if header.Metadata == nil {
		header.Metadata = make(map[string]string)
	}

	// Calculate tensor offsets and collect tensor data
	header.Tensors = make([]TensorMeta, 0, len(params))
	var data []byte
	for _, p := range params {
		t := p.Tensor()
		size := int64(t.ByteSize())
		header.Tensors = append(header.Tensors, TensorMeta{
			Name:   p.Name(),
			Role:   p.Role().String(),
			DType:  DTypeFloat32,
			Shape:  []int(t.Shape().Clone()),
			Offset: int64(len(data)),
			Size:   size,
		})
		for _, v := range t.Data() {
			data = binary.LittleEndian.AppendUint32(data, math.Float32bits(v))
		}
	}
	checksum := ComputeChecksum(data)

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	flags := uint32(0)
	if len(header.Metadata) > 0 {
		flags |= FlagHasMetadata
	}
	if header.GraphID != "" {
		flags |= FlagHasGraphID
	}

	// Fixed header (64 bytes)
	fixed := make([]byte, FixedHeaderSize)
	copy(fixed[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(fixed[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(fixed[8:12], flags)
	binary.LittleEndian.PutUint64(fixed[16:24], uint64(len(headerJSON)))
	binary.LittleEndian.PutUint64(fixed[24:32], uint64(len(data)))
	copy(fixed[ChecksumOffset:ChecksumOffset+ChecksumSize], checksum[:])

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(fixed); err != nil {
		return fmt.Errorf("failed to write fixed header: %w", err)
	}
	if _, err := bw.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	pad := padding(int64(FixedHeaderSize + len(headerJSON)))
	if _, err := bw.Write(make([]byte, pad)); err != nil {
		return fmt.Errorf("failed to write padding: %w", err)
	}
	if _, err := bw.Write(data); err != nil {
		return fmt.Errorf("failed to write tensor data: %w", err)
	}
	return bw.Flush()
}

// Save writes a checkpoint file.
func Save(path string, params []*graph.Parameter, header Header) error {
	//nolint:gosec // G304: File path comes from user input, which is expected for model saving
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := Write(file, params, header); err != nil {
		_ = file.Close() // Best effort close on error
		return err
	}
	return file.Close()
}
