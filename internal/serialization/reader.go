package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/born-ml/yolo/internal/graph"
	"github.com/born-ml/yolo/internal/tensor"
)

// ReaderOptions configures checkpoint reading.
type ReaderOptions struct {
	SkipChecksumValidation bool            // Skip checksum validation (faster but less safe)
	ValidationLevel        ValidationLevel // Validation strictness level
}

// Checkpoint is a decoded checkpoint.
type Checkpoint struct {
	header  Header
	flags   uint32
	tensors map[string]*tensor.RawTensor
}

// Load reads a checkpoint file.
func Load(path string, opts ReaderOptions) (*Checkpoint, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		_ = file.Close() // Ignore close error on read-only file.
	}()
	ckpt, err := Read(file, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ckpt, nil
}

// Read decodes a checkpoint stream.
func Read(r io.Reader, opts ReaderOptions) (*Checkpoint, error) {
	fixed := make([]byte, FixedHeaderSize)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return nil, fmt.Errorf("failed to read fixed header: %w", err)
	}
	if string(fixed[0:4]) != MagicBytes {
		return nil, ErrInvalidMagic
	}
	if v := binary.LittleEndian.Uint32(fixed[4:8]); v != FormatVersion {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrUnsupportedVersion, v, FormatVersion)
	}
	flags := binary.LittleEndian.Uint32(fixed[8:12])
	headerSize := binary.LittleEndian.Uint64(fixed[16:24])
	dataSize := binary.LittleEndian.Uint64(fixed[24:32])
	var stored [32]byte
	copy(stored[:], fixed[ChecksumOffset:ChecksumOffset+ChecksumSize])

	if headerSize > MaxHeaderSize {
		return nil, ErrHeaderTooLarge
	}
	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, fmt.Errorf("failed to read header JSON: %w", err)
	}
	var header Header
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	//nolint:gosec // G115: headerSize is bounded by MaxHeaderSize
	pad := padding(int64(FixedHeaderSize) + int64(headerSize))
	if _, err := io.CopyN(io.Discard, r, pad); err != nil {
		return nil, fmt.Errorf("failed to skip padding: %w", err)
	}
	if err := ValidateHeader(&header, int64(dataSize), opts.ValidationLevel); err != nil { //nolint:gosec // G115
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	data := make([]byte, dataSize)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("failed to read tensor data: %w", err)
	}
	if !opts.SkipChecksumValidation {
		if err := ValidateChecksum(ComputeChecksum(data), stored); err != nil {
			return nil, err
		}
	}

	ckpt := &Checkpoint{header: header, flags: flags, tensors: make(map[string]*tensor.RawTensor, len(header.Tensors))}
	for _, meta := range header.Tensors {
		if meta.DType != DTypeFloat32 {
			return nil, &ValidationError{Type: "dtype", Tensor: meta.Name, Details: fmt.Sprintf("unsupported dtype %q", meta.DType)}
		}
		if meta.Offset < 0 || meta.Size < 0 || meta.Size%4 != 0 || meta.Offset+meta.Size > int64(len(data)) {
			return nil, &ValidationError{Type: "out_of_bounds", Tensor: meta.Name, Details: "outside data section", Err: ErrOutOfBounds}
		}
		raw := data[meta.Offset : meta.Offset+meta.Size]
		values := make([]float32, len(raw)/4)
		for i := range values {
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		}
		t, err := tensor.FromSlice(values, tensor.Shape(meta.Shape))
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", meta.Name, err)
		}
		ckpt.tensors[meta.Name] = t
	}
	return ckpt, nil
}

// Header returns the checkpoint header.
func (c *Checkpoint) Header() Header {
	return c.header
}

// Flags returns the fixed header flags.
func (c *Checkpoint) Flags() uint32 {
	return c.flags
}

// TensorNames returns the tensor names in file order.
func (c *Checkpoint) TensorNames() []string {
	names := make([]string, len(c.header.Tensors))
	for i, meta := range c.header.Tensors {
		names[i] = meta.Name
	}
	return names
}

// Tensor returns the named tensor.
func (c *Checkpoint) Tensor(name string) (*tensor.RawTensor, bool) {
	t, ok := c.tensors[name]
	return t, ok
}

// Apply copies the checkpoint tensors into params by name. Every
// parameter must be present with an equal shape; nothing is written
// otherwise. It returns the number of parameters written.
func (c *Checkpoint) Apply(params []*graph.Parameter) (int, error) {
	for _, p := range params {
		t, ok := c.tensors[p.Name()]
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrMissingTensor, p.Name())
		}
		if !t.Shape().Equal(p.Shape()) {
			return 0, &ValidationError{
				Type:    "shape_mismatch",
				Tensor:  p.Name(),
				Details: fmt.Sprintf("checkpoint %v, parameter %v", t.Shape(), p.Shape()),
			}
		}
	}
	for _, p := range params {
		if err := p.Set(c.tensors[p.Name()]); err != nil {
			return 0, err
		}
	}
	return len(params), nil
}
