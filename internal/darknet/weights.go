package darknet

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"github.com/born-ml/yolo/internal/graph"
	"github.com/born-ml/yolo/internal/tensor"
)

// Header is the weights file preamble.
type Header struct {
	Major    int32
	Minor    int32
	Revision int32
	Seen     uint64 // Images seen during training
}

// DefaultHeader is written by the encoder: version 0.2.0, 64-bit seen.
var DefaultHeader = Header{Major: 0, Minor: 2, Revision: 0}

// wideSeen reports whether the seen counter is stored on 64 bits.
func (h Header) wideSeen() bool {
	return h.Major*10+h.Minor >= 2 && h.Major < 1000 && h.Minor < 1000
}

// Size returns the preamble length in bytes.
func (h Header) Size() int64 {
	if h.wideSeen() {
		return 20
	}
	return 16
}

// Block is one parameter tensor of one convolution, in stored layout:
// vectors are [filters], kernels are [filters, in, size, size].
type Block struct {
	Layer int // Darknet layer index, [net] excluded
	Role  graph.Role
	Shape tensor.Shape
	Data  []float32
}

// Section is one cfg section with the blocks decoded for it. Sections
// without weights carry no blocks.
type Section struct {
	Index  int // Position in the cfg, [net] is 0
	Type   string
	Conv   *ConvMeta
	Blocks []Block
}

// Weights is a decoded weights file.
type Weights struct {
	Header   Header
	Sections []Section
}

// Blocks returns all blocks in stream order.
func (w *Weights) Blocks() []Block {
	return Flatten(w.Sections)
}

// Flatten concatenates the blocks of sections in order.
func Flatten(sections []Section) []Block {
	var out []Block
	for _, s := range sections {
		out = append(out, s.Blocks...)
	}
	return out
}

// TrailingPolicy selects what happens to bytes left after the last
// expected value.
type TrailingPolicy int

const (
	// TrailingError fails the decode (default).
	TrailingError TrailingPolicy = iota
	// TrailingWarn logs the byte count and succeeds.
	TrailingWarn
	// TrailingIgnore succeeds silently.
	TrailingIgnore
)

// String returns the policy name.
func (p TrailingPolicy) String() string {
	switch p {
	case TrailingError:
		return "error"
	case TrailingWarn:
		return "warn"
	case TrailingIgnore:
		return "ignore"
	default:
		return fmt.Sprintf("trailing(%d)", int(p))
	}
}

// ParseTrailingPolicy parses "error", "warn" or "ignore".
func ParseTrailingPolicy(s string) (TrailingPolicy, error) {
	switch s {
	case "", "error":
		return TrailingError, nil
	case "warn":
		return TrailingWarn, nil
	case "ignore":
		return TrailingIgnore, nil
	default:
		return 0, fmt.Errorf("unknown trailing data policy %q", s)
	}
}

// Options configures decoding.
type Options struct {
	Trailing TrailingPolicy
	Logger   *slog.Logger // nil means slog.Default()
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// StreamError locates a decode failure in the weights stream.
type StreamError struct {
	Offset    int64 // Byte offset where the failing read started
	Section   int   // Cfg section index, -1 for the preamble and trailing data
	Role      string
	Expected  int64 // Bytes needed
	Available int64 // Bytes present
	Err       error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	switch {
	case e.Err == ErrTrailingData:
		return fmt.Sprintf("%v: %d bytes at offset %d", e.Err, e.Available, e.Offset)
	case e.Section < 0:
		return fmt.Sprintf("%v: preamble at offset %d: need %d bytes, have %d",
			e.Err, e.Offset, e.Expected, e.Available)
	}
	return fmt.Sprintf("%v: section %d %s at offset %d: need %d bytes, have %d",
		e.Err, e.Section, e.Role, e.Offset, e.Expected, e.Available)
}

// Unwrap returns the sentinel error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// Read decodes a cfg file and its weights file.
//
//nolint:gosec // G304: paths come from the caller.
func Read(cfgPath, weightsPath string, opts Options) (*Weights, error) {
	cf, err := os.Open(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("open cfg: %w", err)
	}
	defer func() {
		_ = cf.Close() // Ignore close error on read-only file.
	}()

	wf, err := os.Open(weightsPath)
	if err != nil {
		return nil, fmt.Errorf("open weights: %w", err)
	}
	defer func() {
		_ = wf.Close() // Ignore close error on read-only file.
	}()

	w, err := Decode(cf, wf, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", weightsPath, err)
	}
	return w, nil
}

// Decode reads the preamble and then, for every convolutional section in
// cfg order, its blocks in canonical order: [bias, kernel] without batch
// normalization, [norm bias, norm scale, norm mean, norm variance, kernel]
// with it.
func Decode(cfg, weights io.Reader, opts Options) (*Weights, error) {
	parsed, err := ParseCfg(cfg)
	if err != nil {
		return nil, err
	}
	return DecodeCfg(parsed, weights, opts)
}

// DecodeCfg is Decode with an already parsed cfg.
func DecodeCfg(cfg *Cfg, weights io.Reader, opts Options) (*Weights, error) {
	layout, err := cfg.Layout()
	if err != nil {
		return nil, err
	}
	logger := opts.logger()

	d := &decoder{r: bufio.NewReader(weights)}
	header, err := d.header()
	if err != nil {
		return nil, err
	}
	logger.Debug("weights preamble",
		"major", header.Major, "minor", header.Minor, "revision", header.Revision, "seen", header.Seen)

	out := &Weights{Header: header, Sections: make([]Section, len(layout))}
	values := 0
	for i, info := range layout {
		sec := Section{Index: info.Index, Type: info.Type, Conv: info.Conv}
		if info.Conv != nil {
			if sec.Blocks, err = d.conv(info); err != nil {
				return nil, err
			}
			for _, b := range sec.Blocks {
				values += len(b.Data)
			}
			logger.Debug("decoded convolution",
				"section", info.Index,
				"filters", info.Conv.Filters,
				"size", info.Conv.Size,
				"in", info.Conv.InChannels,
				"batch_normalize", info.Conv.BatchNorm)
		}
		out.Sections[i] = sec
	}

	if err := d.trailing(opts, logger); err != nil {
		return nil, err
	}
	logger.Info("decoded darknet weights",
		"sections", len(out.Sections),
		"values", values,
		"bytes", d.offset)
	return out, nil
}

type decoder struct {
	r      *bufio.Reader
	offset int64
}

// read fills buf or reports how many bytes were available.
func (d *decoder) read(buf []byte) (int, error) {
	n, err := io.ReadFull(d.r, buf)
	d.offset += int64(n)
	return n, err
}

func (d *decoder) header() (Header, error) {
	var h Header
	buf := make([]byte, 12)
	if n, err := d.read(buf); err != nil {
		return h, d.short(err, 0, -1, "preamble", 16, int64(n))
	}
	h.Major = int32(binary.LittleEndian.Uint32(buf[0:]))
	h.Minor = int32(binary.LittleEndian.Uint32(buf[4:]))
	h.Revision = int32(binary.LittleEndian.Uint32(buf[8:]))

	seenSize := 4
	if h.wideSeen() {
		seenSize = 8
	}
	seen := make([]byte, seenSize)
	if n, err := d.read(seen); err != nil {
		return h, d.short(err, 12, -1, "preamble", h.Size(), int64(12+n))
	}
	if seenSize == 8 {
		h.Seen = binary.LittleEndian.Uint64(seen)
	} else {
		h.Seen = uint64(binary.LittleEndian.Uint32(seen))
	}
	return h, nil
}

func (d *decoder) conv(info SectionInfo) ([]Block, error) {
	m := info.Conv
	layer := info.Index - 1
	vec := tensor.Shape{m.Filters}
	var plan []Block
	if m.BatchNorm {
		plan = []Block{
			{Layer: layer, Role: graph.RoleNormBias, Shape: vec},
			{Layer: layer, Role: graph.RoleNormScale, Shape: vec},
			{Layer: layer, Role: graph.RoleNormMean, Shape: vec},
			{Layer: layer, Role: graph.RoleNormVariance, Shape: vec},
		}
	} else {
		plan = []Block{{Layer: layer, Role: graph.RoleBias, Shape: vec}}
	}
	plan = append(plan, Block{Layer: layer, Role: graph.RoleKernel, Shape: tensor.Shape(m.KernelShape())})

	for i := range plan {
		data, err := d.floats(plan[i].Shape.NumElements(), info.Index, plan[i].Role.String())
		if err != nil {
			return nil, err
		}
		plan[i].Data = data
	}
	return plan, nil
}

// chunkValues bounds each read so allocation follows the bytes actually
// present rather than the count the cfg declares.
const chunkValues = 1 << 16

func (d *decoder) floats(n, section int, role string) ([]float32, error) {
	start := d.offset
	out := make([]float32, 0, min(n, chunkValues))
	buf := make([]byte, 4*min(n, chunkValues))
	for len(out) < n {
		k := min(n-len(out), chunkValues)
		chunk := buf[:4*k]
		if _, err := d.read(chunk); err != nil {
			return nil, d.short(err, start, section, role, 4*int64(n), d.offset-start)
		}
		for i := 0; i < k; i++ {
			out = append(out, math.Float32frombits(binary.LittleEndian.Uint32(chunk[4*i:])))
		}
	}
	return out, nil
}

func (d *decoder) short(err error, offset int64, section int, role string, expected, available int64) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = ErrTruncatedStream
	}
	return &StreamError{
		Offset:    offset,
		Section:   section,
		Role:      role,
		Expected:  expected,
		Available: available,
		Err:       err,
	}
}

func (d *decoder) trailing(opts Options, logger *slog.Logger) error {
	offset := d.offset
	extra, err := io.Copy(io.Discard, d.r)
	if err != nil {
		return fmt.Errorf("read trailing data: %w", err)
	}
	if extra == 0 {
		return nil
	}
	switch opts.Trailing {
	case TrailingWarn:
		logger.Warn("trailing data after weight stream", "offset", offset, "bytes", extra)
		return nil
	case TrailingIgnore:
		return nil
	default:
		return &StreamError{Offset: offset, Section: -1, Available: extra, Err: ErrTrailingData}
	}
}
