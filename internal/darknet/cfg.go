// Package darknet reads and writes the legacy darknet model files: the
// INI-like .cfg network description and the flat .weights stream.
package darknet

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Common errors.
var (
	ErrMalformedCfg       = errors.New("malformed darknet cfg")
	ErrUnsupportedSection = errors.New("unsupported darknet section")
	ErrTruncatedStream    = errors.New("truncated weight stream")
	ErrTrailingData       = errors.New("trailing data after weight stream")
)

// Section types understood by the decoder.
const (
	SectionNet           = "net"
	SectionConvolutional = "convolutional"
	SectionRoute         = "route"
	SectionShortcut      = "shortcut"
	SectionMaxPool       = "maxpool"
	SectionUpsample      = "upsample"
	SectionYolo          = "yolo"
)

// MaxBlockElements caps the values of a single stored tensor (1 GiB of
// float32). The largest YOLOv4 kernel holds about 4.7M.
const MaxBlockElements = 1 << 28

// passthrough sections carry no weights and keep the channel count.
var passthrough = map[string]bool{
	SectionShortcut: true,
	SectionMaxPool:  true,
	SectionUpsample: true,
	SectionYolo:     true,
	"avgpool":       true,
	"dropout":       true,
	"softmax":       true,
	"cost":          true,
}

// Option is one key=value line.
type Option struct {
	Key   string
	Value string
}

// CfgSection is one [type] block of a cfg file.
type CfgSection struct {
	Type    string
	Line    int // 1-based line of the header, 0 for generated sections
	Options []Option
}

// NewSection creates a section with the given options.
func NewSection(typ string, opts ...Option) *CfgSection {
	return &CfgSection{Type: typ, Options: opts}
}

// Get returns the last value set for key.
func (s *CfgSection) Get(key string) (string, bool) {
	for i := len(s.Options) - 1; i >= 0; i-- {
		if s.Options[i].Key == key {
			return s.Options[i].Value, true
		}
	}
	return "", false
}

// Set appends or replaces key.
func (s *CfgSection) Set(key, value string) {
	for i := range s.Options {
		if s.Options[i].Key == key {
			s.Options[i].Value = value
			return
		}
	}
	s.Options = append(s.Options, Option{Key: key, Value: value})
}

// Int returns key as an integer, or def when absent.
func (s *CfgSection) Int(key string, def int) (int, error) {
	v, ok := s.Get(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%w: line %d: [%s] %s=%q: %v", ErrMalformedCfg, s.Line, s.Type, key, v, err)
	}
	return n, nil
}

// Ints returns key as a comma separated list of integers.
func (s *CfgSection) Ints(key string) ([]int, error) {
	v, ok := s.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: line %d: [%s] missing %s", ErrMalformedCfg, s.Line, s.Type, key)
	}
	var out []int
	for _, f := range strings.Split(v, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: [%s] %s=%q: %v", ErrMalformedCfg, s.Line, s.Type, key, v, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// Cfg is a parsed cfg file. Sections[0] is [net].
type Cfg struct {
	Sections []*CfgSection
}

// ParseCfg reads a cfg file. Blank lines and lines starting with '#' or
// ';' are skipped.
func ParseCfg(r io.Reader) (*Cfg, error) {
	cfg := &Cfg{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	var cur *CfgSection
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' || line[0] == ';' {
			continue
		}
		if line[0] == '[' {
			if !strings.HasSuffix(line, "]") {
				return nil, fmt.Errorf("%w: line %d: unterminated section header %q", ErrMalformedCfg, lineNo, line)
			}
			cur = &CfgSection{Type: strings.TrimSpace(line[1 : len(line)-1]), Line: lineNo}
			cfg.Sections = append(cfg.Sections, cur)
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%w: line %d: expected key=value, got %q", ErrMalformedCfg, lineNo, line)
		}
		if cur == nil {
			return nil, fmt.Errorf("%w: line %d: option outside a section", ErrMalformedCfg, lineNo)
		}
		cur.Options = append(cur.Options, Option{Key: strings.TrimSpace(key), Value: strings.TrimSpace(value)})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read cfg: %w", err)
	}
	if len(cfg.Sections) == 0 || (cfg.Sections[0].Type != SectionNet && cfg.Sections[0].Type != "network") {
		return nil, fmt.Errorf("%w: first section must be [net]", ErrMalformedCfg)
	}
	return cfg, nil
}

// WriteTo writes the cfg in darknet syntax.
func (c *Cfg) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64
	for i, s := range c.Sections {
		if i > 0 {
			m, _ := bw.WriteString("\n")
			n += int64(m)
		}
		m, _ := fmt.Fprintf(bw, "[%s]\n", s.Type)
		n += int64(m)
		for _, o := range s.Options {
			m, _ = fmt.Fprintf(bw, "%s=%s\n", o.Key, o.Value)
			n += int64(m)
		}
	}
	return n, bw.Flush()
}

// ConvMeta describes the weights of one convolutional section.
type ConvMeta struct {
	Filters    int
	Size       int
	Stride     int
	InChannels int
	BatchNorm  bool
	Activation string
}

// KernelShape returns the stored kernel shape [filters, in, size, size].
func (m ConvMeta) KernelShape() []int {
	return []int{m.Filters, m.InChannels, m.Size, m.Size}
}

// SectionInfo is the resolved layout of one section.
type SectionInfo struct {
	Index    int // Position in the cfg, [net] is 0
	Type     string
	Channels int       // Output channels
	Conv     *ConvMeta // Set for convolutional sections
}

// Layout resolves every section's output channels and the weight layout of
// each convolution. Input channels are inferred from the producing
// section; an explicit channels= key on a convolution overrides them.
func (c *Cfg) Layout() ([]SectionInfo, error) {
	net := c.Sections[0]
	netChannels, err := net.Int("channels", 3)
	if err != nil {
		return nil, err
	}

	infos := make([]SectionInfo, len(c.Sections))
	infos[0] = SectionInfo{Index: 0, Type: net.Type, Channels: netChannels}

	// outs[k] is the output channel count of darknet layer k (section k+1).
	outs := make([]int, 0, len(c.Sections)-1)
	prev := func() int {
		if len(outs) == 0 {
			return netChannels
		}
		return outs[len(outs)-1]
	}

	for i, s := range c.Sections[1:] {
		layer := i
		info := SectionInfo{Index: i + 1, Type: s.Type}
		switch {
		case s.Type == SectionConvolutional:
			meta, err := convMeta(s, prev())
			if err != nil {
				return nil, err
			}
			info.Conv = meta
			info.Channels = meta.Filters
		case s.Type == SectionRoute:
			ch, err := routeChannels(s, layer, outs)
			if err != nil {
				return nil, err
			}
			info.Channels = ch
		case passthrough[s.Type]:
			info.Channels = prev()
		default:
			return nil, fmt.Errorf("%w: line %d: [%s]", ErrUnsupportedSection, s.Line, s.Type)
		}
		outs = append(outs, info.Channels)
		infos[i+1] = info
	}
	return infos, nil
}

func convMeta(s *CfgSection, inferred int) (*ConvMeta, error) {
	filters, err := s.Int("filters", 1)
	if err != nil {
		return nil, err
	}
	size, err := s.Int("size", 1)
	if err != nil {
		return nil, err
	}
	stride, err := s.Int("stride", 1)
	if err != nil {
		return nil, err
	}
	bn, err := s.Int("batch_normalize", 0)
	if err != nil {
		return nil, err
	}
	groups, err := s.Int("groups", 1)
	if err != nil {
		return nil, err
	}
	if groups != 1 {
		return nil, fmt.Errorf("%w: line %d: grouped convolution (groups=%d)", ErrUnsupportedSection, s.Line, groups)
	}
	in, err := s.Int("channels", inferred)
	if err != nil {
		return nil, err
	}
	if filters <= 0 || size <= 0 || in <= 0 {
		return nil, fmt.Errorf("%w: line %d: convolution filters=%d size=%d channels=%d",
			ErrMalformedCfg, s.Line, filters, size, in)
	}
	if elements, ok := kernelElements(filters, in, size, size); !ok || elements > MaxBlockElements {
		return nil, fmt.Errorf("%w: line %d: convolution kernel %dx%dx%dx%d exceeds %d values",
			ErrMalformedCfg, s.Line, filters, in, size, size, MaxBlockElements)
	}
	act, ok := s.Get("activation")
	if !ok {
		act = "logistic"
	}
	return &ConvMeta{
		Filters:    filters,
		Size:       size,
		Stride:     stride,
		InChannels: in,
		BatchNorm:  bn != 0,
		Activation: act,
	}, nil
}

// kernelElements multiplies the kernel dimensions, reporting false on
// int overflow.
func kernelElements(dims ...int) (int, bool) {
	n := 1
	for _, d := range dims {
		if d != 0 && n > math.MaxInt/d {
			return 0, false
		}
		n *= d
	}
	return n, true
}

// routeChannels sums the channels of the referenced layers. Negative
// references are relative to layer, others are absolute layer indices.
func routeChannels(s *CfgSection, layer int, outs []int) (int, error) {
	refs, err := s.Ints("layers")
	if err != nil {
		return 0, err
	}
	if len(refs) == 0 {
		return 0, fmt.Errorf("%w: line %d: [route] without layers", ErrMalformedCfg, s.Line)
	}
	groups, err := s.Int("groups", 1)
	if err != nil {
		return 0, err
	}
	if groups < 1 {
		return 0, fmt.Errorf("%w: line %d: [route] groups=%d", ErrMalformedCfg, s.Line, groups)
	}
	total := 0
	for _, ref := range refs {
		idx := ref
		if ref < 0 {
			idx = layer + ref
		}
		if idx < 0 || idx >= layer {
			return 0, fmt.Errorf("%w: line %d: [route] layer %d out of range [0, %d)", ErrMalformedCfg, s.Line, ref, layer)
		}
		total += outs[idx]
	}
	return total / groups, nil
}
