package darknet

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/born-ml/yolo/internal/backbone"
	"github.com/born-ml/yolo/internal/graph"
	"github.com/born-ml/yolo/internal/nn"
	"github.com/born-ml/yolo/internal/specs"
	"github.com/born-ml/yolo/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const smallCfg = `
# two convolutions and a route
[net]
width=8
height=8
channels=3

[convolutional]
batch_normalize=1
filters=4
size=3
stride=1
pad=1
activation=leaky

[convolutional]
filters=2
size=1
stride=1
pad=1
activation=linear

[route]
layers=-1,-2

[convolutional]
batch_normalize=1
filters=1
size=1
activation=mish
`

func quiet() Options {
	return Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// sequence returns n values counting up from start.
func sequence(start float32, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = start + float32(i)
	}
	return out
}

// blocksFor fills every convolution of cfgText with distinct values.
func blocksFor(t *testing.T, cfgText string) []Block {
	t.Helper()
	cfg, err := ParseCfg(strings.NewReader(cfgText))
	require.NoError(t, err)
	layout, err := cfg.Layout()
	require.NoError(t, err)

	var blocks []Block
	next := float32(0)
	for _, info := range layout {
		if info.Conv == nil {
			continue
		}
		m := info.Conv
		vec := tensor.Shape{m.Filters}
		roles := []graph.Role{graph.RoleBias}
		if m.BatchNorm {
			roles = []graph.Role{graph.RoleNormBias, graph.RoleNormScale, graph.RoleNormMean, graph.RoleNormVariance}
		}
		for _, r := range roles {
			blocks = append(blocks, Block{Layer: info.Index - 1, Role: r, Shape: vec, Data: sequence(next, m.Filters)})
			next += float32(m.Filters)
		}
		ks := tensor.Shape(m.KernelShape())
		blocks = append(blocks, Block{Layer: info.Index - 1, Role: graph.RoleKernel, Shape: ks, Data: sequence(next, ks.NumElements())})
		next += float32(ks.NumElements())
	}
	return blocks
}

func encode(t *testing.T, h Header, blocks []Block) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, h, blocks))
	return buf.Bytes()
}

func TestLayoutInfersChannels(t *testing.T) {
	cfg, err := ParseCfg(strings.NewReader(smallCfg))
	require.NoError(t, err)
	require.Len(t, cfg.Sections, 5)

	layout, err := cfg.Layout()
	require.NoError(t, err)
	assert.Equal(t, 3, layout[0].Channels)
	assert.Equal(t, ConvMeta{Filters: 4, Size: 3, Stride: 1, InChannels: 3, BatchNorm: true, Activation: "leaky"}, *layout[1].Conv)
	assert.Equal(t, 4, layout[2].Conv.InChannels)
	assert.False(t, layout[2].Conv.BatchNorm)
	assert.Equal(t, 6, layout[3].Channels)
	assert.Nil(t, layout[3].Conv)
	assert.Equal(t, 6, layout[4].Conv.InChannels)
	assert.Equal(t, []int{1, 6, 1, 1}, layout[4].Conv.KernelShape())
}

func TestLayoutChannelsOverride(t *testing.T) {
	text := strings.Replace(smallCfg, "filters=1\n", "filters=1\nchannels=7\n", 1)
	cfg, err := ParseCfg(strings.NewReader(text))
	require.NoError(t, err)
	layout, err := cfg.Layout()
	require.NoError(t, err)
	assert.Equal(t, 7, layout[4].Conv.InChannels)
}

func TestLayoutRouteGroups(t *testing.T) {
	text := `
[net]
channels=3
[convolutional]
filters=8
size=1
[route]
layers=-1
groups=2
group_id=1
[convolutional]
filters=2
size=3
[route]
layers=0
[maxpool]
size=2
stride=2
[upsample]
stride=2
[convolutional]
filters=1
size=1
`
	cfg, err := ParseCfg(strings.NewReader(text))
	require.NoError(t, err)
	layout, err := cfg.Layout()
	require.NoError(t, err)
	assert.Equal(t, 4, layout[2].Channels)
	assert.Equal(t, 4, layout[3].Conv.InChannels)
	assert.Equal(t, 8, layout[4].Channels, "absolute reference to layer 0")
	assert.Equal(t, 8, layout[7].Conv.InChannels)
	assert.Equal(t, "logistic", layout[7].Conv.Activation)
}

func TestLayoutUnsupported(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"connected", "[connected]\noutput=10\n", ErrUnsupportedSection},
		{"grouped convolution", "[convolutional]\nfilters=4\nsize=3\ngroups=2\n", ErrUnsupportedSection},
		{"route forward", "[route]\nlayers=3\n", ErrMalformedCfg},
		{"route without layers", "[route]\n", ErrMalformedCfg},
		{"bad integer", "[convolutional]\nfilters=four\n", ErrMalformedCfg},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseCfg(strings.NewReader("[net]\nchannels=3\n" + tt.body))
			require.NoError(t, err)
			_, err = cfg.Layout()
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseCfgMalformed(t *testing.T) {
	for _, text := range []string{
		"",
		"[convolutional]\nfilters=1\n",
		"filters=1\n[net]\n",
		"[net\n",
		"[net]\nwidth\n",
	} {
		_, err := ParseCfg(strings.NewReader(text))
		assert.ErrorIs(t, err, ErrMalformedCfg, "%q", text)
	}
}

func TestCfgWriteRoundTrip(t *testing.T) {
	cfg, err := ParseCfg(strings.NewReader(smallCfg))
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = cfg.WriteTo(&buf)
	require.NoError(t, err)
	again, err := ParseCfg(&buf)
	require.NoError(t, err)

	require.Len(t, again.Sections, len(cfg.Sections))
	for i := range cfg.Sections {
		assert.Equal(t, cfg.Sections[i].Type, again.Sections[i].Type)
		assert.Equal(t, cfg.Sections[i].Options, again.Sections[i].Options)
	}
}

func TestHeaderSeenWidth(t *testing.T) {
	tests := []struct {
		header Header
		size   int64
	}{
		{Header{Major: 0, Minor: 2, Revision: 0, Seen: 1 << 40}, 20},
		{Header{Major: 0, Minor: 1, Revision: 0, Seen: 12345}, 16},
		{Header{Major: 1, Minor: 0, Revision: 0, Seen: 7}, 20},
		{Header{Major: 1000, Minor: 0, Revision: 0, Seen: 9}, 16},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.size, tt.header.Size())

		blocks := blocksFor(t, smallCfg)
		data := encode(t, tt.header, blocks)
		w, err := Decode(strings.NewReader(smallCfg), bytes.NewReader(data), quiet())
		require.NoError(t, err)
		assert.Equal(t, tt.header, w.Header)
		assert.Equal(t, blocks, w.Blocks())
	}
}

func TestDecodeBlockOrder(t *testing.T) {
	data := encode(t, DefaultHeader, blocksFor(t, smallCfg))
	w, err := Decode(strings.NewReader(smallCfg), bytes.NewReader(data), quiet())
	require.NoError(t, err)

	require.Len(t, w.Sections, 5)
	assert.Empty(t, w.Sections[0].Blocks)
	assert.Empty(t, w.Sections[3].Blocks)

	var roles []graph.Role
	for _, b := range w.Sections[1].Blocks {
		roles = append(roles, b.Role)
		assert.Equal(t, 0, b.Layer)
	}
	assert.Equal(t, []graph.Role{
		graph.RoleNormBias, graph.RoleNormScale, graph.RoleNormMean, graph.RoleNormVariance, graph.RoleKernel,
	}, roles)

	conv2 := w.Sections[2].Blocks
	require.Len(t, conv2, 2)
	assert.Equal(t, graph.RoleBias, conv2[0].Role)
	assert.Equal(t, tensor.Shape{2, 4, 1, 1}, conv2[1].Shape)
	// conv1 carries 4*4 + 4*3*3*3 values, conv2 starts after them.
	assert.Equal(t, float32(124), conv2[0].Data[0])
}

func TestDecodeTruncated(t *testing.T) {
	text := "[net]\nchannels=3\n[convolutional]\nbatch_normalize=1\nfilters=2\nsize=1\n"
	data := encode(t, DefaultHeader, blocksFor(t, text))
	require.Len(t, data, 20+4*8+4*6)

	_, err := Decode(strings.NewReader(text), bytes.NewReader(data[:20+40]), quiet())
	require.ErrorIs(t, err, ErrTruncatedStream)
	var se *StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, int64(52), se.Offset)
	assert.Equal(t, 1, se.Section)
	assert.Equal(t, "kernel", se.Role)
	assert.Equal(t, int64(24), se.Expected)
	assert.Equal(t, int64(8), se.Available)

	_, err = Decode(strings.NewReader(text), bytes.NewReader(data[:14]), quiet())
	require.ErrorAs(t, err, &se)
	assert.Equal(t, -1, se.Section)
	assert.Equal(t, int64(12), se.Offset)
	assert.Equal(t, int64(14), se.Available)
}

func TestLayoutRejectsOversizedKernel(t *testing.T) {
	for _, body := range []string{
		"[convolutional]\nfilters=4611686018427387905\nsize=1\n",
		"[convolutional]\nfilters=100000000\nsize=3\nchannels=1024\n",
		"[convolutional]\nfilters=3\nsize=3037000500\n",
	} {
		cfg, err := ParseCfg(strings.NewReader("[net]\nchannels=3\n" + body))
		require.NoError(t, err)
		_, err = cfg.Layout()
		assert.ErrorIs(t, err, ErrMalformedCfg, "%q", body)
	}

	// A cfg that fails Layout never reaches the stream.
	text := "[net]\nchannels=3\n[convolutional]\nfilters=4611686018427387905\nsize=1\n"
	_, err := Decode(strings.NewReader(text), bytes.NewReader(make([]byte, 84)), quiet())
	require.ErrorIs(t, err, ErrMalformedCfg)
}

func TestDecodeLargeDeclaredShortStream(t *testing.T) {
	text := "[net]\nchannels=16\n[convolutional]\nfilters=1048576\nsize=3\n"
	data := append(encode(t, DefaultHeader, nil), make([]byte, 8)...)

	_, err := Decode(strings.NewReader(text), bytes.NewReader(data), quiet())
	require.ErrorIs(t, err, ErrTruncatedStream)
	var se *StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, se.Section)
	assert.Equal(t, "bias", se.Role)
	assert.Equal(t, int64(20), se.Offset)
	assert.Equal(t, int64(4*1048576), se.Expected)
	assert.Equal(t, int64(8), se.Available)
}

func TestDecodeSpansReadChunks(t *testing.T) {
	// 128*64*5*5 kernel values span several reads.
	text := "[net]\nchannels=64\n[convolutional]\nfilters=128\nsize=5\n"
	blocks := blocksFor(t, text)
	w, err := Decode(strings.NewReader(text), bytes.NewReader(encode(t, DefaultHeader, blocks)), quiet())
	require.NoError(t, err)
	got := w.Sections[1].Blocks
	require.Len(t, got, 2)
	assert.Equal(t, blocks[1].Data, got[1].Data)
}

func TestDecodeTrailingData(t *testing.T) {
	data := append(encode(t, DefaultHeader, blocksFor(t, smallCfg)), 1, 2, 3)

	_, err := Decode(strings.NewReader(smallCfg), bytes.NewReader(data), quiet())
	require.ErrorIs(t, err, ErrTrailingData)
	var se *StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, int64(len(data)-3), se.Offset)
	assert.Equal(t, int64(3), se.Available)

	var logs bytes.Buffer
	opts := Options{Trailing: TrailingWarn, Logger: slog.New(slog.NewTextHandler(&logs, nil))}
	w, err := Decode(strings.NewReader(smallCfg), bytes.NewReader(data), opts)
	require.NoError(t, err)
	assert.NotNil(t, w)
	assert.Contains(t, logs.String(), "trailing data")
	assert.Contains(t, logs.String(), "bytes=3")

	_, err = Decode(strings.NewReader(smallCfg), bytes.NewReader(data), Options{Trailing: TrailingIgnore})
	require.NoError(t, err)
}

func TestParseTrailingPolicy(t *testing.T) {
	for _, p := range []TrailingPolicy{TrailingError, TrailingWarn, TrailingIgnore} {
		got, err := ParseTrailingPolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := ParseTrailingPolicy("sometimes")
	assert.Error(t, err)
}

func TestReadFiles(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "small.cfg")
	weightsPath := filepath.Join(dir, "small.weights")
	require.NoError(t, os.WriteFile(cfgPath, []byte(smallCfg), 0o600))

	// Preamble written by hand: 0.1.0 with a 32-bit seen counter.
	var data []byte
	for _, v := range []uint32{0, 1, 0, 42} {
		data = binary.LittleEndian.AppendUint32(data, v)
	}
	blocks := blocksFor(t, smallCfg)
	for _, b := range blocks {
		for _, v := range b.Data {
			data = binary.LittleEndian.AppendUint32(data, math.Float32bits(v))
		}
	}
	require.NoError(t, os.WriteFile(weightsPath, data, 0o600))

	w, err := Read(cfgPath, weightsPath, quiet())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), w.Header.Seen)
	assert.Equal(t, blocks, w.Blocks())

	_, err = Read(filepath.Join(dir, "missing.cfg"), weightsPath, quiet())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteFiles(t *testing.T) {
	dir := t.TempDir()
	cfg, err := ParseCfg(strings.NewReader(smallCfg))
	require.NoError(t, err)
	blocks := blocksFor(t, smallCfg)

	cfgPath := filepath.Join(dir, "out.cfg")
	weightsPath := filepath.Join(dir, "out.weights")
	require.NoError(t, WriteFiles(cfgPath, weightsPath, cfg, DefaultHeader, blocks))

	w, err := Read(cfgPath, weightsPath, quiet())
	require.NoError(t, err)
	assert.Equal(t, blocks, w.Blocks())
}

func TestEncodeRejectsShapeMismatch(t *testing.T) {
	err := Encode(io.Discard, DefaultHeader, []Block{{Role: graph.RoleBias, Shape: tensor.Shape{3}, Data: []float32{1}}})
	assert.Error(t, err)
}

func TestFromGraphTinyBackbone(t *testing.T) {
	table, err := specs.Load("cspdarknettiny")
	require.NoError(t, err)
	b := backbone.New(backbone.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	g, _, err := b.Build(table, tensor.Shape{1, 416, 416, 3})
	require.NoError(t, err)

	exp, err := FromGraph(g, ExportOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int{28}, exp.Boundaries())
	assert.Len(t, exp.Cfg.Sections, 28)

	// The split route of the first csp_tiny block.
	split := exp.Cfg.Sections[4]
	assert.Equal(t, SectionRoute, split.Type)
	groups, _ := split.Get("groups")
	assert.Equal(t, "2", groups)

	layout, err := exp.Cfg.Layout()
	require.NoError(t, err)
	var convs []*ConvMeta
	for _, info := range layout {
		if info.Conv != nil {
			convs = append(convs, info.Conv)
		}
	}
	layers := g.Layers()
	require.Len(t, convs, len(layers))
	for i, l := range layers {
		conv := l.(*nn.DarkConv)
		assert.Equal(t, conv.InChannels(), convs[i].InChannels, l.Name())
		assert.Equal(t, conv.Filters(), convs[i].Filters, l.Name())
		assert.Equal(t, conv.KernelSize(), convs[i].Size, l.Name())
	}
}

func TestFromGraphSPP(t *testing.T) {
	g := graph.New("spp")
	x, err := g.AddInput(tensor.Shape{1, 13, 13, 4})
	require.NoError(t, err)
	spp, err := nn.NewRegistry().New("SPP", specs.StackNone, nn.BlockConfig{Name: "spp"})
	require.NoError(t, err)
	conv, err := nn.NewDarkConv(nn.BlockConfig{Name: "conv", Filters: 4, KernelSize: 1})
	require.NoError(t, err)
	y, err := conv.Apply(x)
	require.NoError(t, err)
	_, err = spp.Apply(y...)
	require.NoError(t, err)

	exp, err := FromGraph(g, ExportOptions{})
	require.NoError(t, err)
	var got []string
	for _, s := range exp.Cfg.Sections[1:] {
		line := s.Type
		if v, ok := s.Get("layers"); ok {
			line += " " + v
		}
		if v, ok := s.Get("size"); ok && s.Type == SectionMaxPool {
			line += " " + v
		}
		got = append(got, line)
	}
	assert.Equal(t, []string{
		"convolutional",
		"maxpool 5",
		"route -2",
		"maxpool 9",
		"route -4",
		"maxpool 13",
		"route -1,-3,-5,-6",
	}, got)
	assert.Empty(t, exp.Stages)
}

func TestFromGraphDetectNeedsMeta(t *testing.T) {
	g := graph.New("detect")
	x, err := g.AddInput(tensor.Shape{1, 8, 8, 3})
	require.NoError(t, err)
	conv, err := nn.NewDarkConv(nn.BlockConfig{Name: "conv", Filters: 18, KernelSize: 1, Activation: "linear"})
	require.NoError(t, err)
	y, err := conv.Apply(x)
	require.NoError(t, err)
	_, err = nn.NewYolo(nn.BlockConfig{Name: "yolo"}).Apply(y...)
	require.NoError(t, err)

	_, err = FromGraph(g, ExportOptions{})
	require.ErrorIs(t, err, ErrMalformedCfg)

	exp, err := FromGraph(g, ExportOptions{Yolo: []YoloMeta{{
		Mask:    []int{0, 1, 2},
		Anchors: [][2]int{{10, 14}, {23, 27}, {37, 58}},
		Classes: 1,
	}}})
	require.NoError(t, err)
	yolo := exp.Cfg.Sections[2]
	assert.Equal(t, SectionYolo, yolo.Type)
	anchors, _ := yolo.Get("anchors")
	assert.Equal(t, "10,14,23,27,37,58", anchors)
	num, _ := yolo.Get("num")
	assert.Equal(t, "3", num)
}
