package model

import (
	"bytes"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/born-ml/yolo/internal/darknet"
	"github.com/born-ml/yolo/internal/graph"
	"github.com/born-ml/yolo/internal/loader"
	"github.com/born-ml/yolo/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func build(t *testing.T, name string) *Model {
	t.Helper()
	m, err := NewVariant(name, Options{Logger: quiet()})
	require.NoError(t, err)
	return m
}

func randomize(g *graph.Graph, seed int64) {
	r := rand.New(rand.NewSource(seed)) //nolint:gosec // test data
	for _, p := range g.Parameters() {
		data := p.Tensor().Data()
		for i := range data {
			data[i] = r.Float32()*2 - 1
		}
	}
}

func params(g *graph.Graph) [][]float32 {
	var out [][]float32
	for _, p := range g.Parameters() {
		out = append(out, append([]float32(nil), p.Tensor().Data()...))
	}
	return out
}

func TestVariants(t *testing.T) {
	assert.Equal(t, []string{"yolov4", "yolov4-tiny"}, Names())

	_, err := Lookup("yolov9")
	require.ErrorIs(t, err, ErrUnknownVariant)

	v, err := Lookup("yolov4")
	require.NoError(t, err)
	require.NoError(t, v.Validate())
	assert.Equal(t, [2]int{106, 138}, v.Splits)
	v.Levels[0].Mask[0] = 99
	v.Anchors[0] = [2]int{0, 0}

	again, err := Lookup("yolov4")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, again.Levels[0].Mask)
	assert.Equal(t, [2]int{12, 16}, again.Anchors[0])

	v.Levels[0].Mask[0] = 9
	assert.Error(t, v.Validate())
}

func TestYOLOv4(t *testing.T) {
	m := build(t, "yolov4")
	g := m.Graph()

	assert.Len(t, g.Layers(), 72+20+18)
	assert.Len(t, m.Backbone().Layers(), 72)
	assert.Len(t, m.Neck().Layers(), 20)
	assert.Len(t, m.Head().Layers(), 18)

	var shapes []tensor.Shape
	for _, out := range m.Outputs() {
		shapes = append(shapes, out.Shape())
	}
	assert.Equal(t, []tensor.Shape{
		{1, 52, 52, 255},
		{1, 26, 26, 255},
		{1, 13, 13, 255},
	}, shapes)

	exp, err := darknet.FromGraph(g, darknet.ExportOptions{Yolo: m.yoloMeta()})
	require.NoError(t, err)
	assert.Len(t, exp.Cfg.Sections, 163)
	assert.Equal(t, []int{106, 138, 163}, exp.Boundaries())

	var masks []string
	for _, s := range exp.Cfg.Sections {
		if s.Type == darknet.SectionYolo {
			mask, _ := s.Get("mask")
			masks = append(masks, mask)
		}
	}
	assert.Equal(t, []string{"0,1,2", "3,4,5", "6,7,8"}, masks)

	layout, err := exp.Cfg.Layout()
	require.NoError(t, err)
	convs := 0
	for _, info := range layout {
		if info.Conv != nil {
			convs++
		}
	}
	assert.Equal(t, 110, convs)
}

func TestYOLOv4TinyExport(t *testing.T) {
	m := build(t, "yolov4-tiny")
	assert.Nil(t, m.Neck())
	assert.Len(t, m.Graph().Layers(), 15+6)

	exp, blocks, err := m.Export()
	require.NoError(t, err)
	assert.Len(t, exp.Cfg.Sections, 39)
	assert.Equal(t, []int{28, 39}, exp.Boundaries())

	// The second head route reads the pre-pool features of the last
	// csp_tiny block, darknet layer 23.
	route := exp.Cfg.Sections[35]
	require.Equal(t, darknet.SectionRoute, route.Type)
	layers, _ := route.Ints("layers")
	assert.Equal(t, []int{-1, 23 - 34}, layers)

	assert.Equal(t, 0, blocks[0].Layer)
	assert.Equal(t, 36, blocks[len(blocks)-1].Layer)
}

func exportTiny(t *testing.T, seed int64) (*Model, string, string) {
	t.Helper()
	src := build(t, "yolov4-tiny")
	randomize(src.Graph(), seed)
	dir := t.TempDir()
	cfg := filepath.Join(dir, "yolov4-tiny.cfg")
	weights := filepath.Join(dir, "yolov4-tiny.weights")
	require.NoError(t, src.ExportDarknet(cfg, weights))
	return src, cfg, weights
}

func TestDarknetRoundTrip(t *testing.T) {
	src, cfg, weights := exportTiny(t, 1)

	dst := build(t, "yolov4-tiny")
	report, err := dst.LoadDarknetWeights(cfg, weights, DefaultLoadOptions())
	require.NoError(t, err)
	assert.Equal(t, params(src.Graph()), params(dst.Graph()))

	assert.Equal(t, 39, report.Sections)
	assert.Equal(t, dst.Graph().ID(), report.GraphID)
	assert.Equal(t, darknet.DefaultHeader, report.Header)
	require.Len(t, report.Segments, 3)
	assert.Equal(t, SegmentReport{Stage: "backbone", Sections: 28, Blocks: 75, Layers: 15}, report.Segments[0])
	assert.Equal(t, SegmentReport{Stage: "neck"}, report.Segments[1])
	assert.Equal(t, 6, report.Segments[2].Layers)
	assert.Equal(t, 21, report.Layers())
	require.Len(t, report.Mappings, 21)
	assert.Equal(t, "head", loader.StageOf(report.Mappings[20].Layer))
}

func TestLoadBackboneOnly(t *testing.T) {
	_, cfg, weights := exportTiny(t, 2)

	dst := build(t, "yolov4-tiny")
	headBefore := params(dst.Graph())[len(dst.Backbone().Layers())*5:]
	report, err := dst.LoadDarknetWeights(cfg, weights, LoadOptions{Backbone: true})
	require.NoError(t, err)
	assert.True(t, report.Segments[2].Skipped)
	assert.Equal(t, 15, report.Layers())
	assert.Equal(t, headBefore, params(dst.Graph())[len(dst.Backbone().Layers())*5:])
}

func TestLoadWrongSplits(t *testing.T) {
	_, cfg, weights := exportTiny(t, 3)
	dst := build(t, "yolov4-tiny")

	_, err := dst.LoadDarknetWeights(cfg, weights, LoadOptions{Backbone: true, Head: true, Splits: [2]int{30, 20}})
	require.ErrorIs(t, err, loader.ErrInvalidBoundary)

	// A boundary one section early leaves the last backbone conv for the
	// head segment.
	report, err := dst.LoadDarknetWeights(cfg, weights, LoadOptions{Backbone: true, Splits: [2]int{27, 27}})
	require.ErrorIs(t, err, loader.ErrSegmentExhausted)
	assert.Equal(t, 14, report.Segments[0].Layers)
}

func TestLoadTrailingData(t *testing.T) {
	_, cfg, weights := exportTiny(t, 4)
	f, err := os.OpenFile(weights, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte{0, 0, 0, 0})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	dst := build(t, "yolov4-tiny")
	_, err = dst.LoadDarknetWeights(cfg, weights, DefaultLoadOptions())
	require.ErrorIs(t, err, darknet.ErrTrailingData)

	opts := DefaultLoadOptions()
	opts.Trailing = darknet.TrailingWarn
	_, err = dst.LoadDarknetWeights(cfg, weights, opts)
	require.NoError(t, err)
}

func TestCheckpointRoundTrip(t *testing.T) {
	src := build(t, "yolov4-tiny")
	randomize(src.Graph(), 5)
	path := filepath.Join(t.TempDir(), "tiny.ckpt")
	require.NoError(t, src.SaveCheckpoint(path))

	dst := build(t, "yolov4-tiny")
	n, err := dst.LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, len(dst.Graph().Parameters()), n)
	assert.Equal(t, params(src.Graph()), params(dst.Graph()))
}

func TestSummary(t *testing.T) {
	m := build(t, "yolov4-tiny")
	var buf bytes.Buffer
	total, err := m.Summary(&buf)
	require.NoError(t, err)
	assert.Equal(t, m.Graph().ParameterCount(), total)

	out := buf.String()
	assert.Contains(t, out, "[cspdarknettiny]")
	assert.Contains(t, out, "[head]")
	assert.Contains(t, out, "cspdarknettiny/DarkConv_0")
	assert.Contains(t, out, "kernel[3 3 3 32]")
	assert.Contains(t, out, "output 5")
}

func TestCustomInput(t *testing.T) {
	m, err := NewVariant("yolov4-tiny", Options{Logger: quiet(), Input: tensor.Shape{2, 608, 608, 3}})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 19, 19, 255}, m.Outputs()[0].Shape())
	assert.Equal(t, tensor.Shape{2, 38, 38, 255}, m.Outputs()[1].Shape())
}
