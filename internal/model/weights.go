package model

import (
	"fmt"
	"time"

	"github.com/born-ml/yolo/internal/darknet"
	"github.com/born-ml/yolo/internal/graph"
	"github.com/born-ml/yolo/internal/loader"
	"github.com/born-ml/yolo/internal/serialization"
	"github.com/google/uuid"
)

// LoadOptions selects what LoadDarknetWeights imports.
type LoadOptions struct {
	Backbone bool // Import the backbone segment
	Head     bool // Import the neck and head segments
	// Splits overrides the variant's boundaries when non-zero.
	Splits   [2]int
	Trailing darknet.TrailingPolicy
}

// DefaultLoadOptions imports everything with the variant's boundaries.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{Backbone: true, Head: true}
}

// SegmentReport describes one imported segment.
type SegmentReport struct {
	Stage    string
	Sections int // cfg sections in the segment
	Blocks   int
	Layers   int // layers written
	Skipped  bool
}

// ImportReport summarizes a darknet import.
type ImportReport struct {
	ID       uuid.UUID // Identity of this import
	GraphID  uuid.UUID
	Variant  string
	Header   darknet.Header
	Sections int
	Segments []SegmentReport
	Mappings []loader.Mapping
}

// Layers returns the number of layers written across segments.
func (r *ImportReport) Layers() int {
	n := 0
	for _, s := range r.Segments {
		n += s.Layers
	}
	return n
}

// LoadDarknetWeights decodes cfgPath and weightsPath, splits the sections
// at the variant boundaries and assigns the backbone, neck and head
// segments to their stages. On error the report holds what was written.
func (m *Model) LoadDarknetWeights(cfgPath, weightsPath string, opts LoadOptions) (*ImportReport, error) {
	w, err := darknet.Read(cfgPath, weightsPath, darknet.Options{Trailing: opts.Trailing, Logger: m.logger})
	if err != nil {
		return nil, err
	}
	return m.AssignDarknet(w, opts)
}

// AssignDarknet is LoadDarknetWeights on already decoded weights.
func (m *Model) AssignDarknet(w *darknet.Weights, opts LoadOptions) (*ImportReport, error) {
	splits := m.variant.Splits
	if opts.Splits != [2]int{} {
		splits = opts.Splits
	}
	bb, neck, head, err := loader.Split(w.Sections, splits[0], splits[1])
	if err != nil {
		return nil, err
	}

	report := &ImportReport{
		ID:       uuid.New(),
		GraphID:  m.graph.ID(),
		Variant:  m.variant.Name,
		Header:   w.Header,
		Sections: len(w.Sections),
	}
	importer := loader.NewImporter(m.logger)
	segments := []struct {
		stage    string
		layers   graph.LayerSet
		sections []darknet.Section
		enabled  bool
	}{
		{"backbone", m.backbone, bb, opts.Backbone},
		{"neck", m.neckLayers(), neck, opts.Head},
		{"head", m.head, head, opts.Head},
	}
	for _, s := range segments {
		blocks := darknet.Flatten(s.sections)
		seg := SegmentReport{Stage: s.stage, Sections: len(s.sections), Blocks: len(blocks), Skipped: !s.enabled}
		if s.enabled {
			seg.Layers, err = importer.Assign(s.layers, blocks)
		}
		report.Segments = append(report.Segments, seg)
		report.Mappings = importer.Mappings()
		if err != nil {
			return report, fmt.Errorf("import %s segment: %w", s.stage, err)
		}
	}

	m.logger.Info("imported darknet weights",
		"variant", m.variant.Name,
		"import", report.ID.String(),
		"sections", report.Sections,
		"layers", report.Layers())
	return report, nil
}

// yoloMeta returns one [yolo] description per detection level.
func (m *Model) yoloMeta() []darknet.YoloMeta {
	out := make([]darknet.YoloMeta, len(m.variant.Levels))
	for i, l := range m.variant.Levels {
		out[i] = darknet.YoloMeta{
			Mask:    append([]int(nil), l.Mask...),
			Anchors: append([][2]int(nil), m.variant.Anchors...),
			Classes: m.variant.Classes,
		}
	}
	return out
}

// Export translates the model into a cfg and its weight blocks in stream
// order. Block.Layer holds the darknet layer index of each block.
func (m *Model) Export() (*darknet.Export, []darknet.Block, error) {
	exp, err := darknet.FromGraph(m.graph, darknet.ExportOptions{Yolo: m.yoloMeta()})
	if err != nil {
		return nil, nil, err
	}
	blocks, err := loader.Collect(m.graph)
	if err != nil {
		return nil, nil, err
	}
	layout, err := exp.Cfg.Layout()
	if err != nil {
		return nil, nil, err
	}
	var convs []int
	for _, info := range layout {
		if info.Conv != nil {
			convs = append(convs, info.Index-1)
		}
	}
	if len(convs) != len(m.graph.Layers()) {
		return nil, nil, fmt.Errorf("export: %d convolutional sections for %d layers", len(convs), len(m.graph.Layers()))
	}
	for i := range blocks {
		blocks[i].Layer = convs[blocks[i].Layer]
	}

	if got := exp.Boundaries(); len(got) >= 2 && (got[0] != m.variant.Splits[0] || got[len(got)-2] != m.variant.Splits[1]) {
		m.logger.Warn("exported stage boundaries differ from variant splits",
			"boundaries", got, "splits", m.variant.Splits)
	}
	return exp, blocks, nil
}

// ExportDarknet writes the model as a darknet cfg and weights pair.
func (m *Model) ExportDarknet(cfgPath, weightsPath string) error {
	exp, blocks, err := m.Export()
	if err != nil {
		return err
	}
	if err := darknet.WriteFiles(cfgPath, weightsPath, exp.Cfg, darknet.DefaultHeader, blocks); err != nil {
		return err
	}
	m.logger.Info("exported darknet model",
		"cfg", cfgPath,
		"weights", weightsPath,
		"sections", len(exp.Cfg.Sections),
		"blocks", len(blocks))
	return nil
}

// SaveCheckpoint writes every parameter to a checkpoint file.
func (m *Model) SaveCheckpoint(path string) error {
	return serialization.Save(path, m.graph.Parameters(), serialization.Header{
		Variant:   m.variant.Name,
		GraphID:   m.graph.ID().String(),
		CreatedAt: time.Now().UTC(),
		Metadata: map[string]string{
			"input": m.variant.Input.String(),
		},
	})
}

// LoadCheckpoint restores parameters saved by SaveCheckpoint.
func (m *Model) LoadCheckpoint(path string) (int, error) {
	ckpt, err := serialization.Load(path, serialization.ReaderOptions{})
	if err != nil {
		return 0, err
	}
	if v := ckpt.Header().Variant; v != m.variant.Name {
		return 0, fmt.Errorf("checkpoint is for variant %q, model is %q", v, m.variant.Name)
	}
	return ckpt.Apply(m.graph.Parameters())
}
