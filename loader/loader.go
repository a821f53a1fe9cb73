// Package loader provides darknet weight loading for YOLO graphs.
//
// This package wraps the internal darknet decoder and importer and exports
// a small public API: decode a .cfg/.weights pair, split its sections at
// stage boundaries and assign each segment to the layers of a graph stage.
//
// Example usage:
//
//	import "github.com/born-ml/yolo/loader"
//
//	w, err := loader.Read("yolov4.cfg", "yolov4.weights", loader.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	backbone, neck, head, err := loader.Split(w.Sections, 106, 138)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	n, err := loader.Assign(m.Backbone(), loader.Flatten(backbone))
package loader

import (
	"github.com/born-ml/yolo/internal/darknet"
	"github.com/born-ml/yolo/internal/graph"
	"github.com/born-ml/yolo/internal/loader"
)

// Weights is a decoded darknet weight stream with its cfg layout.
type Weights = darknet.Weights

// Section holds the blocks decoded for one cfg section.
type Section = darknet.Section

// Block is one stored tensor in darknet order and layout.
type Block = darknet.Block

// Options configures decoding.
type Options = darknet.Options

// TrailingPolicy selects what happens to bytes after the last expected value.
type TrailingPolicy = darknet.TrailingPolicy

// Trailing data policies.
const (
	TrailingError  = darknet.TrailingError
	TrailingWarn   = darknet.TrailingWarn
	TrailingIgnore = darknet.TrailingIgnore
)

// Mapping records which stored darknet layer fed which graph layer.
type Mapping = loader.Mapping

// ImportError locates an import failure.
type ImportError = loader.ImportError

// Errors returned by Split and Assign.
var (
	ErrInvalidBoundary  = loader.ErrInvalidBoundary
	ErrShapeMismatch    = loader.ErrShapeMismatch
	ErrSegmentExhausted = loader.ErrSegmentExhausted
	ErrUnconsumedBlocks = loader.ErrUnconsumedBlocks
	ErrTruncatedStream  = darknet.ErrTruncatedStream
	ErrTrailingData     = darknet.ErrTrailingData
)

// Read decodes a cfg file and its weights file.
//
// The 12 or 16 byte preamble is consumed first, then every convolutional
// section's blocks in darknet stored order. A short stream fails with
// ErrTruncatedStream naming the section, role and byte offset.
func Read(cfgPath, weightsPath string, opts Options) (*Weights, error) {
	return darknet.Read(cfgPath, weightsPath, opts)
}

// Split partitions items into [0,b1), [b1,b2) and [b2,len).
// Boundaries must satisfy 0 <= b1 <= b2 <= len(items).
func Split[T any](items []T, b1, b2 int) (a, b, c []T, err error) {
	return loader.Split(items, b1, b2)
}

// Flatten concatenates the blocks of sections in order.
func Flatten(sections []Section) []Block {
	return darknet.Flatten(sections)
}

// Assign writes segment into the layers of subset in creation order and
// returns how many layers were written.
func Assign(subset graph.LayerSet, segment []Block) (int, error) {
	return loader.Assign(subset, segment)
}

// Collect returns the parameters of subset as darknet blocks in stored
// order, the inverse of Assign.
func Collect(subset graph.LayerSet) ([]Block, error) {
	return loader.Collect(subset)
}
