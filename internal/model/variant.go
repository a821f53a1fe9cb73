// Package model assembles complete YOLO detectors from backbone, neck and
// head tables and moves their weights to and from darknet files.
package model

import (
	"errors"
	"fmt"
	"sort"

	"github.com/born-ml/yolo/internal/tensor"
)

// ErrUnknownVariant is returned by Lookup.
var ErrUnknownVariant = errors.New("unknown model variant")

// Level describes one detection output.
type Level struct {
	Endpoint  string  // Head endpoint carrying the detections
	Mask      []int   // Anchor indices used at this level
	PathScale int     // Input pixels per output cell
	XYScale   float64 // Box center scale
}

// Variant is an immutable model description.
type Variant struct {
	Name string

	Backbone string // Table names; Neck is empty when the head reads the backbone
	Neck     string
	Head     string

	// BackboneOutputs feed the next stage in order; NeckOutputs feed the head.
	BackboneOutputs []string
	NeckOutputs     []string

	// Splits are the darknet section counts, [net] included, where the
	// backbone and the neck end.
	Splits [2]int

	Anchors [][2]int
	Levels  []Level // In head detection order
	Classes int

	Input       tensor.Shape
	CfgFile     string
	WeightsFile string
}

// Clone returns a deep copy.
func (v Variant) Clone() Variant {
	v.BackboneOutputs = append([]string(nil), v.BackboneOutputs...)
	v.NeckOutputs = append([]string(nil), v.NeckOutputs...)
	v.Anchors = append([][2]int(nil), v.Anchors...)
	levels := make([]Level, len(v.Levels))
	for i, l := range v.Levels {
		l.Mask = append([]int(nil), l.Mask...)
		levels[i] = l
	}
	v.Levels = levels
	v.Input = v.Input.Clone()
	return v
}

// Validate checks the variant is self-consistent.
func (v Variant) Validate() error {
	switch {
	case v.Name == "":
		return fmt.Errorf("variant: empty name")
	case v.Backbone == "" || v.Head == "":
		return fmt.Errorf("variant %s: backbone and head tables are required", v.Name)
	case len(v.BackboneOutputs) == 0:
		return fmt.Errorf("variant %s: no backbone outputs", v.Name)
	case v.Neck != "" && len(v.NeckOutputs) == 0:
		return fmt.Errorf("variant %s: no neck outputs", v.Name)
	case v.Splits[0] < 0 || v.Splits[0] > v.Splits[1]:
		return fmt.Errorf("variant %s: splits %v out of order", v.Name, v.Splits)
	}
	for _, l := range v.Levels {
		for _, m := range l.Mask {
			if m < 0 || m >= len(v.Anchors) {
				return fmt.Errorf("variant %s: level %s masks anchor %d of %d", v.Name, l.Endpoint, m, len(v.Anchors))
			}
		}
	}
	return nil
}

var yolov4Anchors = [][2]int{
	{12, 16}, {19, 36}, {40, 28},
	{36, 75}, {76, 55}, {72, 146},
	{142, 110}, {192, 243}, {459, 401},
}

var tinyAnchors = [][2]int{
	{10, 14}, {23, 27}, {37, 58},
	{81, 82}, {135, 169}, {344, 319},
}

var variants = map[string]Variant{
	"yolov4": {
		Name:            "yolov4",
		Backbone:        "cspdarknet53",
		Neck:            "yolov4_neck",
		Head:            "yolov4_head",
		BackboneOutputs: []string{"3", "4", "5"},
		NeckOutputs:     []string{"3", "4", "5"},
		Splits:          [2]int{106, 138},
		Anchors:         yolov4Anchors,
		Levels: []Level{
			{Endpoint: "3", Mask: []int{0, 1, 2}, PathScale: 8, XYScale: 1.2},
			{Endpoint: "4", Mask: []int{3, 4, 5}, PathScale: 16, XYScale: 1.1},
			{Endpoint: "5", Mask: []int{6, 7, 8}, PathScale: 32, XYScale: 1.05},
		},
		Classes:     80,
		Input:       tensor.Shape{1, 416, 416, 3},
		CfgFile:     "yolov4.cfg",
		WeightsFile: "yolov4.weights",
	},
	"yolov4-tiny": {
		Name:            "yolov4-tiny",
		Backbone:        "cspdarknettiny",
		Head:            "yolov4_tiny_head",
		BackboneOutputs: []string{"4:route", "5"},
		Splits:          [2]int{28, 28},
		Anchors:         tinyAnchors,
		Levels: []Level{
			{Endpoint: "5", Mask: []int{3, 4, 5}, PathScale: 32, XYScale: 1.05},
			{Endpoint: "4", Mask: []int{1, 2, 3}, PathScale: 16, XYScale: 1.05},
		},
		Classes:     80,
		Input:       tensor.Shape{1, 416, 416, 3},
		CfgFile:     "yolov4-tiny.cfg",
		WeightsFile: "yolov4-tiny.weights",
	},
}

// Lookup returns a copy of the named built-in variant.
func Lookup(name string) (Variant, error) {
	v, ok := variants[name]
	if !ok {
		return Variant{}, fmt.Errorf("%w: %q (known: %v)", ErrUnknownVariant, name, Names())
	}
	return v.Clone(), nil
}

// Names returns the built-in variant names, sorted.
func Names() []string {
	names := make([]string, 0, len(variants))
	for n := range variants {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
