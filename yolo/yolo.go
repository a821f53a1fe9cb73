// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package yolo builds YOLOv4 and YOLOv4-tiny graphs and moves their weights
// to and from the darknet file format.
//
// Example:
//
//	m, err := yolo.New("yolov4", yolo.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	report, err := m.LoadDarknetWeights("yolov4.cfg", "yolov4.weights", yolo.DefaultLoadOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(report.Layers()) // 110
package yolo

import (
	"github.com/born-ml/yolo/internal/model"
)

// Model is a built YOLO graph with its backbone, neck and head stages.
type Model = model.Model

// Variant describes a YOLO configuration: tables, outputs and boundaries.
type Variant = model.Variant

// Level describes one detection output.
type Level = model.Level

// Options configures model construction.
type Options = model.Options

// LoadOptions selects what a darknet import writes.
type LoadOptions = model.LoadOptions

// ImportReport summarizes a darknet import.
type ImportReport = model.ImportReport

// SegmentReport describes one imported segment.
type SegmentReport = model.SegmentReport

// ErrUnknownVariant is returned for names Variants does not list.
var ErrUnknownVariant = model.ErrUnknownVariant

// New builds the named built-in variant.
func New(variant string, opts Options) (*Model, error) {
	return model.NewVariant(variant, opts)
}

// FromVariant builds a custom variant.
func FromVariant(v Variant, opts Options) (*Model, error) {
	return model.New(v, opts)
}

// Lookup returns a copy of the named built-in variant.
func Lookup(name string) (Variant, error) {
	return model.Lookup(name)
}

// Variants returns the built-in variant names.
func Variants() []string {
	return model.Names()
}

// DefaultLoadOptions imports every segment at the variant's boundaries.
func DefaultLoadOptions() LoadOptions {
	return model.DefaultLoadOptions()
}
