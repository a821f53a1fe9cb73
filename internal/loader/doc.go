// Package loader maps decoded darknet weight blocks onto graph layers.
//
// A decoded weights file is split into contiguous segments (backbone,
// neck, head) and each segment is assigned to the matching part of the
// graph in strict traversal order:
//
//	w, err := darknet.Read("yolov4.cfg", "yolov4.weights", darknet.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	backbone, neck, head, err := loader.Split(w.Sections, 106, 138)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	n, err := loader.Assign(stage, darknet.Flatten(backbone))
//
// Assignment is all-or-nothing per layer: a layer is only written once
// every block for it has been checked.
package loader
