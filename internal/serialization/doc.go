// Package serialization saves and loads graph parameters in a checksummed
// checkpoint format.
//
//	Format structure:
//	  [64 bytes: fixed header]
//	    0x00-0x03 magic "YOLO"
//	    0x04-0x07 format version (uint32 LE)
//	    0x08-0x0B flags (uint32 LE)
//	    0x10-0x17 JSON header size (uint64 LE)
//	    0x18-0x1F data size (uint64 LE)
//	    0x20-0x3F SHA-256 of the data section
//	  [Header: JSON metadata]
//	  [Tensor data: float32 LE, 64-byte aligned]
//
// Example usage:
//
//	// Save every parameter of a graph
//	err := serialization.Save("yolov4.ckpt", g.Parameters(), serialization.Header{Variant: "yolov4"})
//
//	// Restore into a graph with the same layers
//	ckpt, err := serialization.Load("yolov4.ckpt", serialization.ReaderOptions{})
//	n, err := ckpt.Apply(g.Parameters())
package serialization
