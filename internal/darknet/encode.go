package darknet

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// Encode writes the preamble followed by the data of blocks, in order, as
// little-endian float32 values.
func Encode(w io.Writer, h Header, blocks []Block) error {
	bw := bufio.NewWriter(w)

	var pre []byte
	pre = binary.LittleEndian.AppendUint32(pre, uint32(h.Major))
	pre = binary.LittleEndian.AppendUint32(pre, uint32(h.Minor))
	pre = binary.LittleEndian.AppendUint32(pre, uint32(h.Revision))
	if h.wideSeen() {
		pre = binary.LittleEndian.AppendUint64(pre, h.Seen)
	} else {
		pre = binary.LittleEndian.AppendUint32(pre, uint32(h.Seen))
	}
	if _, err := bw.Write(pre); err != nil {
		return fmt.Errorf("write preamble: %w", err)
	}

	var buf [4]byte
	for _, b := range blocks {
		if n := b.Shape.NumElements(); n != len(b.Data) {
			return fmt.Errorf("block layer %d %s: shape %v wants %d values, has %d",
				b.Layer, b.Role, b.Shape, n, len(b.Data))
		}
		for _, v := range b.Data {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
			if _, err := bw.Write(buf[:]); err != nil {
				return fmt.Errorf("write layer %d %s: %w", b.Layer, b.Role, err)
			}
		}
	}
	return bw.Flush()
}

// WriteFiles writes cfg and weights to the given paths.
func WriteFiles(cfgPath, weightsPath string, cfg *Cfg, h Header, blocks []Block) error {
	if err := writeFile(cfgPath, func(w io.Writer) error {
		_, err := cfg.WriteTo(w)
		return err
	}); err != nil {
		return fmt.Errorf("write cfg: %w", err)
	}
	if err := writeFile(weightsPath, func(w io.Writer) error {
		return Encode(w, h, blocks)
	}); err != nil {
		return fmt.Errorf("write weights: %w", err)
	}
	return nil
}

//nolint:gosec // G304: path comes from the caller.
func writeFile(path string, fill func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fill(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
