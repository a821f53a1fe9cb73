package loader

import (
	"fmt"
	"strings"
)

// Mapping records which stored darknet layer fed which graph layer.
type Mapping struct {
	Source int    // Darknet layer index carried by the blocks
	Layer  string // Graph layer name
	Blocks int    // Blocks consumed
	Values int    // float32 values consumed
}

// String returns "source -> layer".
func (m Mapping) String() string {
	return fmt.Sprintf("%d -> %s (%d blocks, %d values)", m.Source, m.Layer, m.Blocks, m.Values)
}

// StageOf returns the stage prefix of a layer name, "" when it has none.
//
// Layer names look like "cspdarknet53/DarkRes_2/csp_down/down".
func StageOf(layer string) string {
	stage, _, ok := strings.Cut(layer, "/")
	if !ok {
		return ""
	}
	return stage
}

// FormatMappings renders mappings one per line.
func FormatMappings(ms []Mapping) string {
	var b strings.Builder
	for _, m := range ms {
		b.WriteString(m.String())
		b.WriteByte('\n')
	}
	return b.String()
}
