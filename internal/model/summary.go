package model

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/born-ml/yolo/internal/loader"
)

// Summary writes one line per layer with its parameter shapes, grouped by
// stage, followed by the detection outputs. It returns the total number
// of parameter values.
func (m *Model) Summary(w io.Writer) (int, error) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "model %s\tinput %v\tgraph %s\n", m.variant.Name, m.variant.Input, m.graph.ID())

	total := 0
	stage := ""
	for _, l := range m.graph.Layers() {
		if s := loader.StageOf(l.Name()); s != stage {
			stage = s
			fmt.Fprintf(tw, "\n[%s]\n", stage)
		}
		shapes := make([]string, 0, 5)
		count := 0
		for _, p := range l.Parameters() {
			shapes = append(shapes, fmt.Sprintf("%s%v", p.Role(), p.Shape()))
			count += p.Shape().NumElements()
		}
		total += count
		fmt.Fprintf(tw, "%s\t%s\t%d\n", l.Name(), strings.Join(shapes, " "), count)
	}

	fmt.Fprintln(tw)
	for i, out := range m.Outputs() {
		l := m.variant.Levels[i]
		fmt.Fprintf(tw, "output %s\t%v\tmask %v\tscale %d\n", l.Endpoint, out.Shape(), l.Mask, l.PathScale)
	}
	fmt.Fprintf(tw, "layers %d\tparameters %d\n", len(m.graph.Layers()), total)
	return total, tw.Flush()
}
