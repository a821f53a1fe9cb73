package nn

import "sort"

// Activations accepted after a convolution. Names match the darknet cfg
// vocabulary so they can be written back verbatim.
var activations = map[string]struct{}{
	"linear":   {},
	"leaky":    {},
	"mish":     {},
	"relu":     {},
	"logistic": {},
	"swish":    {},
}

// IsActivation reports whether name is a supported activation.
func IsActivation(name string) bool {
	_, ok := activations[name]
	return ok
}

// Activations returns the supported activation names, sorted.
func Activations() []string {
	out := make([]string, 0, len(activations))
	for a := range activations {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
