package loader

import (
	"fmt"
	"slices"
)

// Split cuts items into items[:b1], items[b1:b2] and items[b2:]. The
// segments are copies; concatenated they equal items.
func Split[T any](items []T, b1, b2 int) (a, b, c []T, err error) {
	if b1 < 0 || b1 > b2 || b2 > len(items) {
		return nil, nil, nil, fmt.Errorf("%w: need 0 <= %d <= %d <= %d", ErrInvalidBoundary, b1, b2, len(items))
	}
	return slices.Clone(items[:b1]), slices.Clone(items[b1:b2]), slices.Clone(items[b2:]), nil
}
