// Package schedule splits a run's concurrency across processes and lanes and
// computes the staggered start delay of every lane during ramp-up.
package schedule

import (
	"errors"
	"fmt"
)

// ErrInvalidSlice is returned when a total cannot be divided into the requested parts.
var ErrInvalidSlice = errors.New("invalid concurrency slice")

// Slice divides total across parts using cumulative rounding. Every share is
// at least one, shares differ by at most one and they always sum to total.
// The result only depends on the arguments.
func Slice(total, parts int) ([]int, error) {
	if total < 1 || parts < 1 {
		return nil, fmt.Errorf("%w: total=%d parts=%d must both be >= 1", ErrInvalidSlice, total, parts)
	}
	if parts > total {
		return nil, fmt.Errorf("%w: cannot split %d into %d parts", ErrInvalidSlice, total, parts)
	}

	shares := make([]int, parts)
	assigned := 0
	for i := 0; i < parts; i++ {
		// round((i+1)*total/parts) with halves rounded up, in integers.
		progress := (2*(i+1)*total + parts) / (2 * parts)
		shares[i] = progress - assigned
		assigned = progress
	}
	return shares, nil
}

// Offsets returns the index of the first unit owned by each share, i.e. the
// running sum of the preceding shares.
func Offsets(shares []int) []int {
	offsets := make([]int, len(shares))
	next := 0
	for i, share := range shares {
		offsets[i] = next
		next += share
	}
	return offsets
}
