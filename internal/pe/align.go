package pe

import "golang.org/x/exp/constraints"

// AlignUp rounds v up to a multiple of align, which must be a power of two.
func AlignUp[T constraints.Integer](v, align T) T {
	return (v + align - 1) &^ (align - 1)
}
