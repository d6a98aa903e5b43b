package collective

import (
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/collectives/pkg/core/dtypes"
	"github.com/gomlx/exceptions"
)

// Shape is the ordered sequence of dimension sizes of a tensor taking part
// in a collective operation.
//
// Dimensions use int64 so that tensor extents never overflow regardless of
// the platform's int size. A scalar has an empty Dimensions slice.
//
// Use MakeShape to create a new shape.
type Shape struct {
	Dimensions []int64 `cbor:"dims,omitempty"`
}

// MakeShape returns a Shape with the given dimensions.
// It panics if any dimension is negative -- that is a bug in the caller.
func MakeShape(dimensions ...int64) Shape {
	s := Shape{Dimensions: slices.Clone(dimensions)}
	for _, dim := range dimensions {
		if dim < 0 {
			exceptions.Panicf("collective.MakeShape(%s): cannot create a shape with a negative dimension", s)
		}
	}
	return s
}

// Rank of the shape, that is, the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape represents a scalar, that is, there are
// no dimensions (rank==0).
func (s Shape) IsScalar() bool { return s.Rank() == 0 }

// Size returns the number of elements of a tensor of this shape. It's the
// product of all dimensions, and 1 for a scalar.
func (s Shape) Size() (size int64) {
	size = 1
	for _, dim := range s.Dimensions {
		size *= dim
	}
	return
}

// Memory returns the bytes used to store one rank's tensor of this shape
// with the given element type.
func (s Shape) Memory(dtype dtypes.DType) int64 {
	return dtype.SizeForDimensions(s.Dimensions...)
}

// Equal compares two shapes for equality: every dimension, in order.
func (s Shape) Equal(s2 Shape) bool {
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// EqualIgnoringLeading compares two shapes for equality of all dimensions
// except dimension 0, which may differ.
//
// This is the compatibility rule for allgather, where each rank contributes
// a possibly different number of rows (dimension 0), but rows themselves
// must have identical extents.
func (s Shape) EqualIgnoringLeading(s2 Shape) bool {
	if s.Rank() != s2.Rank() {
		return false
	}
	if s.Rank() == 0 {
		return true
	}
	return slices.Equal(s.Dimensions[1:], s2.Dimensions[1:])
}

// Clone returns a new deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{Dimensions: slices.Clone(s.Dimensions)}
}

// String implements fmt.Stringer, pretty-prints the shape as e.g. "[10, 5]".
func (s Shape) String() string {
	parts := make([]string, 0, s.Rank())
	for _, dim := range s.Dimensions {
		parts = append(parts, strconv.FormatInt(dim, 10))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
