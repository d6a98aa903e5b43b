// Package dtypes includes the DType enum for the element types supported by
// the collectives negotiation protocol.
//
// DTypes here carry no arithmetic semantics: the negotiation layer only ever
// compares them for equality across ranks and uses their element sizes to
// budget fused batches. The actual reduction arithmetic happens in the
// execution layer (NCCL/MPI), outside this module.
package dtypes

import (
	"reflect"
	"strconv"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// panicf panics with the formatted description.
//
// It is only used for "bugs in the code" -- when parameters don't follow the
// specifications. In principle, it should never happen -- the same way
// nil-pointer panics should never happen.
func panicf(format string, args ...any) {
	panic(errors.Errorf(format, args...))
}

// IsValid returns whether dtype is one of the known element types.
//
// The zero value of DType is Uint8, which is valid -- this mirrors the wire
// protocol, where the tag 0 means Uint8.
func (dtype DType) IsValid() bool {
	return dtype >= Uint8 && dtype < NumDTypes
}

// String implements fmt.Stringer with the canonical display name of the
// dtype. Used for diagnostics only, never for control flow.
func (dtype DType) String() string {
	switch dtype {
	case Uint8:
		return "Uint8"
	case Int8:
		return "Int8"
	case Uint16:
		return "Uint16"
	case Int16:
		return "Int16"
	case Int32:
		return "Int32"
	case Int64:
		return "Int64"
	case Float16:
		return "Float16"
	case Float32:
		return "Float32"
	case Float64:
		return "Float64"
	case Bool:
		return "Bool"
	}
	return "DType(" + strconv.Itoa(int(dtype)) + ")"
}

// FromGenericsType returns the DType enum for the given Go type.
func FromGenericsType[T Supported]() DType {
	var t T
	switch (any(t)).(type) {
	case uint8:
		return Uint8
	case int8:
		return Int8
	case uint16:
		return Uint16
	case int16:
		return Int16
	case int32:
		return Int32
	case int64:
		return Int64
	case float16.Float16:
		return Float16
	case float32:
		return Float32
	case float64:
		return Float64
	case bool:
		return Bool
	}
	panicf("FromGenericsType: unsupported Go type %T", t)
	panic(nil)
}

// Pre-generated reflect.Type for float16, which has no native Go type.
var float16Type = reflect.TypeOf(float16.Float16(0))

// GoType returns the Go reflect.Type corresponding to the tensor DType.
// It panics for invalid DType values.
func (dtype DType) GoType() reflect.Type {
	switch dtype {
	case Uint8:
		return reflect.TypeOf(uint8(0))
	case Int8:
		return reflect.TypeOf(int8(0))
	case Uint16:
		return reflect.TypeOf(uint16(0))
	case Int16:
		return reflect.TypeOf(int16(0))
	case Int32:
		return reflect.TypeOf(int32(0))
	case Int64:
		return reflect.TypeOf(int64(0))
	case Float16:
		return float16Type
	case Float32:
		return reflect.TypeOf(float32(0))
	case Float64:
		return reflect.TypeOf(float64(0))
	case Bool:
		return reflect.TypeOf(true)
	default:
		panicf("unknown dtype %q (%d) in DType.GoType", dtype, dtype)
		panic(nil)
	}
}

// Size returns the number of bytes one element of the given DType occupies.
func (dtype DType) Size() int {
	return int(dtype.GoType().Size())
}

// Bits returns the number of bits for the given DType.
func (dtype DType) Bits() int {
	return dtype.Size() * 8
}

// SizeForDimensions returns the size in bytes used by a tensor of this dtype
// with the given dimensions. It works also for scalar (one element) shapes
// where the list of dimensions is empty.
func (dtype DType) SizeForDimensions(dimensions ...int64) int64 {
	numElements := int64(1)
	for _, dim := range dimensions {
		if dim < 0 {
			panicf("dim cannot be negative for SizeForDimensions, got %v", dimensions)
		}
		numElements *= dim
	}
	return numElements * int64(dtype.Size())
}

// IsFloat returns whether dtype is one of the floating-point types.
func (dtype DType) IsFloat() bool {
	return dtype == Float16 || dtype == Float32 || dtype == Float64
}

// IsInt returns whether dtype is one of the integer types, signed or not.
func (dtype DType) IsInt() bool {
	return dtype == Int8 || dtype == Int16 || dtype == Int32 || dtype == Int64 ||
		dtype == Uint8 || dtype == Uint16
}

// IsUnsigned returns whether dtype is one of the unsigned integer types.
func (dtype DType) IsUnsigned() bool {
	return dtype == Uint8 || dtype == Uint16
}

// Supported lists the Go types that map 1:1 to a DType.
// Used as traits for generics.
//
// Notice Go's `int` type is not included since it is not portable: it may
// translate to Int32 or Int64 depending on the platform.
type Supported interface {
	bool | float16.Float16 | float32 | float64 |
		int8 | int16 | int32 | int64 | uint8 | uint16
}
