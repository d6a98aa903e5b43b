package dtypes

// DType is an enum representing the element type of a tensor taking part in
// a collective operation.
//
// The numeric values are part of the wire protocol: every rank in a job must
// agree on them, so they must never be renumbered.
type DType int32

const (
	// Uint8 are unsigned integral values of 8 bits.
	Uint8 DType = 0

	// Int8 are signed integral values of 8 bits.
	Int8 DType = 1

	// Uint16 are unsigned integral values of 16 bits.
	Uint16 DType = 2

	// Int16 are signed integral values of 16 bits.
	Int16 DType = 3

	// Int32 are signed integral values of 32 bits.
	Int32 DType = 4

	// Int64 are signed integral values of 64 bits.
	Int64 DType = 5

	// Float16 are IEEE 754 half-precision floating-point values, commonly
	// used by accelerators. In Go they are represented by
	// github.com/x448/float16.Float16.
	Float16 DType = 6

	// Float32 are IEEE 754 single-precision floating-point values.
	Float32 DType = 7

	// Float64 are IEEE 754 double-precision floating-point values.
	Float64 DType = 8

	// Bool are two-state booleans, stored one byte per element.
	Bool DType = 9
)

// NumDTypes is the number of valid DType values.
const NumDTypes = 10

// MapOfNames maps names to their DType. It includes the display name of each
// dtype plus its lower-case version.
var MapOfNames = map[string]DType{
	"Uint8":   Uint8,
	"uint8":   Uint8,
	"Int8":    Int8,
	"int8":    Int8,
	"Uint16":  Uint16,
	"uint16":  Uint16,
	"Int16":   Int16,
	"int16":   Int16,
	"Int32":   Int32,
	"int32":   Int32,
	"Int64":   Int64,
	"int64":   Int64,
	"Float16": Float16,
	"float16": Float16,
	"Float32": Float32,
	"float32": Float32,
	"Float64": Float64,
	"float64": Float64,
	"Bool":    Bool,
	"bool":    Bool,
}
