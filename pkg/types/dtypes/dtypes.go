// Package dtypes defines the element types of the tensors, buffers and vectors of a payload program.
package dtypes

// DType is the element type of a shaped value, or the type of a scalar value.
type DType int

//go:generate go tool enumer -type=DType -output=gen_dtype_enumer.go dtypes.go

const (
	InvalidDType DType = iota
	Bool
	Int8
	Int16
	Int32
	Int64
	Float16
	BFloat16
	Float32
	Float64

	// Index is the type of loop induction variables and offsets.
	Index
)

// IsFloat returns whether dtype is a floating point type.
func (dtype DType) IsFloat() bool {
	switch dtype {
	case Float16, BFloat16, Float32, Float64:
		return true
	default:
		return false
	}
}

// IsInt returns whether dtype is an integer type (Index included).
func (dtype DType) IsInt() bool {
	switch dtype {
	case Int8, Int16, Int32, Int64, Index:
		return true
	default:
		return false
	}
}

// Size returns the number of bytes of one element, 0 for Index and invalid types.
func (dtype DType) Size() int {
	switch dtype {
	case Bool, Int8:
		return 1
	case Int16, Float16, BFloat16:
		return 2
	case Int32, Float32:
		return 4
	case Int64, Float64:
		return 8
	default:
		return 0
	}
}
