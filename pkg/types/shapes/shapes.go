// Package shapes defines the types of the values of a payload program: scalars, tensors (value
// semantics), memrefs (buffers), vectors and dispatch bindings.
package shapes

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/go-xform/pkg/types/dtypes"
)

// DimUnknown marks a dynamic dimension, printed as `?`.
const DimUnknown = -1

// Kind of shaped type.
type Kind int

const (
	ScalarKind Kind = iota
	TensorKind
	MemRefKind
	VectorKind
	DispatchTensorKind
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case ScalarKind:
		return "scalar"
	case TensorKind:
		return "tensor"
	case MemRefKind:
		return "memref"
	case VectorKind:
		return "vector"
	case DispatchTensorKind:
		return "dispatch_tensor"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Access modes of a dispatch binding.
const (
	ReadOnly  = "readonly"
	WriteOnly = "writeonly"
	ReadWrite = "readwrite"
)

// Shape is the type of a payload value.
type Shape struct {
	Kind       Kind
	DType      dtypes.DType
	Dimensions []int

	// MemorySpace is only used by memrefs, e.g. "#gpu.address_space<workgroup>".
	MemorySpace string

	// Access is only used by dispatch bindings.
	Access string
}

// Make returns a tensor shape with the given element type and dimensions.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	return Shape{Kind: TensorKind, DType: dtype, Dimensions: slices.Clone(dimensions)}
}

// Scalar returns the shape of a scalar of the given dtype.
func Scalar(dtype dtypes.DType) Shape {
	return Shape{Kind: ScalarKind, DType: dtype}
}

// MakeMemRef returns a memref shape.
func MakeMemRef(dtype dtypes.DType, memorySpace string, dimensions ...int) Shape {
	return Shape{Kind: MemRefKind, DType: dtype, Dimensions: slices.Clone(dimensions), MemorySpace: memorySpace}
}

// MakeVector returns a vector shape.
func MakeVector(dtype dtypes.DType, dimensions ...int) Shape {
	return Shape{Kind: VectorKind, DType: dtype, Dimensions: slices.Clone(dimensions)}
}

// MakeDispatchTensor returns the shape of a dispatch binding holding a tensor.
func MakeDispatchTensor(access string, dtype dtypes.DType, dimensions ...int) Shape {
	return Shape{Kind: DispatchTensorKind, DType: dtype, Dimensions: slices.Clone(dimensions), Access: access}
}

// Rank returns the number of dimensions.
func (s Shape) Rank() int {
	return len(s.Dimensions)
}

// Dim returns the size of the dimension at axis, negative axis counting from the end.
// It panics if the axis is out of range.
func (s Shape) Dim(axis int) int {
	adjusted := axis
	if adjusted < 0 {
		adjusted += s.Rank()
	}
	if adjusted < 0 || adjusted >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for shape %s", axis, s)
	}
	return s.Dimensions[adjusted]
}

// IsShaped returns whether the shape has dimensions (tensor, memref, vector or binding).
func (s Shape) IsShaped() bool {
	return s.Kind != ScalarKind
}

// IsTensor returns whether this is a tensor (value semantics) shape.
func (s Shape) IsTensor() bool {
	return s.Kind == TensorKind
}

// IsMemRef returns whether this is a buffer shape.
func (s Shape) IsMemRef() bool {
	return s.Kind == MemRefKind
}

// IsDynamic returns whether any dimension is DimUnknown.
func (s Shape) IsDynamic() bool {
	return slices.Contains(s.Dimensions, DimUnknown)
}

// Size returns the number of elements, or DimUnknown if the shape is dynamic.
func (s Shape) Size() int {
	size := 1
	for _, dim := range s.Dimensions {
		if dim == DimUnknown {
			return DimUnknown
		}
		size *= dim
	}
	return size
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	s2 := s
	s2.Dimensions = slices.Clone(s.Dimensions)
	return s2
}

// Equal compares two shapes, including kind and memory space.
func (s Shape) Equal(s2 Shape) bool {
	return s.Kind == s2.Kind && s.DType == s2.DType && slices.Equal(s.Dimensions, s2.Dimensions) &&
		s.MemorySpace == s2.MemorySpace && s.Access == s2.Access
}

// WithDimensions returns a copy of the shape with the given dimensions.
func (s Shape) WithDimensions(dimensions ...int) Shape {
	s2 := s
	s2.Dimensions = slices.Clone(dimensions)
	return s2
}

// ToTensor returns the tensor shape with the same element type and dimensions.
func (s Shape) ToTensor() Shape {
	return Make(s.DType, s.Dimensions...)
}

// ToMemRef returns the buffer shape with the same element type and dimensions.
func (s Shape) ToMemRef(memorySpace string) Shape {
	return MakeMemRef(s.DType, memorySpace, s.Dimensions...)
}

// ToVector returns the vector shape with the same element type and dimensions.
func (s Shape) ToVector() Shape {
	return MakeVector(s.DType, s.Dimensions...)
}

// String implements fmt.Stringer.
func (s Shape) String() string {
	return s.ToMLIR()
}
