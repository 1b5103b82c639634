package payload

import (
	"fmt"
	"slices"

	"github.com/gomlx/go-xform/pkg/types/dtypes"
	"github.com/gomlx/go-xform/pkg/types/shapes"
)

// OpFoldResult is an index that is either a static integer or a dynamic index value.
type OpFoldResult struct {
	Value  *Value
	Static int
}

// StaticIndex returns a static OpFoldResult.
func StaticIndex(i int) OpFoldResult {
	return OpFoldResult{Static: i}
}

// DynamicIndex returns a dynamic OpFoldResult. If v is an index constant it is folded to a static one.
func DynamicIndex(v *Value) OpFoldResult {
	if c, ok := ConstantIntValue(v); ok {
		return StaticIndex(c)
	}
	return OpFoldResult{Value: v}
}

// IsStatic returns whether the index is a known integer.
func (r OpFoldResult) IsStatic() bool {
	return r.Value == nil
}

// Equal compares two OpFoldResult: static ones by value, dynamic ones by identity.
func (r OpFoldResult) Equal(r2 OpFoldResult) bool {
	if r.IsStatic() != r2.IsStatic() {
		return false
	}
	if r.IsStatic() {
		return r.Static == r2.Static
	}
	return r.Value == r2.Value
}

// String implements fmt.Stringer.
func (r OpFoldResult) String() string {
	if r.IsStatic() {
		return fmt.Sprintf("%d", r.Static)
	}
	return "<dynamic>"
}

// StaticIndices converts a list of ints to OpFoldResult.
func StaticIndices(indices ...int) []OpFoldResult {
	result := make([]OpFoldResult, len(indices))
	for i, idx := range indices {
		result[i] = StaticIndex(idx)
	}
	return result
}

// Materialize returns an index value for r, creating a constant if r is static.
func (b *Builder) Materialize(r OpFoldResult) *Value {
	if r.IsStatic() {
		return b.ConstantIndex(r.Static)
	}
	return r.Value
}

// Constant creates an arith.constant of the given scalar or vector shape, splatted with value.
func (b *Builder) Constant(shape shapes.Shape, value float64) *Value {
	value = dtypes.RoundToDType(shape.DType, value)
	return b.Create(OpKindConstant, nil, []shapes.Shape{shape}, map[string]any{AttrValue: value}).Result(0)
}

// ConstantIndex creates an index constant.
func (b *Builder) ConstantIndex(value int) *Value {
	return b.Constant(shapes.Scalar(dtypes.Index), float64(value))
}

// ConstantIntValue returns the value of a scalar integer constant.
func ConstantIntValue(v *Value) (int, bool) {
	def := v.DefiningOp()
	if def == nil || def.Kind != OpKindConstant || v.Shape.IsShaped() || !v.Shape.DType.IsInt() {
		return 0, false
	}
	return int(def.FloatAttr(AttrValue)), true
}

// AffineApply creates an affine.apply computing sum(coefficients[i] * operands[i]) + constant.
func (b *Builder) AffineApply(coefficients []int, constant int, operands ...*Value) *Value {
	return b.Create(OpKindAffineApply, operands, []shapes.Shape{shapes.Scalar(dtypes.Index)}, map[string]any{
		AttrCoefficients: slices.Clone(coefficients),
		AttrConstant:     constant,
	}).Result(0)
}

// AffineMin creates an affine.min computing min(bound, sum(coefficients[i] * operands[i]) + constant).
func (b *Builder) AffineMin(bound int, coefficients []int, constant int, operands ...*Value) *Value {
	return b.Create(OpKindAffineMin, operands, []shapes.Shape{shapes.Scalar(dtypes.Index)}, map[string]any{
		AttrCoefficients: slices.Clone(coefficients),
		AttrConstant:     constant,
		AttrBound:        bound,
	}).Result(0)
}

// UpperBound returns a static upper bound of an index value: the value itself if constant, or the bound of
// an affine.min.
func UpperBound(r OpFoldResult) (int, bool) {
	if r.IsStatic() {
		return r.Static, true
	}
	def := r.Value.DefiningOp()
	if def != nil && def.Kind == OpKindAffineMin {
		return def.IntAttr(AttrBound), true
	}
	return 0, false
}

// Empty creates a tensor.empty of the given shape. dynamicSizes provide the dynamic dimensions, in order.
func (b *Builder) Empty(shape shapes.Shape, dynamicSizes ...*Value) *Value {
	return b.Create(OpKindEmpty, dynamicSizes, []shapes.Shape{shape}, nil).Result(0)
}

// mixedOperands splits offsets and sizes into static attributes and dynamic operands.
func mixedOperands(offsets, sizes []OpFoldResult) (staticOffsets, staticSizes []int, dynamic []*Value) {
	staticOffsets = make([]int, len(offsets))
	staticSizes = make([]int, len(sizes))
	for i, offset := range offsets {
		if offset.IsStatic() {
			staticOffsets[i] = offset.Static
		} else {
			staticOffsets[i] = shapes.DimUnknown
			dynamic = append(dynamic, offset.Value)
		}
	}
	for i, size := range sizes {
		if size.IsStatic() {
			staticSizes[i] = size.Static
		} else {
			staticSizes[i] = shapes.DimUnknown
			dynamic = append(dynamic, size.Value)
		}
	}
	return
}

// ExtractSlice creates a tensor.extract_slice (unit strides) of source.
func (b *Builder) ExtractSlice(source *Value, offsets, sizes []OpFoldResult) *Op {
	staticOffsets, staticSizes, dynamic := mixedOperands(offsets, sizes)
	resultShape := source.Shape.WithDimensions(staticSizes...)
	return b.Create(OpKindExtractSlice, append([]*Value{source}, dynamic...), []shapes.Shape{resultShape},
		map[string]any{AttrStaticOffsets: staticOffsets, AttrStaticSizes: staticSizes})
}

// Subview creates a memref.subview (unit strides) of source.
func (b *Builder) Subview(source *Value, offsets, sizes []OpFoldResult) *Value {
	staticOffsets, staticSizes, dynamic := mixedOperands(offsets, sizes)
	resultShape := source.Shape.WithDimensions(staticSizes...)
	return b.Create(OpKindSubview, append([]*Value{source}, dynamic...), []shapes.Shape{resultShape},
		map[string]any{AttrStaticOffsets: staticOffsets, AttrStaticSizes: staticSizes}).Result(0)
}

// InsertSlice creates a tensor.insert_slice of source into dest.
func (b *Builder) InsertSlice(source, dest *Value, offsets, sizes []OpFoldResult) *Op {
	staticOffsets, staticSizes, dynamic := mixedOperands(offsets, sizes)
	return b.Create(OpKindInsertSlice, append([]*Value{source, dest}, dynamic...), []shapes.Shape{dest.Shape},
		map[string]any{AttrStaticOffsets: staticOffsets, AttrStaticSizes: staticSizes})
}

// ParallelInsertSlice creates a tensor.parallel_insert_slice of source into the shared output dest. It
// must be created inside the in_parallel terminator of a scf.forall.
func (b *Builder) ParallelInsertSlice(source, dest *Value, offsets, sizes []OpFoldResult) *Op {
	staticOffsets, staticSizes, dynamic := mixedOperands(offsets, sizes)
	return b.Create(OpKindParallelInsertSlice, append([]*Value{source, dest}, dynamic...), nil,
		map[string]any{AttrStaticOffsets: staticOffsets, AttrStaticSizes: staticSizes})
}

// sliceOperandStart returns the index of the first dynamic offset/size operand of a slice op.
func sliceOperandStart(op *Op) int {
	switch op.Kind {
	case OpKindInsertSlice, OpKindParallelInsertSlice:
		return 2
	default:
		return 1
	}
}

// SliceOffsets returns the offsets of an extract_slice, insert_slice, parallel_insert_slice or subview.
func SliceOffsets(op *Op) []OpFoldResult {
	offsets, _ := sliceParams(op)
	return offsets
}

// SliceSizes returns the sizes of an extract_slice, insert_slice, parallel_insert_slice or subview.
func SliceSizes(op *Op) []OpFoldResult {
	_, sizes := sliceParams(op)
	return sizes
}

func sliceParams(op *Op) (offsets, sizes []OpFoldResult) {
	next := sliceOperandStart(op)
	for _, offset := range op.IntsAttr(AttrStaticOffsets) {
		if offset == shapes.DimUnknown {
			offsets = append(offsets, OpFoldResult{Value: op.Operands[next]})
			next++
		} else {
			offsets = append(offsets, StaticIndex(offset))
		}
	}
	for _, size := range op.IntsAttr(AttrStaticSizes) {
		if size == shapes.DimUnknown {
			sizes = append(sizes, OpFoldResult{Value: op.Operands[next]})
			next++
		} else {
			sizes = append(sizes, StaticIndex(size))
		}
	}
	return
}

// SetSliceParams replaces the offsets and sizes of a slice op, keeping its source (and dest) operands.
func SetSliceParams(op *Op, offsets, sizes []OpFoldResult) {
	staticOffsets, staticSizes, dynamic := mixedOperands(offsets, sizes)
	op.Operands = append(slices.Clone(op.Operands[:sliceOperandStart(op)]), dynamic...)
	op.SetAttr(AttrStaticOffsets, staticOffsets)
	op.SetAttr(AttrStaticSizes, staticSizes)
	if op.Kind == OpKindExtractSlice || op.Kind == OpKindSubview {
		op.Results[0].Shape = op.Results[0].Shape.WithDimensions(staticSizes...)
	}
}

// IsFullSlice returns whether a slice op covers its whole source (extract) or destination (insert).
func IsFullSlice(op *Op) bool {
	offsets, sizes := sliceParams(op)
	full := op.Operands[0]
	if op.Kind == OpKindInsertSlice || op.Kind == OpKindParallelInsertSlice {
		full = op.Operands[1]
	}
	if full.Shape.IsDynamic() {
		return false
	}
	for i, offset := range offsets {
		if !offset.IsStatic() || offset.Static != 0 {
			return false
		}
		if !sizes[i].IsStatic() || sizes[i].Static != full.Shape.Dimensions[i] {
			return false
		}
	}
	return true
}

// DimValue returns the size of dimension dim of a shaped value: static if known, otherwise the dynamic
// size traced through the producers of v.
func DimValue(v *Value, dim int) (OpFoldResult, bool) {
	if size := v.Shape.Dimensions[dim]; size != shapes.DimUnknown {
		return StaticIndex(size), true
	}
	def := v.DefiningOp()
	if def == nil {
		return OpFoldResult{}, false
	}
	switch def.Kind {
	case OpKindExtractSlice, OpKindSubview:
		return SliceSizes(def)[dim], true
	case OpKindEmpty, OpKindAlloc:
		// Dynamic sizes are operands, in the order of the dynamic dimensions.
		next := 0
		for i := 0; i < dim; i++ {
			if def.Results[0].Shape.Dimensions[i] == shapes.DimUnknown {
				next++
			}
		}
		return OpFoldResult{Value: def.Operands[next]}, true
	case OpKindFill, OpKindGeneric:
		l := MustLinalg(def)
		return DimValue(l.Inits()[v.Index()], dim)
	case OpKindTransferWrite:
		return DimValue(def.Operands[1], dim)
	case OpKindInsertSlice:
		return DimValue(def.Operands[1], dim)
	case OpKindFor:
		return DimValue(def.Operands[3+v.Index()], dim)
	case OpKindForall:
		return DimValue(def.Operands[v.Index()], dim)
	}
	return OpFoldResult{}, false
}
