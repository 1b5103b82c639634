package rewrite

import (
	"slices"

	"github.com/gomlx/go-xform/pkg/payload"
	"github.com/gomlx/go-xform/pkg/types/shapes"
	"k8s.io/klog/v2"
)

// LowerMasks rewrites the vector.create_mask ops with constant sizes nested in scope into
// vector.constant_mask. It returns the number of masks lowered.
func LowerMasks(scope *payload.Op) int {
	g := scope.Graph()
	count := 0
	for _, op := range scope.Collect(func(op *payload.Op) bool { return op.Kind == payload.OpKindCreateMask }) {
		sizes := make([]int, len(op.Operands))
		constant := true
		for i, operand := range op.Operands {
			sizes[i], constant = payload.ConstantIntValue(operand)
			if !constant {
				break
			}
		}
		if !constant {
			continue
		}
		b := g.NewBuilder().SetInsertionPointBefore(op)
		g.ReplaceOp(op, b.ConstantMask(op.Results[0].Shape.Dimensions, sizes))
		count++
	}
	return count
}

// MaterializeMasks rewrites the vector.constant_mask ops nested in scope into arith.constant vectors of i1.
// It returns the number of masks materialized.
func MaterializeMasks(scope *payload.Op) int {
	g := scope.Graph()
	count := 0
	for _, op := range scope.Collect(func(op *payload.Op) bool { return op.Kind == payload.OpKindConstantMask }) {
		b := g.NewBuilder().SetInsertionPointBefore(op)
		constant := b.Create(payload.OpKindConstant, nil, []shapes.Shape{op.Results[0].Shape}, map[string]any{
			payload.AttrValue:        1.0,
			payload.AttrMaskDimSizes: slices.Clone(op.IntsAttr(payload.AttrMaskDimSizes)),
		})
		g.ReplaceOp(op, constant.Result(0))
		count++
	}
	return count
}

// maskSizes returns the number of active lanes of each dimension of a mask, if it is known.
func maskSizes(mask *payload.Value) ([]payload.OpFoldResult, bool) {
	def := mask.DefiningOp()
	if def == nil {
		return nil, false
	}
	switch def.Kind {
	case payload.OpKindCreateMask:
		sizes := make([]payload.OpFoldResult, len(def.Operands))
		for i, operand := range def.Operands {
			sizes[i] = payload.DynamicIndex(operand)
		}
		return sizes, true
	case payload.OpKindConstantMask, payload.OpKindConstant:
		static := def.IntsAttr(payload.AttrMaskDimSizes)
		if static == nil {
			return nil, false
		}
		return payload.StaticIndices(static...), true
	}
	return nil, false
}

// LowerMaskedTransfers drops the masks of the transfer ops nested in scope when they are redundant: masks
// with all lanes active are removed, and masks that exactly cover the transferred tensor are replaced by
// out-of-bounds dimensions. It returns the number of transfers rewritten.
func LowerMaskedTransfers(scope *payload.Op) int {
	count := 0
	scope.Walk(func(op *payload.Op) {
		if op.Kind != payload.OpKindTransferRead && op.Kind != payload.OpKindTransferWrite {
			return
		}
		mask := payload.TransferMask(op)
		if mask == nil {
			return
		}
		sizes, ok := maskSizes(mask)
		if !ok {
			return
		}
		vectorShape := payload.TransferVectorShape(op)
		source := payload.TransferSource(op)
		perm := op.IntsAttr(payload.AttrPermutation)
		inBounds := slices.Clone(op.BoolsAttr(payload.AttrInBounds))
		if inBounds == nil {
			inBounds = make([]bool, vectorShape.Rank())
			for i := range inBounds {
				inBounds[i] = true
			}
		}
		for i, size := range sizes {
			if size.IsStatic() && size.Static == vectorShape.Dimensions[i] {
				continue
			}
			sourceDim := minorIdentitySourceDim(source.Shape, vectorShape, i)
			if perm != nil {
				sourceDim = perm[i]
			}
			extent, known := payload.DimValue(source, sourceDim)
			if !known || !extent.Equal(size) {
				return
			}
			inBounds[i] = false
		}
		op.Operands = op.Operands[:len(op.Operands)-1]
		op.RemoveAttr(payload.AttrHasMask)
		if slices.Contains(inBounds, false) {
			op.SetAttr(payload.AttrInBounds, inBounds)
		} else {
			op.RemoveAttr(payload.AttrInBounds)
		}
		klog.V(2).Infof("masks: dropped the mask of %s, in_bounds=%v", op.Name(), inBounds)
		count++
	})
	return count
}
