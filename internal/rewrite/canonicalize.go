package rewrite

import (
	"slices"

	"github.com/gomlx/go-xform/pkg/payload"
)

var canonicalizationPatterns = []Pattern{
	{
		Name:    "fold-constant-affine",
		Kinds:   []payload.OpKind{payload.OpKindAffineApply, payload.OpKindAffineMin},
		Rewrite: foldConstantAffine,
	},
	{
		Name:    "fold-trivial-affine-apply",
		Kinds:   []payload.OpKind{payload.OpKindAffineApply},
		Rewrite: foldTrivialAffineApply,
	},
	{
		Name: "fold-constant-slice-offsets",
		Kinds: []payload.OpKind{payload.OpKindExtractSlice, payload.OpKindInsertSlice,
			payload.OpKindParallelInsertSlice, payload.OpKindSubview},
		Rewrite: foldConstantSliceOffsets,
	},
	{
		Name:    "fold-full-extract-slice",
		Kinds:   []payload.OpKind{payload.OpKindExtractSlice, payload.OpKindSubview},
		Rewrite: foldFullExtractSlice,
	},
	{
		Name:    "fold-full-insert-slice",
		Kinds:   []payload.OpKind{payload.OpKindInsertSlice},
		Rewrite: foldFullInsertSlice,
	},
	{
		Name:    "fold-extract-of-insert-slice",
		Kinds:   []payload.OpKind{payload.OpKindExtractSlice},
		Rewrite: foldExtractOfInsertSlice,
	},
	{
		Name:    "fold-read-after-write",
		Kinds:   []payload.OpKind{payload.OpKindTransferRead},
		Rewrite: foldReadAfterWrite,
	},
	{
		Name:    "fold-noop-vector-cast",
		Kinds:   []payload.OpKind{payload.OpKindShapeCast, payload.OpKindBroadcast, payload.OpKindTranspose},
		Rewrite: foldNoopVectorCast,
	},
	{
		Name:    "fold-trivial-pad",
		Kinds:   []payload.OpKind{payload.OpKindPad},
		Rewrite: foldTrivialPad,
	},
	{
		Name:    "fold-for-passthrough-iter-args",
		Kinds:   []payload.OpKind{payload.OpKindFor},
		Rewrite: foldForPassthroughIterArgs,
	},
}

// evalAffine evaluates sum(coefficients[i] * operands[i]) + constant.
func evalAffine(op *payload.Op, operands []int) int {
	result := op.IntAttr(payload.AttrConstant)
	for i, coef := range op.IntsAttr(payload.AttrCoefficients) {
		result += coef * operands[i]
	}
	return result
}

func foldConstantAffine(rw *Rewriter, op *payload.Op) bool {
	operands := make([]int, len(op.Operands))
	for i, operand := range op.Operands {
		c, ok := payload.ConstantIntValue(operand)
		if !ok {
			return false
		}
		operands[i] = c
	}
	value := evalAffine(op, operands)
	if op.Kind == payload.OpKindAffineMin {
		value = min(value, op.IntAttr(payload.AttrBound))
	}
	rw.ReplaceOp(op, rw.ConstantIndex(value))
	return true
}

func foldTrivialAffineApply(rw *Rewriter, op *payload.Op) bool {
	coefficients := op.IntsAttr(payload.AttrCoefficients)
	constant := op.IntAttr(payload.AttrConstant)
	if len(op.Operands) == 1 && coefficients[0] == 1 && constant == 0 {
		rw.ReplaceOp(op, op.Operands[0])
		return true
	}
	if len(op.Operands) > 0 && !slices.ContainsFunc(coefficients, func(c int) bool { return c != 0 }) {
		rw.ReplaceOp(op, rw.ConstantIndex(constant))
		return true
	}
	return false
}

// foldConstantSliceOffsets turns constant dynamic offsets into static ones. Sizes are left alone since
// folding them would change the type of the slice.
func foldConstantSliceOffsets(_ *Rewriter, op *payload.Op) bool {
	offsets, sizes := payload.SliceOffsets(op), payload.SliceSizes(op)
	changed := false
	for i, offset := range offsets {
		if offset.IsStatic() {
			continue
		}
		if folded := payload.DynamicIndex(offset.Value); folded.IsStatic() {
			offsets[i] = folded
			changed = true
		}
	}
	if changed {
		payload.SetSliceParams(op, offsets, sizes)
	}
	return changed
}

func foldFullExtractSlice(rw *Rewriter, op *payload.Op) bool {
	source := op.Operands[0]
	if !payload.IsFullSlice(op) || !source.Shape.Equal(op.Results[0].Shape) {
		return false
	}
	rw.ReplaceOp(op, source)
	return true
}

func foldFullInsertSlice(rw *Rewriter, op *payload.Op) bool {
	source, dest := op.Operands[0], op.Operands[1]
	if !payload.IsFullSlice(op) || !source.Shape.Equal(dest.Shape) {
		return false
	}
	rw.ReplaceOp(op, source)
	return true
}

func sameSliceParams(a, b *payload.Op) bool {
	return slices.EqualFunc(payload.SliceOffsets(a), payload.SliceOffsets(b), payload.OpFoldResult.Equal) &&
		slices.EqualFunc(payload.SliceSizes(a), payload.SliceSizes(b), payload.OpFoldResult.Equal)
}

func foldExtractOfInsertSlice(rw *Rewriter, op *payload.Op) bool {
	insert := op.Operands[0].DefiningOp()
	if insert == nil || insert.Kind != payload.OpKindInsertSlice || !sameSliceParams(op, insert) {
		return false
	}
	inserted := insert.Operands[0]
	if !inserted.Shape.Equal(op.Results[0].Shape) {
		return false
	}
	rw.ReplaceOp(op, inserted)
	return true
}

// isUnmaskedInBounds returns whether a transfer op has no mask and no out-of-bounds dimension.
func isUnmaskedInBounds(op *payload.Op) bool {
	if payload.TransferMask(op) != nil {
		return false
	}
	return !slices.Contains(op.BoolsAttr(payload.AttrInBounds), false)
}

func foldReadAfterWrite(rw *Rewriter, op *payload.Op) bool {
	write := op.Operands[0].DefiningOp()
	if write == nil || write.Kind != payload.OpKindTransferWrite {
		return false
	}
	if !isUnmaskedInBounds(op) || !isUnmaskedInBounds(write) {
		return false
	}
	if !slices.Equal(payload.TransferIndices(op), payload.TransferIndices(write)) ||
		!slices.Equal(op.IntsAttr(payload.AttrPermutation), write.IntsAttr(payload.AttrPermutation)) {
		return false
	}
	written := write.Operands[0]
	if !written.Shape.Equal(op.Results[0].Shape) {
		return false
	}
	rw.ReplaceOp(op, written)
	return true
}

func isIdentityPermutation(perm []int) bool {
	for i, p := range perm {
		if i != p {
			return false
		}
	}
	return true
}

func foldNoopVectorCast(rw *Rewriter, op *payload.Op) bool {
	source := op.Operands[0]
	result := op.Results[0]
	switch op.Kind {
	case payload.OpKindShapeCast:
		if source.Shape.Equal(result.Shape) {
			rw.ReplaceOp(op, source)
			return true
		}
		def := source.DefiningOp()
		if def == nil {
			return false
		}
		if def.Kind == payload.OpKindShapeCast || def.Kind == payload.OpKindBroadcast {
			// shape_cast(shape_cast(x)) and shape_cast(broadcast(x)) are x when the types match.
			if inner := def.Operands[0]; inner.Shape.Equal(result.Shape) {
				rw.ReplaceOp(op, inner)
				return true
			}
		}
		if def.Kind == payload.OpKindShapeCast {
			op.Operands[0] = def.Operands[0]
			return true
		}
	case payload.OpKindBroadcast:
		if source.Shape.Equal(result.Shape) {
			rw.ReplaceOp(op, source)
			return true
		}
	case payload.OpKindTranspose:
		perm := op.IntsAttr(payload.AttrPermutation)
		if isIdentityPermutation(perm) {
			rw.ReplaceOp(op, source)
			return true
		}
		def := source.DefiningOp()
		if def != nil && def.Kind == payload.OpKindTranspose {
			inner := def.IntsAttr(payload.AttrPermutation)
			composed := make([]int, len(perm))
			for i, p := range perm {
				composed[i] = inner[p]
			}
			if isIdentityPermutation(composed) {
				rw.ReplaceOp(op, def.Operands[0])
				return true
			}
		}
	}
	return false
}

// foldForPassthroughIterArgs removes the iteration arguments of a scf.for that are yielded unchanged: their
// value is the init all along.
func foldForPassthroughIterArgs(_ *Rewriter, loop *payload.Op) bool {
	yield := loop.Body.Terminator()
	if yield == nil {
		return false
	}
	changed := false
	for k := len(payload.ForIterArgs(loop)) - 1; k >= 0; k-- {
		iterArg := payload.ForIterArgs(loop)[k]
		if yield.Operands[k] != iterArg {
			continue
		}
		init := payload.ForInits(loop)[k]
		loop.Results[k].ReplaceAllUsesWith(init)
		iterArg.ReplaceUsesIf(init, func(use payload.Use) bool { return use.Owner != yield })
		payload.EraseForIterArg(loop, k)
		changed = true
	}
	return changed
}

// foldTrivialPad removes a tensor.pad that pads nothing, unless it is marked nofold.
func foldTrivialPad(rw *Rewriter, op *payload.Op) bool {
	if op.BoolAttr(payload.AttrNoFold) {
		return false
	}
	isZero := func(v int) bool { return v == 0 }
	low, high := op.IntsAttr(payload.AttrLow), op.IntsAttr(payload.AttrHigh)
	if !all(low, isZero) || !all(high, isZero) {
		return false
	}
	rw.ReplaceOp(op, op.Operands[0])
	return true
}

func all[T any](values []T, predicate func(T) bool) bool {
	return !slices.ContainsFunc(values, func(v T) bool { return !predicate(v) })
}
