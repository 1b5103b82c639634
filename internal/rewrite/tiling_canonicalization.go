package rewrite

import (
	"github.com/gomlx/go-xform/pkg/payload"
	"github.com/gomlx/go-xform/pkg/types/shapes"
)

var tilingCanonicalizationPatterns = []Pattern{
	{
		Name:    "swap-extract-slice-of-fill",
		Kinds:   []payload.OpKind{payload.OpKindExtractSlice},
		Rewrite: swapExtractSliceOfFill,
	},
	{
		Name:    "fold-extract-slice-of-empty",
		Kinds:   []payload.OpKind{payload.OpKindExtractSlice},
		Rewrite: foldExtractSliceOfEmpty,
	},
	{
		Name:    "fold-single-thread-forall-iv",
		Kinds:   []payload.OpKind{payload.OpKindForall},
		Rewrite: foldSingleThreadForallIVs,
	},
	{
		Name:    "fold-affine-min-over-loop-range",
		Kinds:   []payload.OpKind{payload.OpKindAffineMin},
		Rewrite: foldAffineMinOverLoopRange,
	},
}

// swapExtractSliceOfFill rewrites extract_slice(fill(v, init)) into fill(v, extract_slice(init)).
func swapExtractSliceOfFill(rw *Rewriter, op *payload.Op) bool {
	fill := op.Operands[0].DefiningOp()
	if fill == nil || fill.Kind != payload.OpKindFill || len(fill.Results) == 0 {
		return false
	}
	slice := rw.ExtractSlice(fill.Operands[1], payload.SliceOffsets(op), payload.SliceSizes(op))
	newFill := rw.Fill(fill.Operands[0], slice.Result(0))
	rw.ReplaceOp(op, newFill.Result(0))
	return true
}

// foldExtractSliceOfEmpty rewrites extract_slice(empty) into a smaller empty.
func foldExtractSliceOfEmpty(rw *Rewriter, op *payload.Op) bool {
	empty := op.Operands[0].DefiningOp()
	if empty == nil || empty.Kind != payload.OpKindEmpty {
		return false
	}
	var dynamicSizes []*payload.Value
	for _, size := range payload.SliceSizes(op) {
		if !size.IsStatic() {
			dynamicSizes = append(dynamicSizes, size.Value)
		}
	}
	rw.ReplaceOp(op, rw.Empty(op.Results[0].Shape, dynamicSizes...))
	return true
}

// foldSingleThreadForallIVs replaces the induction variables of single-thread forall dimensions by 0.
// Foralls mapped to workgroups or threads are left alone: they still receive their producers by fusion,
// which needs the slices of the shared outputs to stay in the loop.
func foldSingleThreadForallIVs(rw *Rewriter, forall *payload.Op) bool {
	if len(forall.StringsAttr(payload.AttrMapping)) > 0 {
		return false
	}
	changed := false
	for i, iv := range payload.ForallIVs(forall) {
		if forall.IntsAttr(payload.AttrNumThreads)[i] != 1 || !iv.HasUses() {
			continue
		}
		iv.ReplaceAllUsesWith(rw.ConstantIndex(0))
		changed = true
	}
	return changed
}

// ivRange returns the inclusive range of values a loop induction variable takes, if statically known.
func ivRange(v *payload.Value) (lo, hi int, ok bool) {
	if c, isConst := payload.ConstantIntValue(v); isConst {
		return c, c, true
	}
	if !v.IsBlockArgument() || v.OwnerBlock() == nil {
		return 0, 0, false
	}
	loop := v.OwnerBlock().Owner()
	switch loop.Kind {
	case payload.OpKindForall:
		numThreads := loop.IntsAttr(payload.AttrNumThreads)
		if v.Index() >= len(numThreads) {
			return 0, 0, false
		}
		return 0, numThreads[v.Index()] - 1, true
	case payload.OpKindFor:
		if v.Index() != 0 {
			return 0, 0, false
		}
		lb, okLb := payload.ConstantIntValue(loop.Operands[0])
		ub, okUb := payload.ConstantIntValue(loop.Operands[1])
		step, okStep := payload.ConstantIntValue(loop.Operands[2])
		if !okLb || !okUb || !okStep || step <= 0 || ub <= lb {
			return 0, 0, false
		}
		return lb, lb + ((ub-lb-1)/step)*step, true
	}
	return 0, 0, false
}

// foldAffineMinOverLoopRange folds min(bound, expr) to bound when expr is never below bound over the
// ranges of the loop induction variables it uses.
func foldAffineMinOverLoopRange(rw *Rewriter, op *payload.Op) bool {
	bound := op.IntAttr(payload.AttrBound)
	if bound == shapes.DimUnknown {
		return false
	}
	lowest := op.IntAttr(payload.AttrConstant)
	for i, coef := range op.IntsAttr(payload.AttrCoefficients) {
		lo, hi, ok := ivRange(op.Operands[i])
		if !ok {
			return false
		}
		if coef >= 0 {
			lowest += coef * lo
		} else {
			lowest += coef * hi
		}
	}
	if lowest < bound {
		return false
	}
	rw.ReplaceOp(op, rw.ConstantIndex(bound))
	return true
}
