package rewrite

import (
	"slices"

	"github.com/gomlx/go-xform/pkg/payload"
)

// bubbleExpandPattern moves a tensor.expand_shape above the elementwise linalg.generic producing its source,
// so the generic works directly on the expanded shape. The original generic is erased.
var bubbleExpandPattern = Pattern{
	Name:    "bubble-expand-through-elementwise",
	Kinds:   []payload.OpKind{payload.OpKindExpandShape},
	Rewrite: bubbleExpandThroughElementwise,
}

var reassociativeReshapePatterns = []Pattern{
	{
		Name:    "fold-reshape-of-reshape",
		Kinds:   []payload.OpKind{payload.OpKindExpandShape, payload.OpKindCollapseShape},
		Rewrite: foldReshapeOfReshape,
	},
	{
		Name:    "fold-reshape-of-empty",
		Kinds:   []payload.OpKind{payload.OpKindExpandShape, payload.OpKindCollapseShape},
		Rewrite: foldReshapeOfEmpty,
	},
}

func isIdentityMap(m []int, numLoops int) bool {
	return len(m) == numLoops && isIdentityPermutation(m)
}

func bubbleExpandThroughElementwise(rw *Rewriter, expand *payload.Op) bool {
	source := expand.Operands[0]
	producer := source.DefiningOp()
	if producer == nil || producer.Kind != payload.OpKindGeneric || !source.Shape.IsTensor() {
		return false
	}
	l := payload.MustLinalg(producer)
	if !l.IsElementwise() || len(producer.Results) != 1 || len(source.Uses()) != 1 {
		return false
	}
	for _, m := range l.IndexingMaps {
		if !isIdentityMap(m, l.NumLoops()) {
			return false
		}
	}
	reassociation := expand.Attributes[payload.AttrReassociation].([][]int)
	resultDims := expand.Results[0].Shape.Dimensions
	expandOperand := func(v *payload.Value) *payload.Value {
		return rw.ExpandShape(v, reassociation, resultDims)
	}
	spec := payload.GenericSpec{
		IteratorTypes: make([]payload.IteratorType, len(resultDims)),
		Fn:            l.Fn(),
	}
	identity := make([]int, len(resultDims))
	for i := range identity {
		identity[i] = i
	}
	for _, input := range l.Inputs() {
		spec.Inputs = append(spec.Inputs, expandOperand(input))
		spec.IndexingMaps = append(spec.IndexingMaps, slices.Clone(identity))
	}
	for _, init := range l.Inits() {
		spec.Inits = append(spec.Inits, expandOperand(init))
		spec.IndexingMaps = append(spec.IndexingMaps, slices.Clone(identity))
	}
	bubbled := rw.Generic(spec)
	rw.ReplaceOp(expand, bubbled.Result(0))
	rw.Erase(producer)
	return true
}

func foldReshapeOfReshape(rw *Rewriter, op *payload.Op) bool {
	def := op.Operands[0].DefiningOp()
	if def == nil {
		return false
	}
	inverse := payload.OpKindCollapseShape
	if op.Kind == payload.OpKindCollapseShape {
		inverse = payload.OpKindExpandShape
	}
	if def.Kind != inverse {
		return false
	}
	original := def.Operands[0]
	if !original.Shape.Equal(op.Results[0].Shape) {
		return false
	}
	rw.ReplaceOp(op, original)
	return true
}

func foldReshapeOfEmpty(rw *Rewriter, op *payload.Op) bool {
	def := op.Operands[0].DefiningOp()
	result := op.Results[0]
	if def == nil || def.Kind != payload.OpKindEmpty || result.Shape.IsDynamic() {
		return false
	}
	rw.ReplaceOp(op, rw.Empty(result.Shape))
	return true
}
