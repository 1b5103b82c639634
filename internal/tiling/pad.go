package tiling

import (
	"slices"

	"github.com/gomlx/go-xform/internal/shapeinference"
	"github.com/gomlx/go-xform/pkg/payload"
	"github.com/gomlx/go-xform/pkg/types/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// PadOptions configures Pad.
type PadOptions struct {
	// PaddingValues has the padding value of each operand.
	PaddingValues []float64

	// PaddingDimensions lists the loops whose extent is padded.
	PaddingDimensions []int

	// PadToMultipleOf gives, for each padding dimension, the multiple its extent is rounded up to. Missing
	// entries default to 1, which only creates the tensor.pad ops.
	PadToMultipleOf []int

	// PackPaddings marks, per operand, the tensor.pad that must not be folded away even if it pads nothing,
	// so that it can later be hoisted and packed.
	PackPaddings []bool

	// TransposePaddings gives, per input operand, an optional permutation applied to the padded operand:
	// the op then reads the transposed copy.
	TransposePaddings [][]int
}

// Pad pads the operands of op along the padding dimensions, rounding the extent of these loops up to a
// multiple, and replaces op by an op computing on the padded operands whose results are sliced back to
// the original sizes. Only static extents can be padded.
// It returns the padded op.
func Pad(op *payload.Op, opts PadOptions) (*payload.Op, error) {
	l, err := payload.AsLinalg(op)
	if err != nil {
		return nil, err
	}
	if err = tensorSemantics(l); err != nil {
		return nil, err
	}
	if len(opts.PaddingValues) != len(op.Operands) {
		return nil, errors.Errorf("%d padding values given for the %d operands of %s", len(opts.PaddingValues),
			len(op.Operands), op.Name())
	}
	if len(opts.TransposePaddings) > l.NumInputs {
		return nil, errors.Errorf("transposed paddings are only supported for the %d inputs of %s", l.NumInputs,
			op.Name())
	}
	ranges := l.LoopRanges()
	padded := slices.Clone(ranges)
	for i, loop := range opts.PaddingDimensions {
		if loop < 0 || loop >= l.NumLoops() {
			return nil, errors.Errorf("invalid padding dimension %d for the %d loops of %s", loop, l.NumLoops(),
				op.Name())
		}
		if ranges[loop] == shapes.DimUnknown {
			return nil, errors.Errorf("cannot pad the dynamic loop %d of %s", loop, op.Name())
		}
		multiple := 1
		if i < len(opts.PadToMultipleOf) && opts.PadToMultipleOf[i] > 0 {
			multiple = opts.PadToMultipleOf[i]
		}
		padded[loop] = shapeinference.CeilDiv(ranges[loop], multiple) * multiple
	}

	g := op.Graph()
	b := g.NewBuilder().SetInsertionPointBefore(op)
	operands := slices.Clone(op.Operands)
	maps := slices.Clone(l.IndexingMaps)
	for i, operand := range op.Operands {
		if !operand.Shape.IsShaped() {
			continue
		}
		m := l.OperandMap(i)
		low := make([]int, len(m))
		high := make([]int, len(m))
		for j, loop := range m {
			if loop != payload.UnitDim && slices.Contains(opts.PaddingDimensions, loop) {
				high[j] = padded[loop] - ranges[loop]
			}
		}
		pack := i < len(opts.PackPaddings) && opts.PackPaddings[i]
		if !pack && !slices.ContainsFunc(high, func(h int) bool { return h > 0 }) &&
			(i >= len(opts.TransposePaddings) || opts.TransposePaddings[i] == nil) {
			continue
		}
		operands[i] = b.Pad(operand, low, high, opts.PaddingValues[i])
		if pack {
			operands[i].DefiningOp().SetAttr(payload.AttrNoFold, true)
		}
		if i < len(opts.TransposePaddings) && opts.TransposePaddings[i] != nil {
			operands[i], maps[i], err = transposeOperand(b, operands[i], m, opts.TransposePaddings[i])
			if err != nil {
				return nil, errors.WithMessagef(err, "transposing the padding of operand #%d of %s", i, op.Name())
			}
		}
	}

	paddedOp := b.CloneStructured(op, operands)
	paddedOp.SetAttr(payload.AttrIndexingMaps, maps)
	results := make([]*payload.Value, len(op.Results))
	for k, result := range op.Results {
		results[k] = paddedOp.Result(k)
		if result.Shape.Equal(results[k].Shape) {
			continue
		}
		offsets := payload.StaticIndices(make([]int, result.Shape.Rank())...)
		sizes := make([]payload.OpFoldResult, result.Shape.Rank())
		for j := range sizes {
			size, ok := payload.DimValue(l.Inits()[k], j)
			if !ok {
				return nil, errors.Errorf("cannot compute dimension %d of result #%d of %s", j, k, op.Name())
			}
			sizes[j] = size
		}
		results[k] = b.ExtractSlice(results[k], offsets, sizes).Result(0)
	}
	klog.V(2).Infof("pad: %s padded to loop ranges %v", op.Name(), padded)
	g.ReplaceOp(op, results...)
	return paddedOp, nil
}

// transposeOperand copies operand, indexed by m, into a tensor whose dimension j is dimension perm[j] of
// operand. It returns the copy and its indexing map.
func transposeOperand(b *payload.Builder, operand *payload.Value, m, perm []int) (*payload.Value, []int, error) {
	rank := operand.Shape.Rank()
	if len(perm) != rank {
		return nil, nil, errors.Errorf("permutation %v given for a rank %d operand", perm, rank)
	}
	dims := make([]int, rank)
	transposedMap := make([]int, rank)
	inputMap := make([]int, rank)
	identity := make([]int, rank)
	seen := make([]bool, rank)
	for j, d := range perm {
		if d < 0 || d >= rank || seen[d] {
			return nil, nil, errors.Errorf("invalid permutation %v", perm)
		}
		seen[d] = true
		dims[j] = operand.Shape.Dimensions[d]
		transposedMap[j] = m[d]
		inputMap[d] = j
		identity[j] = j
	}
	if slices.Contains(dims, shapes.DimUnknown) {
		return nil, nil, errors.New("cannot transpose a dynamic operand")
	}
	iterators := make([]payload.IteratorType, rank)
	transposed := b.Generic(payload.GenericSpec{
		Inputs:        []*payload.Value{operand},
		Inits:         []*payload.Value{b.Empty(shapes.Make(operand.Shape.DType, dims...))},
		IteratorTypes: iterators,
		IndexingMaps:  [][]int{inputMap, identity},
		Fn:            "copy",
	})
	return transposed.Result(0), transposedMap, nil
}
