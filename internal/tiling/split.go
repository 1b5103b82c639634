package tiling

import (
	"slices"

	"github.com/gomlx/go-xform/internal/shapeinference"
	"github.com/gomlx/go-xform/pkg/payload"
	"github.com/gomlx/go-xform/pkg/types/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// SplitOptions configures SplitReduction.
type SplitOptions struct {
	// SplitFactor is the size of the new parallel loop. It must divide the range of the reduction loop.
	SplitFactor int

	// InsertSplitDimension is the position of the new parallel dimension in the partial result.
	InsertSplitDimension int

	// InnerParallel makes the new parallel loop the inner one of the two loops the reduction loop is split
	// into.
	InnerParallel bool
}

// SplitResult holds the ops created by SplitReduction.
type SplitResult struct {
	// Fill initializes the partial result with the neutral value of the combiner.
	Fill *payload.Op

	// Split is the partial reduction, with one more parallel loop than the original op.
	Split *payload.Op

	// Combiner reduces the partial result into the original init. It replaces the original op.
	Combiner *payload.Op
}

// SplitReduction splits the reduction loop of op into a parallel loop of SplitFactor iterations and a
// reduction loop, computing a partial result with one more dimension that a combiner op then reduces.
// Inputs indexed by the reduction loop are reshaped with a tensor.expand_shape.
func SplitReduction(op *payload.Op, opts SplitOptions) (*SplitResult, error) {
	l, err := payload.AsLinalg(op)
	if err != nil {
		return nil, err
	}
	if op.Kind != payload.OpKindGeneric {
		return nil, errors.Errorf("cannot split %s, only linalg.generic reductions can be split", op.Name())
	}
	if err = tensorSemantics(l); err != nil {
		return nil, err
	}
	red, err := singleReductionLoop(l)
	if err != nil {
		return nil, err
	}
	factor := opts.SplitFactor
	reductionRange := l.LoopRanges()[red]
	if factor <= 1 || reductionRange == shapes.DimUnknown || reductionRange%factor != 0 {
		return nil, errors.Errorf("split factor %d doesn't divide the reduction loop of %s of range %d",
			factor, op.Name(), reductionRange)
	}

	// Loop red becomes the loops (red, red+1), one of which is the new parallel loop.
	parallelLoop := red
	iterators := slices.Clone(l.IteratorTypes)
	iterators = slices.Insert(iterators, red+1, payload.Reduction)
	if opts.InnerParallel {
		parallelLoop = red + 1
	}
	iterators[red], iterators[red+1] = payload.Reduction, payload.Reduction
	iterators[parallelLoop] = payload.Parallel
	renumber := func(loop int) int {
		if loop != payload.UnitDim && loop > red {
			return loop + 1
		}
		return loop
	}

	g := op.Graph()
	b := g.NewBuilder().SetInsertionPointBefore(op)
	inputs := make([]*payload.Value, l.NumInputs)
	maps := make([][]int, 0, len(op.Operands))
	for i, input := range l.Inputs() {
		m := l.OperandMap(i)
		newMap := make([]int, 0, len(m)+1)
		expandDim := -1
		for j, loop := range m {
			if loop == red {
				expandDim = j
				newMap = append(newMap, red, red+1)
				continue
			}
			newMap = append(newMap, renumber(loop))
		}
		inputs[i] = input
		if expandDim >= 0 {
			dims, reassociation, err := shapeinference.SplitDim(input.Shape.Dimensions, expandDim, factor, opts.InnerParallel)
			if err != nil {
				return nil, errors.WithMessagef(err, "splitting input #%d of %s", i, op.Name())
			}
			inputs[i] = b.ExpandShape(input, reassociation, dims)
		}
		maps = append(maps, newMap)
	}

	init := l.Inits()[0]
	initMap := l.OperandMap(l.NumInputs)
	pos := opts.InsertSplitDimension
	if pos < 0 || pos > len(initMap) {
		return nil, errors.Errorf("cannot insert the split dimension at position %d of the rank %d result of %s",
			pos, len(initMap), op.Name())
	}
	partialMap := make([]int, 0, len(initMap)+1)
	for _, loop := range initMap {
		partialMap = append(partialMap, renumber(loop))
	}
	partialMap = slices.Insert(partialMap, pos, parallelLoop)
	maps = append(maps, partialMap)

	empty, err := partialDestination(b, init, pos, factor)
	if err != nil {
		return nil, err
	}
	fill, err := neutralFill(b, l.Fn(), empty)
	if err != nil {
		return nil, errors.WithMessagef(err, "splitting %s", op.Name())
	}
	split := b.Generic(payload.GenericSpec{
		Inputs:        inputs,
		Inits:         []*payload.Value{fill.Result(0)},
		IteratorTypes: iterators,
		IndexingMaps:  maps,
		Fn:            l.Fn(),
	})
	combined := combiner(b, split.Result(0), init, pos, l.Fn())
	klog.V(2).Infof("split reduction: %s split by %d, partial result %s", op.Name(), factor, split.Results[0].Shape)
	g.ReplaceOp(op, combined.Result(0))
	return &SplitResult{Fill: fill, Split: split, Combiner: combined}, nil
}
