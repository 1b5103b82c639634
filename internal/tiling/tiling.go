// Package tiling implements the structural rewrites of structured ops: tiling into scf.forall or scf.for
// loops, fusion of producers into a containing loop, reduction splitting, reduction tiling with a
// parallel loop and padding.
//
// All functions mutate the graph of the op they are given, and report the replacements through
// payload.Graph.ReplaceOp, so that listeners (the transform interpreter) can track handles.
package tiling

import (
	"github.com/gomlx/go-xform/internal/shapeinference"
	"github.com/gomlx/go-xform/pkg/payload"
	"github.com/gomlx/go-xform/pkg/types/dtypes"
	"github.com/gomlx/go-xform/pkg/types/shapes"
	"github.com/pkg/errors"
)

// loopTile is the part of the iteration space of a structured op covered by one tile: the offset and size
// of each loop.
type loopTile struct {
	offsets, sizes []payload.OpFoldResult
}

// fullTile returns the tile covering the whole iteration space of l.
func fullTile(l *payload.Linalg) (loopTile, error) {
	t := loopTile{
		offsets: make([]payload.OpFoldResult, l.NumLoops()),
		sizes:   make([]payload.OpFoldResult, l.NumLoops()),
	}
	for loop := range l.NumLoops() {
		extent, ok := l.LoopRangeValue(loop)
		if !ok {
			return loopTile{}, errors.Errorf("cannot compute the extent of loop %d of %s", loop, l.Op.Name())
		}
		t.offsets[loop] = payload.StaticIndex(0)
		t.sizes[loop] = extent
	}
	return t, nil
}

// operandSlice returns the offsets and sizes of the slice of an operand with indexing map m covering the
// tile. Unit dimensions are taken whole.
func (t loopTile) operandSlice(m []int) (offsets, sizes []payload.OpFoldResult) {
	offsets = make([]payload.OpFoldResult, len(m))
	sizes = make([]payload.OpFoldResult, len(m))
	for j, loop := range m {
		if loop == payload.UnitDim {
			offsets[j], sizes[j] = payload.StaticIndex(0), payload.StaticIndex(1)
			continue
		}
		offsets[j], sizes[j] = t.offsets[loop], t.sizes[loop]
	}
	return offsets, sizes
}

// tileOperands slices the operands of l covering tile t. The inits are sliced from the given values (the
// op's own inits, or the loop carried arguments standing for them). Scalar operands are used as is.
func tileOperands(b *payload.Builder, l *payload.Linalg, t loopTile, inits []*payload.Value) []*payload.Value {
	operands := make([]*payload.Value, len(l.Op.Operands))
	for i, operand := range l.Op.Operands {
		if i >= l.NumInputs {
			operand = inits[i-l.NumInputs]
		}
		if !operand.Shape.IsShaped() {
			operands[i] = operand
			continue
		}
		offsets, sizes := t.operandSlice(l.OperandMap(i))
		operands[i] = b.ExtractSlice(operand, offsets, sizes).Result(0)
	}
	return operands
}

// tensorSemantics returns an error if op doesn't return one tensor per init.
func tensorSemantics(l *payload.Linalg) error {
	if len(l.Op.Results) != len(l.Inits()) {
		return errors.Errorf("%s doesn't have tensor semantics", l.Op.Name())
	}
	return nil
}

// partialDestination creates a tensor.empty of the shape of v with a new dimension of the given size
// inserted at pos. The dynamic dimensions of v are traced through its producers.
func partialDestination(b *payload.Builder, v *payload.Value, pos, size int) (*payload.Value, error) {
	dims, err := shapeinference.InsertDim(v.Shape.Dimensions, pos, size)
	if err != nil {
		return nil, err
	}
	var dynamic []*payload.Value
	for i, dim := range v.Shape.Dimensions {
		if dim != shapes.DimUnknown {
			continue
		}
		extent, ok := payload.DimValue(v, i)
		if !ok {
			return nil, errors.Errorf("cannot trace dynamic dimension %d of %s", i, v.Shape)
		}
		dynamic = append(dynamic, b.Materialize(extent))
	}
	return b.Empty(shapes.Make(v.Shape.DType, dims...), dynamic...), nil
}

// neutralFill creates a linalg.fill of dest with the neutral value of the combiner fn.
func neutralFill(b *payload.Builder, fn string, dest *payload.Value) (*payload.Op, error) {
	dtype := dest.Shape.DType
	neutral, err := payload.NeutralValue(fn, dtypes.LowestValue(dtype), dtypes.HighestValue(dtype))
	if err != nil {
		return nil, err
	}
	return b.Fill(b.Constant(shapes.Scalar(dtype), neutral), dest), nil
}

// combiner creates the linalg.generic reducing the dimension pos of partial into init with fn.
func combiner(b *payload.Builder, partial, init *payload.Value, pos int, fn string) *payload.Op {
	rank := partial.Shape.Rank()
	iterators := make([]payload.IteratorType, rank)
	inputMap := make([]int, rank)
	initMap := make([]int, 0, rank-1)
	for i := range rank {
		inputMap[i] = i
		if i == pos {
			iterators[i] = payload.Reduction
			continue
		}
		initMap = append(initMap, i)
	}
	return b.Generic(payload.GenericSpec{
		Inputs:        []*payload.Value{partial},
		Inits:         []*payload.Value{init},
		IteratorTypes: iterators,
		IndexingMaps:  [][]int{inputMap, initMap},
		Fn:            fn,
	})
}

// singleReductionLoop returns the only reduction loop of l.
func singleReductionLoop(l *payload.Linalg) (int, error) {
	dims := l.ReductionDims()
	if len(dims) != 1 {
		return 0, errors.Errorf("%s has %d reduction loops, exactly one is supported", l.Op.Name(), len(dims))
	}
	if len(l.Inits()) != 1 {
		return 0, errors.Errorf("%s has %d inits, exactly one is supported", l.Op.Name(), len(l.Inits()))
	}
	return dims[0], nil
}
