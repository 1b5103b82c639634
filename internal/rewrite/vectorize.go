package rewrite

import (
	"cmp"
	"slices"

	"github.com/gomlx/go-xform/pkg/payload"
	"github.com/gomlx/go-xform/pkg/types/dtypes"
	"github.com/gomlx/go-xform/pkg/types/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Vectorize rewrites the structured ops nested in scope, and the tensor.pad ops if vectorizePadding is set,
// into vector transfers and vector computations. Loops with a dynamic extent are vectorized to their static
// upper bound (or the vector_tile attribute of the op) and masked. Ops that cannot be vectorized are left
// untouched. It returns the number of ops vectorized.
func Vectorize(scope *payload.Op, vectorizePadding bool) int {
	g := scope.Graph()
	candidates := scope.Collect(func(op *payload.Op) bool {
		return op.Kind.IsStructured() || (vectorizePadding && op.Kind == payload.OpKindPad)
	})
	count := 0
	for _, op := range candidates {
		if op.IsErased() {
			continue
		}
		rw := &Rewriter{Builder: g.NewBuilder().SetInsertionPointBefore(op), Graph: g}
		var err error
		if op.Kind == payload.OpKindPad {
			err = vectorizePad(rw, op)
		} else {
			err = vectorizeLinalg(rw, op)
		}
		if err != nil {
			klog.V(1).Infof("vectorize: %s left as is: %v", op.Name(), err)
			continue
		}
		count++
	}
	return count
}

// vectorizer holds the vector sizes chosen for the loops of one structured op.
type vectorizer struct {
	rw      *Rewriter
	l       *payload.Linalg
	sizes   []int
	extents []payload.OpFoldResult
	zero    *payload.Value
}

func planVectorization(rw *Rewriter, op *payload.Op) (*vectorizer, error) {
	l, err := payload.AsLinalg(op)
	if err != nil {
		return nil, err
	}
	if len(l.Inits()) != 1 {
		return nil, errors.Errorf("%d inits, only one is supported", len(l.Inits()))
	}
	v := &vectorizer{rw: rw, l: l, sizes: make([]int, l.NumLoops()), extents: make([]payload.OpFoldResult, l.NumLoops())}
	tile := op.IntsAttr(payload.AttrVectorTile)
	for loop := range l.NumLoops() {
		extent, ok := l.LoopRangeValue(loop)
		if !ok {
			return nil, errors.Errorf("cannot compute the extent of loop %d", loop)
		}
		size, bounded := payload.UpperBound(extent)
		if loop < len(tile) && tile[loop] > 0 && (!extent.IsStatic() || extent.Static <= tile[loop]) {
			size, bounded = tile[loop], true
		}
		if !bounded || size <= 0 {
			return nil, errors.Errorf("loop %d has a dynamic extent and no static upper bound", loop)
		}
		v.sizes[loop], v.extents[loop] = size, extent
	}
	initMap := l.OperandMap(l.NumInputs)
	covered := make([]bool, l.NumLoops())
	for _, loop := range initMap {
		if loop != payload.UnitDim {
			covered[loop] = true
		}
	}
	for loop, it := range l.IteratorTypes {
		if covered[loop] != (it == payload.Parallel) {
			return nil, errors.Errorf("the init must be indexed by exactly the parallel loops")
		}
	}
	if op.Kind == payload.OpKindGeneric {
		if l.NumInputs == 0 {
			return nil, errors.New("generic without inputs")
		}
		if l.IsReduction() && l.NumInputs != 1 {
			return nil, errors.Errorf("reduction with %d inputs, only one is supported", l.NumInputs)
		}
	}
	return v, nil
}

// isMasked returns whether the vector of a loop is larger than the loop extent, at least in some iterations.
func (v *vectorizer) isMasked(loop int) bool {
	extent := v.extents[loop]
	return !extent.IsStatic() || extent.Static != v.sizes[loop]
}

// operandLayout describes how an operand is transferred: unit dimensions first, then the other operand
// dimensions in increasing loop order.
type operandLayout struct {
	// perm maps each vector dimension to an operand dimension.
	perm  []int
	units int

	// loops of the non-unit vector dimensions, increasing.
	loops []int
}

func layoutOf(m []int) operandLayout {
	var units, dims []int
	for j, loop := range m {
		if loop == payload.UnitDim {
			units = append(units, j)
		} else {
			dims = append(dims, j)
		}
	}
	slices.SortStableFunc(dims, func(a, b int) int { return cmp.Compare(m[a], m[b]) })
	layout := operandLayout{perm: append(units, dims...), units: len(units)}
	for _, d := range dims {
		layout.loops = append(layout.loops, m[d])
	}
	return layout
}

func (v *vectorizer) loopSizes(loops []int) []int {
	sizes := make([]int, len(loops))
	for i, loop := range loops {
		sizes[i] = v.sizes[loop]
	}
	return sizes
}

func (v *vectorizer) vectorDims(layout operandLayout) []int {
	dims := make([]int, layout.units, len(layout.perm))
	for i := range dims {
		dims[i] = 1
	}
	return append(dims, v.loopSizes(layout.loops)...)
}

// transferOptions returns the permutation and the mask of the transfer of an operand with the given layout.
func (v *vectorizer) transferOptions(layout operandLayout, padding float64) payload.TransferOptions {
	opts := payload.TransferOptions{Padding: padding}
	if !isIdentityPermutation(layout.perm) {
		opts.Permutation = slices.Clone(layout.perm)
	}
	if !slices.ContainsFunc(layout.loops, v.isMasked) {
		return opts
	}
	sizes := make([]*payload.Value, 0, len(layout.perm))
	for range layout.units {
		sizes = append(sizes, v.rw.ConstantIndex(1))
	}
	for _, loop := range layout.loops {
		sizes = append(sizes, v.rw.Materialize(v.extents[loop]))
	}
	opts.Mask = v.rw.CreateMask(v.vectorDims(layout), sizes...)
	return opts
}

func (v *vectorizer) zeros(n int) []*payload.Value {
	if v.zero == nil {
		v.zero = v.rw.ConstantIndex(0)
	}
	indices := make([]*payload.Value, n)
	for i := range indices {
		indices[i] = v.zero
	}
	return indices
}

// read transfers an operand into a vector whose dimensions are the loops of its layout, in increasing order.
func (v *vectorizer) read(operand *payload.Value, m []int, padding float64) (*payload.Value, []int) {
	layout := layoutOf(m)
	vectorShape := shapes.MakeVector(operand.Shape.DType, v.vectorDims(layout)...)
	vec := v.rw.TransferRead(operand, v.zeros(operand.Shape.Rank()), vectorShape, v.transferOptions(layout, padding))
	if layout.units > 0 {
		if len(layout.loops) == 0 {
			return v.rw.ShapeCast(vec, 1), nil
		}
		vec = v.rw.ShapeCast(vec, v.loopSizes(layout.loops)...)
	}
	return vec, layout.loops
}

// write transfers vec, whose dimensions are the loops of the init layout, into the init operand.
func (v *vectorizer) write(vec, init *payload.Value, m []int) *payload.Op {
	layout := layoutOf(m)
	if layout.units > 0 {
		vec = v.rw.ShapeCast(vec, v.vectorDims(layout)...)
	}
	return v.rw.TransferWrite(vec, init, v.zeros(init.Shape.Rank()), v.transferOptions(layout, 0))
}

// broadcastTo broadcasts vec, whose dimensions are the given loops, to the vector of the target loops.
func (v *vectorizer) broadcastTo(vec *payload.Value, loops, target []int) *payload.Value {
	if slices.Equal(loops, target) {
		return vec
	}
	shape := shapes.MakeVector(vec.Shape.DType, v.loopSizes(target)...)
	if !vec.Shape.IsShaped() {
		return v.rw.Broadcast(vec, shape, nil)
	}
	dims := make([]int, len(loops))
	for i, loop := range loops {
		dims[i] = slices.Index(target, loop)
	}
	if len(loops) == 0 {
		// Vector of a single element.
		dims = []int{len(target) - 1}
	}
	return v.rw.Broadcast(vec, shape, dims)
}

func (v *vectorizer) allLoops() []int {
	loops := make([]int, v.l.NumLoops())
	for i := range loops {
		loops[i] = i
	}
	return loops
}

func vectorizeLinalg(rw *Rewriter, op *payload.Op) error {
	v, err := planVectorization(rw, op)
	if err != nil {
		return err
	}
	l := v.l
	init := l.Inits()[0]
	initMap := l.OperandMap(l.NumInputs)
	var result *payload.Value
	switch {
	case op.Kind == payload.OpKindFill:
		value := l.Inputs()[0]
		result = rw.Broadcast(value, shapes.MakeVector(value.Shape.DType, v.loopSizes(layoutOf(initMap).loops)...), nil)

	case l.IsReduction():
		neutral, err := payload.NeutralValue(l.Fn(), dtypes.LowestValue(init.Shape.DType), dtypes.HighestValue(init.Shape.DType))
		if err != nil {
			return err
		}
		// Masked lanes read the neutral value, so they don't contribute to the reduction.
		input, loops := v.readInput(0, neutral)
		input = v.broadcastTo(input, loops, v.allLoops())
		acc, _ := v.read(init, initMap, 0)
		result = rw.MultiReduction(l.Fn(), input, acc, l.ReductionDims())

	default:
		inputs := make([]*payload.Value, l.NumInputs)
		for i := range inputs {
			input, loops := v.readInput(i, 0)
			inputs[i] = v.broadcastTo(input, loops, v.allLoops())
		}
		if len(inputs) == 1 && (l.Fn() == "identity" || l.Fn() == "copy") {
			result = inputs[0]
		} else {
			result = rw.Elementwise(l.Fn(), inputs...)
		}
	}
	write := v.write(result, init, initMap)
	klog.V(2).Infof("vectorize: %s with vector sizes %v", op.Name(), v.sizes)
	if len(op.Results) == 0 {
		rw.Erase(op)
	} else {
		rw.ReplaceOp(op, write.Result(0))
	}
	return nil
}

// readInput reads the i-th input, scalars are used as is.
func (v *vectorizer) readInput(i int, padding float64) (*payload.Value, []int) {
	input := v.l.Inputs()[i]
	if !input.Shape.IsShaped() {
		return input, nil
	}
	return v.read(input, v.l.OperandMap(i), padding)
}

// vectorizePad rewrites a static tensor.pad into an out-of-bounds transfer_read of its source, starting at
// the negated low padding, written into a new tensor.
func vectorizePad(rw *Rewriter, op *payload.Op) error {
	result := op.Results[0]
	if result.Shape.IsDynamic() {
		return errors.New("dynamic tensor.pad")
	}
	low, high := op.IntsAttr(payload.AttrLow), op.IntsAttr(payload.AttrHigh)
	rank := result.Shape.Rank()
	indices := make([]*payload.Value, rank)
	zeros := make([]*payload.Value, rank)
	inBounds := make([]bool, rank)
	zero := rw.ConstantIndex(0)
	for i := range rank {
		indices[i] = rw.ConstantIndex(-low[i])
		zeros[i] = zero
		inBounds[i] = low[i] == 0 && high[i] == 0
	}
	read := rw.TransferRead(op.Operands[0], indices, result.Shape.ToVector(),
		payload.TransferOptions{InBounds: inBounds, Padding: op.FloatAttr(payload.AttrPadding)})
	write := rw.TransferWrite(read, rw.Empty(result.Shape), zeros, payload.TransferOptions{})
	rw.ReplaceOp(op, write.Result(0))
	return nil
}
