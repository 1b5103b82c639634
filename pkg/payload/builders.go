package payload

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/go-xform/internal/utils"
	"github.com/gomlx/go-xform/pkg/types/dtypes"
	"github.com/gomlx/go-xform/pkg/types/shapes"
)

// AddFunc adds a function to the variant, along with its export. The function arguments are the dispatch
// bindings, and the body is left empty, for the caller to populate and terminate with Return.
func (g *Graph) AddFunc(name string, bindings ...shapes.Shape) *Op {
	name = utils.NormalizeIdentifier(name)
	b := g.NewBuilder()
	export := b.Create(OpKindExport, nil, nil, nil)
	export.Symbol = name
	fn := b.Create(OpKindFunc, nil, nil, nil)
	fn.Symbol = name
	fn.AddBody(bindings...)
	return fn
}

// FuncOf returns the function enclosing op, or op itself if it is a function.
func FuncOf(op *Op) *Op {
	if op.Kind == OpKindFunc {
		return op
	}
	return op.ParentOfKind(OpKindFunc)
}

// Load creates a flow.dispatch.tensor.load of the whole binding.
func (b *Builder) Load(binding *Value) *Value {
	return b.Create(OpKindLoad, []*Value{binding}, []shapes.Shape{binding.Shape.ToTensor()}, nil).Result(0)
}

// Store creates a flow.dispatch.tensor.store of value into the whole binding.
func (b *Builder) Store(value, binding *Value) *Op {
	return b.Create(OpKindStore, []*Value{value, binding}, nil, nil)
}

// Return creates the terminator of a function.
func (b *Builder) Return() *Op {
	return b.Create(OpKindReturn, nil, nil, nil)
}

// Yield creates a scf.yield terminator.
func (b *Builder) Yield(values ...*Value) *Op {
	return b.Create(OpKindYield, values, nil, nil)
}

// Forall creates a scf.forall with the given number of threads per dimension, mapping and shared outputs.
// The body has one index argument per dimension followed by one argument per shared output, and is
// terminated by an empty scf.forall.in_parallel.
func (b *Builder) Forall(numThreads []int, mapping []string, sharedOuts []*Value) *Op {
	var resultShapes []shapes.Shape
	argShapes := make([]shapes.Shape, 0, len(numThreads)+len(sharedOuts))
	for range numThreads {
		argShapes = append(argShapes, shapes.Scalar(dtypes.Index))
	}
	for _, out := range sharedOuts {
		if out.Shape.IsTensor() {
			resultShapes = append(resultShapes, out.Shape)
		}
		argShapes = append(argShapes, out.Shape)
	}
	attrs := map[string]any{AttrNumThreads: slices.Clone(numThreads)}
	if len(mapping) > 0 {
		attrs[AttrMapping] = slices.Clone(mapping)
	}
	forall := b.Create(OpKindForall, sharedOuts, resultShapes, attrs)
	body := forall.AddBody(argShapes...)
	inParallel := (&Builder{graph: b.graph, block: body}).Create(OpKindYield, nil, nil, nil)
	inParallel.AddBody()
	return forall
}

// ForallIVs returns the induction variables of a scf.forall.
func ForallIVs(forall *Op) []*Value {
	return forall.Body.Args[:len(forall.IntsAttr(AttrNumThreads))]
}

// ForallOutputArgs returns the block arguments of the shared outputs of a scf.forall.
func ForallOutputArgs(forall *Op) []*Value {
	return forall.Body.Args[len(forall.IntsAttr(AttrNumThreads)):]
}

// InParallel returns the scf.forall.in_parallel terminator of a scf.forall.
func InParallel(forall *Op) *Op {
	terminator := forall.Body.Terminator()
	if terminator == nil || terminator.Body == nil {
		exceptions.Panicf("scf.forall without scf.forall.in_parallel terminator")
	}
	return terminator
}

// For creates a scf.for from lb to ub with step, carrying inits as iteration arguments. The body has the
// induction variable followed by the iteration arguments; the caller must terminate it with a Yield.
func (b *Builder) For(lb, ub, step *Value, inits ...*Value) *Op {
	resultShapes := make([]shapes.Shape, len(inits))
	argShapes := []shapes.Shape{shapes.Scalar(dtypes.Index)}
	for i, init := range inits {
		resultShapes[i] = init.Shape
		argShapes = append(argShapes, init.Shape)
	}
	loop := b.Create(OpKindFor, append([]*Value{lb, ub, step}, inits...), resultShapes, nil)
	loop.AddBody(argShapes...)
	return loop
}

// ForInits returns the initial values of the iteration arguments of a scf.for.
func ForInits(loop *Op) []*Value {
	return loop.Operands[3:]
}

// ForIterArgs returns the block arguments of the iteration arguments of a scf.for.
func ForIterArgs(loop *Op) []*Value {
	return loop.Body.Args[1:]
}

// ExpandShape creates a tensor.expand_shape (or memref.expand_shape) splitting each source dimension into
// the result dimensions listed in reassociation.
func (b *Builder) ExpandShape(source *Value, reassociation [][]int, resultDims []int) *Value {
	return b.Create(OpKindExpandShape, []*Value{source}, []shapes.Shape{source.Shape.WithDimensions(resultDims...)},
		map[string]any{AttrReassociation: cloneReassociation(reassociation)}).Result(0)
}

// CollapseShape creates a tensor.collapse_shape (or memref.collapse_shape) merging the source dimensions
// grouped by reassociation.
func (b *Builder) CollapseShape(source *Value, reassociation [][]int) *Value {
	dims := make([]int, len(reassociation))
	for i, group := range reassociation {
		dims[i] = 1
		for _, d := range group {
			size := source.Shape.Dimensions[d]
			if size == shapes.DimUnknown || dims[i] == shapes.DimUnknown {
				dims[i] = shapes.DimUnknown
			} else {
				dims[i] *= size
			}
		}
	}
	return b.Create(OpKindCollapseShape, []*Value{source}, []shapes.Shape{source.Shape.WithDimensions(dims...)},
		map[string]any{AttrReassociation: cloneReassociation(reassociation)}).Result(0)
}

func cloneReassociation(reassociation [][]int) [][]int {
	c := make([][]int, len(reassociation))
	for i := range reassociation {
		c[i] = slices.Clone(reassociation[i])
	}
	return c
}

// Pad creates a tensor.pad with static low and high padding, filled with padding.
func (b *Builder) Pad(source *Value, low, high []int, padding float64) *Value {
	dims := slices.Clone(source.Shape.Dimensions)
	for i := range dims {
		if dims[i] != shapes.DimUnknown {
			dims[i] += low[i] + high[i]
		}
	}
	return b.Create(OpKindPad, []*Value{source}, []shapes.Shape{source.Shape.WithDimensions(dims...)},
		map[string]any{AttrLow: slices.Clone(low), AttrHigh: slices.Clone(high), AttrPadding: padding}).Result(0)
}

// TransferOptions configures vector.transfer_read and vector.transfer_write.
type TransferOptions struct {
	// Permutation maps each vector dimension to a source dimension. Nil means the minor identity.
	Permutation []int

	// InBounds per vector dimension. Nil means all in bounds.
	InBounds []bool

	// Padding value of out-of-bounds reads.
	Padding float64

	// Mask, if not nil, is a vector of i1 with the shape of the transferred vector.
	Mask *Value
}

func (opts TransferOptions) attributes() map[string]any {
	attrs := map[string]any{}
	if opts.Permutation != nil {
		attrs[AttrPermutation] = slices.Clone(opts.Permutation)
	}
	if opts.InBounds != nil {
		attrs[AttrInBounds] = slices.Clone(opts.InBounds)
	}
	if opts.Padding != 0 {
		attrs[AttrPadding] = opts.Padding
	}
	if opts.Mask != nil {
		attrs[AttrHasMask] = true
	}
	return attrs
}

// TransferRead creates a vector.transfer_read of source at indices.
func (b *Builder) TransferRead(source *Value, indices []*Value, vectorShape shapes.Shape, opts TransferOptions) *Value {
	operands := append([]*Value{source}, indices...)
	if opts.Mask != nil {
		operands = append(operands, opts.Mask)
	}
	return b.Create(OpKindTransferRead, operands, []shapes.Shape{vectorShape}, opts.attributes()).Result(0)
}

// TransferWrite creates a vector.transfer_write of vector into dest at indices. It has a result only if
// dest is a tensor.
func (b *Builder) TransferWrite(vector, dest *Value, indices []*Value, opts TransferOptions) *Op {
	operands := append([]*Value{vector, dest}, indices...)
	if opts.Mask != nil {
		operands = append(operands, opts.Mask)
	}
	var resultShapes []shapes.Shape
	if dest.Shape.IsTensor() {
		resultShapes = append(resultShapes, dest.Shape)
	}
	return b.Create(OpKindTransferWrite, operands, resultShapes, opts.attributes())
}

// TransferSource returns the tensor or memref read or written by a transfer op.
func TransferSource(op *Op) *Value {
	if op.Kind == OpKindTransferWrite {
		return op.Operands[1]
	}
	return op.Operands[0]
}

// TransferIndices returns the indices of a transfer op.
func TransferIndices(op *Op) []*Value {
	start := 1
	if op.Kind == OpKindTransferWrite {
		start = 2
	}
	rank := TransferSource(op).Shape.Rank()
	return op.Operands[start : start+rank]
}

// TransferMask returns the mask of a transfer op, or nil.
func TransferMask(op *Op) *Value {
	if !op.BoolAttr(AttrHasMask) {
		return nil
	}
	return op.Operands[len(op.Operands)-1]
}

// TransferOptionsOf returns the options of an existing transfer op.
func TransferOptionsOf(op *Op) TransferOptions {
	return TransferOptions{
		Permutation: slices.Clone(op.IntsAttr(AttrPermutation)),
		InBounds:    slices.Clone(op.BoolsAttr(AttrInBounds)),
		Padding:     op.FloatAttr(AttrPadding),
		Mask:        TransferMask(op),
	}
}

// TransferVectorShape returns the shape of the vector transferred.
func TransferVectorShape(op *Op) shapes.Shape {
	if op.Kind == OpKindTransferWrite {
		return op.Operands[0].Shape
	}
	return op.Results[0].Shape
}

// Broadcast creates a vector.broadcast of source into shape, where dims maps each source dimension to a
// result dimension. Scalars broadcast with no dims.
func (b *Builder) Broadcast(source *Value, shape shapes.Shape, dims []int) *Value {
	return b.Create(OpKindBroadcast, []*Value{source}, []shapes.Shape{shape},
		map[string]any{AttrDims: slices.Clone(dims)}).Result(0)
}

// Elementwise creates a vector.elementwise applying fn to operands of the same vector shape.
func (b *Builder) Elementwise(fn string, operands ...*Value) *Value {
	return b.Create(OpKindElementwise, operands, []shapes.Shape{operands[0].Shape},
		map[string]any{AttrFn: fn}).Result(0)
}

// MultiReduction creates a vector.multi_reduction of source over dims, combined with acc.
func (b *Builder) MultiReduction(kind string, source, acc *Value, dims []int) *Value {
	return b.Create(OpKindMultiReduction, []*Value{source, acc}, []shapes.Shape{acc.Shape},
		map[string]any{AttrFn: kind, AttrReductionDims: slices.Clone(dims)}).Result(0)
}

// Transpose creates a vector.transpose: result dimension i is source dimension permutation[i].
func (b *Builder) Transpose(source *Value, permutation []int) *Value {
	dims := make([]int, len(permutation))
	for i, p := range permutation {
		dims[i] = source.Shape.Dimensions[p]
	}
	return b.Create(OpKindTranspose, []*Value{source}, []shapes.Shape{source.Shape.WithDimensions(dims...)},
		map[string]any{AttrPermutation: slices.Clone(permutation)}).Result(0)
}

// ShapeCast creates a vector.shape_cast to the given dimensions, same number of elements.
func (b *Builder) ShapeCast(source *Value, dims ...int) *Value {
	return b.Create(OpKindShapeCast, []*Value{source}, []shapes.Shape{source.Shape.WithDimensions(dims...)}, nil).Result(0)
}

// CreateMask creates a vector.create_mask of the given dimensions, true for indices below sizes.
func (b *Builder) CreateMask(dims []int, sizes ...*Value) *Value {
	return b.Create(OpKindCreateMask, sizes, []shapes.Shape{shapes.MakeVector(dtypes.Bool, dims...)}, nil).Result(0)
}

// ConstantMask creates a vector.constant_mask of the given dimensions, true for indices below sizes.
func (b *Builder) ConstantMask(dims []int, sizes []int) *Value {
	return b.Create(OpKindConstantMask, nil, []shapes.Shape{shapes.MakeVector(dtypes.Bool, dims...)},
		map[string]any{AttrMaskDimSizes: slices.Clone(sizes)}).Result(0)
}

// Alloc creates a memref.alloc. dynamicSizes provide the dynamic dimensions, in order.
func (b *Builder) Alloc(shape shapes.Shape, dynamicSizes ...*Value) *Value {
	return b.Create(OpKindAlloc, dynamicSizes, []shapes.Shape{shape}, nil).Result(0)
}

// Copy creates a memref.copy from source to target.
func (b *Builder) Copy(source, target *Value) *Op {
	return b.Create(OpKindCopy, []*Value{source, target}, nil, nil)
}

// WorkgroupID creates a hal.interface.workgroup.id for dimension "x", "y" or "z".
func (b *Builder) WorkgroupID(dimension string) *Value {
	return b.Create(OpKindWorkgroupID, nil, []shapes.Shape{shapes.Scalar(dtypes.Index)},
		map[string]any{AttrDimension: dimension}).Result(0)
}

// ThreadID creates a gpu.thread_id for dimension "x", "y" or "z".
func (b *Builder) ThreadID(dimension string) *Value {
	return b.Create(OpKindThreadID, nil, []shapes.Shape{shapes.Scalar(dtypes.Index)},
		map[string]any{AttrDimension: dimension}).Result(0)
}

// EraseForIterArg removes the k-th iteration argument of a scf.for, along with its init, its yielded value
// and its result. The result must have no uses, and the block argument must have no uses other than the
// yield.
func EraseForIterArg(loop *Op, k int) {
	yield := loop.Body.Terminator()
	yield.Operands = slices.Delete(yield.Operands, k, k+1)
	loop.Operands = slices.Delete(loop.Operands, 3+k, 4+k)
	loop.Body.EraseArgument(1 + k)
	loop.Results = slices.Delete(loop.Results, k, k+1)
	for i, result := range loop.Results {
		result.index = i
	}
}

// EraseForallSharedOut removes the k-th shared output of a scf.forall: its operand, its block argument and
// its result. The block argument and the result must have no uses.
func EraseForallSharedOut(forall *Op, k int) {
	forall.Operands = slices.Delete(forall.Operands, k, k+1)
	forall.Body.EraseArgument(len(forall.IntsAttr(AttrNumThreads)) + k)
	if k < len(forall.Results) {
		forall.Results = slices.Delete(forall.Results, k, k+1)
		for i, result := range forall.Results {
			result.index = i
		}
	}
}

// EraseResults removes all the results of op, which must have no uses. It is used when ops are converted
// from value semantics to buffers.
func (op *Op) EraseResults() {
	op.Results = nil
}
