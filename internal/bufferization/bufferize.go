// Package bufferization converts payload functions from tensors (value semantics) to buffers: it eliminates
// the tensor.empty ops that would force allocations, bufferizes every op in place on its destination,
// strips the HAL descriptor type from the resulting buffers, and maps the distributed loops to GPU
// workgroups and threads.
package bufferization

import (
	"slices"
	"strings"

	"github.com/gomlx/go-xform/pkg/payload"
	"github.com/gomlx/go-xform/pkg/types/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Memory spaces of the buffers.
const (
	// DescriptorType is the memory space of the buffers of the dispatch bindings.
	DescriptorType = "#hal.descriptor_type<storage_buffer>"

	// WorkgroupMemorySpace is the memory shared by the threads of a workgroup.
	WorkgroupMemorySpace = "#gpu.address_space<workgroup>"

	// PrivateMemorySpace is the memory of a single thread.
	PrivateMemorySpace = "#gpu.address_space<private>"
)

// Stats counts what the bufferization created.
type Stats struct {
	Allocs int
	Copies int
}

// Bufferize converts the functions nested in scope from tensors to buffers. Dispatch bindings become
// buffers in the DescriptorType memory space, and every op writes its results in place into the buffer of
// its destination operand; loop-carried tensors and shared outputs are removed, their buffers being
// updated in place by the loop bodies. tensor.empty ops become allocations: on GPU targets in workgroup
// memory, or in private memory when nested in a loop distributed over threads.
//
// The analysis is the one of destination-passing programs produced by tiling: destinations are assumed
// not to be read after being overwritten. tensor.empty ops with several uses get one allocation per use.
func Bufferize(scope *payload.Op, targetGPU bool) (Stats, error) {
	var stats Stats
	for _, fn := range scope.Collect(func(op *payload.Op) bool { return op.Kind == payload.OpKindFunc }) {
		fnStats, err := bufferizeFunc(fn, targetGPU)
		if err != nil {
			return stats, errors.WithMessagef(err, "bufferizing @%s", fn.Symbol)
		}
		stats.Allocs += fnStats.Allocs
		stats.Copies += fnStats.Copies
	}
	klog.V(1).Infof("bufferization: %d allocations, %d copies", stats.Allocs, stats.Copies)
	return stats, nil
}

type bufferizer struct {
	g         *payload.Graph
	targetGPU bool
	buffers   map[*payload.Value]*payload.Value
	dead      []*payload.Op
	loops     []*payload.Op
	stats     Stats
}

func bufferizeFunc(fn *payload.Op, targetGPU bool) (Stats, error) {
	bz := &bufferizer{g: fn.Graph(), targetGPU: targetGPU, buffers: make(map[*payload.Value]*payload.Value)}
	splitEmptyUses(fn)
	for _, arg := range fn.Body.Args {
		if arg.Shape.Kind == shapes.DispatchTensorKind {
			arg.Shape = shapes.MakeMemRef(arg.Shape.DType, DescriptorType, arg.Shape.Dimensions...)
		}
	}
	var err error
	fn.Walk(func(op *payload.Op) {
		if err != nil || op == fn {
			return
		}
		if err = bz.convert(op); err != nil {
			err = errors.WithMessagef(err, "bufferizing %s", op.Name())
		}
	})
	if err != nil {
		return bz.stats, err
	}
	for _, op := range slices.Backward(bz.dead) {
		bz.g.Erase(op)
	}
	for _, loop := range slices.Backward(bz.loops) {
		dropTensorLoopCarries(loop)
	}
	return bz.stats, nil
}

// splitEmptyUses clones the tensor.empty ops with several uses, so that each use gets its own allocation.
func splitEmptyUses(fn *payload.Op) {
	for _, empty := range fn.Collect(func(op *payload.Op) bool { return op.Kind == payload.OpKindEmpty }) {
		uses := empty.Results[0].Uses()
		for _, use := range uses[min(1, len(uses)):] {
			clone := fn.Graph().NewBuilder().SetInsertionPointAfter(empty).Clone(empty, make(map[*payload.Value]*payload.Value))
			use.Owner.Operands[use.Index] = clone.Result(0)
		}
	}
}

// buffer returns the buffer of v, or v itself if it is not a tensor.
func (bz *bufferizer) buffer(v *payload.Value) (*payload.Value, error) {
	if !v.Shape.IsTensor() {
		return v, nil
	}
	if buffer, found := bz.buffers[v]; found {
		return buffer, nil
	}
	return nil, errors.Errorf("no buffer for a %s value", v.Shape)
}

func (bz *bufferizer) bufferOperands(op *payload.Op) ([]*payload.Value, error) {
	operands := make([]*payload.Value, len(op.Operands))
	for i, operand := range op.Operands {
		buffer, err := bz.buffer(operand)
		if err != nil {
			return nil, errors.WithMessagef(err, "operand #%d", i)
		}
		operands[i] = buffer
	}
	return operands, nil
}

// memorySpace returns the memory space of the allocation replacing op.
func (bz *bufferizer) memorySpace(op *payload.Op) string {
	if !bz.targetGPU {
		return ""
	}
	for parent := op.ParentOfKind(payload.OpKindForall); parent != nil; parent = parent.ParentOfKind(payload.OpKindForall) {
		for _, m := range parent.StringsAttr(payload.AttrMapping) {
			if strings.HasPrefix(m, threadMappingPrefix) {
				return PrivateMemorySpace
			}
		}
	}
	return WorkgroupMemorySpace
}

func (bz *bufferizer) convert(op *payload.Op) error {
	b := bz.g.NewBuilder().SetInsertionPointBefore(op)
	switch op.Kind {
	case payload.OpKindExport, payload.OpKindReturn, payload.OpKindConstant, payload.OpKindAffineApply,
		payload.OpKindAffineMin, payload.OpKindWorkgroupID, payload.OpKindThreadID:
		return nil

	case payload.OpKindLoad:
		bz.buffers[op.Results[0]] = op.Operands[0]
		bz.dead = append(bz.dead, op)
		return nil

	case payload.OpKindStore:
		value, err := bz.buffer(op.Operands[0])
		if err != nil {
			return err
		}
		binding := op.Operands[1]
		if rootBuffer(value) != binding {
			b.Copy(value, binding)
			bz.stats.Copies++
		}
		bz.dead = append(bz.dead, op)
		return nil

	case payload.OpKindEmpty:
		shape := op.Results[0].Shape.ToMemRef(bz.memorySpace(op))
		bz.buffers[op.Results[0]] = b.Alloc(shape, op.Operands...)
		bz.stats.Allocs++
		bz.dead = append(bz.dead, op)
		return nil

	case payload.OpKindFill, payload.OpKindGeneric:
		operands, err := bz.bufferOperands(op)
		if err != nil {
			return err
		}
		l := payload.MustLinalg(op)
		b.CloneStructured(op, operands)
		for k, result := range op.Results {
			bz.buffers[result] = operands[l.NumInputs+k]
		}
		bz.dead = append(bz.dead, op)
		return nil

	case payload.OpKindExtractSlice:
		source, err := bz.buffer(op.Operands[0])
		if err != nil {
			return err
		}
		bz.buffers[op.Results[0]] = b.Subview(source, payload.SliceOffsets(op), payload.SliceSizes(op))
		bz.dead = append(bz.dead, op)
		return nil

	case payload.OpKindInsertSlice, payload.OpKindParallelInsertSlice:
		source, err := bz.buffer(op.Operands[0])
		if err != nil {
			return err
		}
		dest, err := bz.buffer(op.Operands[1])
		if err != nil {
			return err
		}
		if op.Kind == payload.OpKindParallelInsertSlice {
			// Parallel inserts are performed by each thread, before the in_parallel terminator.
			b.SetInsertionPointBefore(op.ParentOp())
		} else {
			bz.buffers[op.Results[0]] = dest
		}
		bz.copyIntoSlice(b, source, dest, payload.SliceOffsets(op), payload.SliceSizes(op))
		bz.dead = append(bz.dead, op)
		return nil

	case payload.OpKindExpandShape, payload.OpKindCollapseShape:
		if !op.Results[0].Shape.IsTensor() {
			return nil
		}
		source, err := bz.buffer(op.Operands[0])
		if err != nil {
			return err
		}
		reassociation, _ := op.Attributes[payload.AttrReassociation].([][]int)
		if op.Kind == payload.OpKindExpandShape {
			bz.buffers[op.Results[0]] = b.ExpandShape(source, reassociation, op.Results[0].Shape.Dimensions)
		} else {
			bz.buffers[op.Results[0]] = b.CollapseShape(source, reassociation)
		}
		bz.dead = append(bz.dead, op)
		return nil

	case payload.OpKindPad:
		return bz.convertPad(b, op)

	case payload.OpKindTransferRead:
		source, err := bz.buffer(op.Operands[0])
		if err != nil {
			return err
		}
		op.Operands[0] = source
		return nil

	case payload.OpKindTransferWrite:
		if len(op.Results) == 0 {
			return nil
		}
		dest, err := bz.buffer(op.Operands[1])
		if err != nil {
			return err
		}
		b.TransferWrite(op.Operands[0], dest, payload.TransferIndices(op), payload.TransferOptionsOf(op))
		bz.buffers[op.Results[0]] = dest
		bz.dead = append(bz.dead, op)
		return nil

	case payload.OpKindFor:
		for k, init := range payload.ForInits(op) {
			if err := bz.carry(init, payload.ForIterArgs(op)[k], op.Results[k]); err != nil {
				return err
			}
		}
		bz.loops = append(bz.loops, op)
		return nil

	case payload.OpKindForall:
		for k, out := range payload.ForallOutputArgs(op) {
			var result *payload.Value
			if k < len(op.Results) {
				result = op.Results[k]
			}
			if err := bz.carry(op.Operands[k], out, result); err != nil {
				return err
			}
		}
		bz.loops = append(bz.loops, op)
		return nil

	case payload.OpKindYield:
		if op.Body != nil || op.ParentOp().Kind != payload.OpKindFor {
			return nil
		}
		iterArgs := payload.ForIterArgs(op.ParentOp())
		for k, operand := range op.Operands {
			if !operand.Shape.IsTensor() {
				continue
			}
			value, err := bz.buffer(operand)
			if err != nil {
				return err
			}
			if carried := bz.buffers[iterArgs[k]]; value != carried {
				b.Copy(value, carried)
				bz.stats.Copies++
			}
		}
		return nil
	}

	for _, v := range append(slices.Clone(op.Operands), op.Results...) {
		if v.Shape.IsTensor() {
			return errors.Errorf("%s on tensors cannot be bufferized", op.Name())
		}
	}
	return nil
}

// carry makes the block argument and the result of a loop-carried tensor alias the buffer of its init.
func (bz *bufferizer) carry(init, arg, result *payload.Value) error {
	if !init.Shape.IsTensor() {
		return nil
	}
	buffer, err := bz.buffer(init)
	if err != nil {
		return err
	}
	bz.buffers[arg] = buffer
	if result != nil {
		bz.buffers[result] = buffer
	}
	return nil
}

// copyIntoSlice copies source into the slice of dest, unless source already is that slice.
func (bz *bufferizer) copyIntoSlice(b *payload.Builder, source, dest *payload.Value, offsets, sizes []payload.OpFoldResult) {
	if def := source.DefiningOp(); def != nil && def.Kind == payload.OpKindSubview && def.Operands[0] == dest &&
		slices.EqualFunc(payload.SliceOffsets(def), offsets, payload.OpFoldResult.Equal) &&
		slices.EqualFunc(payload.SliceSizes(def), sizes, payload.OpFoldResult.Equal) {
		return
	}
	b.Copy(source, b.Subview(dest, offsets, sizes))
	bz.stats.Copies++
}

// convertPad allocates the padded buffer, fills it with the padding value and copies the source in it.
func (bz *bufferizer) convertPad(b *payload.Builder, op *payload.Op) error {
	source, err := bz.buffer(op.Operands[0])
	if err != nil {
		return err
	}
	result := op.Results[0].Shape
	if result.IsDynamic() {
		return errors.Errorf("cannot bufferize the dynamic %s", result)
	}
	buffer := b.Alloc(result.ToMemRef(bz.memorySpace(op)))
	bz.stats.Allocs++
	b.Fill(b.Constant(shapes.Scalar(result.DType), op.FloatAttr(payload.AttrPadding)), buffer)
	sizes := make([]payload.OpFoldResult, result.Rank())
	for i := range sizes {
		size, ok := payload.DimValue(op.Operands[0], i)
		if !ok {
			return errors.Errorf("cannot compute dimension %d of the padded source", i)
		}
		sizes[i] = size
	}
	b.Copy(source, b.Subview(buffer, payload.StaticIndices(op.IntsAttr(payload.AttrLow)...), sizes))
	bz.stats.Copies++
	bz.buffers[op.Results[0]] = buffer
	bz.dead = append(bz.dead, op)
	return nil
}

// dropTensorLoopCarries removes the tensors carried by a loop, now updated in place.
func dropTensorLoopCarries(loop *payload.Op) {
	switch loop.Kind {
	case payload.OpKindFor:
		inits := payload.ForInits(loop)
		for k := len(inits) - 1; k >= 0; k-- {
			if inits[k].Shape.IsTensor() {
				payload.EraseForIterArg(loop, k)
			}
		}
	case payload.OpKindForall:
		for k := len(loop.Operands) - 1; k >= 0; k-- {
			if loop.Operands[k].Shape.IsTensor() {
				payload.EraseForallSharedOut(loop, k)
			}
		}
	}
}

// rootBuffer returns the buffer v is a view of.
func rootBuffer(v *payload.Value) *payload.Value {
	for {
		def := v.DefiningOp()
		if def == nil || (def.Kind != payload.OpKindSubview && def.Kind != payload.OpKindExpandShape &&
			def.Kind != payload.OpKindCollapseShape) {
			return v
		}
		v = def.Operands[0]
	}
}
