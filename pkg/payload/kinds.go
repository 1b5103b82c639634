package payload

import "github.com/gomlx/go-xform/pkg/types/shapes"

// OpKind is the closed set of operations a payload program may contain.
type OpKind int

//go:generate go tool enumer -type=OpKind -trimprefix=OpKind -output=gen_opkind_enumer.go kinds.go

const (
	OpKindInvalid OpKind = iota
	OpKindVariant
	OpKindExport
	OpKindFunc
	OpKindReturn
	OpKindLoad
	OpKindStore
	OpKindConstant
	OpKindAffineApply
	OpKindAffineMin
	OpKindEmpty
	OpKindFill
	OpKindGeneric
	OpKindExtractSlice
	OpKindInsertSlice
	OpKindParallelInsertSlice
	OpKindExpandShape
	OpKindCollapseShape
	OpKindPad
	OpKindForall
	OpKindFor
	OpKindYield
	OpKindTransferRead
	OpKindTransferWrite
	OpKindBroadcast
	OpKindElementwise
	OpKindMultiReduction
	OpKindTranspose
	OpKindShapeCast
	OpKindCreateMask
	OpKindConstantMask
	OpKindAlloc
	OpKindSubview
	OpKindCopy
	OpKindWorkgroupID
	OpKindThreadID
)

var opKindNames = map[OpKind]string{
	OpKindVariant:             "hal.executable.variant",
	OpKindExport:              "hal.executable.export",
	OpKindFunc:                "func.func",
	OpKindReturn:              "func.return",
	OpKindLoad:                "flow.dispatch.tensor.load",
	OpKindStore:               "flow.dispatch.tensor.store",
	OpKindConstant:            "arith.constant",
	OpKindAffineApply:         "affine.apply",
	OpKindAffineMin:           "affine.min",
	OpKindEmpty:               "tensor.empty",
	OpKindFill:                "linalg.fill",
	OpKindGeneric:             "linalg.generic",
	OpKindExtractSlice:        "tensor.extract_slice",
	OpKindInsertSlice:         "tensor.insert_slice",
	OpKindParallelInsertSlice: "tensor.parallel_insert_slice",
	OpKindExpandShape:         "tensor.expand_shape",
	OpKindCollapseShape:       "tensor.collapse_shape",
	OpKindPad:                 "tensor.pad",
	OpKindForall:              "scf.forall",
	OpKindFor:                 "scf.for",
	OpKindYield:               "scf.yield",
	OpKindTransferRead:        "vector.transfer_read",
	OpKindTransferWrite:       "vector.transfer_write",
	OpKindBroadcast:           "vector.broadcast",
	OpKindElementwise:         "vector.elementwise",
	OpKindMultiReduction:      "vector.multi_reduction",
	OpKindTranspose:           "vector.transpose",
	OpKindShapeCast:           "vector.shape_cast",
	OpKindCreateMask:          "vector.create_mask",
	OpKindConstantMask:        "vector.constant_mask",
	OpKindAlloc:               "memref.alloc",
	OpKindSubview:             "memref.subview",
	OpKindCopy:                "memref.copy",
	OpKindWorkgroupID:         "hal.interface.workgroup.id",
	OpKindThreadID:            "gpu.thread_id",
}

var opNameToKind = func() map[string]OpKind {
	m := make(map[string]OpKind, len(opKindNames)+2)
	for kind, name := range opKindNames {
		m[name] = kind
	}
	m["memref.expand_shape"] = OpKindExpandShape
	m["memref.collapse_shape"] = OpKindCollapseShape
	return m
}()

// MLIRName returns the operation name of the kind, e.g. "linalg.generic".
func (k OpKind) MLIRName() string {
	if name, found := opKindNames[k]; found {
		return name
	}
	return "unknown." + k.String()
}

// KindFromName returns the OpKind of an MLIR operation name.
func KindFromName(name string) (OpKind, bool) {
	kind, found := opNameToKind[name]
	return kind, found
}

// IsStructured returns whether the kind is a structured (linalg) operation that can be tiled and fused.
func (k OpKind) IsStructured() bool {
	return k == OpKindFill || k == OpKindGeneric
}

// IsLoop returns whether the kind is a loop construct.
func (k OpKind) IsLoop() bool {
	return k == OpKindForall || k == OpKindFor
}

// IsTerminator returns whether the kind terminates a block.
func (k OpKind) IsTerminator() bool {
	return k == OpKindReturn || k == OpKindYield
}

// Name returns the MLIR name of the operation, taking into account whether reshapes operate on buffers.
func (op *Op) Name() string {
	switch op.Kind {
	case OpKindExpandShape, OpKindCollapseShape:
		if len(op.Results) > 0 && op.Results[0].Shape.Kind == shapes.MemRefKind {
			if op.Kind == OpKindExpandShape {
				return "memref.expand_shape"
			}
			return "memref.collapse_shape"
		}
	case OpKindFill, OpKindGeneric:
		// Same name on tensors and buffers.
	case OpKindYield:
		if op.Body != nil {
			return "scf.forall.in_parallel"
		}
	}
	return op.Kind.MLIRName()
}

// IsPure returns whether the op has no memory effects, so it can be deduplicated, hoisted and erased when unused.
func (op *Op) IsPure() bool {
	switch op.Kind {
	case OpKindConstant, OpKindAffineApply, OpKindAffineMin, OpKindEmpty, OpKindExtractSlice, OpKindInsertSlice,
		OpKindPad, OpKindBroadcast, OpKindElementwise, OpKindMultiReduction, OpKindTranspose, OpKindShapeCast,
		OpKindCreateMask, OpKindConstantMask, OpKindWorkgroupID, OpKindThreadID, OpKindSubview:
		return true
	case OpKindExpandShape, OpKindCollapseShape, OpKindFill, OpKindGeneric, OpKindTransferRead, OpKindTransferWrite:
		for _, operand := range op.Operands {
			if operand.Shape.IsMemRef() {
				return false
			}
		}
		return len(op.Results) > 0
	default:
		return false
	}
}

// IsTriviallyDead returns whether the op can be erased: none of its results is used and it does not write memory.
func (op *Op) IsTriviallyDead() bool {
	if len(op.Results) == 0 || op.HasUses() {
		return false
	}
	switch op.Kind {
	case OpKindLoad, OpKindAlloc:
		return true
	case OpKindTransferRead:
		return true
	}
	return op.IsPure()
}
