package payload

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/go-xform/pkg/types/shapes"
	"github.com/pkg/errors"
)

// IteratorType of a loop of a structured op.
type IteratorType int

const (
	Parallel IteratorType = iota
	Reduction
)

// String implements fmt.Stringer.
func (it IteratorType) String() string {
	if it == Reduction {
		return "reduction"
	}
	return "parallel"
}

// UnitDim is used in indexing maps for operand dimensions of size 1 that don't map to any loop.
const UnitDim = -1

// Linalg is the structured view of a linalg.fill or linalg.generic op: its loops and the map of each
// operand dimension to a loop.
type Linalg struct {
	Op            *Op
	IteratorTypes []IteratorType

	// IndexingMaps has one entry per operand (inputs first): for each operand dimension the loop it
	// iterates over, or UnitDim. Scalar operands have an empty map.
	IndexingMaps [][]int
	NumInputs    int
}

// AsLinalg returns the structured view of op, or an error if op is not a structured op.
func AsLinalg(op *Op) (*Linalg, error) {
	switch op.Kind {
	case OpKindFill:
		rank := op.Operands[1].Shape.Rank()
		identity := make([]int, rank)
		iterators := make([]IteratorType, rank)
		for i := range identity {
			identity[i] = i
		}
		return &Linalg{Op: op, IteratorTypes: iterators, IndexingMaps: [][]int{{}, identity}, NumInputs: 1}, nil
	case OpKindGeneric:
		iterators, _ := op.Attributes[AttrIteratorTypes].([]IteratorType)
		maps, _ := op.Attributes[AttrIndexingMaps].([][]int)
		if len(maps) != len(op.Operands) {
			return nil, errors.Errorf("%s has %d indexing maps for %d operands", op.Name(), len(maps), len(op.Operands))
		}
		return &Linalg{Op: op, IteratorTypes: iterators, IndexingMaps: maps, NumInputs: op.IntAttr(AttrNumInputs)}, nil
	default:
		return nil, errors.Errorf("%s is not a structured operation", op.Name())
	}
}

// MustLinalg is like AsLinalg but panics if op is not structured.
func MustLinalg(op *Op) *Linalg {
	l, err := AsLinalg(op)
	if err != nil {
		exceptions.Panicf("%v", err)
	}
	return l
}

// NumLoops returns the number of loops of the iteration space.
func (l *Linalg) NumLoops() int {
	return len(l.IteratorTypes)
}

// Inputs returns the input operands.
func (l *Linalg) Inputs() []*Value {
	return l.Op.Operands[:l.NumInputs]
}

// Inits returns the init (destination) operands.
func (l *Linalg) Inits() []*Value {
	return l.Op.Operands[l.NumInputs:]
}

// Fn returns the scalar function of the op: the combiner for reductions, the elementwise function otherwise.
func (l *Linalg) Fn() string {
	if l.Op.Kind == OpKindFill {
		return "fill"
	}
	return l.Op.StringAttr(AttrFn)
}

// LoopRanges returns the static range of each loop, or shapes.DimUnknown if it is dynamic.
func (l *Linalg) LoopRanges() []int {
	ranges := make([]int, l.NumLoops())
	found := make([]bool, l.NumLoops())
	for i, m := range l.IndexingMaps {
		dims := l.Op.Operands[i].Shape.Dimensions
		for j, loop := range m {
			if loop == UnitDim || found[loop] {
				continue
			}
			ranges[loop] = dims[j]
			found[loop] = dims[j] != shapes.DimUnknown
		}
	}
	return ranges
}

// LoopRangeValue returns the extent of the given loop: static, or a dynamic index value traced through
// the operand producers.
func (l *Linalg) LoopRangeValue(loop int) (OpFoldResult, bool) {
	for i, m := range l.IndexingMaps {
		for j, dim := range m {
			if dim == loop {
				if size, ok := DimValue(l.Op.Operands[i], j); ok {
					return size, true
				}
			}
		}
	}
	return OpFoldResult{}, false
}

// ReductionDims returns the reduction loops.
func (l *Linalg) ReductionDims() []int {
	var dims []int
	for i, it := range l.IteratorTypes {
		if it == Reduction {
			dims = append(dims, i)
		}
	}
	return dims
}

// IsElementwise returns whether all loops are parallel and every operand is indexed by the loops in order.
func (l *Linalg) IsElementwise() bool {
	if len(l.ReductionDims()) > 0 {
		return false
	}
	for _, m := range l.IndexingMaps {
		prev := -1
		for _, loop := range m {
			if loop == UnitDim {
				continue
			}
			if loop <= prev {
				return false
			}
			prev = loop
		}
	}
	return true
}

// IsReduction returns whether the op has at least one reduction loop.
func (l *Linalg) IsReduction() bool {
	return len(l.ReductionDims()) > 0
}

// OperandMap returns the indexing map of the operand at operandIdx.
func (l *Linalg) OperandMap(operandIdx int) []int {
	return l.IndexingMaps[operandIdx]
}

// GenericSpec describes a linalg.generic to create.
type GenericSpec struct {
	Inputs, Inits []*Value
	IteratorTypes []IteratorType
	IndexingMaps  [][]int
	Fn            string
}

// Generic creates a linalg.generic. It returns results (the updated inits) only when the inits are tensors.
func (b *Builder) Generic(spec GenericSpec) *Op {
	if len(spec.IndexingMaps) != len(spec.Inputs)+len(spec.Inits) {
		exceptions.Panicf("linalg.generic with %d indexing maps for %d operands",
			len(spec.IndexingMaps), len(spec.Inputs)+len(spec.Inits))
	}
	operands := append(slices.Clone(spec.Inputs), spec.Inits...)
	var resultShapes []shapes.Shape
	for _, init := range spec.Inits {
		if init.Shape.IsTensor() {
			resultShapes = append(resultShapes, init.Shape)
		}
	}
	maps := make([][]int, len(spec.IndexingMaps))
	for i, m := range spec.IndexingMaps {
		maps[i] = slices.Clone(m)
	}
	return b.Create(OpKindGeneric, operands, resultShapes, map[string]any{
		AttrIteratorTypes: slices.Clone(spec.IteratorTypes),
		AttrIndexingMaps:  maps,
		AttrNumInputs:     len(spec.Inputs),
		AttrFn:            spec.Fn,
	})
}

// Fill creates a linalg.fill of init with the scalar value.
func (b *Builder) Fill(value, init *Value) *Op {
	var resultShapes []shapes.Shape
	if init.Shape.IsTensor() {
		resultShapes = append(resultShapes, init.Shape)
	}
	return b.Create(OpKindFill, []*Value{value, init}, resultShapes, nil)
}

// CloneStructured clones a structured op with new operands (same order as the original). Result shapes
// follow the new tensor inits. Attributes are copied.
func (b *Builder) CloneStructured(op *Op, operands []*Value) *Op {
	l := MustLinalg(op)
	var resultShapes []shapes.Shape
	for _, init := range operands[l.NumInputs:] {
		if init.Shape.IsTensor() {
			resultShapes = append(resultShapes, init.Shape)
		}
	}
	return b.Create(op.Kind, operands, resultShapes, cloneAttributes(op.Attributes))
}

// NeutralValue returns the neutral element of a combiner function, e.g. 0 for "add".
func NeutralValue(fn string, lowest, highest float64) (float64, error) {
	switch fn {
	case "add", "sum":
		return 0, nil
	case "mul":
		return 1, nil
	case "max":
		return lowest, nil
	case "min":
		return highest, nil
	default:
		return 0, errors.Errorf("no neutral element known for combiner %q", fn)
	}
}
