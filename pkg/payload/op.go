package payload

import (
	"slices"

	"github.com/gomlx/go-xform/pkg/types/shapes"
)

// Op is one operation of the program graph. It is owned by its Graph and lives in a Block of its parent
// operation; the root variant has no parent.
type Op struct {
	graph *Graph
	ref   OpRef
	block *Block

	Kind OpKind

	// Symbol is the symbol name of variants, exports and functions.
	Symbol string

	Operands   []*Value
	Results    []*Value
	Attributes map[string]any

	// Body is the single-block region of functions, loops and the variant. It is nil for other ops.
	Body *Block
}

// Ref returns the generation-counted reference of the op.
func (op *Op) Ref() OpRef {
	return op.ref
}

// Graph returns the owning graph.
func (op *Op) Graph() *Graph {
	return op.graph
}

// Block returns the block containing op, nil for the root or erased ops.
func (op *Op) Block() *Block {
	return op.block
}

// ParentOp returns the op owning the block that contains op.
func (op *Op) ParentOp() *Op {
	if op.block == nil {
		return nil
	}
	return op.block.owner
}

// IsErased returns whether the op has been erased from its graph.
func (op *Op) IsErased() bool {
	s := op.graph.slots[op.ref.Slot]
	return s.op != op
}

// Result returns the i-th result.
func (op *Op) Result(i int) *Value {
	return op.Results[i]
}

// ParentOfKind returns the closest ancestor (op excluded) of the given kind, or nil.
func (op *Op) ParentOfKind(kind OpKind) *Op {
	for parent := op.ParentOp(); parent != nil; parent = parent.ParentOp() {
		if parent.Kind == kind {
			return parent
		}
	}
	return nil
}

// IsAncestorOf returns whether op is other or one of its ancestors.
func (op *Op) IsAncestorOf(other *Op) bool {
	for ; other != nil; other = other.ParentOp() {
		if other == op {
			return true
		}
	}
	return false
}

// Index returns the position of op in its block, or -1.
func (op *Op) Index() int {
	if op.block == nil {
		return -1
	}
	return slices.Index(op.block.Ops, op)
}

// Block is the single block of a region: a list of arguments and an ordered list of ops.
type Block struct {
	owner *Op
	Args  []*Value
	Ops   []*Op
}

// Owner returns the op owning the block.
func (b *Block) Owner() *Op {
	return b.owner
}

// AddArgument appends a new block argument with the given shape.
func (b *Block) AddArgument(shape shapes.Shape) *Value {
	v := &Value{Shape: shape, owner: b, index: len(b.Args)}
	b.Args = append(b.Args, v)
	return v
}

// EraseArgument removes the block argument at index. The argument must have no uses.
func (b *Block) EraseArgument(index int) {
	b.Args = slices.Delete(b.Args, index, index+1)
	for i, arg := range b.Args {
		arg.index = i
	}
}

// Terminator returns the last op of the block if it is a terminator, or nil.
func (b *Block) Terminator() *Op {
	if len(b.Ops) == 0 {
		return nil
	}
	last := b.Ops[len(b.Ops)-1]
	if last.Kind.IsTerminator() {
		return last
	}
	return nil
}

// Value is an SSA value: either the result of an op or a block argument.
type Value struct {
	Shape shapes.Shape

	def   *Op
	owner *Block
	index int
}

// DefiningOp returns the op producing the value, nil for block arguments.
func (v *Value) DefiningOp() *Op {
	return v.def
}

// IsBlockArgument returns whether v is an argument of a block.
func (v *Value) IsBlockArgument() bool {
	return v.def == nil
}

// OwnerBlock returns the block of a block argument, or the block of the defining op.
func (v *Value) OwnerBlock() *Block {
	if v.def != nil {
		return v.def.block
	}
	return v.owner
}

// Index returns the result number or the argument number.
func (v *Value) Index() int {
	return v.index
}

// DefinedOutside returns whether v is defined outside the region of op, that is, neither a block argument
// of op's body nor produced by an op nested in it.
func (v *Value) DefinedOutside(op *Op) bool {
	block := v.OwnerBlock()
	if block == nil {
		return true
	}
	return !op.IsAncestorOf(block.owner)
}

// DefinedBefore returns whether v is available at the position of op: it is defined by an op earlier in
// the same block or in the block of an ancestor of op, or it is an argument of an enclosing block.
func (v *Value) DefinedBefore(op *Op) bool {
	block := v.OwnerBlock()
	if block == nil {
		return false
	}
	for user := op; user != nil; user = user.ParentOp() {
		if user.block != block {
			continue
		}
		if v.def == nil {
			return true
		}
		return v.def.Index() < user.Index()
	}
	return false
}
