package payload

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/go-xform/pkg/types/shapes"
)

// Builder creates operations at an insertion point of a Graph.
type Builder struct {
	graph *Graph
	block *Block

	// before is the op before which new ops are inserted. If nil, they are appended to the block.
	before *Op
}

// NewBuilder returns a builder appending to the body of the root variant.
func (g *Graph) NewBuilder() *Builder {
	return &Builder{graph: g, block: g.root.Body}
}

// Graph returns the graph the builder creates ops in.
func (b *Builder) Graph() *Graph {
	return b.graph
}

// SetInsertionPointBefore makes subsequent ops be inserted right before op.
func (b *Builder) SetInsertionPointBefore(op *Op) *Builder {
	b.block, b.before = op.block, op
	return b
}

// SetInsertionPointAfter makes subsequent ops be inserted right after op.
func (b *Builder) SetInsertionPointAfter(op *Op) *Builder {
	b.block = op.block
	idx := op.Index()
	if idx+1 < len(op.block.Ops) {
		b.before = op.block.Ops[idx+1]
	} else {
		b.before = nil
	}
	return b
}

// SetInsertionPointToEnd makes subsequent ops be appended to the block. If the block has a terminator,
// ops are inserted before it.
func (b *Builder) SetInsertionPointToEnd(block *Block) *Builder {
	b.block, b.before = block, block.Terminator()
	return b
}

// SetInsertionPointToStart makes subsequent ops be inserted at the start of block.
func (b *Builder) SetInsertionPointToStart(block *Block) *Builder {
	b.block = block
	b.before = nil
	if len(block.Ops) > 0 {
		b.before = block.Ops[0]
	}
	return b
}

// Create creates a new op at the insertion point, with one result per result shape.
func (b *Builder) Create(kind OpKind, operands []*Value, resultShapes []shapes.Shape, attrs map[string]any) *Op {
	if b.block == nil {
		exceptions.Panicf("payload.Builder has no insertion point to create %s", kind.MLIRName())
	}
	op := b.graph.newOp(kind)
	op.Operands = slices.Clone(operands)
	op.Attributes = attrs
	op.Results = make([]*Value, len(resultShapes))
	for i, shape := range resultShapes {
		op.Results[i] = &Value{Shape: shape.Clone(), def: op, index: i}
	}
	b.insert(op)
	return op
}

func (b *Builder) insert(op *Op) {
	op.block = b.block
	if b.before == nil {
		b.block.Ops = append(b.block.Ops, op)
		return
	}
	idx := b.before.Index()
	b.block.Ops = slices.Insert(b.block.Ops, idx, op)
}

// AddBody creates the single block region of op, with arguments of the given shapes.
func (op *Op) AddBody(argShapes ...shapes.Shape) *Block {
	op.Body = &Block{owner: op}
	for _, shape := range argShapes {
		op.Body.AddArgument(shape)
	}
	return op.Body
}

// Clone creates a copy of op at the builder insertion point, with its operands remapped through mapping
// (operands not in mapping are kept). The body is cloned recursively, and mapping is updated with the
// results and block arguments of the clone.
func (b *Builder) Clone(op *Op, mapping map[*Value]*Value) *Op {
	operands := make([]*Value, len(op.Operands))
	for i, operand := range op.Operands {
		if mapped, found := mapping[operand]; found {
			operand = mapped
		}
		operands[i] = operand
	}
	resultShapes := make([]shapes.Shape, len(op.Results))
	for i, result := range op.Results {
		resultShapes[i] = result.Shape
	}
	cloned := b.Create(op.Kind, operands, resultShapes, cloneAttributes(op.Attributes))
	cloned.Symbol = op.Symbol
	for i, result := range op.Results {
		mapping[result] = cloned.Results[i]
	}
	if op.Body != nil {
		argShapes := make([]shapes.Shape, len(op.Body.Args))
		for i, arg := range op.Body.Args {
			argShapes[i] = arg.Shape
		}
		body := cloned.AddBody(argShapes...)
		for i, arg := range op.Body.Args {
			mapping[arg] = body.Args[i]
		}
		inner := &Builder{graph: b.graph, block: body}
		for _, nested := range op.Body.Ops {
			inner.Clone(nested, mapping)
		}
	}
	return cloned
}

// Walk visits op and all ops nested in it, in pre-order.
// fn may erase the visited op and ops following it.
func (op *Op) Walk(fn func(op *Op)) {
	fn(op)
	if op.Body == nil || op.IsErased() {
		return
	}
	for _, nested := range slices.Clone(op.Body.Ops) {
		if !nested.IsErased() {
			nested.Walk(fn)
		}
	}
}

// WalkPostOrder visits all ops nested in op and then op itself.
func (op *Op) WalkPostOrder(fn func(op *Op)) {
	if op.Body != nil {
		for _, nested := range slices.Clone(op.Body.Ops) {
			if !nested.IsErased() {
				nested.WalkPostOrder(fn)
			}
		}
	}
	if !op.IsErased() {
		fn(op)
	}
}

// Collect returns op and all ops nested in it, in pre-order, for which filter returns true.
func (op *Op) Collect(filter func(op *Op) bool) []*Op {
	var ops []*Op
	op.Walk(func(op *Op) {
		if filter == nil || filter(op) {
			ops = append(ops, op)
		}
	})
	return ops
}

// Use is one operand slot using a value.
type Use struct {
	Owner *Op
	Index int
}

// Uses returns all uses of v in the graph, in program order.
func (v *Value) Uses() []Use {
	block := v.OwnerBlock()
	if block == nil {
		return nil
	}
	var uses []Use
	block.owner.Walk(func(op *Op) {
		for i, operand := range op.Operands {
			if operand == v {
				uses = append(uses, Use{Owner: op, Index: i})
			}
		}
	})
	return uses
}

// Users returns the distinct ops using v, in program order.
func (v *Value) Users() []*Op {
	var users []*Op
	for _, use := range v.Uses() {
		if len(users) == 0 || users[len(users)-1] != use.Owner {
			users = append(users, use.Owner)
		}
	}
	return users
}

// HasUses returns whether v is used by any op.
func (v *Value) HasUses() bool {
	return len(v.Uses()) > 0
}

// HasUses returns whether any of the results of op is used.
func (op *Op) HasUses() bool {
	for _, result := range op.Results {
		if result.HasUses() {
			return true
		}
	}
	return false
}

// ReplaceAllUsesWith makes every user of old use replacement instead.
func (v *Value) ReplaceAllUsesWith(replacement *Value) {
	if v == replacement {
		return
	}
	for _, use := range v.Uses() {
		use.Owner.Operands[use.Index] = replacement
	}
}

// ReplaceUsesIf replaces the uses of v for which filter returns true.
func (v *Value) ReplaceUsesIf(replacement *Value, filter func(use Use) bool) {
	for _, use := range v.Uses() {
		if filter(use) {
			use.Owner.Operands[use.Index] = replacement
		}
	}
}

// ReplaceOp replaces all results of op with values and erases op. Listeners are told the replacement op
// when all values are results of one single op.
func (g *Graph) ReplaceOp(op *Op, values ...*Value) {
	if len(values) != len(op.Results) {
		exceptions.Panicf("ReplaceOp(%s): %d replacement values given for %d results",
			op.Name(), len(values), len(op.Results))
	}
	var replacement *Op
	for i, v := range values {
		def := v.DefiningOp()
		if i == 0 {
			replacement = def
		} else if def != replacement {
			replacement = nil
		}
	}
	for i, result := range op.Results {
		result.ReplaceAllUsesWith(values[i])
	}
	for _, l := range slices.Clone(g.listeners) {
		l.OpReplaced(op, replacement)
	}
	g.Erase(op)
}

// Erase removes op and all the ops nested in it from the graph. Results of op must not be used anymore.
func (g *Graph) Erase(op *Op) {
	if op == g.root {
		exceptions.Panicf("cannot erase the root variant")
	}
	if op.IsErased() {
		return
	}
	op.WalkPostOrder(func(nested *Op) {
		for _, l := range slices.Clone(g.listeners) {
			l.OpErased(nested)
		}
		if nested.block != nil {
			idx := nested.Index()
			nested.block.Ops = slices.Delete(nested.block.Ops, idx, idx+1)
			nested.block = nil
		}
		g.release(nested)
	})
}

// EraseIfDead erases op if it is trivially dead, returning whether it was erased.
func (g *Graph) EraseIfDead(op *Op) bool {
	if op.IsErased() || !op.IsTriviallyDead() {
		return false
	}
	g.Erase(op)
	return true
}

// MoveBefore moves op to right before other, possibly into another block.
func (op *Op) MoveBefore(other *Op) {
	op.detach()
	idx := other.Index()
	op.block = other.block
	other.block.Ops = slices.Insert(other.block.Ops, idx, op)
}

// MoveAfter moves op to right after other, possibly into another block.
func (op *Op) MoveAfter(other *Op) {
	op.detach()
	idx := other.Index()
	op.block = other.block
	other.block.Ops = slices.Insert(other.block.Ops, idx+1, op)
}

func (op *Op) detach() {
	if op.block == nil {
		return
	}
	idx := op.Index()
	op.block.Ops = slices.Delete(op.block.Ops, idx, idx+1)
	op.block = nil
}

// InlineBody moves all ops of op's body, except the terminator, right before op, replacing the uses of the
// body arguments with argValues. The (now empty) op is left for the caller to erase.
func (op *Op) InlineBody(argValues []*Value) {
	if len(argValues) != len(op.Body.Args) {
		exceptions.Panicf("InlineBody(%s): %d values given for %d block arguments",
			op.Name(), len(argValues), len(op.Body.Args))
	}
	for i, arg := range op.Body.Args {
		arg.ReplaceAllUsesWith(argValues[i])
	}
	terminator := op.Body.Terminator()
	for _, nested := range slices.Clone(op.Body.Ops) {
		if nested != terminator {
			nested.MoveBefore(op)
		}
	}
}
