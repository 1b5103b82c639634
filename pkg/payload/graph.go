// Package payload implements the program graph transformed by transform scripts: operations, values,
// blocks and an arena that hands out generation-counted references to operations, so that references
// to erased operations are detected instead of dangling.
package payload

import (
	"fmt"

	"github.com/gomlx/go-xform/internal/utils"
	"github.com/pkg/errors"
)

// OpRef identifies an operation in a Graph. It is only valid while the operation is alive: once the
// operation is erased the slot generation changes and Graph.Resolve fails.
type OpRef struct {
	Slot int32
	Gen  uint32
}

// String implements fmt.Stringer.
func (r OpRef) String() string {
	return fmt.Sprintf("op#%d.%d", r.Slot, r.Gen)
}

// Listener is notified of replacements and erasures of operations.
type Listener interface {
	// OpReplaced is called before old is erased, when all of its results were replaced by results of
	// replacement. replacement is nil if the new values come from several operations or from block arguments.
	OpReplaced(old, replacement *Op)

	// OpErased is called when op is erased from the graph.
	OpErased(op *Op)
}

type slot struct {
	op  *Op
	gen uint32
}

// Graph owns the operations of one program: the root is a `hal.executable.variant` op holding exports
// and functions.
type Graph struct {
	slots     []slot
	free      []int32
	root      *Op
	listeners []Listener
}

// New creates a graph whose root is an executable variant with the given name, targeting the given backend
// (e.g. "cuda" or "llvm-cpu").
func New(variantName, target string) *Graph {
	g := &Graph{}
	g.root = g.newOp(OpKindVariant)
	g.root.Symbol = utils.NormalizeIdentifier(variantName)
	g.root.Attributes = map[string]any{AttrTarget: target}
	g.root.Body = &Block{owner: g.root}
	return g
}

// Root returns the variant operation.
func (g *Graph) Root() *Op {
	return g.root
}

// Target returns the backend the variant targets.
func (g *Graph) Target() string {
	return g.root.StringAttr(AttrTarget)
}

func (g *Graph) newOp(kind OpKind) *Op {
	op := &Op{graph: g, Kind: kind}
	if n := len(g.free); n > 0 {
		idx := g.free[n-1]
		g.free = g.free[:n-1]
		g.slots[idx].op = op
		op.ref = OpRef{Slot: idx, Gen: g.slots[idx].gen}
		return op
	}
	g.slots = append(g.slots, slot{op: op})
	op.ref = OpRef{Slot: int32(len(g.slots) - 1)}
	return op
}

// Resolve returns the live operation referenced by ref.
func (g *Graph) Resolve(ref OpRef) (*Op, error) {
	if ref.Slot < 0 || int(ref.Slot) >= len(g.slots) {
		return nil, errors.Errorf("invalid operation reference %s", ref)
	}
	s := g.slots[ref.Slot]
	if s.op == nil || s.gen != ref.Gen {
		return nil, errors.Errorf("operation reference %s is stale: the operation was erased", ref)
	}
	return s.op, nil
}

// NumOps returns the number of live operations, the root included.
func (g *Graph) NumOps() int {
	return len(g.slots) - len(g.free)
}

// AddListener registers l to be notified of replacements and erasures.
func (g *Graph) AddListener(l Listener) {
	g.listeners = append(g.listeners, l)
}

// RemoveListener unregisters l.
func (g *Graph) RemoveListener(l Listener) {
	for i, l2 := range g.listeners {
		if l2 == l {
			g.listeners = append(g.listeners[:i], g.listeners[i+1:]...)
			return
		}
	}
}

// release frees the slot of an erased op, invalidating all its OpRef.
func (g *Graph) release(op *Op) {
	s := &g.slots[op.ref.Slot]
	s.op = nil
	s.gen++
	g.free = append(g.free, op.ref.Slot)
}

// Funcs returns the functions of the variant.
func (g *Graph) Funcs() []*Op {
	var funcs []*Op
	for _, op := range g.root.Body.Ops {
		if op.Kind == OpKindFunc {
			funcs = append(funcs, op)
		}
	}
	return funcs
}

// Export returns the export op of the function with the given symbol, or nil.
func (g *Graph) Export(symbol string) *Op {
	for _, op := range g.root.Body.Ops {
		if op.Kind == OpKindExport && op.Symbol == symbol {
			return op
		}
	}
	return nil
}

// CountByKind returns the number of live operations of each kind.
func (g *Graph) CountByKind() map[OpKind]int {
	counts := make(map[OpKind]int)
	g.root.Walk(func(op *Op) {
		counts[op.Kind]++
	})
	return counts
}
