package bufferization

import (
	"github.com/gomlx/go-xform/pkg/payload"
	"k8s.io/klog/v2"
)

// EliminateEmptyTensors replaces the tensor.empty ops that end up stored to a dispatch binding by a load of
// the binding itself, so that bufferization writes the result directly into the output buffer instead of
// allocating a temporary and copying it.
//
// The destination of the stored value is followed through destination-passing ops (structured ops, loops,
// insert slices and transfer writes) back to a tensor.empty with a single use and the shape of the binding.
// It returns the number of tensor.empty ops replaced.
func EliminateEmptyTensors(scope *payload.Op) int {
	g := scope.Graph()
	replaced := 0
	for _, store := range scope.Collect(func(op *payload.Op) bool { return op.Kind == payload.OpKindStore }) {
		binding := store.Operands[1]
		empty := destinationEmpty(store.Operands[0])
		if empty == nil || len(empty.Results[0].Uses()) != 1 || !empty.Results[0].Shape.Equal(binding.Shape.ToTensor()) {
			continue
		}
		if !binding.DefinedBefore(empty) {
			continue
		}
		load := g.NewBuilder().SetInsertionPointBefore(empty).Load(binding)
		g.ReplaceOp(empty, load)
		klog.V(2).Infof("empty tensor elimination: %s replaced by a load of the stored binding", empty.Name())
		replaced++
	}
	return replaced
}

// destinationEmpty follows the destination operands producing v back to a tensor.empty, or returns nil.
func destinationEmpty(v *payload.Value) *payload.Op {
	for {
		def := v.DefiningOp()
		if def == nil {
			return nil
		}
		switch def.Kind {
		case payload.OpKindEmpty:
			return def
		case payload.OpKindFill, payload.OpKindGeneric:
			l := payload.MustLinalg(def)
			v = l.Inits()[v.Index()]
		case payload.OpKindForall:
			v = def.Operands[v.Index()]
		case payload.OpKindFor:
			v = payload.ForInits(def)[v.Index()]
		case payload.OpKindInsertSlice, payload.OpKindTransferWrite:
			v = def.Operands[1]
		default:
			return nil
		}
		if next := v.DefiningOp(); next != nil && next.Kind != payload.OpKindEmpty && len(v.Uses()) != 1 {
			// Other users would observe the writes into the binding.
			return nil
		}
	}
}
