// Package matchers implements the match callbacks that transform scripts invoke by name to find the ops
// a strategy applies to.
package matchers

import (
	"slices"

	"github.com/gomlx/go-xform/pkg/payload"
	"github.com/gomlx/go-xform/pkg/transform"
	"github.com/gomlx/go-xform/pkg/types/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ReductionCallbackName is the name the reduction matcher is registered under.
const ReductionCallbackName = "reduction"

// Register adds all the match callbacks of this package to registry.
func Register(registry *transform.Registry) {
	registry.Register(ReductionCallbackName, 4, Reduction)
}

// Reduction matches, in scope, the first linalg.generic (in program order) reducing along its innermost
// loop only, whose init is produced by a linalg.fill. It returns 4 lists of ops: the optional leading
// elementwise op producing the reduced input, the fill, the reduction and the optional trailing
// elementwise op consuming the reduction result. Absent optional ops yield empty lists.
func Reduction(scope *payload.Op) ([][]*payload.Op, error) {
	match, err := findReduction(scope)
	if err != nil {
		return nil, err
	}
	klog.V(2).Infof("matched reduction: leading=%v trailing=%v", match.leading != nil, match.trailing != nil)
	return [][]*payload.Op{opList(match.leading), {match.fill}, {match.reduction}, opList(match.trailing)}, nil
}

// ReductionCaptures are the properties of the reduction matched by Reduction that strategies are
// configured with.
type ReductionCaptures struct {
	// Rank is the number of loops of the reduction, the innermost one being the reduction loop.
	Rank int

	// Sizes are the loop ranges of the reduction, shapes.DimUnknown for dynamic ones.
	Sizes []int

	DType                   dtypes.DType
	HasLeading, HasTrailing bool
}

// ReductionSize returns the range of the reduction loop.
func (c *ReductionCaptures) ReductionSize() int {
	return c.Sizes[c.Rank-1]
}

// CaptureReduction matches the reduction of scope as Reduction does, and returns its captured properties.
func CaptureReduction(scope *payload.Op) (*ReductionCaptures, error) {
	match, err := findReduction(scope)
	if err != nil {
		return nil, err
	}
	l := payload.MustLinalg(match.reduction)
	return &ReductionCaptures{
		Rank:        l.NumLoops(),
		Sizes:       slices.Clone(l.LoopRanges()),
		DType:       match.reduction.Results[0].Shape.DType,
		HasLeading:  match.leading != nil,
		HasTrailing: match.trailing != nil,
	}, nil
}

type reductionMatch struct {
	leading, fill, reduction, trailing *payload.Op
}

func findReduction(scope *payload.Op) (*reductionMatch, error) {
	var match *reductionMatch
	scope.Walk(func(op *payload.Op) {
		if match == nil {
			match = matchReduction(op)
		}
	})
	if match == nil {
		return nil, errors.Errorf("no reduction found in %s", scope.Name())
	}
	return match, nil
}

func opList(op *payload.Op) []*payload.Op {
	if op == nil {
		return nil
	}
	return []*payload.Op{op}
}

func matchReduction(op *payload.Op) *reductionMatch {
	if op.Kind != payload.OpKindGeneric || len(op.Results) != 1 {
		return nil
	}
	l := payload.MustLinalg(op)
	reductionDims := l.ReductionDims()
	if len(reductionDims) != 1 || reductionDims[0] != l.NumLoops()-1 || len(l.Inits()) != 1 || l.NumInputs == 0 {
		return nil
	}
	fill := l.Inits()[0].DefiningOp()
	if fill == nil || fill.Kind != payload.OpKindFill {
		return nil
	}
	m := &reductionMatch{fill: fill, reduction: op}
	if producer := l.Inputs()[0].DefiningOp(); isElementwise(producer) && onlyUsedBy(producer, op) {
		m.leading = producer
	}
	// The trailing op must read the result as an input, not update it in place.
	if uses := op.Results[0].Uses(); len(uses) == 1 && isElementwise(uses[0].Owner) &&
		uses[0].Index < payload.MustLinalg(uses[0].Owner).NumInputs {
		m.trailing = uses[0].Owner
	}
	return m
}

func isElementwise(op *payload.Op) bool {
	if op == nil || op.Kind != payload.OpKindGeneric || len(op.Results) != 1 {
		return false
	}
	return payload.MustLinalg(op).IsElementwise()
}

func onlyUsedBy(producer, user *payload.Op) bool {
	for _, u := range producer.Results[0].Users() {
		if u != user {
			return false
		}
	}
	return true
}
