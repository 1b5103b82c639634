package rewrite

import (
	"slices"

	"github.com/gomlx/go-xform/pkg/payload"
	"k8s.io/klog/v2"
)

// MaxIterations bounds the number of sweeps of the greedy driver.
const MaxIterations = 10

// Pattern rewrites one op. Rewrite returns whether it changed the graph.
type Pattern struct {
	Name string

	// Kinds the pattern applies to. Empty means all kinds.
	Kinds []payload.OpKind

	Rewrite func(rw *Rewriter, op *payload.Op) bool
}

func (p *Pattern) matches(op *payload.Op) bool {
	return len(p.Kinds) == 0 || slices.Contains(p.Kinds, op.Kind)
}

// Rewriter is the builder handed to patterns: its insertion point is set right before the op being rewritten.
type Rewriter struct {
	*payload.Builder
	Graph *payload.Graph
}

// ReplaceOp replaces the results of op with values and erases it.
func (rw *Rewriter) ReplaceOp(op *payload.Op, values ...*payload.Value) {
	rw.Graph.ReplaceOp(op, values...)
}

// Erase erases op.
func (rw *Rewriter) Erase(op *payload.Op) {
	rw.Graph.Erase(op)
}

// Stats of one application of the driver.
type Stats struct {
	Iterations int
	Rewrites   int
	Erased     int
	Converged  bool
}

// Changed returns whether the graph was modified.
func (s Stats) Changed() bool {
	return s.Rewrites > 0 || s.Erased > 0
}

// Apply applies the pattern sets selected by config to the ops nested in scope, sweeping until no pattern
// applies anymore or MaxIterations is reached.
func Apply(scope *payload.Op, config Config) Stats {
	g := scope.Graph()
	patterns := config.patterns()
	var stats Stats
	for stats.Iterations < MaxIterations {
		stats.Iterations++
		changed := false
		scope.Walk(func(op *payload.Op) {
			if op == scope || op.IsErased() {
				return
			}
			for i := range patterns {
				p := &patterns[i]
				if !p.matches(op) {
					continue
				}
				rw := &Rewriter{Builder: g.NewBuilder().SetInsertionPointBefore(op), Graph: g}
				if p.Rewrite(rw, op) {
					klog.V(2).Infof("rewrite: applied %s to %s", p.Name, op.Kind.MLIRName())
					stats.Rewrites++
					changed = true
					break
				}
			}
		})
		if config.Canonicalization {
			n := eraseDeadOps(scope)
			stats.Erased += n
			changed = changed || n > 0
		}
		if config.CSE {
			n := eliminateCommonSubexpressions(scope)
			stats.Erased += n
			changed = changed || n > 0
		}
		if config.LICM {
			n := hoistLoopInvariants(scope)
			stats.Rewrites += n
			changed = changed || n > 0
		}
		if !changed {
			stats.Converged = true
			break
		}
	}
	if !stats.Converged {
		klog.Warningf("rewrite: patterns %s did not converge after %d iterations", config, MaxIterations)
	}
	return stats
}

// eraseDeadOps erases trivially dead ops nested in scope, returning how many were erased.
func eraseDeadOps(scope *payload.Op) int {
	g := scope.Graph()
	erased := 0
	for {
		n := 0
		scope.WalkPostOrder(func(op *payload.Op) {
			if op != scope && g.EraseIfDead(op) {
				n++
			}
		})
		if n == 0 {
			return erased
		}
		erased += n
	}
}
