package transform

import (
	"fmt"
	"io"
	"os"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/go-xform/internal/bufferization"
	"github.com/gomlx/go-xform/internal/optypes"
	"github.com/gomlx/go-xform/internal/rewrite"
	"github.com/gomlx/go-xform/internal/tiling"
	"github.com/gomlx/go-xform/internal/utils"
	"github.com/gomlx/go-xform/pkg/payload"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Interpreter executes transform scripts against payload programs.
type Interpreter struct {
	registry *Registry
	output   io.Writer
}

// NewInterpreter creates an interpreter whose scripts can call the match callbacks of registry (it may be
// nil). Printing statements write to os.Stdout by default.
func NewInterpreter(registry *Registry) *Interpreter {
	return &Interpreter{registry: registry, output: os.Stdout}
}

// WithOutput sets the writer of the printing statements. It returns the interpreter itself.
func (it *Interpreter) WithOutput(w io.Writer) *Interpreter {
	it.output = w
	return it
}

// Stats of the execution of a script.
type Stats struct {
	// Executed is the number of statements successfully executed, and Suppressed the number of statements
	// whose silenceable failure was suppressed.
	Executed, Suppressed int

	// ByStatement counts the statements executed per statement name.
	ByStatement map[string]int

	// Rewrites counts the patterns applied and the ops erased by ApplyPatterns.
	Rewrites int

	Fused, Vectorized, Hoisted int
	Allocs, Copies            int
	BufferRewrites            int
}

// State of the execution of a script: the payload ops bound to each handle, as generation-counted
// references so that handles to erased ops are detected.
type State struct {
	Stats Stats

	graph               *payload.Graph
	handles             map[*Handle][]payload.OpRef
	callbacksRegistered bool
}

// Ops returns the live payload ops bound to h. It fails if h was not bound, or if one of its ops was
// erased by a later statement.
func (s *State) Ops(h *Handle) ([]*payload.Op, error) {
	refs, found := s.handles[h]
	if !found {
		return nil, errors.Errorf("handle %s is not bound", h)
	}
	ops := make([]*payload.Op, 0, len(refs))
	for _, ref := range refs {
		op, err := s.graph.Resolve(ref)
		if err != nil {
			return nil, errors.WithMessagef(err, "handle %s was invalidated", h)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// NumOps returns the number of ops bound to h, without checking whether they are still alive.
func (s *State) NumOps(h *Handle) int {
	return len(s.handles[h])
}

func (s *State) bind(h *Handle, ops []*payload.Op) {
	refs := make([]payload.OpRef, len(ops))
	for i, op := range ops {
		refs[i] = op.Ref()
	}
	s.handles[h] = refs
}

// trackingListener forwards the handles to an op replaced by an op of the same kind to the replacement.
// Handles to ops replaced otherwise become stale.
type trackingListener struct {
	state *State
}

func (l *trackingListener) OpReplaced(old, replacement *payload.Op) {
	if replacement == nil || replacement.Kind != old.Kind {
		return
	}
	oldRef := old.Ref()
	for h, refs := range l.state.handles {
		for i, ref := range refs {
			if ref == oldRef {
				refs[i] = replacement.Ref()
				klog.V(2).Infof("transform: handle %s forwarded from %s to %s", h, oldRef, refs[i])
			}
		}
	}
}

func (l *trackingListener) OpErased(*payload.Op) {}

// Execute runs the statements of seq, whose argument is bound to the root of g, in order. The returned
// state holds the ops bound to each handle, also when execution fails: changes made by the statements
// executed before the failure are not rolled back.
func (it *Interpreter) Execute(seq *Sequence, g *payload.Graph) (*State, error) {
	state := &State{
		graph:   g,
		handles: make(map[*Handle][]payload.OpRef),
		Stats:   Stats{ByStatement: make(map[string]int)},
	}
	state.bind(seq.arg, []*payload.Op{g.Root()})
	listener := &trackingListener{state: state}
	g.AddListener(listener)
	defer g.RemoveListener(listener)

	for _, stmt := range seq.Statements {
		klog.V(1).Infof("transform: %s", stmt)
		var err error
		if exception := exceptions.TryCatch[error](func() { err = it.apply(state, stmt) }); exception != nil {
			err = &Failure{Err: exception}
		}
		if err == nil {
			state.Stats.Executed++
			state.Stats.ByStatement[stmt.OpType.ToStatementName()]++
			continue
		}
		var failure *Failure
		if !errors.As(err, &failure) {
			failure = &Failure{Err: err}
		}
		failure.Statement = stmt
		if failure.Silenceable && seq.Mode == Suppress {
			klog.Warningf("transform: suppressed %v", failure)
			for _, out := range stmt.Outputs {
				state.handles[out] = nil
			}
			state.Stats.Suppressed++
			continue
		}
		return state, failure
	}
	return state, nil
}

// ops resolves the ops of h, as a definite failure if h is stale.
func (s *State) ops(h *Handle) ([]*payload.Op, error) {
	ops, err := s.Ops(h)
	if err != nil {
		return nil, &Failure{Err: err}
	}
	return ops, nil
}

// funcsOf returns the functions nested in the ops, ops that are functions included.
func funcsOf(ops []*payload.Op) []*payload.Op {
	var funcs []*payload.Op
	for _, op := range ops {
		funcs = append(funcs, op.Collect(func(nested *payload.Op) bool { return nested.Kind == payload.OpKindFunc })...)
	}
	return funcs
}

// apply executes one statement.
func (it *Interpreter) apply(s *State, stmt *Statement) error {
	var inputs [][]*payload.Op
	for _, h := range stmt.Inputs {
		ops, err := s.ops(h)
		if err != nil {
			return err
		}
		inputs = append(inputs, ops)
	}
	attrs := stmt.Attributes
	outputs := make([][]*payload.Op, len(stmt.Outputs))

	switch stmt.OpType {
	case optypes.Match:
		kinds := utils.MakeSet[payload.OpKind]()
		for _, name := range attrs[AttrOps].([]string) {
			kind, found := payload.KindFromName(name)
			if !found {
				return definite("unknown operation name %q", name)
			}
			kinds.Insert(kind)
		}
		for _, target := range inputs[0] {
			outputs[0] = append(outputs[0], target.Collect(func(op *payload.Op) bool { return kinds.Has(op.Kind) })...)
		}

	case optypes.SplitHandle:
		if len(inputs[0]) != len(outputs) {
			return definite("expected handle %s to hold %d ops, got %d", stmt.Inputs[0], len(outputs), len(inputs[0]))
		}
		for i, op := range inputs[0] {
			outputs[i] = []*payload.Op{op}
		}

	case optypes.MergeHandles:
		seen := utils.MakeSet[*payload.Op]()
		dedupe, _ := attrs[AttrDeduplicate].(bool)
		for _, ops := range inputs {
			for _, op := range ops {
				if dedupe && seen.Has(op) {
					continue
				}
				seen.Insert(op)
				outputs[0] = append(outputs[0], op)
			}
		}

	case optypes.TakeFirst:
		if len(inputs[0]) > 0 {
			outputs[0], outputs[1] = inputs[0], inputs[1]
		} else {
			outputs[0] = inputs[1]
		}

	case optypes.ApplyPatterns:
		config := attrs[AttrPatterns].(PatternsConfig)
		for _, target := range inputs[0] {
			if target.IsErased() {
				continue
			}
			stats := rewrite.Apply(target, config)
			s.Stats.Rewrites += stats.Rewrites + stats.Erased
		}

	case optypes.TileToForall:
		opts := tiling.ForallOptions{Mapping: stringsAttr(attrs, AttrMapping)}
		opts.TileSizes, _ = attrs[AttrTileSizes].([]int)
		opts.NumThreads, _ = attrs[AttrNumThreads].([]int)
		for _, target := range inputs[0] {
			forall, tiled, err := tiling.TileToForall(target, opts)
			if err != nil {
				return &Failure{Silenceable: true, Err: err}
			}
			outputs[0] = append(outputs[0], forall)
			outputs[1] = append(outputs[1], tiled)
		}

	case optypes.TileToFor:
		for _, target := range inputs[0] {
			tiled, loops, err := tiling.TileToFor(target, attrs[AttrTileSizes].([]int))
			if err != nil {
				return &Failure{Silenceable: true, Err: err}
			}
			if len(loops) != len(outputs)-1 {
				return definite("tiling %s created %d loops, expected %d", target.Name(), len(loops), len(outputs)-1)
			}
			outputs[0] = append(outputs[0], tiled)
			for i, loop := range loops {
				outputs[i+1] = append(outputs[i+1], loop)
			}
		}

	case optypes.FuseIntoContainingOp:
		if len(inputs[1]) != 1 {
			return definite("expected handle %s to hold exactly one containing op, got %d", stmt.Inputs[1], len(inputs[1]))
		}
		fused, err := tiling.FuseIntoContainingOp(inputs[0], inputs[1][0])
		if err != nil {
			// Producers fused before the failure are already in the loop.
			return &Failure{Silenceable: len(fused) == 0, Err: err}
		}
		outputs[0] = fused
		s.Stats.Fused += len(fused)

	case optypes.SplitReduction:
		opts := tiling.SplitOptions{
			SplitFactor:          attrs[AttrSplitFactor].(int),
			InsertSplitDimension: attrs[AttrInsertSplitDimension].(int),
		}
		opts.InnerParallel, _ = attrs[AttrInnerParallel].(bool)
		for _, target := range inputs[0] {
			res, err := tiling.SplitReduction(target, opts)
			if err != nil {
				return &Failure{Silenceable: true, Err: err}
			}
			outputs[0] = append(outputs[0], res.Fill)
			outputs[1] = append(outputs[1], res.Split)
			outputs[2] = append(outputs[2], res.Combiner)
		}

	case optypes.TileReductionUsingForall:
		for _, target := range inputs[0] {
			res, err := tiling.TileReductionUsingForall(target, attrs[AttrNumThreads].([]int),
				attrs[AttrTileSizes].([]int), stringsAttr(attrs, AttrMapping))
			if err != nil {
				return &Failure{Silenceable: true, Err: err}
			}
			outputs[0] = append(outputs[0], res.Forall)
			outputs[1] = append(outputs[1], res.Fill)
			outputs[2] = append(outputs[2], res.Partial)
			outputs[3] = append(outputs[3], res.Combiner)
		}

	case optypes.Pad:
		opts := PadOptions{}
		opts.PaddingValues, _ = attrs[AttrPaddingValues].([]float64)
		opts.PaddingDimensions, _ = attrs[AttrPaddingDimensions].([]int)
		opts.PadToMultipleOf, _ = attrs[AttrPadToMultipleOf].([]int)
		opts.PackPaddings, _ = attrs[AttrPackPaddings].([]bool)
		opts.TransposePaddings, _ = attrs[AttrTransposePaddings].([][]int)
		for _, target := range inputs[0] {
			padded, err := tiling.Pad(target, opts)
			if err != nil {
				return &Failure{Silenceable: true, Err: err}
			}
			outputs[0] = append(outputs[0], padded)
		}

	case optypes.Vectorize:
		vectorizePadding, _ := attrs[AttrVectorizePadding].(bool)
		for _, target := range inputs[0] {
			s.Stats.Vectorized += rewrite.Vectorize(target, vectorizePadding)
		}
		outputs[0] = inputs[0]

	case optypes.LowerMaskedTransfers, optypes.LowerMasks, optypes.MaterializeMasks:
		rewriteFn := map[optypes.OpType]func(*payload.Op) int{
			optypes.LowerMaskedTransfers: rewrite.LowerMaskedTransfers,
			optypes.LowerMasks:           rewrite.LowerMasks,
			optypes.MaterializeMasks:     rewrite.MaterializeMasks,
		}[stmt.OpType]
		for _, target := range inputs[0] {
			s.Stats.Rewrites += rewriteFn(target)
		}
		outputs[0] = inputs[0]

	case optypes.HoistRedundantTensorSubsets:
		for _, target := range inputs[0] {
			s.Stats.Hoisted += rewrite.HoistRedundantTensorSubsets(target)
		}

	case optypes.EliminateEmptyTensors:
		for _, target := range inputs[0] {
			bufferization.EliminateEmptyTensors(target)
		}

	case optypes.Bufferize:
		targetGPU, _ := attrs[AttrTargetGPU].(bool)
		for _, target := range inputs[0] {
			stats, err := bufferization.Bufferize(target, targetGPU)
			if err != nil {
				return &Failure{Err: err}
			}
			s.Stats.Allocs += stats.Allocs
			s.Stats.Copies += stats.Copies
		}
		outputs[0] = inputs[0]

	case optypes.EraseHALDescriptorType:
		for _, target := range inputs[0] {
			bufferization.EraseHALDescriptorType(target)
		}

	case optypes.PopulateWorkgroupCount:
		for _, forall := range inputs[0] {
			if err := bufferization.PopulateWorkgroupCount(forall); err != nil {
				return &Failure{Silenceable: true, Err: err}
			}
		}

	case optypes.ForallToWorkgroup:
		for _, fn := range funcsOf(inputs[0]) {
			if err := bufferization.ForallToWorkgroup(fn); err != nil {
				return &Failure{Err: err}
			}
		}

	case optypes.MapNestedForallToThreads:
		for _, fn := range funcsOf(inputs[0]) {
			if _, err := bufferization.MapNestedForallToThreads(fn, attrs[AttrWorkgroupSize].([]int)); err != nil {
				return &Failure{Err: err}
			}
		}

	case optypes.ApplyBufferOptimizations:
		for _, target := range inputs[0] {
			stats := rewrite.ApplyBufferOptimizations(target)
			s.Stats.BufferRewrites += stats.AllocsErased + stats.LoadsForwarded + stats.StoresEliminated
		}

	case optypes.RegisterMatchCallbacks:
		s.callbacksRegistered = true

	case optypes.MatchCallback:
		name := attrs[AttrCallbackName].(string)
		if !s.callbacksRegistered {
			return definite("match callback %q called before registering the match callbacks", name)
		}
		cb, found := it.registry.lookup(name)
		if !found {
			return definite("match callback %q is not registered", name)
		}
		if cb.numResults != len(outputs) {
			return definite("match callback %q returns %d handles, %d expected", name, cb.numResults, len(outputs))
		}
		for _, ops := range inputs {
			for _, target := range ops {
				lists, err := cb.fn(target)
				if err != nil {
					if attrs[AttrFailures].(FailureMode) == Suppress {
						klog.V(1).Infof("transform: match callback %q did not match: %v", name, err)
						continue
					}
					return &Failure{Err: errors.WithMessagef(err, "match callback %q", name)}
				}
				if len(lists) != len(outputs) {
					return definite("match callback %q returned %d lists of ops, %d expected", name, len(lists), len(outputs))
				}
				for i, list := range lists {
					outputs[i] = append(outputs[i], list...)
				}
			}
		}

	case optypes.Print:
		if err := it.print(s, stmt, inputs); err != nil {
			return &Failure{Err: err}
		}

	default:
		return definite("statement %s cannot be executed", stmt.OpType)
	}

	for i, h := range stmt.Outputs {
		s.bind(h, outputs[i])
	}
	return nil
}

func (it *Interpreter) print(s *State, stmt *Statement, inputs [][]*payload.Op) error {
	name, _ := stmt.Attributes[AttrName].(string)
	if _, err := fmt.Fprintf(it.output, "[[[ IR printer: %s ]]]\n", name); err != nil {
		return errors.Wrap(err, "printing payload")
	}
	if len(inputs) == 0 {
		return s.graph.Write(it.output)
	}
	for _, op := range inputs[0] {
		if _, err := fmt.Fprintln(it.output, op.String()); err != nil {
			return errors.Wrap(err, "printing payload")
		}
	}
	return nil
}

func stringsAttr(attrs map[string]any, key string) []string {
	v, _ := attrs[key].([]string)
	return v
}
