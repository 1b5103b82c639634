package transform

import (
	"slices"

	"github.com/gomlx/go-xform/internal/optypes"
	"github.com/gomlx/go-xform/internal/tiling"
	"github.com/pkg/errors"
)

// SplitReductionOptions configures SplitReduction.
type SplitReductionOptions = tiling.SplitOptions

// PadOptions configures Pad.
type PadOptions = tiling.PadOptions

// Attribute keys of the statements.
const (
	AttrOps                  = "ops"
	AttrNumResults           = "num_results"
	AttrDeduplicate          = "deduplicate"
	AttrPatterns             = "patterns"
	AttrTileSizes            = "tile_sizes"
	AttrNumThreads           = "num_threads"
	AttrMapping              = "mapping"
	AttrSplitFactor          = "split_factor"
	AttrInsertSplitDimension = "insert_split_dimension"
	AttrInnerParallel        = "inner_parallel"
	AttrPaddingValues        = "padding_values"
	AttrPaddingDimensions    = "padding_dimensions"
	AttrPadToMultipleOf      = "pad_to_multiple_of"
	AttrPackPaddings         = "pack_paddings"
	AttrTransposePaddings    = "transpose_paddings"
	AttrVectorizePadding     = "vectorize_padding"
	AttrTargetGPU            = "target_gpu"
	AttrWorkgroupSize        = "workgroup_size"
	AttrCallbackName         = "callback_name"
	AttrFailures             = "failures"
	AttrName                 = "name"
)

// Statement is one statement of a sequence: it takes input handles and produces output handles.
type Statement struct {
	Sequence   *Sequence
	OpType     optypes.OpType
	Inputs     []*Handle
	Outputs    []*Handle
	Attributes map[string]any
}

// addStmt adds a new statement with numOutputs output handles to the sequence.
func (s *Sequence) addStmt(opType optypes.OpType, numOutputs int, attrs map[string]any, inputs ...*Handle) (*Statement, error) {
	for i, input := range inputs {
		if input == nil {
			return nil, errors.Errorf("nil handle given as input #%d of %s", i, opType.ToStatementName())
		}
		if input.seq != s {
			return nil, errors.Errorf("cannot add statement %s, because the handle %s is not part of the sequence",
				opType.ToStatementName(), input)
		}
	}
	stmt := &Statement{
		Sequence:   s,
		OpType:     opType,
		Inputs:     inputs,
		Attributes: attrs,
	}
	stmt.Outputs = make([]*Handle, numOutputs)
	for i := range stmt.Outputs {
		h := s.Builder.newHandle(s)
		h.stmt = stmt
		h.outputIndex = i
		stmt.Outputs[i] = h
	}
	s.Statements = append(s.Statements, stmt)
	return stmt, nil
}

// Match returns a handle to the ops nested in target (target included) with one of the given operation
// names, e.g. "linalg.generic", in program order.
func (s *Sequence) Match(target *Handle, opNames ...string) (*Handle, error) {
	if len(opNames) == 0 {
		return nil, errors.New("Match requires at least one operation name")
	}
	stmt, err := s.addStmt(optypes.Match, 1, map[string]any{AttrOps: slices.Clone(opNames)}, target)
	if err != nil {
		return nil, err
	}
	return stmt.Outputs[0], nil
}

// SplitHandle splits a handle to exactly n ops into n handles to one op each. Executing it fails if the
// handle does not hold exactly n ops.
func (s *Sequence) SplitHandle(h *Handle, n int) ([]*Handle, error) {
	if n <= 0 {
		return nil, errors.Errorf("cannot split handle %s in %d handles", h, n)
	}
	stmt, err := s.addStmt(optypes.SplitHandle, n, map[string]any{AttrNumResults: n}, h)
	if err != nil {
		return nil, err
	}
	return stmt.Outputs, nil
}

// MergeHandles returns a handle to the ops of all handles, in order. If deduplicate is set, ops held by
// more than one handle are kept only once, at their first position.
func (s *Sequence) MergeHandles(deduplicate bool, handles ...*Handle) (*Handle, error) {
	if len(handles) == 0 {
		return nil, errors.New("MergeHandles requires at least one handle")
	}
	attrs := map[string]any{}
	if deduplicate {
		attrs[AttrDeduplicate] = true
	}
	stmt, err := s.addStmt(optypes.MergeHandles, 1, attrs, handles...)
	if err != nil {
		return nil, err
	}
	return stmt.Outputs[0], nil
}

// TakeFirst selects between two handles without branching in the script: if h1 is not empty it returns
// (h1, h2), otherwise (h2, empty).
func (s *Sequence) TakeFirst(h1, h2 *Handle) (primary, rest *Handle, err error) {
	stmt, err := s.addStmt(optypes.TakeFirst, 2, nil, h1, h2)
	if err != nil {
		return nil, nil, err
	}
	return stmt.Outputs[0], stmt.Outputs[1], nil
}

// ApplyPatterns applies the pattern sets selected by config to each op of target, until a fixed point
// (bounded) is reached. It never fails because no pattern applies.
func (s *Sequence) ApplyPatterns(target *Handle, config PatternsConfig) error {
	_, err := s.addStmt(optypes.ApplyPatterns, 0, map[string]any{AttrPatterns: config}, target)
	return err
}

// TileToForall tiles each op of target into a scf.forall, by tile sizes or by number of threads, with its
// loops mapped to workers by mapping (optional). It returns the handles to the loops and to the tiled ops.
func (s *Sequence) TileToForall(target *Handle, spec TilingSpec, mapping []string) (forall, tiled *Handle, err error) {
	if len(spec.Values) == 0 {
		return nil, nil, errors.Errorf("TileToForall(%s) requires %s", target, spec.attrName())
	}
	if len(mapping) > len(spec.Values) {
		return nil, nil, errors.Errorf("TileToForall(%s) given mapping %v for %s", target, mapping, spec)
	}
	attrs := map[string]any{spec.attrName(): slices.Clone(spec.Values)}
	if len(mapping) > 0 {
		attrs[AttrMapping] = slices.Clone(mapping)
	}
	stmt, err := s.addStmt(optypes.TileToForall, 2, attrs, target)
	if err != nil {
		return nil, nil, err
	}
	return stmt.Outputs[0], stmt.Outputs[1], nil
}

// TileToFor tiles each op of target with a nest of scf.for, one loop per non-zero tile size. It returns the
// handle to the tiled ops and one handle per loop level, outermost first.
func (s *Sequence) TileToFor(target *Handle, tileSizes []int) (tiled *Handle, loops []*Handle, err error) {
	numLoops := 0
	for _, size := range tileSizes {
		if size < 0 {
			return nil, nil, errors.Errorf("TileToFor(%s) given negative tile sizes %v", target, tileSizes)
		}
		if size > 0 {
			numLoops++
		}
	}
	stmt, err := s.addStmt(optypes.TileToFor, 1+numLoops, map[string]any{AttrTileSizes: slices.Clone(tileSizes)}, target)
	if err != nil {
		return nil, nil, err
	}
	return stmt.Outputs[0], stmt.Outputs[1:], nil
}

// FuseIntoContainingOp fuses the producers into the containing loop, in one batch: the order of fusion is
// computed from the dependencies of the producers. It returns the handle to the fused ops.
func (s *Sequence) FuseIntoContainingOp(producers, containing *Handle) (*Handle, error) {
	stmt, err := s.addStmt(optypes.FuseIntoContainingOp, 1, nil, producers, containing)
	if err != nil {
		return nil, err
	}
	return stmt.Outputs[0], nil
}

// SplitReduction splits the reduction of each op of target into a partial reduction with one more
// parallel dimension and a combiner. It returns the handles to the fill of the partial result, the
// partial reduction and the combiner.
func (s *Sequence) SplitReduction(target *Handle, opts SplitReductionOptions) (fill, split, combiner *Handle, err error) {
	attrs := map[string]any{
		AttrSplitFactor:          opts.SplitFactor,
		AttrInsertSplitDimension: opts.InsertSplitDimension,
	}
	if opts.InnerParallel {
		attrs[AttrInnerParallel] = true
	}
	stmt, err := s.addStmt(optypes.SplitReduction, 3, attrs, target)
	if err != nil {
		return nil, nil, nil, err
	}
	return stmt.Outputs[0], stmt.Outputs[1], stmt.Outputs[2], nil
}

// TileReductionUsingForall distributes the reduction loop of each op of target over threads. It returns
// the handles to the scf.forall, to the fill of the partial result, to the per-thread partial reduction and
// to the combiner.
func (s *Sequence) TileReductionUsingForall(target *Handle, numThreads, tileSizes []int, mapping []string) (
	forall, fill, partial, combiner *Handle, err error) {
	attrs := map[string]any{
		AttrNumThreads: slices.Clone(numThreads),
		AttrTileSizes:  slices.Clone(tileSizes),
	}
	if len(mapping) > 0 {
		attrs[AttrMapping] = slices.Clone(mapping)
	}
	stmt, err := s.addStmt(optypes.TileReductionUsingForall, 4, attrs, target)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return stmt.Outputs[0], stmt.Outputs[1], stmt.Outputs[2], stmt.Outputs[3], nil
}

// Pad pads the operands of each op of target. It returns the handle to the padded ops.
func (s *Sequence) Pad(target *Handle, opts PadOptions) (*Handle, error) {
	attrs := map[string]any{AttrPaddingValues: slices.Clone(opts.PaddingValues)}
	if len(opts.PaddingDimensions) > 0 {
		attrs[AttrPaddingDimensions] = slices.Clone(opts.PaddingDimensions)
	}
	if len(opts.PadToMultipleOf) > 0 {
		attrs[AttrPadToMultipleOf] = slices.Clone(opts.PadToMultipleOf)
	}
	if len(opts.PackPaddings) > 0 {
		attrs[AttrPackPaddings] = slices.Clone(opts.PackPaddings)
	}
	if len(opts.TransposePaddings) > 0 {
		attrs[AttrTransposePaddings] = slices.Clone(opts.TransposePaddings)
	}
	stmt, err := s.addStmt(optypes.Pad, 1, attrs, target)
	if err != nil {
		return nil, err
	}
	return stmt.Outputs[0], nil
}

// Vectorize vectorizes the structured ops nested in each op of target (and the tensor.pad ops if
// vectorizePadding is set). It returns a handle to the ops of target.
func (s *Sequence) Vectorize(target *Handle, vectorizePadding bool) (*Handle, error) {
	attrs := map[string]any{}
	if vectorizePadding {
		attrs[AttrVectorizePadding] = true
	}
	stmt, err := s.addStmt(optypes.Vectorize, 1, attrs, target)
	if err != nil {
		return nil, err
	}
	return stmt.Outputs[0], nil
}

// scopedRewrite adds a statement rewriting the ops nested in target, returning a handle to the ops of target.
func (s *Sequence) scopedRewrite(opType optypes.OpType, target *Handle) (*Handle, error) {
	stmt, err := s.addStmt(opType, 1, nil, target)
	if err != nil {
		return nil, err
	}
	return stmt.Outputs[0], nil
}

// LowerMaskedTransfers drops the redundant masks of the vector transfers nested in target.
func (s *Sequence) LowerMaskedTransfers(target *Handle) (*Handle, error) {
	return s.scopedRewrite(optypes.LowerMaskedTransfers, target)
}

// LowerMasks lowers the vector.create_mask ops with constant sizes nested in target to vector.constant_mask.
func (s *Sequence) LowerMasks(target *Handle) (*Handle, error) {
	return s.scopedRewrite(optypes.LowerMasks, target)
}

// MaterializeMasks materializes the vector.constant_mask ops nested in target as constants.
func (s *Sequence) MaterializeMasks(target *Handle) (*Handle, error) {
	return s.scopedRewrite(optypes.MaterializeMasks, target)
}

// HoistRedundantTensorSubsets hoists the loop-invariant subset extraction/insertion pairs out of the
// scf.for loops nested in target.
func (s *Sequence) HoistRedundantTensorSubsets(target *Handle) error {
	_, err := s.addStmt(optypes.HoistRedundantTensorSubsets, 0, nil, target)
	return err
}

// EliminateEmptyTensors replaces the tensor.empty ops nested in target that end up stored to an output
// binding with a load of the binding.
func (s *Sequence) EliminateEmptyTensors(target *Handle) error {
	_, err := s.addStmt(optypes.EliminateEmptyTensors, 0, nil, target)
	return err
}

// Bufferize converts the tensors of the functions nested in target to buffers. targetGPU selects GPU
// memory spaces for the allocations. It returns a new handle to the ops of target.
func (s *Sequence) Bufferize(target *Handle, targetGPU bool) (*Handle, error) {
	attrs := map[string]any{}
	if targetGPU {
		attrs[AttrTargetGPU] = true
	}
	stmt, err := s.addStmt(optypes.Bufferize, 1, attrs, target)
	if err != nil {
		return nil, err
	}
	return stmt.Outputs[0], nil
}

// EraseHALDescriptorType removes the descriptor type memory space of the buffers nested in target.
func (s *Sequence) EraseHALDescriptorType(target *Handle) error {
	_, err := s.addStmt(optypes.EraseHALDescriptorType, 0, nil, target)
	return err
}

// PopulateWorkgroupCount sets the workgroup count of the export of the function containing each
// scf.forall of forall, from its number of threads.
func (s *Sequence) PopulateWorkgroupCount(forall *Handle) error {
	_, err := s.addStmt(optypes.PopulateWorkgroupCount, 0, nil, forall)
	return err
}

// ForallToWorkgroup maps the top-level scf.forall of each function of target to the workgroup ids.
func (s *Sequence) ForallToWorkgroup(target *Handle) error {
	_, err := s.addStmt(optypes.ForallToWorkgroup, 0, nil, target)
	return err
}

// MapNestedForallToThreads maps the scf.forall ops distributed over threads in each function of target to
// the thread ids, for the given workgroup size.
func (s *Sequence) MapNestedForallToThreads(target *Handle, workgroupSize []int) error {
	_, err := s.addStmt(optypes.MapNestedForallToThreads, 0,
		map[string]any{AttrWorkgroupSize: slices.Clone(workgroupSize)}, target)
	return err
}

// ApplyBufferOptimizations erases the write-only allocations and forwards the stored values of the buffers
// nested in target.
func (s *Sequence) ApplyBufferOptimizations(target *Handle) error {
	_, err := s.addStmt(optypes.ApplyBufferOptimizations, 0, nil, target)
	return err
}

// RegisterMatchCallbacks makes the callbacks of the interpreter registry available to MatchCallback.
func (s *Sequence) RegisterMatchCallbacks() error {
	_, err := s.addStmt(optypes.RegisterMatchCallbacks, 0, nil)
	return err
}

// MatchCallback runs the registered match callback name on the targets, returning numResults handles.
// With the Propagate mode, a callback that does not match fails the statement definitely; with Suppress,
// it binds empty handles.
func (s *Sequence) MatchCallback(mode FailureMode, name string, numResults int, targets ...*Handle) ([]*Handle, error) {
	if len(targets) == 0 {
		return nil, errors.Errorf("MatchCallback(%q) requires at least one target", name)
	}
	stmt, err := s.addStmt(optypes.MatchCallback, numResults,
		map[string]any{AttrCallbackName: name, AttrFailures: mode}, targets...)
	if err != nil {
		return nil, err
	}
	return stmt.Outputs, nil
}

// Print writes the ops of target to the interpreter output, headed by name. If target is nil the whole
// program is printed.
func (s *Sequence) Print(target *Handle, name string) error {
	attrs := map[string]any{}
	if name != "" {
		attrs[AttrName] = name
	}
	var inputs []*Handle
	if target != nil {
		inputs = append(inputs, target)
	}
	_, err := s.addStmt(optypes.Print, 0, attrs, inputs...)
	return err
}
