package strategies

import (
	"github.com/gomlx/go-xform/pkg/transform"
)

// BuildVectorize vectorizes the structured ops of fn (and its tensor.pad ops if vectorizePadding), then
// applies the cleanup patterns if applyCleanups. It returns fn.
func BuildVectorize(seq *transform.Sequence, fn *transform.Handle, vectorizePadding, applyCleanups bool) (*transform.Handle, error) {
	fn, err := seq.Vectorize(fn, vectorizePadding)
	if err != nil {
		return nil, err
	}
	if applyCleanups {
		return BuildCanonicalizationAndEnablingTransforms(seq, transform.PatternsConfig{}, fn)
	}
	return fn, nil
}

// BuildLowerMaskedTransfersAndCleanup drops the redundant masks of the transfers in containing and
// removes the unit dimensions of the structured and vector ops. It returns containing.
func BuildLowerMaskedTransfersAndCleanup(seq *transform.Sequence, containing *transform.Handle) (*transform.Handle, error) {
	containing, err := seq.LowerMaskedTransfers(containing)
	if err != nil {
		return nil, err
	}
	config := transform.PatternsConfig{RankReducingLinalg: true, RankReducingVector: true}
	if err = seq.ApplyPatterns(containing, config); err != nil {
		return nil, err
	}
	return containing, nil
}

// BuildLowerVectorMasksAndCleanup lowers the vector masks of containing to constants and folds the memref
// aliases with the cleanup patterns. It returns containing.
func BuildLowerVectorMasksAndCleanup(seq *transform.Sequence, containing *transform.Handle) (*transform.Handle, error) {
	containing, err := seq.LowerMasks(containing)
	if err != nil {
		return nil, err
	}
	if containing, err = seq.MaterializeMasks(containing); err != nil {
		return nil, err
	}
	return BuildCanonicalizationAndEnablingTransforms(seq, transform.PatternsConfig{FoldMemrefAliases: true}, containing)
}

// BuildHoisting hoists the redundant tensor subsets and transfers out of the loops of fn. It returns fn.
func BuildHoisting(seq *transform.Sequence, fn *transform.Handle) (*transform.Handle, error) {
	if err := seq.HoistRedundantTensorSubsets(fn); err != nil {
		return nil, err
	}
	return fn, nil
}

// BuildBufferize converts the functions of variant to buffers:
//
//  1. reshapes and transfers of tensor slices are folded, to avoid materializing buffers for them;
//  2. the tensor.empty ops whose values end up in an output binding are replaced by that binding;
//  3. tensors are converted to buffers, in GPU memory spaces if targetGPU;
//  4. the descriptor type is erased from the memory space of the bindings of the functions.
//
// It returns the handle to the bufferized variant.
func BuildBufferize(seq *transform.Sequence, variant *transform.Handle, targetGPU bool) (*transform.Handle, error) {
	config := transform.PatternsConfig{FoldReassociativeReshapes: true, FoldVectorTransferTensorSlice: true}
	if _, err := BuildCanonicalizationAndEnablingTransforms(seq, config, variant); err != nil {
		return nil, err
	}
	if err := seq.EliminateEmptyTensors(variant); err != nil {
		return nil, err
	}
	variant, err := seq.Bufferize(variant, targetGPU)
	if err != nil {
		return nil, err
	}
	fn, err := seq.Match(variant, "func.func")
	if err != nil {
		return nil, err
	}
	if err = seq.EraseHALDescriptorType(fn); err != nil {
		return nil, err
	}
	return variant, nil
}

// BuildMemoryOptimizations lowers the permutations of the transfers of fn and removes their unit
// dimensions, then forwards stored values and removes dead stores and allocations.
func BuildMemoryOptimizations(seq *transform.Sequence, fn *transform.Handle) error {
	config := transform.PatternsConfig{LowerTransferOpPermutations: true, RankReducingVector: true}
	// Lowering the permutations and reducing the rank enable each other: two passes.
	for range 2 {
		if _, err := BuildCanonicalizationAndEnablingTransforms(seq, config, fn); err != nil {
			return err
		}
	}
	return seq.ApplyBufferOptimizations(fn)
}
