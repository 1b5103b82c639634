// Package optypes defines the kinds of statements of a transform script.
package optypes

// OpType is the kind of a transform script statement.
type OpType int

//go:generate go tool enumer -type=OpType -output=gen_optype_enumer.go optypes.go

const (
	Invalid OpType = iota
	Match
	SplitHandle
	MergeHandles
	TakeFirst
	ApplyPatterns
	TileToForall
	TileToFor
	FuseIntoContainingOp
	SplitReduction
	TileReductionUsingForall
	Pad
	Vectorize
	LowerMaskedTransfers
	LowerMasks
	MaterializeMasks
	HoistRedundantTensorSubsets
	EliminateEmptyTensors
	Bufferize
	EraseHALDescriptorType
	PopulateWorkgroupCount
	ForallToWorkgroup
	MapNestedForallToThreads
	ApplyBufferOptimizations
	RegisterMatchCallbacks
	MatchCallback
	Print

	// Last should always be kept the last, it is used as a counter/marker for OpType.
	Last
)

var stmtNames = [Last]string{
	Match:                       "transform.structured.match",
	SplitHandle:                 "transform.split_handle",
	MergeHandles:                "transform.merge_handles",
	TakeFirst:                   "transform.iree.take_first",
	ApplyPatterns:               "transform.iree.apply_patterns",
	TileToForall:                "transform.structured.tile_to_forall_op",
	TileToFor:                   "transform.structured.tile",
	FuseIntoContainingOp:        "transform.structured.fuse_into_containing_op",
	SplitReduction:              "transform.structured.split_reduction",
	TileReductionUsingForall:    "transform.structured.tile_reduction_using_forall",
	Pad:                         "transform.structured.pad",
	Vectorize:                   "transform.structured.vectorize",
	LowerMaskedTransfers:        "transform.vector.lower_masked_transfers",
	LowerMasks:                  "transform.vector.lower_masks",
	MaterializeMasks:            "transform.vector.materialize_masks",
	HoistRedundantTensorSubsets: "transform.structured.hoist_redundant_tensor_subsets",
	EliminateEmptyTensors:       "transform.iree.eliminate_empty_tensors",
	Bufferize:                   "transform.iree.bufferize",
	EraseHALDescriptorType:      "transform.iree.erase_hal_descriptor_type_from_memref",
	PopulateWorkgroupCount:      "transform.iree.populate_workgroup_count_region_using_num_threads_slice",
	ForallToWorkgroup:           "transform.iree.forall_to_workgroup",
	MapNestedForallToThreads:    "transform.iree.map_nested_forall_to_gpu_threads",
	ApplyBufferOptimizations:    "transform.iree.apply_buffer_optimizations",
	RegisterMatchCallbacks:      "transform.iree.register_match_callbacks",
	MatchCallback:               "transform.iree.match_callback",
	Print:                       "transform.print",
}

// ToStatementName returns the name of the statement as printed in a transform script.
func (op OpType) ToStatementName() string {
	if op <= Invalid || op >= Last {
		return "transform.invalid_" + op.String()
	}
	return stmtNames[op]
}
