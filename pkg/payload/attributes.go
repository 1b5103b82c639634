package payload

import (
	"maps"
	"slices"
)

// Attribute keys used by the payload operations.
const (
	AttrTarget         = "target"
	AttrIteratorTypes  = "iterator_types"
	AttrIndexingMaps   = "indexing_maps"
	AttrNumInputs      = "num_inputs"
	AttrFn             = "fn"
	AttrVectorTile     = "vector_tile"
	AttrValue          = "value"
	AttrStaticOffsets  = "static_offsets"
	AttrStaticSizes    = "static_sizes"
	AttrCoefficients   = "coefficients"
	AttrConstant       = "constant"
	AttrBound          = "bound"
	AttrNumThreads     = "num_threads"
	AttrMapping        = "mapping"
	AttrInBounds       = "in_bounds"
	AttrPermutation    = "permutation"
	AttrPadding        = "padding"
	AttrHasMask        = "has_mask"
	AttrDims           = "dims"
	AttrReductionDims  = "reduction_dims"
	AttrMaskDimSizes   = "mask_dim_sizes"
	AttrReassociation  = "reassociation"
	AttrLow            = "low"
	AttrHigh           = "high"
	AttrNoFold         = "nofold"
	AttrDimension      = "dimension"
	AttrWorkgroupCount = "workgroup_count"
	AttrWorkgroupSize  = "workgroup_size"
)

// HasAttr returns whether the attribute is set.
func (op *Op) HasAttr(key string) bool {
	_, found := op.Attributes[key]
	return found
}

// SetAttr sets an attribute, creating the map if needed.
func (op *Op) SetAttr(key string, value any) {
	if op.Attributes == nil {
		op.Attributes = make(map[string]any)
	}
	op.Attributes[key] = value
}

// RemoveAttr removes an attribute, if present.
func (op *Op) RemoveAttr(key string) {
	delete(op.Attributes, key)
}

// IntAttr returns an integer attribute, 0 if not set.
func (op *Op) IntAttr(key string) int {
	v, _ := op.Attributes[key].(int)
	return v
}

// IntsAttr returns an []int attribute, nil if not set.
func (op *Op) IntsAttr(key string) []int {
	v, _ := op.Attributes[key].([]int)
	return v
}

// BoolsAttr returns a []bool attribute, nil if not set.
func (op *Op) BoolsAttr(key string) []bool {
	v, _ := op.Attributes[key].([]bool)
	return v
}

// BoolAttr returns a boolean attribute, false if not set.
func (op *Op) BoolAttr(key string) bool {
	v, _ := op.Attributes[key].(bool)
	return v
}

// FloatAttr returns a float64 attribute, 0 if not set.
func (op *Op) FloatAttr(key string) float64 {
	v, _ := op.Attributes[key].(float64)
	return v
}

// StringAttr returns a string attribute, "" if not set.
func (op *Op) StringAttr(key string) string {
	v, _ := op.Attributes[key].(string)
	return v
}

// StringsAttr returns a []string attribute, nil if not set.
func (op *Op) StringsAttr(key string) []string {
	v, _ := op.Attributes[key].([]string)
	return v
}

// cloneAttributes deep-copies the attributes of the known slice types.
func cloneAttributes(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	cloned := maps.Clone(attrs)
	for key, value := range cloned {
		switch v := value.(type) {
		case []int:
			cloned[key] = slices.Clone(v)
		case []bool:
			cloned[key] = slices.Clone(v)
		case []string:
			cloned[key] = slices.Clone(v)
		case []IteratorType:
			cloned[key] = slices.Clone(v)
		case [][]int:
			c := make([][]int, len(v))
			for i := range v {
				c[i] = slices.Clone(v[i])
			}
			cloned[key] = c
		}
	}
	return cloned
}

// EqualAttributes compares two attribute maps of the types used by payload operations.
func EqualAttributes(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for key, va := range a {
		vb, found := b[key]
		if !found || !equalAttr(va, vb) {
			return false
		}
	}
	return true
}

func equalAttr(a, b any) bool {
	switch va := a.(type) {
	case []int:
		vb, ok := b.([]int)
		return ok && slices.Equal(va, vb)
	case []bool:
		vb, ok := b.([]bool)
		return ok && slices.Equal(va, vb)
	case []string:
		vb, ok := b.([]string)
		return ok && slices.Equal(va, vb)
	case []IteratorType:
		vb, ok := b.([]IteratorType)
		return ok && slices.Equal(va, vb)
	case [][]int:
		vb, ok := b.([][]int)
		return ok && slices.EqualFunc(va, vb, slices.Equal[[]int])
	default:
		return a == b
	}
}
