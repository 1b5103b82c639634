package bufferization

import (
	"slices"
	"strings"

	"github.com/gomlx/go-xform/pkg/payload"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	blockMappingPrefix  = "#gpu.block<"
	threadMappingPrefix = "#gpu.thread<"
)

// Dims are the logical dimensions of workgroups and threads, in order.
var Dims = []string{"x", "y", "z"}

// BlockMapping returns the mapping of a scf.forall to the first n workgroup dimensions.
func BlockMapping(n int) []string {
	return mappingAttrs(blockMappingPrefix, n)
}

// ThreadMapping returns the mapping of a scf.forall to the first n thread dimensions.
func ThreadMapping(n int) []string {
	return mappingAttrs(threadMappingPrefix, n)
}

func mappingAttrs(prefix string, n int) []string {
	mapping := make([]string, 0, n)
	for _, dim := range Dims[:min(n, len(Dims))] {
		mapping = append(mapping, prefix+dim+">")
	}
	return mapping
}

// mappedDims returns the dimension index (0 for x) of each loop of a scf.forall mapped with the given
// prefix. Loops of a scf.forall without mapping are mapped to x, y and z in order.
func mappedDims(forall *payload.Op, prefix string) ([]int, error) {
	numThreads := forall.IntsAttr(payload.AttrNumThreads)
	mapping := forall.StringsAttr(payload.AttrMapping)
	if len(numThreads) > len(Dims) {
		return nil, errors.Errorf("scf.forall with %d dimensions cannot be mapped to %d dimensions",
			len(numThreads), len(Dims))
	}
	if mapping != nil && len(mapping) != len(numThreads) {
		return nil, errors.Errorf("scf.forall mapping %v given for %d dimensions", mapping, len(numThreads))
	}
	dims := make([]int, len(numThreads))
	for i := range numThreads {
		if mapping == nil {
			dims[i] = i
			continue
		}
		dim, found := strings.CutPrefix(mapping[i], prefix)
		if !found {
			return nil, errors.Errorf("scf.forall mapping %q is not a %s...> mapping", mapping[i], prefix)
		}
		dims[i] = slices.Index(Dims, strings.TrimSuffix(dim, ">"))
		if dims[i] < 0 {
			return nil, errors.Errorf("invalid scf.forall mapping %q", mapping[i])
		}
	}
	return dims, nil
}

func hasMapping(forall *payload.Op, prefix string) bool {
	mapping := forall.StringsAttr(payload.AttrMapping)
	return len(mapping) > 0 && strings.HasPrefix(mapping[0], prefix)
}

// PopulateWorkgroupCount sets the workgroup count of the export of the function containing forall from the
// number of threads of forall, a loop distributed over workgroups.
func PopulateWorkgroupCount(forall *payload.Op) error {
	if forall.Kind != payload.OpKindForall {
		return errors.Errorf("cannot compute a workgroup count from %s", forall.Name())
	}
	dims, err := mappedDims(forall, blockMappingPrefix)
	if err != nil {
		return err
	}
	fn := payload.FuncOf(forall)
	if fn == nil {
		return errors.New("scf.forall is not in a function")
	}
	export := forall.Graph().Export(fn.Symbol)
	if export == nil {
		return errors.Errorf("no export for function @%s", fn.Symbol)
	}
	count := []int{1, 1, 1}
	for i, n := range forall.IntsAttr(payload.AttrNumThreads) {
		count[dims[i]] = n
	}
	export.SetAttr(payload.AttrWorkgroupCount, count)
	klog.V(2).Infof("workgroup count of @%s: %v", fn.Symbol, count)
	return nil
}

// ForallToWorkgroup replaces the top-level scf.forall of fn, distributed over workgroups, by its body,
// with its induction variables replaced by the workgroup ids. The loop must be bufferized. The workgroup
// count of the export is populated if not set yet.
func ForallToWorkgroup(fn *payload.Op) error {
	var foralls []*payload.Op
	for _, op := range fn.Body.Ops {
		if op.Kind == payload.OpKindForall && hasMapping(op, blockMappingPrefix) {
			foralls = append(foralls, op)
		}
	}
	if len(foralls) != 1 {
		return errors.Errorf("@%s must have exactly one scf.forall distributed over workgroups, found %d",
			fn.Symbol, len(foralls))
	}
	forall := foralls[0]
	if export := fn.Graph().Export(fn.Symbol); export != nil && !export.HasAttr(payload.AttrWorkgroupCount) {
		if err := PopulateWorkgroupCount(forall); err != nil {
			return err
		}
	}
	dims, err := mappedDims(forall, blockMappingPrefix)
	if err != nil {
		return err
	}
	if len(forall.Operands) > 0 {
		return errors.New("the scf.forall distributed over workgroups must be bufferized first")
	}
	b := fn.Graph().NewBuilder().SetInsertionPointBefore(forall)
	ids := make([]*payload.Value, len(dims))
	for i, dim := range dims {
		ids[i] = b.WorkgroupID(Dims[dim])
	}
	forall.InlineBody(ids)
	fn.Graph().Erase(forall)
	klog.V(2).Infof("scf.forall of @%s mapped to workgroups", fn.Symbol)
	return nil
}

// MapNestedForallToThreads replaces the scf.forall ops of fn distributed over threads by their bodies, with
// their induction variables replaced by the thread ids, and sets the workgroup size of fn. Loops with
// fewer threads than the workgroup size in some dimension are predicated: their body runs in a scf.for
// from the thread id to the number of threads, with the workgroup size as step. It returns the number of
// loops mapped.
func MapNestedForallToThreads(fn *payload.Op, workgroupSize []int) (int, error) {
	if len(workgroupSize) == 0 || len(workgroupSize) > len(Dims) {
		return 0, errors.Errorf("invalid workgroup size %v", workgroupSize)
	}
	size := []int{1, 1, 1}
	copy(size, workgroupSize)
	g := fn.Graph()
	mapped := 0
	for _, forall := range fn.Collect(func(op *payload.Op) bool {
		return op.Kind == payload.OpKindForall && hasMapping(op, threadMappingPrefix)
	}) {
		if len(forall.Operands) > 0 {
			return mapped, errors.New("scf.forall distributed over threads must be bufferized first")
		}
		dims, err := mappedDims(forall, threadMappingPrefix)
		if err != nil {
			return mapped, err
		}
		b := g.NewBuilder().SetInsertionPointBefore(forall)
		ivs := make([]*payload.Value, len(dims))
		var guards []*payload.Op
		for i, n := range forall.IntsAttr(payload.AttrNumThreads) {
			dim := dims[i]
			if n > size[dim] {
				return mapped, errors.Errorf("scf.forall with %d threads along %s exceeds the workgroup size %v",
					n, Dims[dim], size)
			}
			ivs[i] = b.ThreadID(Dims[dim])
			if n < size[dim] {
				guards = append(guards, b.For(ivs[i], b.ConstantIndex(n), b.ConstantIndex(size[dim])))
				ivs[i] = guards[len(guards)-1].Body.Args[0]
				b = g.NewBuilder().SetInsertionPointToStart(guards[len(guards)-1].Body)
			}
		}
		if len(guards) > 0 {
			g.NewBuilder().SetInsertionPointToEnd(guards[len(guards)-1].Body).Yield()
			forall.MoveBefore(guards[len(guards)-1].Body.Terminator())
			for _, guard := range guards[:len(guards)-1] {
				g.NewBuilder().SetInsertionPointToEnd(guard.Body).Yield()
			}
		}
		forall.InlineBody(ivs)
		g.Erase(forall)
		mapped++
	}
	fn.SetAttr(payload.AttrWorkgroupSize, size)
	klog.V(2).Infof("mapped %d scf.forall of @%s to threads, workgroup size %v", mapped, fn.Symbol, size)
	return mapped, nil
}
