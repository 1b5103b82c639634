package bufferization

import (
	"github.com/gomlx/go-xform/pkg/payload"
	"k8s.io/klog/v2"
)

// EraseHALDescriptorType removes the DescriptorType memory space from all the buffers of the functions
// nested in scope, block arguments and results alike, once the bindings are bufferized. It returns the
// number of values updated.
func EraseHALDescriptorType(scope *payload.Op) int {
	count := 0
	erase := func(v *payload.Value) {
		if v.Shape.IsMemRef() && v.Shape.MemorySpace == DescriptorType {
			v.Shape.MemorySpace = ""
			count++
		}
	}
	scope.Walk(func(op *payload.Op) {
		for _, result := range op.Results {
			erase(result)
		}
		if op.Body != nil {
			for _, arg := range op.Body.Args {
				erase(arg)
			}
		}
	})
	klog.V(2).Infof("erased the HAL descriptor type of %d buffers", count)
	return count
}
