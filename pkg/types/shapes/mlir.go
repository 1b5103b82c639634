package shapes

import (
	"fmt"
	"io"
	"strings"
)

// ToMLIR returns the MLIR representation of the shape's type.
func (s Shape) ToMLIR() string {
	var sb strings.Builder
	_ = s.WriteMLIR(&sb)
	return sb.String()
}

// WriteMLIR writes the MLIR representation of the shape's type to the given writer.
func (s Shape) WriteMLIR(writer io.Writer) error {
	var err error
	w := func(format string, args ...any) {
		if err != nil {
			return
		}
		_, err = fmt.Fprintf(writer, format, args...)
	}
	writeDims := func() {
		for _, dim := range s.Dimensions {
			// MLIR uses '?' for dynamic dimensions.
			if dim < 0 {
				w("?x")
			} else {
				w("%dx", dim)
			}
		}
		w("%s", s.DType.ToMLIR())
	}

	switch s.Kind {
	case ScalarKind:
		w("%s", s.DType.ToMLIR())
	case TensorKind:
		w("tensor<")
		writeDims()
		w(">")
	case MemRefKind:
		w("memref<")
		writeDims()
		if s.MemorySpace != "" {
			w(", %s", s.MemorySpace)
		}
		w(">")
	case VectorKind:
		w("vector<")
		writeDims()
		w(">")
	case DispatchTensorKind:
		w("!flow.dispatch.tensor<%s:tensor<", s.Access)
		writeDims()
		w(">>")
	default:
		w("unknown_kind<%s>", s.Kind)
	}
	return err
}
