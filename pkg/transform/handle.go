package transform

import (
	"fmt"
	"io"
)

// Handle represents a value of a transform script, like `%0` or `%arg0`: a reference to an ordered set of
// payload operations, bound when the script is executed. A handle may be empty.
//
// It is always associated with the sequence where it is defined and is uniquely identified by its name.
type Handle struct {
	seq  *Sequence
	name string

	// stmt is the statement that created this handle. It is nil for the sequence argument.
	stmt *Statement

	// outputIndex is the index of this handle in stmt.Outputs. It is only valid when stmt != nil.
	outputIndex int
}

// Statement returns the statement that created the handle, or nil for the sequence argument.
func (h *Handle) Statement() *Statement {
	return h.stmt
}

// Write writes the handle in script text format to the given writer.
func (h *Handle) Write(w io.Writer, _ string) error {
	_, err := fmt.Fprintf(w, "%%%s", h.name)
	return err
}

// String implements fmt.Stringer.
func (h *Handle) String() string {
	return "%" + h.name
}
