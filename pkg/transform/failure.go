package transform

import (
	"fmt"

	"github.com/pkg/errors"
)

// Failure of the execution of a statement.
//
// A silenceable failure means the statement did not apply (nothing matched, a precondition on the
// payload did not hold) and the payload was left as is: a Suppress sequence ignores it. Any other failure
// is definite: the script or the payload are in a state where execution cannot continue.
type Failure struct {
	Statement   *Statement
	Silenceable bool
	Err         error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	kind := "definite"
	if f.Silenceable {
		kind = "silenceable"
	}
	if f.Statement == nil {
		return fmt.Sprintf("%s failure: %v", kind, f.Err)
	}
	return fmt.Sprintf("%s failure of %q: %v", kind, f.Statement, f.Err)
}

// Unwrap returns the underlying error.
func (f *Failure) Unwrap() error {
	return f.Err
}

// IsSilenceable returns whether err is, or wraps, a silenceable Failure.
func IsSilenceable(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Silenceable
}

func definite(format string, args ...any) *Failure {
	return &Failure{Err: errors.Errorf(format, args...)}
}
