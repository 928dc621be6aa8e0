package productspec

import (
	"errors"
	"fmt"
)

// ErrMalformedSpec is returned (wrapped) when a label list is opened with '['
// but the spec does not end with ']'.
var ErrMalformedSpec = errors.New("malformed product spec")

// MalformedSpecError carries the offending spec string.
type MalformedSpecError struct {
	Spec   string
	Reason string
}

func (e *MalformedSpecError) Error() string {
	return fmt.Sprintf("%v %q: %s", ErrMalformedSpec, e.Spec, e.Reason)
}

func (e *MalformedSpecError) Unwrap() error {
	return ErrMalformedSpec
}
