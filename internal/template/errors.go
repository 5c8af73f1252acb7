package template

import (
	"errors"
	"fmt"
)

// ErrMissingDef is wrapped into resolution errors caused by a marker
// referencing a definition that does not exist.
var ErrMissingDef = errors.New("template: definition not found")

// ResolutionError reports a marker that could not be resolved. It
// carries the marker text and the document field path so the failing
// reference can be located without tracing a resolution pass.
type ResolutionError struct {
	Field  string // document path, e.g. "config.boot_command[2]"
	Marker string // the unresolvable marker text
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolving %s at %s: %v", e.Marker, e.Field, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}
