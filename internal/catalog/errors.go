package catalog

import (
	"errors"
	"fmt"
)

// Sentinel errors for the catalog package, checkable with errors.Is.
var (
	// ErrNotFound is returned when a named platform, location or spec
	// has no document on disk.
	ErrNotFound = errors.New("catalog: not found")

	// ErrIncludeCycle is returned when a spec include chain references
	// one of its own ancestors.
	ErrIncludeCycle = errors.New("catalog: include cycle")
)

// ConfigurationError reports a malformed or unusable configuration
// layer: an unparseable document, a missing required layer, a bad
// override pattern, or an include cycle. It names the offending layer
// and file so the failure can be diagnosed without tracing.
type ConfigurationError struct {
	Layer string // layer description, e.g. "platform vsphere"
	Path  string // file path, when known
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("configuration error in %s (%s): %v", e.Layer, e.Path, e.Err)
	}
	return fmt.Sprintf("configuration error in %s: %v", e.Layer, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
