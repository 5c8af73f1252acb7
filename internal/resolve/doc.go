// Package resolve turns a platform/location/spec target into the
// finished document an external build engine consumes.
//
// One call to Run is one resolution pass: layers are loaded and
// merged in precedence order, the definition table is assembled and
// derived, and the whole document runs through template substitution.
// Passes are independent; each owns its definition table, lookup
// caches and working directory, so callers may resolve several
// targets concurrently against one shared catalog store.
package resolve
