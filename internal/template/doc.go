// Package template resolves the marker language embedded in
// configuration documents.
//
// Twelve marker kinds exist, each with its own two-byte delimiter
// pair: definition lookup (whole-value and inline), basename
// extraction, DNS resolution, secret retrieval, arithmetic and
// conditional expressions, environment variables, three shadow-style
// password hashes, and sequence expansion. Markers resolve in a
// single left-to-right scan per string; a marker's body may contain
// inline definition markers, which resolve first, but never another
// full marker.
//
// Failure semantics are deliberately asymmetric. A reference to a
// missing definition, a malformed expression, or any secret failure
// aborts the pass: a missing password must never silently become an
// empty one. A failed DNS lookup degrades to an empty string with a
// warning, because a host being imaged often has no forward record
// yet.
package template
