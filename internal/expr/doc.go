// Package expr evaluates the small expression language embedded in
// configuration templates.
//
// The language is deliberately closed: arithmetic, comparisons,
// boolean connectives, the C-style conditional, literals and
// identifier lookup, nothing else. Identifiers resolve through a
// caller-supplied Env, so an expression can only see the definitions
// the caller hands it; there is no function call, no attribute access
// and no way to reach the host from inside an expression.
package expr
