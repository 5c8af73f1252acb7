// Package merge combines ordered configuration layers into one tree.
//
// Two operations exist. Trees is the raw deep merge: mappings merge
// recursively, anything else is replaced by the overlay value.
// ApplyLayer is the layer-level operation: it merges a document's
// content and then evaluates its dimension-specific override rules
// ("platform_specific", "version_specific", ...) against the current
// build, merging each matching payload in declaration order so later
// matches win on key conflicts.
//
// Override patterns are regular expressions matched in full against
// the build's value for the rule's dimension, case-insensitively.
//
// All functions treat their inputs as immutable and return fresh
// trees, so loaded layer documents can be shared between concurrent
// resolution passes.
package merge
