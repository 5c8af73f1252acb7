// Package catalog loads the configuration layers a build is resolved
// from: platform documents, location documents, and spec documents
// with their include ancestry.
//
// Documents live under the data directory as JSON, with TOML accepted
// for locations. Parsed documents are cached per store and treated as
// immutable, so one store can serve several resolution passes.
//
// The package also maintains the spec index, which maps every
// dist-version-arch combination a spec provides to the spec that
// builds it. The index is derived from the spec documents' provides
// sections, with bracketed version ranges expanded, and can be
// persisted to specs/index.json to skip the scan on later runs.
package catalog
