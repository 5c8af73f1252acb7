// Package settings manages the persisted osforge tool configuration.
//
// Settings live in a TOML file (~/.config/osforge/settings.toml by
// default) and follow a three-layer load order: hardcoded defaults,
// file values, then OSFORGE_* environment overrides. The --set CLI flag
// mutates a value and saves the file immediately; after that the
// Settings value is threaded through the resolution pipeline as
// immutable input, never as ambient global state.
//
// Host-specific values (base directory, virtualenv root) are loaded but
// never written back, so a settings file can be shared between hosts.
package settings
