// Package plugin loads, validates and composes extensions.
//
// A plugin is produced by a Factory resolved from a reference string. The
// reference scheme selects the loader:
//
//	builtin:<name>              factories compiled into the binary
//	file:///path/plugin.yaml    declarative manifests (YAML or JSON)
//	mcp+stdio://<cmd> [args]    tools served by an MCP server over stdio
//
// Loading runs in stages (normalize, import, factory, validate, compose,
// setup) and fails fast with a LoadError naming the stage. Compose merges
// builtin tools with every plugin contribution and rejects name conflicts.
package plugin
