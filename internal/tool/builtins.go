package tool

import (
	"path/filepath"
)

// Builtin tool names.
const (
	ReadToolName  = "read"
	WriteToolName = "write"
	EditToolName  = "edit"
	BashToolName  = "bash"
)

// Limits bounds what the builtin tools read and return.
type Limits struct {
	MaxReadBytes            int
	MaxReadLines            int
	MaxCommandOutputBytes   int
	DefaultCommandTimeoutMs int
}

// DefaultLimits returns the stock tool limits.
func DefaultLimits() Limits {
	return Limits{
		MaxReadBytes:            512000,
		MaxReadLines:            2000,
		MaxCommandOutputBytes:   64000,
		DefaultCommandTimeoutMs: 120000,
	}
}

// BuiltinOptions configures the builtin tool set.
type BuiltinOptions struct {
	CWD    string
	Limits Limits
}

// Builtins returns the read, write, edit and bash tools.
func Builtins(opts BuiltinOptions) Set {
	limits := opts.Limits
	defaults := DefaultLimits()
	if limits.MaxReadBytes <= 0 {
		limits.MaxReadBytes = defaults.MaxReadBytes
	}
	if limits.MaxReadLines <= 0 {
		limits.MaxReadLines = defaults.MaxReadLines
	}
	if limits.MaxCommandOutputBytes <= 0 {
		limits.MaxCommandOutputBytes = defaults.MaxCommandOutputBytes
	}
	if limits.DefaultCommandTimeoutMs <= 0 {
		limits.DefaultCommandTimeoutMs = defaults.DefaultCommandTimeoutMs
	}

	return Set{
		ReadToolName:  NewReadTool(opts.CWD, limits.MaxReadBytes, limits.MaxReadLines),
		WriteToolName: NewWriteTool(opts.CWD),
		EditToolName:  NewEditTool(opts.CWD),
		BashToolName:  NewBashTool(opts.CWD, limits.DefaultCommandTimeoutMs, limits.MaxCommandOutputBytes),
	}
}

// workDir prefers the per-call directory over the tool's own.
func workDir(fallback string, toolCtx *Context) string {
	if toolCtx != nil && toolCtx.WorkDir != "" {
		return toolCtx.WorkDir
	}
	return fallback
}

// resolveFilePath resolves p against cwd unless it is already absolute.
func resolveFilePath(cwd, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Clean(filepath.Join(cwd, p))
}
