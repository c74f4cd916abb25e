//go:build windows

package storage

import "os"

// Only the in-process mutex applies on Windows.
func lockFile(*os.File) error   { return nil }
func unlockFile(*os.File) error { return nil }
