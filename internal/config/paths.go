package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName names the per-user directories.
const AppName = "minicode"

// Paths contains the standard per-user paths.
type Paths struct {
	Data   string // ~/.local/share/minicode
	Config string // ~/.config/minicode
	Cache  string // ~/.cache/minicode
	State  string // ~/.local/state/minicode
}

// GetPaths returns the standard paths, honoring the XDG variables in the
// process environment.
func GetPaths() *Paths {
	return pathsFrom(os.Getenv)
}

func pathsFrom(getenv func(string) string) *Paths {
	home := getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return &Paths{
		Data:   filepath.Join(envOr(getenv, "XDG_DATA_HOME", defaultDataHome(home)), AppName),
		Config: filepath.Join(envOr(getenv, "XDG_CONFIG_HOME", defaultConfigHome(home)), AppName),
		Cache:  filepath.Join(envOr(getenv, "XDG_CACHE_HOME", defaultCacheHome(home)), AppName),
		State:  filepath.Join(envOr(getenv, "XDG_STATE_HOME", defaultStateHome(home)), AppName),
	}
}

// LogDir is where the log file lives.
func (p *Paths) LogDir() string {
	return filepath.Join(p.State, "log")
}

// SessionsDir is the default sessions root.
func (p *Paths) SessionsDir() string {
	return filepath.Join(p.Data, "sessions")
}

func envOr(getenv func(string) string, key, defaultValue string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func defaultDataHome(home string) string {
	if runtime.GOOS == "windows" {
		if v := os.Getenv("LOCALAPPDATA"); v != "" {
			return v
		}
	}
	return filepath.Join(home, ".local", "share")
}

func defaultConfigHome(home string) string {
	if runtime.GOOS == "windows" {
		if v := os.Getenv("APPDATA"); v != "" {
			return v
		}
	}
	return filepath.Join(home, ".config")
}

func defaultCacheHome(home string) string {
	if runtime.GOOS == "windows" {
		if v := os.Getenv("LOCALAPPDATA"); v != "" {
			return filepath.Join(v, "cache")
		}
	}
	return filepath.Join(home, ".cache")
}

func defaultStateHome(home string) string {
	if runtime.GOOS == "windows" {
		if v := os.Getenv("LOCALAPPDATA"); v != "" {
			return filepath.Join(v, "state")
		}
	}
	return filepath.Join(home, ".local", "state")
}
