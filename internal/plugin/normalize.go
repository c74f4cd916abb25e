package plugin

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

const fileScheme = "file://"

// NormalizeReference returns the canonical form of a plugin reference.
// File URLs get their path cleaned; every other reference is only trimmed.
func NormalizeReference(reference string) (string, error) {
	trimmed := strings.TrimSpace(reference)
	if trimmed == "" {
		return "", ErrEmptyReference
	}

	if !strings.HasPrefix(strings.ToLower(trimmed), "file:") {
		return trimmed, nil
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("Invalid plugin file URL '%s': %w", trimmed, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("Unsupported plugin URL protocol: %s:", u.Scheme)
	}
	if u.Opaque != "" || !strings.HasPrefix(u.Path, "/") {
		return "", fmt.Errorf("Plugin file URL '%s' must use an absolute path", trimmed)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", fmt.Errorf("Plugin file URL '%s' must not name a remote host", trimmed)
	}

	canonical := url.URL{Scheme: "file", Path: path.Clean(u.Path)}
	return canonical.String(), nil
}

// FilePath returns the local path of a normalized file reference.
func FilePath(normalized string) (string, bool) {
	if !strings.HasPrefix(normalized, fileScheme) {
		return "", false
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return "", false
	}
	return u.Path, true
}

// referenceScheme returns the scheme part of a reference, lowercased.
func referenceScheme(reference string) string {
	i := strings.Index(reference, ":")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(reference[:i])
}
