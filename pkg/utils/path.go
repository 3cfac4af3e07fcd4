package utils

import (
	"path"
	"strings"
)

// Normalize puts a FUSE-supplied path into canonical form: it always starts
// with "/", has no trailing slash (except the root itself), and collapses
// "." and empty input to the root. Tracker keys are derived directly from
// this canonical form, so normalization must be applied before any lookup,
// cache access, or RPC call that is keyed by path.
func Normalize(p string) string {
	if p == "" || p == "." {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return "/"
	}
	return cleaned
}

// IsRoot reports whether a normalized path refers to the mount root.
func IsRoot(p string) bool {
	return Normalize(p) == "/"
}

// Dir returns the normalized parent directory of p. The parent of the root
// is the root itself.
func Dir(p string) string {
	n := Normalize(p)
	if n == "/" {
		return "/"
	}
	return Normalize(path.Dir(n))
}

// Base returns the final path element of p, with no leading or trailing
// slash. The base of the root is the empty string.
func Base(p string) string {
	n := Normalize(p)
	if n == "/" {
		return ""
	}
	return path.Base(n)
}
