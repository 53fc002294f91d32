package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Path validates filesystem paths against a whitelist of root
// directories. Used to prevent path traversal attacks (CWE-22).
//
// Roots are canonicalized once at construction; every requested path is
// canonicalized (symlinks, "..", "." resolved) before the containment
// check, never compared as a raw string.
type Path struct {
	roots []string
}

// Decision records the outcome of a single path authorization. It is
// computed fresh per operation and never cached across calls.
type Decision struct {
	// Requested is the path exactly as the caller supplied it.
	Requested string
	// Real is the canonical absolute path after symlink resolution.
	// Empty when canonicalization itself failed.
	Real string
	// Allowed is the containment verdict against the whitelist.
	Allowed bool
	// Reason explains a rejection; empty when Allowed.
	Reason string
}

// NewPath creates a path validator for the given allowed root
// directories. Every root must exist and canonicalize unambiguously;
// otherwise construction fails, which callers treat as a fatal startup
// error.
func NewPath(allowedDirs []string) (*Path, error) {
	if len(allowedDirs) == 0 {
		return nil, fmt.Errorf("at least one allowed root directory is required")
	}

	roots := make([]string, 0, len(allowedDirs))
	for _, dir := range allowedDirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("resolving root %s: %w", dir, err)
		}
		real, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return nil, fmt.Errorf("canonicalizing root %s: %w", dir, err)
		}
		info, err := os.Stat(real)
		if err != nil {
			return nil, fmt.Errorf("stat root %s: %w", dir, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("root %s is not a directory", dir)
		}
		roots = append(roots, real)
	}

	return &Path{roots: roots}, nil
}

// Roots returns a copy of the canonicalized whitelist.
func (v *Path) Roots() []string {
	out := make([]string, len(v.roots))
	copy(out, v.roots)
	return out
}

// Validate canonicalizes the requested path and checks containment
// against the whitelist. On success the Decision carries the canonical
// path the caller must use for the actual filesystem operation; reusing
// the raw input after validation would reopen the TOCTOU window.
//
// A path whose final components do not exist yet is accepted for file
// creation as long as its deepest existing ancestor canonicalizes inside
// an allowed root.
func (v *Path) Validate(path string) (Decision, error) {
	d := Decision{Requested: path}

	if strings.TrimSpace(path) == "" {
		d.Reason = "empty path"
		return d, &ValidationError{Field: "path", Detail: "must not be empty"}
	}

	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		d.Reason = "unresolvable path"
		return d, &ValidationError{Field: "path", Detail: err.Error()}
	}

	real, err := canonicalize(abs)
	if err != nil {
		// A symlink that dangles or cannot be resolved is rejected
		// outright: authorization on an ambiguous path is unsafe.
		d.Reason = "canonicalization failed"
		return d, Errorf(ReasonPathOutsideWhitelist,
			"cannot canonicalize %s: %v", path, err)
	}
	d.Real = real

	for _, root := range v.roots {
		if contains(root, real) {
			d.Allowed = true
			return d, nil
		}
	}

	d.Reason = "outside allowed roots"
	return d, Errorf(ReasonPathOutsideWhitelist,
		"path %s is not within allowed directories", real)
}

// canonicalize resolves abs to its symlink-free form. When trailing
// components do not exist, the deepest existing ancestor is resolved and
// the missing suffix re-appended, so creating new files under a vetted
// directory still works.
func canonicalize(abs string) (string, error) {
	var suffix []string
	cur := abs
	for {
		real, err := filepath.EvalSymlinks(cur)
		if err == nil {
			if len(suffix) == 0 {
				return real, nil
			}
			return filepath.Join(append([]string{real}, suffix...)...), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		suffix = append([]string{filepath.Base(cur)}, suffix...)
		cur = parent
	}
}

// contains reports whether p equals root or is a strict descendant of
// it. Both arguments must already be canonical absolute paths.
func contains(root, p string) bool {
	if p == root {
		return true
	}
	return strings.HasPrefix(p, root+string(filepath.Separator))
}
