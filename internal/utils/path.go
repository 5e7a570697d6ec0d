// Package utils collects small, dependency-free helpers shared across the
// storage, importer, and sync layers: path canonicalization and the
// issue-id prefix heuristics used by import and rename.
package utils

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// CanonicalizePath resolves path to an absolute, symlink-free form. An empty
// path canonicalizes to the current working directory. Failures to resolve
// (missing path, permission error) fall back to the absolute form without
// symlink resolution, so callers always get *something* usable.
func CanonicalizePath(path string) string {
	if path == "" {
		path = "."
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return abs
	}
	return resolved
}

// CanonicalizeIfRelative canonicalizes path only when it is not already
// absolute, leaving absolute paths untouched (even if they don't exist, so
// write-target paths aren't forced through symlink resolution they can't
// satisfy yet).
func CanonicalizeIfRelative(path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return path
	}
	return CanonicalizePath(path)
}

// ResolveForWrite canonicalizes path for a file that may not exist yet: it
// resolves symlinks in the parent directory chain but tolerates the final
// component being absent, so a caller about to create path gets the real
// location without an EvalSymlinks error on the not-yet-existing file.
func ResolveForWrite(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	dir := filepath.Dir(abs)
	resolvedDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return abs, nil
	}
	return filepath.Join(resolvedDir, filepath.Base(abs)), nil
}

// NormalizePathForComparison canonicalizes path and, on case-insensitive
// filesystems (darwin, windows), lowercases it so two paths differing only
// by case compare equal.
func NormalizePathForComparison(path string) string {
	if path == "" {
		return ""
	}
	canon := CanonicalizePath(path)
	if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
		return strings.ToLower(canon)
	}
	return canon
}

// PathsEqual reports whether a and b refer to the same filesystem location
// once canonicalized. Two empty paths are considered equal.
func PathsEqual(a, b string) bool {
	if a == "" && b == "" {
		return true
	}
	if a == "" || b == "" {
		return false
	}
	return NormalizePathForComparison(a) == NormalizePathForComparison(b)
}

// jsonlCandidates is tried in order; the first one present in dir wins.
// issues.jsonl is the canonical name; beads.jsonl is a legacy fallback.
// deletions.jsonl, interactions.jsonl, and three-way merge artifacts are
// never selected even when present.
var jsonlCandidates = []string{"issues.jsonl", "beads.jsonl"}

// FindJSONLInDir returns the path to the issue JSONL file in dir, preferring
// issues.jsonl over the legacy beads.jsonl name and ignoring
// deletions.jsonl, interactions.jsonl, and merge-conflict sibling files. If
// neither candidate exists, it still returns the default issues.jsonl path
// so callers have somewhere to create the file.
func FindJSONLInDir(dir string) string {
	for _, name := range jsonlCandidates {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return filepath.Join(dir, "issues.jsonl")
}

// FindMoleculesJSONLInDir returns the path to molecules.jsonl in dir if it
// exists, or "" otherwise.
func FindMoleculesJSONLInDir(dir string) string {
	candidate := filepath.Join(dir, "molecules.jsonl")
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}
