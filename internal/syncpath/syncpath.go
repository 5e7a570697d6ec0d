// Package syncpath implements the path allowlist every sync I/O operation
// (export, import, WAL checkpoint) must pass a candidate path through
// before touching the filesystem.
package syncpath

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/steveyegge/beads/internal/utils"
)

// isSymlink reports whether candidate itself (not its target) is a symlink.
func isSymlink(candidate string) bool {
	info, err := os.Lstat(candidate)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeSymlink != 0
}

// Category classifies why a candidate path was rejected.
type Category string

const (
	CategoryGitPath               Category = "git-path"
	CategoryTraversalAttempt      Category = "traversal-attempt"
	CategoryCanonicalizationFailed Category = "canonicalization-failed"
	CategoryOutsideRoot           Category = "outside-root"
	CategorySymlinkEscape         Category = "symlink-escape"
	CategoryDisallowedExtension   Category = "disallowed-extension"
)

// allowedExtensions is checked against the lowercased path suffix.
var allowedExtensions = []string{".db", ".db-wal", ".db-shm", ".jsonl", ".jsonl.tmp"}

// allowedManifestSuffix and allowedExactBasenames cover sidecar files named by convention rather than
// extension: a manifest is "<stem>.manifest.json" for an arbitrary stem, and
// metadata.json is matched on its exact base name.
var allowedManifestSuffix = ".manifest.json"
var allowedExactBasenames = []string{"metadata.json"}

// RejectedError reports why ValidatePath refused a candidate.
type RejectedError struct {
	Category Category
	Path     string
	Reason   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("sync path rejected (%s): %s: %s", e.Category, e.Path, e.Reason)
}

// hasGitComponent reports whether any path component of the raw (unprocessed)
// input is exactly ".git". This check runs before canonicalization or
// existence checks, since a .git component disqualifies a path outright
// regardless of anything else about it.
func hasGitComponent(raw string) bool {
	for _, part := range strings.Split(filepath.ToSlash(raw), "/") {
		if part == ".git" {
			return true
		}
	}
	return false
}

// hasTraversalComponent reports whether raw contains a ".." path segment.
func hasTraversalComponent(raw string) bool {
	for _, part := range strings.Split(filepath.ToSlash(raw), "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

func extensionAllowed(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range allowedExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	if strings.HasSuffix(lower, allowedManifestSuffix) {
		return true
	}
	base := strings.ToLower(filepath.Base(path))
	for _, name := range allowedExactBasenames {
		if base == name {
			return true
		}
	}
	return false
}

// ValidatePath checks candidate against the allowlist rooted at root,
// returning the canonicalized path on success. The git-path check runs
// first and unconditionally; every other rejection category is checked
// only after it passes.
func ValidatePath(root, candidate string) (string, error) {
	if hasGitComponent(candidate) {
		return "", &RejectedError{Category: CategoryGitPath, Path: candidate, Reason: "path contains a .git component"}
	}
	if hasTraversalComponent(candidate) {
		return "", &RejectedError{Category: CategoryTraversalAttempt, Path: candidate, Reason: "path contains a .. component"}
	}

	canonRoot := utils.CanonicalizePath(root)

	resolved, err := utils.ResolveForWrite(candidate)
	if err != nil {
		return "", &RejectedError{Category: CategoryCanonicalizationFailed, Path: candidate, Reason: err.Error()}
	}

	rel, err := filepath.Rel(canonRoot, resolved)
	if err != nil {
		return "", &RejectedError{Category: CategoryCanonicalizationFailed, Path: candidate, Reason: err.Error()}
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		// A symlink whose canonical target escapes the root surfaces here
		// too, since ResolveForWrite already followed it; only a path that
		// was never symlinked but still lands outside root is a plain
		// outside-root rejection. We can't distinguish the two cases from
		// the resolved path alone, so escaped symlinks are reported under
		// the more specific category when the raw candidate itself
		// resolves (via Lstat) to a symlink; otherwise outside-root.
		if isSymlink(candidate) {
			return "", &RejectedError{Category: CategorySymlinkEscape, Path: candidate, Reason: "symlink target escapes the allowed root"}
		}
		return "", &RejectedError{Category: CategoryOutsideRoot, Path: candidate, Reason: "path resolves outside the allowed root"}
	}

	if !extensionAllowed(resolved) {
		return "", &RejectedError{Category: CategoryDisallowedExtension, Path: candidate, Reason: "extension is not on the sync allowlist"}
	}

	return resolved, nil
}

// IsAllowed reports whether candidate passes ValidatePath against root.
func IsAllowed(root, candidate string) bool {
	_, err := ValidatePath(root, candidate)
	return err == nil
}

// RequireValidPath is ValidatePath with the canonical path discarded —
// for call sites that only need the pass/fail outcome and an error to
// surface to the caller.
func RequireValidPath(root, candidate string) error {
	_, err := ValidatePath(root, candidate)
	return err
}
