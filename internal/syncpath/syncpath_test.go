package syncpath

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathAcceptsAllowedExtension(t *testing.T) {
	root := t.TempDir()
	candidate := filepath.Join(root, "issues.jsonl")
	resolved, err := ValidatePath(root, candidate)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if resolved == "" {
		t.Fatalf("expected a resolved path")
	}
}

func TestValidatePathAcceptsManifestSuffix(t *testing.T) {
	root := t.TempDir()
	candidate := filepath.Join(root, "issues.manifest.json")
	if _, err := ValidatePath(root, candidate); err != nil {
		t.Fatalf("expected manifest suffix to be allowed, got %v", err)
	}
}

func TestValidatePathAcceptsMetadataJSONExactName(t *testing.T) {
	root := t.TempDir()
	candidate := filepath.Join(root, "metadata.json")
	if _, err := ValidatePath(root, candidate); err != nil {
		t.Fatalf("expected metadata.json to be allowed, got %v", err)
	}
}

func TestValidatePathRejectsDisallowedExtension(t *testing.T) {
	root := t.TempDir()
	candidate := filepath.Join(root, "notes.txt")
	_, err := ValidatePath(root, candidate)
	assertCategory(t, err, CategoryDisallowedExtension)
}

func TestValidatePathRejectsGitComponentFirst(t *testing.T) {
	root := t.TempDir()
	// A .git component disqualifies the path even though ".." isn't present
	// and the extension would otherwise be allowed.
	candidate := filepath.Join(root, ".git", "issues.jsonl")
	_, err := ValidatePath(root, candidate)
	assertCategory(t, err, CategoryGitPath)
}

func TestValidatePathRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	// filepath.Join would clean away a ".." component, so the raw candidate
	// is built by string concatenation to preserve it for the check.
	candidate := root + string(filepath.Separator) + ".." + string(filepath.Separator) + "escape.jsonl"
	_, err := ValidatePath(root, candidate)
	assertCategory(t, err, CategoryTraversalAttempt)
}

func TestValidatePathRejectsOutsideRoot(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	candidate := filepath.Join(outside, "issues.jsonl")
	_, err := ValidatePath(root, candidate)
	assertCategory(t, err, CategoryOutsideRoot)
}

func TestValidatePathRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	target := filepath.Join(outside, "issues.jsonl")
	if err := os.WriteFile(target, []byte("{}"), 0o600); err != nil {
		t.Fatalf("seed target: %v", err)
	}
	link := filepath.Join(root, "issues.jsonl")
	if err := os.Symlink(target, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	_, err := ValidatePath(root, link)
	assertCategory(t, err, CategorySymlinkEscape)
}

func TestValidatePathAllowsNonexistentFileUnderRoot(t *testing.T) {
	root := t.TempDir()
	candidate := filepath.Join(root, "not-yet-created.jsonl")
	if _, err := ValidatePath(root, candidate); err != nil {
		t.Fatalf("expected a not-yet-created path under root to validate, got %v", err)
	}
}

func TestIsAllowedMatchesValidatePath(t *testing.T) {
	root := t.TempDir()
	good := filepath.Join(root, "issues.jsonl")
	bad := filepath.Join(root, "issues.exe")
	if !IsAllowed(root, good) {
		t.Errorf("expected %s to be allowed", good)
	}
	if IsAllowed(root, bad) {
		t.Errorf("expected %s to be rejected", bad)
	}
}

func assertCategory(t *testing.T, err error, want Category) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected an error categorized %s, got nil", want)
	}
	rerr, ok := err.(*RejectedError)
	if !ok {
		t.Fatalf("expected *RejectedError, got %T: %v", err, err)
	}
	if rerr.Category != want {
		t.Fatalf("expected category %s, got %s (%v)", want, rerr.Category, err)
	}
}
