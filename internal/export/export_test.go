package export

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/steveyegge/beads/internal/storage/sqlite"
	"github.com/steveyegge/beads/internal/types"
)

func newTestStore(t *testing.T) *sqlite.SQLiteStorage {
	t.Helper()
	dir := t.TempDir()
	store, err := sqlite.New(filepath.Join(dir, "beads.db"), "bd")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustCreate(t *testing.T, store *sqlite.SQLiteStorage, title string) *types.Issue {
	t.Helper()
	issue := &types.Issue{Title: title, IssueType: types.TypeTask, Priority: 2}
	if err := store.CreateIssue(context.Background(), issue, "tester"); err != nil {
		t.Fatalf("create issue %q: %v", title, err)
	}
	return issue
}

func TestExportToJSONLWritesDeterministicOrderAndHash(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	mustCreate(t, store, "first")
	mustCreate(t, store, "second")
	mustCreate(t, store, "third")

	dir := t.TempDir()
	dest := filepath.Join(dir, "issues.jsonl")

	result, err := ExportToJSONL(ctx, store, dest, Options{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if result.IssueCount != 3 {
		t.Fatalf("expected 3 issues, got %d", result.IssueCount)
	}
	if !result.Complete {
		t.Fatalf("expected complete export")
	}
	if result.ContentHash == "" {
		t.Fatalf("expected a non-empty content hash")
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	for i := 1; i < len(lines); i++ {
		if lines[i-1] > lines[i] {
			t.Fatalf("lines not id-ascending: %q before %q", lines[i-1], lines[i])
		}
	}
}

func TestExportToJSONLRefusesEmptyOverNonempty(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	mustCreate(t, store, "only")

	dir := t.TempDir()
	dest := filepath.Join(dir, "issues.jsonl")
	if _, err := ExportToJSONL(ctx, store, dest, Options{}); err != nil {
		t.Fatalf("seed export: %v", err)
	}

	empty := newTestStore(t)
	if _, err := ExportToJSONL(ctx, empty, dest, Options{}); err == nil {
		t.Fatalf("expected empty-over-nonempty export to be refused")
	}
}

func TestExportToJSONLForceBypassesSafetyGuard(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	mustCreate(t, store, "only")

	dir := t.TempDir()
	dest := filepath.Join(dir, "issues.jsonl")
	if _, err := ExportToJSONL(ctx, store, dest, Options{}); err != nil {
		t.Fatalf("seed export: %v", err)
	}

	empty := newTestStore(t)
	result, err := ExportToJSONL(ctx, empty, dest, Options{Force: true})
	if err != nil {
		t.Fatalf("forced export should succeed: %v", err)
	}
	if result.IssueCount != 0 {
		t.Fatalf("expected 0 issues written, got %d", result.IssueCount)
	}
}

func TestExportToJSONLClearsDirtyAndStampsMetadata(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	mustCreate(t, store, "one")

	dirty, err := store.GetDirtyIssueCount(ctx)
	if err != nil {
		t.Fatalf("dirty count: %v", err)
	}
	if dirty == 0 {
		t.Fatalf("expected newly created issue to be dirty")
	}

	dir := t.TempDir()
	dest := filepath.Join(dir, "issues.jsonl")
	result, err := ExportToJSONL(ctx, store, dest, Options{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	dirty, err = store.GetDirtyIssueCount(ctx)
	if err != nil {
		t.Fatalf("dirty count after export: %v", err)
	}
	if dirty != 0 {
		t.Fatalf("expected dirty markers cleared after export, got %d", dirty)
	}

	hash, err := store.GetMetadata(ctx, "jsonl_content_hash")
	if err != nil {
		t.Fatalf("get jsonl_content_hash: %v", err)
	}
	if hash != result.ContentHash {
		t.Fatalf("stored content hash %q does not match result %q", hash, result.ContentHash)
	}
}

func TestExportToJSONLWritesManifestWhenConfigured(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	mustCreate(t, store, "one")
	if err := store.SetConfig(ctx, ConfigKeyWriteManifest, "true"); err != nil {
		t.Fatalf("set config: %v", err)
	}

	dir := t.TempDir()
	dest := filepath.Join(dir, "issues.jsonl")
	if _, err := ExportToJSONL(ctx, store, dest, Options{}); err != nil {
		t.Fatalf("export: %v", err)
	}

	manifestPath := filepath.Join(dir, "issues.manifest.json")
	if _, err := os.Stat(manifestPath); err != nil {
		t.Fatalf("expected manifest at %s: %v", manifestPath, err)
	}
}

func TestExportToJSONLRejectsPathOutsideRoot(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	mustCreate(t, store, "one")

	root := t.TempDir()
	outside := t.TempDir()
	dest := filepath.Join(outside, "issues.jsonl")

	if _, err := ExportToJSONL(ctx, store, dest, Options{Root: root}); err == nil {
		t.Fatalf("expected export outside root to be rejected")
	}
}

func TestExportToWriterOmitsAtomicRename(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	mustCreate(t, store, "one")
	mustCreate(t, store, "two")

	var buf strings.Builder
	result, err := ExportToWriter(ctx, store, &buf, Options{})
	if err != nil {
		t.Fatalf("export to writer: %v", err)
	}
	if result.IssueCount != 2 {
		t.Fatalf("expected 2 issues, got %d", result.IssueCount)
	}
	if strings.Count(buf.String(), "\n") != 2 {
		t.Fatalf("expected 2 newline-terminated lines, got %q", buf.String())
	}
}
