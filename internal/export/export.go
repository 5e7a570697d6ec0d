// Package export implements JSONL export: serializing every non-ephemeral
// issue to a deterministic, line-delimited file with an atomic rename, plus
// the writer-only variant used for streaming to arbitrary sinks.
package export

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/steveyegge/beads/internal/syncpath"
	"github.com/steveyegge/beads/internal/types"
)

// Store is the read/write surface export needs from the backend.
type Store interface {
	ConfigStore
	GetAllIssuesForExport(ctx context.Context) ([]*types.Issue, error)
	GetDependencies(ctx context.Context, issueID string) ([]types.Dependency, error)
	GetLabels(ctx context.Context, issueID string) ([]string, error)
	GetIssueComments(ctx context.Context, issueID string) ([]*types.Comment, error)
	ClearDirtyIssuesByID(ctx context.Context, issueIDs []string) error
	UpsertExportHashes(ctx context.Context, hashes map[string]string) error
	SetMetadata(ctx context.Context, key, value string) error
}

// Options controls one export invocation.
type Options struct {
	// Root, when non-empty, is the allowlist root the destination path (and
	// its manifest sibling) must resolve under (§4.5).
	Root string
	// Force bypasses both runtime safety guards.
	Force bool
	// IsAutoExport selects the auto-export policy key when loading Config.
	IsAutoExport bool
}

// entityErrorCount tallies per-category failures for the manifest.
type entityErrorCount struct {
	Dependencies int `json:"dependencies,omitempty"`
	Labels       int `json:"labels,omitempty"`
	Comments     int `json:"comments,omitempty"`
	Issues       int `json:"issues,omitempty"`
}

// Manifest is the sidecar JSON written alongside a successful export when
// Config.WriteManifest is set (§4.3 expansion).
type Manifest struct {
	ExportedAt  time.Time         `json:"exported_at"`
	ErrorPolicy string            `json:"error_policy"`
	Complete    bool              `json:"complete"`
	IssueCount  int               `json:"issue_count"`
	ContentHash string            `json:"content_hash,omitempty"`
	Errors      entityErrorCount  `json:"errors,omitempty"`
}

// Result summarizes a completed export.
type Result struct {
	IssueCount  int
	ContentHash string
	Complete    bool
}

// serializableIssue is an issue decorated with its relations, the shape
// actually written to each JSONL line.
type serializableIssue struct {
	*types.Issue
	Dependencies []types.Dependency `json:"dependencies"`
	Labels       []string           `json:"labels"`
	Comments     []*types.Comment   `json:"comments"`
}

// ExportToJSONL serializes every exportable issue to path, enforcing the
// runtime safety guards, then atomically renaming a temporary sibling into
// place. It returns the export result (Result.Complete is false when the
// error policy recorded per-entity failures) and an error.
func ExportToJSONL(ctx context.Context, store Store, path string, opts Options) (*Result, error) {
	if opts.Root != "" {
		if err := syncpath.RequireValidPath(opts.Root, path); err != nil {
			return nil, fmt.Errorf("export destination rejected: %w", err)
		}
	}

	cfg, err := LoadConfig(ctx, store, opts.IsAutoExport)
	if err != nil {
		return nil, fmt.Errorf("load export config: %w", err)
	}

	issues, counts, err := collectIssues(ctx, store, cfg)
	if err != nil {
		return nil, err
	}

	if !opts.Force {
		if err := checkSafetyGuards(path, issues); err != nil {
			return nil, err
		}
	}

	issues, err = dropExpiredTombstones(ctx, store, issues)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return nil, fmt.Errorf("create temp export file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	hash, lineCount, err := writeIssueLines(tmp, issues)
	if err != nil {
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("fsync export file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close export file: %w", err)
	}
	if lineCount != len(issues) {
		return nil, fmt.Errorf("export line count mismatch: wrote %d lines for %d issues", lineCount, len(issues))
	}

	if err := renameWithRetry(tmpPath, path, cfg); err != nil {
		return nil, err
	}
	_ = os.Chmod(path, 0600)

	result := &Result{IssueCount: len(issues), ContentHash: hash, Complete: counts == (entityErrorCount{})}

	if cfg.WriteManifest {
		manifestPath := manifestPathFor(path)
		if opts.Root != "" {
			if err := syncpath.RequireValidPath(opts.Root, manifestPath); err != nil {
				return nil, fmt.Errorf("manifest destination rejected: %w", err)
			}
		}
		m := NewManifest(cfg.Policy)
		m.Complete = result.Complete
		m.IssueCount = result.IssueCount
		m.ContentHash = result.ContentHash
		m.Errors = counts
		if err := WriteManifest(path, m); err != nil {
			return nil, err
		}
	}

	if err := finalize(ctx, store, issues, result.ContentHash); err != nil {
		return nil, err
	}

	return result, nil
}

// ExportToWriter runs the same serialization pass without the atomic
// rename or the runtime safety guards, for callers writing to arbitrary
// sinks (e.g. stdout).
func ExportToWriter(ctx context.Context, store Store, w io.Writer, opts Options) (*Result, error) {
	cfg, err := LoadConfig(ctx, store, opts.IsAutoExport)
	if err != nil {
		return nil, fmt.Errorf("load export config: %w", err)
	}
	issues, counts, err := collectIssues(ctx, store, cfg)
	if err != nil {
		return nil, err
	}
	issues, err = dropExpiredTombstones(ctx, store, issues)
	if err != nil {
		return nil, err
	}
	hash, _, err := writeIssueLines(w, issues)
	if err != nil {
		return nil, err
	}
	return &Result{IssueCount: len(issues), ContentHash: hash, Complete: counts == (entityErrorCount{})}, nil
}

// collectIssues reads every exportable issue (id ascending, including
// tombstones regardless of age) and batch-fetches each issue's relations,
// honoring the error policy on a per-entity failure. Expired-tombstone
// filtering is a later, separate step (dropExpiredTombstones) so the
// safety guards run against the full, unfiltered set first.
func collectIssues(ctx context.Context, store Store, cfg *Config) ([]*serializableIssue, entityErrorCount, error) {
	var counts entityErrorCount

	all, err := store.GetAllIssuesForExport(ctx)
	if err != nil {
		return nil, counts, fmt.Errorf("read issues: %w", err)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	result := make([]*serializableIssue, 0, len(all))
	for _, issue := range all {
		if issue.ContentHash == "" {
			issue.ContentHash = issue.ComputeContentHash()
		}

		si := &serializableIssue{Issue: issue, Dependencies: []types.Dependency{}, Labels: []string{}, Comments: []*types.Comment{}}

		deps, err := store.GetDependencies(ctx, issue.ID)
		if err != nil {
			counts.Dependencies++
			if cfg.Policy == PolicyStrict {
				return nil, counts, fmt.Errorf("get dependencies for %s: %w", issue.ID, err)
			}
		} else {
			si.Dependencies = deps
		}

		labels, err := store.GetLabels(ctx, issue.ID)
		if err != nil {
			counts.Labels++
			if cfg.Policy == PolicyStrict {
				return nil, counts, fmt.Errorf("get labels for %s: %w", issue.ID, err)
			}
		} else {
			si.Labels = labels
		}

		comments, err := store.GetIssueComments(ctx, issue.ID)
		if err != nil {
			counts.Comments++
			if cfg.Policy == PolicyStrict {
				return nil, counts, fmt.Errorf("get comments for %s: %w", issue.ID, err)
			}
		} else {
			si.Comments = comments
		}

		result = append(result, si)
	}
	return result, counts, nil
}

// dropExpiredTombstones removes tombstones whose deleted_at is older than
// the configured tombstone.retention_days, run after the safety guards
// (which must see the full, unfiltered issue set) and just before the
// lines are actually serialized.
func dropExpiredTombstones(ctx context.Context, store Store, issues []*serializableIssue) ([]*serializableIssue, error) {
	retentionDays := 0
	if v, err := store.GetConfig(ctx, "tombstone.retention_days"); err == nil && v != "" {
		fmt.Sscanf(v, "%d", &retentionDays)
	}
	if retentionDays <= 0 {
		return issues, nil
	}

	kept := make([]*serializableIssue, 0, len(issues))
	for _, si := range issues {
		if si.IsTombstone() && si.DeletedAt != nil && time.Since(*si.DeletedAt) > time.Duration(retentionDays)*24*time.Hour {
			continue
		}
		kept = append(kept, si)
	}
	return kept, nil
}

// writeIssueLines writes one JSON line per issue, returning the running
// SHA-256 hash (over bytes including each trailing newline) and the number
// of lines written.
func writeIssueLines(w io.Writer, issues []*serializableIssue) (string, int, error) {
	hasher := sha256.New()
	bw := bufio.NewWriter(io.MultiWriter(w, hasher))
	count := 0
	for _, issue := range issues {
		data, err := json.Marshal(issue)
		if err != nil {
			return "", count, fmt.Errorf("serialize issue %s: %w", issue.ID, err)
		}
		if _, err := bw.Write(data); err != nil {
			return "", count, fmt.Errorf("write issue %s: %w", issue.ID, err)
		}
		if _, err := bw.Write([]byte("\n")); err != nil {
			return "", count, fmt.Errorf("write newline for %s: %w", issue.ID, err)
		}
		count++
	}
	if err := bw.Flush(); err != nil {
		return "", count, fmt.Errorf("flush export: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), count, nil
}

// checkSafetyGuards enforces empty-over-nonempty and stale-database.
func checkSafetyGuards(path string, issues []*serializableIssue) error {
	existing, err := readExistingIDs(path)
	if err != nil {
		return nil // destination absent or unreadable: nothing to guard against
	}
	if len(existing) == 0 {
		return nil
	}
	if len(issues) == 0 {
		return fmt.Errorf("refusing to export: database has zero exportable issues but %s already contains %d line(s)", path, len(existing))
	}

	present := make(map[string]bool, len(issues))
	for _, issue := range issues {
		present[issue.ID] = true
	}
	var missing []string
	for id := range existing {
		if !present[id] {
			missing = append(missing, id)
			if len(missing) >= 10 {
				break
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("refusing to export: %s contains id(s) absent from the current database: %v", path, missing)
	}
	return nil
}

func readExistingIDs(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	ids := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var partial struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(line, &partial); err == nil && partial.ID != "" {
			ids[partial.ID] = true
		}
	}
	return ids, scanner.Err()
}

func manifestPathFor(jsonlPath string) string {
	const suffix = ".jsonl"
	if len(jsonlPath) > len(suffix) && jsonlPath[len(jsonlPath)-len(suffix):] == suffix {
		return jsonlPath[:len(jsonlPath)-len(suffix)] + ".manifest.json"
	}
	return jsonlPath + ".manifest.json"
}

// renameWithRetry retries the final atomic rename up to cfg.RetryAttempts
// times with cfg.RetryBackoffMS as the initial backoff. Only the rename
// step is retried; the read phase above runs exactly once.
func renameWithRetry(tmpPath, finalPath string, cfg *Config) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(cfg.RetryBackoffMS) * time.Millisecond
	b.MaxElapsedTime = time.Duration(cfg.RetryAttempts) * b.InitialInterval * 4
	attempt := 0
	op := func() error {
		attempt++
		err := os.Rename(tmpPath, finalPath)
		if err != nil && attempt >= cfg.RetryAttempts {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(op, b); err != nil {
		return fmt.Errorf("rename export file into place: %w", err)
	}
	return nil
}

// finalize performs the four finalization steps on success: clear dirty
// markers, upsert the per-issue export-hash ledger, store the file content
// hash, and stamp last_export_time.
func finalize(ctx context.Context, store Store, issues []*serializableIssue, contentHash string) error {
	ids := make([]string, 0, len(issues))
	hashes := make(map[string]string, len(issues))
	for _, issue := range issues {
		ids = append(ids, issue.ID)
		hashes[issue.ID] = issue.ContentHash
	}
	if err := store.ClearDirtyIssuesByID(ctx, ids); err != nil {
		return fmt.Errorf("clear dirty markers: %w", err)
	}
	if err := store.UpsertExportHashes(ctx, hashes); err != nil {
		return fmt.Errorf("upsert export hashes: %w", err)
	}
	if err := store.SetMetadata(ctx, "jsonl_content_hash", contentHash); err != nil {
		return fmt.Errorf("store jsonl_content_hash: %w", err)
	}
	if err := store.SetMetadata(ctx, "last_export_time", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("stamp last_export_time: %w", err)
	}
	return nil
}
