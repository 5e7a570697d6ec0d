// Package importer implements JSONL import: the conflict-marker pre-scan,
// per-record normalization, four-phase collision detection, and the
// action-determination table that decides whether an incoming record
// creates, updates, or is skipped.
package importer

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/steveyegge/beads/internal/jsonl"
	"github.com/steveyegge/beads/internal/storage"
	"github.com/steveyegge/beads/internal/syncpath"
	"github.com/steveyegge/beads/internal/types"
)

// Action is the outcome of action-determination for one incoming record.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionSkip   Action = "skip"
)

// MatchKind names which collision-detection phase produced a match.
type MatchKind string

const (
	MatchExternalRef MatchKind = "external_ref"
	MatchContentHash MatchKind = "content_hash"
	MatchID          MatchKind = "id"
	MatchNone        MatchKind = ""
)

// Decision is the result of classifying one incoming issue against the
// current database state.
type Decision struct {
	Incoming  *types.Issue
	Existing  *types.Issue
	MatchedBy MatchKind
	Action    Action
}

// Options controls one import invocation.
type Options struct {
	// Root, when non-empty, is the allowlist root path must resolve under.
	Root string
	// TargetPrefix, when non-empty, is the project prefix issues should
	// carry after import; mismatched incoming ids are renamed to it.
	TargetPrefix string
	// KnownPrefixes seeds RenameImportedIssuePrefixes's prefix detection
	// for ids that utils.ExtractIssuePrefix would otherwise misparse.
	KnownPrefixes []string
	// ForceUpsert makes every non-tombstone collision update regardless of
	// which side is newer.
	ForceUpsert bool
	// Orphan controls CreateIssuesWithOptions's orphan policy for the
	// create batch. Defaults to the store's configured policy when zero.
	Orphan storage.OrphanHandling
	Actor  string
}

// Result tallies what ImportJSONL did.
type Result struct {
	Created int
	Updated int
	Skipped int
	// Dropped counts tombstones whose prefix didn't match the local
	// project and were silently discarded rather than imported.
	Dropped int
}

// wispMarker identifies ephemeral "wisp" issues by id convention; these are
// imported with Ephemeral set so they don't participate in export/ready-work.
const wispMarker = "-wisp-"

// ImportJSONL reads path, validates it, and applies every record to store.
func ImportJSONL(ctx context.Context, store storage.Storage, path string, opts Options) (*Result, error) {
	if opts.Root != "" {
		if _, err := syncpath.ValidatePath(opts.Root, path); err != nil {
			return nil, fmt.Errorf("import source rejected: %w", err)
		}
	}

	if err := scanForConflictMarkers(path); err != nil {
		return nil, err
	}

	incoming, err := jsonl.ReadIssuesFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jsonl: %w", err)
	}

	for _, issue := range incoming {
		normalize(issue)
	}

	if opts.TargetPrefix != "" {
		if err := RenameImportedIssuePrefixes(incoming, opts.TargetPrefix, opts.KnownPrefixes); err != nil {
			return nil, fmt.Errorf("rename prefixes: %w", err)
		}
	}

	localPrefix := opts.TargetPrefix
	if localPrefix == "" {
		localPrefix, err = store.GetConfig(ctx, "issue_prefix")
		if err != nil {
			return nil, fmt.Errorf("read issue_prefix: %w", err)
		}
	}

	result := &Result{}
	var kept []*types.Issue
	for _, issue := range incoming {
		if issue.Status == types.StatusTombstone && localPrefix != "" {
			if extractPrefixWithKnown(issue.ID, opts.KnownPrefixes) != localPrefix {
				result.Dropped++
				continue
			}
		}
		kept = append(kept, issue)
	}

	if err := store.ClearExportHashes(ctx); err != nil {
		return nil, fmt.Errorf("clear export hashes: %w", err)
	}

	index, err := buildCollisionIndex(ctx, store)
	if err != nil {
		return nil, err
	}

	decisions := make([]*Decision, 0, len(kept))
	for _, issue := range kept {
		decisions = append(decisions, classify(issue, index, opts.ForceUpsert))
	}

	if err := applyCreates(ctx, store, decisions, opts, result); err != nil {
		return nil, err
	}
	if err := applyUpdates(ctx, store, decisions, opts, result); err != nil {
		return nil, err
	}
	for _, d := range decisions {
		if d.Action == ActionSkip {
			result.Skipped++
		}
	}

	return result, nil
}

func scanForConflictMarkers(path string) error {
	// #nosec G304 -- path has already passed the sync allowlist when configured.
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	if err := jsonl.EnsureNoConflictMarkers(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// normalize recomputes the content hash, tags wisp-convention ids as
// ephemeral, and repairs closed_at so Validate's closed/closed_at
// consistency check passes regardless of what the source file carried.
func normalize(issue *types.Issue) {
	if strings.Contains(issue.ID, wispMarker) {
		issue.Ephemeral = true
	}
	if issue.Status == types.StatusClosed && issue.ClosedAt == nil {
		t := issue.UpdatedAt
		if t.IsZero() {
			t = time.Now().UTC()
		}
		issue.ClosedAt = &t
	}
	if issue.Status != types.StatusClosed && issue.ClosedAt != nil {
		issue.ClosedAt = nil
	}
	issue.ContentHash = issue.ComputeContentHash()
}

// collisionIndex is the snapshot of current database state collision
// detection matches incoming records against.
type collisionIndex struct {
	byID          map[string]*types.Issue
	byExternalRef map[string]*types.Issue
	byContentHash map[string]*types.Issue
}

func buildCollisionIndex(ctx context.Context, store storage.Storage) (*collisionIndex, error) {
	all, err := store.GetAllIssuesForExport(ctx)
	if err != nil {
		return nil, fmt.Errorf("read existing issues: %w", err)
	}
	idx := &collisionIndex{
		byID:          make(map[string]*types.Issue, len(all)),
		byExternalRef: make(map[string]*types.Issue),
		byContentHash: make(map[string]*types.Issue, len(all)),
	}
	for _, issue := range all {
		idx.byID[issue.ID] = issue
		if issue.ExternalRef != nil && *issue.ExternalRef != "" {
			idx.byExternalRef[*issue.ExternalRef] = issue
		}
		if issue.ContentHash != "" {
			idx.byContentHash[issue.ContentHash] = issue
		}
	}
	return idx, nil
}

// classify runs the four-phase collision check — external_ref, then
// content_hash, then id, then new — and applies the action-determination
// table: an existing or incoming tombstone always skips (even under
// force_upsert), force_upsert
// always updates a match, otherwise the newer side (by updated_at) wins and
// an incoming record no newer than the existing one is skipped.
func classify(incoming *types.Issue, idx *collisionIndex, forceUpsert bool) *Decision {
	d := &Decision{Incoming: incoming}

	if incoming.ExternalRef != nil && *incoming.ExternalRef != "" {
		if existing, ok := idx.byExternalRef[*incoming.ExternalRef]; ok {
			d.Existing, d.MatchedBy = existing, MatchExternalRef
		}
	}
	if d.Existing == nil && incoming.ContentHash != "" {
		if existing, ok := idx.byContentHash[incoming.ContentHash]; ok {
			d.Existing, d.MatchedBy = existing, MatchContentHash
		}
	}
	if d.Existing == nil {
		if existing, ok := idx.byID[incoming.ID]; ok {
			d.Existing, d.MatchedBy = existing, MatchID
		}
	}

	if d.Existing == nil {
		d.Action = ActionCreate
		return d
	}

	switch {
	case d.Existing.Status == types.StatusTombstone || incoming.Status == types.StatusTombstone:
		d.Action = ActionSkip
	case forceUpsert:
		d.Action = ActionUpdate
	case incoming.UpdatedAt.After(d.Existing.UpdatedAt):
		d.Action = ActionUpdate
	default:
		d.Action = ActionSkip
	}
	return d
}

func applyCreates(ctx context.Context, store storage.Storage, decisions []*Decision, opts Options, result *Result) error {
	var creates []*types.Issue
	for _, d := range decisions {
		if d.Action == ActionCreate {
			creates = append(creates, d.Incoming)
		}
	}
	if len(creates) == 0 {
		return nil
	}

	sort.Slice(creates, func(i, j int) bool { return creates[i].ID < creates[j].ID })

	orphan := opts.Orphan
	if orphan == "" {
		orphan = store.GetOrphanHandling(ctx)
	}
	batchOpts := storage.BatchCreateOptions{
		OrphanHandling:       orphan,
		SkipPrefixValidation: true,
		PreserveDates:        true,
	}
	if err := store.CreateIssuesWithOptions(ctx, creates, opts.Actor, batchOpts); err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	result.Created += len(creates)

	for _, issue := range creates {
		if err := writeDependencies(ctx, store, issue.ID, nil, issue.Dependencies); err != nil {
			return err
		}
		if err := writeNewComments(ctx, store, issue.ID, nil, issue.Comments); err != nil {
			return err
		}
	}
	return nil
}

func applyUpdates(ctx context.Context, store storage.Storage, decisions []*Decision, opts Options, result *Result) error {
	var updates []*Decision
	for _, d := range decisions {
		if d.Action == ActionUpdate {
			updates = append(updates, d)
		}
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].Incoming.ID < updates[j].Incoming.ID })

	for _, d := range updates {
		targetID := d.Existing.ID
		patch := diffUpdates(d.Existing, d.Incoming)
		if len(patch) > 0 {
			if err := store.UpdateIssue(ctx, targetID, patch, opts.Actor); err != nil {
				return fmt.Errorf("update %s: %w", targetID, err)
			}
		}

		// d.Existing came from the collision index, which reads unhydrated
		// issue rows (§4.3's export projection has no use for relations);
		// labels and dependencies are fetched fresh here for reconciliation.
		existingLabels, err := store.GetLabels(ctx, targetID)
		if err != nil {
			return fmt.Errorf("load labels for %s: %w", targetID, err)
		}
		if err := reconcileLabels(ctx, store, targetID, existingLabels, d.Incoming.Labels); err != nil {
			return err
		}

		existingDeps, err := store.GetDependencies(ctx, targetID)
		if err != nil {
			return fmt.Errorf("load dependencies for %s: %w", targetID, err)
		}
		if err := writeDependencies(ctx, store, targetID, existingDeps, d.Incoming.Dependencies); err != nil {
			return err
		}

		existingComments, err := store.GetIssueComments(ctx, targetID)
		if err != nil {
			return fmt.Errorf("load comments for %s: %w", targetID, err)
		}
		if err := writeNewComments(ctx, store, targetID, existingComments, d.Incoming.Comments); err != nil {
			return err
		}
		result.Updated++
	}
	return nil
}

// diffUpdates builds the sparse patch UpdateIssue expects, including only
// fields whose incoming value differs from the existing one, restricted to
// UpdateIssue's updatable column set.
func diffUpdates(existing, incoming *types.Issue) map[string]interface{} {
	patch := map[string]interface{}{}
	if existing.Title != incoming.Title {
		patch["title"] = incoming.Title
	}
	if existing.Description != incoming.Description {
		patch["description"] = incoming.Description
	}
	if existing.Design != incoming.Design {
		patch["design"] = incoming.Design
	}
	if existing.AcceptanceCriteria != incoming.AcceptanceCriteria {
		patch["acceptance_criteria"] = incoming.AcceptanceCriteria
	}
	if existing.Notes != incoming.Notes {
		patch["notes"] = incoming.Notes
	}
	if existing.Status != incoming.Status {
		patch["status"] = string(incoming.Status)
	}
	if existing.Priority != incoming.Priority {
		patch["priority"] = incoming.Priority
	}
	if existing.IssueType != incoming.IssueType {
		patch["issue_type"] = string(incoming.IssueType)
	}
	if existing.Assignee != incoming.Assignee {
		patch["assignee"] = incoming.Assignee
	}
	if existing.Owner != incoming.Owner {
		patch["owner"] = incoming.Owner
	}
	if !stringPtrEqual(existing.ExternalRef, incoming.ExternalRef) {
		patch["external_ref"] = incoming.ExternalRef
	}
	if incoming.ClosedAt != nil && (existing.ClosedAt == nil || !existing.ClosedAt.Equal(*incoming.ClosedAt)) {
		patch["closed_at"] = *incoming.ClosedAt
	}
	if existing.CloseReason != incoming.CloseReason {
		patch["close_reason"] = incoming.CloseReason
	}
	return patch
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// reconcileLabels replaces an existing issue's label set wholesale: labels
// present locally but absent from incoming are removed, labels present in
// incoming but absent locally are added.
func reconcileLabels(ctx context.Context, store storage.Storage, issueID string, existing, incoming []string) error {
	existingSet := make(map[string]bool, len(existing))
	for _, l := range existing {
		existingSet[l] = true
	}
	incomingSet := make(map[string]bool, len(incoming))
	for _, l := range incoming {
		incomingSet[l] = true
	}
	for l := range existingSet {
		if !incomingSet[l] {
			if err := store.RemoveLabel(ctx, issueID, l); err != nil {
				return fmt.Errorf("remove label %s from %s: %w", l, issueID, err)
			}
		}
	}
	for l := range incomingSet {
		if !existingSet[l] {
			if err := store.AddLabel(ctx, issueID, l); err != nil {
				return fmt.Errorf("add label %s to %s: %w", l, issueID, err)
			}
		}
	}
	return nil
}

func depKey(d types.Dependency) string {
	return d.IssueID + "\x00" + d.DependsOnID + "\x00" + string(d.Type)
}

// writeDependencies replaces an issue's dependency edges wholesale relative
// to existing (nil for a freshly created issue, meaning every incoming edge
// is new).
func writeDependencies(ctx context.Context, store storage.Storage, issueID string, existing, incoming []types.Dependency) error {
	existingSet := make(map[string]types.Dependency, len(existing))
	for _, d := range existing {
		existingSet[depKey(d)] = d
	}
	incomingSet := make(map[string]types.Dependency, len(incoming))
	for _, d := range incoming {
		incomingSet[depKey(d)] = d
	}
	for key, d := range existingSet {
		if _, ok := incomingSet[key]; !ok {
			if err := store.RemoveDependency(ctx, d.IssueID, d.DependsOnID, d.Type); err != nil {
				return fmt.Errorf("remove dependency %s -> %s: %w", d.IssueID, d.DependsOnID, err)
			}
		}
	}
	for key, d := range incomingSet {
		if _, ok := existingSet[key]; !ok {
			d.IssueID = issueID
			if err := store.AddDependency(ctx, d); err != nil {
				return fmt.Errorf("add dependency %s -> %s: %w", d.IssueID, d.DependsOnID, err)
			}
		}
	}
	return nil
}

func commentKey(author, text string, createdAt time.Time) string {
	return author + "\x00" + text + "\x00" + createdAt.UTC().Format(time.RFC3339Nano)
}

// writeNewComments appends incoming comments absent from existing. Comments
// have no delete path in the storage layer (history is append-only by
// design), so reconciliation here is additive rather than a true wholesale
// replace: an incoming comment already present by (author, text,
// created_at) is treated as unchanged and skipped.
func writeNewComments(ctx context.Context, store storage.Storage, issueID string, existing []*types.Comment, incoming []types.Comment) error {
	seen := make(map[string]bool, len(existing))
	for _, c := range existing {
		seen[commentKey(c.Author, c.Text, c.CreatedAt)] = true
	}
	for _, c := range incoming {
		key := commentKey(c.Author, c.Text, c.CreatedAt)
		if seen[key] {
			continue
		}
		if _, err := store.ImportIssueComment(ctx, issueID, c.Author, c.Text, c.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("import comment on %s: %w", issueID, err)
		}
		seen[key] = true
	}
	return nil
}
