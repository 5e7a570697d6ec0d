// Package storage defines the backend-agnostic interface every issue store
// implements, along with the small set of shared option types callers (the
// importer, the CLI, the sync engine) pass through it.
package storage

import (
	"context"

	"github.com/steveyegge/beads/internal/types"
)

// Storage is the full read/write surface a tracker backend exposes. The
// sqlite package is the only implementation; the interface exists so the
// importer, exporter, and ready-work query can be written and tested
// against a narrower contract than a concrete struct.
type Storage interface {
	// Lifecycle
	Close() error
	Path() string
	CheckpointWAL(ctx context.Context) error

	// Mutations (§4.1 mutation protocol: each call is one begin-immediate
	// transaction, with events flushed before commit and the blocked cache
	// rebuilt before commit when the change can affect blocking)
	CreateIssue(ctx context.Context, issue *types.Issue, actor string) error
	CreateIssuesWithOptions(ctx context.Context, issues []*types.Issue, actor string, opts BatchCreateOptions) error
	UpdateIssue(ctx context.Context, id string, updates map[string]interface{}, actor string) error
	CloseIssue(ctx context.Context, id, reason, actor, session string) error
	DeleteIssue(ctx context.Context, id, actor, reason string) error

	AddDependency(ctx context.Context, dep types.Dependency) error
	RemoveDependency(ctx context.Context, issueID, dependsOnID string, depType types.DependencyType) error

	AddLabel(ctx context.Context, issueID, label string) error
	RemoveLabel(ctx context.Context, issueID, label string) error

	AddIssueComment(ctx context.Context, issueID, author, text string) (*types.Comment, error)
	ImportIssueComment(ctx context.Context, issueID, author, text, createdAt string) (*types.Comment, error)

	// Reads
	GetIssue(ctx context.Context, id string) (*types.Issue, error)
	GetIssueByExternalRef(ctx context.Context, externalRef string) (*types.Issue, error)
	SearchIssues(ctx context.Context, query string, filter types.IssueFilter) ([]*types.Issue, error)
	GetIssueComments(ctx context.Context, issueID string) ([]*types.Comment, error)
	GetDependencies(ctx context.Context, issueID string) ([]types.Dependency, error)
	GetDependents(ctx context.Context, issueID string) ([]types.Dependency, error)
	GetLabels(ctx context.Context, issueID string) ([]string, error)
	GetEvents(ctx context.Context, issueID string) ([]*types.Event, error)
	GetParent(ctx context.Context, issueID string) (*types.Issue, error)
	GetCounts(ctx context.Context) (*types.IssueCounts, error)

	// Derived views (§4.2)
	GetReadyWork(ctx context.Context, filter types.WorkFilter) ([]*types.Issue, error)
	GetBlockedIssues(ctx context.Context) ([]*types.BlockedIssue, error)

	// GetAllIssuesForExport returns every non-ephemeral issue (tombstones
	// included) ordered by id ascending, for JSONL export's deterministic
	// serialization pass (§4.3).
	GetAllIssuesForExport(ctx context.Context) ([]*types.Issue, error)

	// GetAllIDs returns every non-ephemeral issue id, ascending — the
	// lightweight caller-facing "get-all-ids" operation (§6).
	GetAllIDs(ctx context.Context) ([]string, error)

	// Export-hash ledger (§4.3, §4.4): the content hash recorded at the last
	// successful export, used by import's pre-phase cleanup.
	UpsertExportHashes(ctx context.Context, hashes map[string]string) error
	ClearExportHashes(ctx context.Context) error

	// Dirty tracking / sync bookkeeping (§4.1, §4.3)
	MarkIssueDirty(ctx context.Context, issueID string) error
	MarkIssuesDirty(ctx context.Context, issueIDs []string) error
	GetDirtyIssues(ctx context.Context) ([]string, error)
	GetDirtyIssueCount(ctx context.Context) (int, error)
	ClearDirtyIssuesByID(ctx context.Context, issueIDs []string) error

	// Config / metadata (§3, §4.4)
	SetConfig(ctx context.Context, key, value string) error
	GetConfig(ctx context.Context, key string) (string, error)
	GetAllConfig(ctx context.Context) (map[string]string, error)
	SetMetadata(ctx context.Context, key, value string) error
	GetMetadata(ctx context.Context, key string) (string, error)
	GetOrphanHandling(ctx context.Context) OrphanHandling
	GetCustomStatuses(ctx context.Context) ([]string, error)
	GetCustomTypes(ctx context.Context) ([]string, error)
	GetNonBlockingStatuses(ctx context.Context) ([]string, error)
}

// OrphanHandling specifies how CreateIssuesWithOptions treats an issue whose
// parent-child dependency target is absent from both the database and the
// batch being imported.
type OrphanHandling string

const (
	// OrphanStrict rejects the batch outright (the default).
	OrphanStrict OrphanHandling = "strict"
	// OrphanResurrect writes the dangling reference as-is, the same as
	// OrphanAllow; no placeholder parent is created.
	OrphanResurrect OrphanHandling = "resurrect"
	// OrphanSkip drops the orphaned issue and imports the rest of the batch.
	OrphanSkip OrphanHandling = "skip"
	// OrphanAllow writes the dangling reference as-is.
	OrphanAllow OrphanHandling = "allow"
)

// BatchCreateOptions controls CreateIssuesWithOptions, the bulk path used by
// JSONL import. It is the single consolidated options type for batch
// creation; callers do not construct backend-specific variants.
type BatchCreateOptions struct {
	OrphanHandling OrphanHandling
	// SkipPrefixValidation skips the configured issue_prefix check, since
	// imported ids may legitimately carry a different project's prefix.
	SkipPrefixValidation bool
	// SkipValidation skips types.Issue.ValidateForImport, used when the
	// caller has already validated (or intentionally relaxed) the batch.
	SkipValidation bool
	// PreserveDates keeps the incoming CreatedAt/UpdatedAt instead of
	// stamping them with time.Now(), required for faithful replay.
	PreserveDates bool
	// SkipDirtyTracking omits the dirty_issues upsert, used when the
	// records just came from export and are already in sync.
	SkipDirtyTracking bool
}
