// Store interface for import operations
// This interface abstracts the storage backend to support any storage.Storage implementation.

package importer

import (
	"github.com/steveyegge/beads/internal/storage"
)

// ImportStore is the storage surface import needs. storage.Storage already
// carries everything (CreateIssuesWithOptions, ImportIssueComment, Path,
// CheckpointWAL, GetOrphanHandling); the alias exists so importer code reads
// in terms of its own vocabulary.
type ImportStore = storage.Storage

// AsImportStore is a type-assertion no-op kept for call sites that used to
// need a backend-specific downcast; any storage.Storage already satisfies
// ImportStore.
func AsImportStore(store storage.Storage) (ImportStore, bool) {
	return store, store != nil
}
