package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/steveyegge/beads/internal/types"
)

func getDependenciesTx(ctx context.Context, exec dbExecutor, issueID string) ([]types.Dependency, error) {
	rows, err := exec.QueryContext(ctx, `
		SELECT issue_id, depends_on_id, type, created_at, created_by, metadata, thread_id
		FROM dependencies WHERE issue_id = ? ORDER BY created_at ASC
	`, issueID)
	if err != nil {
		return nil, wrapDBErrorf(err, "get dependencies for %s", issueID)
	}
	return scanDependencyRows(rows)
}

func scanDependencyRows(rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
	Close() error
}) ([]types.Dependency, error) {
	defer func() { _ = rows.Close() }()
	var deps []types.Dependency
	for rows.Next() {
		var d types.Dependency
		var createdBy, metadata, threadID *string
		if err := rows.Scan(&d.IssueID, &d.DependsOnID, &d.Type, &d.CreatedAt, &createdBy, &metadata, &threadID); err != nil {
			return nil, wrapDBError("scan dependency", err)
		}
		if createdBy != nil {
			d.CreatedBy = *createdBy
		}
		if metadata != nil {
			d.Metadata = *metadata
		}
		if threadID != nil {
			d.ThreadID = *threadID
		}
		deps = append(deps, d)
	}
	return deps, wrapDBError("iterate dependencies", rows.Err())
}

// GetDependencies returns the edges issueID points to (what it depends on).
func (s *SQLiteStorage) GetDependencies(ctx context.Context, issueID string) ([]types.Dependency, error) {
	return getDependenciesTx(ctx, s.db, issueID)
}

// GetDependents returns the edges pointing at issueID (what depends on it).
func (s *SQLiteStorage) GetDependents(ctx context.Context, issueID string) ([]types.Dependency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT issue_id, depends_on_id, type, created_at, created_by, metadata, thread_id
		FROM dependencies WHERE depends_on_id = ? ORDER BY created_at ASC
	`, issueID)
	if err != nil {
		return nil, wrapDBErrorf(err, "get dependents of %s", issueID)
	}
	return scanDependencyRows(rows)
}

// AddDependency inserts a dependency edge, detects direct cycles for
// blocking edge types, and invalidates the blocked cache when the edge type
// affects ready-work computation.
func (s *SQLiteStorage) AddDependency(ctx context.Context, dep types.Dependency) error {
	if !dep.Type.IsValid() {
		return fmt.Errorf("invalid dependency type: %q", dep.Type)
	}
	if dep.IssueID == dep.DependsOnID {
		return fmt.Errorf("%w: issue cannot depend on itself", ErrCycle)
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return wrapDBError("acquire connection", err)
	}
	defer func() { _ = conn.Close() }()

	tx, err := beginImmediateWithRetry(ctx, conn)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if dep.Type.AffectsReadyWork() {
		var reverseExists bool
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM dependencies WHERE issue_id = ? AND depends_on_id = ? AND type = ?)
		`, dep.DependsOnID, dep.IssueID, dep.Type).Scan(&reverseExists)
		if err != nil {
			return wrapDBError("check cycle", err)
		}
		if reverseExists {
			return fmt.Errorf("%w: %s and %s already block each other via %s", ErrCycle, dep.IssueID, dep.DependsOnID, dep.Type)
		}
	}

	if dep.CreatedAt.IsZero() {
		dep.CreatedAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO dependencies (issue_id, depends_on_id, type, created_at, created_by, metadata, thread_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (issue_id, depends_on_id, type) DO NOTHING
	`, dep.IssueID, dep.DependsOnID, dep.Type, dep.CreatedAt, nullIfEmpty(dep.CreatedBy), nullIfEmpty(dep.Metadata), nullIfEmpty(dep.ThreadID))
	if err != nil {
		return wrapDBErrorf(err, "insert dependency %s -> %s", dep.IssueID, dep.DependsOnID)
	}

	m := newMutation(ctx, tx, "add_dependency", dep.CreatedBy)
	m.recordEvent(dep.IssueID, string(types.EventDependencyAdded), nil, strPtr(string(dep.Type)+":"+dep.DependsOnID), nil)
	m.markDirty(dep.IssueID)
	if dep.Type.AffectsReadyWork() {
		m.invalidateBlockedCache()
	}
	if err := m.finish(); err != nil {
		return err
	}
	committed = true
	return nil
}

// RemoveDependency deletes a dependency edge and invalidates the blocked
// cache when the removed edge type affected ready-work computation.
func (s *SQLiteStorage) RemoveDependency(ctx context.Context, issueID, dependsOnID string, depType types.DependencyType) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return wrapDBError("acquire connection", err)
	}
	defer func() { _ = conn.Close() }()

	tx, err := beginImmediateWithRetry(ctx, conn)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM dependencies WHERE issue_id = ? AND depends_on_id = ? AND type = ?`, issueID, dependsOnID, depType)
	if err != nil {
		return wrapDBErrorf(err, "remove dependency %s -> %s", issueID, dependsOnID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: dependency %s -> %s (%s)", ErrNotFound, issueID, dependsOnID, depType)
	}

	m := newMutation(ctx, tx, "remove_dependency", "system")
	m.recordEvent(issueID, string(types.EventDependencyRemoved), strPtr(string(depType)+":"+dependsOnID), nil, nil)
	m.markDirty(issueID)
	if depType.AffectsReadyWork() {
		m.invalidateBlockedCache()
	}
	if err := m.finish(); err != nil {
		return err
	}
	committed = true
	return nil
}
