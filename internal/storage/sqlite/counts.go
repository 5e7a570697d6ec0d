package sqlite

import (
	"context"

	"github.com/steveyegge/beads/internal/types"
)

// GetCounts returns a point-in-time statistics snapshot: totals by status,
// issue type, and priority, plus the blocks-only blocked count (classic
// semantics: edge type blocks, target not closed — distinct from the full
// blocked_issues_cache definition used by the ready-work view).
func (s *SQLiteStorage) GetCounts(ctx context.Context) (*types.IssueCounts, error) {
	counts := &types.IssueCounts{
		ByStatus:   map[string]int{},
		ByType:     map[string]int{},
		ByPriority: map[int]int{},
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, issue_type, priority, COUNT(*)
		FROM issues WHERE ephemeral = 0
		GROUP BY status, issue_type, priority
	`)
	if err != nil {
		return nil, wrapDBError("get counts", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var status, issueType string
		var priority, n int
		if err := rows.Scan(&status, &issueType, &priority, &n); err != nil {
			return nil, wrapDBError("scan counts row", err)
		}
		counts.Total += n
		counts.ByStatus[status] += n
		counts.ByType[issueType] += n
		counts.ByPriority[priority] += n
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("iterate counts", err)
	}

	blocked, err := s.blocksOnlyBlockedCount(ctx)
	if err != nil {
		return nil, err
	}
	counts.BlockedClassic = blocked

	return counts, nil
}

// blocksOnlyBlockedCount implements the `blocks`-only blocked set: edge
// type blocks, target not closed. Computed directly against the
// dependencies/issues tables rather than blocked_issues_cache, since the
// cache's definition additionally includes parent-child,
// conditional-blocks, waits-for, and configured non-blocking statuses.
func (s *SQLiteStorage) blocksOnlyBlockedCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT d.issue_id)
		FROM dependencies d
		JOIN issues blocker ON blocker.id = d.depends_on_id
		WHERE d.type = ? AND blocker.status != 'closed'
	`, types.DepBlocks).Scan(&n)
	if err != nil {
		return 0, wrapDBError("blocks-only blocked count", err)
	}
	return n, nil
}
