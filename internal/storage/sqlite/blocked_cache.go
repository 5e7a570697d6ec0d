// Package sqlite maintains blocked_issues_cache, a materialized view of
// which issues currently have an open blocker. GetReadyWork and
// GetBlockedIssues both read this table instead of re-evaluating the
// dependency graph on every call; every mutation that can change blocking
// state invalidates (rebuilds) it inside the same transaction, so it is
// never visible in a stale state to a concurrent reader.
//
// Blocking is a flat, single-hop relation: an issue is blocked iff it has
// a dependency edge of type blocks, parent-child, conditional-blocks, or
// waits-for to a target that is not closed, not tombstoned, and not one of
// the configured non-blocking statuses. There is no transitive propagation
// through parent-child or any other edge type.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// rebuildBlockedCache recomputes blocked_issues_cache from scratch against
// exec (either the live *sql.DB or the *sql.Tx of the mutation in
// progress). Each row records the blocked issue's id and a JSON array of
// {"id","status"} objects describing what's currently blocking it.
func rebuildBlockedCache(ctx context.Context, exec dbExecutor) error {
	if _, err := exec.ExecContext(ctx, "DELETE FROM blocked_issues_cache"); err != nil {
		return fmt.Errorf("clear blocked_issues_cache: %w", err)
	}

	excluded, err := nonBlockingStatuses(ctx, exec)
	if err != nil {
		return err
	}
	placeholders := make([]string, len(excluded))
	args := make([]interface{}, len(excluded))
	for i, status := range excluded {
		placeholders[i] = "?"
		args[i] = status
	}

	query := fmt.Sprintf(`
		INSERT INTO blocked_issues_cache (issue_id, blockers)
		SELECT
		  d.issue_id,
		  json_group_array(json_object('id', blocker.id, 'status', blocker.status))
		FROM dependencies d
		JOIN issues blocker ON blocker.id = d.depends_on_id
		WHERE d.type IN ('blocks', 'parent-child', 'conditional-blocks', 'waits-for')
		  AND blocker.status NOT IN (%s)
		GROUP BY d.issue_id
	`, strings.Join(placeholders, ","))

	if _, err := exec.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("rebuild blocked_issues_cache: %w", err)
	}
	return nil
}

// nonBlockingStatuses returns every status that does not block a
// dependent: the two built-in terminal statuses plus whatever custom
// statuses are configured under status.non_blocking.
func nonBlockingStatuses(ctx context.Context, q queryer) ([]string, error) {
	statuses := []string{"closed", "tombstone"}

	var value sql.NullString
	row := q.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", NonBlockingStatusConfigKey)
	if err := row.Scan(&value); err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("read non-blocking statuses: %w", err)
	}
	if value.Valid {
		statuses = append(statuses, parseCommaSeparated(value.String)...)
	}
	return statuses, nil
}
