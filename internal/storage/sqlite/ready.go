package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/steveyegge/beads/internal/types"
)

// GetReadyWork returns actionable issues: not pinned, not a template, not
// present in blocked_issues_cache, and matching filter. Defaults to
// open/in_progress when Status/Statuses are unset, since an issue ready to
// close is still "ready work" until someone closes it.
func (s *SQLiteStorage) GetReadyWork(ctx context.Context, filter types.WorkFilter) ([]*types.Issue, error) {
	whereClauses := []string{"i.pinned = 0", "i.is_template = 0"}
	var args []interface{}

	switch {
	case filter.Status != nil:
		whereClauses = append(whereClauses, "i.status = ?")
		args = append(args, string(*filter.Status))
	case len(filter.Statuses) > 0:
		ph := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			ph[i] = "?"
			args = append(args, string(st))
		}
		whereClauses = append(whereClauses, fmt.Sprintf("i.status IN (%s)", strings.Join(ph, ",")))
	default:
		statuses := []string{"open", "in_progress"}
		if filter.IncludeDeferred {
			statuses = append(statuses, "deferred")
		}
		ph := make([]string, len(statuses))
		for i, st := range statuses {
			ph[i] = "?"
			args = append(args, st)
		}
		whereClauses = append(whereClauses, fmt.Sprintf("i.status IN (%s)", strings.Join(ph, ",")))
	}

	if len(filter.Types) > 0 {
		ph := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			ph[i] = "?"
			args = append(args, string(t))
		}
		whereClauses = append(whereClauses, fmt.Sprintf("i.issue_type IN (%s)", strings.Join(ph, ",")))
	}
	if len(filter.Priorities) > 0 {
		ph := make([]string, len(filter.Priorities))
		for i, p := range filter.Priorities {
			ph[i] = "?"
			args = append(args, p)
		}
		whereClauses = append(whereClauses, fmt.Sprintf("i.priority IN (%s)", strings.Join(ph, ",")))
	}
	if filter.Unassigned {
		whereClauses = append(whereClauses, "(i.assignee IS NULL OR i.assignee = '')")
	} else if filter.Assignee != nil {
		whereClauses = append(whereClauses, "i.assignee = ?")
		args = append(args, *filter.Assignee)
	}

	for _, label := range filter.LabelsAll {
		whereClauses = append(whereClauses, `EXISTS (SELECT 1 FROM labels WHERE issue_id = i.id AND label = ?)`)
		args = append(args, label)
	}
	if len(filter.LabelsAny) > 0 {
		ph := make([]string, len(filter.LabelsAny))
		for i, l := range filter.LabelsAny {
			ph[i] = "?"
			args = append(args, l)
		}
		whereClauses = append(whereClauses, fmt.Sprintf(`EXISTS (SELECT 1 FROM labels WHERE issue_id = i.id AND label IN (%s))`, strings.Join(ph, ",")))
	}

	whereSQL := strings.Join(whereClauses, " AND ")

	limitSQL := ""
	if filter.Limit > 0 {
		limitSQL = " LIMIT ?"
		args = append(args, filter.Limit)
	}

	orderBySQL := buildOrderByClause(filter.SortPolicy)

	// #nosec G201 -- whereSQL/orderBySQL/limitSQL are built only from "?" placeholders and fixed fragments above.
	query := fmt.Sprintf(`
		SELECT %s FROM issues i
		WHERE %s
		AND NOT EXISTS (SELECT 1 FROM blocked_issues_cache WHERE issue_id = i.id)
		%s
		%s
	`, prefixColumns("i", issueColumns), whereSQL, orderBySQL, limitSQL)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("get ready work", err)
	}
	return scanIssueRows(rows)
}

// prefixColumns rewrites a "col1, col2, ..." list to "alias.col1, alias.col2, ...".
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// GetBlockedIssues returns every non-pinned issue present in
// blocked_issues_cache, decorated with its blocker list (§4.2).
func (s *SQLiteStorage) GetBlockedIssues(ctx context.Context) ([]*types.BlockedIssue, error) {
	// #nosec G201 -- static query, no user input.
	query := fmt.Sprintf(`
		SELECT %s, c.blockers
		FROM issues i
		JOIN blocked_issues_cache c ON c.issue_id = i.id
		WHERE i.pinned = 0
		ORDER BY i.priority ASC, i.created_at ASC
	`, prefixColumns("i", issueColumns))

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, wrapDBError("get blocked issues", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*types.BlockedIssue
	for rows.Next() {
		var blockersJSON string
		issue, err := scanIssueRowWithTrailing(rows, &blockersJSON)
		if err != nil {
			return nil, wrapDBError("scan blocked issue", err)
		}

		type blockerEntry struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		}
		var entries []blockerEntry
		_ = json.Unmarshal([]byte(blockersJSON), &entries)

		blockedBy := make([]string, 0, len(entries))
		for _, e := range entries {
			blockedBy = append(blockedBy, e.ID+":"+e.Status)
		}

		result = append(result, &types.BlockedIssue{
			Issue:          *issue,
			BlockedByCount: len(entries),
			BlockedBy:      blockedBy,
		})
	}
	return result, wrapDBError("iterate blocked issues", rows.Err())
}

// scanIssueRowWithTrailing scans an issues-column row plus one trailing
// column into extra, reusing scanIssueRow's exact column ordering.
func scanIssueRowWithTrailing(row rowScanner, extra *string) (*types.Issue, error) {
	wrapped := &trailingScanner{row: row, extra: extra}
	return scanIssueRow(wrapped)
}

type trailingScanner struct {
	row   rowScanner
	extra *string
}

func (t *trailingScanner) Scan(dest ...interface{}) error {
	return t.row.Scan(append(dest, t.extra)...)
}

// buildOrderByClause maps a sort policy to its ORDER BY clause. Hybrid
// computes a continuous effective priority — priority decreased by one
// tier for each complete HybridAgeDecayDays interval since creation,
// floored at 0 — and sorts by that uniformly across every row, so a
// long-open low priority issue still eventually surfaces ahead of a flood
// of fresh high-priority ones instead of being bucketed away from them.
func buildOrderByClause(policy types.SortPolicy) string {
	switch policy {
	case types.SortPolicyPriority:
		return `ORDER BY i.priority ASC, i.created_at ASC`
	case types.SortPolicyOldest:
		return `ORDER BY i.created_at ASC`
	case types.SortPolicyHybrid, "":
		return fmt.Sprintf(`ORDER BY
			MAX(i.priority - (CAST(julianday('now') - julianday(i.created_at) AS INTEGER) / %d), 0) ASC,
			i.created_at ASC`, types.HybridAgeDecayDays)
	default:
		return `ORDER BY i.priority ASC, i.created_at ASC`
	}
}
