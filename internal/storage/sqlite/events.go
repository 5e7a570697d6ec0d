package sqlite

import (
	"context"

	"github.com/steveyegge/beads/internal/types"
)

// GetEvents returns the append-only audit trail for one issue, oldest
// first. Events are written inside the mutation protocol's commit step
// (store.go) and never mutated or deleted afterward.
func (s *SQLiteStorage) GetEvents(ctx context.Context, issueID string) ([]*types.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, issue_id, event_type, actor, old_value, new_value, comment, created_at
		FROM events WHERE issue_id = ? ORDER BY id ASC
	`, issueID)
	if err != nil {
		return nil, wrapDBErrorf(err, "get events for %s", issueID)
	}
	defer func() { _ = rows.Close() }()

	var events []*types.Event
	for rows.Next() {
		ev := &types.Event{}
		if err := rows.Scan(&ev.ID, &ev.IssueID, &ev.EventType, &ev.Actor, &ev.OldValue, &ev.NewValue, &ev.Comment, &ev.CreatedAt); err != nil {
			return nil, wrapDBError("scan event", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("iterate events", err)
	}
	return events, nil
}
