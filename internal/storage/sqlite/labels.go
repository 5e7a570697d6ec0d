package sqlite

import (
	"context"

	"github.com/steveyegge/beads/internal/types"
	"github.com/steveyegge/beads/internal/validation"
)

func getLabelsTx(ctx context.Context, exec dbExecutor, issueID string) ([]string, error) {
	rows, err := exec.QueryContext(ctx, `SELECT label FROM labels WHERE issue_id = ? ORDER BY label`, issueID)
	if err != nil {
		return nil, wrapDBErrorf(err, "get labels for %s", issueID)
	}
	defer func() { _ = rows.Close() }()

	var labels []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, wrapDBError("scan label", err)
		}
		labels = append(labels, l)
	}
	return labels, wrapDBError("iterate labels", rows.Err())
}

// replaceLabelsTx inserts the given label set for an issue inside exec,
// used by insert paths where issue.Labels already holds the desired set.
func replaceLabelsTx(ctx context.Context, exec dbExecutor, issueID string, labels []string) error {
	for _, label := range labels {
		if err := validation.ValidateLabel(label); err != nil {
			return err
		}
		if _, err := exec.ExecContext(ctx, `INSERT OR IGNORE INTO labels (issue_id, label) VALUES (?, ?)`, issueID, label); err != nil {
			return wrapDBErrorf(err, "insert label %s on %s", label, issueID)
		}
	}
	return nil
}

// AddLabel attaches a label to an issue, records a label_added event, and
// marks the issue dirty for re-export.
func (s *SQLiteStorage) AddLabel(ctx context.Context, issueID, label string) error {
	if err := validation.ValidateLabel(label); err != nil {
		return err
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

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO labels (issue_id, label) VALUES (?, ?)`, issueID, label); err != nil {
		return wrapDBErrorf(err, "insert label %s on %s", label, issueID)
	}

	m := newMutation(ctx, tx, "add_label", "system")
	m.recordEvent(issueID, string(types.EventLabelAdded), nil, strPtr(label), nil)
	m.markDirty(issueID)
	if err := m.finish(); err != nil {
		return err
	}
	committed = true
	return nil
}

// RemoveLabel detaches a label from an issue, records a label_removed
// event, and marks the issue dirty for re-export.
func (s *SQLiteStorage) RemoveLabel(ctx context.Context, issueID, label string) error {
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

	if _, err := tx.ExecContext(ctx, `DELETE FROM labels WHERE issue_id = ? AND label = ?`, issueID, label); err != nil {
		return wrapDBErrorf(err, "remove label %s from %s", label, issueID)
	}

	m := newMutation(ctx, tx, "remove_label", "system")
	m.recordEvent(issueID, string(types.EventLabelRemoved), strPtr(label), nil, nil)
	m.markDirty(issueID)
	if err := m.finish(); err != nil {
		return err
	}
	committed = true
	return nil
}

// GetLabels returns the labels attached to an issue.
func (s *SQLiteStorage) GetLabels(ctx context.Context, issueID string) ([]string, error) {
	return getLabelsTx(ctx, s.db, issueID)
}
