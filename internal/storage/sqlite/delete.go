package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/steveyegge/beads/internal/types"
)

// DeleteIssue soft-deletes an issue: it becomes a tombstone (status is set
// to tombstone and closed_at cleared; original_type and
// deleted_at/deleted_by/delete_reason record what happened; issue_type,
// priority and body fields are kept) rather than being removed from the
// table. Tombstones are never hard-deleted and, once written, are immutable
// on import (§4.4); import can also insert tombstones read from JSONL.
func (s *SQLiteStorage) DeleteIssue(ctx context.Context, id, actor, reason string) error {
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

	var existingType string
	var alreadyTombstone bool
	err = tx.QueryRowContext(ctx, `SELECT issue_type, status = 'tombstone' FROM issues WHERE id = ?`, id).Scan(&existingType, &alreadyTombstone)
	if err != nil {
		return wrapDBErrorf(err, "load issue %s for delete", id)
	}
	if alreadyTombstone {
		return nil // idempotent: already a tombstone
	}

	now := time.Now().UTC()
	deletedAt := now.Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx, `
		UPDATE issues SET
			status = 'tombstone',
			original_type = ?,
			deleted_at = ?,
			deleted_by = ?,
			delete_reason = ?,
			updated_at = ?,
			closed_at = NULL
		WHERE id = ?
	`, existingType, deletedAt, nullIfEmpty(actor), nullIfEmpty(reason), now, id)
	if err != nil {
		return wrapDBErrorf(err, "tombstone issue %s", id)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM dependencies WHERE issue_id = ? OR depends_on_id = ?`, id, id); err != nil {
		return wrapDBErrorf(err, "remove dependencies for deleted issue %s", id)
	}

	m := newMutation(ctx, tx, "delete_issue", actor)
	m.recordEvent(id, string(types.EventDeleted), nil, nil, strPtrIfNotEmpty(reason))
	m.markDirty(id)
	m.invalidateBlockedCache()
	if err := m.finish(); err != nil {
		return err
	}
	committed = true
	return nil
}

func strPtrIfNotEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// PurgeExpiredTombstones permanently removes tombstones whose TTL (ttl, or
// types.DefaultTombstoneTTL when zero) has elapsed. This is the only path
// that ever hard-deletes a row, and it runs outside the mutation protocol
// since it touches no live issue's blocking state.
func (s *SQLiteStorage) PurgeExpiredTombstones(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl == 0 {
		ttl = types.DefaultTombstoneTTL
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, deleted_at FROM issues WHERE status = 'tombstone' AND deleted_at IS NOT NULL`)
	if err != nil {
		return 0, wrapDBError("scan tombstones", err)
	}

	type candidate struct {
		id        string
		deletedAt string
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.deletedAt); err != nil {
			_ = rows.Close()
			return 0, wrapDBError("scan tombstone row", err)
		}
		candidates = append(candidates, c)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, wrapDBError("iterate tombstones", err)
	}

	purged := 0
	for _, c := range candidates {
		deletedAt := parseNullableTimeString(sql.NullString{String: c.deletedAt, Valid: c.deletedAt != ""})
		if deletedAt == nil {
			continue
		}
		issue := &types.Issue{Status: types.StatusTombstone, DeletedAt: deletedAt}
		if !issue.IsExpired(ttl) {
			continue
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM issues WHERE id = ?`, c.id); err != nil {
			return purged, wrapDBErrorf(err, "purge tombstone %s", c.id)
		}
		purged++
	}
	return purged, nil
}
