package sqlite

import (
	"context"
	"database/sql"
)

// UpsertExportHashes records the content hash exported for each issue id, so
// a later incremental export or import can detect which rows actually
// changed. Called once per successful export finalization.
func (s *SQLiteStorage) UpsertExportHashes(ctx context.Context, hashes map[string]string) error {
	if len(hashes) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO export_hashes (issue_id, content_hash)
			VALUES (?, ?)
			ON CONFLICT (issue_id) DO UPDATE SET content_hash = excluded.content_hash
		`)
		if err != nil {
			return wrapDBError("prepare export hash upsert", err)
		}
		defer func() { _ = stmt.Close() }()
		for id, hash := range hashes {
			if _, err := stmt.ExecContext(ctx, id, hash); err != nil {
				return wrapDBErrorf(err, "upsert export hash for %s", id)
			}
		}
		return nil
	})
}

// ClearExportHashes truncates the export-hash ledger. Import runs this first
// since the ledger goes stale the moment the database diverges from the
// last export.
func (s *SQLiteStorage) ClearExportHashes(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM export_hashes`)
	return wrapDBError("clear export hashes", err)
}
