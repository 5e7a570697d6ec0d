package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/beads/internal/idgen"
	"github.com/steveyegge/beads/internal/storage"
	"github.com/steveyegge/beads/internal/types"
)

const issueColumns = `
	id, content_hash, status, issue_type, priority,
	title, description, design, acceptance_criteria, notes,
	assignee, owner, created_by, closed_by_session, sender,
	created_at, updated_at, closed_at, due_at, defer_until, deleted_at, compacted_at,
	deleted_by, delete_reason, original_type, close_reason,
	compaction_level, compacted_at_commit, original_size,
	ephemeral, pinned, is_template,
	external_ref, source_system, source_repo,
	estimated_minutes, rig, metadata
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanIssueRow scans one issues row, matching the column order of issueColumns.
func scanIssueRow(row rowScanner) (*types.Issue, error) {
	var issue types.Issue
	var contentHash, assignee, owner, createdBy, closedBySession, sender sql.NullString
	var closedAt, dueAt, deferUntil, compactedAt sql.NullTime
	var deletedAt sql.NullString
	var deletedBy, deleteReason, originalType, closeReason sql.NullString
	var compactedAtCommit sql.NullString
	var externalRef, sourceSystem sql.NullString
	var estimatedMinutes sql.NullInt64
	var rig, metadata sql.NullString

	err := row.Scan(
		&issue.ID, &contentHash, &issue.Status, &issue.IssueType, &issue.Priority,
		&issue.Title, &issue.Description, &issue.Design, &issue.AcceptanceCriteria, &issue.Notes,
		&assignee, &owner, &createdBy, &closedBySession, &sender,
		&issue.CreatedAt, &issue.UpdatedAt, &closedAt, &dueAt, &deferUntil, &deletedAt, &compactedAt,
		&deletedBy, &deleteReason, &originalType, &closeReason,
		&issue.CompactionLevel, &compactedAtCommit, &issue.OriginalSize,
		&issue.Ephemeral, &issue.Pinned, &issue.IsTemplate,
		&externalRef, &sourceSystem, &issue.SourceRepo,
		&estimatedMinutes, &rig, &metadata,
	)
	if err != nil {
		return nil, err
	}

	if contentHash.Valid {
		issue.ContentHash = contentHash.String
	}
	if assignee.Valid {
		issue.Assignee = assignee.String
	}
	if owner.Valid {
		issue.Owner = owner.String
	}
	if createdBy.Valid {
		issue.CreatedBy = createdBy.String
	}
	if closedBySession.Valid {
		issue.ClosedBySession = closedBySession.String
	}
	if sender.Valid {
		issue.Sender = sender.String
	}
	if closedAt.Valid {
		issue.ClosedAt = &closedAt.Time
	}
	if dueAt.Valid {
		issue.DueAt = &dueAt.Time
	}
	if deferUntil.Valid {
		issue.DeferUntil = &deferUntil.Time
	}
	issue.DeletedAt = parseNullableTimeString(deletedAt)
	if compactedAt.Valid {
		issue.CompactedAt = &compactedAt.Time
	}
	if deletedBy.Valid {
		issue.DeletedBy = deletedBy.String
	}
	if deleteReason.Valid {
		issue.DeleteReason = deleteReason.String
	}
	if originalType.Valid {
		issue.OriginalType = originalType.String
	}
	if closeReason.Valid {
		issue.CloseReason = closeReason.String
	}
	if compactedAtCommit.Valid {
		issue.CompactedAtCommit = &compactedAtCommit.String
	}
	if externalRef.Valid {
		issue.ExternalRef = &externalRef.String
	}
	if sourceSystem.Valid {
		issue.SourceSystem = sourceSystem.String
	}
	if estimatedMinutes.Valid {
		mins := int(estimatedMinutes.Int64)
		issue.EstimatedMinutes = &mins
	}
	if rig.Valid {
		issue.Rig = rig.String
	}
	if metadata.Valid && metadata.String != "" {
		issue.Metadata = []byte(metadata.String)
	}
	return &issue, nil
}

func scanIssueRows(rows *sql.Rows) ([]*types.Issue, error) {
	defer func() { _ = rows.Close() }()
	var issues []*types.Issue
	for rows.Next() {
		issue, err := scanIssueRow(rows)
		if err != nil {
			return nil, wrapDBError("scan issue row", err)
		}
		issues = append(issues, issue)
	}
	return issues, wrapDBError("iterate issue rows", rows.Err())
}

// hydrateIssue attaches labels and dependencies to an issue already scanned
// from the issues table.
func (s *SQLiteStorage) hydrateIssue(ctx context.Context, exec dbExecutor, issue *types.Issue) error {
	labels, err := getLabelsTx(ctx, exec, issue.ID)
	if err != nil {
		return err
	}
	issue.Labels = labels

	deps, err := getDependenciesTx(ctx, exec, issue.ID)
	if err != nil {
		return err
	}
	issue.Dependencies = deps
	return nil
}

// CreateIssue writes a single issue following the mutation protocol: begin
// immediate, validate, compute content hash, insert, record a "created"
// event, mark the issue dirty, commit. A new issue has no dependencies yet,
// so the blocked cache is left as it is.
func (s *SQLiteStorage) CreateIssue(ctx context.Context, issue *types.Issue, actor string) error {
	customStatuses, err := s.GetCustomStatuses(ctx)
	if err != nil {
		return err
	}
	customTypes, err := s.GetCustomTypes(ctx)
	if err != nil {
		return err
	}

	issue.SetDefaults()
	if issue.ID == "" {
		id, err := s.assignSemanticID(ctx, issue)
		if err != nil {
			return err
		}
		issue.ID = id
	}
	if err := issue.ValidateWithCustom(customStatuses, customTypes); err != nil {
		return fmt.Errorf("validate issue: %w", err)
	}
	issue.ContentHash = issue.ComputeContentHash()

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

	if err := insertIssueTx(ctx, tx, issue); err != nil {
		return err
	}
	if err := replaceLabelsTx(ctx, tx, issue.ID, issue.Labels); err != nil {
		return err
	}

	m := newMutation(ctx, tx, "create_issue", actor)
	m.recordEvent(issue.ID, string(types.EventCreated), nil, strPtr(issue.Title), nil)
	m.markDirty(issue.ID)
	if err := m.finish(); err != nil {
		return err
	}
	committed = true
	return nil
}

func insertIssueTx(ctx context.Context, tx *sql.Tx, issue *types.Issue) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO issues (
			id, content_hash, status, issue_type, priority,
			title, description, design, acceptance_criteria, notes,
			assignee, owner, created_by, closed_by_session, sender,
			created_at, updated_at, closed_at, due_at, defer_until, deleted_at, compacted_at,
			deleted_by, delete_reason, original_type, close_reason,
			compaction_level, compacted_at_commit, original_size,
			ephemeral, pinned, is_template,
			external_ref, source_system, source_repo,
			estimated_minutes, rig, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		issue.ID, issue.ContentHash, issue.Status, issue.IssueType, issue.Priority,
		issue.Title, issue.Description, issue.Design, issue.AcceptanceCriteria, issue.Notes,
		nullIfEmpty(issue.Assignee), nullIfEmpty(issue.Owner), nullIfEmpty(issue.CreatedBy), nullIfEmpty(issue.ClosedBySession), nullIfEmpty(issue.Sender),
		issue.CreatedAt, issue.UpdatedAt, issue.ClosedAt, issue.DueAt, issue.DeferUntil, formatDeletedAt(issue.DeletedAt), issue.CompactedAt,
		nullIfEmpty(issue.DeletedBy), nullIfEmpty(issue.DeleteReason), nullIfEmpty(issue.OriginalType), nullIfEmpty(issue.CloseReason),
		issue.CompactionLevel, issue.CompactedAtCommit, issue.OriginalSize,
		issue.Ephemeral, issue.Pinned, issue.IsTemplate,
		issue.ExternalRef, nullIfEmpty(issue.SourceSystem), issue.SourceRepo,
		issue.EstimatedMinutes, nullIfEmpty(issue.Rig), nullIfRawEmpty(issue.Metadata),
	)
	return wrapDBErrorf(err, "insert issue %s", issue.ID)
}

func strPtr(s string) *string { return &s }

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullIfRawEmpty(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func formatDeletedAt(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// CreateIssuesWithOptions is the bulk-insert path used by JSONL import. It
// applies orphan handling per opts, validates each issue (unless
// SkipValidation), preserves timestamps when PreserveDates is set, and
// performs a single mutation-protocol commit for the whole batch.
func (s *SQLiteStorage) CreateIssuesWithOptions(ctx context.Context, issues []*types.Issue, actor string, opts storage.BatchCreateOptions) error {
	if len(issues) == 0 {
		return nil
	}

	customStatuses, err := s.GetCustomStatuses(ctx)
	if err != nil {
		return err
	}
	customTypes, err := s.GetCustomTypes(ctx)
	if err != nil {
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

	m := newMutation(ctx, tx, "create_issues_batch", actor)

	for _, issue := range issues {
		if !opts.PreserveDates {
			issue.SetDefaults()
		} else if issue.Status == "" {
			issue.Status = types.StatusOpen
		}
		if !opts.SkipValidation {
			if err := issue.ValidateForImport(customStatuses, customTypes); err != nil {
				return fmt.Errorf("validate issue %s: %w", issue.ID, err)
			}
		}
		if issue.ContentHash == "" {
			issue.ContentHash = issue.ComputeContentHash()
		}
		if err := resolveOrphan(ctx, tx, issue, opts.OrphanHandling); err != nil {
			return err
		}
		if err := insertIssueTx(ctx, tx, issue); err != nil {
			return err
		}
		if err := replaceLabelsTx(ctx, tx, issue.ID, issue.Labels); err != nil {
			return err
		}
		m.recordEvent(issue.ID, string(types.EventCreated), nil, strPtr(issue.Title), nil)
		if !opts.SkipDirtyTracking {
			m.markDirty(issue.ID)
		}
	}
	m.invalidateBlockedCache()

	if err := m.finish(); err != nil {
		return err
	}
	committed = true
	return nil
}

// resolveOrphan checks a parent-child dependent's parent for presence per
// the configured OrphanHandling. It only inspects dependencies already
// attached to issue.Dependencies (the importer resolves these before
// calling CreateIssuesWithOptions); it does not write dependency rows.
func resolveOrphan(ctx context.Context, tx *sql.Tx, issue *types.Issue, handling storage.OrphanHandling) error {
	for _, dep := range issue.Dependencies {
		if dep.Type != types.DepParentChild {
			continue
		}
		var exists bool
		err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM issues WHERE id = ?)`, dep.DependsOnID).Scan(&exists)
		if err != nil {
			return wrapDBErrorf(err, "check parent %s", dep.DependsOnID)
		}
		if exists {
			continue
		}
		switch handling {
		case storage.OrphanStrict:
			return fmt.Errorf("issue %s references missing parent %s", issue.ID, dep.DependsOnID)
		case storage.OrphanSkip:
			return fmt.Errorf("skip orphan %s", issue.ID)
		case storage.OrphanResurrect, storage.OrphanAllow:
			// Leave the dangling reference. Resurrect is handled like allow:
			// no placeholder parent is created here or by the importer.
		}
	}
	return nil
}

// assignSemanticID derives an id from title + issue type + configured
// prefix (§2 identifier utilities), retrying with a numeric suffix on
// collision. After 99 attempts it falls back to a hash-based id so creation
// never fails purely on slug exhaustion.
func (s *SQLiteStorage) assignSemanticID(ctx context.Context, issue *types.Issue) (string, error) {
	gen := idgen.NewSemanticIDGenerator()
	attempts := 0
	exists := func(id string) bool {
		attempts++
		var n int
		_ = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM issues WHERE id = ?`, id).Scan(&n)
		return n > 0
	}
	id := gen.GenerateSemanticIDWithCallback(s.prefix, string(issue.IssueType), issue.Title, exists)
	if !exists(id) {
		return id, nil
	}
	return idgen.GenerateHashID(s.prefix, issue.Title, issue.Description, issue.CreatedBy, issue.CreatedAt, 8, attempts), nil
}

// GetIssue fetches one issue by id, with labels and dependencies attached.
func (s *SQLiteStorage) GetIssue(ctx context.Context, id string) (*types.Issue, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM issues WHERE id = ?`, issueColumns), id)
	issue, err := scanIssueRow(row)
	if err != nil {
		return nil, wrapDBErrorf(err, "get issue %s", id)
	}
	if err := s.hydrateIssue(ctx, s.db, issue); err != nil {
		return nil, err
	}
	return issue, nil
}

// GetIssueByExternalRef fetches the issue carrying the given external_ref,
// used by import's phase-0 collision check.
func (s *SQLiteStorage) GetIssueByExternalRef(ctx context.Context, externalRef string) (*types.Issue, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM issues WHERE external_ref = ?`, issueColumns), externalRef)
	issue, err := scanIssueRow(row)
	if err != nil {
		return nil, wrapDBErrorf(err, "get issue by external_ref %s", externalRef)
	}
	if err := s.hydrateIssue(ctx, s.db, issue); err != nil {
		return nil, err
	}
	return issue, nil
}

// UpdateIssue applies a sparse patch: keys absent from updates are left
// untouched, keys present with a nil value are set to NULL/empty. Status
// and priority changes additionally record a dedicated event; a status
// change also triggers a blocked-cache rebuild, since it can change what
// the issue blocks.
func (s *SQLiteStorage) UpdateIssue(ctx context.Context, id string, updates map[string]interface{}, actor string) error {
	if len(updates) == 0 {
		return nil
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

	before, err := func() (*types.Issue, error) {
		row := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM issues WHERE id = ?`, issueColumns), id)
		return scanIssueRow(row)
	}()
	if err != nil {
		return wrapDBErrorf(err, "load issue %s for update", id)
	}

	allowed := map[string]string{
		"title": "title", "description": "description", "design": "design",
		"acceptance_criteria": "acceptance_criteria", "notes": "notes",
		"status": "status", "priority": "priority", "issue_type": "issue_type",
		"assignee": "assignee", "owner": "owner", "due_at": "due_at", "defer_until": "defer_until",
		"external_ref": "external_ref", "source_system": "source_system", "source_repo": "source_repo",
		"estimated_minutes": "estimated_minutes", "rig": "rig", "metadata": "metadata",
		"close_reason": "close_reason", "closed_at": "closed_at",
	}

	var setClauses []string
	var args []interface{}
	statusChanged := false
	priorityChanged := false
	for key, val := range updates {
		col, ok := allowed[key]
		if !ok {
			return fmt.Errorf("update issue: field %q is not updatable", key)
		}
		if key == "metadata" && val != nil {
			normalized, err := storage.NormalizeMetadataValue(val)
			if err != nil {
				return fmt.Errorf("update issue %s: %w", id, err)
			}
			val = normalized
		}
		setClauses = append(setClauses, col+" = ?")
		args = append(args, val)
		if key == "status" {
			statusChanged = true
		}
		if key == "priority" {
			priorityChanged = true
		}
	}
	setClauses = append(setClauses, "updated_at = ?")
	args = append(args, time.Now().UTC())
	args = append(args, id)

	// #nosec G201 -- setClauses are built only from the fixed `allowed` map above.
	query := fmt.Sprintf(`UPDATE issues SET %s WHERE id = ?`, strings.Join(setClauses, ", "))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return wrapDBErrorf(err, "update issue %s", id)
	}

	m := newMutation(ctx, tx, "update_issue", actor)
	m.recordEvent(id, string(types.EventUpdated), nil, nil, nil)
	if statusChanged {
		old := string(before.Status)
		m.recordEvent(id, string(types.EventStatusChanged), &old, strPtrFromAny(updates["status"]), nil)
		m.invalidateBlockedCache()
	}
	if priorityChanged {
		m.recordEvent(id, string(types.EventPriorityChanged), nil, nil, nil)
	}
	m.markDirty(id)
	if err := m.finish(); err != nil {
		return err
	}
	committed = true
	return nil
}

func strPtrFromAny(v interface{}) *string {
	if v == nil {
		return nil
	}
	s := fmt.Sprintf("%v", v)
	return &s
}

// CloseIssue is UpdateIssue specialized for the common "mark done" path: it
// sets status=closed, closed_at=now, and records close_reason/session.
func (s *SQLiteStorage) CloseIssue(ctx context.Context, id, reason, actor, session string) error {
	updates := map[string]interface{}{
		"status":    string(types.StatusClosed),
		"closed_at": time.Now().UTC(),
	}
	if reason != "" {
		updates["close_reason"] = reason
	}
	if err := s.UpdateIssue(ctx, id, updates, actor); err != nil {
		return err
	}
	if session != "" {
		_, err := s.db.ExecContext(ctx, `UPDATE issues SET closed_by_session = ? WHERE id = ?`, session, id)
		return wrapDBErrorf(err, "set closed_by_session on %s", id)
	}
	return nil
}

// SearchIssues lists issues matching filter, optionally constrained to
// those whose title or description contains query (case-insensitive).
func (s *SQLiteStorage) SearchIssues(ctx context.Context, query string, filter types.IssueFilter) ([]*types.Issue, error) {
	var whereClauses []string
	var args []interface{}

	if !filter.IncludeTemplates {
		whereClauses = append(whereClauses, "is_template = 0")
	}
	if filter.Status != nil {
		whereClauses = append(whereClauses, "status = ?")
		args = append(args, string(*filter.Status))
	} else if len(filter.Statuses) > 0 {
		ph := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			ph[i] = "?"
			args = append(args, string(st))
		}
		whereClauses = append(whereClauses, fmt.Sprintf("status IN (%s)", strings.Join(ph, ",")))
	} else if !filter.IncludeClosed {
		whereClauses = append(whereClauses, "status != 'closed'")
	}

	if len(filter.Types) > 0 {
		ph := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			ph[i] = "?"
			args = append(args, string(t))
		}
		whereClauses = append(whereClauses, fmt.Sprintf("issue_type IN (%s)", strings.Join(ph, ",")))
	}
	if len(filter.Priorities) > 0 {
		ph := make([]string, len(filter.Priorities))
		for i, p := range filter.Priorities {
			ph[i] = "?"
			args = append(args, p)
		}
		whereClauses = append(whereClauses, fmt.Sprintf("priority IN (%s)", strings.Join(ph, ",")))
	}
	if filter.Unassigned {
		whereClauses = append(whereClauses, "(assignee IS NULL OR assignee = '')")
	} else if filter.Assignee != nil {
		whereClauses = append(whereClauses, "assignee = ?")
		args = append(args, *filter.Assignee)
	}
	if filter.TitleContains != "" {
		whereClauses = append(whereClauses, "title LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(filter.TitleContains)+"%")
	}
	if query != "" {
		whereClauses = append(whereClauses, "(title LIKE ? ESCAPE '\\' OR description LIKE ? ESCAPE '\\')")
		like := "%" + escapeLike(query) + "%"
		args = append(args, like, like)
	}

	whereSQL := "1=1"
	if len(whereClauses) > 0 {
		whereSQL = strings.Join(whereClauses, " AND ")
	}

	limitSQL := ""
	if filter.Limit > 0 {
		limitSQL = " LIMIT ?"
		args = append(args, filter.Limit)
	}

	// #nosec G201 -- whereSQL/limitSQL are built only from "?" placeholders and fixed fragments above.
	sqlQuery := fmt.Sprintf(`SELECT %s FROM issues WHERE %s ORDER BY priority ASC, created_at DESC%s`, issueColumns, whereSQL, limitSQL)
	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, wrapDBError("search issues", err)
	}
	return scanIssueRows(rows)
}

// GetAllIssuesForExport returns every non-ephemeral issue, tombstones
// included, ordered by id ascending — the deterministic read pass JSONL
// export requires.
func (s *SQLiteStorage) GetAllIssuesForExport(ctx context.Context) ([]*types.Issue, error) {
	query := fmt.Sprintf(`SELECT %s FROM issues WHERE ephemeral = 0 ORDER BY id ASC`, issueColumns)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, wrapDBError("get all issues for export", err)
	}
	return scanIssueRows(rows)
}

// GetAllIDs returns every non-ephemeral issue id, ascending — the
// lightweight counterpart to GetAllIssuesForExport for callers that only
// need the id set (e.g. a caller diffing against a separate source of
// truth) and would otherwise pay for hydrating every column and relation.
func (s *SQLiteStorage) GetAllIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM issues WHERE ephemeral = 0 ORDER BY id ASC`)
	if err != nil {
		return nil, wrapDBError("get all ids", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBError("scan id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("iterate ids", err)
	}
	return ids, nil
}

// GetParent returns the issue's parent-child target, or nil if it has
// none. A parent-child dependency row stores the child as issue_id and
// the parent as depends_on_id, the same convention every other
// dependency type uses for "issue_id depends on depends_on_id".
func (s *SQLiteStorage) GetParent(ctx context.Context, issueID string) (*types.Issue, error) {
	var parentID string
	err := s.db.QueryRowContext(ctx, `
		SELECT depends_on_id FROM dependencies
		WHERE issue_id = ? AND type = ?
		LIMIT 1
	`, issueID, types.DepParentChild).Scan(&parentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBErrorf(err, "get parent of %s", issueID)
	}
	return s.GetIssue(ctx, parentID)
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}
