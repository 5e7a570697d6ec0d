// Package sqlite implements the storage interface using SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("github.com/steveyegge/beads/internal/storage/sqlite")
	meter  = otel.Meter("github.com/steveyegge/beads/internal/storage/sqlite")

	mutationCounter, _ = meter.Int64Counter(
		"beads.storage.mutations",
		metric.WithDescription("count of committed mutation-protocol transactions, by operation"),
	)
	lockRetryCounter, _ = meter.Int64Counter(
		"beads.storage.lock_retries",
		metric.WithDescription("count of SQLITE_BUSY retries absorbed by beginImmediateWithRetry"),
	)
)

// SQLiteStorage is the sole Storage implementation: a single SQLite database
// file, WAL-journaled, opened with a connection pool capped at one
// connection so that "begin immediate" transactions serialize in-process
// the same way they'd need to across processes.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
	prefix string
}

// New opens (creating if necessary) a SQLite-backed store at dbPath and
// seeds its issue_prefix config entry from prefix if the database is new.
func New(dbPath string, prefix string) (*SQLiteStorage, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal=WAL&_busy_timeout=5000&_foreign_keys=1", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single writer connection turns every "begin immediate" into a
	// process-local mutex, matching the cross-process guarantee WAL mode
	// plus busy_timeout gives once a second process opens the same file.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStorage{db: db, dbPath: dbPath, prefix: prefix}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

// initSchema applies the consolidated DDL inside a single transaction and
// seeds the issue_prefix config entry on first run.
func (s *SQLiteStorage) initSchema() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w\nSQL: %s", err, stmt)
		}
	}

	if s.prefix != "" {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO config (key, value) VALUES ('issue_prefix', ?)`, s.prefix); err != nil {
			return fmt.Errorf("seed issue_prefix: %w", err)
		}
	}

	return tx.Commit()
}

// Close closes the underlying database connection.
func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.dbPath
}

// DB returns the underlying *sql.DB for callers (the importer, maintenance
// commands) that need direct access outside the mutation protocol.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// CheckpointWAL forces a WAL checkpoint, folding the -wal segment back into
// the main database file. Export does not call it; callers invoke it
// directly.
func (s *SQLiteStorage) CheckpointWAL(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)
	return wrapDBError("checkpoint WAL", err)
}

// execer abstracts *sql.DB and *sql.Tx so the same statement-execution code
// serves inside and outside an explicit transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// queryer abstracts *sql.DB and *sql.Tx for read statements.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// dbExecutor is the combined read/write surface the mutation protocol and
// its helpers use, satisfied by both *sql.DB and *sql.Tx.
type dbExecutor interface {
	execer
	queryer
}

// beginImmediateWithRetry starts a "begin immediate" write-intent
// transaction on the caller's dedicated connection conn, retrying with
// exponential backoff while SQLite reports the database as busy. A second
// writer (another process, or a concurrent goroutine sharing this *sql.DB
// through a connection the pool had to grow to serve) can hold the write
// lock for the short window of its own transaction; this absorbs that
// instead of surfacing SQLITE_BUSY to the caller.
func beginImmediateWithRetry(ctx context.Context, conn *sql.Conn) (*sql.Tx, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	bo := backoff.WithContext(b, ctx)

	var tx *sql.Tx
	op := func() error {
		var err error
		tx, err = conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `PRAGMA busy_timeout=5000`); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
			_ = tx.Rollback()
			if isBusy(err) {
				lockRetryCounter.Add(ctx, 1)
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	if err := backoff.Retry(op, bo); err != nil {
		return nil, fmt.Errorf("begin immediate transaction: %w", err)
	}
	return tx, nil
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
}

// withTx runs fn inside a single best-effort transaction (not a dedicated
// "begin immediate" writer transaction) and commits on success, rolling
// back on any error including a panic recovered and re-raised by fn.
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("begin transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapDBError("commit transaction", err)
	}
	committed = true
	return nil
}

// mutationContext carries the state a mutation-protocol operation
// accumulates across its transaction: audit events to flush, issue ids to
// mark dirty, and whether the blocked-issues cache needs rebuilding before
// commit (§4.1).
type mutationContext struct {
	ctx          context.Context
	tx           *sql.Tx
	op           string
	actor        string
	span         trace.Span
	events       []pendingEvent
	dirtyIDs     map[string]bool
	invalidate   bool
}

type pendingEvent struct {
	issueID   string
	eventType string
	oldValue  *string
	newValue  *string
	comment   *string
}

func newMutation(ctx context.Context, tx *sql.Tx, op, actor string) *mutationContext {
	ctx, span := tracer.Start(ctx, "storage.mutation."+op,
		trace.WithAttributes(attribute.String("beads.actor", actor)))
	return &mutationContext{
		ctx:      ctx,
		tx:       tx,
		op:       op,
		actor:    actor,
		span:     span,
		dirtyIDs: make(map[string]bool),
	}
}

func (m *mutationContext) recordEvent(issueID, eventType string, oldValue, newValue, comment *string) {
	m.events = append(m.events, pendingEvent{issueID: issueID, eventType: eventType, oldValue: oldValue, newValue: newValue, comment: comment})
}

func (m *mutationContext) markDirty(issueID string) {
	m.dirtyIDs[issueID] = true
}

func (m *mutationContext) invalidateBlockedCache() {
	m.invalidate = true
}

// finish flushes events, upserts dirty markers, conditionally rebuilds the
// blocked cache, and commits. On any failure the caller's defer must still
// roll back; finish never calls Rollback itself so its own errors compose
// cleanly with an outer defer.
func (m *mutationContext) finish() error {
	defer m.span.End()

	for _, ev := range m.events {
		if _, err := m.tx.ExecContext(m.ctx, `
			INSERT INTO events (issue_id, event_type, actor, old_value, new_value, comment, created_at)
			VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		`, ev.issueID, ev.eventType, m.actor, ev.oldValue, ev.newValue, ev.comment); err != nil {
			return wrapDBError("insert event", err)
		}
	}

	if len(m.dirtyIDs) > 0 {
		ids := make([]string, 0, len(m.dirtyIDs))
		for id := range m.dirtyIDs {
			ids = append(ids, id)
		}
		if err := markIssuesDirtyTx(m.ctx, m.tx, ids); err != nil {
			return err
		}
	}

	if m.invalidate {
		if err := rebuildBlockedCache(m.ctx, m.tx); err != nil {
			return err
		}
	}

	if err := m.tx.Commit(); err != nil {
		return wrapDBError("commit "+m.op, err)
	}

	mutationCounter.Add(m.ctx, 1, metric.WithAttributes(attribute.String("op", m.op)))
	return nil
}
