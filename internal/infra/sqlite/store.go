// Package sqlite provides a single-node workflow.Repository on an SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/openctemio/docflow/pkg/domain/workflow"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const schema = `
CREATE TABLE IF NOT EXISTS workflow_instances (
	kind           TEXT    NOT NULL,
	correlation_id TEXT    NOT NULL,
	state          TEXT    NOT NULL,
	version        INTEGER NOT NULL,
	data           TEXT,
	failure_reason TEXT    NOT NULL DEFAULT '',
	outbox         TEXT,
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL,
	completed_at   INTEGER,
	PRIMARY KEY (kind, correlation_id)
);
CREATE INDEX IF NOT EXISTS idx_workflow_instances_created ON workflow_instances (created_at);
`

// ErrLocked is returned by Open when another process holds the database.
var ErrLocked = errors.New("sqlite database is locked by another process")

// Store persists workflow instances in SQLite. Only one process may open a
// given file; the lock is held until Close.
type Store struct {
	db   *sql.DB
	path string
	lock *flock.Flock
}

// Open initializes or connects to the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrLocked)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, path: path, lock: lock}, nil
}

// Close closes the database and releases the file lock.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	return errors.Join(err, s.lock.Unlock())
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

const selectInstance = `SELECT kind, correlation_id, state, version, data, failure_reason, outbox,
	created_at, updated_at, completed_at FROM workflow_instances`

// Load returns the stored instance.
func (s *Store) Load(ctx context.Context, kind workflow.Kind, correlationID shared.ID) (*workflow.Instance, error) {
	row := s.db.QueryRowContext(ctx, selectInstance+" WHERE kind = ? AND correlation_id = ?",
		string(kind), correlationID.String())
	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s instance %s: %w", kind, correlationID, shared.ErrNotFound)
	}
	return inst, err
}

// Save inserts or conditionally updates the instance.
func (s *Store) Save(ctx context.Context, inst *workflow.Instance, expectedVersion int64) error {
	var outbox any
	if len(inst.Outbox) > 0 {
		b, err := json.Marshal(inst.Outbox)
		if err != nil {
			return fmt.Errorf("marshal outbox: %w", err)
		}
		outbox = string(b)
	}
	var data any
	if len(inst.Data) > 0 {
		data = string(inst.Data)
	}
	next := expectedVersion + 1

	var (
		res sql.Result
		err error
	)
	if expectedVersion == 0 {
		res, err = s.execWithRetry(ctx, `INSERT INTO workflow_instances
			(kind, correlation_id, state, version, data, failure_reason, outbox, created_at, updated_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (kind, correlation_id) DO NOTHING`,
			string(inst.Kind), inst.CorrelationID.String(), string(inst.State), next, data,
			inst.FailureReason, outbox, inst.CreatedAt.UnixNano(), inst.UpdatedAt.UnixNano(),
			unixNanoOrNil(inst.CompletedAt))
	} else {
		res, err = s.execWithRetry(ctx, `UPDATE workflow_instances
			SET state = ?, version = ?, data = ?, failure_reason = ?, outbox = ?, updated_at = ?, completed_at = ?
			WHERE kind = ? AND correlation_id = ? AND version = ?`,
			string(inst.State), next, data, inst.FailureReason, outbox, inst.UpdatedAt.UnixNano(),
			unixNanoOrNil(inst.CompletedAt), string(inst.Kind), inst.CorrelationID.String(), expectedVersion)
	}
	if err != nil {
		return fmt.Errorf("save workflow instance: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return workflow.ErrVersionConflict
	}
	inst.Version = next
	return nil
}

// List returns matching instances ordered by creation time.
func (s *Store) List(ctx context.Context, filter workflow.Filter) ([]*workflow.Instance, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if len(filter.States) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(filter.States)), ",")
		conditions = append(conditions, "state IN ("+marks+")")
		for _, st := range filter.States {
			args = append(args, string(st))
		}
	}
	if filter.CompletedBefore != nil {
		conditions = append(conditions, "completed_at < ?")
		args = append(args, filter.CompletedBefore.UnixNano())
	}
	if filter.UpdatedBefore != nil {
		conditions = append(conditions, "updated_at < ?")
		args = append(args, filter.UpdatedBefore.UnixNano())
	}
	if filter.PendingOutbox {
		conditions = append(conditions, "outbox IS NOT NULL")
	}

	query := selectInstance
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at, updated_at"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflow instances: %w", err)
	}
	defer rows.Close()

	out := make([]*workflow.Instance, 0)
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// Delete removes the instance.
func (s *Store) Delete(ctx context.Context, kind workflow.Kind, correlationID shared.ID) error {
	_, err := s.execWithRetry(ctx, "DELETE FROM workflow_instances WHERE kind = ? AND correlation_id = ?",
		string(kind), correlationID.String())
	if err != nil {
		return fmt.Errorf("delete workflow instance: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInstance(row scanner) (*workflow.Instance, error) {
	var (
		kind, id, state      string
		version              int64
		data, outbox         sql.NullString
		failure              string
		createdAt, updatedAt int64
		completedAt          sql.NullInt64
	)
	err := row.Scan(&kind, &id, &state, &version, &data, &failure, &outbox, &createdAt, &updatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan workflow instance: %w", err)
	}
	correlationID, err := shared.IDFromString(id)
	if err != nil {
		return nil, fmt.Errorf("invalid correlation id %q: %w", id, err)
	}

	inst := &workflow.Instance{
		CorrelationID: correlationID,
		Kind:          workflow.Kind(kind),
		State:         workflow.State(state),
		Version:       version,
		FailureReason: failure,
		CreatedAt:     time.Unix(0, createdAt).UTC(),
		UpdatedAt:     time.Unix(0, updatedAt).UTC(),
	}
	if data.Valid {
		inst.Data = json.RawMessage(data.String)
	}
	if outbox.Valid {
		if err := json.Unmarshal([]byte(outbox.String), &inst.Outbox); err != nil {
			return nil, fmt.Errorf("unmarshal outbox: %w", err)
		}
	}
	if completedAt.Valid {
		t := time.Unix(0, completedAt.Int64).UTC()
		inst.CompletedAt = &t
	}
	return inst, nil
}

func unixNanoOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

var _ workflow.Repository = (*Store)(nil)
