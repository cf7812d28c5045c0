package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/openctemio/docflow/pkg/domain/workflow"
)

// InstanceRepository implements workflow.Repository using PostgreSQL.
type InstanceRepository struct {
	db *DB
}

// NewInstanceRepository creates a new InstanceRepository.
func NewInstanceRepository(db *DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

const selectInstance = `
	SELECT kind, correlation_id, state, version, data, failure_reason, outbox,
		created_at, updated_at, completed_at
	FROM workflow_instances`

// Load retrieves an instance by kind and correlation ID.
func (r *InstanceRepository) Load(ctx context.Context, kind workflow.Kind, correlationID shared.ID) (*workflow.Instance, error) {
	row := r.db.QueryRowContext(ctx, selectInstance+" WHERE kind = $1 AND correlation_id = $2",
		string(kind), correlationID.String())
	inst, err := r.scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s instance %s: %w", kind, correlationID, shared.ErrNotFound)
	}
	return inst, err
}

// Save inserts or conditionally updates the instance.
func (r *InstanceRepository) Save(ctx context.Context, inst *workflow.Instance, expectedVersion int64) error {
	outbox, err := encodeOutbox(inst.Outbox)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox: %w", err)
	}
	next := expectedVersion + 1

	if expectedVersion == 0 {
		query := `
			INSERT INTO workflow_instances (
				kind, correlation_id, state, version, data, failure_reason, outbox,
				created_at, updated_at, completed_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`
		_, err = r.db.ExecContext(ctx, query,
			string(inst.Kind),
			inst.CorrelationID.String(),
			string(inst.State),
			next,
			nullBytes(inst.Data),
			nullString(inst.FailureReason),
			nullBytes(outbox),
			inst.CreatedAt,
			inst.UpdatedAt,
			nullTime(inst.CompletedAt),
		)
		if isUniqueViolation(err) {
			return workflow.ErrVersionConflict
		}
		if err != nil {
			return fmt.Errorf("failed to insert workflow instance: %w", err)
		}
		inst.Version = next
		return nil
	}

	query := `
		UPDATE workflow_instances
		SET state = $3, version = $4, data = $5, failure_reason = $6, outbox = $7,
			updated_at = $8, completed_at = $9
		WHERE kind = $1 AND correlation_id = $2 AND version = $10
	`
	result, err := r.db.ExecContext(ctx, query,
		string(inst.Kind),
		inst.CorrelationID.String(),
		string(inst.State),
		next,
		nullBytes(inst.Data),
		nullString(inst.FailureReason),
		nullBytes(outbox),
		inst.UpdatedAt,
		nullTime(inst.CompletedAt),
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow instance: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return workflow.ErrVersionConflict
	}
	inst.Version = next
	return nil
}

// List returns instances matching the filter ordered by creation time.
func (r *InstanceRepository) List(ctx context.Context, filter workflow.Filter) ([]*workflow.Instance, error) {
	where, args := buildInstanceFilter(filter)
	query := selectInstance + where + " ORDER BY created_at, updated_at"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow instances: %w", err)
	}
	defer rows.Close()

	out := make([]*workflow.Instance, 0)
	for rows.Next() {
		inst, err := r.scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func buildInstanceFilter(filter workflow.Filter) (string, []any) {
	var conditions []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if filter.Kind != "" {
		add("kind = $%d", string(filter.Kind))
	}
	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, s := range filter.States {
			states[i] = string(s)
		}
		add("state = ANY($%d)", pq.Array(states))
	}
	if filter.CompletedBefore != nil {
		add("completed_at < $%d", *filter.CompletedBefore)
	}
	if filter.UpdatedBefore != nil {
		add("updated_at < $%d", *filter.UpdatedBefore)
	}
	if filter.PendingOutbox {
		conditions = append(conditions, "outbox IS NOT NULL")
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// Delete removes an instance.
func (r *InstanceRepository) Delete(ctx context.Context, kind workflow.Kind, correlationID shared.ID) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM workflow_instances WHERE kind = $1 AND correlation_id = $2",
		string(kind), correlationID.String())
	if err != nil {
		return fmt.Errorf("failed to delete workflow instance: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *InstanceRepository) scanInstance(row scanner) (*workflow.Instance, error) {
	var (
		inst          workflow.Instance
		kind, state   string
		correlationID string
		data, outbox  []byte
		failure       sql.NullString
		completedAt   sql.NullTime
	)
	err := row.Scan(&kind, &correlationID, &state, &inst.Version, &data, &failure, &outbox,
		&inst.CreatedAt, &inst.UpdatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan workflow instance: %w", err)
	}

	id, err := shared.IDFromString(correlationID)
	if err != nil {
		return nil, fmt.Errorf("invalid correlation id %q: %w", correlationID, err)
	}
	inst.CorrelationID = id
	inst.Kind = workflow.Kind(kind)
	inst.State = workflow.State(state)
	inst.Data = data
	inst.FailureReason = failure.String
	inst.CompletedAt = timeOrNil(completedAt)
	inst.CreatedAt = inst.CreatedAt.UTC()
	inst.UpdatedAt = inst.UpdatedAt.UTC()
	if inst.Outbox, err = decodeOutbox(outbox); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outbox: %w", err)
	}
	return &inst, nil
}

var _ workflow.Repository = (*InstanceRepository)(nil)
