package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/copperline/txgate/model"
)

// Postgres unique_violation.
const pgUniqueViolation = "23505"

// PgStore is a PostgreSQL-backed Store using pgx/v5.
//
// Schema:
//
//	workflow_instances(id PK, tenant_id, correlation_id, state, event,
//	    version, created_at, updated_at,
//	    UNIQUE(tenant_id, correlation_id))
//	history_events(instance_id, seq, kind, activity, payload, error_code,
//	    error, created_at, PRIMARY KEY(instance_id, seq))
//
// The composite primary key on history_events is what turns a lost append
// race into a unique violation instead of a silently interleaved log.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL history store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// CreateInstance inserts a new workflow instance.
func (s *PgStore) CreateInstance(ctx context.Context, inst model.WorkflowInstance) error {
	eventJSON, err := json.Marshal(inst.Event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_instances (
			id, tenant_id, correlation_id, state, event, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		inst.ID, inst.TenantID, inst.CorrelationID, inst.State, eventJSON,
		inst.Version, inst.CreatedAt, inst.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return model.NewConflictError(
			fmt.Sprintf("correlation %q already has an instance", inst.CorrelationID),
		)
	}
	if err != nil {
		return fmt.Errorf("insert workflow instance: %w", err)
	}
	return nil
}

// GetInstance retrieves a workflow instance by ID.
func (s *PgStore) GetInstance(ctx context.Context, instanceID string) (model.WorkflowInstance, error) {
	return s.queryInstance(ctx, `
		SELECT id, tenant_id, correlation_id, state, event, version, created_at, updated_at
		FROM workflow_instances
		WHERE id = $1`,
		instanceID,
	)
}

// GetByCorrelationID retrieves the instance for a correlation ID.
func (s *PgStore) GetByCorrelationID(ctx context.Context, tenantID, correlationID string) (model.WorkflowInstance, error) {
	return s.queryInstance(ctx, `
		SELECT id, tenant_id, correlation_id, state, event, version, created_at, updated_at
		FROM workflow_instances
		WHERE tenant_id = $1 AND correlation_id = $2`,
		tenantID, correlationID,
	)
}

// UpdateInstance persists the instance projection with optimistic locking.
func (s *PgStore) UpdateInstance(ctx context.Context, inst model.WorkflowInstance) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_instances SET
			state = $1,
			version = $2,
			updated_at = $3
		WHERE id = $4 AND version = $5`,
		inst.State, inst.Version+1, time.Now().UTC(),
		inst.ID, inst.Version,
	)
	if err != nil {
		return fmt.Errorf("update workflow instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("workflow instance %q version conflict (expected %d)", inst.ID, inst.Version),
		)
	}
	return nil
}

// Append adds one event to the history log at seq expectedSeq+1.
func (s *PgStore) Append(ctx context.Context, instanceID string, expectedSeq int, evt model.HistoryEvent) error {
	payload := evt.Payload
	if payload == nil {
		payload = json.RawMessage("null")
	}
	ts := evt.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	// Guard against gaps: the insert only succeeds when expectedSeq events
	// already exist for the instance.
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO history_events (
			instance_id, seq, kind, activity, payload, error_code, error, created_at
		)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8
		WHERE (SELECT COUNT(*) FROM history_events WHERE instance_id = $1) = $9`,
		instanceID, expectedSeq+1, evt.Kind, evt.Activity, payload,
		evt.ErrorCode, evt.Error, ts, expectedSeq,
	)
	if isUniqueViolation(err) {
		return model.NewConcurrencyConflictError(instanceID, expectedSeq)
	}
	if err != nil {
		return fmt.Errorf("insert history event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConcurrencyConflictError(instanceID, expectedSeq)
	}
	return nil
}

// ReadAll returns the ordered history for an instance.
func (s *PgStore) ReadAll(ctx context.Context, instanceID string) ([]model.HistoryEvent, error) {
	// Verify the instance exists so a typo'd ID is NOT_FOUND, not empty.
	if _, err := s.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT instance_id, seq, kind, activity, payload, error_code, error, created_at
		FROM history_events
		WHERE instance_id = $1
		ORDER BY seq ASC`,
		instanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query history events: %w", err)
	}
	defer rows.Close()

	var events []model.HistoryEvent
	for rows.Next() {
		var evt model.HistoryEvent
		var payload []byte
		if err := rows.Scan(
			&evt.InstanceID, &evt.Seq, &evt.Kind, &evt.Activity,
			&payload, &evt.ErrorCode, &evt.Error, &evt.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan history event: %w", err)
		}
		if payload != nil {
			evt.Payload = json.RawMessage(payload)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// ListRunnable returns non-terminal instances, oldest first.
func (s *PgStore) ListRunnable(ctx context.Context, limit int) ([]model.WorkflowInstance, error) {
	query := `
		SELECT id, tenant_id, correlation_id, state, event, version, created_at, updated_at
		FROM workflow_instances
		WHERE state NOT IN ($1, $2, $3)
		ORDER BY created_at ASC`
	args := []any{model.StateCompletedClean, model.StateCompletedViolation, model.StateCompletedWithError}
	if limit > 0 {
		query += " LIMIT $4"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runnable instances: %w", err)
	}
	defer rows.Close()

	var instances []model.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// queryInstance runs a single-row instance query.
func (s *PgStore) queryInstance(ctx context.Context, query string, args ...any) (model.WorkflowInstance, error) {
	row := s.pool.QueryRow(ctx, query, args...)
	inst, err := scanInstance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkflowInstance{}, model.NewNotFoundError("workflow instance not found")
	}
	if err != nil {
		return model.WorkflowInstance{}, fmt.Errorf("query workflow instance: %w", err)
	}
	return inst, nil
}

// scanInstance scans one instance row.
func scanInstance(row pgx.Row) (model.WorkflowInstance, error) {
	var inst model.WorkflowInstance
	var eventJSON []byte
	err := row.Scan(
		&inst.ID, &inst.TenantID, &inst.CorrelationID, &inst.State,
		&eventJSON, &inst.Version, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return model.WorkflowInstance{}, err
	}
	if eventJSON != nil {
		if err := json.Unmarshal(eventJSON, &inst.Event); err != nil {
			return model.WorkflowInstance{}, fmt.Errorf("unmarshal event: %w", err)
		}
	}
	return inst, nil
}

// isUniqueViolation reports whether err is a Postgres unique violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
