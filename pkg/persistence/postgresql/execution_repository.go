package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db *sql.DB
}

const executionColumns = `id, rule_id, subject_id, idempotency_key, status, current_step_id,
	context, wake_at, attempts, error_detail, created_at, updated_at`

// Save upserts the whole execution row, so a step's context mutation and its
// transition land in one statement.
func (r *ExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	contextJSON, err := json.Marshal(execution.Context)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, fmt.Errorf("failed to marshal context: %w", err))
	}

	query := `
		INSERT INTO executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			current_step_id = EXCLUDED.current_step_id,
			context = EXCLUDED.context,
			wake_at = EXCLUDED.wake_at,
			attempts = EXCLUDED.attempts,
			error_detail = EXCLUDED.error_detail,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.RuleID,
		execution.SubjectID,
		execution.IdempotencyKey,
		string(execution.Status),
		execution.CurrentStepID,
		contextJSON,
		execution.WakeAt,
		execution.Attempts,
		execution.ErrorDetail,
		execution.CreatedAt,
		execution.UpdatedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) ByID(ctx context.Context, id string) (*models.Execution, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("ByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("ByID", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ByIdempotencyKey(ctx context.Context, key string) (*models.Execution, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions
		 WHERE idempotency_key = $1
		 ORDER BY created_at DESC LIMIT 1`, key)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to query execution by idempotency key: %w", err)
	}

	return execution, nil
}

func (r *ExecutionRepository) DueForResume(ctx context.Context, now time.Time, limit int) ([]*models.Execution, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions
		 WHERE status = $1 AND wake_at <= $2
		 ORDER BY wake_at LIMIT $3`, string(models.ExecutionWaiting), now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due executions: %w", err)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

// Claim performs the waiting→running transition as a conditional UPDATE.
// Exactly one of any number of concurrent claimants sees a row; the rest get
// ErrClaimConflict.
func (r *ExecutionRepository) Claim(ctx context.Context, id string) (*models.Execution, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE executions
		 SET status = $1, wake_at = NULL, updated_at = $2
		 WHERE id = $3 AND status = $4
		 RETURNING `+executionColumns,
		string(models.ExecutionRunning), time.Now().UTC(), id, string(models.ExecutionWaiting))

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("Claim", id, persistence.ErrClaimConflict)
		}

		return nil, persistence.NewExecutionError("Claim", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ListByStatus(ctx context.Context, status models.ExecutionStatus, limit, offset int) ([]*models.Execution, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions
		 WHERE status = $1
		 ORDER BY created_at LIMIT $2 OFFSET $3`, string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions by status: %w", err)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

func (r *ExecutionRepository) ListByRule(ctx context.Context, ruleID string, limit, offset int) ([]*models.Execution, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions
		 WHERE rule_id = $1
		 ORDER BY created_at LIMIT $2 OFFSET $3`, ruleID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions by rule: %w", err)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

func scanExecution(row rowScanner) (*models.Execution, error) {
	var (
		execution   models.Execution
		status      string
		contextJSON []byte
		wakeAt      sql.NullTime
	)

	err := row.Scan(
		&execution.ID,
		&execution.RuleID,
		&execution.SubjectID,
		&execution.IdempotencyKey,
		&status,
		&execution.CurrentStepID,
		&contextJSON,
		&wakeAt,
		&execution.Attempts,
		&execution.ErrorDetail,
		&execution.CreatedAt,
		&execution.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	execution.Status = models.ExecutionStatus(status)

	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &execution.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution context: %w", err)
		}
	}

	if wakeAt.Valid {
		t := wakeAt.Time
		execution.WakeAt = &t
	}

	return &execution, nil
}

func collectExecutions(rows *sql.Rows) ([]*models.Execution, error) {
	var executions []*models.Execution

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}

	return executions, nil
}
