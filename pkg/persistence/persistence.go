// Package persistence provides the storage abstraction for automation rules
// and executions.
package persistence

import (
	"context"
	"time"

	"github.com/dripflow/dripflow/pkg/models"
)

// RuleRepository stores automation rules. The engine only reads; Save exists
// for the management side and for the scheduler updating NextFireAt on
// date-based rules.
type RuleRepository interface {
	ActiveByTriggerType(ctx context.Context, triggerType models.TriggerType) ([]*models.AutomationRule, error)
	ByID(ctx context.Context, id string) (*models.AutomationRule, error)
	Save(ctx context.Context, rule *models.AutomationRule) error
	List(ctx context.Context, limit, offset int) ([]*models.AutomationRule, error)
	DueDateBased(ctx context.Context, now time.Time) ([]*models.AutomationRule, error)
}

// ExecutionRepository is the system of record for executions. Save persists
// context mutation and step transition together; the interpreter holds no
// authoritative in-memory state across a suspension.
type ExecutionRepository interface {
	Save(ctx context.Context, execution *models.Execution) error
	ByID(ctx context.Context, id string) (*models.Execution, error)
	ByIdempotencyKey(ctx context.Context, key string) (*models.Execution, error)

	// DueForResume returns waiting executions with wake_at <= now, oldest
	// first, at most limit.
	DueForResume(ctx context.Context, now time.Time, limit int) ([]*models.Execution, error)

	// Claim atomically transitions an execution from waiting to running and
	// returns the claimed record. A lost race yields ErrClaimConflict; the
	// loser skips the execution for this tick.
	Claim(ctx context.Context, id string) (*models.Execution, error)

	ListByStatus(ctx context.Context, status models.ExecutionStatus, limit, offset int) ([]*models.Execution, error)
	ListByRule(ctx context.Context, ruleID string, limit, offset int) ([]*models.Execution, error)
}

// Persistence bundles the repositories behind one backend.
type Persistence interface {
	Rules() RuleRepository
	Executions() ExecutionRepository
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
