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

// RuleRepository handles rule-related database operations.
type RuleRepository struct {
	db *sql.DB
}

const ruleColumns = `id, name, description, trigger_type, frequency, flow, active,
	cron_expression, target_list_id, next_fire_at, created_at, updated_at`

func (r *RuleRepository) Save(ctx context.Context, rule *models.AutomationRule) error {
	query := `
		INSERT INTO automation_rules (` + ruleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			trigger_type = EXCLUDED.trigger_type,
			frequency = EXCLUDED.frequency,
			flow = EXCLUDED.flow,
			active = EXCLUDED.active,
			cron_expression = EXCLUDED.cron_expression,
			target_list_id = EXCLUDED.target_list_id,
			next_fire_at = EXCLUDED.next_fire_at,
			updated_at = EXCLUDED.updated_at
	`

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}

	rule.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		rule.ID,
		rule.Name,
		rule.Description,
		string(rule.TriggerType),
		string(rule.Frequency),
		[]byte(rule.FlowJSON),
		rule.Active,
		rule.CronExpression,
		rule.TargetListID,
		rule.NextFireAt,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	if err != nil {
		return persistence.NewRuleError("Save", rule.ID, err)
	}

	return nil
}

func (r *RuleRepository) ByID(ctx context.Context, id string) (*models.AutomationRule, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules WHERE id = $1`, id)

	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRuleError("ByID", id, persistence.ErrRuleNotFound)
		}

		return nil, persistence.NewRuleError("ByID", id, err)
	}

	return rule, nil
}

func (r *RuleRepository) ActiveByTriggerType(ctx context.Context, triggerType models.TriggerType) ([]*models.AutomationRule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules
		 WHERE active AND trigger_type = $1
		 ORDER BY id`, string(triggerType))
	if err != nil {
		return nil, fmt.Errorf("failed to query active rules: %w", err)
	}
	defer rows.Close()

	return collectRules(rows)
}

func (r *RuleRepository) List(ctx context.Context, limit, offset int) ([]*models.AutomationRule, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules
		 ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	return collectRules(rows)
}

func (r *RuleRepository) DueDateBased(ctx context.Context, now time.Time) ([]*models.AutomationRule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules
		 WHERE active AND trigger_type = $1 AND next_fire_at IS NOT NULL AND next_fire_at <= $2
		 ORDER BY next_fire_at`, string(models.TriggerDateBased), now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query due date-based rules: %w", err)
	}
	defer rows.Close()

	return collectRules(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*models.AutomationRule, error) {
	var (
		rule        models.AutomationRule
		triggerType string
		frequency   string
		flow        []byte
		nextFireAt  sql.NullTime
	)

	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.Description,
		&triggerType,
		&frequency,
		&flow,
		&rule.Active,
		&rule.CronExpression,
		&rule.TargetListID,
		&nextFireAt,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.TriggerType = models.TriggerType(triggerType)
	rule.Frequency = models.TriggerFrequency(frequency)
	rule.FlowJSON = json.RawMessage(flow)

	if nextFireAt.Valid {
		t := nextFireAt.Time
		rule.NextFireAt = &t
	}

	return &rule, nil
}

func collectRules(rows *sql.Rows) ([]*models.AutomationRule, error) {
	var rules []*models.AutomationRule

	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}

		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}

	return rules, nil
}
