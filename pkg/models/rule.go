// Package models defines the core domain models for email automation rules
// and their executions.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerType identifies the domain event kind a rule reacts to.
type TriggerType string

const (
	TriggerContactListJoined TriggerType = "contact.list_joined"
	TriggerContactTagAdded   TriggerType = "contact.tag_added"
	TriggerEmailOpened       TriggerType = "email.opened"
	TriggerEmailClicked      TriggerType = "email.clicked"
	TriggerDateBased         TriggerType = "date_based"
	TriggerManual            TriggerType = "manual"
)

// IsValid checks if the trigger type is one of the supported kinds.
func (t TriggerType) IsValid() bool {
	switch t {
	case TriggerContactListJoined, TriggerContactTagAdded, TriggerEmailOpened,
		TriggerEmailClicked, TriggerDateBased, TriggerManual:
		return true
	default:
		return false
	}
}

// TriggerFrequency defines how often a rule may start an execution for the
// same subject and event.
type TriggerFrequency string

const (
	// FrequencyOnce starts at most one execution per (rule, subject, event).
	FrequencyOnce TriggerFrequency = "once"
	// FrequencyEveryTime starts a new execution on every matching event.
	FrequencyEveryTime TriggerFrequency = "every_time"
)

var ErrInvalidRule = errors.New("invalid automation rule")

// AutomationRule is a stored automation definition: a trigger type plus a
// serialized flow graph. The execution engine reads rules but never writes
// them; rule management is owned by external use cases.
type AutomationRule struct {
	ID          string           `json:"id"           validate:"required"`
	Name        string           `json:"name"         validate:"required,min=3"`
	Description string           `json:"description"`
	TriggerType TriggerType      `json:"trigger_type" validate:"required"`
	Frequency   TriggerFrequency `json:"frequency,omitempty"`
	FlowJSON    json.RawMessage  `json:"flow"         validate:"required"`
	Active      bool             `json:"active"`

	// Date-based rules only: when to fire and which list to target.
	CronExpression string     `json:"cron_expression,omitempty"`
	TargetListID   string     `json:"target_list_id,omitempty"`
	NextFireAt     *time.Time `json:"next_fire_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Flow parses the rule's serialized flow graph. Parsing is pure; the same
// FlowJSON always yields a structurally identical graph.
func (r *AutomationRule) Flow() (*Flow, error) {
	return ParseFlow(r.FlowJSON)
}

// Validate checks the rule's own invariants, including that FlowJSON parses
// into a well-formed graph. A rule that fails here must never be activated.
func (r *AutomationRule) Validate() error {
	if r.ID == "" || r.Name == "" {
		return fmt.Errorf("%w: id and name are required", ErrInvalidRule)
	}

	if !r.TriggerType.IsValid() {
		return fmt.Errorf("%w: unknown trigger type %q", ErrInvalidRule, r.TriggerType)
	}

	if r.Frequency != "" && r.Frequency != FrequencyOnce && r.Frequency != FrequencyEveryTime {
		return fmt.Errorf("%w: unknown trigger frequency %q", ErrInvalidRule, r.Frequency)
	}

	if _, err := r.Flow(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}

	if r.TriggerType == TriggerDateBased {
		if r.CronExpression == "" {
			return fmt.Errorf("%w: date_based rules require a cron expression", ErrInvalidRule)
		}

		if _, err := cronParser().Parse(r.CronExpression); err != nil {
			return fmt.Errorf("%w: invalid cron expression: %w", ErrInvalidRule, err)
		}
	}

	return nil
}

// UpdateNextFireAt recomputes NextFireAt from the rule's cron expression,
// relative to the given reference time.
func (r *AutomationRule) UpdateNextFireAt(reference time.Time) error {
	schedule, err := cronParser().Parse(r.CronExpression)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", r.CronExpression, err)
	}

	next := schedule.Next(reference.UTC())
	r.NextFireAt = &next
	r.UpdatedAt = time.Now().UTC()

	return nil
}

// IsDue reports whether a date-based rule should fire at the given time.
func (r *AutomationRule) IsDue(now time.Time) bool {
	return r.Active && r.NextFireAt != nil && !r.NextFireAt.After(now)
}

// cronParser returns the standard 5-field cron parser (minute granularity).
func cronParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
}
